package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/BuddyCodez/SpeakSpace/pkg/jwt"
	"github.com/BuddyCodez/SpeakSpace/pkg/log"
	"github.com/BuddyCodez/SpeakSpace/pkg/response"
)

const (
	UserIDKey      = "user_id"
	DisplayNameKey = "display_name"
	AvatarURLKey   = "avatar_url"
	AuthHeaderKey  = "Authorization"
	BearerPrefix   = "Bearer "
)

// MirrorFunc is invoked with the verified claims of each authenticated
// request so the service can keep its local profile mirror current.
type MirrorFunc func(c *gin.Context, claims *jwt.Claims)

// AuthMiddleware validates JWT bearer tokens locally.
type AuthMiddleware struct {
	manager *jwt.Manager
	mirror  MirrorFunc
}

// NewAuthMiddleware creates a new auth middleware. mirror may be nil.
func NewAuthMiddleware(manager *jwt.Manager, mirror MirrorFunc) *AuthMiddleware {
	return &AuthMiddleware{manager: manager, mirror: mirror}
}

// RequireAuth returns a Gin middleware that validates JWT tokens and
// stamps the caller's identity into the request context and logger.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader(AuthHeaderKey)
		if authHeader == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}
		if !strings.HasPrefix(authHeader, BearerPrefix) {
			response.Unauthorized(c, "invalid authorization format")
			c.Abort()
			return
		}

		token := strings.TrimPrefix(authHeader, BearerPrefix)
		claims, err := m.manager.ValidateToken(token)
		if err != nil {
			response.Unauthorized(c, err.Error())
			c.Abort()
			return
		}

		c.Set(UserIDKey, claims.UserID)
		c.Set(DisplayNameKey, claims.DisplayName)
		c.Set(AvatarURLKey, claims.AvatarURL)

		ctx := c.Request.Context()
		child := log.Ctx(ctx).With().Str(log.FieldUserID, claims.UserID).Logger()
		c.Request = c.Request.WithContext(log.WithLogger(ctx, &child))

		if m.mirror != nil {
			m.mirror(c, claims)
		}

		c.Next()
	}
}

// GetUserID extracts user ID from Gin context.
func GetUserID(c *gin.Context) string {
	if id, exists := c.Get(UserIDKey); exists {
		return id.(string)
	}
	return ""
}

// GetDisplayName extracts display name from Gin context.
func GetDisplayName(c *gin.Context) string {
	if name, exists := c.Get(DisplayNameKey); exists {
		return name.(string)
	}
	return ""
}

// GetAvatarURL extracts avatar URL from Gin context.
func GetAvatarURL(c *gin.Context) string {
	if u, exists := c.Get(AvatarURLKey); exists {
		return u.(string)
	}
	return ""
}
