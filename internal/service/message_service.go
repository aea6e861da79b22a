package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/singleflight"

	"github.com/BuddyCodez/SpeakSpace/internal/audit"
	"github.com/BuddyCodez/SpeakSpace/internal/bus"
	"github.com/BuddyCodez/SpeakSpace/internal/cache"
	"github.com/BuddyCodez/SpeakSpace/internal/domain"
	"github.com/BuddyCodez/SpeakSpace/internal/idgen"
	"github.com/BuddyCodez/SpeakSpace/internal/presence"
	"github.com/BuddyCodez/SpeakSpace/internal/repository"
	"github.com/BuddyCodez/SpeakSpace/pkg/log"
	"github.com/BuddyCodez/SpeakSpace/pkg/storage"
)

const (
	maxContentRunes = 4000

	thumbnailMaxSize     = 512
	thumbnailJPEGQuality = 85

	historyDefaultLimit    = 50
	historyMaxLimit        = 100
	defaultHistoryCacheTTL = 30 * time.Second

	mediaURLTTL = 24 * time.Hour
)

// allowedMediaTypes is the attachment MIME allowlist.
var allowedMediaTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"image/gif":       true,
	"image/webp":      true,
	"video/mp4":       true,
	"audio/mpeg":      true,
	"audio/ogg":       true,
	"application/pdf": true,
}

type messageServiceImpl struct {
	store       repository.Store
	bus         *bus.Bus
	tracker     *presence.Tracker
	cache       cache.HistoryCache
	cacheTTL    time.Duration
	media       storage.Storage
	memberships MembershipService
	group       singleflight.Group
}

// NewMessageService creates a new message service. cacheTTL bounds the
// staleness of the cached first history page; zero selects the default.
func NewMessageService(store repository.Store, b *bus.Bus, tracker *presence.Tracker, historyCache cache.HistoryCache, cacheTTL time.Duration, media storage.Storage, memberships MembershipService) MessageService {
	if cacheTTL <= 0 {
		cacheTTL = defaultHistoryCacheTTL
	}
	return &messageServiceImpl{
		store:       store,
		bus:         b,
		tracker:     tracker,
		cache:       historyCache,
		cacheTTL:    cacheTTL,
		media:       media,
		memberships: memberships,
	}
}

// Send runs the full pipeline: authorize, validate, dedupe on the client
// message id, upload media, persist, clear the sender's typing state, and
// publish. A replayed client message id returns the original message with
// no new side effects.
func (s *messageServiceImpl) Send(ctx context.Context, in SendInput) (*domain.Message, error) {
	sender, err := s.memberships.RequireRole(ctx, in.SessionID, in.SenderID,
		domain.RoleModerator, domain.RoleEvaluator, domain.RoleParticipant)
	if err != nil {
		return nil, err
	}
	if sender.IsMuted {
		return nil, fmt.Errorf("sender is muted: %w", ErrForbidden)
	}

	content := strings.TrimSpace(in.Content)
	if content == "" && in.Media == nil {
		return nil, fmt.Errorf("message has no content: %w", ErrBadRequest)
	}
	if utf8.RuneCountInString(content) > maxContentRunes {
		return nil, fmt.Errorf("content exceeds %d characters: %w", maxContentRunes, ErrBadRequest)
	}

	if in.ClientMessageID != "" {
		existing, err := s.store.Messages().GetByClientMessageID(ctx, in.SessionID, in.SenderID, in.ClientMessageID)
		switch {
		case err == nil:
			return existing, nil
		case errors.Is(err, repository.ErrNotFound):
			// first delivery
		default:
			return nil, fmt.Errorf("check client message id: %w", ErrTransient)
		}
	}

	msg := &domain.Message{
		ID:              idgen.NewMessageID(),
		SessionID:       in.SessionID,
		SenderID:        in.SenderID,
		SenderName:      sender.DisplayName,
		Type:            domain.MessageTypeText,
		Content:         content,
		ClientMessageID: in.ClientMessageID,
		CreatedAt:       time.Now().UTC(),
	}

	var mediaKeys []string
	if in.Media != nil {
		mediaKeys, err = s.uploadMedia(ctx, msg, in.Media)
		if err != nil {
			return nil, err
		}
	}

	if err := s.store.Messages().Create(ctx, msg); err != nil {
		s.cleanupMedia(ctx, mediaKeys)
		if errors.Is(err, repository.ErrDuplicate) && in.ClientMessageID != "" {
			// Raced a concurrent retry of the same client message id.
			existing, getErr := s.store.Messages().GetByClientMessageID(ctx, in.SessionID, in.SenderID, in.ClientMessageID)
			if getErr == nil {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("persist message: %w", ErrTransient)
	}

	s.tracker.Clear(in.SessionID, in.SenderID)
	s.publish(msg)
	s.invalidateHistory(ctx, in.SessionID)
	return msg, nil
}

// SendSystem persists and publishes a service announcement. There is no
// membership behind the system sender, so authorization and mute checks do
// not apply and no typing state exists to clear.
func (s *messageServiceImpl) SendSystem(ctx context.Context, sessionID, content string) (*domain.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("message has no content: %w", ErrBadRequest)
	}

	msg := &domain.Message{
		ID:         idgen.NewMessageID(),
		SessionID:  sessionID,
		SenderID:   domain.SystemSenderID,
		SenderName: "System",
		Type:       domain.MessageTypeSystem,
		Content:    content,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.store.Messages().Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("persist message: %w", ErrTransient)
	}

	s.publish(msg)
	s.invalidateHistory(ctx, sessionID)
	return msg, nil
}

// Delete removes a message. The sender may delete their own; moderators may
// delete any.
func (s *messageServiceImpl) Delete(ctx context.Context, sessionID, messageID, actorID string) error {
	msg, err := s.store.Messages().GetByID(ctx, sessionID, messageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("message not found: %w", ErrNotFound)
		}
		return fmt.Errorf("load message: %w", ErrTransient)
	}

	if msg.SenderID != actorID {
		if _, err := s.memberships.RequireRole(ctx, sessionID, actorID, domain.RoleModerator); err != nil {
			return err
		}
	} else if _, err := s.memberships.RequireRole(ctx, sessionID, actorID,
		domain.RoleModerator, domain.RoleEvaluator, domain.RoleParticipant); err != nil {
		return err
	}

	if err := s.store.Messages().Delete(ctx, sessionID, messageID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("message not found: %w", ErrNotFound)
		}
		return fmt.Errorf("delete message: %w", ErrTransient)
	}

	audit.Log(ctx, audit.ActionMessageDelete, sessionID, actorID, "message "+messageID+" deleted")
	s.bus.Publish(bus.CategoryMessage, bus.Event{
		Type:      domain.EventMessageDeleted,
		SessionID: sessionID,
		Payload:   domain.MessageDeletedEvent{SessionID: sessionID, MessageID: messageID, ActorUserID: actorID},
	})
	s.invalidateHistory(ctx, sessionID)
	return nil
}

// History returns one newest-first page. The cursorless first page is
// cached; singleflight collapses concurrent misses into one store read.
func (s *messageServiceImpl) History(ctx context.Context, sessionID, callerID, cursor string, limit int) (*domain.HistoryPage, error) {
	if _, err := s.memberships.RequireRole(ctx, sessionID, callerID,
		domain.RoleModerator, domain.RoleEvaluator, domain.RoleParticipant); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = historyDefaultLimit
	} else if limit > historyMaxLimit {
		limit = historyMaxLimit
	}

	// Deep pages go straight to the store; only the hot first page caches.
	if cursor != "" {
		return s.loadPage(ctx, sessionID, cursor, limit)
	}
	return s.firstPage(ctx, sessionID, limit)
}

func (s *messageServiceImpl) firstPage(ctx context.Context, sessionID string, limit int) (*domain.HistoryPage, error) {
	key := s.cache.BuildKey(sessionID)

	cached, err := s.cache.Get(ctx, key)
	if err == nil && len(cached.Page.Messages) >= limit {
		page := cached.Page
		page.Messages = page.Messages[:limit]
		if len(cached.Page.Messages) > limit || cached.Page.HasMore {
			page.HasMore = true
			page.NextCursor = page.Messages[limit-1].ID
		}
		return &page, nil
	}
	if err == nil && !cached.Page.HasMore {
		// Short session: the cached page already holds every message.
		page := cached.Page
		return &page, nil
	}
	if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
		log.Ctx(ctx).Warn().Err(err).Str(log.FieldSessionID, sessionID).Msg("history cache read failed")
	}

	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		page, err := s.loadPage(ctx, sessionID, "", historyMaxLimit)
		if err != nil {
			return nil, err
		}
		if setErr := s.cache.Set(ctx, key, &cache.HistoryCacheResult{Page: *page}, s.cacheTTL); setErr != nil {
			log.Ctx(ctx).Warn().Err(setErr).Str(log.FieldSessionID, sessionID).Msg("history cache write failed")
		}
		return page, nil
	})
	if err != nil {
		return nil, err
	}

	full := v.(*domain.HistoryPage)
	page := &domain.HistoryPage{Messages: full.Messages, HasMore: full.HasMore, NextCursor: full.NextCursor}
	if len(full.Messages) > limit {
		page.Messages = full.Messages[:limit]
		page.HasMore = true
		page.NextCursor = page.Messages[limit-1].ID
	}
	return page, nil
}

func (s *messageServiceImpl) loadPage(ctx context.Context, sessionID, cursor string, limit int) (*domain.HistoryPage, error) {
	messages, hasMore, err := s.store.Messages().ListPage(ctx, sessionID, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", ErrTransient)
	}

	page := &domain.HistoryPage{Messages: messages, HasMore: hasMore}
	if hasMore && len(messages) > 0 {
		page.NextCursor = messages[len(messages)-1].ID
	}
	return page, nil
}

// uploadMedia validates and stores the attachment, plus a best-effort JPEG
// thumbnail for images. Returns the stored keys for cleanup on a failed
// persist.
func (s *messageServiceImpl) uploadMedia(ctx context.Context, msg *domain.Message, media *MediaUpload) ([]string, error) {
	if len(media.Data) == 0 {
		return nil, fmt.Errorf("media is empty: %w", ErrBadRequest)
	}
	if len(media.Data) > MaxMediaBytes {
		return nil, fmt.Errorf("media exceeds %d bytes: %w", MaxMediaBytes, ErrBadRequest)
	}
	if !allowedMediaTypes[media.ContentType] {
		return nil, fmt.Errorf("unsupported media type %q: %w", media.ContentType, ErrBadRequest)
	}

	l := log.Ctx(ctx)
	ext := filepath.Ext(media.Filename)
	key := fmt.Sprintf("%s/%s%s", msg.SessionID, msg.ID, ext)

	if err := s.media.Write(ctx, key, bytes.NewReader(media.Data), int64(len(media.Data)), media.ContentType); err != nil {
		return nil, fmt.Errorf("store media: %w", ErrTransient)
	}
	keys := []string{key}

	url, err := s.media.GetURL(ctx, key, mediaURLTTL)
	if err != nil {
		s.cleanupMedia(ctx, keys)
		return nil, fmt.Errorf("resolve media url: %w", ErrTransient)
	}
	msg.MediaURL = url
	msg.MediaType = media.ContentType

	if strings.HasPrefix(media.ContentType, "image/") {
		thumb, err := storage.Thumbnail(media.Data, thumbnailMaxSize, thumbnailMaxSize, thumbnailJPEGQuality)
		if err != nil {
			l.Warn().Err(err).Str(log.FieldMessageID, msg.ID).Msg("thumbnail generation failed")
			return keys, nil
		}
		thumbKey := fmt.Sprintf("%s/%s_thumb.jpg", msg.SessionID, msg.ID)
		if err := s.media.Write(ctx, thumbKey, bytes.NewReader(thumb), int64(len(thumb)), "image/jpeg"); err != nil {
			l.Warn().Err(err).Str(log.FieldMessageID, msg.ID).Msg("thumbnail upload failed")
			return keys, nil
		}
		keys = append(keys, thumbKey)
		if thumbURL, err := s.media.GetURL(ctx, thumbKey, mediaURLTTL); err == nil {
			msg.ThumbnailURL = thumbURL
		}
	}
	return keys, nil
}

func (s *messageServiceImpl) cleanupMedia(ctx context.Context, keys []string) {
	for _, key := range keys {
		if err := s.media.Delete(ctx, key); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("media cleanup failed")
		}
	}
}

func (s *messageServiceImpl) publish(msg *domain.Message) {
	s.bus.Publish(bus.CategoryMessage, bus.Event{
		Type:      domain.EventMessageNew,
		SessionID: msg.SessionID,
		Payload:   domain.MessageEvent{Message: *msg},
	})
}

func (s *messageServiceImpl) invalidateHistory(ctx context.Context, sessionID string) {
	if err := s.cache.Delete(ctx, s.cache.BuildKey(sessionID)); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str(log.FieldSessionID, sessionID).Msg("history cache invalidation failed")
	}
}
