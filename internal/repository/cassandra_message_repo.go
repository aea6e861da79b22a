package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"github.com/BuddyCodez/SpeakSpace/internal/domain"
)

// CassandraConfig holds connection settings for the Cassandra message store.
type CassandraConfig struct {
	Hosts          []string
	Keyspace       string
	Consistency    string
	ConnectTimeout time.Duration
	Timeout        time.Duration
}

// CassandraMessageRepository keeps messages in Cassandra, partitioned by
// session with ids clustered descending. Message ids are ULIDs, so the
// clustering order is creation order and cursors compare lexically.
type CassandraMessageRepository struct {
	session *gocql.Session
}

func NewCassandraMessageRepository(cfg CassandraConfig) (*CassandraMessageRepository, error) {
	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Keyspace = cfg.Keyspace
	cluster.ConnectTimeout = cfg.ConnectTimeout
	cluster.Timeout = cfg.Timeout

	switch cfg.Consistency {
	case "LOCAL_QUORUM":
		cluster.Consistency = gocql.LocalQuorum
	case "ONE":
		cluster.Consistency = gocql.One
	case "QUORUM":
		cluster.Consistency = gocql.Quorum
	default:
		cluster.Consistency = gocql.LocalOne
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create cassandra session: %w", err)
	}

	repo := &CassandraMessageRepository{session: session}
	if err := repo.ensureSchema(); err != nil {
		session.Close()
		return nil, err
	}
	return repo, nil
}

func (r *CassandraMessageRepository) ensureSchema() error {
	const ddl = `CREATE TABLE IF NOT EXISTS messages_by_session (
		session_id text,
		id text,
		sender_id text,
		sender_name text,
		type text,
		content text,
		media_url text,
		media_type text,
		thumbnail_url text,
		client_message_id text,
		created_at timestamp,
		PRIMARY KEY ((session_id), id)
	) WITH CLUSTERING ORDER BY (id DESC)`
	if err := r.session.Query(ddl).Exec(); err != nil {
		return fmt.Errorf("failed to ensure messages table: %w", err)
	}
	return nil
}

func (r *CassandraMessageRepository) Create(ctx context.Context, msg *domain.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	const q = `INSERT INTO messages_by_session
		(session_id, id, sender_id, sender_name, type, content, media_url, media_type, thumbnail_url, client_message_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	err := r.session.Query(q,
		msg.SessionID, msg.ID, msg.SenderID, msg.SenderName, string(msg.Type),
		msg.Content, msg.MediaURL, msg.MediaType, msg.ThumbnailURL,
		msg.ClientMessageID, msg.CreatedAt,
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

func (r *CassandraMessageRepository) GetByID(ctx context.Context, sessionID, id string) (*domain.Message, error) {
	const q = `SELECT session_id, id, sender_id, sender_name, type, content, media_url, media_type, thumbnail_url, client_message_id, created_at
		FROM messages_by_session WHERE session_id = ? AND id = ?`
	msg, err := r.scanOne(r.session.Query(q, sessionID, id).WithContext(ctx))
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (r *CassandraMessageRepository) GetByClientMessageID(ctx context.Context, sessionID, senderID, clientMessageID string) (*domain.Message, error) {
	// Filtering stays inside the session partition.
	const q = `SELECT session_id, id, sender_id, sender_name, type, content, media_url, media_type, thumbnail_url, client_message_id, created_at
		FROM messages_by_session
		WHERE session_id = ? AND sender_id = ? AND client_message_id = ?
		ALLOW FILTERING`
	msg, err := r.scanOne(r.session.Query(q, sessionID, senderID, clientMessageID).WithContext(ctx))
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (r *CassandraMessageRepository) scanOne(q *gocql.Query) (*domain.Message, error) {
	var msg domain.Message
	var msgType string
	err := q.Scan(
		&msg.SessionID, &msg.ID, &msg.SenderID, &msg.SenderName, &msgType,
		&msg.Content, &msg.MediaURL, &msg.MediaType, &msg.ThumbnailURL,
		&msg.ClientMessageID, &msg.CreatedAt,
	)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}
	msg.Type = domain.MessageType(msgType)
	return &msg, nil
}

func (r *CassandraMessageRepository) Delete(ctx context.Context, sessionID, id string) error {
	if _, err := r.GetByID(ctx, sessionID, id); err != nil {
		return err
	}
	const q = `DELETE FROM messages_by_session WHERE session_id = ? AND id = ?`
	if err := r.session.Query(q, sessionID, id).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

func (r *CassandraMessageRepository) ListPage(ctx context.Context, sessionID, cursor string, limit int) ([]domain.Message, bool, error) {
	// Query limit + 1 to determine if there are more results.
	queryLimit := limit + 1

	var query string
	var args []interface{}
	if cursor == "" {
		query = `SELECT session_id, id, sender_id, sender_name, type, content, media_url, media_type, thumbnail_url, client_message_id, created_at
			FROM messages_by_session
			WHERE session_id = ?
			ORDER BY id DESC
			LIMIT ?`
		args = []interface{}{sessionID, queryLimit}
	} else {
		query = `SELECT session_id, id, sender_id, sender_name, type, content, media_url, media_type, thumbnail_url, client_message_id, created_at
			FROM messages_by_session
			WHERE session_id = ? AND id < ?
			ORDER BY id DESC
			LIMIT ?`
		args = []interface{}{sessionID, cursor, queryLimit}
	}

	iter := r.session.Query(query, args...).WithContext(ctx).Iter()

	var messages []domain.Message
	var msg domain.Message
	var msgType string
	for iter.Scan(
		&msg.SessionID, &msg.ID, &msg.SenderID, &msg.SenderName, &msgType,
		&msg.Content, &msg.MediaURL, &msg.MediaType, &msg.ThumbnailURL,
		&msg.ClientMessageID, &msg.CreatedAt,
	) {
		msg.Type = domain.MessageType(msgType)
		messages = append(messages, msg)
		msg = domain.Message{}
	}
	if err := iter.Close(); err != nil {
		return nil, false, fmt.Errorf("failed to iterate messages: %w", err)
	}

	hasMore := len(messages) > limit
	if hasMore {
		messages = messages[:limit]
	}
	return messages, hasMore, nil
}

func (r *CassandraMessageRepository) Close() error {
	r.session.Close()
	return nil
}

var _ MessageRepository = (*CassandraMessageRepository)(nil)
