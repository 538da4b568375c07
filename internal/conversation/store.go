package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/askdoc/askdoc/internal/log"
)

// conversationCols is the standard SELECT column list for scanConversation.
const conversationCols = `id, document_id, owner_id, title, message_count, created_at, updated_at`

// queryTimeout bounds individual store queries.
const queryTimeout = 10 * time.Second

// Store manages conversation persistence with PostgreSQL backend.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// NewStore creates a conversation Store.
func NewStore(pool *pgxpool.Pool, logger log.Logger) *Store {
	return &Store{
		pool:   pool,
		logger: logger.With("component", "conversation_store"),
	}
}

// Create creates a conversation over a document.
func (s *Store) Create(ctx context.Context, documentID, ownerID uuid.UUID) (*Conversation, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	id := uuid.New()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO conversations (id, document_id, owner_id)
		VALUES ($1, $2, $3)
		RETURNING `+conversationCols,
		id, documentID, ownerID,
	)

	conv, err := scanConversation(row)
	if err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}

	s.logger.Debug("conversation created", "id", conv.ID, "document_id", documentID)
	return conv, nil
}

// Get retrieves a conversation by ID. Returns ErrNotFound if absent.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	row := s.pool.QueryRow(ctx, `SELECT `+conversationCols+` FROM conversations WHERE id = $1`, id)
	return scanConversation(row)
}

// ListByOwner returns an owner's conversations, most recently active first.
func (s *Store) ListByOwner(ctx context.Context, ownerID uuid.UUID, limit, offset int32) ([]*Conversation, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT `+conversationCols+`
		FROM conversations
		WHERE owner_id = $1
		ORDER BY updated_at DESC
		LIMIT $2 OFFSET $3`,
		ownerID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	return convs, nil
}

// Delete removes a conversation and its messages (CASCADE).
// Returns ErrNotFound if the conversation does not exist.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	s.logger.Debug("conversation deleted", "id", id)
	return nil
}

// SeedTitle sets the title if it is still empty. Returns true when this call
// set it, false when another request got there first. The guard in the WHERE
// clause makes first-message title seeding exactly-once without a lock.
func (s *Store) SeedTitle(ctx context.Context, id uuid.UUID, title string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `
		UPDATE conversations SET title = $2, updated_at = now()
		WHERE id = $1 AND title = ''`,
		id, title,
	)
	if err != nil {
		return false, fmt.Errorf("seeding title: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// History returns the most recent limit messages in ascending sequence order.
func (s *Store) History(ctx context.Context, conversationID uuid.UUID, limit int32) ([]*Message, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT id, conversation_id, role, content, sequence_number, created_at
		FROM (
			SELECT id, conversation_id, role, content, sequence_number, created_at
			FROM messages
			WHERE conversation_id = $1
			ORDER BY sequence_number DESC
			LIMIT $2
		) recent
		ORDER BY sequence_number ASC`,
		conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.SequenceNumber, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		messages = append(messages, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	return messages, nil
}

// AppendMessages appends messages to a conversation, assigning sequence
// numbers under a conversation row lock.
//
// Messages whose ID already exists are skipped (ON CONFLICT DO NOTHING
// against the primary key), which makes retried requests idempotent. The
// returned count is how many rows were actually inserted.
func (s *Store) AppendMessages(ctx context.Context, conversationID uuid.UUID, messages []*Message) (int, error) {
	if len(messages) == 0 {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			s.logger.Debug("append rollback", "error", err)
		}
	}()

	// Lock the conversation row so concurrent appends cannot race on
	// sequence numbers.
	var locked uuid.UUID
	err = tx.QueryRow(ctx, `SELECT id FROM conversations WHERE id = $1 FOR UPDATE`, conversationID).Scan(&locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("locking conversation: %w", err)
	}

	var maxSeq int32
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(sequence_number), 0) FROM messages WHERE conversation_id = $1`,
		conversationID,
	).Scan(&maxSeq)
	if err != nil {
		return 0, fmt.Errorf("reading max sequence number: %w", err)
	}

	inserted := 0
	for _, msg := range messages {
		seq := maxSeq + int32(inserted) + 1

		tag, err := tx.Exec(ctx, `
			INSERT INTO messages (id, conversation_id, role, content, sequence_number)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO NOTHING`,
			msg.ID, conversationID, msg.Role, msg.Content, seq,
		)
		if err != nil {
			return 0, fmt.Errorf("inserting message %s: %w", msg.ID, err)
		}
		if tag.RowsAffected() > 0 {
			msg.ConversationID = conversationID
			msg.SequenceNumber = seq
			inserted++
		}
	}

	if inserted > 0 {
		newCount := maxSeq + int32(inserted)
		if _, err := tx.Exec(ctx, `
			UPDATE conversations SET message_count = $2, updated_at = now()
			WHERE id = $1`,
			conversationID, newCount,
		); err != nil {
			return 0, fmt.Errorf("updating conversation metadata: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing messages: %w", err)
	}

	s.logger.Debug("messages appended",
		"conversation_id", conversationID,
		"inserted", inserted,
		"skipped", len(messages)-inserted,
	)
	return inserted, nil
}

// Count returns the total number of conversations.
func (s *Store) Count(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM conversations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting conversations: %w", err)
	}
	return n, nil
}

// CountMessages returns the total number of messages across conversations.
func (s *Store) CountMessages(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM messages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting messages: %w", err)
	}
	return n, nil
}

// scanConversation scans one conversation row, mapping pgx.ErrNoRows to ErrNotFound.
func scanConversation(row pgx.Row) (*Conversation, error) {
	var c Conversation
	err := row.Scan(&c.ID, &c.DocumentID, &c.OwnerID, &c.Title, &c.MessageCount, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}
	return &c, nil
}
