package history

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"

	"github.com/soyeahso/parley/internal/chat"
	"github.com/soyeahso/parley/internal/events"
)

// timeLayout is RFC 3339 with fixed-width nanoseconds so stored timestamps
// sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const columns = `conversation_id, id, client_id, content, content_type,
	sender_id, sender_name, is_own, pending, timestamp`

// ConversationStat summarizes the cached transcript of one conversation.
type ConversationStat struct {
	ConversationID string
	Count          int
	LastAt         time.Time
}

// Save inserts msg, or updates the cached copy with the same id.
func (s *Store) Save(msg chat.Message) error {
	db, release, err := s.db()
	defer release()
	if err != nil {
		return err
	}

	_, err = db.Exec(
		`INSERT INTO messages (`+columns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(conversation_id, id) DO UPDATE SET
		   client_id = excluded.client_id,
		   content = excluded.content,
		   content_type = excluded.content_type,
		   sender_id = excluded.sender_id,
		   sender_name = excluded.sender_name,
		   is_own = excluded.is_own,
		   pending = excluded.pending,
		   timestamp = excluded.timestamp`,
		msg.ConversationID, msg.ID, msg.ClientID, msg.Content, contentType(msg.ContentType),
		msg.SenderID, msg.SenderName, msg.IsOwn, msg.Pending, formatTime(msg.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("saving message %s: %w", msg.ID, err)
	}
	return nil
}

// Reconcile replaces the cached echo tempID with its confirmed copy. When the
// echo was never cached the confirmed message is saved as new; when the
// confirmed id is already cached the echo is dropped.
func (s *Store) Reconcile(tempID string, msg chat.Message) error {
	db, release, err := s.db()
	defer release()
	if err != nil {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin reconcile: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRow(
		`SELECT COUNT(*) FROM messages WHERE conversation_id = ? AND id = ?`,
		msg.ConversationID, msg.ID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("reconcile %s: %w", tempID, err)
	}

	if exists > 0 {
		if _, err := tx.Exec(
			`DELETE FROM messages WHERE conversation_id = ? AND id = ?`,
			msg.ConversationID, tempID,
		); err != nil {
			return fmt.Errorf("reconcile %s: %w", tempID, err)
		}
		return tx.Commit()
	}

	res, err := tx.Exec(
		`UPDATE messages SET id = ?, pending = 0, timestamp = ?, sender_id = ?, sender_name = ?
		 WHERE conversation_id = ? AND id = ?`,
		msg.ID, formatTime(msg.Timestamp), msg.SenderID, msg.SenderName,
		msg.ConversationID, tempID,
	)
	if err != nil {
		return fmt.Errorf("reconcile %s: %w", tempID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := tx.Exec(
			`INSERT INTO messages (`+columns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			msg.ConversationID, msg.ID, msg.ClientID, msg.Content, contentType(msg.ContentType),
			msg.SenderID, msg.SenderName, msg.IsOwn, false, formatTime(msg.Timestamp),
		); err != nil {
			return fmt.Errorf("reconcile %s: %w", tempID, err)
		}
	}
	return tx.Commit()
}

// Recent returns the last limit messages of a conversation, oldest first.
// A limit of 0 returns the whole transcript.
func (s *Store) Recent(conversationID string, limit int) ([]chat.Message, error) {
	db, release, err := s.db()
	defer release()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := db.Query(
		`SELECT `+columns+` FROM messages
		 WHERE conversation_id = ?
		 ORDER BY seq DESC LIMIT ?`,
		conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", conversationID, err)
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	slices.Reverse(msgs)
	return msgs, nil
}

// Search finds messages whose content matches an FTS5 query, best match
// first. An empty conversationID searches every conversation. Limit of 0
// defaults to 20.
func (s *Store) Search(conversationID, query string, limit int) ([]chat.Message, error) {
	db, release, err := s.db()
	defer release()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := db.Query(
		`SELECT m.conversation_id, m.id, m.client_id, m.content, m.content_type,
		        m.sender_id, m.sender_name, m.is_own, m.pending, m.timestamp
		 FROM messages_fts
		 JOIN messages m ON m.seq = messages_fts.rowid
		 WHERE messages_fts MATCH ?
		   AND (? = '' OR m.conversation_id = ?)
		 ORDER BY rank
		 LIMIT ?`,
		query, conversationID, conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("searching %q: %w", query, err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// Conversations lists every cached conversation, most recently active first.
func (s *Store) Conversations() ([]ConversationStat, error) {
	db, release, err := s.db()
	defer release()
	if err != nil {
		return nil, err
	}

	rows, err := db.Query(
		`SELECT conversation_id, COUNT(*), MAX(timestamp)
		 FROM messages GROUP BY conversation_id
		 ORDER BY MAX(timestamp) DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var stats []ConversationStat
	for rows.Next() {
		var st ConversationStat
		var last string
		if err := rows.Scan(&st.ConversationID, &st.Count, &last); err != nil {
			return nil, err
		}
		st.LastAt = parseTime(last)
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// Clear deletes the transcript of conversationID, or every transcript when
// conversationID is empty. It returns the number of messages removed.
func (s *Store) Clear(conversationID string) (int64, error) {
	db, release, err := s.db()
	defer release()
	if err != nil {
		return 0, err
	}

	var res sql.Result
	if conversationID == "" {
		res, err = db.Exec(`DELETE FROM messages`)
	} else {
		res, err = db.Exec(`DELETE FROM messages WHERE conversation_id = ?`, conversationID)
	}
	if err != nil {
		return 0, fmt.Errorf("clearing history: %w", err)
	}
	return res.RowsAffected()
}

// MessageSink receives replayed messages; *chat.Manager satisfies it.
type MessageSink interface {
	RestoreMessage(conversationID string, msg chat.Message)
}

// Replay feeds the last limit cached messages of conversationID into sink
// and returns how many were replayed.
func (s *Store) Replay(sink MessageSink, conversationID string, limit int) (int, error) {
	msgs, err := s.Recent(conversationID, limit)
	if err != nil {
		return 0, err
	}
	for _, m := range msgs {
		sink.RestoreMessage(conversationID, m)
	}
	return len(msgs), nil
}

// Attach persists chat state changes published on bus: added messages are
// saved and confirmed echoes reconciled. Clearing a buffer in memory does
// not touch the cache.
func (s *Store) Attach(bus *events.Bus) {
	bus.On(events.TopicMessageAdded, "history", func(_ context.Context, p events.Payload) error {
		ev, ok := p.Data.(chat.MessageEvent)
		if !ok {
			return fmt.Errorf("unexpected payload %T", p.Data)
		}
		return s.Save(ev.Message)
	})
	bus.On(events.TopicMessageReconciled, "history", func(_ context.Context, p events.Payload) error {
		ev, ok := p.Data.(chat.ReconcileEvent)
		if !ok {
			return fmt.Errorf("unexpected payload %T", p.Data)
		}
		return s.Reconcile(ev.TempID, ev.Message)
	})
}

// Detach removes the handlers installed by Attach.
func (s *Store) Detach(bus *events.Bus) {
	bus.Off(events.TopicMessageAdded, "history")
	bus.Off(events.TopicMessageReconciled, "history")
}

func scanMessages(rows *sql.Rows) ([]chat.Message, error) {
	var msgs []chat.Message
	for rows.Next() {
		var m chat.Message
		var ts string
		if err := rows.Scan(
			&m.ConversationID, &m.ID, &m.ClientID, &m.Content, &m.ContentType,
			&m.SenderID, &m.SenderName, &m.IsOwn, &m.Pending, &ts,
		); err != nil {
			return nil, err
		}
		m.Timestamp = parseTime(ts)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func contentType(s string) string {
	if s == "" {
		return chat.ContentTypeText
	}
	return s
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
