package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/parleyhq/parley/internal/core"
	"github.com/parleyhq/parley/internal/domain"
)

// SQLiteStore is a core.Store backed by a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at dbPath.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/parley.db"
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		username     TEXT PRIMARY KEY,
		display_name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS rooms (
		id             TEXT PRIMARY KEY,
		display_name   TEXT NOT NULL,
		private        INTEGER NOT NULL DEFAULT 0,
		upload_creator TEXT NOT NULL DEFAULT '',
		upload_at      INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS room_members (
		room_id  TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
		username TEXT NOT NULL REFERENCES users(username) ON DELETE CASCADE,
		UNIQUE(room_id, username)
	);

	CREATE TABLE IF NOT EXISTS join_requests (
		username  TEXT NOT NULL REFERENCES users(username) ON DELETE CASCADE,
		room_id   TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
		timestamp INTEGER NOT NULL,
		UNIQUE(username, room_id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id         TEXT PRIMARY KEY,
		room_id    TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
		creator    TEXT NOT NULL,
		content    TEXT NOT NULL DEFAULT '',
		audio_ref  TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		edited_at  INTEGER
	);

	CREATE TABLE IF NOT EXISTS notifications (
		username   TEXT NOT NULL REFERENCES users(username) ON DELETE CASCADE,
		room_id    TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
		message_id TEXT NOT NULL DEFAULT '',
		read       INTEGER NOT NULL DEFAULT 0,
		timestamp  INTEGER NOT NULL,
		UNIQUE(username, room_id)
	);

	CREATE INDEX IF NOT EXISTS idx_messages_room_created ON messages(room_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_notifications_message ON notifications(message_id);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

var _ core.Store = (*SQLiteStore)(nil)

// translate maps sqlite unique violations onto core.ErrConflict.
func translate(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return core.ErrConflict
	}
	return err
}

func millis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms) }

func (s *SQLiteStore) GetOrCreateUser(ctx context.Context, username string) (*domain.User, error) {
	if err := domain.ValidateUsername(username); err != nil {
		return nil, err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, display_name) VALUES (?, ?)
		ON CONFLICT(username) DO NOTHING
	`, username, username)
	if err != nil {
		return nil, err
	}
	return s.GetUser(ctx, username)
}

func (s *SQLiteStore) GetUser(ctx context.Context, username string) (*domain.User, error) {
	u := &domain.User{}
	err := s.db.QueryRowContext(ctx, `
		SELECT username, display_name FROM users WHERE username = ?
	`, username).Scan(&u.Username, &u.DisplayName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (s *SQLiteStore) SetUserDisplayName(ctx context.Context, username, displayName string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET display_name = ? WHERE username = ?
	`, displayName, username)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) GetOrCreateRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	if id == "" {
		id = domain.NewRoomID()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rooms (id, display_name) VALUES (?, ?)
		ON CONFLICT(id) DO NOTHING
	`, string(id), string(id))
	if err != nil {
		return nil, err
	}
	return s.GetRoom(ctx, id)
}

func (s *SQLiteStore) GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	r := &domain.Room{}
	var uploadAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, private, upload_creator, upload_at
		FROM rooms WHERE id = ?
	`, string(id)).Scan(&r.ID, &r.DisplayName, &r.Private, &r.UploadCreator, &uploadAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if uploadAt > 0 {
		r.UploadAt = fromMillis(uploadAt)
	}
	return r, nil
}

func (s *SQLiteStore) SetRoomPrivacy(ctx context.Context, id domain.RoomID, private bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE rooms SET private = ? WHERE id = ?`, private, string(id))
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *SQLiteStore) SetRoomDisplayName(ctx context.Context, id domain.RoomID, displayName string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE rooms SET display_name = ? WHERE id = ?`, displayName, string(id))
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *SQLiteStore) DeleteRoom(ctx context.Context, id domain.RoomID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rooms WHERE id = ?`, string(id))
	if err != nil {
		return err
	}
	return requireRow(res)
}

// SetRoomUpload applies only when the event is newer than the last one
// processed, so replayed or out-of-order webhook deliveries are no-ops.
func (s *SQLiteStore) SetRoomUpload(ctx context.Context, id domain.RoomID, creator string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE rooms SET upload_creator = ?, upload_at = ?
		WHERE id = ? AND upload_at < ?
	`, creator, millis(at), string(id), millis(at))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStore) AddMember(ctx context.Context, id domain.RoomID, username string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO room_members (room_id, username) VALUES (?, ?)
		ON CONFLICT(room_id, username) DO NOTHING
	`, string(id), username)
	if err != nil {
		return false, translate(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStore) RemoveMember(ctx context.Context, id domain.RoomID, username string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM room_members WHERE room_id = ? AND username = ?
	`, string(id), username)
	return err
}

func (s *SQLiteStore) IsMember(ctx context.Context, id domain.RoomID, username string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM room_members WHERE room_id = ? AND username = ?
	`, string(id), username).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLiteStore) RoomMembers(ctx context.Context, id domain.RoomID) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.username, u.display_name
		FROM room_members m JOIN users u ON u.username = m.username
		WHERE m.room_id = ?
		ORDER BY u.username
	`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.Username, &u.DisplayName); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) RoomsOfUser(ctx context.Context, username string) ([]domain.RoomID, error) {
	return s.roomIDs(ctx, `SELECT room_id FROM room_members WHERE username = ?`, username)
}

func (s *SQLiteStore) roomIDs(ctx context.Context, query string, args ...any) ([]domain.RoomID, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.RoomID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, domain.RoomID(id))
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CreateJoinRequest(ctx context.Context, username string, id domain.RoomID) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO join_requests (username, room_id, timestamp) VALUES (?, ?, ?)
		ON CONFLICT(username, room_id) DO NOTHING
	`, username, string(id), millis(time.Now()))
	return translate(err)
}

func (s *SQLiteStore) DeleteJoinRequest(ctx context.Context, username string, id domain.RoomID) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM join_requests WHERE username = ? AND room_id = ?
	`, username, string(id))
	return err
}

func (s *SQLiteStore) JoinRequests(ctx context.Context, id domain.RoomID) ([]core.JoinRequestRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.username, u.display_name
		FROM join_requests r JOIN users u ON u.username = r.username
		WHERE r.room_id = ?
		ORDER BY r.timestamp DESC
	`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]core.JoinRequestRecord, 0)
	for rows.Next() {
		var record core.JoinRequestRecord
		if err := rows.Scan(&record.Username, &record.DisplayName); err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) JoinRequestRoomsOfUser(ctx context.Context, username string) ([]domain.RoomID, error) {
	return s.roomIDs(ctx, `SELECT room_id FROM join_requests WHERE username = ?`, username)
}

func (s *SQLiteStore) ApproveAllJoinRequests(ctx context.Context, id domain.RoomID) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT username FROM join_requests WHERE room_id = ? ORDER BY username
	`, string(id))
	if err != nil {
		return nil, err
	}
	var usernames []string
	for rows.Next() {
		var username string
		if err := rows.Scan(&username); err != nil {
			rows.Close()
			return nil, err
		}
		usernames = append(usernames, username)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var latestID string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM messages WHERE room_id = ? ORDER BY created_at DESC, id DESC LIMIT 1
	`, string(id)).Scan(&latestID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	now := millis(time.Now())
	for _, username := range usernames {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO room_members (room_id, username) VALUES (?, ?)
			ON CONFLICT(room_id, username) DO NOTHING
		`, string(id), username); err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO notifications (username, room_id, message_id, read, timestamp)
			VALUES (?, ?, ?, 0, ?)
			ON CONFLICT(username, room_id) DO NOTHING
		`, username, string(id), latestID, now); err != nil {
			return nil, err
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM join_requests WHERE room_id = ?`, string(id)); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return usernames, nil
}

func (s *SQLiteStore) EnsureNotification(ctx context.Context, username string, id domain.RoomID, messageID domain.MessageID) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (username, room_id, message_id, read, timestamp)
		VALUES (?, ?, ?, 0, ?)
		ON CONFLICT(username, room_id) DO NOTHING
	`, username, string(id), string(messageID), millis(time.Now()))
	return translate(err)
}

func (s *SQLiteStore) SetNotificationMessage(ctx context.Context, username string, id domain.RoomID, messageID domain.MessageID, read bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (username, room_id, message_id, read, timestamp)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(username, room_id) DO UPDATE SET
			message_id = excluded.message_id,
			read = excluded.read,
			timestamp = excluded.timestamp
	`, username, string(id), string(messageID), read, millis(time.Now()))
	return err
}

func (s *SQLiteStore) TouchNotification(ctx context.Context, username string, id domain.RoomID, at time.Time, read bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (username, room_id, message_id, read, timestamp)
		VALUES (?, ?, '', ?, ?)
		ON CONFLICT(username, room_id) DO UPDATE SET
			read = excluded.read,
			timestamp = excluded.timestamp
	`, username, string(id), read, millis(at))
	return err
}

func (s *SQLiteStore) MarkNotificationRead(ctx context.Context, username string, id domain.RoomID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET read = 1 WHERE username = ? AND room_id = ?
	`, username, string(id))
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *SQLiteStore) DeleteNotification(ctx context.Context, username string, id domain.RoomID) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM notifications WHERE username = ? AND room_id = ?
	`, username, string(id))
	return err
}

func (s *SQLiteStore) NotificationsOfUser(ctx context.Context, username string) ([]core.NotificationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT n.room_id, r.display_name, n.read, n.timestamp,
		       COALESCE(cu.display_name, ''), COALESCE(m.content, '')
		FROM notifications n
		JOIN rooms r ON r.id = n.room_id
		LEFT JOIN messages m ON m.id = n.message_id
		LEFT JOIN users cu ON cu.username = m.creator
		WHERE n.username = ?
	`, username)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]core.NotificationRecord, 0)
	for rows.Next() {
		var record core.NotificationRecord
		var ts int64
		if err := rows.Scan(&record.RoomID, &record.RoomDisplayName, &record.Read, &ts,
			&record.CreatorDisplayName, &record.Content); err != nil {
			return nil, err
		}
		record.SortKey = fromMillis(ts)
		record.Timestamp = record.SortKey.Format(domain.WireTimeFormat)
		out = append(out, record)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) NotificationHolders(ctx context.Context, messageID domain.MessageID) ([]string, error) {
	return s.usernames(ctx, `
		SELECT username FROM notifications WHERE message_id = ? ORDER BY username
	`, string(messageID))
}

func (s *SQLiteStore) UsersNotifiedBy(ctx context.Context, creator string) ([]string, error) {
	return s.usernames(ctx, `
		SELECT DISTINCT n.username
		FROM notifications n JOIN messages m ON m.id = n.message_id
		WHERE m.creator = ?
		ORDER BY n.username
	`, creator)
}

func (s *SQLiteStore) usernames(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var username string
		if err := rows.Scan(&username); err != nil {
			return nil, err
		}
		out = append(out, username)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *domain.Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, room_id, creator, content, audio_ref, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, string(msg.ID), string(msg.RoomID), msg.Creator, msg.Content, msg.AudioRef, millis(msg.CreatedAt))
	return translate(err)
}

func (s *SQLiteStore) GetMessage(ctx context.Context, id domain.MessageID) (*domain.Message, error) {
	msg := &domain.Message{}
	var createdAt int64
	var editedAt sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, room_id, creator, content, audio_ref, created_at, edited_at
		FROM messages WHERE id = ?
	`, string(id)).Scan(&msg.ID, &msg.RoomID, &msg.Creator, &msg.Content, &msg.AudioRef, &createdAt, &editedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	msg.CreatedAt = fromMillis(createdAt)
	if editedAt.Valid {
		t := fromMillis(editedAt.Int64)
		msg.EditedAt = &t
	}
	return msg, nil
}

func (s *SQLiteStore) EditMessage(ctx context.Context, id domain.MessageID, content string, editedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET content = ?, edited_at = ? WHERE id = ?
	`, content, millis(editedAt), string(id))
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *SQLiteStore) MessagesPage(ctx context.Context, id domain.RoomID, page, size int) ([]*domain.Message, error) {
	if page < 1 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room_id, creator, content, audio_ref, created_at, edited_at
		FROM messages WHERE room_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, string(id), size, (page-1)*size)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Message
	for rows.Next() {
		msg := &domain.Message{}
		var createdAt int64
		var editedAt sql.NullInt64
		if err := rows.Scan(&msg.ID, &msg.RoomID, &msg.Creator, &msg.Content, &msg.AudioRef, &createdAt, &editedAt); err != nil {
			return nil, err
		}
		msg.CreatedAt = fromMillis(createdAt)
		if editedAt.Valid {
			t := fromMillis(editedAt.Int64)
			msg.EditedAt = &t
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) LatestMessage(ctx context.Context, id domain.RoomID) (*domain.Message, error) {
	msgs, err := s.MessagesPage(ctx, id, 1, 1)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, core.ErrNotFound
	}
	return msgs[0], nil
}
