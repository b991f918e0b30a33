package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parleyhq/parley/internal/core"
	"github.com/parleyhq/parley/internal/domain"
)

// PostgresStore is a core.Store backed by PostgreSQL over pgx.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to connString and ensures the schema.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	s := &PostgresStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		username     TEXT PRIMARY KEY,
		display_name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS rooms (
		id             TEXT PRIMARY KEY,
		display_name   TEXT NOT NULL,
		private        BOOLEAN NOT NULL DEFAULT FALSE,
		upload_creator TEXT NOT NULL DEFAULT '',
		upload_at      BIGINT NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS room_members (
		room_id  TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
		username TEXT NOT NULL REFERENCES users(username) ON DELETE CASCADE,
		UNIQUE(room_id, username)
	);

	CREATE TABLE IF NOT EXISTS join_requests (
		username  TEXT NOT NULL REFERENCES users(username) ON DELETE CASCADE,
		room_id   TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
		ts        BIGINT NOT NULL,
		UNIQUE(username, room_id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id         TEXT PRIMARY KEY,
		room_id    TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
		creator    TEXT NOT NULL,
		content    TEXT NOT NULL DEFAULT '',
		audio_ref  TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL,
		edited_at  BIGINT
	);

	CREATE TABLE IF NOT EXISTS notifications (
		username   TEXT NOT NULL REFERENCES users(username) ON DELETE CASCADE,
		room_id    TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
		message_id TEXT NOT NULL DEFAULT '',
		read       BOOLEAN NOT NULL DEFAULT FALSE,
		ts         BIGINT NOT NULL,
		UNIQUE(username, room_id)
	);

	CREATE INDEX IF NOT EXISTS idx_messages_room_created ON messages(room_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_notifications_message ON notifications(message_id);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

var _ core.Store = (*PostgresStore)(nil)

func translatePG(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return core.ErrConflict
	}
	return err
}

func (s *PostgresStore) GetOrCreateUser(ctx context.Context, username string) (*domain.User, error) {
	if err := domain.ValidateUsername(username); err != nil {
		return nil, err
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (username, display_name) VALUES ($1, $2)
		ON CONFLICT (username) DO NOTHING
	`, username, username)
	if err != nil {
		return nil, err
	}
	return s.GetUser(ctx, username)
}

func (s *PostgresStore) GetUser(ctx context.Context, username string) (*domain.User, error) {
	u := &domain.User{}
	err := s.pool.QueryRow(ctx, `
		SELECT username, display_name FROM users WHERE username = $1
	`, username).Scan(&u.Username, &u.DisplayName)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (s *PostgresStore) SetUserDisplayName(ctx context.Context, username, displayName string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET display_name = $1 WHERE username = $2
	`, displayName, username)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetOrCreateRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	if id == "" {
		id = domain.NewRoomID()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rooms (id, display_name) VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING
	`, string(id), string(id))
	if err != nil {
		return nil, err
	}
	return s.GetRoom(ctx, id)
}

func (s *PostgresStore) GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	r := &domain.Room{}
	var uploadAt int64
	err := s.pool.QueryRow(ctx, `
		SELECT id, display_name, private, upload_creator, upload_at
		FROM rooms WHERE id = $1
	`, string(id)).Scan(&r.ID, &r.DisplayName, &r.Private, &r.UploadCreator, &uploadAt)
	if errors.Is(err, pgx.ErrNoRows) {
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

func (s *PostgresStore) SetRoomPrivacy(ctx context.Context, id domain.RoomID, private bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE rooms SET private = $1 WHERE id = $2`, private, string(id))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetRoomDisplayName(ctx context.Context, id domain.RoomID, displayName string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE rooms SET display_name = $1 WHERE id = $2`, displayName, string(id))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteRoom(ctx context.Context, id domain.RoomID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM rooms WHERE id = $1`, string(id))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetRoomUpload(ctx context.Context, id domain.RoomID, creator string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE rooms SET upload_creator = $1, upload_at = $2
		WHERE id = $3 AND upload_at < $2
	`, creator, millis(at), string(id))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) AddMember(ctx context.Context, id domain.RoomID, username string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO room_members (room_id, username) VALUES ($1, $2)
		ON CONFLICT (room_id, username) DO NOTHING
	`, string(id), username)
	if err != nil {
		return false, translatePG(err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) RemoveMember(ctx context.Context, id domain.RoomID, username string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM room_members WHERE room_id = $1 AND username = $2
	`, string(id), username)
	return err
}

func (s *PostgresStore) IsMember(ctx context.Context, id domain.RoomID, username string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM room_members WHERE room_id = $1 AND username = $2)
	`, string(id), username).Scan(&exists)
	return exists, err
}

func (s *PostgresStore) RoomMembers(ctx context.Context, id domain.RoomID) ([]domain.User, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT u.username, u.display_name
		FROM room_members m JOIN users u ON u.username = m.username
		WHERE m.room_id = $1
		ORDER BY u.username
	`, string(id))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[domain.User])
}

func (s *PostgresStore) RoomsOfUser(ctx context.Context, username string) ([]domain.RoomID, error) {
	return s.roomIDs(ctx, `SELECT room_id FROM room_members WHERE username = $1`, username)
}

func (s *PostgresStore) roomIDs(ctx context.Context, query string, args ...any) ([]domain.RoomID, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[domain.RoomID])
}

func (s *PostgresStore) CreateJoinRequest(ctx context.Context, username string, id domain.RoomID) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO join_requests (username, room_id, ts) VALUES ($1, $2, $3)
		ON CONFLICT (username, room_id) DO NOTHING
	`, username, string(id), millis(time.Now()))
	return translatePG(err)
}

func (s *PostgresStore) DeleteJoinRequest(ctx context.Context, username string, id domain.RoomID) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM join_requests WHERE username = $1 AND room_id = $2
	`, username, string(id))
	return err
}

func (s *PostgresStore) JoinRequests(ctx context.Context, id domain.RoomID) ([]core.JoinRequestRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.username, u.display_name
		FROM join_requests r JOIN users u ON u.username = r.username
		WHERE r.room_id = $1
		ORDER BY r.ts DESC
	`, string(id))
	if err != nil {
		return nil, err
	}
	records, err := pgx.CollectRows(rows, pgx.RowToStructByPos[core.JoinRequestRecord])
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = make([]core.JoinRequestRecord, 0)
	}
	return records, nil
}

func (s *PostgresStore) JoinRequestRoomsOfUser(ctx context.Context, username string) ([]domain.RoomID, error) {
	return s.roomIDs(ctx, `SELECT room_id FROM join_requests WHERE username = $1`, username)
}

func (s *PostgresStore) ApproveAllJoinRequests(ctx context.Context, id domain.RoomID) ([]string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT username FROM join_requests WHERE room_id = $1 ORDER BY username
	`, string(id))
	if err != nil {
		return nil, err
	}
	usernames, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}

	var latestID string
	err = tx.QueryRow(ctx, `
		SELECT id FROM messages WHERE room_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1
	`, string(id)).Scan(&latestID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	now := millis(time.Now())
	for _, username := range usernames {
		if _, err := tx.Exec(ctx, `
			INSERT INTO room_members (room_id, username) VALUES ($1, $2)
			ON CONFLICT (room_id, username) DO NOTHING
		`, string(id), username); err != nil {
			return nil, err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO notifications (username, room_id, message_id, read, ts)
			VALUES ($1, $2, $3, FALSE, $4)
			ON CONFLICT (username, room_id) DO NOTHING
		`, username, string(id), latestID, now); err != nil {
			return nil, err
		}
	}
	if _, err := tx.Exec(ctx, `DELETE FROM join_requests WHERE room_id = $1`, string(id)); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return usernames, nil
}

func (s *PostgresStore) EnsureNotification(ctx context.Context, username string, id domain.RoomID, messageID domain.MessageID) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notifications (username, room_id, message_id, read, ts)
		VALUES ($1, $2, $3, FALSE, $4)
		ON CONFLICT (username, room_id) DO NOTHING
	`, username, string(id), string(messageID), millis(time.Now()))
	return translatePG(err)
}

func (s *PostgresStore) SetNotificationMessage(ctx context.Context, username string, id domain.RoomID, messageID domain.MessageID, read bool) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notifications (username, room_id, message_id, read, ts)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (username, room_id) DO UPDATE SET
			message_id = EXCLUDED.message_id,
			read = EXCLUDED.read,
			ts = EXCLUDED.ts
	`, username, string(id), string(messageID), read, millis(time.Now()))
	return err
}

func (s *PostgresStore) TouchNotification(ctx context.Context, username string, id domain.RoomID, at time.Time, read bool) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notifications (username, room_id, message_id, read, ts)
		VALUES ($1, $2, '', $3, $4)
		ON CONFLICT (username, room_id) DO UPDATE SET
			read = EXCLUDED.read,
			ts = EXCLUDED.ts
	`, username, string(id), read, millis(at))
	return err
}

func (s *PostgresStore) MarkNotificationRead(ctx context.Context, username string, id domain.RoomID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE notifications SET read = TRUE WHERE username = $1 AND room_id = $2
	`, username, string(id))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteNotification(ctx context.Context, username string, id domain.RoomID) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM notifications WHERE username = $1 AND room_id = $2
	`, username, string(id))
	return err
}

func (s *PostgresStore) NotificationsOfUser(ctx context.Context, username string) ([]core.NotificationRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT n.room_id, r.display_name, n.read, n.ts,
		       COALESCE(cu.display_name, ''), COALESCE(m.content, '')
		FROM notifications n
		JOIN rooms r ON r.id = n.room_id
		LEFT JOIN messages m ON m.id = n.message_id
		LEFT JOIN users cu ON cu.username = m.creator
		WHERE n.username = $1
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

func (s *PostgresStore) NotificationHolders(ctx context.Context, messageID domain.MessageID) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT username FROM notifications WHERE message_id = $1 ORDER BY username
	`, string(messageID))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *PostgresStore) UsersNotifiedBy(ctx context.Context, creator string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT n.username
		FROM notifications n JOIN messages m ON m.id = n.message_id
		WHERE m.creator = $1
		ORDER BY n.username
	`, creator)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *PostgresStore) CreateMessage(ctx context.Context, msg *domain.Message) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, room_id, creator, content, audio_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, string(msg.ID), string(msg.RoomID), msg.Creator, msg.Content, msg.AudioRef, millis(msg.CreatedAt))
	return translatePG(err)
}

func (s *PostgresStore) GetMessage(ctx context.Context, id domain.MessageID) (*domain.Message, error) {
	msg := &domain.Message{}
	var createdAt int64
	var editedAt *int64
	err := s.pool.QueryRow(ctx, `
		SELECT id, room_id, creator, content, audio_ref, created_at, edited_at
		FROM messages WHERE id = $1
	`, string(id)).Scan(&msg.ID, &msg.RoomID, &msg.Creator, &msg.Content, &msg.AudioRef, &createdAt, &editedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	msg.CreatedAt = fromMillis(createdAt)
	if editedAt != nil {
		t := fromMillis(*editedAt)
		msg.EditedAt = &t
	}
	return msg, nil
}

func (s *PostgresStore) EditMessage(ctx context.Context, id domain.MessageID, content string, editedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET content = $1, edited_at = $2 WHERE id = $3
	`, content, millis(editedAt), string(id))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) MessagesPage(ctx context.Context, id domain.RoomID, page, size int) ([]*domain.Message, error) {
	if page < 1 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, room_id, creator, content, audio_ref, created_at, edited_at
		FROM messages WHERE room_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, string(id), size, (page-1)*size)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Message
	for rows.Next() {
		msg := &domain.Message{}
		var createdAt int64
		var editedAt *int64
		if err := rows.Scan(&msg.ID, &msg.RoomID, &msg.Creator, &msg.Content, &msg.AudioRef, &createdAt, &editedAt); err != nil {
			return nil, err
		}
		msg.CreatedAt = fromMillis(createdAt)
		if editedAt != nil {
			t := fromMillis(*editedAt)
			msg.EditedAt = &t
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (s *PostgresStore) LatestMessage(ctx context.Context, id domain.RoomID) (*domain.Message, error) {
	msgs, err := s.MessagesPage(ctx, id, 1, 1)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, core.ErrNotFound
	}
	return msgs[0], nil
}
