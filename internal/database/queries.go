package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
)

const foreignKeyViolation = pq.ErrorCode("23503")

// notFoundOnForeignKey turns a dangling reference into sql.ErrNoRows so
// callers handle a vanished row the same way as a failed lookup.
func notFoundOnForeignKey(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == foreignKeyViolation {
		return sql.ErrNoRows
	}
	return err
}

// duplicateOnNoRow maps an insert skipped by ON CONFLICT DO NOTHING, which
// returns no row, to ErrDuplicateNotification.
func duplicateOnNoRow(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrDuplicateNotification
	}
	return err
}

func (db *PgGoChatRepository) GetAccountById(ctx context.Context, id int) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, username, email, last_seen_at, created_at FROM accounts "+
			"WHERE id = $1 LIMIT 1",
		id,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.Email,
		&user.LastSeenAt,
		&user.CreatedAt,
	)

	return user, err
}

func (db *PgGoChatRepository) UpdateLastSeen(ctx context.Context, accountId int, at time.Time) error {
	_, err := db.conn.ExecContext(ctx,
		"UPDATE accounts SET last_seen_at = $2 WHERE id = $1",
		accountId,
		at.UTC(),
	)
	return err
}

func (db *PgGoChatRepository) GetRoomById(ctx context.Context, roomId int) (Room, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, name, is_active, created_at FROM rooms WHERE id = $1",
		roomId,
	)

	var room Room
	err := row.Scan(
		&room.Id,
		&room.Name,
		&room.IsActive,
		&room.CreatedAt,
	)

	return room, err
}

func (db *PgGoChatRepository) ListActiveRoomIds(ctx context.Context, accountId int) ([]int, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT rm.room_id FROM room_members rm "+
			"JOIN rooms r ON r.id = rm.room_id "+
			"WHERE rm.account_id = $1 AND rm.is_active AND r.is_active "+
			"ORDER BY rm.room_id",
		accountId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

func (db *PgGoChatRepository) IsActiveRoomMember(ctx context.Context, roomId, accountId int) (bool, error) {
	var exists bool
	err := db.conn.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM room_members WHERE room_id = $1 AND account_id = $2 AND is_active)",
		roomId,
		accountId,
	).Scan(&exists)

	return exists, err
}

func (db *PgGoChatRepository) ListActiveRoomMemberIds(ctx context.Context, roomId int) ([]int, error) {
	var ids []int64
	err := db.conn.QueryRowContext(ctx,
		"SELECT COALESCE(array_agg(account_id ORDER BY account_id), '{}') "+
			"FROM room_members WHERE room_id = $1 AND is_active",
		roomId,
	).Scan(pq.Array(&ids))
	if err != nil {
		return nil, err
	}

	memberIds := make([]int, len(ids))
	for i, id := range ids {
		memberIds[i] = int(id)
	}

	return memberIds, nil
}

func (db *PgGoChatRepository) AddRoomMember(ctx context.Context, roomId, accountId int) (err error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var active bool
	err = tx.QueryRowContext(ctx,
		"SELECT is_active FROM rooms WHERE id = $1 FOR SHARE",
		roomId,
	).Scan(&active)
	if err != nil {
		return err
	}
	if !active {
		err = sql.ErrNoRows
		return err
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO room_members (room_id, account_id, joined_at) VALUES ($1, $2, $3) "+
			"ON CONFLICT (room_id, account_id) DO UPDATE "+
			"SET is_active = TRUE, left_at = NULL, joined_at = EXCLUDED.joined_at "+
			"WHERE NOT room_members.is_active",
		roomId,
		accountId,
		time.Now().UTC(),
	)
	if err != nil {
		err = notFoundOnForeignKey(err)
		return err
	}

	return tx.Commit()
}

func (db *PgGoChatRepository) RemoveRoomMember(ctx context.Context, roomId, accountId int) error {
	_, err := db.conn.ExecContext(ctx,
		"UPDATE room_members SET is_active = FALSE, left_at = $3 "+
			"WHERE room_id = $1 AND account_id = $2 AND is_active",
		roomId,
		accountId,
		time.Now().UTC(),
	)
	return err
}

func (db *PgGoChatRepository) GetAttachment(ctx context.Context, attachmentId, ownerId int) (FileAttachment, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, file_name, original_file_name, content_type, file_size, file_path, "+
			"thumbnail_path, uploaded_by_id, file_type, uploaded_at FROM file_attachments "+
			"WHERE id = $1 AND uploaded_by_id = $2",
		attachmentId,
		ownerId,
	)

	var a FileAttachment
	err := row.Scan(
		&a.Id,
		&a.FileName,
		&a.OriginalFileName,
		&a.ContentType,
		&a.FileSize,
		&a.FilePath,
		&a.ThumbnailPath,
		&a.UploadedById,
		&a.FileType,
		&a.UploadedAt,
	)

	return a, err
}

const messageColumns = "id, content, sender_id, room_id, receiver_id, type, is_read, read_at, file_attachment_id, sent_at"

func scanMessage(row *sql.Row) (Message, error) {
	var m Message
	err := row.Scan(
		&m.Id,
		&m.Content,
		&m.SenderId,
		&m.RoomId,
		&m.ReceiverId,
		&m.Type,
		&m.IsRead,
		&m.ReadAt,
		&m.FileAttachmentId,
		&m.SentAt,
	)
	return m, err
}

func (db *PgGoChatRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	row := db.conn.QueryRowContext(ctx,
		"INSERT INTO messages (content, sender_id, room_id, receiver_id, type, file_attachment_id, sent_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING "+messageColumns,
		params.Content,
		params.SenderId,
		params.RoomId,
		params.ReceiverId,
		params.Type,
		params.FileAttachmentId,
		params.SentAt.UTC(),
	)

	m, err := scanMessage(row)
	if err != nil {
		return Message{}, notFoundOnForeignKey(err)
	}

	return m, nil
}

func (db *PgGoChatRepository) GetMessageById(ctx context.Context, messageId int) (Message, error) {
	return scanMessage(db.conn.QueryRowContext(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE id = $1",
		messageId,
	))
}

func (db *PgGoChatRepository) MarkMessageRead(ctx context.Context, messageId, receiverId int) (Message, error) {
	return scanMessage(db.conn.QueryRowContext(ctx,
		"UPDATE messages SET is_read = TRUE, read_at = COALESCE(read_at, $3) "+
			"WHERE id = $1 AND receiver_id = $2 RETURNING "+messageColumns,
		messageId,
		receiverId,
		time.Now().UTC(),
	))
}

func (db *PgGoChatRepository) AreFriends(ctx context.Context, accountId, otherId int) (bool, error) {
	var exists bool
	err := db.conn.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM friendships WHERE is_active AND "+
			"((account_id = $1 AND friend_id = $2) OR (account_id = $2 AND friend_id = $1)))",
		accountId,
		otherId,
	).Scan(&exists)

	return exists, err
}

func (db *PgGoChatRepository) GetFriendRequest(ctx context.Context, requestId int) (FriendRequest, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, sender_id, receiver_id, status, created_at, responded_at "+
			"FROM friend_requests WHERE id = $1",
		requestId,
	)

	var fr FriendRequest
	err := row.Scan(
		&fr.Id,
		&fr.SenderId,
		&fr.ReceiverId,
		&fr.Status,
		&fr.CreatedAt,
		&fr.RespondedAt,
	)

	return fr, err
}

const notificationColumns = "id, account_id, title, message, type, is_read, created_at, read_at, data, " +
	"related_user_id, related_room_id, related_message_id"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNotification(row rowScanner) (Notification, error) {
	var (
		n    Notification
		data []byte
	)
	err := row.Scan(
		&n.Id,
		&n.UserId,
		&n.Title,
		&n.Message,
		&n.Type,
		&n.IsRead,
		&n.CreatedAt,
		&n.ReadAt,
		&data,
		&n.RelatedUserId,
		&n.RelatedRoomId,
		&n.RelatedMessageId,
	)
	n.Data = data
	return n, err
}

func (db *PgGoChatRepository) CreateNotification(ctx context.Context, params CreateNotificationParams) (Notification, error) {
	var data any
	if len(params.Data) > 0 {
		data = []byte(params.Data)
	}

	row := db.conn.QueryRowContext(ctx,
		"INSERT INTO notifications (account_id, title, message, type, data, "+
			"related_user_id, related_room_id, related_message_id, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) "+
			"ON CONFLICT DO NOTHING RETURNING "+notificationColumns,
		params.UserId,
		params.Title,
		params.Message,
		params.Type,
		data,
		params.RelatedUserId,
		params.RelatedRoomId,
		params.RelatedMessageId,
		time.Now().UTC(),
	)

	n, err := scanNotification(row)
	if err != nil {
		return Notification{}, notFoundOnForeignKey(duplicateOnNoRow(err))
	}

	return n, nil
}

func (db *PgGoChatRepository) ListNotifications(ctx context.Context, accountId int, unreadOnly bool, limit int) ([]Notification, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+notificationColumns+" FROM notifications "+
			"WHERE account_id = $1 AND ($2 = FALSE OR NOT is_read) "+
			"ORDER BY created_at DESC LIMIT $3",
		accountId,
		unreadOnly,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}

	return notifications, rows.Err()
}

func (db *PgGoChatRepository) CountUnreadNotifications(ctx context.Context, accountId int) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		"SELECT count(*) FROM notifications WHERE account_id = $1 AND NOT is_read",
		accountId,
	).Scan(&count)

	return count, err
}

func (db *PgGoChatRepository) MarkNotificationRead(ctx context.Context, notificationId, accountId int) (bool, error) {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE notifications SET is_read = TRUE, read_at = $3 "+
			"WHERE id = $1 AND account_id = $2 AND NOT is_read",
		notificationId,
		accountId,
		time.Now().UTC(),
	)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return n == 1, nil
}

func (db *PgGoChatRepository) MarkAllNotificationsRead(ctx context.Context, accountId int) (int, error) {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE notifications SET is_read = TRUE, read_at = $2 WHERE account_id = $1 AND NOT is_read",
		accountId,
		time.Now().UTC(),
	)
	if err != nil {
		return 0, err
	}

	n, err := res.RowsAffected()
	return int(n), err
}
