package database

import (
	"database/sql"
	"time"
)

func (db *PgChatRepository) CreateAccount(params CreateAccountParams) (User, error) {
	res := db.conn.QueryRow(
		"INSERT INTO accounts (username, email, password_hash, created_at, last_login) "+
			"VALUES ($1, $2, $3, $4, $4) RETURNING id, username, email, created_at",
		params.Username,
		params.EmailAddress,
		params.PasswordHash,
		time.Now().UTC(),
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
		&u.CreatedAt,
	)

	return u, err
}

func (db *PgChatRepository) GetAccountById(userId int) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, is_online, created_at, last_login FROM accounts "+
			"WHERE id = $1 LIMIT 1",
		userId,
	)

	var u User
	err := row.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
		&u.IsOnline,
		&u.CreatedAt,
		&u.LastLogin,
	)

	return u, err
}

func (db *PgChatRepository) GetAccountByLogin(login string) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, password_hash, is_online, created_at, last_login "+
			"FROM accounts WHERE username = $1 OR email = $1 LIMIT 1",
		login,
	)

	var u User
	err := row.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
		&u.PasswordHash,
		&u.IsOnline,
		&u.CreatedAt,
		&u.LastLogin,
	)

	return u, err
}

func (db *PgChatRepository) SetUserOnline(userId int, online bool) error {
	_, err := db.conn.Exec(
		"UPDATE accounts SET is_online = $2, last_login = $3 WHERE id = $1",
		userId,
		online,
		time.Now().UTC(),
	)

	return err
}

func (db *PgChatRepository) AppendRoomMessage(msg RoomMessage) (RoomMessage, error) {
	res := db.conn.QueryRow(
		"INSERT INTO messages (user_id, username, room, body, kind, attachment_ref, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7) RETURNING id",
		msg.UserId,
		msg.Username,
		msg.Room,
		msg.Body,
		msg.Kind,
		msg.AttachmentRef,
		msg.CreatedAt,
	)

	err := res.Scan(&msg.Id)

	return msg, err
}

func (db *PgChatRepository) RecentRoomMessages(room string, limit int) ([]RoomMessage, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	// fetch the newest messages, then return them oldest first
	rows, err := db.conn.Query(
		"SELECT id, user_id, username, room, body, kind, COALESCE(attachment_ref, ''), created_at "+
			"FROM messages WHERE room = $1 ORDER BY created_at DESC, id DESC LIMIT $2",
		room,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages = make([]RoomMessage, 0, limit)
	for rows.Next() {
		var msg RoomMessage
		if err = rows.Scan(&msg.Id, &msg.UserId, &msg.Username, &msg.Room, &msg.Body,
			&msg.Kind, &msg.AttachmentRef, &msg.CreatedAt); err != nil {
			return nil, err
		}

		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	reverse(messages)

	return messages, nil
}

func (db *PgChatRepository) AppendDirectMessage(msg DirectMessage) (DirectMessage, error) {
	var extra sql.NullString
	if len(msg.Extra) > 0 {
		extra = sql.NullString{String: string(msg.Extra), Valid: true}
	}

	res := db.conn.QueryRow(
		"INSERT INTO direct_messages (sender, recipient, body, kind, extra, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6) RETURNING id",
		msg.Sender,
		msg.Recipient,
		msg.Body,
		msg.Kind,
		extra,
		msg.CreatedAt,
	)

	err := res.Scan(&msg.Id)

	return msg, err
}

func (db *PgChatRepository) ConversationHistory(userA, userB string, limit int) ([]DirectMessage, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	rows, err := db.conn.Query(
		"SELECT id, sender, recipient, body, kind, extra, created_at FROM direct_messages "+
			"WHERE (sender = $1 AND recipient = $2) OR (sender = $2 AND recipient = $1) "+
			"ORDER BY created_at ASC, id ASC LIMIT $3",
		userA,
		userB,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages = make([]DirectMessage, 0, limit)
	for rows.Next() {
		var (
			msg   DirectMessage
			extra sql.NullString
		)
		if err = rows.Scan(&msg.Id, &msg.Sender, &msg.Recipient, &msg.Body,
			&msg.Kind, &extra, &msg.CreatedAt); err != nil {
			return nil, err
		}

		if extra.Valid {
			msg.Extra = []byte(extra.String)
		}

		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

func reverse(msgs []RoomMessage) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
