package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// User represents a Jellyfin user account on a specific server
type User struct {
	ID              string
	ServerID        string
	Name            string
	PrimaryImageTag string
	LastLoginAt     *time.Time
}

// UpsertUser creates or updates a user row
func (db *DB) UpsertUser(user *User) error {
	_, err := db.Exec(`
		INSERT INTO users (id, server_id, name, primary_image_tag, last_login_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id, server_id) DO UPDATE SET
			name = excluded.name,
			primary_image_tag = excluded.primary_image_tag,
			last_login_at = excluded.last_login_at
	`, user.ID, user.ServerID, user.Name, user.PrimaryImageTag, user.LastLoginAt)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by ID and server, returning nil if absent
func (db *DB) GetUser(id, serverID string) (*User, error) {
	user := &User{}
	var lastLogin sql.NullTime
	err := db.QueryRow(`
		SELECT id, server_id, name, primary_image_tag, last_login_at
		FROM users WHERE id = ? AND server_id = ?
	`, id, serverID).Scan(&user.ID, &user.ServerID, &user.Name, &user.PrimaryImageTag, &lastLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	user.LastLoginAt = nullTimeToPtr(lastLogin)
	return user, nil
}

// ListUsersByServer returns all users known for a server, most recent login first
func (db *DB) ListUsersByServer(serverID string) ([]*User, error) {
	rows, err := db.Query(`
		SELECT id, server_id, name, primary_image_tag, last_login_at
		FROM users WHERE server_id = ?
		ORDER BY last_login_at DESC
	`, serverID)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u := &User{}
		var lastLogin sql.NullTime
		if err := rows.Scan(&u.ID, &u.ServerID, &u.Name, &u.PrimaryImageTag, &lastLogin); err != nil {
			return nil, err
		}
		u.LastLoginAt = nullTimeToPtr(lastLogin)
		users = append(users, u)
	}
	return users, rows.Err()
}

// TouchUserLogin records a successful login time for a user
func (db *DB) TouchUserLogin(id, serverID string) error {
	_, err := db.Exec(`
		UPDATE users SET last_login_at = ? WHERE id = ? AND server_id = ?
	`, time.Now(), id, serverID)
	return err
}

// DeleteUser removes a user row
func (db *DB) DeleteUser(id, serverID string) error {
	_, err := db.Exec("DELETE FROM users WHERE id = ? AND server_id = ?", id, serverID)
	return err
}
