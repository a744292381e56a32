package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Server represents a known Jellyfin server
type Server struct {
	ID        string
	Name      string
	Address   string
	Version   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UpsertServer creates or updates a server row
func (db *DB) UpsertServer(server *Server) error {
	now := time.Now()
	_, err := db.Exec(`
		INSERT INTO servers (id, name, address, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			address = excluded.address,
			version = excluded.version,
			updated_at = excluded.updated_at
	`, server.ID, server.Name, server.Address, server.Version, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert server: %w", err)
	}
	return nil
}

// GetServer retrieves a server by ID, returning nil if it does not exist
func (db *DB) GetServer(id string) (*Server, error) {
	server := &Server{}
	err := db.QueryRow(`
		SELECT id, name, address, version, created_at, updated_at
		FROM servers WHERE id = ?
	`, id).Scan(&server.ID, &server.Name, &server.Address, &server.Version, &server.CreatedAt, &server.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get server: %w", err)
	}
	return server, nil
}

// ListServers returns all known servers ordered by most recently updated
func (db *DB) ListServers() ([]*Server, error) {
	rows, err := db.Query(`
		SELECT id, name, address, version, created_at, updated_at
		FROM servers ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}
	defer rows.Close()

	var servers []*Server
	for rows.Next() {
		s := &Server{}
		if err := rows.Scan(&s.ID, &s.Name, &s.Address, &s.Version, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		servers = append(servers, s)
	}
	return servers, rows.Err()
}

// UpdateServerAddress updates a server's address after a successful resolve
func (db *DB) UpdateServerAddress(id, address string) error {
	_, err := db.Exec(`
		UPDATE servers SET address = ?, updated_at = ? WHERE id = ?
	`, address, time.Now(), id)
	return err
}

// DeleteServer removes a server and, via cascade, its users
func (db *DB) DeleteServer(id string) error {
	_, err := db.Exec("DELETE FROM servers WHERE id = ?", id)
	return err
}
