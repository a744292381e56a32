package database

import (
	"database/sql"
	"errors"
	"fmt"
)

// SourceType distinguishes server streams from downloaded files
type SourceType string

const (
	SourceTypeRemote SourceType = "remote"
	SourceTypeLocal  SourceType = "local"
)

// Source represents a playable media source belonging to an item.
// Local sources point at on-disk files produced by the downloader.
type Source struct {
	ID       string
	ItemID   string
	ServerID string
	UserID   string
	Type     SourceType
	Name     string
	Path     string
	Size     int64
}

// UpsertSource creates or updates a source row
func (db *DB) UpsertSource(source *Source) error {
	_, err := db.Exec(`
		INSERT INTO sources (id, item_id, server_id, user_id, type, name, path, size)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			name = excluded.name,
			path = excluded.path,
			size = excluded.size
	`, source.ID, source.ItemID, source.ServerID, source.UserID, source.Type, source.Name, source.Path, source.Size)
	if err != nil {
		return fmt.Errorf("failed to upsert source: %w", err)
	}
	return nil
}

// GetSource retrieves a source by ID, returning nil if absent
func (db *DB) GetSource(id string) (*Source, error) {
	s := &Source{}
	err := db.QueryRow(`
		SELECT id, item_id, server_id, user_id, type, name, path, size
		FROM sources WHERE id = ?
	`, id).Scan(&s.ID, &s.ItemID, &s.ServerID, &s.UserID, &s.Type, &s.Name, &s.Path, &s.Size)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get source: %w", err)
	}
	return s, nil
}

// ListSourcesByItem returns all sources for an item
func (db *DB) ListSourcesByItem(itemID string) ([]*Source, error) {
	return db.listSources("SELECT id, item_id, server_id, user_id, type, name, path, size FROM sources WHERE item_id = ?", itemID)
}

// ListLocalSources returns all local sources scoped to a server and user
func (db *DB) ListLocalSources(serverID, userID string) ([]*Source, error) {
	return db.listSources(`
		SELECT id, item_id, server_id, user_id, type, name, path, size
		FROM sources WHERE type = ? AND server_id = ? AND user_id = ?
	`, SourceTypeLocal, serverID, userID)
}

// ListAllLocalSources returns every local source regardless of scope,
// used by the startup reconciliation sweep
func (db *DB) ListAllLocalSources() ([]*Source, error) {
	return db.listSources(`
		SELECT id, item_id, server_id, user_id, type, name, path, size
		FROM sources WHERE type = ?
	`, SourceTypeLocal)
}

func (db *DB) listSources(query string, args ...any) ([]*Source, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer rows.Close()

	var sources []*Source
	for rows.Next() {
		s := &Source{}
		if err := rows.Scan(&s.ID, &s.ItemID, &s.ServerID, &s.UserID, &s.Type, &s.Name, &s.Path, &s.Size); err != nil {
			return nil, err
		}
		sources = append(sources, s)
	}
	return sources, rows.Err()
}

// DeleteSource removes a source row
func (db *DB) DeleteSource(id string) error {
	_, err := db.Exec("DELETE FROM sources WHERE id = ?", id)
	return err
}

// DeleteLocalSourcesByItem removes all local source rows for an item
func (db *DB) DeleteLocalSourcesByItem(itemID string) error {
	_, err := db.Exec("DELETE FROM sources WHERE item_id = ? AND type = ?", itemID, SourceTypeLocal)
	return err
}
