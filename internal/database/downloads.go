package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// DownloadStatus represents the status of a download
type DownloadStatus string

const (
	DownloadStatusQueued      DownloadStatus = "queued"
	DownloadStatusDownloading DownloadStatus = "downloading"
	DownloadStatusCompleted   DownloadStatus = "completed"
	DownloadStatusFailed      DownloadStatus = "failed"
	DownloadStatusPaused      DownloadStatus = "paused"
	DownloadStatusCancelled   DownloadStatus = "cancelled"
)

// IsTerminal reports whether the status is a resting state that holds no
// in-flight work. Failed and paused downloads can still be resumed.
func (s DownloadStatus) IsTerminal() bool {
	switch s {
	case DownloadStatusCompleted, DownloadStatusFailed, DownloadStatusPaused, DownloadStatusCancelled:
		return true
	}
	return false
}

// Download represents a download row scoped to a server and user
type Download struct {
	ID              string
	ServerID        string
	UserID          string
	ItemID          string
	ItemName        string
	ItemType        string
	SourceID        string
	SourceName      string
	Status          DownloadStatus
	Progress        float64
	BytesDownloaded int64
	TotalBytes      int64
	FilePath        string
	Error           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

const downloadColumns = `id, server_id, user_id, item_id, item_name, item_type,
	source_id, source_name, status, progress, bytes_downloaded, total_bytes,
	file_path, error, created_at, updated_at`

func scanDownload(row interface{ Scan(...any) error }) (*Download, error) {
	d := &Download{}
	var filePath, errMsg sql.NullString
	err := row.Scan(&d.ID, &d.ServerID, &d.UserID, &d.ItemID, &d.ItemName, &d.ItemType,
		&d.SourceID, &d.SourceName, &d.Status, &d.Progress, &d.BytesDownloaded, &d.TotalBytes,
		&filePath, &errMsg, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	d.FilePath = nullStringValue(filePath)
	d.Error = nullStringValue(errMsg)
	return d, nil
}

// CreateDownload inserts a new download row
func (db *DB) CreateDownload(d *Download) error {
	now := time.Now()
	d.CreatedAt = now
	d.UpdatedAt = now
	_, err := db.Exec(`
		INSERT INTO downloads (id, server_id, user_id, item_id, item_name, item_type,
			source_id, source_name, status, progress, bytes_downloaded, total_bytes,
			file_path, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, d.ID, d.ServerID, d.UserID, d.ItemID, d.ItemName, d.ItemType,
		d.SourceID, d.SourceName, d.Status, d.Progress, d.BytesDownloaded, d.TotalBytes,
		strToNull(d.FilePath), strToNull(d.Error), now, now)
	if err != nil {
		return fmt.Errorf("failed to create download: %w", err)
	}
	return nil
}

// GetDownload retrieves a download by ID, returning nil if absent
func (db *DB) GetDownload(id string) (*Download, error) {
	d, err := scanDownload(db.QueryRow(
		"SELECT "+downloadColumns+" FROM downloads WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get download: %w", err)
	}
	return d, nil
}

// FindDownloadBySource finds any download for the given item and source in scope
func (db *DB) FindDownloadBySource(serverID, userID, itemID, sourceID string) (*Download, error) {
	d, err := scanDownload(db.QueryRow(
		"SELECT "+downloadColumns+` FROM downloads
		WHERE server_id = ? AND user_id = ? AND item_id = ? AND source_id = ?
		ORDER BY created_at DESC LIMIT 1`,
		serverID, userID, itemID, sourceID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find download: %w", err)
	}
	return d, nil
}

// ListDownloads returns all downloads scoped to a server and user
func (db *DB) ListDownloads(serverID, userID string) ([]*Download, error) {
	return db.listDownloads(
		"SELECT "+downloadColumns+` FROM downloads
		WHERE server_id = ? AND user_id = ?
		ORDER BY created_at DESC`, serverID, userID)
}

// ListDownloadsByStatus returns downloads in the given statuses across all scopes
func (db *DB) ListDownloadsByStatus(statuses ...DownloadStatus) ([]*Download, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := ""
	args := make([]any, 0, len(statuses))
	for i, s := range statuses {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args = append(args, s)
	}
	return db.listDownloads(
		"SELECT "+downloadColumns+" FROM downloads WHERE status IN ("+placeholders+") ORDER BY created_at", args...)
}

func (db *DB) listDownloads(query string, args ...any) ([]*Download, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list downloads: %w", err)
	}
	defer rows.Close()

	var downloads []*Download
	for rows.Next() {
		d, err := scanDownload(rows)
		if err != nil {
			return nil, err
		}
		downloads = append(downloads, d)
	}
	return downloads, rows.Err()
}

// HasDownloadWithStatus reports whether any download for the item in scope has one of the statuses
func (db *DB) HasDownloadWithStatus(serverID, userID, itemID string, statuses ...DownloadStatus) (bool, error) {
	downloads, err := db.ListDownloadsByItem(serverID, userID, itemID)
	if err != nil {
		return false, err
	}
	for _, d := range downloads {
		for _, s := range statuses {
			if d.Status == s {
				return true, nil
			}
		}
	}
	return false, nil
}

// ListDownloadsByItem returns downloads for a single item in scope
func (db *DB) ListDownloadsByItem(serverID, userID, itemID string) ([]*Download, error) {
	return db.listDownloads(
		"SELECT "+downloadColumns+` FROM downloads
		WHERE server_id = ? AND user_id = ? AND item_id = ?`, serverID, userID, itemID)
}

// TransitionDownload moves a download to a new status only if its current
// status is one of from, and reports whether the row changed. Callers use the
// result to detect a pause or cancel that won the race.
func (db *DB) TransitionDownload(id string, to DownloadStatus, from ...DownloadStatus) (bool, error) {
	if len(from) == 0 {
		return false, fmt.Errorf("transition to %s requires at least one from status", to)
	}
	placeholders := ""
	args := []any{to, time.Now(), id}
	for i, s := range from {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args = append(args, s)
	}
	res, err := db.Exec(
		"UPDATE downloads SET status = ?, updated_at = ? WHERE id = ? AND status IN ("+placeholders+")", args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// UpdateDownloadProgress updates transfer progress for a download
func (db *DB) UpdateDownloadProgress(id string, progress float64, bytesDownloaded, totalBytes int64) error {
	_, err := db.Exec(`
		UPDATE downloads SET progress = ?, bytes_downloaded = ?, total_bytes = ?, updated_at = ?
		WHERE id = ?
	`, progress, bytesDownloaded, totalBytes, time.Now(), id)
	return err
}

// SetDownloadError marks an in-flight download failed with a human-readable
// error. A download that was paused or cancelled in the meantime keeps that
// status, and the returned bool is false.
func (db *DB) SetDownloadError(id, message string) (bool, error) {
	res, err := db.Exec(`
		UPDATE downloads SET status = ?, error = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)
	`, DownloadStatusFailed, message, time.Now(), id,
		DownloadStatusQueued, DownloadStatusDownloading)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ClearDownloadError clears a stored error, used on resume
func (db *DB) ClearDownloadError(id string) error {
	_, err := db.Exec(`
		UPDATE downloads SET error = NULL, updated_at = ? WHERE id = ?
	`, time.Now(), id)
	return err
}

// CompleteDownload marks a download completed and records its file path.
// Only a downloading row can complete; the returned bool is false when a
// pause or cancel landed first.
func (db *DB) CompleteDownload(id, filePath string, totalBytes int64) (bool, error) {
	res, err := db.Exec(`
		UPDATE downloads SET status = ?, progress = 1.0, bytes_downloaded = ?, total_bytes = ?,
			file_path = ?, error = NULL, updated_at = ?
		WHERE id = ? AND status = ?
	`, DownloadStatusCompleted, totalBytes, totalBytes, filePath, time.Now(), id,
		DownloadStatusDownloading)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteDownload removes a download row
func (db *DB) DeleteDownload(id string) error {
	_, err := db.Exec("DELETE FROM downloads WHERE id = ?", id)
	return err
}

// SumDownloadedBytes sums completed download sizes, optionally scoped to one server.
// An empty serverID sums across all servers.
func (db *DB) SumDownloadedBytes(serverID string) (int64, error) {
	var total sql.NullInt64
	var err error
	if serverID == "" {
		err = db.QueryRow(
			"SELECT SUM(bytes_downloaded) FROM downloads WHERE status = ?",
			DownloadStatusCompleted).Scan(&total)
	} else {
		err = db.QueryRow(
			"SELECT SUM(bytes_downloaded) FROM downloads WHERE status = ? AND server_id = ?",
			DownloadStatusCompleted, serverID).Scan(&total)
	}
	if err != nil {
		return 0, err
	}
	return total.Int64, nil
}
