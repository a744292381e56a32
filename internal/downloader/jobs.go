package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/offcast/offcast/internal/database"
	"github.com/offcast/offcast/internal/events"
	"github.com/offcast/offcast/internal/jellyfin"
)

const (
	copyChunkSize    = 256 * 1024
	progressInterval = time.Second
)

// runChain executes the job chain for one download: the media-bytes job
// first, then the trickplay, image, and subtitle follow-ups. The follow-ups
// only run after the media job succeeds, and their failures degrade the
// download (logged, artifacts skipped) instead of failing it.
func (m *Manager) runChain(ctx context.Context, d *database.Download) error {
	client, err := m.sessions.GetOrRestoreClient(d.ServerID)
	if err != nil {
		return err
	}

	if err := m.runMediaJob(ctx, client, d); err != nil {
		return err
	}

	// Follow-ups are independent of each other
	if err := m.runTrickplayJob(ctx, client, d); err != nil {
		log.Warn().Err(err).Str("download_id", d.ID).Msg("Trickplay job failed")
	}
	if err := m.runImagesJob(ctx, client, d); err != nil {
		log.Warn().Err(err).Str("download_id", d.ID).Msg("Image job failed")
	}
	if err := m.runSubtitlesJob(ctx, client, d); err != nil {
		log.Warn().Err(err).Str("download_id", d.ID).Msg("Subtitle job failed")
	}
	return nil
}

// runMediaJob streams the media file to disk, resuming an existing partial
// file with a ranged request. The partial file stays consistent across
// cancellation: bytes are appended in chunks and the file is only renamed
// into place once fully written.
func (m *Manager) runMediaJob(ctx context.Context, client *jellyfin.Client, d *database.Download) error {
	finalPath := d.FilePath
	partPath := finalPath + ".part"

	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return fmt.Errorf("failed to create item directory: %w", err)
	}

	var offset int64
	if info, err := os.Stat(partPath); err == nil {
		offset = info.Size()
	}

	// A crash between the last write and the rename leaves a fully written
	// partial file behind. Asking the server for bytes past the end would
	// only earn a 416, so finish the rename instead.
	if offset > 0 && d.TotalBytes > 0 && offset >= d.TotalBytes {
		if err := os.Rename(partPath, finalPath); err != nil {
			return err
		}
		return m.finishMediaJob(d, finalPath, offset)
	}

	need := d.TotalBytes - offset
	if need < 0 {
		need = 0
	}
	if err := checkStorage(m.layout.root, need); err != nil {
		return err
	}

	container := strings.TrimPrefix(filepath.Ext(finalPath), ".")
	streamURL := client.StreamURL(d.ItemID, d.SourceID, container)

	resp, err := client.Download(ctx, streamURL, offset)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
		// Appending to the existing partial file
	case http.StatusOK:
		// Server ignored the range request, start over
		if offset > 0 {
			log.Debug().Str("download_id", d.ID).Msg("Server does not support ranged resume, restarting file")
			offset = 0
		}
		if err := os.Remove(partPath); err != nil && !os.IsNotExist(err) {
			return err
		}
	case http.StatusRequestedRangeNotSatisfiable:
		// The partial file already holds the whole stream and the recorded
		// total was stale
		if offset > 0 {
			if err := os.Rename(partPath, finalPath); err != nil {
				return err
			}
			return m.finishMediaJob(d, finalPath, offset)
		}
		return fmt.Errorf("unexpected download status %d", resp.StatusCode)
	default:
		return fmt.Errorf("unexpected download status %d", resp.StatusCode)
	}

	total := offset
	if resp.ContentLength > 0 {
		total = offset + resp.ContentLength
	}
	if total != d.TotalBytes && total > 0 {
		d.TotalBytes = total
	}

	file, err := os.OpenFile(partPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}

	written := offset
	lastReport := time.Now()
	buf := make([]byte, copyChunkSize)
	for {
		if ctx.Err() != nil {
			file.Close()
			return ctx.Err()
		}

		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := file.Write(buf[:n]); err != nil {
				file.Close()
				return err
			}
			written += int64(n)

			if time.Since(lastReport) >= progressInterval {
				lastReport = time.Now()
				m.reportProgress(d, written)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			file.Close()
			return readErr
		}
	}

	if err := file.Close(); err != nil {
		return err
	}
	if err := os.Rename(partPath, finalPath); err != nil {
		return err
	}
	return m.finishMediaJob(d, finalPath, written)
}

// finishMediaJob records a finished media file: the download row flips to
// completed and a local source row points at the file. The status write is
// guarded, so a pause or cancel that landed during the final bytes wins and
// the chain reports errSuperseded instead of completing.
func (m *Manager) finishMediaJob(d *database.Download, finalPath string, written int64) error {
	completed, err := m.db.CompleteDownload(d.ID, finalPath, written)
	if err != nil {
		return err
	}
	if !completed {
		return errSuperseded
	}
	d.BytesDownloaded = written
	d.TotalBytes = written

	source := &database.Source{
		ID:       d.ID + "-local",
		ItemID:   d.ItemID,
		ServerID: d.ServerID,
		UserID:   d.UserID,
		Type:     database.SourceTypeLocal,
		Name:     d.SourceName,
		Path:     finalPath,
		Size:     written,
	}
	if err := m.db.UpsertSource(source); err != nil {
		return err
	}

	log.Info().
		Str("download_id", d.ID).
		Str("item_id", d.ItemID).
		Int64("bytes", written).
		Msg("Media download completed")
	return nil
}

func (m *Manager) reportProgress(d *database.Download, written int64) {
	var progress float64
	if d.TotalBytes > 0 {
		progress = float64(written) / float64(d.TotalBytes)
	}
	if err := m.db.UpdateDownloadProgress(d.ID, progress, written, d.TotalBytes); err != nil {
		log.Debug().Err(err).Str("download_id", d.ID).Msg("Failed to update download progress")
	}
	m.bus.Publish(events.Event{
		Kind:     events.KindDownloadProgress,
		Priority: events.PriorityLow,
		ServerID: d.ServerID,
		ItemID:   d.ItemID,
		Data: map[string]any{
			"download_id": d.ID,
			"bytes":       written,
			"total":       d.TotalBytes,
			"progress":    progress,
		},
	})
}

// runTrickplayJob saves every tile image of every trickplay resolution
func (m *Manager) runTrickplayJob(ctx context.Context, client *jellyfin.Client, d *database.Download) error {
	manifest, err := client.TrickplayManifest(ctx, d.ItemID)
	if err != nil {
		return err
	}
	tiles, ok := manifest[d.SourceID]
	if !ok || len(tiles) == 0 {
		// Not every item has trickplay data
		return nil
	}

	for widthKey, info := range tiles {
		width, err := strconv.Atoi(widthKey)
		if err != nil || info.TileWidth == 0 || info.TileHeight == 0 {
			continue
		}
		perTile := info.TileWidth * info.TileHeight
		tileCount := (info.ThumbnailCount + perTile - 1) / perTile

		dir := filepath.Join(m.layout.trickplayDir(d.ItemID), widthKey)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}

		for i := range tileCount {
			dest := filepath.Join(dir, fmt.Sprintf("%d.jpg", i))
			if err := m.fetchToFile(ctx, client, client.TrickplayURL(d.ItemID, width, i), dest); err != nil {
				return err
			}
		}
	}
	return nil
}

// runImagesJob saves the primary poster and backdrop images
func (m *Manager) runImagesJob(ctx context.Context, client *jellyfin.Client, d *database.Download) error {
	item, err := client.Item(ctx, d.ItemID)
	if err != nil {
		return err
	}

	dir := m.layout.imagesDir(d.ItemID)
	if item.ImageTags.Primary != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		dest := filepath.Join(dir, "primary.jpg")
		if err := m.fetchToFile(ctx, client, client.ImageURL(d.ItemID, item.ImageTags.Primary), dest); err != nil {
			return err
		}
	}
	if item.ImageTags.Backdrop != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		dest := filepath.Join(dir, "backdrop.jpg")
		if err := m.fetchToFile(ctx, client, client.BackdropURL(d.ItemID, item.ImageTags.Backdrop), dest); err != nil {
			return err
		}
	}
	return nil
}

// runSubtitlesJob saves the external text subtitle streams of the
// downloaded source
func (m *Manager) runSubtitlesJob(ctx context.Context, client *jellyfin.Client, d *database.Download) error {
	info, err := client.PlaybackInfoFor(ctx, d.ItemID)
	if err != nil {
		return err
	}

	var source *jellyfin.MediaSource
	for i := range info.MediaSources {
		if info.MediaSources[i].ID == d.SourceID {
			source = &info.MediaSources[i]
			break
		}
	}
	if source == nil {
		return nil
	}

	for _, stream := range source.MediaStreams {
		if stream.Type != "Subtitle" || !stream.IsExternal || !stream.IsTextSubtitle {
			continue
		}

		subURL := client.AbsoluteURL(stream.DeliveryURL)
		if stream.DeliveryURL == "" {
			subURL = client.SubtitleURL(d.ItemID, d.SourceID, stream.Index, "srt")
		}

		dir := m.layout.subtitlesDir(d.ItemID)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}

		lang := stream.Language
		if lang == "" {
			lang = "und"
		}
		dest := filepath.Join(dir, fmt.Sprintf("%d.%s.srt", stream.Index, lang))
		if err := m.fetchToFile(ctx, client, subURL, dest); err != nil {
			return err
		}
	}
	return nil
}

// fetchToFile downloads a URL into dest atomically via a temp file
func (m *Manager) fetchToFile(ctx context.Context, client *jellyfin.Client, url, dest string) error {
	resp, err := client.Download(ctx, url, 0)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, url)
	}

	tmp := dest + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(file, resp.Body); err != nil {
		file.Close()
		os.Remove(tmp)
		return err
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dest)
}
