package downloader

import (
	"fmt"
	"os"
	"path/filepath"
)

// layout resolves on-disk paths under the download root. Files are
// partitioned by item id so concurrent downloads of different sources of
// the same item never collide with other items.
type layout struct {
	root string
}

func (l layout) itemDir(itemID string) string {
	return filepath.Join(l.root, itemID)
}

func (l layout) mediaPath(itemID, sourceID, container string) string {
	if container == "" {
		container = "bin"
	}
	return filepath.Join(l.itemDir(itemID), fmt.Sprintf("%s.%s", sourceID, container))
}

func (l layout) partPath(itemID, sourceID, container string) string {
	return l.mediaPath(itemID, sourceID, container) + ".part"
}

func (l layout) trickplayDir(itemID string) string {
	return filepath.Join(l.itemDir(itemID), "trickplay")
}

func (l layout) imagesDir(itemID string) string {
	return filepath.Join(l.itemDir(itemID), "images")
}

func (l layout) subtitlesDir(itemID string) string {
	return filepath.Join(l.itemDir(itemID), "subtitles")
}

// removeIfEmpty deletes the item directory when nothing remains in it
func (l layout) removeIfEmpty(itemID string) {
	dir := l.itemDir(itemID)
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) > 0 {
		return
	}
	os.Remove(dir)
}
