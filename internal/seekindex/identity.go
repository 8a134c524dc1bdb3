package seekindex

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"path/filepath"

	"github.com/spf13/afero"
)

// Identity derives the cache key for a source. Local files are identified
// by absolute path, size and modification time so an edited file misses the
// cache; other sources by their URI.
func Identity(fs afero.Fs, source string) (string, error) {
	if u, err := url.Parse(source); err == nil && u.Scheme != "" && u.Scheme != "file" && len(u.Scheme) > 1 {
		return hashKey("uri", source), nil
	}
	path := source
	if u, err := url.Parse(source); err == nil && u.Scheme == "file" {
		path = u.Path
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	fi, err := fs.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat source: %w", err)
	}
	return hashKey("file", path, fmt.Sprint(fi.Size()), fmt.Sprint(fi.ModTime().UnixNano())), nil
}

func hashKey(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}
