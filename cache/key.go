package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"regexp"
)

// Version must be increased with each backward-incompatible change
// in the cache storage.
const Version = 1

var cachefileRegexp = regexp.MustCompile(`^[0-9a-f]{32}$`)

// FileName returns the content-addressable file name of the artifact
// fetched from rawURL. The same URL always maps to the same file.
func FileName(rawURL string) string {
	h := sha256.Sum256([]byte(rawURL))

	// The first 16 bytes of the hash should be enough
	// for collision prevention :)
	return hex.EncodeToString(h[:16])
}

func filePath(dir, name string) string {
	return filepath.Join(dir, name)
}
