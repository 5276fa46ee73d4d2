package cache

import "fmt"

// Stats describes the artifact files in the cache directory.
type Stats struct {
	// Size is the total size of artifact files in bytes.
	Size uint64

	// Items is the number of artifact files.
	Items uint64
}

func (s Stats) String() string {
	return fmt.Sprintf("%d items, %d bytes", s.Items, s.Size)
}
