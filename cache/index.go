package cache

import (
	"fmt"
	"io"

	"github.com/contentsquare/webfetch/clients"
	"github.com/contentsquare/webfetch/config"
	"github.com/contentsquare/webfetch/selection"
)

// Index is the structured-record store holding cache entries metadata.
//
// Implementations must be safe for concurrent use; the Manager additionally
// serializes every mutation.
type Index interface {
	io.Closer

	Name() string

	// Replace inserts e, or replaces the entry sharing its file name.
	// A new entry gets a fresh id, a replaced one keeps the id it had.
	Replace(e Entry) (Entry, error)

	// Delete removes the entry with the given id. Missing ids are ignored.
	Delete(id int64) error

	// Query returns the entries matching expr ordered by id.
	// A nil or empty expression matches every entry.
	Query(expr *selection.Expression) ([]Entry, error)
}

// NewIndex returns the index described by cfg.
func NewIndex(cfg config.Index) (Index, error) {
	switch cfg.Mode {
	case config.IndexMemory, "":
		return NewMemoryIndex(), nil
	case config.IndexLevelDB:
		return OpenLevelDBIndex(cfg.LevelDB.Path)
	case config.IndexRedis:
		redisClient, err := clients.NewRedisClient(cfg.Redis)
		if err != nil {
			return nil, err
		}
		return NewRedisIndex(redisClient, cfg.Redis.KeyPrefix), nil
	}
	return nil, fmt.Errorf("unknown index mode %q", cfg.Mode)
}
