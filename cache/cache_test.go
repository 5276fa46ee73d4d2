package cache

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/contentsquare/webfetch/config"
	"github.com/contentsquare/webfetch/log"
	"github.com/contentsquare/webfetch/web"
)

const testDir = "./test-data"

func TestMain(m *testing.M) {
	if _, err := os.Stat(testDir); os.IsNotExist(err) {
		os.Mkdir(testDir, os.ModePerm)
	}

	log.SuppressOutput(true)
	retCode := m.Run()
	log.SuppressOutput(false)

	if err := os.RemoveAll(testDir); err != nil {
		log.Fatalf("cannot remove %q: %s", testDir, err)
	}
	os.Exit(retCode)
}

// fakeClock is a settable time source.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func testCacheConfig(t *testing.T) config.Cache {
	dir := filepath.Join(testDir, strings.ReplaceAll(t.Name(), "/", "_"))
	if err := os.RemoveAll(dir); err != nil {
		t.Fatalf("cannot clean %q: %s", dir, err)
	}
	cfg := config.Default().Cache
	cfg.Dir = dir
	return cfg
}

func newTestManager(t *testing.T, cfg config.Cache, opts ...Option) *Manager {
	opts = append([]Option{WithoutCleaner()}, opts...)
	m, err := NewManager(cfg, NewMemoryIndex(), opts...)
	if err != nil {
		t.Fatalf("cannot create manager: %s", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func newTestRequest(t *testing.T, rawURL string, ttl web.TTL) *web.Request {
	req, err := web.NewRequest(rawURL, 1)
	if err != nil {
		t.Fatalf("cannot create request: %s", err)
	}
	req.CacheTTL = ttl
	return req
}
