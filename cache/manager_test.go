package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/contentsquare/webfetch/config"
	"github.com/contentsquare/webfetch/selection"
	"github.com/contentsquare/webfetch/web"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerClose(t *testing.T) {
	cfg := testCacheConfig(t)
	cfg.CleanupInterval = config.Duration(10 * time.Millisecond)
	for i := 0; i < 10; i++ {
		m, err := NewManager(cfg, NewMemoryIndex())
		require.NoError(t, err)
		require.NoError(t, m.Close())
		// closing twice is fine
		require.NoError(t, m.Close())
	}
}

func TestNewManagerNilIndex(t *testing.T) {
	_, err := NewManager(testCacheConfig(t), nil)
	assert.Error(t, err)
}

func TestManagerStoreLookupLoad(t *testing.T) {
	m := newTestManager(t, testCacheConfig(t))

	req := newTestRequest(t, "http://example.com/weather?city=vienna", web.OneHour)
	if _, err := m.Lookup(req); !errors.Is(err, ErrMissing) {
		t.Fatalf("unexpected error %v; expecting %v", err, ErrMissing)
	}

	stored, err := m.Store(req, []byte("sunny"))
	require.NoError(t, err)
	if stored.ID < 0 {
		t.Fatalf("unexpected id %d; expecting a persisted entry", stored.ID)
	}

	e, err := m.Lookup(req)
	require.NoError(t, err)
	assert.Equal(t, stored, e)
	assert.Equal(t, FileName("http://example.com/weather?city=vienna"), e.FileName)
	assert.Equal(t, m.Dir(), e.FilePath)

	obj, err := m.Load(e)
	require.NoError(t, err)
	assert.Equal(t, []byte("sunny"), obj.Data)
	assert.Equal(t, *e, obj.Entry)

	s := m.Stats()
	assert.Equal(t, uint64(1), s.Items)
	assert.NotZero(t, s.Size)
}

func TestManagerStoreReplaces(t *testing.T) {
	clock := &fakeClock{t: time.UnixMilli(1_000_000)}
	m := newTestManager(t, testCacheConfig(t), WithClock(clock.Now))

	req := newTestRequest(t, "http://example.com/a", web.OneHour)
	first, err := m.Store(req, []byte("one"))
	require.NoError(t, err)

	clock.Advance(time.Minute)
	second, err := m.Store(req, []byte("two"))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, clock.Now().UnixMilli(), second.CreationTimestamp)

	obj, err := m.Load(second)
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), obj.Data)
	assert.Equal(t, uint64(1), m.Stats().Items)
}

func TestManagerStoreNotCacheable(t *testing.T) {
	m := newTestManager(t, testCacheConfig(t))

	req := newTestRequest(t, "http://example.com/a", web.NoCache)
	_, err := m.Store(req, []byte("x"))
	if !errors.Is(err, ErrNotCacheable) {
		t.Fatalf("unexpected error %v; expecting %v", err, ErrNotCacheable)
	}
	assert.Equal(t, Stats{}, m.Stats())
}

func TestManagerStoreWriteFailure(t *testing.T) {
	cfg := testCacheConfig(t)
	m := newTestManager(t, cfg)

	// replace the dir with a regular file so the temp file cannot be created
	require.NoError(t, os.RemoveAll(cfg.Dir))
	require.NoError(t, os.WriteFile(cfg.Dir, []byte("not a dir"), 0600))

	req := newTestRequest(t, "http://example.com/a", web.OneHour)
	_, err := m.Store(req, []byte("x"))
	assert.Error(t, err)

	_, err = m.Lookup(req)
	assert.ErrorIs(t, err, ErrMissing)
}

func TestManagerSweepDuringStore(t *testing.T) {
	clock := &fakeClock{t: time.UnixMilli(1_000_000)}
	m := newTestManager(t, testCacheConfig(t), WithClock(clock.Now))

	req := newTestRequest(t, "http://example.com/a", web.OneMinute)
	_, err := m.Store(req, []byte("old"))
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)

	// the new file is published but not yet indexed when the sweep runs
	name := FileNameFor(req)
	m.beginWrite(name)
	size, err := m.files.write(name, req.URL.String(), []byte("new"))
	require.NoError(t, err)

	n, err := m.SweepExpired(clock.Now())
	require.NoError(t, err)
	if n != 0 {
		t.Fatalf("unexpected evicted count %d; expecting 0", n)
	}

	e, err := m.commit(name, req.CacheTTL, size)
	require.NoError(t, err)

	obj, err := m.Load(e)
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), obj.Data)
	assert.Equal(t, Stats{Items: 1, Size: uint64(size)}, m.Stats())

	// once indexed, the next sweep sees a valid entry
	n, err = m.SweepExpired(clock.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestManagerConcurrentStoreSameName(t *testing.T) {
	m := newTestManager(t, testCacheConfig(t))

	req := newTestRequest(t, "http://example.com/a", web.OneHour)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Store(req, []byte("payload")); err != nil {
				t.Errorf("unexpected error: %s", err)
			}
		}()
	}
	wg.Wait()

	s := m.Stats()
	if s.Items != 1 {
		t.Fatalf("unexpected items %d; expecting 1", s.Items)
	}
	fi, err := os.Stat(filePath(m.Dir(), FileNameFor(req)))
	require.NoError(t, err)
	assert.Equal(t, uint64(fi.Size()), s.Size)
}

type failingIndex struct {
	Index
}

func (failingIndex) Replace(Entry) (Entry, error) {
	return Entry{}, fmt.Errorf("index is down")
}

func TestManagerPersistError(t *testing.T) {
	cfg := testCacheConfig(t)
	m, err := NewManager(cfg, failingIndex{Index: NewMemoryIndex()}, WithoutCleaner())
	require.NoError(t, err)
	defer m.Close()

	req := newTestRequest(t, "http://example.com/a", web.OneHour)
	_, err = m.Store(req, []byte("x"))

	var pErr *PersistError
	if !errors.As(err, &pErr) {
		t.Fatalf("unexpected error %v; expecting *PersistError", err)
	}
	assert.Equal(t, FileNameFor(req), pErr.FileName)
}

func TestManagerEvictIdempotent(t *testing.T) {
	m := newTestManager(t, testCacheConfig(t))

	req := newTestRequest(t, "http://example.com/a", web.OneHour)
	e, err := m.Store(req, []byte("x"))
	require.NoError(t, err)

	require.NoError(t, m.Evict(e))
	require.NoError(t, m.Evict(e))

	_, err = m.Lookup(req)
	assert.ErrorIs(t, err, ErrMissing)
	_, err = m.Load(e)
	assert.ErrorIs(t, err, ErrMissing)
	assert.Equal(t, Stats{}, m.Stats())
}

func TestManagerEvictKeepsNewerEntry(t *testing.T) {
	clock := &fakeClock{t: time.UnixMilli(1_000_000)}
	m := newTestManager(t, testCacheConfig(t), WithClock(clock.Now))

	req := newTestRequest(t, "http://example.com/a", web.OneMinute)
	stale, err := m.Store(req, []byte("old"))
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	_, err = m.Store(req, []byte("new"))
	require.NoError(t, err)

	require.NoError(t, m.Evict(stale))

	e, err := m.Lookup(req)
	require.NoError(t, err)
	obj, err := m.Load(e)
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), obj.Data)
}

func TestManagerSweepExpired(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	m := newTestManager(t, testCacheConfig(t), WithClock(clock.Now))

	ttls := []web.TTL{web.OneMinute, web.OneHour, web.Forever, web.OneMinute, web.OneDay}
	for i, ttl := range ttls {
		req := newTestRequest(t, fmt.Sprintf("http://example.com/%d", i), ttl)
		_, err := m.Store(req, []byte(fmt.Sprintf("data %d", i)))
		require.NoError(t, err)
	}

	now := clock.Now().Add(2 * time.Minute)
	before, err := m.Find(nil)
	require.NoError(t, err)

	var wantKept []Entry
	wantEvicted := 0
	for _, e := range before {
		e := e
		if m.IsValid(&e, now) {
			wantKept = append(wantKept, e)
		} else {
			wantEvicted++
		}
	}

	n, err := m.SweepExpired(now)
	require.NoError(t, err)
	assert.Equal(t, 2, wantEvicted)
	assert.Equal(t, wantEvicted, n)

	after, err := m.Find(nil)
	require.NoError(t, err)
	assert.Equal(t, wantKept, after)
	for _, e := range after {
		e := e
		_, err := m.Load(&e)
		assert.NoError(t, err)
	}
	assert.Equal(t, uint64(3), m.Stats().Items)
}

func TestManagerSweepRemovesOrphans(t *testing.T) {
	cfg := testCacheConfig(t)
	m := newTestManager(t, cfg, WithOrphanGrace(time.Second))

	req := newTestRequest(t, "http://example.com/kept", web.Forever)
	_, err := m.Store(req, []byte("x"))
	require.NoError(t, err)

	orphan := filepath.Join(cfg.Dir, FileName("http://example.com/orphan"))
	require.NoError(t, os.WriteFile(orphan, []byte("x"), 0600))
	staleTemp := filepath.Join(cfg.Dir, ".deadbeef.123"+tmpFileSuffix)
	require.NoError(t, os.WriteFile(staleTemp, []byte("x"), 0600))
	foreign := filepath.Join(cfg.Dir, "README")
	require.NoError(t, os.WriteFile(foreign, []byte("x"), 0600))

	// too young to be removed
	_, err = m.SweepExpired(time.Now())
	require.NoError(t, err)
	assert.FileExists(t, orphan)
	assert.FileExists(t, staleTemp)

	n, err := m.SweepExpired(time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.NoFileExists(t, orphan)
	assert.NoFileExists(t, staleTemp)
	assert.FileExists(t, foreign)

	_, err = m.Lookup(req)
	assert.NoError(t, err)
}

func TestManagerEnforceMaxSize(t *testing.T) {
	cfg := testCacheConfig(t)
	cfg.MaxSize = 3000
	clock := &fakeClock{t: time.UnixMilli(1_000_000)}
	m := newTestManager(t, cfg, WithClock(clock.Now))

	payload := []byte(strings.Repeat("x", 1000))
	for i := 0; i < 5; i++ {
		req := newTestRequest(t, fmt.Sprintf("http://example.com/%d", i), web.Forever)
		_, err := m.Store(req, payload)
		require.NoError(t, err)
		clock.Advance(time.Second)
	}

	n, err := m.EnforceMaxSize()
	require.NoError(t, err)
	if n < 3 {
		t.Fatalf("unexpected evicted count %d; expecting at least 3", n)
	}
	if s := m.Stats(); s.Size > uint64(cfg.MaxSize) {
		t.Fatalf("unexpected size %d; expecting at most %d", s.Size, uint64(cfg.MaxSize))
	}

	// the newest entry survives
	req := newTestRequest(t, "http://example.com/4", web.Forever)
	_, err = m.Lookup(req)
	assert.NoError(t, err)
	req = newTestRequest(t, "http://example.com/0", web.Forever)
	_, err = m.Lookup(req)
	assert.ErrorIs(t, err, ErrMissing)
}

func TestManagerCompression(t *testing.T) {
	for _, compression := range []string{config.CompressionLZ4, config.CompressionZSTD} {
		t.Run(compression, func(t *testing.T) {
			cfg := testCacheConfig(t)
			cfg.Compression = compression
			m := newTestManager(t, cfg)

			payload := []byte(strings.Repeat(`{"temp": 21.5, "city": "vienna"}`, 200))
			req := newTestRequest(t, "http://example.com/json", web.OneDay)
			e, err := m.Store(req, payload)
			require.NoError(t, err)

			if s := m.Stats(); s.Size >= uint64(len(payload)) {
				t.Fatalf("unexpected size on disk %d; expecting less than %d", s.Size, len(payload))
			}

			obj, err := m.Load(e)
			require.NoError(t, err)
			assert.Equal(t, payload, obj.Data)
		})
	}
}

func TestManagerConcurrentStoreNoPartialFiles(t *testing.T) {
	cfg := testCacheConfig(t)
	m := newTestManager(t, cfg)

	req := newTestRequest(t, "http://example.com/hot", web.OneHour)
	payloads := make([][]byte, 8)
	for i := range payloads {
		payloads[i] = []byte(strings.Repeat(fmt.Sprintf("%d", i), 4096))
	}

	var wg sync.WaitGroup
	for i := range payloads {
		wg.Add(1)
		go func(p []byte) {
			defer wg.Done()
			if _, err := m.Store(req, p); err != nil {
				t.Errorf("cannot store: %s", err)
			}
		}(payloads[i])
	}
	wg.Wait()

	e, err := m.Lookup(req)
	require.NoError(t, err)
	obj, err := m.Load(e)
	require.NoError(t, err)
	assert.Contains(t, payloads, obj.Data)

	entries, err := os.ReadDir(cfg.Dir)
	require.NoError(t, err)
	for _, de := range entries {
		if strings.HasSuffix(de.Name(), tmpFileSuffix) {
			t.Fatalf("unexpected temp file %q left in cache dir", de.Name())
		}
	}
}

func TestManagerFind(t *testing.T) {
	m := newTestManager(t, testCacheConfig(t))

	for i, ttl := range []web.TTL{web.OneHour, web.Forever, web.Forever} {
		req := newTestRequest(t, fmt.Sprintf("http://example.com/%d", i), ttl)
		_, err := m.Store(req, []byte("x"))
		require.NoError(t, err)
	}

	forever, err := selection.Equals(ColumnCacheTime, "-2")
	require.NoError(t, err)
	got, err := m.Find(forever)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestManagerStatsOnReopen(t *testing.T) {
	cfg := testCacheConfig(t)
	m := newTestManager(t, cfg)
	for i := 0; i < 3; i++ {
		req := newTestRequest(t, fmt.Sprintf("http://example.com/%d", i), web.OneHour)
		_, err := m.Store(req, []byte("x"))
		require.NoError(t, err)
	}
	want := m.Stats()
	require.NoError(t, m.Close())

	m = newTestManager(t, cfg)
	assert.Equal(t, want, m.Stats())
}
