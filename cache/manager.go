package cache

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/contentsquare/webfetch/config"
	"github.com/contentsquare/webfetch/log"
	"github.com/contentsquare/webfetch/selection"
	"github.com/contentsquare/webfetch/web"
)

// DefaultOrphanGrace is the minimum age of a cache file without an index row
// before the sweeper removes it. Younger files may belong to a Store call
// that has published the file but not yet written the row.
const DefaultOrphanGrace = time.Minute

type managerOpts struct {
	now         func() time.Time
	cleaner     bool
	orphanGrace time.Duration
}

func defaultManagerOpts() managerOpts {
	return managerOpts{
		now:         time.Now,
		cleaner:     true,
		orphanGrace: DefaultOrphanGrace,
	}
}

// Option configures a Manager.
type Option interface {
	apply(*managerOpts)
}

type withClock struct {
	now func() time.Time
}

func (o withClock) apply(opts *managerOpts) {
	opts.now = o.now
}

// WithClock replaces time.Now as the source of creation timestamps and
// validity checks.
func WithClock(now func() time.Time) Option {
	return withClock{now: now}
}

type withoutCleaner struct{}

func (withoutCleaner) apply(opts *managerOpts) {
	opts.cleaner = false
}

// WithoutCleaner disables the background sweeper.
func WithoutCleaner() Option {
	return withoutCleaner{}
}

type withOrphanGrace struct {
	grace time.Duration
}

func (o withOrphanGrace) apply(opts *managerOpts) {
	opts.orphanGrace = o.grace
}

// WithOrphanGrace overrides DefaultOrphanGrace.
func WithOrphanGrace(grace time.Duration) Option {
	return withOrphanGrace{grace: grace}
}

// Manager owns the cache directory and its index.
//
// Index mutations are exclusive, lookups are shared. Files of the same name
// are written and removed one at a time.
type Manager struct {
	mu sync.RWMutex

	index Index
	files *fileStore

	dir             string
	maxSize         uint64
	cleanupInterval time.Duration
	opts            managerOpts

	// stats, sizes and writing are guarded by mu.
	stats Stats
	sizes map[string]uint64
	// writing counts Store calls per file name that have not yet indexed
	// their file. Sweeps leave these names alone.
	writing map[string]int

	closeOnce sync.Once
	wg        sync.WaitGroup
	stopCh    chan struct{}
}

// NewManager returns a Manager storing files under cfg.Dir and their
// metadata in index. The Manager owns index and closes it on Close.
func NewManager(cfg config.Cache, index Index, opts ...Option) (*Manager, error) {
	if index == nil {
		return nil, fmt.Errorf("cache index cannot be nil")
	}
	files, err := newFileStore(cfg.Dir, cfg.Compression)
	if err != nil {
		return nil, err
	}

	mOpts := defaultManagerOpts()
	for _, opt := range opts {
		opt.apply(&mOpts)
	}

	m := &Manager{
		index:           index,
		files:           files,
		dir:             cfg.Dir,
		maxSize:         uint64(cfg.MaxSize),
		cleanupInterval: time.Duration(cfg.CleanupInterval),
		opts:            mOpts,
		sizes:           make(map[string]uint64),
		writing:         make(map[string]int),
		stopCh:          make(chan struct{}),
	}

	if err := m.refreshStats(); err != nil {
		return nil, err
	}

	if m.opts.cleaner && m.cleanupInterval > 0 {
		m.wg.Add(1)
		go func() {
			log.Debugf("cache %q: cleaner start", m.dir)
			m.cleaner()
			log.Debugf("cache %q: cleaner stop", m.dir)
			m.wg.Done()
		}()
	}

	log.Debugf("cache %q: using %s index", m.dir, index.Name())
	return m, nil
}

// Dir returns the cache directory.
func (m *Manager) Dir() string {
	return m.dir
}

// Now returns the current time of the Manager clock.
func (m *Manager) Now() time.Time {
	return m.opts.now()
}

// Close stops the cleaner and closes the index.
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		log.Debugf("cache %q: stopping", m.dir)
		close(m.stopCh)
		m.wg.Wait()
		err = m.index.Close()
		log.Debugf("cache %q: stopped", m.dir)
	})
	return err
}

// Stats returns the size and the number of artifact files.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

// FileNameFor returns the cache file name of the artifact req fetches.
// GET requests are keyed by URL only; other methods also by method and body.
func FileNameFor(req *web.Request) string {
	if req.EffectiveMethod() == "GET" {
		return FileName(req.URL.String())
	}
	return FileName(req.EffectiveMethod() + " " + req.URL.String() + "\n" + string(req.Body))
}

// Lookup returns the entry of the artifact req fetches, or ErrMissing.
func (m *Manager) Lookup(req *web.Request) (*Entry, error) {
	return m.lookupName(FileNameFor(req))
}

func (m *Manager) lookupName(name string) (*Entry, error) {
	entries, err := m.Find(fileNameExpr(name))
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrMissing
	}
	return &entries[0], nil
}

func fileNameExpr(name string) *selection.Expression {
	return selection.MustBuild([]string{ColumnFileName}, []string{name}, nil, nil)
}

// Find returns the entries matching expr ordered by id.
func (m *Manager) Find(expr *selection.Expression) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries, err := m.index.Query(expr)
	if err != nil {
		return nil, fmt.Errorf("cannot query %s index: %w", m.index.Name(), err)
	}
	return entries, nil
}

// IsValid reports whether e may be served at now.
func (m *Manager) IsValid(e *Entry, now time.Time) bool {
	return e != nil && e.IsValid(now)
}

// AddToCache inserts e into the index or replaces the entry with the same
// file name. The persisted entry carries its id.
func (m *Manager) AddToCache(e *Entry) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addToCache(e)
}

func (m *Manager) addToCache(e *Entry) (*Entry, error) {
	persisted, err := m.index.Replace(*e)
	if err != nil {
		return nil, &PersistError{FileName: e.FileName, Err: err}
	}
	return &persisted, nil
}

// Store publishes data as the artifact of req and indexes it.
//
// A file write failure leaves neither a file nor an index row. An index
// failure is reported as *PersistError; the file then stays on disk until
// the sweeper removes it as an orphan.
func (m *Manager) Store(req *web.Request, data []byte) (*Entry, error) {
	if !req.CacheTTL.Cacheable() {
		return nil, ErrNotCacheable
	}
	name := FileNameFor(req)
	m.beginWrite(name)
	size, err := m.files.write(name, req.URL.String(), data)
	if err != nil {
		m.mu.Lock()
		m.endWriteLocked(name)
		m.mu.Unlock()
		return nil, err
	}
	return m.commit(name, req.CacheTTL, size)
}

func (m *Manager) beginWrite(name string) {
	m.mu.Lock()
	m.writing[name]++
	m.mu.Unlock()
}

func (m *Manager) endWriteLocked(name string) {
	if m.writing[name] <= 1 {
		delete(m.writing, name)
		return
	}
	m.writing[name]--
}

func (m *Manager) isWritingLocked(name string) bool {
	return m.writing[name] > 0
}

// commit indexes the file published by write.
func (m *Manager) commit(name string, ttl web.TTL, size int64) (*Entry, error) {
	e := NewEntry(m.Now(), ttl, name, m.dir)

	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.endWriteLocked(name)

	m.setSizeLocked(name, uint64(size))

	persisted, err := m.addToCache(e)
	if err != nil {
		return nil, err
	}
	log.Debugf("cache %q: stored %s (%d bytes)", m.dir, persisted, size)
	return persisted, nil
}

// Load reads the artifact of e.
func (m *Manager) Load(e *Entry) (*Object, error) {
	dir := e.FilePath
	if len(dir) == 0 {
		dir = m.dir
	}
	_, data, err := m.files.read(dir, e.FileName)
	if err != nil {
		return nil, err
	}
	return &Object{
		Entry: *e,
		Data:  data,
	}, nil
}

// Evict removes the artifact of e and its index row. Evicting an entry
// twice is not an error. An entry that was re-stored after e was read is
// left alone.
func (m *Manager) Evict(e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := m.index.Query(fileNameExpr(e.FileName))
	if err != nil {
		return fmt.Errorf("cannot query %s index: %w", m.index.Name(), err)
	}
	if len(entries) > 0 && entries[0].CreationTimestamp > e.CreationTimestamp {
		return nil
	}
	if m.isWritingLocked(e.FileName) {
		// the artifact is being re-stored
		return nil
	}
	if len(entries) > 0 {
		return m.evict(&entries[0])
	}
	return m.removeFile(e)
}

func (m *Manager) evict(e *Entry) error {
	if err := m.removeFile(e); err != nil {
		return err
	}
	if err := m.index.Delete(e.ID); err != nil {
		return fmt.Errorf("cannot delete entry %d from %s index: %w", e.ID, m.index.Name(), err)
	}
	log.Debugf("cache %q: evicted %s", m.dir, e)
	return nil
}

func (m *Manager) removeFile(e *Entry) error {
	dir := e.FilePath
	if len(dir) == 0 {
		dir = m.dir
	}
	if err := m.files.remove(dir, e.FileName); err != nil {
		return err
	}
	if dir == m.dir {
		m.dropSizeLocked(e.FileName)
	}
	return nil
}

func (m *Manager) setSizeLocked(name string, size uint64) {
	if old, ok := m.sizes[name]; ok {
		m.stats.Size -= old
	} else {
		m.stats.Items++
	}
	m.sizes[name] = size
	m.stats.Size += size
}

func (m *Manager) dropSizeLocked(name string) {
	old, ok := m.sizes[name]
	if !ok {
		return
	}
	delete(m.sizes, name)
	m.stats.Size -= old
	m.stats.Items--
}

// SweepExpired evicts every entry that is not valid at now and returns their
// number. Valid entries are never touched. Cache files without an index row
// older than the orphan grace period are removed as well.
func (m *Manager) SweepExpired(now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := m.index.Query(nil)
	if err != nil {
		return 0, fmt.Errorf("cannot query %s index: %w", m.index.Name(), err)
	}

	var errs []error
	evicted := 0
	indexed := make(map[string]struct{}, len(entries))
	for i := range entries {
		e := &entries[i]
		if e.IsValid(now) || m.isWritingLocked(e.FileName) {
			indexed[e.FileName] = struct{}{}
			continue
		}
		if err := m.evict(e); err != nil {
			errs = append(errs, err)
			indexed[e.FileName] = struct{}{}
			continue
		}
		evicted++
	}

	orphans := m.removeOrphans(indexed, now)
	temps := m.files.removeStaleTemps(now, m.opts.orphanGrace)
	if err := m.refreshStatsLocked(); err != nil {
		errs = append(errs, err)
	}

	log.Debugf("cache %q: swept %d expired entries, %d orphans, %d temp files; final size %d; final items %d",
		m.dir, evicted, orphans, temps, m.stats.Size, m.stats.Items)

	return evicted, errors.Join(errs...)
}

func (m *Manager) removeOrphans(indexed map[string]struct{}, now time.Time) int {
	var orphans []string
	err := walkDir(m.dir, func(fi os.FileInfo) {
		if _, ok := indexed[fi.Name()]; ok {
			return
		}
		if m.isWritingLocked(fi.Name()) {
			return
		}
		if now.Sub(fi.ModTime()) < m.opts.orphanGrace {
			return
		}
		orphans = append(orphans, fi.Name())
	})
	if err != nil {
		log.Errorf("cache %q: %s", m.dir, err)
		return 0
	}

	removed := 0
	for _, name := range orphans {
		if err := m.files.remove(m.dir, name); err != nil {
			log.Errorf("cache %q: cannot remove orphan: %s", m.dir, err)
			continue
		}
		m.dropSizeLocked(name)
		removed++
	}
	return removed
}

// EnforceMaxSize evicts the oldest entries while the artifacts exceed
// max_size and returns the number of evicted entries. It is a no-op
// without a limit.
func (m *Manager) EnforceMaxSize() (int, error) {
	if m.maxSize == 0 {
		return 0, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stats.Size <= m.maxSize {
		return 0, nil
	}

	entries, err := m.index.Query(nil)
	if err != nil {
		return 0, fmt.Errorf("cannot query %s index: %w", m.index.Name(), err)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreationTimestamp < entries[j].CreationTimestamp
	})

	evicted := 0
	for i := range entries {
		if m.stats.Size <= m.maxSize {
			break
		}
		if m.isWritingLocked(entries[i].FileName) {
			continue
		}
		if err := m.evict(&entries[i]); err != nil {
			return evicted, err
		}
		evicted++
	}
	log.Debugf("cache %q: evicted %d entries over max_size %d; final size %d",
		m.dir, evicted, m.maxSize, m.stats.Size)
	return evicted, nil
}

func (m *Manager) refreshStats() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshStatsLocked()
}

func (m *Manager) refreshStatsLocked() error {
	var s Stats
	sizes := make(map[string]uint64, len(m.sizes))
	err := walkDir(m.dir, func(fi os.FileInfo) {
		sizes[fi.Name()] = uint64(fi.Size())
		s.Size += uint64(fi.Size())
		s.Items++
	})
	if err != nil {
		return err
	}
	m.stats = s
	m.sizes = sizes
	return nil
}

func (m *Manager) cleaner() {
	for {
		select {
		case <-time.After(m.cleanupInterval):
			m.clean()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Manager) clean() {
	log.Debugf("cache %q: start cleaning", m.dir)
	if _, err := m.SweepExpired(m.Now()); err != nil {
		log.Errorf("cache %q: %s", m.dir, err)
	}
	if _, err := m.EnforceMaxSize(); err != nil {
		log.Errorf("cache %q: %s", m.dir, err)
	}
	log.Debugf("cache %q: finish cleaning", m.dir)
}
