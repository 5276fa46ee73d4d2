package cache

import (
	"bufio"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/contentsquare/webfetch/log"
)

const (
	fileLockStripes = 64
	tmpFileSuffix   = ".tmp"
)

// fileStore keeps artifact files in a single flat directory.
//
// Files are published atomically: the content goes to a temp file in the
// same directory which is then renamed over the final name. Readers never
// observe a partial file, and a failed write leaves nothing behind.
type fileStore struct {
	dir   string
	codec codec

	// writers and removers of the same name are serialized
	locks [fileLockStripes]sync.Mutex
}

func newFileStore(dir, compression string) (*fileStore, error) {
	if len(dir) == 0 {
		return nil, fmt.Errorf("`dir` cannot be empty")
	}
	c, err := newCodec(compression)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("cannot create %q: %w", dir, err)
	}
	return &fileStore{
		dir:   dir,
		codec: c,
	}, nil
}

func (fs *fileStore) lock(name string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = io.WriteString(h, name)
	return &fs.locks[h.Sum32()%fileLockStripes]
}

func (fs *fileStore) path(name string) string {
	return filePath(fs.dir, name)
}

// write publishes the artifact and returns the resulting file size.
func (fs *fileStore) write(name, rawURL string, data []byte) (int64, error) {
	mu := fs.lock(name)
	mu.Lock()
	defer mu.Unlock()

	f, err := os.CreateTemp(fs.dir, "."+name+".*"+tmpFileSuffix)
	if err != nil {
		return 0, fmt.Errorf("cannot create temp file for %q: %w", name, err)
	}
	tmp := f.Name()
	published := false
	defer func() {
		if !published {
			f.Close()
			if err := os.Remove(tmp); err != nil && !errors.Is(err, os.ErrNotExist) {
				log.Errorf("cache: cannot remove temp file %q: %s", tmp, err)
			}
		}
	}()

	bw := bufio.NewWriter(f)
	if err := encodeArtifact(bw, fs.codec, rawURL, data); err != nil {
		return 0, fmt.Errorf("cannot write %q: %w", tmp, err)
	}
	if err := bw.Flush(); err != nil {
		return 0, fmt.Errorf("cannot flush %q: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		return 0, fmt.Errorf("cannot sync %q: %w", tmp, err)
	}
	fi, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("cannot stat %q: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("cannot close %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, fs.path(name)); err != nil {
		return 0, fmt.Errorf("cannot publish %q: %w", name, err)
	}
	published = true
	return fi.Size(), nil
}

// read returns the url and the decoded content of the artifact.
// A missing file is reported as ErrMissing.
func (fs *fileStore) read(dir, name string) (string, []byte, error) {
	f, err := os.Open(filePath(dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return "", nil, ErrMissing
	}
	if err != nil {
		return "", nil, fmt.Errorf("cannot open %q: %w", name, err)
	}
	defer f.Close()

	rawURL, data, err := decodeArtifact(bufio.NewReader(f))
	if err != nil {
		return "", nil, fmt.Errorf("cannot decode %q: %w", name, err)
	}
	return rawURL, data, nil
}

// remove deletes the artifact. A missing file is not an error.
func (fs *fileStore) remove(dir, name string) error {
	mu := fs.lock(name)
	mu.Lock()
	defer mu.Unlock()

	err := os.Remove(filePath(dir, name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("cannot remove %q: %w", name, err)
	}
	return nil
}

// removeStaleTemps deletes temp files left by a crash during write.
func (fs *fileStore) removeStaleTemps(now time.Time, grace time.Duration) int {
	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		log.Errorf("cache: cannot read %q: %s", fs.dir, err)
		return 0
	}
	n := 0
	for _, de := range entries {
		name := de.Name()
		if de.IsDir() || !strings.HasPrefix(name, ".") || !strings.HasSuffix(name, tmpFileSuffix) {
			continue
		}
		fi, err := de.Info()
		if err != nil || now.Sub(fi.ModTime()) < grace {
			continue
		}
		fn := filepath.Join(fs.dir, name)
		if err := os.Remove(fn); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Errorf("cache: cannot remove stale temp file %q: %s", fn, err)
			continue
		}
		n++
	}
	return n
}

// walkDir calls f on all the cache files in the given dir.
func walkDir(dir string, f func(fi os.FileInfo)) error {
	// Do not use filepath.Walk, since it is inefficient
	// for large number of files.
	// See https://golang.org/pkg/path/filepath/#Walk .
	fd, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("cannot open %q: %w", dir, err)
	}
	defer fd.Close()

	for {
		fis, err := fd.Readdir(1024)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("cannot read files in %q: %w", dir, err)
		}
		for _, fi := range fis {
			if fi.IsDir() {
				// Skip subdirectories
				continue
			}
			fn := fi.Name()
			if !cachefileRegexp.MatchString(fn) {
				// Skip temp files and foreign names
				continue
			}
			f(fi)
		}
	}
}
