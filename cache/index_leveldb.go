package cache

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/contentsquare/webfetch/selection"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var (
	levelDBEntryPrefix = []byte("e:")
	levelDBIDPrefix    = []byte("i:")
	levelDBSeqKey      = []byte("seq")
)

// levelDBIndex persists entries in a leveldb database:
//
//	e:<file_name> -> json(Entry)
//	i:<id>        -> file_name
//	seq           -> last assigned id
type levelDBIndex struct {
	// mu serializes id assignment
	mu sync.Mutex
	db *leveldb.DB
}

// OpenLevelDBIndex opens (or creates) the leveldb index at path.
func OpenLevelDBIndex(path string) (Index, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("cannot open leveldb index %q: %w", path, err)
	}
	return &levelDBIndex{db: db}, nil
}

// NewInMemoryLevelDBIndex returns a leveldb index backed by memory storage.
func NewInMemoryLevelDBIndex() (Index, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("cannot open in-memory leveldb index: %w", err)
	}
	return &levelDBIndex{db: db}, nil
}

func (l *levelDBIndex) Name() string { return "leveldb" }

func (l *levelDBIndex) Close() error {
	return l.db.Close()
}

func levelDBEntryKey(fileName string) []byte {
	return append(append([]byte{}, levelDBEntryPrefix...), fileName...)
}

func levelDBIDKey(id int64) []byte {
	return append(append([]byte{}, levelDBIDPrefix...), strconv.FormatInt(id, 10)...)
}

func (l *levelDBIndex) Replace(e Entry) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	batch := new(leveldb.Batch)

	prev, err := l.get(e.FileName)
	switch {
	case err == nil:
		e.ID = prev.ID
	case errors.Is(err, ErrMissing):
		id, err := l.nextID()
		if err != nil {
			return Entry{}, err
		}
		e.ID = id
		seq := make([]byte, 8)
		binary.BigEndian.PutUint64(seq, uint64(id))
		batch.Put(levelDBSeqKey, seq)
	default:
		return Entry{}, err
	}

	b, err := json.Marshal(e)
	if err != nil {
		return Entry{}, fmt.Errorf("cannot encode entry %q: %w", e.FileName, err)
	}
	batch.Put(levelDBEntryKey(e.FileName), b)
	batch.Put(levelDBIDKey(e.ID), []byte(e.FileName))

	if err := l.db.Write(batch, nil); err != nil {
		return Entry{}, fmt.Errorf("cannot write entry %q: %w", e.FileName, err)
	}
	return e, nil
}

func (l *levelDBIndex) nextID() (int64, error) {
	b, err := l.db.Get(levelDBSeqKey, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return 1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("cannot read id sequence: %w", err)
	}
	if len(b) != 8 {
		return 0, fmt.Errorf("corrupted id sequence of length %d", len(b))
	}
	return int64(binary.BigEndian.Uint64(b)) + 1, nil
}

func (l *levelDBIndex) get(fileName string) (Entry, error) {
	b, err := l.db.Get(levelDBEntryKey(fileName), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return Entry{}, ErrMissing
	}
	if err != nil {
		return Entry{}, fmt.Errorf("cannot read entry %q: %w", fileName, err)
	}
	var e Entry
	if err := json.Unmarshal(b, &e); err != nil {
		return Entry{}, fmt.Errorf("corrupted entry %q: %w", fileName, err)
	}
	return e, nil
}

func (l *levelDBIndex) Delete(id int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	idKey := levelDBIDKey(id)
	name, err := l.db.Get(idKey, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("cannot read entry %d: %w", id, err)
	}

	batch := new(leveldb.Batch)
	batch.Delete(idKey)
	batch.Delete(levelDBEntryKey(string(name)))
	if err := l.db.Write(batch, nil); err != nil {
		return fmt.Errorf("cannot delete entry %d: %w", id, err)
	}
	return nil
}

func (l *levelDBIndex) Query(expr *selection.Expression) ([]Entry, error) {
	iter := l.db.NewIterator(util.BytesPrefix(levelDBEntryPrefix), nil)
	defer iter.Release()

	var out []Entry
	for iter.Next() {
		var e Entry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			return nil, fmt.Errorf("corrupted entry %q: %w", iter.Key(), err)
		}
		if expr.Match(&e) {
			out = append(out, e)
		}
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("cannot iterate leveldb index: %w", err)
	}
	sortByID(out)
	return out, nil
}
