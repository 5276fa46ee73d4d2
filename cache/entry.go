package cache

import (
	"fmt"
	"strconv"
	"time"

	"github.com/contentsquare/webfetch/web"
)

// Index columns, usable as selection fields.
const (
	ColumnID                = "_id"
	ColumnCreationTimestamp = "creation_timestamp"
	ColumnCacheTime         = "cache_time"
	ColumnFileName          = "file_name"
	ColumnFilePath          = "file_path"
)

// Entry is the metadata of one cached artifact.
type Entry struct {
	// ID is assigned by the index, -1 until persisted.
	ID int64 `json:"_id"`

	// CreationTimestamp is the creation time in milliseconds since epoch.
	CreationTimestamp int64 `json:"creation_timestamp"`

	TTL web.TTL `json:"cache_time"`

	// FileName is the hash of the source URL, see FileName.
	FileName string `json:"file_name"`

	// FilePath is the directory containing the file.
	FilePath string `json:"file_path"`
}

// NewEntry returns an entry that is not persisted yet.
func NewEntry(created time.Time, ttl web.TTL, fileName, filePath string) *Entry {
	return &Entry{
		ID:                -1,
		CreationTimestamp: created.UnixMilli(),
		TTL:               ttl,
		FileName:          fileName,
		FilePath:          filePath,
	}
}

// Created returns the creation time.
func (e *Entry) Created() time.Time {
	return time.UnixMilli(e.CreationTimestamp)
}

// IsValid reports whether the artifact may be served at now.
//
// Forever entries are always valid, NoCache entries never are. Finite
// entries are valid while now - created < ttl.
func (e *Entry) IsValid(now time.Time) bool {
	switch {
	case e.TTL == web.Forever:
		return true
	case e.TTL <= 0:
		return false
	}
	return now.UnixMilli()-e.CreationTimestamp < int64(e.TTL)
}

// Expires returns the time the entry stops being valid. ok is false for
// Forever entries.
func (e *Entry) Expires() (t time.Time, ok bool) {
	if e.TTL == web.Forever {
		return time.Time{}, false
	}
	if e.TTL <= 0 {
		return e.Created(), true
	}
	return time.UnixMilli(e.CreationTimestamp + int64(e.TTL)), true
}

// Field implements selection.Record.
func (e *Entry) Field(name string) (string, bool) {
	switch name {
	case ColumnID:
		return strconv.FormatInt(e.ID, 10), true
	case ColumnCreationTimestamp:
		return strconv.FormatInt(e.CreationTimestamp, 10), true
	case ColumnCacheTime:
		return strconv.FormatInt(int64(e.TTL), 10), true
	case ColumnFileName:
		return e.FileName, true
	case ColumnFilePath:
		return e.FilePath, true
	}
	return "", false
}

func (e *Entry) record() map[string]string {
	m := make(map[string]string, 5)
	for _, c := range []string{ColumnID, ColumnCreationTimestamp, ColumnCacheTime, ColumnFileName, ColumnFilePath} {
		m[c], _ = e.Field(c)
	}
	return m
}

func entryFromRecord(m map[string]string) (Entry, error) {
	var e Entry
	var err error
	if e.ID, err = strconv.ParseInt(m[ColumnID], 10, 64); err != nil {
		return Entry{}, fmt.Errorf("corrupted %s %q: %w", ColumnID, m[ColumnID], err)
	}
	if e.CreationTimestamp, err = strconv.ParseInt(m[ColumnCreationTimestamp], 10, 64); err != nil {
		return Entry{}, fmt.Errorf("corrupted %s %q: %w", ColumnCreationTimestamp, m[ColumnCreationTimestamp], err)
	}
	ttl, err := strconv.ParseInt(m[ColumnCacheTime], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("corrupted %s %q: %w", ColumnCacheTime, m[ColumnCacheTime], err)
	}
	e.TTL = web.TTL(ttl)
	e.FileName = m[ColumnFileName]
	e.FilePath = m[ColumnFilePath]
	if len(e.FileName) == 0 {
		return Entry{}, fmt.Errorf("corrupted entry %d: empty %s", e.ID, ColumnFileName)
	}
	return e, nil
}

func (e *Entry) String() string {
	return fmt.Sprintf("Entry [id=%d, created=%s, ttl=%s, file=%s]", e.ID, e.Created().UTC().Format(time.RFC3339), e.TTL, filePath(e.FilePath, e.FileName))
}
