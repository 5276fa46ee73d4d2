package cache

import (
	"testing"
	"time"

	"github.com/contentsquare/webfetch/web"
	"github.com/stretchr/testify/assert"
)

func TestEntryIsValid(t *testing.T) {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	testCases := []struct {
		name string
		ttl  web.TTL
		age  time.Duration
		want bool
	}{
		{"fresh", web.OneHour, 0, true},
		{"one ms before expiry", web.OneHour, time.Hour - time.Millisecond, true},
		{"exactly at expiry", web.OneHour, time.Hour, false},
		{"after expiry", web.OneHour, 61 * time.Minute, false},
		{"forever", web.Forever, 10 * 365 * 24 * time.Hour, true},
		{"no cache", web.NoCache, 0, false},
		{"zero ttl", 0, 0, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			e := NewEntry(created, tc.ttl, FileName("http://example.com"), testDir)
			got := e.IsValid(created.Add(tc.age))
			if got != tc.want {
				t.Fatalf("unexpected IsValid %v; expecting %v", got, tc.want)
			}
		})
	}
}

func TestEntryExpires(t *testing.T) {
	created := time.UnixMilli(1_000_000)

	e := NewEntry(created, web.OneMinute, "x", "")
	exp, ok := e.Expires()
	assert.True(t, ok)
	assert.Equal(t, created.Add(time.Minute), exp)

	e = NewEntry(created, web.Forever, "x", "")
	_, ok = e.Expires()
	assert.False(t, ok)
}

func TestNewEntryIsNotPersisted(t *testing.T) {
	e := NewEntry(time.Now(), web.OneDay, "x", "")
	if e.ID != -1 {
		t.Fatalf("unexpected id %d; expecting -1", e.ID)
	}
}

func TestEntryRecordRoundtrip(t *testing.T) {
	e := Entry{
		ID:                42,
		CreationTimestamp: 1700000000123,
		TTL:               web.SevenDays,
		FileName:          FileName("http://example.com/a"),
		FilePath:          "/var/cache/webfetch",
	}
	got, err := entryFromRecord(e.record())
	assert.NoError(t, err)
	assert.Equal(t, e, got)

	rec := e.record()
	rec[ColumnID] = "not a number"
	_, err = entryFromRecord(rec)
	assert.Error(t, err)
}

func TestEntryField(t *testing.T) {
	e := &Entry{ID: 7, CreationTimestamp: 5, TTL: web.Forever, FileName: "f", FilePath: "p"}

	for col, want := range map[string]string{
		ColumnID:                "7",
		ColumnCreationTimestamp: "5",
		ColumnCacheTime:         "-2",
		ColumnFileName:          "f",
		ColumnFilePath:          "p",
	} {
		got, ok := e.Field(col)
		assert.True(t, ok, col)
		assert.Equal(t, want, got, col)
	}
	_, ok := e.Field("unknown")
	assert.False(t, ok)
}

func TestFileName(t *testing.T) {
	a := FileName("http://example.com/weather?city=vienna")
	b := FileName("http://example.com/weather?city=vienna")
	c := FileName("http://example.com/weather?city=graz")

	if a != b {
		t.Fatalf("unexpected different names %q and %q for the same url", a, b)
	}
	if a == c {
		t.Fatalf("unexpected equal names for different urls")
	}
	if !cachefileRegexp.MatchString(a) {
		t.Fatalf("unexpected file name %q; expecting 32 hex chars", a)
	}
}
