package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/contentsquare/webfetch/log"
	"github.com/contentsquare/webfetch/selection"
	"github.com/redis/go-redis/v9"
)

const (
	getTimeout    = 2 * time.Second
	putTimeout    = 2 * time.Second
	removeTimeout = 1 * time.Second
	queryTimeout  = 5 * time.Second
)

// redisIndex stores entries in redis so several engines sharing a cache dir
// (e.g. on a network volume) see the same index:
//
//	<prefix>entry:<file_name> -> hash of the entry columns
//	<prefix>ids               -> hash id -> file_name
//	<prefix>seq               -> last assigned id
type redisIndex struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisIndex returns an index stored in redis under keyPrefix.
func NewRedisIndex(client redis.UniversalClient, keyPrefix string) Index {
	return &redisIndex{
		client: client,
		prefix: keyPrefix,
	}
}

func (r *redisIndex) Name() string { return "redis" }

func (r *redisIndex) Close() error {
	return r.client.Close()
}

func (r *redisIndex) entryKey(fileName string) string {
	return r.prefix + "entry:" + fileName
}

func (r *redisIndex) idsKey() string {
	return r.prefix + "ids"
}

func (r *redisIndex) seqKey() string {
	return r.prefix + "seq"
}

func (r *redisIndex) Replace(e Entry) (Entry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), putTimeout)
	defer cancel()

	key := r.entryKey(e.FileName)
	id, err := r.client.HGet(ctx, key, ColumnID).Int64()
	switch {
	case err == nil:
		e.ID = id
	case errors.Is(err, redis.Nil):
		e.ID, err = r.client.Incr(ctx, r.seqKey()).Result()
		if err != nil {
			return Entry{}, fmt.Errorf("cannot allocate entry id: %w", err)
		}
	default:
		return Entry{}, fmt.Errorf("cannot read entry %q: %w", e.FileName, err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, recordArgs(e.record())...)
		pipe.HSet(ctx, r.idsKey(), strconv.FormatInt(e.ID, 10), e.FileName)
		return nil
	})
	if err != nil {
		return Entry{}, fmt.Errorf("cannot write entry %q: %w", e.FileName, err)
	}
	return e, nil
}

func (r *redisIndex) Delete(id int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), removeTimeout)
	defer cancel()

	field := strconv.FormatInt(id, 10)
	name, err := r.client.HGet(ctx, r.idsKey(), field).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("cannot read entry %d: %w", id, err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.entryKey(name))
		pipe.HDel(ctx, r.idsKey(), field)
		return nil
	})
	if err != nil {
		return fmt.Errorf("cannot delete entry %d: %w", id, err)
	}
	return nil
}

func (r *redisIndex) Query(expr *selection.Expression) ([]Entry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	// lookups by file name don't need a scan
	if name, ok := fileNameLookup(expr); ok {
		return r.queryOne(ctx, name, expr)
	}

	ids, err := r.client.HGetAll(ctx, r.idsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("cannot list entries: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, 0, len(ids))
	for _, name := range ids {
		cmds = append(cmds, pipe.HGetAll(ctx, r.entryKey(name)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("cannot fetch entries: %w", err)
	}

	var out []Entry
	for _, cmd := range cmds {
		rec := cmd.Val()
		if len(rec) == 0 {
			// deleted between the two calls
			continue
		}
		e, err := entryFromRecord(rec)
		if err != nil {
			log.Errorf("redis index: skipping %s", err)
			continue
		}
		if expr.Match(&e) {
			out = append(out, e)
		}
	}
	sortByID(out)
	return out, nil
}

func (r *redisIndex) queryOne(ctx context.Context, name string, expr *selection.Expression) ([]Entry, error) {
	rec, err := r.client.HGetAll(ctx, r.entryKey(name)).Result()
	if err != nil {
		return nil, fmt.Errorf("cannot read entry %q: %w", name, err)
	}
	if len(rec) == 0 {
		return nil, nil
	}
	e, err := entryFromRecord(rec)
	if err != nil {
		return nil, err
	}
	if !expr.Match(&e) {
		return nil, nil
	}
	return []Entry{e}, nil
}

// fileNameLookup detects the single `file_name = ?` expression used by
// Manager.Lookup.
func fileNameLookup(expr *selection.Expression) (string, bool) {
	if expr.IsEmpty() {
		return "", false
	}
	if expr.Predicate() != ColumnFileName+"=?" {
		return "", false
	}
	return expr.Args()[0], true
}

func recordArgs(rec map[string]string) []interface{} {
	args := make([]interface{}, 0, 2*len(rec))
	for k, v := range rec {
		args = append(args, k, v)
	}
	return args
}
