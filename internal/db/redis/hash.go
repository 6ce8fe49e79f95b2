package redis

import (
	"context"
	"fmt"
	"slices"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/postmap/internal/db"
)

// hset renders HSET with fields in name order so pipelines are reproducible.
func (s *Store) hset(key string, fields map[string]string) rueidis.Completed {
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	slices.Sort(names)

	cmd := s.b().Hset().Key(key).FieldValue()
	for _, k := range names {
		cmd = cmd.FieldValue(k, fields[k])
	}
	return cmd.Build()
}

// HSet writes one hash.
func (s *Store) HSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return &db.Error{Op: db.OpHSet, Key: key, Err: fmt.Errorf("no fields")}
	}
	if err := s.do(ctx, s.hset(key, fields)).Error(); err != nil {
		return &db.Error{Op: db.OpHSet, Key: key, Err: err}
	}
	return nil
}

// HSetMulti writes several hashes in one DoMulti round trip. The first
// failing key is reported; earlier writes are not rolled back.
func (s *Store) HSetMulti(ctx context.Context, items []db.HashSetItem) error {
	if len(items) == 0 {
		return nil
	}

	cmds := make([]rueidis.Completed, 0, len(items))
	for _, item := range items {
		if len(item.Fields) == 0 {
			return &db.Error{Op: db.OpHSet, Key: item.Key, Err: fmt.Errorf("no fields")}
		}
		cmds = append(cmds, s.hset(item.Key, item.Fields))
	}

	for i, res := range s.client.DoMulti(ctx, cmds...) {
		if err := res.Error(); err != nil {
			return &db.Error{Op: db.OpHSet, Key: items[i].Key, Err: err}
		}
	}
	return nil
}

// Del removes keys. Missing keys are not an error.
func (s *Store) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.do(ctx, s.b().Del().Key(keys...).Build()).Error(); err != nil {
		return &db.Error{Op: db.OpDel, Err: fmt.Errorf("%d keys: %w", len(keys), err)}
	}
	return nil
}
