package redis

import (
	"context"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/docextract/internal/db"
)

// PushCapped runs LPUSH + LTRIM in one pipelined round trip.
func (s *Store) PushCapped(ctx context.Context, key string, value []byte, maxLen int64) error {
	cmds := rueidis.Commands{
		s.b().Lpush().Key(key).Element(rueidis.BinaryString(value)).Build(),
		s.b().Ltrim().Key(key).Start(0).Stop(maxLen - 1).Build(),
	}
	res := s.client.DoMulti(ctx, cmds...)
	if err := res[0].Error(); err != nil {
		return &db.Error{Op: db.OpLPush, Err: err}
	}
	if err := res[1].Error(); err != nil {
		return &db.Error{Op: db.OpLTrim, Err: err}
	}
	return nil
}

// Range returns list elements between start and stop (inclusive, LRANGE semantics).
func (s *Store) Range(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	cmd := s.b().Lrange().Key(key).Start(start).Stop(stop).Build()
	items, err := s.do(ctx, cmd).AsStrSlice()
	if err != nil {
		return nil, &db.Error{Op: db.OpLRange, Err: err}
	}
	out := make([][]byte, len(items))
	for i, it := range items {
		out[i] = []byte(it)
	}
	return out, nil
}
