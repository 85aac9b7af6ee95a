package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis stores metadata in a hash at prefix+key.
type Redis struct {
	rdb redis.UniversalClient
	key string
}

// NewRedis returns a store that owns rdb.
func NewRedis(rdb redis.UniversalClient, prefix, key string) *Redis {
	return &Redis{rdb: rdb, key: prefix + key}
}

func (r *Redis) Load(ctx context.Context) (Metadata, error) {
	fields, err := r.rdb.HGetAll(ctx, r.key).Result()
	if err != nil {
		return Metadata{}, fmt.Errorf("load session: %w", err)
	}
	if len(fields) == 0 {
		return Metadata{}, ErrNotFound
	}

	sn, err := strconv.Atoi(fields["sequence"])
	if err != nil {
		return Metadata{}, fmt.Errorf("parse sequence %q: %w", fields["sequence"], err)
	}
	meta := Metadata{
		SessionID: fields["session_id"],
		Sequence:  sn,
	}
	if ms, err := strconv.ParseInt(fields["updated_at"], 10, 64); err == nil {
		meta.UpdatedAt = time.UnixMilli(ms)
	}
	return meta, nil
}

func (r *Redis) Save(ctx context.Context, meta Metadata) error {
	err := r.rdb.HSet(ctx, r.key,
		"session_id", meta.SessionID,
		"sequence", meta.Sequence,
		"updated_at", meta.UpdatedAt.UnixMilli(),
	).Err()
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}
