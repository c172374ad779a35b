package healthstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Skryldev/image-uploader/core"
	apperrors "github.com/Skryldev/image-uploader/errors"
)

// DefaultKeyPrefix namespaces health hashes in a shared Redis.
const DefaultKeyPrefix = "imgupload:"

// Redis stores one hash per provider plus a set indexing provider names.
// Counters are bumped atomically with HINCRBY; the derived fields are
// last-writer-wins.
type Redis struct {
	client    redis.UniversalClient
	keyPrefix string
	now       func() time.Time
}

// NewRedis dials url (redis://...) and pings it.
func NewRedis(ctx context.Context, url, keyPrefix string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, apperrors.New(apperrors.CategoryConfig, "healthstore.redis", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, apperrors.New(apperrors.CategoryStorage, "healthstore.redis.ping",
			errors.Join(apperrors.ErrStorageUnavailable, err))
	}
	return NewRedisFromClient(client, keyPrefix), nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client redis.UniversalClient, keyPrefix string) *Redis {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &Redis{client: client, keyPrefix: keyPrefix, now: time.Now}
}

// Close releases the underlying client.
func (r *Redis) Close() error { return r.client.Close() }

func (r *Redis) indexKey() string            { return r.keyPrefix + "health:providers" }
func (r *Redis) recordKey(name string) string { return r.keyPrefix + "health:provider:" + name }

const (
	fieldActive    = "is_active"
	fieldTotal     = "total_uploads"
	fieldSuccess   = "successful_uploads"
	fieldRate      = "success_rate"
	fieldLastMs    = "last_response_time_ms"
	fieldLastError = "last_error_message"
	fieldChecked   = "last_checked_at"
)

func (r *Redis) All(ctx context.Context) ([]core.HealthRecord, error) {
	names, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, nil
	}
	pipe := r.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(names))
	for i, name := range names {
		cmds[i] = pipe.HGetAll(ctx, r.recordKey(name))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	out := make([]core.HealthRecord, 0, len(names))
	for i, name := range names {
		fields, err := cmds[i].Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		rec, err := decodeRecord(name, fields)
		if err != nil {
			return nil, fmt.Errorf("healthstore.redis: decode %s: %w", name, err)
		}
		out = append(out, rec)
	}
	core.RankRecords(out)
	return out, nil
}

func (r *Redis) ActiveRanked(ctx context.Context) ([]core.HealthRecord, error) {
	all, err := r.All(ctx)
	if err != nil {
		return nil, err
	}
	active := all[:0]
	for _, rec := range all {
		if rec.IsActive {
			active = append(active, rec)
		}
	}
	return active, nil
}

func (r *Redis) RecordOutcome(ctx context.Context, rep core.AttemptReport) (core.HealthRecord, error) {
	key := r.recordKey(rep.ProviderName)
	var success int64
	if rep.Success {
		success = 1
	}

	var total, successful *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, r.indexKey(), rep.ProviderName)
		total = pipe.HIncrBy(ctx, key, fieldTotal, 1)
		successful = pipe.HIncrBy(ctx, key, fieldSuccess, success)
		return nil
	})
	if err != nil {
		return core.HealthRecord{}, err
	}

	rec := core.HealthRecord{
		ServiceName:        rep.ProviderName,
		IsActive:           rep.Success,
		TotalUploads:       total.Val(),
		SuccessfulUploads:  successful.Val(),
		LastResponseTimeMs: rep.ResponseTimeMs,
		LastCheckedAt:      r.now().UTC(),
	}
	rec.SuccessRate = core.SuccessRate(rec.SuccessfulUploads, rec.TotalUploads)
	if !rep.Success {
		rec.LastErrorMessage = rep.ErrorMessage
	}

	err = r.client.HSet(ctx, key,
		fieldActive, strconv.FormatBool(rec.IsActive),
		fieldRate, strconv.FormatFloat(rec.SuccessRate, 'f', -1, 64),
		fieldLastMs, rec.LastResponseTimeMs,
		fieldLastError, rec.LastErrorMessage,
		fieldChecked, rec.LastCheckedAt.Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return core.HealthRecord{}, err
	}
	return rec, nil
}

func decodeRecord(name string, f map[string]string) (core.HealthRecord, error) {
	rec := core.HealthRecord{ServiceName: name, LastErrorMessage: f[fieldLastError]}
	var err error
	if v := f[fieldActive]; v != "" {
		if rec.IsActive, err = strconv.ParseBool(v); err != nil {
			return rec, err
		}
	}
	if rec.TotalUploads, err = parseInt(f[fieldTotal]); err != nil {
		return rec, err
	}
	if rec.SuccessfulUploads, err = parseInt(f[fieldSuccess]); err != nil {
		return rec, err
	}
	if rec.LastResponseTimeMs, err = parseInt(f[fieldLastMs]); err != nil {
		return rec, err
	}
	if v := f[fieldChecked]; v != "" {
		if rec.LastCheckedAt, err = time.Parse(time.RFC3339Nano, v); err != nil {
			return rec, err
		}
	}
	// Rate is derived from the counters.
	rec.SuccessRate = core.SuccessRate(rec.SuccessfulUploads, rec.TotalUploads)
	return rec, nil
}

func parseInt(v string) (int64, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.ParseInt(v, 10, 64)
}

var _ core.HealthStore = (*Redis)(nil)
