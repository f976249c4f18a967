package repository

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	appErrors "github.com/unclebandit/mailpacer-backend/internal/errors"
	"github.com/unclebandit/mailpacer-backend/internal/model"
)

// incrementIfBelowScript returns the new count, or -1 when the counter is
// already at the limit. ARGV: limit, organization id, unix time.
var incrementIfBelowScript = redis.NewScript(`
local count = tonumber(redis.call('HGET', KEYS[1], 'sent_count') or '0')
if count >= tonumber(ARGV[1]) then
  return -1
end
count = redis.call('HINCRBY', KEYS[1], 'sent_count', 1)
if redis.call('HSETNX', KEYS[1], 'organization_id', ARGV[2]) == 1 then
  redis.call('HSET', KEYS[1], 'created_at', ARGV[3])
end
redis.call('HSET', KEYS[1], 'updated_at', ARGV[3])
return count
`)

// releaseScript decrements a positive counter and returns the new count.
// Missing or zero counters are left as they are. ARGV: unix time.
var releaseScript = redis.NewScript(`
local count = tonumber(redis.call('HGET', KEYS[1], 'sent_count') or '0')
if count <= 0 then
  return 0
end
count = redis.call('HINCRBY', KEYS[1], 'sent_count', -1)
redis.call('HSET', KEYS[1], 'updated_at', ARGV[1])
return count
`)

// RedisCapacityRepository keeps daily counters in redis hashes, one per
// (domain, day). It is used when postgres row contention on daily_capacity
// becomes the bottleneck. Day records never expire; they back the daily
// stats report.
type RedisCapacityRepository struct {
	rdb    *redis.Client
	prefix string
}

type RedisCapacityOption func(*RedisCapacityRepository)

func WithCapacityPrefix(prefix string) RedisCapacityOption {
	return func(r *RedisCapacityRepository) { r.prefix = strings.Trim(prefix, ":") }
}

func NewRedisCapacityRepository(rdb *redis.Client, opts ...RedisCapacityOption) *RedisCapacityRepository {
	r := &RedisCapacityRepository{
		rdb:    rdb,
		prefix: "capacity",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RedisCapacityRepository) key(domainID int64, date string) string {
	return fmt.Sprintf("%s:%d:%s", r.prefix, domainID, date)
}

func (r *RedisCapacityRepository) GetOrCreate(ctx context.Context, domainID, organizationID int64, date string) (*model.DailyCapacityRecord, error) {
	key := r.key(domainID, date)
	now := strconv.FormatInt(time.Now().Unix(), 10)

	pipe := r.rdb.TxPipeline()
	pipe.HSetNX(ctx, key, "sent_count", 0)
	pipe.HSetNX(ctx, key, "organization_id", organizationID)
	pipe.HSetNX(ctx, key, "created_at", now)
	pipe.HSetNX(ctx, key, "updated_at", now)
	all := pipe.HGetAll(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return recordFromHash(domainID, date, all.Val())
}

func (r *RedisCapacityRepository) IncrementIfBelow(ctx context.Context, domainID, organizationID int64, date string, limit int) (*model.DailyCapacityRecord, error) {
	if limit <= 0 {
		return nil, appErrors.ErrDailyLimitExceeded
	}
	key := r.key(domainID, date)
	count, err := incrementIfBelowScript.Run(ctx, r.rdb, []string{key},
		limit, organizationID, time.Now().Unix()).Int64()
	if err != nil {
		return nil, err
	}
	if count < 0 {
		return nil, appErrors.ErrDailyLimitExceeded
	}
	all, err := r.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	rec, err := recordFromHash(domainID, date, all)
	if err != nil {
		return nil, err
	}
	// A concurrent increment may land between the script and HGETALL.
	rec.SentCount = int(count)
	return rec, nil
}

func (r *RedisCapacityRepository) Release(ctx context.Context, domainID int64, date string) error {
	return releaseScript.Run(ctx, r.rdb, []string{r.key(domainID, date)}, time.Now().Unix()).Err()
}

func (r *RedisCapacityRepository) ListRange(ctx context.Context, domainID int64, startDate, endDate string) ([]model.DailyCapacityRecord, error) {
	dates, err := datesBetween(startDate, endDate)
	if err != nil {
		return nil, err
	}

	pipe := r.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(dates))
	for i, date := range dates {
		cmds[i] = pipe.HGetAll(ctx, r.key(domainID, date))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	records := []model.DailyCapacityRecord{}
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		rec, err := recordFromHash(domainID, dates[i], fields)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, nil
}

func recordFromHash(domainID int64, date string, fields map[string]string) (*model.DailyCapacityRecord, error) {
	rec := &model.DailyCapacityRecord{DomainID: domainID, Date: date}
	var err error
	if v := fields["sent_count"]; v != "" {
		if rec.SentCount, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("parse sent_count for %s: %w", date, err)
		}
	}
	if v := fields["organization_id"]; v != "" {
		if rec.OrganizationID, err = strconv.ParseInt(v, 10, 64); err != nil {
			return nil, fmt.Errorf("parse organization_id for %s: %w", date, err)
		}
	}
	rec.CreatedAt = unixField(fields["created_at"])
	rec.UpdatedAt = unixField(fields["updated_at"])
	return rec, nil
}

func unixField(v string) time.Time {
	sec, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

// datesBetween lists every UTC day from start to end inclusive.
func datesBetween(startDate, endDate string) ([]string, error) {
	start, err := time.Parse(model.DateLayout, startDate)
	if err != nil {
		return nil, fmt.Errorf("invalid start date %q: %w", startDate, err)
	}
	end, err := time.Parse(model.DateLayout, endDate)
	if err != nil {
		return nil, fmt.Errorf("invalid end date %q: %w", endDate, err)
	}
	dates := []string{}
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d.Format(model.DateLayout))
	}
	return dates, nil
}

var _ CapacityRepositoryInterface = (*RedisCapacityRepository)(nil)
