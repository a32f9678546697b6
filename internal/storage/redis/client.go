package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/expertinthecity/internal/logger"
	"github.com/expertinthecity/internal/model"
	"github.com/expertinthecity/internal/storage"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultKeyPrefix = "presence:"
	onlineKey        = "online"
)

// putScript перезаписывает запись и назначает last_seen по часам Redis (TIME, микросекунды).
// Если прежняя отметка больше (часы сервера ушли назад): остаётся прежняя.
// Индекс online: sorted set по last_seen, обновляется в том же скрипте.
var putScript = redis.NewScript(`
local t = redis.call('TIME')
local now = tonumber(t[1]) * 1000000 + tonumber(t[2])
local prev = redis.call('HGET', KEYS[1], 'ts')
if prev and tonumber(prev) > now then
	now = tonumber(prev)
end
local ts = string.format('%d', now)
redis.call('HSET', KEYS[1], 'ts', ts, 'rec', ARGV[1])
if ARGV[3] == '1' then
	redis.call('ZADD', KEYS[2], ts, ARGV[2])
else
	redis.call('ZREM', KEYS[2], ARGV[2])
end
return now
`)

type Client struct {
	cli    *redis.Client
	prefix string
}

func New(ctx context.Context, url, prefix string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Client{cli: cli, prefix: prefix}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

func (c *Client) recordKey(userID string) string { return c.prefix + "user:" + userID }
func (c *Client) onlineKey() string              { return c.prefix + onlineKey }

func (c *Client) Put(ctx context.Context, rec model.PresenceRecord) (model.PresenceRecord, error) {
	defer logger.DeferLogDuration("presence.redis.Put", time.Now())()
	rec.LastSeen = time.Time{}
	raw, err := json.Marshal(rec)
	if err != nil {
		return model.PresenceRecord{}, fmt.Errorf("presenceRedis.Put marshal: %w", err)
	}
	online := "0"
	if rec.Online {
		online = "1"
	}
	ts, err := putScript.Run(ctx, c.cli, []string{c.recordKey(rec.UserID), c.onlineKey()}, string(raw), rec.UserID, online).Int64()
	if err != nil {
		return model.PresenceRecord{}, fmt.Errorf("presenceRedis.Put: %w", err)
	}
	rec.LastSeen = time.UnixMicro(ts).UTC()
	return rec, nil
}

func (c *Client) Get(ctx context.Context, userID string) (*model.PresenceRecord, error) {
	defer logger.DeferLogDuration("presence.redis.Get", time.Now())()
	vals, err := c.cli.HMGet(ctx, c.recordKey(userID), "ts", "rec").Result()
	if err != nil {
		return nil, fmt.Errorf("presenceRedis.Get: %w", err)
	}
	return decode(vals)
}

func (c *Client) ListOnline(ctx context.Context, limit int) ([]model.PresenceRecord, error) {
	defer logger.DeferLogDuration("presence.redis.ListOnline", time.Now())()
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := c.cli.ZRevRange(ctx, c.onlineKey(), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("presenceRedis.ListOnline: %w", err)
	}
	if len(ids) == 0 {
		return []model.PresenceRecord{}, nil
	}
	pipe := c.cli.Pipeline()
	cmds := make([]*redis.SliceCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HMGet(ctx, c.recordKey(id), "ts", "rec")
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("presenceRedis.ListOnline pipeline: %w", err)
	}
	out := make([]model.PresenceRecord, 0, len(ids))
	for i, cmd := range cmds {
		rec, err := decode(cmd.Val())
		if err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				logger.Errorf("presence redis decode user=%s: %v", ids[i], err)
			}
			continue
		}
		if rec.Online {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func decode(vals []any) (*model.PresenceRecord, error) {
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return nil, storage.ErrNotFound
	}
	tsStr, _ := vals[0].(string)
	raw, _ := vals[1].(string)
	ts, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("presenceRedis decode ts %q: %w", tsStr, err)
	}
	var rec model.PresenceRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("presenceRedis decode record: %w", err)
	}
	rec.LastSeen = time.UnixMicro(ts).UTC()
	return &rec, nil
}
