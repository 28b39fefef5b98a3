package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

// kv подмножество redis-клиента, которым пользуется кэш.
type kv interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Beat последний пульс движка. Ключ живёт ttl: нет ключа, значит движок молчит.
type Beat struct {
	UserID int64     `json:"user_id"`
	RunID  string    `json:"run_id,omitempty"`
	State  string    `json:"state"`
	At     time.Time `json:"at"`
}

type Cache struct {
	rdb    kv
	prefix string
	ttl    time.Duration
}

func NewCache(rdb kv, prefix string, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Cache{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (c *Cache) key(userID int64) string {
	return c.prefix + "hb:" + strconv.FormatInt(userID, 10)
}

func (c *Cache) Put(ctx context.Context, b Beat) error {
	data, err := sonic.Marshal(b)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.key(b.UserID), string(data), c.ttl).Err()
}

func (c *Cache) Get(ctx context.Context, userID int64) (Beat, bool, error) {
	data, err := c.rdb.Get(ctx, c.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Beat{}, false, nil
	}
	if err != nil {
		return Beat{}, false, err
	}
	var b Beat
	if err := sonic.Unmarshal(data, &b); err != nil {
		return Beat{}, false, err
	}
	return b, true, nil
}

// GetMany пульсы нескольких пользователей одним MGET. Отсутствующие пропускаются.
func (c *Cache) GetMany(ctx context.Context, userIDs []int64) (map[int64]Beat, error) {
	out := make(map[int64]Beat, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = c.key(id)
	}
	vals, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var b Beat
		if err := sonic.UnmarshalString(s, &b); err != nil {
			continue
		}
		out[b.UserID] = b
	}
	return out, nil
}

func (c *Cache) Delete(ctx context.Context, userID int64) error {
	return c.rdb.Del(ctx, c.key(userID)).Err()
}
