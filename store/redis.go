package store

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/rushteam/recbatch/core"
)

// activityPageSize 是行为事件游标每次拉取的行数。
const activityPageSize = 256

// weightChunkSize 是权重行游标每次批量 HMGet 的用户数。
const weightChunkSize = 64

// RedisStore 是 Redis 实现的 Store，生产环境常用。
//
// 键布局（{p} 为前缀，默认 "recbatch"）：
//   - {p}:activity:{user}      行为事件列表（JSON，追加顺序）
//   - {p}:activity:users       有行为记录的用户集合
//   - {p}:weights              权重行哈希：user → JSON
//   - {p}:weights:item:{item}  物品→用户倒排索引集合
//   - {p}:weights:items        已建索引的物品集合（用于整体清空）
//   - {p}:sims                 相似度行哈希：规范对键 → JSON
//   - {p}:sims:user:{user}     按用户的相似度有序集合：对键按相似度排序
//   - {p}:sims:users           有相似度行的用户集合（用于整体清空）
//   - {p}:recs                 推荐行哈希：user → JSON
//   - {p}:dnr:{user}           免推荐哈希：item → 元数据 JSON（HSetNX 保证幂等）
//   - {p}:ignored              忽略用户集合
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(addr string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, core.WrapStorageError("redis: ping", err)
	}
	return &RedisStore{client: client, prefix: "recbatch"}, nil
}

// NewRedisStoreWithClient 复用已有客户端并指定键前缀。
func NewRedisStoreWithClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "recbatch"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) Name() string { return "redis" }

func (r *RedisStore) keyActivity(user string) string  { return r.prefix + ":activity:" + user }
func (r *RedisStore) keyActivityUsers() string        { return r.prefix + ":activity:users" }
func (r *RedisStore) keyWeights() string              { return r.prefix + ":weights" }
func (r *RedisStore) keyWeightItem(item string) string { return r.prefix + ":weights:item:" + item }
func (r *RedisStore) keyWeightItems() string          { return r.prefix + ":weights:items" }
func (r *RedisStore) keySims() string                 { return r.prefix + ":sims" }
func (r *RedisStore) keySimUser(user string) string   { return r.prefix + ":sims:user:" + user }
func (r *RedisStore) keySimUsers() string             { return r.prefix + ":sims:users" }
func (r *RedisStore) keyRecs() string                 { return r.prefix + ":recs" }
func (r *RedisStore) keyDNR(user string) string       { return r.prefix + ":dnr:" + user }
func (r *RedisStore) keyIgnored() string              { return r.prefix + ":ignored" }

func (r *RedisStore) AppendActivity(ctx context.Context, activity *core.RawActivity) error {
	data, err := json.Marshal(activity)
	if err != nil {
		return core.WrapStorageError("redis: encode activity", err)
	}

	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, r.keyActivity(activity.User), data)
	pipe.SAdd(ctx, r.keyActivityUsers(), activity.User)
	if _, err := pipe.Exec(ctx); err != nil {
		return core.WrapStorageError("redis: append activity", err)
	}
	return nil
}

func (r *RedisStore) RemoveActivity(ctx context.Context, user, item, action string) error {
	key := r.keyActivity(user)
	raw, err := r.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return core.WrapStorageError("redis: read activity", err)
	}

	kept := make([]interface{}, 0, len(raw))
	for _, entry := range raw {
		var row core.RawActivity
		if err := json.Unmarshal([]byte(entry), &row); err != nil {
			return core.WrapStorageError("redis: decode activity", err)
		}
		if row.Item == item && row.Action == action {
			continue
		}
		kept = append(kept, entry)
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, key)
	if len(kept) > 0 {
		pipe.RPush(ctx, key, kept...)
	} else {
		pipe.SRem(ctx, r.keyActivityUsers(), user)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return core.WrapStorageError("redis: remove activity", err)
	}
	return nil
}

// activityCursor 按页惰性拉取一名用户的行为事件列表。
type activityCursor struct {
	store  *RedisStore
	key    string
	offset int64
	buf    []core.RawActivity
	done   bool
}

func (c *activityCursor) Next(ctx context.Context) (*core.RawActivity, error) {
	for len(c.buf) == 0 {
		if c.done {
			return nil, nil
		}
		raw, err := c.store.client.LRange(ctx, c.key, c.offset, c.offset+activityPageSize-1).Result()
		if err != nil {
			return nil, core.WrapStorageError("redis: activity page", err)
		}
		if len(raw) < activityPageSize {
			c.done = true
		}
		c.offset += int64(len(raw))
		for _, entry := range raw {
			var row core.RawActivity
			if err := json.Unmarshal([]byte(entry), &row); err != nil {
				return nil, core.WrapStorageError("redis: decode activity", err)
			}
			c.buf = append(c.buf, row)
		}
	}

	row := c.buf[0]
	c.buf = c.buf[1:]
	return &row, nil
}

func (c *activityCursor) Close() error {
	c.buf = nil
	c.done = true
	return nil
}

func (r *RedisStore) ActivityByUser(ctx context.Context, user string) (core.Cursor[core.RawActivity], error) {
	return &activityCursor{store: r, key: r.keyActivity(user)}, nil
}

func (r *RedisStore) DistinctActivityUsers(ctx context.Context, excluding map[string]struct{}) ([]string, error) {
	members, err := r.client.SMembers(ctx, r.keyActivityUsers()).Result()
	if err != nil {
		return nil, core.WrapStorageError("redis: activity users", err)
	}

	users := make([]string, 0, len(members))
	for _, user := range members {
		if _, ok := excluding[user]; ok {
			continue
		}
		users = append(users, user)
	}
	sort.Strings(users)
	return users, nil
}

func (r *RedisStore) DropItemWeights(ctx context.Context) error {
	items, err := r.client.SMembers(ctx, r.keyWeightItems()).Result()
	if err != nil {
		return core.WrapStorageError("redis: weight items", err)
	}

	keys := make([]string, 0, len(items)+2)
	for _, item := range items {
		keys = append(keys, r.keyWeightItem(item))
	}
	keys = append(keys, r.keyWeightItems(), r.keyWeights())
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return core.WrapStorageError("redis: drop item weights", err)
	}
	return nil
}

func (r *RedisStore) InsertItemWeights(ctx context.Context, row *core.UserItemWeights) error {
	data, err := json.Marshal(row)
	if err != nil {
		return core.WrapStorageError("redis: encode item weights", err)
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, r.keyWeights(), row.User, data)
	for _, iw := range row.ItemWeights {
		pipe.SAdd(ctx, r.keyWeightItem(iw.Item), row.User)
		pipe.SAdd(ctx, r.keyWeightItems(), iw.Item)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return core.WrapStorageError("redis: insert item weights", err)
	}
	return nil
}

func (r *RedisStore) ItemWeightsByUser(ctx context.Context, user string) (*core.UserItemWeights, error) {
	data, err := r.client.HGet(ctx, r.keyWeights(), user).Bytes()
	if err == redis.Nil {
		return nil, core.ErrStoreNotFound
	}
	if err != nil {
		return nil, core.WrapStorageError("redis: item weights", err)
	}

	var row core.UserItemWeights
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, core.WrapStorageError("redis: decode item weights", err)
	}
	return &row, nil
}

// weightCursor 按块惰性拉取一组用户的权重行。
type weightCursor struct {
	store *RedisStore
	users []string
	pos   int
	buf   []core.UserItemWeights
}

func (c *weightCursor) Next(ctx context.Context) (*core.UserItemWeights, error) {
	for len(c.buf) == 0 {
		if c.pos >= len(c.users) {
			return nil, nil
		}
		end := c.pos + weightChunkSize
		if end > len(c.users) {
			end = len(c.users)
		}
		chunk := c.users[c.pos:end]
		c.pos = end

		values, err := c.store.client.HMGet(ctx, c.store.keyWeights(), chunk...).Result()
		if err != nil {
			return nil, core.WrapStorageError("redis: weight chunk", err)
		}
		for _, value := range values {
			text, ok := value.(string)
			if !ok {
				continue // 该用户没有权重行
			}
			var row core.UserItemWeights
			if err := json.Unmarshal([]byte(text), &row); err != nil {
				return nil, core.WrapStorageError("redis: decode item weights", err)
			}
			c.buf = append(c.buf, row)
		}
	}

	row := c.buf[0]
	c.buf = c.buf[1:]
	return &row, nil
}

func (c *weightCursor) Close() error {
	c.buf = nil
	c.pos = len(c.users)
	return nil
}

func (r *RedisStore) ItemWeightsByItems(ctx context.Context, items []string) (core.Cursor[core.UserItemWeights], error) {
	if len(items) == 0 {
		return &weightCursor{store: r}, nil
	}

	keys := make([]string, 0, len(items))
	for _, item := range items {
		keys = append(keys, r.keyWeightItem(item))
	}
	users, err := r.client.SUnion(ctx, keys...).Result()
	if err != nil {
		return nil, core.WrapStorageError("redis: overlap users", err)
	}
	sort.Strings(users)
	return &weightCursor{store: r, users: users}, nil
}

func (r *RedisStore) ItemWeightsByUsers(ctx context.Context, users []string) (core.Cursor[core.UserItemWeights], error) {
	sorted := make([]string, len(users))
	copy(sorted, users)
	sort.Strings(sorted)
	return &weightCursor{store: r, users: sorted}, nil
}

func (r *RedisStore) DropSimilarities(ctx context.Context) error {
	users, err := r.client.SMembers(ctx, r.keySimUsers()).Result()
	if err != nil {
		return core.WrapStorageError("redis: sim users", err)
	}

	keys := make([]string, 0, len(users)+2)
	for _, user := range users {
		keys = append(keys, r.keySimUser(user))
	}
	keys = append(keys, r.keySimUsers(), r.keySims())
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return core.WrapStorageError("redis: drop similarities", err)
	}
	return nil
}

func (r *RedisStore) InsertSimilarities(ctx context.Context, rows []core.UserSimilarity) error {
	pipe := r.client.TxPipeline()
	for i := range rows {
		row := &rows[i]
		data, err := json.Marshal(row)
		if err != nil {
			return core.WrapStorageError("redis: encode similarity", err)
		}
		key := row.Key()
		pipe.HSet(ctx, r.keySims(), key, data)
		pipe.ZAdd(ctx, r.keySimUser(row.Users[0]), redis.Z{Score: row.Similarity, Member: key})
		pipe.ZAdd(ctx, r.keySimUser(row.Users[1]), redis.Z{Score: row.Similarity, Member: key})
		pipe.SAdd(ctx, r.keySimUsers(), row.Users[0], row.Users[1])
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return core.WrapStorageError("redis: insert similarities", err)
	}
	return nil
}

func (r *RedisStore) SimilaritiesForUser(ctx context.Context, user string, floor float64) ([]core.UserSimilarity, error) {
	keys, err := r.client.ZRangeByScore(ctx, r.keySimUser(user), &redis.ZRangeBy{
		Min: "(" + strconv.FormatFloat(floor, 'f', -1, 64),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, core.WrapStorageError("redis: similarity range", err)
	}
	if len(keys) == 0 {
		return []core.UserSimilarity{}, nil
	}

	values, err := r.client.HMGet(ctx, r.keySims(), keys...).Result()
	if err != nil {
		return nil, core.WrapStorageError("redis: similarity rows", err)
	}

	out := make([]core.UserSimilarity, 0, len(values))
	for _, value := range values {
		text, ok := value.(string)
		if !ok {
			continue
		}
		var row core.UserSimilarity
		if err := json.Unmarshal([]byte(text), &row); err != nil {
			return nil, core.WrapStorageError("redis: decode similarity", err)
		}
		out = append(out, row)
	}
	return out, nil
}

func (r *RedisStore) DropRecommendations(ctx context.Context) error {
	if err := r.client.Del(ctx, r.keyRecs()).Err(); err != nil {
		return core.WrapStorageError("redis: drop recommendations", err)
	}
	return nil
}

func (r *RedisStore) InsertRecommendation(ctx context.Context, row *core.UserRecommendation) error {
	data, err := json.Marshal(row)
	if err != nil {
		return core.WrapStorageError("redis: encode recommendation", err)
	}
	if err := r.client.HSet(ctx, r.keyRecs(), row.User, data).Err(); err != nil {
		return core.WrapStorageError("redis: insert recommendation", err)
	}
	return nil
}

func (r *RedisStore) RecommendationForUser(ctx context.Context, user string) (*core.UserRecommendation, error) {
	data, err := r.client.HGet(ctx, r.keyRecs(), user).Bytes()
	if err == redis.Nil {
		return nil, core.ErrStoreNotFound
	}
	if err != nil {
		return nil, core.WrapStorageError("redis: recommendation", err)
	}

	var row core.UserRecommendation
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, core.WrapStorageError("redis: decode recommendation", err)
	}
	return &row, nil
}

func (r *RedisStore) AddDoNotRecommend(ctx context.Context, user string, item core.SuppressedItem) error {
	metadata, err := json.Marshal(item.ItemMetadata)
	if err != nil {
		return core.WrapStorageError("redis: encode do-not-recommend", err)
	}
	// HSetNX：同一物品只保留首次写入，天然幂等
	if err := r.client.HSetNX(ctx, r.keyDNR(user), item.Item, metadata).Err(); err != nil {
		return core.WrapStorageError("redis: add do-not-recommend", err)
	}
	return nil
}

func (r *RedisStore) DoNotRecommendForUser(ctx context.Context, user string) (*core.UserDoNotRecommend, error) {
	fields, err := r.client.HGetAll(ctx, r.keyDNR(user)).Result()
	if err != nil {
		return nil, core.WrapStorageError("redis: do-not-recommend", err)
	}
	if len(fields) == 0 {
		return nil, core.ErrStoreNotFound
	}

	items := make([]string, 0, len(fields))
	for item := range fields {
		items = append(items, item)
	}
	sort.Strings(items)

	row := &core.UserDoNotRecommend{User: user, Items: make([]core.SuppressedItem, 0, len(items))}
	for _, item := range items {
		var metadata any
		if err := json.Unmarshal([]byte(fields[item]), &metadata); err != nil {
			return nil, core.WrapStorageError("redis: decode do-not-recommend", err)
		}
		row.Items = append(row.Items, core.SuppressedItem{Item: item, ItemMetadata: metadata})
	}
	return row, nil
}

func (r *RedisStore) AddIgnoredUser(ctx context.Context, user string) error {
	if err := r.client.SAdd(ctx, r.keyIgnored(), user).Err(); err != nil {
		return core.WrapStorageError("redis: add ignored user", err)
	}
	return nil
}

func (r *RedisStore) RemoveIgnoredUser(ctx context.Context, user string) error {
	if err := r.client.SRem(ctx, r.keyIgnored(), user).Err(); err != nil {
		return core.WrapStorageError("redis: remove ignored user", err)
	}
	return nil
}

func (r *RedisStore) IgnoredUsers(ctx context.Context) (map[string]struct{}, error) {
	members, err := r.client.SMembers(ctx, r.keyIgnored()).Result()
	if err != nil {
		return nil, core.WrapStorageError("redis: ignored users", err)
	}

	out := make(map[string]struct{}, len(members))
	for _, user := range members {
		out[user] = struct{}{}
	}
	return out, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

// 确保 RedisStore 实现了 core.Store 接口
var _ core.Store = (*RedisStore)(nil)
