package store

import (
	"context"
	"sort"
	"sync"

	"github.com/rushteam/recbatch/core"
)

// MemoryStore 是内存实现的 Store，用于测试/开发/原型。
// 所有集合都是互斥锁保护的 map，进程重启后数据丢失。
//
// 游标语义：游标在创建时对查询结果做一次快照，之后的写入不会
// 出现在已打开的游标里（单趟、不可重置，与生产后端一致）。
type MemoryStore struct {
	mu sync.RWMutex

	activity        map[string][]core.RawActivity        // user → 行为事件（追加顺序）
	itemWeights     map[string]*core.UserItemWeights     // user → 权重行
	itemIndex       map[string]map[string]struct{}       // item → 拥有该物品权重的用户（倒排索引）
	similarities    map[string]core.UserSimilarity       // 规范对键 → 相似度行
	recommendations map[string]*core.UserRecommendation  // user → 推荐行
	doNotRecommend  map[string]*core.UserDoNotRecommend  // user → 免推荐列表
	ignored         map[string]struct{}                  // 忽略用户集合
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		activity:        make(map[string][]core.RawActivity),
		itemWeights:     make(map[string]*core.UserItemWeights),
		itemIndex:       make(map[string]map[string]struct{}),
		similarities:    make(map[string]core.UserSimilarity),
		recommendations: make(map[string]*core.UserRecommendation),
		doNotRecommend:  make(map[string]*core.UserDoNotRecommend),
		ignored:         make(map[string]struct{}),
	}
}

func (m *MemoryStore) Name() string { return "memory" }

// sliceCursor 对快照切片实现 core.Cursor。
type sliceCursor[T any] struct {
	rows []T
	pos  int
}

func (c *sliceCursor[T]) Next(ctx context.Context) (*T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.pos >= len(c.rows) {
		return nil, nil
	}
	row := c.rows[c.pos]
	c.pos++
	return &row, nil
}

func (c *sliceCursor[T]) Close() error {
	c.rows = nil
	return nil
}

func (m *MemoryStore) AppendActivity(ctx context.Context, activity *core.RawActivity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.activity[activity.User] = append(m.activity[activity.User], *activity)
	return nil
}

func (m *MemoryStore) RemoveActivity(ctx context.Context, user, item, action string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows := m.activity[user]
	kept := rows[:0]
	for _, row := range rows {
		if row.Item == item && row.Action == action {
			continue
		}
		kept = append(kept, row)
	}
	if len(kept) == 0 {
		delete(m.activity, user)
		return nil
	}
	m.activity[user] = kept
	return nil
}

func (m *MemoryStore) ActivityByUser(ctx context.Context, user string) (core.Cursor[core.RawActivity], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows := make([]core.RawActivity, len(m.activity[user]))
	copy(rows, m.activity[user])
	return &sliceCursor[core.RawActivity]{rows: rows}, nil
}

func (m *MemoryStore) DistinctActivityUsers(ctx context.Context, excluding map[string]struct{}) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	users := make([]string, 0, len(m.activity))
	for user, rows := range m.activity {
		if len(rows) == 0 {
			continue
		}
		if _, ok := excluding[user]; ok {
			continue
		}
		users = append(users, user)
	}
	sort.Strings(users)
	return users, nil
}

func (m *MemoryStore) DropItemWeights(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.itemWeights = make(map[string]*core.UserItemWeights)
	m.itemIndex = make(map[string]map[string]struct{})
	return nil
}

func (m *MemoryStore) InsertItemWeights(ctx context.Context, row *core.UserItemWeights) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *row
	stored.ItemWeights = make([]core.ItemWeight, len(row.ItemWeights))
	copy(stored.ItemWeights, row.ItemWeights)
	m.itemWeights[row.User] = &stored

	for _, iw := range stored.ItemWeights {
		users, ok := m.itemIndex[iw.Item]
		if !ok {
			users = make(map[string]struct{})
			m.itemIndex[iw.Item] = users
		}
		users[row.User] = struct{}{}
	}
	return nil
}

func (m *MemoryStore) ItemWeightsByUser(ctx context.Context, user string) (*core.UserItemWeights, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	row, ok := m.itemWeights[user]
	if !ok {
		return nil, core.ErrStoreNotFound
	}
	copied := *row
	return &copied, nil
}

func (m *MemoryStore) ItemWeightsByItems(ctx context.Context, items []string) (core.Cursor[core.UserItemWeights], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	userSet := make(map[string]struct{})
	for _, item := range items {
		for user := range m.itemIndex[item] {
			userSet[user] = struct{}{}
		}
	}
	return m.weightCursorLocked(userSet), nil
}

func (m *MemoryStore) ItemWeightsByUsers(ctx context.Context, users []string) (core.Cursor[core.UserItemWeights], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	userSet := make(map[string]struct{}, len(users))
	for _, user := range users {
		userSet[user] = struct{}{}
	}
	return m.weightCursorLocked(userSet), nil
}

// weightCursorLocked 对一组用户的权重行做快照游标，调用方持有读锁。
func (m *MemoryStore) weightCursorLocked(users map[string]struct{}) core.Cursor[core.UserItemWeights] {
	ids := make([]string, 0, len(users))
	for user := range users {
		if _, ok := m.itemWeights[user]; ok {
			ids = append(ids, user)
		}
	}
	sort.Strings(ids)

	rows := make([]core.UserItemWeights, 0, len(ids))
	for _, user := range ids {
		rows = append(rows, *m.itemWeights[user])
	}
	return &sliceCursor[core.UserItemWeights]{rows: rows}
}

func (m *MemoryStore) DropSimilarities(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.similarities = make(map[string]core.UserSimilarity)
	return nil
}

func (m *MemoryStore) InsertSimilarities(ctx context.Context, rows []core.UserSimilarity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range rows {
		m.similarities[rows[i].Key()] = rows[i]
	}
	return nil
}

func (m *MemoryStore) SimilaritiesForUser(ctx context.Context, user string, floor float64) ([]core.UserSimilarity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0)
	for key, row := range m.similarities {
		if row.Users[0] != user && row.Users[1] != user {
			continue
		}
		if row.Similarity > floor {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	out := make([]core.UserSimilarity, 0, len(keys))
	for _, key := range keys {
		out = append(out, m.similarities[key])
	}
	return out, nil
}

func (m *MemoryStore) DropRecommendations(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.recommendations = make(map[string]*core.UserRecommendation)
	return nil
}

func (m *MemoryStore) InsertRecommendation(ctx context.Context, row *core.UserRecommendation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *row
	stored.Recommendations = make([]core.ItemWeight, len(row.Recommendations))
	copy(stored.Recommendations, row.Recommendations)
	m.recommendations[row.User] = &stored
	return nil
}

func (m *MemoryStore) RecommendationForUser(ctx context.Context, user string) (*core.UserRecommendation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	row, ok := m.recommendations[user]
	if !ok {
		return nil, core.ErrStoreNotFound
	}
	copied := *row
	return &copied, nil
}

func (m *MemoryStore) AddDoNotRecommend(ctx context.Context, user string, item core.SuppressedItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.doNotRecommend[user]
	if !ok {
		row = &core.UserDoNotRecommend{User: user}
		m.doNotRecommend[user] = row
	}
	for _, existing := range row.Items {
		if existing.Item == item.Item {
			return nil
		}
	}
	row.Items = append(row.Items, item)
	return nil
}

func (m *MemoryStore) DoNotRecommendForUser(ctx context.Context, user string) (*core.UserDoNotRecommend, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	row, ok := m.doNotRecommend[user]
	if !ok {
		return nil, core.ErrStoreNotFound
	}
	copied := *row
	return &copied, nil
}

func (m *MemoryStore) AddIgnoredUser(ctx context.Context, user string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ignored[user] = struct{}{}
	return nil
}

func (m *MemoryStore) RemoveIgnoredUser(ctx context.Context, user string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.ignored, user)
	return nil
}

func (m *MemoryStore) IgnoredUsers(ctx context.Context) (map[string]struct{}, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]struct{}, len(m.ignored))
	for user := range m.ignored {
		out[user] = struct{}{}
	}
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }

// 确保 MemoryStore 实现了 core.Store 接口
var _ core.Store = (*MemoryStore)(nil)
