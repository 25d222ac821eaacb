package core

import "time"

// RawActivity 是一条原始行为事件（只追加，不修改）。
// ItemMetadata 是调用方透传的展示数据，引擎不解释其内容。
type RawActivity struct {
	User         string    `json:"user"`
	Item         string    `json:"item"`
	ItemMetadata any       `json:"itemMetadata,omitempty"`
	Action       string    `json:"action"`
	OccurredAt   time.Time `json:"dateCreated"`
}

// ItemWeight 是一个物品及其聚合权重。
type ItemWeight struct {
	Item         string  `json:"item"`
	ItemMetadata any     `json:"itemMetadata,omitempty"`
	Weight       float64 `json:"weight"`
}

// UserItemWeights 是一名用户的权重行：该用户所有物品的衰减加权权重，
// 以及整行的 L2 范数（余弦相似度的分母）。
//
// 不变量：RowWeight == sqrt(Σ weight²)
type UserItemWeights struct {
	User        string       `json:"user"`
	ItemWeights []ItemWeight `json:"itemWeights"`
	RowWeight   float64      `json:"rowWeight"`
}

// Items 返回该行涉及的物品 ID 列表（保持存储顺序）。
func (w *UserItemWeights) Items() []string {
	items := make([]string, len(w.ItemWeights))
	for i := range w.ItemWeights {
		items[i] = w.ItemWeights[i].Item
	}
	return items
}

// WeightMap 返回 物品 → 权重 的查找表。
func (w *UserItemWeights) WeightMap() map[string]float64 {
	m := make(map[string]float64, len(w.ItemWeights))
	for i := range w.ItemWeights {
		m[w.ItemWeights[i].Item] = w.ItemWeights[i].Weight
	}
	return m
}

// PairKey 返回无序用户对的规范键：两个参数顺序互换得到同一个键。
// 相似度去重与存储寻址都以此键为准。
func PairKey(a, b string) string {
	if a > b {
		return a + "|" + b
	}
	return b + "|" + a
}

// UserSimilarity 是一条无序用户对的余弦相似度。
// 每对用户至多一行；不存自身对。
type UserSimilarity struct {
	Users      [2]string `json:"users"`
	Similarity float64   `json:"similarity"`
}

// Key 返回该对的规范键。
func (s *UserSimilarity) Key() string {
	return PairKey(s.Users[0], s.Users[1])
}

// Other 返回对中非 user 的另一方；user 不在对中时返回 Users[0]。
func (s *UserSimilarity) Other(user string) string {
	if s.Users[0] == user {
		return s.Users[1]
	}
	return s.Users[0]
}

// UserRecommendation 是一名用户的推荐行：
// 邻居物品按相似度加权累加后的集合，权重降序无保证、不排序。
type UserRecommendation struct {
	User            string       `json:"user"`
	Recommendations []ItemWeight `json:"recommendations"`
}

// SuppressedItem 是免推荐列表中的一项。
type SuppressedItem struct {
	Item         string `json:"item"`
	ItemMetadata any    `json:"itemMetadata,omitempty"`
}

// UserDoNotRecommend 是一名用户的免推荐列表（只增不减，物品幂等）。
type UserDoNotRecommend struct {
	User  string           `json:"user"`
	Items []SuppressedItem `json:"doNotRecommend"`
}

// Suppressed 返回被压制的物品 ID 集合。
func (d *UserDoNotRecommend) Suppressed() map[string]struct{} {
	set := make(map[string]struct{}, len(d.Items))
	for i := range d.Items {
		set[d.Items[i].Item] = struct{}{}
	}
	return set
}
