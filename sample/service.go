package sample

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rushteam/recbatch/core"
)

// DefaultSampleSize 是未指定采样数量时的默认值。
const DefaultSampleSize = 20

// Sampled 是一次采样返回的条目：物品与它原始的推荐分。
type Sampled struct {
	Item         string  `json:"item"`
	ItemMetadata any     `json:"itemMetadata,omitempty"`
	Score        float64 `json:"score"`
}

// Service 是采样器：对一名用户已落库的推荐做过滤与加权无放回抽样。
// 只读，不属于重算流水线，可随时独立调用。
//
// 过滤规则（依次）：
//  1. 免推荐列表中的物品直接丢弃
//  2. 其余候选：推荐权重 > MinKeepWeight，或用户自身权重 <= MaxOwnWeight
//     （自身权重高说明"已经看够了"）；配置了 Rule 时以 CEL 规则覆盖
//
// 缺行永不报错：推荐行、权重行、免推荐行任一缺失都按空处理，
// 采样继续进行，可能返回空列表。
type Service struct {
	Store core.Store

	// Config 是过滤阈值配置
	Config core.SampleConfig

	// Rule 是可选的编译后保留规则，覆盖 Config 中的阈值判断
	Rule *KeepRule

	// Rand 可注入随机源（测试用）；nil 时使用时间种子
	Rand *rand.Rand

	randOnce sync.Once
	randMu   sync.Mutex
	rng      *rand.Rand
}

func (s *Service) random() *rand.Rand {
	s.randOnce.Do(func() {
		if s.Rand != nil {
			s.rng = s.Rand
			return
		}
		s.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	})
	return s.rng
}

// Sample 为一名用户抽取至多 n 条推荐。
// n <= 0 返回空列表；实际返回 min(n, 过滤后候选数) 条，物品互不重复。
func (s *Service) Sample(ctx context.Context, user string, n int) ([]Sampled, error) {
	if n <= 0 {
		return []Sampled{}, nil
	}

	// 并发取三份数据：推荐行、自身权重行、免推荐行
	var (
		recommendation *core.UserRecommendation
		ownWeights     *core.UserItemWeights
		doNotRecommend *core.UserDoNotRecommend
	)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() (err error) {
		recommendation, err = s.Store.RecommendationForUser(egCtx, user)
		return ignoreNotFound(err)
	})
	eg.Go(func() (err error) {
		ownWeights, err = s.Store.ItemWeightsByUser(egCtx, user)
		return ignoreNotFound(err)
	})
	eg.Go(func() (err error) {
		doNotRecommend, err = s.Store.DoNotRecommendForUser(egCtx, user)
		return ignoreNotFound(err)
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	if recommendation == nil || len(recommendation.Recommendations) == 0 {
		return []Sampled{}, nil
	}

	ownWeightMap := make(map[string]float64)
	if ownWeights != nil {
		ownWeightMap = ownWeights.WeightMap()
	}
	suppressed := make(map[string]struct{})
	if doNotRecommend != nil {
		suppressed = doNotRecommend.Suppressed()
	}

	candidates, err := s.filter(recommendation.Recommendations, suppressed, ownWeightMap)
	if err != nil {
		return nil, err
	}

	s.randMu.Lock()
	drawn := Draw(candidates, n, s.random())
	s.randMu.Unlock()

	out := make([]Sampled, 0, len(drawn))
	for _, iw := range drawn {
		out = append(out, Sampled{
			Item:         iw.Item,
			ItemMetadata: iw.ItemMetadata,
			Score:        iw.Weight, // 原始推荐分，不做归一化调整
		})
	}
	return out, nil
}

func (s *Service) filter(recommendations []core.ItemWeight, suppressed map[string]struct{}, ownWeights map[string]float64) ([]core.ItemWeight, error) {
	out := make([]core.ItemWeight, 0, len(recommendations))
	for _, rec := range recommendations {
		if _, ok := suppressed[rec.Item]; ok {
			continue
		}

		if s.Rule != nil {
			keep, err := s.Rule.Keep(rec, ownWeights[rec.Item])
			if err != nil {
				return nil, err
			}
			if keep {
				out = append(out, rec)
			}
			continue
		}

		if rec.Weight > s.Config.MinKeepWeight || ownWeights[rec.Item] <= s.Config.MaxOwnWeight {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Draw 从候选集中加权无放回地抽取至多 n 个物品。
//
// 每一步抽中某个剩余物品的概率正比于它在当前剩余集合中的权重；
// 零权重物品只有在不存在正权重物品时才会被抽到（此时均匀抽取）。
// 返回的物品互不重复，数量为 min(n, len(candidates))。
func Draw(candidates []core.ItemWeight, n int, rng *rand.Rand) []core.ItemWeight {
	if n > len(candidates) {
		n = len(candidates)
	}

	remaining := make([]core.ItemWeight, len(candidates))
	copy(remaining, candidates)

	out := make([]core.ItemWeight, 0, n)
	for len(out) < n {
		idx := pick(remaining, rng)
		out = append(out, remaining[idx])
		remaining = append(remaining[:idx], remaining[idx+1:]...)
	}
	return out
}

func pick(items []core.ItemWeight, rng *rand.Rand) int {
	var total float64
	for i := range items {
		if items[i].Weight > 0 {
			total += items[i].Weight
		}
	}
	if total <= 0 {
		// 没有正权重候选时退化为均匀抽取
		return rng.Intn(len(items))
	}

	r := rng.Float64() * total
	for i := range items {
		if items[i].Weight <= 0 {
			continue
		}
		r -= items[i].Weight
		if r < 0 {
			return i
		}
	}
	// 浮点累加误差兜底：返回最后一个正权重候选
	for i := len(items) - 1; i >= 0; i-- {
		if items[i].Weight > 0 {
			return i
		}
	}
	return len(items) - 1
}

func ignoreNotFound(err error) error {
	if err == nil || core.IsNotFound(err) {
		return nil
	}
	return err
}
