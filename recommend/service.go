package recommend

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/rushteam/recbatch/core"
)

// SimilarityFloor 是读取相似度边时的相关性下限：
// 只有 Similarity 严格大于该值的邻居才参与推荐聚合。
const SimilarityFloor = 0.1

// Service 是推荐聚合阶段：把相似邻居的物品权重按相似度加权累加成推荐集合。
//
// 算法流程：
//  1. 清空 UserRecommendation 集合
//  2. 枚举所有有行为记录且未被忽略的用户
//  3. 每名用户（受并发上限约束）：
//     a. 读取 Similarity > SimilarityFloor 的相似度行，取出对中的邻居一侧
//     b. 流式读取这批邻居的权重行
//     c. 对每个邻居物品累加 contribution = 邻居权重 × 相似度（首次出现填充元数据）
//     d. 只保留聚合权重严格为正的物品，落一行（没有合格邻居也落空行）
//
// 推荐不排除用户自己已持有的物品；压制已看够的物品是采样层的职责。
type Service struct {
	Store core.Store

	// Concurrency 是并发处理的用户数上限；<= 0 时使用 core.DefaultConcurrency
	Concurrency int
}

func (s *Service) Name() string { return "stage.recommend" }

func (s *Service) concurrency() int {
	if s.Concurrency <= 0 {
		return core.DefaultConcurrency
	}
	return s.Concurrency
}

// Recalculate 全量重建所有用户的推荐行。
// drop 与重建不在一个事务里，并发读方可能观察到部分重建的集合。
func (s *Service) Recalculate(ctx context.Context) error {
	if err := s.Store.DropRecommendations(ctx); err != nil {
		return fmt.Errorf("drop recommendations: %w", err)
	}

	ignored, err := s.Store.IgnoredUsers(ctx)
	if err != nil {
		return fmt.Errorf("load ignored users: %w", err)
	}
	users, err := s.Store.DistinctActivityUsers(ctx, ignored)
	if err != nil {
		return fmt.Errorf("enumerate users: %w", err)
	}

	eg, ctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, s.concurrency())

	for _, user := range users {
		user := user
		eg.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()
			return s.recalculateUser(ctx, user)
		})
	}

	return eg.Wait()
}

func (s *Service) recalculateUser(ctx context.Context, user string) error {
	sims, err := s.Store.SimilaritiesForUser(ctx, user, SimilarityFloor)
	if err != nil {
		return fmt.Errorf("similarities for %s: %w", user, err)
	}

	// 把相似度对解析成 邻居 → 相似度
	neighbors := make(map[string]float64, len(sims))
	neighborIDs := make([]string, 0, len(sims))
	for i := range sims {
		other := sims[i].Other(user)
		if other == user {
			continue
		}
		if _, ok := neighbors[other]; !ok {
			neighborIDs = append(neighborIDs, other)
		}
		neighbors[other] = sims[i].Similarity
	}

	itemMap := make(map[string]*core.ItemWeight)
	var order []string // 首次出现顺序，保证输出可复现

	if len(neighborIDs) > 0 {
		cur, err := s.Store.ItemWeightsByUsers(ctx, neighborIDs)
		if err != nil {
			return fmt.Errorf("neighbor weights for %s: %w", user, err)
		}
		defer cur.Close()

		for {
			row, err := cur.Next(ctx)
			if err != nil {
				return fmt.Errorf("neighbor weights for %s: %w", user, err)
			}
			if row == nil {
				break
			}

			similarity := neighbors[row.User]
			for _, iw := range row.ItemWeights {
				rec, ok := itemMap[iw.Item]
				if !ok {
					rec = &core.ItemWeight{Item: iw.Item, ItemMetadata: iw.ItemMetadata}
					itemMap[iw.Item] = rec
					order = append(order, iw.Item)
				}
				rec.Weight += iw.Weight * similarity
			}
		}
	}

	recommendations := make([]core.ItemWeight, 0, len(order))
	for _, item := range order {
		if rec := itemMap[item]; rec.Weight > 0 {
			recommendations = append(recommendations, *rec)
		}
	}

	return s.Store.InsertRecommendation(ctx, &core.UserRecommendation{
		User:            user,
		Recommendations: recommendations,
	})
}

// MarkDoNotRecommend 把一个物品幂等地加入用户的免推荐列表，
// 之后的采样不会再返回它。
func (s *Service) MarkDoNotRecommend(ctx context.Context, user, item string, metadata any) error {
	return s.Store.AddDoNotRecommend(ctx, user, core.SuppressedItem{
		Item:         item,
		ItemMetadata: metadata,
	})
}
