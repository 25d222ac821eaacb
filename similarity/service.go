package similarity

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/rushteam/recbatch/core"
)

// Service 是相似度阶段：对每个有重叠物品的无序用户对计算余弦相似度。
//
// 算法流程：
//  1. 清空 UserSimilarity 集合
//  2. 枚举所有有行为记录且未被忽略的用户
//  3. 每名用户 u1（受并发上限约束）：
//     a. 读取 u1 的权重行（缺行按空向量、零行权重处理）
//     b. 通过物品→用户倒排索引流式枚举与 u1 至少重叠一个物品的其他用户
//     c. 对每个候选 u2：跳过自身；原子认领规范对键，已被认领则跳过
//     d. 余弦相似度 = Σ w1·w2 / (rowWeight1 · rowWeight2)，任一行权重为 0 时定义为 0
//     e. 流结束后把本 worker 认领的相似度行批量落库
//
// 去重正确性：一轮跑完后落库的行数恰好等于有非零物品重叠的无序用户对数，
// 每对恰好一次，即使多个 worker 并发地从两个方向处理同一对。
type Service struct {
	Store core.Store

	// Concurrency 是并发处理的用户数上限；<= 0 时使用 core.DefaultConcurrency
	Concurrency int
}

func (s *Service) Name() string { return "stage.similarity" }

func (s *Service) concurrency() int {
	if s.Concurrency <= 0 {
		return core.DefaultConcurrency
	}
	return s.Concurrency
}

// Recalculate 全量重建所有用户对的相似度行。
// drop 与重建不在一个事务里，并发读方可能观察到部分重建的集合。
func (s *Service) Recalculate(ctx context.Context) error {
	if err := s.Store.DropSimilarities(ctx); err != nil {
		return fmt.Errorf("drop similarities: %w", err)
	}

	ignored, err := s.Store.IgnoredUsers(ctx)
	if err != nil {
		return fmt.Errorf("load ignored users: %w", err)
	}
	users, err := s.Store.DistinctActivityUsers(ctx, ignored)
	if err != nil {
		return fmt.Errorf("enumerate users: %w", err)
	}

	claims := NewClaimedPairs()

	eg, ctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, s.concurrency())

	for _, user := range users {
		user := user
		eg.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()
			return s.recalculateUser(ctx, user, claims)
		})
	}

	return eg.Wait()
}

func (s *Service) recalculateUser(ctx context.Context, user string, claims *ClaimedPairs) error {
	row, err := s.Store.ItemWeightsByUser(ctx, user)
	if err != nil && !core.IsNotFound(err) {
		return fmt.Errorf("item weights for %s: %w", user, err)
	}
	if row == nil || len(row.ItemWeights) == 0 {
		// 空向量没有重叠候选
		return nil
	}

	weights := row.WeightMap()
	rowWeight := row.RowWeight

	cur, err := s.Store.ItemWeightsByItems(ctx, row.Items())
	if err != nil {
		return fmt.Errorf("overlap stream for %s: %w", user, err)
	}
	defer cur.Close()

	var batch []core.UserSimilarity
	for {
		other, err := cur.Next(ctx)
		if err != nil {
			return fmt.Errorf("overlap stream for %s: %w", user, err)
		}
		if other == nil {
			break
		}
		if other.User == user {
			continue
		}
		if !claims.Claim(core.PairKey(user, other.User)) {
			continue
		}

		batch = append(batch, core.UserSimilarity{
			Users:      [2]string{user, other.User},
			Similarity: Cosine(weights, rowWeight, other),
		})
	}

	if len(batch) == 0 {
		return nil
	}
	if err := s.Store.InsertSimilarities(ctx, batch); err != nil {
		return fmt.Errorf("insert similarities for %s: %w", user, err)
	}
	return nil
}

// Cosine 计算一名用户的权重映射与另一名用户权重行的余弦相似度。
// 任一行权重为 0 时定义为 0，避免除零。
func Cosine(weights map[string]float64, rowWeight float64, other *core.UserItemWeights) float64 {
	if rowWeight == 0 || other.RowWeight == 0 {
		return 0
	}

	var matrixSum float64
	for _, iw := range other.ItemWeights {
		if w, ok := weights[iw.Item]; ok {
			matrixSum += w * iw.Weight
		}
	}

	return matrixSum / (rowWeight * other.RowWeight)
}
