package activity

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rushteam/recbatch/core"
)

// Service 是行为聚合阶段：把每名用户的原始行为流折叠成稀疏物品权重向量。
//
// 算法流程：
//  1. 清空 UserItemWeights 集合
//  2. 枚举所有有行为记录且未被忽略的用户
//  3. 每名用户（受并发上限约束）：流式消费其行为事件，
//     经衰减模型折叠成 item → weight 映射，算出 L2 行权重后落一行
//
// 单个用户的流读取失败会让整个阶段失败（不允许未察觉的数据缺失），
// 但不会回滚已经写完的其他用户的行。
type Service struct {
	Store core.Store

	// Concurrency 是并发处理的用户数上限；<= 0 时使用 core.DefaultConcurrency
	Concurrency int

	// Decay 是时间衰减配置
	Decay core.DecayConfig

	// ActionWeights 是按行为类型的基础权重覆盖
	ActionWeights core.ActionWeights

	// Now 可注入当前时间（测试用）；nil 时使用 time.Now
	Now func() time.Time
}

func (s *Service) Name() string { return "stage.activity" }

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) concurrency() int {
	if s.Concurrency <= 0 {
		return core.DefaultConcurrency
	}
	return s.Concurrency
}

// Log 追加一条用户行为事件。
func (s *Service) Log(ctx context.Context, user, item string, metadata any, action string) error {
	return s.Store.AppendActivity(ctx, &core.RawActivity{
		User:         user,
		Item:         item,
		ItemMetadata: metadata,
		Action:       action,
		OccurredAt:   s.now(),
	})
}

// Remove 删除所有匹配 (user, item, action) 的行为事件。
func (s *Service) Remove(ctx context.Context, user, item, action string) error {
	return s.Store.RemoveActivity(ctx, user, item, action)
}

// Recalculate 全量重建所有用户的物品权重行。
//
// 注意：drop 与重建不在一个事务里，并发读方可能观察到部分重建的集合；
// 对批处理作业可接受。
func (s *Service) Recalculate(ctx context.Context) error {
	if err := s.Store.DropItemWeights(ctx); err != nil {
		return fmt.Errorf("drop item weights: %w", err)
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
	cur, err := s.Store.ActivityByUser(ctx, user)
	if err != nil {
		return fmt.Errorf("activity stream for %s: %w", user, err)
	}
	defer cur.Close()

	now := s.now()
	itemMap := make(map[string]*core.ItemWeight)
	var order []string // 首次出现顺序，保证输出可复现

	for {
		row, err := cur.Next(ctx)
		if err != nil {
			return fmt.Errorf("activity stream for %s: %w", user, err)
		}
		if row == nil {
			break
		}

		iw, ok := itemMap[row.Item]
		if !ok {
			// 首次出现的事件负责填充元数据
			iw = &core.ItemWeight{Item: row.Item, ItemMetadata: row.ItemMetadata}
			itemMap[row.Item] = iw
			order = append(order, row.Item)
		}
		// 权重只累加，从不覆盖
		iw.Weight += DecayedWeight(row.Action, AgeDays(now, row.OccurredAt), s.Decay, s.ActionWeights)
	}

	itemWeights := make([]core.ItemWeight, 0, len(order))
	var sumSquares float64
	for _, item := range order {
		iw := itemMap[item]
		itemWeights = append(itemWeights, *iw)
		sumSquares += iw.Weight * iw.Weight
	}

	return s.Store.InsertItemWeights(ctx, &core.UserItemWeights{
		User:        user,
		ItemWeights: itemWeights,
		RowWeight:   math.Sqrt(sumSquares),
	})
}
