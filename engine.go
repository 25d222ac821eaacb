package recbatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/rushteam/recbatch/activity"
	"github.com/rushteam/recbatch/core"
	"github.com/rushteam/recbatch/recommend"
	"github.com/rushteam/recbatch/sample"
	"github.com/rushteam/recbatch/similarity"
)

// Stage 是批处理流水线中的一个全量重算阶段。
type Stage interface {
	// Name 返回阶段名称（用于错误信息/观测）
	Name() string

	// Recalculate 全量重建该阶段拥有的集合
	Recalculate(ctx context.Context) error
}

// Engine 是引擎的对外入口，把三个重算阶段与采样器组装在一个存储后端上。
//
// 配置修改（SetConcurrency / SetDecayConfig / SetActionWeight / SetSampleConfig）
// 只影响之后发起的运行：每次 RecalculateAll 在入口处对配置做一次快照，
// 以显式值传入各阶段，运行中途改配置不会影响进行中的这一轮。
type Engine struct {
	store core.Store

	mu      sync.Mutex
	cfg     core.Config
	sampler *sample.Service
}

// New 创建一个使用默认配置的引擎。
func New(store core.Store) (*Engine, error) {
	return NewWithConfig(store, core.DefaultConfig())
}

// NewWithConfig 创建一个引擎并校验配置（包括采样保留规则的编译）。
func NewWithConfig(store core.Store, cfg core.Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ActionWeights == nil {
		cfg.ActionWeights = make(core.ActionWeights)
	}

	e := &Engine{store: store, cfg: cfg}
	if err := e.rebuildSampler(); err != nil {
		return nil, err
	}
	return e, nil
}

// rebuildSampler 按当前配置重建采样器，调用方持有 e.mu 或处于构造期。
func (e *Engine) rebuildSampler() error {
	var rule *sample.KeepRule
	if e.cfg.Sample.KeepRule != "" {
		compiled, err := sample.CompileKeepRule(e.cfg.Sample.KeepRule)
		if err != nil {
			return err
		}
		rule = compiled
	}
	e.sampler = &sample.Service{
		Store:  e.store,
		Config: e.cfg.Sample,
		Rule:   rule,
	}
	return nil
}

func (e *Engine) snapshot() core.Config {
	e.mu.Lock()
	defer e.mu.Unlock()

	cfg := e.cfg
	weights := make(core.ActionWeights, len(e.cfg.ActionWeights))
	for action, weight := range e.cfg.ActionWeights {
		weights[action] = weight
	}
	cfg.ActionWeights = weights
	return cfg
}

// LogActivity 追加一条用户行为事件。
func (e *Engine) LogActivity(ctx context.Context, user, item string, metadata any, action string) error {
	svc := &activity.Service{Store: e.store}
	return svc.Log(ctx, user, item, metadata, action)
}

// RemoveActivity 删除所有匹配 (user, item, action) 的行为事件。
func (e *Engine) RemoveActivity(ctx context.Context, user, item, action string) error {
	svc := &activity.Service{Store: e.store}
	return svc.Remove(ctx, user, item, action)
}

// RecalculateAll 依次运行三个重算阶段：行为聚合 → 相似度 → 推荐聚合。
// 每个阶段完全结束后才开始下一个；任一阶段失败立即短路返回，
// 后续阶段不会执行。
func (e *Engine) RecalculateAll(ctx context.Context) error {
	cfg := e.snapshot()

	stages := []Stage{
		&activity.Service{
			Store:         e.store,
			Concurrency:   cfg.Concurrency,
			Decay:         cfg.Decay,
			ActionWeights: cfg.ActionWeights,
		},
		&similarity.Service{
			Store:       e.store,
			Concurrency: cfg.Concurrency,
		},
		&recommend.Service{
			Store:       e.store,
			Concurrency: cfg.Concurrency,
		},
	}

	for _, stage := range stages {
		if err := stage.Recalculate(ctx); err != nil {
			return fmt.Errorf("%s: %w", stage.Name(), err)
		}
	}
	return nil
}

// SetConcurrency 更新之后的运行使用的阶段并发上限。
func (e *Engine) SetConcurrency(n int) error {
	if n <= 0 {
		return core.NewDomainError(core.ModuleConfig, core.ErrorCodeInvalidConfig, "config: concurrency must be positive")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.Concurrency = n
	return nil
}

// SetDecayConfig 更新之后的运行使用的时间衰减配置。
func (e *Engine) SetDecayConfig(decay core.DecayConfig) error {
	if err := decay.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.Decay = decay
	return nil
}

// SetActionWeight 更新某个行为类型的基础权重。
func (e *Engine) SetActionWeight(action string, weight float64) error {
	if weight < 0 {
		return core.NewDomainError(core.ModuleConfig, core.ErrorCodeInvalidConfig, "config: negative weight for action "+action)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.ActionWeights[action] = weight
	return nil
}

// SetSampleConfig 更新采样过滤配置（保留规则在此处编译校验）。
func (e *Engine) SetSampleConfig(cfg core.SampleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	old := e.cfg.Sample
	e.cfg.Sample = cfg
	if err := e.rebuildSampler(); err != nil {
		e.cfg.Sample = old
		return err
	}
	return nil
}

// SampleForUser 为一名用户加权无放回地抽取至多 n 条推荐。
// n <= 0 时使用默认数量 sample.DefaultSampleSize。
// 推荐行/权重行/免推荐行缺失都按空处理，永不因缺行报错。
func (e *Engine) SampleForUser(ctx context.Context, user string, n int) ([]sample.Sampled, error) {
	if n <= 0 {
		n = sample.DefaultSampleSize
	}
	e.mu.Lock()
	sampler := e.sampler
	e.mu.Unlock()
	return sampler.Sample(ctx, user, n)
}

// RecommendationsForUser 点查一名用户的完整推荐行。
// 从未跑过流水线的用户返回 NOT_FOUND（core.IsNotFound 判断）。
func (e *Engine) RecommendationsForUser(ctx context.Context, user string) (*core.UserRecommendation, error) {
	return e.store.RecommendationForUser(ctx, user)
}

// MarkDoNotRecommend 把一个物品幂等地加入用户的免推荐列表。
func (e *Engine) MarkDoNotRecommend(ctx context.Context, user, item string, metadata any) error {
	svc := &recommend.Service{Store: e.store}
	return svc.MarkDoNotRecommend(ctx, user, item, metadata)
}

// IgnoreUser 把用户加入忽略集合，之后的重算阶段不再处理该用户。
func (e *Engine) IgnoreUser(ctx context.Context, user string) error {
	return e.store.AddIgnoredUser(ctx, user)
}

// UnignoreUser 把用户移出忽略集合。
func (e *Engine) UnignoreUser(ctx context.Context, user string) error {
	return e.store.RemoveIgnoredUser(ctx, user)
}
