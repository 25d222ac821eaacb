// Package recbatch 是一个离线批处理的协同过滤推荐引擎（Recommender Batch）。
//
// 设计要点：
// - Batch-first: 三个全量重算阶段顺序执行（Activity → Similarity → Recommend），采样独立于流水线按需读取
// - Streaming-first: 按用户的无界集合只以游标流式消费，整张行为/权重矩阵永不进内存
// - Store 可插拔: 领域接口定义在 core，内存/Redis 后端在 store（自定义后端实现 core.Store 即可）
package recbatch

import "github.com/rushteam/recbatch/core"

// 轻量 facade：便于用户直接 import "recbatch" 使用核心抽象。
type Store = core.Store
type Config = core.Config
type DecayConfig = core.DecayConfig
type SampleConfig = core.SampleConfig
type ActionWeights = core.ActionWeights

type RawActivity = core.RawActivity
type ItemWeight = core.ItemWeight
type UserItemWeights = core.UserItemWeights
type UserSimilarity = core.UserSimilarity
type UserRecommendation = core.UserRecommendation
type UserDoNotRecommend = core.UserDoNotRecommend
