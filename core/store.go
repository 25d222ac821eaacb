package core

import "context"

// Cursor 是存储查询结果的单趟惰性流。
//
// 约定：
//   - Next 返回下一行；流结束时返回 (nil, nil)
//   - 流不可重置、不可回溯（单趟消费）
//   - 消费完毕或中途放弃都必须调用 Close
//
// 典型消费方式：
//
//	for {
//	    row, err := cur.Next(ctx)
//	    if err != nil { return err }
//	    if row == nil { break }
//	    // 处理 row
//	}
type Cursor[T any] interface {
	Next(ctx context.Context) (*T, error)
	Close() error
}

// Store 是文档存储的领域接口。
//
// 设计原则：
//   - 定义在领域层（core），由基础设施层（store）实现
//   - 遵循依赖倒置原则：领域层定义接口，基础设施层实现接口
//   - 按集合提供类型化方法，而不是暴露泛化的集合操作
//   - 无界的按用户集合只以 Cursor 流式读取，避免整张矩阵进内存
//
// 实现：
//   - store.MemoryStore 实现此接口（测试/开发/原型）
//   - store.RedisStore 实现此接口（生产）
type Store interface {
	// Name 返回存储后端名称（用于日志/监控）
	Name() string

	// —— 原始行为日志（append-only）——

	// AppendActivity 追加一条行为事件
	AppendActivity(ctx context.Context, activity *RawActivity) error

	// RemoveActivity 删除所有匹配 (user, item, action) 的行为事件
	RemoveActivity(ctx context.Context, user, item, action string) error

	// ActivityByUser 流式读取一名用户的全部行为事件
	ActivityByUser(ctx context.Context, user string) (Cursor[RawActivity], error)

	// DistinctActivityUsers 枚举所有有行为记录的用户 ID，排除 excluding 中的用户
	DistinctActivityUsers(ctx context.Context, excluding map[string]struct{}) ([]string, error)

	// —— 用户物品权重（每轮全量重建）——

	// DropItemWeights 清空权重集合
	DropItemWeights(ctx context.Context) error

	// InsertItemWeights 写入一名用户的权重行
	InsertItemWeights(ctx context.Context, row *UserItemWeights) error

	// ItemWeightsByUser 点查一名用户的权重行；不存在时返回 NOT_FOUND
	ItemWeightsByUser(ctx context.Context, user string) (*UserItemWeights, error)

	// ItemWeightsByItems 流式读取与任一物品重叠的权重行（物品→用户倒排索引）。
	// 用于相似度候选枚举：避免与零重叠用户做无谓比较。
	ItemWeightsByItems(ctx context.Context, items []string) (Cursor[UserItemWeights], error)

	// ItemWeightsByUsers 流式读取指定用户集合的权重行
	ItemWeightsByUsers(ctx context.Context, users []string) (Cursor[UserItemWeights], error)

	// —— 用户相似度（每轮全量重建）——

	// DropSimilarities 清空相似度集合
	DropSimilarities(ctx context.Context) error

	// InsertSimilarities 批量写入相似度行
	InsertSimilarities(ctx context.Context, rows []UserSimilarity) error

	// SimilaritiesForUser 读取包含该用户且 Similarity > floor 的所有相似度行
	SimilaritiesForUser(ctx context.Context, user string, floor float64) ([]UserSimilarity, error)

	// —— 用户推荐（每轮全量重建）——

	// DropRecommendations 清空推荐集合
	DropRecommendations(ctx context.Context) error

	// InsertRecommendation 写入一名用户的推荐行
	InsertRecommendation(ctx context.Context, row *UserRecommendation) error

	// RecommendationForUser 点查一名用户的推荐行；不存在时返回 NOT_FOUND
	RecommendationForUser(ctx context.Context, user string) (*UserRecommendation, error)

	// —— 免推荐列表（append-only，幂等）——

	// AddDoNotRecommend 幂等地追加一项免推荐（同一物品不会重复）
	AddDoNotRecommend(ctx context.Context, user string, item SuppressedItem) error

	// DoNotRecommendForUser 点查一名用户的免推荐列表；不存在时返回 NOT_FOUND
	DoNotRecommendForUser(ctx context.Context, user string) (*UserDoNotRecommend, error)

	// —— 忽略用户（机器人/管理员等，排除出所有批处理阶段）——

	// AddIgnoredUser 把用户加入忽略集合
	AddIgnoredUser(ctx context.Context, user string) error

	// RemoveIgnoredUser 把用户移出忽略集合
	RemoveIgnoredUser(ctx context.Context, user string) error

	// IgnoredUsers 返回忽略集合（每轮批处理开始时查询一次）
	IgnoredUsers(ctx context.Context) (map[string]struct{}, error)

	// Close 关闭连接/释放资源
	Close() error
}

// Store 错误定义（使用统一的 DomainError）
var (
	// ErrStoreNotFound 表示行不存在
	ErrStoreNotFound = NewDomainError(ModuleStore, ErrorCodeNotFound, "store: row not found")
)
