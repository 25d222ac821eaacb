package similarity

import "sync"

// ClaimedPairs 记录一轮重算中已被认领的无序用户对。
//
// 这是相似度阶段跨 worker 共享的唯一状态：check-and-claim 必须
// 在一次加锁内完成，保证并发 worker 从两个方向遇到同一对时
// 只有一个会计算并落库。
type ClaimedPairs struct {
	mu      sync.Mutex
	claimed map[string]struct{}
}

func NewClaimedPairs() *ClaimedPairs {
	return &ClaimedPairs{claimed: make(map[string]struct{})}
}

// Claim 原子地检查并认领一个规范对键。
// 首次认领返回 true；该键已被任意 worker 认领过则返回 false。
func (c *ClaimedPairs) Claim(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.claimed[key]; ok {
		return false
	}
	c.claimed[key] = struct{}{}
	return true
}

// Len 返回已认领的对数。
func (c *ClaimedPairs) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.claimed)
}
