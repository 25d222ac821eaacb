package activity

import (
	"math"
	"time"

	"github.com/rushteam/recbatch/core"
)

// AgeDays 返回事件距今的整数天数。
// 时钟漂移导致的未来时间按 0 天处理，永不为负。
func AgeDays(now, occurredAt time.Time) int {
	days := int(now.Sub(occurredAt).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// DecayedWeight 根据行为类型与事件年龄计算一次交互的权重贡献。
//
// 衰减曲线为反转的三次缓动（可配置指数/系数）：
//   - ageDays > MaxDays 时权重为 0（完全老化）
//   - ageDays = 0 时 percentage = 1
//   - 返回值 >= 0
func DecayedWeight(action string, ageDays int, decay core.DecayConfig, weights core.ActionWeights) float64 {
	if ageDays > decay.MaxDays {
		return 0
	}

	// 0 到 1 之间
	relativeAge := float64(ageDays) / float64(decay.MaxDays)

	var percentage float64
	if relativeAge < 0.5 {
		percentage = 1 - decay.Easing*math.Pow(relativeAge, decay.Exponent)
	} else {
		percentage = decay.Easing * math.Pow(1-relativeAge, decay.Exponent)
	}
	if percentage < 0 {
		percentage = 0
	}

	return weights.Weight(action) * percentage
}
