package core

// 配置以显式值的方式传入每个阶段入口，而不是进程级可变状态，
// 并发运行（例如测试里）互不干扰。一次流水线执行期间配置视为固定。

// DefaultConcurrency 是每个批处理阶段的默认并发用户数。
const DefaultConcurrency = 2

// DefaultActionWeight 是未配置行为类型的基础权重。
const DefaultActionWeight = 1.0

// DecayConfig 是时间衰减（age-off）配置。
//
// 权重曲线为反转的三次缓动：
//   - relativeAge < 0.5 时：percentage = 1 - Easing * relativeAge^Exponent
//   - 否则：                percentage = Easing * (1 - relativeAge)^Exponent
//
// 超过 MaxDays 的事件权重为 0（完全老化）。
type DecayConfig struct {
	MaxDays  int     `yaml:"max_days" json:"max_days"`   // 事件的最大有效天数
	Exponent float64 `yaml:"exponent" json:"exponent"`   // 缓动指数
	Easing   float64 `yaml:"easing" json:"easing"`       // 缓动系数
}

// DefaultDecayConfig 返回默认的衰减配置 {MaxDays: 180, Exponent: 3, Easing: 2}。
func DefaultDecayConfig() DecayConfig {
	return DecayConfig{
		MaxDays:  180,
		Exponent: 3,
		Easing:   2,
	}
}

// Validate 校验衰减配置。
func (c DecayConfig) Validate() error {
	if c.MaxDays <= 0 {
		return NewDomainError(ModuleConfig, ErrorCodeInvalidConfig, "config: decay max_days must be positive")
	}
	if c.Exponent <= 0 {
		return NewDomainError(ModuleConfig, ErrorCodeInvalidConfig, "config: decay exponent must be positive")
	}
	if c.Easing <= 0 {
		return NewDomainError(ModuleConfig, ErrorCodeInvalidConfig, "config: decay easing must be positive")
	}
	return nil
}

// ActionWeights 按行为类型覆盖基础权重；未配置的行为类型使用 DefaultActionWeight。
type ActionWeights map[string]float64

// Weight 返回某个行为类型的基础权重。
func (w ActionWeights) Weight(action string) float64 {
	if weight, ok := w[action]; ok {
		return weight
	}
	return DefaultActionWeight
}

// SampleConfig 是采样阶段的过滤配置。
//
// 候选保留条件（二者满足其一）：
//   - 推荐权重 > MinKeepWeight（推荐信号足够强）
//   - 用户自身权重 <= MaxOwnWeight（"还没看够"）
//
// KeepRule 非空时以 CEL 表达式覆盖上述阈值判断，
// 可用变量：rec.item / rec.weight / own.weight。
type SampleConfig struct {
	MinKeepWeight float64 `yaml:"min_keep_weight" json:"min_keep_weight"`
	MaxOwnWeight  float64 `yaml:"max_own_weight" json:"max_own_weight"`
	KeepRule      string  `yaml:"keep_rule,omitempty" json:"keep_rule,omitempty"`
}

// DefaultSampleConfig 返回默认的采样配置 {MinKeepWeight: 0.5, MaxOwnWeight: 2}。
func DefaultSampleConfig() SampleConfig {
	return SampleConfig{
		MinKeepWeight: 0.5,
		MaxOwnWeight:  2,
	}
}

// Config 是引擎的完整配置。
type Config struct {
	// Concurrency 是三个批处理阶段共用的并发用户数上限
	Concurrency int `yaml:"concurrency" json:"concurrency"`

	// Decay 是时间衰减配置
	Decay DecayConfig `yaml:"decay" json:"decay"`

	// ActionWeights 是按行为类型的基础权重覆盖
	ActionWeights ActionWeights `yaml:"action_weights,omitempty" json:"action_weights,omitempty"`

	// Sample 是采样过滤配置
	Sample SampleConfig `yaml:"sample" json:"sample"`
}

// DefaultConfig 返回引擎的默认配置。
func DefaultConfig() Config {
	return Config{
		Concurrency:   DefaultConcurrency,
		Decay:         DefaultDecayConfig(),
		ActionWeights: make(ActionWeights),
		Sample:        DefaultSampleConfig(),
	}
}

// Validate 校验整个引擎配置。
func (c *Config) Validate() error {
	if c.Concurrency <= 0 {
		return NewDomainError(ModuleConfig, ErrorCodeInvalidConfig, "config: concurrency must be positive")
	}
	for action, weight := range c.ActionWeights {
		if weight < 0 {
			return NewDomainError(ModuleConfig, ErrorCodeInvalidConfig, "config: negative weight for action "+action)
		}
	}
	return c.Decay.Validate()
}
