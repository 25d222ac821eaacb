// Package config 从 YAML 加载引擎配置。
//
// 示例：
//
//	concurrency: 4
//	decay:
//	  max_days: 180
//	  exponent: 3
//	  easing: 2
//	action_weights:
//	  view: 1
//	  purchase: 5
//	sample:
//	  min_keep_weight: 0.5
//	  max_own_weight: 2
//	  keep_rule: 'rec.weight > 0.5 || own.weight <= 2.0'
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rushteam/recbatch/core"
)

// Parse 解析 YAML 配置。未出现的字段保持默认值；解析后做整体校验。
func Parse(data []byte) (*core.Config, error) {
	cfg := core.DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if cfg.ActionWeights == nil {
		cfg.ActionWeights = make(core.ActionWeights)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load 从文件加载引擎配置。
func Load(path string) (*core.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}
