package sample

import (
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/rushteam/recbatch/core"
)

var (
	// celEnv 是全局的 CEL 环境，线程安全，可复用
	celEnv     *cel.Env
	celEnvOnce sync.Once
	celEnvErr  error
)

func getCELEnv() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = cel.NewEnv(
			cel.Variable("rec", cel.DynType),
			cel.Variable("own", cel.DynType),
		)
	})
	return celEnv, celEnvErr
}

// KeepRule 是编译后的候选保留规则，使用 CEL (Common Expression Language) 表达。
// 表达式编译一次后可被并发复用。
//
// 可用变量：
//   - rec.item   候选物品 ID
//   - rec.weight 候选的推荐权重
//   - own.weight 用户自身对该物品的权重（没有时为 0）
//
// 示例：
//   - `rec.weight > 0.5 || own.weight <= 2.0` （等价于默认阈值判断）
//   - `rec.weight > 1.0 && own.weight == 0.0` （只推强信号的新物品）
type KeepRule struct {
	expr string
	prg  cel.Program
}

// CompileKeepRule 编译一条保留规则表达式。
// 表达式非法时返回 INVALID_CONFIG 领域错误。
func CompileKeepRule(expr string) (*KeepRule, error) {
	env, err := getCELEnv()
	if err != nil {
		return nil, &core.DomainError{
			Module:  core.ModuleSample,
			Code:    core.ErrorCodeInternalError,
			Message: "sample: cel environment",
			Err:     err,
		}
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, &core.DomainError{
			Module:  core.ModuleConfig,
			Code:    core.ErrorCodeInvalidConfig,
			Message: "sample: invalid keep rule " + expr,
			Err:     issues.Err(),
		}
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, &core.DomainError{
			Module:  core.ModuleConfig,
			Code:    core.ErrorCodeInvalidConfig,
			Message: "sample: invalid keep rule " + expr,
			Err:     err,
		}
	}

	return &KeepRule{expr: expr, prg: prg}, nil
}

// Keep 对一条候选求值，返回是否保留。
func (r *KeepRule) Keep(rec core.ItemWeight, ownWeight float64) (bool, error) {
	out, _, err := r.prg.Eval(map[string]any{
		"rec": map[string]any{
			"item":   rec.Item,
			"weight": rec.Weight,
		},
		"own": map[string]any{
			"weight": ownWeight,
		},
	})
	if err != nil {
		return false, &core.DomainError{
			Module:  core.ModuleSample,
			Code:    core.ErrorCodeInternalError,
			Message: "sample: keep rule eval " + r.expr,
			Err:     err,
		}
	}

	keep, ok := out.Value().(bool)
	if !ok {
		return false, core.NewDomainError(core.ModuleConfig, core.ErrorCodeInvalidConfig,
			"sample: keep rule must return boolean: "+r.expr)
	}
	return keep, nil
}
