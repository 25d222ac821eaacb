package core

import "errors"

// DomainError 是领域层的统一错误类型。
//
// 设计原则：
//   - 所有领域层错误都使用此类型
//   - 提供错误代码（Code）和消息（Message）
//   - 支持错误检查函数（IsXXX）
//   - 存储后端错误通过 Err 保留原始错误链（errors.Is/As 可穿透）
//
// 使用场景：
//   - Store 错误：NOT_FOUND, STORAGE_ERROR
//   - 配置错误：INVALID_CONFIG（非法衰减参数、无法编译的采样规则等）
type DomainError struct {
	Code    string // 错误代码（如 "NOT_FOUND", "STORAGE_ERROR"）
	Message string // 错误消息
	Module  string // 模块名称（如 "store", "config", "sample"）
	Err     error  // 底层错误（可选）
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// IsDomainError 检查错误链中是否包含 DomainError
func IsDomainError(err error) bool {
	return GetDomainError(err) != nil
}

// GetDomainError 从错误链中取出 DomainError，没有则返回 nil
func GetDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return nil
}

// NewDomainError 创建新的领域错误
func NewDomainError(module, code, message string) *DomainError {
	return &DomainError{
		Module:  module,
		Code:    code,
		Message: message,
	}
}

// WrapStorageError 把存储后端错误包装为 STORAGE_ERROR 领域错误。
func WrapStorageError(message string, err error) *DomainError {
	return &DomainError{
		Module:  ModuleStore,
		Code:    ErrorCodeStorage,
		Message: message,
		Err:     err,
	}
}

// 错误代码常量
const (
	ErrorCodeNotFound      = "NOT_FOUND"      // 资源不存在
	ErrorCodeStorage       = "STORAGE_ERROR"  // 存储读写失败
	ErrorCodeInvalidConfig = "INVALID_CONFIG" // 配置无效
	ErrorCodeInternalError = "INTERNAL_ERROR" // 内部错误
)

// 模块名称常量
const (
	ModuleStore  = "store"  // 存储模块
	ModuleConfig = "config" // 配置模块
	ModuleSample = "sample" // 采样模块
)

// 通用错误检查函数

// IsNotFound 检查错误是否为 NOT_FOUND
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	if domainErr := GetDomainError(err); domainErr != nil {
		return domainErr.Code == ErrorCodeNotFound
	}
	return false
}

// IsStorageError 检查错误是否为 STORAGE_ERROR
func IsStorageError(err error) bool {
	if err == nil {
		return false
	}
	if domainErr := GetDomainError(err); domainErr != nil {
		return domainErr.Code == ErrorCodeStorage
	}
	return false
}

// IsInvalidConfig 检查错误是否为 INVALID_CONFIG
func IsInvalidConfig(err error) bool {
	if err == nil {
		return false
	}
	if domainErr := GetDomainError(err); domainErr != nil {
		return domainErr.Code == ErrorCodeInvalidConfig
	}
	return false
}
