// Package apperr 定义核心链路的错误分类，router 据此映射 HTTP 状态码。
package apperr

import (
	"errors"
	"fmt"
)

// ValidationError 输入缺失或非法，调用方可修正后重试（4xx）。
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

// Validation 构造字段级校验错误。
func Validation(field, msg string) error {
	return &ValidationError{Field: field, Msg: msg}
}

// PersistenceError 存储不可用或事务中止，无部分状态残留，可重试。
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Persistence 包装一次存储操作失败。
func Persistence(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}

// ProviderError 支付 provider 不可达或返回脏数据。
// 只向 /payment/initiate 的调用方暴露，绝不回传给 provider 回调。
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Provider 包装一次 provider 调用失败。
func Provider(op string, err error) error {
	return &ProviderError{Op: op, Err: err}
}

var (
	// ErrNotFound 引用的订单 / correlation id 不存在。
	ErrNotFound = errors.New("not found")
	// ErrCartEmpty 结算时购物车为空（含并发双提交时后到者观察到的空车）。
	ErrCartEmpty = errors.New("cart is empty")
	// ErrDuplicateEvent 重复回调事件：按成功处理，不再落任何变更。
	ErrDuplicateEvent = errors.New("duplicate event")
)

// IsValidation 判断是否为输入校验类错误。
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
