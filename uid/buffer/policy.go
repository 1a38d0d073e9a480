package buffer

import (
	"context"

	"github.com/pkg/errors"
)

const (
	PutPolicyLog     = "log"
	PutPolicyDiscard = "discard"

	TakePolicyBlock    = "block"
	TakePolicyError    = "error"
	TakePolicyFallback = "fallback"
)

// PutHandler 根据策略名返回 RejectedPutHandler，空字符串为 log
func PutHandler[T any](policy string) (RejectedPutHandler[T], error) {
	switch policy {
	case "", PutPolicyLog:
		return LogPutHandler[T], nil
	case PutPolicyDiscard:
		return DiscardPutHandler[T], nil
	}
	return nil, errors.Errorf("unknown rejected put policy %q", policy)
}

// TakeHandler 根据策略名返回 RejectedTakeHandler，空字符串为 block
// fallback 策略使用 fn 同步生成
func TakeHandler[T any](policy string, fn func(ctx context.Context) (T, error)) (RejectedTakeHandler[T], error) {
	switch policy {
	case "", TakePolicyBlock:
		return BlockTakeHandler[T], nil
	case TakePolicyError:
		return ErrorTakeHandler[T], nil
	case TakePolicyFallback:
		if fn == nil {
			return nil, errors.New("fallback policy requires a generator")
		}
		return FallbackTakeHandler(fn), nil
	}
	return nil, errors.Errorf("unknown rejected take policy %q", policy)
}
