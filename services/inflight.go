package services

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
)

// inflightTimeout ограничивает общий запрос, который больше не привязан
// к контексту первого вызывающего
const inflightTimeout = 30 * time.Second

// inflight выполняет fetch один раз на ключ. Общий запрос не отменяется
// вместе с контекстом того, кто его начал: каждый вызывающий ждет результат
// в пределах своего ctx.
func inflight[T any](ctx context.Context, group *singleflight.Group, key string, fetch func(context.Context) (T, error)) (T, error) {
	ch := group.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), inflightTimeout)
		defer cancel()
		return fetch(fctx)
	})

	var zero T
	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
