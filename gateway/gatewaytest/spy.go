// Package gatewaytest - обертки над шлюзом для тестов: счетчики вызовов,
// блокировка вызовов и подстановка ошибок.
package gatewaytest

import (
	"context"
	"sync"
	"time"

	"newsjunkies/gateway"
)

// Spy считает вызовы шлюза по ключу "метод:таблица" и позволяет
// придержать или сломать конкретный вызов.
type Spy struct {
	gateway.Gateway

	mu     sync.Mutex
	calls  map[string]int
	gates  map[string]chan struct{}
	errors map[string]error
}

func NewSpy(inner gateway.Gateway) *Spy {
	return &Spy{
		Gateway: inner,
		calls:   map[string]int{},
		gates:   map[string]chan struct{}{},
		errors:  map[string]error{},
	}
}

// Calls возвращает количество вызовов, например Calls("query:user_profiles")
func (s *Spy) Calls(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[key]
}

// Hold блокирует вызовы по ключу, пока не будет вызвана возвращенная функция
func (s *Spy) Hold(key string) (release func()) {
	ch := make(chan struct{})
	s.mu.Lock()
	s.gates[key] = ch
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.gates, key)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// Fail заставляет вызовы по ключу возвращать err (nil снимает ошибку)
func (s *Spy) Fail(key string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.errors, key)
		return
	}
	s.errors[key] = err
}

func (s *Spy) enter(ctx context.Context, key string) error {
	s.mu.Lock()
	s.calls[key]++
	gate := s.gates[key]
	err := s.errors[key]
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (s *Spy) QueryRows(ctx context.Context, table string, q gateway.Query) ([]gateway.Row, error) {
	if err := s.enter(ctx, "query:"+table); err != nil {
		return nil, err
	}
	return s.Gateway.QueryRows(ctx, table, q)
}

func (s *Spy) QueryRowsIn(ctx context.Context, table, column string, values []string) ([]gateway.Row, error) {
	if err := s.enter(ctx, "query_in:"+table); err != nil {
		return nil, err
	}
	return s.Gateway.QueryRowsIn(ctx, table, column, values)
}

func (s *Spy) CountRows(ctx context.Context, table string, filters ...gateway.Filter) (int64, error) {
	if err := s.enter(ctx, "count:"+table); err != nil {
		return 0, err
	}
	return s.Gateway.CountRows(ctx, table, filters...)
}

func (s *Spy) InsertRow(ctx context.Context, table string, fields gateway.Row) (gateway.Row, error) {
	if err := s.enter(ctx, "insert:"+table); err != nil {
		return nil, err
	}
	return s.Gateway.InsertRow(ctx, table, fields)
}

func (s *Spy) UpdateRow(ctx context.Context, table, id string, patch gateway.Row) (gateway.Row, error) {
	if err := s.enter(ctx, "update:"+table); err != nil {
		return nil, err
	}
	return s.Gateway.UpdateRow(ctx, table, id, patch)
}

func (s *Spy) DeleteRow(ctx context.Context, table, id string) error {
	if err := s.enter(ctx, "delete:"+table); err != nil {
		return err
	}
	return s.Gateway.DeleteRow(ctx, table, id)
}

func (s *Spy) UpsertRow(ctx context.Context, table, key string, fields gateway.Row) (gateway.Row, error) {
	if err := s.enter(ctx, "upsert:"+table); err != nil {
		return nil, err
	}
	return s.Gateway.UpsertRow(ctx, table, key, fields)
}

func (s *Spy) UploadBlob(ctx context.Context, bucket, path string, data []byte) (string, error) {
	if err := s.enter(ctx, "upload:"+bucket); err != nil {
		return "", err
	}
	return s.Gateway.UploadBlob(ctx, bucket, path, data)
}

func (s *Spy) DeleteBlob(ctx context.Context, bucket, path string) error {
	if err := s.enter(ctx, "delete_blob:"+bucket); err != nil {
		return err
	}
	return s.Gateway.DeleteBlob(ctx, bucket, path)
}

// WaitCalls ждет, пока число вызовов по ключу не достигнет n
func (s *Spy) WaitCalls(ctx context.Context, key string, n int) bool {
	for {
		if s.Calls(key) >= n {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		default:
		}
		time.Sleep(time.Millisecond)
	}
}
