// Package store - состояние ленты и профиля для UI: State, Subscribe, Dispatch.
// Команда выполняет запросы и превращается в события, которые применяются
// чистыми функциями reduce.
package store

import (
	"slices"
	"sync"
)

type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusReady   Status = "ready"
	StatusError   Status = "error"
)

// listeners - подписчики на новое состояние в порядке подписки
type listeners[S any] struct {
	mu     sync.Mutex
	nextID int
	items  []listener[S]
}

type listener[S any] struct {
	id int
	fn func(S)
}

func (l *listeners[S]) add(fn func(S)) (unsubscribe func()) {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.items = append(l.items, listener[S]{id: id, fn: fn})
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			l.items = slices.DeleteFunc(l.items, func(it listener[S]) bool { return it.id == id })
			l.mu.Unlock()
		})
	}
}

func (l *listeners[S]) snapshot() []func(S) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]func(S), 0, len(l.items))
	for _, it := range l.items {
		out = append(out, it.fn)
	}
	return out
}
