package session

import (
	"context"
	"sync"

	"github.com/golang/glog"

	"newsjunkies/gateway"
	"newsjunkies/services"
)

// Registry хранит контроллеры активных пользователей HTTP-слоя
type Registry struct {
	auth   *services.Authenticator
	deps   Deps
	origin string

	mu          sync.Mutex
	controllers map[string]*Controller
}

// NewRegistry: origin - id этого экземпляра, свои события из шины пропускаются.
// События контроллеров сразу применяются к остальным контроллерам экземпляра,
// а затем уходят в deps.Events.
func NewRegistry(auth *services.Authenticator, deps Deps, origin string) *Registry {
	if deps.Events == nil {
		deps.Events = services.NopPublisher{}
	}
	r := &Registry{
		auth:        auth,
		origin:      origin,
		controllers: map[string]*Controller{},
	}
	deps.Events = localFanout{next: deps.Events, registry: r}
	r.deps = deps
	return r
}

// localFanout доставляет событие контроллерам этого экземпляра, кроме
// контроллера инициатора, и публикует его дальше
type localFanout struct {
	next     services.EventPublisher
	registry *Registry
}

func (f localFanout) Publish(ctx context.Context, e services.Event) error {
	f.registry.apply(e, e.ActorID)
	return f.next.Publish(ctx, e)
}

// Get возвращает контроллер пользователя проверенной сессии, создавая его при первом обращении
func (r *Registry) Get(ctx context.Context, s *gateway.Session) (*Controller, error) {
	r.mu.Lock()
	c, ok := r.controllers[s.UserID]
	r.mu.Unlock()
	if ok {
		return c, nil
	}

	c = NewController(r.deps, services.NewAuthClient(r.auth, s))
	if err := c.Start(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return r.register(s.UserID, c), nil
}

// Lookup - контроллер пользователя, если он уже создан
func (r *Registry) Lookup(userID string) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.controllers[userID]
	return c, ok
}

func (r *Registry) register(userID string, c *Controller) *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.controllers[userID]; ok {
		c.Close()
		return existing
	}
	r.controllers[userID] = c
	return c
}

func (r *Registry) SignIn(ctx context.Context, creds gateway.Credentials) (*gateway.Session, error) {
	return r.enter(ctx, func(c *Controller) (*gateway.Session, error) {
		return c.SignIn(ctx, creds)
	})
}

func (r *Registry) SignUp(ctx context.Context, creds gateway.Credentials) (*gateway.Session, error) {
	return r.enter(ctx, func(c *Controller) (*gateway.Session, error) {
		return c.SignUp(ctx, creds)
	})
}

func (r *Registry) enter(ctx context.Context, signIn func(*Controller) (*gateway.Session, error)) (*gateway.Session, error) {
	c := NewController(r.deps, services.NewAuthClient(r.auth, nil))
	if err := c.Start(ctx); err != nil {
		c.Close()
		return nil, err
	}
	s, err := signIn(c)
	if err != nil {
		c.Close()
		return nil, err
	}
	r.register(s.UserID, c)
	return s, nil
}

// SignOut отзывает токен запроса и закрывает контроллер пользователя
func (r *Registry) SignOut(ctx context.Context, s *gateway.Session) {
	if err := r.auth.Revoke(s.AccessToken); err != nil {
		glog.Warningf("revoke token of %s: %v", s.UserID, err)
	}
	c, ok := r.Remove(s.UserID)
	if !ok {
		return
	}
	c.SignOut(ctx)
	c.Close()
}

func (r *Registry) Remove(userID string) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.controllers[userID]
	delete(r.controllers, userID)
	return c, ok
}

func (r *Registry) snapshot() []*Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Controller, 0, len(r.controllers))
	for _, c := range r.controllers {
		out = append(out, c)
	}
	return out
}

// HandleEvent применяет событие другого экземпляра: сбрасывает кеши
// затронутого пользователя и уведомляет клиентов по websocket.
// Свои события уже применены при публикации.
func (r *Registry) HandleEvent(e services.Event) {
	if e.Origin == r.origin {
		return
	}
	glog.V(1).Infof("event %s for %s from %s", e.Type, e.UserID, e.Origin)
	r.apply(e, "")
}

// apply сбрасывает кеши всех контроллеров, кроме контроллера skipUserID
func (r *Registry) apply(e services.Event, skipUserID string) {
	if e.UserID == "" {
		return
	}
	for _, c := range r.snapshot() {
		uid := c.UserID()
		if skipUserID != "" && uid == skipUserID {
			continue
		}
		switch e.Type {
		case services.EventPostShared, services.EventPostUnshared:
			c.Shares.Invalidate(e.UserID)
			c.Profiles.Invalidate(e.UserID)
		default:
			c.Profiles.Invalidate(e.UserID)
		}
		if uid != "" && uid != e.UserID {
			if err := services.SendWsNotify(uid, string(e.Type), e.UserID); err != nil {
				glog.Warningf("notify %s: %v", uid, err)
			}
		}
	}
}
