// Package session связывает аутентификацию с кешами и хранилищами
// состояния одного пользователя.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"

	"newsjunkies/gateway"
	"newsjunkies/models"
	"newsjunkies/services"
	"newsjunkies/store"
)

var ErrNoSession = errors.New("not signed in")

const (
	initialFeedLimit = 50
	// сколько ждать первичную загрузку, запущенную сменой сессии
	activationTimeout = 30 * time.Second
)

// Deps - общие для всех контроллеров зависимости
type Deps struct {
	Gateway     gateway.Gateway
	Events      services.EventPublisher
	FeedLimit   int
	FeedMax     int
	PictureSize int
}

// Controller - состояние одного клиента: кеши, лента, профиль и сессия
type Controller struct {
	auth gateway.Auth

	Profiles *services.ProfileCache
	Shares   *services.ShareStatusCache
	Feed     *services.FeedAggregator
	Posts    *store.PostStore
	Profile  *store.ProfileStore

	mu          sync.Mutex
	session     *gateway.Session
	unsubscribe []func()
}

func NewController(deps Deps, auth gateway.Auth) *Controller {
	profiles := services.NewProfileCache(deps.Gateway)
	if deps.PictureSize > 0 {
		profiles.PictureSize = deps.PictureSize
	}
	shares := services.NewShareStatusCache(deps.Gateway)
	feed := services.NewFeedAggregator(deps.Gateway, profiles, shares)
	if deps.FeedLimit > 0 {
		feed.DefaultLimit = deps.FeedLimit
	}
	if deps.FeedMax > 0 {
		feed.MaxLimit = deps.FeedMax
	}

	c := &Controller{
		auth:     auth,
		Profiles: profiles,
		Shares:   shares,
		Feed:     feed,
		Posts:    store.NewPostStore(feed, services.NewPostService(deps.Gateway, profiles), profiles, shares, deps.Events),
		Profile:  store.NewProfileStore(profiles, deps.Events),
	}
	c.unsubscribe = append(c.unsubscribe,
		c.Posts.Subscribe(func(st store.PostsState) { c.push("posts", st) }),
		c.Profile.Subscribe(func(st store.ProfileState) { c.push("profile", st) }),
	)
	return c
}

// Start читает текущую сессию и подписывается на ее изменения
func (c *Controller) Start(ctx context.Context) error {
	s, err := c.auth.GetSession(ctx)
	if err != nil {
		return fmt.Errorf("get session: %w", err)
	}

	c.mu.Lock()
	c.unsubscribe = append(c.unsubscribe, c.auth.OnSessionChange(c.onSessionChange))
	c.mu.Unlock()

	if s == nil {
		return nil
	}
	return c.activate(ctx, s)
}

func (c *Controller) onSessionChange(event gateway.AuthEvent, s *gateway.Session) {
	switch event {
	case gateway.SignedIn:
		if s == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), activationTimeout)
		defer cancel()
		if err := c.activate(ctx, s); err != nil {
			glog.Warningf("initial load for %s: %v", s.UserID, err)
		}
	case gateway.SignedOut:
		c.deactivate()
	}
}

func (c *Controller) activate(ctx context.Context, s *gateway.Session) error {
	c.mu.Lock()
	copied := *s
	c.session = &copied
	c.mu.Unlock()

	c.Profiles.SetActive(s.UserID)
	c.Posts.SetViewer(s.UserID)
	glog.V(1).Infof("session %s activated", s.UserID)

	if c.Posts.State().Loaded {
		return nil
	}
	return c.Posts.Dispatch(ctx, store.LoadFeed{Query: services.FeedQuery{Limit: initialFeedLimit}})
}

func (c *Controller) deactivate() {
	c.mu.Lock()
	c.session = nil
	c.mu.Unlock()

	ctx := context.Background()
	_ = c.Posts.Dispatch(ctx, store.ClearPosts{})
	_ = c.Profile.Dispatch(ctx, store.ClearProfile{})
	c.Profiles.InvalidateAll()
	c.Shares.InvalidateAll()
	c.Profiles.SetActive("")
	c.Posts.SetViewer("")
}

func (c *Controller) SignIn(ctx context.Context, creds gateway.Credentials) (*gateway.Session, error) {
	return c.auth.SignIn(ctx, creds)
}

func (c *Controller) SignUp(ctx context.Context, creds gateway.Credentials) (*gateway.Session, error) {
	return c.auth.SignUp(ctx, creds)
}

// SignOut всегда очищает локальное состояние; ошибка удаленного выхода только логируется
func (c *Controller) SignOut(ctx context.Context) {
	userID := c.UserID()
	if err := c.auth.SignOut(ctx); err != nil {
		glog.Warningf("sign out %s: %v", userID, err)
	}
	c.deactivate()
}

func (c *Controller) Session() *gateway.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	s := *c.session
	return &s
}

func (c *Controller) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ""
	}
	return c.session.UserID
}

// Require возвращает сессию или ErrNoSession
func (c *Controller) Require() (*gateway.Session, error) {
	s := c.Session()
	if s == nil {
		return nil, ErrNoSession
	}
	return s, nil
}

// Dispatch выполняет команду от имени текущего пользователя
func (c *Controller) Dispatch(ctx context.Context, cmd store.Command) error {
	cmd, onProfile, err := c.bind(cmd)
	if err != nil {
		return err
	}
	if onProfile {
		return c.Profile.Dispatch(ctx, cmd)
	}
	return c.Posts.Dispatch(ctx, cmd)
}

// ExecutePosts выполняет команду ленты и возвращает ее собственный результат
func (c *Controller) ExecutePosts(ctx context.Context, cmd store.Command) ([]models.FeedPost, error) {
	cmd, onProfile, err := c.bind(cmd)
	if err != nil {
		return nil, err
	}
	if onProfile {
		return nil, fmt.Errorf("%T is not a posts command", cmd)
	}
	return c.Posts.Execute(ctx, cmd)
}

// ExecuteProfile выполняет команду профиля и возвращает состояние затронутого профиля
func (c *Controller) ExecuteProfile(ctx context.Context, cmd store.Command) (store.ProfileState, error) {
	cmd, onProfile, err := c.bind(cmd)
	if err != nil {
		return store.ProfileState{}, err
	}
	if !onProfile {
		return store.ProfileState{}, fmt.Errorf("%T is not a profile command", cmd)
	}
	return c.Profile.Execute(ctx, cmd)
}

// bind подставляет в команду пользователя сессии и определяет хранилище
func (c *Controller) bind(cmd store.Command) (_ store.Command, onProfile bool, _ error) {
	s, err := c.Require()
	if err != nil {
		return nil, false, err
	}
	uid := s.UserID

	switch cmd := cmd.(type) {
	case store.CreatePost:
		cmd.AuthorID = uid
		return cmd, false, nil
	case store.UpdatePost:
		cmd.ActorID = uid
		return cmd, false, nil
	case store.DeletePost:
		cmd.ActorID = uid
		return cmd, false, nil
	case store.SharePost:
		cmd.ViewerID = uid
		return cmd, false, nil
	case store.UnsharePost:
		cmd.ViewerID = uid
		return cmd, false, nil
	case store.LoadFeed:
		cmd.Query.ViewerID = uid
		return cmd, false, nil
	case store.LoadFollowingFeed:
		cmd.Query.ViewerID = uid
		return cmd, false, nil
	case store.LoadUserFeed, store.ClearPosts:
		return cmd, false, nil

	case store.LoadProfileWithFollowData:
		cmd.ViewerID = uid
		return cmd, true, nil
	case store.Follow:
		cmd.FollowerID = uid
		return cmd, true, nil
	case store.Unfollow:
		cmd.FollowerID = uid
		return cmd, true, nil
	case store.UpdateProfile:
		cmd.UserID = uid
		return cmd, true, nil
	case store.UploadPicture:
		cmd.UserID = uid
		return cmd, true, nil
	case store.DeletePicture:
		cmd.UserID = uid
		return cmd, true, nil
	case store.LoadProfile, store.ClearProfile:
		return cmd, true, nil
	}
	return nil, false, fmt.Errorf("unknown command %T", cmd)
}

// TrackTags запоминает теги, по которым пользователь искал в ленте
func (c *Controller) TrackTags(ctx context.Context, tags []string) {
	uid := c.UserID()
	if uid == "" {
		return
	}
	for _, tag := range services.NormalizeTags(tags) {
		c.Profiles.TrackView(ctx, uid, tag)
	}
}

// TrackView запоминает просмотренный тег текущего пользователя
func (c *Controller) TrackView(ctx context.Context, tag string) error {
	s, err := c.Require()
	if err != nil {
		return err
	}
	c.Profiles.TrackView(ctx, s.UserID, tag)
	return nil
}

// Close отписывает контроллер от сессии и хранилищ
func (c *Controller) Close() {
	c.mu.Lock()
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()
	for _, fn := range unsubscribe {
		fn()
	}
}

func (c *Controller) push(kind string, state any) {
	userID := c.UserID()
	if userID == "" {
		return
	}
	if err := services.SendWsState(userID, kind, state); err != nil {
		glog.Warningf("push %s state to %s: %v", kind, userID, err)
	}
}
