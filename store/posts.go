package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/golang/glog"

	"newsjunkies/models"
	"newsjunkies/services"
)

const postStoreName = "posts"

// PostsState - список постов, который видит UI
type PostsState struct {
	Posts  []models.FeedPost `json:"posts"`
	Status Status            `json:"status"`
	Error  string            `json:"error,omitempty"`
	// Loaded - была хотя бы одна успешная загрузка
	Loaded bool `json:"loaded"`

	// поколение последней начатой загрузки; результат более старой отбрасывается
	generation uint64
}

// Команды PostStore

type Command interface {
	commandName() string
}

type LoadFeed struct {
	Query services.FeedQuery
}

type LoadUserFeed struct {
	UserID string
	Limit  int
}

// LoadFollowingFeed - лента подписок зрителя; фильтры как у общей ленты
type LoadFollowingFeed struct {
	Query services.FeedQuery
}

type CreatePost struct {
	AuthorID string
	Input    services.PostInput
}

type UpdatePost struct {
	ActorID string
	PostID  string
	Patch   services.PostPatch
}

type DeletePost struct {
	ActorID string
	PostID  string
}

// SharePost - PostID может быть как id исходного поста, так и id репоста в ленте
type SharePost struct {
	ViewerID string
	PostID   string
}

type UnsharePost struct {
	ViewerID string
	PostID   string
}

type ClearPosts struct{}

func (LoadFeed) commandName() string          { return "load_feed" }
func (LoadUserFeed) commandName() string      { return "load_user_feed" }
func (LoadFollowingFeed) commandName() string { return "load_following_feed" }
func (CreatePost) commandName() string        { return "create_post" }
func (UpdatePost) commandName() string        { return "update_post" }
func (DeletePost) commandName() string        { return "delete_post" }
func (SharePost) commandName() string         { return "share_post" }
func (UnsharePost) commandName() string       { return "unshare_post" }
func (ClearPosts) commandName() string        { return "clear_posts" }

// События, которые применяет reducePosts

type postsEvent interface{}

type loadStarted struct{ gen uint64 }

type loadSucceeded struct {
	gen   uint64
	posts []models.FeedPost
}

type loadFailed struct {
	gen uint64
	err string
}

type postCreated struct{ post models.FeedPost }

type postUpdated struct{ post models.Post }

type postDeleted struct{ id string }

type mutationFailed struct{ err string }

type shareToggled struct {
	key    string
	shared bool
}

type postsCleared struct{ gen uint64 }

// reducePosts - чистая функция перехода; входное состояние не меняется
func reducePosts(s PostsState, e postsEvent) PostsState {
	switch e := e.(type) {
	case loadStarted:
		s.generation = max(s.generation, e.gen)
		s.Status = StatusLoading
		s.Error = ""
	case loadSucceeded:
		if e.gen != s.generation {
			return s
		}
		s.Posts = append([]models.FeedPost(nil), e.posts...)
		s.Status = StatusReady
		s.Error = ""
		s.Loaded = true
	case loadFailed:
		if e.gen != s.generation {
			return s
		}
		s.Status = StatusError
		s.Error = e.err
	case postCreated:
		posts := make([]models.FeedPost, 0, len(s.Posts)+1)
		posts = append(posts, e.post)
		s.Posts = append(posts, s.Posts...)
		s.Error = ""
	case postUpdated:
		posts := make([]models.FeedPost, len(s.Posts))
		for i, p := range s.Posts {
			switch {
			case p.ID == e.post.ID:
				p.Post = e.post
			case p.OriginalPostID == e.post.ID:
				// у репоста свои id и время
				id, createdAt := p.ID, p.CreatedAt
				p.Post = e.post
				p.ID, p.CreatedAt = id, createdAt
			}
			posts[i] = p
		}
		s.Posts = posts
		s.Error = ""
	case postDeleted:
		posts := make([]models.FeedPost, 0, len(s.Posts))
		for _, p := range s.Posts {
			if p.ID != e.id {
				posts = append(posts, p)
			}
		}
		s.Posts = posts
		s.Error = ""
	case mutationFailed:
		s.Error = e.err
	case shareToggled:
		posts := make([]models.FeedPost, len(s.Posts))
		for i, p := range s.Posts {
			if p.ShareKey() == e.key {
				p.IsSharedByCurrentUser = e.shared
			}
			posts[i] = p
		}
		s.Posts = posts
	case postsCleared:
		s = PostsState{Status: StatusIdle, generation: max(s.generation, e.gen)}
	}
	return s
}

// PostStore - лента постов одного зрителя
type PostStore struct {
	feed     *services.FeedAggregator
	posts    *services.PostService
	profiles *services.ProfileCache
	shares   *services.ShareStatusCache
	events   services.EventPublisher

	notifyMu sync.Mutex
	mu       sync.Mutex
	state    PostsState
	seq      uint64
	viewerID string

	subs listeners[PostsState]
}

func NewPostStore(
	feed *services.FeedAggregator,
	posts *services.PostService,
	profiles *services.ProfileCache,
	shares *services.ShareStatusCache,
	events services.EventPublisher,
) *PostStore {
	if events == nil {
		events = services.NopPublisher{}
	}
	return &PostStore{
		feed:     feed,
		posts:    posts,
		profiles: profiles,
		shares:   shares,
		events:   events,
		state:    PostsState{Status: StatusIdle},
	}
}

// SetViewer задает пользователя, от имени которого читаются ленты
func (s *PostStore) SetViewer(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewerID = userID
}

func (s *PostStore) viewer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewerID
}

func (s *PostStore) State() PostsState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state
	st.Posts = append([]models.FeedPost(nil), s.state.Posts...)
	return st
}

// Subscribe: listener вызывается после каждого перехода, вне блокировки состояния.
// Из listener нельзя синхронно вызывать Dispatch.
func (s *PostStore) Subscribe(listener func(PostsState)) (unsubscribe func()) {
	return s.subs.add(listener)
}

func (s *PostStore) apply(e postsEvent) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	s.state = reducePosts(s.state, e)
	st := s.state
	s.mu.Unlock()

	for _, l := range s.subs.snapshot() {
		l(st)
	}
}

func (s *PostStore) nextGeneration() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

func (s *PostStore) Dispatch(ctx context.Context, cmd Command) error {
	_, err := s.Execute(ctx, cmd)
	return err
}

// Execute выполняет команду как Dispatch и возвращает ее собственный
// результат: посты загрузки или созданный/измененный пост. Если более
// новая загрузка уже заменила состояние, вызывающий все равно получает
// то, что запрашивал.
func (s *PostStore) Execute(ctx context.Context, cmd Command) ([]models.FeedPost, error) {
	var (
		posts []models.FeedPost
		err   error
	)
	switch c := cmd.(type) {
	case LoadFeed:
		q := c.Query
		if q.ViewerID == "" {
			q.ViewerID = s.viewer()
		}
		posts, err = s.load(ctx, func(ctx context.Context) ([]models.FeedPost, error) {
			return s.feed.GlobalFeed(ctx, q)
		})
	case LoadUserFeed:
		viewer := s.viewer()
		posts, err = s.load(ctx, func(ctx context.Context) ([]models.FeedPost, error) {
			return s.feed.UserFeed(ctx, c.UserID, c.Limit, viewer)
		})
	case LoadFollowingFeed:
		q := c.Query
		if q.ViewerID == "" {
			q.ViewerID = s.viewer()
		}
		posts, err = s.load(ctx, func(ctx context.Context) ([]models.FeedPost, error) {
			return s.feed.FollowingFeed(ctx, q.ViewerID, q)
		})
	case CreatePost:
		posts, err = s.create(ctx, c)
	case UpdatePost:
		posts, err = s.update(ctx, c)
	case DeletePost:
		err = s.delete(ctx, c)
	case SharePost:
		err = s.toggleShare(ctx, c.ViewerID, c.PostID, true)
	case UnsharePost:
		err = s.toggleShare(ctx, c.ViewerID, c.PostID, false)
	case ClearPosts:
		s.apply(postsCleared{gen: s.nextGeneration()})
	default:
		err = fmt.Errorf("unknown command %T", cmd)
	}
	if cmd != nil {
		recordCommand(postStoreName, cmd.commandName(), err)
	}
	if err != nil {
		return nil, err
	}
	return posts, nil
}

func (s *PostStore) load(ctx context.Context, fetch func(context.Context) ([]models.FeedPost, error)) ([]models.FeedPost, error) {
	gen := s.nextGeneration()
	s.apply(loadStarted{gen: gen})
	posts, err := fetch(ctx)
	if err != nil {
		s.apply(loadFailed{gen: gen, err: err.Error()})
		return nil, err
	}
	s.apply(loadSucceeded{gen: gen, posts: posts})
	return posts, nil
}

// withAuthor - запись ленты для поста с профилем автора; без профиля пост все равно отдается
func (s *PostStore) withAuthor(ctx context.Context, post models.Post) models.FeedPost {
	entry := models.FeedPost{Post: post}
	if author, err := s.profiles.Get(ctx, post.UserID, false); err != nil {
		glog.Warningf("author profile for post %s: %v", post.ID, err)
	} else {
		entry.AuthorProfile = author
	}
	return entry
}

func (s *PostStore) create(ctx context.Context, c CreatePost) ([]models.FeedPost, error) {
	post, err := s.posts.Create(ctx, c.AuthorID, c.Input)
	if err != nil {
		s.apply(mutationFailed{err: err.Error()})
		return nil, err
	}
	s.profiles.Invalidate(post.UserID)

	entry := s.withAuthor(ctx, post)
	s.apply(postCreated{post: entry})
	s.publish(ctx, services.EventPostCreated, post.UserID, post.ID)
	return []models.FeedPost{entry}, nil
}

func (s *PostStore) update(ctx context.Context, c UpdatePost) ([]models.FeedPost, error) {
	post, err := s.posts.Update(ctx, c.ActorID, c.PostID, c.Patch)
	if err != nil {
		s.apply(mutationFailed{err: err.Error()})
		return nil, err
	}
	s.profiles.Invalidate(post.UserID)
	s.apply(postUpdated{post: post})
	s.publish(ctx, services.EventPostUpdated, post.UserID, post.ID)
	return []models.FeedPost{s.withAuthor(ctx, post)}, nil
}

func (s *PostStore) delete(ctx context.Context, c DeletePost) error {
	post, err := s.posts.Delete(ctx, c.ActorID, c.PostID)
	if err != nil {
		s.apply(mutationFailed{err: err.Error()})
		return err
	}
	s.profiles.Invalidate(post.UserID)
	s.apply(postDeleted{id: c.PostID})
	s.publish(ctx, services.EventPostDeleted, post.UserID, post.ID)
	return nil
}

// toggleShare сразу меняет флаг у всех записей с тем же исходным постом,
// а при ошибке хранилища возвращает прежнее значение
func (s *PostStore) toggleShare(ctx context.Context, viewerID, postID string, shared bool) error {
	if viewerID == "" {
		viewerID = s.viewer()
	}
	if viewerID == "" {
		err := &services.ValidationError{Field: "viewer_id", Message: "is required"}
		s.apply(mutationFailed{err: err.Error()})
		return err
	}
	key, previous := s.resolveShareKey(postID)

	s.apply(shareToggled{key: key, shared: shared})
	var err error
	if shared {
		err = s.shares.Share(ctx, viewerID, key)
	} else {
		err = s.shares.Unshare(ctx, viewerID, key)
	}
	if err != nil {
		s.apply(shareToggled{key: key, shared: previous})
		s.apply(mutationFailed{err: err.Error()})
		return err
	}

	eventType := services.EventPostUnshared
	if shared {
		eventType = services.EventPostShared
	}
	s.publish(ctx, eventType, viewerID, key)
	return nil
}

func (s *PostStore) resolveShareKey(postID string) (key string, shared bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.state.Posts {
		if p.ID == postID || p.OriginalPostID == postID {
			return p.ShareKey(), p.IsSharedByCurrentUser
		}
	}
	return postID, false
}

// publish: userID - автор поста или тот, кто репостнул; он же инициатор события
func (s *PostStore) publish(ctx context.Context, t services.EventType, userID, postID string) {
	err := s.events.Publish(ctx, services.Event{Type: t, UserID: userID, ActorID: userID, PostID: postID})
	if err != nil {
		glog.Warningf("publish %s for post %s: %v", t, postID, err)
	}
}
