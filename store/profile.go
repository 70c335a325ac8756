package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/golang/glog"
	"golang.org/x/sync/errgroup"

	"newsjunkies/models"
	"newsjunkies/services"
)

const profileStoreName = "profile"

// ProfileState - открытый в UI профиль и данные о подписках на него
type ProfileState struct {
	Profile        *models.Profile `json:"profile"`
	IsFollowing    bool            `json:"is_following"`
	FollowersCount int64           `json:"followers_count"`
	FollowingCount int64           `json:"following_count"`
	Status         Status          `json:"status"`
	Error          string          `json:"error,omitempty"`

	generation uint64
}

type LoadProfile struct {
	UserID string
	Force  bool
}

// LoadProfileWithFollowData загружает профиль, счетчики и признак подписки ViewerID
type LoadProfileWithFollowData struct {
	UserID   string
	ViewerID string
}

type Follow struct {
	FollowerID  string
	FollowingID string
}

type Unfollow struct {
	FollowerID  string
	FollowingID string
}

type UpdateProfile struct {
	UserID string
	Patch  services.ProfilePatch
}

type UploadPicture struct {
	UserID string
	Data   []byte
}

type DeletePicture struct {
	UserID string
}

type ClearProfile struct{}

func (LoadProfile) commandName() string               { return "load_profile" }
func (LoadProfileWithFollowData) commandName() string { return "load_profile_follow" }
func (Follow) commandName() string                    { return "follow" }
func (Unfollow) commandName() string                  { return "unfollow" }
func (UpdateProfile) commandName() string             { return "update_profile" }
func (UploadPicture) commandName() string             { return "upload_picture" }
func (DeletePicture) commandName() string             { return "delete_picture" }
func (ClearProfile) commandName() string              { return "clear_profile" }

type profileEvent interface{}

type profileLoadStarted struct{ gen uint64 }

type profileLoaded struct {
	gen         uint64
	profile     *models.Profile
	withFollows bool
	isFollowing bool
	followers   int64
	following   int64
}

type profileLoadFailed struct {
	gen uint64
	err string
}

type profileChanged struct{ profile *models.Profile }

type followToggled struct {
	userID    string
	following bool
}

type profileMutationFailed struct{ err string }

type profileCleared struct{ gen uint64 }

func reduceProfile(s ProfileState, e profileEvent) ProfileState {
	switch e := e.(type) {
	case profileLoadStarted:
		s.generation = max(s.generation, e.gen)
		s.Status = StatusLoading
		s.Error = ""
	case profileLoaded:
		if e.gen != s.generation {
			return s
		}
		if s.Profile == nil || e.profile == nil || s.Profile.ID != e.profile.ID || e.withFollows {
			s.IsFollowing, s.FollowersCount, s.FollowingCount = e.isFollowing, e.followers, e.following
		}
		s.Profile = e.profile.Clone()
		s.Status = StatusReady
		s.Error = ""
	case profileLoadFailed:
		if e.gen != s.generation {
			return s
		}
		s.Status = StatusError
		s.Error = e.err
	case profileChanged:
		if s.Profile == nil || e.profile == nil || s.Profile.ID == e.profile.ID {
			s.Profile = e.profile.Clone()
		}
		s.Error = ""
	case followToggled:
		if s.Profile == nil || s.Profile.ID != e.userID || s.IsFollowing == e.following {
			return s
		}
		s.IsFollowing = e.following
		if e.following {
			s.FollowersCount++
		} else if s.FollowersCount > 0 {
			s.FollowersCount--
		}
	case profileMutationFailed:
		s.Error = e.err
	case profileCleared:
		s = ProfileState{Status: StatusIdle, generation: max(s.generation, e.gen)}
	}
	return s
}

// ProfileStore - состояние экрана профиля
type ProfileStore struct {
	profiles *services.ProfileCache
	events   services.EventPublisher

	notifyMu sync.Mutex
	mu       sync.Mutex
	state    ProfileState
	seq      uint64

	subs listeners[ProfileState]
}

func NewProfileStore(profiles *services.ProfileCache, events services.EventPublisher) *ProfileStore {
	if events == nil {
		events = services.NopPublisher{}
	}
	return &ProfileStore{
		profiles: profiles,
		events:   events,
		state:    ProfileState{Status: StatusIdle},
	}
}

func (s *ProfileStore) State() ProfileState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state
	st.Profile = s.state.Profile.Clone()
	return st
}

func (s *ProfileStore) Subscribe(listener func(ProfileState)) (unsubscribe func()) {
	return s.subs.add(listener)
}

func (s *ProfileStore) apply(e profileEvent) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	s.state = reduceProfile(s.state, e)
	st := s.state
	st.Profile = s.state.Profile.Clone()
	s.mu.Unlock()

	for _, l := range s.subs.snapshot() {
		l(st)
	}
}

func (s *ProfileStore) nextGeneration() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

func (s *ProfileStore) Dispatch(ctx context.Context, cmd Command) error {
	_, err := s.Execute(ctx, cmd)
	return err
}

// Execute выполняет команду как Dispatch и возвращает состояние профиля,
// которого касалась команда, даже если экран уже переключился на другой
func (s *ProfileStore) Execute(ctx context.Context, cmd Command) (ProfileState, error) {
	var (
		st  ProfileState
		err error
	)
	switch c := cmd.(type) {
	case LoadProfile:
		st, err = s.load(ctx, c.UserID, "", c.Force, false)
	case LoadProfileWithFollowData:
		st, err = s.load(ctx, c.UserID, c.ViewerID, true, true)
	case Follow:
		st, err = s.toggleFollow(ctx, c.FollowerID, c.FollowingID, true)
	case Unfollow:
		st, err = s.toggleFollow(ctx, c.FollowerID, c.FollowingID, false)
	case UpdateProfile:
		st, err = s.mutate(ctx, c.UserID, func(ctx context.Context) (*models.Profile, error) {
			return s.profiles.Update(ctx, c.UserID, c.Patch)
		})
	case UploadPicture:
		st, err = s.mutate(ctx, c.UserID, func(ctx context.Context) (*models.Profile, error) {
			return s.profiles.UploadPicture(ctx, c.UserID, c.Data)
		})
	case DeletePicture:
		st, err = s.mutate(ctx, c.UserID, func(ctx context.Context) (*models.Profile, error) {
			return s.profiles.DeletePicture(ctx, c.UserID)
		})
	case ClearProfile:
		s.apply(profileCleared{gen: s.nextGeneration()})
		st = ProfileState{Status: StatusIdle}
	default:
		err = fmt.Errorf("unknown command %T", cmd)
	}
	if cmd != nil {
		recordCommand(profileStoreName, cmd.commandName(), err)
	}
	if err != nil {
		return ProfileState{}, err
	}
	return st, nil
}

// stateFor - текущее состояние, если открыт профиль userID, иначе пустое
func (s *ProfileStore) stateFor(userID string) ProfileState {
	st := s.State()
	if st.Profile == nil || st.Profile.ID != userID {
		st = ProfileState{}
	}
	st.Status = StatusReady
	st.Error = ""
	return st
}

func (s *ProfileStore) load(ctx context.Context, userID, viewerID string, force, withFollows bool) (ProfileState, error) {
	if userID == "" {
		err := &services.ValidationError{Field: "user_id", Message: "is required"}
		s.apply(profileMutationFailed{err: err.Error()})
		return ProfileState{}, err
	}
	gen := s.nextGeneration()
	s.apply(profileLoadStarted{gen: gen})

	ev := profileLoaded{gen: gen, withFollows: withFollows}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := s.profiles.Get(gctx, userID, force)
		ev.profile = p
		return err
	})
	if withFollows {
		g.Go(func() error {
			var err error
			ev.followers, ev.following, err = s.profiles.FollowCounts(gctx, userID)
			return err
		})
		if viewerID != "" && viewerID != userID {
			g.Go(func() error {
				var err error
				ev.isFollowing, err = s.profiles.IsFollowing(gctx, viewerID, userID)
				return err
			})
		}
	}
	if err := g.Wait(); err != nil {
		s.apply(profileLoadFailed{gen: gen, err: err.Error()})
		return ProfileState{}, err
	}
	own := s.stateFor(userID)
	s.apply(ev)
	return reduceProfile(own, profileLoaded{
		gen:         own.generation,
		profile:     ev.profile,
		withFollows: ev.withFollows,
		isFollowing: ev.isFollowing,
		followers:   ev.followers,
		following:   ev.following,
	}), nil
}

// toggleFollow сразу меняет признак и счетчик подписчиков, при ошибке откатывает
func (s *ProfileStore) toggleFollow(ctx context.Context, followerID, followingID string, follow bool) (ProfileState, error) {
	if followerID == "" || followingID == "" {
		err := &services.ValidationError{Field: "following_id", Message: "is required"}
		s.apply(profileMutationFailed{err: err.Error()})
		return ProfileState{}, err
	}
	if followerID == followingID {
		err := &services.ValidationError{Field: "following_id", Message: "cannot follow yourself"}
		s.apply(profileMutationFailed{err: err.Error()})
		return ProfileState{}, err
	}
	previous := s.State().IsFollowing

	s.apply(followToggled{userID: followingID, following: follow})
	var err error
	if follow {
		err = s.profiles.Follow(ctx, followerID, followingID)
	} else {
		err = s.profiles.Unfollow(ctx, followerID, followingID)
	}
	if err != nil {
		s.apply(followToggled{userID: followingID, following: previous})
		s.apply(profileMutationFailed{err: err.Error()})
		return ProfileState{}, err
	}
	s.publish(ctx, services.EventFollowChanged, followingID, followerID)

	st := s.stateFor(followingID)
	st.IsFollowing = follow
	return st, nil
}

func (s *ProfileStore) mutate(ctx context.Context, userID string, do func(context.Context) (*models.Profile, error)) (ProfileState, error) {
	p, err := do(ctx)
	if err != nil {
		s.apply(profileMutationFailed{err: err.Error()})
		return ProfileState{}, err
	}
	own := s.stateFor(userID)
	s.apply(profileChanged{profile: p})
	s.publish(ctx, services.EventProfileUpdated, userID, userID)
	own.Profile = p.Clone()
	return own, nil
}

func (s *ProfileStore) publish(ctx context.Context, t services.EventType, userID, actorID string) {
	if err := s.events.Publish(ctx, services.Event{Type: t, UserID: userID, ActorID: actorID}); err != nil {
		glog.Warningf("publish %s for user %s: %v", t, userID, err)
	}
}
