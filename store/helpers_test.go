package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/stretchr/testify/require"

	"newsjunkies/gateway"
	"newsjunkies/gateway/gatewaytest"
	"newsjunkies/models"
	"newsjunkies/services"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []services.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e services.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []services.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]services.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	mem      *gateway.Memory
	spy      *gatewaytest.Spy
	profiles *services.ProfileCache
	shares   *services.ShareStatusCache
	events   *recordingPublisher
	posts    *PostStore
	profile  *ProfileStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := gateway.NewMemory()
	mem.AddUniqueKey(models.TableShares, "user_id", "post_id")
	mem.AddUniqueKey(models.TableFollows, "follower_id", "following_id")
	spy := gatewaytest.NewSpy(mem)

	profiles := services.NewProfileCache(spy)
	shares := services.NewShareStatusCache(spy)
	events := &recordingPublisher{}
	feed := services.NewFeedAggregator(spy, profiles, shares)
	return &fixture{
		mem:      mem,
		spy:      spy,
		profiles: profiles,
		shares:   shares,
		events:   events,
		posts:    NewPostStore(feed, services.NewPostService(spy, profiles), profiles, shares, events),
		profile:  NewProfileStore(profiles, events),
	}
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func (f *fixture) addProfile(t *testing.T, id, name string) {
	t.Helper()
	row := gateway.Row{"id": id, "created_at": time.Now().UTC(), "updated_at": time.Now().UTC()}
	if name != "" {
		row["name"] = name
	}
	_, err := f.mem.InsertRow(context.Background(), models.TableProfiles, row)
	require.NoError(t, err)
}

func (f *fixture) addPost(t *testing.T, id, userID string, at time.Time) models.Post {
	t.Helper()
	p := models.Post{
		ID:          id,
		UserID:      userID,
		Description: gofakeit.Sentence(6),
		NewsLink:    gofakeit.URL(),
		Tags:        []string{"news"},
		CreatedAt:   at,
		UpdatedAt:   at,
	}
	_, err := f.mem.InsertRow(context.Background(), models.TablePosts, p.Row())
	require.NoError(t, err)
	return p
}

func (f *fixture) addShare(t *testing.T, userID, postID string, at time.Time) {
	t.Helper()
	_, err := f.mem.InsertRow(context.Background(), models.TableShares, models.Share{
		ID: gofakeit.UUID(), UserID: userID, PostID: postID, CreatedAt: at,
	}.Row())
	require.NoError(t, err)
}

func (f *fixture) addFollow(t *testing.T, follower, following string) {
	t.Helper()
	_, err := f.mem.InsertRow(context.Background(), models.TableFollows, models.Follow{
		ID: gofakeit.UUID(), FollowerID: follower, FollowingID: following, CreatedAt: time.Now().UTC(),
	}.Row())
	require.NoError(t, err)
}

func postIDs(posts []models.FeedPost) []string {
	ids := make([]string, 0, len(posts))
	for _, p := range posts {
		ids = append(ids, p.ID)
	}
	return ids
}

func strPtr(s string) *string { return &s }
