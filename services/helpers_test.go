package services

import (
	"context"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/stretchr/testify/require"

	"newsjunkies/gateway"
	"newsjunkies/gateway/gatewaytest"
	"newsjunkies/models"
)

type fixture struct {
	mem      *gateway.Memory
	spy      *gatewaytest.Spy
	profiles *ProfileCache
	shares   *ShareStatusCache
	feed     *FeedAggregator
	posts    *PostService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := gateway.NewMemory()
	mem.AddUniqueKey(models.TableShares, "user_id", "post_id")
	mem.AddUniqueKey(models.TableFollows, "follower_id", "following_id")
	mem.AddUniqueKey(models.TableAccounts, "email")
	spy := gatewaytest.NewSpy(mem)

	profiles := NewProfileCache(spy)
	shares := NewShareStatusCache(spy)
	return &fixture{
		mem:      mem,
		spy:      spy,
		profiles: profiles,
		shares:   shares,
		feed:     NewFeedAggregator(spy, profiles, shares),
		posts:    NewPostService(spy, profiles),
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

func (f *fixture) addPost(t *testing.T, id, userID string, at time.Time, tags ...string) models.Post {
	t.Helper()
	p := models.Post{
		ID:          id,
		UserID:      userID,
		Description: gofakeit.Sentence(8),
		NewsLink:    gofakeit.URL(),
		CreatedAt:   at,
		UpdatedAt:   at,
	}
	if len(tags) > 0 {
		p.Tags = tags
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

// lateReply читает строки профилей сразу, а отдает их только после release
type lateReply struct {
	gateway.Gateway
	read    chan struct{}
	release chan struct{}
}

func newLateReply(inner gateway.Gateway) *lateReply {
	return &lateReply{Gateway: inner, read: make(chan struct{}, 1), release: make(chan struct{})}
}

func (g *lateReply) QueryRows(ctx context.Context, table string, q gateway.Query) ([]gateway.Row, error) {
	rows, err := g.Gateway.QueryRows(ctx, table, q)
	if table != models.TableProfiles {
		return rows, err
	}
	select {
	case g.read <- struct{}{}:
	default:
	}
	<-g.release
	return rows, err
}

func feedIDs(feed []models.FeedPost) []string {
	ids := make([]string, 0, len(feed))
	for _, p := range feed {
		ids = append(ids, p.ID)
	}
	return ids
}
