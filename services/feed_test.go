package services

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"newsjunkies/models"
)

func TestUserFeedMergesSharesByTime(t *testing.T) {
	f := newFixture(t)
	ctx := testCtx(t)
	t1 := time.Date(2024, 5, 3, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(-time.Hour)
	t3 := t1.Add(-2 * time.Hour)

	f.addProfile(t, "u1", "Ann")
	f.addProfile(t, "u2", "Bob")
	f.addPost(t, "a1", "u1", t1)
	f.addPost(t, "a3", "u1", t3)
	f.addPost(t, "orig", "u2", t3.Add(-time.Hour))
	f.addShare(t, "u1", "orig", t2)

	feed, err := f.feed.UserFeed(ctx, "u1", 10, "viewer")
	require.NoError(t, err)
	require.Equal(t, []string{"a1", models.ShareID("orig", "u1"), "a3"}, feedIDs(feed))

	shared := feed[1]
	require.Equal(t, "share-orig-u1", shared.ID)
	require.Equal(t, "orig", shared.OriginalPostID)
	require.Equal(t, t2, shared.CreatedAt)
	require.Equal(t, "u2", shared.UserID)
	require.Equal(t, "Bob", *shared.AuthorProfile.Name)
	require.Equal(t, "Ann", *shared.SharedByProfile.Name)
	require.Nil(t, feed[0].SharedByProfile)
	require.Equal(t, "Ann", *feed[0].AuthorProfile.Name)
}

func TestUserFeedShareStatusUsesOriginalID(t *testing.T) {
	f := newFixture(t)
	ctx := testCtx(t)
	now := time.Now().UTC()
	f.addPost(t, "orig", "u2", now.Add(-time.Hour))
	f.addShare(t, "u1", "orig", now)
	f.addShare(t, "viewer", "orig", now)

	feed, err := f.feed.UserFeed(ctx, "u1", 10, "viewer")
	require.NoError(t, err)
	require.Len(t, feed, 1)
	require.Equal(t, "share-orig-u1", feed[0].ID)
	require.True(t, feed[0].IsSharedByCurrentUser)

	shared, err := f.shares.GetOne(ctx, "viewer", "share-orig-u1")
	require.NoError(t, err)
	require.False(t, shared)
}

func TestUserFeedSkipsDanglingSharesAndTruncates(t *testing.T) {
	f := newFixture(t)
	ctx := testCtx(t)
	now := time.Now().UTC()
	f.addShare(t, "u1", "deleted", now)
	for i, id := range []string{"p1", "p2", "p3"} {
		f.addPost(t, id, "u1", now.Add(-time.Duration(i+1)*time.Minute))
	}

	feed, err := f.feed.UserFeed(ctx, "u1", 2, "")
	require.NoError(t, err)
	require.Equal(t, []string{"p1", "p2"}, feedIDs(feed))
}

func TestUserFeedFailsWholeOnSubFetchError(t *testing.T) {
	f := newFixture(t)
	ctx := testCtx(t)
	f.addPost(t, "p1", "u1", time.Now().UTC())
	boom := errors.New("shares unavailable")
	f.spy.Fail("query:"+models.TableShares, boom)

	feed, err := f.feed.UserFeed(ctx, "u1", 10, "v")
	require.Nil(t, feed)
	require.True(t, errors.Is(err, boom))
}

func TestGlobalFeedTagModes(t *testing.T) {
	f := newFixture(t)
	ctx := testCtx(t)
	now := time.Now().UTC()
	f.addPost(t, "ab", "u1", now, "a", "b")
	f.addPost(t, "c", "u1", now.Add(-time.Minute), "c")
	f.addPost(t, "none", "u1", now.Add(-2*time.Minute))

	feed, err := f.feed.GlobalFeed(ctx, FeedQuery{Tags: []string{"B", "c"}})
	require.NoError(t, err)
	require.Equal(t, []string{"ab", "c"}, feedIDs(feed))

	feed, err = f.feed.GlobalFeed(ctx, FeedQuery{Tags: []string{"c", "d"}})
	require.NoError(t, err)
	require.Equal(t, []string{"c"}, feedIDs(feed))

	feed, err = f.feed.GlobalFeed(ctx, FeedQuery{Tags: []string{"d"}})
	require.NoError(t, err)
	require.Empty(t, feed)

	feed, err = f.feed.GlobalFeed(ctx, FeedQuery{Tags: []string{"a,b"}, TagMode: TagsIntersection})
	require.NoError(t, err)
	require.Equal(t, []string{"ab"}, feedIDs(feed))

	feed, err = f.feed.GlobalFeed(ctx, FeedQuery{Limit: 2})
	require.NoError(t, err)
	require.Equal(t, []string{"ab", "c"}, feedIDs(feed))
}

func TestGlobalFeedTitleFilter(t *testing.T) {
	f := newFixture(t)
	ctx := testCtx(t)
	p := f.addPost(t, "p1", "u1", time.Now().UTC())
	f.addPost(t, "p2", "u1", time.Now().UTC())

	feed, err := f.feed.GlobalFeed(ctx, FeedQuery{Title: p.Description[:5]})
	require.NoError(t, err)
	require.Contains(t, feedIDs(feed), "p1")
}

func TestGlobalFeedAnnotatesViewerShares(t *testing.T) {
	f := newFixture(t)
	ctx := testCtx(t)
	f.addPost(t, "p1", "u1", time.Now().UTC())
	f.addPost(t, "p2", "u1", time.Now().UTC().Add(-time.Minute))
	f.addShare(t, "viewer", "p2", time.Now().UTC())

	feed, err := f.feed.GlobalFeed(ctx, FeedQuery{ViewerID: "viewer"})
	require.NoError(t, err)
	require.False(t, feed[0].IsSharedByCurrentUser)
	require.True(t, feed[1].IsSharedByCurrentUser)
	require.Equal(t, 1, f.spy.Calls("query:"+models.TableShares))
}

func TestFollowingFeed(t *testing.T) {
	f := newFixture(t)
	ctx := testCtx(t)
	now := time.Now().UTC()
	f.addPost(t, "p1", "u2", now)
	f.addPost(t, "p2", "u3", now.Add(-time.Minute))
	f.addPost(t, "p3", "u4", now.Add(-2*time.Minute))

	feed, err := f.feed.FollowingFeed(ctx, "u1", FeedQuery{Limit: 10, ViewerID: "u1"})
	require.NoError(t, err)
	require.Empty(t, feed)
	require.Zero(t, f.spy.Calls("query:"+models.TablePosts))

	f.addFollow(t, "u1", "u2")
	f.addFollow(t, "u1", "u3")
	feed, err = f.feed.FollowingFeed(ctx, "u1", FeedQuery{Limit: 10, ViewerID: "u1"})
	require.NoError(t, err)
	require.Equal(t, []string{"p1", "p2"}, feedIDs(feed))
}

func TestFollowingFeedFilters(t *testing.T) {
	f := newFixture(t)
	ctx := testCtx(t)
	now := time.Now().UTC()
	tagged := f.addPost(t, "p1", "u2", now, "economy", "europe")
	f.addPost(t, "p2", "u2", now.Add(-time.Minute), "sports")
	f.addPost(t, "p3", "stranger", now, "economy")
	f.addFollow(t, "u1", "u2")

	feed, err := f.feed.FollowingFeed(ctx, "u1", FeedQuery{Tags: []string{"Economy"}})
	require.NoError(t, err)
	require.Equal(t, []string{"p1"}, feedIDs(feed))

	feed, err = f.feed.FollowingFeed(ctx, "u1", FeedQuery{Tags: []string{"economy", "sports"}, TagMode: TagsIntersection})
	require.NoError(t, err)
	require.Empty(t, feed)

	feed, err = f.feed.FollowingFeed(ctx, "u1", FeedQuery{Title: tagged.Description[:6]})
	require.NoError(t, err)
	require.Contains(t, feedIDs(feed), "p1")
	require.NotContains(t, feedIDs(feed), "p3")
}

func TestUserFeedShareWithoutSharerProfile(t *testing.T) {
	f := newFixture(t)
	ctx := testCtx(t)
	now := time.Now().UTC()
	f.addProfile(t, "u2", "Bob")
	f.addPost(t, "orig", "u2", now.Add(-time.Hour))
	f.addShare(t, "nameless", "orig", now)

	feed, err := f.feed.UserFeed(ctx, "nameless", 10, "")
	require.NoError(t, err)
	require.Len(t, feed, 1)
	require.NotNil(t, feed[0].SharedByProfile)
	require.Equal(t, "nameless", feed[0].SharedByProfile.ID)
	require.Nil(t, feed[0].SharedByProfile.Name)
}

func TestNormalizeTags(t *testing.T) {
	require.Equal(t, []string{"go", "news", "ai"}, NormalizeTags([]string{" Go ", "news,AI", "go", ""}))
	require.Nil(t, NormalizeTags(nil))
}
