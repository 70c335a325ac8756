package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/stretchr/testify/require"

	"newsjunkies/gateway"
	"newsjunkies/models"
)

const profileQuery = "query:" + models.TableProfiles

func TestProfileGetDeduplicatesConcurrentCalls(t *testing.T) {
	f := newFixture(t)
	ctx := testCtx(t)
	name := gofakeit.Name()
	f.addProfile(t, "u1", name)

	release := f.spy.Hold(profileQuery)
	const callers = 8
	var wg sync.WaitGroup
	results := make([]*models.Profile, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.profiles.Get(ctx, "u1", false)
		}(i)
	}
	require.True(t, f.spy.WaitCalls(ctx, profileQuery, 1))
	release()
	wg.Wait()

	require.Equal(t, 1, f.spy.Calls(profileQuery))
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, name, *results[i].Name)
	}
}

func TestProfileGetCachesAndForceRefreshes(t *testing.T) {
	f := newFixture(t)
	ctx := testCtx(t)
	f.addProfile(t, "u1", "Ann")

	p, err := f.profiles.Get(ctx, "u1", false)
	require.NoError(t, err)
	require.Equal(t, "Ann", *p.Name)

	p, err = f.profiles.Get(ctx, "u1", false)
	require.NoError(t, err)
	require.Equal(t, "Ann", *p.Name)
	require.Equal(t, 1, f.spy.Calls(profileQuery))

	_, err = f.mem.UpdateRow(ctx, models.TableProfiles, "u1", gateway.Row{"name": "Bob"})
	require.NoError(t, err)
	p, err = f.profiles.Get(ctx, "u1", true)
	require.NoError(t, err)
	require.Equal(t, "Bob", *p.Name)
	require.Equal(t, 2, f.spy.Calls(profileQuery))
}

func TestProfileMissingIsCached(t *testing.T) {
	f := newFixture(t)
	ctx := testCtx(t)

	p, err := f.profiles.Get(ctx, "ghost", false)
	require.NoError(t, err)
	require.Nil(t, p)
	p, err = f.profiles.Get(ctx, "ghost", false)
	require.NoError(t, err)
	require.Nil(t, p)
	require.Equal(t, 1, f.spy.Calls(profileQuery))
}

func TestProfileErrorsPropagateAndAreNotCached(t *testing.T) {
	f := newFixture(t)
	ctx := testCtx(t)
	f.addProfile(t, "u1", "Ann")
	boom := errors.New("connection reset")

	f.spy.Fail(profileQuery, boom)
	_, err := f.profiles.Get(ctx, "u1", false)
	require.True(t, errors.Is(err, boom))
	require.True(t, IsRemote(err))

	f.spy.Fail(profileQuery, nil)
	p, err := f.profiles.Get(ctx, "u1", false)
	require.NoError(t, err)
	require.Equal(t, "Ann", *p.Name)
	require.Equal(t, 2, f.spy.Calls(profileQuery))
}

func TestProfileInvalidateAllDropsInFlightResult(t *testing.T) {
	f := newFixture(t)
	ctx := testCtx(t)
	f.addProfile(t, "u1", "Ann")

	release := f.spy.Hold(profileQuery)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = f.profiles.Get(ctx, "u1", false)
	}()
	require.True(t, f.spy.WaitCalls(ctx, profileQuery, 1))
	f.profiles.InvalidateAll()
	release()
	<-done

	_, err := f.profiles.Get(ctx, "u1", false)
	require.NoError(t, err)
	require.Equal(t, 2, f.spy.Calls(profileQuery))
}

func TestProfileStaleFetchDoesNotOverwriteUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := testCtx(t)
	f.addProfile(t, "u1", "Old")
	late := newLateReply(f.mem)
	profiles := NewProfileCache(late)

	done := make(chan *models.Profile, 1)
	go func() {
		p, _ := profiles.Get(ctx, "u1", false)
		done <- p
	}()
	<-late.read

	name := "New"
	_, err := profiles.Update(ctx, "u1", ProfilePatch{Name: &name})
	require.NoError(t, err)
	close(late.release)
	require.Equal(t, "Old", *(<-done).Name)

	p, err := profiles.Get(ctx, "u1", false)
	require.NoError(t, err)
	require.Equal(t, "New", *p.Name)
}

func TestProfileStaleFetchAfterInvalidate(t *testing.T) {
	f := newFixture(t)
	ctx := testCtx(t)
	f.addProfile(t, "u1", "Old")
	late := newLateReply(f.mem)
	profiles := NewProfileCache(late)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = profiles.Get(ctx, "u1", false)
	}()
	<-late.read

	_, err := f.mem.UpdateRow(ctx, models.TableProfiles, "u1", gateway.Row{"name": "New"})
	require.NoError(t, err)
	profiles.Invalidate("u1")
	close(late.release)
	<-done

	p, err := profiles.Get(ctx, "u1", false)
	require.NoError(t, err)
	require.Equal(t, "New", *p.Name)
}

func TestProfileCancelledCallerDoesNotFailWaiters(t *testing.T) {
	f := newFixture(t)
	ctx := testCtx(t)
	f.addProfile(t, "u1", "Ann")

	release := f.spy.Hold(profileQuery)
	first, cancel := context.WithCancel(ctx)
	firstErr := make(chan error, 1)
	go func() {
		_, err := f.profiles.Get(first, "u1", false)
		firstErr <- err
	}()
	require.True(t, f.spy.WaitCalls(ctx, profileQuery, 1))
	cancel()
	require.ErrorIs(t, <-firstErr, context.Canceled)

	waiter := make(chan *models.Profile, 1)
	go func() {
		p, err := f.profiles.Get(ctx, "u1", false)
		if err != nil {
			p = nil
		}
		waiter <- p
	}()
	release()

	p := <-waiter
	require.NotNil(t, p)
	require.Equal(t, "Ann", *p.Name)
	require.Equal(t, 1, f.spy.Calls(profileQuery))
}

func TestListProfilesFillsCache(t *testing.T) {
	f := newFixture(t)
	ctx := testCtx(t)
	f.addProfile(t, "u1", "Ann")
	f.addProfile(t, "u2", "Bob")

	list, err := f.profiles.ListProfiles(ctx, 0)
	require.NoError(t, err)
	ids := []string{}
	for _, p := range list {
		ids = append(ids, p.ID)
	}
	require.ElementsMatch(t, []string{"u1", "u2"}, ids)
	require.Equal(t, 1, f.spy.Calls(profileQuery))

	p, err := f.profiles.Get(ctx, "u2", false)
	require.NoError(t, err)
	require.Equal(t, "Bob", *p.Name)
	require.Equal(t, 1, f.spy.Calls(profileQuery))

	list, err = f.profiles.ListProfiles(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestProfileActivePointer(t *testing.T) {
	f := newFixture(t)
	ctx := testCtx(t)
	f.addProfile(t, "u1", "Ann")
	f.addProfile(t, "u2", "Bob")

	f.profiles.SetActive("u1")
	_, err := f.profiles.Get(ctx, "u2", false)
	require.NoError(t, err)
	require.Nil(t, f.profiles.Active())

	_, err = f.profiles.Get(ctx, "u1", false)
	require.NoError(t, err)
	require.Equal(t, "u1", f.profiles.Active().ID)

	f.profiles.SetActive("")
	require.Nil(t, f.profiles.Active())
	_, err = f.profiles.Get(ctx, "u2", true)
	require.NoError(t, err)
	require.Equal(t, "u2", f.profiles.Active().ID)
}

func TestProfileGetManyFetchesOnlyMissing(t *testing.T) {
	f := newFixture(t)
	ctx := testCtx(t)
	f.addProfile(t, "u1", "Ann")
	f.addProfile(t, "u2", "Bob")

	_, err := f.profiles.Get(ctx, "u1", false)
	require.NoError(t, err)

	got, err := f.profiles.GetMany(ctx, []string{"u1", "u2", "ghost", "u2"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, 1, f.spy.Calls("query_in:"+models.TableProfiles))

	_, err = f.profiles.GetMany(ctx, []string{"u2", "ghost"})
	require.NoError(t, err)
	require.Equal(t, 1, f.spy.Calls("query_in:"+models.TableProfiles))
}

func TestTrackViewKeepsLastTen(t *testing.T) {
	f := newFixture(t)
	ctx := testCtx(t)
	f.addProfile(t, "u1", "Ann")
	f.profiles.SetActive("u1")

	var tags []string
	for i := 0; i < 15; i++ {
		tag := fmt.Sprintf("tag%02d", i)
		tags = append(tags, tag)
		f.profiles.TrackView(ctx, "u1", "  "+tag+" ")
	}

	p, err := f.profiles.Get(ctx, "u1", false)
	require.NoError(t, err)
	require.Equal(t, tags[5:], p.RecentlyViewedTags)
	require.Equal(t, tags[5:], f.profiles.Active().RecentlyViewedTags)

	upserts := f.spy.Calls("upsert:" + models.TableProfiles)
	f.profiles.TrackView(ctx, "u1", "TAG07")
	f.profiles.TrackView(ctx, "u1", "")
	p, err = f.profiles.Get(ctx, "u1", true)
	require.NoError(t, err)
	require.Equal(t, tags[5:], p.RecentlyViewedTags)
	require.Equal(t, upserts, f.spy.Calls("upsert:"+models.TableProfiles))
}

func TestTrackViewSwallowsErrors(t *testing.T) {
	f := newFixture(t)
	ctx := testCtx(t)
	f.addProfile(t, "u1", "Ann")
	f.spy.Fail("upsert:"+models.TableProfiles, errors.New("down"))

	require.NotPanics(t, func() { f.profiles.TrackView(ctx, "u1", "go") })
	p, err := f.profiles.Get(ctx, "u1", false)
	require.NoError(t, err)
	require.Empty(t, p.RecentlyViewedTags)
}

func TestProfileUpdateValidatesAndRefreshesCache(t *testing.T) {
	f := newFixture(t)
	ctx := testCtx(t)

	empty := "  "
	_, err := f.profiles.Update(ctx, "u1", ProfilePatch{Name: &empty})
	require.True(t, IsValidation(err))
	require.Zero(t, f.spy.Calls("upsert:"+models.TableProfiles))

	name := "Ann"
	p, err := f.profiles.Update(ctx, "u1", ProfilePatch{Name: &name})
	require.NoError(t, err)
	require.True(t, p.HasName())

	cached, err := f.profiles.Get(ctx, "u1", false)
	require.NoError(t, err)
	require.Equal(t, "Ann", *cached.Name)
	require.Zero(t, f.spy.Calls(profileQuery))
}

func TestFollowIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := testCtx(t)

	require.NoError(t, f.profiles.Follow(ctx, "u1", "u2"))
	require.NoError(t, f.profiles.Follow(ctx, "u1", "u2"))
	require.NoError(t, f.profiles.Follow(ctx, "u3", "u2"))
	require.True(t, IsValidation(f.profiles.Follow(ctx, "u1", "u1")))

	following, err := f.profiles.IsFollowing(ctx, "u1", "u2")
	require.NoError(t, err)
	require.True(t, following)

	followers, followingCount, err := f.profiles.FollowCounts(ctx, "u2")
	require.NoError(t, err)
	require.EqualValues(t, 2, followers)
	require.EqualValues(t, 0, followingCount)

	ids, err := f.profiles.FollowingIDs(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, []string{"u2"}, ids)

	require.NoError(t, f.profiles.Unfollow(ctx, "u1", "u2"))
	require.NoError(t, f.profiles.Unfollow(ctx, "u1", "u2"))
	following, err = f.profiles.IsFollowing(ctx, "u1", "u2")
	require.NoError(t, err)
	require.False(t, following)
}

func TestBlobPath(t *testing.T) {
	path, ok := BlobPath("http://localhost:8080/media/profile-pictures/u1/17.jpg", PictureBucket)
	require.True(t, ok)
	require.Equal(t, "u1/17.jpg", path)

	_, ok = BlobPath("https://example.com/avatar.png", PictureBucket)
	require.False(t, ok)
}
