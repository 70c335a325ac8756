package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"newsjunkies/models"
	"newsjunkies/services"
)

func TestLoadProfileWithFollowData(t *testing.T) {
	f := newFixture(t)
	ctx := testCtx(t)
	f.addProfile(t, "a", "Alice")
	f.addFollow(t, "b", "a")
	f.addFollow(t, "c", "a")
	f.addFollow(t, "a", "c")

	require.NoError(t, f.profile.Dispatch(ctx, LoadProfileWithFollowData{UserID: "a", ViewerID: "b"}))

	st := f.profile.State()
	require.Equal(t, StatusReady, st.Status)
	require.Equal(t, "Alice", *st.Profile.Name)
	require.True(t, st.IsFollowing)
	require.EqualValues(t, 2, st.FollowersCount)
	require.EqualValues(t, 1, st.FollowingCount)
}

func TestLoadProfileKeepsCountsForSameUser(t *testing.T) {
	f := newFixture(t)
	ctx := testCtx(t)
	f.addProfile(t, "a", "Alice")
	f.addFollow(t, "b", "a")

	require.NoError(t, f.profile.Dispatch(ctx, LoadProfileWithFollowData{UserID: "a", ViewerID: "b"}))
	require.NoError(t, f.profile.Dispatch(ctx, LoadProfile{UserID: "a", Force: true}))

	st := f.profile.State()
	require.True(t, st.IsFollowing)
	require.EqualValues(t, 1, st.FollowersCount)
}

func TestFollowIsOptimistic(t *testing.T) {
	f := newFixture(t)
	ctx := testCtx(t)
	f.addProfile(t, "a", "Alice")
	require.NoError(t, f.profile.Dispatch(ctx, LoadProfileWithFollowData{UserID: "a", ViewerID: "b"}))

	require.NoError(t, f.profile.Dispatch(ctx, Follow{FollowerID: "b", FollowingID: "a"}))
	st := f.profile.State()
	require.True(t, st.IsFollowing)
	require.EqualValues(t, 1, st.FollowersCount)

	ok, err := f.profiles.IsFollowing(ctx, "b", "a")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, f.profile.Dispatch(ctx, Unfollow{FollowerID: "b", FollowingID: "a"}))
	st = f.profile.State()
	require.False(t, st.IsFollowing)
	require.Zero(t, st.FollowersCount)
	require.Equal(t, []services.EventType{services.EventFollowChanged, services.EventFollowChanged}, f.events.types())
}

func TestFollowRollsBackOnFailure(t *testing.T) {
	f := newFixture(t)
	ctx := testCtx(t)
	f.addProfile(t, "a", "Alice")
	require.NoError(t, f.profile.Dispatch(ctx, LoadProfileWithFollowData{UserID: "a", ViewerID: "b"}))

	var counts []int64
	unsubscribe := f.profile.Subscribe(func(st ProfileState) {
		counts = append(counts, st.FollowersCount)
	})
	defer unsubscribe()

	f.spy.Fail("insert:"+models.TableFollows, errBoom)
	err := f.profile.Dispatch(ctx, Follow{FollowerID: "b", FollowingID: "a"})
	require.ErrorIs(t, err, errBoom)

	st := f.profile.State()
	require.False(t, st.IsFollowing)
	require.Zero(t, st.FollowersCount)
	require.Contains(t, st.Error, "boom")
	require.Equal(t, []int64{1, 0, 0}, counts)
}

func TestFollowSelfIsValidation(t *testing.T) {
	f := newFixture(t)
	ctx := testCtx(t)

	err := f.profile.Dispatch(ctx, Follow{FollowerID: "a", FollowingID: "a"})
	require.True(t, services.IsValidation(err))
	require.Zero(t, f.spy.Calls("insert:"+models.TableFollows))
}

func TestUpdateProfile(t *testing.T) {
	f := newFixture(t)
	ctx := testCtx(t)
	f.addProfile(t, "a", "Alice")
	require.NoError(t, f.profile.Dispatch(ctx, LoadProfile{UserID: "a"}))

	err := f.profile.Dispatch(ctx, UpdateProfile{UserID: "a", Patch: services.ProfilePatch{
		Description: strPtr("reads the news"),
	}})
	require.NoError(t, err)

	st := f.profile.State()
	require.Equal(t, "Alice", *st.Profile.Name)
	require.Equal(t, "reads the news", *st.Profile.Description)
	require.Equal(t, []services.EventType{services.EventProfileUpdated}, f.events.types())

	cached, err := f.profiles.Get(ctx, "a", false)
	require.NoError(t, err)
	require.Equal(t, "reads the news", *cached.Description)
}

func TestUploadPictureRejectsGarbage(t *testing.T) {
	f := newFixture(t)
	ctx := testCtx(t)
	f.addProfile(t, "a", "Alice")

	err := f.profile.Dispatch(ctx, UploadPicture{UserID: "a", Data: []byte("not an image")})
	require.True(t, services.IsValidation(err))
	require.Zero(t, f.spy.Calls("upload:"+services.PictureBucket))
}

func TestClearProfile(t *testing.T) {
	f := newFixture(t)
	ctx := testCtx(t)
	f.addProfile(t, "a", "Alice")
	require.NoError(t, f.profile.Dispatch(ctx, LoadProfile{UserID: "a"}))

	require.NoError(t, f.profile.Dispatch(ctx, ClearProfile{}))
	st := f.profile.State()
	require.Nil(t, st.Profile)
	require.Equal(t, StatusIdle, st.Status)
}
