package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"newsjunkies/gateway"
	"newsjunkies/models"
)

const shareQuery = "query:" + models.TableShares

func TestShareIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := testCtx(t)
	f.addPost(t, "p1", "author", time.Now().UTC())

	require.NoError(t, f.shares.Share(ctx, "u1", "p1"))
	require.NoError(t, f.shares.Share(ctx, "u1", "p1"))

	n, err := f.mem.CountRows(ctx, models.TableShares, gateway.Eq("user_id", "u1"), gateway.Eq("post_id", "p1"))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	shared, err := f.shares.GetOne(ctx, "u1", "p1")
	require.NoError(t, err)
	require.True(t, shared)

	require.NoError(t, f.shares.Unshare(ctx, "u1", "p1"))
	n, err = f.mem.CountRows(ctx, models.TableShares, gateway.Eq("user_id", "u1"))
	require.NoError(t, err)
	require.Zero(t, n)
	shared, err = f.shares.GetOne(ctx, "u1", "p1")
	require.NoError(t, err)
	require.False(t, shared)
}

func TestShareGetManyBatchesAndCaches(t *testing.T) {
	f := newFixture(t)
	ctx := testCtx(t)
	f.addShare(t, "v", "p1", time.Now().UTC())

	got, err := f.shares.GetMany(ctx, "v", []string{"p1", "p2", "p3"})
	require.NoError(t, err)
	require.Equal(t, map[string]bool{"p1": true, "p2": false, "p3": false}, got)
	require.Equal(t, 1, f.spy.Calls(shareQuery))

	got, err = f.shares.GetMany(ctx, "v", []string{"p3", "p1"})
	require.NoError(t, err)
	require.Equal(t, map[string]bool{"p1": true, "p3": false}, got)
	require.Equal(t, 1, f.spy.Calls(shareQuery))

	f.shares.Invalidate("v")
	_, err = f.shares.GetOne(ctx, "v", "p1")
	require.NoError(t, err)
	require.Equal(t, 2, f.spy.Calls(shareQuery))
}

func TestShareGetManyCollapsesPerViewer(t *testing.T) {
	f := newFixture(t)
	ctx := testCtx(t)
	f.addShare(t, "v", "p1", time.Now().UTC())

	release := f.spy.Hold(shareQuery)
	var wg sync.WaitGroup
	results := make([]map[string]bool, 4)
	errs := make([]error, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.shares.GetMany(ctx, "v", []string{"p1", "p2"})
		}(i)
	}
	require.True(t, f.spy.WaitCalls(ctx, shareQuery, 1))
	release()
	wg.Wait()

	require.Equal(t, 1, f.spy.Calls(shareQuery))
	for i, res := range results {
		require.NoError(t, errs[i])
		require.Equal(t, map[string]bool{"p1": true, "p2": false}, res)
	}
}

func TestShareSetWinsOverInFlightFetch(t *testing.T) {
	f := newFixture(t)
	ctx := testCtx(t)

	release := f.spy.Hold(shareQuery)
	done := make(chan map[string]bool, 1)
	go func() {
		res, _ := f.shares.GetMany(ctx, "v", []string{"p1"})
		done <- res
	}()
	require.True(t, f.spy.WaitCalls(ctx, shareQuery, 1))
	f.shares.Set("v", "p1", true)
	release()

	require.True(t, (<-done)["p1"])
	shared, err := f.shares.GetOne(ctx, "v", "p1")
	require.NoError(t, err)
	require.True(t, shared)
}

func TestShareErrors(t *testing.T) {
	f := newFixture(t)
	ctx := testCtx(t)
	boom := errors.New("timeout")

	f.spy.Fail(shareQuery, boom)
	_, err := f.shares.GetMany(ctx, "v", []string{"p1"})
	require.True(t, errors.Is(err, boom))
	require.True(t, IsRemote(err))

	err = f.shares.Share(ctx, "v", "p1")
	require.True(t, errors.Is(err, boom))
	f.spy.Fail(shareQuery, nil)

	shared, err := f.shares.GetOne(ctx, "v", "p1")
	require.NoError(t, err)
	require.False(t, shared)
}

func TestShareAnonymousViewer(t *testing.T) {
	f := newFixture(t)
	got, err := f.shares.GetMany(testCtx(t), "", []string{"p1"})
	require.NoError(t, err)
	require.False(t, got["p1"])
	require.Zero(t, f.spy.Calls(shareQuery))
}

func TestShareCancelledCallerDoesNotFailWaiters(t *testing.T) {
	f := newFixture(t)
	ctx := testCtx(t)
	f.addShare(t, "v", "p1", time.Now().UTC())

	release := f.spy.Hold(shareQuery)
	first, cancel := context.WithCancel(ctx)
	firstErr := make(chan error, 1)
	go func() {
		_, err := f.shares.GetMany(first, "v", []string{"p1"})
		firstErr <- err
	}()
	require.True(t, f.spy.WaitCalls(ctx, shareQuery, 1))
	cancel()
	require.ErrorIs(t, <-firstErr, context.Canceled)

	type result struct {
		shared bool
		err    error
	}
	waiter := make(chan result, 1)
	go func() {
		shared, err := f.shares.GetOne(ctx, "v", "p1")
		waiter <- result{shared, err}
	}()
	release()

	res := <-waiter
	require.NoError(t, res.err)
	require.True(t, res.shared)
	require.Equal(t, 1, f.spy.Calls(shareQuery))
}
