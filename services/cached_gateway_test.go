package services

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"

	"newsjunkies/gateway"
	"newsjunkies/models"
)

type redisFixture struct {
	*fixture
	redis  *miniredis.Miniredis
	cached *CachedGateway
}

func newRedisFixture(t *testing.T) *redisFixture {
	t.Helper()
	f := newFixture(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return &redisFixture{fixture: f, redis: mr, cached: NewCachedGateway(f.spy, client, time.Minute)}
}

func byID(id string) gateway.Query {
	return gateway.Query{Filters: []gateway.Filter{gateway.Eq("id", id)}}
}

func TestCachedGatewayServesProfileFromRedis(t *testing.T) {
	f := newRedisFixture(t)
	ctx := testCtx(t)
	now := time.Now().UTC().Truncate(time.Second)
	_, err := f.mem.InsertRow(ctx, models.TableProfiles, gateway.Row{
		"id":                   "u1",
		"name":                 "Ann",
		"recently_viewed_tags": json.RawMessage(`["politics","economy"]`),
		"created_at":           now,
		"updated_at":           now,
	})
	require.NoError(t, err)

	rows, err := f.cached.QueryRows(ctx, models.TableProfiles, byID("u1"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, 1, f.spy.Calls("query:"+models.TableProfiles))
	require.True(t, f.redis.Exists(profileKey("u1")))
	require.Equal(t, time.Minute, f.redis.TTL(profileKey("u1")))

	rows, err = f.cached.QueryRows(ctx, models.TableProfiles, byID("u1"))
	require.NoError(t, err)
	require.Equal(t, 1, f.spy.Calls("query:"+models.TableProfiles))

	// JSON-колонка переживает Redis строкой, а не base64
	p, err := models.ProfileFromRow(rows[0])
	require.NoError(t, err)
	require.Equal(t, "Ann", *p.Name)
	require.Equal(t, []string{"politics", "economy"}, p.RecentlyViewedTags)
	require.True(t, now.Equal(p.CreatedAt))
}

func TestCachedGatewayMergesPartialHits(t *testing.T) {
	f := newRedisFixture(t)
	ctx := testCtx(t)
	for _, id := range []string{"a", "b", "c"} {
		f.addProfile(t, id, id+"-name")
	}
	_, err := f.cached.QueryRows(ctx, models.TableProfiles, byID("a"))
	require.NoError(t, err)

	rows, err := f.cached.QueryRowsIn(ctx, models.TableProfiles, "id", []string{"a", "b", "c"})
	require.NoError(t, err)
	ids := []string{}
	for _, r := range rows {
		ids = append(ids, r["id"].(string))
	}
	require.ElementsMatch(t, []string{"a", "b", "c"}, ids)
	require.Equal(t, 1, f.spy.Calls("query_in:"+models.TableProfiles))
	require.True(t, f.redis.Exists(profileKey("b")))
	require.True(t, f.redis.Exists(profileKey("c")))

	rows, err = f.cached.QueryRowsIn(ctx, models.TableProfiles, "id", []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, 1, f.spy.Calls("query_in:"+models.TableProfiles))
}

func TestCachedGatewayDropsProfileOnWrite(t *testing.T) {
	f := newRedisFixture(t)
	ctx := testCtx(t)
	f.addProfile(t, "u1", "Ann")
	cache := func() {
		t.Helper()
		_, err := f.cached.QueryRows(ctx, models.TableProfiles, byID("u1"))
		require.NoError(t, err)
		require.True(t, f.redis.Exists(profileKey("u1")))
	}

	cache()
	_, err := f.cached.UpdateRow(ctx, models.TableProfiles, "u1", gateway.Row{"name": "Bob"})
	require.NoError(t, err)
	require.False(t, f.redis.Exists(profileKey("u1")))

	cache()
	_, err = f.cached.UpsertRow(ctx, models.TableProfiles, "id", gateway.Row{"id": "u1", "name": "Cid"})
	require.NoError(t, err)
	require.False(t, f.redis.Exists(profileKey("u1")))

	cache()
	f.cached.Forget(ctx, "u1")
	require.False(t, f.redis.Exists(profileKey("u1")))

	cache()
	require.NoError(t, f.cached.DeleteRow(ctx, models.TableProfiles, "u1"))
	require.False(t, f.redis.Exists(profileKey("u1")))
}

func TestCachedGatewayWorksWithoutRedis(t *testing.T) {
	f := newRedisFixture(t)
	ctx := testCtx(t)
	f.addProfile(t, "u1", "Ann")
	f.redis.Close()

	rows, err := f.cached.QueryRows(ctx, models.TableProfiles, byID("u1"))
	require.NoError(t, err)
	require.Len(t, rows, 1)

	rows, err = f.cached.QueryRowsIn(ctx, models.TableProfiles, "id", []string{"u1"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestCachedGatewayPassesOtherTablesThrough(t *testing.T) {
	f := newRedisFixture(t)
	ctx := testCtx(t)
	f.addPost(t, "p1", "u1", time.Now().UTC())

	for i := 0; i < 2; i++ {
		rows, err := f.cached.QueryRows(ctx, models.TablePosts, byID("p1"))
		require.NoError(t, err)
		require.Len(t, rows, 1)
	}
	require.Equal(t, 2, f.spy.Calls("query:"+models.TablePosts))
	require.Empty(t, f.redis.Keys())
}
