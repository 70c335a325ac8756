package services

import (
	"context"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"newsjunkies/gateway"
	"newsjunkies/models"
)

const (
	DefaultFeedLimit = 50
	MaxFeedLimit     = 200
)

type TagMode string

const (
	TagsUnion        TagMode = "union"        // хотя бы один общий тег
	TagsIntersection TagMode = "intersection" // все теги фильтра
)

// FeedQuery - параметры общей ленты
type FeedQuery struct {
	Limit    int      `form:"limit"`
	Tags     []string `form:"tags"`
	TagMode  TagMode  `form:"tag_mode"`
	Title    string   `form:"title"`
	ViewerID string   `form:"-"`
}

// FeedAggregator собирает ленты: общую (с фильтром по тегам), ленту автора
// (свои посты и репосты) и ленту подписок. Все посты аннотируются профилем
// автора и признаком "зритель уже репостнул".
type FeedAggregator struct {
	gw       gateway.Gateway
	profiles *ProfileCache
	shares   *ShareStatusCache

	DefaultLimit int
	MaxLimit     int
}

func NewFeedAggregator(gw gateway.Gateway, profiles *ProfileCache, shares *ShareStatusCache) *FeedAggregator {
	return &FeedAggregator{
		gw:           gw,
		profiles:     profiles,
		shares:       shares,
		DefaultLimit: DefaultFeedLimit,
		MaxLimit:     MaxFeedLimit,
	}
}

// Limit приводит запрошенный размер ленты к допустимому
func (a *FeedAggregator) Limit(n int) int {
	if n <= 0 {
		return a.DefaultLimit
	}
	if n > a.MaxLimit {
		return a.MaxLimit
	}
	return n
}

// NormalizeTags приводит теги к нижнему регистру, убирает пустые и повторы
func NormalizeTags(tags []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, t := range tags {
		for _, part := range strings.Split(t, ",") {
			part = strings.ToLower(strings.TrimSpace(part))
			if part == "" || seen[part] {
				continue
			}
			seen[part] = true
			out = append(out, part)
		}
	}
	return out
}

// filters - фильтры по тегам и подстроке описания
func (q FeedQuery) filters() []gateway.Filter {
	var filters []gateway.Filter
	if tags := NormalizeTags(q.Tags); len(tags) > 0 {
		if q.TagMode == TagsIntersection {
			filters = append(filters, gateway.Contains("tags", tags))
		} else {
			filters = append(filters, gateway.Overlaps("tags", tags))
		}
	}
	if title := strings.TrimSpace(q.Title); title != "" {
		filters = append(filters, gateway.ILike("description", title))
	}
	return filters
}

func (a *FeedAggregator) GlobalFeed(ctx context.Context, q FeedQuery) ([]models.FeedPost, error) {
	defer observeFeed("global", time.Now())

	posts, err := a.recentPosts(ctx, q.filters(), a.Limit(q.Limit))
	if err != nil {
		return nil, err
	}
	return a.annotate(ctx, toFeed(posts), q.ViewerID, "")
}

// UserFeed - посты автора вместе с его репостами, по убыванию времени
func (a *FeedAggregator) UserFeed(ctx context.Context, userID string, limit int, viewerID string) ([]models.FeedPost, error) {
	defer observeFeed("user", time.Now())
	if userID == "" {
		return []models.FeedPost{}, nil
	}
	limit = a.Limit(limit)

	var (
		authored []models.Post
		shares   []models.Share
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		authored, err = a.recentPosts(gctx, []gateway.Filter{gateway.Eq("user_id", userID)}, limit)
		return err
	})
	g.Go(func() error {
		rows, err := a.gw.QueryRows(gctx, models.TableShares, gateway.Query{
			Filters: []gateway.Filter{gateway.Eq("user_id", userID)},
			OrderBy: "created_at",
			Desc:    true,
			Limit:   limit,
		})
		if err != nil {
			return remote("fetch shares", err)
		}
		for _, r := range rows {
			s, err := models.ShareFromRow(r)
			if err != nil {
				return err
			}
			shares = append(shares, s)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	feed := toFeed(authored)
	if len(shares) > 0 {
		shared, err := a.sharedPosts(ctx, userID, shares)
		if err != nil {
			return nil, err
		}
		feed = append(feed, shared...)
	}

	sort.SliceStable(feed, func(i, j int) bool {
		return feed[i].CreatedAt.After(feed[j].CreatedAt)
	})
	if len(feed) > limit {
		feed = feed[:limit]
	}
	return a.annotate(ctx, feed, viewerID, userID)
}

// sharedPosts строит записи ленты для репостов; репосты удаленных постов пропускаются
func (a *FeedAggregator) sharedPosts(ctx context.Context, sharerID string, shares []models.Share) ([]models.FeedPost, error) {
	ids := make([]string, 0, len(shares))
	for _, s := range shares {
		ids = append(ids, s.PostID)
	}
	rows, err := a.gw.QueryRowsIn(ctx, models.TablePosts, "id", ids)
	if err != nil {
		return nil, remote("fetch shared posts", err)
	}
	originals, err := models.PostsFromRows(rows)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]models.Post, len(originals))
	for _, p := range originals {
		byID[p.ID] = p
	}

	out := make([]models.FeedPost, 0, len(shares))
	for _, s := range shares {
		orig, ok := byID[s.PostID]
		if !ok {
			continue
		}
		post := orig
		post.ID = models.ShareID(orig.ID, sharerID)
		post.CreatedAt = s.CreatedAt
		out = append(out, models.FeedPost{Post: post, OriginalPostID: orig.ID})
	}
	return out, nil
}

// FollowingFeed - посты пользователей, на которых подписан followerID,
// с теми же фильтрами по тегам и описанию, что и общая лента
func (a *FeedAggregator) FollowingFeed(ctx context.Context, followerID string, q FeedQuery) ([]models.FeedPost, error) {
	defer observeFeed("following", time.Now())
	if followerID == "" {
		return []models.FeedPost{}, nil
	}
	following, err := a.profiles.FollowingIDs(ctx, followerID)
	if err != nil {
		return nil, err
	}
	if len(following) == 0 {
		return []models.FeedPost{}, nil
	}

	filters := append([]gateway.Filter{gateway.In("user_id", following)}, q.filters()...)
	posts, err := a.recentPosts(ctx, filters, a.Limit(q.Limit))
	if err != nil {
		return nil, err
	}
	return a.annotate(ctx, toFeed(posts), q.ViewerID, "")
}

func (a *FeedAggregator) recentPosts(ctx context.Context, filters []gateway.Filter, limit int) ([]models.Post, error) {
	rows, err := a.gw.QueryRows(ctx, models.TablePosts, gateway.Query{
		Filters: filters,
		OrderBy: "created_at",
		Desc:    true,
		Limit:   limit,
	})
	if err != nil {
		return nil, remote("fetch posts", err)
	}
	return models.PostsFromRows(rows)
}

// annotate проставляет профили авторов и статус репоста зрителем.
// Статус всегда считается по id исходного поста.
func (a *FeedAggregator) annotate(ctx context.Context, feed []models.FeedPost, viewerID, sharerID string) ([]models.FeedPost, error) {
	if len(feed) == 0 {
		return feed, nil
	}

	userIDs := make([]string, 0, len(feed)+1)
	keys := make([]string, 0, len(feed))
	for _, p := range feed {
		userIDs = append(userIDs, p.UserID)
		keys = append(keys, p.ShareKey())
	}
	if sharerID != "" {
		userIDs = append(userIDs, sharerID)
	}

	var (
		profiles map[string]*models.Profile
		shared   map[string]bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		profiles, err = a.profiles.GetMany(gctx, userIDs)
		return err
	})
	g.Go(func() error {
		var err error
		shared, err = a.shares.GetMany(gctx, viewerID, keys)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i := range feed {
		p := &feed[i]
		p.AuthorProfile = profiles[p.UserID]
		if p.IsShare() {
			p.SharedByProfile = profiles[sharerID]
			if p.SharedByProfile == nil {
				// у репостнувшего может еще не быть профиля
				p.SharedByProfile = &models.Profile{ID: sharerID}
			}
		}
		p.IsSharedByCurrentUser = shared[p.ShareKey()]
	}
	return feed, nil
}

func toFeed(posts []models.Post) []models.FeedPost {
	feed := make([]models.FeedPost, 0, len(posts))
	for _, p := range posts {
		feed = append(feed, models.FeedPost{Post: p})
	}
	return feed
}

func observeFeed(feed string, start time.Time) {
	feedBuildDuration.WithLabelValues(feed).Observe(time.Since(start).Seconds())
}
