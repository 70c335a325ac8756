package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang/glog"
	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"newsjunkies/gateway"
	"newsjunkies/media"
	"newsjunkies/models"
)

const PictureBucket = "profile-pictures"

// ListProfiles - профили для страницы поиска людей, новые первыми.
// Полученные профили попадают в кеш.
func (c *ProfileCache) ListProfiles(ctx context.Context, limit int) ([]*models.Profile, error) {
	c.mu.Lock()
	epoch, startSeq := c.epoch, c.seq
	c.mu.Unlock()

	rows, err := c.gw.QueryRows(ctx, models.TableProfiles, gateway.Query{
		OrderBy: "created_at",
		Desc:    true,
		Limit:   limit,
	})
	recordFetch(profileCacheName, err)
	if err != nil {
		return nil, remote("list profiles", err)
	}

	out := make([]*models.Profile, 0, len(rows))
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range rows {
		p, err := models.ProfileFromRow(r)
		if err != nil {
			return nil, err
		}
		if c.fresherLocked(p.ID, epoch, startSeq) {
			c.storeLocked(p.ID, &p)
		}
		out = append(out, p.Clone())
	}
	return out, nil
}

// Подписки

func (c *ProfileCache) Follow(ctx context.Context, followerID, followingID string) error {
	if followerID == followingID {
		return &ValidationError{Field: "following_id", Message: "cannot follow yourself"}
	}
	rows, err := c.followRows(ctx, followerID, followingID)
	if err != nil {
		return err
	}
	if len(rows) > 0 {
		return nil
	}
	_, err = c.gw.InsertRow(ctx, models.TableFollows, models.Follow{
		ID:          ulid.Make().String(),
		FollowerID:  followerID,
		FollowingID: followingID,
		CreatedAt:   c.now(),
	}.Row())
	if errors.Is(err, gateway.ErrConflict) {
		// параллельная подписка уже создала запись
		return nil
	}
	return remote("follow", err)
}

func (c *ProfileCache) Unfollow(ctx context.Context, followerID, followingID string) error {
	rows, err := c.followRows(ctx, followerID, followingID)
	if err != nil {
		return err
	}
	for _, r := range rows {
		f, err := models.FollowFromRow(r)
		if err != nil {
			return err
		}
		if err := c.gw.DeleteRow(ctx, models.TableFollows, f.ID); err != nil && !errors.Is(err, gateway.ErrNotFound) {
			return remote("unfollow", err)
		}
	}
	return nil
}

func (c *ProfileCache) IsFollowing(ctx context.Context, followerID, followingID string) (bool, error) {
	n, err := c.gw.CountRows(ctx, models.TableFollows,
		gateway.Eq("follower_id", followerID),
		gateway.Eq("following_id", followingID),
	)
	if err != nil {
		return false, remote("is following", err)
	}
	return n > 0, nil
}

// FollowCounts возвращает число подписчиков и подписок пользователя
func (c *ProfileCache) FollowCounts(ctx context.Context, userID string) (followers, following int64, err error) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := c.gw.CountRows(gctx, models.TableFollows, gateway.Eq("following_id", userID))
		followers = n
		return err
	})
	g.Go(func() error {
		n, err := c.gw.CountRows(gctx, models.TableFollows, gateway.Eq("follower_id", userID))
		following = n
		return err
	})
	if err := g.Wait(); err != nil {
		return 0, 0, remote("follow counts", err)
	}
	return followers, following, nil
}

func (c *ProfileCache) FollowingIDs(ctx context.Context, followerID string) ([]string, error) {
	rows, err := c.gw.QueryRows(ctx, models.TableFollows, gateway.Query{
		Filters: []gateway.Filter{gateway.Eq("follower_id", followerID)},
	})
	if err != nil {
		return nil, remote("following list", err)
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		f, err := models.FollowFromRow(r)
		if err != nil {
			return nil, err
		}
		ids = append(ids, f.FollowingID)
	}
	return ids, nil
}

func (c *ProfileCache) followRows(ctx context.Context, followerID, followingID string) ([]gateway.Row, error) {
	rows, err := c.gw.QueryRows(ctx, models.TableFollows, gateway.Query{
		Filters: []gateway.Filter{
			gateway.Eq("follower_id", followerID),
			gateway.Eq("following_id", followingID),
		},
	})
	if err != nil {
		return nil, remote("follow lookup", err)
	}
	return rows, nil
}

// Аватарки

// UploadPicture уменьшает картинку, загружает ее и прописывает ссылку в профиль.
// Старая картинка удаляется после успешной записи, ошибки удаления только логируются.
func (c *ProfileCache) UploadPicture(ctx context.Context, userID string, data []byte) (*models.Profile, error) {
	if len(data) == 0 {
		return nil, &ValidationError{Field: "picture", Message: "is empty"}
	}
	resized, err := media.Resize(data, c.PictureSize, media.DefaultQuality)
	if err != nil {
		return nil, &ValidationError{Field: "picture", Message: err.Error()}
	}

	current, err := c.Get(ctx, userID, false)
	if err != nil {
		return nil, profileError(userID, err)
	}

	path := fmt.Sprintf("%s/%d.jpg", userID, c.now().UnixMilli())
	url, err := c.gw.UploadBlob(ctx, PictureBucket, path, resized)
	if err != nil {
		return nil, remote("upload picture", err)
	}

	profile, err := c.upsert(ctx, "update picture", userID, gateway.Row{
		"id":                  userID,
		"profile_picture_url": url,
		"updated_at":          c.now(),
	})
	if err != nil {
		return nil, err
	}

	if current != nil && current.PictureURL != nil {
		if old, ok := BlobPath(*current.PictureURL, PictureBucket); ok && old != path {
			if err := c.gw.DeleteBlob(ctx, PictureBucket, old); err != nil {
				glog.Warningf("delete old picture %s: %v", old, err)
			}
		}
	}
	return profile, nil
}

func (c *ProfileCache) DeletePicture(ctx context.Context, userID string) (*models.Profile, error) {
	current, err := c.Get(ctx, userID, false)
	if err != nil {
		return nil, profileError(userID, err)
	}
	if current == nil || current.PictureURL == nil {
		return current, nil
	}

	profile, err := c.upsert(ctx, "delete picture", userID, gateway.Row{
		"id":                  userID,
		"profile_picture_url": nil,
		"updated_at":          c.now(),
	})
	if err != nil {
		return nil, err
	}
	if path, ok := BlobPath(*current.PictureURL, PictureBucket); ok {
		if err := c.gw.DeleteBlob(ctx, PictureBucket, path); err != nil {
			glog.Warningf("delete picture %s: %v", path, err)
		}
	}
	return profile, nil
}

// BlobPath достает путь внутри бакета из публичной ссылки (.../<bucket>/<path>)
func BlobPath(url, bucket string) (string, bool) {
	marker := "/" + bucket + "/"
	i := strings.LastIndex(url, marker)
	if i < 0 {
		return "", false
	}
	path := url[i+len(marker):]
	if path == "" {
		return "", false
	}
	return path, true
}
