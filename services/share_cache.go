package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/singleflight"

	"newsjunkies/gateway"
	"newsjunkies/models"
)

const shareCacheName = "share_status"

// ShareStatusCache хранит для каждого зрителя, какие посты он репостнул.
//
// Параллельные запросы одного зрителя схлопываются в один: второй вызов ждет
// результат первого и берет из него только свои id. Если первый запрос не
// покрывал какие-то id второго, для них вернется false.
type ShareStatusCache struct {
	gw  gateway.Gateway
	now func() time.Time

	mu      sync.Mutex
	entries map[string]map[string]bool
	// номер последней синхронной записи Set для пары зритель/пост
	writes map[string]map[string]uint64
	seq    uint64
	epoch  uint64
	group  *singleflight.Group
}

func NewShareStatusCache(gw gateway.Gateway) *ShareStatusCache {
	return &ShareStatusCache{
		gw:      gw,
		now:     func() time.Time { return time.Now().UTC() },
		entries: map[string]map[string]bool{},
		writes:  map[string]map[string]uint64{},
		group:   &singleflight.Group{},
	}
}

func (c *ShareStatusCache) GetMany(ctx context.Context, viewerID string, postIDs []string) (map[string]bool, error) {
	out := make(map[string]bool, len(postIDs))
	if viewerID == "" {
		for _, id := range postIDs {
			out[id] = false
		}
		return out, nil
	}

	var missing []string
	c.mu.Lock()
	cached := c.entries[viewerID]
	for _, id := range postIDs {
		if v, ok := cached[id]; ok {
			out[id] = v
		} else if _, dup := out[id]; !dup {
			out[id] = false
			missing = append(missing, id)
		}
	}
	group := c.group
	c.mu.Unlock()
	recordLookup(shareCacheName, len(missing) == 0)

	if len(missing) == 0 {
		return out, nil
	}

	fetched, err := inflight(ctx, group, viewerID, func(ctx context.Context) (map[string]bool, error) {
		return c.fetch(ctx, viewerID, missing)
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	cached = c.entries[viewerID]
	for _, id := range missing {
		if v, ok := cached[id]; ok {
			out[id] = v
		} else {
			out[id] = fetched[id]
		}
	}
	c.mu.Unlock()
	return out, nil
}

func (c *ShareStatusCache) fetch(ctx context.Context, viewerID string, postIDs []string) (map[string]bool, error) {
	c.mu.Lock()
	epoch, startSeq := c.epoch, c.seq
	c.mu.Unlock()

	rows, err := c.gw.QueryRows(ctx, models.TableShares, gateway.Query{
		Filters: []gateway.Filter{
			gateway.Eq("user_id", viewerID),
			gateway.In("post_id", postIDs),
		},
	})
	recordFetch(shareCacheName, err)
	if err != nil {
		return nil, remote("fetch share status", err)
	}

	result := make(map[string]bool, len(postIDs))
	for _, id := range postIDs {
		result[id] = false
	}
	for _, r := range rows {
		s, err := models.ShareFromRow(r)
		if err != nil {
			return nil, err
		}
		result[s.PostID] = true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return result, nil
	}
	cached := c.viewerLocked(viewerID)
	for id, shared := range result {
		// синхронная запись во время запроса важнее результата запроса
		if c.writes[viewerID][id] > startSeq {
			continue
		}
		cached[id] = shared
	}
	return result, nil
}

func (c *ShareStatusCache) GetOne(ctx context.Context, viewerID, postID string) (bool, error) {
	c.mu.Lock()
	v, ok := c.entries[viewerID][postID]
	c.mu.Unlock()
	if ok {
		recordLookup(shareCacheName, true)
		return v, nil
	}
	res, err := c.GetMany(ctx, viewerID, []string{postID})
	if err != nil {
		return false, err
	}
	return res[postID], nil
}

// Set синхронно обновляет статус репоста, независимо от идущих запросов
func (c *ShareStatusCache) Set(viewerID, postID string, shared bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	c.viewerLocked(viewerID)[postID] = shared
	if c.writes[viewerID] == nil {
		c.writes[viewerID] = map[string]uint64{}
	}
	c.writes[viewerID][postID] = c.seq
}

func (c *ShareStatusCache) Invalidate(viewerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, viewerID)
	delete(c.writes, viewerID)
	c.group.Forget(viewerID)
}

func (c *ShareStatusCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = map[string]map[string]bool{}
	c.writes = map[string]map[string]uint64{}
	c.group = &singleflight.Group{}
	c.epoch++
}

func (c *ShareStatusCache) viewerLocked(viewerID string) map[string]bool {
	m := c.entries[viewerID]
	if m == nil {
		m = map[string]bool{}
		c.entries[viewerID] = m
	}
	return m
}

// Share создает репост, повторный вызов ничего не меняет
func (c *ShareStatusCache) Share(ctx context.Context, viewerID, postID string) error {
	rows, err := c.shareRows(ctx, viewerID, postID)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		_, err = c.gw.InsertRow(ctx, models.TableShares, models.Share{
			ID:        ulid.Make().String(),
			UserID:    viewerID,
			PostID:    postID,
			CreatedAt: c.now(),
		}.Row())
		if err != nil && !errors.Is(err, gateway.ErrConflict) {
			return remote("share", err)
		}
	}
	c.Set(viewerID, postID, true)
	return nil
}

// Unshare удаляет репост, если он есть
func (c *ShareStatusCache) Unshare(ctx context.Context, viewerID, postID string) error {
	rows, err := c.shareRows(ctx, viewerID, postID)
	if err != nil {
		return err
	}
	for _, r := range rows {
		s, err := models.ShareFromRow(r)
		if err != nil {
			return err
		}
		if err := c.gw.DeleteRow(ctx, models.TableShares, s.ID); err != nil && !errors.Is(err, gateway.ErrNotFound) {
			return remote("unshare", err)
		}
	}
	c.Set(viewerID, postID, false)
	return nil
}

func (c *ShareStatusCache) shareRows(ctx context.Context, viewerID, postID string) ([]gateway.Row, error) {
	rows, err := c.gw.QueryRows(ctx, models.TableShares, gateway.Query{
		Filters: []gateway.Filter{
			gateway.Eq("user_id", viewerID),
			gateway.Eq("post_id", postID),
		},
	})
	if err != nil {
		return nil, remote("share lookup", err)
	}
	return rows, nil
}
