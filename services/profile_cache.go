package services

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"golang.org/x/sync/singleflight"

	"newsjunkies/gateway"
	"newsjunkies/models"
)

const profileCacheName = "profile"

// ProfileCache - кеш профилей пользователей с дедупликацией запросов.
// Отсутствующий профиль тоже кешируется (значение nil), чтобы не ходить
// в хранилище повторно.
type ProfileCache struct {
	gw  gateway.Gateway
	now func() time.Time

	// PictureSize - максимальная сторона аватарки в пикселях
	PictureSize int

	mu       sync.Mutex
	entries  map[string]*models.Profile
	group    *singleflight.Group
	epoch    uint64
	// номер последней записи или сброса профиля; запрос, начатый раньше,
	// не перезаписывает кеш
	writes   map[string]uint64
	seq      uint64
	activeID string
	active   *models.Profile
}

func NewProfileCache(gw gateway.Gateway) *ProfileCache {
	return &ProfileCache{
		gw:      gw,
		now:     func() time.Time { return time.Now().UTC() },
		entries: map[string]*models.Profile{},
		writes:  map[string]uint64{},
		group:   &singleflight.Group{},
	}
}

// Get возвращает профиль пользователя или nil, если профиля нет.
// Параллельные вызовы для одного userID разделяют один запрос к хранилищу.
func (c *ProfileCache) Get(ctx context.Context, userID string, forceRefresh bool) (*models.Profile, error) {
	c.mu.Lock()
	group := c.group
	if !forceRefresh {
		if p, ok := c.entries[userID]; ok {
			c.mu.Unlock()
			recordLookup(profileCacheName, true)
			return p.Clone(), nil
		}
	}
	c.mu.Unlock()
	recordLookup(profileCacheName, false)

	if forceRefresh {
		// новый запрос, даже если предыдущий еще не завершился
		group.Forget(userID)
	}
	p, err := inflight(ctx, group, userID, func(ctx context.Context) (*models.Profile, error) {
		return c.fetch(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	return p.Clone(), nil
}

func (c *ProfileCache) fetch(ctx context.Context, userID string) (*models.Profile, error) {
	c.mu.Lock()
	epoch, startSeq := c.epoch, c.seq
	c.mu.Unlock()

	glog.V(1).Infof("profile cache: fetching %s", userID)
	rows, err := c.gw.QueryRows(ctx, models.TableProfiles, gateway.Query{
		Filters: []gateway.Filter{gateway.Eq("id", userID)},
		Limit:   1,
	})
	recordFetch(profileCacheName, err)
	if err != nil {
		return nil, remote("fetch profile", err)
	}

	var profile *models.Profile
	if len(rows) > 0 {
		p, err := models.ProfileFromRow(rows[0])
		if err != nil {
			return nil, err
		}
		profile = &p
	}

	c.mu.Lock()
	if c.fresherLocked(userID, epoch, startSeq) {
		c.storeLocked(userID, profile)
	}
	c.mu.Unlock()
	return profile, nil
}

// GetMany возвращает известные профили по списку id. Недостающие
// загружаются одним запросом. Отсутствующих профилей в результате нет.
func (c *ProfileCache) GetMany(ctx context.Context, userIDs []string) (map[string]*models.Profile, error) {
	out := make(map[string]*models.Profile, len(userIDs))
	var missing []string

	c.mu.Lock()
	epoch, startSeq := c.epoch, c.seq
	for _, id := range userIDs {
		if _, seen := out[id]; seen || slices.Contains(missing, id) {
			continue
		}
		if p, ok := c.entries[id]; ok {
			if p != nil {
				out[id] = p.Clone()
			}
			continue
		}
		missing = append(missing, id)
	}
	c.mu.Unlock()
	recordLookup(profileCacheName, len(missing) == 0)

	if len(missing) == 0 {
		return out, nil
	}

	rows, err := c.gw.QueryRowsIn(ctx, models.TableProfiles, "id", missing)
	recordFetch(profileCacheName, err)
	if err != nil {
		return nil, remote("fetch profiles", err)
	}
	fetched := make(map[string]*models.Profile, len(rows))
	for _, r := range rows {
		p, err := models.ProfileFromRow(r)
		if err != nil {
			return nil, err
		}
		fetched[p.ID] = &p
	}

	c.mu.Lock()
	for _, id := range missing {
		p := fetched[id]
		if c.fresherLocked(id, epoch, startSeq) {
			c.storeLocked(id, p)
		}
		if p != nil {
			out[id] = p.Clone()
		}
	}
	c.mu.Unlock()
	return out, nil
}

// Invalidate удаляет запись пользователя и отвязывает текущий запрос к хранилищу
func (c *ProfileCache) Invalidate(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
	c.group.Forget(userID)
	c.seq++
	c.writes[userID] = c.seq
}

// InvalidateAll очищает кеш. Результаты запросов, начатых до очистки,
// в кеш уже не попадут.
func (c *ProfileCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = map[string]*models.Profile{}
	c.writes = map[string]uint64{}
	c.group = &singleflight.Group{}
	c.epoch++
}

// SetActive задает пользователя, чей профиль считается текущим ("" - сброс)
func (c *ProfileCache) SetActive(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activeID = userID
	c.active = nil
	if p, ok := c.entries[userID]; ok && userID != "" {
		c.active = p
	}
}

func (c *ProfileCache) Active() *models.Profile {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active.Clone()
}

func (c *ProfileCache) ActiveID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeID
}

// storeLocked кладет профиль в кеш и обновляет текущий профиль, если это он
func (c *ProfileCache) storeLocked(userID string, p *models.Profile) {
	c.entries[userID] = p
	if userID == c.activeID || (c.activeID == "" && c.active == nil) {
		c.active = p
	}
}

// store - синхронная запись после изменения профиля
func (c *ProfileCache) store(userID string, p *models.Profile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	c.writes[userID] = c.seq
	c.storeLocked(userID, p)
}

// fresherLocked: результат запроса, начатого при (epoch, startSeq), можно
// положить в кеш, если с тех пор профиль не записывали и не сбрасывали
func (c *ProfileCache) fresherLocked(userID string, epoch, startSeq uint64) bool {
	return c.epoch == epoch && c.writes[userID] <= startSeq
}

// ProfilePatch - изменяемые пользователем поля профиля (nil - не менять)
type ProfilePatch struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

func (p ProfilePatch) validate() error {
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" {
			return &ValidationError{Field: "name", Message: "must not be empty"}
		}
		if len(name) > 255 {
			return &ValidationError{Field: "name", Message: "is too long"}
		}
	}
	return nil
}

// Upsert записывает профиль целиком (например, при регистрации)
func (c *ProfileCache) Upsert(ctx context.Context, profile models.Profile) (*models.Profile, error) {
	if profile.ID == "" {
		return nil, &ValidationError{Field: "id", Message: "is required"}
	}
	fields := gateway.Row{
		"id":                  profile.ID,
		"name":                nullableString(profile.Name),
		"description":         nullableString(profile.Description),
		"profile_picture_url": nullableString(profile.PictureURL),
		"updated_at":          c.now(),
	}
	if profile.RecentlyViewedTags != nil {
		fields["recently_viewed_tags"] = profile.RecentlyViewedTags
	}
	return c.upsert(ctx, "upsert profile", profile.ID, fields)
}

// Update меняет только заданные поля профиля; профиль создается, если его не было
func (c *ProfileCache) Update(ctx context.Context, userID string, patch ProfilePatch) (*models.Profile, error) {
	if err := patch.validate(); err != nil {
		return nil, err
	}
	fields := gateway.Row{"id": userID, "updated_at": c.now()}
	if patch.Name != nil {
		fields["name"] = strings.TrimSpace(*patch.Name)
	}
	if patch.Description != nil {
		fields["description"] = *patch.Description
	}
	return c.upsert(ctx, "update profile", userID, fields)
}

func (c *ProfileCache) upsert(ctx context.Context, op, userID string, fields gateway.Row) (*models.Profile, error) {
	row, err := c.gw.UpsertRow(ctx, models.TableProfiles, "id", fields)
	if err != nil {
		c.Invalidate(userID)
		return nil, remote(op, err)
	}
	p, err := models.ProfileFromRow(row)
	if err != nil {
		c.Invalidate(userID)
		return nil, err
	}
	c.store(userID, &p)
	return p.Clone(), nil
}

// TrackView запоминает тег, который пользователь просматривал.
// Ошибки только логируются.
func (c *ProfileCache) TrackView(ctx context.Context, userID, tag string) {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if tag == "" || userID == "" {
		return
	}

	profile, err := c.Get(ctx, userID, false)
	if err != nil {
		glog.Warningf("track view %s for %s: %v", tag, userID, err)
		return
	}
	var tags []string
	if profile != nil {
		tags = profile.RecentlyViewedTags
	}
	if slices.Contains(tags, tag) {
		return
	}
	tags = append(slices.Clone(tags), tag)
	if len(tags) > models.MaxRecentTags {
		tags = tags[len(tags)-models.MaxRecentTags:]
	}

	if _, err := c.upsert(ctx, "track view", userID, gateway.Row{
		"id":                   userID,
		"recently_viewed_tags": tags,
		"updated_at":           c.now(),
	}); err != nil {
		glog.Warningf("track view %s for %s: %v", tag, userID, err)
	}
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func profileError(userID string, err error) error {
	return fmt.Errorf("profile %s: %w", userID, err)
}
