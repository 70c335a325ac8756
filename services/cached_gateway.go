package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/golang/glog"

	"newsjunkies/gateway"
	"newsjunkies/models"
)

const profileKeyPrefix = "nj:profile:"

// CachedGateway - общий для всех экземпляров кеш строк профилей в Redis.
// Кешируются только выборки профиля по id; любая запись в профиль удаляет ключ.
// Ошибки Redis не мешают работе: запрос уходит в хранилище.
type CachedGateway struct {
	gateway.Gateway
	client *redis.Client
	ttl    time.Duration
}

func NewCachedGateway(inner gateway.Gateway, client *redis.Client, ttl time.Duration) *CachedGateway {
	return &CachedGateway{Gateway: inner, client: client, ttl: ttl}
}

func profileKey(id string) string {
	return profileKeyPrefix + id
}

func (g *CachedGateway) QueryRows(ctx context.Context, table string, q gateway.Query) ([]gateway.Row, error) {
	id, ok := profileByID(table, q)
	if !ok {
		return g.Gateway.QueryRows(ctx, table, q)
	}

	if raw, err := g.client.Get(ctx, profileKey(id)).Bytes(); err == nil {
		var row gateway.Row
		if err := json.Unmarshal(raw, &row); err == nil {
			recordLookup("redis_profile", true)
			return []gateway.Row{row}, nil
		}
	} else if err != redis.Nil {
		glog.Warningf("redis get profile %s: %v", id, err)
	}
	recordLookup("redis_profile", false)

	rows, err := g.Gateway.QueryRows(ctx, table, q)
	if err != nil {
		return nil, err
	}
	if len(rows) > 0 {
		g.put(ctx, id, rows[0])
	}
	return rows, nil
}

func (g *CachedGateway) QueryRowsIn(ctx context.Context, table, column string, values []string) ([]gateway.Row, error) {
	if table != models.TableProfiles || column != "id" || len(values) == 0 {
		return g.Gateway.QueryRowsIn(ctx, table, column, values)
	}

	keys := make([]string, len(values))
	for i, id := range values {
		keys[i] = profileKey(id)
	}
	cached, err := g.client.MGet(ctx, keys...).Result()
	if err != nil {
		glog.Warningf("redis mget profiles: %v", err)
		return g.Gateway.QueryRowsIn(ctx, table, column, values)
	}

	var (
		rows    []gateway.Row
		missing []string
	)
	for i, v := range cached {
		s, ok := v.(string)
		if !ok {
			missing = append(missing, values[i])
			continue
		}
		var row gateway.Row
		if err := json.Unmarshal([]byte(s), &row); err != nil {
			missing = append(missing, values[i])
			continue
		}
		rows = append(rows, row)
	}
	recordLookup("redis_profile", len(missing) == 0)
	if len(missing) == 0 {
		return rows, nil
	}

	fetched, err := g.Gateway.QueryRowsIn(ctx, table, column, missing)
	if err != nil {
		return nil, err
	}
	for _, r := range fetched {
		if id, ok := r["id"].(string); ok {
			g.put(ctx, id, r)
		}
	}
	return append(rows, fetched...), nil
}

func (g *CachedGateway) UpdateRow(ctx context.Context, table, id string, patch gateway.Row) (gateway.Row, error) {
	row, err := g.Gateway.UpdateRow(ctx, table, id, patch)
	if table == models.TableProfiles {
		g.drop(ctx, id)
	}
	return row, err
}

func (g *CachedGateway) UpsertRow(ctx context.Context, table, key string, fields gateway.Row) (gateway.Row, error) {
	row, err := g.Gateway.UpsertRow(ctx, table, key, fields)
	if table == models.TableProfiles {
		if id, ok := fields["id"].(string); ok {
			g.drop(ctx, id)
		}
	}
	return row, err
}

func (g *CachedGateway) DeleteRow(ctx context.Context, table, id string) error {
	err := g.Gateway.DeleteRow(ctx, table, id)
	if table == models.TableProfiles {
		g.drop(ctx, id)
	}
	return err
}

// Forget удаляет профиль из Redis (например, по событию другого экземпляра)
func (g *CachedGateway) Forget(ctx context.Context, userID string) {
	g.drop(ctx, userID)
}

func (g *CachedGateway) put(ctx context.Context, id string, row gateway.Row) {
	data, err := json.Marshal(jsonSafe(row))
	if err != nil {
		glog.Warningf("marshal profile %s: %v", id, err)
		return
	}
	if err := g.client.Set(ctx, profileKey(id), data, g.ttl).Err(); err != nil {
		glog.Warningf("redis set profile %s: %v", id, err)
	}
}

func (g *CachedGateway) drop(ctx context.Context, id string) {
	if err := g.client.Del(ctx, profileKey(id)).Err(); err != nil {
		glog.Warningf("redis del profile %s: %v", id, err)
	}
}

// profileByID - запрос вида "профиль с id = X"
func profileByID(table string, q gateway.Query) (string, bool) {
	if table != models.TableProfiles || len(q.Filters) != 1 {
		return "", false
	}
	f := q.Filters[0]
	if f.Column != "id" || f.Op != gateway.OpEq {
		return "", false
	}
	id, ok := f.Value.(string)
	return id, ok
}

// jsonSafe: байтовые JSON-колонки кладем строкой, иначе json закодирует их в base64
func jsonSafe(row gateway.Row) gateway.Row {
	out := make(gateway.Row, len(row))
	for k, v := range row {
		switch t := v.(type) {
		case []byte:
			out[k] = string(t)
		case json.RawMessage:
			out[k] = string(t)
		default:
			out[k] = v
		}
	}
	return out
}
