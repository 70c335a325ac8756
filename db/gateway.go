package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/lib/pq"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/plugin/dbresolver"

	"newsjunkies/gateway"
)

var identifierRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// JSON-колонки: срезы строк пишутся как JSON-массив
var jsonColumns = map[string]bool{
	"tags":                 true,
	"recently_viewed_tags": true,
}

// Gateway - реализация шлюза поверх gorm (postgres или sqlite).
// Чтения идут на реплики, записи и чтение после записи - на мастер.
type Gateway struct {
	orm   *gorm.DB
	blobs gateway.BlobStore
}

func NewGateway(orm *gorm.DB, blobs gateway.BlobStore) *Gateway {
	return &Gateway{orm: orm, blobs: blobs}
}

func (g *Gateway) read(ctx context.Context) *gorm.DB {
	return g.orm.WithContext(ctx).Clauses(dbresolver.Read)
}

func (g *Gateway) write(ctx context.Context) *gorm.DB {
	return g.orm.WithContext(ctx).Clauses(dbresolver.Write)
}

func (g *Gateway) dialect() string {
	return g.orm.Dialector.Name()
}

func (g *Gateway) QueryRows(ctx context.Context, table string, q gateway.Query) ([]gateway.Row, error) {
	return g.query(g.read(ctx), table, q)
}

func (g *Gateway) query(tx *gorm.DB, table string, q gateway.Query) ([]gateway.Row, error) {
	if err := checkIdentifier(table); err != nil {
		return nil, err
	}
	tx, err := g.applyFilters(tx.Table(table), table, q.Filters)
	if err != nil {
		return nil, err
	}
	if q.OrderBy != "" {
		if err := checkIdentifier(q.OrderBy); err != nil {
			return nil, err
		}
		tx = tx.Order(clause.OrderByColumn{Column: clause.Column{Name: q.OrderBy}, Desc: q.Desc})
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}

	var found []map[string]any
	if err := tx.Find(&found).Error; err != nil {
		return nil, fmt.Errorf("query %s: %w", table, translate(err))
	}
	rows := make([]gateway.Row, 0, len(found))
	for _, r := range found {
		rows = append(rows, gateway.Row(r))
	}
	return rows, nil
}

func (g *Gateway) QueryRowsIn(ctx context.Context, table, column string, values []string) ([]gateway.Row, error) {
	if len(values) == 0 {
		return nil, nil
	}
	return g.QueryRows(ctx, table, gateway.Query{Filters: []gateway.Filter{gateway.In(column, values)}})
}

func (g *Gateway) CountRows(ctx context.Context, table string, filters ...gateway.Filter) (int64, error) {
	if err := checkIdentifier(table); err != nil {
		return 0, err
	}
	tx, err := g.applyFilters(g.read(ctx).Table(table), table, filters)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := tx.Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count %s: %w", table, translate(err))
	}
	return n, nil
}

func (g *Gateway) InsertRow(ctx context.Context, table string, fields gateway.Row) (gateway.Row, error) {
	if err := checkIdentifier(table); err != nil {
		return nil, err
	}
	id, _ := fields["id"].(string)
	if id == "" {
		return nil, fmt.Errorf("insert %s: id is required", table)
	}
	values, err := encodeRow(fields)
	if err != nil {
		return nil, err
	}
	if err := g.write(ctx).Table(table).Create(values).Error; err != nil {
		return nil, fmt.Errorf("insert %s: %w", table, translate(err))
	}
	return g.rowByID(ctx, table, id)
}

func (g *Gateway) UpdateRow(ctx context.Context, table, id string, patch gateway.Row) (gateway.Row, error) {
	if err := checkIdentifier(table); err != nil {
		return nil, err
	}
	values, err := encodeRow(patch)
	if err != nil {
		return nil, err
	}
	delete(values, "id")
	if len(values) == 0 {
		return g.rowByID(ctx, table, id)
	}

	res := g.write(ctx).Table(table).Where("id = ?", id).Updates(values)
	if res.Error != nil {
		return nil, fmt.Errorf("update %s: %w", table, translate(res.Error))
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("update %s.id=%s: %w", table, id, gateway.ErrNotFound)
	}
	return g.rowByID(ctx, table, id)
}

func (g *Gateway) DeleteRow(ctx context.Context, table, id string) error {
	if err := checkIdentifier(table); err != nil {
		return err
	}
	res := g.write(ctx).Exec("DELETE FROM "+table+" WHERE id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete %s: %w", table, translate(res.Error))
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("delete %s.id=%s: %w", table, id, gateway.ErrNotFound)
	}
	return nil
}

func (g *Gateway) UpsertRow(ctx context.Context, table, key string, fields gateway.Row) (gateway.Row, error) {
	if err := checkIdentifier(table); err != nil {
		return nil, err
	}
	keyColumns := strings.Split(key, ",")
	conflict := make([]clause.Column, 0, len(keyColumns))
	isKey := map[string]bool{}
	filters := make([]gateway.Filter, 0, len(keyColumns))
	for _, c := range keyColumns {
		c = strings.TrimSpace(c)
		if err := checkIdentifier(c); err != nil {
			return nil, err
		}
		v, ok := fields[c]
		if !ok {
			return nil, fmt.Errorf("upsert %s: missing key column %q", table, c)
		}
		isKey[c] = true
		conflict = append(conflict, clause.Column{Name: c})
		filters = append(filters, gateway.Eq(c, v))
	}

	values, err := encodeRow(fields)
	if err != nil {
		return nil, err
	}
	updates := make([]string, 0, len(values))
	for c := range values {
		if !isKey[c] {
			updates = append(updates, c)
		}
	}
	sort.Strings(updates)

	onConflict := clause.OnConflict{Columns: conflict, DoNothing: len(updates) == 0}
	if len(updates) > 0 {
		onConflict.DoUpdates = clause.AssignmentColumns(updates)
	}
	if err := g.write(ctx).Table(table).Clauses(onConflict).Create(values).Error; err != nil {
		return nil, fmt.Errorf("upsert %s: %w", table, translate(err))
	}

	rows, err := g.query(g.write(ctx), table, gateway.Query{Filters: filters, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("upsert %s: %w", table, gateway.ErrNotFound)
	}
	return rows[0], nil
}

func (g *Gateway) UploadBlob(ctx context.Context, bucket, path string, data []byte) (string, error) {
	if g.blobs == nil {
		return "", errors.New("blob storage is not configured")
	}
	return g.blobs.UploadBlob(ctx, bucket, path, data)
}

func (g *Gateway) DeleteBlob(ctx context.Context, bucket, path string) error {
	if g.blobs == nil {
		return errors.New("blob storage is not configured")
	}
	return g.blobs.DeleteBlob(ctx, bucket, path)
}

func (g *Gateway) rowByID(ctx context.Context, table, id string) (gateway.Row, error) {
	rows, err := g.query(g.write(ctx), table, gateway.Query{
		Filters: []gateway.Filter{gateway.Eq("id", id)},
		Limit:   1,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s.id=%s: %w", table, id, gateway.ErrNotFound)
	}
	return rows[0], nil
}

func (g *Gateway) applyFilters(tx *gorm.DB, table string, filters []gateway.Filter) (*gorm.DB, error) {
	for _, f := range filters {
		if err := checkIdentifier(f.Column); err != nil {
			return nil, err
		}
		col := table + "." + f.Column
		switch f.Op {
		case gateway.OpEq:
			if f.Value == nil {
				tx = tx.Where(col + " IS NULL")
			} else {
				tx = tx.Where(col+" = ?", f.Value)
			}
		case gateway.OpIn:
			values, _ := f.Value.([]string)
			if len(values) == 0 {
				tx = tx.Where("1 = 0")
				continue
			}
			tx = tx.Where(col+" IN ?", values)
		case gateway.OpILike:
			sub, _ := f.Value.(string)
			pattern := "%" + escapeLike(sub) + "%"
			if g.dialect() == "postgres" {
				tx = tx.Where(col+` ILIKE ? ESCAPE '\'`, pattern)
			} else {
				// LIKE в sqlite регистронезависим для ASCII
				tx = tx.Where(col+` LIKE ? ESCAPE '\'`, pattern)
			}
		case gateway.OpOverlaps:
			tags, _ := f.Value.([]string)
			if len(tags) == 0 {
				continue
			}
			if g.dialect() == "postgres" {
				tx = tx.Where("jsonb_exists_any("+col+"::jsonb, ?::text[])", pq.Array(tags))
			} else {
				tx = tx.Where("EXISTS (SELECT 1 FROM json_each("+col+") WHERE json_each.value IN ?)", tags)
			}
		case gateway.OpContains:
			tags, _ := f.Value.([]string)
			if len(tags) == 0 {
				continue
			}
			if g.dialect() == "postgres" {
				encoded, err := json.Marshal(tags)
				if err != nil {
					return nil, err
				}
				tx = tx.Where(col+"::jsonb @> ?::jsonb", string(encoded))
			} else {
				distinct := uniqueStrings(tags)
				tx = tx.Where("(SELECT COUNT(DISTINCT json_each.value) FROM json_each("+col+") WHERE json_each.value IN ?) = ?", distinct, len(distinct))
			}
		default:
			return nil, fmt.Errorf("unsupported filter op %q", f.Op)
		}
	}
	return tx, nil
}

func encodeRow(fields gateway.Row) (map[string]any, error) {
	values := make(map[string]any, len(fields))
	for k, v := range fields {
		if err := checkIdentifier(k); err != nil {
			return nil, err
		}
		if jsonColumns[k] {
			switch t := v.(type) {
			case nil:
				values[k] = nil
			case []string:
				encoded, err := json.Marshal(t)
				if err != nil {
					return nil, err
				}
				values[k] = datatypes.JSON(encoded)
			default:
				return nil, fmt.Errorf("column %s: unexpected type %T", k, v)
			}
			continue
		}
		values[k] = v
	}
	return values, nil
}

func translate(err error) error {
	switch {
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%v: %w", err, gateway.ErrConflict)
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%v: %w", err, gateway.ErrNotFound)
	}
	return err
}

func checkIdentifier(name string) error {
	if !identifierRe.MatchString(name) {
		return fmt.Errorf("invalid identifier %q", name)
	}
	return nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
