package gateway

import (
	"context"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Memory - хранилище в памяти с той же семантикой, что и gorm-шлюз.
// Используется в тестах и для локального запуска без базы.
type Memory struct {
	mu sync.RWMutex

	tables  map[string]map[string]Row
	order   map[string][]string // порядок вставки по таблицам
	uniques map[string][][]string
	blobs   map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{
		tables:  map[string]map[string]Row{},
		order:   map[string][]string{},
		uniques: map[string][][]string{},
		blobs:   map[string][]byte{},
	}
}

// AddUniqueKey регистрирует уникальный индекс по набору колонок
func (m *Memory) AddUniqueKey(table string, columns ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uniques[table] = append(m.uniques[table], columns)
}

func (m *Memory) QueryRows(_ context.Context, table string, q Query) ([]Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Row
	for _, id := range m.order[table] {
		row := m.tables[table][id]
		ok, err := matchAll(row, q.Filters)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, copyRow(row))
		}
	}

	if q.OrderBy != "" {
		sort.SliceStable(out, func(i, j int) bool {
			less := lessValue(out[i][q.OrderBy], out[j][q.OrderBy])
			if q.Desc {
				return lessValue(out[j][q.OrderBy], out[i][q.OrderBy])
			}
			return less
		})
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *Memory) QueryRowsIn(ctx context.Context, table, column string, values []string) ([]Row, error) {
	if len(values) == 0 {
		return nil, nil
	}
	return m.QueryRows(ctx, table, Query{Filters: []Filter{In(column, values)}})
}

func (m *Memory) CountRows(ctx context.Context, table string, filters ...Filter) (int64, error) {
	rows, err := m.QueryRows(ctx, table, Query{Filters: filters})
	if err != nil {
		return 0, err
	}
	return int64(len(rows)), nil
}

func (m *Memory) InsertRow(_ context.Context, table string, fields Row) (Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row := copyRow(fields)
	id, _ := row["id"].(string)
	if id == "" {
		id = ulid.Make().String()
		row["id"] = id
	}
	if _, ok := row["created_at"]; !ok {
		row["created_at"] = time.Now().UTC()
	}
	if _, exists := m.tables[table][id]; exists {
		return nil, fmt.Errorf("%s.id=%s: %w", table, id, ErrConflict)
	}
	if err := m.checkUnique(table, row, ""); err != nil {
		return nil, err
	}

	if m.tables[table] == nil {
		m.tables[table] = map[string]Row{}
	}
	m.tables[table][id] = row
	m.order[table] = append(m.order[table], id)
	return copyRow(row), nil
}

func (m *Memory) UpdateRow(_ context.Context, table, id string, patch Row) (Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.tables[table][id]
	if !ok {
		return nil, fmt.Errorf("%s.id=%s: %w", table, id, ErrNotFound)
	}
	updated := copyRow(row)
	for k, v := range patch {
		if k == "id" {
			continue
		}
		updated[k] = copyValue(v)
	}
	if err := m.checkUnique(table, updated, id); err != nil {
		return nil, err
	}
	m.tables[table][id] = updated
	return copyRow(updated), nil
}

func (m *Memory) DeleteRow(_ context.Context, table, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tables[table][id]; !ok {
		return fmt.Errorf("%s.id=%s: %w", table, id, ErrNotFound)
	}
	delete(m.tables[table], id)
	ids := m.order[table]
	for i, existing := range ids {
		if existing == id {
			m.order[table] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	return nil
}

func (m *Memory) UpsertRow(ctx context.Context, table, key string, fields Row) (Row, error) {
	columns := strings.Split(key, ",")
	filters := make([]Filter, 0, len(columns))
	for _, c := range columns {
		c = strings.TrimSpace(c)
		v, ok := fields[c]
		if !ok {
			return nil, fmt.Errorf("upsert %s: missing key column %q", table, c)
		}
		filters = append(filters, Eq(c, v))
	}

	existing, err := m.QueryRows(ctx, table, Query{Filters: filters, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(existing) == 0 {
		return m.InsertRow(ctx, table, fields)
	}
	id, _ := existing[0]["id"].(string)
	return m.UpdateRow(ctx, table, id, fields)
}

func (m *Memory) UploadBlob(_ context.Context, bucket, path string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[bucket+"/"+path] = append([]byte(nil), data...)
	return "memory://" + bucket + "/" + path, nil
}

func (m *Memory) DeleteBlob(_ context.Context, bucket, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := bucket + "/" + path
	if _, ok := m.blobs[key]; !ok {
		return fmt.Errorf("blob %s: %w", key, ErrNotFound)
	}
	delete(m.blobs, key)
	return nil
}

// Blob возвращает содержимое блоба (для отдачи по HTTP и в тестах)
func (m *Memory) Blob(bucket, path string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[bucket+"/"+path]
	return data, ok
}

func (m *Memory) OpenBlob(_ context.Context, bucket, path string, w io.Writer) error {
	data, ok := m.Blob(bucket, path)
	if !ok {
		return fmt.Errorf("blob %s/%s: %w", bucket, path, ErrNotFound)
	}
	_, err := w.Write(data)
	return err
}

func (m *Memory) checkUnique(table string, row Row, selfID string) error {
	for _, columns := range m.uniques[table] {
		for id, other := range m.tables[table] {
			if id == selfID {
				continue
			}
			same := true
			for _, c := range columns {
				if !reflect.DeepEqual(other[c], row[c]) {
					same = false
					break
				}
			}
			if same {
				return fmt.Errorf("%s(%s): %w", table, strings.Join(columns, ","), ErrConflict)
			}
		}
	}
	return nil
}

func matchAll(row Row, filters []Filter) (bool, error) {
	for _, f := range filters {
		ok, err := match(row, f)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func match(row Row, f Filter) (bool, error) {
	value := row[f.Column]
	switch f.Op {
	case OpEq:
		return reflect.DeepEqual(value, f.Value), nil
	case OpIn:
		s, _ := value.(string)
		for _, v := range asStrings(f.Value) {
			if v == s {
				return true, nil
			}
		}
		return false, nil
	case OpOverlaps:
		have := asStrings(value)
		for _, want := range asStrings(f.Value) {
			for _, h := range have {
				if h == want {
					return true, nil
				}
			}
		}
		return false, nil
	case OpContains:
		have := map[string]bool{}
		for _, h := range asStrings(value) {
			have[h] = true
		}
		for _, want := range asStrings(f.Value) {
			if !have[want] {
				return false, nil
			}
		}
		return true, nil
	case OpILike:
		s, _ := value.(string)
		sub, _ := f.Value.(string)
		return strings.Contains(strings.ToLower(s), strings.ToLower(sub)), nil
	}
	return false, fmt.Errorf("unsupported filter op %q", f.Op)
}

func asStrings(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func lessValue(a, b any) bool {
	switch av := a.(type) {
	case time.Time:
		bv, _ := b.(time.Time)
		return av.Before(bv)
	case string:
		bv, _ := b.(string)
		return av < bv
	case int64:
		bv, _ := b.(int64)
		return av < bv
	case int:
		bv, _ := b.(int)
		return av < bv
	}
	return false
}

func copyRow(row Row) Row {
	out := make(Row, len(row))
	for k, v := range row {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	if s, ok := v.([]string); ok && s != nil {
		return append([]string(nil), s...)
	}
	return v
}
