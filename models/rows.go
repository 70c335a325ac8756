package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"newsjunkies/gateway"
)

// ErrMalformedRow - строка из хранилища не соответствует ожидаемой схеме
var ErrMalformedRow = errors.New("malformed row")

const (
	TablePosts    = "posts"
	TableShares   = "post_shares"
	TableProfiles = "user_profiles"
	TableFollows  = "followers"
	TableAccounts = "accounts"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func malformed(table, column, format string, args ...any) error {
	return fmt.Errorf("%s.%s: %s: %w", table, column, fmt.Sprintf(format, args...), ErrMalformedRow)
}

func requiredString(r gateway.Row, table, column string) (string, error) {
	s, ok, err := optionalString(r, table, column)
	if err != nil {
		return "", err
	}
	if !ok || s == "" {
		return "", malformed(table, column, "required")
	}
	return s, nil
}

func optionalString(r gateway.Row, table, column string) (string, bool, error) {
	switch v := r[column].(type) {
	case nil:
		return "", false, nil
	case string:
		return v, true, nil
	case []byte:
		return string(v), true, nil
	case *string:
		if v == nil {
			return "", false, nil
		}
		return *v, true, nil
	default:
		return "", false, malformed(table, column, "unexpected type %T", v)
	}
}

func stringPtr(r gateway.Row, table, column string) (*string, error) {
	s, ok, err := optionalString(r, table, column)
	if err != nil || !ok {
		return nil, err
	}
	return &s, nil
}

func rowTime(r gateway.Row, table, column string) (time.Time, error) {
	switch v := r[column].(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return v.UTC(), nil
	case string:
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, malformed(table, column, "bad timestamp %q", v)
	default:
		return time.Time{}, malformed(table, column, "unexpected type %T", v)
	}
}

// rowStrings разбирает JSON-массив строк; nil означает null в хранилище
func rowStrings(r gateway.Row, table, column string) ([]string, error) {
	switch v := r[column].(type) {
	case nil:
		return nil, nil
	case []string:
		return append([]string(nil), v...), nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, malformed(table, column, "non-string element %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	case string:
		return decodeStrings(table, column, []byte(v))
	case []byte:
		return decodeStrings(table, column, v)
	case json.RawMessage:
		return decodeStrings(table, column, v)
	default:
		return nil, malformed(table, column, "unexpected type %T", v)
	}
}

func decodeStrings(table, column string, data []byte) ([]string, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, malformed(table, column, "%v", err)
	}
	return out, nil
}
