// Package gateway описывает узкий контракт к удаленному хранилищу
// (строки таблиц, блобы, сессии). Ядро работает только через него.
package gateway

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("row not found")
	ErrConflict = errors.New("unique constraint violation")
)

// Row - строка таблицы в том виде, в каком ее отдает хранилище
type Row map[string]any

type Op string

const (
	OpEq       Op = "eq"
	OpIn       Op = "in"
	OpOverlaps Op = "overlaps" // хотя бы один общий тег
	OpContains Op = "contains" // все теги фильтра присутствуют
	OpILike    Op = "ilike"
)

type Filter struct {
	Column string
	Op     Op
	Value  any
}

func Eq(column string, value any) Filter {
	return Filter{Column: column, Op: OpEq, Value: value}
}

func In(column string, values []string) Filter {
	return Filter{Column: column, Op: OpIn, Value: values}
}

func Overlaps(column string, values []string) Filter {
	return Filter{Column: column, Op: OpOverlaps, Value: values}
}

func Contains(column string, values []string) Filter {
	return Filter{Column: column, Op: OpContains, Value: values}
}

// ILike - регистронезависимый поиск подстроки (без спецсимволов шаблона)
func ILike(column string, substring string) Filter {
	return Filter{Column: column, Op: OpILike, Value: substring}
}

type Query struct {
	Filters []Filter
	OrderBy string
	Desc    bool
	Limit   int
}

type Gateway interface {
	QueryRows(ctx context.Context, table string, q Query) ([]Row, error)
	QueryRowsIn(ctx context.Context, table, column string, values []string) ([]Row, error)
	CountRows(ctx context.Context, table string, filters ...Filter) (int64, error)
	InsertRow(ctx context.Context, table string, fields Row) (Row, error)
	UpdateRow(ctx context.Context, table, id string, patch Row) (Row, error)
	DeleteRow(ctx context.Context, table, id string) error
	// UpsertRow: key - список колонок конфликта через запятую ("id", "user_id,post_id")
	UpsertRow(ctx context.Context, table, key string, fields Row) (Row, error)
	BlobStore
}

type BlobStore interface {
	UploadBlob(ctx context.Context, bucket, path string, data []byte) (string, error)
	DeleteBlob(ctx context.Context, bucket, path string) error
}

type Session struct {
	UserID      string    `json:"user_id"`
	Email       string    `json:"email"`
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type AuthEvent string

const (
	SignedIn  AuthEvent = "SIGNED_IN"
	SignedOut AuthEvent = "SIGNED_OUT"
)

type SessionListener func(event AuthEvent, session *Session)

type Credentials struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Auth - клиентская сторона аутентификации для одной сессии
type Auth interface {
	GetSession(ctx context.Context) (*Session, error)
	OnSessionChange(listener SessionListener) (unsubscribe func())
	SignIn(ctx context.Context, creds Credentials) (*Session, error)
	SignUp(ctx context.Context, creds Credentials) (*Session, error)
	SignOut(ctx context.Context) error
}
