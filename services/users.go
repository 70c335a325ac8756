package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/golang/glog"
	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/argon2"

	"newsjunkies/gateway"
	"newsjunkies/models"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email is already registered")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

const minPasswordLength = 8

type sessionClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Authenticator - учетные записи (argon2id) и сессии в виде JWT
type Authenticator struct {
	gw     gateway.Gateway
	secret []byte
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	revoked map[string]time.Time // jti -> когда токен истекает
}

func NewAuthenticator(gw gateway.Gateway, secret string, ttl time.Duration) *Authenticator {
	return &Authenticator{
		gw:      gw,
		secret:  []byte(secret),
		ttl:     ttl,
		now:     func() time.Time { return time.Now().UTC() },
		revoked: map[string]time.Time{},
	}
}

func hashPassword(password string) (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	hash := argon2.IDKey([]byte(password), salt, 1, 64*1024, 4, 32)
	return hex.EncodeToString(salt) + "$" + hex.EncodeToString(hash), nil
}

func checkPassword(stored, password string) bool {
	parts := strings.Split(stored, "$")
	if len(parts) != 2 {
		return false
	}
	salt, err := hex.DecodeString(parts[0])
	if err != nil {
		return false
	}
	hash := argon2.IDKey([]byte(password), salt, 1, 64*1024, 4, 32)
	return hex.EncodeToString(hash) == parts[1]
}

func normalizeCredentials(creds gateway.Credentials) (gateway.Credentials, error) {
	creds.Email = strings.ToLower(strings.TrimSpace(creds.Email))
	if creds.Email == "" || !strings.Contains(creds.Email, "@") {
		return creds, &ValidationError{Field: "email", Message: "must be a valid email"}
	}
	if len(creds.Password) < minPasswordLength {
		return creds, &ValidationError{Field: "password", Message: fmt.Sprintf("must be at least %d characters", minPasswordLength)}
	}
	return creds, nil
}

func (a *Authenticator) SignUp(ctx context.Context, creds gateway.Credentials) (*gateway.Session, error) {
	creds, err := normalizeCredentials(creds)
	if err != nil {
		return nil, err
	}
	n, err := a.gw.CountRows(ctx, models.TableAccounts, gateway.Eq("email", creds.Email))
	if err != nil {
		return nil, remote("sign up", err)
	}
	if n > 0 {
		return nil, ErrEmailTaken
	}

	hash, err := hashPassword(creds.Password)
	if err != nil {
		return nil, err
	}
	account := models.Account{
		ID:           ulid.Make().String(),
		Email:        creds.Email,
		PasswordHash: hash,
		CreatedAt:    a.now(),
	}
	if _, err := a.gw.InsertRow(ctx, models.TableAccounts, account.Row()); err != nil {
		if errors.Is(err, gateway.ErrConflict) {
			return nil, ErrEmailTaken
		}
		return nil, remote("sign up", err)
	}
	glog.Infof("account %s registered", account.ID)
	return a.Issue(account)
}

func (a *Authenticator) SignIn(ctx context.Context, creds gateway.Credentials) (*gateway.Session, error) {
	email := strings.ToLower(strings.TrimSpace(creds.Email))
	rows, err := a.gw.QueryRows(ctx, models.TableAccounts, gateway.Query{
		Filters: []gateway.Filter{gateway.Eq("email", email)},
		Limit:   1,
	})
	if err != nil {
		return nil, remote("sign in", err)
	}
	if len(rows) == 0 {
		return nil, ErrInvalidCredentials
	}
	account, err := models.AccountFromRow(rows[0])
	if err != nil {
		return nil, err
	}
	if !checkPassword(account.PasswordHash, creds.Password) {
		return nil, ErrInvalidCredentials
	}
	return a.Issue(account)
}

// Issue выпускает подписанный токен сессии
func (a *Authenticator) Issue(account models.Account) (*gateway.Session, error) {
	now := a.now()
	expires := now.Add(a.ttl)
	claims := sessionClaims{
		Email: account.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        ulid.Make().String(),
			Subject:   account.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return nil, err
	}
	return &gateway.Session{
		UserID:      account.ID,
		Email:       account.Email,
		AccessToken: token,
		ExpiresAt:   expires,
	}, nil
}

// Verify проверяет подпись, срок и отзыв токена
func (a *Authenticator) Verify(token string) (*gateway.Session, error) {
	var claims sessionClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	if a.isRevoked(claims.ID) {
		return nil, ErrInvalidToken
	}
	session := &gateway.Session{
		UserID:      claims.Subject,
		Email:       claims.Email,
		AccessToken: token,
	}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}
	return session, nil
}

// Revoke делает токен недействительным до истечения его срока
func (a *Authenticator) Revoke(token string) error {
	var claims sessionClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(a.now))
	if err != nil {
		return ErrInvalidToken
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()
	for id, exp := range a.revoked {
		if exp.Before(now) {
			delete(a.revoked, id)
		}
	}
	if claims.ExpiresAt != nil {
		a.revoked[claims.ID] = claims.ExpiresAt.Time
	}
	return nil
}

func (a *Authenticator) isRevoked(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.revoked[id]
	return ok
}

type sessionListener struct {
	id int
	fn gateway.SessionListener
}

// AuthClient - сессия одного пользователя поверх Authenticator.
// Слушатели вызываются в порядке подписки.
type AuthClient struct {
	auth *Authenticator

	mu        sync.Mutex
	session   *gateway.Session
	listeners []sessionListener
	nextID    int
}

func NewAuthClient(auth *Authenticator, session *gateway.Session) *AuthClient {
	return &AuthClient{
		auth:      auth,
		session: session,
	}
}

func (c *AuthClient) GetSession(_ context.Context) (*gateway.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil, nil
	}
	if !c.session.ExpiresAt.IsZero() && !c.session.ExpiresAt.After(c.auth.now()) {
		c.session = nil
		return nil, nil
	}
	s := *c.session
	return &s, nil
}

func (c *AuthClient) OnSessionChange(listener gateway.SessionListener) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners = append(c.listeners, sessionListener{id: id, fn: listener})
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			c.listeners = slices.DeleteFunc(c.listeners, func(l sessionListener) bool { return l.id == id })
			c.mu.Unlock()
		})
	}
}

func (c *AuthClient) SignIn(ctx context.Context, creds gateway.Credentials) (*gateway.Session, error) {
	session, err := c.auth.SignIn(ctx, creds)
	if err != nil {
		return nil, err
	}
	c.set(gateway.SignedIn, session)
	return session, nil
}

func (c *AuthClient) SignUp(ctx context.Context, creds gateway.Credentials) (*gateway.Session, error) {
	session, err := c.auth.SignUp(ctx, creds)
	if err != nil {
		return nil, err
	}
	c.set(gateway.SignedIn, session)
	return session, nil
}

// SignOut отзывает токен; локальная сессия сбрасывается в любом случае
func (c *AuthClient) SignOut(_ context.Context) error {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()

	var err error
	if session != nil {
		err = c.auth.Revoke(session.AccessToken)
	}
	c.set(gateway.SignedOut, nil)
	return err
}

func (c *AuthClient) set(event gateway.AuthEvent, session *gateway.Session) {
	c.mu.Lock()
	c.session = session
	listeners := make([]gateway.SessionListener, 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l.fn)
	}
	c.mu.Unlock()

	for _, l := range listeners {
		var s *gateway.Session
		if session != nil {
			copied := *session
			s = &copied
		}
		l(event, s)
	}
}
