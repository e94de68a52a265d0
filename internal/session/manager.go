package session

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const contextKey = "session"

// DefaultCookieName is used when Options.CookieName is empty.
const DefaultCookieName = "sessionid"

// Options configures a Manager.
type Options struct {
	Secret     string
	CookieName string
	TTL        time.Duration
	Secure     bool
	Logger     *slog.Logger
}

// Manager loads, saves and rotates sessions for gin requests. The cookie
// carries only an HS256-signed token with the session id.
type Manager struct {
	store  Store
	secret []byte
	cookie string
	ttl    time.Duration
	secure bool
	logger *slog.Logger
}

// NewManager builds a Manager around store.
func NewManager(store Store, opts Options) *Manager {
	if opts.CookieName == "" {
		opts.CookieName = DefaultCookieName
	}
	if opts.TTL <= 0 {
		opts.TTL = 14 * 24 * time.Hour
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Manager{
		store:  store,
		secret: []byte(opts.Secret),
		cookie: opts.CookieName,
		ttl:    opts.TTL,
		secure: opts.Secure,
		logger: opts.Logger,
	}
}

// Middleware attaches a session to every request and persists pending
// changes after the handler returns. New visitors get an unsaved session;
// it reaches the store and the cookie jar only once it changes.
func (m *Manager) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := m.load(c)
		if sess == nil {
			sess = m.fresh()
		}
		c.Set(contextKey, sess)

		c.Next()

		if err := m.Save(c); err != nil {
			m.logger.Error("session save failed", slog.String("error", err.Error()))
		}
	}
}

// Get returns the session of the request. Outside the middleware it returns a
// detached session that is never persisted.
func Get(c *gin.Context) *Session {
	if v, ok := c.Get(contextKey); ok {
		if s, ok := v.(*Session); ok {
			return s
		}
	}
	return &Session{}
}

// Save writes the session if it changed, issuing the cookie the first time.
// Handlers call it before writing the response so the cookie header still
// goes out and the next request observes the update.
func (m *Manager) Save(c *gin.Context) error {
	sess := Get(c)
	if !sess.dirty || sess.ID == "" {
		return nil
	}
	if !sess.issued {
		if c.Writer.Written() {
			m.logger.Debug("session changed after response was written; dropped")
			return nil
		}
		m.setCookie(c, sess)
		sess.issued = true
	}
	if err := m.store.Save(c.Request.Context(), sess); err != nil {
		return err
	}
	sess.dirty = false
	return nil
}

// Rotate moves the session to a fresh id, keeping its data. Used on login
// and logout.
func (m *Manager) Rotate(c *gin.Context) *Session {
	sess := Get(c)
	if sess.ID != "" {
		if err := m.store.Delete(c.Request.Context(), sess.ID); err != nil {
			m.logger.Warn("session delete failed", slog.String("error", err.Error()))
		}
	}
	sess.ID = uuid.NewString()
	sess.ExpiresAt = time.Now().Add(m.ttl)
	sess.dirty = true
	sess.issued = true
	c.Set(contextKey, sess)
	m.setCookie(c, sess)
	return sess
}

// RunJanitor purges expired sessions every interval until ctx is done.
func (m *Manager) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := m.store.DeleteExpired(ctx)
			if err != nil {
				m.logger.Error("session cleanup failed", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				m.logger.Info("expired sessions purged", slog.Int64("count", n))
			}
		}
	}
}

func (m *Manager) fresh() *Session {
	return &Session{
		ID:        uuid.NewString(),
		ExpiresAt: time.Now().Add(m.ttl),
	}
}

func (m *Manager) load(c *gin.Context) *Session {
	raw, err := c.Cookie(m.cookie)
	if err != nil || raw == "" {
		return nil
	}
	id, err := m.parseToken(raw)
	if err != nil {
		m.logger.Debug("rejected session cookie", slog.String("error", err.Error()))
		return nil
	}
	sess, err := m.store.Load(c.Request.Context(), id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			m.logger.Error("session load failed", slog.String("error", err.Error()))
		}
		return nil
	}
	sess.issued = true
	return sess
}

func (m *Manager) setCookie(c *gin.Context, sess *Session) {
	token, err := m.signToken(sess)
	if err != nil {
		m.logger.Error("session sign failed", slog.String("error", err.Error()))
		return
	}
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     m.cookie,
		Value:    token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (m *Manager) signToken(sess *Session) (string, error) {
	claims := jwt.RegisteredClaims{
		ID:        sess.ID,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(sess.ExpiresAt),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

func (m *Manager) parseToken(raw string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	if claims.ID == "" {
		return "", errors.New("session id missing")
	}
	return claims.ID, nil
}
