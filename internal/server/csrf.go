package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/csrf"
)

type ginContextKey struct{}

const (
	csrfFieldName  = "csrf_token"
	csrfCookieName = "csrftoken"
)

// csrfProtect adapts gorilla/csrf to gin. The token lives in its own signed
// cookie, so anonymous visitors need no server-side session row.
func (s *Server) csrfProtect() gin.HandlerFunc {
	if !s.opts.CSRF {
		return func(c *gin.Context) { c.Next() }
	}

	protect := csrf.Protect(s.opts.CSRFKey,
		csrf.FieldName(csrfFieldName),
		csrf.CookieName(csrfCookieName),
		csrf.Path("/"),
		csrf.HttpOnly(true),
		csrf.Secure(s.opts.SecureCookies),
		csrf.SameSite(csrf.SameSiteLaxMode),
		csrf.ErrorHandler(http.HandlerFunc(s.csrfFailed)),
	)

	handler := protect(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		c := r.Context().Value(ginContextKey{}).(*gin.Context)
		c.Request = r
		c.Next()
	}))

	return func(c *gin.Context) {
		r := c.Request
		c.Request = r.WithContext(context.WithValue(r.Context(), ginContextKey{}, c))
		handler.ServeHTTP(c.Writer, c.Request)
		// On success the rest of the chain already ran inside handler.
		c.Abort()
	}
}

func (s *Server) csrfFailed(w http.ResponseWriter, r *http.Request) {
	reason := "unknown"
	if err := csrf.FailureReason(r); err != nil {
		reason = err.Error()
	}
	s.logger.Warn("csrf verification failed", slog.String("path", r.URL.Path), slog.String("reason", reason))
	http.Error(w, "Forbidden (CSRF token missing or incorrect)", http.StatusForbidden)
}
