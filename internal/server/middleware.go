package server

import (
	"errors"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"

	"taskmanager/internal/auth"
	"taskmanager/internal/session"
	"taskmanager/internal/storage"
)

const (
	msgNotLoggedIn   = "You are not logged in! Please log in."
	msgNoPermission  = "You do not have permission to perform this action."
	msgProtectedUser = "It is impossible to delete the user because it is being used"
)

// loadUser resolves the session's user id into the request's current user.
// A session pointing at a deleted account is downgraded to anonymous.
func (s *Server) loadUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := session.Get(c)
		if sess.Authenticated() {
			u, err := s.store.GetUser(c.Request.Context(), sess.UserID)
			switch {
			case err == nil:
				auth.SetUser(c, &u)
			case errors.Is(err, storage.ErrNotFound):
				sess.SetUser(0)
			default:
				s.logger.Error("load session user", slog.Int64("user_id", sess.UserID), slog.String("error", err.Error()))
			}
		}
		c.Next()
	}
}

// requireLogin sends anonymous visitors to the login page, remembering
// where they were headed.
func (s *Server) requireLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if auth.CurrentUser(c) != nil {
			c.Next()
			return
		}
		flash(c, session.LevelError, msgNotLoggedIn)
		s.redirect(c, "/login/?next="+url.QueryEscape(c.Request.URL.RequestURI()))
		c.Abort()
	}
}

// requireSelf lets users edit or delete only their own account.
func (s *Server) requireSelf() gin.HandlerFunc {
	return func(c *gin.Context) {
		current := auth.CurrentUser(c)
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil || id <= 0 {
			s.notFound(c)
			return
		}
		if current == nil || current.ID != id {
			flash(c, session.LevelError, msgNoPermission)
			s.redirect(c, "/users/")
			c.Abort()
			return
		}
		c.Next()
	}
}
