package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"taskmanager/internal/auth"
	"taskmanager/internal/models"
	"taskmanager/internal/session"
	"taskmanager/internal/storage"
)

const (
	msgLoggedIn     = "You are logged in"
	msgLoggedOut    = "You are logged out"
	msgInvalidLogin = "Please enter a correct username and password. Note that both fields may be case-sensitive."
)

func (s *Server) handleLoginForm(c *gin.Context) {
	s.render(c, http.StatusOK, "login.html", gin.H{
		"Form": loginForm{},
		"Next": c.Query("next"),
	})
}

// handleLogin checks the credentials and binds the user to a fresh session.
func (s *Server) handleLogin(c *gin.Context) {
	var form loginForm
	errs := bindForm(c, &form)
	if errs.any() {
		loginAttemptsTotal.WithLabelValues("invalid").Inc()
		s.renderLogin(c, form, errs)
		return
	}

	user, err := s.store.GetUserByUsername(c.Request.Context(), form.Username)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.respondError(c, err)
		return
	}
	if err != nil || !auth.CheckPassword(user.PasswordHash, form.Password) {
		loginAttemptsTotal.WithLabelValues("failure").Inc()
		s.logger.Info("login failed", slog.String("username", form.Username), slog.String("ip", c.ClientIP()))
		errs.add(nonFieldErrors, msgInvalidLogin)
		s.renderLogin(c, form, errs)
		return
	}

	loginAttemptsTotal.WithLabelValues("success").Inc()
	s.login(c, &user)
	flash(c, session.LevelSuccess, msgLoggedIn)
	s.redirect(c, safeNext(form.Next))
}

func (s *Server) renderLogin(c *gin.Context, form loginForm, errs formErrors) {
	form.Password = ""
	s.render(c, http.StatusOK, "login.html", gin.H{
		"Form":   form,
		"Next":   form.Next,
		"Errors": errs,
	})
}

// handleLogout drops the user from the session. Anonymous callers are
// redirected the same way.
func (s *Server) handleLogout(c *gin.Context) {
	s.logout(c)
	flash(c, session.LevelInfo, msgLoggedOut)
	s.redirect(c, "/")
}

func (s *Server) login(c *gin.Context, user *models.User) {
	sess := s.sessions.Rotate(c)
	sess.SetUser(user.ID)
	auth.SetUser(c, user)
}

func (s *Server) logout(c *gin.Context) {
	sess := s.sessions.Rotate(c)
	sess.SetUser(0)
	auth.SetUser(c, nil)
}
