package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"taskmanager/internal/auth"
	"taskmanager/internal/models"
	"taskmanager/internal/session"
	"taskmanager/internal/storage"
)

const (
	msgUserCreated = "User created successfully"
	msgUserUpdated = "User updated successfully"
	msgUserDeleted = "User deleted successfully"
)

func (s *Server) handleListUsers(c *gin.Context) {
	users, err := s.store.ListUsers(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.render(c, http.StatusOK, "users/index.html", gin.H{"Users": users})
}

func (s *Server) handleCreateUserForm(c *gin.Context) {
	s.renderUserForm(c, userForm{}, formErrors{}, false)
}

// handleCreateUser registers an account and sends the visitor to log in.
func (s *Server) handleCreateUser(c *gin.Context) {
	var form userForm
	errs := bindForm(c, &form)
	form.checkPasswords(errs)
	if errs.any() {
		s.renderUserForm(c, form, errs, false)
		return
	}

	hash, err := auth.HashPassword(form.Password1)
	if err != nil {
		s.respondError(c, err)
		return
	}
	_, err = s.store.CreateUser(c.Request.Context(), models.User{
		Username:     form.Username,
		FirstName:    form.FirstName,
		LastName:     form.LastName,
		PasswordHash: hash,
	})
	if errors.Is(err, storage.ErrConflict) {
		errs.add("username", msgUsernameTaken)
		s.renderUserForm(c, form, errs, false)
		return
	}
	if err != nil {
		s.respondError(c, err)
		return
	}

	flash(c, session.LevelSuccess, msgUserCreated)
	s.redirect(c, "/login/")
}

func (s *Server) handleUpdateUserForm(c *gin.Context) {
	u := auth.CurrentUser(c)
	s.renderUserForm(c, userForm{
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Username:  u.Username,
	}, formErrors{}, true)
}

// handleUpdateUser rewrites the profile and password of the current user.
// The session stays authenticated afterwards.
func (s *Server) handleUpdateUser(c *gin.Context) {
	current := auth.CurrentUser(c)

	var form userForm
	errs := bindForm(c, &form)
	form.checkPasswords(errs)
	if errs.any() {
		s.renderUserForm(c, form, errs, true)
		return
	}

	hash, err := auth.HashPassword(form.Password1)
	if err != nil {
		s.respondError(c, err)
		return
	}
	updated, err := s.store.UpdateUser(c.Request.Context(), models.User{
		ID:           current.ID,
		Username:     form.Username,
		FirstName:    form.FirstName,
		LastName:     form.LastName,
		PasswordHash: hash,
	})
	if errors.Is(err, storage.ErrConflict) {
		errs.add("username", msgUsernameTaken)
		s.renderUserForm(c, form, errs, true)
		return
	}
	if err != nil {
		s.respondStoreError(c, err)
		return
	}

	auth.SetUser(c, &updated)
	flash(c, session.LevelSuccess, msgUserUpdated)
	s.redirect(c, "/users/")
}

func (s *Server) renderUserForm(c *gin.Context, form userForm, errs formErrors, update bool) {
	form.Password1, form.Password2 = "", ""
	data := gin.H{
		"Form":    form,
		"Errors":  errs,
		"Heading": "Sign up",
		"Action":  "/users/create/",
		"Submit":  "Register",
	}
	if update {
		data["Heading"] = "Update user"
		data["Action"] = fmt.Sprintf("/users/%d/update/", auth.CurrentUser(c).ID)
		data["Submit"] = "Update"
	}
	s.render(c, http.StatusOK, "users/form.html", data)
}

func (s *Server) handleDeleteUserForm(c *gin.Context) {
	u := auth.CurrentUser(c)
	s.render(c, http.StatusOK, "users/delete.html", gin.H{
		"Entity": "user",
		"Object": u.FullName(),
		"Action": fmt.Sprintf("/users/%d/delete/", u.ID),
	})
}

// handleDeleteUser removes the current user's account unless tasks still
// reference it, then ends the session.
func (s *Server) handleDeleteUser(c *gin.Context) {
	u := auth.CurrentUser(c)

	err := s.store.DeleteUser(c.Request.Context(), u.ID)
	if errors.Is(err, storage.ErrInUse) {
		protectedDeletionsTotal.WithLabelValues("user").Inc()
		flash(c, session.LevelError, msgProtectedUser)
		s.redirect(c, "/users/")
		return
	}
	if err != nil {
		s.respondStoreError(c, err)
		return
	}

	s.logout(c)
	flash(c, session.LevelSuccess, msgUserDeleted)
	s.redirect(c, "/users/")
}
