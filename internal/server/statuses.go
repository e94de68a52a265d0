package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"taskmanager/internal/session"
	"taskmanager/internal/storage"
)

const (
	msgStatusCreated   = "Status successfully created"
	msgStatusUpdated   = "Status successfully changed"
	msgStatusDeleted   = "Status successfully deleted"
	msgStatusProtected = "It is impossible to delete the status because it is being used"
	msgStatusTaken     = "Status with this Name already exists."
)

func (s *Server) handleListStatuses(c *gin.Context) {
	statuses, err := s.store.ListStatuses(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.render(c, http.StatusOK, "statuses/index.html", gin.H{"Items": statuses})
}

func (s *Server) handleCreateStatusForm(c *gin.Context) {
	s.renderStatusForm(c, nameForm{}, formErrors{}, 0)
}

func (s *Server) handleCreateStatus(c *gin.Context) {
	var form nameForm
	if errs := bindForm(c, &form); errs.any() {
		s.renderStatusForm(c, form, errs, 0)
		return
	}

	_, err := s.store.CreateStatus(c.Request.Context(), form.Name)
	if errors.Is(err, storage.ErrConflict) {
		s.renderStatusForm(c, form, formErrors{"name": {msgStatusTaken}}, 0)
		return
	}
	if err != nil {
		s.respondError(c, err)
		return
	}

	flash(c, session.LevelSuccess, msgStatusCreated)
	s.redirect(c, "/statuses/")
}

func (s *Server) handleUpdateStatusForm(c *gin.Context) {
	id, ok := s.parseID(c, "id")
	if !ok {
		return
	}
	status, err := s.store.GetStatus(c.Request.Context(), id)
	if err != nil {
		s.respondStoreError(c, err)
		return
	}
	s.renderStatusForm(c, nameForm{Name: status.Name}, formErrors{}, id)
}

func (s *Server) handleUpdateStatus(c *gin.Context) {
	id, ok := s.parseID(c, "id")
	if !ok {
		return
	}

	var form nameForm
	if errs := bindForm(c, &form); errs.any() {
		s.renderStatusForm(c, form, errs, id)
		return
	}

	_, err := s.store.UpdateStatus(c.Request.Context(), id, form.Name)
	if errors.Is(err, storage.ErrConflict) {
		s.renderStatusForm(c, form, formErrors{"name": {msgStatusTaken}}, id)
		return
	}
	if err != nil {
		s.respondStoreError(c, err)
		return
	}

	flash(c, session.LevelSuccess, msgStatusUpdated)
	s.redirect(c, "/statuses/")
}

// renderStatusForm shows the create form when id is zero.
func (s *Server) renderStatusForm(c *gin.Context, form nameForm, errs formErrors, id int64) {
	data := gin.H{
		"Form":    form,
		"Errors":  errs,
		"Heading": "Create status",
		"Action":  "/statuses/create/",
		"Submit":  "Create",
	}
	if id != 0 {
		data["Heading"] = "Update status"
		data["Action"] = fmt.Sprintf("/statuses/%d/update/", id)
		data["Submit"] = "Update"
	}
	s.render(c, http.StatusOK, "statuses/form.html", data)
}

func (s *Server) handleDeleteStatusForm(c *gin.Context) {
	id, ok := s.parseID(c, "id")
	if !ok {
		return
	}
	status, err := s.store.GetStatus(c.Request.Context(), id)
	if err != nil {
		s.respondStoreError(c, err)
		return
	}
	s.render(c, http.StatusOK, "statuses/delete.html", gin.H{
		"Entity": "status",
		"Object": status.Name,
		"Action": fmt.Sprintf("/statuses/%d/delete/", id),
	})
}

func (s *Server) handleDeleteStatus(c *gin.Context) {
	id, ok := s.parseID(c, "id")
	if !ok {
		return
	}

	err := s.store.DeleteStatus(c.Request.Context(), id)
	switch {
	case errors.Is(err, storage.ErrInUse):
		protectedDeletionsTotal.WithLabelValues("status").Inc()
		flash(c, session.LevelError, msgStatusProtected)
	case err != nil:
		s.respondStoreError(c, err)
		return
	default:
		flash(c, session.LevelSuccess, msgStatusDeleted)
	}
	s.redirect(c, "/statuses/")
}
