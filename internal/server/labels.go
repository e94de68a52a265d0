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
	msgLabelCreated   = "Label created successfully"
	msgLabelUpdated   = "Label updated successfully"
	msgLabelDeleted   = "Label deleted successfully"
	msgLabelProtected = "It is impossible to delete the label because it is being used"
	msgLabelTaken     = "Label with this Name already exists."
)

func (s *Server) handleListLabels(c *gin.Context) {
	labels, err := s.store.ListLabels(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.render(c, http.StatusOK, "labels/index.html", gin.H{"Items": labels})
}

func (s *Server) handleCreateLabelForm(c *gin.Context) {
	s.renderLabelForm(c, nameForm{}, formErrors{}, 0)
}

func (s *Server) handleCreateLabel(c *gin.Context) {
	var form nameForm
	if errs := bindForm(c, &form); errs.any() {
		s.renderLabelForm(c, form, errs, 0)
		return
	}

	_, err := s.store.CreateLabel(c.Request.Context(), form.Name)
	if errors.Is(err, storage.ErrConflict) {
		s.renderLabelForm(c, form, formErrors{"name": {msgLabelTaken}}, 0)
		return
	}
	if err != nil {
		s.respondError(c, err)
		return
	}

	flash(c, session.LevelSuccess, msgLabelCreated)
	s.redirect(c, "/labels/")
}

func (s *Server) handleUpdateLabelForm(c *gin.Context) {
	id, ok := s.parseID(c, "id")
	if !ok {
		return
	}
	label, err := s.store.GetLabel(c.Request.Context(), id)
	if err != nil {
		s.respondStoreError(c, err)
		return
	}
	s.renderLabelForm(c, nameForm{Name: label.Name}, formErrors{}, id)
}

func (s *Server) handleUpdateLabel(c *gin.Context) {
	id, ok := s.parseID(c, "id")
	if !ok {
		return
	}

	var form nameForm
	if errs := bindForm(c, &form); errs.any() {
		s.renderLabelForm(c, form, errs, id)
		return
	}

	_, err := s.store.UpdateLabel(c.Request.Context(), id, form.Name)
	if errors.Is(err, storage.ErrConflict) {
		s.renderLabelForm(c, form, formErrors{"name": {msgLabelTaken}}, id)
		return
	}
	if err != nil {
		s.respondStoreError(c, err)
		return
	}

	flash(c, session.LevelSuccess, msgLabelUpdated)
	s.redirect(c, "/labels/")
}

// renderLabelForm shows the create form when id is zero.
func (s *Server) renderLabelForm(c *gin.Context, form nameForm, errs formErrors, id int64) {
	data := gin.H{
		"Form":    form,
		"Errors":  errs,
		"Heading": "Create label",
		"Action":  "/labels/create/",
		"Submit":  "Create",
	}
	if id != 0 {
		data["Heading"] = "Update label"
		data["Action"] = fmt.Sprintf("/labels/%d/update/", id)
		data["Submit"] = "Update"
	}
	s.render(c, http.StatusOK, "labels/form.html", data)
}

func (s *Server) handleDeleteLabelForm(c *gin.Context) {
	id, ok := s.parseID(c, "id")
	if !ok {
		return
	}
	label, err := s.store.GetLabel(c.Request.Context(), id)
	if err != nil {
		s.respondStoreError(c, err)
		return
	}
	s.render(c, http.StatusOK, "labels/delete.html", gin.H{
		"Entity": "label",
		"Object": label.Name,
		"Action": fmt.Sprintf("/labels/%d/delete/", id),
	})
}

func (s *Server) handleDeleteLabel(c *gin.Context) {
	id, ok := s.parseID(c, "id")
	if !ok {
		return
	}

	err := s.store.DeleteLabel(c.Request.Context(), id)
	switch {
	case errors.Is(err, storage.ErrInUse):
		protectedDeletionsTotal.WithLabelValues("label").Inc()
		flash(c, session.LevelError, msgLabelProtected)
	case err != nil:
		s.respondStoreError(c, err)
		return
	default:
		flash(c, session.LevelSuccess, msgLabelDeleted)
	}
	s.redirect(c, "/labels/")
}
