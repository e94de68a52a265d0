package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"taskmanager/internal/auth"
	"taskmanager/internal/models"
	"taskmanager/internal/session"
	"taskmanager/internal/storage"
)

const (
	msgTaskCreated   = "Task successfully created"
	msgTaskUpdated   = "Task successfully updated"
	msgTaskDeleted   = "Task successfully deleted"
	msgTaskNotAuthor = "Only the author can delete a task."
)

// taskFilterForm echoes the submitted filter back into the list page.
type taskFilterForm struct {
	Status    string
	Executor  string
	Label     string
	SelfTasks bool
}

// handleListTasks shows tasks narrowed by the query-string filter.
func (s *Server) handleListTasks(c *gin.Context) {
	ctx := c.Request.Context()
	form := taskFilterForm{
		Status:    c.Query("status"),
		Executor:  c.Query("executor"),
		Label:     c.Query("labels"),
		SelfTasks: c.Query("self_tasks") != "",
	}

	filter, errs, err := s.parseTaskFilter(ctx, form)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if form.SelfTasks {
		filter.AuthorID = auth.CurrentUser(c).ID
	}

	tasks, err := s.store.ListTasks(ctx, filter)
	if err != nil {
		s.respondError(c, err)
		return
	}

	data, err := s.taskChoices(ctx)
	if err != nil {
		s.respondError(c, err)
		return
	}
	data["Tasks"] = tasks
	data["Filter"] = form
	data["Errors"] = errs
	s.render(c, http.StatusOK, "tasks/index.html", data)
}

// parseTaskFilter validates the status, executor and label choices. When
// any of them is invalid the returned filter is empty.
func (s *Server) parseTaskFilter(ctx context.Context, form taskFilterForm) (models.TaskFilter, formErrors, error) {
	var filter models.TaskFilter
	errs := formErrors{}

	checks := []struct {
		field  string
		value  string
		dst    *int64
		lookup func(int64) error
	}{
		{"status", form.Status, &filter.StatusID, func(id int64) error {
			_, err := s.store.GetStatus(ctx, id)
			return err
		}},
		{"executor", form.Executor, &filter.ExecutorID, func(id int64) error {
			_, err := s.store.GetUser(ctx, id)
			return err
		}},
		{"labels", form.Label, &filter.LabelID, func(id int64) error {
			_, err := s.store.GetLabel(ctx, id)
			return err
		}},
	}

	for _, chk := range checks {
		if chk.value == "" {
			continue
		}
		id, ok, err := resolveID(chk.value, chk.lookup)
		if err != nil {
			return models.TaskFilter{}, nil, err
		}
		if !ok {
			errs.add(chk.field, msgInvalidChoice)
			continue
		}
		*chk.dst = id
	}

	if errs.any() {
		return models.TaskFilter{}, errs, nil
	}
	return filter, errs, nil
}

func (s *Server) handleShowTask(c *gin.Context) {
	id, ok := s.parseID(c, "id")
	if !ok {
		return
	}
	task, err := s.store.GetTask(c.Request.Context(), id)
	if err != nil {
		s.respondStoreError(c, err)
		return
	}
	s.render(c, http.StatusOK, "tasks/show.html", gin.H{"Task": task})
}

func (s *Server) handleCreateTaskForm(c *gin.Context) {
	s.renderTaskForm(c, taskForm{}, formErrors{}, 0)
}

// handleCreateTask files a new task authored by the current user.
func (s *Server) handleCreateTask(c *gin.Context) {
	ctx := c.Request.Context()

	var form taskForm
	errs := bindForm(c, &form)
	in, err := s.cleanTaskForm(ctx, form, errs)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if errs.any() {
		s.renderTaskForm(c, form, errs, 0)
		return
	}

	in.AuthorID = auth.CurrentUser(c).ID
	_, err = s.store.CreateTask(ctx, in)
	if errors.Is(err, storage.ErrInvalidReference) {
		errs.add(nonFieldErrors, msgInvalidChoice)
		s.renderTaskForm(c, form, errs, 0)
		return
	}
	if err != nil {
		s.respondError(c, err)
		return
	}

	flash(c, session.LevelSuccess, msgTaskCreated)
	s.redirect(c, "/tasks/")
}

func (s *Server) handleUpdateTaskForm(c *gin.Context) {
	id, ok := s.parseID(c, "id")
	if !ok {
		return
	}
	task, err := s.store.GetTask(c.Request.Context(), id)
	if err != nil {
		s.respondStoreError(c, err)
		return
	}

	form := taskForm{
		Name:        task.Name,
		Description: task.Description,
		Status:      strconv.FormatInt(task.Status.ID, 10),
	}
	if task.Executor != nil {
		form.Executor = strconv.FormatInt(task.Executor.ID, 10)
	}
	for _, l := range task.Labels {
		form.Labels = append(form.Labels, strconv.FormatInt(l.ID, 10))
	}
	s.renderTaskForm(c, form, formErrors{}, id)
}

// handleUpdateTask edits any task; the author stays unchanged.
func (s *Server) handleUpdateTask(c *gin.Context) {
	id, ok := s.parseID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	var form taskForm
	errs := bindForm(c, &form)
	in, err := s.cleanTaskForm(ctx, form, errs)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if errs.any() {
		s.renderTaskForm(c, form, errs, id)
		return
	}

	_, err = s.store.UpdateTask(ctx, id, in)
	if errors.Is(err, storage.ErrInvalidReference) {
		errs.add(nonFieldErrors, msgInvalidChoice)
		s.renderTaskForm(c, form, errs, id)
		return
	}
	if err != nil {
		s.respondStoreError(c, err)
		return
	}

	flash(c, session.LevelSuccess, msgTaskUpdated)
	s.redirect(c, "/tasks/")
}

// cleanTaskForm resolves the submitted ids, adding a field error for each
// one that does not name an existing row. Only lookup failures are returned
// as errors.
func (s *Server) cleanTaskForm(ctx context.Context, form taskForm, errs formErrors) (models.TaskInput, error) {
	in := models.TaskInput{Name: form.Name, Description: form.Description}

	if form.Status != "" {
		id, ok, err := resolveID(form.Status, func(id int64) error {
			_, err := s.store.GetStatus(ctx, id)
			return err
		})
		if err != nil {
			return in, err
		}
		if ok {
			in.StatusID = id
		} else {
			errs.add("status", msgInvalidChoice)
		}
	}

	if form.Executor != "" {
		id, ok, err := resolveID(form.Executor, func(id int64) error {
			_, err := s.store.GetUser(ctx, id)
			return err
		})
		if err != nil {
			return in, err
		}
		if ok {
			in.ExecutorID = &id
		} else {
			errs.add("executor", msgInvalidChoice)
		}
	}

	for _, raw := range form.Labels {
		if raw == "" {
			continue
		}
		id, ok, err := resolveID(raw, func(id int64) error {
			_, err := s.store.GetLabel(ctx, id)
			return err
		})
		if err != nil {
			return in, err
		}
		if !ok {
			errs.add("labels", fmt.Sprintf("Select a valid choice. %s is not one of the available choices.", raw))
			continue
		}
		in.LabelIDs = append(in.LabelIDs, id)
	}
	return in, nil
}

// resolveID parses raw and checks it with lookup. ok is false when raw is
// malformed or lookup reports ErrNotFound.
func resolveID(raw string, lookup func(int64) error) (id int64, ok bool, err error) {
	id, perr := strconv.ParseInt(raw, 10, 64)
	if perr != nil || id <= 0 {
		return 0, false, nil
	}
	if err := lookup(id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return id, true, nil
}

// taskChoices loads the select options shared by the task list and form.
func (s *Server) taskChoices(ctx context.Context) (gin.H, error) {
	statuses, err := s.store.ListStatuses(ctx)
	if err != nil {
		return nil, err
	}
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	labels, err := s.store.ListLabels(ctx)
	if err != nil {
		return nil, err
	}
	return gin.H{"Statuses": statuses, "Users": users, "Labels": labels}, nil
}

func (s *Server) renderTaskForm(c *gin.Context, form taskForm, errs formErrors, id int64) {
	data, err := s.taskChoices(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	data["Form"] = form
	data["Errors"] = errs
	data["Heading"] = "Create task"
	data["Action"] = "/tasks/create/"
	data["Submit"] = "Create"
	if id != 0 {
		data["Heading"] = "Update task"
		data["Action"] = fmt.Sprintf("/tasks/%d/update/", id)
		data["Submit"] = "Update"
	}
	s.render(c, http.StatusOK, "tasks/form.html", data)
}

// loadOwnTask fetches the task and checks that the current user wrote it.
// On failure it has already responded.
func (s *Server) loadOwnTask(c *gin.Context) (models.Task, bool) {
	id, ok := s.parseID(c, "id")
	if !ok {
		return models.Task{}, false
	}
	task, err := s.store.GetTask(c.Request.Context(), id)
	if err != nil {
		s.respondStoreError(c, err)
		return models.Task{}, false
	}
	if task.Author.ID != auth.CurrentUser(c).ID {
		flash(c, session.LevelError, msgTaskNotAuthor)
		s.redirect(c, "/tasks/")
		return models.Task{}, false
	}
	return task, true
}

func (s *Server) handleDeleteTaskForm(c *gin.Context) {
	task, ok := s.loadOwnTask(c)
	if !ok {
		return
	}
	s.render(c, http.StatusOK, "tasks/delete.html", gin.H{
		"Entity": "task",
		"Object": task.Name,
		"Action": fmt.Sprintf("/tasks/%d/delete/", task.ID),
	})
}

func (s *Server) handleDeleteTask(c *gin.Context) {
	task, ok := s.loadOwnTask(c)
	if !ok {
		return
	}
	if err := s.store.DeleteTask(c.Request.Context(), task.ID); err != nil {
		s.respondStoreError(c, err)
		return
	}
	flash(c, session.LevelSuccess, msgTaskDeleted)
	s.redirect(c, "/tasks/")
}
