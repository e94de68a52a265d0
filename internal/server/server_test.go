package server

import (
	"compress/gzip"
	"context"
	"html"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"taskmanager/internal/auth"
	"taskmanager/internal/logger"
	"taskmanager/internal/models"
	"taskmanager/internal/session"
	"taskmanager/internal/storage"
)

type testEnv struct {
	t        *testing.T
	store    *storage.Store
	sessions *session.MemoryStore
	ts       *httptest.Server
}

var testCSRFKey = []byte("0123456789abcdef0123456789abcdef")

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	auth.SetHashCost(bcrypt.MinCost)

	store, err := storage.Open("sqlite3", filepath.Join(t.TempDir(), "test.db"), logger.Discard())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	sessStore := session.NewMemoryStore()
	sessions := session.NewManager(sessStore, session.Options{
		Secret: "test-secret",
		Logger: logger.Discard(),
	})
	opts.Logger = logger.Discard()
	if opts.CSRF && opts.CSRFKey == nil {
		opts.CSRFKey = testCSRFKey
	}
	srv, err := New(store, sessions, opts)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	ts := httptest.NewServer(srv.Engine())
	t.Cleanup(ts.Close)
	return &testEnv{t: t, store: store, sessions: sessStore, ts: ts}
}

// client returns an HTTP client with its own cookie jar that does not
// follow redirects.
func (e *testEnv) client() *http.Client {
	jar, err := cookiejar.New(nil)
	if err != nil {
		e.t.Fatalf("cookie jar: %v", err)
	}
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func (e *testEnv) get(c *http.Client, path string) (*http.Response, string) {
	e.t.Helper()
	resp, err := c.Get(e.ts.URL + path)
	if err != nil {
		e.t.Fatalf("GET %s: %v", path, err)
	}
	return resp, readBody(e.t, resp)
}

func (e *testEnv) post(c *http.Client, path string, form url.Values) (*http.Response, string) {
	e.t.Helper()
	resp, err := c.PostForm(e.ts.URL+path, form)
	if err != nil {
		e.t.Fatalf("POST %s: %v", path, err)
	}
	return resp, readBody(e.t, resp)
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(data)
}

func (e *testEnv) createUser(username, password string) models.User {
	e.t.Helper()
	hash, err := auth.HashPassword(password)
	if err != nil {
		e.t.Fatalf("hash: %v", err)
	}
	u, err := e.store.CreateUser(context.Background(), models.User{
		Username:     username,
		FirstName:    strings.ToUpper(username[:1]) + username[1:],
		LastName:     "Tester",
		PasswordHash: hash,
	})
	if err != nil {
		e.t.Fatalf("create user: %v", err)
	}
	return u
}

func (e *testEnv) loginAs(username, password string) *http.Client {
	e.t.Helper()
	c := e.client()
	resp, _ := e.post(c, "/login/", url.Values{"username": {username}, "password": {password}})
	if resp.StatusCode != http.StatusFound {
		e.t.Fatalf("login %s: expected 302, got %d", username, resp.StatusCode)
	}
	return c
}

func expectRedirect(t *testing.T, resp *http.Response, location string) {
	t.Helper()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("expected 302, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Location"); got != location {
		t.Fatalf("expected redirect to %q, got %q", location, got)
	}
}

func idPath(prefix string, id int64, suffix string) string {
	return prefix + strconv.FormatInt(id, 10) + suffix
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, Options{Version: "test"})

	resp, body := env.get(env.client(), "/healthz")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(body, `"status":"ok"`) || !strings.Contains(body, `"version":"test"`) {
		t.Fatalf("unexpected health body: %s", body)
	}
}

func TestRegisterThenLogin(t *testing.T) {
	env := newTestEnv(t, Options{})
	c := env.client()

	resp, _ := env.post(c, "/users/create/", url.Values{
		"first_name": {"Ada"},
		"last_name":  {"Lovelace"},
		"username":   {"ada"},
		"password1":  {"abc"},
		"password2":  {"abc"},
	})
	expectRedirect(t, resp, "/login/")

	resp, _ = env.post(c, "/login/", url.Values{"username": {"ada"}, "password": {"abc"}})
	expectRedirect(t, resp, "/")

	_, body := env.get(c, "/")
	if !strings.Contains(body, "User created successfully") || !strings.Contains(body, msgLoggedIn) {
		t.Fatalf("expected flashes on index, got: %s", body)
	}
	if !strings.Contains(body, "/logout/") {
		t.Fatalf("expected logout link for authenticated user")
	}

	_, body = env.get(c, "/")
	if strings.Contains(body, msgLoggedIn) {
		t.Fatalf("flash should be shown only once")
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.createUser("bob", "secret")

	resp, body := env.post(env.client(), "/login/", url.Values{"username": {"bob"}, "password": {"wrong"}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected form re-render, got %d", resp.StatusCode)
	}
	if !strings.Contains(body, "Please enter a correct username and password.") {
		t.Fatalf("expected login error, got: %s", body)
	}
}

func TestLoginHonoursNext(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.createUser("bob", "secret")

	form := url.Values{"username": {"bob"}, "password": {"secret"}, "next": {"/tasks/"}}
	resp, _ := env.post(env.client(), "/login/", form)
	expectRedirect(t, resp, "/tasks/")

	form.Set("next", "https://evil.example/")
	resp, _ = env.post(env.client(), "/login/", form)
	expectRedirect(t, resp, "/")
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.createUser("bob", "secret")
	c := env.loginAs("bob", "secret")

	resp, _ := env.post(c, "/logout/", nil)
	expectRedirect(t, resp, "/")

	resp, _ = env.get(c, "/tasks/")
	expectRedirect(t, resp, "/login/?next=%2Ftasks%2F")
}

func TestAnonymousRedirectedToLogin(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	alice := env.createUser("alice", "secret")
	status, _ := env.store.CreateStatus(ctx, "new")
	label, _ := env.store.CreateLabel(ctx, "bug")
	task, err := env.store.CreateTask(ctx, models.TaskInput{Name: "t1", StatusID: status.ID, AuthorID: alice.ID})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	c := env.client()

	gets := []string{
		"/statuses/", "/statuses/create/",
		idPath("/statuses/", status.ID, "/update/"), idPath("/statuses/", status.ID, "/delete/"),
		"/labels/", "/labels/create/",
		idPath("/labels/", label.ID, "/update/"), idPath("/labels/", label.ID, "/delete/"),
		"/tasks/", "/tasks/create/", "/tasks/?self_tasks=on",
		idPath("/tasks/", task.ID, "/"), idPath("/tasks/", task.ID, "/update/"), idPath("/tasks/", task.ID, "/delete/"),
		idPath("/users/", alice.ID, "/update/"), idPath("/users/", alice.ID, "/delete/"),
	}
	for _, path := range gets {
		resp, _ := env.get(c, path)
		expectRedirect(t, resp, "/login/?next="+url.QueryEscape(path))
	}

	posts := []string{
		"/statuses/create/",
		idPath("/statuses/", status.ID, "/update/"), idPath("/statuses/", status.ID, "/delete/"),
		"/labels/create/",
		idPath("/labels/", label.ID, "/update/"), idPath("/labels/", label.ID, "/delete/"),
		"/tasks/create/",
		idPath("/tasks/", task.ID, "/update/"), idPath("/tasks/", task.ID, "/delete/"),
		idPath("/users/", alice.ID, "/update/"), idPath("/users/", alice.ID, "/delete/"),
	}
	for _, path := range posts {
		resp, _ := env.post(c, path, url.Values{"name": {"changed"}})
		expectRedirect(t, resp, "/login/?next="+url.QueryEscape(path))
	}

	if got, err := env.store.GetTask(ctx, task.ID); err != nil || got.Name != "t1" {
		t.Fatalf("anonymous requests must not touch tasks: %+v (%v)", got, err)
	}
	if _, err := env.store.GetStatus(ctx, status.ID); err != nil {
		t.Fatalf("anonymous requests must not delete statuses: %v", err)
	}
	if _, err := env.store.GetUser(ctx, alice.ID); err != nil {
		t.Fatalf("anonymous requests must not delete users: %v", err)
	}

	_, body := env.get(c, "/login/")
	if !strings.Contains(body, msgNotLoggedIn) {
		t.Fatalf("expected not-logged-in flash, got: %s", body)
	}
}

func TestAnonymousBrowsingStoresNoSession(t *testing.T) {
	env := newTestEnv(t, Options{CSRF: true})
	c := env.client()

	for i := 0; i < 10; i++ {
		for _, path := range []string{"/", "/login/", "/users/", "/users/create/", "/nowhere-" + strconv.Itoa(i)} {
			env.get(c, path)
		}
	}
	for i := 0; i < 10; i++ {
		env.get(env.client(), "/nowhere")
	}
	if n := env.sessions.Len(); n != 0 {
		t.Fatalf("anonymous page views stored %d sessions", n)
	}

	// A flash is real state and must survive to the next request.
	resp, _ := env.get(c, "/tasks/")
	expectRedirect(t, resp, "/login/?next=%2Ftasks%2F")
	if n := env.sessions.Len(); n != 1 {
		t.Fatalf("expected the flash to create one session, got %d", n)
	}
}

func TestUserPasswordValidation(t *testing.T) {
	env := newTestEnv(t, Options{})

	tests := []struct {
		name      string
		password1 string
		password2 string
		want      []string
	}{
		{"mismatch", "abc", "abd", []string{msgPasswordMismatch}},
		{"too short", "ab", "ab", []string{msgPasswordTooShort}},
		{"mismatch and too short", "ab", "ac", []string{msgPasswordMismatch, msgPasswordTooShort}},
		{"missing", "", "abc", []string{msgRequired}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.post(env.client(), "/users/create/", url.Values{
				"first_name": {"Ada"},
				"last_name":  {"Lovelace"},
				"username":   {"ada"},
				"password1":  {tt.password1},
				"password2":  {tt.password2},
			})
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("expected 200, got %d", resp.StatusCode)
			}
			for _, want := range tt.want {
				if !strings.Contains(body, want) {
					t.Fatalf("expected %q in body", want)
				}
			}
		})
	}

	if _, err := env.store.GetUserByUsername(context.Background(), "ada"); err == nil {
		t.Fatalf("invalid registrations must not create users")
	}
}

func TestUsernameRules(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.createUser("taken", "secret")

	tests := []struct {
		username string
		want     string
	}{
		{"with space", msgUsernameInvalid},
		{"taken", msgUsernameTaken},
		{strings.Repeat("a", 151), "Ensure this value has at most 150 characters"},
	}
	for _, tt := range tests {
		_, body := env.post(env.client(), "/users/create/", url.Values{
			"first_name": {"A"},
			"last_name":  {"B"},
			"username":   {tt.username},
			"password1":  {"abc"},
			"password2":  {"abc"},
		})
		if !strings.Contains(body, tt.want) {
			t.Fatalf("username %q: expected %q", tt.username, tt.want)
		}
	}
}

func TestUserCanOnlyEditSelf(t *testing.T) {
	env := newTestEnv(t, Options{})
	alice := env.createUser("alice", "secret")
	bob := env.createUser("bob", "secret")
	c := env.loginAs("alice", "secret")

	resp, _ := env.get(c, idPath("/users/", bob.ID, "/update/"))
	expectRedirect(t, resp, "/users/")

	resp, _ = env.post(c, idPath("/users/", bob.ID, "/delete/"), nil)
	expectRedirect(t, resp, "/users/")
	if _, err := env.store.GetUser(context.Background(), bob.ID); err != nil {
		t.Fatalf("bob should still exist: %v", err)
	}

	_, body := env.get(c, "/users/")
	if !strings.Contains(body, msgNoPermission) {
		t.Fatalf("expected permission flash")
	}

	resp, _ = env.post(c, idPath("/users/", alice.ID, "/update/"), url.Values{
		"first_name": {"Alice"},
		"last_name":  {"Renamed"},
		"username":   {"alice2"},
		"password1":  {"newpw"},
		"password2":  {"newpw"},
	})
	expectRedirect(t, resp, "/users/")

	updated, err := env.store.GetUser(context.Background(), alice.ID)
	if err != nil {
		t.Fatalf("get alice: %v", err)
	}
	if updated.Username != "alice2" || !auth.CheckPassword(updated.PasswordHash, "newpw") {
		t.Fatalf("update not applied: %+v", updated)
	}

	resp, _ = env.get(c, "/tasks/")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("user should stay logged in after update, got %d", resp.StatusCode)
	}
}

func TestDeleteSelfLogsOut(t *testing.T) {
	env := newTestEnv(t, Options{})
	alice := env.createUser("alice", "secret")
	c := env.loginAs("alice", "secret")

	resp, _ := env.post(c, idPath("/users/", alice.ID, "/delete/"), nil)
	expectRedirect(t, resp, "/users/")

	if _, err := env.store.GetUser(context.Background(), alice.ID); err == nil {
		t.Fatalf("alice should be deleted")
	}
	resp, _ = env.get(c, "/tasks/")
	expectRedirect(t, resp, "/login/?next=%2Ftasks%2F")
}

func TestProtectedDeletions(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	alice := env.createUser("alice", "secret")
	status, _ := env.store.CreateStatus(ctx, "new")
	label, _ := env.store.CreateLabel(ctx, "bug")
	if _, err := env.store.CreateTask(ctx, models.TaskInput{
		Name: "t1", StatusID: status.ID, AuthorID: alice.ID, LabelIDs: []int64{label.ID},
	}); err != nil {
		t.Fatalf("create task: %v", err)
	}
	c := env.loginAs("alice", "secret")

	tests := []struct {
		path    string
		list    string
		message string
		exists  func() error
	}{
		{idPath("/statuses/", status.ID, "/delete/"), "/statuses/", msgStatusProtected, func() error {
			_, err := env.store.GetStatus(ctx, status.ID)
			return err
		}},
		{idPath("/labels/", label.ID, "/delete/"), "/labels/", msgLabelProtected, func() error {
			_, err := env.store.GetLabel(ctx, label.ID)
			return err
		}},
		{idPath("/users/", alice.ID, "/delete/"), "/users/", msgProtectedUser, func() error {
			_, err := env.store.GetUser(ctx, alice.ID)
			return err
		}},
	}

	for _, tt := range tests {
		resp, _ := env.post(c, tt.path, nil)
		expectRedirect(t, resp, tt.list)
		if err := tt.exists(); err != nil {
			t.Fatalf("%s: object should persist: %v", tt.path, err)
		}
		_, body := env.get(c, tt.list)
		if !strings.Contains(body, tt.message) {
			t.Fatalf("%s: expected %q", tt.path, tt.message)
		}
	}
}

func TestStatusCRUD(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.createUser("alice", "secret")
	c := env.loginAs("alice", "secret")
	ctx := context.Background()

	resp, _ := env.post(c, "/statuses/create/", url.Values{"name": {"  in progress  "}})
	expectRedirect(t, resp, "/statuses/")

	statuses, err := env.store.ListStatuses(ctx)
	if err != nil || len(statuses) != 1 || statuses[0].Name != "in progress" {
		t.Fatalf("unexpected statuses %+v, err %v", statuses, err)
	}
	id := statuses[0].ID

	_, body := env.post(c, "/statuses/create/", url.Values{"name": {"in progress"}})
	if !strings.Contains(body, msgStatusTaken) {
		t.Fatalf("expected uniqueness error")
	}

	_, body = env.post(c, "/statuses/create/", url.Values{"name": {"   "}})
	if !strings.Contains(body, msgRequired) {
		t.Fatalf("expected required error")
	}

	resp, _ = env.post(c, idPath("/statuses/", id, "/update/"), url.Values{"name": {"done"}})
	expectRedirect(t, resp, "/statuses/")
	if got, _ := env.store.GetStatus(ctx, id); got.Name != "done" {
		t.Fatalf("expected renamed status, got %q", got.Name)
	}

	resp, _ = env.post(c, idPath("/statuses/", id, "/delete/"), nil)
	expectRedirect(t, resp, "/statuses/")
	_, body = env.get(c, "/statuses/")
	if !strings.Contains(body, msgStatusDeleted) {
		t.Fatalf("expected delete flash")
	}

	resp, _ = env.get(c, idPath("/statuses/", id, "/update/"))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for deleted status, got %d", resp.StatusCode)
	}
}

func TestLabelCRUD(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.createUser("alice", "secret")
	c := env.loginAs("alice", "secret")

	resp, _ := env.post(c, "/labels/create/", url.Values{"name": {"bug"}})
	expectRedirect(t, resp, "/labels/")

	_, body := env.get(c, "/labels/")
	if !strings.Contains(body, msgLabelCreated) || !strings.Contains(body, "bug") {
		t.Fatalf("expected label in list")
	}
}

func TestTaskLifecycle(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	alice := env.createUser("alice", "secret")
	bob := env.createUser("bob", "secret")
	status, _ := env.store.CreateStatus(ctx, "new")
	bug, _ := env.store.CreateLabel(ctx, "bug")
	ui, _ := env.store.CreateLabel(ctx, "ui")

	c := env.loginAs("alice", "secret")
	resp, _ := env.post(c, "/tasks/create/", url.Values{
		"name":        {"Fix login"},
		"description": {"it breaks"},
		"status":      {strconv.FormatInt(status.ID, 10)},
		"executor":    {strconv.FormatInt(bob.ID, 10)},
		"labels":      {strconv.FormatInt(bug.ID, 10), strconv.FormatInt(ui.ID, 10)},
	})
	expectRedirect(t, resp, "/tasks/")

	tasks, err := env.store.ListTasks(ctx, models.TaskFilter{})
	if err != nil || len(tasks) != 1 {
		t.Fatalf("expected one task, got %d (%v)", len(tasks), err)
	}
	task, _ := env.store.GetTask(ctx, tasks[0].ID)
	if task.Author.ID != alice.ID {
		t.Fatalf("author should be the creator, got %d", task.Author.ID)
	}
	if task.Executor == nil || task.Executor.ID != bob.ID || len(task.Labels) != 2 {
		t.Fatalf("unexpected task %+v", task)
	}

	_, body := env.get(c, idPath("/tasks/", task.ID, "/"))
	if !strings.Contains(body, "Fix login") || !strings.Contains(body, "Bob Tester") {
		t.Fatalf("detail page missing task data")
	}

	// Bob may edit but not delete.
	bc := env.loginAs("bob", "secret")
	resp, _ = env.post(bc, idPath("/tasks/", task.ID, "/update/"), url.Values{
		"name":   {"Fix login flow"},
		"status": {strconv.FormatInt(status.ID, 10)},
		"labels": {strconv.FormatInt(ui.ID, 10)},
	})
	expectRedirect(t, resp, "/tasks/")
	task, _ = env.store.GetTask(ctx, task.ID)
	if task.Name != "Fix login flow" || task.Author.ID != alice.ID || task.Executor != nil || len(task.Labels) != 1 {
		t.Fatalf("unexpected task after update %+v", task)
	}

	resp, _ = env.post(bc, idPath("/tasks/", task.ID, "/delete/"), nil)
	expectRedirect(t, resp, "/tasks/")
	if _, err := env.store.GetTask(ctx, task.ID); err != nil {
		t.Fatalf("non-author delete must not remove the task")
	}
	_, body = env.get(bc, "/tasks/")
	if !strings.Contains(body, msgTaskNotAuthor) {
		t.Fatalf("expected author-only flash")
	}

	resp, _ = env.post(c, idPath("/tasks/", task.ID, "/delete/"), nil)
	expectRedirect(t, resp, "/tasks/")
	if _, err := env.store.GetTask(ctx, task.ID); err == nil {
		t.Fatalf("author delete should remove the task")
	}
}

func TestTaskFormValidation(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.createUser("alice", "secret")
	c := env.loginAs("alice", "secret")

	resp, body := env.post(c, "/tasks/create/", url.Values{"name": {"x"}, "status": {"999"}})
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, msgInvalidChoice) {
		t.Fatalf("expected invalid status error, got %d", resp.StatusCode)
	}

	_, body = env.post(c, "/tasks/create/", url.Values{"name": {""}})
	if !strings.Contains(body, msgRequired) {
		t.Fatalf("expected required errors")
	}
}

func TestTaskFilter(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	alice := env.createUser("alice", "secret")
	bob := env.createUser("bob", "secret")
	open, _ := env.store.CreateStatus(ctx, "open")
	closed, _ := env.store.CreateStatus(ctx, "closed")
	bug, _ := env.store.CreateLabel(ctx, "bug")

	mk := func(name string, status, author int64, executor *int64, labels ...int64) {
		if _, err := env.store.CreateTask(ctx, models.TaskInput{
			Name: name, StatusID: status, AuthorID: author, ExecutorID: executor, LabelIDs: labels,
		}); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}
	mk("alpha-task", open.ID, alice.ID, &bob.ID, bug.ID)
	mk("beta-task", closed.ID, bob.ID, nil)
	mk("gamma-task", open.ID, bob.ID, &alice.ID)

	c := env.loginAs("alice", "secret")
	id := func(v int64) string { return strconv.FormatInt(v, 10) }

	tests := []struct {
		name  string
		query url.Values
		want  []string
	}{
		{"no filter", nil, []string{"alpha-task", "beta-task", "gamma-task"}},
		{"status", url.Values{"status": {id(open.ID)}}, []string{"alpha-task", "gamma-task"}},
		{"executor", url.Values{"executor": {id(alice.ID)}}, []string{"gamma-task"}},
		{"label", url.Values{"labels": {id(bug.ID)}}, []string{"alpha-task"}},
		{"self tasks", url.Values{"self_tasks": {"on"}}, []string{"alpha-task"}},
		{"combined", url.Values{"status": {id(open.ID)}, "executor": {id(bob.ID)}}, []string{"alpha-task"}},
		{"invalid status ignored", url.Values{"status": {"abc"}, "labels": {id(bug.ID)}}, []string{"alpha-task", "beta-task", "gamma-task"}},
		{"unknown executor ignored", url.Values{"executor": {"9999"}}, []string{"alpha-task", "beta-task", "gamma-task"}},
		{"invalid filter keeps self tasks", url.Values{"status": {"abc"}, "self_tasks": {"on"}}, []string{"alpha-task"}},
	}

	all := []string{"alpha-task", "beta-task", "gamma-task"}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.get(c, "/tasks/?"+tt.query.Encode())
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("expected 200, got %d", resp.StatusCode)
			}
			want := make(map[string]bool)
			for _, name := range tt.want {
				want[name] = true
			}
			for _, name := range all {
				if got := strings.Contains(body, name); got != want[name] {
					t.Fatalf("task %s listed=%v, want %v", name, got, want[name])
				}
			}
		})
	}
}

func TestUnknownIDsAre404(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.createUser("alice", "secret")
	c := env.loginAs("alice", "secret")

	for _, path := range []string{"/tasks/999/", "/tasks/abc/", "/labels/999/update/", "/nowhere"} {
		resp, body := env.get(c, path)
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", path, resp.StatusCode)
		}
		if !strings.Contains(body, "Page not found") {
			t.Fatalf("%s: expected 404 page", path)
		}
	}
}

func TestCSRFEnforced(t *testing.T) {
	env := newTestEnv(t, Options{CSRF: true})
	env.createUser("bob", "secret")
	c := env.client()

	resp, _ := env.post(c, "/login/", url.Values{"username": {"bob"}, "password": {"secret"}})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 without token, got %d", resp.StatusCode)
	}

	_, body := env.get(c, "/login/")
	token := csrfTokenFrom(t, body)

	resp, _ = env.post(env.client(), "/login/", url.Values{"username": {"bob"}, "password": {"secret"}, "csrf_token": {token}})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("token without its cookie must be rejected, got %d", resp.StatusCode)
	}

	resp, _ = env.post(c, "/login/", url.Values{"username": {"bob"}, "password": {"secret"}, "csrf_token": {token}})
	expectRedirect(t, resp, "/")

	// Logged-in pages keep working with a fresh token from the page.
	_, body = env.get(c, "/statuses/create/")
	resp, _ = env.post(c, "/statuses/create/", url.Values{"name": {"new"}, "csrf_token": {csrfTokenFrom(t, body)}})
	expectRedirect(t, resp, "/statuses/")
}

func csrfTokenFrom(t *testing.T, body string) string {
	t.Helper()
	const marker = `name="csrf_token" value="`
	i := strings.Index(body, marker)
	if i < 0 {
		t.Fatalf("csrf token not rendered")
	}
	token := body[i+len(marker):]
	token = token[:strings.Index(token, `"`)]
	if token == "" {
		t.Fatalf("empty csrf token")
	}
	return html.UnescapeString(token)
}

func TestNewRejectsShortCSRFKey(t *testing.T) {
	store, err := storage.Open("sqlite3", filepath.Join(t.TempDir(), "test.db"), logger.Discard())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	sessions := session.NewManager(session.NewMemoryStore(), session.Options{Secret: "s", Logger: logger.Discard()})
	if _, err := New(store, sessions, Options{CSRF: true, CSRFKey: []byte("short"), Logger: logger.Discard()}); err == nil {
		t.Fatal("expected error for short csrf key")
	}
}

func TestStaticAssetsGzipped(t *testing.T) {
	env := newTestEnv(t, Options{})

	req, err := http.NewRequest(http.MethodGet, env.ts.URL+"/static/css/app.css?v=abc", nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.Header.Set("Accept-Encoding", "gzip")
	resp, err := env.client().Do(req)
	if err != nil {
		t.Fatalf("GET static: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Content-Encoding") != "gzip" {
		t.Fatalf("expected gzip encoding, got %q", resp.Header.Get("Content-Encoding"))
	}
	if !strings.Contains(resp.Header.Get("Cache-Control"), "immutable") {
		t.Fatalf("fingerprinted asset should be cacheable")
	}
	zr, err := gzip.NewReader(resp.Body)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	if data, _ := io.ReadAll(zr); len(data) == 0 {
		t.Fatalf("empty stylesheet")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, Options{})
	c := env.client()
	env.get(c, "/")

	_, body := env.get(c, "/metrics")
	if !strings.Contains(body, "taskmanager_http_requests_total") {
		t.Fatalf("expected request counter in metrics output")
	}
}

func TestLoginRateLimitFailsOpen(t *testing.T) {
	// Nothing listens on port 1.
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 200 * time.Millisecond})
	t.Cleanup(func() { _ = client.Close() })

	env := newTestEnv(t, Options{Redis: client, LoginRateLimit: 1, LoginRateWindow: time.Minute})
	form := url.Values{"username": {"nobody"}, "password": {"x"}}
	for i := 0; i < 3; i++ {
		resp, _ := env.post(env.client(), "/login/", form)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("attempt %d: unreachable redis must not block logins, got %d", i+1, resp.StatusCode)
		}
	}
}

func TestLoginRateLimit(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	keys, _ := client.Keys(ctx, "rl:login:*").Result()
	if len(keys) > 0 {
		client.Del(ctx, keys...)
	}

	env := newTestEnv(t, Options{Redis: client, LoginRateLimit: 2, LoginRateWindow: time.Minute})
	form := url.Values{"username": {"nobody"}, "password": {"x"}}
	for i := 0; i < 2; i++ {
		resp, _ := env.post(env.client(), "/login/", form)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("attempt %d: expected 200, got %d", i+1, resp.StatusCode)
		}
	}
	resp, body := env.post(env.client(), "/login/", form)
	if resp.StatusCode != http.StatusTooManyRequests || !strings.Contains(body, msgTooManyLogins) {
		t.Fatalf("expected throttling, got %d", resp.StatusCode)
	}

	keys, err := client.Keys(ctx, "rl:login:*").Result()
	if err != nil || len(keys) != 1 {
		t.Fatalf("expected one limiter key, got %v (%v)", keys, err)
	}
	ttl, err := client.PTTL(ctx, keys[0]).Result()
	if err != nil || ttl <= 0 || ttl > time.Minute {
		t.Fatalf("limiter key must expire within the window, ttl=%v err=%v", ttl, err)
	}

	// A counter left without a TTL is repaired on the next attempt.
	if err := client.Persist(ctx, keys[0]).Err(); err != nil {
		t.Fatalf("persist: %v", err)
	}
	env.post(env.client(), "/login/", form)
	if ttl, _ := client.PTTL(ctx, keys[0]).Result(); ttl <= 0 {
		t.Fatalf("expected ttl to be restored, got %v", ttl)
	}
}

func TestSafeNext(t *testing.T) {
	tests := map[string]string{
		"":                     "/",
		"/tasks/":              "/tasks/",
		"/tasks/?status=1":     "/tasks/?status=1",
		"//evil.example":       "/",
		"https://evil.example": "/",
		"/\\evil.example":      "/",
		"tasks":                "/",
	}
	for in, want := range tests {
		if got := safeNext(in); got != want {
			t.Errorf("safeNext(%q) = %q, want %q", in, got, want)
		}
	}
}
