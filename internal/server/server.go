package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/csrf"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"

	"taskmanager/internal/auth"
	"taskmanager/internal/reporting"
	"taskmanager/internal/session"
	"taskmanager/internal/storage"
	"taskmanager/internal/web"
)

// Options tunes the server beyond its required collaborators.
type Options struct {
	Logger   *slog.Logger
	Reporter reporting.Reporter
	Version  string

	// CSRF enables token verification on unsafe requests; CSRFKey must then
	// be 32 bytes.
	CSRF          bool
	CSRFKey       []byte
	SecureCookies bool

	// Redis backs the login rate limiter; nil disables limiting.
	Redis           *redis.Client
	LoginRateLimit  int
	LoginRateWindow time.Duration
}

// Server provides the HTTP handlers of the task manager.
type Server struct {
	engine   *gin.Engine
	store    *storage.Store
	sessions *session.Manager
	logger   *slog.Logger
	reporter reporting.Reporter
	opts     Options
}

// New constructs the HTTP server with routes and middleware configured.
func New(store *storage.Store, sessions *session.Manager, opts Options) (*Server, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Reporter == nil {
		opts.Reporter = reporting.Noop{}
	}
	if opts.CSRF && len(opts.CSRFKey) != 32 {
		return nil, fmt.Errorf("csrf key must be 32 bytes, got %d", len(opts.CSRFKey))
	}
	setupValidator()

	manifest, err := web.NewManifest(web.Static(), "/static/")
	if err != nil {
		return nil, fmt.Errorf("static manifest: %w", err)
	}
	renderer, err := web.NewRenderer(web.Templates(), web.Funcs(manifest))
	if err != nil {
		return nil, fmt.Errorf("templates: %w", err)
	}

	router := gin.New()
	router.HTMLRender = renderer

	srv := &Server{
		engine:   router,
		store:    store,
		sessions: sessions,
		logger:   opts.Logger,
		reporter: opts.Reporter,
		opts:     opts,
	}

	router.Use(gin.CustomRecovery(srv.handlePanic))
	router.Use(gin.LoggerWithWriter(gin.DefaultWriter, "/metrics", "/healthz"))
	router.Use(srv.instrument())

	srv.registerRoutes()
	return srv, nil
}

// Engine exposes the underlying Gin engine.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// registerRoutes wires all page, health and static handlers together.
func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.mountStatic()

	app := s.engine.Group("/", s.sessions.Middleware(), s.loadUser(), s.csrfProtect())
	{
		app.GET("/", s.handleIndex)
		app.GET("/login/", s.handleLoginForm)
		app.POST("/login/", s.loginRateLimit(), s.handleLogin)
		app.POST("/logout/", s.handleLogout)

		users := app.Group("/users")
		{
			users.GET("/", s.handleListUsers)
			users.GET("/create/", s.handleCreateUserForm)
			users.POST("/create/", s.handleCreateUser)

			own := users.Group("/:id", s.requireLogin(), s.requireSelf())
			own.GET("/update/", s.handleUpdateUserForm)
			own.POST("/update/", s.handleUpdateUser)
			own.GET("/delete/", s.handleDeleteUserForm)
			own.POST("/delete/", s.handleDeleteUser)
		}

		statuses := app.Group("/statuses", s.requireLogin())
		{
			statuses.GET("/", s.handleListStatuses)
			statuses.GET("/create/", s.handleCreateStatusForm)
			statuses.POST("/create/", s.handleCreateStatus)
			statuses.GET("/:id/update/", s.handleUpdateStatusForm)
			statuses.POST("/:id/update/", s.handleUpdateStatus)
			statuses.GET("/:id/delete/", s.handleDeleteStatusForm)
			statuses.POST("/:id/delete/", s.handleDeleteStatus)
		}

		labels := app.Group("/labels", s.requireLogin())
		{
			labels.GET("/", s.handleListLabels)
			labels.GET("/create/", s.handleCreateLabelForm)
			labels.POST("/create/", s.handleCreateLabel)
			labels.GET("/:id/update/", s.handleUpdateLabelForm)
			labels.POST("/:id/update/", s.handleUpdateLabel)
			labels.GET("/:id/delete/", s.handleDeleteLabelForm)
			labels.POST("/:id/delete/", s.handleDeleteLabel)
		}

		tasks := app.Group("/tasks", s.requireLogin())
		{
			tasks.GET("/", s.handleListTasks)
			tasks.GET("/create/", s.handleCreateTaskForm)
			tasks.POST("/create/", s.handleCreateTask)
			tasks.GET("/:id/", s.handleShowTask)
			tasks.GET("/:id/update/", s.handleUpdateTaskForm)
			tasks.POST("/:id/update/", s.handleUpdateTask)
			tasks.GET("/:id/delete/", s.handleDeleteTaskForm)
			tasks.POST("/:id/delete/", s.handleDeleteTask)
		}
	}

	s.engine.NoRoute(s.sessions.Middleware(), s.loadUser(), s.notFound)
}

// handleHealth reports liveness plus a database ping.
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": "database unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": s.opts.Version, "database": s.store.Driver()})
}

func (s *Server) handleIndex(c *gin.Context) {
	s.render(c, http.StatusOK, "index.html", nil)
}

// parseID converts a path parameter to int64, rendering 404 when malformed.
func (s *Server) parseID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		s.notFound(c)
		return 0, false
	}
	return id, true
}

// render fills the layout fields every page needs and writes the template.
func (s *Server) render(c *gin.Context, status int, page string, data gin.H) {
	if data == nil {
		data = gin.H{}
	}
	sess := session.Get(c)
	data["User"] = auth.CurrentUser(c)
	data["CSRFToken"] = csrf.Token(c.Request)
	data["Messages"] = sess.PopFlashes()
	if _, ok := data["Errors"]; !ok {
		data["Errors"] = formErrors{}
	}
	if err := s.sessions.Save(c); err != nil {
		s.logger.Error("session save failed", slog.String("error", err.Error()))
	}
	c.HTML(status, page, data)
}

// redirect persists the session before answering with 302.
func (s *Server) redirect(c *gin.Context, location string) {
	if err := s.sessions.Save(c); err != nil {
		s.logger.Error("session save failed", slog.String("error", err.Error()))
	}
	c.Redirect(http.StatusFound, location)
}

func flash(c *gin.Context, level, text string) {
	session.Get(c).AddFlash(level, text)
}

func (s *Server) notFound(c *gin.Context) {
	s.render(c, http.StatusNotFound, "errors/404.html", nil)
	c.Abort()
}

// respondError logs and reports the error and renders the 500 page.
func (s *Server) respondError(c *gin.Context, err error) {
	s.logger.Error("request failed", slog.String("path", c.FullPath()), slog.String("error", err.Error()))
	s.reporter.Report(c.Request, err, auth.CurrentUser(c))
	s.render(c, http.StatusInternalServerError, "errors/500.html", nil)
	c.Abort()
}

// respondStoreError renders 404 for missing rows and 500 otherwise.
func (s *Server) respondStoreError(c *gin.Context, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		s.notFound(c)
		return
	}
	s.respondError(c, err)
}

func (s *Server) handlePanic(c *gin.Context, recovered any) {
	err := fmt.Errorf("panic: %v", recovered)
	s.logger.Error("panic recovered", slog.String("path", c.Request.URL.Path), slog.String("error", err.Error()))
	s.reporter.Report(c.Request, err, auth.CurrentUser(c))
	if !c.Writer.Written() {
		c.HTML(http.StatusInternalServerError, "errors/500.html", gin.H{"Errors": formErrors{}})
	}
	c.Abort()
}

// safeNext only allows local absolute paths as post-login targets.
func safeNext(next string) string {
	if next == "" {
		return "/"
	}
	if next[0] != '/' || (len(next) > 1 && (next[1] == '/' || next[1] == '\\')) {
		return "/"
	}
	if u, err := url.Parse(next); err != nil || u.IsAbs() || u.Host != "" {
		return "/"
	}
	return next
}
