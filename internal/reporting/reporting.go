// Package reporting forwards unexpected server errors to Rollbar. Without an
// access token every call is a no-op.
package reporting

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/rollbar/rollbar-go"

	"taskmanager/internal/models"
)

// Reporter receives errors that reached the HTTP boundary.
type Reporter interface {
	Report(r *http.Request, err error, user *models.User)
	Close() error
}

// New returns a Rollbar reporter when token is set, otherwise a no-op one.
func New(token, environment, version string, logger *slog.Logger) Reporter {
	if token == "" {
		return Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	client := rollbar.New(token, environment, version, "", "")
	logger.Info("error reporting enabled", slog.String("environment", environment))
	return &rollbarReporter{client: client}
}

type rollbarReporter struct {
	client *rollbar.Client
}

func (r *rollbarReporter) Report(req *http.Request, err error, user *models.User) {
	ctx := req.Context()
	if user != nil {
		ctx = rollbar.NewPersonContext(ctx, &rollbar.Person{
			Id:       strconv.FormatInt(user.ID, 10),
			Username: user.Username,
		})
	}
	r.client.RequestErrorWithExtrasAndContext(ctx, rollbar.ERR, req, err, map[string]interface{}{
		"path": req.URL.Path,
	})
}

func (r *rollbarReporter) Close() error {
	return r.client.Close()
}

// Noop discards reports.
type Noop struct{}

func (Noop) Report(*http.Request, error, *models.User) {}

func (Noop) Close() error { return nil }
