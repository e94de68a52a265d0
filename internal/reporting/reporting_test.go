package reporting

import (
	"errors"
	"net/http/httptest"
	"testing"

	"taskmanager/internal/models"
)

func TestNewWithoutTokenIsNoop(t *testing.T) {
	r := New("", "test", "dev", nil)
	if _, ok := r.(Noop); !ok {
		t.Fatalf("expected Noop reporter, got %T", r)
	}

	req := httptest.NewRequest("GET", "/tasks/", nil)
	r.Report(req, errors.New("boom"), &models.User{ID: 1, Username: "u"})
	if err := r.Close(); err != nil {
		t.Errorf("close: %v", err)
	}
}
