package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/apexdeliver/backend/pkg/crm"
)

type mockDB struct {
	pingFunc func(ctx context.Context) error
}

func (m *mockDB) Ping(ctx context.Context) error {
	if m.pingFunc != nil {
		return m.pingFunc(ctx)
	}
	return nil
}

type stubConfig struct{ err error }

func (s stubConfig) CheckConfig() error { return s.err }

func TestHealth(t *testing.T) {
	downDB := &mockDB{pingFunc: func(context.Context) error { return errors.New("connection refused") }}
	missing := stubConfig{err: &crm.ConfigError{Missing: []string{"GHL_API_KEY"}}}

	tests := []struct {
		name         string
		db           *mockDB
		crm          ConfigChecker
		wantCode     int
		wantStatus   string
		wantDatabase string
		wantCRM      string
	}{
		{"all ok", &mockDB{}, stubConfig{}, http.StatusOK, "ok", componentOK, componentOK},
		{"crm not configured", &mockDB{}, missing, http.StatusOK, "degraded", componentOK, componentNotConfigured},
		{"database down", downDB, stubConfig{}, http.StatusServiceUnavailable, "unhealthy", componentUnavailable, componentOK},
		{"both down", downDB, missing, http.StatusServiceUnavailable, "unhealthy", componentUnavailable, componentNotConfigured},
		{"no crm checker", &mockDB{}, nil, http.StatusOK, "ok", componentOK, componentOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(tt.db, tt.crm, "http://localhost:4321")
			rec := httptest.NewRecorder()
			h.Health(rec, httptest.NewRequest("GET", "/api/health", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("expected %d, got %d", tt.wantCode, rec.Code)
			}
			var resp healthResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Status != tt.wantStatus {
				t.Errorf("status: expected %q, got %q", tt.wantStatus, resp.Status)
			}
			if resp.Database != tt.wantDatabase {
				t.Errorf("database: expected %q, got %q", tt.wantDatabase, resp.Database)
			}
			if resp.CRM != tt.wantCRM {
				t.Errorf("crm: expected %q, got %q", tt.wantCRM, resp.CRM)
			}
		})
	}
}

func TestHealth_DoesNotLeakDatabaseError(t *testing.T) {
	h := New(&mockDB{pingFunc: func(context.Context) error {
		return errors.New("dial tcp 10.0.0.5:5432: connection refused")
	}}, nil, "http://localhost:4321")
	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest("GET", "/api/health", nil))

	var resp healthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Message != "database unavailable" {
		t.Errorf("expected generic message, got %q", resp.Message)
	}
}
