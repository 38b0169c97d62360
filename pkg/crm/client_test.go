package crm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*RealClient, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	c := NewClient(Config{BaseURL: srv.URL, APIKey: "key_test", LocationID: "loc_1"})
	return c, &calls
}

func TestRealClient_CheckConfig_Missing(t *testing.T) {
	c := NewClient(Config{})
	err := c.CheckConfig()
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigError, got %T", err)
	}
	if len(cfgErr.Missing) != 2 {
		t.Errorf("expected 2 missing keys, got %v", cfgErr.Missing)
	}
}

func TestRealClient_CheckConfig_MissingLocationOnly(t *testing.T) {
	c := NewClient(Config{APIKey: "key"})
	var cfgErr *ConfigError
	if !errors.As(c.CheckConfig(), &cfgErr) {
		t.Fatal("expected *ConfigError")
	}
	if len(cfgErr.Missing) != 1 || cfgErr.Missing[0] != "GHL_LOCATION_ID" {
		t.Errorf("unexpected missing keys: %v", cfgErr.Missing)
	}
}

func TestRealClient_CreateContact_NotConfigured_NoRequest(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, LocationID: "loc_1"})
	_, err := c.CreateContact(context.Background(), Contact{Email: "a@b.com"})
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Errorf("expected no requests, got %d", calls)
	}
}

func TestRealClient_CreateContact_Success(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/contacts/" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key_test" {
			t.Errorf("expected bearer auth, got %q", got)
		}
		var body Contact
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body.LocationID != "loc_1" {
			t.Errorf("expected locationId=loc_1, got %q", body.LocationID)
		}
		if body.Email != "jane@acme.com" {
			t.Errorf("expected email jane@acme.com, got %q", body.Email)
		}
		body.ID = "c_1"
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"contact": body})
	})

	got, err := c.CreateContact(context.Background(), Contact{Email: "jane@acme.com", Tags: []string{"newsletter"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != "c_1" {
		t.Errorf("expected id c_1, got %q", got.ID)
	}
}

func TestRealClient_CreateContact_ConflictStatuses(t *testing.T) {
	for _, status := range []int{http.StatusConflict, http.StatusUnprocessableEntity} {
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			_, _ = io.WriteString(w, `{"message":"This location does not allow duplicated contacts."}`)
		})

		_, err := c.CreateContact(context.Background(), Contact{Email: "jane@acme.com"})
		if !errors.Is(err, ErrDuplicateContact) {
			t.Errorf("status %d: expected ErrDuplicateContact, got %v", status, err)
		}
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.StatusCode != status {
			t.Errorf("status %d: expected APIError with matching status, got %v", status, err)
		}
	}
}

func TestRealClient_CreateContact_CustomConflictStatuses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "k", LocationID: "l", ConflictStatuses: []int{http.StatusConflict}})
	_, err := c.CreateContact(context.Background(), Contact{Email: "a@b.com"})
	if errors.Is(err, ErrDuplicateContact) {
		t.Error("422 should not be a conflict when only 409 is configured")
	}
}

func TestRealClient_CreateContact_ServerError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, "boom")
	})

	_, err := c.CreateContact(context.Background(), Contact{Email: "a@b.com"})
	if err == nil || errors.Is(err, ErrDuplicateContact) {
		t.Fatalf("expected non-conflict error, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Body != "boom" {
		t.Errorf("expected APIError carrying body, got %v", err)
	}
}

func TestRealClient_SearchByEmail_ExactMatch(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if got := r.URL.Query().Get("locationId"); got != "loc_1" {
			t.Errorf("expected locationId=loc_1, got %q", got)
		}
		if got := r.URL.Query().Get("email"); got != "jane@acme.com" {
			t.Errorf("expected normalized email in query, got %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"contacts": []Contact{
			{ID: "c_other", Email: "jane@acme.com.au"},
			{ID: "c_1", Email: "Jane@Acme.com", Tags: []string{"newsletter"}},
		}})
	})

	got, err := c.SearchByEmail(context.Background(), "  JANE@acme.com ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != "c_1" {
		t.Errorf("expected c_1, got %q", got.ID)
	}
}

func TestRealClient_SearchByEmail_NotFound(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"contacts": []Contact{}})
	})

	_, err := c.SearchByEmail(context.Background(), "nobody@acme.com")
	if !errors.Is(err, ErrContactNotFound) {
		t.Errorf("expected ErrContactNotFound, got %v", err)
	}
}

func TestRealClient_UpdateContact(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/v1/contacts/c_1" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body Contact
		_ = json.NewDecoder(r.Body).Decode(&body)
		if len(body.Tags) != 2 {
			t.Errorf("expected 2 tags, got %v", body.Tags)
		}
		body.ID = "c_1"
		_ = json.NewEncoder(w).Encode(map[string]any{"contact": body})
	})

	got, err := c.UpdateContact(context.Background(), "c_1", Contact{Email: "jane@acme.com", Tags: []string{"newsletter", "webinar"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != "c_1" {
		t.Errorf("expected id c_1, got %q", got.ID)
	}
}

func TestRealClient_UpdateContact_EmptyBody(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	got, err := c.UpdateContact(context.Background(), "c_9", Contact{Email: "x@y.com"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != "c_9" {
		t.Errorf("expected id c_9, got %q", got.ID)
	}
}

func TestRealClient_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewClient(Config{BaseURL: url, APIKey: "k", LocationID: "l"})
	_, err := c.CreateContact(context.Background(), Contact{Email: "a@b.com"})
	if err == nil {
		t.Fatal("expected network error")
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		t.Errorf("network failure should not be an APIError: %v", err)
	}
}
