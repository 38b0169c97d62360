package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/apexdeliver/backend/internal/attribution"
	"github.com/apexdeliver/backend/internal/model"
	"github.com/apexdeliver/backend/internal/reporter"
	"github.com/apexdeliver/backend/internal/repository"
	"github.com/apexdeliver/backend/internal/service"
	"github.com/apexdeliver/backend/pkg/auth"
)

const (
	maxLeadBodyBytes  = 64 << 10
	customFieldPrefix = "cf_"
	defaultFormID     = "default"
	visitorCookieAge  = 365 * 24 * time.Hour
)

// attributionFields are posted with the form but are not part of LeadForm.
var attributionFields = []string{"referrer", "page_url", "utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content"}

// LeadHandler handles lead form submission and the admin audit log.
type LeadHandler struct {
	leads     service.LeadService
	collector *attribution.Collector
	forms     *reporter.Registry
}

// NewLeadHandler creates a LeadHandler.
func NewLeadHandler(leads service.LeadService, collector *attribution.Collector, forms *reporter.Registry) *LeadHandler {
	return &LeadHandler{leads: leads, collector: collector, forms: forms}
}

// flexBool accepts a JSON bool or a checkbox-style string.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case bool:
		*b = flexBool(t)
	case string:
		*b = flexBool(truthy(t))
	case float64:
		*b = t != 0
	case nil:
		*b = false
	default:
		return errors.New("consent: unsupported value")
	}
	return nil
}

// tagList accepts a JSON array or a comma-separated string. Entries are
// split on commas either way.
type tagList []string

func (l *tagList) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	var raw []string
	switch t := v.(type) {
	case nil:
	case string:
		raw = []string{t}
	case []any:
		for _, e := range t {
			s, ok := e.(string)
			if !ok {
				return errors.New("tags: entries must be strings")
			}
			raw = append(raw, s)
		}
	default:
		return errors.New("tags: unsupported value")
	}
	*l = splitTags(raw)
	return nil
}

// splitTags splits every entry on commas. Empty parts are left for
// model.NormalizeTags to drop.
func splitTags(entries []string) []string {
	var out []string
	for _, e := range entries {
		out = append(out, strings.Split(e, ",")...)
	}
	return out
}

func truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "on", "yes", "1":
		return true
	}
	return false
}

// leadRequest is the expected JSON body for POST /api/leads.
type leadRequest struct {
	FormID        string            `json:"form_id"`
	FirstName     string            `json:"first_name"`
	LastName      string            `json:"last_name"`
	Email         string            `json:"email"`
	Phone         string            `json:"phone"`
	Company       string            `json:"company"`
	Message       string            `json:"message"`
	Source        string            `json:"source"`
	Tags          tagList           `json:"tags"`
	CustomFields  map[string]string `json:"custom_fields"`
	Consent       flexBool          `json:"consent"`
	PolicyVersion string            `json:"policy_version"`

	Referrer    string `json:"referrer"`
	PageURL     string `json:"page_url"`
	UTMSource   string `json:"utm_source"`
	UTMMedium   string `json:"utm_medium"`
	UTMCampaign string `json:"utm_campaign"`
	UTMTerm     string `json:"utm_term"`
	UTMContent  string `json:"utm_content"`
}

func (req *leadRequest) form() *model.LeadForm {
	return &model.LeadForm{
		FormID:        req.FormID,
		FirstName:     req.FirstName,
		LastName:      req.LastName,
		Email:         req.Email,
		Phone:         req.Phone,
		Company:       req.Company,
		Message:       req.Message,
		Source:        req.Source,
		Tags:          []string(req.Tags),
		CustomFields:  req.CustomFields,
		Consent:       bool(req.Consent),
		PolicyVersion: req.PolicyVersion,
	}
}

func (req *leadRequest) attributionValues() url.Values {
	v := url.Values{}
	for k, s := range map[string]string{
		"referrer":     req.Referrer,
		"page_url":     req.PageURL,
		"utm_source":   req.UTMSource,
		"utm_medium":   req.UTMMedium,
		"utm_campaign": req.UTMCampaign,
		"utm_term":     req.UTMTerm,
		"utm_content":  req.UTMContent,
	} {
		if s != "" {
			v.Set(k, s)
		}
	}
	return v
}

// parseLeadForm reads a JSON or url-encoded body. The second return value
// holds the attribution fields posted with the form.
func parseLeadForm(r *http.Request) (*model.LeadForm, url.Values, error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		var req leadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, nil, err
		}
		return req.form(), req.attributionValues(), nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, nil, err
	}
	pf := r.PostForm
	form := &model.LeadForm{
		FormID:        pf.Get("form_id"),
		FirstName:     pf.Get("first_name"),
		LastName:      pf.Get("last_name"),
		Email:         pf.Get("email"),
		Phone:         pf.Get("phone"),
		Company:       pf.Get("company"),
		Message:       pf.Get("message"),
		Source:        pf.Get("source"),
		Consent:       truthy(pf.Get("consent")),
		PolicyVersion: pf.Get("policy_version"),
	}
	form.Tags = splitTags(pf["tags"])
	for k, vals := range pf {
		if key, ok := strings.CutPrefix(k, customFieldPrefix); ok && key != "" && len(vals) > 0 {
			if form.CustomFields == nil {
				form.CustomFields = map[string]string{}
			}
			form.CustomFields[key] = vals[0]
		}
	}
	attr := url.Values{}
	for _, k := range attributionFields {
		if v := pf.Get(k); v != "" {
			attr.Set(k, v)
		}
	}
	return form, attr, nil
}

// leadResponse is the JSON body for every POST /api/leads outcome.
type leadResponse struct {
	Status          string            `json:"status,omitempty"`
	Error           string            `json:"error,omitempty"`
	Message         string            `json:"message,omitempty"`
	Fields          map[string]string `json:"fields,omitempty"`
	Values          map[string]string `json:"values,omitempty"`
	ContactID       string            `json:"contact_id,omitempty"`
	Action          string            `json:"action,omitempty"`
	SessionID       string            `json:"session_id,omitempty"`
	RedirectTo      string            `json:"redirect_to,omitempty"`
	RedirectAfterMS int64             `json:"redirect_after_ms,omitempty"`
}

// Submit handles POST /api/leads.
func (h *LeadHandler) Submit(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	r.Body = http.MaxBytesReader(w, r.Body, maxLeadBodyBytes)

	form, attrFields, err := parseLeadForm(r)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_body"})
		return
	}

	src := attribution.SourceFromRequest(r, attrFields)
	if src.VisitorID == "" {
		src.VisitorID = h.collector.NewVisitorID()
		http.SetCookie(w, &http.Cookie{
			Name:     attribution.VisitorCookieName,
			Value:    src.VisitorID,
			Path:     "/",
			MaxAge:   int(visitorCookieAge.Seconds()),
			HttpOnly: true,
			Secure:   r.TLS != nil,
			SameSite: http.SameSiteLaxMode,
		})
	}
	attr := h.collector.Collect(src)

	formID := form.FormID
	if formID == "" {
		formID = defaultFormID
	}
	tracked := h.forms.Form(src.VisitorID + "/" + formID)

	if err := tracked.Begin(form.Values()); err != nil {
		resp := leadResponse{Error: "submission_in_progress"}
		if errors.Is(err, reporter.ErrAlreadySubmitted) {
			rep := tracked.Report()
			resp = leadResponse{Error: "already_submitted", RedirectTo: rep.RedirectTo}
		}
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(resp)
		return
	}

	result, err := h.leads.Submit(r.Context(), form, attr)
	if err != nil {
		msg := service.UserMessage(err)
		rep := tracked.Fail(msg)
		resp := leadResponse{Message: msg, Values: rep.Values}

		var (
			validErr   *service.ValidationError
			consentErr *service.ConsentError
			cfgErr     *service.ConfigurationError
		)
		status := http.StatusBadGateway
		switch {
		case errors.As(err, &validErr):
			status, resp.Error, resp.Fields = http.StatusBadRequest, "invalid_input", validErr.Fields
		case errors.As(err, &consentErr):
			status, resp.Error = http.StatusUnprocessableEntity, "consent_required"
		case errors.As(err, &cfgErr):
			status, resp.Error = http.StatusServiceUnavailable, "configuration_error"
			slog.Error("lead submission rejected: crm not configured", "missing", cfgErr.Missing)
		default:
			resp.Error = "submission_failed"
		}
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
		return
	}

	rep := tracked.Succeed()
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(leadResponse{
		Status:          string(rep.State),
		ContactID:       result.ContactID,
		Action:          string(result.Action),
		SessionID:       result.SessionID,
		RedirectTo:      rep.RedirectTo,
		RedirectAfterMS: rep.RedirectAfter.Milliseconds(),
	})
}

func requireOperator(w http.ResponseWriter, r *http.Request) bool {
	if _, ok := auth.OperatorIDFromContext(r.Context()); !ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
		return false
	}
	if !auth.IsOperatorFromContext(r.Context()) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "forbidden"})
		return false
	}
	return true
}

// adminListResponse is the JSON response for GET /api/admin/submissions.
type adminListResponse struct {
	Submissions []*model.SubmissionRecord `json:"submissions"`
}

// AdminList handles GET /api/admin/submissions (operator-only).
// Supports query params: outcome, limit, offset.
func (h *LeadHandler) AdminList(w http.ResponseWriter, r *http.Request) {
	if !requireOperator(w, r) {
		return
	}

	opts := model.SubmissionListOptions{
		Outcome: r.URL.Query().Get("outcome"),
		Limit:   50,
		Offset:  0,
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 200 {
			opts.Limit = n
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if n, err := strconv.Atoi(o); err == nil && n >= 0 {
			opts.Offset = n
		}
	}

	records, err := h.leads.List(r.Context(), opts)
	if err != nil {
		slog.Error("list submissions failed", "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "list_failed"})
		return
	}

	// Return [] not null for empty lists
	if records == nil {
		records = []*model.SubmissionRecord{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(adminListResponse{Submissions: records})
}

// AdminGet handles GET /api/admin/submissions/{id} (operator-only).
func (h *LeadHandler) AdminGet(w http.ResponseWriter, r *http.Request) {
	if !requireOperator(w, r) {
		return
	}

	rec, err := h.leads.Get(r.Context(), r.PathValue("id"))
	w.Header().Set("Content-Type", "application/json")
	if errors.Is(err, repository.ErrNotFound) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "not_found"})
		return
	}
	if err != nil {
		slog.Error("get submission failed", "id", r.PathValue("id"), "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "get_failed"})
		return
	}
	_ = json.NewEncoder(w).Encode(rec)
}

// AdminStats handles GET /api/admin/submissions/stats (operator-only).
func (h *LeadHandler) AdminStats(w http.ResponseWriter, r *http.Request) {
	if !requireOperator(w, r) {
		return
	}

	stats, err := h.leads.Stats(r.Context())
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		slog.Error("submission stats failed", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "stats_failed"})
		return
	}
	_ = json.NewEncoder(w).Encode(stats)
}
