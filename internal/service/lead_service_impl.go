package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/apexdeliver/backend/internal/metrics"
	"github.com/apexdeliver/backend/internal/model"
	"github.com/apexdeliver/backend/internal/repository"
	"github.com/apexdeliver/backend/pkg/crm"
	"github.com/go-playground/validator/v10"
)

// LeadServiceConfig carries the pipeline settings that are not collaborators.
type LeadServiceConfig struct {
	// PolicyVersion is recorded with consent when the form does not send one.
	PolicyVersion  string
	UngatedSources []string
	Metrics        *metrics.Metrics
}

// leadServiceImpl is the production implementation of LeadService.
type leadServiceImpl struct {
	crm           crm.Client
	repo          repository.SubmissionRepository
	gate          *ConsentGate
	validate      *validator.Validate
	metrics       *metrics.Metrics
	policyVersion string
	now           func() time.Time
}

// NewLeadService creates a LeadService. repo may be nil, in which case no
// audit log is written and List/Stats return empty results.
func NewLeadService(client crm.Client, repo repository.SubmissionRepository, cfg LeadServiceConfig) LeadService {
	return &leadServiceImpl{
		crm:           client,
		repo:          repo,
		gate:          NewConsentGate(cfg.UngatedSources),
		validate:      newValidator(),
		metrics:       cfg.Metrics,
		policyVersion: cfg.PolicyVersion,
		now:           time.Now,
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Submit runs the pipeline and records the attempt in the audit log whatever the outcome.
func (s *leadServiceImpl) Submit(ctx context.Context, form *model.LeadForm, attr model.AttributionSnapshot) (*model.SubmissionResult, error) {
	rec := &model.SubmissionRecord{
		SessionID:     attr.SessionID,
		FormID:        form.FormID,
		Source:        form.Source,
		EmailHash:     model.HashEmail(form.Email),
		Action:        model.ActionNone,
		Tags:          model.NormalizeTags(form.Tags),
		Referrer:      attr.Referrer,
		UTMSource:     attr.UTMSource,
		UTMMedium:     attr.UTMMedium,
		UTMCampaign:   attr.UTMCampaign,
		DeviceSummary: attr.DeviceSummary,
	}

	result, err := s.submit(ctx, form, attr, rec)
	s.record(ctx, rec, err)
	return result, err
}

func (s *leadServiceImpl) submit(ctx context.Context, form *model.LeadForm, attr model.AttributionSnapshot, rec *model.SubmissionRecord) (*model.SubmissionResult, error) {
	if err := s.validateForm(form); err != nil {
		rec.Outcome = model.OutcomeInvalid
		return nil, err
	}

	if s.gate.Gated(form.Source) {
		if d := s.gate.Check(form.Consent, form.Email); !d.Allow {
			rec.Outcome = model.OutcomeConsentDenied
			return nil, &ConsentError{}
		}
	}

	if err := s.crm.CheckConfig(); err != nil {
		rec.Outcome = model.OutcomeConfigurationError
		cfgErr := &ConfigurationError{err: err}
		var missing *crm.ConfigError
		if errors.As(err, &missing) {
			cfgErr.Missing = missing.Missing
		}
		return nil, cfgErr
	}

	consent := model.ConsentRecord{
		Granted:       form.Consent,
		Timestamp:     s.now().UTC(),
		PolicyVersion: form.PolicyVersion,
	}
	if consent.PolicyVersion == "" {
		consent.PolicyVersion = s.policyVersion
	}
	if consent.Granted {
		rec.ConsentPolicyVersion = consent.PolicyVersion
	}

	contact := form.ToContact(attr, consent)
	upserted, action, err := s.upsert(ctx, contact, rec.EmailHash)
	if err != nil {
		rec.Outcome = model.OutcomeFailed
		return nil, err
	}

	rec.Outcome = model.OutcomeSuccess
	rec.Action = action
	rec.ContactID = upserted.ID
	rec.Tags = upserted.Tags
	return &model.SubmissionResult{
		ContactID: upserted.ID,
		Action:    action,
		SessionID: attr.SessionID,
		Tags:      upserted.Tags,
	}, nil
}

// upsert creates the contact, falling back to search + update when the CRM
// reports the email as a duplicate. Calls are strictly sequential.
func (s *leadServiceImpl) upsert(ctx context.Context, contact model.Contact, emailHash string) (model.Contact, model.SubmissionAction, error) {
	created, err := s.crm.CreateContact(ctx, toCRMContact(contact))
	if err == nil {
		out := fromCRMContact(created, contact)
		slog.Info("lead contact created", "email_hash", emailHash, "contact_id", out.ID)
		return out, model.ActionCreated, nil
	}
	if !errors.Is(err, crm.ErrDuplicateContact) {
		slog.Error("crm create contact failed", "email_hash", emailHash, "error", err)
		return model.Contact{}, model.ActionNone, NewSubmissionError("create", err)
	}

	slog.Info("crm reported duplicate contact, updating", "email_hash", emailHash)

	existing, err := s.crm.SearchByEmail(ctx, contact.Email)
	if errors.Is(err, crm.ErrContactNotFound) {
		slog.Error("duplicate contact not found by search", "email_hash", emailHash)
		return model.Contact{}, model.ActionNone, NewSubmissionError("conflict_unresolved", err)
	}
	if err != nil {
		slog.Error("crm search contact failed", "email_hash", emailHash, "error", err)
		return model.Contact{}, model.ActionNone, NewSubmissionError("search", err)
	}

	merged := contact
	merged.Tags = model.MergeTags(existing.Tags, contact.Tags)
	updated, err := s.crm.UpdateContact(ctx, existing.ID, toCRMContact(merged))
	if err != nil {
		slog.Error("crm update contact failed", "email_hash", emailHash, "contact_id", existing.ID, "error", err)
		return model.Contact{}, model.ActionNone, NewSubmissionError("update", err)
	}

	out := fromCRMContact(updated, merged)
	if out.ID == "" {
		out.ID = existing.ID
	}
	slog.Info("lead contact updated", "email_hash", emailHash, "contact_id", out.ID, "tags", len(out.Tags))
	return out, model.ActionUpdated, nil
}

func (s *leadServiceImpl) validateForm(form *model.LeadForm) error {
	trimmed := *form
	trimmed.FirstName = strings.TrimSpace(form.FirstName)
	trimmed.LastName = strings.TrimSpace(form.LastName)
	trimmed.Email = strings.TrimSpace(form.Email)

	err := s.validate.Struct(&trimmed)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate lead form: %w", err)
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		name := fe.Field()
		if i := strings.IndexByte(name, '['); i >= 0 {
			name = name[:i]
		}
		if _, ok := fields[name]; !ok {
			fields[name] = fe.Tag()
		}
	}
	return &ValidationError{Fields: fields}
}

// record writes the audit row and metrics. Failures here never fail the submission.
func (s *leadServiceImpl) record(ctx context.Context, rec *model.SubmissionRecord, err error) {
	if err != nil {
		rec.ErrorKind = ErrorKind(err)
	}
	s.metrics.ObserveSubmission(string(rec.Outcome), string(rec.Action))

	if s.repo == nil {
		return
	}
	// The audit row is written even if the caller's request was cancelled.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if serr := s.repo.Save(saveCtx, rec); serr != nil {
		slog.Error("save submission record failed", "session_id", rec.SessionID, "error", serr)
	}
}

// List returns audit rows according to the given filter/pagination options.
func (s *leadServiceImpl) List(ctx context.Context, opts model.SubmissionListOptions) ([]*model.SubmissionRecord, error) {
	if s.repo == nil {
		return nil, nil
	}
	return s.repo.List(ctx, opts)
}

// Get returns a single audit row by id.
func (s *leadServiceImpl) Get(ctx context.Context, id string) (*model.SubmissionRecord, error) {
	if s.repo == nil {
		return nil, repository.ErrNotFound
	}
	return s.repo.FindByID(ctx, id)
}

// Stats returns per-outcome counts.
func (s *leadServiceImpl) Stats(ctx context.Context) (*model.SubmissionStats, error) {
	if s.repo == nil {
		return &model.SubmissionStats{ByOutcome: map[model.SubmissionOutcome]int{}}, nil
	}
	return s.repo.Stats(ctx)
}

func toCRMContact(c model.Contact) crm.Contact {
	return crm.Contact{
		FirstName:   c.FirstName,
		LastName:    c.LastName,
		Email:       c.Email,
		Phone:       c.Phone,
		CompanyName: c.Company,
		Source:      c.Source,
		Tags:        c.Tags,
		CustomField: c.CustomFields,
	}
}

// fromCRMContact maps the CRM response back, falling back to what was sent
// for fields the CRM left empty.
func fromCRMContact(c *crm.Contact, sent model.Contact) model.Contact {
	out := sent
	if c == nil {
		return out
	}
	out.ID = c.ID
	if len(c.Tags) > 0 {
		out.Tags = model.NormalizeTags(c.Tags)
	}
	return out
}
