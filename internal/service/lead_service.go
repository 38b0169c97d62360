package service

import (
	"context"

	"github.com/apexdeliver/backend/internal/model"
)

// LeadService defines the business logic for marketing form submissions.
type LeadService interface {
	// Submit validates the form, enforces consent, and upserts the contact in
	// the CRM keyed by normalized email. Exactly one create-or-update round
	// trip is attempted; there is no automatic retry.
	Submit(ctx context.Context, form *model.LeadForm, attr model.AttributionSnapshot) (*model.SubmissionResult, error)

	// List returns audit log rows according to the given options.
	List(ctx context.Context, opts model.SubmissionListOptions) ([]*model.SubmissionRecord, error)

	// Get returns one audit log row. repository.ErrNotFound if absent.
	Get(ctx context.Context, id string) (*model.SubmissionRecord, error)

	// Stats aggregates the audit log.
	Stats(ctx context.Context) (*model.SubmissionStats, error)
}
