package model

import "time"

// SubmissionAction is what happened upstream for a submission.
type SubmissionAction string

const (
	ActionNone    SubmissionAction = "none"
	ActionCreated SubmissionAction = "created"
	ActionUpdated SubmissionAction = "updated"
)

// SubmissionOutcome classifies how a submission attempt ended.
type SubmissionOutcome string

const (
	OutcomeSuccess            SubmissionOutcome = "success"
	OutcomeConsentDenied      SubmissionOutcome = "consent_denied"
	OutcomeInvalid            SubmissionOutcome = "invalid"
	OutcomeConfigurationError SubmissionOutcome = "configuration_error"
	OutcomeFailed             SubmissionOutcome = "failed"
)

// SubmissionResult is returned to the caller after a successful upsert.
type SubmissionResult struct {
	ContactID string           `json:"contact_id"`
	Action    SubmissionAction `json:"action"`
	SessionID string           `json:"session_id"`
	Tags      []string         `json:"tags"`
}

// SubmissionRecord is one row of the submission audit log.
// The email is stored only as a hash.
type SubmissionRecord struct {
	ID                   string            `json:"id"`
	SessionID            string            `json:"session_id"`
	FormID               string            `json:"form_id,omitempty"`
	Source               string            `json:"source,omitempty"`
	EmailHash            string            `json:"email_hash"`
	Action               SubmissionAction  `json:"action"`
	Outcome              SubmissionOutcome `json:"outcome"`
	ErrorKind            string            `json:"error_kind,omitempty"`
	ContactID            string            `json:"contact_id,omitempty"`
	Tags                 []string          `json:"tags"`
	Referrer             string            `json:"referrer,omitempty"`
	UTMSource            string            `json:"utm_source,omitempty"`
	UTMMedium            string            `json:"utm_medium,omitempty"`
	UTMCampaign          string            `json:"utm_campaign,omitempty"`
	DeviceSummary        string            `json:"device_summary,omitempty"`
	ConsentPolicyVersion string            `json:"consent_policy_version,omitempty"`
	CreatedAt            time.Time         `json:"created_at"`
}

// SubmissionListOptions carries filter and pagination parameters for listing submissions.
type SubmissionListOptions struct {
	// Outcome filters by outcome; "" and "all" return every row.
	Outcome string
	Limit   int
	Offset  int
}

// SubmissionStats aggregates the audit log for the admin dashboard.
type SubmissionStats struct {
	Total     int                       `json:"total"`
	ByOutcome map[SubmissionOutcome]int `json:"by_outcome"`
	Created   int                       `json:"created"`
	Updated   int                       `json:"updated"`
}
