package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Contact is the CRM-facing representation of a lead. Email is the upsert key.
type Contact struct {
	ID           string            `json:"id,omitempty"`
	FirstName    string            `json:"first_name"`
	LastName     string            `json:"last_name"`
	Email        string            `json:"email"`
	Phone        string            `json:"phone,omitempty"`
	Company      string            `json:"company,omitempty"`
	Source       string            `json:"source"`
	Tags         []string          `json:"tags"`
	CustomFields map[string]string `json:"custom_fields,omitempty"`
}

// ConsentRecord captures the marketing opt-in given with a submission.
type ConsentRecord struct {
	Granted       bool      `json:"granted"`
	Timestamp     time.Time `json:"timestamp"`
	PolicyVersion string    `json:"policy_version"`
}

// TimestampISO8601 returns the consent time formatted as RFC 3339 in UTC.
func (c ConsentRecord) TimestampISO8601() string {
	if c.Timestamp.IsZero() {
		return ""
	}
	return c.Timestamp.UTC().Format(time.RFC3339)
}

// AttributionSnapshot describes how the visitor arrived at the form.
// It is captured once per submission attempt and never modified afterwards.
type AttributionSnapshot struct {
	SessionID     string `json:"session_id"`
	VisitorID     string `json:"visitor_id,omitempty"`
	Referrer      string `json:"referrer,omitempty"`
	UTMSource     string `json:"utm_source,omitempty"`
	UTMMedium     string `json:"utm_medium,omitempty"`
	UTMCampaign   string `json:"utm_campaign,omitempty"`
	UTMTerm       string `json:"utm_term,omitempty"`
	UTMContent    string `json:"utm_content,omitempty"`
	DeviceSummary string `json:"device_summary,omitempty"`
}

// CustomFields flattens the snapshot into CRM custom fields. Empty values are omitted.
func (a AttributionSnapshot) CustomFields() map[string]string {
	out := make(map[string]string, 9)
	set := func(k, v string) {
		if v != "" {
			out[k] = v
		}
	}
	set("session_id", a.SessionID)
	set("visitor_id", a.VisitorID)
	set("referrer", a.Referrer)
	set("utm_source", a.UTMSource)
	set("utm_medium", a.UTMMedium)
	set("utm_campaign", a.UTMCampaign)
	set("utm_term", a.UTMTerm)
	set("utm_content", a.UTMContent)
	set("device", a.DeviceSummary)
	return out
}

// MaxMessageLength is the upper bound for the free-text message field, in runes.
const MaxMessageLength = 5000

// LeadForm is the validated input schema for a marketing form submission.
type LeadForm struct {
	FormID        string            `json:"form_id" validate:"omitempty,max=128"`
	FirstName     string            `json:"first_name" validate:"required,max=100"`
	LastName      string            `json:"last_name" validate:"required,max=100"`
	Email         string            `json:"email" validate:"required,email,max=254"`
	Phone         string            `json:"phone,omitempty" validate:"omitempty,max=32"`
	Company       string            `json:"company,omitempty" validate:"omitempty,max=200"`
	Message       string            `json:"message,omitempty" validate:"omitempty,max=5000"`
	Source        string            `json:"source" validate:"omitempty,max=100"`
	Tags          []string          `json:"tags,omitempty" validate:"omitempty,max=20,dive,max=64"`
	CustomFields  map[string]string `json:"custom_fields,omitempty" validate:"omitempty,max=30"`
	Consent       bool              `json:"consent"`
	PolicyVersion string            `json:"policy_version,omitempty"`
}

// NormalizeEmail lower-cases and trims an email so that equal addresses
// map to the same upstream contact.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// HashEmail returns the hex SHA-256 of the normalized email, used wherever
// an email must be correlated without being stored or logged.
func HashEmail(email string) string {
	h := sha256.Sum256([]byte(NormalizeEmail(email)))
	return hex.EncodeToString(h[:])
}

// NormalizeTags trims tags, drops empty ones, and removes duplicates while
// keeping first-seen order.
func NormalizeTags(tags []string) []string {
	return MergeTags(nil, tags)
}

// MergeTags returns the union of existing and added tags. Order is existing
// tags first, then new tags in the order given; duplicates are dropped.
func MergeTags(existing, added []string) []string {
	out := make([]string, 0, len(existing)+len(added))
	seen := make(map[string]struct{}, len(existing)+len(added))
	for _, list := range [][]string{existing, added} {
		for _, t := range list {
			t = strings.TrimSpace(t)
			if t == "" {
				continue
			}
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}

// Values returns the user-entered form fields, used to repopulate the form after an error.
func (f *LeadForm) Values() map[string]string {
	return map[string]string{
		"first_name": f.FirstName,
		"last_name":  f.LastName,
		"email":      f.Email,
		"phone":      f.Phone,
		"company":    f.Company,
		"message":    f.Message,
		"tags":       strings.Join(f.Tags, ","),
	}
}

// reservedCustomFields are written only by the server. Visitor-supplied
// custom fields with these keys are dropped.
var reservedCustomFields = map[string]struct{}{
	"marketing_consent":      {},
	"consent_timestamp":      {},
	"consent_policy_version": {},
	"message":                {},
	"session_id":             {},
	"visitor_id":             {},
	"referrer":               {},
	"utm_source":             {},
	"utm_medium":             {},
	"utm_campaign":           {},
	"utm_term":               {},
	"utm_content":            {},
	"device":                 {},
}

// IsReservedCustomField reports whether key is set only from attribution or consent.
func IsReservedCustomField(key string) bool {
	_, ok := reservedCustomFields[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// ToContact builds the CRM contact for this form with the attribution and
// consent attached as custom fields.
func (f *LeadForm) ToContact(attr AttributionSnapshot, consent ConsentRecord) Contact {
	fields := make(map[string]string, len(f.CustomFields)+12)
	for k, v := range f.CustomFields {
		if IsReservedCustomField(k) {
			continue
		}
		fields[k] = v
	}
	for k, v := range attr.CustomFields() {
		fields[k] = v
	}
	if f.Message != "" {
		fields["message"] = f.Message
	}
	if consent.Granted {
		fields["marketing_consent"] = "true"
		fields["consent_timestamp"] = consent.TimestampISO8601()
		if consent.PolicyVersion != "" {
			fields["consent_policy_version"] = consent.PolicyVersion
		}
	}

	return Contact{
		FirstName:    strings.TrimSpace(f.FirstName),
		LastName:     strings.TrimSpace(f.LastName),
		Email:        NormalizeEmail(f.Email),
		Phone:        strings.TrimSpace(f.Phone),
		Company:      strings.TrimSpace(f.Company),
		Source:       f.Source,
		Tags:         NormalizeTags(f.Tags),
		CustomFields: fields,
	}
}
