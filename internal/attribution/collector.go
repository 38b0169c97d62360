// Package attribution captures how a visitor reached a lead form.
package attribution

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/apexdeliver/backend/internal/model"
	"github.com/segmentio/ksuid"
)

// VisitorCookieName is the first-party cookie holding a long-lived visitor id.
const VisitorCookieName = "apx_visitor"

// Source is the explicit navigation context a snapshot is built from.
// Fields set directly by the form take precedence over the page URL query,
// which takes precedence over Query.
type Source struct {
	Referrer  string
	PageURL   string
	UserAgent string
	VisitorID string
	// Form holds utm_* values posted with the form itself.
	Form  url.Values
	Query url.Values
}

// Collector builds AttributionSnapshots.
type Collector struct {
	newID func() string
}

// NewCollector returns a Collector that generates ksuid session ids.
func NewCollector() *Collector {
	return &Collector{newID: func() string { return ksuid.New().String() }}
}

// NewCollectorWithIDs returns a Collector using the given session id generator.
func NewCollectorWithIDs(newID func() string) *Collector {
	return &Collector{newID: newID}
}

// NewVisitorID mints an id for a visitor without the visitor cookie.
func (c *Collector) NewVisitorID() string {
	return c.newID()
}

// Collect never fails; anything it cannot determine is left empty.
// Every call mints a new session id.
func (c *Collector) Collect(src Source) model.AttributionSnapshot {
	var pageQuery url.Values
	if src.PageURL != "" {
		if u, err := url.Parse(src.PageURL); err == nil {
			pageQuery = u.Query()
		}
	}

	utm := func(key string) string {
		for _, vals := range []url.Values{src.Form, pageQuery, src.Query} {
			if v := strings.TrimSpace(vals.Get(key)); v != "" {
				return v
			}
		}
		return ""
	}

	return model.AttributionSnapshot{
		SessionID:     c.newID(),
		VisitorID:     strings.TrimSpace(src.VisitorID),
		Referrer:      strings.TrimSpace(src.Referrer),
		UTMSource:     utm("utm_source"),
		UTMMedium:     utm("utm_medium"),
		UTMCampaign:   utm("utm_campaign"),
		UTMTerm:       utm("utm_term"),
		UTMContent:    utm("utm_content"),
		DeviceSummary: DeviceSummary(src.UserAgent),
	}
}

// SourceFromRequest extracts a Source from an incoming form post.
// form carries fields already parsed from the body; it may be nil.
func SourceFromRequest(r *http.Request, form url.Values) Source {
	src := Source{
		Referrer:  form.Get("referrer"),
		PageURL:   form.Get("page_url"),
		UserAgent: r.UserAgent(),
		Form:      form,
		Query:     r.URL.Query(),
	}
	// The Referer header of a form post is the page hosting the form, which
	// is only a fallback for the page URL, not the visitor's referrer.
	if src.PageURL == "" {
		src.PageURL = r.Referer()
	}
	if ck, err := r.Cookie(VisitorCookieName); err == nil {
		src.VisitorID = ck.Value
	}
	return src
}
