// Package reporter tracks the user-visible state of each form submission:
// idle, submitting, success or error, the inputs to restore after an
// error, and the delayed redirect after a success.
package reporter

import (
	"errors"
	"maps"
	"sync"
	"time"
)

// State is the lifecycle state of a form.
type State string

const (
	StateIdle       State = "idle"
	StateSubmitting State = "submitting"
	StateSuccess    State = "success"
	StateError      State = "error"
)

// Default redirect settings.
const (
	DefaultRedirectPath  = "/thank-you"
	DefaultRedirectDelay = 2 * time.Second
)

var (
	// ErrSubmitInFlight is returned by Begin while a submission is running.
	ErrSubmitInFlight = errors.New("reporter: submission in progress")
	// ErrAlreadySubmitted is returned by Begin once the form has succeeded.
	ErrAlreadySubmitted = errors.New("reporter: form already submitted")
)

// Config holds the redirect destination and delay shared by all forms.
type Config struct {
	RedirectPath  string
	RedirectDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.RedirectPath == "" {
		c.RedirectPath = DefaultRedirectPath
	}
	if c.RedirectDelay <= 0 {
		c.RedirectDelay = DefaultRedirectDelay
	}
	return c
}

// Report is a snapshot of a form for display.
type Report struct {
	FormID  string            `json:"form_id"`
	State   State             `json:"state"`
	Message string            `json:"message,omitempty"`
	Values  map[string]string `json:"values,omitempty"`
	// RedirectTo and RedirectAfter are set on success.
	RedirectTo    string        `json:"redirect_to,omitempty"`
	RedirectAfter time.Duration `json:"-"`
	Redirected    bool          `json:"redirected,omitempty"`
}

// Form is the state machine for one form instance.
//
//	idle --Begin--> submitting --Succeed--> success
//	                submitting --Fail-----> error --Begin--> submitting
type Form struct {
	id    string
	cfg   Config
	sched Scheduler
	// onRedirect runs after the redirect fires, outside the lock.
	onRedirect func(f *Form)

	mu         sync.Mutex
	state      State
	message    string
	values     map[string]string
	redirect   Handle
	redirected bool
	touched    time.Time
}

// NewForm returns an idle form. onRedirect may be nil.
func NewForm(id string, cfg Config, sched Scheduler, onRedirect func(f *Form)) *Form {
	if sched == nil {
		sched = TimerScheduler{}
	}
	return &Form{
		id:         id,
		cfg:        cfg.withDefaults(),
		sched:      sched,
		onRedirect: onRedirect,
		state:      StateIdle,
		touched:    time.Now(),
	}
}

// ID returns the form id.
func (f *Form) ID() string { return f.id }

// State returns the current state.
func (f *Form) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Begin moves the form to submitting and stores the submitted values.
func (f *Form) Begin(values map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch f.state {
	case StateSubmitting:
		return ErrSubmitInFlight
	case StateSuccess:
		return ErrAlreadySubmitted
	}
	f.state = StateSubmitting
	f.message = ""
	f.values = maps.Clone(values)
	f.touched = time.Now()
	return nil
}

// Succeed moves a submitting form to success and schedules the redirect.
func (f *Form) Succeed() Report {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != StateSubmitting {
		return f.reportLocked()
	}
	f.state = StateSuccess
	f.message = ""
	f.touched = time.Now()
	f.redirect = f.sched.AfterFunc(f.cfg.RedirectDelay, f.fireRedirect)
	return f.reportLocked()
}

// Fail moves a submitting form to error. The stored values are kept so the
// visitor can resubmit without retyping.
func (f *Form) Fail(message string) Report {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != StateSubmitting {
		return f.reportLocked()
	}
	f.state = StateError
	f.message = message
	f.touched = time.Now()
	return f.reportLocked()
}

// CancelRedirect stops a pending redirect. It reports whether one was stopped.
func (f *Form) CancelRedirect() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.redirect == nil {
		return false
	}
	stopped := f.redirect.Stop()
	f.redirect = nil
	return stopped
}

// Report returns the current snapshot.
func (f *Form) Report() Report {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reportLocked()
}

func (f *Form) reportLocked() Report {
	r := Report{
		FormID:     f.id,
		State:      f.state,
		Message:    f.message,
		Values:     maps.Clone(f.values),
		Redirected: f.redirected,
	}
	if f.state == StateSuccess {
		r.RedirectTo = f.cfg.RedirectPath
		r.RedirectAfter = f.cfg.RedirectDelay
	}
	return r
}

func (f *Form) fireRedirect() {
	f.mu.Lock()
	if f.redirect == nil {
		f.mu.Unlock()
		return
	}
	f.redirect = nil
	f.redirected = true
	f.mu.Unlock()

	if f.onRedirect != nil {
		f.onRedirect(f)
	}
}

// idleSince reports whether the form can be dropped: not submitting and
// untouched since cutoff.
func (f *Form) idleSince(cutoff time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state != StateSubmitting && f.touched.Before(cutoff)
}
