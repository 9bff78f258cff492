// Package notification tells patients that a doctor has reviewed their scan.
// Messages are rendered from templates and handed to a Notifier: a zerolog
// notifier for development and a Redis Streams publisher for delivery
// workers.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// EventType names the kind of patient-facing event.
type EventType string

const (
	EventScanValidated EventType = "scan.validated"
	EventScanArchived  EventType = "scan.archived"
)

// Event is one patient-facing notification.
type Event struct {
	Type        EventType `json:"type"`
	ScanID      string    `json:"scan_id"`
	PatientID   string    `json:"patient_id"`
	PatientName string    `json:"patient_name,omitempty"`
	Recipient   string    `json:"recipient,omitempty"`
	Diagnosis   string    `json:"diagnosis"`
	Severity    string    `json:"severity"`
	ReviewerID  string    `json:"reviewer_id,omitempty"`
	Subject     string    `json:"subject"`
	Body        string    `json:"body"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Notifier delivers events. Callers treat a returned error as non-fatal.
type Notifier interface {
	Notify(ctx context.Context, evt Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, evt Event) error

func (f NotifierFunc) Notify(ctx context.Context, evt Event) error {
	return f(ctx, evt)
}

// Template is a subject/body pair with {{key}} placeholders.
type Template struct {
	Subject string
	Body    string
}

// TemplateEngine renders events into human-readable messages.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[EventType]Template
}

// NewTemplateEngine returns an engine with the built-in templates.
func NewTemplateEngine() *TemplateEngine {
	return &TemplateEngine{templates: map[EventType]Template{
		EventScanValidated: {
			Subject: "Your retinal scan has been reviewed",
			Body:    "Dear {{patient_name}}, a doctor has reviewed your retinal scan. Diagnosis: {{diagnosis}}.",
		},
		EventScanArchived: {
			Subject: "Your retinal scan has been archived",
			Body:    "Dear {{patient_name}}, your retinal scan has been archived.",
		},
	}}
}

// Register adds or replaces the template for t.
func (e *TemplateEngine) Register(t EventType, tpl Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t] = tpl
}

// Render fills evt.Subject and evt.Body from the template for evt.Type.
// Placeholders without data are left as-is.
func (e *TemplateEngine) Render(evt Event) (Event, error) {
	e.mu.RLock()
	tpl, ok := e.templates[evt.Type]
	e.mu.RUnlock()
	if !ok {
		return evt, fmt.Errorf("no template for event %q", evt.Type)
	}

	name := evt.PatientName
	if name == "" {
		name = "patient"
	}
	r := strings.NewReplacer(
		"{{patient_name}}", name,
		"{{diagnosis}}", evt.Diagnosis,
		"{{severity}}", evt.Severity,
		"{{scan_id}}", evt.ScanID,
	)
	evt.Subject = r.Replace(tpl.Subject)
	evt.Body = r.Replace(tpl.Body)
	return evt, nil
}

// Multi fans an event out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, evt Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps every event it receives. Used in tests and the in-memory
// development setup.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	Err    error
}

func (r *Recorder) Notify(_ context.Context, evt Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return r.Err
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}
