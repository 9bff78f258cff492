package scan

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusValidated Status = "VALIDATED"
	StatusArchived  Status = "ARCHIVED"
)

// FailedDiagnosis is stored when the classification service could not
// produce a label. It ranks last in the queue.
const FailedDiagnosis = "Classification failed"

// PatientSummary is the owning patient as joined onto a scan read.
type PatientSummary struct {
	ID       uuid.UUID `json:"id"`
	FullName string    `json:"full_name"`
	Email    string    `json:"email"`
	Role     string    `json:"role"`
}

// Scan is one submitted retinal image with its AI classification and
// review state.
type Scan struct {
	ID               uuid.UUID       `json:"id"`
	PatientID        uuid.UUID       `json:"patient_id"`
	Patient          *PatientSummary `json:"patient,omitempty"`
	ReviewerID       *uuid.UUID      `json:"reviewer_id,omitempty"`
	ImageKey         string          `json:"image_key"`
	ImageContentType string          `json:"image_content_type"`
	Symptoms         *string         `json:"symptoms"`
	Anamnesis        *string         `json:"anamnesis"`
	Consent          bool            `json:"consent"`
	Diagnosis        *string         `json:"diagnosis"`
	Severity         Severity        `json:"severity"`
	Confidence       *float64        `json:"confidence"`
	AIDetails        json.RawMessage `json:"ai_details"`
	Status           Status          `json:"status"`
	DoctorNotes      *string         `json:"doctor_notes"`
	VersionID        int             `json:"version_id"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// SubmitRequest is a patient's upload.
type SubmitRequest struct {
	PatientID   uuid.UUID
	FileName    string
	ContentType string
	Image       []byte
	Symptoms    *string
	Anamnesis   *string
	Consent     bool
}

// ValidateRequest is a doctor's review. A non-blank Diagnosis replaces the
// AI label.
type ValidateRequest struct {
	Notes      string     `json:"notes"`
	Diagnosis  string     `json:"diagnosis"`
	ReviewerID *uuid.UUID `json:"-"`
}

// DiagnosisLabel returns the diagnosis or "" when absent.
func (s *Scan) DiagnosisLabel() string {
	if s.Diagnosis == nil {
		return ""
	}
	return *s.Diagnosis
}

// Grade derives the severity from the current diagnosis label.
func (s *Scan) Grade() Severity {
	return ParseSeverity(s.DiagnosisLabel())
}
