package scan

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/retinascan/retinascan/internal/domain/identity"
	"github.com/retinascan/retinascan/internal/platform/blobstore"
	"github.com/retinascan/retinascan/internal/platform/notification"
	"github.com/retinascan/retinascan/internal/platform/oracle"
)

var (
	ErrNotFound          = errors.New("scan not found")
	ErrPatientNotFound   = errors.New("patient not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrConflict          = errors.New("scan was modified concurrently")
	ErrInvalidImage      = errors.New("invalid image")
)

// Report texts returned in place of an analysis.
const (
	reportFailedPrefix = "AI report generation failed: "
	reportMissing      = "No analysis generated."
)

// AIClient is the classification service as used by Service.
type AIClient interface {
	Classify(ctx context.Context, fileName string, image []byte) oracle.Result
	AnalyzeCase(ctx context.Context, bundle oracle.CaseBundle) (string, error)
}

// PatientDirectory resolves account holders.
type PatientDirectory interface {
	GetUser(ctx context.Context, id uuid.UUID) (*identity.User, error)
}

type Service struct {
	repo      Repository
	images    blobstore.BlobStore
	patients  PatientDirectory
	ai        AIClient
	notifier  notification.Notifier
	templates *notification.TemplateEngine
	stats     *Aggregator
	logger    zerolog.Logger
}

func NewService(
	repo Repository,
	images blobstore.BlobStore,
	patients PatientDirectory,
	ai AIClient,
	notifier notification.Notifier,
	stats *Aggregator,
	logger zerolog.Logger,
) *Service {
	if stats == nil {
		stats = NewAggregator(nil, nil, nil)
	}
	return &Service{
		repo:      repo,
		images:    images,
		patients:  patients,
		ai:        ai,
		notifier:  notifier,
		templates: notification.NewTemplateEngine(),
		stats:     stats,
		logger:    logger.With().Str("component", "scan").Logger(),
	}
}

// SubmitScan stores the image, classifies it and records a PENDING scan. A
// classification failure is recorded as FailedDiagnosis with zero
// confidence rather than returned.
func (s *Service) SubmitScan(ctx context.Context, req SubmitRequest) (*Scan, error) {
	if req.PatientID == uuid.Nil {
		return nil, fmt.Errorf("%w: patient is required", ErrPatientNotFound)
	}
	if len(req.Image) == 0 {
		return nil, fmt.Errorf("%w: file is empty", ErrInvalidImage)
	}

	patient, err := s.lookupPatient(ctx, req.PatientID)
	if err != nil {
		return nil, err
	}

	meta, err := s.images.Put(ctx, blobstore.PutRequest{
		FileName:    req.FileName,
		ContentType: req.ContentType,
		PatientID:   req.PatientID.String(),
	}, bytes.NewReader(req.Image))
	if err != nil {
		if errors.Is(err, blobstore.ErrInvalidContentType) || errors.Is(err, blobstore.ErrEmptyFile) || errors.Is(err, blobstore.ErrFileTooLarge) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidImage, err)
		}
		return nil, fmt.Errorf("store image: %w", err)
	}

	res := s.ai.Classify(ctx, req.FileName, req.Image)
	diagnosis, confidence, details := res.Diagnosis, res.Confidence, res.Details
	if !res.OK {
		s.logger.Warn().Err(res.Err).
			Str("patient_id", req.PatientID.String()).
			Str("image_key", meta.Key).
			Msg("classification failed, recording scan without a grade")
		diagnosis, confidence, details = FailedDiagnosis, 0.0, nil
	}
	if len(details) == 0 || !json.Valid(details) {
		details = json.RawMessage(`{}`)
	}

	scan := &Scan{
		PatientID:        req.PatientID,
		Patient:          patient,
		ImageKey:         meta.Key,
		ImageContentType: meta.ContentType,
		Symptoms:         req.Symptoms,
		Anamnesis:        req.Anamnesis,
		Consent:          req.Consent,
		Diagnosis:        &diagnosis,
		Severity:         ParseSeverity(diagnosis),
		Confidence:       &confidence,
		AIDetails:        details,
		Status:           StatusPending,
	}
	if err := s.repo.Create(ctx, scan); err != nil {
		if delErr := s.images.Delete(ctx, meta.Key); delErr != nil {
			s.logger.Error().Err(delErr).Str("image_key", meta.Key).Msg("failed to remove orphaned image")
		}
		return nil, fmt.Errorf("create scan: %w", err)
	}

	s.logger.Info().
		Str("scan_id", scan.ID.String()).
		Str("patient_id", scan.PatientID.String()).
		Str("severity", string(scan.Severity)).
		Bool("classified", res.OK).
		Msg("scan submitted")
	return scan, nil
}

// ValidateScan records a doctor's review. The AI confidence is kept even
// when the diagnosis is corrected.
func (s *Service) ValidateScan(ctx context.Context, id uuid.UUID, req ValidateRequest) (*Scan, error) {
	scan, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if scan.Status == StatusArchived {
		return nil, fmt.Errorf("%w: scan is archived", ErrInvalidTransition)
	}

	scan.Status = StatusValidated
	if notes := strings.TrimSpace(req.Notes); notes != "" {
		scan.DoctorNotes = &notes
	} else {
		scan.DoctorNotes = nil
	}
	if corrected := strings.TrimSpace(req.Diagnosis); corrected != "" {
		scan.Diagnosis = &corrected
	}
	scan.Severity = scan.Grade()
	if req.ReviewerID != nil {
		scan.ReviewerID = req.ReviewerID
	}

	if err := s.repo.Update(ctx, scan); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("scan_id", scan.ID.String()).
		Str("severity", string(scan.Severity)).
		Msg("scan validated")
	s.notify(ctx, notification.EventScanValidated, scan)
	return scan, nil
}

// ArchiveScan closes a scan. Archived scans accept no further review.
func (s *Service) ArchiveScan(ctx context.Context, id uuid.UUID) (*Scan, error) {
	scan, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if scan.Status == StatusArchived {
		return nil, fmt.Errorf("%w: scan is already archived", ErrInvalidTransition)
	}
	scan.Status = StatusArchived
	if err := s.repo.Update(ctx, scan); err != nil {
		return nil, err
	}
	s.notify(ctx, notification.EventScanArchived, scan)
	return scan, nil
}

// PatientHistory returns the patient's scans, newest first.
func (s *Service) PatientHistory(ctx context.Context, patientID uuid.UUID) ([]*Scan, error) {
	if _, err := s.lookupPatient(ctx, patientID); err != nil {
		return nil, err
	}
	return s.repo.ListByPatient(ctx, patientID)
}

// DoctorQueue returns the PENDING scans in triage order.
func (s *Service) DoctorQueue(ctx context.Context) ([]*Scan, error) {
	scans, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	return BuildQueue(scans), nil
}

func (s *Service) GlobalStats(ctx context.Context) (*Snapshot, error) {
	scans, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	return s.stats.Aggregate(scans), nil
}

func (s *Service) GetScan(ctx context.Context, id uuid.UUID) (*Scan, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListScans(ctx context.Context, limit, offset int) ([]*Scan, int, error) {
	return s.repo.List(ctx, limit, offset)
}

// OpenImage streams the stored image of scan.
func (s *Service) OpenImage(ctx context.Context, scan *Scan) (io.ReadCloser, *blobstore.BlobMetadata, error) {
	return s.images.Get(ctx, scan.ImageKey)
}

// GenerateReport asks the case-analysis service for a narrative over the
// patient's scan history. Service failures are reported in the returned
// text, not as an error.
func (s *Service) GenerateReport(ctx context.Context, id uuid.UUID) (string, error) {
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	history, err := s.repo.ListByPatient(ctx, current.PatientID)
	if err != nil {
		return "", err
	}

	bundle := oracle.CaseBundle{
		Current: oracle.ScanInfo{
			SeverityLevel: ReportLevel(current.Diagnosis),
			Prediction:    current.Diagnosis,
			Confidence:    current.Confidence,
			Symptoms:      current.Symptoms,
		},
		History: make([]oracle.ScanInfo, 0, len(history)),
	}
	if current.Patient != nil {
		bundle.PatientName = current.Patient.FullName
	}
	for _, h := range history {
		conf := 0.0
		if h.Confidence != nil {
			conf = *h.Confidence
		}
		bundle.History = append(bundle.History, oracle.ScanInfo{
			Date:          h.CreatedAt.Format(time.RFC3339),
			SeverityLevel: ReportLevel(h.Diagnosis),
			Prediction:    h.Diagnosis,
			Confidence:    &conf,
		})
	}

	report, err := s.ai.AnalyzeCase(ctx, bundle)
	switch {
	case errors.Is(err, oracle.ErrNoReport):
		return reportMissing, nil
	case err != nil:
		s.logger.Warn().Err(err).Str("scan_id", id.String()).Msg("case analysis failed")
		return reportFailedPrefix + err.Error(), nil
	}
	return report, nil
}

func (s *Service) lookupPatient(ctx context.Context, id uuid.UUID) (*PatientSummary, error) {
	if s.patients == nil {
		return nil, nil
	}
	u, err := s.patients.GetUser(ctx, id)
	if errors.Is(err, identity.ErrNotFound) {
		return nil, ErrPatientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("look up patient: %w", err)
	}
	return &PatientSummary{ID: u.ID, FullName: u.FullName, Email: u.Email, Role: u.Role}, nil
}

// notify is fire-and-forget: failures are logged only.
func (s *Service) notify(ctx context.Context, typ notification.EventType, scan *Scan) {
	if s.notifier == nil {
		return
	}
	evt := notification.Event{
		Type:       typ,
		ScanID:     scan.ID.String(),
		PatientID:  scan.PatientID.String(),
		Diagnosis:  scan.DiagnosisLabel(),
		Severity:   string(scan.Severity),
		OccurredAt: time.Now().UTC(),
	}
	if scan.ReviewerID != nil {
		evt.ReviewerID = scan.ReviewerID.String()
	}
	if scan.Patient != nil {
		evt.PatientName = scan.Patient.FullName
		evt.Recipient = scan.Patient.Email
	}

	rendered, err := s.templates.Render(evt)
	if err != nil {
		s.logger.Warn().Err(err).Str("scan_id", evt.ScanID).Msg("render notification")
	} else {
		evt = rendered
	}

	if err := s.notifier.Notify(ctx, evt); err != nil {
		s.logger.Warn().Err(err).
			Str("scan_id", evt.ScanID).
			Str("event", string(typ)).
			Msg("patient notification failed")
	}
}
