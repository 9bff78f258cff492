package scan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/retinascan/retinascan/internal/platform/db"
)

type scanRepoPG struct{ pool *pgxpool.Pool }

func NewScanRepoPG(pool *pgxpool.Pool) Repository {
	return &scanRepoPG{pool: pool}
}

const scanCols = `s.id, s.patient_id, s.reviewer_id, s.image_key, s.image_content_type,
	s.symptoms, s.anamnesis, s.consent, s.diagnosis, s.severity, s.confidence,
	s.ai_details, s.status, s.doctor_notes, s.version_id, s.created_at, s.updated_at,
	u.id, u.full_name, u.email, u.role`

const scanFrom = ` FROM scans s LEFT JOIN users u ON u.id = s.patient_id`

func (r *scanRepoPG) scanRow(row pgx.Row) (*Scan, error) {
	var (
		s                    Scan
		details              []byte
		severity, status     string
		uid                  *uuid.UUID
		uName, uEmail, uRole *string
	)
	err := row.Scan(&s.ID, &s.PatientID, &s.ReviewerID, &s.ImageKey, &s.ImageContentType,
		&s.Symptoms, &s.Anamnesis, &s.Consent, &s.Diagnosis, &severity, &s.Confidence,
		&details, &status, &s.DoctorNotes, &s.VersionID, &s.CreatedAt, &s.UpdatedAt,
		&uid, &uName, &uEmail, &uRole)
	if err != nil {
		return nil, err
	}
	s.Severity = Severity(severity)
	s.Status = Status(status)
	s.AIDetails = json.RawMessage(details)
	if uid != nil {
		s.Patient = &PatientSummary{ID: *uid, FullName: deref(uName), Email: deref(uEmail), Role: deref(uRole)}
	}
	return &s, nil
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func (r *scanRepoPG) list(ctx context.Context, query string, args ...interface{}) ([]*Scan, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []*Scan{}
	for rows.Next() {
		s, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

func (r *scanRepoPG) Create(ctx context.Context, s *Scan) error {
	s.ID = uuid.New()
	if len(s.AIDetails) == 0 {
		s.AIDetails = json.RawMessage(`{}`)
	}
	s.VersionID = 1
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO scans (id, patient_id, image_key, image_content_type, symptoms, anamnesis,
			consent, diagnosis, severity, confidence, ai_details, status, version_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at`,
		s.ID, s.PatientID, s.ImageKey, s.ImageContentType, s.Symptoms, s.Anamnesis,
		s.Consent, s.Diagnosis, string(s.Severity), s.Confidence, []byte(s.AIDetails), string(s.Status), s.VersionID,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
}

func (r *scanRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Scan, error) {
	s, err := r.scanRow(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+scanCols+scanFrom+` WHERE s.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

func (r *scanRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Scan, error) {
	return r.list(ctx, `SELECT `+scanCols+scanFrom+` WHERE s.patient_id = $1 ORDER BY s.created_at DESC, s.id DESC`, patientID)
}

func (r *scanRepoPG) ListAll(ctx context.Context) ([]*Scan, error) {
	return r.list(ctx, `SELECT `+scanCols+scanFrom+` ORDER BY s.created_at ASC, s.id ASC`)
}

func (r *scanRepoPG) List(ctx context.Context, limit, offset int) ([]*Scan, int, error) {
	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM scans`).Scan(&total); err != nil {
		return nil, 0, err
	}
	items, err := r.list(ctx, `SELECT `+scanCols+scanFrom+` ORDER BY s.created_at DESC, s.id DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *scanRepoPG) Update(ctx context.Context, s *Scan) error {
	conn := db.Conn(ctx, r.pool)
	err := conn.QueryRow(ctx, `
		UPDATE scans SET reviewer_id = $2, diagnosis = $3, severity = $4, status = $5,
			doctor_notes = $6, version_id = version_id + 1, updated_at = NOW()
		WHERE id = $1 AND version_id = $7
		RETURNING version_id, updated_at`,
		s.ID, s.ReviewerID, s.Diagnosis, string(s.Severity), string(s.Status), s.DoctorNotes, s.VersionID,
	).Scan(&s.VersionID, &s.UpdatedAt)
	if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	var exists bool
	if err := conn.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM scans WHERE id = $1)`, s.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check scan existence: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConflict
}
