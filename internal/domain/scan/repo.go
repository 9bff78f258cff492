package scan

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists scans. Reads join the owning patient's summary.
type Repository interface {
	Create(ctx context.Context, s *Scan) error
	GetByID(ctx context.Context, id uuid.UUID) (*Scan, error)
	// ListByPatient returns newest first.
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Scan, error)
	// ListAll returns oldest first, ties broken by id.
	ListAll(ctx context.Context) ([]*Scan, error)
	List(ctx context.Context, limit, offset int) ([]*Scan, int, error)
	// Update writes review fields when s.VersionID matches the stored
	// version, then bumps it. A stale version yields ErrConflict.
	Update(ctx context.Context, s *Scan) error
}
