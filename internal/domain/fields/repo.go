package fields

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// List returns non-deleted fields, newest first.
	List(ctx context.Context) ([]*Field, error)
	Create(ctx context.Context, f *Field) error
	SoftDelete(ctx context.Context, id uuid.UUID) error
	// GetMany returns the fields with the given ids, deleted ones included.
	GetMany(ctx context.Context, ids []uuid.UUID) ([]*Field, error)

	PatientExists(ctx context.Context, patientID uuid.UUID) (bool, error)
	AppendResponse(ctx context.Context, r *Response) error
	// LatestValues returns every non-deleted field with the patient's most
	// recent response, or "" when there is none.
	LatestValues(ctx context.Context, patientID uuid.UUID) ([]Info, error)
}
