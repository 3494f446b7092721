package patient

import (
	"context"

	"github.com/google/uuid"
)

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	List(ctx context.Context, q ListQuery) ([]*SummaryRow, error)

	// LockForUpdate reads the patient and holds its row lock until the
	// surrounding transaction ends.
	LockForUpdate(ctx context.Context, id uuid.UUID) (*Patient, error)
	SetPrimaryAddress(ctx context.Context, patientID uuid.UUID, addressID *uuid.UUID) error
}

type AddressRepository interface {
	Create(ctx context.Context, a *Address) error
	GetByID(ctx context.Context, id uuid.UUID) (*Address, error)
	Update(ctx context.Context, a *Address) error
	Delete(ctx context.Context, id uuid.UUID) error
	// ListByPatient returns the patient's addresses oldest first.
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Address, error)
}

// InfoSource supplies the additional-field values shown on the profile.
type InfoSource interface {
	AdditionalInfo(ctx context.Context, patientID uuid.UUID) ([]AdditionalInfo, error)
}
