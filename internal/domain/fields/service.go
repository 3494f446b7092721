package fields

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/ehr/records/internal/platform/apperr"
	"github.com/ehr/records/internal/platform/db"
)

type Service struct {
	repo Repository
	tx   db.Transactor
}

func NewService(repo Repository, tx db.Transactor) *Service {
	return &Service{repo: repo, tx: tx}
}

func (s *Service) ListFields(ctx context.Context) ([]*Field, error) {
	return s.repo.List(ctx)
}

func (s *Service) CreateField(ctx context.Context, in FieldInput) (*Field, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperr.Validation("name", "is required")
	}
	typ := FieldType(in.Type)
	if !typ.Valid() {
		return nil, apperr.Validation("type", "must be text or number")
	}
	f := &Field{Name: name, Type: typ}
	if err := s.repo.Create(ctx, f); err != nil {
		return nil, err
	}
	return f, nil
}

// DeleteField hides the field from every listing. Existing responses stay.
func (s *Service) DeleteField(ctx context.Context, id uuid.UUID) error {
	return s.repo.SoftDelete(ctx, id)
}

// AdditionalInfo returns the patient's current value for every live field.
func (s *Service) AdditionalInfo(ctx context.Context, patientID uuid.UUID) ([]Info, error) {
	return s.repo.LatestValues(ctx, patientID)
}

// UpdateAdditionalInfo appends one response per entry of values, keyed by
// field id, as a single unit. An empty value records a cleared field.
func (s *Service) UpdateAdditionalInfo(ctx context.Context, patientID uuid.UUID, values map[uuid.UUID]string) error {
	ids := make([]uuid.UUID, 0, len(values))
	for id := range values {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		ok, err := s.repo.PatientExists(ctx, patientID)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.NotFound("patient", patientID.String())
		}
		if len(ids) == 0 {
			return nil
		}

		found, err := s.repo.GetMany(ctx, ids)
		if err != nil {
			return err
		}
		byID := make(map[uuid.UUID]*Field, len(found))
		for _, f := range found {
			byID[f.ID] = f
		}

		for _, id := range ids {
			f, ok := byID[id]
			if !ok || f.Deleted {
				return apperr.Validation("field_id", "unknown field %s", id)
			}
			value := strings.TrimSpace(values[id])
			if f.Type == TypeNumber && value != "" {
				if _, err := strconv.ParseFloat(value, 64); err != nil {
					return apperr.Validation(f.Name, "must be a number")
				}
			}
			if err := s.repo.AppendResponse(ctx, &Response{FieldID: id, PatientID: patientID, Value: value}); err != nil {
				return err
			}
		}
		return nil
	})
}
