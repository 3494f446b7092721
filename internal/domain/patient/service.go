package patient

import (
	"context"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/ehr/records/internal/platform/apperr"
)

type Service struct {
	patients  PatientRepository
	addresses AddressRepository
	info      InfoSource
	now       func() time.Time
}

func NewService(patients PatientRepository, addresses AddressRepository, info InfoSource) *Service {
	return &Service{patients: patients, addresses: addresses, info: info, now: time.Now}
}

// -- Listing --

// List returns the patient summaries for req. Age is computed against the
// clock on every call.
func (s *Service) List(ctx context.Context, req ListRequest) ([]Summary, error) {
	q, err := req.Normalize()
	if err != nil {
		return nil, err
	}
	rows, err := s.patients.List(ctx, q)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]Summary, 0, len(rows))
	for _, r := range rows {
		out = append(out, summarize(r, now))
	}
	return out, nil
}

// -- Patient --

func (s *Service) Create(ctx context.Context, in PatientInput) (*Patient, error) {
	p := &Patient{}
	if err := applyInput(p, in, s.now()); err != nil {
		return nil, err
	}
	if err := s.patients.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, in PatientInput) (*Patient, error) {
	p, err := s.patients.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := applyInput(p, in, s.now()); err != nil {
		return nil, err
	}
	if err := s.patients.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// GetByID returns the profile view, or nil when no such patient exists.
func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*Detail, error) {
	p, err := s.patients.GetByID(ctx, id)
	if apperr.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	addrs, err := s.addresses.ListByPatient(ctx, id)
	if err != nil {
		return nil, err
	}
	markPrimary(addrs, p.PrimaryAddressID)

	d := &Detail{
		ID:               p.ID,
		FirstName:        p.FirstName,
		MiddleName:       p.MiddleName,
		LastName:         p.LastName,
		DOB:              p.DOB.Format(displayDateLayout),
		Age:              AgeAt(p.DOB, s.now()),
		Status:           p.Status,
		PrimaryAddressID: p.PrimaryAddressID,
		Addresses:        addrs,
		AdditionalInfo:   []AdditionalInfo{},
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
	if d.Addresses == nil {
		d.Addresses = []*Address{}
	}
	if s.info != nil {
		info, err := s.info.AdditionalInfo(ctx, id)
		if err != nil {
			return nil, err
		}
		if info != nil {
			d.AdditionalInfo = info
		}
	}
	return d, nil
}

func markPrimary(addrs []*Address, primary *uuid.UUID) {
	for _, a := range addrs {
		a.IsPrimary = primary != nil && a.ID == *primary
	}
}

// applyInput validates in and copies it onto p, recomputing query_name.
// A date of birth after today is rejected.
func applyInput(p *Patient, in PatientInput, now time.Time) error {
	first := normalizeName(in.FirstName)
	if first == "" {
		return apperr.Validation("first_name", "is required")
	}
	last := normalizeName(in.LastName)
	if last == "" {
		return apperr.Validation("last_name", "is required")
	}
	dob, err := ParseDate(in.DOB)
	if err != nil {
		return err
	}
	if dob.After(now.UTC()) {
		return apperr.Validation("dob", "cannot be in the future")
	}
	st := Status(in.Status)
	if !st.Valid() {
		return apperr.Validation("status", "must be one of Inquiry, Onboarding, Active, Churned")
	}

	p.FirstName = first
	p.LastName = last
	p.MiddleName = nil
	if middle := normalizeName(in.MiddleName); middle != "" {
		p.MiddleName = &middle
	}
	p.DOB = dob
	p.Status = st
	p.QueryName = NormalizeQueryName(first + last)
	return nil
}

// normalizeName trims s and upper-cases its first letter.
func normalizeName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[size:]
}
