package patient

import (
	"context"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/records/internal/platform/apperr"
	"github.com/ehr/records/internal/platform/db"
)

var zipPattern = regexp.MustCompile(`^\d{5}$`)

var usStates = map[string]bool{
	"AL": true, "AK": true, "AZ": true, "AR": true, "CA": true, "CO": true, "CT": true, "DE": true,
	"DC": true, "FL": true, "GA": true, "HI": true, "ID": true, "IL": true, "IN": true, "IA": true,
	"KS": true, "KY": true, "LA": true, "ME": true, "MD": true, "MA": true, "MI": true, "MN": true,
	"MS": true, "MO": true, "MT": true, "NE": true, "NV": true, "NH": true, "NJ": true, "NM": true,
	"NY": true, "NC": true, "ND": true, "OH": true, "OK": true, "OR": true, "PA": true, "RI": true,
	"SC": true, "SD": true, "TN": true, "TX": true, "UT": true, "VT": true, "VA": true, "WA": true,
	"WV": true, "WI": true, "WY": true,
}

// Validate trims the fields, upper-cases the state and checks each value.
func (f *AddressFields) Validate() error {
	f.Line1 = strings.TrimSpace(f.Line1)
	f.Line2 = strings.TrimSpace(f.Line2)
	f.City = strings.TrimSpace(f.City)
	f.State = strings.ToUpper(strings.TrimSpace(f.State))
	f.Zip = strings.TrimSpace(f.Zip)

	if f.Line1 == "" {
		return apperr.Validation("line1", "is required")
	}
	if f.City == "" {
		return apperr.Validation("city", "is required")
	}
	if !usStates[f.State] {
		return apperr.Validation("state", "unknown state %q", f.State)
	}
	if !zipPattern.MatchString(f.Zip) {
		return apperr.Validation("zip", "must be exactly 5 digits")
	}
	return nil
}

func (f AddressFields) apply(a *Address) {
	a.Line1, a.Line2, a.City, a.State, a.Zip = f.Line1, f.Line2, f.City, f.State, f.Zip
}

// AddressManager owns address writes and keeps the patient's primary
// address pointer consistent: a patient with addresses has exactly one
// primary, a patient without addresses has none. Every operation locks the
// patient row for the length of its transaction.
type AddressManager struct {
	tx        db.Transactor
	patients  PatientRepository
	addresses AddressRepository
	logger    zerolog.Logger
}

func NewAddressManager(tx db.Transactor, patients PatientRepository, addresses AddressRepository, logger zerolog.Logger) *AddressManager {
	return &AddressManager{
		tx:        tx,
		patients:  patients,
		addresses: addresses,
		logger:    logger.With().Str("component", "address_manager").Logger(),
	}
}

// CreateAddress adds an address. It becomes primary when makePrimary is set
// or when the patient has no primary yet.
func (m *AddressManager) CreateAddress(ctx context.Context, patientID uuid.UUID, fields AddressFields, makePrimary bool) (*Address, error) {
	if err := fields.Validate(); err != nil {
		return nil, err
	}

	var out *Address
	err := m.tx.WithinTx(ctx, func(ctx context.Context) error {
		p, err := m.patients.LockForUpdate(ctx, patientID)
		if err != nil {
			return err
		}

		a := &Address{PatientID: patientID}
		fields.apply(a)
		if err := m.addresses.Create(ctx, a); err != nil {
			return err
		}

		if makePrimary || p.PrimaryAddressID == nil {
			if err := m.setPrimary(ctx, p, &a.ID, "created"); err != nil {
				return err
			}
			a.IsPrimary = true
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateAddress rewrites the address fields. With makePrimary the address
// becomes primary. Without it a current primary hands the role to the
// oldest other address; a patient's only address stays primary.
func (m *AddressManager) UpdateAddress(ctx context.Context, addressID uuid.UUID, fields AddressFields, makePrimary bool) (*Address, error) {
	if err := fields.Validate(); err != nil {
		return nil, err
	}

	var out *Address
	err := m.tx.WithinTx(ctx, func(ctx context.Context) error {
		p, a, err := m.lockOwner(ctx, addressID)
		if err != nil {
			return err
		}

		fields.apply(a)
		if err := m.addresses.Update(ctx, a); err != nil {
			return err
		}

		wasPrimary := isPrimary(p, a.ID)
		switch {
		case makePrimary && !wasPrimary:
			if err := m.setPrimary(ctx, p, &a.ID, "promoted"); err != nil {
				return err
			}
		case !makePrimary && wasPrimary:
			next, err := m.successor(ctx, p.ID, a.ID)
			if err != nil {
				return err
			}
			if next != nil {
				if err := m.setPrimary(ctx, p, &next.ID, "demoted"); err != nil {
					return err
				}
			}
		case p.PrimaryAddressID == nil:
			if err := m.setPrimary(ctx, p, &a.ID, "repaired"); err != nil {
				return err
			}
		}

		a.IsPrimary = isPrimary(p, a.ID)
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteAddress removes the address. Deleting the primary promotes the
// oldest remaining address, or clears the pointer when none remain.
func (m *AddressManager) DeleteAddress(ctx context.Context, addressID uuid.UUID) error {
	return m.tx.WithinTx(ctx, func(ctx context.Context) error {
		p, a, err := m.lockOwner(ctx, addressID)
		if err != nil {
			return err
		}

		if err := m.addresses.Delete(ctx, a.ID); err != nil {
			return err
		}

		if p.PrimaryAddressID != nil && !isPrimary(p, a.ID) {
			return nil
		}
		next, err := m.successor(ctx, p.ID, a.ID)
		if err != nil {
			return err
		}
		if next == nil {
			return m.setPrimary(ctx, p, nil, "cleared")
		}
		return m.setPrimary(ctx, p, &next.ID, "reassigned")
	})
}

// ChoiceForCreate returns the primary-choice schema for a new address on
// patientID.
func (m *AddressManager) ChoiceForCreate(ctx context.Context, patientID uuid.UUID) (PrimaryChoice, error) {
	if _, err := m.patients.GetByID(ctx, patientID); err != nil {
		return PrimaryChoice{}, err
	}
	addrs, err := m.addresses.ListByPatient(ctx, patientID)
	if err != nil {
		return PrimaryChoice{}, err
	}
	return PrimaryChoiceSchema(len(addrs) == 0), nil
}

// ChoiceForUpdate returns the primary-choice schema for editing addressID.
func (m *AddressManager) ChoiceForUpdate(ctx context.Context, addressID uuid.UUID) (PrimaryChoice, error) {
	a, err := m.addresses.GetByID(ctx, addressID)
	if err != nil {
		return PrimaryChoice{}, err
	}
	addrs, err := m.addresses.ListByPatient(ctx, a.PatientID)
	if err != nil {
		return PrimaryChoice{}, err
	}
	return PrimaryChoiceSchema(len(addrs) <= 1), nil
}

// lockOwner locks the owning patient and re-reads the address under the lock.
func (m *AddressManager) lockOwner(ctx context.Context, addressID uuid.UUID) (*Patient, *Address, error) {
	a, err := m.addresses.GetByID(ctx, addressID)
	if err != nil {
		return nil, nil, err
	}
	p, err := m.patients.LockForUpdate(ctx, a.PatientID)
	if err != nil {
		return nil, nil, err
	}
	a, err = m.addresses.GetByID(ctx, addressID)
	if err != nil {
		return nil, nil, err
	}
	return p, a, nil
}

// successor picks the oldest of the patient's addresses other than exclude.
func (m *AddressManager) successor(ctx context.Context, patientID, exclude uuid.UUID) (*Address, error) {
	addrs, err := m.addresses.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	for _, a := range addrs {
		if a.ID != exclude {
			return a, nil
		}
	}
	return nil, nil
}

func (m *AddressManager) setPrimary(ctx context.Context, p *Patient, addressID *uuid.UUID, reason string) error {
	if err := m.patients.SetPrimaryAddress(ctx, p.ID, addressID); err != nil {
		return err
	}
	evt := m.logger.Info().Str("patient_id", p.ID.String()).Str("reason", reason)
	if p.PrimaryAddressID != nil {
		evt = evt.Str("from", p.PrimaryAddressID.String())
	}
	if addressID != nil {
		evt = evt.Str("to", addressID.String())
	}
	evt.Msg("primary address changed")
	p.PrimaryAddressID = addressID
	return nil
}

func isPrimary(p *Patient, addressID uuid.UUID) bool {
	return p.PrimaryAddressID != nil && *p.PrimaryAddressID == addressID
}

// -- Form-level primary choice --

const (
	choiceYes = "Yes"
	choiceNo  = "No"
)

// PrimaryChoice is the conditional schema for the address form's
// "is primary" field.
type PrimaryChoice struct {
	Required bool     `json:"required"`
	Allowed  []string `json:"allowed"`
	Default  string   `json:"default,omitempty"`
}

// PrimaryChoiceSchema returns the schema for the form. A patient's only
// address has no real choice: the field is optional and always Yes.
func PrimaryChoiceSchema(isOnlyAddress bool) PrimaryChoice {
	if isOnlyAddress {
		return PrimaryChoice{Required: false, Allowed: []string{choiceYes}, Default: choiceYes}
	}
	return PrimaryChoice{Required: true, Allowed: []string{choiceYes, choiceNo}}
}

// Resolve validates value against the schema and returns makePrimary.
func (c PrimaryChoice) Resolve(value string) (bool, error) {
	if value == "" {
		if c.Required {
			return false, apperr.Validation("is_primary", "is required")
		}
		value = c.Default
	}
	for _, allowed := range c.Allowed {
		if value == allowed {
			return value == choiceYes, nil
		}
	}
	return false, apperr.Validation("is_primary", "must be one of %s", strings.Join(c.Allowed, ", "))
}
