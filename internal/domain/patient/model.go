package patient

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusInquiry    Status = "Inquiry"
	StatusOnboarding Status = "Onboarding"
	StatusActive     Status = "Active"
	StatusChurned    Status = "Churned"
)

// Statuses is the fixed enumeration in display order.
var Statuses = []Status{StatusInquiry, StatusOnboarding, StatusActive, StatusChurned}

func (s Status) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

const (
	dateLayout        = "2006-01-02"
	displayDateLayout = "01/02/2006"
)

// Patient maps to the patient table.
type Patient struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	FirstName        string     `db:"first_name" json:"first_name"`
	MiddleName       *string    `db:"middle_name" json:"middle_name,omitempty"`
	LastName         string     `db:"last_name" json:"last_name"`
	DOB              time.Time  `db:"dob" json:"dob"`
	Status           Status     `db:"status" json:"status"`
	QueryName        string     `db:"query_name" json:"-"`
	PrimaryAddressID *uuid.UUID `db:"primary_address_id" json:"primary_address_id,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

// MarshalJSON renders dob as a calendar date.
func (p Patient) MarshalJSON() ([]byte, error) {
	type alias Patient
	return json.Marshal(struct {
		alias
		DOB string `json:"dob"`
	}{alias: alias(p), DOB: p.DOB.Format(dateLayout)})
}

// Address maps to the address table. IsPrimary is derived from the owning
// patient's primary_address_id and never stored.
type Address struct {
	ID        uuid.UUID `db:"id" json:"id"`
	PatientID uuid.UUID `db:"patient_id" json:"patient_id"`
	Line1     string    `db:"line1" json:"line1"`
	Line2     string    `db:"line2" json:"line2"`
	City      string    `db:"city" json:"city"`
	State     string    `db:"state" json:"state"`
	Zip       string    `db:"zip" json:"zip"`
	IsPrimary bool      `db:"-" json:"is_primary"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// AddressFields is the mutable part of an address.
type AddressFields struct {
	Line1 string `json:"line1"`
	Line2 string `json:"line2"`
	City  string `json:"city"`
	State string `json:"state"`
	Zip   string `json:"zip"`
}

// PatientInput is the intake/edit form payload. DOB is accepted as
// MM/DD/YYYY, MM-DD-YYYY or YYYY-MM-DD.
type PatientInput struct {
	FirstName  string `json:"first_name"`
	MiddleName string `json:"middle_name"`
	LastName   string `json:"last_name"`
	DOB        string `json:"dob"`
	Status     string `json:"status"`
}

// Summary is one row of the patient list.
type Summary struct {
	ID     uuid.UUID `json:"id"`
	Name   string    `json:"name"`
	DOB    string    `json:"dob"`
	Age    int       `json:"age"`
	Status Status    `json:"status"`
	City   string    `json:"city"`
}

// SummaryRow is what the store returns for a listing; City is nil when the
// patient has no primary address.
type SummaryRow struct {
	ID        uuid.UUID
	FirstName string
	LastName  string
	DOB       time.Time
	Status    Status
	City      *string
}

// AdditionalInfo is one admin-defined field with the patient's latest value.
type AdditionalInfo struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Type  string    `json:"type"`
	Value string    `json:"value"`
}

// Detail is the patient profile view.
type Detail struct {
	ID               uuid.UUID        `json:"id"`
	FirstName        string           `json:"first_name"`
	MiddleName       *string          `json:"middle_name,omitempty"`
	LastName         string           `json:"last_name"`
	DOB              string           `json:"dob"`
	Age              int              `json:"age"`
	Status           Status           `json:"status"`
	PrimaryAddressID *uuid.UUID       `json:"primary_address_id,omitempty"`
	Addresses        []*Address       `json:"addresses"`
	AdditionalInfo   []AdditionalInfo `json:"additional_info"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}
