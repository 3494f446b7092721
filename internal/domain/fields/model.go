package fields

import (
	"time"

	"github.com/google/uuid"
)

type FieldType string

const (
	TypeText   FieldType = "text"
	TypeNumber FieldType = "number"
)

func (t FieldType) Valid() bool {
	return t == TypeText || t == TypeNumber
}

// Field maps to the additional_field table.
type Field struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Type      FieldType `db:"type" json:"type"`
	Deleted   bool      `db:"deleted" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Response maps to the additional_field_response table. Rows are only ever
// appended; the newest per (field, patient) is the current value.
type Response struct {
	ID        uuid.UUID `db:"id" json:"id"`
	FieldID   uuid.UUID `db:"field_id" json:"field_id"`
	PatientID uuid.UUID `db:"patient_id" json:"patient_id"`
	Value     string    `db:"value" json:"value"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Info is a non-deleted field with one patient's current value.
type Info struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Type  FieldType `json:"type"`
	Value string    `json:"value"`
}

type FieldInput struct {
	Name string `json:"name"`
	Type string `json:"type"`
}
