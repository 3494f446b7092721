package fields

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/records/internal/platform/apperr"
	"github.com/ehr/records/internal/platform/db"
)

type fieldRepoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &fieldRepoPG{pool: pool}
}

func (r *fieldRepoPG) conn(ctx context.Context) db.Querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const fieldCols = `id, name, type, deleted, created_at`

func (r *fieldRepoPG) List(ctx context.Context) ([]*Field, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+fieldCols+` FROM additional_field WHERE deleted = false ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("field list: %w", err)
	}
	return collectFields(rows)
}

func (r *fieldRepoPG) Create(ctx context.Context, f *Field) error {
	f.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx,
		`INSERT INTO additional_field (id, name, type) VALUES ($1, $2, $3) RETURNING deleted, created_at`,
		f.ID, f.Name, f.Type,
	).Scan(&f.Deleted, &f.CreatedAt)
	if err != nil {
		return db.MapError("field create", err)
	}
	return nil
}

func (r *fieldRepoPG) SoftDelete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE additional_field SET deleted = true WHERE id = $1`, id)
	if err != nil {
		return db.MapError("field delete", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("field", id.String())
	}
	return nil
}

func (r *fieldRepoPG) GetMany(ctx context.Context, ids []uuid.UUID) ([]*Field, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+fieldCols+` FROM additional_field WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("field get many: %w", err)
	}
	return collectFields(rows)
}

func (r *fieldRepoPG) PatientExists(ctx context.Context, patientID uuid.UUID) (bool, error) {
	var ok bool
	err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM patient WHERE id = $1)`, patientID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("patient exists: %w", err)
	}
	return ok, nil
}

func (r *fieldRepoPG) AppendResponse(ctx context.Context, resp *Response) error {
	resp.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO additional_field_response (id, field_id, patient_id, value)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		resp.ID, resp.FieldID, resp.PatientID, resp.Value,
	).Scan(&resp.CreatedAt)
	if err != nil {
		return db.MapError("field response append", err)
	}
	return nil
}

func (r *fieldRepoPG) LatestValues(ctx context.Context, patientID uuid.UUID) ([]Info, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT f.id, f.name, f.type, COALESCE(latest.value, '')
		FROM additional_field f
		LEFT JOIN (
			SELECT DISTINCT ON (field_id) field_id, value
			FROM additional_field_response
			WHERE patient_id = $1
			ORDER BY field_id, created_at DESC, id DESC
		) latest ON latest.field_id = f.id
		WHERE f.deleted = false
		ORDER BY f.created_at DESC, f.id DESC`, patientID)
	if err != nil {
		return nil, fmt.Errorf("field latest values: %w", err)
	}
	defer rows.Close()

	var out []Info
	for rows.Next() {
		var i Info
		if err := rows.Scan(&i.ID, &i.Name, &i.Type, &i.Value); err != nil {
			return nil, fmt.Errorf("field latest values scan: %w", err)
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

func collectFields(rows pgx.Rows) ([]*Field, error) {
	defer rows.Close()
	var out []*Field
	for rows.Next() {
		var f Field
		if err := rows.Scan(&f.ID, &f.Name, &f.Type, &f.Deleted, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("field scan: %w", err)
		}
		out = append(out, &f)
	}
	return out, rows.Err()
}
