package patient

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/records/internal/platform/apperr"
	"github.com/ehr/records/internal/platform/db"
)

// -- Patient Repository --

type patientRepoPG struct {
	pool *pgxpool.Pool
}

func NewPatientRepo(pool *pgxpool.Pool) PatientRepository {
	return &patientRepoPG{pool: pool}
}

func (r *patientRepoPG) conn(ctx context.Context) db.Querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const patientCols = `id, first_name, middle_name, last_name, dob, status, query_name,
	primary_address_id, created_at, updated_at`

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient (id, first_name, middle_name, last_name, dob, status, query_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		p.ID, p.FirstName, p.MiddleName, p.LastName, p.DOB, p.Status, p.QueryName,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return db.MapError("patient create", err)
	}
	return nil
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return r.getOne(ctx, `SELECT `+patientCols+` FROM patient WHERE id = $1`, id)
}

func (r *patientRepoPG) LockForUpdate(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return r.getOne(ctx, `SELECT `+patientCols+` FROM patient WHERE id = $1 FOR UPDATE`, id)
}

func (r *patientRepoPG) getOne(ctx context.Context, sql string, id uuid.UUID) (*Patient, error) {
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("patient", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("patient get: %w", err)
	}
	return p, nil
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE patient SET
			first_name = $2, middle_name = $3, last_name = $4, dob = $5, status = $6,
			query_name = $7, updated_at = NOW()
		WHERE id = $1
		RETURNING created_at, updated_at, primary_address_id`,
		p.ID, p.FirstName, p.MiddleName, p.LastName, p.DOB, p.Status, p.QueryName,
	).Scan(&p.CreatedAt, &p.UpdatedAt, &p.PrimaryAddressID)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("patient", p.ID.String())
	}
	if err != nil {
		return db.MapError("patient update", err)
	}
	return nil
}

func (r *patientRepoPG) SetPrimaryAddress(ctx context.Context, patientID uuid.UUID, addressID *uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE patient SET primary_address_id = $2, updated_at = NOW() WHERE id = $1`,
		patientID, addressID)
	if err != nil {
		return db.MapError("patient set primary address", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("patient", patientID.String())
	}
	return nil
}

const (
	summaryFrom = `patient p LEFT JOIN address a ON a.id = p.primary_address_id`
	summaryCols = `p.id, p.first_name, p.last_name, p.dob, p.status, a.city`
)

var sortColumns = map[SortField]string{
	SortByName:   "p.last_name",
	SortByDOB:    "p.dob",
	SortByCity:   "a.city",
	SortByStatus: "p.status",
}

// buildListQuery turns a validated ListQuery into SQL. The direction applies
// to the insertion-order tie-breakers too, so flipping it reverses the
// sequence exactly.
func buildListQuery(q ListQuery) *db.SelectQuery {
	sq := db.NewSelectQuery(summaryFrom, summaryCols)

	if q.NameFragment != "" {
		sq.Where("strpos(p.query_name, ?) > 0", q.NameFragment)
	}
	if q.City != "" {
		sq.Where("strpos(a.city, ?) > 0", q.City)
	}
	if q.Status != "" {
		sq.Where("p.status = ?", string(q.Status))
	}
	if q.DOB != nil {
		op := "="
		switch q.DOBOperator {
		case DOBBefore:
			op = "<"
		case DOBAfter:
			op = ">"
		}
		sq.Where("p.dob "+op+" ?::date", q.DOB.Format(dateLayout))
	}

	col, ok := sortColumns[q.SortColumn]
	if !ok {
		col = sortColumns[SortByName]
	}
	dir := "ASC"
	if q.Descending {
		dir = "DESC"
	}
	return sq.OrderBy(col+" "+dir, "p.created_at "+dir, "p.id "+dir)
}

func (r *patientRepoPG) List(ctx context.Context, q ListQuery) ([]*SummaryRow, error) {
	sq := buildListQuery(q)
	rows, err := r.conn(ctx).Query(ctx, sq.SQL(), sq.Args()...)
	if err != nil {
		return nil, fmt.Errorf("patient list: %w", err)
	}
	defer rows.Close()

	var out []*SummaryRow
	for rows.Next() {
		var s SummaryRow
		if err := rows.Scan(&s.ID, &s.FirstName, &s.LastName, &s.DOB, &s.Status, &s.City); err != nil {
			return nil, fmt.Errorf("patient list scan: %w", err)
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(
		&p.ID, &p.FirstName, &p.MiddleName, &p.LastName, &p.DOB, &p.Status, &p.QueryName,
		&p.PrimaryAddressID, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// -- Address Repository --

type addressRepoPG struct {
	pool *pgxpool.Pool
}

func NewAddressRepo(pool *pgxpool.Pool) AddressRepository {
	return &addressRepoPG{pool: pool}
}

func (r *addressRepoPG) conn(ctx context.Context) db.Querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const addressCols = `id, patient_id, line1, line2, city, state, zip, created_at, updated_at`

func (r *addressRepoPG) Create(ctx context.Context, a *Address) error {
	a.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO address (id, patient_id, line1, line2, city, state, zip)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.Line1, a.Line2, a.City, a.State, a.Zip,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return db.MapError("address create", err)
	}
	return nil
}

func (r *addressRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Address, error) {
	a, err := scanAddress(r.conn(ctx).QueryRow(ctx, `SELECT `+addressCols+` FROM address WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("address", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("address get: %w", err)
	}
	return a, nil
}

func (r *addressRepoPG) Update(ctx context.Context, a *Address) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE address SET line1 = $2, line2 = $3, city = $4, state = $5, zip = $6, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		a.ID, a.Line1, a.Line2, a.City, a.State, a.Zip,
	).Scan(&a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("address", a.ID.String())
	}
	if err != nil {
		return db.MapError("address update", err)
	}
	return nil
}

func (r *addressRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM address WHERE id = $1`, id)
	if err != nil {
		return db.MapError("address delete", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("address", id.String())
	}
	return nil
}

func (r *addressRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Address, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+addressCols+` FROM address WHERE patient_id = $1 ORDER BY created_at ASC, id ASC`,
		patientID)
	if err != nil {
		return nil, fmt.Errorf("address list: %w", err)
	}
	defer rows.Close()

	var out []*Address
	for rows.Next() {
		a, err := scanAddress(rows)
		if err != nil {
			return nil, fmt.Errorf("address list scan: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAddress(row pgx.Row) (*Address, error) {
	var a Address
	err := row.Scan(&a.ID, &a.PatientID, &a.Line1, &a.Line2, &a.City, &a.State, &a.Zip, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
