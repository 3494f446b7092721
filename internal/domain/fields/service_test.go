package fields

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/records/internal/platform/apperr"
)

// -- Mock Repository --

type mockRepo struct {
	fields    map[uuid.UUID]*Field
	patients  map[uuid.UUID]bool
	responses []*Response
	seq       int
	failAfter int
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		fields:   make(map[uuid.UUID]*Field),
		patients: make(map[uuid.UUID]bool),
	}
}

func (m *mockRepo) stamp() time.Time {
	m.seq++
	return time.Date(2026, 1, 1, 0, 0, m.seq, 0, time.UTC)
}

func (m *mockRepo) List(_ context.Context) ([]*Field, error) {
	var out []*Field
	for _, f := range m.fields {
		if !f.Deleted {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *mockRepo) Create(_ context.Context, f *Field) error {
	f.ID = uuid.New()
	f.CreatedAt = m.stamp()
	m.fields[f.ID] = f
	return nil
}

func (m *mockRepo) SoftDelete(_ context.Context, id uuid.UUID) error {
	f, ok := m.fields[id]
	if !ok {
		return apperr.NotFound("field", id.String())
	}
	f.Deleted = true
	return nil
}

func (m *mockRepo) GetMany(_ context.Context, ids []uuid.UUID) ([]*Field, error) {
	var out []*Field
	for _, id := range ids {
		if f, ok := m.fields[id]; ok {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *mockRepo) PatientExists(_ context.Context, id uuid.UUID) (bool, error) {
	return m.patients[id], nil
}

func (m *mockRepo) AppendResponse(_ context.Context, r *Response) error {
	if m.failAfter > 0 && len(m.responses) >= m.failAfter {
		return errors.New("disk full")
	}
	r.ID = uuid.New()
	r.CreatedAt = m.stamp()
	m.responses = append(m.responses, r)
	return nil
}

func (m *mockRepo) LatestValues(ctx context.Context, patientID uuid.UUID) ([]Info, error) {
	live, _ := m.List(ctx)
	out := make([]Info, 0, len(live))
	for _, f := range live {
		info := Info{ID: f.ID, Name: f.Name, Type: f.Type}
		for _, r := range m.responses {
			if r.FieldID == f.ID && r.PatientID == patientID {
				info.Value = r.Value
			}
		}
		out = append(out, info)
	}
	return out, nil
}

// mockTx truncates the response log when the unit of work fails.
type mockTx struct {
	repo *mockRepo
}

func (m *mockTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	n := len(m.repo.responses)
	if err := fn(ctx); err != nil {
		m.repo.responses = m.repo.responses[:n]
		return err
	}
	return nil
}

func newTestService() (*Service, *mockRepo) {
	repo := newMockRepo()
	return NewService(repo, &mockTx{repo: repo}), repo
}

func TestCreateField(t *testing.T) {
	svc, _ := newTestService()
	f, err := svc.CreateField(context.Background(), FieldInput{Name: "  Insurance ", Type: "text"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Name != "Insurance" || f.Type != TypeText {
		t.Errorf("unexpected field: %+v", f)
	}
}

func TestCreateField_Validation(t *testing.T) {
	svc, _ := newTestService()
	for _, in := range []FieldInput{
		{Name: "", Type: "text"},
		{Name: "Height", Type: "date"},
		{Name: "Height", Type: "Number"},
	} {
		if _, err := svc.CreateField(context.Background(), in); !apperr.IsValidation(err) {
			t.Errorf("CreateField(%+v): expected ValidationError, got %v", in, err)
		}
	}
}

func TestListFields_NewestFirstWithoutDeleted(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	a, _ := svc.CreateField(ctx, FieldInput{Name: "A", Type: "text"})
	b, _ := svc.CreateField(ctx, FieldInput{Name: "B", Type: "number"})
	c, _ := svc.CreateField(ctx, FieldInput{Name: "C", Type: "text"})

	if err := svc.DeleteField(ctx, b.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out, err := svc.ListFields(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 || out[0].ID != c.ID || out[1].ID != a.ID {
		t.Errorf("unexpected list: %+v", out)
	}
}

func TestDeleteField_NotFound(t *testing.T) {
	svc, _ := newTestService()
	if err := svc.DeleteField(context.Background(), uuid.New()); !apperr.IsNotFound(err) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
}

func TestUpdateAdditionalInfo_LatestWins(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	patientID := uuid.New()
	repo.patients[patientID] = true
	ins, _ := svc.CreateField(ctx, FieldInput{Name: "Insurance", Type: "text"})
	height, _ := svc.CreateField(ctx, FieldInput{Name: "Height", Type: "number"})

	if err := svc.UpdateAdditionalInfo(ctx, patientID, map[uuid.UUID]string{ins.ID: "Acme", height.ID: "180"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.UpdateAdditionalInfo(ctx, patientID, map[uuid.UUID]string{ins.ID: " Globex "}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repo.responses) != 3 {
		t.Errorf("expected 3 appended responses, got %d", len(repo.responses))
	}

	info, err := svc.AdditionalInfo(ctx, patientID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := map[string]string{}
	for _, i := range info {
		got[i.Name] = i.Value
	}
	if got["Insurance"] != "Globex" || got["Height"] != "180" {
		t.Errorf("unexpected values: %v", got)
	}
}

func TestUpdateAdditionalInfo_DeletedFieldHiddenButKept(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	patientID := uuid.New()
	repo.patients[patientID] = true
	f, _ := svc.CreateField(ctx, FieldInput{Name: "Insurance", Type: "text"})
	svc.UpdateAdditionalInfo(ctx, patientID, map[uuid.UUID]string{f.ID: "Acme"})
	svc.DeleteField(ctx, f.ID)

	info, _ := svc.AdditionalInfo(ctx, patientID)
	if len(info) != 0 {
		t.Errorf("expected deleted field to be hidden, got %+v", info)
	}
	if len(repo.responses) != 1 {
		t.Error("expected the response to be retained")
	}

	err := svc.UpdateAdditionalInfo(ctx, patientID, map[uuid.UUID]string{f.ID: "Globex"})
	if !apperr.IsValidation(err) {
		t.Errorf("expected ValidationError for deleted field, got %v", err)
	}
}

func TestUpdateAdditionalInfo_Errors(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	patientID := uuid.New()
	repo.patients[patientID] = true
	height, _ := svc.CreateField(ctx, FieldInput{Name: "Height", Type: "number"})

	if err := svc.UpdateAdditionalInfo(ctx, uuid.New(), map[uuid.UUID]string{height.ID: "1"}); !apperr.IsNotFound(err) {
		t.Errorf("expected NotFoundError for unknown patient, got %v", err)
	}
	if err := svc.UpdateAdditionalInfo(ctx, patientID, map[uuid.UUID]string{uuid.New(): "1"}); !apperr.IsValidation(err) {
		t.Errorf("expected ValidationError for unknown field, got %v", err)
	}
	if err := svc.UpdateAdditionalInfo(ctx, patientID, map[uuid.UUID]string{height.ID: "tall"}); !apperr.IsValidation(err) {
		t.Errorf("expected ValidationError for non-numeric value, got %v", err)
	}
	if err := svc.UpdateAdditionalInfo(ctx, patientID, map[uuid.UUID]string{height.ID: ""}); err != nil {
		t.Errorf("expected a cleared number to be accepted, got %v", err)
	}
}

func TestUpdateAdditionalInfo_AllOrNothing(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	patientID := uuid.New()
	repo.patients[patientID] = true
	a, _ := svc.CreateField(ctx, FieldInput{Name: "A", Type: "text"})
	b, _ := svc.CreateField(ctx, FieldInput{Name: "B", Type: "text"})
	repo.failAfter = 1

	err := svc.UpdateAdditionalInfo(ctx, patientID, map[uuid.UUID]string{a.ID: "x", b.ID: "y"})
	if err == nil {
		t.Fatal("expected failure")
	}
	if len(repo.responses) != 0 {
		t.Errorf("expected no responses after rollback, got %d", len(repo.responses))
	}
}
