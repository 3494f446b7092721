package patient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/records/internal/platform/apperr"
)

func austin() AddressFields {
	return AddressFields{Line1: "1 Congress Ave", City: "Austin", State: "TX", Zip: "78701"}
}

func dallas() AddressFields {
	return AddressFields{Line1: "2 Elm St", Line2: "Apt 4", City: "Dallas", State: "tx", Zip: "75201"}
}

// assertInvariant checks that a patient with addresses points at exactly one
// of its own addresses and a patient without addresses points at none.
func assertInvariant(t *testing.T, s *memStore) {
	t.Helper()
	for _, p := range s.patients {
		var owned []uuid.UUID
		for _, a := range s.addresses {
			if a.PatientID == p.ID {
				owned = append(owned, a.ID)
			}
		}
		if len(owned) == 0 {
			assert.Nil(t, p.PrimaryAddressID, "patient %s has no addresses", p.ID)
			continue
		}
		require.NotNil(t, p.PrimaryAddressID, "patient %s has addresses but no primary", p.ID)
		assert.Contains(t, owned, *p.PrimaryAddressID)
	}
}

func TestCreateAddress_FirstAddressIsPrimary(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	p := f.mustCreatePatient(t, "John", "Smith", "01/02/1990", StatusActive)

	a, err := f.mgr.CreateAddress(ctx, p.ID, austin(), false)
	require.NoError(t, err)
	assert.True(t, a.IsPrimary)
	assert.Equal(t, a.ID, *f.store.patients[p.ID].PrimaryAddressID)
	assertInvariant(t, f.store)
}

func TestCreateAddress_Scenario(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	p := f.mustCreatePatient(t, "John", "Smith", "01/02/1990", StatusActive)

	a1, err := f.mgr.CreateAddress(ctx, p.ID, austin(), true)
	require.NoError(t, err)
	assert.Equal(t, a1.ID, *f.store.patients[p.ID].PrimaryAddressID)

	a2, err := f.mgr.CreateAddress(ctx, p.ID, dallas(), false)
	require.NoError(t, err)
	assert.False(t, a2.IsPrimary)
	assert.Equal(t, a1.ID, *f.store.patients[p.ID].PrimaryAddressID)

	require.NoError(t, f.mgr.DeleteAddress(ctx, a1.ID))
	assert.Equal(t, a2.ID, *f.store.patients[p.ID].PrimaryAddressID)
	assertInvariant(t, f.store)
}

func TestCreateAddress_MakePrimaryMovesPointer(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	p := f.mustCreatePatient(t, "John", "Smith", "01/02/1990", StatusActive)

	f.mgr.CreateAddress(ctx, p.ID, austin(), false)
	a2, err := f.mgr.CreateAddress(ctx, p.ID, dallas(), true)
	require.NoError(t, err)
	assert.True(t, a2.IsPrimary)
	assert.Equal(t, a2.ID, *f.store.patients[p.ID].PrimaryAddressID)
	assert.Equal(t, "TX", a2.State)
	assertInvariant(t, f.store)
}

func TestCreateAddress_UnknownPatient(t *testing.T) {
	f := newFixture()
	_, err := f.mgr.CreateAddress(context.Background(), uuid.New(), austin(), true)
	assert.True(t, apperr.IsNotFound(err))
	assert.Empty(t, f.store.addresses)
}

func TestAddressFields_Validate(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(*AddressFields)
		field string
	}{
		{"zip four digits", func(a *AddressFields) { a.Zip = "1234" }, "zip"},
		{"zip six digits", func(a *AddressFields) { a.Zip = "123456" }, "zip"},
		{"zip letters", func(a *AddressFields) { a.Zip = "12a45" }, "zip"},
		{"zip plus four", func(a *AddressFields) { a.Zip = "12345-6789" }, "zip"},
		{"no line1", func(a *AddressFields) { a.Line1 = "  " }, "line1"},
		{"no city", func(a *AddressFields) { a.City = "" }, "city"},
		{"bad state", func(a *AddressFields) { a.State = "XX" }, "state"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := austin()
			tt.edit(&in)
			var ve *apperr.ValidationError
			require.ErrorAs(t, in.Validate(), &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}

	ok := austin()
	ok.Zip = "12345"
	assert.NoError(t, ok.Validate())
}

func TestCreateAddress_RejectsBadZipBeforeStore(t *testing.T) {
	f := newFixture()
	p := f.mustCreatePatient(t, "John", "Smith", "01/02/1990", StatusActive)
	in := austin()
	in.Zip = "1234"

	_, err := f.mgr.CreateAddress(context.Background(), p.ID, in, true)
	assert.True(t, apperr.IsValidation(err))
	assert.Equal(t, 0, f.tx.calls)
}

func TestUpdateAddress_MakePrimary(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	p := f.mustCreatePatient(t, "John", "Smith", "01/02/1990", StatusActive)
	f.mgr.CreateAddress(ctx, p.ID, austin(), true)
	a2, _ := f.mgr.CreateAddress(ctx, p.ID, dallas(), false)

	fields := dallas()
	fields.Line1 = "3 Oak St"
	updated, err := f.mgr.UpdateAddress(ctx, a2.ID, fields, true)
	require.NoError(t, err)
	assert.True(t, updated.IsPrimary)
	assert.Equal(t, "3 Oak St", f.store.addresses[a2.ID].Line1)
	assert.Equal(t, a2.ID, *f.store.patients[p.ID].PrimaryAddressID)
	assertInvariant(t, f.store)
}

func TestUpdateAddress_DemotingPrimaryPromotesOldestOther(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	p := f.mustCreatePatient(t, "John", "Smith", "01/02/1990", StatusActive)
	a1, _ := f.mgr.CreateAddress(ctx, p.ID, austin(), true)
	a2, _ := f.mgr.CreateAddress(ctx, p.ID, dallas(), false)
	f.mgr.CreateAddress(ctx, p.ID, austin(), false)

	updated, err := f.mgr.UpdateAddress(ctx, a1.ID, austin(), false)
	require.NoError(t, err)
	assert.False(t, updated.IsPrimary)
	assert.Equal(t, a2.ID, *f.store.patients[p.ID].PrimaryAddressID)
	assertInvariant(t, f.store)
}

func TestUpdateAddress_SoleAddressStaysPrimary(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	p := f.mustCreatePatient(t, "John", "Smith", "01/02/1990", StatusActive)
	a1, _ := f.mgr.CreateAddress(ctx, p.ID, austin(), true)

	updated, err := f.mgr.UpdateAddress(ctx, a1.ID, dallas(), false)
	require.NoError(t, err)
	assert.True(t, updated.IsPrimary)
	assert.Equal(t, a1.ID, *f.store.patients[p.ID].PrimaryAddressID)
	assertInvariant(t, f.store)
}

func TestUpdateAddress_NotFound(t *testing.T) {
	f := newFixture()
	_, err := f.mgr.UpdateAddress(context.Background(), uuid.New(), austin(), true)
	assert.True(t, apperr.IsNotFound(err))
}

func TestDeleteAddress_OnlyAddressClearsPrimary(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	p := f.mustCreatePatient(t, "John", "Smith", "01/02/1990", StatusActive)
	a1, _ := f.mgr.CreateAddress(ctx, p.ID, austin(), true)

	require.NoError(t, f.mgr.DeleteAddress(ctx, a1.ID))
	assert.Nil(t, f.store.patients[p.ID].PrimaryAddressID)
	assertInvariant(t, f.store)
}

func TestDeleteAddress_NonPrimaryLeavesPointer(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	p := f.mustCreatePatient(t, "John", "Smith", "01/02/1990", StatusActive)
	a1, _ := f.mgr.CreateAddress(ctx, p.ID, austin(), true)
	a2, _ := f.mgr.CreateAddress(ctx, p.ID, dallas(), false)

	require.NoError(t, f.mgr.DeleteAddress(ctx, a2.ID))
	assert.Equal(t, a1.ID, *f.store.patients[p.ID].PrimaryAddressID)
}

func TestDeleteAddress_NeverPicksAnotherPatientsAddress(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	john := f.mustCreatePatient(t, "John", "Smith", "01/02/1990", StatusActive)
	ann := f.mustCreatePatient(t, "Ann", "Lee", "03/04/1985", StatusActive)
	f.mgr.CreateAddress(ctx, ann.ID, dallas(), true)
	j1, _ := f.mgr.CreateAddress(ctx, john.ID, austin(), true)
	j2, _ := f.mgr.CreateAddress(ctx, john.ID, austin(), false)

	require.NoError(t, f.mgr.DeleteAddress(ctx, j1.ID))
	assert.Equal(t, j2.ID, *f.store.patients[john.ID].PrimaryAddressID)

	require.NoError(t, f.mgr.DeleteAddress(ctx, j2.ID))
	assert.Nil(t, f.store.patients[john.ID].PrimaryAddressID)
	assertInvariant(t, f.store)
}

func TestDeleteAddress_NotFound(t *testing.T) {
	f := newFixture()
	err := f.mgr.DeleteAddress(context.Background(), uuid.New())
	assert.True(t, apperr.IsNotFound(err))
}

func TestAddressManager_FailureRollsBack(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	p := f.mustCreatePatient(t, "John", "Smith", "01/02/1990", StatusActive)
	a1, _ := f.mgr.CreateAddress(ctx, p.ID, austin(), true)
	f.mgr.CreateAddress(ctx, p.ID, dallas(), false)

	boom := errors.New("connection reset")
	f.patients.failSet = boom

	err := f.mgr.DeleteAddress(ctx, a1.ID)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, f.store.addresses, a1.ID, "delete must be rolled back")
	assert.Equal(t, a1.ID, *f.store.patients[p.ID].PrimaryAddressID)

	_, err = f.mgr.CreateAddress(ctx, p.ID, dallas(), true)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, f.store.addresses, 2, "create must be rolled back")
	assertInvariant(t, f.store)
}

func TestAddressManager_ConcurrentMutationsKeepInvariant(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	p := f.mustCreatePatient(t, "John", "Smith", "01/02/1990", StatusActive)

	var wg sync.WaitGroup
	ids := make(chan uuid.UUID, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			fields := austin()
			fields.Line1 = fmt.Sprintf("%d Congress Ave", i)
			a, err := f.mgr.CreateAddress(ctx, p.ID, fields, i%3 == 0)
			if err == nil {
				ids <- a.ID
			}
		}(i)
	}
	wg.Wait()
	close(ids)

	var created []uuid.UUID
	for id := range ids {
		created = append(created, id)
	}
	require.Len(t, created, 20)
	assertInvariant(t, f.store)

	for i, id := range created {
		if i%2 == 0 {
			continue
		}
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			f.mgr.DeleteAddress(ctx, id)
		}(id)
	}
	wg.Wait()
	assertInvariant(t, f.store)
}

func TestPrimaryChoiceSchema(t *testing.T) {
	only := PrimaryChoiceSchema(true)
	assert.False(t, only.Required)
	assert.Equal(t, []string{"Yes"}, only.Allowed)

	mk, err := only.Resolve("")
	require.NoError(t, err)
	assert.True(t, mk, "sole address defaults to primary")
	_, err = only.Resolve("No")
	assert.True(t, apperr.IsValidation(err))

	many := PrimaryChoiceSchema(false)
	assert.True(t, many.Required)
	_, err = many.Resolve("")
	assert.True(t, apperr.IsValidation(err))
	mk, err = many.Resolve("No")
	require.NoError(t, err)
	assert.False(t, mk)
	mk, err = many.Resolve("Yes")
	require.NoError(t, err)
	assert.True(t, mk)
	_, err = many.Resolve("yes")
	assert.True(t, apperr.IsValidation(err))
}

func TestChoiceForCreateAndUpdate(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	p := f.mustCreatePatient(t, "John", "Smith", "01/02/1990", StatusActive)

	c, err := f.mgr.ChoiceForCreate(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, c.Required)

	a1, _ := f.mgr.CreateAddress(ctx, p.ID, austin(), true)
	c, err = f.mgr.ChoiceForUpdate(ctx, a1.ID)
	require.NoError(t, err)
	assert.False(t, c.Required, "editing the only address")

	c, err = f.mgr.ChoiceForCreate(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, c.Required)

	_, err = f.mgr.ChoiceForCreate(ctx, uuid.New())
	assert.True(t, apperr.IsNotFound(err))
}
