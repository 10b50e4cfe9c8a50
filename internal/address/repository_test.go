package address

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/vendorhub-backend/pkg/db/dbtest"
	"github.com/angelmondragon/vendorhub-backend/pkg/errors"
	"github.com/angelmondragon/vendorhub-backend/pkg/types"
)

func TestFindOwnedRejectsForeignAddress(t *testing.T) {
	repo := NewRepository(dbtest.Open(t).DB())
	ctx := context.Background()
	owner := uuid.New()

	addr, err := repo.Create(ctx, owner, types.Address{Line1: "12 MG Road", City: "Pune", State: "MH", PostalCode: "411001"})
	require.NoError(t, err)
	assert.Equal(t, "IN", addr.Country)

	got, err := repo.FindOwned(ctx, owner, addr.ID)
	require.NoError(t, err)
	assert.Equal(t, "Pune", got.Snapshot().City)

	_, err = repo.FindOwned(ctx, uuid.New(), addr.ID)
	require.Error(t, err)
	assert.Equal(t, errors.CodeValidation, errors.CodeOf(err))
	assert.True(t, errors.HasReason(err, errors.ReasonAddressNotOwned))

	_, err = repo.FindOwned(ctx, owner, uuid.New())
	assert.True(t, errors.HasReason(err, errors.ReasonAddressNotOwned))
}

func TestCreateValidatesRequiredFields(t *testing.T) {
	repo := NewRepository(dbtest.Open(t).DB())
	_, err := repo.Create(context.Background(), uuid.New(), types.Address{Line1: "x"})
	require.Error(t, err)
	assert.Equal(t, errors.CodeValidation, errors.CodeOf(err))
}
