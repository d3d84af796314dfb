package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateDimension(t *testing.T) {
	v := make(Vector, DefaultDimension)
	require.NoError(t, ValidateDimension(v, DefaultDimension))

	err := ValidateDimension(v[:100], DefaultDimension)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrInvalidDimension)

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, 100, ve.Got)
	assert.Equal(t, DefaultDimension, ve.Want)
}

func TestHashVector(t *testing.T) {
	a := Vector{1.0, 2.0, 3.0}
	b := Vector{1.0, 2.0, 3.0}
	c := Vector{1.0, 2.0, 3.0001}

	// Identical values hash identically, regardless of backing array.
	assert.Equal(t, HashVector(a), HashVector(b))
	assert.NotEqual(t, HashVector(a), HashVector(c))

	// Order matters.
	assert.NotEqual(t, HashVector(Vector{1, 2}), HashVector(Vector{2, 1}))
}

func TestHashVectorStableAcrossClone(t *testing.T) {
	v := Vector{0.5, -1.25, 3.75, 0}
	assert.Equal(t, HashVector(v), HashVector(v.Clone()))
}

func TestSnapshotCounts(t *testing.T) {
	s := Snapshot{
		1: {Vector{1}, Vector{2}},
		2: {Vector{3}},
	}
	assert.Equal(t, 3, s.Embeddings())
	assert.ElementsMatch(t, []IdentityID{1, 2}, s.Identities())
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "created", OutcomeCreated.String())
	assert.Equal(t, "updated", OutcomeUpdated.String())
	assert.Equal(t, "ambiguous", OutcomeAmbiguous.String())
	assert.Equal(t, "rejected", OutcomeRejected.String())
}
