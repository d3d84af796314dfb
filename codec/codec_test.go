package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/idtrack/model"
)

func TestByName(t *testing.T) {
	c, ok := ByName("json")
	require.True(t, ok)
	assert.Equal(t, "json", c.Name())

	c, ok = ByName("msgpack")
	require.True(t, ok)
	assert.Equal(t, "msgpack", c.Name())

	_, ok = ByName("protobuf")
	assert.False(t, ok)
}

func TestRoundTripIdentityRecord(t *testing.T) {
	rec := model.IdentityRecord{
		ID:          7,
		Appearances: 3,
		Embeddings: []model.Embedding{
			{ID: 1, Identity: 7, Vector: model.Vector{0.25, -1.5, 3}, Hash: 42},
		},
	}

	for _, c := range []Codec{JSON{}, Msgpack{}} {
		t.Run(c.Name(), func(t *testing.T) {
			data, err := c.Marshal(rec)
			require.NoError(t, err)

			var got model.IdentityRecord
			require.NoError(t, c.Unmarshal(data, &got))
			assert.Equal(t, rec, got)

			// Vector bit patterns survive, so the content hash does too.
			assert.Equal(t, model.HashVector(rec.Embeddings[0].Vector), model.HashVector(got.Embeddings[0].Vector))
		})
	}
}

func TestMustMarshalPanicsOnFailure(t *testing.T) {
	assert.Panics(t, func() {
		MustMarshal(JSON{}, make(chan int))
	})
}
