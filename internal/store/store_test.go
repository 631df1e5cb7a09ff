package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestParseID(t *testing.T) {
	want := primitive.NewObjectID()

	got, err := ParseID(want.Hex())
	require.NoError(t, err)
	assert.Equal(t, want, got)

	for _, bad := range []string{"", "xyz", "0123456789abcdef0123456", want.Hex() + "00"} {
		_, err := ParseID(bad)
		assert.ErrorIs(t, err, ErrInvalidID, "input %q", bad)
		assert.False(t, IsValidID(bad), "input %q", bad)
	}
	assert.True(t, IsValidID(want.Hex()))
}
