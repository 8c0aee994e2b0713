package persistence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/cpd/internal/domain"
)

func TestCursorRoundTrip(t *testing.T) {
	in := &domain.Cursor{Date: time.Date(2026, 5, 4, 9, 30, 0, 123, time.UTC), ID: "rec-1"}

	token := EncodeCursor(in)
	require.NotContains(t, token, "=")

	out, err := DecodeCursor(token)
	require.NoError(t, err)
	require.True(t, in.Date.Equal(out.Date))
	require.Equal(t, in.ID, out.ID)
}

func TestDecodeCursorEmptyMeansFirstPage(t *testing.T) {
	c, err := DecodeCursor("  ")
	require.NoError(t, err)
	require.Nil(t, c)
	require.Equal(t, "", EncodeCursor(nil))
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	for _, token := range []string{"%%%", "bm8tc2VwYXJhdG9y", "bm90LWEtZGF0ZXxpZA"} {
		_, err := DecodeCursor(token)
		require.ErrorIs(t, err, domain.ErrValidation, token)
	}
}
