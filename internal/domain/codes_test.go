package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRandomCodeFormat(t *testing.T) {
	now := time.Date(2026, time.March, 3, 0, 0, 0, 0, time.UTC)
	seen := make(map[string]struct{})
	for i := 0; i < 50; i++ {
		code, err := RandomCode(now)
		require.NoError(t, err)
		require.True(t, ValidCode(code), code)
		require.Equal(t, "CERT-2026-", code[:10])
		seen[code] = struct{}{}
	}
	require.Greater(t, len(seen), 45)
}

func TestValidCode(t *testing.T) {
	require.True(t, ValidCode("CERT-2026-abc12345"))
	require.False(t, ValidCode("CERT-2026-ABC12345"))
	require.False(t, ValidCode("CERT-26-abc12345"))
	require.False(t, ValidCode("cert-2026-abc12345"))
	require.False(t, ValidCode(""))
}
