package sha256

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHasherHashDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	got, err := h.Hash([]byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", got)
	require.Equal(t, got, h.HashString("hello world"))
}

func TestHasherDetectsSmallEdits(t *testing.T) {
	t.Parallel()

	h := New()
	base := h.HashString("Senior Engineer at Acme")
	for _, edited := range []string{
		"Senior Engineer at Acme ",
		"senior Engineer at Acme",
		"Senior Engineer at Acme.",
		"",
	} {
		require.NotEqual(t, base, h.HashString(edited), "edit %q", edited)
	}
}
