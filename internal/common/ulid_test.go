package common

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewULID_Monotonic(t *testing.T) {
	prev := ""
	for i := 0; i < 100; i++ {
		id, err := NewULID()
		require.NoError(t, err)
		require.Len(t, id, 26)
		require.Greater(t, id, prev)
		prev = id
	}
}
