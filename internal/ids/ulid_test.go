package ids_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poskernel/core/internal/ids"
)

func TestNewIsUniqueAndFixedLength(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id, err := ids.New()
		require.NoError(t, err)
		assert.Len(t, id, 26)
		_, dup := seen[id]
		assert.False(t, dup, "unexpected duplicate id %s", id)
		seen[id] = struct{}{}
	}
}

func TestNewIsSortableByCreationTime(t *testing.T) {
	first, err := ids.New()
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := ids.New()
	require.NoError(t, err)
	assert.Less(t, first, second)
}
