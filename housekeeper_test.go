package docfold

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docfold/docfold/blob"
)

func TestPruneStorageEnforcesCap(t *testing.T) {
	instance, _ := newTestInstance(t, func(config *Config) {
		config.MaxStorageMB = 1
		config.HousekeepInterval = -1 // keep the background loop out of the test
	})

	payload := bytes.Repeat([]byte("x"), 500_000)
	for i := 0; i < 3; i++ {
		_, err := instance.blobs.Save(payload, "html", "finance", blob.Extra{})
		require.NoError(t, err)
	}
	require.Greater(t, instance.blobs.TotalSize(""), int64(1<<20))

	instance.pruneStorage(discard())
	assert.LessOrEqual(t, instance.blobs.TotalSize(""), int64(1<<20))
	assert.Len(t, instance.blobs.Metas(""), 2)

	// already under budget, nothing more to remove
	instance.pruneStorage(discard())
	assert.Len(t, instance.blobs.Metas(""), 2)
}
