package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelectModules(t *testing.T) {
	t.Setenv("DB_ADAPTERS", "")
	assert.Len(t, selectModules("DB_ADAPTERS", "sqlite", DBProviderModules), 1)

	t.Setenv("DB_ADAPTERS", "postgres, mysql,,oracle")
	assert.Len(t, selectModules("DB_ADAPTERS", "sqlite", DBProviderModules), 2, "unknown adapters are skipped")

	t.Setenv("STORAGE_ADAPTERS", "local,gcs")
	assert.Len(t, selectModules("STORAGE_ADAPTERS", "local", StorageProviderModules), 2)
}
