package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONB_ValueScan(t *testing.T) {
	in := JSONB[[]string]{Data: []string{"40310", "40311"}}

	v, err := in.Value()
	require.NoError(t, err)

	var out JSONB[[]string]
	require.NoError(t, out.Scan(v))
	assert.Equal(t, in.Data, out.Data)

	require.NoError(t, out.Scan(`["1"]`))
	assert.Equal(t, []string{"1"}, out.Data)

	require.NoError(t, out.Scan(nil))
	assert.Nil(t, out.Data)

	assert.Error(t, out.Scan(42))
}

func TestJSONB_MarshalsAsPlainJSON(t *testing.T) {
	data, err := JSONB[[]string]{Data: []string{"a"}}.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `["a"]`, string(data))
}

func TestResolveMigrationFolder(t *testing.T) {
	dir := t.TempDir()
	ms := NewMigrationService(nil, &MigrationConfig{MigrationFolderPath: dir})

	got, err := ms.resolveMigrationFolder()
	require.NoError(t, err)
	assert.Equal(t, dir, got)

	ms = NewMigrationService(nil, &MigrationConfig{MigrationFolderPath: "does/not/exist"})
	_, err = ms.resolveMigrationFolder()
	assert.Error(t, err)
}
