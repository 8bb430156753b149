package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studio_gateway/internal/logging"
	"studio_gateway/internal/models"
	"studio_gateway/internal/storage"
	"studio_gateway/internal/utils"
)

const sampleCatalog = `
models:
  - id: gpt-4o
    name: GPT-4o
    provider: openai
    icon: Sparkles
    api_key_env: TEST_CATALOG_OPENAI_KEY
  - id: deepseek-chat
    name: DeepSeek
    provider: deepseek
    base_url: https://api.deepseek.com/v1
    api_key: sk-inline
    enabled: false
`

func newModelRepo(t *testing.T) *storage.ModelRepository {
	t.Helper()

	db, err := storage.NewDB(storage.DefaultDBConfig("sqlite://" + filepath.Join(t.TempDir(), "catalog.db")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(context.Background()))

	enc, err := storage.NewEncryption(make([]byte, 32))
	require.NoError(t, err)
	return storage.NewModelRepository(db, enc)
}

func TestParse(t *testing.T) {
	file, err := Parse([]byte(sampleCatalog))
	require.NoError(t, err)
	require.Len(t, file.Models, 2)
	assert.Equal(t, "gpt-4o", file.Models[0].ID)
	assert.Equal(t, "TEST_CATALOG_OPENAI_KEY", file.Models[0].APIKeyEnv)
	require.NotNil(t, file.Models[1].Enabled)
	assert.False(t, *file.Models[1].Enabled)
}

func TestParseRejectsBadDocuments(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown key", "models:\n  - id: a\n    colour: red\n"},
		{"missing id", "models:\n  - name: nameless\n"},
		{"duplicate id", "models:\n  - id: a\n  - id: a\n"},
		{"not yaml", "models: [unterminated"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestParseEmptyDocument(t *testing.T) {
	file, err := Parse(nil)
	require.NoError(t, err)
	assert.Empty(t, file.Models)
}

func TestEntryModel(t *testing.T) {
	env := map[string]string{"KEY_VAR": "sk-from-env"}
	getenv := func(k string) string { return env[k] }

	m := Entry{ID: "m1", Provider: "openai", APIKey: "sk-inline", APIKeyEnv: "KEY_VAR"}.Model(getenv)
	assert.Equal(t, "m1", m.Name)
	assert.True(t, m.IsEnabled)
	assert.Equal(t, "sk-from-env", utils.StringPtrValue(m.APIKey))
	assert.Nil(t, m.BaseURL)

	m = Entry{ID: "m2", Provider: "openai", APIKey: "sk-inline", APIKeyEnv: "UNSET"}.Model(getenv)
	assert.Equal(t, "sk-inline", utils.StringPtrValue(m.APIKey))

	m = Entry{ID: "m3", Provider: "openai"}.Model(getenv)
	assert.Nil(t, m.APIKey)
}

func TestSeedInsertsMissingModelsOnly(t *testing.T) {
	t.Setenv("TEST_CATALOG_OPENAI_KEY", "sk-env")
	ctx := context.Background()
	repo := newModelRepo(t)

	require.NoError(t, repo.Create(ctx, &models.ModelConfig{
		ID: "deepseek-chat", Name: "Edited by admin", Provider: "deepseek", IsEnabled: true,
	}))

	file, err := Parse([]byte(sampleCatalog))
	require.NoError(t, err)

	result, err := Seed(ctx, repo, file, logging.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []string{"gpt-4o"}, result.Created)
	assert.Equal(t, []string{"deepseek-chat"}, result.Skipped)

	gpt, err := repo.GetByID(ctx, "gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, "sk-env", gpt.Credential())
	assert.Equal(t, "Sparkles", gpt.Icon)
	assert.True(t, gpt.IsEnabled)

	ds, err := repo.GetByID(ctx, "deepseek-chat")
	require.NoError(t, err)
	assert.Equal(t, "Edited by admin", ds.Name)
	assert.True(t, ds.IsEnabled)

	// second run is a no-op
	result, err = Seed(ctx, repo, file, nil)
	require.NoError(t, err)
	assert.Empty(t, result.Created)
	assert.Len(t, result.Skipped, 2)
}

func TestSeedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleCatalog), 0o600))

	result, err := SeedFile(context.Background(), newModelRepo(t), path, logging.NewNop())
	require.NoError(t, err)
	assert.Len(t, result.Created, 2)

	_, err = SeedFile(context.Background(), newModelRepo(t), filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)
}
