package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/getoutvideo/gateway/internal/models"
	"github.com/getoutvideo/gateway/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var secretPattern = regexp.MustCompile(`sk_[A-Za-z0-9_-]{64}`)

func setupCLI(t *testing.T) {
	t.Helper()

	dir := t.TempDir()
	chdir(t, dir)
	t.Setenv("GOV_SERVER_ENVIRONMENT", "test")
	t.Setenv("GOV_DATABASE_DSN", storage.SQLitePrefix+filepath.Join(dir, "gateway.db"))
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cmd := newRootCmd("test", "none", "unknown")
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))

	err := cmd.Execute()
	return out.String(), err
}

func listKeys(t *testing.T) []models.APIKey {
	t.Helper()

	out, err := run(t, "", "key", "list", "--json")
	require.NoError(t, err)

	var keys []models.APIKey
	require.NoError(t, json.Unmarshal([]byte(out), &keys))
	return keys
}

func TestKeyProvision(t *testing.T) {
	setupCLI(t)

	out, err := run(t, "", "key", "provision")
	require.NoError(t, err)
	assert.Contains(t, out, "API key created:")
	assert.Contains(t, out, "Save this key now")
	first := secretPattern.FindString(out)
	require.NotEmpty(t, first)

	out, err = run(t, "n\n", "key", "provision")
	require.NoError(t, err)
	assert.Contains(t, out, "An API key already exists")
	assert.Contains(t, out, "Keeping the existing key.")
	assert.Empty(t, secretPattern.FindString(out), "an existing secret is never printed")

	out, err = run(t, "y\n", "key", "provision")
	require.NoError(t, err)
	assert.Contains(t, out, "API key rotated:")
	second := secretPattern.FindString(out)
	require.NotEmpty(t, second)
	assert.NotEqual(t, first, second)

	out, err = run(t, "", "key", "provision", "--rotate")
	require.NoError(t, err)
	third := secretPattern.FindString(out)
	assert.NotEqual(t, second, third)

	keys := listKeys(t)
	require.Len(t, keys, 1)
	assert.Equal(t, models.DefaultAPIKeyName, keys[0].Name)
}

func TestKeyLifecycle(t *testing.T) {
	setupCLI(t)

	out, err := run(t, "", "key", "create", "--name", "mobile app")
	require.NoError(t, err)
	require.NotEmpty(t, secretPattern.FindString(out))

	keys := listKeys(t)
	require.Len(t, keys, 1)
	id := keys[0].ID.String()
	assert.Equal(t, "mobile app", keys[0].Name)
	assert.True(t, keys[0].IsActive)

	out, err = run(t, "", "key", "deactivate", id)
	require.NoError(t, err)
	assert.Contains(t, out, "deactivated")
	assert.False(t, listKeys(t)[0].IsActive)

	_, err = run(t, "", "key", "activate", id)
	require.NoError(t, err)
	assert.True(t, listKeys(t)[0].IsActive)

	out, err = run(t, "", "key", "rotate", id)
	require.NoError(t, err)
	assert.Contains(t, out, "API key rotated:")

	out, err = run(t, "", "key", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "mobile app")
	assert.Contains(t, out, "never")

	_, err = run(t, "", "key", "rotate", "not-a-uuid")
	assert.Error(t, err)
}

func TestAdminHashPassword(t *testing.T) {
	out, err := run(t, "", "admin", "hash-password", "--password", "correct horse battery")
	require.NoError(t, err)

	hash := strings.TrimSpace(out)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("correct horse battery")))

	out, err = run(t, "correct horse battery\n", "admin", "hash-password")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(strings.TrimSpace(out)), []byte("correct horse battery")))

	_, err = run(t, "", "admin", "hash-password", "--password", "short")
	assert.Error(t, err)
}

func TestLogsPruneAndMigrate(t *testing.T) {
	setupCLI(t)

	out, err := run(t, "", "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "up to date")

	out, err = run(t, "", "logs", "prune", "--older-than", "24h")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted 0 request log entries")
}

func TestVersion(t *testing.T) {
	out, err := run(t, "", "version", "--json")
	require.NoError(t, err)

	var info map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, "test", info["version"])
}
