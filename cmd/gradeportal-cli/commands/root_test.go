package commands

import (
	"os"
	"path/filepath"
	"testing"

	"gradeportal-backend/internal/components/configutil"

	"github.com/stretchr/testify/require"
)

func TestReadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gradeportal.json5")
	require.NoError(t, os.WriteFile(path, []byte(`{
		database: "grades.db",
		max_retries: 0,
		accounts: [{district: "Round Rock ISD", username: "parent", notify: ["a@example.com"]}],
	}`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "gradeportal.local.json5"), []byte(`{
		smtp: {server: "smtp.example.com", port: 587, email_address: "grades@example.com"},
	}`), 0644))

	file, err := configutil.ReadConfig[Config](path)
	require.NoError(t, err)
	merged, err := withDefaults(file)
	require.NoError(t, err)

	require.Equal(t, "grades.db", merged.Database)
	require.Equal(t, "1s", merged.RetryInterval)
	require.Equal(t, 4, merged.Concurrency)
	require.NotNil(t, merged.MaxRetries)
	require.Zero(t, *merged.MaxRetries)
	require.NotNil(t, merged.Smtp)
	require.Equal(t, 587, merged.Smtp.Port)
	require.Len(t, merged.Accounts, 1)
	require.Equal(t, []string{"a@example.com"}, merged.Accounts[0].Notify)
}

func TestNewScraperRejectsBadInterval(t *testing.T) {
	config = defaultConfig()
	config.RetryInterval = "soon"
	_, err := newScraper()
	require.ErrorContains(t, err, "retry_interval")
}

func TestWithDefaultsEmptyFile(t *testing.T) {
	merged, err := withDefaults(Config{})
	require.NoError(t, err)
	require.Equal(t, defaultConfig(), merged)
	require.Nil(t, merged.MaxRetries)
	require.Nil(t, merged.Smtp)
}
