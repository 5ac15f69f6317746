package audit

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFileLogger(t *testing.T) *FileLogger {
	t.Helper()

	logPath := filepath.Join(t.TempDir(), "audit.log")
	logger, err := NewFileLogger(&Config{
		Enabled: true,
		Type:    FileAuditType,
		Options: map[string]interface{}{"file_path": logPath},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = logger.Close() })

	return logger
}

func TestFileLoggerLogAndQuery(t *testing.T) {
	logger := newTestFileLogger(t)

	require.NoError(t, logger.Log(Event{
		Action:   ActionBackupCreate,
		Outcome:  OutcomeSuccess,
		BackupID: "b-1",
		Detail:   "2 records",
	}))
	require.NoError(t, logger.Log(Event{
		Action:  ActionBackupRestore,
		Outcome: OutcomeFailure,
		Detail:  "wrong password",
	}))

	result, err := logger.Query(QueryOptions{Action: ActionBackupCreate})
	require.NoError(t, err)
	require.Len(t, result.Events, 1)
	assert.Equal(t, "b-1", result.Events[0].BackupID)
	assert.Equal(t, OutcomeSuccess, result.Events[0].Outcome)
	assert.NotEmpty(t, result.Events[0].ID)
	assert.False(t, result.Events[0].Timestamp.IsZero())
}

func TestFileLoggerQueryFilters(t *testing.T) {
	logger := newTestFileLogger(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, logger.Log(Event{
			Action:  ActionBackupExport,
			Outcome: OutcomeSuccess,
		}))
	}
	require.NoError(t, logger.Log(Event{
		Action:  ActionBackupExport,
		Outcome: OutcomeDenied,
	}))

	denied, err := logger.Query(QueryOptions{Outcome: OutcomeDenied})
	require.NoError(t, err)
	assert.Len(t, denied.Events, 1)

	limited, err := logger.Query(QueryOptions{Action: ActionBackupExport, Limit: 3})
	require.NoError(t, err)
	assert.Len(t, limited.Events, 3)
	assert.True(t, limited.HasMore)
}

func TestFileLoggerSurvivesReopen(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.log")
	cfg := &Config{
		Enabled: true,
		Type:    FileAuditType,
		Options: map[string]interface{}{"file_path": logPath},
	}

	logger, err := NewFileLogger(cfg)
	require.NoError(t, err)
	require.NoError(t, logger.Log(Event{Action: ActionBackupCreate, Outcome: OutcomeSuccess}))
	require.NoError(t, logger.Close())

	// Logging after Close reopens the file instead of failing.
	require.NoError(t, logger.Log(Event{Action: ActionBackupImport, Outcome: OutcomeSuccess}))

	since := time.Now().Add(-time.Minute)
	result, err := logger.Query(QueryOptions{Since: &since})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Filtered)

	require.NoError(t, logger.Close())
}

func TestNoOpLogger(t *testing.T) {
	logger, err := NewLogger(nil)
	require.NoError(t, err)

	assert.NoError(t, logger.Log(Event{Action: ActionBackupCreate}))
	result, err := logger.Query(QueryOptions{})
	require.NoError(t, err)
	assert.Empty(t, result.Events)
	assert.NoError(t, logger.Close())
}
