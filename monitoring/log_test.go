package monitoring

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileDestRoundtrip(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "run.log")
	m, err := Init(dest, "prog", "uuid-1")
	require.NoError(t, err)
	m.LogNode(LevelInfo, "proc", "RUN", "task", Fields{KeyTaskUID: "proc"})
	m.LogNode(LevelInfo, "proc", "DONE", "task", nil)
	m.LogNode(LevelError, "other", "FAIL", "task", Fields{KeyError: "boom"})
	require.NoError(t, m.Finalize())

	recs, err := Find(dest, Query{})
	require.NoError(t, err)
	require.Len(t, recs, 3)
	require.Equal(t, "proc", recs[0].Name)
	require.Equal(t, "RUN", recs[0].State)
	require.Equal(t, "task", recs[0].NodeType)
	require.Equal(t, "prog", recs[0].Fields[KeyProgramName])
	require.Equal(t, "uuid-1", recs[0].Fields[KeyProgramUUID])

	recs, err = Find(dest, Query{Name: "proc"})
	require.NoError(t, err)
	require.Len(t, recs, 2)

	recs, err = Find(dest, Query{State: "FAIL"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "boom", recs[0].Fields[KeyError])
	require.Equal(t, "error", recs[0].Level)
}

func TestSqliteDestRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.db")
	m, err := Init(sqlitePrefix+path, "prog", "uuid-2")
	require.NoError(t, err)
	m.LogNode(LevelInfo, "proc", "RUN", "task", Fields{KeyTaskUID: "proc"})
	m.LogNode(LevelInfo, "proc", "DONE", "task", nil)
	require.NoError(t, m.Finalize())

	recs, err := Find(sqlitePrefix+path, Query{Name: "proc"})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, "RUN", recs[0].State)
	require.Equal(t, "DONE", recs[1].State)
	require.Equal(t, "proc", recs[0].Fields[KeyTaskUID])
}

func TestNullDest(t *testing.T) {
	m, err := Init(DestNull, "prog", "uuid-3")
	require.NoError(t, err)
	m.LogNode(LevelInfo, "proc", "RUN", "task", nil)
	require.NoError(t, m.Finalize())

	recs, err := Find(DestNull, Query{})
	require.NoError(t, err)
	require.Empty(t, recs)
}

func TestDefaultDestPicksFile(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	dir := t.TempDir()
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(wd)

	m, err := Init("", "prog", "uuid-4")
	require.NoError(t, err)
	dest := m.Dest()
	m.LogNode(LevelInfo, "proc", "RUN", "task", nil)
	require.NoError(t, m.Finalize())
	_, err = os.Stat(dest)
	require.NoError(t, err)
}

func TestFinalizeDiscardsLaterRecords(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "run.log")
	m, err := Init(dest, "prog", "uuid-5")
	require.NoError(t, err)
	m.LogNode(LevelInfo, "proc", "RUN", "task", nil)
	require.NoError(t, m.Finalize())
	m.LogNode(LevelInfo, "proc", "DONE", "task", nil)

	recs, err := Find(dest, Query{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
}

func TestNilMonitorIsSafe(t *testing.T) {
	var m *Monitor
	m.LogNode(LevelInfo, "proc", "RUN", "task", nil)
	require.NoError(t, m.Finalize())
}
