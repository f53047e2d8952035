package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codewarden/internal/mutation"
	"codewarden/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCheckpointRoundTrip(t *testing.T) {
	s := openTestStore(t)

	cps := []types.Checkpoint{
		{State: "plan", At: time.Now(), Meta: map[string]interface{}{"initial": true}},
		{State: "act", At: time.Now()},
		{State: "error", At: time.Now(), Meta: map[string]interface{}{"forced": true, "cause": "cancelled"}},
	}
	for _, cp := range cps {
		require.NoError(t, s.SaveCheckpoint("turn-1", cp))
	}
	require.NoError(t, s.SaveCheckpoint("turn-2", types.Checkpoint{State: "plan", At: time.Now()}))

	got, err := s.Checkpoints("turn-1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "plan", got[0].State)
	assert.Equal(t, "error", got[2].State)
	assert.Nil(t, got[1].Meta)
	if diff := cmp.Diff(cps[2].Meta, got[2].Meta); diff != "" {
		t.Errorf("meta mismatch (-want +got):\n%s", diff)
	}
}

func TestAuditTrail(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.RecordAudit("turn-1", mutation.AuditEvent{
		Type: mutation.OpWrite, Timestamp: time.Now(), Path: "/w/a.txt",
		Success: true, NewHash: "abc",
	}))
	require.NoError(t, s.RecordAudit("turn-1", mutation.AuditEvent{
		Type: mutation.OpReplace, Timestamp: time.Now(), Path: "/w/a.txt",
		StartLine: 2, EndLine: 4, Success: false, Error: "stale read",
	}))
	require.NoError(t, s.RecordAudit("turn-2", mutation.AuditEvent{
		Type: mutation.OpDelete, Timestamp: time.Now(), Path: "/w/b.txt", Success: true,
	}))

	trail, err := s.AuditTrail("turn-1", 10)
	require.NoError(t, err)
	require.Len(t, trail, 2)

	// Newest first.
	assert.Equal(t, mutation.OpReplace, trail[0].Type)
	assert.Equal(t, 2, trail[0].StartLine)
	assert.Equal(t, "stale read", trail[0].Error)
	assert.False(t, trail[0].Success)
	assert.Equal(t, mutation.OpWrite, trail[1].Type)
	assert.Equal(t, "abc", trail[1].NewHash)

	all, err := s.AuditTrail("", 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestAuditTrailLimit(t *testing.T) {
	s := openTestStore(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.RecordAudit("t", mutation.AuditEvent{
			Type: mutation.OpRead, Timestamp: time.Now(), Path: "/w/x", Success: true,
		}))
	}
	trail, err := s.AuditTrail("t", 3)
	require.NoError(t, err)
	assert.Len(t, trail, 3)
}

func TestCounters(t *testing.T) {
	s := openTestStore(t)

	v, err := s.Counter("turns_published")
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Increment("turns_published"))
	}
	require.NoError(t, s.Increment("turns_retried"))

	v, err = s.Counter("turns_published")
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)

	v, err = s.Counter("turns_retried")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}

func TestReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Increment("ops"))
	require.NoError(t, s.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	v, err := s2.Counter("ops")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}
