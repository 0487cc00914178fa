package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/claudebot/internal/domain"
)

func backends(t *testing.T) map[string]func(t *testing.T) *Store {
	t.Helper()
	return map[string]func(t *testing.T) *Store{
		"json": func(t *testing.T) *Store {
			return New(NewJSONFile(filepath.Join(t.TempDir(), "sessions.json")), nil)
		},
		"sqlite": func(t *testing.T) *Store {
			backend, err := NewSQLite(filepath.Join(t.TempDir(), "sessions.db"))
			require.NoError(t, err)
			s := New(backend, nil)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func record(id, prompt string) domain.SessionRecord {
	return domain.NewSessionRecord(id, prompt, "/work", time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC))
}

func TestStoreAddOrUpdate(t *testing.T) {
	t.Parallel()

	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			s := open(t)

			require.NoError(t, s.AddOrUpdate(ctx, "42", record("a", "first")))
			require.NoError(t, s.AddOrUpdate(ctx, "42", record("b", "second")))
			require.NoError(t, s.AddOrUpdate(ctx, "42", record("c", "third")))

			// Re-stamping an existing id keeps its position and identity fields.
			require.NoError(t, s.AddOrUpdate(ctx, "42", record("b", "changed")))

			got := s.List(ctx, "42")
			require.Len(t, got, 3)
			assert.Equal(t, []string{"a", "b", "c"}, []string{got[0].SessionID, got[1].SessionID, got[2].SessionID})
			assert.Equal(t, "second", got[1].Prompt)
			assert.Equal(t, domain.StatusRunning, got[1].Status)
		})
	}
}

func TestStoreSetStatus(t *testing.T) {
	t.Parallel()

	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			s := open(t)

			require.NoError(t, s.AddOrUpdate(ctx, "7", record("a", "p")))
			require.NoError(t, s.SetStatus(ctx, "7", "a", domain.StatusDone))
			assert.Equal(t, domain.StatusDone, s.List(ctx, "7")[0].Status)

			// Terminal records never go back to running or to another terminal value.
			require.NoError(t, s.SetStatus(ctx, "7", "a", domain.StatusRunning))
			require.NoError(t, s.SetStatus(ctx, "7", "a", domain.StatusError))
			require.NoError(t, s.AddOrUpdate(ctx, "7", record("a", "p")))
			assert.Equal(t, domain.StatusDone, s.List(ctx, "7")[0].Status)

			// Unknown ids and users are silent no-ops.
			require.NoError(t, s.SetStatus(ctx, "7", "missing", domain.StatusError))
			require.NoError(t, s.SetStatus(ctx, "nobody", "a", domain.StatusError))
			assert.Len(t, s.List(ctx, "7"), 1)
		})
	}
}

func TestStoreListEmpty(t *testing.T) {
	t.Parallel()

	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			got := open(t).List(context.Background(), "unknown")
			assert.NotNil(t, got)
			assert.Empty(t, got)
		})
	}
}

func TestJSONFileLoadFailsSoft(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "sessions.json")
	s := New(NewJSONFile(path), nil)
	assert.Empty(t, s.Load(ctx), "missing file should load as empty")

	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	assert.Empty(t, s.Load(ctx), "malformed file should load as empty")

	// A write after a malformed read replaces the file wholesale.
	require.NoError(t, s.AddOrUpdate(ctx, "1", record("x", "hello")))
	assert.Len(t, s.List(ctx, "1"), 1)
}

func TestJSONFileFormat(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "sessions.json")
	s := New(NewJSONFile(path), nil)
	require.NoError(t, s.AddOrUpdate(ctx, "123", record("abc", "hello")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n  \"123\": [")
	assert.Contains(t, string(data), `"sessionId": "abc"`)
	assert.Contains(t, string(data), `"createdAt": "2026-03-01T10:30:00Z"`)
	assert.Contains(t, string(data), `"status": "running"`)
}

func TestOpenUnknownBackend(t *testing.T) {
	t.Parallel()

	_, err := Open("redis", "", "", nil)
	require.Error(t, err)
}
