package agent

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildArgsDefaults(t *testing.T) {
	args := buildArgs(RunOptions{Prompt: "hi"})

	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "--output-format stream-json")
	assert.Contains(t, joined, "--permission-mode bypassPermissions")
	assert.Contains(t, joined, "--allow-dangerously-skip-permissions")
	assert.Contains(t, joined, "--allowedTools Read,Edit,Write,Bash,Glob,Grep")
	assert.NotContains(t, joined, "--resume")
	assert.NotContains(t, args, "hi")
}

func TestBuildArgsResumeAndMode(t *testing.T) {
	args := buildArgs(RunOptions{
		ResumeID:       "sess-9",
		PermissionMode: "acceptEdits",
		AllowedTools:   []string{"Read"},
	})

	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "--resume sess-9")
	assert.Contains(t, joined, "--permission-mode acceptEdits")
	assert.NotContains(t, joined, "--allow-dangerously-skip-permissions")
	assert.Contains(t, joined, "--allowedTools Read")
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-claude")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestCLIRuntimeStreamsEvents(t *testing.T) {
	script := writeScript(t, `cat >/dev/null
echo '{"type":"system","subtype":"init","session_id":"s1","model":"m","tools":[]}'
echo ''
echo 'garbage'
echo '{"type":"assistant","session_id":"s1","message":{"content":[{"type":"text","text":"hi"}]}}'
echo '{"type":"result","subtype":"success","session_id":"s1","result":"done"}'
`)
	rt := NewCLIRuntime(script, nil)

	run, err := rt.Start(context.Background(), RunOptions{Prompt: "go", WorkDir: t.TempDir()})
	require.NoError(t, err)

	var kinds []EventKind
	for ev, err := range run.Events() {
		require.NoError(t, err)
		kinds = append(kinds, ev.Kind())
	}
	assert.Equal(t, []EventKind{KindInit, KindAssistant, KindResult}, kinds)

	for _, err := range run.Events() {
		assert.Error(t, err)
	}
}

func TestCLIRuntimeFailureIncludesStderr(t *testing.T) {
	script := writeScript(t, `echo 'no credentials' >&2
exit 3
`)
	rt := NewCLIRuntime(script, nil)

	run, err := rt.Start(context.Background(), RunOptions{Prompt: "go"})
	require.NoError(t, err)

	var streamErr error
	for _, err := range run.Events() {
		streamErr = err
	}
	require.Error(t, streamErr)
	assert.Contains(t, streamErr.Error(), "no credentials")
}

func TestCLIRuntimeInterrupt(t *testing.T) {
	script := writeScript(t, `echo '{"type":"system","subtype":"init","session_id":"s1"}'
exec sleep 30
`)
	rt := NewCLIRuntime(script, nil)

	run, err := rt.Start(context.Background(), RunOptions{Prompt: "go"})
	require.NoError(t, err)

	var seen int
	for ev, err := range run.Events() {
		require.NoError(t, err)
		seen++
		if ev.Kind() == KindInit {
			require.NoError(t, run.Interrupt(context.Background()))
		}
	}
	assert.Equal(t, 1, seen)
}

func TestCLIRuntimeMissingBinary(t *testing.T) {
	rt := NewCLIRuntime(filepath.Join(t.TempDir(), "missing"), nil)
	_, err := rt.Start(context.Background(), RunOptions{Prompt: "go"})
	require.Error(t, err)
}

func TestTailBufferKeepsLastBytes(t *testing.T) {
	b := newTailBuffer(8)
	_, _ = b.Write([]byte("abc"))
	assert.Equal(t, "abc", b.String())

	_, _ = b.Write([]byte("defghij"))
	assert.Equal(t, "cdefghij", b.String())

	_, _ = b.Write([]byte("0123456789"))
	assert.Equal(t, "23456789", b.String())
}
