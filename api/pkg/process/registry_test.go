package process

import (
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryReapsExitedChild(t *testing.T) {
	r := NewRegistry()

	cmd := exec.Command("true")
	require.NoError(t, cmd.Start())
	h := r.Add(cmd.Process, "true")

	_ = cmd.Wait()
	// give the kernel a moment to remove /proc/<pid>
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r.ReapTick()
		if h.Exited() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.True(t, h.Exited())
	assert.Empty(t, r.Snapshot())
}

func TestFindProcessesExactMatchesSelf(t *testing.T) {
	pid := os.Getpid()
	comm, err := os.ReadFile(procPath(pid) + "/comm")
	require.NoError(t, err)

	matches, err := FindProcesses(trimNewline(comm), true)
	require.NoError(t, err)
	assert.Contains(t, matches, pid)
}

func trimNewline(b []byte) string {
	s := string(b)
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
