// Package process tracks children spawned by the control plane, reaps them
// on a tick, and offers a pure /proc scan for name/cmdline matching -- no
// external pgrep/pkill is ever shelled out to, per the specification.
package process

import (
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// Handle is an opaque reference to a spawned child.
type Handle struct {
	PID  int
	Name string

	mu     sync.Mutex
	proc   *os.Process
	exited bool
}

// Exited reports whether a non-blocking reap has already observed this
// process gone.
func (h *Handle) Exited() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exited
}

// Registry is the process-wide set of handles for children created by this
// service. It is initialised once at startup and passed by reference to
// whatever components spawn children (the recorder supervisor, each input
// tracer) -- never a package-level global.
type Registry struct {
	mu      sync.Mutex
	handles map[int]*Handle
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{handles: make(map[int]*Handle)}
}

// Add registers a freshly spawned process.
func (r *Registry) Add(proc *os.Process, name string) *Handle {
	h := &Handle{PID: proc.Pid, Name: name, proc: proc}
	r.mu.Lock()
	r.handles[proc.Pid] = h
	r.mu.Unlock()
	return h
}

// Remove drops a handle, e.g. after an explicit wait/stop path already
// reaped it.
func (r *Registry) Remove(pid int) {
	r.mu.Lock()
	delete(r.handles, pid)
	r.mu.Unlock()
}

// Snapshot returns the currently tracked handles.
func (r *Registry) Snapshot() []*Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		out = append(out, h)
	}
	return out
}

// ReapTick performs one non-blocking "has exited?" pass over every tracked
// handle, removing any that have exited. winebotd runs it on a 5s scheduler
// tick (reapInterval in api/cmd/winebotd/main.go).
func (r *Registry) ReapTick() {
	for _, h := range r.Snapshot() {
		if h.Exited() {
			r.Remove(h.PID)
			continue
		}
		alive := isAlive(h.PID)
		if !alive {
			h.mu.Lock()
			h.exited = true
			h.mu.Unlock()
			r.Remove(h.PID)
			log.Debug().Int("pid", h.PID).Str("name", h.Name).Msg("reaped exited child")
		}
	}
}

// isAlive performs the non-blocking liveness check via /proc: a PID is alive
// when /proc/<pid> exists. A reused PID is reported as alive.
func isAlive(pid int) bool {
	_, err := os.Stat(procPath(pid))
	return err == nil
}

func procPath(pid int) string {
	return "/proc/" + strconv.Itoa(pid)
}

// FindProcesses enumerates /proc/<pid> entries and matches either
// /proc/<pid>/comm (when exact is true) or /proc/<pid>/cmdline (substring,
// when exact is false) against pattern. This never shells out to pgrep.
func FindProcesses(pattern string, exact bool) ([]int, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, err
	}

	var matches []int
	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		if exact {
			comm, err := os.ReadFile(procPath(pid) + "/comm")
			if err != nil {
				continue
			}
			if strings.TrimSpace(string(comm)) == pattern {
				matches = append(matches, pid)
			}
			continue
		}

		cmdline, err := os.ReadFile(procPath(pid) + "/cmdline")
		if err != nil {
			continue
		}
		normalised := strings.ReplaceAll(string(cmdline), "\x00", " ")
		if strings.Contains(normalised, pattern) {
			matches = append(matches, pid)
		}
	}
	return matches, nil
}
