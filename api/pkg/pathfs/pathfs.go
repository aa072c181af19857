// Package pathfs implements the prefix-anchored path validation and the
// small, crash-safe filesystem primitives every other component builds on:
// atomic small-file writes, advisory-locked appends, bounded tail reads, and
// the segment-counter allocator.
//
// Locking follows the teacher's low-level syscall idiom (direct use of
// golang.org/x/sys/unix rather than a third-party flock wrapper, grounded on
// the teacher's own direct dependency on golang.org/x/sys for raw ioctl/FD
// work in its desktop integration layer).
package pathfs

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"

	"github.com/winebot/controlplane/api/pkg/apierr"
)

// TailThresholdBytes is the size above which tail_lines must stream the file
// instead of loading it whole, per the specification's ">= 4 MiB" floor.
const TailThresholdBytes = 8 * 1024 * 1024

// Validator resolves paths against a closed list of allowed prefixes.
type Validator struct {
	prefixes []string
}

// NewValidator canonicalises each configured prefix once at construction
// time so every later validate_path call only needs to resolve the
// candidate path.
func NewValidator(prefixes ...string) (*Validator, error) {
	v := &Validator{}
	for _, p := range prefixes {
		resolved, err := filepath.EvalSymlinks(p)
		if err != nil {
			// The prefix itself may not exist yet (e.g. a fresh artifacts
			// root) -- fall back to a lexically-cleaned absolute path so
			// validation still has a boundary to check against.
			abs, absErr := filepath.Abs(p)
			if absErr != nil {
				return nil, fmt.Errorf("resolve allowed prefix %q: %w", p, err)
			}
			resolved = filepath.Clean(abs)
		}
		v.prefixes = append(v.prefixes, resolved)
	}
	return v, nil
}

// Validate resolves p to an absolute, symlink-free path and fails with
// invalid_path unless it lies under one of the configured prefixes. It uses
// true path resolution (filepath.EvalSymlinks over the longest existing
// ancestor) rather than a lexical prefix match, so ".." traversals and
// symlink escapes are rejected even when the final path component does not
// yet exist on disk.
func (v *Validator) Validate(p string) (string, error) {
	if p == "" {
		return "", apierr.InvalidPath("empty path")
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", apierr.Wrap(apierr.KindInvalidPath, err, "resolve path %q", p)
	}

	resolved, err := resolveExisting(abs)
	if err != nil {
		return "", apierr.Wrap(apierr.KindInvalidPath, err, "resolve path %q", p)
	}

	for _, prefix := range v.prefixes {
		if resolved == prefix || strings.HasPrefix(resolved, prefix+string(filepath.Separator)) {
			return resolved, nil
		}
	}
	return "", apierr.InvalidPath("path %q is outside the allowed prefixes %s", p, strings.Join(v.prefixes, ", "))
}

// resolveExisting walks up from abs until it finds an existing ancestor,
// resolves symlinks on that ancestor, then re-appends the non-existent
// suffix. This guarantees every symlink component actually on disk is
// honoured, while still allowing validation of not-yet-created paths (e.g.
// a session directory about to be mkdir'd).
func resolveExisting(abs string) (string, error) {
	suffix := []string{}
	cur := filepath.Clean(abs)
	for {
		if _, err := os.Lstat(cur); err == nil {
			real, err := filepath.EvalSymlinks(cur)
			if err != nil {
				return "", err
			}
			for i := len(suffix) - 1; i >= 0; i-- {
				real = filepath.Join(real, suffix[i])
			}
			return filepath.Clean(real), nil
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			// Nothing on the filesystem matched; treat the lexical path as
			// resolved (still anchored below by the prefix check).
			return filepath.Clean(abs), nil
		}
		suffix = append(suffix, filepath.Base(cur))
		cur = parent
	}
}

// AtomicWriteSmall writes bytes to path via a sibling temp file + rename.
func AtomicWriteSmall(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return apierr.IO(err, "create temp file for %s", path)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return apierr.IO(err, "write temp file for %s", path)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return apierr.IO(err, "sync temp file for %s", path)
	}
	if err := tmp.Close(); err != nil {
		return apierr.IO(err, "close temp file for %s", path)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return apierr.IO(err, "rename temp file into %s", path)
	}
	return nil
}

// AppendLine opens path in append mode, takes an advisory exclusive lock on
// the file descriptor, writes one LF-terminated line, flushes, and releases
// the lock. Writers in other processes (different trace backends) are
// tolerated -- the lock only serialises the write itself.
func AppendLine(path string, line []byte) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return apierr.IO(err, "open %s for append", path)
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return apierr.IO(err, "lock %s", path)
	}
	defer func() {
		if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("failed to release advisory lock")
		}
	}()

	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	if len(buf) == 0 || buf[len(buf)-1] != '\n' {
		buf = append(buf, '\n')
	}
	if _, err := f.Write(buf); err != nil {
		return apierr.IO(err, "write line to %s", path)
	}
	return f.Sync()
}

// TailLines returns the last n newline-delimited lines of path. Files at or
// above TailThresholdBytes are streamed in fixed-size chunks from the end
// rather than loaded whole.
func TailLines(path string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apierr.IO(err, "open %s", path)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, apierr.IO(err, "stat %s", path)
	}

	if info.Size() < TailThresholdBytes {
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		var all []string
		for scanner.Scan() {
			all = append(all, scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			return nil, apierr.IO(err, "scan %s", path)
		}
		return lastN(all, n), nil
	}

	return streamTail(f, info.Size(), n)
}

func streamTail(f *os.File, size int64, n int) ([]string, error) {
	const chunkSize = 64 * 1024
	var (
		lines  []string
		offset = size
		carry  []byte
	)
	buf := make([]byte, chunkSize)

	for offset > 0 && len(lines) <= n {
		readSize := int64(chunkSize)
		if readSize > offset {
			readSize = offset
		}
		offset -= readSize
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return nil, apierr.IO(err, "seek in tail stream")
		}
		if _, err := io.ReadFull(f, buf[:readSize]); err != nil {
			return nil, apierr.IO(err, "read in tail stream")
		}
		chunk := append(append([]byte{}, buf[:readSize]...), carry...)
		parts := bytes.Split(chunk, []byte("\n"))
		carry = parts[0]
		for i := len(parts) - 1; i >= 1; i-- {
			if len(parts[i]) == 0 && i == len(parts)-1 {
				continue
			}
			lines = append([]string{string(parts[i])}, lines...)
		}
	}
	if len(carry) > 0 {
		lines = append([]string{string(carry)}, lines...)
	}
	return lastN(lines, n), nil
}

func lastN(lines []string, n int) []string {
	if len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}

// ReadFileTail seeks from the end and returns up to maxBytes, decoded as
// UTF-8 with invalid sequences replaced.
func ReadFileTail(path string, maxBytes int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", apierr.IO(err, "open %s", path)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", apierr.IO(err, "stat %s", path)
	}

	size := info.Size()
	start := int64(0)
	if size > maxBytes {
		start = size - maxBytes
	}
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return "", apierr.IO(err, "seek %s", path)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return "", apierr.IO(err, "read %s", path)
	}
	return strings.ToValidUTF8(string(data), "�"), nil
}

// NextSegmentIndex acquires an exclusive advisory lock on
// segment_index.lock inside sessionDir, reads segment_index.txt (falling
// back to one plus the highest observed video_NNN.mkv index, or 1), writes
// the next value back, releases the lock, and returns the *old* value (the
// index to use for this segment).
func NextSegmentIndex(sessionDir string) (int, error) {
	lockPath := filepath.Join(sessionDir, "segment_index.lock")
	lf, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return 0, apierr.IO(err, "open %s", lockPath)
	}
	defer lf.Close()

	if err := unix.Flock(int(lf.Fd()), unix.LOCK_EX); err != nil {
		return 0, apierr.IO(err, "lock %s", lockPath)
	}
	defer func() {
		if err := unix.Flock(int(lf.Fd()), unix.LOCK_UN); err != nil {
			log.Warn().Err(err).Str("path", lockPath).Msg("failed to release segment index lock")
		}
	}()

	counterPath := filepath.Join(sessionDir, "segment_index.txt")
	current, err := readCounter(counterPath)
	if err != nil {
		return 0, err
	}
	if current == 0 {
		current = highestExistingSegment(sessionDir) + 1
	}

	if err := AtomicWriteSmall(counterPath, []byte(strconv.Itoa(current+1))); err != nil {
		return 0, err
	}
	return current, nil
}

func readCounter(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, apierr.IO(err, "read %s", path)
	}
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, apierr.IO(err, "parse segment counter in %s", path)
	}
	return v, nil
}

func highestExistingSegment(sessionDir string) int {
	entries, err := os.ReadDir(sessionDir)
	if err != nil {
		return 0
	}
	highest := 0
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "video_") || !strings.HasSuffix(name, ".mkv") {
			continue
		}
		trimmed := strings.TrimSuffix(strings.TrimPrefix(name, "video_"), ".mkv")
		// Skip part files like video_001_part002.mkv.
		if strings.Contains(trimmed, "_part") {
			continue
		}
		if n, err := strconv.Atoi(trimmed); err == nil && n > highest {
			highest = n
		}
	}
	return highest
}
