// Package lock implements the storage lock (C1): mutual exclusion on a
// named file with stale/dead-holder recovery, and an atomic file-replace
// helper for the durable state every other component may need to persist.
//
// The acquisition protocol (exclusive-create a sibling ".lock" file
// containing "pid:acquiredMs", reclaim on dead PID or staleness, poll
// otherwise) is grounded on the pack's file-locking idiom in
// other_examples/15b62d4d_Cloudzero-cloudzero-agent__app-utils-lock-filelock.go.go
// (PID/timestamp ownership record, stale-timeout reclaim, configurable
// retry) and layered under the teacher's own go.mod dependency
// github.com/gofrs/flock as a second, OS-level advisory lock -- belt and
// suspenders consistent with a module whose whole job is protecting
// on-disk state (internal/engine/state/state.go's withTx pattern).
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"github.com/run-pi/pi/internal/logging"
	"github.com/run-pi/pi/internal/scherr"
)

var log = logging.With("lock")

// Options configures acquisition; zero values fall back to defaults.
type Options struct {
	MaxWait time.Duration
	Poll    time.Duration
	Stale   time.Duration
}

const (
	defaultMaxWait = 30 * time.Second
	defaultPoll    = 50 * time.Millisecond
	defaultStale   = 10 * time.Second
)

func (o Options) withDefaults() Options {
	if o.MaxWait <= 0 {
		o.MaxWait = defaultMaxWait
	}
	if o.Poll <= 0 {
		o.Poll = defaultPoll
	}
	if o.Stale <= 0 {
		o.Stale = defaultStale
	}
	return o
}

func lockPath(path string) string { return path + ".lock" }

// WithFileLock runs critical while holding an exclusive lock tied to
// path, and releases it on every exit path including a panic unwinding
// through critical. It returns critical's result.
func WithFileLock[T any](ctx context.Context, path string, opts Options, critical func() (T, error)) (T, error) {
	opts = opts.withDefaults()
	var zero T

	osLock := flock.New(lockPath(path) + ".os")
	if err := acquire(ctx, path, opts, osLock); err != nil {
		return zero, err
	}
	defer release(path, osLock)

	return critical()
}

// acquire implements spec.md §4.1's protocol: exclusive-create the
// lockfile; on collision, reclaim a dead-PID or stale holder immediately,
// otherwise sleep Poll (bounded by remaining budget) and retry; fail with
// KindLockTimeout once cumulative wait reaches MaxWait.
func acquire(ctx context.Context, path string, opts Options, osLock *flock.Flock) error {
	p := lockPath(path)
	deadline := time.Now().Add(opts.MaxWait)

	for {
		if err := tryCreate(p); err == nil {
			// Secondary OS-level advisory lock; best-effort, the PID
			// file above is the authoritative cross-process protocol.
			_, _ = osLock.TryLock()
			return nil
		} else if !os.IsExist(err) {
			return err
		}

		reclaimed, err := tryReclaim(p, opts.Stale)
		if err != nil && !os.IsNotExist(err) {
			return err
		}
		if reclaimed {
			continue // retry immediately, no sleep
		}

		if time.Now().After(deadline) {
			return scherr.New(scherr.KindLockTimeout, fmt.Sprintf("timed out acquiring lock %s", p))
		}

		remaining := time.Until(deadline)
		wait := opts.Poll
		if remaining < wait {
			wait = remaining
		}
		if wait <= 0 {
			return scherr.New(scherr.KindLockTimeout, fmt.Sprintf("timed out acquiring lock %s", p))
		}

		select {
		case <-ctx.Done():
			return scherr.Cancelled("lock wait aborted")
		case <-time.After(wait):
		}
	}
}

func tryCreate(p string) error {
	f, err := os.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			log.Debug().Err(cerr).Msg("close lockfile after create")
		}
	}()
	_, err = fmt.Fprintf(f, "%d:%d\n", os.Getpid(), time.Now().UnixMilli())
	return err
}

// tryReclaim unlinks p if its holder's PID is dead or its age exceeds
// staleAge, and reports whether it did so.
func tryReclaim(p string, staleAge time.Duration) (bool, error) {
	info, err := os.Stat(p)
	if err != nil {
		return false, err
	}

	data, err := os.ReadFile(p)
	if err != nil {
		return false, err
	}

	pid, _ := parseHolder(string(data))
	if pid != 0 && !pidAlive(pid) {
		return unlinkQuiet(p), nil
	}

	if time.Since(info.ModTime()) > staleAge {
		return unlinkQuiet(p), nil
	}

	return false, nil
}

func unlinkQuiet(p string) bool {
	if err := os.Remove(p); err != nil {
		return false
	}
	return true
}

func parseHolder(contents string) (pid int, acquiredMs int64) {
	contents = strings.TrimSpace(contents)
	parts := strings.SplitN(contents, ":", 2)
	if len(parts) != 2 {
		return 0, 0
	}
	pid, _ = strconv.Atoi(parts[0])
	acquiredMs, _ = strconv.ParseInt(parts[1], 10, 64)
	return pid, acquiredMs
}

// pidAlive probes pid with signal 0, the standard liveness check: ESRCH
// means no such process, anything else (including success or EPERM for a
// live process we don't own) means it's alive.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, syscall.Signal(0))
	if err == nil {
		return true
	}
	return !errors.Is(err, syscall.ESRCH)
}

// release unlinks the lockfile; failures are swallowed, since another
// process will reclaim it as stale (spec.md §4.1).
func release(path string, osLock *flock.Flock) {
	if err := osLock.Unlock(); err != nil {
		log.Debug().Err(err).Msg("release advisory os lock")
	}
	if err := os.Remove(lockPath(path)); err != nil && !os.IsNotExist(err) {
		log.Debug().Err(err).Str("path", path).Msg("release lockfile")
	}
}

// AtomicWriteTextFile writes content to a sibling temp file and renames it
// over path. On rename failure the temp file is best-effort removed and
// the rename error is returned, never any cleanup error (spec.md §4.1).
func AtomicWriteTextFile(path, content string) error {
	dir := filepath.Dir(path)
	tmp := filepath.Join(dir, fmt.Sprintf("%s.tmp-%d-%x", filepath.Base(path), os.Getpid(), randomSuffix()))

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp) // best effort; rename error wins regardless
		return err
	}
	return nil
}

func randomSuffix() uint32 {
	var b [4]byte
	if _, err := cryptoRandRead(b[:]); err != nil {
		return uint32(time.Now().UnixNano())
	}
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
