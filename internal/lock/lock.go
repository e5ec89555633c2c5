// Package lock implements the single-instance file lock: a non-blocking
// exclusive OS-level lock on a regular file, with the holder's pid
// written into the file and a background watcher that detects the lock
// file disappearing or changing owner (spec §4.2).
package lock

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/vitaliisemenov/run-record-archiver/internal/errs"
)

// WatchInterval is the polling interval for the liveness watcher.
const WatchInterval = 100 * time.Millisecond

// WatchJoinTimeout bounds how long StopWatcher waits for the watcher goroutine
// to exit before abandoning it.
const WatchJoinTimeout = 2 * time.Second

// Lock represents ownership of the single-instance file lock.
type Lock struct {
	path   string
	fl     *flock.Flock
	logger *slog.Logger

	mu        sync.Mutex
	watching  bool
	watchStop chan struct{}
	watchDone chan struct{}
}

// Acquire attempts to take the exclusive lock at path without blocking.
// On contention it returns an *errs.Error of KindLockHeld carrying the
// conflicting pid (read from the file's content) as the "pid" field.
func Acquire(path string, logger *slog.Logger) (*Lock, error) {
	if logger == nil {
		logger = slog.Default()
	}

	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, errs.Wrap(errs.KindLockHeld, "failed to attempt lock acquisition", err).WithField("path", path)
	}
	if !ok {
		pid := readPID(path)
		return nil, errs.New(errs.KindLockHeld, "lock already held by another instance").
			WithField("path", path).
			WithField("pid", pid)
	}

	if err := writePID(path, os.Getpid()); err != nil {
		_ = fl.Unlock()
		return nil, errs.Wrap(errs.KindLockHeld, "failed to write owner pid", err).WithField("path", path)
	}

	logger.Info("lock acquired", "path", path, "pid", os.Getpid())
	return &Lock{path: path, fl: fl, logger: logger}, nil
}

// Release unlocks and removes the lock file. Safe to call more than once.
func (l *Lock) Release() error {
	l.StopWatcher()
	if err := l.fl.Unlock(); err != nil {
		return errs.Wrap(errs.KindLockHeld, "failed to release lock", err).WithField("path", l.path)
	}
	_ = os.Remove(l.path)
	l.logger.Info("lock released", "path", l.path)
	return nil
}

// Watch starts a background goroutine that polls every WatchInterval to
// verify the lock file still exists and its recorded pid still matches
// this process. On the first failed check it invokes onInvalidate exactly
// once and stops. Calling Watch twice is a no-op.
func (l *Lock) Watch(onInvalidate func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.watching {
		return
	}
	l.watching = true
	l.watchStop = make(chan struct{})
	l.watchDone = make(chan struct{})

	go func() {
		defer close(l.watchDone)
		ticker := time.NewTicker(WatchInterval)
		defer ticker.Stop()
		ownPID := os.Getpid()
		for {
			select {
			case <-l.watchStop:
				return
			case <-ticker.C:
				if !l.stillValid(ownPID) {
					l.logger.Warn("lock invalidated externally", "path", l.path)
					onInvalidate()
					return
				}
			}
		}
	}()
}

func (l *Lock) stillValid(ownPID int) bool {
	pid := readPID(l.path)
	return pid == ownPID
}

// StopWatcher signals the watcher to stop and waits up to WatchJoinTimeout
// for it to exit; beyond that it abandons the goroutine rather than block.
func (l *Lock) StopWatcher() {
	l.mu.Lock()
	if !l.watching {
		l.mu.Unlock()
		return
	}
	stop, done := l.watchStop, l.watchDone
	l.watching = false
	l.mu.Unlock()

	close(stop)
	ctx, cancel := context.WithTimeout(context.Background(), WatchJoinTimeout)
	defer cancel()
	select {
	case <-done:
	case <-ctx.Done():
		l.logger.Warn("lock watcher did not exit within join timeout, abandoning", "path", l.path)
	}
}

func readPID(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

func writePID(path string, pid int) error {
	return os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o644)
}
