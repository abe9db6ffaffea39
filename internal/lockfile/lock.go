// Package lockfile implements the daemon singleton lock (§4.8): an
// exclusive, non-blocking flock on a well-known lock file so that at
// most one syncengined process runs against a given task store at a
// time. Grounded on the teacher's cmd/bd/daemon_lock.go
// (acquireDaemonLock/tryDaemonLock/readDaemonLockInfo shape), adapted
// to a reusable package (the teacher kept this in package main) and to
// Unix-only locking via syscall.Flock, since syncengined communicates
// over a Unix domain socket (§6) and has no Windows target.
package lockfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrLocked is returned when another process already holds the lock.
var ErrLocked = errors.New("syncengined lock already held by another process")

// Info is the metadata stored inside the lock file.
type Info struct {
	PID       int       `json:"pid"`
	ParentPID int       `json:"parent_pid,omitempty"`
	DBPath    string    `json:"db_path"`
	Version   string    `json:"version"`
	StartedAt time.Time `json:"started_at"`
}

// Lock represents a held lock. Closing it releases the flock.
type Lock struct {
	file *os.File
	path string
}

// Close releases the lock.
func (l *Lock) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Acquire opens (creating if needed) lockPath and takes an exclusive,
// non-blocking lock on it, writing Info describing the holder. Returns
// ErrLocked if another process already holds it.
func Acquire(lockPath, dbPath, version string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o700); err != nil {
		return nil, fmt.Errorf("lockfile: mkdir: %w", err)
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("lockfile: open: %w", err)
	}

	if err := flockExclusive(f); err != nil {
		_ = f.Close()
		if errors.Is(err, errDaemonLocked) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("lockfile: flock: %w", err)
	}

	info := Info{
		PID:       os.Getpid(),
		ParentPID: os.Getppid(),
		DBPath:    dbPath,
		Version:   version,
		StartedAt: time.Now().UTC(),
	}

	_ = f.Truncate(0)
	_, _ = f.Seek(0, 0)
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	_ = enc.Encode(info)
	_ = f.Sync()

	pidFile := strings.TrimSuffix(lockPath, filepath.Ext(lockPath)) + ".pid"
	_ = os.WriteFile(pidFile, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o600)

	return &Lock{file: f, path: lockPath}, nil
}

// TryLock probes lockPath for a running holder without blocking and
// without leaving a lock held: it acquires and immediately releases.
// Falls back to the sibling .pid file for lock files predating this
// scheme, mirroring the teacher's backward-compatibility path.
func TryLock(lockPath string) (running bool, pid int) {
	f, err := os.OpenFile(lockPath, os.O_RDWR, 0)
	if err != nil {
		return checkPIDFile(lockPath)
	}
	defer func() { _ = f.Close() }()

	if err := flockExclusive(f); err != nil {
		if errors.Is(err, errDaemonLocked) {
			_, _ = f.Seek(0, 0)
			var info Info
			if decErr := json.NewDecoder(f).Decode(&info); decErr == nil {
				pid = info.PID
			} else {
				_, _ = f.Seek(0, 0)
				buf := make([]byte, 32)
				n, _ := f.Read(buf)
				if n > 0 {
					_, _ = fmt.Sscanf(string(buf[:n]), "%d", &pid)
				}
				if pid == 0 {
					_, pid = checkPIDFile(lockPath)
				}
			}
			return true, pid
		}
		return false, 0
	}

	return false, 0
}

// checkPIDFile checks if a process is running by reading the sibling
// .pid file, for lock files written before Info existed.
func checkPIDFile(lockPath string) (running bool, pid int) {
	pidFile := strings.TrimSuffix(lockPath, filepath.Ext(lockPath)) + ".pid"
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return false, 0
	}

	pidVal, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false, 0
	}

	if !isProcessRunning(pidVal) {
		return false, 0
	}

	return true, pidVal
}

// ReadInfo reads and parses the lock file's Info.
func ReadInfo(lockPath string) (*Info, error) {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return nil, err
	}

	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		var pid int
		if _, err := fmt.Sscanf(string(data), "%d", &pid); err == nil {
			return &Info{PID: pid}, nil
		}
		return nil, fmt.Errorf("lockfile: parse: %w", err)
	}

	return &info, nil
}

// Validate compares a running daemon's recorded db path against
// expectedDB, returning an error on mismatch. A missing or unreadable
// lock file is not itself an error.
func Validate(lockPath, expectedDB string) error {
	info, err := ReadInfo(lockPath)
	if err != nil {
		return nil
	}

	if info.DBPath != "" && expectedDB != "" && info.DBPath != expectedDB {
		return fmt.Errorf("lockfile: daemon db mismatch: running daemon uses %s but expected %s", info.DBPath, expectedDB)
	}

	return nil
}
