// Package locking provides advisory file locks for the governance data root.
//
// A lock is a file created with O_CREATE|O_EXCL under data/locks/; its body
// records owner PID, hostname, and acquisition time. Acquisition polls with
// bounded backoff; release is tied to a Guard so every exit path frees the
// lock. Ordering is metadata > agent > knowledge, enforced by AcquireOrdered.
package locking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	goverrors "github.com/agentmesh/governance_layer/infrastructure/errors"
	"github.com/agentmesh/governance_layer/infrastructure/logging"
)

// Resource names. Ordering rank prevents deadlock when multiple locks are
// needed: lower rank is always acquired first.
const (
	MetadataLock  = "metadata"
	KnowledgeLock = "knowledge_graph"
)

// AgentLock returns the lock name for a single agent's state.
func AgentLock(agentID string) string {
	return "agent_" + agentID
}

func rank(name string) int {
	switch {
	case name == MetadataLock:
		return 0
	case strings.HasPrefix(name, "agent_"):
		return 1
	case name == KnowledgeLock:
		return 2
	default:
		return 3
	}
}

type lockInfo struct {
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Options tunes acquisition behaviour.
type Options struct {
	Poll     time.Duration
	Deadline time.Duration
	StaleAge time.Duration
}

// DefaultOptions returns the standard acquisition parameters.
func DefaultOptions() Options {
	return Options{
		Poll:     100 * time.Millisecond,
		Deadline: 5 * time.Second,
		StaleAge: 5 * time.Minute,
	}
}

// Manager hands out guards over named lock files in one directory.
type Manager struct {
	dir    string
	opts   Options
	logger *logging.Logger

	mu   sync.Mutex
	held map[string]struct{}
}

// NewManager creates a lock manager rooted at dir.
func NewManager(dir string, opts Options, logger *logging.Logger) *Manager {
	if opts.Poll <= 0 {
		opts.Poll = DefaultOptions().Poll
	}
	if opts.Deadline <= 0 {
		opts.Deadline = DefaultOptions().Deadline
	}
	if opts.StaleAge <= 0 {
		opts.StaleAge = DefaultOptions().StaleAge
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Manager{
		dir:    dir,
		opts:   opts,
		logger: logger,
		held:   make(map[string]struct{}),
	}
}

func (m *Manager) path(name string) string {
	return filepath.Join(m.dir, name+".lock")
}

// Guard represents one held lock. Release is idempotent.
type Guard struct {
	mgr      *Manager
	name     string
	released bool
	mu       sync.Mutex
}

// Name returns the guarded resource name.
func (g *Guard) Name() string { return g.name }

// Release frees the lock. Safe to call more than once.
func (g *Guard) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.released {
		return
	}
	g.released = true

	if err := os.Remove(g.mgr.path(g.name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		g.mgr.logger.WithError(err).WithFields(map[string]interface{}{"lock": g.name}).Warn("release lock")
	}
	g.mgr.mu.Lock()
	delete(g.mgr.held, g.name)
	g.mgr.mu.Unlock()
}

// Acquire takes the named lock, polling until the deadline. The returned
// guard must be released by the caller (defer guard.Release()).
func (m *Manager) Acquire(ctx context.Context, name string) (*Guard, error) {
	start := time.Now()
	deadline := start.Add(m.opts.Deadline)

	for {
		ok, err := m.tryAcquire(name)
		if err != nil {
			return nil, goverrors.Storage("acquire "+name, err)
		}
		if ok {
			m.mu.Lock()
			m.held[name] = struct{}{}
			m.mu.Unlock()
			return &Guard{mgr: m, name: name}, nil
		}

		// A dead owner should not wedge the system; reap eagerly while
		// waiting rather than only at startup.
		m.reapOne(name)

		if time.Now().After(deadline) {
			return nil, goverrors.LockTimeout(name, time.Since(start))
		}
		select {
		case <-ctx.Done():
			return nil, goverrors.LockTimeout(name, time.Since(start))
		case <-time.After(m.opts.Poll):
		}
	}
}

func (m *Manager) tryAcquire(name string) (bool, error) {
	f, err := os.OpenFile(m.path(name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	host, _ := os.Hostname()
	info := lockInfo{PID: os.Getpid(), Hostname: host, AcquiredAt: time.Now().UTC()}
	if err := json.NewEncoder(f).Encode(info); err != nil {
		_ = os.Remove(m.path(name))
		return false, fmt.Errorf("write lock body: %w", err)
	}
	return true, nil
}

// AcquireOrdered takes several locks in deadlock-safe order and returns a
// single guard set releasing them in reverse.
func (m *Manager) AcquireOrdered(ctx context.Context, names ...string) (*GuardSet, error) {
	sorted := append([]string(nil), names...)
	sort.SliceStable(sorted, func(i, j int) bool {
		ri, rj := rank(sorted[i]), rank(sorted[j])
		if ri != rj {
			return ri < rj
		}
		return sorted[i] < sorted[j]
	})

	set := &GuardSet{}
	for _, name := range sorted {
		g, err := m.Acquire(ctx, name)
		if err != nil {
			set.Release()
			return nil, err
		}
		set.guards = append(set.guards, g)
	}
	return set, nil
}

// GuardSet releases multiple guards in reverse acquisition order.
type GuardSet struct {
	guards []*Guard
}

// Release frees all locks in the set.
func (s *GuardSet) Release() {
	for i := len(s.guards) - 1; i >= 0; i-- {
		s.guards[i].Release()
	}
}

// ReapStale removes lock files whose owner PID is gone and whose file is
// older than the stale age. Returns the names reaped.
func (m *Manager) ReapStale() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, err
	}

	var reaped []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".lock") {
			continue
		}
		resource := strings.TrimSuffix(name, ".lock")
		if m.reapOne(resource) {
			reaped = append(reaped, resource)
		}
	}
	return reaped, nil
}

// reapOne removes the lock if its owner is demonstrably dead and the file is
// old enough. Locks held by this process are never reaped.
func (m *Manager) reapOne(resource string) bool {
	m.mu.Lock()
	_, ours := m.held[resource]
	m.mu.Unlock()
	if ours {
		return false
	}

	path := m.path(resource)
	raw, err := os.ReadFile(path)
	if err != nil {
		return false
	}

	var info lockInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		// Unreadable lock bodies still expire by age.
		if stat, statErr := os.Stat(path); statErr == nil && time.Since(stat.ModTime()) > m.opts.StaleAge {
			return os.Remove(path) == nil
		}
		return false
	}

	if info.PID == os.Getpid() {
		return false
	}
	if time.Since(info.AcquiredAt) <= m.opts.StaleAge {
		return false
	}
	if pidAlive(info.PID) {
		return false
	}

	if err := os.Remove(path); err != nil {
		return false
	}
	m.logger.WithFields(map[string]interface{}{
		"lock": resource,
		"pid":  info.PID,
	}).Info("Reaped stale lock")
	return true
}

func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}
