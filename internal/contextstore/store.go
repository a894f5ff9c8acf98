// Package contextstore keeps the project context file and session log that
// activations are recorded into.
//
// A Store is rooted at a directory holding:
//
//   - PROJECT_CONTEXT.json: project info, working memory domains, and
//     context health, rewritten on every change
//   - SESSIONS.jsonl: one JSON line per session, append-only
//   - archive/: archived domains and pre-reset snapshots, listed in
//     archive/INDEX.jsonl
//   - AI_HANDOFF.md: the handoff note for the next session
//
// Writers serialize on an advisory file lock so a CLI invocation and a
// running server can share a directory.
package contextstore

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"
)

const (
	ContextFile  = "PROJECT_CONTEXT.json"
	SessionsFile = "SESSIONS.jsonl"
	HandoffFile  = "AI_HANDOFF.md"
	ArchiveDir   = "archive"
	ArchiveIndex = "INDEX.jsonl"
	lockFile     = ".toolgate-context.lock"

	// DefaultSizeLimitKB is the context size budget for new projects.
	DefaultSizeLimitKB = 100

	// compressionThreshold is the share of the size limit above which
	// compression is flagged.
	compressionThreshold = 0.8

	lockRetryDelay  = 25 * time.Millisecond
	dateLayout      = "2006-01-02"
	timestampLayout = "2006-01-02T15:04:05"
)

var (
	// ErrExists is returned by Init when the context file already exists.
	ErrExists = errors.New("project context already exists")

	// ErrInvalidDomain is returned for an empty domain name.
	ErrInvalidDomain = errors.New("domain name is required")

	// ErrUnknownDomain is returned when archiving a domain that does not exist.
	ErrUnknownDomain = errors.New("unknown domain")

	// ErrNoNextTask is returned by WriteHandoff without a next task.
	ErrNoNextTask = errors.New("next task is required")
)

// Options configure a Store.
type Options struct {
	SizeLimitKB float64
}

// Store reads and writes the context files under one directory.
type Store struct {
	dir         string
	sizeLimitKB float64
	mu          sync.Mutex // flock does not exclude goroutines sharing one handle
	lock        *flock.Flock
	logger      *zap.Logger
	now         func() time.Time
}

// New creates a Store rooted at dir. Nothing is read or written until the
// first call.
func New(dir string, opts Options, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.SizeLimitKB <= 0 {
		opts.SizeLimitKB = DefaultSizeLimitKB
	}
	return &Store{
		dir:         dir,
		sizeLimitKB: opts.SizeLimitKB,
		lock:        flock.New(filepath.Join(dir, lockFile)),
		logger:      logger,
		now:         time.Now,
	}
}

// Dir returns the root directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) contextPath() string  { return filepath.Join(s.dir, ContextFile) }
func (s *Store) sessionsPath() string { return filepath.Join(s.dir, SessionsFile) }

// Default returns a fresh context for a project named name.
func (s *Store) Default(name string) *ProjectContext {
	if name == "" {
		name = "New Project"
	}
	today := s.now().Format(dateLayout)
	return &ProjectContext{
		Project: Project{
			Name:       name,
			Version:    "0.1.0",
			Status:     "active",
			Phase:      "Initial",
			StartDate:  today,
			Deployment: Deployment{Environment: "development"},
		},
		WorkingMemory: WorkingMemory{Domains: map[string]*Domain{}},
		ContextHealth: Health{
			SizeLimitKB: s.sizeLimitKB,
			LastReset:   today,
		},
	}
}

// Load reads the context file. A missing file yields the default context.
func (s *Store) Load(ctx context.Context) (*ProjectContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.read()
}

// Init writes a default context for project name. It fails with ErrExists
// unless force is set.
func (s *Store) Init(ctx context.Context, name string, force bool) (*ProjectContext, error) {
	var pc *ProjectContext
	err := s.withLock(ctx, func() error {
		if _, err := os.Stat(s.contextPath()); err == nil && !force {
			return ErrExists
		}
		pc = s.Default(name)
		s.updateSize(pc)
		return s.write(pc)
	})
	return pc, err
}

// AddSession appends session to the log and updates the working memory
// counters. It returns the new session number.
func (s *Store) AddSession(ctx context.Context, session Session) (int, error) {
	var num int
	err := s.withLock(ctx, func() error {
		pc, err := s.read()
		if err != nil {
			return err
		}
		pc.WorkingMemory.SessionCount++
		num = pc.WorkingMemory.SessionCount

		session.Number = num
		if session.Date.IsZero() {
			session.Date = s.now()
		}
		if session.Deliverables == nil {
			session.Deliverables = []string{}
		}
		if session.Model == "" {
			session.Model = "unknown"
		}
		if err := s.appendSession(session); err != nil {
			return err
		}

		pc.WorkingMemory.LastSession = &num
		pc.ContextHealth.SessionsSinceReset++
		s.updateSize(pc)
		return s.write(pc)
	})
	if err != nil {
		return 0, err
	}
	return num, nil
}

// UpdateDomain applies u to domain name, creating it with defaults if
// needed, and makes it the active domain.
func (s *Store) UpdateDomain(ctx context.Context, name string, u DomainUpdate) (*Domain, error) {
	if name == "" {
		return nil, ErrInvalidDomain
	}
	var out *Domain
	err := s.withLock(ctx, func() error {
		pc, err := s.read()
		if err != nil {
			return err
		}
		d, ok := pc.WorkingMemory.Domains[name]
		if !ok || d == nil {
			d = newDomain()
			pc.WorkingMemory.Domains[name] = d
		}
		u.apply(d)
		pc.WorkingMemory.ActiveDomain = name
		s.updateSize(pc)
		out = d
		return s.write(pc)
	})
	return out, err
}

// Stats summarizes the session log and working memory.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	pc, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	st := &Stats{
		ProjectName:   pc.Project.Name,
		ContextSizeKB: pc.ContextHealth.SizeKB,
	}
	for _, d := range pc.WorkingMemory.Domains {
		if d != nil && d.Status == StatusActive {
			st.ActiveDomains++
		}
	}

	err = s.scanSessions(func(sess Session) {
		st.TotalSessions++
		st.TotalTokensIn += sess.TokensIn
		st.TotalTokensOut += sess.TokensOut
	})
	if err != nil {
		return nil, err
	}
	if st.TotalTokensIn > 0 {
		st.EfficiencyRatio = float64(st.TotalTokensOut) / float64(st.TotalTokensIn)
	}
	return st, nil
}

// Sessions returns every logged session in order.
func (s *Store) Sessions(ctx context.Context) ([]Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := []Session{}
	err := s.scanSessions(func(sess Session) { out = append(out, sess) })
	return out, err
}

func (s *Store) withLock(ctx context.Context, fn func() error) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating context dir: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	locked, err := s.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("locking context dir: %w", err)
	}
	if !locked {
		return errors.New("locking context dir: lock not acquired")
	}
	defer func() { _ = s.lock.Unlock() }()
	return fn()
}

func (s *Store) read() (*ProjectContext, error) {
	data, err := os.ReadFile(s.contextPath())
	if errors.Is(err, os.ErrNotExist) {
		return s.Default(""), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", ContextFile, err)
	}
	var pc ProjectContext
	if err := json.Unmarshal(data, &pc); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", ContextFile, err)
	}
	if pc.WorkingMemory.Domains == nil {
		pc.WorkingMemory.Domains = map[string]*Domain{}
	}
	return &pc, nil
}

// write replaces the context file atomically.
func (s *Store) write(pc *ProjectContext) error {
	data, err := json.MarshalIndent(pc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", ContextFile, err)
	}
	return writeFileAtomic(s.contextPath(), data)
}

// writeFileAtomic writes data to a temp file beside path and renames it
// into place.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("closing %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replacing %s: %w", filepath.Base(path), err)
	}
	return nil
}

func (s *Store) appendSession(sess Session) error {
	return appendJSONLine(s.sessionsPath(), sess)
}

func appendJSONLine(path string, v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s line: %w", filepath.Base(path), err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", filepath.Base(path), err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return fmt.Errorf("appending to %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

// scanSessions calls fn for each decodable line. Malformed lines are
// logged and skipped.
func (s *Store) scanSessions(fn func(Session)) error {
	return scanJSONLines(s.sessionsPath(), s.logger, func(raw []byte) error {
		var sess Session
		if err := json.Unmarshal(raw, &sess); err != nil {
			return err
		}
		fn(sess)
		return nil
	})
}

// scanJSONLines calls fn for each non-empty line of path. A line fn fails
// to decode is logged and skipped. A missing file has no lines.
func scanJSONLines(path string, logger *zap.Logger, fn func([]byte) error) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("opening %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		if err := fn(sc.Bytes()); err != nil {
			logger.Warn("skipping malformed line",
				zap.String("file", filepath.Base(path)),
				zap.Int("line", line),
				zap.Error(err))
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}
	return nil
}

// updateSize recomputes size_kb from the compact encoding and flags
// compression once the size passes the threshold.
func (s *Store) updateSize(pc *ProjectContext) {
	data, err := json.Marshal(pc)
	if err != nil {
		return
	}
	size := float64(len(data)) / 1024
	pc.ContextHealth.SizeKB = math.Round(size*100) / 100
	if pc.ContextHealth.SizeLimitKB <= 0 {
		pc.ContextHealth.SizeLimitKB = s.sizeLimitKB
	}
	if size > pc.ContextHealth.SizeLimitKB*compressionThreshold {
		if !pc.ContextHealth.CompressionEnabled {
			s.logger.Warn("project context approaching size limit",
				zap.Float64("size_kb", pc.ContextHealth.SizeKB),
				zap.Float64("limit_kb", pc.ContextHealth.SizeLimitKB))
		}
		pc.ContextHealth.CompressionEnabled = true
	}
}
