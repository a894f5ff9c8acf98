package contextstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

func (s *Store) archivePath(name string) string { return filepath.Join(s.dir, ArchiveDir, name) }

// ArchiveDomain moves domain name out of working memory into
// archive/domain_<name>_<YYYYMMDD>.json and leaves an archived stub in its
// place. Archiving an archived domain returns its stub unchanged.
func (s *Store) ArchiveDomain(ctx context.Context, name string) (*Domain, error) {
	if err := validateDomainName(name); err != nil {
		return nil, err
	}
	var out *Domain
	err := s.withLock(ctx, func() error {
		pc, err := s.read()
		if err != nil {
			return err
		}
		d, ok := pc.WorkingMemory.Domains[name]
		if !ok || d == nil {
			return fmt.Errorf("%w: %q", ErrUnknownDomain, name)
		}
		if d.Status == StatusArchived {
			out = d
			return nil
		}
		if out, err = s.archiveLocked(pc, name); err != nil {
			return err
		}
		s.updateSize(pc)
		return s.write(pc)
	})
	return out, err
}

// Compress archives every inactive domain, and with aggressive every domain
// except the active one. The compression flag is recomputed from the new
// size. An aggressive compress that is still over the size limit resets the
// context, keeping the active domain.
func (s *Store) Compress(ctx context.Context, aggressive bool) (*CompressResult, error) {
	res := &CompressResult{Archived: []string{}}
	err := s.withLock(ctx, func() error {
		pc, err := s.read()
		if err != nil {
			return err
		}
		names := make([]string, 0, len(pc.WorkingMemory.Domains))
		for name := range pc.WorkingMemory.Domains {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			d := pc.WorkingMemory.Domains[name]
			if d == nil || d.Status == StatusArchived {
				continue
			}
			if d.Status != StatusInactive && (!aggressive || name == pc.WorkingMemory.ActiveDomain) {
				continue
			}
			if validateDomainName(name) != nil {
				s.logger.Warn("skipping domain with unsafe name", zap.String("domain", name))
				continue
			}
			if _, err := s.archiveLocked(pc, name); err != nil {
				return err
			}
			res.Archived = append(res.Archived, name)
		}

		pc.ContextHealth.CompressionEnabled = false
		s.updateSize(pc)
		res.OverLimit = pc.ContextHealth.SizeKB > pc.ContextHealth.SizeLimitKB
		if res.OverLimit {
			s.logger.Warn("project context still over size limit after compression",
				zap.Float64("size_kb", pc.ContextHealth.SizeKB),
				zap.Float64("limit_kb", pc.ContextHealth.SizeLimitKB),
				zap.Bool("aggressive", aggressive))
			if aggressive {
				if pc, res.ResetArchive, err = s.resetLocked(pc, true); err != nil {
					return err
				}
			}
		}
		res.SizeKB = pc.ContextHealth.SizeKB
		return s.write(pc)
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Reset snapshots the whole context to archive/full_context_session_<n>.json
// and starts a fresh one. The project block and session count carry over,
// as does the active domain when keepActive is set. It returns the new
// context and the snapshot file name.
func (s *Store) Reset(ctx context.Context, keepActive bool) (*ProjectContext, string, error) {
	var (
		out  *ProjectContext
		file string
	)
	err := s.withLock(ctx, func() error {
		pc, err := s.read()
		if err != nil {
			return err
		}
		if out, file, err = s.resetLocked(pc, keepActive); err != nil {
			return err
		}
		return s.write(out)
	})
	return out, file, err
}

// WriteHandoff renders AI_HANDOFF.md from the current context and h, and
// returns its path.
func (s *Store) WriteHandoff(ctx context.Context, h Handoff) (string, error) {
	if strings.TrimSpace(h.NextTask) == "" {
		return "", ErrNoNextTask
	}
	path := filepath.Join(s.dir, HandoffFile)
	err := s.withLock(ctx, func() error {
		pc, err := s.read()
		if err != nil {
			return err
		}
		return writeFileAtomic(path, []byte(s.renderHandoff(pc, h)))
	})
	return path, err
}

// Archives returns the archive index in order.
func (s *Store) Archives(ctx context.Context) ([]ArchiveEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := []ArchiveEntry{}
	err := scanJSONLines(s.archivePath(ArchiveIndex), s.logger, func(raw []byte) error {
		var e ArchiveEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			return err
		}
		out = append(out, e)
		return nil
	})
	return out, err
}

// archiveLocked writes domain name to its archive file, indexes it, and
// swaps in the stub. The caller writes pc.
func (s *Store) archiveLocked(pc *ProjectContext, name string) (*Domain, error) {
	now := s.now()
	file := fmt.Sprintf("domain_%s_%s.json", name, now.Format("20060102"))
	doc := struct {
		Domain       string  `json:"domain"`
		ArchivedDate string  `json:"archived_date"`
		Data         *Domain `json:"data"`
	}{name, now.Format(timestampLayout), pc.WorkingMemory.Domains[name]}
	if err := s.writeArchive(file, doc); err != nil {
		return nil, err
	}
	if err := appendJSONLine(s.archivePath(ArchiveIndex), ArchiveEntry{Type: "domain", Name: name, Date: now, File: file}); err != nil {
		return nil, err
	}
	stub := &Domain{Status: StatusArchived, ArchivedDate: now.Format(timestampLayout), ArchiveFile: file}
	pc.WorkingMemory.Domains[name] = stub
	s.logger.Info("archived domain", zap.String("domain", name), zap.String("file", file))
	return stub, nil
}

func (s *Store) resetLocked(pc *ProjectContext, keepActive bool) (*ProjectContext, string, error) {
	sessions := pc.WorkingMemory.SessionCount
	file := "full_context_session_" + strconv.Itoa(sessions) + ".json"
	if err := s.writeArchive(file, pc); err != nil {
		return nil, "", err
	}
	if err := appendJSONLine(s.archivePath(ArchiveIndex), ArchiveEntry{Type: "context", Name: pc.Project.Name, Date: s.now(), File: file}); err != nil {
		return nil, "", err
	}

	fresh := s.Default(pc.Project.Name)
	fresh.Project = pc.Project
	fresh.AIInstructions = pc.AIInstructions
	fresh.ContextHealth.SizeLimitKB = pc.ContextHealth.SizeLimitKB
	fresh.WorkingMemory.SessionCount = sessions
	if active := pc.WorkingMemory.ActiveDomain; keepActive && active != "" {
		if d, ok := pc.WorkingMemory.Domains[active]; ok {
			fresh.WorkingMemory.Domains[active] = d
			fresh.WorkingMemory.ActiveDomain = active
		}
	}
	s.updateSize(fresh)
	s.logger.Info("reset project context", zap.String("snapshot", file), zap.Int("sessions", sessions))
	return fresh, file, nil
}

func (s *Store) writeArchive(file string, v any) error {
	if err := os.MkdirAll(filepath.Join(s.dir, ArchiveDir), 0o755); err != nil {
		return fmt.Errorf("creating archive dir: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", file, err)
	}
	return writeFileAtomic(s.archivePath(file), data)
}

func (s *Store) renderHandoff(pc *ProjectContext, h Handoff) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# AI Handoff Document\n*Last Updated: Session %d - %s*\n\n",
		pc.WorkingMemory.SessionCount, s.now().Format(dateLayout))
	fmt.Fprintf(&b, "## Quick Context\n- **Project**: %s\n- **Current Focus**: %s\n- **Next Task**: %s\n",
		pc.Project.Name, pc.WorkingMemory.ActiveDomain, h.NextTask)

	b.WriteString("\n## Recent Decisions\n")
	if len(h.Decisions) == 0 {
		b.WriteString("- No recent decisions recorded\n")
	}
	for i, d := range h.Decisions {
		fmt.Fprintf(&b, "%d. %s\n", i+1, d)
	}

	b.WriteString("\n## Active Files\n")
	if len(h.ActiveFiles) == 0 {
		b.WriteString("- No active files recorded\n")
	}
	for _, f := range h.ActiveFiles {
		fmt.Fprintf(&b, "- `%s`\n", f)
	}

	if d := pc.WorkingMemory.Domains[pc.WorkingMemory.ActiveDomain]; d != nil && len(d.Constraints) > 0 {
		b.WriteString("\n## Critical Constraints\n")
		for _, c := range d.Constraints {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}

	fmt.Fprintf(&b, "\n## For Next Session\n%s\n", h.NextTask)
	return b.String()
}

// validateDomainName rejects names that cannot be used in an archive file
// name.
func validateDomainName(name string) error {
	if name == "" {
		return ErrInvalidDomain
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("%w: %q is not a valid domain name", ErrInvalidDomain, name)
	}
	return nil
}
