package contextstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/toolgate/internal/activation"
)

var testNow = time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)

func newStore(t *testing.T, opts Options) *Store {
	t.Helper()
	s := New(t.TempDir(), opts, nil)
	s.now = func() time.Time { return testNow }
	return s
}

func TestLoad_MissingFileReturnsDefault(t *testing.T) {
	s := newStore(t, Options{})
	pc, err := s.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "New Project", pc.Project.Name)
	assert.Equal(t, "2026-05-06", pc.Project.StartDate)
	assert.Equal(t, 0, pc.WorkingMemory.SessionCount)
	assert.Nil(t, pc.WorkingMemory.LastSession)
	assert.Equal(t, float64(DefaultSizeLimitKB), pc.ContextHealth.SizeLimitKB)
	assert.NoFileExists(t, filepath.Join(s.Dir(), ContextFile), "load does not write")
}

func TestInit(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, Options{})

	pc, err := s.Init(ctx, "toolgate", false)
	require.NoError(t, err)
	assert.Equal(t, "toolgate", pc.Project.Name)
	assert.Greater(t, pc.ContextHealth.SizeKB, 0.0)

	_, err = s.Init(ctx, "other", false)
	assert.ErrorIs(t, err, ErrExists)

	pc, err = s.Init(ctx, "other", true)
	require.NoError(t, err)
	loaded, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "other", loaded.Project.Name)
	assert.Equal(t, pc.Project, loaded.Project)
}

func TestAddSession(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, Options{})

	n, err := s.AddSession(ctx, Session{Domain: "search", TokensIn: 100, TokensOut: 40, Deliverables: []string{"a.go"}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = s.AddSession(ctx, Session{Domain: "search", TokensIn: 100, TokensOut: 60})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	pc, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, pc.WorkingMemory.SessionCount)
	require.NotNil(t, pc.WorkingMemory.LastSession)
	assert.Equal(t, 2, *pc.WorkingMemory.LastSession)
	assert.Equal(t, 2, pc.ContextHealth.SessionsSinceReset)

	sessions, err := s.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, 1, sessions[0].Number)
	assert.Equal(t, []string{"a.go"}, sessions[0].Deliverables)
	assert.Equal(t, []string{}, sessions[1].Deliverables)
	assert.Equal(t, "unknown", sessions[1].Model)
	assert.True(t, testNow.Equal(sessions[1].Date))

	data, err := os.ReadFile(filepath.Join(s.Dir(), SessionsFile))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, float64(1), first["session"])
	assert.Equal(t, "search", first["domain"])
}

func TestAddSession_Concurrent(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, Options{})

	const n = 12
	var wg sync.WaitGroup
	nums := make(chan int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			num, err := s.AddSession(ctx, Session{Domain: "load"})
			assert.NoError(t, err)
			nums <- num
		}()
	}
	wg.Wait()
	close(nums)

	seen := map[int]bool{}
	for num := range nums {
		assert.False(t, seen[num], "duplicate session number %d", num)
		seen[num] = true
	}
	assert.Len(t, seen, n)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, n, st.TotalSessions)
}

func TestUpdateDomain(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, Options{})

	d, err := s.UpdateDomain(ctx, "iam", DomainUpdate{DecisionsMade: []string{"deny on error"}})
	require.NoError(t, err)
	assert.Equal(t, StatusActive, d.Status)
	assert.Equal(t, 1, d.Priority)
	assert.Equal(t, []string{"deny on error"}, d.DecisionsMade)
	assert.Equal(t, []string{}, d.FilesCreated)

	inactive := StatusInactive
	prio := 3
	_, err = s.UpdateDomain(ctx, "search", DomainUpdate{Status: &inactive, Priority: &prio})
	require.NoError(t, err)

	pc, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "search", pc.WorkingMemory.ActiveDomain)
	require.Contains(t, pc.WorkingMemory.Domains, "iam")
	assert.Equal(t, []string{"deny on error"}, pc.WorkingMemory.Domains["iam"].DecisionsMade)
	assert.Equal(t, 3, pc.WorkingMemory.Domains["search"].Priority)

	_, err = s.UpdateDomain(ctx, "", DomainUpdate{})
	assert.ErrorIs(t, err, ErrInvalidDomain)
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, Options{})
	_, err := s.Init(ctx, "toolgate", false)
	require.NoError(t, err)

	_, err = s.AddSession(ctx, Session{Domain: "a", TokensIn: 200, TokensOut: 50})
	require.NoError(t, err)
	_, err = s.AddSession(ctx, Session{Domain: "a", TokensIn: 200, TokensOut: 150})
	require.NoError(t, err)
	_, err = s.UpdateDomain(ctx, "a", DomainUpdate{})
	require.NoError(t, err)

	// A torn line from a crashed writer is skipped.
	f, err := os.OpenFile(filepath.Join(s.Dir(), SessionsFile), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, "toolgate", st.ProjectName)
	assert.Equal(t, 2, st.TotalSessions)
	assert.Equal(t, 1, st.ActiveDomains)
	assert.Equal(t, 400, st.TotalTokensIn)
	assert.Equal(t, 200, st.TotalTokensOut)
	assert.InDelta(t, 0.5, st.EfficiencyRatio, 1e-9)
	assert.Greater(t, st.ContextSizeKB, 0.0)
}

func TestStats_Empty(t *testing.T) {
	st, err := newStore(t, Options{}).Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, st.TotalSessions)
	assert.Equal(t, 0.0, st.EfficiencyRatio)
}

func TestCompressionFlag(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, Options{SizeLimitKB: 1})

	pc, err := s.Init(ctx, "tiny", false)
	require.NoError(t, err)
	assert.False(t, pc.ContextHealth.CompressionEnabled)

	facts := make([]string, 50)
	for i := range facts {
		facts[i] = strings.Repeat("x", 20)
	}
	_, err = s.UpdateDomain(ctx, "big", DomainUpdate{CriticalFacts: facts})
	require.NoError(t, err)

	pc, err = s.Load(ctx)
	require.NoError(t, err)
	assert.True(t, pc.ContextHealth.CompressionEnabled)
	assert.Greater(t, pc.ContextHealth.SizeKB, 0.8)
}

func TestRecorder(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, Options{})
	r := NewRecorder(s)

	require.NoError(t, r.RecordActivation(ctx, activation.Entry{
		URN:        "urn:alpha",
		ToolID:     "alpha",
		ActorID:    "agent-7",
		ResolvedAt: testNow,
	}))

	sessions, err := s.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, ActivationDomain, sessions[0].Domain)
	assert.Equal(t, []string{"urn:alpha"}, sessions[0].Deliverables)
	assert.Equal(t, "agent-7", sessions[0].Actor)
}

func bulkyFacts() []string {
	facts := make([]string, 50)
	for i := range facts {
		facts[i] = strings.Repeat("x", 20)
	}
	return facts
}

func TestCompress_ArchivesInactiveAndClearsFlag(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, Options{SizeLimitKB: 1})
	_, err := s.Init(ctx, "tiny", false)
	require.NoError(t, err)

	inactive := StatusInactive
	_, err = s.UpdateDomain(ctx, "search", DomainUpdate{Constraints: []string{"p95 under 50ms"}})
	require.NoError(t, err)
	_, err = s.UpdateDomain(ctx, "big", DomainUpdate{Status: &inactive, CriticalFacts: bulkyFacts()})
	require.NoError(t, err)

	pc, err := s.Load(ctx)
	require.NoError(t, err)
	require.True(t, pc.ContextHealth.CompressionEnabled)

	res, err := s.Compress(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"big"}, res.Archived)
	assert.False(t, res.OverLimit)
	assert.Empty(t, res.ResetArchive)

	pc, err = s.Load(ctx)
	require.NoError(t, err)
	assert.False(t, pc.ContextHealth.CompressionEnabled)
	assert.Less(t, pc.ContextHealth.SizeKB, 0.8)
	assert.Equal(t, res.SizeKB, pc.ContextHealth.SizeKB)
	stub := pc.WorkingMemory.Domains["big"]
	require.NotNil(t, stub)
	assert.Equal(t, StatusArchived, stub.Status)
	assert.Equal(t, "domain_big_20260506.json", stub.ArchiveFile)
	assert.Equal(t, StatusActive, pc.WorkingMemory.Domains["search"].Status)

	var archived struct {
		Domain string `json:"domain"`
		Data   Domain `json:"data"`
	}
	data, err := os.ReadFile(filepath.Join(s.Dir(), ArchiveDir, stub.ArchiveFile))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &archived))
	assert.Equal(t, "big", archived.Domain)
	assert.Len(t, archived.Data.CriticalFacts, 50)

	raw, err := os.ReadFile(filepath.Join(s.Dir(), ContextFile))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), strings.Repeat("x", 20), "archived data leaves the context file")

	entries, err := s.Archives(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ArchiveEntry{Type: "domain", Name: "big", Date: entries[0].Date, File: "domain_big_20260506.json"}, entries[0])
	assert.True(t, testNow.Equal(entries[0].Date))
}

func TestCompress_AggressiveResetsWhenStillOverLimit(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, Options{SizeLimitKB: 0.25})
	_, err := s.Init(ctx, "tiny", false)
	require.NoError(t, err)
	_, err = s.AddSession(ctx, Session{Domain: "a"})
	require.NoError(t, err)
	_, err = s.UpdateDomain(ctx, "b", DomainUpdate{})
	require.NoError(t, err)
	_, err = s.UpdateDomain(ctx, "a", DomainUpdate{DecisionsMade: []string{"keep"}})
	require.NoError(t, err)

	res, err := s.Compress(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, res.Archived)
	assert.True(t, res.OverLimit)
	assert.Equal(t, "full_context_session_1.json", res.ResetArchive)
	assert.FileExists(t, filepath.Join(s.Dir(), ArchiveDir, res.ResetArchive))

	pc, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", pc.WorkingMemory.ActiveDomain)
	assert.Equal(t, []string{"a"}, mapKeys(pc.WorkingMemory.Domains))
	assert.Equal(t, []string{"keep"}, pc.WorkingMemory.Domains["a"].DecisionsMade)
	assert.Equal(t, 1, pc.WorkingMemory.SessionCount)
	assert.Equal(t, 0, pc.ContextHealth.SessionsSinceReset)
	assert.Equal(t, 0.25, pc.ContextHealth.SizeLimitKB)

	entries, err := s.Archives(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "domain", entries[0].Type)
	assert.Equal(t, "context", entries[1].Type)
}

func TestCompress_NothingToDo(t *testing.T) {
	s := newStore(t, Options{})
	res, err := s.Compress(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, []string{}, res.Archived)
	assert.False(t, res.OverLimit)
	assert.NoDirExists(t, filepath.Join(s.Dir(), ArchiveDir))
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, Options{})
	_, err := s.Init(ctx, "toolgate", false)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = s.AddSession(ctx, Session{Domain: "search"})
		require.NoError(t, err)
	}
	_, err = s.UpdateDomain(ctx, "iam", DomainUpdate{})
	require.NoError(t, err)
	_, err = s.UpdateDomain(ctx, "search", DomainUpdate{})
	require.NoError(t, err)

	tests := []struct {
		name       string
		keepActive bool
		wantActive string
		wantKeys   []string
	}{
		{"keep active", true, "search", []string{"search"}},
		{"drop all", false, "", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pc, file, err := s.Reset(ctx, tt.keepActive)
			require.NoError(t, err)
			assert.Equal(t, "full_context_session_3.json", file)
			assert.Equal(t, "toolgate", pc.Project.Name)
			assert.Equal(t, 3, pc.WorkingMemory.SessionCount)
			assert.Equal(t, 0, pc.ContextHealth.SessionsSinceReset)
			assert.Equal(t, "2026-05-06", pc.ContextHealth.LastReset)
			assert.Equal(t, tt.wantActive, pc.WorkingMemory.ActiveDomain)
			assert.Equal(t, tt.wantKeys, mapKeys(pc.WorkingMemory.Domains))

			loaded, err := s.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, pc.WorkingMemory.ActiveDomain, loaded.WorkingMemory.ActiveDomain)
		})
	}

	var snapshot ProjectContext
	data, err := os.ReadFile(filepath.Join(s.Dir(), ArchiveDir, "full_context_session_3.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &snapshot))
	assert.Equal(t, "search", snapshot.WorkingMemory.ActiveDomain, "the last reset snapshots the kept domain")
}

func TestArchiveDomain(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, Options{})
	_, err := s.UpdateDomain(ctx, "iam", DomainUpdate{Constraints: []string{"deny on error"}})
	require.NoError(t, err)

	stub, err := s.ArchiveDomain(ctx, "iam")
	require.NoError(t, err)
	assert.Equal(t, StatusArchived, stub.Status)
	assert.Equal(t, "2026-05-06T07:08:09", stub.ArchivedDate)

	again, err := s.ArchiveDomain(ctx, "iam")
	require.NoError(t, err)
	assert.Equal(t, stub.ArchiveFile, again.ArchiveFile)
	entries, err := s.Archives(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "re-archiving is a no-op")

	raw, err := os.ReadFile(filepath.Join(s.Dir(), ContextFile))
	require.NoError(t, err)
	var doc struct {
		WorkingMemory struct {
			Domains map[string]map[string]any `json:"domains"`
		} `json:"working_memory"`
	}
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, map[string]any{
		"status":        StatusArchived,
		"archived_date": "2026-05-06T07:08:09",
		"archive_file":  "domain_iam_20260506.json",
	}, doc.WorkingMemory.Domains["iam"])

	_, err = s.ArchiveDomain(ctx, "missing")
	assert.ErrorIs(t, err, ErrUnknownDomain)
	_, err = s.ArchiveDomain(ctx, "../escape")
	assert.ErrorIs(t, err, ErrInvalidDomain)
	_, err = s.ArchiveDomain(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidDomain)
}

func TestWriteHandoff(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, Options{})
	_, err := s.Init(ctx, "toolgate", false)
	require.NoError(t, err)
	_, err = s.UpdateDomain(ctx, "iam", DomainUpdate{Constraints: []string{"deny on authorizer error"}})
	require.NoError(t, err)

	path, err := s.WriteHandoff(ctx, Handoff{
		NextTask:    "wire the grpc driver",
		Decisions:   []string{"keep REST as default"},
		ActiveFiles: []string{"internal/vectorstore/grpc.go"},
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.Dir(), HandoffFile), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	doc := string(data)
	assert.Contains(t, doc, "*Last Updated: Session 0 - 2026-05-06*")
	assert.Contains(t, doc, "- **Current Focus**: iam")
	assert.Contains(t, doc, "1. keep REST as default\n")
	assert.Contains(t, doc, "- `internal/vectorstore/grpc.go`\n")
	assert.Contains(t, doc, "## Critical Constraints\n- deny on authorizer error\n")
	assert.True(t, strings.HasSuffix(doc, "## For Next Session\nwire the grpc driver\n"))

	path, err = s.WriteHandoff(ctx, Handoff{NextTask: "idle"})
	require.NoError(t, err)
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "- No recent decisions recorded")
	assert.Contains(t, string(data), "- No active files recorded")

	_, err = s.WriteHandoff(ctx, Handoff{})
	assert.ErrorIs(t, err, ErrNoNextTask)
}

func mapKeys(m map[string]*Domain) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
