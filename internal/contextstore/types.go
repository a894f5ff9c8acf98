package contextstore

import (
	"encoding/json"
	"time"
)

// Domain statuses.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
	StatusArchived = "archived"
)

// ProjectContext is the PROJECT_CONTEXT.json document.
type ProjectContext struct {
	Project        Project        `json:"project"`
	WorkingMemory  WorkingMemory  `json:"working_memory"`
	ContextHealth  Health         `json:"context_health"`
	AIInstructions map[string]any `json:"ai_instructions,omitempty"`
}

type Project struct {
	Name        string     `json:"name"`
	Version     string     `json:"version"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	Phase       string     `json:"phase"`
	StartDate   string     `json:"start_date"`
	Deployment  Deployment `json:"deployment"`
}

type Deployment struct {
	Platform    string `json:"platform"`
	URL         string `json:"url"`
	Environment string `json:"environment"`
}

type WorkingMemory struct {
	ActiveDomain string             `json:"active_domain"`
	SessionCount int                `json:"session_count"`
	LastSession  *int               `json:"last_session"`
	Domains      map[string]*Domain `json:"domains"`
}

// Domain is one area of working memory. An archived domain keeps only its
// status and where its data went.
type Domain struct {
	Status        string   `json:"status"`
	Priority      int      `json:"priority"`
	CriticalFacts []string `json:"critical_facts"`
	Constraints   []string `json:"constraints"`
	DecisionsMade []string `json:"decisions_made"`
	FilesCreated  []string `json:"files_created"`
	ArchivedDate  string   `json:"archived_date,omitempty"`
	ArchiveFile   string   `json:"archive_file,omitempty"`
}

type archivedDomain struct {
	Status       string `json:"status"`
	ArchivedDate string `json:"archived_date"`
	ArchiveFile  string `json:"archive_file"`
}

// MarshalJSON writes archived domains as their stub.
func (d Domain) MarshalJSON() ([]byte, error) {
	if d.Status == StatusArchived {
		return json.Marshal(archivedDomain{Status: d.Status, ArchivedDate: d.ArchivedDate, ArchiveFile: d.ArchiveFile})
	}
	type plain Domain
	return json.Marshal(plain(d))
}

func newDomain() *Domain {
	return &Domain{
		Status:        StatusActive,
		Priority:      1,
		CriticalFacts: []string{},
		Constraints:   []string{},
		DecisionsMade: []string{},
		FilesCreated:  []string{},
	}
}

// DomainUpdate replaces the fields it sets.
type DomainUpdate struct {
	Status        *string
	Priority      *int
	CriticalFacts []string
	Constraints   []string
	DecisionsMade []string
	FilesCreated  []string
}

func (u DomainUpdate) apply(d *Domain) {
	if u.Status != nil {
		d.Status = *u.Status
	}
	if u.Priority != nil {
		d.Priority = *u.Priority
	}
	if u.CriticalFacts != nil {
		d.CriticalFacts = u.CriticalFacts
	}
	if u.Constraints != nil {
		d.Constraints = u.Constraints
	}
	if u.DecisionsMade != nil {
		d.DecisionsMade = u.DecisionsMade
	}
	if u.FilesCreated != nil {
		d.FilesCreated = u.FilesCreated
	}
}

type Health struct {
	SizeKB             float64 `json:"size_kb"`
	SizeLimitKB        float64 `json:"size_limit_kb"`
	SessionsSinceReset int     `json:"sessions_since_reset"`
	LastReset          string  `json:"last_reset"`
	CompressionEnabled bool    `json:"compression_enabled"`
}

// Session is one SESSIONS.jsonl line.
type Session struct {
	Number       int       `json:"session"`
	Date         time.Time `json:"date"`
	Domain       string    `json:"domain"`
	TokensIn     int       `json:"tokens_in"`
	TokensOut    int       `json:"tokens_out"`
	Deliverables []string  `json:"deliverables"`
	Model        string    `json:"ai_model"`
	Actor        string    `json:"actor,omitempty"`
}

// ArchiveEntry is one archive/INDEX.jsonl line.
type ArchiveEntry struct {
	Type string    `json:"type"`
	Name string    `json:"name"`
	Date time.Time `json:"date"`
	File string    `json:"file"`
}

// CompressResult reports what Compress did.
type CompressResult struct {
	Archived     []string `json:"archived"`
	SizeKB       float64  `json:"size_kb"`
	OverLimit    bool     `json:"over_limit"`
	ResetArchive string   `json:"reset_archive,omitempty"`
}

// Handoff is the input for the handoff document.
type Handoff struct {
	NextTask    string
	Decisions   []string
	ActiveFiles []string
}

// Stats summarizes a project.
type Stats struct {
	ProjectName     string  `json:"project_name"`
	TotalSessions   int     `json:"total_sessions"`
	ActiveDomains   int     `json:"active_domains"`
	ContextSizeKB   float64 `json:"context_size_kb"`
	TotalTokensIn   int     `json:"total_tokens_in"`
	TotalTokensOut  int     `json:"total_tokens_out"`
	EfficiencyRatio float64 `json:"efficiency_ratio"`
}
