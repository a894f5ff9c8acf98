package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/toolgate/internal/config"
	"github.com/fyrsmithlabs/toolgate/internal/contextstore"
)

func newContextCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "context",
		Short: "Manage the project context and session log",
		Long: `Read and update PROJECT_CONTEXT.json and SESSIONS.jsonl under context.dir.
Activations are recorded here as sessions in the "activation" domain when
context.enabled is set.`,
	}
	cmd.AddCommand(
		newContextInitCmd(opts),
		newContextStatsCmd(opts),
		newContextSessionCmd(opts),
		newContextDomainCmd(opts),
		newContextArchiveCmd(opts),
		newContextCompressCmd(opts),
		newContextResetCmd(opts),
		newContextHandoffCmd(opts),
	)
	return cmd
}

// withContextStore opens the context store without wiring the search stack.
func withContextStore(opts *globalOptions, fn func(*contextstore.Store) error) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg, nil)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	dir, err := config.ExpandHome(cfg.Context.Dir)
	if err != nil {
		return err
	}
	return fn(contextstore.New(dir, contextstore.Options{SizeLimitKB: cfg.Context.SizeLimitKB}, logger.Zap().Named("context")))
}

func newContextInitCmd(opts *globalOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init [name]",
		Short: "Create PROJECT_CONTEXT.json",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var name string
			if len(args) == 1 {
				name = args[0]
			}
			return withContextStore(opts, func(s *contextstore.Store) error {
				pc, err := s.Init(cmd.Context(), name, force)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), pc)
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing context file")
	return cmd
}

func newContextStatsCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize sessions and working memory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withContextStore(opts, func(s *contextstore.Store) error {
				st, err := s.Stats(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), st)
			})
		},
	}
}

func newContextSessionCmd(opts *globalOptions) *cobra.Command {
	var sess contextstore.Session
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Append a session to the log",
		Long: `Append one session to SESSIONS.jsonl and bump the session counters.

Example:
  toolgate context session --domain search --tokens-in 1200 --tokens-out 300 --deliverable internal/search/search.go`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if sess.Domain == "" {
				return errors.New("--domain is required")
			}
			return withContextStore(opts, func(s *contextstore.Store) error {
				n, err := s.AddSession(cmd.Context(), sess)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]int{"session": n})
			})
		},
	}
	cmd.Flags().StringVar(&sess.Domain, "domain", "", "domain worked on")
	cmd.Flags().IntVar(&sess.TokensIn, "tokens-in", 0, "input tokens used")
	cmd.Flags().IntVar(&sess.TokensOut, "tokens-out", 0, "output tokens produced")
	cmd.Flags().StringSliceVar(&sess.Deliverables, "deliverable", nil, "deliverable produced (repeatable)")
	cmd.Flags().StringVar(&sess.Model, "model", "", "model used")
	cmd.Flags().StringVar(&sess.Actor, "actor", "", "actor id")
	return cmd
}

func newContextDomainCmd(opts *globalOptions) *cobra.Command {
	var (
		status                               string
		priority                             int
		facts, constraints, decisions, files []string
	)
	cmd := &cobra.Command{
		Use:   "domain <name>",
		Short: "Create or update a working memory domain",
		Long: `Create domain name if needed, apply the given fields, and make it the
active domain. List flags replace the stored list.

Example:
  toolgate context domain iam --status active --decision "deny on authorizer error"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var u contextstore.DomainUpdate
			if cmd.Flags().Changed("status") {
				v := status
				u.Status = &v
			}
			if cmd.Flags().Changed("priority") {
				v := priority
				u.Priority = &v
			}
			if cmd.Flags().Changed("fact") {
				u.CriticalFacts = facts
			}
			if cmd.Flags().Changed("constraint") {
				u.Constraints = constraints
			}
			if cmd.Flags().Changed("decision") {
				u.DecisionsMade = decisions
			}
			if cmd.Flags().Changed("file") {
				u.FilesCreated = files
			}
			return withContextStore(opts, func(s *contextstore.Store) error {
				d, err := s.UpdateDomain(cmd.Context(), args[0], u)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), d)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", contextstore.StatusActive, "active, inactive, or archived")
	cmd.Flags().IntVar(&priority, "priority", 1, "domain priority")
	cmd.Flags().StringArrayVar(&facts, "fact", nil, "critical fact (repeatable)")
	cmd.Flags().StringArrayVar(&constraints, "constraint", nil, "constraint (repeatable)")
	cmd.Flags().StringArrayVar(&decisions, "decision", nil, "decision made (repeatable)")
	cmd.Flags().StringArrayVar(&files, "file", nil, "file created (repeatable)")
	return cmd
}

func newContextArchiveCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "archive <domain>",
		Short: "Move a domain out of working memory",
		Long: `Write the domain to archive/domain_<name>_<date>.json, index it in
archive/INDEX.jsonl, and leave an archived stub in PROJECT_CONTEXT.json.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContextStore(opts, func(s *contextstore.Store) error {
				d, err := s.ArchiveDomain(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), d)
			})
		},
	}
}

func newContextCompressCmd(opts *globalOptions) *cobra.Command {
	var aggressive bool
	cmd := &cobra.Command{
		Use:   "compress",
		Short: "Archive inactive domains to shrink the context",
		Long: `Archive every inactive domain and recompute compression_enabled.
With --aggressive every domain but the active one is archived, and a context
still over size_limit_kb is reset.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withContextStore(opts, func(s *contextstore.Store) error {
				res, err := s.Compress(cmd.Context(), aggressive)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().BoolVar(&aggressive, "aggressive", false, "archive everything except the active domain")
	return cmd
}

func newContextResetCmd(opts *globalOptions) *cobra.Command {
	var dropActive bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Snapshot the context and start a fresh one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withContextStore(opts, func(s *contextstore.Store) error {
				pc, file, err := s.Reset(cmd.Context(), !dropActive)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{"snapshot": file, "context": pc})
			})
		},
	}
	cmd.Flags().BoolVar(&dropActive, "drop-active", false, "do not carry the active domain over")
	return cmd
}

func newContextHandoffCmd(opts *globalOptions) *cobra.Command {
	var h contextstore.Handoff
	cmd := &cobra.Command{
		Use:   "handoff",
		Short: "Write AI_HANDOFF.md for the next session",
		Long: `Render AI_HANDOFF.md from the active domain and the given flags.

Example:
  toolgate context handoff --next-task "wire the grpc driver" --decision "keep REST as default" --file internal/vectorstore/grpc.go`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if h.NextTask == "" {
				return errors.New("--next-task is required")
			}
			return withContextStore(opts, func(s *contextstore.Store) error {
				path, err := s.WriteHandoff(cmd.Context(), h)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]string{"path": path})
			})
		},
	}
	cmd.Flags().StringVar(&h.NextTask, "next-task", "", "what the next session should do")
	cmd.Flags().StringArrayVar(&h.Decisions, "decision", nil, "recent decision (repeatable)")
	cmd.Flags().StringArrayVar(&h.ActiveFiles, "file", nil, "active file (repeatable)")
	return cmd
}
