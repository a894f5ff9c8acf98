package registry

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrations embed.FS

// Dialect selects the SQL driver and placeholder style.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// SQLStore is a Registry over database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	logger  *zap.Logger
	now     func() time.Time
}

// OpenSQLite opens (creating if needed) a SQLite registry at path.
func OpenSQLite(ctx context.Context, path string, logger *zap.Logger) (*SQLStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path required")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serializes writers.
	db.SetMaxOpenConns(1)

	return newSQLStore(ctx, db, DialectSQLite, logger)
}

// OpenPostgres connects to PostgreSQL using a pgx DSN.
func OpenPostgres(ctx context.Context, dsn string, logger *zap.Logger) (*SQLStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return newSQLStore(ctx, db, DialectPostgres, logger)
}

func newSQLStore(ctx context.Context, db *sql.DB, dialect Dialect, logger *zap.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &SQLStore{db: db, dialect: dialect, logger: logger, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	dir := "migrations/" + string(s.dialect)
	entries, err := migrations.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	for _, e := range entries {
		data, err := migrations.ReadFile(dir + "/" + e.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", e.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("exec migration %s: %w", e.Name(), err)
		}
		s.logger.Debug("applied registry migration",
			zap.String("dialect", string(s.dialect)),
			zap.String("migration", e.Name()))
	}
	return nil
}

// Dialect reports the database dialect.
func (s *SQLStore) Dialect() Dialect { return s.dialect }

// GetManifest implements Registry.
func (s *SQLStore) GetManifest(ctx context.Context, urn string) (*Manifest, error) {
	var (
		body, updated string
		m             Manifest
	)
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT urn, tool_id, body, digest, issuer, signature, schema_uri, updated_at
		FROM manifests WHERE urn = ?`), urn).Scan(
		&m.URN, &m.ToolID, &body, &m.Digest, &m.Issuer, &m.Signature, &m.SchemaURI, &updated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query manifest: %w", err)
	}

	if err := json.Unmarshal([]byte(body), &m.Body); err != nil {
		return nil, fmt.Errorf("decode manifest body: %w", err)
	}
	if m.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	f := Extract(m.Body)
	m.Name, m.Summary, m.Version = f.Name, f.Summary, f.Version
	m.Tags = f.Tags
	m.Provenance = f.Provenance
	m.ActivationHints = f.ActivationHints
	m.Resources = f.Resources

	if m.Capabilities, err = s.Capabilities(ctx, urn); err != nil {
		return nil, err
	}
	return &m, nil
}

// UpsertManifest implements Registry.
func (s *SQLStore) UpsertManifest(ctx context.Context, urn string, body map[string]any) (*Manifest, error) {
	m, err := NewManifest(urn, body, s.now())
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(m.Body)
	if err != nil {
		return nil, fmt.Errorf("encode manifest body: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO manifests (urn, tool_id, body, digest, issuer, signature, schema_uri, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (urn) DO UPDATE SET
			tool_id = excluded.tool_id,
			body = excluded.body,
			digest = excluded.digest,
			issuer = excluded.issuer,
			signature = excluded.signature,
			schema_uri = excluded.schema_uri,
			updated_at = excluded.updated_at`),
		m.URN, m.ToolID, string(data), m.Digest, m.Issuer, m.Signature, m.SchemaURI,
		m.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("upsert manifest: %w", err)
	}

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM manifest_capabilities WHERE urn = ?`), m.URN); err != nil {
		return nil, fmt.Errorf("clear capabilities: %w", err)
	}
	for i, c := range m.Capabilities {
		if _, err := tx.ExecContext(ctx, s.rebind(`
			INSERT INTO manifest_capabilities (urn, position, capability) VALUES (?, ?, ?)`),
			m.URN, i, c,
		); err != nil {
			return nil, fmt.Errorf("insert capability: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return m, nil
}

// Capabilities implements Registry.
func (s *SQLStore) Capabilities(ctx context.Context, urn string) ([]string, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM manifests WHERE urn = ?`), urn).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query manifest: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT capability FROM manifest_capabilities WHERE urn = ? ORDER BY position`), urn)
	if err != nil {
		return nil, fmt.Errorf("query capabilities: %w", err)
	}
	defer rows.Close()

	caps := []string{}
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scan capability: %w", err)
		}
		caps = append(caps, c)
	}
	return caps, rows.Err()
}

// LookupMetadata implements Registry with two queries regardless of len(urns).
func (s *SQLStore) LookupMetadata(ctx context.Context, urns []string) (map[string]Metadata, error) {
	urns = dedupe(urns)
	out := make(map[string]Metadata, len(urns))
	if len(urns) == 0 {
		return out, nil
	}

	args := make([]any, len(urns))
	for i, u := range urns {
		args[i] = u
	}
	in := strings.TrimSuffix(strings.Repeat("?, ", len(urns)), ", ")

	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT urn, schema_uri FROM manifests WHERE urn IN (`+in+`)`), args...)
	if err != nil {
		return nil, fmt.Errorf("query metadata: %w", err)
	}
	for rows.Next() {
		var md Metadata
		if err := rows.Scan(&md.URN, &md.SchemaURI); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan metadata: %w", err)
		}
		md.Capabilities = []string{}
		out[md.URN] = md
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query metadata: %w", err)
	}

	rows, err = s.db.QueryContext(ctx, s.rebind(`
		SELECT urn, capability FROM manifest_capabilities
		WHERE urn IN (`+in+`) ORDER BY urn, position`), args...)
	if err != nil {
		return nil, fmt.Errorf("query capabilities: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var urn, c string
		if err := rows.Scan(&urn, &c); err != nil {
			return nil, fmt.Errorf("scan capability: %w", err)
		}
		if md, ok := out[urn]; ok {
			md.Capabilities = append(md.Capabilities, c)
			out[urn] = md
		}
	}
	return out, rows.Err()
}

// Close implements Registry.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
