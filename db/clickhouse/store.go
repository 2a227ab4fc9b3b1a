// Package clickhouse provides the ClickHouse store for recorded topology snapshots
package clickhouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/google/uuid"
)

// TopologySnapshot is one recorded graph build
type TopologySnapshot struct {
	ID           uuid.UUID `ch:"id"`
	Title        string    `ch:"title"`
	Description  string    `ch:"description"`
	TemplateHash string    `ch:"template_hash"`
	NodeCount    int       `ch:"node_count"`
	LinkCount    int       `ch:"link_count"`
	Merged       bool      `ch:"merged"`
	GraphJSON    string    `ch:"graph_json"`
	CreatedAt    time.Time `ch:"created_at"`
}

// KindCount is the number of nodes of one kind in a snapshot
type KindCount struct {
	SnapshotID uuid.UUID `ch:"snapshot_id"`
	Kind       string    `ch:"kind"`
	Count      int       `ch:"count"`
}

// Config holds ClickHouse connection configuration
type Config struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
	Debug    bool
}

// DefaultConfig returns default development configuration
func DefaultConfig() *Config {
	return &Config{
		Host:     "localhost",
		Port:     9000,
		Database: "heattopo",
		Username: "default",
		Password: "",
		Debug:    false,
	}
}

// Addr returns host:port.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Store persists topology snapshots in ClickHouse
type Store struct {
	conn clickhouse.Conn
	cfg  *Config
}

// NewStore opens a ClickHouse connection. The connection is lazy; use Ping
// to check the server is reachable.
func NewStore(cfg *Config) (*Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr()},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Debug: cfg.Debug,
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	return &Store{conn: conn, cfg: cfg}, nil
}

// Ping checks database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.conn.Close()
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS topology_snapshots (
		id            UUID,
		title         String,
		description   String,
		template_hash String,
		node_count    UInt32,
		link_count    UInt32,
		merged        UInt8,
		graph_json    String CODEC(ZSTD(3)),
		created_at    DateTime64(3),
		_version      UInt64 DEFAULT 1,
		_deleted      UInt8 DEFAULT 0
	) ENGINE = ReplacingMergeTree(_version)
	ORDER BY id`,
	`CREATE TABLE IF NOT EXISTS topology_kind_counts (
		snapshot_id UUID,
		kind        LowCardinality(String),
		count       UInt32,
		created_at  DateTime64(3)
	) ENGINE = MergeTree
	ORDER BY (snapshot_id, kind)`,
}

// Migrate creates the snapshot tables when they do not exist
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range migrations {
		if err := s.conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate: %w", err)
		}
	}
	return nil
}

// =============================================================================
// SNAPSHOT OPERATIONS
// =============================================================================

const snapshotColumns = `id, title, description, template_hash, node_count, link_count, merged, graph_json, created_at`

// CreateSnapshot inserts a new topology snapshot, assigning an ID and
// creation time when unset
func (s *Store) CreateSnapshot(ctx context.Context, snapshot *TopologySnapshot) error {
	if snapshot.ID == uuid.Nil {
		snapshot.ID = uuid.New()
	}
	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = time.Now().UTC()
	}
	query := `INSERT INTO topology_snapshots (` + snapshotColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if err := s.conn.Exec(ctx, query,
		snapshot.ID,
		snapshot.Title,
		snapshot.Description,
		snapshot.TemplateHash,
		uint32(snapshot.NodeCount),
		uint32(snapshot.LinkCount),
		boolToUInt8(snapshot.Merged),
		snapshot.GraphJSON,
		snapshot.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to create snapshot: %w", err)
	}
	return nil
}

// GetSnapshot retrieves a snapshot by ID. A missing snapshot is (nil, nil).
func (s *Store) GetSnapshot(ctx context.Context, id uuid.UUID) (*TopologySnapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM topology_snapshots FINAL WHERE id = ? AND _deleted = 0`
	snapshot, err := scanSnapshot(s.conn.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return snapshot, nil
}

// FindSnapshotByHash finds the most recent snapshot of a template hash
func (s *Store) FindSnapshotByHash(ctx context.Context, hash string) (*TopologySnapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM topology_snapshots FINAL
		WHERE template_hash = ? AND _deleted = 0
		ORDER BY created_at DESC
		LIMIT 1`
	snapshot, err := scanSnapshot(s.conn.QueryRow(ctx, query, hash))
	if err != nil {
		return nil, fmt.Errorf("failed to find snapshot by hash: %w", err)
	}
	return snapshot, nil
}

// ListSnapshots lists the most recent snapshots, newest first. The stored
// graph is not loaded.
func (s *Store) ListSnapshots(ctx context.Context, limit int) ([]*TopologySnapshot, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, title, description, template_hash, node_count, link_count, merged, '' AS graph_json, created_at
		FROM topology_snapshots FINAL
		WHERE _deleted = 0
		ORDER BY created_at DESC
		LIMIT ?`
	rows, err := s.conn.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []*TopologySnapshot
	for rows.Next() {
		snapshot, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snapshots = append(snapshots, snapshot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	return snapshots, nil
}

// =============================================================================
// KIND COUNT OPERATIONS
// =============================================================================

// BulkCreateKindCounts inserts kind counts using a batch insert
func (s *Store) BulkCreateKindCounts(ctx context.Context, counts []*KindCount) error {
	if len(counts) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO topology_kind_counts (snapshot_id, kind, count, created_at)`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	now := time.Now().UTC()
	for _, c := range counts {
		if err := batch.Append(c.SnapshotID, c.Kind, uint32(c.Count), now); err != nil {
			return fmt.Errorf("failed to append to batch: %w", err)
		}
	}

	return batch.Send()
}

// KindCounts returns the per-kind node counts of a snapshot
func (s *Store) KindCounts(ctx context.Context, snapshotID uuid.UUID) (map[string]int, error) {
	rows, err := s.conn.Query(ctx,
		`SELECT kind, count FROM topology_kind_counts WHERE snapshot_id = ? ORDER BY kind`, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("failed to get kind counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var kind string
		var count uint32
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, fmt.Errorf("failed to scan kind count: %w", err)
		}
		counts[kind] = int(count)
	}
	return counts, rows.Err()
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row scanner) (*TopologySnapshot, error) {
	var snapshot TopologySnapshot
	var nodes, links uint32
	var merged uint8
	err := row.Scan(
		&snapshot.ID, &snapshot.Title, &snapshot.Description, &snapshot.TemplateHash,
		&nodes, &links, &merged, &snapshot.GraphJSON, &snapshot.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	snapshot.NodeCount = int(nodes)
	snapshot.LinkCount = int(links)
	snapshot.Merged = merged == 1
	return &snapshot, nil
}

func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
