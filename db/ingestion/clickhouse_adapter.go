// Package ingestion records built topology graphs as ClickHouse snapshots
package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/gacybercenter/openstack-top-graph/db/clickhouse"
	"github.com/gacybercenter/openstack-top-graph/pkg/api"
)

// SnapshotStore is the part of clickhouse.Store the adapter needs
type SnapshotStore interface {
	FindSnapshotByHash(ctx context.Context, hash string) (*clickhouse.TopologySnapshot, error)
	CreateSnapshot(ctx context.Context, snapshot *clickhouse.TopologySnapshot) error
	BulkCreateKindCounts(ctx context.Context, counts []*clickhouse.KindCount) error
}

// ClickHouseAdapter records graphs into a snapshot store
type ClickHouseAdapter struct {
	store  SnapshotStore
	logger *slog.Logger
}

// NewClickHouseAdapter creates a new ClickHouse adapter
func NewClickHouseAdapter(store SnapshotStore, logger *slog.Logger) *ClickHouseAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ClickHouseAdapter{store: store, logger: logger}
}

// RecordInput is one graph build to record
type RecordInput struct {
	Template     string
	Environments []string
	Merged       bool
	StackName    string
	Graph        *api.Graph
}

// RecordResult tracks the result of recording a graph
type RecordResult struct {
	SnapshotID     uuid.UUID
	TemplateHash   string
	KindCount      int
	AlreadyPresent bool
	Duration       time.Duration
}

// RecordGraph stores a snapshot of in.Graph. Builds with identical inputs
// share one snapshot: when the hash is already recorded the existing
// snapshot is returned and nothing is written.
func (a *ClickHouseAdapter) RecordGraph(ctx context.Context, in *RecordInput) (*RecordResult, error) {
	if in == nil || in.Graph == nil {
		return nil, fmt.Errorf("record graph: no graph given")
	}
	startTime := time.Now()
	result := &RecordResult{TemplateHash: InputHash(in)}

	existing, err := a.store.FindSnapshotByHash(ctx, result.TemplateHash)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		result.SnapshotID = existing.ID
		result.AlreadyPresent = true
		result.Duration = time.Since(startTime)
		a.logger.Debug("snapshot already recorded", "id", existing.ID, "hash", result.TemplateHash)
		return result, nil
	}

	graphJSON, err := json.Marshal(in.Graph)
	if err != nil {
		return nil, fmt.Errorf("failed to encode graph: %w", err)
	}

	snapshot := &clickhouse.TopologySnapshot{
		ID:           uuid.New(),
		Title:        in.Graph.Title,
		Description:  in.Graph.Description,
		TemplateHash: result.TemplateHash,
		NodeCount:    len(in.Graph.Nodes),
		LinkCount:    len(in.Graph.Links),
		Merged:       in.Merged,
		GraphJSON:    string(graphJSON),
	}
	if err := a.store.CreateSnapshot(ctx, snapshot); err != nil {
		return nil, err
	}
	result.SnapshotID = snapshot.ID

	kinds := make([]string, 0, len(in.Graph.Amounts))
	for kind := range in.Graph.Amounts {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	counts := make([]*clickhouse.KindCount, 0, len(kinds))
	for _, kind := range kinds {
		counts = append(counts, &clickhouse.KindCount{
			SnapshotID: snapshot.ID,
			Kind:       kind,
			Count:      in.Graph.Amounts[kind],
		})
	}
	if err := a.store.BulkCreateKindCounts(ctx, counts); err != nil {
		return nil, fmt.Errorf("failed to record kind counts for snapshot %s: %w", snapshot.ID, err)
	}
	result.KindCount = len(counts)
	result.Duration = time.Since(startTime)

	a.logger.Info("snapshot recorded",
		"id", snapshot.ID,
		"title", snapshot.Title,
		"nodes", snapshot.NodeCount,
		"links", snapshot.LinkCount,
		"duration", result.Duration,
	)
	return result, nil
}

// InputHash is the sha256 of everything that shapes a build: template text,
// environment texts in order, the merge flag and the stack name.
func InputHash(in *RecordInput) string {
	h := sha256.New()
	write := func(s string) {
		h.Write([]byte(strconv.Itoa(len(s))))
		h.Write([]byte{':'})
		h.Write([]byte(s))
	}
	write(in.Template)
	for _, env := range in.Environments {
		write(env)
	}
	write(strconv.FormatBool(in.Merged))
	write(in.StackName)
	return hex.EncodeToString(h.Sum(nil))
}
