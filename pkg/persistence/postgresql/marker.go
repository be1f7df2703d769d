package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/drip/pkg/models"
	"github.com/dukex/drip/pkg/persistence"
)

// MarkerRepository stores action idempotency markers.
type MarkerRepository struct {
	db *sql.DB
}

// NewMarkerRepository creates a new marker repository.
func NewMarkerRepository(db *sql.DB) *MarkerRepository {
	return &MarkerRepository{db: db}
}

// Get returns ErrMarkerNotFound when the action has not completed yet.
func (r *MarkerRepository) Get(ctx context.Context, executionID, nodeID string) (*models.ActionMarker, error) {
	var (
		marker     models.ActionMarker
		outputJSON []byte
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT execution_id, node_id, kind, attempts, output, completed_at
		FROM action_markers
		WHERE execution_id = $1 AND node_id = $2
	`, executionID, nodeID).Scan(
		&marker.ExecutionID,
		&marker.NodeID,
		&marker.Kind,
		&marker.Attempts,
		&outputJSON,
		&marker.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrMarkerNotFound
		}

		return nil, fmt.Errorf("failed to read action marker: %w", err)
	}

	if err := json.Unmarshal(outputJSON, &marker.Output); err != nil {
		return nil, fmt.Errorf("failed to unmarshal marker output: %w", err)
	}

	return &marker, nil
}

// Save upserts the marker.
func (r *MarkerRepository) Save(ctx context.Context, marker *models.ActionMarker) error {
	if marker.CompletedAt.IsZero() {
		marker.CompletedAt = time.Now().UTC()
	}

	output := marker.Output
	if output == nil {
		output = map[string]string{}
	}

	outputJSON, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("failed to marshal marker output: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO action_markers (execution_id, node_id, kind, attempts, output, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (execution_id, node_id) DO UPDATE SET
			kind = EXCLUDED.kind,
			attempts = EXCLUDED.attempts,
			output = EXCLUDED.output,
			completed_at = EXCLUDED.completed_at
	`, marker.ExecutionID, marker.NodeID, string(marker.Kind), marker.Attempts, outputJSON, marker.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to save action marker: %w", err)
	}

	return nil
}
