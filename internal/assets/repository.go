package assets

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
)

var ErrScenarioNotFound = errors.New("assets: scenario not found")

// Catalog is the read-only view the preload pipeline needs. The generation
// side (TTS synthesis, uploads) lives outside this service and only ever
// hands us finished rows.
type Catalog interface {
	ScenarioOwner(ctx context.Context, scenarioID int64) (string, error)
	VoiceLinesWithAssets(ctx context.Context, scenarioID int64) ([]VoiceLine, error)
}

// PostgresCatalog implements Catalog over database/sql with the pgx driver.
type PostgresCatalog struct {
	db *sql.DB
}

func NewPostgresCatalog(db *sql.DB) *PostgresCatalog {
	return &PostgresCatalog{db: db}
}

func (c *PostgresCatalog) ScenarioOwner(ctx context.Context, scenarioID int64) (string, error) {
	var owner string
	err := c.db.QueryRowContext(ctx,
		`SELECT user_id FROM scenarios WHERE id = $1`, scenarioID,
	).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrScenarioNotFound
	}
	if err != nil {
		return "", fmt.Errorf("assets: scenario owner: %w", err)
	}
	return owner, nil
}

func (c *PostgresCatalog) VoiceLinesWithAssets(ctx context.Context, scenarioID int64) ([]VoiceLine, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT vl.id, vl.scenario_id, vl.type, vl.order_index,
		       a.id, a.voice_id, a.status, a.storage_path, a.duration_ms, a.created_at
		FROM voice_lines vl
		LEFT JOIN voice_line_audios a ON a.voice_line_id = vl.id
		WHERE vl.scenario_id = $1
		ORDER BY vl.order_index, a.created_at DESC`,
		scenarioID,
	)
	if err != nil {
		return nil, fmt.Errorf("assets: voice lines: %w", err)
	}
	defer rows.Close()

	byID := make(map[int64]*VoiceLine)
	var order []int64
	for rows.Next() {
		var vl VoiceLine
		var assetID sql.NullInt64
		var voiceID, status, storagePath sql.NullString
		var durationMs sql.NullInt64
		var createdAt sql.NullTime
		if err := rows.Scan(
			&vl.ID, &vl.ScenarioID, &vl.Type, &vl.OrderIndex,
			&assetID, &voiceID, &status, &storagePath, &durationMs, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("assets: scan: %w", err)
		}
		line, ok := byID[vl.ID]
		if !ok {
			cp := vl
			byID[vl.ID] = &cp
			order = append(order, vl.ID)
			line = &cp
		}
		if assetID.Valid {
			line.Assets = append(line.Assets, Asset{
				ID:          assetID.Int64,
				VoiceLineID: vl.ID,
				VoiceID:     voiceID.String,
				Status:      AssetStatus(status.String),
				StoragePath: storagePath.String,
				DurationMs:  int(durationMs.Int64),
				CreatedAt:   createdAt.Time,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("assets: rows: %w", err)
	}

	out := make([]VoiceLine, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OrderIndex < out[j].OrderIndex })
	return out, nil
}
