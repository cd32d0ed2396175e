package maria

import (
	"context"
	"encoding/json"
	"fmt"
)

// FaceMarker is one crop-level face detection from a PhotoPrism library,
// optionally labeled with the subject name a librarian assigned to it.
type FaceMarker struct {
	MarkerUID   string
	FileUID     string
	SubjectName string // empty when the marker is unlabeled

	// X, Y, W, H are the relative crop coordinates PhotoPrism stores.
	X, Y, W, H float64

	// Score is PhotoPrism's detection quality in percent.
	Score int

	// Embedding is the face embedding, or nil when the marker was never
	// embedded.
	Embedding []float32
}

// ListFaceMarkers returns every face marker in the library together with
// its subject label, ordered by marker UID for deterministic imports.
func (p *Pool) ListFaceMarkers(ctx context.Context) ([]FaceMarker, error) {
	query := `
		SELECT m.marker_uid, m.file_uid, m.x, m.y, m.w, m.h, m.score,
		       COALESCE(s.subj_name, ''), COALESCE(m.embeddings_json, '')
		FROM markers m
		LEFT JOIN subjects s ON s.subj_uid = m.subj_uid AND s.deleted_at IS NULL
		WHERE m.marker_type = 'face' AND m.marker_invalid = 0
		ORDER BY m.marker_uid
	`

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query face markers: %w", err)
	}
	defer rows.Close()

	var markers []FaceMarker
	for rows.Next() {
		var m FaceMarker
		var embeddings string
		if err := rows.Scan(&m.MarkerUID, &m.FileUID, &m.X, &m.Y, &m.W, &m.H,
			&m.Score, &m.SubjectName, &embeddings); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		m.Embedding, err = parseEmbeddings(embeddings)
		if err != nil {
			return nil, fmt.Errorf("marker %s: %w", m.MarkerUID, err)
		}
		markers = append(markers, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return markers, nil
}

// parseEmbeddings decodes PhotoPrism's embeddings_json field. The format
// is [[e1, e2, ..., eN]] (JSON list-of-lists, one embedding per marker).
// Returns nil for markers that were never embedded.
func parseEmbeddings(data string) ([]float32, error) {
	if data == "" || data == "null" {
		return nil, nil
	}
	var wrapped [][]float32
	if err := json.Unmarshal([]byte(data), &wrapped); err != nil {
		return nil, fmt.Errorf("unmarshal embeddings: %w", err)
	}
	if len(wrapped) == 0 {
		return nil, nil
	}
	return wrapped[0], nil
}
