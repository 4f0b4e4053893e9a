package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/GEMINI-Breeding/gemini-engine/internal/records"
	"github.com/GEMINI-Breeding/gemini-engine/internal/registry"
)

// resolvedCombination carries the identifiers resolved from a validity view
// row. A zero producerID means the kind has no producer (generic datasets).
type resolvedCombination struct {
	producerID   uuid.UUID
	datasetID    uuid.UUID
	experimentID uuid.UUID
	seasonID     uuid.UUID
	siteID       uuid.UUID
}

// checkCombination resolves the insert's name tuple against the kind's
// validity view. A combination is legal iff the view returns a row; the same
// query both gates and resolves, so a legality decision and the identifiers
// it implies can never disagree.
func (s *RecordStore) checkCombination(
	ctx context.Context,
	q queryer,
	in *records.Insert,
) (*resolvedCombination, error) {
	ks, err := schemaFor(in.Kind)
	if err != nil {
		return nil, err
	}

	var (
		out   resolvedCombination
		query string
		args  []interface{}
	)

	if in.Kind.HasProducer() {
		query = fmt.Sprintf(`
			SELECT %s, dataset_id, experiment_id, season_id, site_id
			FROM %s
			WHERE %s = $1 AND dataset_name = $2
			  AND experiment_name = $3 AND season_name = $4 AND site_name = $5
			LIMIT 1
		`, ks.producerIDCol, ks.validityView, ks.producerNameCol)
		args = []interface{}{in.ProducerName, in.DatasetName, in.ExperimentName, in.SeasonName, in.SiteName}

		err = q.QueryRowContext(ctx, query, args...).Scan(
			&out.producerID, &out.datasetID, &out.experimentID, &out.seasonID, &out.siteID,
		)
	} else {
		query = fmt.Sprintf(`
			SELECT dataset_id, experiment_id, season_id, site_id
			FROM %s
			WHERE dataset_name = $1
			  AND experiment_name = $2 AND season_name = $3 AND site_name = $4
			LIMIT 1
		`, ks.validityView)
		args = []interface{}{in.DatasetName, in.ExperimentName, in.SeasonName, in.SiteName}

		err = q.QueryRowContext(ctx, query, args...).Scan(
			&out.datasetID, &out.experimentID, &out.seasonID, &out.siteID,
		)
	}

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no legal %s combination for producer=%q dataset=%q experiment=%q season=%q site=%q",
			records.ErrInvalidCombination,
			in.Kind, in.ProducerName, in.DatasetName, in.ExperimentName, in.SeasonName, in.SiteName)
	}

	if err != nil {
		return nil, fmt.Errorf("%w: check combination: %w", ErrRecordStoreFailed, err)
	}

	return &out, nil
}

// ListCombinations returns every currently legal combination for the kind,
// as names. The result is a live projection of the registry, so registering
// or associating entities changes it immediately.
func (s *RecordStore) ListCombinations(ctx context.Context, kind registry.Kind) ([]records.Combination, error) {
	ks, err := schemaFor(kind)
	if err != nil {
		return nil, err
	}

	var query string
	if kind.HasProducer() {
		query = fmt.Sprintf(`
			SELECT %s, dataset_name, experiment_name, season_name, site_name
			FROM %s
			ORDER BY %s, dataset_name, experiment_name, season_name, site_name
		`, ks.producerNameCol, ks.validityView, ks.producerNameCol)
	} else {
		query = fmt.Sprintf(`
			SELECT dataset_name, experiment_name, season_name, site_name
			FROM %s
			ORDER BY dataset_name, experiment_name, season_name, site_name
		`, ks.validityView)
	}

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: list combinations: %w", ErrRecordStoreFailed, err)
	}
	defer func() { _ = rows.Close() }()

	var out []records.Combination

	for rows.Next() {
		c := records.Combination{Kind: kind}

		if kind.HasProducer() {
			err = rows.Scan(&c.ProducerName, &c.DatasetName, &c.ExperimentName, &c.SeasonName, &c.SiteName)
		} else {
			err = rows.Scan(&c.DatasetName, &c.ExperimentName, &c.SeasonName, &c.SiteName)
		}

		if err != nil {
			return nil, fmt.Errorf("%w: scan combination: %w", ErrRecordStoreFailed, err)
		}

		out = append(out, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list combinations: %w", ErrRecordStoreFailed, err)
	}

	return out, nil
}
