package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/GEMINI-Breeding/gemini-engine/internal/records"
	"github.com/GEMINI-Breeding/gemini-engine/internal/registry"
)

// lookupExperimentID resolves an experiment name. Provisioning never invents
// experiments, so a miss is a hard NotFound.
func (s *RecordStore) lookupExperimentID(ctx context.Context, q queryer, name string) (uuid.UUID, error) {
	var id uuid.UUID

	err := q.QueryRowContext(ctx, `SELECT id FROM experiments WHERE experiment_name = $1`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("%w: experiment %q", records.ErrNameNotFound, name)
	}

	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: lookup experiment: %w", ErrRecordStoreFailed, err)
	}

	return id, nil
}

// lookupProducerID resolves a producer name for the kind. Provisioning never
// invents producers.
func (s *RecordStore) lookupProducerID(ctx context.Context, q queryer, kind registry.Kind, name string) (uuid.UUID, error) {
	ks, err := schemaFor(kind)
	if err != nil {
		return uuid.Nil, err
	}

	var id uuid.UUID

	query := fmt.Sprintf(`SELECT id FROM %s WHERE %s = $1`, ks.producerTable, ks.producerNameCol)

	err = q.QueryRowContext(ctx, query, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("%w: %s %q", records.ErrNameNotFound, kind, name)
	}

	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: lookup %s: %w", ErrRecordStoreFailed, kind, err)
	}

	return id, nil
}

// ensureDataset gets or creates the named dataset tagged with the pipeline's
// kind, and links it to the experiment. An existing dataset is left untouched,
// including its kind tag. Returns the dataset id either way.
func (s *RecordStore) ensureDataset(
	ctx context.Context,
	q queryer,
	name string,
	kind registry.Kind,
	collectionDate time.Time,
	experimentID uuid.UUID,
) (uuid.UUID, error) {
	unlock := s.provisionLocks.Lock("dataset|" + name)
	defer unlock()

	date := sql.NullTime{Time: collectionDate, Valid: !collectionDate.IsZero()}

	insert := `
		INSERT INTO datasets (dataset_name, dataset_type, collection_date, dataset_info)
		VALUES ($1, $2, COALESCE($3::date, CURRENT_DATE), '{}')
		ON CONFLICT (dataset_name) DO NOTHING
	`

	// A lost cross-process race surfaces as a unique violation; the re-select
	// below returns the winner's row.
	if _, err := q.ExecContext(ctx, insert, name, kind.String(), date); err != nil && !isUniqueViolation(err) {
		return uuid.Nil, fmt.Errorf("%w: ensure dataset: %w", ErrRecordStoreFailed, err)
	}

	var id uuid.UUID

	err := q.QueryRowContext(ctx, `SELECT id FROM datasets WHERE dataset_name = $1`, name).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: ensure dataset: %w", ErrRecordStoreFailed, err)
	}

	link := `
		INSERT INTO experiment_datasets (experiment_id, dataset_id, info)
		VALUES ($1, $2, '{}')
		ON CONFLICT (experiment_id, dataset_id) DO NOTHING
	`

	if _, err := q.ExecContext(ctx, link, experimentID, id); err != nil {
		if isForeignKeyViolation(err) {
			return uuid.Nil, fmt.Errorf("%w: experiment for dataset link", records.ErrNameNotFound)
		}

		return uuid.Nil, fmt.Errorf("%w: link dataset to experiment: %w", ErrRecordStoreFailed, err)
	}

	return id, nil
}

// ensureProducerDatasetLink gets or creates the producer-to-dataset
// association. Runs before the legality check so a first-time pairing becomes
// legal instead of being rejected.
func (s *RecordStore) ensureProducerDatasetLink(
	ctx context.Context,
	q queryer,
	kind registry.Kind,
	producerID, datasetID uuid.UUID,
) error {
	ks, err := schemaFor(kind)
	if err != nil {
		return err
	}

	if ks.datasetAssocTable == "" {
		return nil
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (%s, dataset_id, info)
		VALUES ($1, $2, '{}')
		ON CONFLICT (%s, dataset_id) DO NOTHING
	`, ks.datasetAssocTable, ks.producerIDCol, ks.producerIDCol)

	if _, err := q.ExecContext(ctx, query, producerID, datasetID); err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: producer or dataset for association", records.ErrNameNotFound)
		}

		return fmt.Errorf("%w: ensure %s link: %w", ErrRecordStoreFailed, kind, err)
	}

	return nil
}

// ensurePlot gets or creates the plot at the given coordinates under a
// hierarchy triple that has already passed the legality check. Plots are
// provisioned with empty geometry and attributes; registration flows fill
// those in separately.
func (s *RecordStore) ensurePlot(
	ctx context.Context,
	q queryer,
	experimentID, seasonID, siteID uuid.UUID,
	plot *records.PlotCoordinates,
) (uuid.UUID, error) {
	key := fmt.Sprintf("plot|%s|%s|%s|%d|%d|%d",
		experimentID, seasonID, siteID, plot.Number, plot.RowNumber, plot.ColumnNumber)
	unlock := s.provisionLocks.Lock(key)
	defer unlock()

	insert := `
		INSERT INTO plots (experiment_id, season_id, site_id,
		                   plot_number, plot_row_number, plot_column_number,
		                   plot_geometry_info, plot_info)
		VALUES ($1, $2, $3, $4, $5, $6, '{}', '{}')
		ON CONFLICT (experiment_id, season_id, site_id, plot_number, plot_row_number, plot_column_number)
		DO NOTHING
	`

	_, err := q.ExecContext(ctx, insert,
		experimentID, seasonID, siteID, plot.Number, plot.RowNumber, plot.ColumnNumber)
	if err != nil && !isUniqueViolation(err) {
		return uuid.Nil, fmt.Errorf("%w: ensure plot: %w", ErrRecordStoreFailed, err)
	}

	fetch := `
		SELECT id FROM plots
		WHERE experiment_id = $1 AND season_id = $2 AND site_id = $3
		  AND plot_number = $4 AND plot_row_number = $5 AND plot_column_number = $6
	`

	var id uuid.UUID

	err = q.QueryRowContext(ctx, fetch,
		experimentID, seasonID, siteID, plot.Number, plot.RowNumber, plot.ColumnNumber).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("%w: plot (%d,%d,%d)", records.ErrPlotNotFound,
			plot.Number, plot.RowNumber, plot.ColumnNumber)
	}

	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: ensure plot: %w", ErrRecordStoreFailed, err)
	}

	return id, nil
}
