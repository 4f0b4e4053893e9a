package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/GEMINI-Breeding/gemini-engine/internal/config"
	"github.com/GEMINI-Breeding/gemini-engine/internal/registry"
)

// Sentinel errors for registry storage operations.
var (
	// ErrRegistryStoreFailed is returned when a registry operation fails.
	ErrRegistryStoreFailed = errors.New("registry storage failed")

	// RegistryStore implements registry.Store.
	_ registry.Store = (*RegistryStore)(nil)
)

// RegistryStore implements registry.Store with a PostgreSQL backend.
//
// Every create is an "insert, and on conflict treat as already-created"
// operation: the natural-key uniqueness constraint turns a lost race into a
// re-read of the winner's row instead of a duplicate.
type RegistryStore struct {
	conn      *Connection
	logger    *slog.Logger
	validator *registry.Validator
}

// NewRegistryStore creates a PostgreSQL-backed registry store.
// Returns ErrNoDatabaseConnection if conn is nil.
func NewRegistryStore(conn *Connection) (*RegistryStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &RegistryStore{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
		validator: registry.NewValidator(),
	}, nil
}

// CreateExperiment inserts an experiment or returns the existing one with the
// same name.
func (s *RegistryStore) CreateExperiment(ctx context.Context, e *registry.Experiment) (*registry.Experiment, error) {
	if err := s.validator.ValidateExperiment(e); err != nil {
		return nil, err
	}

	infoJSON, err := marshalAttrs(e.Info)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRegistryStoreFailed, err)
	}

	query := `
		INSERT INTO experiments (experiment_name, experiment_start_date, experiment_end_date, experiment_info)
		VALUES ($1, COALESCE(NULLIF($2::date, '0001-01-01'::date), CURRENT_DATE),
		            COALESCE(NULLIF($3::date, '0001-01-01'::date), CURRENT_DATE), $4)
		ON CONFLICT (experiment_name) DO NOTHING
	`

	if _, err := s.conn.ExecContext(ctx, query, e.Name, e.StartDate, e.EndDate, infoJSON); err != nil {
		return nil, fmt.Errorf("%w: insert experiment: %w", ErrRegistryStoreFailed, err)
	}

	return s.GetExperimentByName(ctx, e.Name)
}

// GetExperimentByName resolves an experiment by its unique name.
func (s *RegistryStore) GetExperimentByName(ctx context.Context, name string) (*registry.Experiment, error) {
	query := `
		SELECT id, experiment_name, experiment_start_date, experiment_end_date,
		       experiment_info, created_at, updated_at
		FROM experiments
		WHERE experiment_name = $1
	`

	var (
		e        registry.Experiment
		infoJSON []byte
	)

	err := s.conn.QueryRowContext(ctx, query, name).Scan(
		&e.ID, &e.Name, &e.StartDate, &e.EndDate, &infoJSON, &e.CreatedAt, &e.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: experiment %q", registry.ErrNotFound, name)
	}

	if err != nil {
		return nil, fmt.Errorf("%w: get experiment: %w", ErrRegistryStoreFailed, err)
	}

	if e.Info, err = unmarshalAttrs(infoJSON); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRegistryStoreFailed, err)
	}

	return &e, nil
}

// CreateSeason inserts a season under its experiment or returns the existing
// one. Season names are unique per experiment, not globally.
func (s *RegistryStore) CreateSeason(ctx context.Context, season *registry.Season) (*registry.Season, error) {
	if err := s.validator.ValidateSeason(season); err != nil {
		return nil, err
	}

	infoJSON, err := marshalAttrs(season.Info)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRegistryStoreFailed, err)
	}

	query := `
		INSERT INTO seasons (experiment_id, season_name, season_start_date, season_end_date, season_info)
		VALUES ($1, $2, COALESCE(NULLIF($3::date, '0001-01-01'::date), CURRENT_DATE),
		               COALESCE(NULLIF($4::date, '0001-01-01'::date), CURRENT_DATE), $5)
		ON CONFLICT (experiment_id, season_name) DO NOTHING
	`

	_, err = s.conn.ExecContext(ctx, query,
		season.ExperimentID, season.Name, season.StartDate, season.EndDate, infoJSON)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("%w: experiment %s", registry.ErrNotFound, season.ExperimentID)
		}

		return nil, fmt.Errorf("%w: insert season: %w", ErrRegistryStoreFailed, err)
	}

	return s.GetSeason(ctx, season.ExperimentID, season.Name)
}

// GetSeason resolves a season by experiment and name.
func (s *RegistryStore) GetSeason(ctx context.Context, experimentID uuid.UUID, name string) (*registry.Season, error) {
	query := `
		SELECT id, experiment_id, season_name, season_start_date, season_end_date, season_info
		FROM seasons
		WHERE experiment_id = $1 AND season_name = $2
	`

	var (
		season   registry.Season
		infoJSON []byte
	)

	err := s.conn.QueryRowContext(ctx, query, experimentID, name).Scan(
		&season.ID, &season.ExperimentID, &season.Name, &season.StartDate, &season.EndDate, &infoJSON,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: season %q", registry.ErrNotFound, name)
	}

	if err != nil {
		return nil, fmt.Errorf("%w: get season: %w", ErrRegistryStoreFailed, err)
	}

	if season.Info, err = unmarshalAttrs(infoJSON); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRegistryStoreFailed, err)
	}

	return &season, nil
}

// CreateSite inserts a site or returns the existing one with the same
// (name, city, state, country) natural key.
func (s *RegistryStore) CreateSite(ctx context.Context, site *registry.Site) (*registry.Site, error) {
	if err := s.validator.ValidateSite(site); err != nil {
		return nil, err
	}

	infoJSON, err := marshalAttrs(site.Info)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRegistryStoreFailed, err)
	}

	query := `
		INSERT INTO sites (site_name, site_city, site_state, site_country, site_info)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (site_name, site_city, site_state, site_country) DO NOTHING
	`

	_, err = s.conn.ExecContext(ctx, query, site.Name, site.City, site.State, site.Country, infoJSON)
	if err != nil {
		return nil, fmt.Errorf("%w: insert site: %w", ErrRegistryStoreFailed, err)
	}

	fetch := `
		SELECT id, site_name, site_city, site_state, site_country, site_info
		FROM sites
		WHERE site_name = $1 AND site_city = $2 AND site_state = $3 AND site_country = $4
	`

	var (
		out      registry.Site
		infoData []byte
	)

	err = s.conn.QueryRowContext(ctx, fetch, site.Name, site.City, site.State, site.Country).Scan(
		&out.ID, &out.Name, &out.City, &out.State, &out.Country, &infoData,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: get site: %w", ErrRegistryStoreFailed, err)
	}

	if out.Info, err = unmarshalAttrs(infoData); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRegistryStoreFailed, err)
	}

	return &out, nil
}

// GetSiteByName resolves a site by name alone. Record inserts address sites
// by name; when several sites share a name the legality check against the
// validity view disambiguates, so a plain name lookup returning the first
// match is only used for registration flows.
func (s *RegistryStore) GetSiteByName(ctx context.Context, name string) (*registry.Site, error) {
	query := `
		SELECT id, site_name, site_city, site_state, site_country, site_info
		FROM sites
		WHERE site_name = $1
		ORDER BY site_city, site_state, site_country
		LIMIT 1
	`

	var (
		site     registry.Site
		infoJSON []byte
	)

	err := s.conn.QueryRowContext(ctx, query, name).Scan(
		&site.ID, &site.Name, &site.City, &site.State, &site.Country, &infoJSON,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: site %q", registry.ErrNotFound, name)
	}

	if err != nil {
		return nil, fmt.Errorf("%w: get site: %w", ErrRegistryStoreFailed, err)
	}

	if site.Info, err = unmarshalAttrs(infoJSON); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRegistryStoreFailed, err)
	}

	return &site, nil
}

// CreateCultivar inserts a cultivar or returns the existing one with the same
// (accession, population) pair.
func (s *RegistryStore) CreateCultivar(ctx context.Context, c *registry.Cultivar) (*registry.Cultivar, error) {
	if err := s.validator.ValidateCultivar(c); err != nil {
		return nil, err
	}

	infoJSON, err := marshalAttrs(c.Info)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRegistryStoreFailed, err)
	}

	query := `
		INSERT INTO cultivars (cultivar_accession, cultivar_population, cultivar_info)
		VALUES ($1, $2, $3)
		ON CONFLICT (cultivar_accession, cultivar_population) DO NOTHING
	`

	if _, err := s.conn.ExecContext(ctx, query, c.Accession, c.Population, infoJSON); err != nil {
		return nil, fmt.Errorf("%w: insert cultivar: %w", ErrRegistryStoreFailed, err)
	}

	fetch := `
		SELECT id, cultivar_accession, cultivar_population, cultivar_info
		FROM cultivars
		WHERE cultivar_accession = $1 AND cultivar_population = $2
	`

	var (
		out      registry.Cultivar
		infoData []byte
	)

	err = s.conn.QueryRowContext(ctx, fetch, c.Accession, c.Population).Scan(
		&out.ID, &out.Accession, &out.Population, &infoData,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: get cultivar: %w", ErrRegistryStoreFailed, err)
	}

	if out.Info, err = unmarshalAttrs(infoData); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRegistryStoreFailed, err)
	}

	return &out, nil
}

// CreatePlot inserts a plot or returns the existing one with the same
// composite coordinates. Registration flows create plots explicitly; the
// record pipeline provisions them through the provisioner, which validates
// the (experiment, season, site) prefix first.
func (s *RegistryStore) CreatePlot(ctx context.Context, p *registry.Plot) (*registry.Plot, error) {
	geomJSON, err := marshalAttrs(p.GeometryInfo)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRegistryStoreFailed, err)
	}

	infoJSON, err := marshalAttrs(p.Info)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRegistryStoreFailed, err)
	}

	query := `
		INSERT INTO plots (experiment_id, season_id, site_id,
		                   plot_number, plot_row_number, plot_column_number,
		                   plot_geometry_info, plot_info)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (experiment_id, season_id, site_id, plot_number, plot_row_number, plot_column_number)
		DO NOTHING
	`

	_, err = s.conn.ExecContext(ctx, query,
		p.ExperimentID, p.SeasonID, p.SiteID,
		p.Number, p.RowNumber, p.ColumnNumber, geomJSON, infoJSON)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("%w: plot hierarchy reference", registry.ErrNotFound)
		}

		return nil, fmt.Errorf("%w: insert plot: %w", ErrRegistryStoreFailed, err)
	}

	fetch := `
		SELECT id, experiment_id, season_id, site_id,
		       plot_number, plot_row_number, plot_column_number,
		       plot_geometry_info, plot_info
		FROM plots
		WHERE experiment_id IS NOT DISTINCT FROM $1
		  AND season_id IS NOT DISTINCT FROM $2
		  AND site_id IS NOT DISTINCT FROM $3
		  AND plot_number = $4 AND plot_row_number = $5 AND plot_column_number = $6
	`

	var (
		out      registry.Plot
		geomData []byte
		infoData []byte
	)

	err = s.conn.QueryRowContext(ctx, fetch,
		p.ExperimentID, p.SeasonID, p.SiteID, p.Number, p.RowNumber, p.ColumnNumber).Scan(
		&out.ID, &out.ExperimentID, &out.SeasonID, &out.SiteID,
		&out.Number, &out.RowNumber, &out.ColumnNumber, &geomData, &infoData,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: get plot: %w", ErrRegistryStoreFailed, err)
	}

	if out.GeometryInfo, err = unmarshalAttrs(geomData); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRegistryStoreFailed, err)
	}

	if out.Info, err = unmarshalAttrs(infoData); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRegistryStoreFailed, err)
	}

	return &out, nil
}

// CreatePlant inserts a plant under its plot or returns the existing one.
func (s *RegistryStore) CreatePlant(ctx context.Context, p *registry.Plant) (*registry.Plant, error) {
	infoJSON, err := marshalAttrs(p.Info)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRegistryStoreFailed, err)
	}

	query := `
		INSERT INTO plants (plot_id, plant_number, cultivar_id, plant_info)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (plot_id, plant_number) DO NOTHING
	`

	if _, err := s.conn.ExecContext(ctx, query, p.PlotID, p.Number, p.CultivarID, infoJSON); err != nil {
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("%w: plot %s", registry.ErrNotFound, p.PlotID)
		}

		return nil, fmt.Errorf("%w: insert plant: %w", ErrRegistryStoreFailed, err)
	}

	fetch := `
		SELECT id, plot_id, plant_number, cultivar_id, plant_info
		FROM plants
		WHERE plot_id = $1 AND plant_number = $2
	`

	var (
		out      registry.Plant
		infoData []byte
	)

	err = s.conn.QueryRowContext(ctx, fetch, p.PlotID, p.Number).Scan(
		&out.ID, &out.PlotID, &out.Number, &out.CultivarID, &infoData,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: get plant: %w", ErrRegistryStoreFailed, err)
	}

	if out.Info, err = unmarshalAttrs(infoData); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRegistryStoreFailed, err)
	}

	return &out, nil
}

// CreateSensor inserts a sensor or returns the existing one by name.
func (s *RegistryStore) CreateSensor(ctx context.Context, sensor *registry.Sensor) (*registry.Sensor, error) {
	if err := s.validator.ValidateProducerName(registry.KindSensor, sensor.Name); err != nil {
		return nil, err
	}

	infoJSON, err := marshalAttrs(sensor.Info)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRegistryStoreFailed, err)
	}

	query := `
		INSERT INTO sensors (sensor_name, sensor_type, sensor_data_type, sensor_data_format, sensor_info)
		VALUES ($1, COALESCE(NULLIF($2, ''), 'default'),
		            COALESCE(NULLIF($3, ''), 'default'),
		            COALESCE(NULLIF($4, ''), 'default'), $5)
		ON CONFLICT (sensor_name) DO NOTHING
	`

	_, err = s.conn.ExecContext(ctx, query,
		sensor.Name, sensor.Type, sensor.DataType, sensor.DataFormat, infoJSON)
	if err != nil {
		return nil, fmt.Errorf("%w: insert sensor: %w", ErrRegistryStoreFailed, err)
	}

	fetch := `
		SELECT id, sensor_name, sensor_type, sensor_data_type, sensor_data_format, sensor_info
		FROM sensors
		WHERE sensor_name = $1
	`

	var (
		out      registry.Sensor
		infoData []byte
	)

	err = s.conn.QueryRowContext(ctx, fetch, sensor.Name).Scan(
		&out.ID, &out.Name, &out.Type, &out.DataType, &out.DataFormat, &infoData,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: get sensor: %w", ErrRegistryStoreFailed, err)
	}

	if out.Info, err = unmarshalAttrs(infoData); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRegistryStoreFailed, err)
	}

	return &out, nil
}

// CreateTrait inserts a trait or returns the existing one by name.
func (s *RegistryStore) CreateTrait(ctx context.Context, trait *registry.Trait) (*registry.Trait, error) {
	if err := s.validator.ValidateProducerName(registry.KindTrait, trait.Name); err != nil {
		return nil, err
	}

	infoJSON, err := marshalAttrs(trait.Info)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRegistryStoreFailed, err)
	}

	query := `
		INSERT INTO traits (trait_name, trait_units, trait_level, trait_info)
		VALUES ($1, $2, COALESCE(NULLIF($3, ''), 'plot'), $4)
		ON CONFLICT (trait_name) DO NOTHING
	`

	if _, err := s.conn.ExecContext(ctx, query, trait.Name, trait.Units, trait.Level, infoJSON); err != nil {
		return nil, fmt.Errorf("%w: insert trait: %w", ErrRegistryStoreFailed, err)
	}

	fetch := `SELECT id, trait_name, trait_units, trait_level, trait_info FROM traits WHERE trait_name = $1`

	var (
		out      registry.Trait
		infoData []byte
	)

	err = s.conn.QueryRowContext(ctx, fetch, trait.Name).Scan(
		&out.ID, &out.Name, &out.Units, &out.Level, &infoData,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: get trait: %w", ErrRegistryStoreFailed, err)
	}

	if out.Info, err = unmarshalAttrs(infoData); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRegistryStoreFailed, err)
	}

	return &out, nil
}

// CreateProcedure inserts a procedure or returns the existing one by name.
func (s *RegistryStore) CreateProcedure(ctx context.Context, p *registry.Procedure) (*registry.Procedure, error) {
	if err := s.validator.ValidateProducerName(registry.KindProcedure, p.Name); err != nil {
		return nil, err
	}

	infoJSON, err := marshalAttrs(p.Info)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRegistryStoreFailed, err)
	}

	query := `
		INSERT INTO procedures (procedure_name, procedure_info)
		VALUES ($1, $2)
		ON CONFLICT (procedure_name) DO NOTHING
	`

	if _, err := s.conn.ExecContext(ctx, query, p.Name, infoJSON); err != nil {
		return nil, fmt.Errorf("%w: insert procedure: %w", ErrRegistryStoreFailed, err)
	}

	fetch := `SELECT id, procedure_name, procedure_info FROM procedures WHERE procedure_name = $1`

	var (
		out      registry.Procedure
		infoData []byte
	)

	if err := s.conn.QueryRowContext(ctx, fetch, p.Name).Scan(&out.ID, &out.Name, &infoData); err != nil {
		return nil, fmt.Errorf("%w: get procedure: %w", ErrRegistryStoreFailed, err)
	}

	if out.Info, err = unmarshalAttrs(infoData); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRegistryStoreFailed, err)
	}

	return &out, nil
}

// CreateScript inserts a script or returns the existing one by name.
func (s *RegistryStore) CreateScript(ctx context.Context, script *registry.Script) (*registry.Script, error) {
	if err := s.validator.ValidateProducerName(registry.KindScript, script.Name); err != nil {
		return nil, err
	}

	infoJSON, err := marshalAttrs(script.Info)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRegistryStoreFailed, err)
	}

	query := `
		INSERT INTO scripts (script_name, script_url, script_extension, script_info)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (script_name) DO NOTHING
	`

	_, err = s.conn.ExecContext(ctx, query, script.Name, script.URL, script.Extension, infoJSON)
	if err != nil {
		return nil, fmt.Errorf("%w: insert script: %w", ErrRegistryStoreFailed, err)
	}

	fetch := `SELECT id, script_name, script_url, script_extension, script_info FROM scripts WHERE script_name = $1`

	var (
		out      registry.Script
		infoData []byte
	)

	err = s.conn.QueryRowContext(ctx, fetch, script.Name).Scan(
		&out.ID, &out.Name, &out.URL, &out.Extension, &infoData,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: get script: %w", ErrRegistryStoreFailed, err)
	}

	if out.Info, err = unmarshalAttrs(infoData); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRegistryStoreFailed, err)
	}

	return &out, nil
}

// CreateModel inserts a model or returns the existing one by name.
func (s *RegistryStore) CreateModel(ctx context.Context, model *registry.Model) (*registry.Model, error) {
	if err := s.validator.ValidateProducerName(registry.KindModel, model.Name); err != nil {
		return nil, err
	}

	infoJSON, err := marshalAttrs(model.Info)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRegistryStoreFailed, err)
	}

	query := `
		INSERT INTO models (model_name, model_url, model_info)
		VALUES ($1, $2, $3)
		ON CONFLICT (model_name) DO NOTHING
	`

	if _, err := s.conn.ExecContext(ctx, query, model.Name, model.URL, infoJSON); err != nil {
		return nil, fmt.Errorf("%w: insert model: %w", ErrRegistryStoreFailed, err)
	}

	fetch := `SELECT id, model_name, model_url, model_info FROM models WHERE model_name = $1`

	var (
		out      registry.Model
		infoData []byte
	)

	if err := s.conn.QueryRowContext(ctx, fetch, model.Name).Scan(&out.ID, &out.Name, &out.URL, &infoData); err != nil {
		return nil, fmt.Errorf("%w: get model: %w", ErrRegistryStoreFailed, err)
	}

	if out.Info, err = unmarshalAttrs(infoData); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRegistryStoreFailed, err)
	}

	return &out, nil
}

// GetProducerID resolves a producer name for the given kind.
func (s *RegistryStore) GetProducerID(ctx context.Context, kind registry.Kind, name string) (uuid.UUID, error) {
	ks, err := schemaFor(kind)
	if err != nil || ks.producerTable == "" {
		return uuid.Nil, fmt.Errorf("%w: kind %q has no producer entity", ErrRegistryStoreFailed, kind)
	}

	query := fmt.Sprintf(`SELECT id FROM %s WHERE %s = $1`, ks.producerTable, ks.producerNameCol)

	var id uuid.UUID

	err = s.conn.QueryRowContext(ctx, query, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("%w: %s %q", registry.ErrNotFound, kind, name)
	}

	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: get %s: %w", ErrRegistryStoreFailed, kind, err)
	}

	return id, nil
}

// CreateProducerRun records a run sub-entity. Runs with identical (kind,
// producer, payload) collapse onto the existing row.
func (s *RegistryStore) CreateProducerRun(ctx context.Context, r *registry.ProducerRun) (*registry.ProducerRun, error) {
	if !r.Kind.HasProducer() {
		return nil, fmt.Errorf("%w: kind %q has no runs", registry.ErrUnknownKind, r.Kind)
	}

	infoJSON, err := marshalAttrs(r.Info)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRegistryStoreFailed, err)
	}

	query := `
		INSERT INTO producer_runs (producer_kind, producer_id, run_info)
		VALUES ($1, $2, $3)
		ON CONFLICT (producer_kind, producer_id, run_info) DO NOTHING
	`

	if _, err := s.conn.ExecContext(ctx, query, r.Kind.String(), r.ProducerID, infoJSON); err != nil {
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("%w: producer %s", registry.ErrNotFound, r.ProducerID)
		}

		return nil, fmt.Errorf("%w: insert run: %w", ErrRegistryStoreFailed, err)
	}

	fetch := `
		SELECT id, producer_kind, producer_id, run_info
		FROM producer_runs
		WHERE producer_kind = $1 AND producer_id = $2 AND run_info = $3
	`

	var (
		out      registry.ProducerRun
		kindStr  string
		infoData []byte
	)

	err = s.conn.QueryRowContext(ctx, fetch, r.Kind.String(), r.ProducerID, infoJSON).Scan(
		&out.ID, &kindStr, &out.ProducerID, &infoData,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: get run: %w", ErrRegistryStoreFailed, err)
	}

	out.Kind = registry.Kind(kindStr)

	if out.Info, err = unmarshalAttrs(infoData); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRegistryStoreFailed, err)
	}

	return &out, nil
}

// CreateDataset inserts a dataset or returns the existing one by name. The
// kind tag of an existing dataset is left untouched.
func (s *RegistryStore) CreateDataset(ctx context.Context, d *registry.Dataset) (*registry.Dataset, error) {
	if err := s.validator.ValidateDataset(d); err != nil {
		return nil, err
	}

	infoJSON, err := marshalAttrs(d.Info)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRegistryStoreFailed, err)
	}

	query := `
		INSERT INTO datasets (dataset_name, dataset_type, collection_date, dataset_info)
		VALUES ($1, $2, COALESCE(NULLIF($3::date, '0001-01-01'::date), CURRENT_DATE), $4)
		ON CONFLICT (dataset_name) DO NOTHING
	`

	_, err = s.conn.ExecContext(ctx, query, d.Name, d.Kind.String(), d.CollectionDate, infoJSON)
	if err != nil {
		return nil, fmt.Errorf("%w: insert dataset: %w", ErrRegistryStoreFailed, err)
	}

	return s.GetDatasetByName(ctx, d.Name)
}

// GetDatasetByName resolves a dataset by its globally unique name.
func (s *RegistryStore) GetDatasetByName(ctx context.Context, name string) (*registry.Dataset, error) {
	query := `
		SELECT id, dataset_name, dataset_type, collection_date, dataset_info
		FROM datasets
		WHERE dataset_name = $1
	`

	var (
		d        registry.Dataset
		kindStr  string
		infoJSON []byte
	)

	err := s.conn.QueryRowContext(ctx, query, name).Scan(
		&d.ID, &d.Name, &kindStr, &d.CollectionDate, &infoJSON,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: dataset %q", registry.ErrNotFound, name)
	}

	if err != nil {
		return nil, fmt.Errorf("%w: get dataset: %w", ErrRegistryStoreFailed, err)
	}

	d.Kind = registry.Kind(kindStr)

	if d.Info, err = unmarshalAttrs(infoJSON); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRegistryStoreFailed, err)
	}

	return &d, nil
}

// AssociateExperimentSite links a site to an experiment. Get-or-create.
func (s *RegistryStore) AssociateExperimentSite(
	ctx context.Context,
	experimentID, siteID uuid.UUID,
	info registry.Attributes,
) error {
	return s.associate(ctx, "experiment_sites", "experiment_id", "site_id", experimentID, siteID, info)
}

// AssociateExperimentCultivar links a cultivar to an experiment. Get-or-create.
func (s *RegistryStore) AssociateExperimentCultivar(
	ctx context.Context,
	experimentID, cultivarID uuid.UUID,
	info registry.Attributes,
) error {
	return s.associate(ctx, "experiment_cultivars", "experiment_id", "cultivar_id", experimentID, cultivarID, info)
}

// AssociatePlotCultivar links a cultivar to a plot. Get-or-create.
func (s *RegistryStore) AssociatePlotCultivar(
	ctx context.Context,
	plotID, cultivarID uuid.UUID,
	info registry.Attributes,
) error {
	return s.associate(ctx, "plot_cultivars", "plot_id", "cultivar_id", plotID, cultivarID, info)
}

// AssociateExperimentProducer links a producer of the given kind to an
// experiment. Get-or-create.
func (s *RegistryStore) AssociateExperimentProducer(
	ctx context.Context,
	kind registry.Kind,
	experimentID, producerID uuid.UUID,
	info registry.Attributes,
) error {
	ks, err := schemaFor(kind)
	if err != nil || ks.experimentAssocTable == "" {
		return fmt.Errorf("%w: kind %q has no experiment association", ErrRegistryStoreFailed, kind)
	}

	return s.associate(ctx, ks.experimentAssocTable, "experiment_id", ks.producerIDCol, experimentID, producerID, info)
}

// AssociateExperimentDataset links a dataset to an experiment. Get-or-create.
func (s *RegistryStore) AssociateExperimentDataset(
	ctx context.Context,
	experimentID, datasetID uuid.UUID,
	info registry.Attributes,
) error {
	return s.associate(ctx, "experiment_datasets", "experiment_id", "dataset_id", experimentID, datasetID, info)
}

// AssociateProducerDataset links a producer of the given kind to a dataset.
// Get-or-create.
func (s *RegistryStore) AssociateProducerDataset(
	ctx context.Context,
	kind registry.Kind,
	producerID, datasetID uuid.UUID,
	info registry.Attributes,
) error {
	ks, err := schemaFor(kind)
	if err != nil || ks.datasetAssocTable == "" {
		return fmt.Errorf("%w: kind %q has no dataset association", ErrRegistryStoreFailed, kind)
	}

	return s.associate(ctx, ks.datasetAssocTable, ks.producerIDCol, "dataset_id", producerID, datasetID, info)
}

// associate is the shared get-or-create for association rows. Table and
// column names come from the kind descriptors, never from caller input.
func (s *RegistryStore) associate(
	ctx context.Context,
	table, leftCol, rightCol string,
	leftID, rightID uuid.UUID,
	info registry.Attributes,
) error {
	infoJSON, err := marshalAttrs(info)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRegistryStoreFailed, err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (%s, %s, info)
		VALUES ($1, $2, $3)
		ON CONFLICT (%s, %s) DO NOTHING
	`, table, leftCol, rightCol, leftCol, rightCol)

	if _, err := s.conn.ExecContext(ctx, query, leftID, rightID, infoJSON); err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: association %s", registry.ErrNotFound, table)
		}

		return fmt.Errorf("%w: insert association %s: %w", ErrRegistryStoreFailed, table, err)
	}

	return nil
}
