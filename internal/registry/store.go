package registry

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned by lookup operations when no entity matches the
// supplied natural key.
var ErrNotFound = errors.New("entity not found")

// Store defines what the domain needs for registry persistence. The concrete
// PostgreSQL implementation lives in internal/storage.
//
// Create operations are idempotent-or-error: inserting an entity whose
// natural key already exists returns the existing entity, never a duplicate
// row. Association operations are get-or-create with the same guarantee.
// Nothing here performs deletion cascades beyond the declared foreign-key
// policy (cascade for ownership edges, set-null for soft references).
type Store interface {
	CreateExperiment(ctx context.Context, e *Experiment) (*Experiment, error)
	GetExperimentByName(ctx context.Context, name string) (*Experiment, error)

	CreateSeason(ctx context.Context, s *Season) (*Season, error)
	GetSeason(ctx context.Context, experimentID uuid.UUID, name string) (*Season, error)

	CreateSite(ctx context.Context, s *Site) (*Site, error)
	GetSiteByName(ctx context.Context, name string) (*Site, error)

	CreateCultivar(ctx context.Context, c *Cultivar) (*Cultivar, error)

	CreatePlot(ctx context.Context, p *Plot) (*Plot, error)
	CreatePlant(ctx context.Context, p *Plant) (*Plant, error)

	CreateSensor(ctx context.Context, s *Sensor) (*Sensor, error)
	CreateTrait(ctx context.Context, t *Trait) (*Trait, error)
	CreateProcedure(ctx context.Context, p *Procedure) (*Procedure, error)
	CreateScript(ctx context.Context, s *Script) (*Script, error)
	CreateModel(ctx context.Context, m *Model) (*Model, error)

	// GetProducerID resolves a producer name for the given kind.
	GetProducerID(ctx context.Context, kind Kind, name string) (uuid.UUID, error)

	// CreateProducerRun records a run sub-entity. Runs without distinct
	// payloads collapse onto the (kind, producer, payload) natural key.
	CreateProducerRun(ctx context.Context, r *ProducerRun) (*ProducerRun, error)

	CreateDataset(ctx context.Context, d *Dataset) (*Dataset, error)
	GetDatasetByName(ctx context.Context, name string) (*Dataset, error)

	AssociateExperimentSite(ctx context.Context, experimentID, siteID uuid.UUID, info Attributes) error
	AssociateExperimentCultivar(ctx context.Context, experimentID, cultivarID uuid.UUID, info Attributes) error
	AssociatePlotCultivar(ctx context.Context, plotID, cultivarID uuid.UUID, info Attributes) error
	AssociateExperimentProducer(ctx context.Context, kind Kind, experimentID, producerID uuid.UUID, info Attributes) error
	AssociateExperimentDataset(ctx context.Context, experimentID, datasetID uuid.UUID, info Attributes) error
	AssociateProducerDataset(ctx context.Context, kind Kind, producerID, datasetID uuid.UUID, info Attributes) error
}
