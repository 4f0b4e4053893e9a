// Package records provides domain models for observation records and the
// name-addressed insert contract of the validity-and-provisioning engine.
//
// Callers insert records by human-readable name (producer name, dataset name,
// experiment/season/site names, and for plot-scoped kinds the plot
// coordinates); the engine auto-provisions missing datasets, plots, and
// association rows, verifies the combination against the validity views, and
// resolves every name to its internal identifier before the row is written.
//
// This is a pure domain package without JSON tags. The API layer uses its own
// payload types and maps to these domain types.
package records

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/GEMINI-Breeding/gemini-engine/internal/registry"
)

type (
	// PlotCoordinates locates a plot inside a legal (experiment, season, site)
	// combination. Coordinates alone never identify a plot; the triple prefix
	// must be registered first.
	PlotCoordinates struct {
		Number       int
		RowNumber    int
		ColumnNumber int
	}

	// Insert is a name-addressed record insert request. The same shape serves
	// every pipeline: sensor, trait, procedure, script, model, and the generic
	// dataset kind. ProducerName is empty for generic dataset records; Plot is
	// only consulted for plot-scoped kinds (sensor, trait); TraitValue is the
	// numeric payload for traits while Data carries the structured payload for
	// every other kind.
	Insert struct {
		Kind           registry.Kind
		Timestamp      time.Time
		CollectionDate time.Time

		ProducerName   string
		DatasetName    string
		ExperimentName string
		SeasonName     string
		SiteName       string
		Plot           *PlotCoordinates

		TraitValue float64
		Data       registry.Attributes

		RecordFile string
		RecordInfo registry.Attributes
	}

	// Record is the wide, denormalized observation row as stored: resolved
	// identifiers alongside the original names, the kind-specific payload, an
	// optional file reference, and the free-form record info. A single type
	// covers every kind; fields that do not apply to a kind hold zero values.
	Record struct {
		ID             uuid.UUID
		Kind           registry.Kind
		Timestamp      time.Time
		CollectionDate time.Time

		ProducerID   uuid.UUID
		ProducerName string

		DatasetID   uuid.UUID
		DatasetName string

		ExperimentID   uuid.UUID
		ExperimentName string
		SeasonID       uuid.UUID
		SeasonName     string
		SiteID         uuid.UUID
		SiteName       string

		PlotID uuid.NullUUID
		Plot   *PlotCoordinates

		TraitValue float64
		Data       registry.Attributes

		RecordFile string
		RecordInfo registry.Attributes
		CreatedAt  time.Time
	}

	// Combination is one row of a validity view: a tuple of entity names that
	// satisfies all required association chains for its kind. ProducerName is
	// empty for the generic dataset kind.
	Combination struct {
		Kind           registry.Kind
		ProducerName   string
		DatasetName    string
		ExperimentName string
		SeasonName     string
		SiteName       string
	}

	// Filter narrows record queries. Empty fields match everything; the read
	// views are denormalized, so any field filters without further joins.
	Filter struct {
		ProducerName   string
		DatasetName    string
		ExperimentName string
		SeasonName     string
		SiteName       string
		CollectedAfter time.Time
	}

	// Pagination bounds record query results.
	Pagination struct {
		Limit  int
		Offset int
	}

	// QueryResult holds a page of records plus the unpaginated total.
	QueryResult struct {
		Records []Record
		Total   int
	}
)

// CombinationKey returns the natural grouping key for batch inserts: inserts
// sharing a key share one provisioning/validation/resolution pass. The key
// covers producer, dataset, experiment, season, site, and (for plot-scoped
// kinds) the plot coordinates.
func (in *Insert) CombinationKey() string {
	plot := ""
	if in.Kind.PlotScoped() && in.Plot != nil {
		plot = fmt.Sprintf("|%d|%d|%d", in.Plot.Number, in.Plot.RowNumber, in.Plot.ColumnNumber)
	}

	return fmt.Sprintf("%s|%s|%s|%s|%s|%s%s",
		in.Kind, in.ProducerName, in.DatasetName,
		in.ExperimentName, in.SeasonName, in.SiteName, plot)
}

// DatasetKind returns the dataset kind tag this pipeline provisions. Each
// pipeline tags auto-created datasets with its own kind (sensor records
// provision sensor-kind datasets, and so on); the generic pipeline tags
// datasets with the generic kind.
func (in *Insert) DatasetKind() registry.Kind {
	return in.Kind
}
