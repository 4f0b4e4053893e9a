// Package registry provides domain models for the GEMINI entity registry.
//
// The registry is the canonical source for field-trial entities: experiments,
// seasons, sites, cultivars, plots, plants, and the observation producers
// (sensors, traits, procedures, scripts, models) that emit time-stamped
// records. Every entity carries a natural key that callers use to address it
// by name; internal identifiers are UUIDs assigned at creation.
//
// This is a pure domain package without JSON tags. The API layer maps request
// payloads to these types, and the internal/storage package persists them.
package registry

import (
	"time"

	"github.com/google/uuid"
)

type (
	// Attributes is a free-form, string-keyed attribute payload carried by
	// entities, associations, and records. The engine stores attribute maps
	// verbatim (JSONB) and never interprets their contents.
	Attributes map[string]interface{}

	// Kind identifies a producer kind or the generic dataset kind. Each record
	// pipeline and each dataset carries exactly one kind tag.
	Kind string

	// Experiment is the root of the field-trial hierarchy. Experiment names
	// are globally unique; start must not be after end.
	Experiment struct {
		ID        uuid.UUID
		Name      string
		StartDate time.Time
		EndDate   time.Time
		Info      Attributes
		CreatedAt time.Time
		UpdatedAt time.Time
	}

	// Season belongs to exactly one experiment. Season names are unique within
	// that experiment; start must not be after end.
	Season struct {
		ID           uuid.UUID
		ExperimentID uuid.UUID
		Name         string
		StartDate    time.Time
		EndDate      time.Time
		Info         Attributes
	}

	// Site is a global entity identified by (name, city, state, country).
	// Sites are linked to experiments through association rows.
	Site struct {
		ID      uuid.UUID
		Name    string
		City    string
		State   string
		Country string
		Info    Attributes
	}

	// Cultivar is a global entity identified by (accession, population).
	Cultivar struct {
		ID         uuid.UUID
		Accession  string
		Population string
		Info       Attributes
	}

	// Plot is identified by the composite (experiment, season, site, number,
	// row, column). The experiment/season/site references are soft: deleting
	// any of them nulls the reference rather than deleting the plot.
	Plot struct {
		ID           uuid.UUID
		ExperimentID uuid.NullUUID
		SeasonID     uuid.NullUUID
		SiteID       uuid.NullUUID
		Number       int
		RowNumber    int
		ColumnNumber int
		GeometryInfo Attributes
		Info         Attributes
	}

	// Plant belongs to a plot and optionally references a cultivar.
	Plant struct {
		ID         uuid.UUID
		PlotID     uuid.UUID
		Number     int
		CultivarID uuid.NullUUID
		Info       Attributes
	}

	// Sensor is an observation producer with type and format metadata.
	Sensor struct {
		ID         uuid.UUID
		Name       string
		Type       string
		DataType   string
		DataFormat string
		Info       Attributes
	}

	// Trait is an observation producer for numeric measurements.
	Trait struct {
		ID    uuid.UUID
		Name  string
		Units string
		Level string
		Info  Attributes
	}

	// Procedure is an observation producer for procedural records.
	Procedure struct {
		ID   uuid.UUID
		Name string
		Info Attributes
	}

	// Script is an observation producer for scripted pipelines.
	Script struct {
		ID        uuid.UUID
		Name      string
		URL       string
		Extension string
		Info      Attributes
	}

	// Model is an observation producer for model outputs.
	Model struct {
		ID   uuid.UUID
		Name string
		URL  string
		Info Attributes
	}

	// ProducerRun is a run sub-entity of a producer, carrying a free-form
	// attribute payload. Unnamed runs are identified by (producer, payload).
	ProducerRun struct {
		ID         uuid.UUID
		Kind       Kind
		ProducerID uuid.UUID
		Info       Attributes
	}

	// Dataset is a named, kind-tagged container grouping records from one or
	// more producers for one or more experiments. Dataset names are globally
	// unique.
	Dataset struct {
		ID             uuid.UUID
		Name           string
		Kind           Kind
		CollectionDate time.Time
		Info           Attributes
	}
)

// Producer kinds plus the generic dataset kind.
const (
	KindSensor    Kind = "sensor"
	KindTrait     Kind = "trait"
	KindProcedure Kind = "procedure"
	KindScript    Kind = "script"
	KindModel     Kind = "model"
	KindDataset   Kind = "dataset"
)

// ProducerKinds lists the kinds that have a producer entity, in pipeline
// order. The generic dataset kind is excluded.
var ProducerKinds = []Kind{KindSensor, KindTrait, KindProcedure, KindScript, KindModel}

// IsValid reports whether k is a known kind (producer kinds or the generic
// dataset kind).
func (k Kind) IsValid() bool {
	switch k {
	case KindSensor, KindTrait, KindProcedure, KindScript, KindModel, KindDataset:
		return true
	}

	return false
}

// HasProducer reports whether records of this kind carry a producer entity.
// Only the generic dataset kind does not.
func (k Kind) HasProducer() bool {
	return k.IsValid() && k != KindDataset
}

// PlotScoped reports whether records of this kind resolve plot coordinates.
// Sensor and trait records are collected per plot; the remaining kinds are
// scoped to the (experiment, season, site) level.
func (k Kind) PlotScoped() bool {
	return k == KindSensor || k == KindTrait
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	return string(k)
}

// Clone returns a shallow copy of the attribute map. A nil receiver clones to
// an empty, non-nil map so callers can mutate the result safely.
func (a Attributes) Clone() Attributes {
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v
	}

	return out
}
