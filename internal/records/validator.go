package records

import (
	"errors"
	"fmt"

	"github.com/GEMINI-Breeding/gemini-engine/internal/registry"
)

// Sentinel errors shared by the record pipeline. The first four form the
// engine's error taxonomy; the remainder are request validation failures.
var (
	// ErrInvalidCombination is returned when the (producer, dataset,
	// experiment, season, site) tuple does not satisfy the validity view even
	// after dataset and association provisioning. This is the only hard
	// rejection path of the pipeline.
	ErrInvalidCombination = errors.New("combination is not registered")

	// ErrPlotNotFound is returned when no plot exists with the given
	// coordinates and the (experiment, season, site) prefix is not a legal
	// combination, so no plot may be provisioned.
	ErrPlotNotFound = errors.New("plot not found")

	// ErrNameNotFound is returned when a supplied name fails to resolve to a
	// registered entity.
	ErrNameNotFound = errors.New("name does not resolve")

	// ErrDuplicateRecord is returned when the full composite record key
	// already exists. Hard rejection for direct inserts.
	ErrDuplicateRecord = errors.New("duplicate record")

	// ErrForeignConstraint is returned when an insert or delete violates a
	// declared ownership edge.
	ErrForeignConstraint = errors.New("foreign constraint violation")

	ErrNilInsert            = errors.New("insert cannot be nil")
	ErrInvalidKind          = errors.New("invalid record kind")
	ErrMissingTimestamp     = errors.New("timestamp is required")
	ErrMissingProducerName  = errors.New("producer name is required")
	ErrMissingDatasetName   = errors.New("dataset name is required")
	ErrMissingHierarchyName = errors.New("experiment, season, and site names are required")
	ErrMissingPlot          = errors.New("plot coordinates are required")
)

// Validator performs semantic validation of insert requests before they reach
// the pipeline. Combination legality and duplicate detection are storage
// concerns; this only rejects requests that can never succeed.
type Validator struct{}

// NewValidator creates a new Validator instance.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateInsert checks an insert request for structural completeness.
//
// Rules:
//   - Kind must be a known kind.
//   - Timestamp must not be zero. A zero CollectionDate defaults to the
//     timestamp's date at storage time and is not rejected here.
//   - ProducerName is required for producer kinds and must be absent for the
//     generic dataset kind.
//   - DatasetName, ExperimentName, SeasonName, SiteName are always required.
//   - Plot coordinates are required for plot-scoped kinds (sensor, trait) and
//     ignored for the rest.
func (v *Validator) ValidateInsert(in *Insert) error {
	if in == nil {
		return ErrNilInsert
	}

	if !in.Kind.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidKind, in.Kind)
	}

	if in.Timestamp.IsZero() {
		return ErrMissingTimestamp
	}

	if in.Kind.HasProducer() && in.ProducerName == "" {
		return fmt.Errorf("%w: kind %s", ErrMissingProducerName, in.Kind)
	}

	if in.Kind == registry.KindDataset && in.ProducerName != "" {
		return fmt.Errorf("%w: generic dataset records carry no producer", ErrInvalidKind)
	}

	if in.DatasetName == "" {
		return ErrMissingDatasetName
	}

	if in.ExperimentName == "" || in.SeasonName == "" || in.SiteName == "" {
		return ErrMissingHierarchyName
	}

	if in.Kind.PlotScoped() && in.Plot == nil {
		return fmt.Errorf("%w: kind %s", ErrMissingPlot, in.Kind)
	}

	return nil
}
