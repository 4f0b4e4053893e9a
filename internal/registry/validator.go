package registry

import (
	"errors"
	"fmt"
)

// Sentinel errors for entity validation failures.
var (
	ErrMissingExperimentName = errors.New("experiment name is required")
	ErrMissingSeasonName     = errors.New("season name is required")
	ErrMissingSiteName       = errors.New("site name is required")
	ErrMissingProducerName   = errors.New("producer name is required")
	ErrMissingDatasetName    = errors.New("dataset name is required")
	ErrMissingAccession      = errors.New("cultivar accession is required")
	ErrDatesOutOfOrder       = errors.New("start date must not be after end date")
	ErrUnknownKind           = errors.New("unknown kind")
)

// Validator performs semantic validation of registry entities before they
// reach storage. Uniqueness is not checked here; natural-key constraints in
// the database are the source of truth for duplicates.
type Validator struct{}

// NewValidator creates a new Validator instance.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateExperiment checks required fields and date ordering.
func (v *Validator) ValidateExperiment(e *Experiment) error {
	if e == nil || e.Name == "" {
		return ErrMissingExperimentName
	}

	if !e.StartDate.IsZero() && !e.EndDate.IsZero() && e.StartDate.After(e.EndDate) {
		return fmt.Errorf("%w: experiment %q", ErrDatesOutOfOrder, e.Name)
	}

	return nil
}

// ValidateSeason checks required fields and date ordering. The season name is
// only required to be unique within its experiment, which the composite
// database constraint enforces.
func (v *Validator) ValidateSeason(s *Season) error {
	if s == nil || s.Name == "" {
		return ErrMissingSeasonName
	}

	if !s.StartDate.IsZero() && !s.EndDate.IsZero() && s.StartDate.After(s.EndDate) {
		return fmt.Errorf("%w: season %q", ErrDatesOutOfOrder, s.Name)
	}

	return nil
}

// ValidateSite checks required fields. City, state, and country may be empty;
// they participate in the natural key as empty strings.
func (v *Validator) ValidateSite(s *Site) error {
	if s == nil || s.Name == "" {
		return ErrMissingSiteName
	}

	return nil
}

// ValidateCultivar checks required fields. Population may be empty.
func (v *Validator) ValidateCultivar(c *Cultivar) error {
	if c == nil || c.Accession == "" {
		return ErrMissingAccession
	}

	return nil
}

// ValidateDataset checks required fields and the kind tag.
func (v *Validator) ValidateDataset(d *Dataset) error {
	if d == nil || d.Name == "" {
		return ErrMissingDatasetName
	}

	if !d.Kind.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, d.Kind)
	}

	return nil
}

// ValidateProducerName checks a producer name for the given kind.
func (v *Validator) ValidateProducerName(kind Kind, name string) error {
	if !kind.HasProducer() {
		return fmt.Errorf("%w: %q has no producer entity", ErrUnknownKind, kind)
	}

	if name == "" {
		return fmt.Errorf("%w: kind %s", ErrMissingProducerName, kind)
	}

	return nil
}
