package records

import (
	"errors"
	"testing"
	"time"

	"github.com/GEMINI-Breeding/gemini-engine/internal/registry"
)

func validInsert(kind registry.Kind) *Insert {
	in := &Insert{
		Kind:           kind,
		Timestamp:      time.Date(2026, 6, 15, 10, 30, 0, 0, time.UTC),
		DatasetName:    "canopy-height-2026",
		ExperimentName: "GEMINI-2026",
		SeasonName:     "Season 1",
		SiteName:       "Davis",
	}

	if kind.HasProducer() {
		in.ProducerName = "MultispecCam-03"
	}

	if kind.PlotScoped() {
		in.Plot = &PlotCoordinates{Number: 12, RowNumber: 3, ColumnNumber: 4}
	}

	return in
}

func TestValidateInsert(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	validator := NewValidator()

	tests := []struct {
		name    string
		mutate  func(*Insert)
		kind    registry.Kind
		wantErr error
	}{
		{
			name: "valid sensor insert",
			kind: registry.KindSensor,
		},
		{
			name: "valid trait insert",
			kind: registry.KindTrait,
		},
		{
			name: "valid procedure insert without plot",
			kind: registry.KindProcedure,
		},
		{
			name: "valid generic dataset insert without producer",
			kind: registry.KindDataset,
		},
		{
			name:    "invalid kind",
			kind:    registry.Kind("drone"),
			wantErr: ErrInvalidKind,
		},
		{
			name:    "zero timestamp",
			kind:    registry.KindSensor,
			mutate:  func(in *Insert) { in.Timestamp = time.Time{} },
			wantErr: ErrMissingTimestamp,
		},
		{
			name:    "missing producer for producer kind",
			kind:    registry.KindSensor,
			mutate:  func(in *Insert) { in.ProducerName = "" },
			wantErr: ErrMissingProducerName,
		},
		{
			name:    "producer on generic dataset kind",
			kind:    registry.KindDataset,
			mutate:  func(in *Insert) { in.ProducerName = "MultispecCam-03" },
			wantErr: ErrInvalidKind,
		},
		{
			name:    "missing dataset name",
			kind:    registry.KindSensor,
			mutate:  func(in *Insert) { in.DatasetName = "" },
			wantErr: ErrMissingDatasetName,
		},
		{
			name:    "missing experiment name",
			kind:    registry.KindSensor,
			mutate:  func(in *Insert) { in.ExperimentName = "" },
			wantErr: ErrMissingHierarchyName,
		},
		{
			name:    "missing season name",
			kind:    registry.KindSensor,
			mutate:  func(in *Insert) { in.SeasonName = "" },
			wantErr: ErrMissingHierarchyName,
		},
		{
			name:    "missing site name",
			kind:    registry.KindSensor,
			mutate:  func(in *Insert) { in.SiteName = "" },
			wantErr: ErrMissingHierarchyName,
		},
		{
			name:    "missing plot for plot-scoped kind",
			kind:    registry.KindTrait,
			mutate:  func(in *Insert) { in.Plot = nil },
			wantErr: ErrMissingPlot,
		},
		{
			name:   "plot ignored for script kind",
			kind:   registry.KindScript,
			mutate: func(in *Insert) { in.Plot = nil },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInsert(tt.kind)
			if tt.mutate != nil {
				tt.mutate(in)
			}

			err := validator.ValidateInsert(in)

			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateInsert() error = %v, want nil", err)
				}

				return
			}

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateInsert() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateInsertNil(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	validator := NewValidator()

	if err := validator.ValidateInsert(nil); !errors.Is(err, ErrNilInsert) {
		t.Errorf("ValidateInsert(nil) error = %v, want %v", err, ErrNilInsert)
	}
}

func TestValidateInsertZeroCollectionDate(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	validator := NewValidator()

	// A zero collection date is valid; storage defaults it to the timestamp.
	in := validInsert(registry.KindSensor)
	in.CollectionDate = time.Time{}

	if err := validator.ValidateInsert(in); err != nil {
		t.Errorf("ValidateInsert() error = %v, want nil", err)
	}
}
