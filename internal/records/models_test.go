package records

import (
	"testing"
	"time"

	"github.com/GEMINI-Breeding/gemini-engine/internal/registry"
)

func TestCombinationKeyGroupsMatchingInserts(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	a := validInsert(registry.KindSensor)
	b := validInsert(registry.KindSensor)

	// Timestamps and payloads differ; the combination is what groups.
	b.Timestamp = a.Timestamp.Add(time.Minute)
	b.Data = registry.Attributes{"reading": 42}

	if a.CombinationKey() != b.CombinationKey() {
		t.Errorf("CombinationKey() mismatch for same combination: %q vs %q",
			a.CombinationKey(), b.CombinationKey())
	}
}

func TestCombinationKeySeparatesDifferentTuples(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	base := validInsert(registry.KindSensor)

	mutations := map[string]func(*Insert){
		"producer":   func(in *Insert) { in.ProducerName = "other-cam" },
		"dataset":    func(in *Insert) { in.DatasetName = "other-dataset" },
		"experiment": func(in *Insert) { in.ExperimentName = "other-exp" },
		"season":     func(in *Insert) { in.SeasonName = "Season 2" },
		"site":       func(in *Insert) { in.SiteName = "Parlier" },
		"plot":       func(in *Insert) { in.Plot = &PlotCoordinates{Number: 99, RowNumber: 1, ColumnNumber: 1} },
	}

	for name, mutate := range mutations {
		other := validInsert(registry.KindSensor)
		mutate(other)

		if base.CombinationKey() == other.CombinationKey() {
			t.Errorf("CombinationKey() collision when %s differs", name)
		}
	}
}

func TestCombinationKeyIgnoresPlotForUnscopedKinds(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	a := validInsert(registry.KindScript)
	b := validInsert(registry.KindScript)
	b.Plot = &PlotCoordinates{Number: 7, RowNumber: 7, ColumnNumber: 7}

	if a.CombinationKey() != b.CombinationKey() {
		t.Error("CombinationKey() should ignore plot coordinates for script kind")
	}
}

func TestDatasetKindMatchesPipeline(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	kinds := append([]registry.Kind{}, registry.ProducerKinds...)
	kinds = append(kinds, registry.KindDataset)

	for _, kind := range kinds {
		in := validInsert(kind)
		if got := in.DatasetKind(); got != kind {
			t.Errorf("DatasetKind() = %s, want %s", got, kind)
		}
	}
}
