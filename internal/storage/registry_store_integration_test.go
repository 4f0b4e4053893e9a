package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/GEMINI-Breeding/gemini-engine/internal/registry"
)

// TestRegistryStoreIntegration runs the entity registry against PostgreSQL.
func TestRegistryStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	s := setupStores(ctx, t)

	t.Run("CreateExperiment_Idempotent", testCreateExperimentIdempotent(ctx, s))
	t.Run("CreateSeason_ScopedByExperiment", testCreateSeasonScopedByExperiment(ctx, s))
	t.Run("CreateSite_CompositeIdentity", testCreateSiteCompositeIdentity(ctx, s))
	t.Run("CreateCultivar_Idempotent", testCreateCultivarIdempotent(ctx, s))
	t.Run("CreatePlot_CompositeIdentity", testCreatePlotCompositeIdentity(ctx, s))
	t.Run("CreatePlant_UnderPlot", testCreatePlantUnderPlot(ctx, s))
	t.Run("CreateProducers_AllKinds", testCreateProducersAllKinds(ctx, s))
	t.Run("CreateProducerRun", testCreateProducerRun(ctx, s))
	t.Run("CreateDataset_KindTagged", testCreateDatasetKindTagged(ctx, s))
	t.Run("Associations_Idempotent", testAssociationsIdempotent(ctx, s))
	t.Run("Associations_UnknownReference", testAssociationsUnknownReference(ctx, s))
	t.Run("Lookups_NotFound", testLookupsNotFound(ctx, s))
}

func testCreateExperimentIdempotent(ctx context.Context, s *testStores) func(*testing.T) {
	return func(t *testing.T) {
		exp := &registry.Experiment{
			Name:      "Sorghum 2026",
			StartDate: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
			EndDate:   time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
			Info:      registry.Attributes{"crop": "sorghum"},
		}

		first, err := s.registry.CreateExperiment(ctx, exp)
		if err != nil {
			t.Fatalf("CreateExperiment() error = %v", err)
		}

		if first.ID == uuid.Nil {
			t.Fatal("CreateExperiment() returned nil id")
		}

		second, err := s.registry.CreateExperiment(ctx, exp)
		if err != nil {
			t.Fatalf("CreateExperiment() repeat error = %v", err)
		}

		if second.ID != first.ID {
			t.Errorf("repeated create returned id %s, want %s", second.ID, first.ID)
		}

		got, err := s.registry.GetExperimentByName(ctx, "Sorghum 2026")
		if err != nil {
			t.Fatalf("GetExperimentByName() error = %v", err)
		}

		if got.ID != first.ID || got.Info["crop"] != "sorghum" {
			t.Errorf("GetExperimentByName() = %+v, want original row", got)
		}
	}
}

func testCreateSeasonScopedByExperiment(ctx context.Context, s *testStores) func(*testing.T) {
	return func(t *testing.T) {
		expA, err := s.registry.CreateExperiment(ctx, &registry.Experiment{Name: "Season Scope A"})
		if err != nil {
			t.Fatalf("CreateExperiment() error = %v", err)
		}

		expB, err := s.registry.CreateExperiment(ctx, &registry.Experiment{Name: "Season Scope B"})
		if err != nil {
			t.Fatalf("CreateExperiment() error = %v", err)
		}

		// The same season name under two experiments yields two rows.
		seaA, err := s.registry.CreateSeason(ctx, &registry.Season{ExperimentID: expA.ID, Name: "Season 1"})
		if err != nil {
			t.Fatalf("CreateSeason() error = %v", err)
		}

		seaB, err := s.registry.CreateSeason(ctx, &registry.Season{ExperimentID: expB.ID, Name: "Season 1"})
		if err != nil {
			t.Fatalf("CreateSeason() error = %v", err)
		}

		if seaA.ID == seaB.ID {
			t.Error("seasons under different experiments share an id")
		}

		repeat, err := s.registry.CreateSeason(ctx, &registry.Season{ExperimentID: expA.ID, Name: "Season 1"})
		if err != nil {
			t.Fatalf("CreateSeason() repeat error = %v", err)
		}

		if repeat.ID != seaA.ID {
			t.Errorf("repeated create returned id %s, want %s", repeat.ID, seaA.ID)
		}

		got, err := s.registry.GetSeason(ctx, expB.ID, "Season 1")
		if err != nil {
			t.Fatalf("GetSeason() error = %v", err)
		}

		if got.ID != seaB.ID {
			t.Errorf("GetSeason() resolved id %s, want experiment-scoped %s", got.ID, seaB.ID)
		}

		// An unknown experiment id must not resolve the other experiment's
		// season.
		if _, err := s.registry.GetSeason(ctx, uuid.New(), "Season 1"); !errors.Is(err, registry.ErrNotFound) {
			t.Errorf("GetSeason() error = %v, want %v", err, registry.ErrNotFound)
		}
	}
}

func testCreateSiteCompositeIdentity(ctx context.Context, s *testStores) func(*testing.T) {
	return func(t *testing.T) {
		davis := &registry.Site{Name: "Field Station", City: "Davis", State: "CA", Country: "USA"}

		first, err := s.registry.CreateSite(ctx, davis)
		if err != nil {
			t.Fatalf("CreateSite() error = %v", err)
		}

		repeat, err := s.registry.CreateSite(ctx, davis)
		if err != nil {
			t.Fatalf("CreateSite() repeat error = %v", err)
		}

		if repeat.ID != first.ID {
			t.Errorf("repeated create returned id %s, want %s", repeat.ID, first.ID)
		}

		// Same name in a different city is a distinct site.
		parlier := &registry.Site{Name: "Field Station", City: "Parlier", State: "CA", Country: "USA"}

		other, err := s.registry.CreateSite(ctx, parlier)
		if err != nil {
			t.Fatalf("CreateSite() error = %v", err)
		}

		if other.ID == first.ID {
			t.Error("sites with different cities share an id")
		}
	}
}

func testCreateCultivarIdempotent(ctx context.Context, s *testStores) func(*testing.T) {
	return func(t *testing.T) {
		c := &registry.Cultivar{Accession: "PI 563295", Population: "Sorghum BAP"}

		first, err := s.registry.CreateCultivar(ctx, c)
		if err != nil {
			t.Fatalf("CreateCultivar() error = %v", err)
		}

		repeat, err := s.registry.CreateCultivar(ctx, c)
		if err != nil {
			t.Fatalf("CreateCultivar() repeat error = %v", err)
		}

		if repeat.ID != first.ID {
			t.Errorf("repeated create returned id %s, want %s", repeat.ID, first.ID)
		}

		if _, err := s.registry.CreateCultivar(ctx, &registry.Cultivar{Population: "Sorghum BAP"}); !errors.Is(err, registry.ErrMissingAccession) {
			t.Errorf("CreateCultivar() without accession error = %v, want %v", err, registry.ErrMissingAccession)
		}
	}
}

func testCreatePlotCompositeIdentity(ctx context.Context, s *testStores) func(*testing.T) {
	return func(t *testing.T) {
		exp, sea, site := registerHierarchy(ctx, t, s, "Plot Experiment", "Plot Season", "Plot Site")

		plot := &registry.Plot{
			ExperimentID: uuid.NullUUID{UUID: exp.ID, Valid: true},
			SeasonID:     uuid.NullUUID{UUID: sea.ID, Valid: true},
			SiteID:       uuid.NullUUID{UUID: site.ID, Valid: true},
			Number:       4,
			RowNumber:    2,
			ColumnNumber: 9,
		}

		first, err := s.registry.CreatePlot(ctx, plot)
		if err != nil {
			t.Fatalf("CreatePlot() error = %v", err)
		}

		repeat, err := s.registry.CreatePlot(ctx, plot)
		if err != nil {
			t.Fatalf("CreatePlot() repeat error = %v", err)
		}

		if repeat.ID != first.ID {
			t.Errorf("repeated create returned id %s, want %s", repeat.ID, first.ID)
		}

		// Different coordinates under the same prefix are a new plot.
		plot.ColumnNumber = 10

		other, err := s.registry.CreatePlot(ctx, plot)
		if err != nil {
			t.Fatalf("CreatePlot() error = %v", err)
		}

		if other.ID == first.ID {
			t.Error("plots with different coordinates share an id")
		}
	}
}

func testCreatePlantUnderPlot(ctx context.Context, s *testStores) func(*testing.T) {
	return func(t *testing.T) {
		exp, sea, site := registerHierarchy(ctx, t, s, "Plant Experiment", "Plant Season", "Plant Site")

		plot, err := s.registry.CreatePlot(ctx, &registry.Plot{
			ExperimentID: uuid.NullUUID{UUID: exp.ID, Valid: true},
			SeasonID:     uuid.NullUUID{UUID: sea.ID, Valid: true},
			SiteID:       uuid.NullUUID{UUID: site.ID, Valid: true},
			Number:       1, RowNumber: 1, ColumnNumber: 1,
		})
		if err != nil {
			t.Fatalf("CreatePlot() error = %v", err)
		}

		plant, err := s.registry.CreatePlant(ctx, &registry.Plant{PlotID: plot.ID, Number: 3})
		if err != nil {
			t.Fatalf("CreatePlant() error = %v", err)
		}

		repeat, err := s.registry.CreatePlant(ctx, &registry.Plant{PlotID: plot.ID, Number: 3})
		if err != nil {
			t.Fatalf("CreatePlant() repeat error = %v", err)
		}

		if repeat.ID != plant.ID {
			t.Errorf("repeated create returned id %s, want %s", repeat.ID, plant.ID)
		}

		if _, err := s.registry.CreatePlant(ctx, &registry.Plant{PlotID: uuid.New(), Number: 1}); !errors.Is(err, registry.ErrNotFound) {
			t.Errorf("CreatePlant() with unknown plot error = %v, want %v", err, registry.ErrNotFound)
		}
	}
}

func testCreateProducersAllKinds(ctx context.Context, s *testStores) func(*testing.T) {
	return func(t *testing.T) {
		sensor, err := s.registry.CreateSensor(ctx, &registry.Sensor{Name: "RGB Camera", Type: "camera", DataFormat: "png"})
		if err != nil {
			t.Fatalf("CreateSensor() error = %v", err)
		}

		trait, err := s.registry.CreateTrait(ctx, &registry.Trait{Name: "Plant Height", Units: "cm", Level: "plot"})
		if err != nil {
			t.Fatalf("CreateTrait() error = %v", err)
		}

		procedure, err := s.registry.CreateProcedure(ctx, &registry.Procedure{Name: "Soil Sampling"})
		if err != nil {
			t.Fatalf("CreateProcedure() error = %v", err)
		}

		script, err := s.registry.CreateScript(ctx, &registry.Script{Name: "stitch-orthomosaic", Extension: "py"})
		if err != nil {
			t.Fatalf("CreateScript() error = %v", err)
		}

		model, err := s.registry.CreateModel(ctx, &registry.Model{Name: "canopy-segmenter"})
		if err != nil {
			t.Fatalf("CreateModel() error = %v", err)
		}

		wantIDs := map[registry.Kind]uuid.UUID{
			registry.KindSensor:    sensor.ID,
			registry.KindTrait:     trait.ID,
			registry.KindProcedure: procedure.ID,
			registry.KindScript:    script.ID,
			registry.KindModel:     model.ID,
		}

		names := map[registry.Kind]string{
			registry.KindSensor:    "RGB Camera",
			registry.KindTrait:     "Plant Height",
			registry.KindProcedure: "Soil Sampling",
			registry.KindScript:    "stitch-orthomosaic",
			registry.KindModel:     "canopy-segmenter",
		}

		for kind, name := range names {
			id, err := s.registry.GetProducerID(ctx, kind, name)
			if err != nil {
				t.Errorf("GetProducerID(%s, %s) error = %v", kind, name, err)

				continue
			}

			if id != wantIDs[kind] {
				t.Errorf("GetProducerID(%s, %s) = %s, want %s", kind, name, id, wantIDs[kind])
			}
		}

		// A trait name does not resolve as a sensor.
		if _, err := s.registry.GetProducerID(ctx, registry.KindSensor, "Plant Height"); !errors.Is(err, registry.ErrNotFound) {
			t.Errorf("GetProducerID() across kinds error = %v, want %v", err, registry.ErrNotFound)
		}
	}
}

func testCreateProducerRun(ctx context.Context, s *testStores) func(*testing.T) {
	return func(t *testing.T) {
		sensor, err := s.registry.CreateSensor(ctx, &registry.Sensor{Name: "Run Sensor"})
		if err != nil {
			t.Fatalf("CreateSensor() error = %v", err)
		}

		run, err := s.registry.CreateProducerRun(ctx, &registry.ProducerRun{
			Kind:       registry.KindSensor,
			ProducerID: sensor.ID,
			Info:       registry.Attributes{"flight": "2026-06-15-am"},
		})
		if err != nil {
			t.Fatalf("CreateProducerRun() error = %v", err)
		}

		repeat, err := s.registry.CreateProducerRun(ctx, &registry.ProducerRun{
			Kind:       registry.KindSensor,
			ProducerID: sensor.ID,
			Info:       registry.Attributes{"flight": "2026-06-15-am"},
		})
		if err != nil {
			t.Fatalf("CreateProducerRun() repeat error = %v", err)
		}

		if repeat.ID != run.ID {
			t.Errorf("identical run payload returned id %s, want %s", repeat.ID, run.ID)
		}

		if _, err := s.registry.CreateProducerRun(ctx, &registry.ProducerRun{
			Kind:       registry.KindDataset,
			ProducerID: sensor.ID,
		}); !errors.Is(err, registry.ErrUnknownKind) {
			t.Errorf("CreateProducerRun() with non-producer kind error = %v, want %v", err, registry.ErrUnknownKind)
		}
	}
}

func testCreateDatasetKindTagged(ctx context.Context, s *testStores) func(*testing.T) {
	return func(t *testing.T) {
		d := &registry.Dataset{Name: "UAV Flights June", Kind: registry.KindSensor}

		first, err := s.registry.CreateDataset(ctx, d)
		if err != nil {
			t.Fatalf("CreateDataset() error = %v", err)
		}

		repeat, err := s.registry.CreateDataset(ctx, d)
		if err != nil {
			t.Fatalf("CreateDataset() repeat error = %v", err)
		}

		if repeat.ID != first.ID {
			t.Errorf("repeated create returned id %s, want %s", repeat.ID, first.ID)
		}

		got, err := s.registry.GetDatasetByName(ctx, "UAV Flights June")
		if err != nil {
			t.Fatalf("GetDatasetByName() error = %v", err)
		}

		if got.Kind != registry.KindSensor {
			t.Errorf("dataset kind = %s, want sensor", got.Kind)
		}
	}
}

func testAssociationsIdempotent(ctx context.Context, s *testStores) func(*testing.T) {
	return func(t *testing.T) {
		exp, _, site := registerHierarchy(ctx, t, s, "Assoc Experiment", "Assoc Season", "Assoc Site")

		// registerHierarchy already linked the site once.
		if err := s.registry.AssociateExperimentSite(ctx, exp.ID, site.ID, nil); err != nil {
			t.Errorf("AssociateExperimentSite() repeat error = %v", err)
		}

		trait, err := s.registry.CreateTrait(ctx, &registry.Trait{Name: "Assoc Trait"})
		if err != nil {
			t.Fatalf("CreateTrait() error = %v", err)
		}

		dataset, err := s.registry.CreateDataset(ctx, &registry.Dataset{Name: "Assoc Dataset", Kind: registry.KindTrait})
		if err != nil {
			t.Fatalf("CreateDataset() error = %v", err)
		}

		for i := 0; i < 2; i++ {
			if err := s.registry.AssociateExperimentProducer(ctx, registry.KindTrait, exp.ID, trait.ID, nil); err != nil {
				t.Errorf("AssociateExperimentProducer() attempt %d error = %v", i, err)
			}

			if err := s.registry.AssociateExperimentDataset(ctx, exp.ID, dataset.ID, nil); err != nil {
				t.Errorf("AssociateExperimentDataset() attempt %d error = %v", i, err)
			}

			if err := s.registry.AssociateProducerDataset(ctx, registry.KindTrait, trait.ID, dataset.ID, nil); err != nil {
				t.Errorf("AssociateProducerDataset() attempt %d error = %v", i, err)
			}
		}

		cultivar, err := s.registry.CreateCultivar(ctx, &registry.Cultivar{Accession: "Assoc 1", Population: "Assoc Pop"})
		if err != nil {
			t.Fatalf("CreateCultivar() error = %v", err)
		}

		if err := s.registry.AssociateExperimentCultivar(ctx, exp.ID, cultivar.ID, nil); err != nil {
			t.Errorf("AssociateExperimentCultivar() error = %v", err)
		}
	}
}

func testAssociationsUnknownReference(ctx context.Context, s *testStores) func(*testing.T) {
	return func(t *testing.T) {
		exp, err := s.registry.GetExperimentByName(ctx, "Assoc Experiment")
		if err != nil {
			t.Fatalf("GetExperimentByName() error = %v", err)
		}

		if err := s.registry.AssociateExperimentSite(ctx, exp.ID, uuid.New(), nil); !errors.Is(err, registry.ErrNotFound) {
			t.Errorf("AssociateExperimentSite() with unknown site error = %v, want %v", err, registry.ErrNotFound)
		}

		if err := s.registry.AssociateExperimentDataset(ctx, uuid.New(), uuid.New(), nil); !errors.Is(err, registry.ErrNotFound) {
			t.Errorf("AssociateExperimentDataset() with unknown ids error = %v, want %v", err, registry.ErrNotFound)
		}
	}
}

func testLookupsNotFound(ctx context.Context, s *testStores) func(*testing.T) {
	return func(t *testing.T) {
		if _, err := s.registry.GetExperimentByName(ctx, "No Such Experiment"); !errors.Is(err, registry.ErrNotFound) {
			t.Errorf("GetExperimentByName() error = %v, want %v", err, registry.ErrNotFound)
		}

		if _, err := s.registry.GetSiteByName(ctx, "No Such Site"); !errors.Is(err, registry.ErrNotFound) {
			t.Errorf("GetSiteByName() error = %v, want %v", err, registry.ErrNotFound)
		}

		if _, err := s.registry.GetDatasetByName(ctx, "No Such Dataset"); !errors.Is(err, registry.ErrNotFound) {
			t.Errorf("GetDatasetByName() error = %v, want %v", err, registry.ErrNotFound)
		}
	}
}
