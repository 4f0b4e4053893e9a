package storage

import (
	"fmt"

	"github.com/GEMINI-Breeding/gemini-engine/internal/registry"
)

// kindSchema describes the per-kind SQL surface: the producer table, its
// association tables, the validity view, and the wide record table. All
// per-kind queries are built from these descriptors, never from caller input,
// so kind dispatch cannot inject identifiers.
type kindSchema struct {
	// Producer entity table; empty for the generic dataset kind.
	producerTable   string
	producerNameCol string
	producerIDCol   string

	// Association tables.
	experimentAssocTable string
	datasetAssocTable    string

	// Derived projections and the record store.
	validityView string
	recordTable  string
	payloadCol   string

	plotScoped bool
}

var kindSchemas = map[registry.Kind]kindSchema{
	registry.KindSensor: {
		producerTable:        "sensors",
		producerNameCol:      "sensor_name",
		producerIDCol:        "sensor_id",
		experimentAssocTable: "experiment_sensors",
		datasetAssocTable:    "sensor_datasets",
		validityView:         "sensor_datasets_valid",
		recordTable:          "sensor_records",
		payloadCol:           "sensor_data",
		plotScoped:           true,
	},
	registry.KindTrait: {
		producerTable:        "traits",
		producerNameCol:      "trait_name",
		producerIDCol:        "trait_id",
		experimentAssocTable: "experiment_traits",
		datasetAssocTable:    "trait_datasets",
		validityView:         "trait_datasets_valid",
		recordTable:          "trait_records",
		payloadCol:           "trait_value",
		plotScoped:           true,
	},
	registry.KindProcedure: {
		producerTable:        "procedures",
		producerNameCol:      "procedure_name",
		producerIDCol:        "procedure_id",
		experimentAssocTable: "experiment_procedures",
		datasetAssocTable:    "procedure_datasets",
		validityView:         "procedure_datasets_valid",
		recordTable:          "procedure_records",
		payloadCol:           "procedure_data",
	},
	registry.KindScript: {
		producerTable:        "scripts",
		producerNameCol:      "script_name",
		producerIDCol:        "script_id",
		experimentAssocTable: "experiment_scripts",
		datasetAssocTable:    "script_datasets",
		validityView:         "script_datasets_valid",
		recordTable:          "script_records",
		payloadCol:           "script_data",
	},
	registry.KindModel: {
		producerTable:        "models",
		producerNameCol:      "model_name",
		producerIDCol:        "model_id",
		experimentAssocTable: "experiment_models",
		datasetAssocTable:    "model_datasets",
		validityView:         "model_datasets_valid",
		recordTable:          "model_records",
		payloadCol:           "model_data",
	},
	registry.KindDataset: {
		validityView: "dataset_combinations_valid",
		recordTable:  "dataset_records",
		payloadCol:   "dataset_data",
	},
}

// schemaFor returns the SQL descriptor for a kind. Unknown kinds are a
// programming error caught by request validation upstream.
func schemaFor(kind registry.Kind) (kindSchema, error) {
	ks, ok := kindSchemas[kind]
	if !ok {
		return kindSchema{}, fmt.Errorf("no schema for kind %q", kind)
	}

	return ks, nil
}
