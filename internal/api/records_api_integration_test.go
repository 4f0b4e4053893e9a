// Package api provides the HTTP API server of the GEMINI engine.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"

	"github.com/GEMINI-Breeding/gemini-engine/internal/config"
	"github.com/GEMINI-Breeding/gemini-engine/internal/storage"
)

// apiTestServer bundles the server under test. Cleanup dependencies are
// captured in t.Cleanup closures.
type apiTestServer struct {
	server *Server
}

// setupAPITestServer creates a fully configured test server backed by a real
// database with migrations applied. Authentication and rate limiting are
// disabled; they have their own middleware tests.
func setupAPITestServer(ctx context.Context, t *testing.T) *apiTestServer {
	t.Helper()

	testDB := config.SetupTestDatabase(ctx, t)
	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	conn := storage.NewConnectionFromDB(testDB.Connection)

	recordStore, err := storage.NewRecordStore(conn)
	require.NoError(t, err, "Failed to create record store")

	registryStore, err := storage.NewRegistryStore(conn)
	require.NoError(t, err, "Failed to create registry store")

	cfg := &ServerConfig{
		Port:            8080,
		Host:            "localhost",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		MaxRequestSize:  defaultMaxRequestSize,
	}

	server := NewServer(cfg, recordStore, registryStore, nil, nil)

	return &apiTestServer{server: server}
}

// do sends a JSON request through the full middleware chain.
func (ts *apiTestServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader

	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(body)
		require.NoError(t, err, "Failed to marshal request body")

		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	ts.server.httpServer.Handler.ServeHTTP(rr, req)

	return rr
}

// registerEntity posts an entity payload and asserts a 201 with an id.
func (ts *apiTestServer) registerEntity(t *testing.T, path string, payload interface{}) EntityResponse {
	t.Helper()

	rr := ts.do(t, http.MethodPost, path, payload)
	require.Equal(t, http.StatusCreated, rr.Code, "Response body: %s", rr.Body.String())

	var entity EntityResponse

	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &entity), "Failed to parse entity response")
	assert.NotEmpty(t, entity.ID, "Missing entity id")
	assert.NotEmpty(t, entity.CorrelationID, "Missing correlation_id")

	return entity
}

func parseIngestResponse(t *testing.T, rr *httptest.ResponseRecorder) IngestResponse {
	t.Helper()

	var response IngestResponse

	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response),
		"Failed to parse ingest response: %s", rr.Body.String())

	return response
}

// seedHierarchy registers the experiment, season, associated site, and trait
// every ingestion test needs.
func seedHierarchy(t *testing.T, ts *apiTestServer) {
	t.Helper()

	ts.registerEntity(t, "/api/v1/experiments", ExperimentPayload{Name: "Maize 2026"})
	ts.registerEntity(t, "/api/v1/seasons", SeasonPayload{ExperimentName: "Maize 2026", Name: "Summer"})
	ts.registerEntity(t, "/api/v1/sites", SitePayload{
		Name: "West Field", City: "Davis", State: "CA", Country: "USA",
		ExperimentName: "Maize 2026",
	})
	ts.registerEntity(t, "/api/v1/producers/trait", ProducerPayload{
		Name: "Ear Height", Units: "cm", ExperimentName: "Maize 2026",
	})
}

func traitPayload(ts time.Time, value float64) RecordPayload {
	one, two, three := 1, 2, 3

	return RecordPayload{
		Timestamp:        ts,
		ProducerName:     "Ear Height",
		DatasetName:      "Ear Height 2026",
		ExperimentName:   "Maize 2026",
		SeasonName:       "Summer",
		SiteName:         "West Field",
		PlotNumber:       &one,
		PlotRowNumber:    &two,
		PlotColumnNumber: &three,
		TraitValue:       value,
	}
}

// TestRecordsAPIIntegration exercises registration, ingestion, and the read
// side through the HTTP surface.
func TestRecordsAPIIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	ts := setupAPITestServer(ctx, t)

	seedHierarchy(t, ts)

	base := time.Date(2026, 7, 10, 9, 0, 0, 0, time.UTC)

	t.Run("SingleRecordSuccess", func(t *testing.T) {
		rr := ts.do(t, http.MethodPost, "/api/v1/records/trait", traitPayload(base, 88.5))
		require.Equal(t, http.StatusOK, rr.Code, "Response body: %s", rr.Body.String())

		response := parseIngestResponse(t, rr)
		assert.Equal(t, "success", response.Status)
		assert.Equal(t, 1, response.Summary.Received)
		assert.Equal(t, 1, response.Summary.Successful)
		assert.Empty(t, response.FailedRecords)
	})

	t.Run("DuplicateRejected", func(t *testing.T) {
		rr := ts.do(t, http.MethodPost, "/api/v1/records/trait", traitPayload(base, 88.5))
		require.Equal(t, http.StatusUnprocessableEntity, rr.Code, "Response body: %s", rr.Body.String())

		response := parseIngestResponse(t, rr)
		assert.Equal(t, "error", response.Status)
		assert.Equal(t, 1, response.Summary.Duplicates)
		require.Len(t, response.FailedRecords, 1)
		assert.False(t, response.FailedRecords[0].Retriable, "duplicates are permanent failures")
	})

	t.Run("BatchPartialSuccess", func(t *testing.T) {
		good := traitPayload(base.Add(time.Hour), 90)
		illegal := traitPayload(base.Add(2*time.Hour), 91)
		illegal.SeasonName = "Winter"

		rr := ts.do(t, http.MethodPost, "/api/v1/records/trait", []RecordPayload{good, illegal})
		require.Equal(t, http.StatusMultiStatus, rr.Code, "Response body: %s", rr.Body.String())

		response := parseIngestResponse(t, rr)
		assert.Equal(t, "partial", response.Status)
		assert.Equal(t, 2, response.Summary.Received)
		assert.Equal(t, 1, response.Summary.Successful)
		assert.Equal(t, 1, response.Summary.Failed)
		require.Len(t, response.FailedRecords, 1)
		assert.Equal(t, 1, response.FailedRecords[0].Index)
		assert.False(t, response.FailedRecords[0].Retriable)
	})

	t.Run("ValidationFailure", func(t *testing.T) {
		missing := traitPayload(base.Add(3*time.Hour), 92)
		missing.DatasetName = ""

		rr := ts.do(t, http.MethodPost, "/api/v1/records/trait", missing)
		require.Equal(t, http.StatusUnprocessableEntity, rr.Code, "Response body: %s", rr.Body.String())

		response := parseIngestResponse(t, rr)
		assert.Equal(t, "error", response.Status)
		require.Len(t, response.FailedRecords, 1)
		assert.Contains(t, response.FailedRecords[0].Reason, "dataset")
	})

	t.Run("UnknownKind", func(t *testing.T) {
		rr := ts.do(t, http.MethodPost, "/api/v1/records/telescope", traitPayload(base, 1))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, contentTypeProblemJSON, rr.Header().Get("Content-Type"))
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		rr := ts.do(t, http.MethodPost, "/api/v1/records/trait", "{not json")
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("EmptyBody", func(t *testing.T) {
		rr := ts.do(t, http.MethodPost, "/api/v1/records/trait", nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("WrongContentType", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/records/trait", bytes.NewReader([]byte("ts,value")))
		req.Header.Set("Content-Type", "text/csv")

		rr := httptest.NewRecorder()
		ts.server.httpServer.Handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusUnsupportedMediaType, rr.Code)
	})

	t.Run("QueryRecords", func(t *testing.T) {
		rr := ts.do(t, http.MethodGet, "/api/v1/records/trait?dataset=Ear+Height+2026", nil)
		require.Equal(t, http.StatusOK, rr.Code, "Response body: %s", rr.Body.String())

		var response QueryResponse

		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
		assert.Equal(t, 2, response.Total, "one single insert plus one batch insert")

		for _, rec := range response.Records {
			assert.Equal(t, "trait", rec.Kind)
			assert.Equal(t, "Ear Height", rec.ProducerName)
			assert.Equal(t, "Ear Height 2026", rec.DatasetName)
			require.NotNil(t, rec.PlotNumber)
			assert.Equal(t, 1, *rec.PlotNumber)
		}
	})

	t.Run("QueryRecordsPagination", func(t *testing.T) {
		rr := ts.do(t, http.MethodGet, "/api/v1/records/trait?limit=1", nil)
		require.Equal(t, http.StatusOK, rr.Code)

		var response QueryResponse

		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
		assert.Len(t, response.Records, 1)
		assert.Equal(t, 2, response.Total)
	})

	t.Run("QueryRecordsBadPagination", func(t *testing.T) {
		rr := ts.do(t, http.MethodGet, "/api/v1/records/trait?limit=-5", nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("ListCombinations", func(t *testing.T) {
		rr := ts.do(t, http.MethodGet, "/api/v1/combinations/trait", nil)
		require.Equal(t, http.StatusOK, rr.Code, "Response body: %s", rr.Body.String())

		var combos []CombinationResponse

		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &combos))
		require.NotEmpty(t, combos, "ingestion provisioned at least one legal combination")

		found := false

		for _, c := range combos {
			if c.ProducerName == "Ear Height" && c.DatasetName == "Ear Height 2026" &&
				c.SeasonName == "Summer" && c.SiteName == "West Field" {
				found = true
			}
		}

		assert.True(t, found, "combination list missing the provisioned tuple")
	})
}

// TestEntityRegistrationAPIIntegration exercises the registration endpoints.
func TestEntityRegistrationAPIIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	ts := setupAPITestServer(ctx, t)

	t.Run("ExperimentLifecycle", func(t *testing.T) {
		first := ts.registerEntity(t, "/api/v1/experiments", ExperimentPayload{
			Name:      "Registration Experiment",
			StartDate: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
			EndDate:   time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC),
		})

		// Registration is idempotent; the same name returns the same id.
		repeat := ts.registerEntity(t, "/api/v1/experiments", ExperimentPayload{Name: "Registration Experiment"})
		assert.Equal(t, first.ID, repeat.ID)
	})

	t.Run("ExperimentMissingName", func(t *testing.T) {
		rr := ts.do(t, http.MethodPost, "/api/v1/experiments", ExperimentPayload{})
		assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
		assert.Equal(t, contentTypeProblemJSON, rr.Header().Get("Content-Type"))
	})

	t.Run("ExperimentDatesOutOfOrder", func(t *testing.T) {
		rr := ts.do(t, http.MethodPost, "/api/v1/experiments", ExperimentPayload{
			Name:      "Backwards",
			StartDate: time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC),
			EndDate:   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		})
		assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	})

	t.Run("SeasonUnderUnknownExperiment", func(t *testing.T) {
		rr := ts.do(t, http.MethodPost, "/api/v1/seasons", SeasonPayload{
			ExperimentName: "No Such Experiment",
			Name:           "Summer",
		})
		assert.Equal(t, http.StatusNotFound, rr.Code, "Response body: %s", rr.Body.String())
	})

	t.Run("SeasonMissingExperimentName", func(t *testing.T) {
		rr := ts.do(t, http.MethodPost, "/api/v1/seasons", SeasonPayload{Name: "Summer"})
		assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	})

	t.Run("PlotExplicitRegistration", func(t *testing.T) {
		ts.registerEntity(t, "/api/v1/experiments", ExperimentPayload{Name: "Plot Exp"})
		ts.registerEntity(t, "/api/v1/seasons", SeasonPayload{ExperimentName: "Plot Exp", Name: "S1"})
		ts.registerEntity(t, "/api/v1/sites", SitePayload{Name: "Plot Site", ExperimentName: "Plot Exp"})

		plot := ts.registerEntity(t, "/api/v1/plots", PlotPayload{
			ExperimentName: "Plot Exp",
			SeasonName:     "S1",
			SiteName:       "Plot Site",
			Number:         5, RowNumber: 1, ColumnNumber: 2,
		})

		repeat := ts.registerEntity(t, "/api/v1/plots", PlotPayload{
			ExperimentName: "Plot Exp",
			SeasonName:     "S1",
			SiteName:       "Plot Site",
			Number:         5, RowNumber: 1, ColumnNumber: 2,
		})
		assert.Equal(t, plot.ID, repeat.ID)
	})

	t.Run("ProducerAllKinds", func(t *testing.T) {
		kinds := []string{"sensor", "trait", "procedure", "script", "model"}

		for _, kind := range kinds {
			ts.registerEntity(t, "/api/v1/producers/"+kind, ProducerPayload{
				Name: fmt.Sprintf("Producer %s", kind),
			})
		}
	})

	t.Run("ProducerDatasetKindRejected", func(t *testing.T) {
		rr := ts.do(t, http.MethodPost, "/api/v1/producers/dataset", ProducerPayload{Name: "Nope"})
		assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	})

	t.Run("DatasetWithExperimentLink", func(t *testing.T) {
		ts.registerEntity(t, "/api/v1/experiments", ExperimentPayload{Name: "Dataset Exp"})
		ts.registerEntity(t, "/api/v1/datasets/sensor", DatasetPayload{
			Name:           "Linked Sensor Data",
			ExperimentName: "Dataset Exp",
		})
	})

	t.Run("CultivarRegistration", func(t *testing.T) {
		ts.registerEntity(t, "/api/v1/cultivars", CultivarPayload{
			Accession:  "B73",
			Population: "NAM",
		})

		rr := ts.do(t, http.MethodPost, "/api/v1/cultivars", CultivarPayload{Population: "NAM"})
		assert.Equal(t, http.StatusUnprocessableEntity, rr.Code, "accession is required")
	})
}
