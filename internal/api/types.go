package api

import (
	"net/http"
	"time"

	"github.com/GEMINI-Breeding/gemini-engine/internal/records"
	"github.com/GEMINI-Breeding/gemini-engine/internal/registry"
)

type (
	// Version represents the API version response structure.
	Version struct {
		Version     string `json:"version"`
		ServiceName string `json:"serviceName"`
		BuildInfo   string `json:"buildInfo,omitempty"`
	}

	// HealthStatus represents the health check response structure.
	HealthStatus struct {
		Status      string `json:"status"`
		ServiceName string `json:"serviceName"`
		Version     string `json:"version"`
		Uptime      string `json:"uptime,omitempty"`
	}

	// RecordPayload is the wire shape of a name-addressed record insert.
	// This is separate from the domain model (records.Insert) so the API
	// contract can evolve independently of internal types.
	//
	// Plot coordinates are optional pointers; plot-scoped kinds (sensor,
	// trait) require all three.
	RecordPayload struct {
		Timestamp      time.Time `json:"timestamp"`
		CollectionDate time.Time `json:"collectionDate,omitzero"`

		ProducerName   string `json:"producerName,omitempty"`
		DatasetName    string `json:"datasetName"`
		ExperimentName string `json:"experimentName"`
		SeasonName     string `json:"seasonName"`
		SiteName       string `json:"siteName"`

		PlotNumber       *int `json:"plotNumber,omitempty"`
		PlotRowNumber    *int `json:"plotRowNumber,omitempty"`
		PlotColumnNumber *int `json:"plotColumnNumber,omitempty"`

		TraitValue float64                `json:"traitValue,omitempty"`
		Data       map[string]interface{} `json:"data,omitempty"`

		RecordFile string                 `json:"recordFile,omitempty"`
		RecordInfo map[string]interface{} `json:"recordInfo,omitempty"`
	}

	// IngestResponse reports the outcome of a record insert batch. Only
	// failed records are itemized; successful and duplicate counts appear in
	// the summary.
	IngestResponse struct {
		Status        string          `json:"status"` // "success", "partial", or "error"
		Summary       ResponseSummary `json:"summary"`
		FailedRecords []FailedRecord  `json:"failedRecords"`
		CorrelationID string          `json:"correlationId"`
		Timestamp     string          `json:"timestamp"`
	}

	// ResponseSummary provides aggregate counts for batch processing.
	ResponseSummary struct {
		Received   int `json:"received"`
		Successful int `json:"successful"`
		Duplicates int `json:"duplicates"`
		Failed     int `json:"failed"`
	}

	// FailedRecord describes a single failed record in the batch.
	FailedRecord struct {
		Index     int    `json:"index"`
		Reason    string `json:"reason"`
		Retriable bool   `json:"retriable"`
	}

	// RecordResponse is the wire shape of a stored record on the read side.
	RecordResponse struct {
		ID             string    `json:"id"`
		Kind           string    `json:"kind"`
		Timestamp      time.Time `json:"timestamp"`
		CollectionDate time.Time `json:"collectionDate"`

		ProducerName   string `json:"producerName,omitempty"`
		DatasetName    string `json:"datasetName"`
		ExperimentName string `json:"experimentName"`
		SeasonName     string `json:"seasonName"`
		SiteName       string `json:"siteName"`

		PlotNumber       *int `json:"plotNumber,omitempty"`
		PlotRowNumber    *int `json:"plotRowNumber,omitempty"`
		PlotColumnNumber *int `json:"plotColumnNumber,omitempty"`

		TraitValue float64                `json:"traitValue,omitempty"`
		Data       map[string]interface{} `json:"data,omitempty"`

		RecordFile string                 `json:"recordFile,omitempty"`
		RecordInfo map[string]interface{} `json:"recordInfo,omitempty"`
	}

	// QueryResponse is a page of records plus the unpaginated total.
	QueryResponse struct {
		Records []RecordResponse `json:"records"`
		Total   int              `json:"total"`
	}

	// CombinationResponse is one legal combination tuple.
	CombinationResponse struct {
		ProducerName   string `json:"producerName,omitempty"`
		DatasetName    string `json:"datasetName"`
		ExperimentName string `json:"experimentName"`
		SeasonName     string `json:"seasonName"`
		SiteName       string `json:"siteName"`
	}

	// ExperimentPayload is the wire shape for experiment registration.
	ExperimentPayload struct {
		Name      string                 `json:"name"`
		StartDate time.Time              `json:"startDate,omitzero"`
		EndDate   time.Time              `json:"endDate,omitzero"`
		Info      map[string]interface{} `json:"info,omitempty"`
	}

	// SeasonPayload is the wire shape for season registration under an
	// experiment addressed by name.
	SeasonPayload struct {
		ExperimentName string                 `json:"experimentName"`
		Name           string                 `json:"name"`
		StartDate      time.Time              `json:"startDate,omitzero"`
		EndDate        time.Time              `json:"endDate,omitzero"`
		Info           map[string]interface{} `json:"info,omitempty"`
	}

	// SitePayload is the wire shape for site registration. An experiment name
	// may be supplied to associate the site in the same call.
	SitePayload struct {
		Name           string                 `json:"name"`
		City           string                 `json:"city,omitempty"`
		State          string                 `json:"state,omitempty"`
		Country        string                 `json:"country,omitempty"`
		ExperimentName string                 `json:"experimentName,omitempty"`
		Info           map[string]interface{} `json:"info,omitempty"`
	}

	// CultivarPayload is the wire shape for cultivar registration.
	CultivarPayload struct {
		Accession      string                 `json:"accession"`
		Population     string                 `json:"population"`
		ExperimentName string                 `json:"experimentName,omitempty"`
		Info           map[string]interface{} `json:"info,omitempty"`
	}

	// PlotPayload is the wire shape for explicit plot registration.
	PlotPayload struct {
		ExperimentName string                 `json:"experimentName"`
		SeasonName     string                 `json:"seasonName"`
		SiteName       string                 `json:"siteName"`
		Number         int                    `json:"number"`
		RowNumber      int                    `json:"rowNumber"`
		ColumnNumber   int                    `json:"columnNumber"`
		GeometryInfo   map[string]interface{} `json:"geometryInfo,omitempty"`
		Info           map[string]interface{} `json:"info,omitempty"`
	}

	// ProducerPayload is the wire shape for producer registration; the kind
	// comes from the URL. Fields not meaningful for a kind are ignored. An
	// experiment name may be supplied to associate the producer in the same
	// call.
	ProducerPayload struct {
		Name           string                 `json:"name"`
		Type           string                 `json:"type,omitempty"`
		DataType       string                 `json:"dataType,omitempty"`
		DataFormat     string                 `json:"dataFormat,omitempty"`
		Units          string                 `json:"units,omitempty"`
		Level          string                 `json:"level,omitempty"`
		URL            string                 `json:"url,omitempty"`
		Extension      string                 `json:"extension,omitempty"`
		ExperimentName string                 `json:"experimentName,omitempty"`
		Info           map[string]interface{} `json:"info,omitempty"`
	}

	// DatasetPayload is the wire shape for explicit dataset registration; the
	// kind tag comes from the URL.
	DatasetPayload struct {
		Name           string                 `json:"name"`
		CollectionDate time.Time              `json:"collectionDate,omitzero"`
		ExperimentName string                 `json:"experimentName,omitempty"`
		Info           map[string]interface{} `json:"info,omitempty"`
	}

	// EntityResponse acknowledges a registration with the entity's assigned
	// identifier.
	EntityResponse struct {
		ID            string `json:"id"`
		CorrelationID string `json:"correlationId"`
	}

	// Route represents an HTTP route configuration with a path and handler.
	Route struct {
		Path    string
		Handler http.HandlerFunc
	}
)

// ToInsert maps a wire payload onto the domain insert for a kind.
func (p *RecordPayload) ToInsert(kind registry.Kind) *records.Insert {
	in := &records.Insert{
		Kind:           kind,
		Timestamp:      p.Timestamp,
		CollectionDate: p.CollectionDate,
		ProducerName:   p.ProducerName,
		DatasetName:    p.DatasetName,
		ExperimentName: p.ExperimentName,
		SeasonName:     p.SeasonName,
		SiteName:       p.SiteName,
		TraitValue:     p.TraitValue,
		Data:           registry.Attributes(p.Data),
		RecordFile:     p.RecordFile,
		RecordInfo:     registry.Attributes(p.RecordInfo),
	}

	if p.PlotNumber != nil && p.PlotRowNumber != nil && p.PlotColumnNumber != nil {
		in.Plot = &records.PlotCoordinates{
			Number:       *p.PlotNumber,
			RowNumber:    *p.PlotRowNumber,
			ColumnNumber: *p.PlotColumnNumber,
		}
	}

	return in
}

// toRecordResponse maps a stored record onto the wire shape.
func toRecordResponse(rec *records.Record) RecordResponse {
	out := RecordResponse{
		ID:             rec.ID.String(),
		Kind:           rec.Kind.String(),
		Timestamp:      rec.Timestamp,
		CollectionDate: rec.CollectionDate,
		ProducerName:   rec.ProducerName,
		DatasetName:    rec.DatasetName,
		ExperimentName: rec.ExperimentName,
		SeasonName:     rec.SeasonName,
		SiteName:       rec.SiteName,
		TraitValue:     rec.TraitValue,
		Data:           rec.Data,
		RecordFile:     rec.RecordFile,
		RecordInfo:     rec.RecordInfo,
	}

	if rec.Plot != nil {
		out.PlotNumber = &rec.Plot.Number
		out.PlotRowNumber = &rec.Plot.RowNumber
		out.PlotColumnNumber = &rec.Plot.ColumnNumber
	}

	return out
}
