package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/GEMINI-Breeding/gemini-engine/internal/api/middleware"
	"github.com/GEMINI-Breeding/gemini-engine/internal/records"
	"github.com/GEMINI-Breeding/gemini-engine/internal/registry"
)

// handleIngestRecords handles record ingestion for a kind.
// POST /api/v1/records/{kind} - insert a single record or a batch.
//
// The body is either one record object or an array of records; a single
// object is treated as a batch of one.
//
// Request validation (returns 4xx):
//   - 400 Bad Request: unknown kind, empty body, or invalid JSON
//   - 413 Payload Too Large: body exceeds MaxRequestSize
//   - 415 Unsupported Media Type: Content-Type must be application/json
//
// Success responses:
//   - 200 OK: every record stored
//   - 207 Multi-Status: partial success, failures itemized in the body
//   - 422 Unprocessable Entity: every record rejected
func (s *Server) handleIngestRecords(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	correlationID := middleware.GetCorrelationID(r.Context())

	kind, problem := kindFromRequest(r)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	if !hasJSONContentType(r.Header.Get("Content-Type")) {
		WriteErrorResponse(w, r, s.logger, UnsupportedMediaType("Content-Type must be application/json"))

		return
	}

	inserts, problem := s.parseRecordRequest(r, kind)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	results, err := s.recordStore.InsertRecords(r.Context(), inserts)
	if err != nil {
		s.logger.Error("Record batch failed",
			slog.String("correlation_id", correlationID),
			slog.String("kind", kind.String()),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Record insertion failed"))

		return
	}

	response := buildIngestResponse(correlationID, results)
	statusCode := ingestStatusCode(&response)

	s.writeJSON(w, r, statusCode, response)

	s.logger.Info("Records processed",
		slog.String("correlation_id", correlationID),
		slog.String("kind", kind.String()),
		slog.String("status", response.Status),
		slog.Int("received", response.Summary.Received),
		slog.Int("successful", response.Summary.Successful),
		slog.Int("duplicates", response.Summary.Duplicates),
		slog.Int("failed", response.Summary.Failed),
		slog.Int("status_code", statusCode),
		slog.Duration("duration", time.Since(startTime)),
	)
}

// parseRecordRequest parses the body into domain inserts. Accepts a single
// object or an array.
func (s *Server) parseRecordRequest(r *http.Request, kind registry.Kind) ([]*records.Insert, *ProblemDetail) {
	if r.ContentLength > 0 && r.ContentLength > s.config.MaxRequestSize {
		return nil, PayloadTooLarge(
			fmt.Sprintf("Request body exceeds maximum size of %d bytes", s.config.MaxRequestSize),
		)
	}

	if r.ContentLength == 0 {
		return nil, BadRequest("Request body cannot be empty")
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, s.config.MaxRequestSize))
	if err != nil {
		return nil, BadRequest("Failed to read request body")
	}

	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, BadRequest("Request body cannot be empty")
	}

	var payloads []RecordPayload

	if trimmed[0] == '[' {
		if err := json.Unmarshal(body, &payloads); err != nil {
			return nil, BadRequest("Invalid JSON: " + err.Error())
		}
	} else {
		var single RecordPayload
		if err := json.Unmarshal(body, &single); err != nil {
			return nil, BadRequest("Invalid JSON: " + err.Error())
		}

		payloads = []RecordPayload{single}
	}

	if len(payloads) == 0 {
		return nil, BadRequest("Record array cannot be empty")
	}

	inserts := make([]*records.Insert, len(payloads))
	for i := range payloads {
		inserts[i] = payloads[i].ToInsert(kind)
	}

	return inserts, nil
}

// buildIngestResponse summarizes per-record results. Duplicates count toward
// failures in the summary but are flagged non-retriable with a specific
// reason.
func buildIngestResponse(correlationID string, results []*records.InsertResult) IngestResponse {
	response := IngestResponse{
		Summary:       ResponseSummary{Received: len(results)},
		FailedRecords: []FailedRecord{},
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}

	for i, res := range results {
		switch {
		case res.Err == nil:
			response.Summary.Successful++
		case res.Duplicate:
			response.Summary.Duplicates++
			response.Summary.Failed++
			response.FailedRecords = append(response.FailedRecords, FailedRecord{
				Index:  i,
				Reason: res.Err.Error(),
			})
		default:
			response.Summary.Failed++
			response.FailedRecords = append(response.FailedRecords, FailedRecord{
				Index:     i,
				Reason:    res.Err.Error(),
				Retriable: isRetriable(res.Err),
			})
		}
	}

	switch {
	case response.Summary.Failed == 0:
		response.Status = "success"
	case response.Summary.Successful > 0:
		response.Status = "partial"
	default:
		response.Status = "error"
	}

	return response
}

// ingestStatusCode maps the batch outcome to an HTTP status.
func ingestStatusCode(response *IngestResponse) int {
	switch response.Status {
	case "success":
		return http.StatusOK
	case "partial":
		return http.StatusMultiStatus
	default:
		return http.StatusUnprocessableEntity
	}
}

// isRetriable reports whether a record failure is transient. Domain
// rejections (illegal combination, unresolved name, duplicate key) are
// permanent; infrastructure failures may succeed on retry.
func isRetriable(err error) bool {
	switch {
	case errors.Is(err, records.ErrInvalidCombination),
		errors.Is(err, records.ErrPlotNotFound),
		errors.Is(err, records.ErrNameNotFound),
		errors.Is(err, records.ErrDuplicateRecord),
		errors.Is(err, records.ErrNilInsert),
		errors.Is(err, records.ErrInvalidKind),
		errors.Is(err, records.ErrMissingTimestamp),
		errors.Is(err, records.ErrMissingProducerName),
		errors.Is(err, records.ErrMissingDatasetName),
		errors.Is(err, records.ErrMissingHierarchyName),
		errors.Is(err, records.ErrMissingPlot):
		return false
	}

	return true
}
