package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/GEMINI-Breeding/gemini-engine/internal/api/middleware"
	"github.com/GEMINI-Breeding/gemini-engine/internal/records"
)

// handleQueryRecords serves the denormalized read side for a kind.
// GET /api/v1/records/{kind}
//
// Query parameters (all optional): producer, dataset, experiment, season,
// site, collectedAfter (RFC 3339 or YYYY-MM-DD), limit, offset.
func (s *Server) handleQueryRecords(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	kind, problem := kindFromRequest(r)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	filter, problem := parseRecordFilter(r)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	page, problem := parsePagination(r)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	result, err := s.recordStore.QueryRecords(r.Context(), kind, filter, page)
	if err != nil {
		s.logger.Error("Record query failed",
			slog.String("correlation_id", correlationID),
			slog.String("kind", kind.String()),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Record query failed"))

		return
	}

	response := QueryResponse{
		Records: make([]RecordResponse, len(result.Records)),
		Total:   result.Total,
	}

	for i := range result.Records {
		response.Records[i] = toRecordResponse(&result.Records[i])
	}

	s.writeJSON(w, r, http.StatusOK, response)
}

// handleListCombinations serves the currently legal combinations for a kind.
// GET /api/v1/combinations/{kind}
//
// This is the discovery surface callers consult before attempting inserts;
// the result is a live projection of the registry and association layers.
func (s *Server) handleListCombinations(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	kind, problem := kindFromRequest(r)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	combinations, err := s.recordStore.ListCombinations(r.Context(), kind)
	if err != nil {
		s.logger.Error("Combination listing failed",
			slog.String("correlation_id", correlationID),
			slog.String("kind", kind.String()),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Combination listing failed"))

		return
	}

	response := make([]CombinationResponse, len(combinations))
	for i, c := range combinations {
		response[i] = CombinationResponse{
			ProducerName:   c.ProducerName,
			DatasetName:    c.DatasetName,
			ExperimentName: c.ExperimentName,
			SeasonName:     c.SeasonName,
			SiteName:       c.SiteName,
		}
	}

	s.writeJSON(w, r, http.StatusOK, response)
}

// parseRecordFilter builds a record filter from query parameters.
func parseRecordFilter(r *http.Request) (*records.Filter, *ProblemDetail) {
	q := r.URL.Query()

	filter := &records.Filter{
		ProducerName:   q.Get("producer"),
		DatasetName:    q.Get("dataset"),
		ExperimentName: q.Get("experiment"),
		SeasonName:     q.Get("season"),
		SiteName:       q.Get("site"),
	}

	if raw := q.Get("collectedAfter"); raw != "" {
		t, err := parseDateParam(raw)
		if err != nil {
			return nil, BadRequest("Invalid collectedAfter: " + raw)
		}

		filter.CollectedAfter = t
	}

	return filter, nil
}

// parsePagination builds pagination bounds from query parameters.
func parsePagination(r *http.Request) (*records.Pagination, *ProblemDetail) {
	q := r.URL.Query()
	page := &records.Pagination{}

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return nil, BadRequest("Invalid limit: " + raw)
		}

		page.Limit = limit
	}

	if raw := q.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return nil, BadRequest("Invalid offset: " + raw)
		}

		page.Offset = offset
	}

	return page, nil
}

// parseDateParam accepts RFC 3339 timestamps or bare dates.
func parseDateParam(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}

	return time.Parse("2006-01-02", raw)
}
