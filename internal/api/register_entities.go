package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/GEMINI-Breeding/gemini-engine/internal/api/middleware"
	"github.com/GEMINI-Breeding/gemini-engine/internal/registry"
)

// handleCreateExperiment registers an experiment by name.
// POST /api/v1/experiments
func (s *Server) handleCreateExperiment(w http.ResponseWriter, r *http.Request) {
	var payload ExperimentPayload
	if problem := s.decodeEntityPayload(r, &payload); problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	experiment := &registry.Experiment{
		Name:      payload.Name,
		StartDate: payload.StartDate,
		EndDate:   payload.EndDate,
		Info:      registry.Attributes(payload.Info),
	}

	if err := s.validator.ValidateExperiment(experiment); err != nil {
		WriteErrorResponse(w, r, s.logger, UnprocessableEntity(err.Error()))

		return
	}

	created, err := s.registryStore.CreateExperiment(r.Context(), experiment)
	if err != nil {
		s.writeEntityError(w, r, "experiment", err)

		return
	}

	s.writeEntityCreated(w, r, created.ID)
}

// handleCreateSeason registers a season under an experiment addressed by name.
// POST /api/v1/seasons
func (s *Server) handleCreateSeason(w http.ResponseWriter, r *http.Request) {
	var payload SeasonPayload
	if problem := s.decodeEntityPayload(r, &payload); problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	season := &registry.Season{
		Name:      payload.Name,
		StartDate: payload.StartDate,
		EndDate:   payload.EndDate,
		Info:      registry.Attributes(payload.Info),
	}

	if err := s.validator.ValidateSeason(season); err != nil {
		WriteErrorResponse(w, r, s.logger, UnprocessableEntity(err.Error()))

		return
	}

	if payload.ExperimentName == "" {
		WriteErrorResponse(w, r, s.logger, UnprocessableEntity("experimentName is required"))

		return
	}

	experiment, err := s.registryStore.GetExperimentByName(r.Context(), payload.ExperimentName)
	if err != nil {
		s.writeEntityError(w, r, "experiment", err)

		return
	}

	season.ExperimentID = experiment.ID

	created, err := s.registryStore.CreateSeason(r.Context(), season)
	if err != nil {
		s.writeEntityError(w, r, "season", err)

		return
	}

	s.writeEntityCreated(w, r, created.ID)
}

// handleCreateSite registers a site and optionally associates it with an
// experiment in the same call.
// POST /api/v1/sites
func (s *Server) handleCreateSite(w http.ResponseWriter, r *http.Request) {
	var payload SitePayload
	if problem := s.decodeEntityPayload(r, &payload); problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	site := &registry.Site{
		Name:    payload.Name,
		City:    payload.City,
		State:   payload.State,
		Country: payload.Country,
		Info:    registry.Attributes(payload.Info),
	}

	if err := s.validator.ValidateSite(site); err != nil {
		WriteErrorResponse(w, r, s.logger, UnprocessableEntity(err.Error()))

		return
	}

	created, err := s.registryStore.CreateSite(r.Context(), site)
	if err != nil {
		s.writeEntityError(w, r, "site", err)

		return
	}

	if payload.ExperimentName != "" {
		experiment, err := s.registryStore.GetExperimentByName(r.Context(), payload.ExperimentName)
		if err != nil {
			s.writeEntityError(w, r, "experiment", err)

			return
		}

		if err := s.registryStore.AssociateExperimentSite(r.Context(), experiment.ID, created.ID, nil); err != nil {
			s.writeEntityError(w, r, "experiment site association", err)

			return
		}
	}

	s.writeEntityCreated(w, r, created.ID)
}

// handleCreateCultivar registers a cultivar and optionally associates it with
// an experiment in the same call.
// POST /api/v1/cultivars
func (s *Server) handleCreateCultivar(w http.ResponseWriter, r *http.Request) {
	var payload CultivarPayload
	if problem := s.decodeEntityPayload(r, &payload); problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	cultivar := &registry.Cultivar{
		Accession:  payload.Accession,
		Population: payload.Population,
		Info:       registry.Attributes(payload.Info),
	}

	if err := s.validator.ValidateCultivar(cultivar); err != nil {
		WriteErrorResponse(w, r, s.logger, UnprocessableEntity(err.Error()))

		return
	}

	created, err := s.registryStore.CreateCultivar(r.Context(), cultivar)
	if err != nil {
		s.writeEntityError(w, r, "cultivar", err)

		return
	}

	if payload.ExperimentName != "" {
		experiment, err := s.registryStore.GetExperimentByName(r.Context(), payload.ExperimentName)
		if err != nil {
			s.writeEntityError(w, r, "experiment", err)

			return
		}

		if err := s.registryStore.AssociateExperimentCultivar(r.Context(), experiment.ID, created.ID, nil); err != nil {
			s.writeEntityError(w, r, "experiment cultivar association", err)

			return
		}
	}

	s.writeEntityCreated(w, r, created.ID)
}

// handleCreatePlot registers a plot under an existing (experiment, season,
// site) prefix. All three prefix entities must already exist; plot creation
// never invents them.
// POST /api/v1/plots
func (s *Server) handleCreatePlot(w http.ResponseWriter, r *http.Request) {
	var payload PlotPayload
	if problem := s.decodeEntityPayload(r, &payload); problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	if payload.ExperimentName == "" || payload.SeasonName == "" || payload.SiteName == "" {
		WriteErrorResponse(w, r, s.logger,
			UnprocessableEntity("experimentName, seasonName, and siteName are required"))

		return
	}

	experiment, err := s.registryStore.GetExperimentByName(r.Context(), payload.ExperimentName)
	if err != nil {
		s.writeEntityError(w, r, "experiment", err)

		return
	}

	season, err := s.registryStore.GetSeason(r.Context(), experiment.ID, payload.SeasonName)
	if err != nil {
		s.writeEntityError(w, r, "season", err)

		return
	}

	site, err := s.registryStore.GetSiteByName(r.Context(), payload.SiteName)
	if err != nil {
		s.writeEntityError(w, r, "site", err)

		return
	}

	plot := &registry.Plot{
		ExperimentID: uuid.NullUUID{UUID: experiment.ID, Valid: true},
		SeasonID:     uuid.NullUUID{UUID: season.ID, Valid: true},
		SiteID:       uuid.NullUUID{UUID: site.ID, Valid: true},
		Number:       payload.Number,
		RowNumber:    payload.RowNumber,
		ColumnNumber: payload.ColumnNumber,
		GeometryInfo: registry.Attributes(payload.GeometryInfo),
		Info:         registry.Attributes(payload.Info),
	}

	created, err := s.registryStore.CreatePlot(r.Context(), plot)
	if err != nil {
		s.writeEntityError(w, r, "plot", err)

		return
	}

	s.writeEntityCreated(w, r, created.ID)
}

// handleCreateProducer registers a producer of the kind named in the URL and
// optionally associates it with an experiment in the same call.
// POST /api/v1/producers/{kind}
func (s *Server) handleCreateProducer(w http.ResponseWriter, r *http.Request) {
	kind, problem := kindFromRequest(r)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	var payload ProducerPayload
	if problem := s.decodeEntityPayload(r, &payload); problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	if err := s.validator.ValidateProducerName(kind, payload.Name); err != nil {
		WriteErrorResponse(w, r, s.logger, UnprocessableEntity(err.Error()))

		return
	}

	producerID, err := s.createProducer(r, kind, &payload)
	if err != nil {
		s.writeEntityError(w, r, kind.String(), err)

		return
	}

	if payload.ExperimentName != "" {
		experiment, err := s.registryStore.GetExperimentByName(r.Context(), payload.ExperimentName)
		if err != nil {
			s.writeEntityError(w, r, "experiment", err)

			return
		}

		if err := s.registryStore.AssociateExperimentProducer(r.Context(), kind, experiment.ID, producerID, nil); err != nil {
			s.writeEntityError(w, r, "experiment producer association", err)

			return
		}
	}

	s.writeEntityCreated(w, r, producerID)
}

// createProducer dispatches to the kind-specific create operation. Payload
// fields not meaningful for the kind are ignored.
func (s *Server) createProducer(r *http.Request, kind registry.Kind, payload *ProducerPayload) (uuid.UUID, error) {
	ctx := r.Context()
	info := registry.Attributes(payload.Info)

	switch kind {
	case registry.KindSensor:
		created, err := s.registryStore.CreateSensor(ctx, &registry.Sensor{
			Name:       payload.Name,
			Type:       payload.Type,
			DataType:   payload.DataType,
			DataFormat: payload.DataFormat,
			Info:       info,
		})
		if err != nil {
			return uuid.Nil, err
		}

		return created.ID, nil
	case registry.KindTrait:
		created, err := s.registryStore.CreateTrait(ctx, &registry.Trait{
			Name:  payload.Name,
			Units: payload.Units,
			Level: payload.Level,
			Info:  info,
		})
		if err != nil {
			return uuid.Nil, err
		}

		return created.ID, nil
	case registry.KindProcedure:
		created, err := s.registryStore.CreateProcedure(ctx, &registry.Procedure{
			Name: payload.Name,
			Info: info,
		})
		if err != nil {
			return uuid.Nil, err
		}

		return created.ID, nil
	case registry.KindScript:
		created, err := s.registryStore.CreateScript(ctx, &registry.Script{
			Name:      payload.Name,
			URL:       payload.URL,
			Extension: payload.Extension,
			Info:      info,
		})
		if err != nil {
			return uuid.Nil, err
		}

		return created.ID, nil
	case registry.KindModel:
		created, err := s.registryStore.CreateModel(ctx, &registry.Model{
			Name: payload.Name,
			URL:  payload.URL,
			Info: info,
		})
		if err != nil {
			return uuid.Nil, err
		}

		return created.ID, nil
	default:
		return uuid.Nil, fmt.Errorf("%w: %q has no producer entity", registry.ErrUnknownKind, kind)
	}
}

// handleCreateDataset registers a dataset tagged with the kind named in the
// URL and optionally associates it with an experiment in the same call.
// POST /api/v1/datasets/{kind}
func (s *Server) handleCreateDataset(w http.ResponseWriter, r *http.Request) {
	kind, problem := kindFromRequest(r)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	var payload DatasetPayload
	if problem := s.decodeEntityPayload(r, &payload); problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	dataset := &registry.Dataset{
		Name:           payload.Name,
		Kind:           kind,
		CollectionDate: payload.CollectionDate,
		Info:           registry.Attributes(payload.Info),
	}

	if err := s.validator.ValidateDataset(dataset); err != nil {
		WriteErrorResponse(w, r, s.logger, UnprocessableEntity(err.Error()))

		return
	}

	created, err := s.registryStore.CreateDataset(r.Context(), dataset)
	if err != nil {
		s.writeEntityError(w, r, "dataset", err)

		return
	}

	if payload.ExperimentName != "" {
		experiment, err := s.registryStore.GetExperimentByName(r.Context(), payload.ExperimentName)
		if err != nil {
			s.writeEntityError(w, r, "experiment", err)

			return
		}

		if err := s.registryStore.AssociateExperimentDataset(r.Context(), experiment.ID, created.ID, nil); err != nil {
			s.writeEntityError(w, r, "experiment dataset association", err)

			return
		}
	}

	s.writeEntityCreated(w, r, created.ID)
}

// decodeEntityPayload decodes a single JSON entity body into dst.
func (s *Server) decodeEntityPayload(r *http.Request, dst interface{}) *ProblemDetail {
	if !hasJSONContentType(r.Header.Get("Content-Type")) {
		return UnsupportedMediaType("Content-Type must be application/json")
	}

	if r.ContentLength > 0 && r.ContentLength > s.config.MaxRequestSize {
		return PayloadTooLarge(
			fmt.Sprintf("Request body exceeds maximum size of %d bytes", s.config.MaxRequestSize),
		)
	}

	decoder := json.NewDecoder(io.LimitReader(r.Body, s.config.MaxRequestSize))
	if err := decoder.Decode(dst); err != nil {
		return BadRequest("Invalid JSON: " + err.Error())
	}

	return nil
}

// writeEntityCreated acknowledges a registration. Create operations are
// idempotent, so re-registering an existing entity also lands here with the
// existing identifier.
func (s *Server) writeEntityCreated(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	s.writeJSON(w, r, http.StatusCreated, EntityResponse{
		ID:            id.String(),
		CorrelationID: middleware.GetCorrelationID(r.Context()),
	})
}

// writeEntityError maps a registry error onto a problem response. Lookup
// misses become 404; everything else is treated as a storage failure.
func (s *Server) writeEntityError(w http.ResponseWriter, r *http.Request, entity string, err error) {
	if errors.Is(err, registry.ErrNotFound) {
		WriteErrorResponse(w, r, s.logger, NotFound(entity+" not found"))

		return
	}

	s.logger.Error("Entity registration failed",
		slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
		slog.String("entity", entity),
		slog.String("error", err.Error()),
	)

	WriteErrorResponse(w, r, s.logger, InternalServerError("Entity registration failed"))
}
