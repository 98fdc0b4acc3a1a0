package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"helmsman/internal/engine"
	"helmsman/internal/saga"
	"helmsman/internal/workflow"
)

type startSagaRequest struct {
	Workflow      string          `json:"workflow"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	InitiatedBy   string          `json:"initiated_by,omitempty"`
}

type startSagaResponse struct {
	SagaID string `json:"saga_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// registerAPI mounts the orchestrator's JSON endpoints on mux.
func registerAPI(mux *http.ServeMux, svc *engine.Service, log zerolog.Logger) {
	mux.HandleFunc("POST /sagas", func(w http.ResponseWriter, r *http.Request) {
		var req startSagaRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		id, err := svc.StartSaga(r.Context(), engine.StartRequest{
			WorkflowName:  req.Workflow,
			Payload:       req.Payload,
			CorrelationID: req.CorrelationID,
			InitiatedBy:   req.InitiatedBy,
		})
		if err != nil {
			writeSagaError(w, log, err)
			return
		}
		writeJSON(w, http.StatusAccepted, startSagaResponse{SagaID: id})
	})

	mux.HandleFunc("GET /sagas/{id}", func(w http.ResponseWriter, r *http.Request) {
		state, err := svc.GetSaga(r.Context(), r.PathValue("id"))
		if err != nil {
			writeSagaError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, state)
	})

	mux.HandleFunc("POST /workflows", func(w http.ResponseWriter, r *http.Request) {
		var def workflow.Definition
		if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := svc.RegisterDefinition(r.Context(), def); err != nil {
			writeSagaError(w, log, err)
			return
		}
		w.WriteHeader(http.StatusCreated)
	})

	mux.HandleFunc("GET /workflows", func(w http.ResponseWriter, r *http.Request) {
		defs, err := svc.Definitions(r.Context())
		if err != nil {
			writeSagaError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, defs)
	})
}

func writeSagaError(w http.ResponseWriter, log zerolog.Logger, err error) {
	switch {
	case errors.Is(err, saga.ErrValidation):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, saga.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, saga.ErrAlreadyExists):
		writeError(w, http.StatusConflict, err)
	default:
		log.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
