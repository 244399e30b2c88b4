package runtime

import (
	"context"
	"errors"
	"net/http"
	"strings"

	errspkg "github.com/kemock/kem/internal/runtime/errors"
	"github.com/kemock/kem/internal/runtime/jsoncodec"
	loggingpkg "github.com/kemock/kem/internal/runtime/logging"
	"github.com/kemock/kem/internal/runtime/operations"
)

// HeaderCorrelationID is copied into the correlation id of manually
// triggered emissions.
const HeaderCorrelationID = "X-Correlation-ID"

// RoutesView is the routing table as served by the control API.
type RoutesView struct {
	Topics             []string            `json:"topics"`
	ConsumerTopics     []string            `json:"consumerTopics"`
	StartupProducers   []string            `json:"startupProducers"`
	TriggeredProducers []string            `json:"triggeredProducers"`
	Launches           map[string][]string `json:"launches"`
}

// TriggerResponse acknowledges a manual trigger.
type TriggerResponse struct {
	OperationID string `json:"operationId"`
	Trigger     string `json:"trigger"`
	Scheduled   bool   `json:"scheduled"`
}

func (s *Service) registerControlAPI() {
	if s.Conf.ControlPort == 0 {
		return
	}
	s.RegisterHTTPHandler(s.Conf.ControlPort, "/api/", s.ControlHandler())
}

// ControlHandler serves the JSON control API:
//
//	GET  /api/handlers                router handler names
//	GET  /api/routes                  routing table
//	GET  /api/stats                   per-operation emission counters
//	POST /api/producers/{id}/trigger  schedule a producer (Trigger)
//	POST /api/producers/{id}/emit     emit once now (EmitNow)
func (s *Service) ControlHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/handlers", func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, s.Handlers())
	})
	mux.HandleFunc("GET /api/routes", s.handleGetRoutes)
	mux.HandleFunc("GET /api/stats", s.handleGetStats)
	mux.HandleFunc("POST /api/producers/{id}/trigger", s.handleTrigger(false))
	mux.HandleFunc("POST /api/producers/{id}/emit", s.handleTrigger(true))
	return s.withCORS(mux)
}

func (s *Service) handleGetRoutes(w http.ResponseWriter, r *http.Request) {
	ids := func(ps []*operations.ProducerOperation) []string {
		out := make([]string, 0, len(ps))
		for _, p := range ps {
			out = append(out, p.OperationID)
		}
		return out
	}

	view := RoutesView{
		Topics:             s.table.Topics(),
		ConsumerTopics:     s.table.ConsumerTopics(),
		StartupProducers:   ids(s.table.StartupProducers()),
		TriggeredProducers: ids(s.table.TriggeredProducers()),
		Launches:           map[string][]string{},
	}
	for _, topic := range view.ConsumerTopics {
		for _, c := range s.table.ConsumersForTopic(topic) {
			view.Launches[c.OperationID] = c.LaunchOperationIDs
		}
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Service) handleGetStats(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		s.writeJSON(w, http.StatusOK, map[string]OperationStats{})
		return
	}
	s.writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func (s *Service) handleTrigger(now bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		ctx := context.WithoutCancel(r.Context())
		if corr := r.Header.Get(HeaderCorrelationID); corr != "" {
			ctx = WithCorrelationID(ctx, corr)
		}

		var err error
		if now {
			err = s.EmitNow(ctx, id)
		} else {
			err = s.Trigger(ctx, id)
		}

		switch {
		case err == nil:
		case errors.Is(err, errspkg.ErrUnknownProducer):
			s.writeError(w, http.StatusNotFound, err)
			return
		case errors.Is(err, errspkg.ErrExecutorClosed):
			s.writeError(w, http.StatusServiceUnavailable, err)
			return
		default:
			var pubErr *errspkg.PublishError
			if errors.As(err, &pubErr) {
				s.writeError(w, http.StatusBadGateway, err)
				return
			}
			s.writeError(w, http.StatusUnprocessableEntity, err)
			return
		}

		status := http.StatusAccepted
		if now {
			status = http.StatusOK
		}
		s.writeJSON(w, status, TriggerResponse{OperationID: id, Trigger: TriggerManual.String(), Scheduled: !now})
	}
}

func (s *Service) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := jsoncodec.Encode(w, v); err != nil {
		s.Logger.Error("Failed to encode control response", err, nil)
	}
}

func (s *Service) writeError(w http.ResponseWriter, status int, err error) {
	s.Logger.Debug("Control request failed", loggingpkg.LogFields{"status": status, "error": err.Error()})
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Service) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if allowed := s.allowedCORSOrigin(r.Header.Get("Origin")); allowed != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowed)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+HeaderCorrelationID)
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// allowedCORSOrigin returns the Access-Control-Allow-Origin value for the
// request origin, or "" when it is not allowed.
func (s *Service) allowedCORSOrigin(requestOrigin string) string {
	if s.Conf == nil || requestOrigin == "" {
		return ""
	}
	for _, allowed := range s.Conf.ControlCORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}
