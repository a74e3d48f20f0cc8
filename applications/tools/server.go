package tools

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	goverrors "github.com/agentmesh/governance_layer/infrastructure/errors"
	"github.com/agentmesh/governance_layer/infrastructure/httputil"
	"github.com/agentmesh/governance_layer/infrastructure/middleware"
)

// Router builds the HTTP carrier for the tool surface: one POST route per
// tool call, plus health and metrics endpoints.
func (s *Service) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": Version})
	}).Methods("GET")

	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	r.HandleFunc("/v1/tools", func(w http.ResponseWriter, req *http.Request) {
		result, err := s.Dispatch(req.Context(), "list_tools", nil)
		if err != nil {
			httputil.WriteToolError(w, req, err)
			return
		}
		httputil.WriteResult(w, req, result)
	}).Methods("GET")

	r.HandleFunc("/v1/tools/{tool}", s.handleToolCall).Methods("POST")

	return middleware.Chain(r,
		middleware.Recovery(s.logger),
		middleware.Trace(),
		middleware.RequestLogging(s.logger),
		middleware.Instrument(s.metrics),
		middleware.GlobalRateLimit(s.global),
	)
}

func (s *Service) handleToolCall(w http.ResponseWriter, r *http.Request) {
	tool := mux.Vars(r)["tool"]

	payload, err := httputil.ReadBody(r, s.cfg.Server.BodyLimitBytes)
	if err != nil {
		httputil.WriteToolError(w, r, goverrors.InvalidInput("body", "unreadable or oversized body"))
		return
	}

	result, err := s.Dispatch(r.Context(), tool, payload)
	if err != nil {
		httputil.WriteToolError(w, r, err)
		return
	}
	httputil.WriteResult(w, r, result)
}
