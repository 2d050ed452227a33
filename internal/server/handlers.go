package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/leapstack-labs/leapguard/internal/state"
	"github.com/leapstack-labs/leapguard/internal/watermark"
	"github.com/leapstack-labs/leapguard/pkg/core"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			slog.String("path", r.URL.Path),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("error", err.Error()))
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid request body: " + err.Error())
	}
	return nil
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":             "ok",
		"governance_version": s.engine.Registry().Current().Version,
	})
}

type validateRequest struct {
	PartitionKey string           `json:"partition_key"`
	Records      []map[string]any `json:"records"`
}

func (s *Server) validateBatch(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, http.StatusBadRequest, err)
		return
	}
	res, err := s.engine.Validator().ValidateBatch(r.Context(), chi.URLParam(r, "source"), req.Records, req.PartitionKey)
	if err != nil {
		s.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) listViolations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := core.ViolationFilter{
		SourceName:    q.Get("source"),
		TableName:     q.Get("table"),
		ViolationType: core.ViolationType(q.Get("type")),
		Unresolved:    q.Get("unresolved") == "true",
		Limit:         100,
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.fail(w, r, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		filter.Limit = n
	}
	if v := q.Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.fail(w, r, http.StatusBadRequest, errors.New("since must be an RFC3339 timestamp"))
			return
		}
		filter.Since = ts
	}

	out, err := s.engine.Store().ListViolations(r.Context(), filter)
	if err != nil {
		s.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	if out == nil {
		out = []*core.ViolationRecord{}
	}
	writeJSON(w, http.StatusOK, out)
}

type resolveRequest struct {
	By   string `json:"by"`
	Note string `json:"note"`
}

func (s *Server) resolveViolation(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.fail(w, r, http.StatusBadRequest, errors.New("invalid violation id"))
		return
	}
	var req resolveRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, http.StatusBadRequest, err)
		return
	}
	if req.By == "" {
		s.fail(w, r, http.StatusBadRequest, errors.New("by is required"))
		return
	}
	err = s.engine.Store().ResolveViolation(r.Context(), id, req.By, req.Note, s.now().UTC())
	switch {
	case errors.Is(err, state.ErrNotFound):
		s.fail(w, r, http.StatusNotFound, err)
		return
	case err != nil:
		s.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listWatermarks(w http.ResponseWriter, r *http.Request) {
	out, err := s.engine.Tracker().List(r.Context(), r.URL.Query().Get("source"))
	if err != nil {
		s.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	if out == nil {
		out = []*core.Watermark{}
	}
	writeJSON(w, http.StatusOK, out)
}

type watermarkResponse struct {
	core.WatermarkKey
	WatermarkValue string `json:"watermark_value"`
}

func watermarkKey(r *http.Request) core.WatermarkKey {
	return core.WatermarkKey{
		SourceName:      chi.URLParam(r, "source"),
		TableName:       chi.URLParam(r, "table"),
		WatermarkColumn: chi.URLParam(r, "column"),
	}
}

func (s *Server) getWatermark(w http.ResponseWriter, r *http.Request) {
	key := watermarkKey(r)
	v, err := s.engine.Tracker().Get(r.Context(), key.SourceName, key.TableName, key.WatermarkColumn)
	if err != nil {
		s.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, watermarkResponse{WatermarkKey: key, WatermarkValue: v})
}

type updateWatermarkRequest struct {
	Value         string `json:"watermark_value"`
	PartitionKey  string `json:"partition_key"`
	JobRunID      string `json:"job_run_id"`
	RowsProcessed int64  `json:"rows_processed"`
}

func (s *Server) updateWatermark(w http.ResponseWriter, r *http.Request) {
	var req updateWatermarkRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, http.StatusBadRequest, err)
		return
	}
	key := watermarkKey(r)
	err := s.engine.Tracker().Update(r.Context(), watermark.Update{
		SourceName:      key.SourceName,
		TableName:       key.TableName,
		WatermarkColumn: key.WatermarkColumn,
		Value:           req.Value,
		PartitionKey:    req.PartitionKey,
		JobRunID:        req.JobRunID,
		RowsProcessed:   req.RowsProcessed,
	})
	var regErr *watermark.RegressionError
	switch {
	case errors.As(err, &regErr):
		s.fail(w, r, http.StatusConflict, err)
		return
	case err != nil:
		s.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, watermarkResponse{WatermarkKey: key, WatermarkValue: req.Value})
}

func (s *Server) freshness(w http.ResponseWriter, r *http.Request) {
	out, err := s.engine.Freshness().Report(r.Context(), s.now())
	if err != nil {
		s.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	if out == nil {
		out = []watermark.SourceFreshness{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) monitorStatus(w http.ResponseWriter, r *http.Request) {
	runner, err := s.engine.Runner(r.Context())
	if err != nil {
		s.fail(w, r, http.StatusServiceUnavailable, err)
		return
	}
	out, err := runner.Status(r.Context(), s.now())
	if err != nil {
		s.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	out, err := s.engine.Store().ListMonitorEvents(r.Context(), core.EventFilter{
		MonitorName:    q.Get("monitor"),
		Kind:           core.MonitorEventKind(q.Get("kind")),
		Unacknowledged: q.Get("unacknowledged") == "true",
		Limit:          100,
	})
	if err != nil {
		s.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	if out == nil {
		out = []*core.MonitorEvent{}
	}
	writeJSON(w, http.StatusOK, out)
}

type detectRequest struct {
	Text string `json:"text"`
}

func (s *Server) detectPII(w http.ResponseWriter, r *http.Request) {
	var req detectRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, http.StatusBadRequest, err)
		return
	}
	d, err := s.engine.Detector()
	if err != nil {
		s.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"matches": d.Detect(req.Text)})
}

// maskRequest masks either one value (text, pii_type, strategy) or the
// records of a source whose contract declares PII.
type maskRequest struct {
	Text     string               `json:"text"`
	PIIType  string               `json:"pii_type"`
	Strategy core.MaskingStrategy `json:"strategy"`

	Source  string           `json:"source"`
	Records []map[string]any `json:"records"`
}

func (s *Server) maskPII(w http.ResponseWriter, r *http.Request) {
	var req maskRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, http.StatusBadRequest, err)
		return
	}

	if req.Source != "" {
		res, err := s.engine.MaskBatch(req.Source, req.Records)
		if err != nil {
			s.fail(w, r, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"records": res.Records, "masked": res.Masked})
		return
	}

	strategy := req.Strategy
	if strategy == "" {
		strategy = core.MaskPartial
	}
	if !strategy.Valid() {
		s.fail(w, r, http.StatusBadRequest, errors.New("unknown masking strategy "+string(strategy)))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"masked": s.engine.Masker().Apply(req.Text, req.PIIType, strategy)})
}
