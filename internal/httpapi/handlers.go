package httpapi

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/sharelane/dataplane/internal/apierr"
	"github.com/sharelane/dataplane/internal/metrics"
	"github.com/sharelane/dataplane/internal/query"
)

const ndjsonContentType = "application/x-ndjson"

// Server holds everything an HTTP handler needs: the query pipeline, a
// logger, metrics, and a validator for inbound bodies. One Server is
// built in cmd/sharedata-server/main.go and handed to the router.
type Server struct {
	pipeline *query.Pipeline
	log      *zap.Logger
	metrics  *metrics.Metrics
	validate *validator.Validate
}

// NewServer builds a Server. log may be nil (defaults to a no-op logger).
func NewServer(pipeline *query.Pipeline, m *metrics.Metrics, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{pipeline: pipeline, log: log, metrics: m, validate: validator.New()}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

func (s *Server) handleListShares(w http.ResponseWriter, r *http.Request) {
	item, err := s.pipeline.ListShares(r.Context(), r.Header.Get("Authorization"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sharesResponse{Items: []shareItem{{Name: item.Name}}})
}

func (s *Server) handleListSchemas(w http.ResponseWriter, r *http.Request) {
	share := chi.URLParam(r, "share")
	item, err := s.pipeline.ListSchemas(r.Context(), r.Header.Get("Authorization"), share)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, schemasResponse{Items: []schemaItem{{Name: item.Name, Share: item.Share}}})
}

func (s *Server) handleListTables(w http.ResponseWriter, r *http.Request) {
	share := chi.URLParam(r, "share")
	schema := chi.URLParam(r, "schema")
	item, err := s.pipeline.ListTables(r.Context(), r.Header.Get("Authorization"), share, schema)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tablesResponse{Items: []tableItem{{Name: item.Name, Share: item.Share, Schema: item.Schema}}})
}

func (s *Server) handleGetTableMetadata(w http.ResponseWriter, r *http.Request) {
	share := chi.URLParam(r, "share")
	schema := chi.URLParam(r, "schema")
	table := chi.URLParam(r, "table")

	result, err := s.pipeline.Metadata(r.Context(), r.Header.Get("Authorization"), share, schema, table)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("delta-table-version", itoa64(result.TableVersion))
	w.Header().Set("Content-Type", ndjsonContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(result.Body))
}

func (s *Server) handleGetTableVersion(w http.ResponseWriter, r *http.Request) {
	share := chi.URLParam(r, "share")
	schema := chi.URLParam(r, "schema")
	table := chi.URLParam(r, "table")

	version, err := s.pipeline.Version(r.Context(), r.Header.Get("Authorization"), share, schema, table)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("delta-table-version", itoa64(version))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleQueryTable(w http.ResponseWriter, r *http.Request) {
	share := chi.URLParam(r, "share")
	schema := chi.URLParam(r, "schema")
	table := chi.URLParam(r, "table")

	var body queryBody
	if r.ContentLength != 0 && r.Header.Get("Content-Type") == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			s.fail(w, r, apierr.New(apierr.CodeBadPredicate, "malformed request body"))
			return
		}
		if err := s.validate.Struct(body); err != nil {
			s.fail(w, r, apierr.Wrap(apierr.CodeBadPredicate, "invalid request body", err))
			return
		}
	}

	start := time.Now()
	result, err := s.pipeline.Query(r.Context(), query.Request{
		Authorization:      r.Header.Get("Authorization"),
		ShareName:          share,
		SchemaName:         schema,
		TableName:          table,
		ClientIP:           clientIP(r),
		RequestedColumns:   body.Columns,
		RequestedLimit:     body.requestedLimit(),
		PredicateHints:     body.PredicateHints,
		JSONPredicateHints: body.JSONPredicateHints,
	})
	if err != nil {
		s.recordOutcome("error", start, err)
		s.fail(w, r, err)
		return
	}
	s.recordOutcome("success", start, nil)

	w.Header().Set("delta-table-version", itoa64(result.TableVersion))
	w.Header().Set("Content-Type", ndjsonContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(result.Body))
}

func (s *Server) handlePrepareShare(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, prepareResponse{
		Status:  "success",
		Message: "Watermarking is applied at query time",
	})
}

func (s *Server) recordOutcome(outcome string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveOutcome(outcome, time.Since(start).Seconds())
	s.metrics.RecordRejection(err)
}

// fail maps err to the wire error envelope, logging the failure with its
// code but never the Authorization header or any row data.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := apierr.StatusFor(err)
	code := ""
	detail := err.Error()
	if apiErr, ok := apierr.As(err); ok {
		code = string(apiErr.Code)
		detail = apiErr.Message
	}
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.String("path", r.URL.Path), zap.String("code", code), zap.Error(err))
	} else {
		s.log.Warn("request rejected", zap.String("path", r.URL.Path), zap.String("code", code))
	}
	writeError(w, status, detail)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorBody{Detail: detail})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func itoa64(v int64) string {
	return strconv.FormatInt(v, 10)
}
