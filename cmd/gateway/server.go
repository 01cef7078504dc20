package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/dreamware/cbfront/internal/api"
	"github.com/dreamware/cbfront/internal/cluster"
	"github.com/dreamware/cbfront/internal/facade"
	"github.com/dreamware/cbfront/internal/future"
	"github.com/dreamware/cbfront/internal/registry"
)

// maxBodyBytes bounds a document or request body.
const maxBodyBytes = 20 << 20

type server struct {
	facade         *facade.Facade
	monitor        *registry.HealthMonitor
	log            *zap.Logger
	metrics        http.Handler
	metricsPath    string
	requestTimeout time.Duration
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET "+s.metricsPath, s.metrics)
	}

	mux.HandleFunc("GET /buckets", s.handleListBuckets)
	mux.HandleFunc("DELETE /buckets/{bucket}", s.handleDisconnect)
	mux.HandleFunc("GET /buckets/{bucket}/manager", s.handleManager)
	mux.HandleFunc("POST /buckets/{bucket}/flush", s.handleFlush)
	mux.HandleFunc("POST /buckets/{bucket}/multi", s.handleMulti)
	mux.HandleFunc("POST /buckets/{bucket}/query", s.handleQuery)

	// Document endpoints
	mux.HandleFunc("GET /buckets/{bucket}/docs/{key...}", s.handleGet)
	mux.HandleFunc("PUT /buckets/{bucket}/docs/{key...}", s.handleWrite(s.facade.UpsertDoc, http.StatusOK))
	mux.HandleFunc("POST /buckets/{bucket}/docs/{key...}", s.handleWrite(s.facade.InsertDoc, http.StatusCreated))
	mux.HandleFunc("PATCH /buckets/{bucket}/docs/{key...}", s.handleWrite(s.facade.ReplaceDoc, http.StatusOK))
	mux.HandleFunc("DELETE /buckets/{bucket}/docs/{key...}", s.handleRemove)

	return withRequestLog(s.log, mux)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := api.NewErrorBody(err)
	if errors.Is(err, context.DeadlineExceeded) && body.Code == "operation_failed" {
		body.Code = api.CodeTimeout
	}
	status := api.Status(body.Code)
	if status >= http.StatusInternalServerError {
		s.log.Warn("request failed",
			zap.String("request_id", w.Header().Get(api.RequestIDHeader)),
			zap.String("path", r.URL.Path),
			zap.String("code", body.Code),
			zap.Error(err))
	}
	writeJSON(w, status, body)
}

func (s *server) badRequest(w http.ResponseWriter, format string, args ...any) {
	writeJSON(w, http.StatusBadRequest, api.BadRequest(format, args...))
}

// await waits for fut within the request timeout. A request abandoned by
// the client or by the timeout leaves the operation running.
func await[T any](s *server, r *http.Request, fut *future.Future[T]) (T, error) {
	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
	defer cancel()
	v, err := fut.Await(ctx)
	if err != nil && ctx.Err() != nil && !errors.As(err, new(*cluster.OperationError)) {
		return v, &api.RemoteError{Body: api.ErrorBody{Error: "timed out waiting for the operation", Code: api.CodeTimeout}}
	}
	return v, err
}

func respond[T any](s *server, w http.ResponseWriter, r *http.Request, status int, fut *future.Future[T], err error) {
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	v, err := await(s, r, fut)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, status, v)
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	names := s.facade.Buckets()
	resp := api.HealthResponse{Status: "ok", Buckets: make(map[string]string, len(names))}
	for _, name := range names {
		status := registry.StatusUnknown
		if s.monitor != nil {
			if h := s.monitor.BucketHealth(name); h != nil {
				status = h.Status
			}
		}
		resp.Buckets[name] = status
	}

	code := http.StatusOK
	if len(names) == 0 {
		resp.Status = "no buckets"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (s *server) handleListBuckets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.BucketsResponse{Buckets: s.facade.Buckets()})
}

// docKey returns the document key of the request, answering 400 when it is
// empty.
func (s *server) docKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := r.PathValue("key")
	if key == "" {
		s.badRequest(w, "document key required")
		return "", false
	}
	return key, true
}

func (s *server) handleGet(w http.ResponseWriter, r *http.Request) {
	key, ok := s.docKey(w, r)
	if !ok {
		return
	}
	fut, err := s.facade.GetDoc(r.Context(), r.PathValue("bucket"), key)
	respond(s, w, r, http.StatusOK, fut, err)
}

type writeCall func(ctx context.Context, bucket, key string, value any) (*future.Future[cluster.Result], error)

func (s *server) handleWrite(call writeCall, status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, ok := s.docKey(w, r)
		if !ok {
			return
		}
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			s.badRequest(w, "read body: %v", err)
			return
		}
		if !json.Valid(body) {
			s.badRequest(w, "document body must be valid JSON")
			return
		}
		fut, err := call(r.Context(), r.PathValue("bucket"), key, json.RawMessage(body))
		respond(s, w, r, status, fut, err)
	}
}

func (s *server) handleRemove(w http.ResponseWriter, r *http.Request) {
	key, ok := s.docKey(w, r)
	if !ok {
		return
	}
	fut, err := s.facade.RemoveDoc(r.Context(), r.PathValue("bucket"), key)
	respond(s, w, r, http.StatusOK, fut, err)
}

func (s *server) handleMulti(w http.ResponseWriter, r *http.Request) {
	var req api.MultiRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.badRequest(w, "bad json: %v", err)
		return
	}

	fut, err := s.facade.GetMultiDocs(r.Context(), r.PathValue("bucket"), req.Keys)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := await(s, r, fut)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.MultiResponse{Found: res.Found(), Missing: sortedMissing(res)})
}

func sortedMissing(res cluster.MultiResult) []string {
	missing := res.Missing()
	if missing == nil {
		return []string{}
	}
	slices.Sort(missing)
	return missing
}

func (s *server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req api.QueryRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.badRequest(w, "bad json: %v", err)
		return
	}

	fut, err := s.facade.Query(r.Context(), r.PathValue("bucket"), req.Statement)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rows, err := await(s, r, fut)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if rows == nil {
		rows = []cluster.Row{}
	}
	writeJSON(w, http.StatusOK, api.QueryResponse{Rows: rows})
}

func (s *server) handleManager(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("bucket")
	mgr, err := s.facade.GetBucketManager(name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
	defer cancel()
	info, err := mgr.Info(ctx)
	if err != nil {
		s.writeError(w, r, cluster.NewOperationError(name, "info", err))
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *server) handleFlush(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("bucket")
	mgr, err := s.facade.GetBucketManager(name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
	defer cancel()
	if err := mgr.Flush(ctx); err != nil {
		s.writeError(w, r, cluster.NewOperationError(name, "flush", err))
		return
	}
	s.log.Info("bucket flushed", zap.String("bucket", name))
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("bucket")
	if err := s.facade.DisconnectBucket(r.Context(), name); err != nil {
		if cluster.IsUnknownBucket(err) {
			s.writeError(w, r, err)
			return
		}
		// The bucket is unregistered even when closing its handle failed
		s.log.Warn("bucket close failed", zap.String("bucket", name), zap.Error(err))
	}
	w.WriteHeader(http.StatusNoContent)
}
