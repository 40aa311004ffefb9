package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/negroni"

	"github.com/schemabind/schemabind/apispec"
	"github.com/schemabind/schemabind/binding"
	"github.com/schemabind/schemabind/registry"
	"github.com/schemabind/schemabind/schemadoc"
	"github.com/schemabind/schemabind/uriindex"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "schemabind_requests_total",
		Help: "HTTP requests handled, by route and status.",
	}, []string{"route", "status"})

	validationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "schemabind_validations_total",
		Help: "Instance validations served, by outcome.",
	}, []string{"outcome"})
)

type server struct {
	reg   *registry.Registry
	title string
}

func newServer(reg *registry.Registry, title string) *server {
	return &server{reg: reg, title: title}
}

func (s *server) router() http.Handler {
	r := mux.NewRouter().StrictSlash(true)
	r.HandleFunc("/schemas", s.listSchemas).Methods("GET")
	r.HandleFunc("/schema", s.getSchema).Methods("GET")
	r.HandleFunc("/resolved", s.getResolved).Methods("GET")
	r.HandleFunc("/descriptor", s.getDescriptor).Methods("GET")
	r.HandleFunc("/validate", s.validate).Methods("POST")
	r.HandleFunc("/openapi.json", s.openapi).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.Use(logMiddleware)
	return r
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := uuid.NewString()
		ww := negroni.NewResponseWriter(w)
		next.ServeHTTP(ww, r)
		requestsTotal.WithLabelValues(r.URL.Path, http.StatusText(ww.Status())).Inc()
		slog.Info("request",
			"id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"dur", time.Since(start))
	})
}

func (s *server) listSchemas(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"schemas": s.reg.IDs()})
}

func (s *server) getSchema(w http.ResponseWriter, r *http.Request) {
	id := schemadoc.ID(r.URL.Query().Get("id"))
	doc, err := s.reg.Raw(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *server) getResolved(w http.ResponseWriter, r *http.Request) {
	id := schemadoc.ID(r.URL.Query().Get("id"))
	doc, err := s.reg.Resolve(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

type fieldResponse struct {
	Key      string `json:"key"`
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Required bool   `json:"required"`
	Ref      string `json:"ref,omitempty"`
}

type descriptorResponse struct {
	ID       string          `json:"id"`
	TypeName string          `json:"typeName"`
	Doc      string          `json:"doc,omitempty"`
	Fields   []fieldResponse `json:"fields"`
}

func (s *server) getDescriptor(w http.ResponseWriter, r *http.Request) {
	id := schemadoc.ID(r.URL.Query().Get("id"))
	desc, err := s.reg.CreateClass(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := descriptorResponse{
		ID:       string(desc.ID),
		TypeName: desc.TypeName,
		Doc:      desc.Doc,
	}
	for _, f := range desc.Fields {
		fr := fieldResponse{Key: f.Key, Name: f.Name, Kind: f.Kind.String(), Required: f.Required}
		if f.Ref != nil {
			fr.Ref = string(f.Ref.ID)
		} else if f.LazyID != "" {
			fr.Ref = string(f.LazyID)
		}
		resp.Fields = append(resp.Fields, fr)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) validate(w http.ResponseWriter, r *http.Request) {
	id := schemadoc.ID(r.URL.Query().Get("id"))
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	var instance any
	if err := json.Unmarshal(body, &instance); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	errs, err := s.reg.Validate(r.Context(), instance, id)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(errs) == 0 {
		validationsTotal.WithLabelValues("valid").Inc()
		writeJSON(w, http.StatusOK, map[string]any{"valid": true, "errors": []any{}})
		return
	}
	validationsTotal.WithLabelValues("invalid").Inc()
	writeJSON(w, http.StatusOK, map[string]any{"valid": false, "errors": errs})
}

func (s *server) openapi(w http.ResponseWriter, r *http.Request) {
	doc, err := apispec.Export(r.Context(), s.reg, s.title, "0.0.0")
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch err.(type) {
	case *uriindex.UnknownSchemaError:
		status = http.StatusNotFound
	case *uriindex.InvalidURIError, *binding.NamingCollisionError:
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]any{"error": err.Error()})
}
