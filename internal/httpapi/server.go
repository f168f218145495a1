// Package httpapi is a thin net/http façade over internal/storage: it
// JSON-decodes a request body, calls into the store, and JSON-encodes
// whatever comes back or maps a known error kind to a status code. It
// carries no business logic of its own.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"marcidb/internal/codec"
	"marcidb/internal/storage"
)

var errMissingID = errors.New("request body must carry a numeric \"id\"")

// asID converts a decoded JSON number (always float64 via map[string]any)
// into the uint64 id Update expects.
func asID(v any) (uint64, bool) {
	f, ok := v.(float64)
	if !ok {
		return 0, false
	}
	return uint64(f), true
}

// Server wires the five endpoints onto a net/http.ServeMux.
type Server struct {
	engine *storage.Engine
	mux    *http.ServeMux
}

// New builds a Server backed by engine.
func New(engine *storage.Engine) *Server {
	s := &Server{engine: engine, mux: http.NewServeMux()}
	s.mux.HandleFunc("POST /{model}/insert", s.handleInsert)
	s.mux.HandleFunc("GET /{model}/findMany", s.handleFindManyAll)
	s.mux.HandleFunc("POST /{model}/findMany", s.handleFindManySelect)
	s.mux.HandleFunc("POST /{model}/update", s.handleUpdate)
	s.mux.HandleFunc("POST /{model}/delete", s.handleDelete)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleInsert(w http.ResponseWriter, r *http.Request) {
	model := r.PathValue("model")
	var doc map[string]any
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	id, err := s.engine.Insert(model, doc)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id})
}

func (s *Server) handleFindManyAll(w http.ResponseWriter, r *http.Request) {
	model := r.PathValue("model")
	shape, ok := s.engine.Schema.ModelByName(model)
	if !ok {
		writeError(w, http.StatusBadRequest, &storage.UnknownModelError{Name: model})
		return
	}

	rows, err := s.engine.GetAll(model, codec.All(shape))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleFindManySelect(w http.ResponseWriter, r *http.Request) {
	model := r.PathValue("model")
	shape, ok := s.engine.Schema.ModelByName(model)
	if !ok {
		writeError(w, http.StatusBadRequest, &storage.UnknownModelError{Name: model})
		return
	}

	var selDoc map[string]any
	if err := json.NewDecoder(r.Body).Decode(&selDoc); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	sel, err := codec.Parse(shape, s.engine.Schema, selDoc)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	rows, err := s.engine.GetAll(model, sel)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	model := r.PathValue("model")
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	idVal, ok := body["id"]
	if !ok {
		writeError(w, http.StatusBadRequest, errMissingID)
		return
	}
	id, ok := asID(idVal)
	if !ok {
		writeError(w, http.StatusBadRequest, errMissingID)
		return
	}
	delete(body, "id")

	if err := s.engine.Update(model, id, body); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type deleteRequest struct {
	ID uint64 `json:"id"`
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	model := r.PathValue("model")
	var req deleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ok, err := s.engine.Delete(model, req.ID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": ok})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

// statusFor maps a storage/codec error kind to an HTTP status. Unknown
// error kinds are treated as internal failures.
func statusFor(err error) int {
	switch err.(type) {
	case *storage.ForeignKeyViolationError,
		*storage.ItemNotFoundError,
		*storage.UnknownModelError,
		*codec.EncodeError,
		*codec.DecodeError:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
