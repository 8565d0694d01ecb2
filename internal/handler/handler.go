// Package handler exposes the laptop mutations over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-faster/errors"

	"github.com/xenking/laptop-admin/internal/domain/mutation"
)

// Paths of the mutation endpoints.
const (
	UpsertPath = "/api/upsert-laptop"
	DeletePath = "/api/delete-laptop"
)

const defaultMaxBodyBytes = 1 << 20

// Mutator runs the mutation pipelines. *mutation.Service implements it.
type Mutator interface {
	Upsert(ctx context.Context, authorization string, payload any) (*mutation.Result, error)
	Delete(ctx context.Context, authorization string, payload any) (*mutation.Result, error)
}

// HandlerConfig holds non-dependency configuration for the Handler.
type HandlerConfig struct {
	// MaxBodyBytes caps request bodies. Defaults to 1 MiB.
	MaxBodyBytes int64
}

// Handler serves the upsert and delete endpoints.
type Handler struct {
	mutations    Mutator
	maxBodyBytes int64
}

// NewHandler constructs a Handler delegating to mutations.
func NewHandler(cfg HandlerConfig, mutations Mutator) *Handler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	return &Handler{
		mutations:    mutations,
		maxBodyBytes: cfg.MaxBodyBytes,
	}
}

// Register mounts both endpoints on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle(UpsertPath, h.endpoint(h.mutations.Upsert))
	mux.Handle(DeletePath, h.endpoint(h.mutations.Delete))
}

type mutateFunc func(ctx context.Context, authorization string, payload any) (*mutation.Result, error)

// endpoint answers preflight requests, rejects methods other than POST and
// runs fn on the decoded body.
func (h *Handler) endpoint(fn mutateFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodOptions:
			w.WriteHeader(http.StatusNoContent)
			return
		case http.MethodPost:
		default:
			w.Header().Set("Allow", http.MethodPost)
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed", "", 0)
			return
		}

		ctx := r.Context()
		res, err := fn(ctx, r.Header.Get("Authorization"), h.decodeBody(w, r))
		if err != nil {
			writeFailure(ctx, w, err)
			return
		}
		writeResult(w, res)
	}
}

// decodeBody parses the request body as JSON with numbers kept as
// json.Number. A missing, oversized or malformed body decodes to nil, which
// the pipelines reject as an invalid payload or a missing id.
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request) any {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil
	}
	return v
}
