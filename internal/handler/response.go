package handler

import (
	"context"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/laptop-admin/internal/domain/asset"
	"github.com/xenking/laptop-admin/internal/domain/mutation"
)

// writeResult writes {"data": ..., "cloudResults": ...}. cloudResults is
// omitted when no asset removal ran.
func writeResult(w http.ResponseWriter, res *mutation.Result) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("data", func(e *jx.Encoder) {
			if len(res.Data) == 0 {
				e.Null()
				return
			}
			e.Raw(res.Data)
		})
		if res.Assets != nil {
			e.Field("cloudResults", func(e *jx.Encoder) {
				encodeOutcome(e, res.Assets)
			})
		}
	})
	writeJSON(w, http.StatusOK, e.Bytes())
}

func encodeOutcome(e *jx.Encoder, o *asset.Outcome) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("deleted", func(e *jx.Encoder) { encodeStrings(e, o.Deleted) })
		e.Field("notFound", func(e *jx.Encoder) { encodeStrings(e, o.NotFound) })
		e.Field("errors", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, f := range o.Errors {
					e.Obj(func(e *jx.Encoder) {
						e.Field("publicId", func(e *jx.Encoder) { e.Str(f.PublicID) })
						if f.Outcome != "" {
							e.Field("outcome", func(e *jx.Encoder) { e.Str(f.Outcome) })
						}
						if f.Message != "" {
							e.Field("message", func(e *jx.Encoder) { e.Str(f.Message) })
						}
					})
				}
			})
		})
	})
}

func encodeStrings(e *jx.Encoder, values []string) {
	e.Arr(func(e *jx.Encoder) {
		for _, v := range values {
			e.Str(v)
		}
	})
}

// writeFailure maps err to its status and envelope. Errors that are not a
// *mutation.Error are internal; their text never reaches the client.
func writeFailure(ctx context.Context, w http.ResponseWriter, err error) {
	lg := zctx.From(ctx)

	var mErr *mutation.Error
	if !errors.As(err, &mErr) {
		lg.Error("Mutation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, mutation.MsgInternal, "", 0)
		return
	}

	status := mErr.Kind.HTTPStatus()
	switch mErr.Kind {
	case mutation.KindUpstream:
		// Logged with its upstream status by the service.
	case mutation.KindMisconfigured, mutation.KindInternal:
		lg.Error("Mutation failed", zap.Error(err))
	default:
		lg.Info("Request rejected",
			zap.Stringer("kind", mErr.Kind),
			zap.String("reason", mErr.Message),
		)
	}
	writeError(w, status, mErr.Message, mErr.Detail, mErr.UpstreamStatus)
}

// writeError writes {"error": msg, "detail": ..., "status": ...}; detail and
// status are omitted when empty.
func writeError(w http.ResponseWriter, code int, msg, detail string, upstreamStatus int) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("error", func(e *jx.Encoder) { e.Str(msg) })
		if detail != "" {
			e.Field("detail", func(e *jx.Encoder) { e.Str(detail) })
		}
		if upstreamStatus != 0 {
			e.Field("status", func(e *jx.Encoder) { e.Int(upstreamStatus) })
		}
	})
	writeJSON(w, code, e.Bytes())
}

func writeJSON(w http.ResponseWriter, code int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}
