// Package mutation runs the privileged laptop writes: identity check, admin
// check, optional asset cleanup and the record table write.
package mutation

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/laptop-admin/internal/domain/asset"
	"github.com/xenking/laptop-admin/internal/domain/auth"
	"github.com/xenking/laptop-admin/internal/domain/catalog"
)

// Deps are the collaborators of a Service. Verifier, Admins and Store are
// nil when the external services are not configured; every call then fails
// with KindMisconfigured.
type Deps struct {
	Verifier   auth.Verifier
	Admins     auth.AdminDirectory
	Store      catalog.Store
	Assets     *asset.Manager
	Normalizer *catalog.Normalizer
	Tracer     trace.Tracer
}

// Result is the outcome of a successful mutation.
type Result struct {
	// Data is the row written (Upsert) or the deleted rows (Delete).
	Data json.RawMessage
	// Assets is set when asset removal ran. Delete always sets it.
	Assets *asset.Outcome
}

// Service sequences the mutation pipelines. Each request runs on its own;
// the Service holds no per-request state.
type Service struct {
	verifier   auth.Verifier
	admins     auth.AdminDirectory
	store      catalog.Store
	assets     *asset.Manager
	normalizer *catalog.Normalizer
	tracer     trace.Tracer
}

// NewService creates a Service from its dependencies.
func NewService(d Deps) *Service {
	s := &Service{
		verifier:   d.Verifier,
		admins:     d.Admins,
		store:      d.Store,
		assets:     d.Assets,
		normalizer: d.Normalizer,
		tracer:     d.Tracer,
	}
	if s.normalizer == nil {
		s.normalizer = catalog.NewNormalizer(nil, catalog.UnknownDrop)
	}
	if s.tracer == nil {
		s.tracer = noop.NewTracerProvider().Tracer("mutation")
	}
	if s.assets == nil {
		s.assets, _ = asset.NewManager(nil, 1, nil)
	}
	return s
}

// Upsert verifies the caller, normalizes payload, removes the assets listed
// in removed_public_ids and writes the record, returning the stored row.
// Asset removal never fails the request.
func (s *Service) Upsert(ctx context.Context, authorization string, payload any) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "laptop.Upsert")
	defer span.End()

	res, err := s.upsert(ctx, authorization, payload)
	return res, s.finish(ctx, span, err)
}

func (s *Service) upsert(ctx context.Context, authorization string, payload any) (*Result, error) {
	if err := s.authorize(ctx, authorization); err != nil {
		return nil, err
	}

	raw, ok := payload.(map[string]any)
	if !ok || raw == nil {
		return nil, &Error{Kind: KindBadRequest, Message: MsgInvalidPayload}
	}

	norm, err := s.normalizer.Normalize(raw)
	if err != nil {
		var ufErr *catalog.UnknownFieldsError
		if errors.As(err, &ufErr) {
			return nil, &Error{
				Kind:    KindBadRequest,
				Message: MsgUnknownFields,
				Detail:  strings.Join(ufErr.Fields, ", "),
				Err:     err,
			}
		}
		return nil, errors.Wrap(err, "normalize")
	}

	lg := zctx.From(ctx).With(zap.String("laptop_id", norm.Record.ID()))
	if len(norm.Quarantined) > 0 {
		lg.Warn("Dropped unknown fields", zap.Strings("fields", norm.Quarantined))
	}

	res := &Result{}
	if len(norm.RemovedPublicIDs) > 0 {
		res.Assets = s.removeAssets(ctx, norm.RemovedPublicIDs)
	}

	data, err := s.writeStage(ctx, "laptop.store.Upsert", func(ctx context.Context) (json.RawMessage, error) {
		return s.store.Upsert(ctx, norm.Record)
	})
	if err != nil {
		return nil, upstreamError(MsgUpsertFailed, err)
	}
	res.Data = data

	lg.Info("Laptop upserted")
	return res, nil
}

// Delete verifies the caller, removes the laptop's assets and then the row.
// Assets are removed before the row delete is confirmed; a failed row
// delete does not restore them.
func (s *Service) Delete(ctx context.Context, authorization string, payload any) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "laptop.Delete")
	defer span.End()

	res, err := s.delete(ctx, authorization, payload)
	return res, s.finish(ctx, span, err)
}

func (s *Service) delete(ctx context.Context, authorization string, payload any) (*Result, error) {
	if err := s.authorize(ctx, authorization); err != nil {
		return nil, err
	}

	id, err := deleteID(payload)
	if err != nil {
		return nil, err
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int64("laptop.id", id))

	refs, err := s.assetRefs(ctx, id)
	if err != nil {
		return nil, upstreamError(MsgFetchFailed, err)
	}

	res := &Result{}
	if refs != nil {
		res.Assets = s.removeAssets(ctx, refs.IDs())
	}
	if res.Assets == nil {
		res.Assets = &asset.Outcome{Deleted: []string{}, NotFound: []string{}, Errors: []asset.Failure{}}
	}

	data, err := s.writeStage(ctx, "laptop.store.Delete", func(ctx context.Context) (json.RawMessage, error) {
		return s.store.Delete(ctx, id)
	})
	if err != nil {
		return nil, upstreamError(MsgDeleteFailed, err)
	}
	res.Data = data

	zctx.From(ctx).Info("Laptop deleted",
		zap.Int64("laptop_id", id),
		zap.Int("assets_deleted", len(res.Assets.Deleted)),
		zap.Int("asset_errors", len(res.Assets.Errors)),
	)
	return res, nil
}

// authorize runs identity verification and the admin check.
func (s *Service) authorize(ctx context.Context, authorization string) error {
	if s.verifier == nil || s.admins == nil || s.store == nil {
		return &Error{Kind: KindMisconfigured, Message: MsgMisconfigured}
	}

	token := auth.BearerToken(authorization)
	if token == "" {
		return &Error{Kind: KindUnauthenticated, Message: MsgMissingToken}
	}

	ctx, span := s.tracer.Start(ctx, "laptop.auth.Verify")
	principal, err := s.verifier.Verify(ctx, token)
	span.End()
	switch {
	case errors.Is(err, auth.ErrInvalidToken):
		return &Error{Kind: KindUnauthenticated, Message: MsgInvalidToken, Err: err}
	case errors.Is(err, auth.ErrNoPrincipal):
		return &Error{Kind: KindUnauthenticated, Message: MsgUnverified, Err: err}
	case err != nil:
		return errors.Wrap(err, "verify token")
	case principal.ID == "":
		return &Error{Kind: KindUnauthenticated, Message: MsgUnverified}
	}

	ctx, span = s.tracer.Start(ctx, "laptop.auth.IsAdmin")
	isAdmin, err := s.admins.IsAdmin(ctx, principal.ID)
	span.End()
	if err != nil {
		return upstreamError(MsgAdminCheck, err)
	}
	if !isAdmin {
		return &Error{Kind: KindForbidden, Message: MsgNotAdmin}
	}
	return nil
}

func (s *Service) assetRefs(ctx context.Context, id int64) (*catalog.AssetRefs, error) {
	ctx, span := s.tracer.Start(ctx, "laptop.store.AssetRefs")
	defer span.End()
	return s.store.AssetRefs(ctx, id)
}

func (s *Service) removeAssets(ctx context.Context, ids []string) *asset.Outcome {
	ctx, span := s.tracer.Start(ctx, "laptop.assets.DeleteAll",
		trace.WithAttributes(attribute.Int("asset.count", len(ids))),
	)
	defer span.End()
	return s.assets.DeleteAll(ctx, ids)
}

func (s *Service) writeStage(
	ctx context.Context,
	name string,
	fn func(ctx context.Context) (json.RawMessage, error),
) (json.RawMessage, error) {
	ctx, span := s.tracer.Start(ctx, name)
	defer span.End()
	return fn(ctx)
}

// finish records the failure on span and logs upstream failures, which are
// the only ones that carry details worth keeping server side.
func (s *Service) finish(ctx context.Context, span trace.Span, err error) error {
	if err == nil {
		return nil
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	var mErr *Error
	if errors.As(err, &mErr) && mErr.Kind == KindUpstream {
		zctx.From(ctx).Error(mErr.Message,
			zap.Int("upstream_status", mErr.UpstreamStatus),
			zap.Error(mErr.Err),
		)
	}
	return err
}

// upstreamError classifies a failed external table call. Details are
// forwarded only when the service answered with a status.
func upstreamError(msg string, err error) *Error {
	e := &Error{Kind: KindUpstream, Message: msg, Err: err}
	var upErr *catalog.UpstreamError
	if errors.As(err, &upErr) {
		e.UpstreamStatus = upErr.Status
		e.Detail = upErr.Detail
	}
	return e
}

// deleteID reads the laptop id from a delete request body. The first
// non-null of id, laptopId and laptop_id wins.
func deleteID(payload any) (int64, error) {
	body, _ := payload.(map[string]any)
	var v any
	for _, key := range []string{"id", "laptopId", "laptop_id"} {
		if body[key] != nil {
			v = body[key]
			break
		}
	}
	if v == nil {
		return 0, &Error{Kind: KindBadRequest, Message: MsgMissingID}
	}

	invalid := &Error{Kind: KindBadRequest, Message: MsgInvalidID}
	switch t := v.(type) {
	case json.Number:
		if id, err := t.Int64(); err == nil {
			return id, nil
		}
		f, err := t.Float64()
		if err != nil || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
			return 0, invalid
		}
		return int64(f), nil
	case string:
		id, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0, invalid
		}
		return id, nil
	case float64:
		if t != math.Trunc(t) || math.Abs(t) > 1<<53 {
			return 0, invalid
		}
		return int64(t), nil
	default:
		return 0, invalid
	}
}
