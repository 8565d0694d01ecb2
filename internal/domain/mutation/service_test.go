package mutation

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/laptop-admin/internal/domain/asset"
	"github.com/xenking/laptop-admin/internal/domain/auth"
	"github.com/xenking/laptop-admin/internal/domain/catalog"
)

type mockVerifier struct {
	principal auth.Principal
	err       error
	tokens    []string
}

func (m *mockVerifier) Verify(_ context.Context, token string) (auth.Principal, error) {
	m.tokens = append(m.tokens, token)
	return m.principal, m.err
}

type mockAdmins struct {
	admins map[string]bool
	err    error
}

func (m *mockAdmins) IsAdmin(_ context.Context, id string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	return m.admins[id], nil
}

type mockStore struct {
	log []string

	upserted  catalog.Record
	upsertErr error

	refs    *catalog.AssetRefs
	refsErr error

	deletedID int64
	deleteErr error
}

func (m *mockStore) Upsert(_ context.Context, rec catalog.Record) (json.RawMessage, error) {
	m.log = append(m.log, "store.upsert")
	if m.upsertErr != nil {
		return nil, m.upsertErr
	}
	m.upserted = rec
	return json.Marshal(rec)
}

func (m *mockStore) AssetRefs(_ context.Context, _ int64) (*catalog.AssetRefs, error) {
	m.log = append(m.log, "store.refs")
	return m.refs, m.refsErr
}

func (m *mockStore) Delete(_ context.Context, id int64) (json.RawMessage, error) {
	m.log = append(m.log, "store.delete")
	if m.deleteErr != nil {
		return nil, m.deleteErr
	}
	m.deletedID = id
	return json.RawMessage(`[{"id":` + strconv.FormatInt(id, 10) + `}]`), nil
}

type mockDestroyer struct {
	store    *mockStore
	outcomes map[string]string
	calls    []string
}

func (m *mockDestroyer) Destroy(_ context.Context, id string) (string, error) {
	m.calls = append(m.calls, id)
	if m.store != nil {
		m.store.log = append(m.store.log, "asset.destroy:"+id)
	}
	if o, ok := m.outcomes[id]; ok {
		return o, nil
	}
	return asset.ResultOK, nil
}

type fixture struct {
	verifier  *mockVerifier
	admins    *mockAdmins
	store     *mockStore
	destroyer *mockDestroyer
}

func newFixture() *fixture {
	store := &mockStore{}
	return &fixture{
		verifier:  &mockVerifier{principal: auth.Principal{ID: "user-1"}},
		admins:    &mockAdmins{admins: map[string]bool{"user-1": true}},
		store:     store,
		destroyer: &mockDestroyer{store: store},
	}
}

func (f *fixture) service(t *testing.T) *Service {
	t.Helper()
	var d asset.Destroyer
	if f.destroyer != nil {
		d = f.destroyer
	}
	m, err := asset.NewManager(d, 1, nil)
	require.NoError(t, err)
	return NewService(Deps{
		Verifier:   f.verifier,
		Admins:     f.admins,
		Store:      f.store,
		Assets:     m,
		Normalizer: catalog.NewNormalizer(catalog.IDGeneratorFunc(func() int64 { return 42 }), catalog.UnknownDrop),
	})
}

func body(t *testing.T, s string) any {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	require.NoError(t, dec.Decode(&v))
	return v
}

func requireKind(t *testing.T, err error, kind Kind, msg string) *Error {
	t.Helper()
	var mErr *Error
	require.ErrorAs(t, err, &mErr)
	assert.Equal(t, kind, mErr.Kind)
	assert.Equal(t, msg, mErr.Message)
	return mErr
}

func TestUpsert_Success(t *testing.T) {
	f := newFixture()
	s := f.service(t)

	res, err := s.Upsert(context.Background(), "Bearer tok-1", body(t, `{"name":"Dell XPS 13","price":15000000,"ram":"16GB"}`))
	require.NoError(t, err)

	assert.Equal(t, []string{"tok-1"}, f.verifier.tokens)
	assert.Nil(t, res.Assets)
	assert.JSONEq(t, `{"id":42,"name":"Dell XPS 13","slug":"dell-xps-13","price":15000000,"ram":"16GB"}`, string(res.Data))
}

func TestUpsert_RemovesAssetsBeforeWrite(t *testing.T) {
	f := newFixture()
	f.destroyer.outcomes = map[string]string{"old/img2": asset.ResultNotFound}
	s := f.service(t)

	res, err := s.Upsert(context.Background(), "Bearer tok",
		body(t, `{"id":7,"name":"x","removed_public_ids":["old/img1","old/img2"]}`))
	require.NoError(t, err)

	require.NotNil(t, res.Assets)
	assert.Equal(t, []string{"old/img1"}, res.Assets.Deleted)
	assert.Equal(t, []string{"old/img2"}, res.Assets.NotFound)
	assert.Equal(t, []string{"asset.destroy:old/img1", "asset.destroy:old/img2", "store.upsert"}, f.store.log)
	assert.NotContains(t, f.store.upserted, catalog.RemovedPublicIDsKey)
}

func TestUpsert_AssetsDisabled(t *testing.T) {
	f := newFixture()
	f.destroyer = nil
	s := f.service(t)

	res, err := s.Upsert(context.Background(), "Bearer tok",
		body(t, `{"id":7,"removed_public_ids":["old/img1"]}`))
	require.NoError(t, err)
	assert.Nil(t, res.Assets)
	assert.Equal(t, []string{"store.upsert"}, f.store.log)
}

func TestUpsert_Misconfigured(t *testing.T) {
	s := NewService(Deps{})

	// Configuration is checked before the token.
	_, err := s.Upsert(context.Background(), "", body(t, `{"name":"x"}`))
	mErr := requireKind(t, err, KindMisconfigured, MsgMisconfigured)
	assert.Equal(t, 500, mErr.Kind.HTTPStatus())
}

func TestUpsert_AuthFailures(t *testing.T) {
	tests := []struct {
		name   string
		header string
		setup  func(f *fixture)
		kind   Kind
		msg    string
		status int
	}{
		{
			name:   "missing header",
			header: "",
			kind:   KindUnauthenticated, msg: MsgMissingToken, status: 401,
		},
		{
			name:   "bare prefix",
			header: "Bearer   ",
			kind:   KindUnauthenticated, msg: MsgMissingToken, status: 401,
		},
		{
			name:   "rejected token",
			header: "Bearer bad",
			setup:  func(f *fixture) { f.verifier.err = errors.Wrap(auth.ErrInvalidToken, "status 401") },
			kind:   KindUnauthenticated, msg: MsgInvalidToken, status: 401,
		},
		{
			name:   "no principal",
			header: "Bearer tok",
			setup:  func(f *fixture) { f.verifier.err = auth.ErrNoPrincipal },
			kind:   KindUnauthenticated, msg: MsgUnverified, status: 401,
		},
		{
			name:   "not admin",
			header: "Bearer tok",
			setup:  func(f *fixture) { f.admins.admins = nil },
			kind:   KindForbidden, msg: MsgNotAdmin, status: 403,
		},
		{
			name:   "admin check failed",
			header: "Bearer tok",
			setup: func(f *fixture) {
				f.admins.err = &catalog.UpstreamError{Op: "admins", Status: 503, Detail: "down"}
			},
			kind: KindUpstream, msg: MsgAdminCheck, status: 500,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			if tt.setup != nil {
				tt.setup(f)
			}
			_, err := f.service(t).Upsert(context.Background(), tt.header, body(t, `{"name":"x"}`))
			mErr := requireKind(t, err, tt.kind, tt.msg)
			assert.Equal(t, tt.status, mErr.Kind.HTTPStatus())
			assert.Empty(t, f.store.log, "no write may happen")
		})
	}
}

func TestUpsert_VerifierTransportError(t *testing.T) {
	f := newFixture()
	f.verifier.err = errors.New("dial tcp: connection refused")

	_, err := f.service(t).Upsert(context.Background(), "Bearer tok", body(t, `{"name":"x"}`))
	require.Error(t, err)
	var mErr *Error
	assert.False(t, errors.As(err, &mErr))
	assert.Empty(t, f.store.log)
}

func TestUpsert_AdminCheckDetail(t *testing.T) {
	f := newFixture()
	f.admins.err = &catalog.UpstreamError{Op: "admins", Status: 503, Detail: `{"message":"down"}`}

	_, err := f.service(t).Upsert(context.Background(), "Bearer tok", body(t, `{"name":"x"}`))
	mErr := requireKind(t, err, KindUpstream, MsgAdminCheck)
	assert.Equal(t, 503, mErr.UpstreamStatus)
	assert.Equal(t, `{"message":"down"}`, mErr.Detail)
}

func TestUpsert_InvalidPayload(t *testing.T) {
	for _, payload := range []string{`null`, `"text"`, `[1,2]`, `12`} {
		t.Run(payload, func(t *testing.T) {
			f := newFixture()
			_, err := f.service(t).Upsert(context.Background(), "Bearer tok", body(t, payload))
			requireKind(t, err, KindBadRequest, MsgInvalidPayload)
			assert.Empty(t, f.store.log)
		})
	}
}

func TestUpsert_UnknownFieldsRejected(t *testing.T) {
	f := newFixture()
	s := f.service(t)
	s.normalizer = catalog.NewNormalizer(nil, catalog.UnknownReject)

	_, err := s.Upsert(context.Background(), "Bearer tok", body(t, `{"name":"x","color":"red","Brand":"Dell"}`))
	mErr := requireKind(t, err, KindBadRequest, MsgUnknownFields)
	assert.Equal(t, "Brand, color", mErr.Detail)
	assert.Empty(t, f.store.log)
}

func TestUpsert_StoreFailure(t *testing.T) {
	f := newFixture()
	f.store.upsertErr = &catalog.UpstreamError{Op: "upsert", Status: 409, Detail: "duplicate slug"}

	_, err := f.service(t).Upsert(context.Background(), "Bearer tok", body(t, `{"name":"x"}`))
	mErr := requireKind(t, err, KindUpstream, MsgUpsertFailed)
	assert.Equal(t, 409, mErr.UpstreamStatus)
	assert.Equal(t, "duplicate slug", mErr.Detail)
	assert.Equal(t, 500, mErr.Kind.HTTPStatus())
}

func TestDelete_Success(t *testing.T) {
	f := newFixture()
	f.store.refs = &catalog.AssetRefs{ImagePublicID: "a", GalleryPublicIDs: []string{"b", "c"}}
	f.destroyer.outcomes = map[string]string{"c": asset.ResultNotFound}

	res, err := f.service(t).Delete(context.Background(), "Bearer tok", body(t, `{"id":7}`))
	require.NoError(t, err)

	assert.Equal(t, int64(7), f.store.deletedID)
	assert.JSONEq(t, `[{"id":7}]`, string(res.Data))
	require.NotNil(t, res.Assets)
	assert.Equal(t, []string{"a", "b"}, res.Assets.Deleted)
	assert.Equal(t, []string{"c"}, res.Assets.NotFound)
	assert.Empty(t, res.Assets.Errors)
	assert.Equal(t, []string{
		"store.refs",
		"asset.destroy:a", "asset.destroy:b", "asset.destroy:c",
		"store.delete",
	}, f.store.log)
}

func TestDelete_MissingRow(t *testing.T) {
	f := newFixture()

	res, err := f.service(t).Delete(context.Background(), "Bearer tok", body(t, `{"id":7}`))
	require.NoError(t, err)

	assert.Empty(t, f.destroyer.calls)
	require.NotNil(t, res.Assets)
	assert.Empty(t, res.Assets.Deleted)
	assert.Equal(t, []string{"store.refs", "store.delete"}, f.store.log)
}

func TestDelete_AssetsDisabled(t *testing.T) {
	f := newFixture()
	f.destroyer = nil
	f.store.refs = &catalog.AssetRefs{ImagePublicID: "a"}

	res, err := f.service(t).Delete(context.Background(), "Bearer tok", body(t, `{"id":7}`))
	require.NoError(t, err)
	require.NotNil(t, res.Assets)
	assert.Empty(t, res.Assets.Deleted)
	assert.Empty(t, res.Assets.Errors)
}

func TestDelete_IDSources(t *testing.T) {
	tests := []struct {
		payload string
		want    int64
	}{
		{`{"id":7}`, 7},
		{`{"id":"8"}`, 8},
		{`{"laptopId":9}`, 9},
		{`{"laptop_id":"10"}`, 10},
		{`{"id":null,"laptopId":11}`, 11},
		{`{"id":12,"laptopId":99}`, 12},
		{`{"id":1.7e3}`, 1700},
	}
	for _, tt := range tests {
		t.Run(tt.payload, func(t *testing.T) {
			f := newFixture()
			_, err := f.service(t).Delete(context.Background(), "Bearer tok", body(t, tt.payload))
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.store.deletedID)
		})
	}
}

func TestDelete_BadID(t *testing.T) {
	tests := []struct {
		payload string
		msg     string
	}{
		{`{}`, MsgMissingID},
		{`{"id":null}`, MsgMissingID},
		{`null`, MsgMissingID},
		{`{"id":"abc"}`, MsgInvalidID},
		{`{"id":1.5}`, MsgInvalidID},
		{`{"id":true}`, MsgInvalidID},
		{`{"id":[1]}`, MsgInvalidID},
	}
	for _, tt := range tests {
		t.Run(tt.payload, func(t *testing.T) {
			f := newFixture()
			_, err := f.service(t).Delete(context.Background(), "Bearer tok", body(t, tt.payload))
			mErr := requireKind(t, err, KindBadRequest, tt.msg)
			assert.Equal(t, 400, mErr.Kind.HTTPStatus())
			assert.Empty(t, f.store.log)
		})
	}
}

func TestDelete_FetchFailure(t *testing.T) {
	f := newFixture()
	f.store.refsErr = &catalog.UpstreamError{Op: "fetch", Status: 500, Detail: "boom"}

	_, err := f.service(t).Delete(context.Background(), "Bearer tok", body(t, `{"id":7}`))
	mErr := requireKind(t, err, KindUpstream, MsgFetchFailed)
	assert.Equal(t, "boom", mErr.Detail)
	assert.Equal(t, []string{"store.refs"}, f.store.log)
}

func TestDelete_RowFailureAfterAssets(t *testing.T) {
	f := newFixture()
	f.store.refs = &catalog.AssetRefs{ImagePublicID: "a"}
	f.store.deleteErr = &catalog.UpstreamError{Op: "delete", Status: 500, Detail: "boom"}

	_, err := f.service(t).Delete(context.Background(), "Bearer tok", body(t, `{"id":7}`))
	requireKind(t, err, KindUpstream, MsgDeleteFailed)

	// Assets are already gone; nothing restores them.
	assert.Equal(t, []string{"a"}, f.destroyer.calls)
}

func TestDelete_NotAdmin(t *testing.T) {
	f := newFixture()
	f.admins.admins = map[string]bool{"someone-else": true}

	_, err := f.service(t).Delete(context.Background(), "Bearer tok", body(t, `{"id":7}`))
	requireKind(t, err, KindForbidden, MsgNotAdmin)
	assert.Empty(t, f.store.log)
}
