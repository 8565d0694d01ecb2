package supabase

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/laptop-admin/internal/domain/auth"
	"github.com/xenking/laptop-admin/internal/domain/catalog"
)

const serviceKey = "service-key"

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := New(Config{URL: srv.URL + "/", ServiceRoleKey: serviceKey})
	require.NoError(t, err)
	return c
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{ServiceRoleKey: "k"})
	require.Error(t, err)

	_, err = New(Config{URL: "https://x.supabase.co"})
	require.Error(t, err)

	_, err = New(Config{URL: "not a url", ServiceRoleKey: "k"})
	require.Error(t, err)
}

func TestVerify(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantID  string
		wantErr error
	}{
		{"ok", http.StatusOK, `{"id":"u-1","email":"a@b.c"}`, "u-1", nil},
		{"rejected", http.StatusUnauthorized, `{"msg":"bad jwt"}`, "", auth.ErrInvalidToken},
		{"no id", http.StatusOK, `{"email":"a@b.c"}`, "", auth.ErrNoPrincipal},
		{"null id", http.StatusOK, `{"id":null}`, "", auth.ErrNoPrincipal},
		{"not json", http.StatusOK, `oops`, "", auth.ErrNoPrincipal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodGet, r.Method)
				assert.Equal(t, "/auth/v1/user", r.URL.Path)
				assert.Equal(t, "Bearer user-token", r.Header.Get("Authorization"))
				assert.Equal(t, serviceKey, r.Header.Get("apikey"))
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})

			p, err := c.Verify(context.Background(), "user-token")
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, p.ID)
		})
	}
}

func TestIsAdmin(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/admins", r.URL.Path)
		assert.Equal(t, "id", r.URL.Query().Get("select"))
		assert.Equal(t, "Bearer "+serviceKey, r.Header.Get("Authorization"))
		switch r.URL.Query().Get("auth_uid") {
		case "eq.admin":
			_, _ = io.WriteString(w, `[{"id":1}]`)
		case "eq.broken":
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = io.WriteString(w, `{"message":"down"}`)
		default:
			_, _ = io.WriteString(w, `[]`)
		}
	})
	ctx := context.Background()

	ok, err := c.IsAdmin(ctx, "admin")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.IsAdmin(ctx, "user")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = c.IsAdmin(ctx, "broken")
	var upErr *catalog.UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, http.StatusServiceUnavailable, upErr.Status)
	assert.Equal(t, `{"message":"down"}`, upErr.Detail)
}

func TestUpsert(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/rest/v1/laptops", r.URL.Path)
		assert.Equal(t, "id", r.URL.Query().Get("on_conflict"))
		assert.Equal(t, preferUpsert, r.Header.Get("Prefer"))

		var rows []map[string]any
		if assert.NoError(t, json.NewDecoder(r.Body).Decode(&rows)) && assert.Len(t, rows, 1) {
			assert.Equal(t, "dell-xps-13", rows[0]["slug"])
		}

		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `[{"id":42,"slug":"dell-xps-13"}]`)
	})

	row, err := c.Upsert(context.Background(), catalog.Record{"id": int64(42), "slug": "dell-xps-13"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":42,"slug":"dell-xps-13"}`, string(row))
}

func TestUpsert_Failure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"message":"column \"color\" does not exist"}`)
	})

	_, err := c.Upsert(context.Background(), catalog.Record{"id": int64(1)})
	var upErr *catalog.UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, http.StatusBadRequest, upErr.Status)
	assert.Contains(t, upErr.Detail, "color")
}

func TestAssetRefs(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "id,image_public_id,gallery_public_ids", r.URL.Query().Get("select"))
		switch r.URL.Query().Get("id") {
		case "eq.7":
			_, _ = io.WriteString(w, `[{"id":7,"image_public_id":"main","gallery_public_ids":["a",null,"b"]}]`)
		case "eq.8":
			_, _ = io.WriteString(w, `[{"id":8,"image_public_id":null,"gallery_public_ids":null}]`)
		default:
			_, _ = io.WriteString(w, `[]`)
		}
	})
	ctx := context.Background()

	refs, err := c.AssetRefs(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, []string{"main", "a", "b"}, refs.IDs())

	refs, err = c.AssetRefs(ctx, 8)
	require.NoError(t, err)
	require.NotNil(t, refs)
	assert.Empty(t, refs.IDs())

	refs, err = c.AssetRefs(ctx, 9)
	require.NoError(t, err)
	assert.Nil(t, refs)
}

func TestDelete(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "eq.7", r.URL.Query().Get("id"))
		assert.Equal(t, preferReturn, r.Header.Get("Prefer"))
		_, _ = io.WriteString(w, `[{"id":7}]`)
	})

	rows, err := c.Delete(context.Background(), 7)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":7}]`, string(rows))
}

func TestPing(t *testing.T) {
	var unhealthy atomic.Bool
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/health", r.URL.Path)
		if unhealthy.Load() {
			w.WriteHeader(http.StatusBadGateway)
		}
	})

	require.NoError(t, c.Ping(context.Background()))

	unhealthy.Store(true)
	err := c.Ping(context.Background())
	var upErr *catalog.UpstreamError
	require.True(t, errors.As(err, &upErr))
	assert.Equal(t, http.StatusBadGateway, upErr.Status)
}

func TestFirstElement(t *testing.T) {
	row, err := firstElement([]byte(`[]`))
	require.NoError(t, err)
	assert.Equal(t, "null", string(row))

	row, err = firstElement([]byte(`[{"a":1},{"b":2}]`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(row))

	_, err = firstElement([]byte(`{}`))
	require.Error(t, err)
}
