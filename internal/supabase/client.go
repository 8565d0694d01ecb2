// Package supabase talks to the hosted identity service and the REST facade
// over the laptops and admins tables.
package supabase

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-resty/resty/v2"

	"github.com/xenking/laptop-admin/internal/domain/auth"
	"github.com/xenking/laptop-admin/internal/domain/catalog"
)

const (
	preferUpsert = "return=representation,resolution=merge-duplicates"
	preferReturn = "return=representation"
)

// Config configures a Client.
type Config struct {
	URL            string
	ServiceRoleKey string
	LaptopsTable   string
	AdminsTable    string
	Timeout        time.Duration
	// Transport is the round tripper for all calls. Defaults to
	// http.DefaultTransport.
	Transport http.RoundTripper
}

// Client implements auth.Verifier, auth.AdminDirectory and catalog.Store on
// top of the service REST API, authenticating with the service role key.
type Client struct {
	http    *resty.Client
	laptops string
	admins  string
}

var (
	_ auth.Verifier       = (*Client)(nil)
	_ auth.AdminDirectory = (*Client)(nil)
	_ catalog.Store       = (*Client)(nil)
)

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" || cfg.ServiceRoleKey == "" {
		return nil, errors.New("supabase url and service role key are required")
	}
	u, err := url.Parse(cfg.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.Errorf("invalid supabase url %q", cfg.URL)
	}
	if cfg.LaptopsTable == "" {
		cfg.LaptopsTable = "laptops"
	}
	if cfg.AdminsTable == "" {
		cfg.AdminsTable = "admins"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	hc := resty.New().
		SetBaseURL(strings.TrimRight(cfg.URL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("apikey", cfg.ServiceRoleKey).
		SetAuthToken(cfg.ServiceRoleKey)
	if cfg.Transport != nil {
		hc.SetTransport(cfg.Transport)
	}

	return &Client{
		http:    hc,
		laptops: "/rest/v1/" + url.PathEscape(cfg.LaptopsTable),
		admins:  "/rest/v1/" + url.PathEscape(cfg.AdminsTable),
	}, nil
}

// Verify resolves token through the identity service. A non-success status
// yields auth.ErrInvalidToken; a success without a user id yields
// auth.ErrNoPrincipal.
func (c *Client) Verify(ctx context.Context, token string) (auth.Principal, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		Get("/auth/v1/user")
	if err != nil {
		return auth.Principal{}, errors.Wrap(err, "get user")
	}
	if resp.IsError() {
		return auth.Principal{}, errors.Wrapf(auth.ErrInvalidToken, "status %d", resp.StatusCode())
	}

	id, err := userID(resp.Body())
	if err != nil || id == "" {
		return auth.Principal{}, auth.ErrNoPrincipal
	}
	return auth.Principal{ID: id}, nil
}

// IsAdmin reports whether principalID has a row in the admins table.
func (c *Client) IsAdmin(ctx context.Context, principalID string) (bool, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("auth_uid", "eq."+principalID).
		SetQueryParam("select", "id").
		Get(c.admins)
	if err != nil {
		return false, errors.Wrap(err, "query admins")
	}
	if resp.IsError() {
		return false, upstream("query admins", resp)
	}

	n, err := countElements(resp.Body())
	if err != nil {
		return false, errors.Wrap(err, "decode admins")
	}
	return n > 0, nil
}

// Upsert writes rec, merging into the existing row with the same id.
func (c *Client) Upsert(ctx context.Context, rec catalog.Record) (json.RawMessage, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Prefer", preferUpsert).
		SetQueryParam("on_conflict", catalog.ColID).
		SetBody([]catalog.Record{rec}).
		Post(c.laptops)
	if err != nil {
		return nil, errors.Wrap(err, "upsert laptop")
	}
	if resp.IsError() {
		return nil, upstream("upsert laptop", resp)
	}

	row, err := firstElement(resp.Body())
	if err != nil {
		return nil, errors.Wrap(err, "decode upserted laptop")
	}
	return row, nil
}

// AssetRefs loads the asset ids of laptop id. It returns nil when the row
// does not exist.
func (c *Client) AssetRefs(ctx context.Context, id int64) (*catalog.AssetRefs, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("id", "eq."+strconv.FormatInt(id, 10)).
		SetQueryParam("select", strings.Join([]string{
			catalog.ColID, catalog.ColImagePublicID, catalog.ColGalleryPublicIDs,
		}, ",")).
		Get(c.laptops)
	if err != nil {
		return nil, errors.Wrap(err, "fetch laptop")
	}
	if resp.IsError() {
		return nil, upstream("fetch laptop", resp)
	}

	var rows []struct {
		ImagePublicID    *string  `json:"image_public_id"`
		GalleryPublicIDs []string `json:"gallery_public_ids"`
	}
	if err := json.Unmarshal(resp.Body(), &rows); err != nil {
		return nil, errors.Wrap(err, "decode laptop")
	}
	if len(rows) == 0 {
		return nil, nil
	}
	refs := &catalog.AssetRefs{GalleryPublicIDs: rows[0].GalleryPublicIDs}
	if rows[0].ImagePublicID != nil {
		refs.ImagePublicID = *rows[0].ImagePublicID
	}
	return refs, nil
}

// Delete removes laptop id and returns the deleted rows.
func (c *Client) Delete(ctx context.Context, id int64) (json.RawMessage, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Prefer", preferReturn).
		SetQueryParam("id", "eq."+strconv.FormatInt(id, 10)).
		Delete(c.laptops)
	if err != nil {
		return nil, errors.Wrap(err, "delete laptop")
	}
	if resp.IsError() {
		return nil, upstream("delete laptop", resp)
	}

	body := resp.Body()
	if len(strings.TrimSpace(string(body))) == 0 {
		return json.RawMessage("[]"), nil
	}
	if !json.Valid(body) {
		return nil, errors.New("decode deleted laptop: invalid json")
	}
	return json.RawMessage(body), nil
}

// Ping checks the identity service health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Get("/auth/v1/health")
	if err != nil {
		return errors.Wrap(err, "auth health")
	}
	if resp.IsError() {
		return upstream("auth health", resp)
	}
	return nil
}

func upstream(op string, resp *resty.Response) error {
	return &catalog.UpstreamError{
		Op:     op,
		Status: resp.StatusCode(),
		Detail: strings.TrimSpace(string(resp.Body())),
	}
}

func userID(body []byte) (string, error) {
	var id string
	err := jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		if key != "id" || d.Next() != jx.String {
			return d.Skip()
		}
		v, err := d.Str()
		if err != nil {
			return err
		}
		id = v
		return nil
	})
	return id, err
}

func countElements(body []byte) (int, error) {
	n := 0
	err := jx.DecodeBytes(body).Arr(func(d *jx.Decoder) error {
		n++
		return d.Skip()
	})
	return n, err
}

// firstElement returns the first element of a JSON array, or null when the
// array is empty.
func firstElement(body []byte) (json.RawMessage, error) {
	var first json.RawMessage
	err := jx.DecodeBytes(body).Arr(func(d *jx.Decoder) error {
		if first != nil {
			return d.Skip()
		}
		raw, err := d.Raw()
		if err != nil {
			return err
		}
		first = append(json.RawMessage(nil), raw...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if first == nil {
		return json.RawMessage("null"), nil
	}
	return first, nil
}
