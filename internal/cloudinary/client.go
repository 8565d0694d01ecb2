// Package cloudinary deletes uploaded images through the signed destroy API.
package cloudinary

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-resty/resty/v2"

	"github.com/xenking/laptop-admin/internal/domain/asset"
)

// DefaultBaseURL is the public API endpoint.
const DefaultBaseURL = "https://api.cloudinary.com"

// Config configures a Client.
type Config struct {
	CloudName string
	APIKey    string
	APISecret string
	BaseURL   string
	Timeout   time.Duration
	Transport http.RoundTripper
	// Now defaults to time.Now.
	Now func() time.Time
}

// Configured reports whether all credentials are present.
func (c Config) Configured() bool {
	return c.CloudName != "" && c.APIKey != "" && c.APISecret != ""
}

// Client destroys image assets.
type Client struct {
	http   *resty.Client
	path   string
	key    string
	secret string
	now    func() time.Time
}

var _ asset.Destroyer = (*Client)(nil)

// New creates a Client. It fails unless cfg.Configured.
func New(cfg Config) (*Client, error) {
	if !cfg.Configured() {
		return nil, errors.New("cloud name, api key and api secret are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	hc := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout)
	if cfg.Transport != nil {
		hc.SetTransport(cfg.Transport)
	}

	return &Client{
		http:   hc,
		path:   "/v1_1/" + url.PathEscape(cfg.CloudName) + "/image/destroy",
		key:    cfg.APIKey,
		secret: cfg.APISecret,
		now:    cfg.Now,
	}, nil
}

// Destroy deletes publicID and invalidates CDN copies. It returns the
// service's result string, normally asset.ResultOK or asset.ResultNotFound.
func (c *Client) Destroy(ctx context.Context, publicID string) (string, error) {
	params := map[string]string{
		"invalidate": "true",
		"public_id":  publicID,
		"timestamp":  strconv.FormatInt(c.now().Unix(), 10),
	}
	form := map[string]string{
		"api_key":   c.key,
		"signature": Sign(params, c.secret),
	}
	for k, v := range params {
		form[k] = v
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(form).
		Post(c.path)
	if err != nil {
		return "", errors.Wrap(err, "destroy")
	}
	if resp.IsError() {
		return "", errors.Errorf("destroy: status %d: %s",
			resp.StatusCode(), strings.TrimSpace(string(resp.Body())))
	}

	result, err := destroyResult(resp.Body())
	if err != nil {
		return "", errors.Wrap(err, "decode destroy response")
	}
	return result, nil
}

// Sign computes the request signature: the SHA-1 hex digest of the
// parameters sorted by name, joined as k=v with '&', followed by secret.
func Sign(params map[string]string, secret string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	b.WriteString(secret)

	sum := sha1.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func destroyResult(body []byte) (string, error) {
	var result string
	err := jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		if key != "result" || d.Next() != jx.String {
			return d.Skip()
		}
		v, err := d.Str()
		result = v
		return err
	})
	if err != nil {
		return "", err
	}
	if result == "" {
		return "", errors.New("missing result")
	}
	return result, nil
}
