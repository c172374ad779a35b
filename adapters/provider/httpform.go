// Package provider holds the core.Provider adapters: multipart HTTP image
// hosts, a local directory and S3-compatible object storage.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/Skryldev/image-uploader/core"
	apperrors "github.com/Skryldev/image-uploader/errors"
)

const maxResponseBytes = 1 << 20

// HTTPFormConfig describes a multipart-upload image host.
type HTTPFormConfig struct {
	Name      string
	Endpoint  string
	FileField string            // default "image"
	Fields    map[string]string // extra form fields, e.g. an API key
	Headers   map[string]string
	// URLPath locates the hosted URL in a JSON response ("data.url",
	// "files.0.url").  Empty means the response body is the URL.
	URLPath   string
	RateLimit float64 // requests per second; 0 = unlimited
	Burst     int
	Client    *http.Client
}

// HTTPForm uploads with a single multipart POST.
type HTTPForm struct {
	cfg     HTTPFormConfig
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPForm validates cfg and returns the provider.
func NewHTTPForm(cfg HTTPFormConfig) (*HTTPForm, error) {
	if cfg.Name == "" || cfg.Endpoint == "" {
		return nil, apperrors.New(apperrors.CategoryConfig, "provider.http", fmt.Errorf("name and endpoint are required"))
	}
	if cfg.FileField == "" {
		cfg.FileField = "image"
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	p := &HTTPForm{cfg: cfg, client: client}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return p, nil
}

func (p *HTTPForm) Name() string { return p.cfg.Name }

func (p *HTTPForm) Upload(ctx context.Context, blob core.Blob, filename string) (string, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	body, contentType, err := p.form(blob, filename)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json, text/plain")
	for k, v := range p.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("%w: %d %s", apperrors.ErrProviderStatus, resp.StatusCode, snippet(raw))
	}
	return ExtractURL(raw, p.cfg.URLPath)
}

func (p *HTTPForm) form(blob core.Blob, filename string) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	for k, v := range p.cfg.Fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	mimeType := blob.MIMEType
	if mimeType == "" {
		mimeType = core.FormatJPEG.MIMEType()
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, p.cfg.FileField, filename))
	h.Set("Content-Type", mimeType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(blob.Data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}

// ExtractURL reads the hosted URL out of a response body.  With an empty
// path the trimmed body must itself be an http(s) URL.
func ExtractURL(body []byte, path string) (string, error) {
	if path == "" {
		u := strings.TrimSpace(string(body))
		if !isHTTPURL(u) {
			return "", fmt.Errorf("response is not a url: %s", snippet(body))
		}
		return u, nil
	}

	var node interface{}
	if err := json.Unmarshal(body, &node); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	for _, key := range strings.Split(path, ".") {
		switch v := node.(type) {
		case map[string]interface{}:
			node = v[key]
		case []interface{}:
			i, err := strconv.Atoi(key)
			if err != nil || i < 0 || i >= len(v) {
				return "", fmt.Errorf("response has no %q", path)
			}
			node = v[i]
		default:
			return "", fmt.Errorf("response has no %q", path)
		}
	}
	u, ok := node.(string)
	if !ok || !isHTTPURL(u) {
		return "", fmt.Errorf("response field %q is not a url", path)
	}
	return u, nil
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "http://")
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "…"
	}
	return s
}

var _ core.Provider = (*HTTPForm)(nil)
