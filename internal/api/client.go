// Package api is the client for the recordings server.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/grabscreen/grabscreen/internal/version"
)

// CookieName is the session cookie the server issues on first upload.
const CookieName = "magic_token"

// UploadFilename is sent for every recording regardless of its codec.
const UploadFilename = "recording.webm"

// TokenStore persists the session cookie between runs.
type TokenStore interface {
	Token() string
	SetToken(token string) error
}

// memoryTokens is used when no store is configured.
type memoryTokens struct{ token string }

func (m *memoryTokens) Token() string               { return m.token }
func (m *memoryTokens) SetToken(token string) error { m.token = token; return nil }

// Options configures a Client.
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	Tokens     TokenStore
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to the recordings server. All calls carry the session cookie
// and persist any new one the server sets.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	tokens     TokenStore
	logger     *slog.Logger
}

// NewClient validates the base URL.
func NewClient(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}
	u, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "invalid base URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Errorf("unsupported URL scheme %q", u.Scheme)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Tokens == nil {
		opts.Tokens = &memoryTokens{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{
		httpClient: opts.HTTPClient,
		baseURL:    u,
		tokens:     opts.Tokens,
		logger:     opts.Logger.With("component", "api"),
	}, nil
}

// BaseURL returns the server address.
func (c *Client) BaseURL() string { return c.baseURL.String() }

// envelope covers every JSON response shape the server uses.
type envelope struct {
	Status   string   `json:"status"`
	Error    string   `json:"error,omitempty"`
	Message  string   `json:"message,omitempty"`
	Filename string   `json:"filename,omitempty"`
	Clip     string   `json:"clip,omitempty"`
	URL      string   `json:"url,omitempty"`
	IsNew    *bool    `json:"isNew,omitempty"`
	Files    []string `json:"files,omitempty"`
}

func (c *Client) endpoint(parts ...string) string {
	u := *c.baseURL
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	u.Path = strings.TrimRight(c.baseURL.Path, "/") + "/" + strings.Join(parts, "/")
	u.RawPath = strings.TrimRight(c.baseURL.EscapedPath(), "/") + "/" + strings.Join(escaped, "/")
	return u.String()
}

func (c *Client) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", version.UserAgent())
	if tok := c.tokens.Token(); tok != "" {
		req.AddCookie(&http.Cookie{Name: CookieName, Value: tok})
	}
	return req, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", req.Method, req.URL.Path)
	}
	c.logger.Debug("API call", "method", req.Method, "path", req.URL.Path,
		"status", resp.StatusCode, "duration", time.Since(start))
	c.keepCookie(resp)
	return resp, nil
}

// keepCookie persists a new or cleared session cookie.
func (c *Client) keepCookie(resp *http.Response) {
	for _, ck := range resp.Cookies() {
		if ck.Name != CookieName {
			continue
		}
		token := ck.Value
		if ck.MaxAge < 0 || (!ck.Expires.IsZero() && ck.Expires.Before(time.Now())) {
			token = ""
		}
		if token == c.tokens.Token() {
			return
		}
		if err := c.tokens.SetToken(token); err != nil {
			c.logger.Warn("Failed to persist session cookie", "error", err)
		}
		return
	}
}

// call sends a JSON request (body may be nil) and decodes the envelope.
func (c *Client) call(ctx context.Context, method string, body any, parts ...string) (*envelope, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, method, c.endpoint(parts...), r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return decode(resp)
}

// decode turns a response into an envelope or an *APIError.
func decode(resp *http.Response) (*envelope, error) {
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response")
	}

	var env envelope
	if jerr := json.Unmarshal(data, &env); jerr != nil {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if resp.StatusCode >= http.StatusBadRequest || (env.Status != "ok" && env.Status != "empty") {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: env.Error, Body: strings.TrimSpace(string(data))}
	}
	return &env, nil
}

// Upload sends a recording as multipart field "video" and returns the name
// the server stored it under.
func (c *Client) Upload(ctx context.Context, r io.Reader) (string, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("video", UploadFilename)
		if err == nil {
			_, err = io.Copy(part, r)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := c.newRequest(ctx, http.MethodPost, c.endpoint("upload"), pr)
	if err != nil {
		pr.CloseWithError(err)
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.do(req)
	pr.Close()
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	env, err := decode(resp)
	if err != nil {
		return "", asUploadError(err)
	}
	if env.Filename == "" {
		return "", &APIError{StatusCode: resp.StatusCode, Message: "server did not return a filename"}
	}
	c.logger.Info("Recording uploaded", "filename", env.Filename)
	return env.Filename, nil
}

// Files lists the recordings of this session in upload order.
func (c *Client) Files(ctx context.Context) ([]string, error) {
	env, err := c.call(ctx, http.MethodGet, nil, "session", "files")
	if err != nil {
		return nil, err
	}
	return env.Files, nil
}

// Download writes the original WebM to w.
func (c *Client) Download(ctx context.Context, name string, w io.Writer) (int64, error) {
	if err := ValidateFilename(name); err != nil {
		return 0, err
	}
	return c.fetch(ctx, w, "download", name)
}

// DownloadMP4 asks the server to convert name and writes the MP4 to w.
func (c *Client) DownloadMP4(ctx context.Context, name string, w io.Writer) (int64, error) {
	if err := ValidateFilename(name); err != nil {
		return 0, err
	}
	return c.fetch(ctx, w, "download", "mp4", name)
}

func (c *Client) fetch(ctx context.Context, w io.Writer, parts ...string) (int64, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.endpoint(parts...), nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	// Failures come back as a JSON envelope instead of the file.
	mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if resp.StatusCode >= http.StatusBadRequest || mt == "application/json" {
		if _, err := decode(resp); err != nil {
			return 0, err
		}
		return 0, &APIError{StatusCode: resp.StatusCode, Message: "unexpected JSON response"}
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, errors.Wrap(err, "download interrupted")
	}
	return n, nil
}

type clipRequest struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Clip trims name to [start, end] seconds and returns the new file's name.
// An empty range is rejected without contacting the server.
func (c *Client) Clip(ctx context.Context, name string, start, end float64) (string, error) {
	if err := ValidateFilename(name); err != nil {
		return "", err
	}
	if err := ValidateRange(start, end); err != nil {
		return "", err
	}
	env, err := c.call(ctx, http.MethodPost, clipRequest{Start: start, End: end}, "clip", name)
	if err != nil {
		return "", err
	}
	return env.Clip, nil
}

// SecureLink returns a short-lived signed download URL.
func (c *Client) SecureLink(ctx context.Context, name string) (string, error) {
	if err := ValidateFilename(name); err != nil {
		return "", err
	}
	env, err := c.call(ctx, http.MethodGet, nil, "link", "secure", name)
	if err != nil {
		return "", err
	}
	return env.URL, nil
}

// PublicLink returns the public URL of name, creating it if needed. isNew
// reports whether this call created it.
func (c *Client) PublicLink(ctx context.Context, name string) (string, bool, error) {
	if err := ValidateFilename(name); err != nil {
		return "", false, err
	}
	env, err := c.call(ctx, http.MethodGet, nil, "link", "public", name)
	if err != nil {
		return "", false, err
	}
	return env.URL, env.IsNew != nil && *env.IsNew, nil
}

// RevokePublicLink removes the public URL of name.
func (c *Client) RevokePublicLink(ctx context.Context, name string) error {
	if err := ValidateFilename(name); err != nil {
		return err
	}
	_, err := c.call(ctx, http.MethodDelete, nil, "link", "public", name)
	return err
}

// Delete removes name from the server.
func (c *Client) Delete(ctx context.Context, name string) error {
	if err := ValidateFilename(name); err != nil {
		return err
	}
	_, err := c.call(ctx, http.MethodPost, nil, "delete", name)
	return err
}

// Forget ends the server session and drops the local cookie.
func (c *Client) Forget(ctx context.Context) error {
	if _, err := c.call(ctx, http.MethodPost, nil, "session", "forget"); err != nil {
		return err
	}
	return c.tokens.SetToken("")
}

type emailRequest struct {
	To  string `json:"to"`
	URL string `json:"url"`
}

// SendEmail mails url to the recipient.
func (c *Client) SendEmail(ctx context.Context, to, link string) error {
	if strings.TrimSpace(to) == "" || strings.TrimSpace(link) == "" {
		return ErrMissingFields
	}
	_, err := c.call(ctx, http.MethodPost, emailRequest{To: to, URL: link}, "send_email")
	return err
}

type contactRequest struct {
	FromEmail string `json:"from_email"`
	Subject   string `json:"subject"`
	Message   string `json:"message"`
}

// ContactUs sends the contact form.
func (c *Client) ContactUs(ctx context.Context, from, subject, message string) error {
	if strings.TrimSpace(from) == "" || strings.TrimSpace(subject) == "" || strings.TrimSpace(message) == "" {
		return ErrMissingFields
	}
	_, err := c.call(ctx, http.MethodPost, contactRequest{FromEmail: from, Subject: subject, Message: message}, "contact_us")
	return err
}

// PreviewURL is where the server streams name for playback.
func (c *Client) PreviewURL(name string) string {
	return c.endpoint("recordings", name)
}
