package appliance

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"
)

const (
	defaultUserAgent = "tbgwctl/0.1"

	// maxPageBytes caps how much of any response is read into memory.
	maxPageBytes = 16 << 20

	// DefaultFileDBID is the file database every known appliance exposes.
	DefaultFileDBID = 1
)

// Credentials are sent as HTTP Basic auth on every request.
type Credentials struct {
	Username string
	Password string
}

// Options configure a Client.
type Options struct {
	BaseURL     string
	FileDBID    int
	Credentials Credentials
	UserAgent   string

	// TreatOpaqueRedirectAsSuccess promotes cross-origin-shaped transport
	// failures on submissions to OutcomeOpaqueRedirect.
	TreatOpaqueRedirectAsSuccess bool
}

// Client is an HTTP client for one appliance. It never follows redirects:
// the appliance signals success and session loss through them, so callers
// must see the 3xx itself. It never retries either; that is the
// orchestrator's job.
type Client struct {
	baseURL         string
	fileDBID        int
	creds           Credentials
	userAgent       string
	opaqueAsSuccess bool
	httpClient      *http.Client
	session         *Session
	logger          *slog.Logger
}

// NewClient creates a Client. httpClient is copied; its Jar and
// CheckRedirect are replaced. A nil session gets a fresh one.
func NewClient(opts Options, httpClient *http.Client, session *Session, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = &http.Client{}
	}

	if session == nil {
		session = NewSession(logger)
	}

	hc := *httpClient
	hc.Jar = session
	hc.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	db := opts.FileDBID
	if db <= 0 {
		db = DefaultFileDBID
	}

	ua := opts.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}

	return &Client{
		baseURL:         strings.TrimRight(opts.BaseURL, "/"),
		fileDBID:        db,
		creds:           opts.Credentials,
		userAgent:       ua,
		opaqueAsSuccess: opts.TreatOpaqueRedirectAsSuccess,
		httpClient:      &hc,
		session:         session,
		logger:          logger,
	}
}

// Session returns the session state shared with the orchestrator.
func (c *Client) Session() *Session {
	return c.session
}

// FileDBID returns the file database the client operates on.
func (c *Client) FileDBID() int {
	return c.fileDBID
}

// FetchPage GETs a server-rendered page and returns its markup. A redirect
// to the login page or a login form served in place of the page is a
// session failure.
func (c *Client) FetchPage(ctx context.Context, path string) (string, error) {
	c.logger.Debug("fetching page", slog.String("path", path))

	resp, err := c.do(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return "", c.classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	body, err := readBody(resp)
	if err != nil {
		return "", &Error{Err: ErrNetwork, StatusCode: resp.StatusCode, Message: err.Error()}
	}

	switch {
	case isRedirect(resp.StatusCode):
		return "", redirectError(resp)

	case isSuccess(resp.StatusCode):
		page, perr := parsePage(body)
		if perr != nil {
			return "", perr
		}

		if page.isLoginForm() {
			return "", &Error{
				Err:        ErrSession,
				StatusCode: resp.StatusCode,
				Message:    "login page returned instead of " + path,
				Excerpt:    excerpt(body),
			}
		}

		return string(body), nil

	default:
		return "", statusError(resp.StatusCode, body)
	}
}

// do executes a single HTTP request (no retry).
func (c *Client) do(ctx context.Context, method, path string, body []byte, contentType string) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	if c.creds.Username != "" {
		req.SetBasicAuth(c.creds.Username, c.creds.Password)
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,*/*;q=0.8")

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
		// Rails origin checks compare against the app's own origin.
		req.Header.Set("Origin", c.baseURL)
	}

	return c.httpClient.Do(req)
}

func readBody(resp *http.Response) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	return b, nil
}

func isSuccess(code int) bool {
	return code >= http.StatusOK && code < http.StatusMultipleChoices
}

func isRedirect(code int) bool {
	return code >= http.StatusMultipleChoices && code < http.StatusBadRequest
}

// loginMarkers identify a Location header or path pointing at the login page.
var loginMarkers = []string{"login", "sign_in", "signin", "sessions/new", "session/new"}

func isLoginLocation(loc string) bool {
	lower := strings.ToLower(loc)

	for _, m := range loginMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}

	return false
}

// redirectError classifies a redirect where one was not expected.
func redirectError(resp *http.Response) error {
	loc := resp.Header.Get("Location")
	if isLoginLocation(loc) {
		return &Error{Err: ErrSession, StatusCode: resp.StatusCode, Message: "redirected to login page " + loc}
	}

	return &Error{Err: ErrRequest, StatusCode: resp.StatusCode, Message: "unexpected redirect to " + loc}
}

// excerptLimit bounds the response text kept on results and errors.
const excerptLimit = 512

// excerpt returns a whitespace-collapsed prefix of a response body.
func excerpt(body []byte) string {
	return truncate(strings.Join(strings.Fields(string(body)), " "), excerptLimit)
}

// truncate cuts s to at most limit bytes on a rune boundary and marks the
// cut with an ellipsis.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}

	n := limit
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}

	return s[:n] + "…"
}

// classifyTransportError maps a failed round trip onto the taxonomy.
// Cancellation is passed through unclassified.
func (c *Client) classifyTransportError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("appliance: request canceled: %w", ctx.Err())
	}

	kind := transportErrorKind(err)

	c.logger.Warn("appliance request failed",
		slog.String("class", kind.Error()),
		slog.String("error", err.Error()),
	)

	return &Error{Err: kind, Message: err.Error()}
}
