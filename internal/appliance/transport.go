package appliance

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/tonimelisma/tbgwctl/internal/markup"
)

// positiveMarkers are lowercase phrases the appliance uses in flash notices
// after a successful import, update or delete.
var positiveMarkers = []string{
	"successfully",
	"imported",
	"was updated",
	"was created",
	"was deleted",
}

// errorSelectors locate the error block Rails renders into a rejected form.
var errorSelectors = []string{
	"#error_explanation",
	"#errorExplanation",
	".alert-danger",
	".alert-error",
	".flash.error",
	".flash-error",
	"#flash_error",
	".errorExplanation",
	".field_with_errors",
}

// noticeSelectors locate the flash notice after a successful submission.
var noticeSelectors = []string{
	"#flash_notice",
	".flash.notice",
	".alert-success",
	".notice",
}

// opaqueRedirectPhrases identify transport errors produced when a browser
// fetch (GOOS=js) or an origin-enforcing proxy hides a cross-origin
// redirect from the caller.
var opaqueRedirectPhrases = []string{
	"failed to fetch",
	"networkerror",
	"load failed",
	"cors",
	"cross-origin",
	"opaque",
}

// Send submits a built form. It issues exactly one request. The returned
// Delivery describes how success was established; every failure comes back
// as an error classified against the package sentinels.
//
// Classification order: a 2xx page with a positive marker, any non-login
// redirect, a cross-origin-shaped transport failure (heuristic success when
// enabled), then 4xx/5xx enriched with the page's error fragment.
func (c *Client) Send(ctx context.Context, req *FormRequest) (*Delivery, error) {
	c.logger.Info("submitting form",
		slog.String("action", req.Action.String()),
		slog.String("kind", req.Kind.String()),
		slog.String("path", req.Path),
		slog.Int("bytes", len(req.Body)),
	)

	resp, err := c.do(ctx, req.Method, req.Path, req.Body, req.ContentType)
	if err != nil {
		classified := c.classifyTransportError(ctx, err)

		if c.opaqueAsSuccess && errors.Is(classified, ErrNetwork) && isOpaqueRedirectError(err) {
			c.logger.Warn("assuming success for opaque redirect",
				slog.String("path", req.Path),
				slog.String("error", err.Error()),
			)

			return &Delivery{
				Outcome:    OutcomeOpaqueRedirect,
				Confidence: ConfidenceHeuristic,
				Message:    req.Action.String() + " submitted; response was not inspectable",
				Note:       opaqueRedirectNote,
				Excerpt:    err.Error(),
			}, nil
		}

		return nil, classified
	}
	defer resp.Body.Close()

	body, err := readBody(resp)
	if err != nil {
		return nil, &Error{Err: ErrNetwork, StatusCode: resp.StatusCode, Message: err.Error()}
	}

	d, err := classifyResponse(resp, body)
	if err != nil {
		c.logger.Warn("submission rejected",
			slog.String("path", req.Path),
			slog.Int("status", resp.StatusCode),
			slog.String("error", err.Error()),
		)

		return nil, err
	}

	c.logger.Info("submission accepted",
		slog.String("path", req.Path),
		slog.Int("status", resp.StatusCode),
		slog.String("outcome", d.Outcome.String()),
	)

	return d, nil
}

func classifyResponse(resp *http.Response, body []byte) (*Delivery, error) {
	switch {
	case isRedirect(resp.StatusCode):
		loc := resp.Header.Get("Location")
		if isLoginLocation(loc) {
			return nil, redirectError(resp)
		}

		return &Delivery{
			Outcome:    OutcomeRedirect,
			Confidence: ConfidenceConfirmed,
			StatusCode: resp.StatusCode,
			Location:   loc,
			Message:    "appliance redirected to " + loc,
		}, nil

	case isSuccess(resp.StatusCode):
		return classifyPage(resp.StatusCode, body)

	default:
		return nil, statusError(resp.StatusCode, body)
	}
}

// classifyPage handles a 2xx response. Rails re-renders a rejected form with
// 200 on older appliances, so the error fragment outranks any marker.
func classifyPage(code int, body []byte) (*Delivery, error) {
	page, err := parsePage(body)
	if err != nil {
		return nil, err
	}

	if page.isLoginForm() {
		return nil, &Error{Err: ErrSession, StatusCode: code, Message: "login page returned", Excerpt: excerpt(body)}
	}

	if frag := page.errorFragment(); frag != "" {
		sentinel := ErrValidation
		if containsSessionPhrase(frag) {
			sentinel = ErrSession
		}

		return nil, &Error{Err: sentinel, StatusCode: code, Message: frag, Excerpt: excerpt(body)}
	}

	lower := strings.ToLower(string(body))
	for _, m := range positiveMarkers {
		if !strings.Contains(lower, m) {
			continue
		}

		msg := page.noticeFragment()
		if msg == "" {
			msg = "appliance reported the file " + m
		}

		return &Delivery{
			Outcome:    OutcomeConfirmed,
			Confidence: ConfidenceConfirmed,
			StatusCode: code,
			Message:    msg,
			Excerpt:    excerpt(body),
		}, nil
	}

	return &Delivery{
		Outcome:    OutcomeAccepted,
		Confidence: ConfidenceConfirmed,
		StatusCode: code,
		Message:    "appliance accepted the submission without a confirmation message",
		Excerpt:    excerpt(body),
	}, nil
}

// statusError builds the error for a 4xx/5xx response, preferring the
// page's own error block as the message. Rails answers a stale CSRF token
// with 422 InvalidAuthenticityToken, which is a session failure rather than
// a validation failure.
func statusError(code int, body []byte) error {
	sentinel := classifyStatus(code)

	msg := http.StatusText(code)

	if page, err := parsePage(body); err == nil {
		if frag := page.errorFragment(); frag != "" {
			msg = frag
		} else if title := page.title(); title != "" {
			msg = title
		}
	}

	if code == http.StatusUnprocessableEntity && isStaleTokenPage(body) {
		sentinel = ErrSession
	}

	return &Error{Err: sentinel, StatusCode: code, Message: msg, Excerpt: excerpt(body)}
}

// staleTokenPhrases identify the Rails InvalidAuthenticityToken page.
var staleTokenPhrases = []string{
	"invalidauthenticitytoken",
	"invalid authenticity token",
}

// isStaleTokenPage reports whether a 422 body is the CSRF rejection page.
// Other 422s are validation failures whatever their text mentions.
func isStaleTokenPage(body []byte) bool {
	lower := strings.ToLower(string(body))

	for _, p := range staleTokenPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}

	return false
}

// page wraps a parsed response body with the queries the classifier needs.
type page struct {
	doc *markup.Document
}

func parsePage(body []byte) (*page, error) {
	doc, err := markup.Parse(string(body))
	if err != nil {
		return nil, &Error{Err: ErrRequest, Message: err.Error(), Excerpt: excerpt(body)}
	}

	return &page{doc: doc}, nil
}

// isLoginForm reports whether the page is a login form: a password field
// inside a form.
func (p *page) isLoginForm() bool {
	pw, ok := p.doc.First(markup.And(markup.Tag("input"), markup.AttrEquals("type", "password")))
	if !ok {
		return false
	}

	return markup.Closest(pw, markup.Tag("form")) != nil
}

func (p *page) errorFragment() string {
	return p.firstText(errorSelectors)
}

func (p *page) noticeFragment() string {
	return p.firstText(noticeSelectors)
}

func (p *page) title() string {
	return strings.TrimSpace(p.doc.Find("title").First().Text())
}

const fragmentLimit = 300

func (p *page) firstText(selectors []string) string {
	for _, sel := range selectors {
		s := p.doc.Find(sel).First()
		if s.Length() == 0 {
			continue
		}

		text := markup.Text(s.Nodes[0])
		if text == "" {
			continue
		}

		return truncate(text, fragmentLimit)
	}

	return ""
}

// transportErrorKind classifies an error returned by http.Client.Do.
func transportErrorKind(err error) error {
	var netErr net.Error

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		return ErrTimeout
	case errors.Is(err, syscall.ECONNREFUSED):
		return ErrConnectionRefused
	default:
		return ErrNetwork
	}
}

func isOpaqueRedirectError(err error) bool {
	lower := strings.ToLower(err.Error())

	for _, p := range opaqueRedirectPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}

	return false
}
