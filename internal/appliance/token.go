package appliance

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/tonimelisma/tbgwctl/internal/markup"
)

// tokenFieldName is the Rails form parameter carrying the CSRF token.
const tokenFieldName = "authenticity_token"

// TokenStrategy names where in a page the security token was found.
type TokenStrategy int

// Token strategies in priority order.
const (
	StrategyFormField TokenStrategy = iota + 1
	StrategyMetaTag
	StrategyInlineScript
	StrategyDeleteHandler
)

func (s TokenStrategy) String() string {
	switch s {
	case StrategyFormField:
		return "form-field"
	case StrategyMetaTag:
		return "meta-tag"
	case StrategyInlineScript:
		return "inline-script"
	case StrategyDeleteHandler:
		return "delete-handler"
	default:
		return "unknown"
	}
}

// Extraction is the result of scanning a page for submission credentials.
type Extraction struct {
	Token    string
	RecordID string
	Strategy TokenStrategy

	// RecordIDFromForm is false when the page carried no id field and
	// RecordID is the caller's hint.
	RecordIDFromForm bool
}

type tokenStrategy struct {
	kind TokenStrategy
	find func(doc *markup.Document, recordHint string) string
}

// tokenStrategies are tried in order; the first non-empty token wins. The
// appliance renders the token differently across firmware versions and
// pages, so a single rigid pattern breaks silently.
var tokenStrategies = []tokenStrategy{
	{StrategyFormField, tokenFromFormField},
	{StrategyMetaTag, tokenFromMetaTag},
	{StrategyInlineScript, tokenFromInlineScript},
	{StrategyDeleteHandler, tokenFromDeleteHandler},
}

// ExtractToken finds the security token in a rendered page and, for edit
// forms, the record id the form itself will submit. The id in the edit URL
// and the id the form expects can differ, so the form's own field wins and
// recordHint is only a fallback. Returns ErrTokenNotFound when no strategy
// matches.
func ExtractToken(raw string, kind Kind, recordHint string) (*Extraction, error) {
	doc, err := markup.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("appliance: extracting token: %w", err)
	}

	return extractFromDocument(doc, kind, recordHint)
}

func extractFromDocument(doc *markup.Document, kind Kind, recordHint string) (*Extraction, error) {
	for _, s := range tokenStrategies {
		tok := strings.TrimSpace(s.find(doc, recordHint))
		if tok == "" {
			continue
		}

		ext := &Extraction{Token: tok, Strategy: s.kind, RecordID: recordHint}

		if id := recordIDFromForm(doc, kind); id != "" {
			ext.RecordID = id
			ext.RecordIDFromForm = true
		}

		return ext, nil
	}

	return nil, ErrTokenNotFound
}

// tokenFromFormField reads <input name="authenticity_token" value="...">.
func tokenFromFormField(doc *markup.Document, _ string) string {
	for _, n := range doc.All(markup.And(markup.Tag("input"), markup.AttrEquals("name", tokenFieldName))) {
		if v, _ := markup.Attr(n, "value"); strings.TrimSpace(v) != "" {
			return v
		}
	}

	return ""
}

// tokenFromMetaTag reads <meta name="csrf-token" content="...">.
func tokenFromMetaTag(doc *markup.Document, _ string) string {
	isTokenMeta := markup.And(
		markup.Tag("meta"),
		markup.Or(
			markup.AttrEquals("name", "csrf-token"),
			markup.AttrEquals("name", "csrf_token"),
			markup.AttrEquals("name", tokenFieldName),
		),
	)

	for _, n := range doc.All(isTokenMeta) {
		if v, _ := markup.Attr(n, "content"); strings.TrimSpace(v) != "" {
			return v
		}
	}

	return ""
}

// isDeleteAffordance matches Rails delete links and buttons: either the
// UJS data-method attribute or an inline handler that fakes a DELETE form.
var isDeleteAffordance = markup.Or(
	markup.AttrEquals("data-method", "delete"),
	markup.And(markup.AnyAttrContains("on", "_method"), markup.AnyAttrContains("on", "delete")),
)

// tokenFromInlineScript looks inside <script> bodies and inline event
// handlers of elements that are not delete affordances.
func tokenFromInlineScript(doc *markup.Document, _ string) string {
	for _, n := range doc.All(markup.Tag("script")) {
		if tok := tokenFromExpression(markup.Text(n)); tok != "" {
			return tok
		}
	}

	handlers := markup.And(markup.AnyAttrContains("on", tokenFieldName), markup.Not(isDeleteAffordance))
	for _, n := range doc.All(handlers) {
		if tok := tokenFromAttrs(n, "on"); tok != "" {
			return tok
		}
	}

	return ""
}

// tokenFromDeleteHandler reads the token out of a delete affordance. When
// recordHint is set, affordances pointing at that record are preferred.
func tokenFromDeleteHandler(doc *markup.Document, recordHint string) string {
	candidates := doc.All(isDeleteAffordance)

	if recordHint != "" {
		for _, n := range candidates {
			if !referencesRecord(n, recordHint) {
				continue
			}

			if tok := tokenFromAttrs(n, ""); tok != "" {
				return tok
			}
		}
	}

	for _, n := range candidates {
		if tok := tokenFromAttrs(n, ""); tok != "" {
			return tok
		}
	}

	return ""
}

// referencesRecord reports whether the element's target path ends in the
// record id.
func referencesRecord(n *html.Node, id string) bool {
	for _, key := range []string{"href", "action", "data-url"} {
		v, ok := markup.Attr(n, key)
		if !ok {
			continue
		}

		if u, err := url.Parse(v); err == nil {
			v = u.Path
		}

		if strings.HasSuffix(strings.TrimRight(v, "/"), "/"+id) {
			return true
		}
	}

	return false
}

// tokenFromAttrs scans attribute values whose key has the given prefix.
func tokenFromAttrs(n *html.Node, prefix string) string {
	for _, a := range n.Attr {
		if !strings.HasPrefix(strings.ToLower(a.Key), prefix) {
			continue
		}

		if tok := tokenFromExpression(a.Val); tok != "" {
			return tok
		}
	}

	return ""
}

// tokenExpression pulls the token value out of a script expression that is
// already known to mention it. Each pattern has exactly one capture group.
type tokenExpression struct {
	re *regexp.Regexp

	// queryEncoded values are URL-escaped; the others are literal and may
	// legitimately contain '+' from base64.
	queryEncoded bool
}

var tokenExpressions = []tokenExpression{
	// s.setAttribute('name', 'authenticity_token'); s.setAttribute('value', 'TOKEN');
	{re: regexp.MustCompile(`(?i)authenticity_token['"]\s*\)\s*;\s*[\w$.]+\.setAttribute\(\s*['"]value['"]\s*,\s*['"]([^'"]+)['"]`)},
	// authenticity_token: 'TOKEN' / authenticity_token = "TOKEN" / ('authenticity_token', 'TOKEN')
	{re: regexp.MustCompile(`(?i)authenticity_token['"]?\s*[:=,]\s*['"]([^'"\s][^'"]*)['"]`)},
	// authenticity_token=TOKEN inside a URL or params string
	{re: regexp.MustCompile(`(?i)authenticity_token=([^&'"\s;)]+)`), queryEncoded: true},
	// AUTH_TOKEN = 'TOKEN' / csrfToken: "TOKEN"
	{re: regexp.MustCompile(`(?i)(?:auth_token|csrf[_-]?token)['"]?\s*[:=]\s*['"]([^'"\s][^'"]*)['"]`)},
}

func tokenFromExpression(expr string) string {
	for _, te := range tokenExpressions {
		m := te.re.FindStringSubmatch(expr)
		if m == nil {
			continue
		}

		if !te.queryEncoded {
			return m[1]
		}

		if v, err := url.QueryUnescape(m[1]); err == nil {
			return v
		}

		return m[1]
	}

	return ""
}

// recordIDFromForm reads the kind's id field from a form posting to the
// kind's collection.
func recordIDFromForm(doc *markup.Document, kind Kind) string {
	forms := doc.All(markup.And(markup.Tag("form"), markup.AttrContains("action", "/"+kind.Collection())))

	idField := markup.And(markup.Tag("input"), markup.AttrEquals("name", kind.IDField()))

	for _, f := range forms {
		for _, in := range markup.Within(f, idField) {
			if v, _ := markup.Attr(in, "value"); strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		}
	}

	return ""
}
