package main

import (
	"bytes"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/tbgwctl/internal/appliance"
	"github.com/tonimelisma/tbgwctl/internal/config"
	"github.com/tonimelisma/tbgwctl/internal/metrics"
)

const (
	fakeUser     = "admin"
	fakePassword = "s3cret"
	fakeToken    = "tok-123"
)

type fakeRecord struct {
	id      string
	name    string
	content []byte
}

// fakeAppliance serves the listing, form and export pages of file database 1
// and applies create, update and delete posts to an in-memory table.
type fakeAppliance struct {
	t   *testing.T
	srv *httptest.Server

	mu      sync.Mutex
	records map[appliance.Kind][]fakeRecord
	nextID  int
	writes  []string

	// rejectWrites answers every post with a rendered validation error.
	rejectWrites bool
}

func newFakeAppliance(t *testing.T) *fakeAppliance {
	t.Helper()

	fa := &fakeAppliance{t: t, records: make(map[appliance.Kind][]fakeRecord), nextID: 10}
	fa.srv = httptest.NewServer(http.HandlerFunc(fa.serve))
	t.Cleanup(fa.srv.Close)

	return fa
}

func (fa *fakeAppliance) add(kind appliance.Kind, name, content string) string {
	fa.mu.Lock()
	defer fa.mu.Unlock()

	fa.nextID++
	id := strconv.Itoa(fa.nextID)
	fa.records[kind] = append(fa.records[kind], fakeRecord{id: id, name: name, content: []byte(content)})

	return id
}

func (fa *fakeAppliance) content(kind appliance.Kind, id string) (string, bool) {
	fa.mu.Lock()
	defer fa.mu.Unlock()

	for _, r := range fa.records[kind] {
		if r.id == id {
			return string(r.content), true
		}
	}

	return "", false
}

func (fa *fakeAppliance) names(kind appliance.Kind) []string {
	fa.mu.Lock()
	defer fa.mu.Unlock()

	out := make([]string, 0, len(fa.records[kind]))
	for _, r := range fa.records[kind] {
		out = append(out, r.name)
	}

	sort.Strings(out)

	return out
}

func (fa *fakeAppliance) writeLog() []string {
	fa.mu.Lock()
	defer fa.mu.Unlock()

	return append([]string(nil), fa.writes...)
}

func (fa *fakeAppliance) serve(w http.ResponseWriter, r *http.Request) {
	if u, p, ok := r.BasicAuth(); !ok || u != fakeUser || p != fakePassword {
		w.Header().Set("WWW-Authenticate", `Basic realm="tbgw"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)

		return
	}

	rest, ok := strings.CutPrefix(r.URL.Path, "/file_dbs/1/")
	if !ok {
		http.NotFound(w, r)
		return
	}

	if rest == "edit" && r.Method == http.MethodGet {
		fa.writeListing(w)
		return
	}

	parts := strings.Split(rest, "/")

	kind, ok := kindForCollection(parts[0])
	if !ok {
		http.NotFound(w, r)
		return
	}

	switch {
	case r.Method == http.MethodGet && len(parts) == 2 && parts[1] == "new":
		fa.writeFormPage(w)
	case r.Method == http.MethodGet && len(parts) == 3 && parts[2] == "edit":
		fa.writeFormPage(w)
	case r.Method == http.MethodGet && len(parts) == 3 && parts[2] == "export":
		body, found := fa.content(kind, parts[1])
		if !found {
			http.NotFound(w, r)
			return
		}

		_, _ = io.WriteString(w, body)
	case r.Method == http.MethodPost && len(parts) == 1:
		fa.handleWrite(w, r, kind, "")
	case r.Method == http.MethodPost && len(parts) == 2:
		fa.handleWrite(w, r, kind, parts[1])
	default:
		http.NotFound(w, r)
	}
}

func kindForCollection(collection string) (appliance.Kind, bool) {
	for _, k := range appliance.Kinds() {
		if k.Collection() == collection {
			return k, true
		}
	}

	return 0, false
}

func (fa *fakeAppliance) writeFormPage(w http.ResponseWriter) {
	fmt.Fprintf(w, `<html><head><meta name="csrf-token" content="%s"></head><body><form method="post"></form></body></html>`, fakeToken)
}

func (fa *fakeAppliance) writeListing(w http.ResponseWriter) {
	fa.mu.Lock()
	defer fa.mu.Unlock()

	var b strings.Builder

	fmt.Fprintf(&b, `<html><head><title>Edit File DB</title><meta name="csrf-token" content="%s"></head><body>`, fakeToken)

	for _, k := range appliance.Kinds() {
		fmt.Fprintf(&b, `<p><b>%s</b></p><table><tr><th>Name</th></tr>`, k.SectionLabel())

		for _, rec := range fa.records[k] {
			fmt.Fprintf(&b, `<tr><td>%s</td><td><a href="%s">Edit</a></td><td><a href="%s">Export</a></td></tr>`,
				html.EscapeString(rec.name),
				appliance.EditPath(1, k, rec.id),
				appliance.ExportPath(1, k, rec.id))
		}

		b.WriteString(`</table>`)
	}

	b.WriteString(`</body></html>`)

	_, _ = io.WriteString(w, b.String())
}

func (fa *fakeAppliance) handleWrite(w http.ResponseWriter, r *http.Request, kind appliance.Kind, id string) {
	if r.FormValue("authenticity_token") != fakeToken {
		http.Error(w, "InvalidAuthenticityToken", http.StatusUnprocessableEntity)
		return
	}

	if fa.rejectWrites {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, `<html><body><div id="errorExplanation"><ul><li>File is invalid</li></ul></div></body></html>`)

		return
	}

	method := r.FormValue("_method")

	fa.mu.Lock()
	defer fa.mu.Unlock()

	switch {
	case id == "":
		f, hdr, err := r.FormFile(kind.FileField())
		if !assert.NoError(fa.t, err) {
			http.Error(w, "no file", http.StatusBadRequest)
			return
		}
		defer f.Close()

		data, _ := io.ReadAll(f)
		fa.nextID++
		newID := strconv.Itoa(fa.nextID)
		fa.records[kind] = append(fa.records[kind], fakeRecord{id: newID, name: hdr.Filename, content: data})
		fa.writes = append(fa.writes, "create "+kind.String()+" "+hdr.Filename)

	case method == "put":
		f, _, err := r.FormFile(kind.FileField())
		if !assert.NoError(fa.t, err) {
			http.Error(w, "no file", http.StatusBadRequest)
			return
		}
		defer f.Close()

		data, _ := io.ReadAll(f)

		if !fa.replace(kind, id, data) {
			http.NotFound(w, r)
			return
		}

		fa.writes = append(fa.writes, "update "+kind.String()+" "+id)

	case method == "delete":
		if !fa.remove(kind, id) {
			http.NotFound(w, r)
			return
		}

		fa.writes = append(fa.writes, "delete "+kind.String()+" "+id)

	default:
		http.Error(w, "bad method override", http.StatusBadRequest)
		return
	}

	http.Redirect(w, r, appliance.ListingPath(1), http.StatusFound)
}

// replace and remove expect fa.mu held.
func (fa *fakeAppliance) replace(kind appliance.Kind, id string, data []byte) bool {
	for i, rec := range fa.records[kind] {
		if rec.id == id {
			fa.records[kind][i].content = data
			return true
		}
	}

	return false
}

func (fa *fakeAppliance) remove(kind appliance.Kind, id string) bool {
	list := fa.records[kind]
	for i, rec := range list {
		if rec.id == id {
			fa.records[kind] = append(list[:i], list[i+1:]...)
			return true
		}
	}

	return false
}

// cliResult captures one CLI invocation.
type cliResult struct {
	stdout string
	stderr string
	err    error
}

// isolateEnv points every config and credentials lookup at temp paths so a
// developer's own setup never leaks into tests.
func isolateEnv(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	t.Setenv(config.EnvConfig, filepath.Join(dir, "absent.toml"))
	t.Setenv(config.EnvURL, "")
	t.Setenv(config.EnvUsername, "")
	t.Setenv(config.EnvPassword, "")

	return dir
}

// runCLI executes the root command with args and stdin. Persistent flag
// globals are rebound by newRootCmd, so each call starts clean.
func runCLI(t *testing.T, stdin string, args ...string) cliResult {
	t.Helper()

	var out, errOut bytes.Buffer

	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))

	err := cmd.Execute()

	return cliResult{stdout: out.String(), stderr: errOut.String(), err: err}
}

// fakeArgs returns the flags that point a command at fa with env credentials.
func fakeArgs(t *testing.T, fa *fakeAppliance, args ...string) []string {
	t.Helper()

	t.Setenv(config.EnvUsername, fakeUser)
	t.Setenv(config.EnvPassword, fakePassword)

	return append([]string{"--url", fa.srv.URL, "--quiet"}, args...)
}

func testCLIContext(t *testing.T, cfg *config.Resolved) *CLIContext {
	t.Helper()

	var out, errOut bytes.Buffer

	return &CLIContext{
		Cfg:     cfg,
		Logger:  slog.New(slog.DiscardHandler),
		Metrics: metrics.New(),
		Out:     &out,
		ErrOut:  &errOut,
	}
}

func testResolved(baseURL string) *config.Resolved {
	return &config.Resolved{
		BaseURL:                      baseURL,
		Username:                     fakeUser,
		Password:                     fakePassword,
		FileDBID:                     1,
		MaxRetries:                   2,
		HistorySize:                  10,
		TreatOpaqueRedirectAsSuccess: true,
		RequestTimeout:               5 * time.Second,
		UserAgent:                    "tbgwctl-test",
		LogLevel:                     "info",
		LogFormat:                    "text",
	}
}

func TestNewApplianceSession_RequiresBaseURL(t *testing.T) {
	cfg := testResolved("")

	_, err := NewApplianceSession(testCLIContext(t, cfg))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no appliance configured")
}

func TestNewApplianceSession_RequiresUsername(t *testing.T) {
	cfg := testResolved("https://gw.example.net")
	cfg.Username = ""

	_, err := NewApplianceSession(testCLIContext(t, cfg))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tbgwctl login")
}

func TestNewApplianceSession_ListsThroughSharedSession(t *testing.T) {
	fa := newFakeAppliance(t)
	fa.add(appliance.KindDigitMap, "core.csv", "1,2\n")

	sess, err := NewApplianceSession(testCLIContext(t, testResolved(fa.srv.URL)))
	require.NoError(t, err)

	assert.Same(t, sess.Client.Session(), sess.Client.Session())
	assert.Equal(t, 1, sess.Client.FileDBID())

	list, err := sess.Client.List(t.Context(), appliance.KindDigitMap)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "core.csv", list[0].DisplayName)
}

func TestNewApplianceSession_ZeroRetryDelayMeansNoWait(t *testing.T) {
	fa := newFakeAppliance(t)

	cfg := testResolved(fa.srv.URL)
	cfg.RetryDelay = 0

	sess, err := NewApplianceSession(testCLIContext(t, cfg))
	require.NoError(t, err)
	require.NotNil(t, sess.Orchestrator)
	require.NotNil(t, sess.Coordinator)
	assert.Same(t, cfg, sess.Resolved)
}
