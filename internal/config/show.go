package config

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
)

// redacted replaces secrets in rendered output.
const redacted = "********"

// Redacted returns a copy of r with the password masked, for JSON output.
func (r *Resolved) Redacted() *Resolved {
	out := *r
	if out.Password != "" {
		out.Password = redacted
	}

	return &out
}

// RenderEffective writes the resolved configuration as a human-readable
// annotated summary to w. This powers the "config show" command. The
// password is never printed.
func RenderEffective(r *Resolved, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (%s)\n\n", r.ConfigPath)

	renderApplianceSection(ew, r)
	renderRetrySection(ew, r)
	renderTransportSection(ew, r)

	ew.printf("[logging]\n")
	ew.printf("  log_level  = %q\n", r.LogLevel)
	ew.printf("  log_format = %q\n", r.LogFormat)
	ew.printf("\n")

	ew.printf("[metrics]\n")
	ew.printf("  textfile = %q\n", r.MetricsTextfile)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops, so callers can chain
// printf calls without checking each one individually.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func renderApplianceSection(ew *errWriter, r *Resolved) {
	password := ""
	if r.Password != "" {
		password = redacted
	}

	ew.printf("[appliance]\n")
	ew.printf("  base_url             = %q\n", r.BaseURL)
	ew.printf("  username             = %q\n", r.Username)
	ew.printf("  password             = %q\n", password)
	ew.printf("  file_db_id           = %d\n", r.FileDBID)
	ew.printf("  insecure_skip_verify = %t\n", r.InsecureSkipVerify)

	if r.CredentialsSource != "" {
		ew.printf("  # credentials from %s\n", r.CredentialsSource)
	}

	ew.printf("\n")
}

func renderRetrySection(ew *errWriter, r *Resolved) {
	ew.printf("[retry]\n")
	ew.printf("  max_retries = %d\n", r.MaxRetries)
	ew.printf("  retry_delay = %q\n", r.RetryDelay.String())
	ew.printf("\n")

	ew.printf("[batch]\n")
	ew.printf("  continue_on_error = %t\n", r.ContinueOnError)
	ew.printf("\n")

	ew.printf("[history]\n")
	ew.printf("  size = %d\n", r.HistorySize)
	ew.printf("\n")
}

func renderTransportSection(ew *errWriter, r *Resolved) {
	ew.printf("[transport]\n")
	ew.printf("  treat_opaque_redirect_as_success = %t\n", r.TreatOpaqueRedirectAsSuccess)
	ew.printf("  request_timeout                  = %q\n", r.RequestTimeout.String())

	if r.UserAgent != "" {
		ew.printf("  user_agent                       = %q\n", r.UserAgent)
	}

	ew.printf("  max_upload_size                  = %q\n", humanize.IBytes(uint64(max(r.MaxUploadSize, 0))))
	ew.printf("\n")
}
