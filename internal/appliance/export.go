package appliance

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// Export downloads the raw content of one record. The export endpoint is
// preferred over scraping the edit form's textarea, which mangles CSV.
func (c *Client) Export(ctx context.Context, kind Kind, id string) ([]byte, error) {
	return c.ExportFrom(ctx, ExportPath(c.fileDBID, kind, id))
}

// ExportFrom downloads raw content from an export path taken from a listing.
func (c *Client) ExportFrom(ctx context.Context, path string) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return nil, c.classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	body, err := readBody(resp)
	if err != nil {
		return nil, &Error{Err: ErrNetwork, StatusCode: resp.StatusCode, Message: err.Error()}
	}

	switch {
	case isRedirect(resp.StatusCode):
		return nil, redirectError(resp)

	case isSuccess(resp.StatusCode):
		if strings.Contains(resp.Header.Get("Content-Type"), "html") {
			if p, perr := parsePage(body); perr == nil && p.isLoginForm() {
				return nil, &Error{Err: ErrSession, StatusCode: resp.StatusCode, Message: "login page returned instead of export"}
			}
		}

		c.logger.Debug("exported record",
			slog.String("path", path),
			slog.Int("bytes", len(body)),
		)

		return body, nil

	default:
		return nil, fmt.Errorf("exporting %s: %w", path, statusError(resp.StatusCode, body))
	}
}
