package appliance

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"

	"github.com/tonimelisma/tbgwctl/internal/markup"
)

// List scrapes the listing page for one kind.
func (c *Client) List(ctx context.Context, kind Kind) ([]Resource, error) {
	raw, err := c.FetchPage(ctx, ListingPath(c.fileDBID))
	if err != nil {
		return nil, fmt.Errorf("listing %s files: %w", kind, err)
	}

	res, err := ParseFileTable(raw, kind, c.fileDBID)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("listed resources",
		slog.String("kind", kind.String()),
		slog.Int("count", len(res)),
	)

	return res, nil
}

// ListAll lists every kind. The listings are read-only and independent, so
// they run concurrently; this is the only concurrency the client allows.
func (c *Client) ListAll(ctx context.Context) (map[Kind][]Resource, error) {
	kinds := Kinds()
	lists := make([][]Resource, len(kinds))

	g, gctx := errgroup.WithContext(ctx)

	for i, k := range kinds {
		g.Go(func() error {
			res, err := c.List(gctx, k)
			if err != nil {
				return err
			}

			lists[i] = res

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[Kind][]Resource, len(kinds))
	for i, k := range kinds {
		out[k] = lists[i]
	}

	return out, nil
}

// ParseFileTable extracts the records of one kind from the listing page.
// Rows are taken only from the first table after the kind's section label,
// and the search stops at any other kind's label, so a section never picks
// up another section's rows. A page without the label yields no records.
func ParseFileTable(raw string, kind Kind, db int) ([]Resource, error) {
	doc, err := markup.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("appliance: parsing listing: %w", err)
	}

	label, ok := doc.First(markup.TextContains(kind.SectionLabel()))
	if !ok {
		return []Resource{}, nil
	}

	table, ok := doc.After(label, markup.Tag("table"), otherSectionLabel(kind))
	if !ok {
		return []Resource{}, nil
	}

	out := []Resource{}
	seen := make(map[string]bool)

	for _, row := range markup.Within(table, markup.Tag("tr")) {
		r, ok := parseRow(row, kind, db)
		if !ok || seen[r.RemoteID] {
			continue
		}

		seen[r.RemoteID] = true
		out = append(out, r)
	}

	return out, nil
}

func otherSectionLabel(kind Kind) markup.Predicate {
	var preds []markup.Predicate

	for _, k := range Kinds() {
		if k != kind {
			preds = append(preds, markup.TextContains(k.SectionLabel()))
		}
	}

	return markup.Or(preds...)
}

// parseRow reads one table row. Rows without a link into the kind's
// collection (headers, spacers) are skipped.
func parseRow(row *html.Node, kind Kind, db int) (Resource, bool) {
	var (
		id                         string
		editHref, exportHref, href string
		linkText                   string
	)

	for _, a := range markup.Within(row, markup.Tag("a")) {
		raw, _ := markup.Attr(a, "href")

		linkID, suffix, ok := recordFromHref(raw, kind)
		if !ok {
			continue
		}

		if id == "" {
			id = linkID
		}

		if linkID != id {
			continue
		}

		p := hrefPath(raw)

		switch {
		case suffix == "edit":
			editHref = p
			linkText = markup.Text(a)
		case suffix == "export":
			exportHref = p
		case suffix == "" && isDeleteAffordance(a):
			href = p
		case suffix == "" && linkText == "":
			linkText = markup.Text(a)
		}
	}

	if id == "" {
		return Resource{}, false
	}

	name := ""
	for _, td := range markup.Within(row, markup.Tag("td")) {
		if t := markup.Text(td); t != "" {
			name = t
			break
		}
	}

	if name == "" {
		name = linkText
	}

	r := newResource(db, kind, id, norm.NFC.String(name))

	if editHref != "" {
		r.EditPath = editHref
	}

	if exportHref != "" {
		r.ExportPath = exportHref
	}

	if href != "" {
		r.DeletePath = href
	}

	return r, true
}

// recordFromHref parses ".../{collection}/{id}[/{suffix}]".
func recordFromHref(raw string, kind Kind) (id, suffix string, ok bool) {
	p := hrefPath(raw)
	marker := "/" + kind.Collection() + "/"

	idx := strings.Index(p, marker)
	if idx < 0 {
		return "", "", false
	}

	parts := strings.SplitN(strings.Trim(p[idx+len(marker):], "/"), "/", 2)
	if parts[0] == "" || parts[0] == "new" {
		return "", "", false
	}

	if len(parts) == 2 {
		suffix = parts[1]
	}

	return parts[0], suffix, true
}

func hrefPath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	return u.Path
}

// FindByName returns the record whose display name matches name, comparing
// in Unicode NFC and falling back to a case-insensitive match.
func FindByName(resources []Resource, name string) (Resource, bool) {
	want := norm.NFC.String(strings.TrimSpace(name))

	for _, r := range resources {
		if r.DisplayName == want {
			return r, true
		}
	}

	for _, r := range resources {
		if strings.EqualFold(r.DisplayName, want) {
			return r, true
		}
	}

	return Resource{}, false
}
