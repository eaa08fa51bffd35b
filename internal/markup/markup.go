// Package markup parses server-rendered HTML once into a node tree and answers
// structural queries against it: by tag, attribute, and text content. Callers
// express scraping rules as ordered lists of predicates instead of regular
// expressions over raw markup, so attribute order, quoting, and whitespace
// differences between appliance firmware versions do not matter.
package markup

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Document is a parsed HTML page.
type Document struct {
	doc *goquery.Document
}

// Parse builds a Document from raw markup. The HTML5 parser is lenient, so
// only reader failures produce an error.
func Parse(raw string) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("markup: parsing document: %w", err)
	}

	return &Document{doc: doc}, nil
}

// Find runs a CSS selector against the whole document.
func (d *Document) Find(selector string) *goquery.Selection {
	return d.doc.Find(selector)
}

// Root returns the document node.
func (d *Document) Root() *html.Node {
	return d.doc.Nodes[0]
}

// First returns the first node in document order that satisfies pred.
func (d *Document) First(pred Predicate) (*html.Node, bool) {
	var found *html.Node

	walk(d.Root(), func(n *html.Node) bool {
		if pred(n) {
			found = n
			return false
		}

		return true
	})

	return found, found != nil
}

// All returns every node in document order that satisfies pred.
func (d *Document) All(pred Predicate) []*html.Node {
	var out []*html.Node

	walk(d.Root(), func(n *html.Node) bool {
		if pred(n) {
			out = append(out, n)
		}

		return true
	})

	return out
}

// After returns the first node that follows start in document order (its own
// descendants excluded) and satisfies pred. The walk gives up at the first
// node matching stop, which may be nil.
func (d *Document) After(start *html.Node, pred, stop Predicate) (*html.Node, bool) {
	var found *html.Node

	passed := false

	walk(d.Root(), func(n *html.Node) bool {
		if n == start {
			passed = true
			return true
		}

		if !passed || isDescendant(n, start) {
			return true
		}

		if stop != nil && stop(n) {
			return false
		}

		if pred(n) {
			found = n
			return false
		}

		return true
	})

	return found, found != nil
}

// Within returns every descendant of root that satisfies pred.
func Within(root *html.Node, pred Predicate) []*html.Node {
	var out []*html.Node

	for c := root.FirstChild; c != nil; c = c.NextSibling {
		walk(c, func(n *html.Node) bool {
			if pred(n) {
				out = append(out, n)
			}

			return true
		})
	}

	return out
}

// Closest returns the nearest ancestor of n (n included) satisfying pred.
func Closest(n *html.Node, pred Predicate) *html.Node {
	for cur := n; cur != nil; cur = cur.Parent {
		if pred(cur) {
			return cur
		}
	}

	return nil
}

// Attr returns the value of the named attribute. Keys compare
// case-insensitively because the HTML parser lowercases them but attributes
// built by hand in tests may not be.
func Attr(n *html.Node, key string) (string, bool) {
	if n == nil {
		return "", false
	}

	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val, true
		}
	}

	return "", false
}

// Text returns the text content of n with runs of whitespace collapsed.
func Text(n *html.Node) string {
	var b strings.Builder

	walk(n, func(c *html.Node) bool {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
			b.WriteByte(' ')
		}

		return true
	})

	return strings.Join(strings.Fields(b.String()), " ")
}

// walk visits n and its descendants depth-first in document order until
// visit returns false.
func walk(n *html.Node, visit func(*html.Node) bool) bool {
	if !visit(n) {
		return false
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walk(c, visit) {
			return false
		}
	}

	return true
}

func isDescendant(n, ancestor *html.Node) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if p == ancestor {
			return true
		}
	}

	return false
}
