package markup

import (
	"strings"

	"golang.org/x/net/html"
)

// Predicate reports whether a node matches a query.
type Predicate func(n *html.Node) bool

// Tag matches element nodes with the given (lowercase) tag name.
func Tag(name string) Predicate {
	return func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == name
	}
}

// HasAttr matches nodes carrying the named attribute.
func HasAttr(key string) Predicate {
	return func(n *html.Node) bool {
		_, ok := Attr(n, key)
		return ok
	}
}

// AttrEquals matches nodes whose attribute equals val, ignoring case and
// surrounding whitespace.
func AttrEquals(key, val string) Predicate {
	return func(n *html.Node) bool {
		v, ok := Attr(n, key)
		return ok && strings.EqualFold(strings.TrimSpace(v), val)
	}
}

// AttrContains matches nodes whose attribute contains sub, ignoring case.
func AttrContains(key, sub string) Predicate {
	lower := strings.ToLower(sub)

	return func(n *html.Node) bool {
		v, ok := Attr(n, key)
		return ok && strings.Contains(strings.ToLower(v), lower)
	}
}

// AnyAttrContains matches nodes where any attribute whose key starts with
// prefix contains sub. Used for inline handlers (prefix "on") and data
// attributes (prefix "data-").
func AnyAttrContains(prefix, sub string) Predicate {
	lower := strings.ToLower(sub)

	return func(n *html.Node) bool {
		for _, a := range n.Attr {
			if strings.HasPrefix(strings.ToLower(a.Key), prefix) &&
				strings.Contains(strings.ToLower(a.Val), lower) {
				return true
			}
		}

		return false
	}
}

// TextContains matches text nodes containing sub.
func TextContains(sub string) Predicate {
	return func(n *html.Node) bool {
		return n.Type == html.TextNode && strings.Contains(n.Data, sub)
	}
}

// OwnTextContains matches elements whose direct text children contain sub.
func OwnTextContains(sub string) Predicate {
	return func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return false
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode && strings.Contains(c.Data, sub) {
				return true
			}
		}

		return false
	}
}

// And matches when every predicate matches.
func And(preds ...Predicate) Predicate {
	return func(n *html.Node) bool {
		for _, p := range preds {
			if !p(n) {
				return false
			}
		}

		return true
	}
}

// Or matches when any predicate matches.
func Or(preds ...Predicate) Predicate {
	return func(n *html.Node) bool {
		for _, p := range preds {
			if p(n) {
				return true
			}
		}

		return false
	}
}

// Not inverts a predicate.
func Not(p Predicate) Predicate {
	return func(n *html.Node) bool {
		return !p(n)
	}
}
