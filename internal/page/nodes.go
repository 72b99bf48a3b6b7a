package page

import (
	"strings"

	"golang.org/x/net/html"
)

// Attr returns the value of the named attribute and whether it is present.
// Attribute names are compared case-insensitively.
func Attr(n *html.Node, name string) (string, bool) {
	if n == nil {
		return "", false
	}
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, name) {
			return a.Val, true
		}
	}
	return "", false
}

// SetAttr sets or removes (when remove is true) the named attribute in place.
func SetAttr(n *html.Node, name, value string, remove bool) {
	for i, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, name) {
			if remove {
				n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			} else {
				n.Attr[i].Val = value
			}
			return
		}
	}
	if !remove {
		n.Attr = append(n.Attr, html.Attribute{Key: name, Val: value})
	}
}

// TagName returns the lowercase tag of an element node, or "" for anything else.
func TagName(n *html.Node) string {
	if n == nil || n.Type != html.ElementNode {
		return ""
	}
	return strings.ToLower(n.Data)
}

// IsAttached reports whether n hangs off doc, following parent links upward.
func IsAttached(n, doc *html.Node) bool {
	if n == nil || doc == nil {
		return false
	}
	for cur := n; cur != nil; cur = cur.Parent {
		if cur == doc {
			return true
		}
	}
	return false
}

// Contains reports whether descendant sits inside ancestor (or is ancestor itself).
func Contains(ancestor, descendant *html.Node) bool {
	for cur := descendant; cur != nil; cur = cur.Parent {
		if cur == ancestor {
			return true
		}
	}
	return false
}

// FindElement returns the first element in document order with the given tag, or nil.
func FindElement(root *html.Node, tag string) *html.Node {
	if root == nil {
		return nil
	}
	if TagName(root) == tag {
		return root
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if found := FindElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}
