// internal/browser/mirror.go
package browser

import (
	"strings"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/xkilldash9x/shroud/internal/page"
)

// mirror is an x/net/html copy of the tab's DOM keyed by CDP node id. Shadow roots, frame
// documents and template contents are not mirrored. It is not safe for concurrent use; the
// tab guards it with the document lock.
type mirror struct {
	root *html.Node
	byID map[cdp.NodeID]*html.Node
	ids  map[*html.Node]cdp.NodeID
}

// change is what applying one event did to the mirror.
type change struct {
	batch page.Batch
	// unloaded lists mirrored nodes whose children exist in the page but were not sent.
	unloaded []cdp.NodeID
}

func newMirror() *mirror {
	return &mirror{
		byID: make(map[cdp.NodeID]*html.Node),
		ids:  make(map[*html.Node]cdp.NodeID),
	}
}

// reset replaces the whole mirror with the tree rooted at doc.
func (m *mirror) reset(doc *cdp.Node) change {
	m.byID = make(map[cdp.NodeID]*html.Node)
	m.ids = make(map[*html.Node]cdp.NodeID)
	m.root = nil

	var c change
	if doc == nil {
		return c
	}
	m.root = m.build(doc, &c.unloaded)
	return c
}

// nodeID returns the CDP id of a mirrored node.
func (m *mirror) nodeID(n *html.Node) (cdp.NodeID, bool) {
	id, ok := m.ids[n]
	return id, ok
}

func (m *mirror) attached(n *html.Node) bool {
	if _, ok := m.ids[n]; !ok {
		return false
	}
	return page.IsAttached(n, m.root)
}

// detach removes n and its subtree from the mirror.
func (m *mirror) detach(n *html.Node) {
	if n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
	m.forget(n)
}

// apply folds one DOM domain event into the mirror. Events naming nodes the mirror does not
// hold are ignored, which also swallows the echoes of the tab's own edits.
func (m *mirror) apply(ev any) change {
	var c change
	switch e := ev.(type) {
	case *dom.EventSetChildNodes:
		parent := m.byID[e.ParentID]
		if parent == nil {
			return c
		}
		for child := parent.FirstChild; child != nil; {
			next := child.NextSibling
			m.detach(child)
			child = next
		}
		var added []*html.Node
		for _, cn := range e.Nodes {
			if n := m.build(cn, &c.unloaded); n != nil {
				parent.AppendChild(n)
				if n.Type == html.ElementNode {
					added = append(added, n)
				}
			}
		}
		if parent.Type == html.ElementNode {
			if parent.FirstChild != nil {
				c.batch.Added = []*html.Node{parent}
			}
		} else {
			c.batch.Added = added
		}

	case *dom.EventChildNodeInserted:
		parent := m.byID[e.ParentNodeID]
		if parent == nil {
			return c
		}
		n := m.build(e.Node, &c.unloaded)
		if n == nil {
			return c
		}
		if prev := m.byID[e.PreviousNodeID]; prev != nil && prev.Parent == parent {
			parent.InsertBefore(n, prev.NextSibling)
		} else {
			parent.InsertBefore(n, parent.FirstChild)
		}
		switch {
		case n.Type == html.ElementNode:
			c.batch.Added = []*html.Node{n}
		case n.Type == html.TextNode && parent.Type == html.ElementNode:
			c.batch.Added = []*html.Node{parent}
		}

	case *dom.EventChildNodeRemoved:
		n := m.byID[e.NodeID]
		if n == nil {
			return c
		}
		m.detach(n)
		c.batch.Removed = 1

	case *dom.EventCharacterDataModified:
		n := m.byID[e.NodeID]
		if n == nil || n.Data == e.CharacterData {
			return c
		}
		n.Data = e.CharacterData
		c.batch.CharacterData = 1

	case *dom.EventChildNodeCountUpdated:
		if n := m.byID[e.NodeID]; n != nil && n.FirstChild == nil && e.ChildNodeCount > 0 {
			c.unloaded = append(c.unloaded, e.NodeID)
		}

	case *dom.EventAttributeModified:
		if n := m.byID[e.NodeID]; n != nil && n.Type == html.ElementNode {
			page.SetAttr(n, e.Name, e.Value, false)
		}

	case *dom.EventAttributeRemoved:
		if n := m.byID[e.NodeID]; n != nil && n.Type == html.ElementNode {
			page.SetAttr(n, e.Name, "", true)
		}
	}
	return c
}

// build converts cn and whatever part of its subtree was sent, registering every node.
// It returns nil for node types the mirror does not keep.
func (m *mirror) build(cn *cdp.Node, unloaded *[]cdp.NodeID) *html.Node {
	if cn == nil {
		return nil
	}
	n := convert(cn)
	if n == nil {
		return nil
	}
	if old := m.byID[cn.NodeID]; old != nil {
		m.detach(old)
	}
	m.byID[cn.NodeID] = n
	m.ids[n] = cn.NodeID

	for _, child := range cn.Children {
		if c := m.build(child, unloaded); c != nil {
			n.AppendChild(c)
		}
	}
	if len(cn.Children) == 0 && cn.ChildNodeCount > 0 {
		*unloaded = append(*unloaded, cn.NodeID)
	}
	return n
}

func (m *mirror) forget(n *html.Node) {
	if id, ok := m.ids[n]; ok {
		delete(m.ids, n)
		if m.byID[id] == n {
			delete(m.byID, id)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		m.forget(c)
	}
}

func convert(cn *cdp.Node) *html.Node {
	switch cn.NodeType {
	case cdp.NodeTypeDocument:
		return &html.Node{Type: html.DocumentNode}
	case cdp.NodeTypeDocumentType:
		return &html.Node{Type: html.DoctypeNode, Data: strings.ToLower(cn.NodeName)}
	case cdp.NodeTypeText, cdp.NodeTypeCDATA:
		return &html.Node{Type: html.TextNode, Data: cn.NodeValue}
	case cdp.NodeTypeComment:
		return &html.Node{Type: html.CommentNode, Data: cn.NodeValue}
	case cdp.NodeTypeElement:
		name := cn.LocalName
		if name == "" {
			name = strings.ToLower(cn.NodeName)
		}
		n := &html.Node{Type: html.ElementNode, Data: name, DataAtom: atom.Lookup([]byte(name))}
		for i := 0; i+1 < len(cn.Attributes); i += 2 {
			n.Attr = append(n.Attr, html.Attribute{Key: cn.Attributes[i], Val: cn.Attributes[i+1]})
		}
		return n
	default:
		return nil
	}
}
