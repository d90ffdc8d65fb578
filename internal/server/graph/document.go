package graph

import (
	"github.com/systemshift/bioref/internal/keys"
)

// Kind distinguishes node documents from edge documents.
type Kind int

const (
	KindNode Kind = iota + 1
	KindEdge
)

func (k Kind) String() string {
	switch k {
	case KindNode:
		return "node"
	case KindEdge:
		return "edge"
	default:
		return "unknown"
	}
}

// Document is a unit of work for a Store: a *Node or an *Edge bound to the
// collection it belongs in.
type Document interface {
	Kind() Kind
	CollectionName() string
	// ID identifies the document within its collection. Two documents with
	// the same collection and ID are the same stored entity.
	ID() string
}

// Node is a vertex. Key is derived from Name with keys.Sanitize.
type Node struct {
	Collection string            `json:"-"`
	Key        string            `json:"_key"`
	Name       string            `json:"name"`
	Attrs      map[string]string `json:"attrs,omitempty"`
}

// NewNode builds a node whose key is the sanitized name.
func NewNode(collection, name string, attrs map[string]string) *Node {
	return &Node{Collection: collection, Key: keys.Sanitize(name), Name: name, Attrs: attrs}
}

func (n *Node) Kind() Kind             { return KindNode }
func (n *Node) CollectionName() string { return n.Collection }
func (n *Node) ID() string             { return n.Key }

// Ref returns the collection/key reference edges use to point at n.
func (n *Node) Ref() string {
	return keys.Ref(n.Collection, n.Key)
}

// Edge is a directed relationship between two node references.
type Edge struct {
	Collection string `json:"-"`
	From       string `json:"_from"`
	To         string `json:"_to"`
	Type       string `json:"type"`
	Source     string `json:"source"`
}

func (e *Edge) Kind() Kind             { return KindEdge }
func (e *Edge) CollectionName() string { return e.Collection }
func (e *Edge) ID() string             { return e.From + "|" + e.Type + "|" + e.Source + "|" + e.To }
