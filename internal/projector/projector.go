// Package projector turns classified interchange records into graph documents.
package projector

import (
	"fmt"
	"iter"
	"strings"

	"github.com/systemshift/bioref/internal/keys"
	"github.com/systemshift/bioref/internal/logger"
	"github.com/systemshift/bioref/internal/records"
	"github.com/systemshift/bioref/internal/server/graph"
)

// Edge types.
const (
	EquivalentTo = "equivalent_to"
	OrthologTo   = "ortholog_to"
)

// Collections names the store collections documents are written to.
type Collections struct {
	EquivalenceNodes string `yaml:"equivalence_nodes"`
	EquivalenceEdges string `yaml:"equivalence_edges"`
	OrthologNodes    string `yaml:"ortholog_nodes"`
	OrthologEdges    string `yaml:"ortholog_edges"`
}

// DefaultCollections are the collection names used when none are configured.
var DefaultCollections = Collections{
	EquivalenceNodes: "equivalence_nodes",
	EquivalenceEdges: "equivalence_edges",
	OrthologNodes:    "ortholog_nodes",
	OrthologEdges:    "ortholog_edges",
}

// All lists every collection, node collections first.
func (c Collections) All() []string {
	return []string{c.EquivalenceNodes, c.OrthologNodes, c.EquivalenceEdges, c.OrthologEdges}
}

// WithDefaults fills blank names from DefaultCollections.
func (c Collections) WithDefaults() Collections {
	if c.EquivalenceNodes == "" {
		c.EquivalenceNodes = DefaultCollections.EquivalenceNodes
	}
	if c.EquivalenceEdges == "" {
		c.EquivalenceEdges = DefaultCollections.EquivalenceEdges
	}
	if c.OrthologNodes == "" {
		c.OrthologNodes = DefaultCollections.OrthologNodes
	}
	if c.OrthologEdges == "" {
		c.OrthologEdges = DefaultCollections.OrthologEdges
	}
	return c
}

// Projector converts records to nodes and edges. Duplicate nodes are emitted
// as often as they occur; stores upsert them by key.
type Projector struct {
	colls Collections
	keys  *keys.Sanitizer
	log   *logger.Logger
}

// New creates a projector writing to colls.
func New(colls Collections, log *logger.Logger) *Projector {
	return &Projector{colls: colls.WithDefaults(), keys: keys.NewSanitizer(log), log: log}
}

// Project yields the documents for recs. Ortholog edges are attributed to the
// source of the most recent metadata record; a stream whose orthologs precede
// any metadata gets empty provenance. An upstream error is passed on and ends
// the sequence.
func (p *Projector) Project(recs iter.Seq2[records.Record, error]) iter.Seq2[graph.Document, error] {
	return func(yield func(graph.Document, error) bool) {
		source := ""
		seenMetadata := false
		warned := false

		for rec, err := range recs {
			if err != nil {
				yield(nil, err)
				return
			}

			var docs []graph.Document
			switch r := rec.(type) {
			case *records.Metadata:
				source = r.Source
				seenMetadata = true
				continue
			case *records.Term:
				docs = p.term(r)
			case *records.Ortholog:
				if !seenMetadata && !warned {
					p.log.Warn("ortholog records precede metadata; edges will have no source")
					warned = true
				}
				docs = p.ortholog(r, source)
			default:
				yield(nil, fmt.Errorf("projecting %T: unsupported record", rec))
				return
			}

			for _, doc := range docs {
				if !yield(doc, nil) {
					return
				}
			}
		}
	}
}

func (p *Projector) node(coll, name string, attrs map[string]string) *graph.Node {
	return &graph.Node{Collection: coll, Key: p.keys.Sanitize(name), Name: name, Attrs: attrs}
}

func (p *Projector) term(t *records.Term) []graph.Document {
	termNode := p.node(p.colls.EquivalenceNodes, t.ID, map[string]string{"namespace": prefix(t.ID)})
	docs := make([]graph.Document, 0, 1+2*len(t.Equivalences))
	docs = append(docs, termNode)

	for _, eqv := range t.Equivalences {
		eqvNode := p.node(p.colls.EquivalenceNodes, eqv, map[string]string{"namespace": prefix(eqv)})
		docs = append(docs, eqvNode, &graph.Edge{
			Collection: p.colls.EquivalenceEdges,
			From:       termNode.Ref(),
			To:         eqvNode.Ref(),
			Type:       EquivalentTo,
			Source:     t.Namespace,
		})
	}
	return docs
}

func (p *Projector) ortholog(o *records.Ortholog, source string) []graph.Document {
	subj := p.node(p.colls.OrthologNodes, o.Subject.ID, map[string]string{"tax_id": o.Subject.TaxID})
	obj := p.node(p.colls.OrthologNodes, o.Object.ID, map[string]string{"tax_id": o.Object.TaxID})
	return []graph.Document{subj, obj, &graph.Edge{
		Collection: p.colls.OrthologEdges,
		From:       subj.Ref(),
		To:         obj.Ref(),
		Type:       OrthologTo,
		Source:     source,
	}}
}

// prefix returns the namespace prefix of an identifier such as HGNC:1100.
func prefix(id string) string {
	ns, _, ok := strings.Cut(id, ":")
	if !ok {
		return ""
	}
	return ns
}
