package records

import (
	"iter"

	"github.com/systemshift/bioref/internal/logger"
)

// Classifier turns interchange lines into records, dropping terms and
// orthologs outside the species allow-list.
type Classifier struct {
	species SpeciesSet
	log     *logger.Logger
}

// Stats counts what a classification pass saw.
type Stats struct {
	Metadata  int `json:"metadata"`
	Terms     int `json:"terms"`
	Orthologs int `json:"orthologs"`
	Filtered  int `json:"filtered"`
}

// NewClassifier creates a classifier for the given allow-list.
func NewClassifier(species SpeciesSet, log *logger.Logger) *Classifier {
	return &Classifier{species: species, log: log}
}

// Classify yields one record per accepted line. Metadata records are always
// yielded so downstream stages can attribute provenance. The first line that
// cannot be classified is yielded as a *ClassificationError and ends the
// sequence. If stats is non-nil it is updated as the sequence is consumed.
func (c *Classifier) Classify(lines iter.Seq2[[]byte, error], stats *Stats) iter.Seq2[Record, error] {
	if stats == nil {
		stats = &Stats{}
	}
	return func(yield func(Record, error) bool) {
		n := 0
		for line, err := range lines {
			if err != nil {
				yield(nil, err)
				return
			}
			n++

			rec, err := Decode(line)
			if err != nil {
				if ce, ok := err.(*ClassificationError); ok {
					ce.Line = n
				}
				yield(nil, err)
				return
			}

			switch r := rec.(type) {
			case *Metadata:
				stats.Metadata++
				c.log.Info("interchange metadata", "source", r.Source, "version", r.Version, "description", r.Description)
			case *Term:
				if !c.species.Allows(r.SpeciesID) {
					stats.Filtered++
					continue
				}
				stats.Terms++
			case *Ortholog:
				if !c.species.Allows(r.Subject.TaxID) || !c.species.Allows(r.Object.TaxID) {
					stats.Filtered++
					continue
				}
				stats.Orthologs++
			default:
				yield(nil, &ClassificationError{Line: n, Reason: "unhandled record type " + rec.Tag()})
				return
			}

			if !yield(rec, nil) {
				return
			}
		}
	}
}
