// Package records decodes and classifies the line-delimited JSON interchange
// files written by the upstream terminology and ortholog builders.
//
// Every line is an object with exactly one top-level tag: "metadata", "term"
// or "ortholog". A stream starts with one metadata line.
package records

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Tags recognised at the top level of an interchange line.
const (
	TagMetadata = "metadata"
	TagTerm     = "term"
	TagOrtholog = "ortholog"
)

// Record is one of *Metadata, *Term or *Ortholog.
type Record interface {
	Tag() string
}

// Metadata describes the dataset a stream was built from.
type Metadata struct {
	Source      string `json:"source"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version,omitempty"`
	SrcURL      string `json:"src_url,omitempty"`
	Type        string `json:"type,omitempty"`
}

// Term is a single terminology entry.
type Term struct {
	Namespace    string   `json:"namespace"`
	ID           string   `json:"id"`
	SpeciesID    string   `json:"species_id,omitempty"`
	Equivalences []string `json:"equivalences,omitempty"`
	Label        string   `json:"label,omitempty"`
	Name         string   `json:"name,omitempty"`
	AltIDs       []string `json:"alt_ids,omitempty"`
	ObsoleteIDs  []string `json:"obsolete_ids,omitempty"`
}

// Gene is one endpoint of an ortholog relationship.
type Gene struct {
	ID    string `json:"id"`
	TaxID string `json:"tax_id"`
}

// Ortholog links a subject gene to its ortholog in another species.
type Ortholog struct {
	Subject Gene `json:"subject"`
	Object  Gene `json:"object"`
}

func (*Metadata) Tag() string { return TagMetadata }
func (*Term) Tag() string     { return TagTerm }
func (*Ortholog) Tag() string { return TagOrtholog }

// ClassificationError reports a line that does not carry exactly one known tag
// or whose tagged body cannot be decoded.
type ClassificationError struct {
	// Line is the 1-based position of the record among the non-blank lines
	// of its stream, or 0 when unknown.
	Line   int
	Reason string
	Err    error
}

func (e *ClassificationError) Error() string {
	msg := "classifying record"
	if e.Line > 0 {
		msg = fmt.Sprintf("classifying record on line %d", e.Line)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", msg, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", msg, e.Reason)
}

func (e *ClassificationError) Unwrap() error { return e.Err }

// Decode parses one interchange line into its Record.
func Decode(line []byte) (Record, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(line, &obj); err != nil {
		return nil, &ClassificationError{Reason: "invalid json", Err: err}
	}

	var tags []string
	for _, tag := range []string{TagMetadata, TagTerm, TagOrtholog} {
		if _, ok := obj[tag]; ok {
			tags = append(tags, tag)
		}
	}

	switch len(tags) {
	case 0:
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return nil, &ClassificationError{Reason: fmt.Sprintf("no known tag among keys [%s]", strings.Join(keys, ", "))}
	case 1:
	default:
		return nil, &ClassificationError{Reason: fmt.Sprintf("ambiguous record with tags [%s]", strings.Join(tags, ", "))}
	}

	body := obj[tags[0]]
	if string(bytes.TrimSpace(body)) == "null" {
		return nil, &ClassificationError{Reason: tags[0] + " body is null"}
	}

	var rec Record
	switch tags[0] {
	case TagMetadata:
		rec = &Metadata{}
	case TagTerm:
		rec = &Term{}
	case TagOrtholog:
		rec = &Ortholog{}
	}
	if err := json.Unmarshal(body, rec); err != nil {
		return nil, &ClassificationError{Reason: "decoding " + tags[0], Err: err}
	}
	if reason := missingField(rec); reason != "" {
		return nil, &ClassificationError{Reason: reason}
	}
	return rec, nil
}

// missingField names the first required identifier rec lacks.
func missingField(rec Record) string {
	switch r := rec.(type) {
	case *Term:
		if r.ID == "" {
			return "term id is required"
		}
	case *Ortholog:
		if r.Subject.ID == "" {
			return "ortholog subject.id is required"
		}
		if r.Object.ID == "" {
			return "ortholog object.id is required"
		}
	}
	return ""
}
