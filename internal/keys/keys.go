// Package keys turns arbitrary source identifiers into graph store keys.
//
// A key may only contain ASCII letters, digits and the punctuation
// _ - : . @ ( ) + , = ; $ ! * ' %. Every run of other characters is replaced
// by a single Placeholder, so the mapping is deterministic, many-to-one and
// idempotent.
package keys

import (
	"strings"

	"github.com/systemshift/bioref/internal/logger"
)

// Placeholder replaces each run of disallowed characters.
const Placeholder = '_'

// MaxLength is the longest key graph stores accept. Longer keys are
// reported, not truncated.
const MaxLength = 254

// Sanitizer reports over-long keys through its logger.
type Sanitizer struct {
	log *logger.Logger
}

// NewSanitizer creates a sanitizer that warns through log.
func NewSanitizer(log *logger.Logger) *Sanitizer {
	return &Sanitizer{log: log}
}

var quiet = &Sanitizer{}

// Sanitize converts raw into a key without length diagnostics.
func Sanitize(raw string) string {
	return quiet.Sanitize(raw)
}

// Sanitize converts raw into a key.
func (s *Sanitizer) Sanitize(raw string) string {
	if Valid(raw) {
		s.checkLength(raw)
		return raw
	}

	var b strings.Builder
	b.Grow(len(raw))
	inRun := false
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if allowed(c) {
			b.WriteByte(c)
			inRun = false
			continue
		}
		// multi-byte runes are disallowed byte by byte, which collapses them
		if !inRun {
			b.WriteByte(Placeholder)
			inRun = true
		}
	}

	key := b.String()
	s.checkLength(key)
	return key
}

func (s *Sanitizer) checkLength(key string) {
	if len(key) > MaxLength && s.log != nil {
		s.log.Warn("graph key exceeds maximum length", "len", len(key), "max", MaxLength, "key", key)
	}
}

// Valid reports whether key consists only of allowed characters.
func Valid(key string) bool {
	for i := 0; i < len(key); i++ {
		if !allowed(key[i]) {
			return false
		}
	}
	return true
}

// Ref builds the collection/key reference used by edges.
func Ref(collection, key string) string {
	return collection + "/" + key
}

// SplitRef is the inverse of Ref.
func SplitRef(ref string) (collection, key string, ok bool) {
	return strings.Cut(ref, "/")
}

func allowed(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	switch c {
	case '_', '-', ':', '.', '@', '(', ')', '+', ',', '=', ';', '$', '!', '*', '\'', '%':
		return true
	}
	return false
}
