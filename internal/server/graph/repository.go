package graph

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrUnknownBackend is returned by Open for an unsupported backend name.
	ErrUnknownBackend = errors.New("unknown graph backend")
	// ErrInvalidCollection is returned for collection names that cannot be
	// used as table values or labels.
	ErrInvalidCollection = errors.New("invalid collection name")
	// ErrDanglingEdge is returned when an edge references a node that has not
	// been stored.
	ErrDanglingEdge = errors.New("edge references missing node")
)

// Store defines the interface for graph storage backends.
// Neo4j, SQLite and the in-memory store implement it.
type Store interface {
	// InsertBatch upserts docs into collection. Nodes are upserted by key;
	// edges are unique on (from, to, type, source). A batch is applied
	// atomically where the backend supports it.
	InsertBatch(ctx context.Context, collection string, docs []Document) error

	// Truncate removes every document in the named collections.
	Truncate(ctx context.Context, collections ...string) error

	// Count returns the number of documents stored in collection.
	Count(ctx context.Context, collection string) (int, error)

	Close(ctx context.Context) error
}

// Backend names accepted by Open.
const (
	BackendNeo4j  = "neo4j"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Config holds graph store connection configuration
type Config struct {
	Backend     string
	URI         string
	Username    string
	Password    string
	Database    string
	MaxPoolSize int
	SQLitePath  string
}

// Open connects to the backend named in cfg.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case BackendNeo4j:
		return NewNeo4j(ctx, cfg)
	case BackendSQLite, "":
		return NewSQLite(ctx, cfg.SQLitePath)
	case BackendMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

var collectionPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

func validateCollection(name string) error {
	if !collectionPattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidCollection, name)
	}
	return nil
}

// checkBatch verifies every document belongs to collection.
func checkBatch(collection string, docs []Document) error {
	if err := validateCollection(collection); err != nil {
		return err
	}
	for i, doc := range docs {
		if doc.CollectionName() != collection {
			return fmt.Errorf("document %d belongs to %q, not %q", i, doc.CollectionName(), collection)
		}
	}
	return nil
}
