package graph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/systemshift/bioref/internal/keys"
)

// Neo4jStore implements Store on Neo4j. Node collections become labels;
// edge collections become a "collection" property on relationships whose
// type is the upper-cased edge type.
type Neo4jStore struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewNeo4j creates a new Neo4j store
func NewNeo4j(ctx context.Context, cfg Config) (*Neo4jStore, error) {
	maxPool := cfg.MaxPoolSize
	if maxPool <= 0 {
		maxPool = 50
	}

	driver, err := neo4j.NewDriverWithContext(
		cfg.URI,
		neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
		func(c *neo4j.Config) {
			c.MaxConnectionPoolSize = maxPool
			c.SocketConnectTimeout = 10 * time.Second
		},
	)
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}

	// Verify connectivity
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("connecting to neo4j: %w", err)
	}

	return &Neo4jStore{driver: driver, database: cfg.Database}, nil
}

// Close closes the Neo4j connection
func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

func (s *Neo4jStore) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database, AccessMode: mode})
}

// EnsureIndexes creates a uniqueness constraint on key for each node collection
func (s *Neo4jStore) EnsureIndexes(ctx context.Context, nodeCollections ...string) error {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	for _, name := range nodeCollections {
		if err := validateCollection(name); err != nil {
			return err
		}
		query := fmt.Sprintf("CREATE CONSTRAINT %s_key IF NOT EXISTS FOR (n:%s) REQUIRE n.key IS UNIQUE", name, quote(name))
		result, err := session.Run(ctx, query, nil)
		if err != nil {
			return fmt.Errorf("creating constraint on %s: %w", name, err)
		}
		if _, err := result.Consume(ctx); err != nil {
			return fmt.Errorf("creating constraint on %s: %w", name, err)
		}
	}
	return nil
}

// InsertBatch upserts a batch in a single write transaction
func (s *Neo4jStore) InsertBatch(ctx context.Context, collection string, docs []Document) error {
	if err := checkBatch(collection, docs); err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}

	nodeRows, edgeGroups, err := neo4jRows(docs)
	if err != nil {
		return err
	}

	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if len(nodeRows) > 0 {
			query := fmt.Sprintf(`
				UNWIND $rows AS row
				MERGE (n:%s {key: row.key})
				SET n.name = row.name, n += row.attrs
			`, quote(collection))
			if _, err := tx.Run(ctx, query, map[string]any{"rows": nodeRows}); err != nil {
				return nil, fmt.Errorf("merging nodes: %w", err)
			}
		}

		for g, rows := range edgeGroups {
			query := fmt.Sprintf(`
				UNWIND $rows AS row
				MATCH (a:%s {key: row.from})
				MATCH (b:%s {key: row.to})
				MERGE (a)-[r:%s {collection: $collection, source: row.source}]->(b)
				RETURN count(r) AS merged
			`, quote(g.fromLabel), quote(g.toLabel), quote(g.relType))
			result, err := tx.Run(ctx, query, map[string]any{"rows": rows, "collection": collection})
			if err != nil {
				return nil, fmt.Errorf("merging %s edges: %w", g.relType, err)
			}
			record, err := result.Single(ctx)
			if err != nil {
				return nil, fmt.Errorf("merging %s edges: %w", g.relType, err)
			}
			merged, _ := record.Get("merged")
			if n, ok := merged.(int64); ok && int(n) < len(rows) {
				return nil, fmt.Errorf("%w: %d of %d %s edges had no endpoints", ErrDanglingEdge, len(rows)-int(n), len(rows), g.relType)
			}
		}
		return nil, nil
	})

	return err
}

type edgeGroup struct {
	fromLabel string
	toLabel   string
	relType   string
}

func neo4jRows(docs []Document) ([]map[string]any, map[edgeGroup][]map[string]any, error) {
	var nodeRows []map[string]any
	edgeGroups := make(map[edgeGroup][]map[string]any)

	for _, doc := range docs {
		switch d := doc.(type) {
		case *Node:
			attrs := make(map[string]any, len(d.Attrs))
			for k, v := range d.Attrs {
				attrs[k] = v
			}
			nodeRows = append(nodeRows, map[string]any{"key": d.Key, "name": d.Name, "attrs": attrs})
		case *Edge:
			fromColl, fromKey, ok1 := keys.SplitRef(d.From)
			toColl, toKey, ok2 := keys.SplitRef(d.To)
			if !ok1 || !ok2 {
				return nil, nil, fmt.Errorf("%w: malformed reference %q -> %q", ErrDanglingEdge, d.From, d.To)
			}
			for _, name := range []string{fromColl, toColl} {
				if err := validateCollection(name); err != nil {
					return nil, nil, err
				}
			}
			relType := strings.ToUpper(d.Type)
			if err := validateCollection(relType); err != nil {
				return nil, nil, fmt.Errorf("edge type %q: %w", d.Type, err)
			}
			g := edgeGroup{fromLabel: fromColl, toLabel: toColl, relType: relType}
			edgeGroups[g] = append(edgeGroups[g], map[string]any{"from": fromKey, "to": toKey, "source": d.Source})
		default:
			return nil, nil, fmt.Errorf("unsupported document %T", doc)
		}
	}
	return nodeRows, edgeGroups, nil
}

// Truncate deletes every node labelled with, and relationship tagged with, the named collections
func (s *Neo4jStore) Truncate(ctx context.Context, collections ...string) error {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	for _, name := range collections {
		if err := validateCollection(name); err != nil {
			return err
		}
		// CALL ... IN TRANSACTIONS needs an auto-commit transaction
		queries := []string{
			`MATCH ()-[r {collection: $collection}]->() CALL { WITH r DELETE r } IN TRANSACTIONS OF 10000 ROWS`,
			fmt.Sprintf(`MATCH (n:%s) CALL { WITH n DETACH DELETE n } IN TRANSACTIONS OF 10000 ROWS`, quote(name)),
		}
		for _, query := range queries {
			result, err := session.Run(ctx, query, map[string]any{"collection": name})
			if err != nil {
				return fmt.Errorf("truncating %s: %w", name, err)
			}
			if _, err := result.Consume(ctx); err != nil {
				return fmt.Errorf("truncating %s: %w", name, err)
			}
		}
	}
	return nil
}

// Count returns the number of nodes and relationships in collection
func (s *Neo4jStore) Count(ctx context.Context, collection string) (int, error) {
	if err := validateCollection(collection); err != nil {
		return 0, err
	}

	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := fmt.Sprintf(`
			CALL { MATCH (n:%s) RETURN count(n) AS c
			       UNION ALL
			       MATCH ()-[r {collection: $collection}]->() RETURN count(r) AS c }
			RETURN sum(c) AS total
		`, quote(collection))
		res, err := tx.Run(ctx, query, map[string]any{"collection": collection})
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		total, _ := record.Get("total")
		n, _ := total.(int64)
		return int(n), nil
	})
	if err != nil {
		return 0, fmt.Errorf("counting %s: %w", collection, err)
	}
	return result.(int), nil
}

// quote escapes a label or relationship type for interpolation into Cypher.
func quote(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}
