package graph

// SQLite schema DDL constants

const schemaNodes = `
CREATE TABLE IF NOT EXISTS nodes (
    collection TEXT NOT NULL,
    key TEXT NOT NULL,
    name TEXT NOT NULL,
    attrs TEXT,
    PRIMARY KEY (collection, key)
)`

const schemaEdges = `
CREATE TABLE IF NOT EXISTS edges (
    collection TEXT NOT NULL,
    from_ref TEXT NOT NULL,
    to_ref TEXT NOT NULL,
    type TEXT NOT NULL,
    source TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (collection, from_ref, to_ref, type, source)
)`

// Index definitions
const indexNodesName = `CREATE INDEX IF NOT EXISTS idx_nodes_name ON nodes(name)`
const indexEdgesFrom = `CREATE INDEX IF NOT EXISTS idx_edges_from ON edges(from_ref)`
const indexEdgesTo = `CREATE INDEX IF NOT EXISTS idx_edges_to ON edges(to_ref)`
const indexEdgesType = `CREATE INDEX IF NOT EXISTS idx_edges_type ON edges(type)`

// SQLite pragmas for bulk loading
const pragmaWAL = `PRAGMA journal_mode=WAL`
const pragmaBusyTimeout = `PRAGMA busy_timeout=5000`
const pragmaSynchronous = `PRAGMA synchronous=NORMAL`

// allSchemaStatements returns all schema DDL in order
func allSchemaStatements() []string {
	return []string{
		schemaNodes,
		schemaEdges,
		indexNodesName,
		indexEdgesFrom,
		indexEdgesTo,
		indexEdgesType,
	}
}

// allPragmas returns all pragma statements
func allPragmas() []string {
	return []string{
		pragmaWAL,
		pragmaBusyTimeout,
		pragmaSynchronous,
	}
}
