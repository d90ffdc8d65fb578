package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemshift/bioref/internal/fetch"
	"github.com/systemshift/bioref/internal/server/graph"
	"github.com/systemshift/bioref/internal/server/subscriptions"
)

const sample = `
data_dir: /srv/bel/data
downloads_dir: /srv/bel/downloads
species: [TAX:9606, TAX:10090]
batch_size: 500
graph:
  backend: neo4j
  uri: bolt://graph:7687
collections:
  ortholog_nodes: genes
sources:
  - name: eg
    protocol: ftp
    server: ftp.ncbi.nlm.nih.gov
    path: /gene/DATA/gene_history
    compress: true
  - name: do
    protocol: https
    server: https://raw.githubusercontent.com
    path: /DiseaseOntology/HumanDiseaseOntology/main/src/ontology/doid.json
    max_age_days: 30
webhooks:
  - name: ops
    webhook: http://hooks.internal/bioref
    event_types: [load.failed]
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "bioref.yml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)

	assert.Equal(t, "/srv/bel/data", cfg.DataDir)
	assert.Equal(t, 500, cfg.BatchSize)
	assert.Equal(t, 4, cfg.Concurrency, "defaults survive")
	assert.Equal(t, "neo4j", cfg.Graph.Backend)
	assert.Equal(t, "neo4j", cfg.Graph.User)
	assert.Equal(t, "genes", cfg.Collections.OrthologNodes)
	assert.Equal(t, "equivalence_nodes", cfg.Collections.EquivalenceNodes)
	assert.True(t, cfg.SpeciesSet().Allows("TAX:10090"))
	assert.False(t, cfg.SpeciesSet().Allows("TAX:7955"))
	assert.Equal(t, "/srv/bel/data/orthologs", cfg.KindDir(KindOrthologs))

	eg, ok := cfg.Source("eg")
	require.True(t, ok)
	assert.Equal(t, fetch.Source{Name: "eg", Protocol: fetch.FTP, Server: "ftp.ncbi.nlm.nih.gov", Path: "/gene/DATA/gene_history"}, eg.Remote())
	assert.Equal(t, "/srv/bel/downloads/eg_gene_history.gz", eg.Cache(cfg.DownloadsDir).Path)
	assert.Equal(t, fetch.Options{MaxAgeDays: 7, Compress: true}, eg.FetchOptions(cfg.MaxAgeDays, false))

	do, ok := cfg.Source("do")
	require.True(t, ok)
	assert.Equal(t, fetch.HTTP, do.Remote().Protocol)
	assert.Equal(t, 30, do.FetchOptions(cfg.MaxAgeDays, true).MaxAgeDays)

	_, ok = cfg.Source("hgnc")
	assert.False(t, ok)

	require.Len(t, cfg.Webhooks, 1)
	assert.Equal(t, "http://hooks.internal/bioref", cfg.Webhooks[0].Webhook)
	assert.Equal(t, []string{"load.failed"}, cfg.Webhooks[0].Pattern.EventTypes)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("BIOREF_SPECIES", "TAX:9606, TAX:10116,")
	t.Setenv("BIOREF_GRAPH_BACKEND", "memory")
	t.Setenv("BIOREF_BATCH_SIZE", "25")
	t.Setenv("NEO4J_PASSWORD", "s3cret")

	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)

	assert.Equal(t, []string{"TAX:9606", "TAX:10116"}, cfg.Species)
	assert.Equal(t, "memory", cfg.Graph.Backend)
	assert.Equal(t, 25, cfg.BatchSize)
	assert.Equal(t, "s3cret", cfg.GraphStore().Password)
}

func TestLoadWithoutFile(t *testing.T) {
	t.Setenv("BIOREF_CONFIG", "")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Defaults().DataDir, cfg.DataDir)
	assert.Empty(t, cfg.Sources)
	assert.True(t, cfg.SpeciesSet().Empty())
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "sources: [unterminated"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	cfg.BatchSize = 0
	cfg.Graph.Backend = "arangodb"
	cfg.Sources = []SourceConfig{
		{Name: "eg", Protocol: "ftp", Server: "ftp.ncbi.nlm.nih.gov", Path: "/gene/DATA/gene_info.gz"},
		{Name: "eg", Protocol: "gopher", Path: "/x"},
		{Protocol: "ftp", Server: "h", Path: "/y"},
	}
	cfg.Webhooks = []subscriptions.Subscription{{Name: "ops"}}

	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, graph.ErrUnknownBackend))
	msg := err.Error()
	assert.Contains(t, msg, "batch_size must be positive")
	assert.Contains(t, msg, `duplicate name "eg"`)
	assert.Contains(t, msg, `unsupported protocol "gopher"`)
	assert.Contains(t, msg, "server and path are required")
	assert.Contains(t, msg, "name is required")
	assert.Contains(t, msg, "webhook URL is required")
}
