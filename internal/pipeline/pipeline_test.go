package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemshift/bioref/internal/config"
	"github.com/systemshift/bioref/internal/fetch"
	"github.com/systemshift/bioref/internal/logger"
	"github.com/systemshift/bioref/internal/metrics"
	"github.com/systemshift/bioref/internal/records"
	"github.com/systemshift/bioref/internal/server/graph"
	"github.com/systemshift/bioref/internal/server/subscriptions"
)

const egOrthologs = `{"metadata":{"source":"eg"}}
{"ortholog":{"subject":{"id":"EG:1","tax_id":"TAX:9606"},"object":{"id":"EG:2","tax_id":"TAX:10090"}}}
`

const hgncTerms = `{"metadata":{"source":"HGNC","description":"HGNC symbols","version":"20230101"}}
{"term":{"namespace":"HGNC","id":"HGNC:1100","species_id":"TAX:9606","equivalences":["EG:672","SP:P38398"]}}
{"term":{"namespace":"HGNC","id":"HGNC:1101","species_id":"TAX:9606","equivalences":["EG:675"]}}
`

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Defaults()
	dir := t.TempDir()
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.DownloadsDir = filepath.Join(dir, "downloads")
	cfg.BatchSize = 2
	return cfg
}

func writeInterchange(t *testing.T, cfg config.Config, kind, name, body string) string {
	t.Helper()
	dir := cfg.KindDir(kind)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	p := filepath.Join(dir, name)

	data := []byte(body)
	if strings.HasSuffix(name, ".gz") {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		_, err := zw.Write(data)
		require.NoError(t, err)
		require.NoError(t, zw.Close())
		data = buf.Bytes()
	}
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}

func newRunner(cfg config.Config, store graph.Store) *Runner {
	return NewRunner(cfg, fetch.New(logger.Nop()), store, metrics.New("bioref_test"), logger.Nop())
}

func TestLoadOrthologScenario(t *testing.T) {
	cfg := testConfig(t)
	writeInterchange(t, cfg, config.KindOrthologs, "eg.jsonl.gz", egOrthologs)
	store := graph.NewMemory()

	reports, err := newRunner(cfg, store).Load(context.Background(), LoadOptions{})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, 3, reports[0].Result.Committed)

	var nodes []*graph.Node
	var edges []*graph.Edge
	for _, doc := range store.Snapshot() {
		switch d := doc.(type) {
		case *graph.Node:
			nodes = append(nodes, d)
		case *graph.Edge:
			edges = append(edges, d)
		}
	}
	require.Len(t, nodes, 2)
	require.Len(t, edges, 1)
	assert.Equal(t, "eg", edges[0].Source)
	assert.Equal(t, "ortholog_to", edges[0].Type)
	assert.Equal(t, "ortholog_nodes/EG:1", edges[0].From)
	assert.Equal(t, "TAX:10090", nodes[1].Attrs["tax_id"])
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []subscriptions.Event
}

func (e *recordingEmitter) Emit(ev subscriptions.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *recordingEmitter) summary() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []string
	for _, ev := range e.events {
		out = append(out, ev.Type+":"+ev.Source)
	}
	return out
}

func TestLoadEmitsCompletion(t *testing.T) {
	cfg := testConfig(t)
	writeInterchange(t, cfg, config.KindOrthologs, "eg.jsonl", egOrthologs)
	events := &recordingEmitter{}

	_, err := newRunner(cfg, graph.NewMemory()).WithEvents(events).Load(context.Background(), LoadOptions{})
	require.NoError(t, err)

	require.Len(t, events.events, 1)
	ev := events.events[0]
	assert.Equal(t, subscriptions.EventLoadCompleted, ev.Type)
	assert.Equal(t, 1, ev.Files)
	assert.Equal(t, 3, ev.Committed)
	assert.NotEmpty(t, ev.Run)
}

func TestLoadIsRepeatable(t *testing.T) {
	cfg := testConfig(t)
	writeInterchange(t, cfg, config.KindTerms, "hgnc.jsonl.gz", hgncTerms)
	writeInterchange(t, cfg, config.KindOrthologs, "eg.jsonl", egOrthologs)

	run := func() []graph.Document {
		store := graph.NewMemory()
		_, err := newRunner(cfg, store).Load(context.Background(), LoadOptions{Delete: true})
		require.NoError(t, err)
		return store.Snapshot()
	}

	first, second := run(), run()
	assert.Equal(t, first, second)
	// 5 distinct term/equivalence nodes, 3 equivalence edges, 2 genes, 1 ortholog edge
	assert.Len(t, first, 11)
}

func TestLoadKind(t *testing.T) {
	cfg := testConfig(t)
	writeInterchange(t, cfg, config.KindTerms, "hgnc.jsonl", hgncTerms)
	writeInterchange(t, cfg, config.KindOrthologs, "eg.jsonl", egOrthologs)
	store := graph.NewMemory()
	runner := newRunner(cfg, store)

	reports, err := runner.LoadKind(context.Background(), config.KindOrthologs)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, config.KindOrthologs, reports[0].Kind)

	n, err := store.Count(context.Background(), "equivalence_nodes")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoFileExists(t, filepath.Join(cfg.DataDir, loadMarker))

	_, err = runner.LoadKind(context.Background(), "genes")
	assert.Error(t, err)
}

func TestLoadStopsOnMissingEndpoint(t *testing.T) {
	cfg := testConfig(t)
	writeInterchange(t, cfg, config.KindOrthologs, "eg.jsonl", `{"metadata":{"source":"eg"}}
{"ortholog":{"subject":{"id":"EG:1","tax_id":"TAX:9606"}}}
{"ortholog":{"object":{"id":"EG:9","tax_id":"TAX:10090"}}}
`)
	writeInterchange(t, cfg, config.KindTerms, "hgnc.jsonl", `{"metadata":{"source":"HGNC"}}
{"term":null}
`)
	store := graph.NewMemory()

	reports, err := newRunner(cfg, store).Load(context.Background(), LoadOptions{})
	require.Error(t, err)
	var ce *records.ClassificationError
	assert.ErrorAs(t, err, &ce)
	require.Len(t, reports, 2)
	assert.Contains(t, reports[0].Error, "term body is null")
	assert.Contains(t, reports[1].Error, "ortholog object.id is required")

	assert.Empty(t, store.Snapshot())
}

func TestLoadDeleteWipesPreviousData(t *testing.T) {
	cfg := testConfig(t)
	writeInterchange(t, cfg, config.KindOrthologs, "eg.jsonl", egOrthologs)
	store := graph.NewMemory()
	require.NoError(t, store.InsertBatch(context.Background(), "ortholog_nodes", []graph.Document{
		graph.NewNode("ortholog_nodes", "EG:stale", nil),
	}))

	_, err := newRunner(cfg, store).Load(context.Background(), LoadOptions{Delete: true})
	require.NoError(t, err)

	n, err := store.Count(context.Background(), "ortholog_nodes")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestLoadContinuesPastBadFile(t *testing.T) {
	cfg := testConfig(t)
	writeInterchange(t, cfg, config.KindTerms, "bad.jsonl", `{"metadata":{"source":"X"}}`+"\n"+`{"relation":{}}`+"\n")
	writeInterchange(t, cfg, config.KindOrthologs, "eg.jsonl", egOrthologs)
	store := graph.NewMemory()

	reports, err := newRunner(cfg, store).Load(context.Background(), LoadOptions{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.jsonl")
	assert.Contains(t, err.Error(), "no known tag")
	require.Len(t, reports, 2)
	assert.NotEmpty(t, reports[0].Error)
	assert.Equal(t, "terms", reports[0].Kind)
	assert.Empty(t, reports[1].Error)
	assert.Equal(t, 3, reports[1].Result.Committed)
}

func TestLoadAppliesSpeciesFilter(t *testing.T) {
	cfg := testConfig(t)
	cfg.Species = []string{"TAX:9606"}
	writeInterchange(t, cfg, config.KindOrthologs, "eg.jsonl", egOrthologs)
	store := graph.NewMemory()

	reports, err := newRunner(cfg, store).Load(context.Background(), LoadOptions{})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, 1, reports[0].Records.Filtered)
	assert.Empty(t, store.Snapshot())
}

func TestLoadOnlyChanged(t *testing.T) {
	cfg := testConfig(t)
	p := writeInterchange(t, cfg, config.KindOrthologs, "eg.jsonl", egOrthologs)
	r := newRunner(cfg, graph.NewMemory())
	ctx := context.Background()

	reports, err := r.Load(ctx, LoadOptions{OnlyChanged: true})
	require.NoError(t, err)
	assert.Len(t, reports, 1, "no marker yet")

	reports, err = r.Load(ctx, LoadOptions{OnlyChanged: true})
	require.NoError(t, err)
	assert.Empty(t, reports, "nothing changed")

	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(p, future, future))
	reports, err = r.Load(ctx, LoadOptions{OnlyChanged: true})
	require.NoError(t, err)
	assert.Len(t, reports, 1)
}

type stubRemote struct {
	mod  time.Time
	err  error
	body string
}

func (s *stubRemote) Stat(ctx context.Context, p string) (fetch.Entry, error) {
	return fetch.Entry{ModTime: s.mod}, s.err
}

func (s *stubRemote) Retrieve(ctx context.Context, p string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(s.body)), nil
}

func (s *stubRemote) Close() error { return nil }

func TestFetchAllIsolatesFailures(t *testing.T) {
	cfg := testConfig(t)
	cfg.Concurrency = 2
	cfg.Sources = []config.SourceConfig{
		{Name: "eg", Protocol: "ftp", Server: "ftp.ncbi.nlm.nih.gov", Path: "/gene/DATA/gene_orthologs.gz"},
		{Name: "down", Protocol: "ftp", Server: "ftp.unreachable.example", Path: "/x.gz"},
		{Name: "gone", Protocol: "ftp", Server: "ftp.ncbi.nlm.nih.gov", Path: "/gene/DATA/retired.gz"},
	}

	var dials atomic.Int32
	dial := func(ctx context.Context, src fetch.Source) (fetch.Remote, error) {
		dials.Add(1)
		switch src.Name {
		case "down":
			return nil, errors.New("connection refused")
		case "gone":
			return &stubRemote{err: fetch.ErrNotFound}, nil
		default:
			return &stubRemote{mod: time.Now(), body: "data"}, nil
		}
	}
	f := fetch.New(logger.Nop(), fetch.WithDialer(fetch.FTP, dial))
	events := &recordingEmitter{}
	r := NewRunner(cfg, f, graph.NewMemory(), nil, logger.Nop()).WithEvents(events)

	reports, err := r.FetchAll(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, reports, 3)
	assert.EqualValues(t, 3, dials.Load())

	assert.True(t, reports[0].Downloaded)
	assert.Empty(t, reports[0].Error)
	assert.False(t, reports[1].Downloaded)
	assert.Contains(t, reports[1].Error, "connection refused")
	assert.Equal(t, fetch.MsgMissing, reports[2].Message)
	assert.ElementsMatch(t, []string{"fetch.downloaded:eg", "fetch.failed:down"}, events.summary())

	_, err = os.Stat(filepath.Join(cfg.DownloadsDir, "gene_orthologs.gz"))
	assert.NoError(t, err)

	statuses := r.Sources()
	require.Len(t, statuses, 3)
	assert.NotNil(t, statuses[0].Watermark)
	assert.Nil(t, statuses[1].Watermark)

	_, err = r.FetchAll(context.Background(), false, "hgnc")
	assert.Error(t, err)
}
