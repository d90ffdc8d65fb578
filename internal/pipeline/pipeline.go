// Package pipeline runs bioref's fetch and load jobs: it mirrors configured
// sources into the downloads directory and streams interchange files through
// classification, projection and batch loading into the graph store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/systemshift/bioref/internal/config"
	"github.com/systemshift/bioref/internal/fetch"
	"github.com/systemshift/bioref/internal/loader"
	"github.com/systemshift/bioref/internal/logger"
	"github.com/systemshift/bioref/internal/metrics"
	"github.com/systemshift/bioref/internal/projector"
	"github.com/systemshift/bioref/internal/records"
	"github.com/systemshift/bioref/internal/server/graph"
	"github.com/systemshift/bioref/internal/server/subscriptions"
)

// loadMarker is touched in DataDir after a clean load.
const loadMarker = ".loaded"

// Emitter receives job completion events.
type Emitter interface {
	Emit(subscriptions.Event)
}

// Runner executes fetch and load jobs against one store.
type Runner struct {
	cfg     config.Config
	fetcher *fetch.Fetcher
	store   graph.Store
	metrics *metrics.Collector
	log     *logger.Logger

	classifier *records.Classifier
	projector  *projector.Projector
	events     Emitter

	// loads serialises Load so a wipe never interleaves with another load
	loads sync.Mutex
}

// NewRunner wires the pipeline stages from cfg.
func NewRunner(cfg config.Config, fetcher *fetch.Fetcher, store graph.Store, m *metrics.Collector, log *logger.Logger) *Runner {
	return &Runner{
		cfg:        cfg,
		fetcher:    fetcher,
		store:      store,
		metrics:    m,
		log:        log,
		classifier: records.NewClassifier(cfg.SpeciesSet(), log),
		projector:  projector.New(cfg.Collections, log),
	}
}

// WithEvents sets the receiver of job completion events.
func (r *Runner) WithEvents(e Emitter) *Runner {
	r.events = e
	return r
}

func (r *Runner) emit(ev subscriptions.Event) {
	if r.events != nil {
		r.events.Emit(ev)
	}
}

// FetchReport is the outcome of fetching one source.
type FetchReport struct {
	Source     string        `json:"source"`
	Downloaded bool          `json:"downloaded"`
	Message    string        `json:"message"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// FetchAll fetches the named sources, or every configured source when names
// is empty, at most cfg.Concurrency at a time. A failing source does not stop
// the others; its failure is in its report. The error is non-nil only for
// unknown source names.
func (r *Runner) FetchAll(ctx context.Context, force bool, names ...string) ([]FetchReport, error) {
	sources, err := r.selectSources(names)
	if err != nil {
		return nil, err
	}

	reports := make([]FetchReport, len(sources))
	var g errgroup.Group
	g.SetLimit(r.cfg.Concurrency)

	for i, src := range sources {
		g.Go(func() error {
			start := time.Now()
			res := r.fetcher.Fetch(ctx, src.Remote(), src.Cache(r.cfg.DownloadsDir), src.FetchOptions(r.cfg.MaxAgeDays, force))
			rep := FetchReport{Source: src.Name, Downloaded: res.Downloaded, Message: res.Message, Duration: time.Since(start)}
			if res.Err != nil {
				rep.Error = res.Err.Error()
			}
			r.metrics.ObserveFetch(src.Name, outcome(res), rep.Duration)
			switch {
			case res.Err != nil:
				r.emit(subscriptions.Event{Type: subscriptions.EventFetchFailed, Source: src.Name, Error: rep.Error})
			case res.Downloaded:
				r.emit(subscriptions.Event{Type: subscriptions.EventFetchDownloaded, Source: src.Name})
			}
			reports[i] = rep
			return nil
		})
	}
	_ = g.Wait()
	return reports, nil
}

func (r *Runner) selectSources(names []string) ([]config.SourceConfig, error) {
	if len(names) == 0 {
		return r.cfg.Sources, nil
	}
	var out []config.SourceConfig
	for _, name := range names {
		src, ok := r.cfg.Source(name)
		if !ok {
			return nil, fmt.Errorf("unknown source %q", name)
		}
		out = append(out, src)
	}
	return out, nil
}

func outcome(res fetch.Result) string {
	switch {
	case res.Err != nil:
		return "error"
	case res.Downloaded:
		return "downloaded"
	case res.Message == fetch.MsgMissing:
		return "missing"
	default:
		return "skipped"
	}
}

// LoadOptions controls a load run.
type LoadOptions struct {
	// Delete truncates every collection before loading.
	Delete bool
	// OnlyChanged skips the run when no interchange file is newer than the
	// last clean load.
	OnlyChanged bool
}

// LoadReport is the outcome of loading one interchange file.
type LoadReport struct {
	File    string        `json:"file"`
	Kind    string        `json:"kind"`
	Records records.Stats `json:"records"`
	Result  loader.Result `json:"result"`
	Error   string        `json:"error,omitempty"`
}

// Load streams every term file and then every ortholog file into the store.
// A file that fails classification or has rejected batches is reported and
// the remaining files are still loaded. The returned error joins all file
// errors.
func (r *Runner) Load(ctx context.Context, opts LoadOptions) ([]LoadReport, error) {
	r.loads.Lock()
	defer r.loads.Unlock()

	run := uuid.NewString()
	log := r.log.With("run", run)

	files, err := r.interchangeFiles(config.KindTerms, config.KindOrthologs)
	if err != nil {
		return nil, err
	}
	if opts.OnlyChanged && !opts.Delete && !r.changedSinceLoad(files) {
		log.Info("interchange files unchanged since last load; skipping")
		return nil, nil
	}

	if opts.Delete {
		colls := r.cfg.Collections.All()
		log.Info("truncating collections", "collections", colls)
		if err := r.store.Truncate(ctx, colls...); err != nil {
			return nil, fmt.Errorf("truncating store: %w", err)
		}
	}

	reports, err := r.loadFiles(ctx, log, files)
	ev := subscriptions.Event{Type: subscriptions.EventLoadCompleted, Run: run, Files: len(reports)}
	for _, rep := range reports {
		ev.Committed += rep.Result.Committed
	}
	if err == nil {
		r.touchMarker(log)
	} else {
		ev.Type, ev.Error = subscriptions.EventLoadFailed, err.Error()
	}
	r.emit(ev)
	return reports, err
}

// LoadKind loads every interchange file of one kind (KindTerms or
// KindOrthologs) without truncating or recording the load marker.
func (r *Runner) LoadKind(ctx context.Context, kind string) ([]LoadReport, error) {
	if kind != config.KindTerms && kind != config.KindOrthologs {
		return nil, fmt.Errorf("unknown data kind %q", kind)
	}
	r.loads.Lock()
	defer r.loads.Unlock()

	files, err := r.interchangeFiles(kind)
	if err != nil {
		return nil, err
	}
	return r.loadFiles(ctx, r.log.With("run", uuid.NewString()), files)
}

func (r *Runner) loadFiles(ctx context.Context, log *logger.Logger, files []interchangeFile) ([]LoadReport, error) {
	var (
		reports []LoadReport
		errs    []error
	)
	for _, f := range files {
		rep, err := r.LoadFile(ctx, log, f.kind, f.path)
		reports = append(reports, rep)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f.path, err))
		}
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
	}
	return reports, errors.Join(errs...)
}

// LoadFile runs a single interchange file through the pipeline.
func (r *Runner) LoadFile(ctx context.Context, log *logger.Logger, kind, path string) (LoadReport, error) {
	rep := LoadReport{File: path, Kind: kind}
	log = log.With("file", filepath.Base(path), "kind", kind)
	log.Info("loading interchange file")

	rc, err := records.Open(path)
	if err != nil {
		rep.Error = err.Error()
		return rep, err
	}
	defer rc.Close()

	l := loader.New(r.store, loader.Options{BatchSize: r.cfg.BatchSize, Metrics: r.metrics}, log)
	docs := r.projector.Project(r.classifier.Classify(records.Lines(rc), &rep.Records))
	rep.Result, err = l.Load(ctx, docs)

	r.metrics.ObserveRecords(records.TagTerm, rep.Records.Terms)
	r.metrics.ObserveRecords(records.TagOrtholog, rep.Records.Orthologs)
	r.metrics.ObserveRecords("filtered", rep.Records.Filtered)

	if err != nil {
		rep.Error = err.Error()
		log.Error("interchange file failed", "committed", rep.Result.Committed, "error", err)
		return rep, err
	}
	log.Info("interchange file loaded",
		"committed", rep.Result.Committed,
		"batches", rep.Result.Batches,
		"terms", rep.Records.Terms,
		"orthologs", rep.Records.Orthologs,
		"filtered", rep.Records.Filtered,
	)
	return rep, nil
}

type interchangeFile struct {
	kind string
	path string
}

// interchangeFiles lists the files of each kind in order, each kind sorted by name.
func (r *Runner) interchangeFiles(kinds ...string) ([]interchangeFile, error) {
	var files []interchangeFile
	for _, kind := range kinds {
		matches, err := filepath.Glob(filepath.Join(r.cfg.KindDir(kind), "*.jsonl*"))
		if err != nil {
			return nil, fmt.Errorf("listing %s files: %w", kind, err)
		}
		slices.Sort(matches)
		for _, m := range matches {
			files = append(files, interchangeFile{kind: kind, path: m})
		}
	}
	return files, nil
}

func (r *Runner) markerPath() string {
	return filepath.Join(r.cfg.DataDir, loadMarker)
}

func (r *Runner) changedSinceLoad(files []interchangeFile) bool {
	for _, f := range files {
		if fetch.Newer(f.path, r.markerPath()) {
			return true
		}
	}
	return false
}

func (r *Runner) touchMarker(log *logger.Logger) {
	p := r.markerPath()
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		log.Warn("cannot record load marker", "error", err)
		return
	}
	now := time.Now()
	if err := os.WriteFile(p, []byte(now.UTC().Format(time.RFC3339)+"\n"), 0o644); err != nil {
		log.Warn("cannot record load marker", "error", err)
		return
	}
	_ = os.Chtimes(p, now, now)
}

// SourceStatus describes a configured source and its local watermark.
type SourceStatus struct {
	Name      string     `json:"name"`
	Protocol  string     `json:"protocol"`
	Remote    string     `json:"remote"`
	Cache     string     `json:"cache"`
	Watermark *time.Time `json:"watermark,omitempty"`
}

// Sources reports each configured source with its cache file's modification time.
func (r *Runner) Sources() []SourceStatus {
	out := make([]SourceStatus, 0, len(r.cfg.Sources))
	for _, s := range r.cfg.Sources {
		cache := s.Cache(r.cfg.DownloadsDir)
		st := SourceStatus{Name: s.Name, Protocol: string(s.Remote().Protocol), Remote: s.Server + s.Path, Cache: cache.Path}
		if mod, ok := cache.ModTime(); ok {
			st.Watermark = &mod
		}
		out = append(out, st)
	}
	return out
}
