// Package loader commits a stream of graph documents to a Store in batches.
package loader

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/systemshift/bioref/internal/logger"
	"github.com/systemshift/bioref/internal/metrics"
	"github.com/systemshift/bioref/internal/server/graph"
)

// DefaultBatchSize is used when Options.BatchSize is not positive.
const DefaultBatchSize = 1000

// Options configures a Loader.
type Options struct {
	BatchSize int
	Metrics   *metrics.Collector
}

// Result summarises a load.
type Result struct {
	Committed    int            `json:"committed"`
	Batches      int            `json:"batches"`
	Failed       int            `json:"failed"`
	ByCollection map[string]int `json:"by_collection,omitempty"`
}

// BatchError identifies a batch the store rejected. Batches committed before
// it stay committed.
type BatchError struct {
	Collection string
	Index      int
	Size       int
	Err        error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch %d of %s (%d documents): %v", e.Index, e.Collection, e.Size, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// Loader groups documents per collection and submits full batches. Pending
// node batches are always submitted before an edge batch so edges never reach
// the store ahead of the nodes they reference.
type Loader struct {
	store     graph.Store
	batchSize int
	metrics   *metrics.Collector
	log       *logger.Logger
}

// New creates a loader writing to store.
func New(store graph.Store, opts Options, log *logger.Logger) *Loader {
	size := opts.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}
	return &Loader{store: store, batchSize: size, metrics: opts.Metrics, log: log}
}

type buffer struct {
	docs     []graph.Document
	hasEdges bool
	next     int
}

type run struct {
	*Loader
	ctx     context.Context
	buffers map[string]*buffer
	order   []string
	res     Result
	errs    []error
}

// Load consumes docs and returns how many documents were committed. A failed
// batch is reported and loading continues; an error from docs stops
// consumption after buffered documents are flushed. The returned error joins
// the upstream error and every batch error.
func (l *Loader) Load(ctx context.Context, docs iter.Seq2[graph.Document, error]) (Result, error) {
	r := &run{
		Loader:  l,
		ctx:     ctx,
		buffers: make(map[string]*buffer),
		res:     Result{ByCollection: make(map[string]int)},
	}

	for doc, err := range docs {
		if err != nil {
			r.errs = append(r.errs, err)
			break
		}
		if ctx.Err() != nil {
			break
		}

		buf := r.buffer(doc.CollectionName())
		buf.docs = append(buf.docs, doc)
		if doc.Kind() == graph.KindEdge {
			buf.hasEdges = true
		}
		if len(buf.docs) >= l.batchSize {
			r.flush(doc.CollectionName())
		}
	}

	if err := ctx.Err(); err != nil {
		r.errs = append(r.errs, err)
	} else {
		r.flushAll(false)
		r.flushAll(true)
	}

	return r.res, errors.Join(r.errs...)
}

func (r *run) buffer(coll string) *buffer {
	buf, ok := r.buffers[coll]
	if !ok {
		buf = &buffer{}
		r.buffers[coll] = buf
		r.order = append(r.order, coll)
	}
	return buf
}

// flushAll submits every pending buffer that does (edges) or does not contain edges.
func (r *run) flushAll(edges bool) {
	for _, coll := range r.order {
		buf := r.buffers[coll]
		if buf.hasEdges == edges && len(buf.docs) > 0 {
			r.submit(coll, buf)
		}
	}
}

func (r *run) flush(coll string) {
	buf := r.buffers[coll]
	if buf.hasEdges {
		r.flushAll(false)
	}
	r.submit(coll, buf)
}

func (r *run) submit(coll string, buf *buffer) {
	batch := buf.docs
	idx := buf.next
	buf.docs = make([]graph.Document, 0, len(batch))
	buf.next++
	r.res.Batches++

	start := time.Now()
	err := r.store.InsertBatch(r.ctx, coll, batch)
	r.metrics.ObserveBatch(coll, len(batch), time.Since(start), err)

	if err != nil {
		be := &BatchError{Collection: coll, Index: idx, Size: len(batch), Err: err}
		r.res.Failed++
		r.errs = append(r.errs, be)
		r.log.Error("batch failed", "collection", coll, "batch", idx, "size", len(batch), "error", err)
		return
	}

	r.res.Committed += len(batch)
	r.res.ByCollection[coll] += len(batch)
	r.log.Debug("batch committed", "collection", coll, "batch", idx, "size", len(batch))
}
