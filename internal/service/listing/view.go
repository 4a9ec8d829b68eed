package listing

import (
	"context"
	"sync"
	"time"

	"github.com/jwalitptl/clinic-requests/internal/model"
	"github.com/jwalitptl/clinic-requests/pkg/errors"
	"github.com/jwalitptl/clinic-requests/pkg/logger"
	"github.com/jwalitptl/clinic-requests/pkg/metrics"
)

// Fetcher runs one list query against the clinic API.
type Fetcher interface {
	ListRequests(ctx context.Context, q model.ListQuery) (*model.RequestList, error)
}

type Options struct {
	Debounce        time.Duration
	DefaultPageSize int
	MaxPageSize     int
}

func (o *Options) defaults() {
	if o.Debounce < 0 {
		o.Debounce = 0
	}
	if o.DefaultPageSize <= 0 {
		o.DefaultPageSize = 10
	}
	if o.MaxPageSize <= 0 {
		o.MaxPageSize = 100
	}
}

type Snapshot struct {
	Query      model.ListQuery    `json:"query"`
	Result     *model.RequestList `json:"result"`
	Generation uint64             `json:"generation"`
	FetchedAt  time.Time          `json:"fetched_at"`
}

// View is the list state of one session. Every Query takes a new generation
// and cancels the one before it, so a slow stale response can never replace
// a newer one.
type View struct {
	fetcher Fetcher
	opts    Options
	metrics *metrics.Metrics
	logger  *logger.Logger

	mu       sync.Mutex
	gen      uint64
	cancel   context.CancelFunc
	ownOrg   model.ID
	snapshot *Snapshot
}

func NewView(f Fetcher, opts Options, m *metrics.Metrics, log *logger.Logger) *View {
	opts.defaults()
	if m == nil {
		m = metrics.NewNop()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &View{fetcher: f, opts: opts, metrics: m, logger: log}
}

func (v *View) normalize(q model.ListQuery) model.ListQuery {
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.PageSize <= 0 {
		q.PageSize = v.opts.DefaultPageSize
	}
	if q.PageSize > v.opts.MaxPageSize {
		q.PageSize = v.opts.MaxPageSize
	}
	return q
}

// Query waits out the debounce window, then fetches. A newer Query during
// either phase makes this one return a superseded error.
func (v *View) Query(ctx context.Context, ownOrg model.ID, q model.ListQuery) (*model.RequestList, error) {
	scoped, err := ScopeFilter(q.Filter, ownOrg)
	if err != nil {
		return nil, err
	}
	q.Filter = scoped
	q = v.normalize(q)

	v.mu.Lock()
	v.gen++
	gen := v.gen
	if v.cancel != nil {
		v.cancel()
	}
	qctx, cancel := context.WithCancel(ctx)
	v.cancel = cancel
	v.mu.Unlock()
	defer cancel()

	if v.opts.Debounce > 0 {
		timer := time.NewTimer(v.opts.Debounce)
		select {
		case <-timer.C:
		case <-qctx.Done():
			timer.Stop()
			return nil, v.abandoned(ctx)
		}
	}

	res, err := v.fetch(qctx, q, ownOrg)
	if err != nil {
		if qctx.Err() != nil {
			return nil, v.abandoned(ctx)
		}
		return nil, err
	}

	if !v.commit(gen, q, ownOrg, res) {
		return nil, v.abandoned(ctx)
	}
	return res, nil
}

func (v *View) abandoned(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v.metrics.ListQueriesSuperseded.Inc()
	return errors.Superseded()
}

func (v *View) fetch(ctx context.Context, q model.ListQuery, ownOrg model.ID) (*model.RequestList, error) {
	res, err := v.fetcher.ListRequests(ctx, q)
	if err != nil {
		return nil, err
	}
	rows, dropped := Sanitize(res.Data, q.Filter, ownOrg)
	if dropped > 0 {
		v.logger.Warn("dropped out of scope rows from list response",
			"dropped", dropped,
			"organization_id", ownOrg.String())
	}
	res.Data = rows
	if dropped > 0 {
		adjustPagination(&res.Pagination, dropped, len(rows))
	}
	return res, nil
}

// adjustPagination keeps the counts consistent with the rows actually shown.
func adjustPagination(p *model.Pagination, dropped, shown int) {
	p.TotalCount -= dropped
	if p.TotalCount < shown {
		p.TotalCount = shown
	}
	if p.Limit > 0 {
		p.TotalPages = (p.TotalCount + p.Limit - 1) / p.Limit
	}
}

// commit stores the result when gen is still the newest generation.
func (v *View) commit(gen uint64, q model.ListQuery, ownOrg model.ID, res *model.RequestList) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if gen != v.gen {
		return false
	}
	v.ownOrg = ownOrg
	v.snapshot = &Snapshot{Query: q, Result: res, Generation: gen, FetchedAt: time.Now()}
	return true
}

// Refresh re-runs the last committed query without debounce. It does not
// take a new generation, so a user query started meanwhile still wins.
// Nothing is fetched when the snapshot belongs to another organization.
func (v *View) Refresh(ctx context.Context, ownOrg model.ID) (*model.RequestList, error) {
	v.mu.Lock()
	snap := v.snapshot
	gen := v.gen
	scoped := v.ownOrg == ownOrg
	v.mu.Unlock()

	if snap == nil || !scoped {
		return nil, nil
	}

	res, err := v.fetch(ctx, snap.Query, ownOrg)
	if err != nil {
		return nil, err
	}
	v.commit(gen, snap.Query, ownOrg, res)
	return res, nil
}

// Snapshot returns the last committed result for ownOrg, or nil when there is
// none.
func (v *View) Snapshot(ownOrg model.ID) *Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.ownOrg != ownOrg {
		return nil
	}
	return v.snapshot
}

// Reset drops the committed list and supersedes any query in flight. Used
// when the session's organization changes or the identity is cleared.
func (v *View) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.gen++
	if v.cancel != nil {
		v.cancel()
		v.cancel = nil
	}
	v.ownOrg = ""
	v.snapshot = nil
}
