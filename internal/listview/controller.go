// Package listview drives the remote license table. A Controller owns the
// pagination, sort and filter state, derives the request parameters from it
// and refetches whenever they change. Results that no longer match the
// current parameters are dropped, so a slow response can never overwrite a
// newer one.
package listview

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/kiranshivaraju/licensectl/internal/service"
	"github.com/kiranshivaraju/licensectl/pkg/listquery"
	"github.com/kiranshivaraju/licensectl/pkg/models"
	"go.uber.org/zap"
)

// DefaultDebounce is how long typed email text must stay unchanged before it
// is applied as a filter.
const DefaultDebounce = 500 * time.Millisecond

// ErrClosed is returned by operations on a closed Controller.
var ErrClosed = errors.New("list controller closed")

// FetchFunc loads one page. fresh asks the loader to bypass any cache.
type FetchFunc func(ctx context.Context, p listquery.Params, fresh bool) (*models.LicensePage, error)

// FromService adapts the license service to a FetchFunc.
func FromService(s *service.Licenses) FetchFunc {
	return func(ctx context.Context, p listquery.Params, fresh bool) (*models.LicensePage, error) {
		if fresh {
			return s.List(ctx, p, service.Fresh())
		}
		return s.List(ctx, p)
	}
}

// Config configures a Controller.
type Config struct {
	PageSize int
	Debounce time.Duration
	Clock    quartz.Clock
	Logger   *zap.Logger
}

// View is a consistent snapshot of the table.
type View struct {
	State  listquery.State
	Params listquery.Params
	Rows   []models.License
	Total  int
	// PageCount is listquery.UnknownPageCount until the first response.
	PageCount int
	Loading   bool
	Err       error
	Fetched   bool
	// PendingEmail is typed text not yet applied as a filter.
	PendingEmail string
}

// Controller is safe for concurrent use.
type Controller struct {
	fetch    FetchFunc
	clock    quartz.Clock
	debounce time.Duration
	log      *zap.Logger

	root     context.Context
	stopRoot context.CancelFunc
	wg       sync.WaitGroup

	mu         sync.Mutex
	state      listquery.State
	params     listquery.Params
	gen        uint64
	cancel     context.CancelFunc
	loading    bool
	fetched    bool
	rows       []models.License
	total      int
	err        error
	pending    string
	timer      *quartz.Timer
	timerSeq   uint64
	closed     bool
	idle       chan struct{}
	idleClosed bool
	subs       []subscriber
	nextSub    int
}

type subscriber struct {
	id int
	fn func(View)
}

// New creates a Controller and starts loading the first page.
func New(fetch FetchFunc, cfg Config) *Controller {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Clock == nil {
		cfg.Clock = quartz.NewReal()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	root, stop := context.WithCancel(context.Background())
	c := &Controller{
		fetch:    fetch,
		clock:    cfg.Clock,
		debounce: cfg.Debounce,
		log:      cfg.Logger,
		root:     root,
		stopRoot: stop,
		state:    listquery.NewState(cfg.PageSize),
		idle:     make(chan struct{}),
	}

	c.mu.Lock()
	c.params = listquery.Build(c.state)
	c.startFetchLocked(false)
	c.mu.Unlock()
	return c
}

// --- state operations ---

// SetPageIndex moves to page i (zero-based).
func (c *Controller) SetPageIndex(i int) error {
	if i < 0 {
		return fmt.Errorf("page index must be non-negative, got %d", i)
	}
	return c.update(func(s *listquery.State) error {
		s.PageIndex = i
		return nil
	})
}

// NextPage moves forward one page. It reports false when the server has
// confirmed there is no next page.
func (c *Controller) NextPage() bool {
	moved := false
	_ = c.update(func(s *listquery.State) error {
		if c.fetched && s.PageIndex+1 >= listquery.PageCount(c.total, s.PageSize, true) {
			return errNoChange
		}
		s.PageIndex++
		moved = true
		return nil
	})
	return moved
}

// PrevPage moves back one page. It reports false on the first page.
func (c *Controller) PrevPage() bool {
	moved := false
	_ = c.update(func(s *listquery.State) error {
		if s.PageIndex == 0 {
			return errNoChange
		}
		s.PageIndex--
		moved = true
		return nil
	})
	return moved
}

// SetPageSize changes the page size and returns to the first page.
func (c *Controller) SetPageSize(n int) error {
	if n <= 0 {
		return fmt.Errorf("page size must be positive, got %d", n)
	}
	return c.update(func(s *listquery.State) error {
		s.PageSize = n
		s.PageIndex = 0
		return nil
	})
}

// SetSort orders by column in direction dir and returns to the first page.
func (c *Controller) SetSort(column string, dir listquery.Direction) error {
	if !listquery.IsSortColumn(column) {
		return fmt.Errorf("unsupported sort column %q", column)
	}
	if dir != listquery.Ascending && dir != listquery.Descending {
		return fmt.Errorf("unsupported sort direction %q", dir)
	}
	return c.update(func(s *listquery.State) error {
		s.SortColumn, s.SortDirection = column, dir
		s.PageIndex = 0
		return nil
	})
}

// ToggleSort cycles column through ascending, descending and unsorted.
func (c *Controller) ToggleSort(column string) error {
	if !listquery.IsSortColumn(column) {
		return fmt.Errorf("unsupported sort column %q", column)
	}
	return c.update(func(s *listquery.State) error {
		switch {
		case s.SortColumn != column:
			s.SortColumn, s.SortDirection = column, listquery.Ascending
		case s.SortDirection == listquery.Ascending:
			s.SortDirection = listquery.Descending
		default:
			s.SortColumn, s.SortDirection = "", ""
		}
		s.PageIndex = 0
		return nil
	})
}

// ClearSort drops the sort and returns to the first page.
func (c *Controller) ClearSort() error {
	return c.update(func(s *listquery.State) error {
		s.SortColumn, s.SortDirection = "", ""
		s.PageIndex = 0
		return nil
	})
}

// SetFilter sets filter key to value; an empty value removes it. Setting the
// email filter directly discards any pending typed text.
func (c *Controller) SetFilter(key, value string) error {
	if !listquery.IsFilterKey(key) {
		return fmt.Errorf("unsupported filter %q", key)
	}
	if key == listquery.FilterStatus && value != "" {
		status, err := models.ParseLicenseStatus(value)
		if err != nil {
			return err
		}
		value = string(status)
	}
	return c.update(func(s *listquery.State) error {
		if key == listquery.FilterEmail {
			c.stopTimerLocked()
			c.pending = value
		}
		setFilter(s, key, value)
		return nil
	})
}

// ClearFilters removes every filter and returns to the first page.
func (c *Controller) ClearFilters() error {
	return c.update(func(s *listquery.State) error {
		c.stopTimerLocked()
		c.pending = ""
		s.Filters = map[string]string{}
		s.PageIndex = 0
		return nil
	})
}

// TypeEmail records typed email filter text. It is applied once no further
// text has arrived for the debounce interval.
func (c *Controller) TypeEmail(text string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.pending = text
	c.stopTimerLocked()
	seq := c.timerSeq
	c.timer = c.clock.AfterFunc(c.debounce, func() { c.commitEmail(seq) }, "listview", "debounce")
	c.updateIdleLocked()
	v := c.viewLocked()
	c.mu.Unlock()

	c.notify(v)
	return nil
}

// commitEmail applies the pending text unless the timer seq belongs to was
// stopped or replaced in the meantime.
func (c *Controller) commitEmail(seq uint64) {
	_ = c.update(func(s *listquery.State) error {
		if seq != c.timerSeq {
			return errNoChange
		}
		c.timer = nil
		setFilter(s, listquery.FilterEmail, c.pending)
		return nil
	})
}

// Refresh refetches the current page, bypassing any cache.
func (c *Controller) Refresh() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.startFetchLocked(true)
	v := c.viewLocked()
	c.mu.Unlock()

	c.notify(v)
	return nil
}

// errNoChange aborts an update without error.
var errNoChange = errors.New("no change")

func (c *Controller) update(fn func(*listquery.State) error) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	next := c.state.Clone()
	if err := fn(&next); err != nil {
		c.mu.Unlock()
		if errors.Is(err, errNoChange) {
			return nil
		}
		return err
	}
	c.applyLocked(next)
	v := c.viewLocked()
	c.mu.Unlock()

	c.notify(v)
	return nil
}

func setFilter(s *listquery.State, key, value string) {
	if s.Filters[key] == value {
		return
	}
	if value == "" {
		delete(s.Filters, key)
	} else {
		s.Filters[key] = value
	}
	s.PageIndex = 0
}

// applyLocked installs next and fetches when the derived parameters changed.
func (c *Controller) applyLocked(next listquery.State) {
	c.state = next
	params := listquery.Build(next)
	if params.Equal(c.params) {
		c.updateIdleLocked()
		return
	}
	c.params = params
	c.startFetchLocked(false)
}

// --- fetching ---

func (c *Controller) startFetchLocked(fresh bool) {
	if c.cancel != nil {
		c.cancel()
	}
	c.gen++
	gen, params := c.gen, c.params
	ctx, cancel := context.WithCancel(c.root)
	c.cancel = cancel
	c.loading = true
	c.updateIdleLocked()

	c.wg.Add(1)
	go c.run(ctx, gen, params, fresh)
}

func (c *Controller) run(ctx context.Context, gen uint64, params listquery.Params, fresh bool) {
	defer c.wg.Done()

	page, err := c.fetch(ctx, params, fresh)

	c.mu.Lock()
	if c.closed || gen != c.gen || !params.Equal(c.params) {
		c.mu.Unlock()
		c.log.Debug("discarding stale list response", zap.String("params", params.Key()))
		return
	}
	c.cancel()
	c.cancel = nil
	c.loading = false

	if err != nil {
		c.err = err
	} else {
		c.err = nil
		c.fetched = true
		c.rows = page.Licenses
		c.total = page.TotalCount
		c.clampLocked()
	}
	c.updateIdleLocked()
	v := c.viewLocked()
	c.mu.Unlock()

	c.notify(v)
}

// clampLocked moves back to the last page when the total shrank below the
// current offset.
func (c *Controller) clampLocked() {
	if c.state.PageIndex == 0 || len(c.rows) > 0 {
		return
	}
	last := listquery.PageCount(c.total, c.state.PageSize, true) - 1
	if last < 0 {
		last = 0
	}
	if last >= c.state.PageIndex {
		return
	}
	c.state.PageIndex = last
	c.params = listquery.Build(c.state)
	c.startFetchLocked(false)
}

// --- observation ---

// View returns the current snapshot.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

func (c *Controller) viewLocked() View {
	rows := make([]models.License, len(c.rows))
	copy(rows, c.rows)
	return View{
		State:        c.state.Clone(),
		Params:       c.params,
		Rows:         rows,
		Total:        c.total,
		PageCount:    listquery.PageCount(c.total, c.state.PageSize, c.fetched),
		Loading:      c.loading,
		Err:          c.err,
		Fetched:      c.fetched,
		PendingEmail: c.pending,
	}
}

// Wait blocks until no fetch is in flight and no typed text is pending, then
// returns the view.
func (c *Controller) Wait(ctx context.Context) (View, error) {
	c.mu.Lock()
	idle := c.idle
	c.mu.Unlock()

	select {
	case <-ctx.Done():
		return View{}, ctx.Err()
	case <-idle:
		return c.View(), nil
	}
}

func (c *Controller) updateIdleLocked() {
	busy := c.loading || c.timer != nil
	switch {
	case busy && c.idleClosed:
		c.idle = make(chan struct{})
		c.idleClosed = false
	case !busy && !c.idleClosed:
		close(c.idle)
		c.idleClosed = true
	}
}

// Subscribe calls fn with a new View after every change. fn runs outside the
// controller's lock. The returned func unsubscribes.
func (c *Controller) Subscribe(fn func(View)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextSub++
	id := c.nextSub
	c.subs = append(c.subs, subscriber{id: id, fn: fn})

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, s := range c.subs {
			if s.id == id {
				c.subs = append(c.subs[:i], c.subs[i+1:]...)
				return
			}
		}
	}
}

func (c *Controller) notify(v View) {
	c.mu.Lock()
	subs := make([]subscriber, len(c.subs))
	copy(subs, c.subs)
	c.mu.Unlock()

	for _, s := range subs {
		s.fn(v)
	}
}

// Close stops the debounce timer, cancels any fetch in flight and waits for
// it to return. Later operations return ErrClosed.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.stopTimerLocked()
	c.loading = false
	c.updateIdleLocked()
	c.mu.Unlock()

	c.stopRoot()
	c.wg.Wait()
}

func (c *Controller) stopTimerLocked() {
	c.timerSeq++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
