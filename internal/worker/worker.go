package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"seekbot/internal/downloader"
	"seekbot/internal/logger"
	"seekbot/internal/matcher"
	"seekbot/internal/metrics"
	"seekbot/internal/utils"
	"seekbot/pkg/models"
)

// DefaultSearchTimeout is how long the network collects search responses.
const DefaultSearchTimeout = 20 * time.Second

// State is a step of the per-request pipeline.
type State string

const (
	StateReceived       State = "received"
	StateNormalized     State = "normalized"
	StateSearching      State = "searching"
	StateEvaluating     State = "evaluating"
	StateNoMatch        State = "no_match"
	StateDownloadIssued State = "download_issued"
	StateCompleted      State = "completed"
	StateFailed         State = "failed"
)

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	return s == StateNoMatch || s == StateCompleted || s == StateFailed
}

// ReplyFunc delivers a plain text message back to whoever issued the command.
type ReplyFunc func(text string)

// Searcher runs a network search. It must be safe for concurrent use.
type Searcher interface {
	Search(ctx context.Context, query string, timeout time.Duration) ([]models.SearchResult, error)
}

// Resolver turns command text that is not itself a query, such as a track
// link, into "Artist - Title". ok is false when input is left as is.
type Resolver interface {
	ResolveQuery(ctx context.Context, input string) (query string, ok bool, err error)
}

// Result is the outcome of one request.
type Result struct {
	ID        string
	State     State
	Query     matcher.Query
	Selection matcher.Selection
	Request   *models.DownloadRequest
	Err       error
}

type Worker struct {
	searcher      Searcher
	coordinator   *downloader.Coordinator
	resolver      Resolver
	searchTimeout time.Duration
	wg            sync.WaitGroup
}

type Option func(*Worker)

func WithResolver(r Resolver) Option {
	return func(w *Worker) { w.resolver = r }
}

func WithSearchTimeout(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.searchTimeout = d
		}
	}
}

func New(searcher Searcher, coordinator *downloader.Coordinator, opts ...Option) *Worker {
	w := &Worker{
		searcher:      searcher,
		coordinator:   coordinator,
		searchTimeout: DefaultSearchTimeout,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Submit handles text on its own goroutine. Requests are independent of each
// other and of the caller: they are neither serialized nor cancelled.
func (w *Worker) Submit(text string, reply ReplyFunc) string {
	id := uuid.NewString()
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.handle(context.Background(), id, text, reply)
	}()
	return id
}

// Wait blocks until every submitted request has reached a terminal state.
func (w *Worker) Wait() {
	w.wg.Wait()
}

// Handle runs one request to a terminal state: search, evaluate, and
// download the single best result.
func (w *Worker) Handle(ctx context.Context, text string, reply ReplyFunc) Result {
	return w.handle(ctx, uuid.NewString(), text, reply)
}

func (w *Worker) handle(ctx context.Context, id, text string, reply ReplyFunc) (result Result) {
	log := logger.With("request_id", id)
	result = Result{ID: id, State: StateReceived}

	metrics.RequestStarted()
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Request panicked: %v", r)
			result.State = StateFailed
			result.Err = fmt.Errorf("internal error: %v", r)
			reply(result.Err.Error())
		}
		metrics.RequestFinished()
		metrics.RecordRequest(string(result.State))
		log.Infof("Request finished in state %s after %v", result.State, time.Since(start))
	}()

	fail := func(err error) Result {
		log.Errorf("Request failed in state %s: %v", result.State, err)
		result.State = StateFailed
		result.Err = err
		reply(err.Error())
		return result
	}

	if w.resolver != nil {
		resolved, ok, err := w.resolver.ResolveQuery(ctx, text)
		if err != nil {
			return fail(err)
		}
		if ok {
			log.Infof("Resolved %s to %s", text, resolved)
			text = resolved
		}
	}

	query := matcher.NewQuery(text)
	result.Query = query
	result.State = StateNormalized
	log.Debugf("Normalized query: search=%q segments=%q", query.Search, query.Segments)

	reply("Searching: " + query.Raw)

	result.State = StateSearching
	searchStart := time.Now()
	results, err := w.searcher.Search(ctx, query.Search, w.searchTimeout)
	logger.LogOperation(fmt.Sprintf("search %q", query.Search), searchStart, err)
	if err != nil {
		return fail(err)
	}

	result.State = StateEvaluating
	selection := matcher.Select(results, query)
	result.Selection = selection
	metrics.RecordSearch(time.Since(searchStart), selection.Raw, selection.Admissible)
	metrics.RecordRejections(reasonCounts(selection.Rejected))
	log.Infof("Evaluated %d results: %d admissible, rejected %v", selection.Raw, selection.Admissible, selection.Rejected)

	if selection.NoMatch() {
		result.State = StateNoMatch
		if selection.Raw == 0 {
			reply(fmt.Sprintf("No results found for \"%s\"", query.Raw))
		} else {
			reply(fmt.Sprintf("Found 0 results (%d unfiltered)\nNo suitable file for \"%s\"", selection.Raw, query.Raw))
		}
		return result
	}

	best := *selection.Best
	reply(fmt.Sprintf("Found %d results (%d unfiltered)\nBest result: %s (%s)",
		selection.Admissible, selection.Raw, utils.Basename(best.Filename), utils.HumanFilesize(best.Size)))
	log.Infof("Selected %s from %s (speed %d, %d kbps)", best.Filename, best.Username, best.Speed, best.BitRate)

	req := w.coordinator.Request(best, query.Raw)
	result.Request = &req
	result.State = StateDownloadIssued
	retrieveStart := time.Now()
	err = w.coordinator.Retrieve(ctx, req)
	logger.LogOperation(fmt.Sprintf("retrieve %s from %s", req.Filename, best.Username), retrieveStart, err)
	if err != nil {
		return fail(err)
	}

	result.State = StateCompleted
	reply(fmt.Sprintf("Download of \"%s\" completed!", req.Filename))
	return result
}

func reasonCounts(rejected map[matcher.Reason]int) map[string]int {
	counts := make(map[string]int, len(rejected))
	for reason, n := range rejected {
		counts[string(reason)] = n
	}
	return counts
}
