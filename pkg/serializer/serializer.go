// Package serializer orders response emission across all proxy connections.
//
// Every connection admits its requests here before forwarding them upstream
// and registers every completed response before writing it back to the
// client. The serializer assigns request ids from a reference request-order
// table, classifies each request as high or low priority, and releases
// responses so that the client observes them in an order consistent with the
// reference load: ascending request id within a class, and never a low
// response while a high-priority request is outstanding.
package serializer

import (
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/paivaspol/mahimahi/pkg/config"
	"github.com/paivaspol/mahimahi/pkg/constants"
	"github.com/paivaspol/mahimahi/pkg/urlutil"
)

// Config is the immutable configuration injected at construction.
type Config struct {
	// Order is the reference request-order table.
	Order *config.RequestOrder

	// Prefetch is the set of resources designated safe to preload.
	Prefetch *config.Prefetch

	// PageURL is the top-level document URL. Compared after
	// normalization; its response waits for its turn for at most
	// MainPageWait, gets the preload header, and clears residual priority
	// state.
	PageURL string

	// DemotePrefetched enables the low-priority classification for
	// prefetched resources. When false all requests are high priority.
	DemotePrefetched bool

	// MainPageWait bounds the main-page turn wait. Zero means
	// constants.MainPageWait.
	MainPageWait time.Duration
}

// Serializer is the shared cross-connection coordinator. Safe for use from
// many connection goroutines. Connections hold a reference to it; it never
// reaches back into a connection registry.
type Serializer struct {
	mu   sync.Mutex
	cond *sync.Cond

	cfg        Config
	escapedURL string // normalized PageURL
	log        *logrus.Entry

	// Outstanding (admitted, not yet emitted) request ids, split by
	// class. A request id lives in exactly one of the two. Guarded by mu.
	lowPriorities map[int]string // id -> normalized URL, for reprioritization
	highPending   map[int]struct{}

	urlToReqID map[string]int

	nextSynthetic        int
	lastRequestOrderSeen int
}

// New constructs a Serializer around an immutable configuration.
func New(cfg Config, log *logrus.Entry) *Serializer {
	if cfg.MainPageWait == 0 {
		cfg.MainPageWait = constants.MainPageWait
	}
	s := &Serializer{
		cfg:           cfg,
		escapedURL:    urlutil.EscapePageURL(cfg.PageURL),
		log:           log,
		lowPriorities: make(map[int]string),
		highPending:   make(map[int]struct{}),
		urlToReqID:    make(map[string]int),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Admit assigns a request id to a URL about to be forwarded upstream.
//
// URLs present in the reference table take their table ordinal as id; all
// others get synthetic ids strictly greater than any table ordinal.
// Admission also reclassifies pending low-priority requests that the
// reference order now shows to be on the critical path.
func (s *Serializer) Admit(url string) int {
	escaped := urlutil.EscapePageURL(url)

	s.mu.Lock()

	reqID, inTable := s.cfg.Order.Rank(escaped)
	if !inTable {
		reqID = s.cfg.Order.Len() + s.nextSynthetic
		s.nextSynthetic++
	} else if reqID > s.lastRequestOrderSeen {
		s.lastRequestOrderSeen = reqID
	}
	s.urlToReqID[escaped] = reqID

	low := s.cfg.DemotePrefetched &&
		s.cfg.Prefetch != nil &&
		s.cfg.Prefetch.Has(escaped) &&
		escaped != s.escapedURL
	if low {
		s.lowPriorities[reqID] = escaped
	} else {
		s.highPending[reqID] = struct{}{}
	}

	s.reprioritizeLocked()

	s.log.WithFields(logrus.Fields{
		"url":    escaped,
		"req_id": reqID,
		"low":    low,
	}).Debug("admitted request")

	s.mu.Unlock()
	s.cond.Broadcast()
	return reqID
}

// reprioritizeLocked promotes pending low-priority requests whose reference
// rank precedes the latest rank observed this load: the reference load
// requested them before something already issued, so they are on the
// critical path now.
func (s *Serializer) reprioritizeLocked() {
	for lpID, lpURL := range s.lowPriorities {
		rank, ok := s.cfg.Order.Rank(lpURL)
		if !ok || rank >= s.lastRequestOrderSeen {
			continue
		}
		delete(s.lowPriorities, lpID)
		s.highPending[lpID] = struct{}{}
		s.log.WithFields(logrus.Fields{
			"url":    lpURL,
			"req_id": lpID,
		}).Debug("promoted low-priority request")
	}
}

// HighPriorityPending reports whether a request id is currently outstanding
// in the high class.
func (s *Serializer) HighPriorityPending(reqID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.highPending[reqID]
	return ok
}

// Ticket represents one registered response waiting for its emission turn.
type Ticket struct {
	s        *Serializer
	reqID    int
	url      string
	mainPage bool
}

// RegisterResponse records that the response for url has completed and
// returns the ticket used to wait for and then release its turn.
func (s *Serializer) RegisterResponse(url string) *Ticket {
	escaped := urlutil.EscapePageURL(url)

	s.mu.Lock()
	defer s.mu.Unlock()

	reqID, ok := s.urlToReqID[escaped]
	if !ok {
		// Responses are only finalized for requests this connection
		// already admitted; an unknown URL still gets a synthetic id
		// so emission terminates.
		reqID = s.cfg.Order.Len() + s.nextSynthetic
		s.nextSynthetic++
		s.urlToReqID[escaped] = reqID
		s.highPending[reqID] = struct{}{}
	}

	return &Ticket{
		s:        s,
		reqID:    reqID,
		url:      escaped,
		mainPage: escaped == s.escapedURL,
	}
}

// MainPage reports whether this ticket belongs to the top-level document.
func (t *Ticket) MainPage() bool {
	return t.mainPage
}

// RequestID returns the id assigned at admission.
func (t *Ticket) RequestID() int {
	return t.reqID
}

// Wait blocks until this response may be emitted: lowest outstanding id of
// the high class, or, with no high request outstanding, lowest outstanding
// id of the low class.
//
// The main-page response is never gated for more than the bounded wait:
// arrival of the top-level document must not be starved by stuck priority
// state. All other responses wait unbounded on their turn.
func (t *Ticket) Wait() {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.mainPage {
		expired := false
		timer := time.AfterFunc(s.cfg.MainPageWait, func() {
			s.mu.Lock()
			expired = true
			s.mu.Unlock()
			s.cond.Broadcast()
		})
		defer timer.Stop()
		for !s.turnLocked(t.reqID) && !expired {
			s.cond.Wait()
		}
		return
	}

	for !s.turnLocked(t.reqID) {
		s.cond.Wait()
	}
}

// turnLocked is the emission predicate. An id in neither class was cleared
// or canceled while its response waited; it emits unblocked rather than
// gate on state that no longer exists.
func (s *Serializer) turnLocked(reqID int) bool {
	if _, high := s.highPending[reqID]; high {
		min, _ := minKey(s.highPending)
		return min == reqID
	}
	if _, low := s.lowPriorities[reqID]; low {
		if len(s.highPending) > 0 {
			return false
		}
		min, _ := minKeyStr(s.lowPriorities)
		return min == reqID
	}
	return true
}

// Done releases the ticket after the response bytes have been written. The
// main page additionally clears all residual priority state so a previous
// load can never gate the next one.
func (t *Ticket) Done() {
	s := t.s
	s.mu.Lock()

	delete(s.highPending, t.reqID)
	delete(s.lowPriorities, t.reqID)

	if t.mainPage {
		s.clearQueuesLocked()
	}

	s.mu.Unlock()
	s.cond.Broadcast()
}

// Cancel withdraws a dying connection's pending state so its ids can never
// gate other connections. Safe to call whether or not a response was
// registered.
func (s *Serializer) Cancel(url string) {
	escaped := urlutil.EscapePageURL(url)

	s.mu.Lock()
	if reqID, ok := s.urlToReqID[escaped]; ok {
		delete(s.highPending, reqID)
		delete(s.lowPriorities, reqID)
	}
	s.mu.Unlock()
	s.cond.Broadcast()
}

func (s *Serializer) clearQueuesLocked() {
	s.lowPriorities = make(map[int]string)
	s.highPending = make(map[int]struct{})
	s.log.Debug("cleared priority queues after main-page emission")
}

// MainPageLinkHeader synthesizes the preload Link header injected on the
// main-document response: every prefetch URL in stored order.
func (s *Serializer) MainPageLinkHeader() string {
	if s.cfg.Prefetch == nil || len(s.cfg.Prefetch.Order) == 0 {
		return ""
	}
	entries := make([]string, 0, len(s.cfg.Prefetch.Order))
	for _, res := range s.cfg.Prefetch.Order {
		entries = append(entries, "<"+res.URL+">;rel=preload"+config.PreloadAsAttribute(res.Type))
	}
	return strings.Join(entries, ", ")
}

func minKey(set map[int]struct{}) (int, bool) {
	min, ok := 0, false
	for k := range set {
		if !ok || k < min {
			min, ok = k, true
		}
	}
	return min, ok
}

func minKeyStr(set map[int]string) (int, bool) {
	min, ok := 0, false
	for k := range set {
		if !ok || k < min {
			min, ok = k, true
		}
	}
	return min, ok
}
