package serializer

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paivaspol/mahimahi/pkg/config"
)

func writeTempFile(t *testing.T, lines string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input")
	require.NoError(t, os.WriteFile(path, []byte(lines), 0o644))
	return path
}

func loadOrder(t *testing.T, lines string) *config.RequestOrder {
	t.Helper()
	order, err := config.LoadRequestOrder(writeTempFile(t, lines))
	require.NoError(t, err)
	return order
}

func loadPrefetch(t *testing.T, lines string) *config.Prefetch {
	t.Helper()
	prefetch, err := config.LoadPrefetch(writeTempFile(t, lines))
	require.NoError(t, err)
	return prefetch
}

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(logger)
}

// emitter registers a response and appends its URL to the shared order slice
// once the serializer releases it.
type emitter struct {
	mu    sync.Mutex
	order []string
}

func (e *emitter) emit(s *Serializer, url string, wg *sync.WaitGroup) {
	defer wg.Done()
	ticket := s.RegisterResponse(url)
	ticket.Wait()
	e.mu.Lock()
	e.order = append(e.order, url)
	e.mu.Unlock()
	ticket.Done()
}

func TestTableOrdinalsAssignedAsRequestIDs(t *testing.T) {
	order := loadOrder(t, "ex.com/a\nex.com/b\n")
	s := New(Config{Order: order, PageURL: "ex.com/a"}, testLogger())

	assert.Equal(t, 0, s.Admit("http://ex.com/a"))
	assert.Equal(t, 1, s.Admit("https://ex.com/b"))
	// Synthetic ids are strictly greater than any table ordinal.
	assert.Equal(t, 2, s.Admit("http://ex.com/unknown"))
	assert.Equal(t, 3, s.Admit("http://ex.com/unknown2"))
}

func TestHighPriorityFIFOByID(t *testing.T) {
	order := loadOrder(t, "ex.com/a\nex.com/b\n")
	s := New(Config{Order: order, PageURL: "ex.com/"}, testLogger())

	a := s.Admit("http://ex.com/a")
	b := s.Admit("http://ex.com/b")
	require.Less(t, a, b)

	var e emitter
	var wg sync.WaitGroup
	wg.Add(2)

	// b's response arrives first but must wait for a.
	go e.emit(s, "http://ex.com/b", &wg)
	time.Sleep(20 * time.Millisecond)
	go e.emit(s, "http://ex.com/a", &wg)
	wg.Wait()

	assert.Equal(t, []string{"http://ex.com/a", "http://ex.com/b"}, e.order)
}

func TestLowPriorityWaitsForHighThenEmitsInOrder(t *testing.T) {
	// Scenario: U1 (ord 0), U2 (ord 1), U3 prefetched and demoted.
	// Responses complete U3, U2, U1; emission must be U1, U2, U3.
	order := loadOrder(t, "ex.com/u1\nex.com/u2\n")
	prefetch := loadPrefetch(t, "http://ex.com/u3 Image\n")
	s := New(Config{
		Order:            order,
		Prefetch:         prefetch,
		PageURL:          "ex.com/",
		DemotePrefetched: true,
	}, testLogger())

	s.Admit("http://ex.com/u1")
	s.Admit("http://ex.com/u2")
	u3 := s.Admit("http://ex.com/u3")
	assert.Equal(t, 2, u3)

	var e emitter
	var wg sync.WaitGroup
	wg.Add(3)
	go e.emit(s, "http://ex.com/u3", &wg)
	time.Sleep(20 * time.Millisecond)
	go e.emit(s, "http://ex.com/u2", &wg)
	time.Sleep(20 * time.Millisecond)
	go e.emit(s, "http://ex.com/u1", &wg)
	wg.Wait()

	assert.Equal(t,
		[]string{"http://ex.com/u1", "http://ex.com/u2", "http://ex.com/u3"},
		e.order)
}

func TestReprioritizationPromotesLateLowPriority(t *testing.T) {
	// u1 has rank 0 and is prefetched (demoted on admission); u2 has
	// rank 1. Admitting u2 advances the order cursor past u1's rank, and
	// the reprioritization pass of that same admission promotes u1 to the
	// high class.
	order := loadOrder(t, "ex.com/u1\nex.com/u2\nex.com/u3\n")
	prefetch := loadPrefetch(t, "http://ex.com/u1 Script\n")
	s := New(Config{
		Order:            order,
		Prefetch:         prefetch,
		PageURL:          "ex.com/",
		DemotePrefetched: true,
	}, testLogger())

	u1 := s.Admit("http://ex.com/u1")
	assert.False(t, s.HighPriorityPending(u1), "prefetched resource admitted low")

	s.Admit("http://ex.com/u2")
	s.Admit("http://ex.com/u3")
	assert.True(t, s.HighPriorityPending(u1), "order cursor advanced past u1")
}

func TestDemotionDisabledTreatsAllHigh(t *testing.T) {
	order := loadOrder(t, "ex.com/u1\n")
	prefetch := loadPrefetch(t, "http://ex.com/u1 Script\n")
	s := New(Config{
		Order:            order,
		Prefetch:         prefetch,
		PageURL:          "ex.com/",
		DemotePrefetched: false,
	}, testLogger())

	u1 := s.Admit("http://ex.com/u1")
	assert.True(t, s.HighPriorityPending(u1))
}

func TestMainPageBypassesGateAndClearsQueues(t *testing.T) {
	order := loadOrder(t, "ex.com/blocker\nex.com\n")
	s := New(Config{
		Order:        order,
		PageURL:      "http://www.ex.com/",
		MainPageWait: 10 * time.Millisecond,
	}, testLogger())

	// A blocker is admitted but its response never arrives.
	s.Admit("http://ex.com/blocker")

	// The main page is not starved: its bounded wait expires and it
	// emits despite the stuck state. Residuals are cleared afterwards.
	s.Admit("http://ex.com")
	ticket := s.RegisterResponse("http://ex.com")
	require.True(t, ticket.MainPage())

	done := make(chan struct{})
	go func() {
		ticket.Wait()
		ticket.Done()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("main page starved by stuck priority state")
	}

	// The old blocker no longer gates a fresh high request.
	s.Admit("http://ex.com/v1")
	v1Ticket := s.RegisterResponse("http://ex.com/v1")
	released := make(chan struct{})
	go func() {
		v1Ticket.Wait()
		v1Ticket.Done()
		close(released)
	}()
	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("residual state gated a request after main-page clear")
	}
}

func TestCancelReleasesWaiters(t *testing.T) {
	order := loadOrder(t, "ex.com/a\nex.com/b\n")
	s := New(Config{Order: order, PageURL: "ex.com/"}, testLogger())

	s.Admit("http://ex.com/a")
	s.Admit("http://ex.com/b")

	var e emitter
	var wg sync.WaitGroup
	wg.Add(1)
	go e.emit(s, "http://ex.com/b", &wg)
	time.Sleep(20 * time.Millisecond)

	// a's connection dies; b must be released.
	s.Cancel("http://ex.com/a")
	wg.Wait()
	assert.Equal(t, []string{"http://ex.com/b"}, e.order)
}

func TestMainPageLinkHeaderPreservesPrefetchOrder(t *testing.T) {
	prefetch := loadPrefetch(t,
		"http://ex.com/a.js Script\n"+
			"http://ex.com/b.css Stylesheet\n"+
			"http://ex.com/f.woff Font\n"+
			"http://ex.com/x XHR\n")
	s := New(Config{Order: loadOrder(t, ""), Prefetch: prefetch, PageURL: "ex.com/"}, testLogger())

	assert.Equal(t,
		"<http://ex.com/a.js>;rel=preload;as=script, "+
			"<http://ex.com/b.css>;rel=preload;as=style, "+
			"<http://ex.com/f.woff>;rel=preload;as=font;crossorigin, "+
			"<http://ex.com/x>;rel=preload",
		s.MainPageLinkHeader())
}
