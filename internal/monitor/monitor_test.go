package monitor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/job-scanner/internal/broadcast"
	"github.com/job-scanner/internal/config"
	"github.com/job-scanner/internal/logging"
	"github.com/job-scanner/internal/models"
	"github.com/job-scanner/internal/retry"
	"github.com/job-scanner/internal/storage"
	"github.com/job-scanner/internal/types"
)

type fakePostingStore struct {
	mu sync.Mutex

	expiredScraped int64
	expiredManual  int64
	batch          []*models.JobPosting
	counts         *storage.CleanupCounts
	stats          *storage.PostingStats
	err            error

	invalidated map[string]types.ValidityStatus
	validated   map[string]time.Time
	deleteCalls int
}

func newFakePostingStore() *fakePostingStore {
	return &fakePostingStore{
		invalidated: make(map[string]types.ValidityStatus),
		validated:   make(map[string]time.Time),
	}
}

// The purge methods consume their counts, mirroring the real store: a second
// pass has nothing left to delete or deactivate.
func (s *fakePostingStore) DeleteExpiredScraped(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	s.deleteCalls++
	n := s.expiredScraped
	s.expiredScraped = 0
	return n, nil
}

func (s *fakePostingStore) DeactivateExpiredManual(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	n := s.expiredManual
	s.expiredManual = 0
	return n, nil
}

func (s *fakePostingStore) GetRevalidationBatch(ctx context.Context, cutoff time.Time, limit int) ([]*models.JobPosting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if len(s.batch) > limit {
		return s.batch[:limit], nil
	}
	return s.batch, nil
}

func (s *fakePostingStore) MarkInvalid(ctx context.Context, id string, status types.ValidityStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidated[id] = status
	return nil
}

func (s *fakePostingStore) MarkValidated(ctx context.Context, id string, validatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validated[id] = validatedAt
	return nil
}

func (s *fakePostingStore) CountCleanupTargets(ctx context.Context, now time.Time) (*storage.CleanupCounts, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.counts, nil
}

func (s *fakePostingStore) GetStats(ctx context.Context, recentWindow time.Duration) (*storage.PostingStats, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.stats, nil
}

// statusValidator returns a fixed status per posting ID
type statusValidator struct {
	statuses map[string]types.ValidityStatus
	calls    int
}

func (v *statusValidator) Validate(ctx context.Context, posting *models.JobPosting) types.ValidityStatus {
	v.calls++
	if status, ok := v.statuses[posting.ID]; ok {
		return status
	}
	return types.ValidityValid
}

// recordingBroadcaster captures published summaries
type recordingBroadcaster struct {
	mu        sync.Mutex
	summaries []*broadcast.CycleSummary
}

func (b *recordingBroadcaster) PublishCycleSummary(ctx context.Context, summary *broadcast.CycleSummary) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.summaries = append(b.summaries, summary)
	return nil
}

func (b *recordingBroadcaster) PublishScrapeSummary(ctx context.Context, summary *broadcast.ScrapeSummary) error {
	return nil
}

func testMonitorConfig() *config.MonitorConfig {
	return &config.MonitorConfig{
		CycleInterval:        10 * time.Millisecond,
		RevalidationInterval: 6 * time.Hour,
		StalenessThreshold:   60 * 24 * time.Hour,
		BatchSize:            50,
		PerPostingDelay:      0,
	}
}

func newTestMonitor(store PostingStore, validator Validator, bc broadcast.Broadcaster) *ValidityMonitor {
	logger := logging.NewLogger(logging.LevelError, logging.FormatText)
	return NewValidityMonitor(store, validator, bc, testMonitorConfig(), logger)
}

func scrapedPosting(id string, createdAt time.Time) *models.JobPosting {
	url := "https://source.test/" + id
	return &models.JobPosting{
		ID:             id,
		Title:          "Posting " + id,
		CompanyName:    "Acme",
		IsActive:       true,
		IsScraped:      true,
		SourceURL:      &url,
		ValidityStatus: types.ValidityValid,
		CreatedAt:      createdAt,
	}
}

func TestRunCycle_PurgeAndRevalidate(t *testing.T) {
	store := newFakePostingStore()
	store.expiredScraped = 3
	store.expiredManual = 2
	store.batch = []*models.JobPosting{
		scrapedPosting("ok", time.Now().Add(-24*time.Hour)),
		scrapedPosting("gone", time.Now().Add(-24*time.Hour)),
	}

	validator := &statusValidator{statuses: map[string]types.ValidityStatus{
		"gone": types.ValidityNotFound,
	}}
	bc := &recordingBroadcaster{}
	m := newTestMonitor(store, validator, bc)

	if !m.RunCycle(context.Background()) {
		t.Fatal("RunCycle() skipped unexpectedly")
	}

	if got := store.invalidated["gone"]; got != types.ValidityNotFound {
		t.Errorf("invalidated[gone] = %s, want NOT_FOUND", got)
	}
	if _, ok := store.validated["ok"]; !ok {
		t.Error("expected posting ok to be marked validated")
	}

	if len(bc.summaries) != 1 {
		t.Fatalf("summaries = %d, want 1", len(bc.summaries))
	}
	s := bc.summaries[0]
	if s.JobsRemoved != 3 || s.JobsExpired != 2 || s.JobsInvalid != 1 || s.Revalidated != 1 {
		t.Errorf("summary = %+v, want removed=3 expired=2 invalid=1 revalidated=1", s)
	}
}

func TestRunCycle_StalePostingExpiredWithoutProbe(t *testing.T) {
	store := newFakePostingStore()
	store.batch = []*models.JobPosting{
		scrapedPosting("ancient", time.Now().Add(-90*24*time.Hour)),
	}

	validator := &statusValidator{}
	m := newTestMonitor(store, validator, broadcast.NopBroadcaster{})
	m.RunCycle(context.Background())

	if got := store.invalidated["ancient"]; got != types.ValidityExpired {
		t.Errorf("invalidated[ancient] = %s, want EXPIRED", got)
	}
	if validator.calls != 0 {
		t.Errorf("validator calls = %d, want 0 (staleness short-circuits)", validator.calls)
	}
}

func TestRunCycle_DeadlinePassedInvalidatesWithoutProbe(t *testing.T) {
	deadline := time.Now().Add(-48 * time.Hour)
	posting := scrapedPosting("closed", time.Now().Add(-24*time.Hour))
	posting.ApplicationDeadline = &deadline

	store := newFakePostingStore()
	store.batch = []*models.JobPosting{posting}

	// The URL still answers, but the deadline has passed
	validator := &statusValidator{}
	m := newTestMonitor(store, validator, broadcast.NopBroadcaster{})
	m.RunCycle(context.Background())

	if got := store.invalidated["closed"]; got != types.ValidityNotFound {
		t.Errorf("invalidated[closed] = %s, want NOT_FOUND", got)
	}
	if validator.calls != 0 {
		t.Errorf("validator calls = %d, want 0 (deadline short-circuits the probe)", validator.calls)
	}
	if _, ok := store.validated["closed"]; ok {
		t.Error("posting past its deadline must not be re-marked validated")
	}
}

func TestRunCycle_SingleFlight(t *testing.T) {
	store := newFakePostingStore()
	m := newTestMonitor(store, &statusValidator{}, broadcast.NopBroadcaster{})

	m.cycleRunning.Store(true)
	if m.RunCycle(context.Background()) {
		t.Fatal("expected cycle to be skipped while one is in flight")
	}
	m.cycleRunning.Store(false)

	if !m.RunCycle(context.Background()) {
		t.Fatal("expected cycle to run once the flag clears")
	}
}

func TestRunCleanup_DryRun(t *testing.T) {
	store := newFakePostingStore()
	store.counts = &storage.CleanupCounts{ExpiredScraped: 4, ExpiredManual: 1, Invalid: 2}
	m := newTestMonitor(store, &statusValidator{}, broadcast.NopBroadcaster{})

	result, err := m.RunCleanup(context.Background(), true)
	if err != nil {
		t.Fatalf("RunCleanup() error = %v", err)
	}

	if !result.DryRun {
		t.Error("expected DryRun to be set")
	}
	if result.JobsRemoved != 4 || result.JobsExpired != 1 || result.JobsInvalid != 2 {
		t.Errorf("result = %+v", result)
	}
	if store.deleteCalls != 0 {
		t.Error("dry run must not delete anything")
	}
}

func TestRunCleanup_Executes(t *testing.T) {
	store := newFakePostingStore()
	store.expiredScraped = 7
	store.expiredManual = 3
	store.counts = &storage.CleanupCounts{Invalid: 2}
	m := newTestMonitor(store, &statusValidator{}, broadcast.NopBroadcaster{})

	result, err := m.RunCleanup(context.Background(), false)
	if err != nil {
		t.Fatalf("RunCleanup() error = %v", err)
	}

	if result.JobsRemoved != 7 || result.JobsExpired != 3 || result.JobsInvalid != 2 {
		t.Errorf("result = %+v, want removed=7 expired=3 invalid=2", result)
	}
	if store.deleteCalls != 1 {
		t.Errorf("deleteCalls = %d, want 1", store.deleteCalls)
	}
}

func TestRunCleanup_SecondRunRemovesNothing(t *testing.T) {
	store := newFakePostingStore()
	store.expiredScraped = 7
	store.expiredManual = 3
	m := newTestMonitor(store, &statusValidator{}, broadcast.NopBroadcaster{})

	first, err := m.RunCleanup(context.Background(), false)
	if err != nil {
		t.Fatalf("first RunCleanup() error = %v", err)
	}
	if first.JobsRemoved != 7 || first.JobsExpired != 3 {
		t.Fatalf("first result = %+v, want removed=7 expired=3", first)
	}

	second, err := m.RunCleanup(context.Background(), false)
	if err != nil {
		t.Fatalf("second RunCleanup() error = %v", err)
	}
	if second.JobsRemoved != 0 || second.JobsExpired != 0 {
		t.Errorf("second result = %+v, want removed=0 expired=0", second)
	}
}

func TestRunCleanup_PropagatesStoreError(t *testing.T) {
	store := newFakePostingStore()
	store.err = errors.New("db down")
	m := newTestMonitor(store, &statusValidator{}, broadcast.NopBroadcaster{})

	if _, err := m.RunCleanup(context.Background(), false); err == nil {
		t.Fatal("expected error when the store fails")
	}
}

func TestStartStop(t *testing.T) {
	store := newFakePostingStore()
	bc := &recordingBroadcaster{}
	m := newTestMonitor(store, &statusValidator{}, bc)

	ctx := context.Background()
	m.Start(ctx)

	deadline := time.After(2 * time.Second)
	for {
		bc.mu.Lock()
		n := len(bc.summaries)
		bc.mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("no cycle ran before the deadline")
		case <-time.After(5 * time.Millisecond):
		}
	}

	m.Stop()
}

func TestHTTPValidator(t *testing.T) {
	okServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer okServer.Close()
	goneServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer goneServer.Close()

	v := NewHTTPValidator(nil, time.Second)
	ctx := context.Background()

	tests := []struct {
		name string
		url  *string
		want types.ValidityStatus
	}{
		{"live posting", &okServer.URL, types.ValidityValid},
		{"404 from source", &goneServer.URL, types.ValidityNotFound},
		{"missing url", nil, types.ValidityInvalidURL},
		{"relative url", strPtr("/jobs/123"), types.ValidityInvalidURL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			posting := &models.JobPosting{ID: "p1", SourceURL: tt.url}
			if got := v.Validate(ctx, posting); got != tt.want {
				t.Errorf("Validate() = %s, want %s", got, tt.want)
			}
		})
	}
}

type inactiveSourceGetter struct{}

func (inactiveSourceGetter) GetByID(ctx context.Context, id string) (*models.JobSource, error) {
	return &models.JobSource{ID: id, Name: "dead-source", IsActive: false}, nil
}

func TestHTTPValidator_InactiveSource(t *testing.T) {
	v := NewHTTPValidator(inactiveSourceGetter{}, time.Second)

	sourceID := "src-1"
	url := "https://source.test/jobs/1"
	posting := &models.JobPosting{ID: "p1", SourceID: &sourceID, SourceURL: &url}

	if got := v.Validate(context.Background(), posting); got != types.ValidityNotFound {
		t.Errorf("Validate() = %s, want NOT_FOUND for inactive source", got)
	}
}

func TestHTTPValidator_RetriesTransientProbeFailure(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		first := attempts == 1
		mu.Unlock()
		if first {
			// Kill the connection so the client sees a transport error
			conn, _, err := w.(http.Hijacker).Hijack()
			if err != nil {
				t.Errorf("hijack failed: %v", err)
				return
			}
			conn.Close()
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	v := NewHTTPValidator(nil, time.Second)
	v.retryCfg = &retry.Config{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1.0}

	posting := &models.JobPosting{ID: "p1", SourceURL: &srv.URL}
	if got := v.Validate(context.Background(), posting); got != types.ValidityValid {
		t.Errorf("Validate() = %s, want VALID after a transient failure", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func strPtr(s string) *string { return &s }
