package scraper

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/job-scanner/internal/types"
)

func TestIndeedSource_FetchAndNormalize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("q"); got != "golang" {
			t.Errorf("q = %q, want golang", got)
		}
		w.Write([]byte(`{
			"results": [
				{"jobtitle": "Go Engineer", "company": "Acme", "formattedLocation": "Berlin",
				 "snippet": "Build services", "url": "https://indeed.test/1", "jobType": "fulltime"},
				{"jobtitle": "Intern", "company": "Acme", "formattedLocation": "Berlin", "jobType": "internship"},
				{"jobtitle": "", "company": "Nameless"}
			]
		}`))
	}))
	defer server.Close()

	source := NewIndeedSource(server.URL, 5*time.Second, 100)

	raw, err := source.Fetch(context.Background(), "golang", "Berlin")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	postings, err := source.Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}

	// The titleless result is dropped
	if len(postings) != 2 {
		t.Fatalf("len(postings) = %d, want 2", len(postings))
	}
	if postings[0].Title != "Go Engineer" || postings[0].JobType != types.JobTypeFullTime {
		t.Errorf("postings[0] = %+v", postings[0])
	}
	if postings[1].JobType != types.JobTypeInternship {
		t.Errorf("postings[1].JobType = %s, want INTERNSHIP", postings[1].JobType)
	}
}

func TestLinkedInSource_Normalize(t *testing.T) {
	source := NewLinkedInSource("https://linkedin.test", 5*time.Second, 100)

	closeAt := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	postings, err := source.Normalize([]byte(`{
		"elements": [
			{"title": "Platform Engineer", "companyName": "Acme", "formattedLocation": "Remote",
			 "employmentType": "contract", "applyUrl": "https://linkedin.test/1",
			 "skills": ["go", "kubernetes"], "closeAt": ` + itoa(closeAt) + `}
		]
	}`))
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}

	if len(postings) != 1 {
		t.Fatalf("len(postings) = %d, want 1", len(postings))
	}
	p := postings[0]
	if p.JobType != types.JobTypeContract {
		t.Errorf("JobType = %s, want CONTRACT", p.JobType)
	}
	if len(p.Requirements) != 2 {
		t.Errorf("Requirements = %v, want 2 skills", p.Requirements)
	}
	if p.ApplicationDeadline == nil || p.ApplicationDeadline.UnixMilli() != closeAt {
		t.Errorf("ApplicationDeadline = %v", p.ApplicationDeadline)
	}
}

func TestNormalize_ParseError(t *testing.T) {
	for _, source := range []Source{
		NewIndeedSource("https://indeed.test", time.Second, 100),
		NewLinkedInSource("https://linkedin.test", time.Second, 100),
	} {
		_, err := source.Normalize([]byte("not json"))

		var srcErr *types.SourceError
		if !errors.As(err, &srcErr) {
			t.Fatalf("%s: expected SourceError, got %v", source.Name(), err)
		}
		if srcErr.Cause != types.CauseParseError {
			t.Errorf("%s: cause = %s, want PARSE_ERROR", source.Name(), srcErr.Cause)
		}
	}
}

func TestFetch_ThrottledBySource(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	source := NewIndeedSource(server.URL, time.Second, 100)

	_, err := source.Fetch(context.Background(), "golang", "")
	var srcErr *types.SourceError
	if !errors.As(err, &srcErr) {
		t.Fatalf("expected SourceError, got %v", err)
	}
	if srcErr.Cause != types.CauseRateLimitedBySource {
		t.Errorf("cause = %s, want SOURCE_RATE_LIMITED", srcErr.Cause)
	}
}

func TestFetch_SourceUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	source := NewLinkedInSource(server.URL, time.Second, 100)

	_, err := source.Fetch(context.Background(), "golang", "")
	var srcErr *types.SourceError
	if !errors.As(err, &srcErr) {
		t.Fatalf("expected SourceError, got %v", err)
	}
	if srcErr.Cause != types.CauseSourceUnavailable {
		t.Errorf("cause = %s, want SOURCE_UNAVAILABLE", srcErr.Cause)
	}
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&stubSource{name: "beta"})
	registry.Register(&stubSource{name: "alpha"})

	if _, err := registry.Get("alpha"); err != nil {
		t.Errorf("Get(alpha) error = %v", err)
	}
	if _, err := registry.Get("missing"); err == nil {
		t.Error("Get(missing) expected error")
	}

	names := registry.Names()
	if len(names) != 2 || names[0] != "alpha" || names[1] != "beta" {
		t.Errorf("Names() = %v, want [alpha beta]", names)
	}
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
