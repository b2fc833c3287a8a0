package chain

import (
	"reflect"
	"testing"
)

func redirectHop(url string, code int) Hop {
	hop := NewHop(url, code, "", nil)
	return hop
}

func countSeverity(issues []Issue, sev Severity) int {
	n := 0
	for _, issue := range issues {
		if issue.Severity == sev {
			n++
		}
	}
	return n
}

func TestScoreEmptyChain(t *testing.T) {
	got := Score([]Hop{})

	if got.Score != 100 {
		t.Errorf("Expected score 100, got %d", got.Score)
	}
	if got.Grade != "A" {
		t.Errorf("Expected grade A, got %s", got.Grade)
	}
	if len(got.Issues) != 0 {
		t.Errorf("Expected zero issues for empty chain, got %d", len(got.Issues))
	}
	if len(got.Recommendations) != 0 {
		t.Errorf("Expected zero recommendations, got %d", len(got.Recommendations))
	}
}

func TestScoreDirectAccess(t *testing.T) {
	got := Score([]Hop{redirectHop("https://example.com/", 200)})

	if got.Score != 100 || got.Grade != "A" {
		t.Fatalf("Expected 100/A, got %d/%s", got.Score, got.Grade)
	}
	if len(got.Issues) != 1 {
		t.Fatalf("Expected exactly one info issue, got %d", len(got.Issues))
	}
	if got.Issues[0].Severity != SeverityInfo {
		t.Errorf("Expected info severity, got %s", got.Issues[0].Severity)
	}
}

func TestScoreSinglePermanentRedirect(t *testing.T) {
	hops := []Hop{
		redirectHop("https://old.example.com/", 301),
		redirectHop("https://new.example.com/", 200),
	}
	got := Score(hops)

	if got.Score != 90 {
		t.Errorf("Expected score 90, got %d", got.Score)
	}
	if got.Grade != "A" {
		t.Errorf("Expected grade A, got %s", got.Grade)
	}
	if len(got.Issues) != 1 || got.Issues[0].Severity != SeverityInfo {
		t.Errorf("Expected exactly one info issue, got %+v", got.Issues)
	}
}

func TestScoreThreeTemporaryRedirects(t *testing.T) {
	hops := []Hop{
		redirectHop("https://a.example.com/", 302),
		redirectHop("https://b.example.com/", 302),
		redirectHop("https://c.example.com/", 302),
		redirectHop("https://d.example.com/", 200),
	}
	got := Score(hops)

	// 3 redirects x10 = 30, 3 temporary x5 = 15.
	if got.Score != 55 {
		t.Errorf("Expected score 55, got %d", got.Score)
	}
	if got.Grade != "D" {
		t.Errorf("Expected grade D, got %s", got.Grade)
	}
	// redirectCount == 3 is not > 3, so both issues are warnings.
	if countSeverity(got.Issues, SeverityWarning) != 2 {
		t.Errorf("Expected two warnings, got %+v", got.Issues)
	}
	if countSeverity(got.Issues, SeverityError) != 0 {
		t.Errorf("Expected no errors, got %+v", got.Issues)
	}
}

func TestScoreLongChainWithErrorsAndHTTP(t *testing.T) {
	hops := []Hop{
		redirectHop("https://a.example.com/", 301),
		redirectHop("http://b.example.com/", 301),
		redirectHop("https://c.example.com/", 301),
		redirectHop("https://d.example.com/", 301),
		redirectHop("https://e.example.com/", 301),
		redirectHop("https://f.example.com/", 404),
	}
	got := Score(hops)

	// 5 redirects x10 = 50, too-many = 15, one error hop = 20, http = 10.
	if got.Score != 5 {
		t.Errorf("Expected score 5, got %d", got.Score)
	}
	if got.Grade != "F" {
		t.Errorf("Expected grade F, got %s", got.Grade)
	}
}

func TestScoreClampedToZero(t *testing.T) {
	hops := []Hop{
		redirectHop("http://a.example.com/", 302),
		redirectHop("http://b.example.com/", 302),
		redirectHop("http://c.example.com/", 302),
		redirectHop("http://d.example.com/", 302),
		redirectHop("http://e.example.com/", 302),
		redirectHop("http://f.example.com/", 500),
		redirectHop("http://g.example.com/", 500),
	}
	got := Score(hops)

	if got.Score != 0 {
		t.Errorf("Expected score clamped to 0, got %d", got.Score)
	}
	if got.Grade != "F" {
		t.Errorf("Expected grade F, got %s", got.Grade)
	}
}

func TestScoreClientRedirects(t *testing.T) {
	meta := NewHop("https://a.example.com/", 200, "", nil)
	meta.Kind = KindClientRedirect
	meta.RedirectKind = RedirectMeta
	meta.RedirectTargetURL = "https://b.example.com/"

	hops := []Hop{meta, redirectHop("https://b.example.com/", 200)}
	got := Score(hops)

	// 1 redirect x10 + 1 client redirect x15.
	if got.Score != 75 {
		t.Errorf("Expected score 75, got %d", got.Score)
	}
	if countSeverity(got.Issues, SeverityError) != 1 {
		t.Errorf("Expected one error issue, got %+v", got.Issues)
	}
	found := false
	for _, rec := range got.Recommendations {
		if rec != "" {
			found = true
		}
	}
	if !found {
		t.Error("Expected a recommendation for client-side redirects")
	}
}

func TestScoreMultipleCategoriesAccumulate(t *testing.T) {
	hops := []Hop{
		redirectHop("https://a.example.com/", 302),
		redirectHop("http://b.example.com/", 301),
		redirectHop("https://c.example.com/", 404),
	}
	got := Score(hops)

	// 2 redirects x10 = 20, multiple-redirects warning (no deduction),
	// 1 temporary x5 = 5, 1 error x20 = 20, http = 10.
	if got.Score != 45 {
		t.Errorf("Expected score 45, got %d", got.Score)
	}
	if got.Grade != "D" {
		t.Errorf("Expected grade D, got %s", got.Grade)
	}
	if len(got.Issues) != 4 {
		t.Errorf("Expected four issues, got %+v", got.Issues)
	}
}

func TestScoreDeterministic(t *testing.T) {
	hops := []Hop{
		redirectHop("http://a.example.com/", 302),
		redirectHop("https://b.example.com/", 301),
		redirectHop("https://c.example.com/", 200),
	}

	first := Score(hops)
	second := Score(hops)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("Score is not deterministic:\n%+v\n%+v", first, second)
	}
}

func TestGradeBoundaries(t *testing.T) {
	tests := []struct {
		score int
		want  string
	}{
		{100, "A"},
		{90, "A"},
		{89, "B"},
		{75, "B"},
		{74, "C"},
		{60, "C"},
		{59, "D"},
		{40, "D"},
		{39, "F"},
		{0, "F"},
	}

	for _, tt := range tests {
		if got := gradeFor(tt.score); got != tt.want {
			t.Errorf("gradeFor(%d) = %s, want %s", tt.score, got, tt.want)
		}
	}
}
