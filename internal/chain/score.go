package chain

import (
	"fmt"
	"strings"
)

// Severity of a scored issue
type Severity string

// Issue severities
const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Impact of a scored issue on SEO
type Impact string

// Issue impacts
const (
	ImpactHigh   Impact = "high"
	ImpactMedium Impact = "medium"
	ImpactLow    Impact = "low"
)

// Issue is a single finding from chain scoring.
type Issue struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Impact   Impact   `json:"impact"`
}

// ChainScore is the health assessment of a redirect chain. It is derived
// state, recomputable at any time from the hop list alone.
type ChainScore struct {
	Score           int      `json:"score"`
	Grade           string   `json:"grade"`
	Issues          []Issue  `json:"issues"`
	Recommendations []string `json:"recommendations"`
}

// Score computes the SEO health score for a chain of hops. Pure and
// deterministic: identical input always yields identical output. All
// deductions are independent and additive; a chain can trigger several
// issue categories at once.
func Score(hops []Hop) ChainScore {
	score := 100
	issues := []Issue{}
	recommendations := []string{}

	redirectCount := RedirectCount(hops)
	score -= redirectCount * 10

	if redirectCount > 3 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Message:  fmt.Sprintf("Too many redirects (%d): search engines may abandon the chain before reaching the destination", redirectCount),
			Impact:   ImpactHigh,
		})
		recommendations = append(recommendations, "Reduce the redirect chain to at most 2 hops")
		score -= 15
	} else if redirectCount > 1 {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("Multiple redirects (%d) add latency and dilute link equity", redirectCount),
			Impact:   ImpactMedium,
		})
	}

	tempRedirects := 0
	for i := range hops {
		if hops[i].StatusCode == 302 || hops[i].StatusCode == 307 {
			tempRedirects++
		}
	}
	if tempRedirects > 0 {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("%d temporary redirect(s) (302/307) pass less ranking signal than permanent ones", tempRedirects),
			Impact:   ImpactMedium,
		})
		recommendations = append(recommendations, "Use 301 (permanent) redirects for moves that are not temporary")
		score -= tempRedirects * 5
	}

	clientRedirects := 0
	for i := range hops {
		if hops[i].Kind == KindClientRedirect {
			clientRedirects++
		}
	}
	if clientRedirects > 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Message:  fmt.Sprintf("%d client-side redirect(s) (meta refresh or JavaScript) are slow and poorly crawled", clientRedirects),
			Impact:   ImpactHigh,
		})
		recommendations = append(recommendations, "Replace JavaScript and meta refresh redirects with a server-side 301")
		score -= clientRedirects * 15
	}

	errorHops := 0
	for i := range hops {
		if hops[i].StatusCode >= 400 {
			errorHops++
		}
	}
	if errorHops > 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Message:  fmt.Sprintf("%d hop(s) returned an error status", errorHops),
			Impact:   ImpactHigh,
		})
		score -= errorHops * 20
	}

	insecure := false
	for i := range hops {
		if strings.HasPrefix(hops[i].URL, "http://") {
			insecure = true
			break
		}
	}
	if insecure {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Message:  "Chain passes through non-HTTPS URLs",
			Impact:   ImpactMedium,
		})
		recommendations = append(recommendations, "Serve every hop over HTTPS")
		score -= 10
	}

	// Bonus info messages; these never affect the score.
	if len(hops) > 0 {
		if redirectCount == 0 && len(issues) == 0 {
			issues = append(issues, Issue{
				Severity: SeverityInfo,
				Message:  "Perfect: the URL is served directly with no redirects",
				Impact:   ImpactLow,
			})
		} else if redirectCount == 1 {
			for i := range hops {
				if hops[i].IsRedirectHop() && (hops[i].StatusCode == 301 || hops[i].StatusCode == 308) {
					issues = append(issues, Issue{
						Severity: SeverityInfo,
						Message:  "Good: a single permanent redirect",
						Impact:   ImpactLow,
					})
					break
				}
			}
		}
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	return ChainScore{
		Score:           score,
		Grade:           gradeFor(score),
		Issues:          issues,
		Recommendations: recommendations,
	}
}

func gradeFor(score int) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 75:
		return "B"
	case score >= 60:
		return "C"
	case score >= 40:
		return "D"
	default:
		return "F"
	}
}
