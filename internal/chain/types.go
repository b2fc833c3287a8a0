package chain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// HopKind classifies how a hop was reached
type HopKind string

// Hop kinds
const (
	KindNavigation     HopKind = "navigation"
	KindServerRedirect HopKind = "server_redirect"
	KindClientRedirect HopKind = "client_redirect"
)

// RedirectKind refines a redirect hop's mechanism
type RedirectKind string

// Redirect kinds
const (
	RedirectPermanent  RedirectKind = "permanent"
	RedirectTemporary  RedirectKind = "temporary"
	RedirectMeta       RedirectKind = "meta"
	RedirectJavaScript RedirectKind = "javascript"
	RedirectHSTS       RedirectKind = "hsts"
)

// UnknownIP is the sentinel for a hop whose server address has not been
// observed yet.
const UnknownIP = "Unknown"

// Header is a single response header in wire order. Repeated names are
// kept as-is, never collapsed.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Timing records when a hop's request started and finished, in epoch
// milliseconds.
type Timing struct {
	StartTime  int64 `json:"startTime"`
	EndTime    int64 `json:"endTime"`
	DurationMs int64 `json:"durationMs"`
}

// StatusClass is the memoized semantic classification of a status code.
// It is computed once at hop creation and never recomputed.
type StatusClass struct {
	IsSuccess     bool `json:"isSuccess"`
	IsRedirect    bool `json:"isRedirect"`
	IsClientError bool `json:"isClientError"`
	IsServerError bool `json:"isServerError"`
}

// Hop is one observed step in a redirect chain. Apart from BackfillIP,
// a hop is immutable once created.
type Hop struct {
	ID                string       `json:"id"`
	URL               string       `json:"url"`
	StatusCode        int          `json:"statusCode"`
	StatusLine        string       `json:"statusLine,omitempty"`
	IP                string       `json:"ip"`
	Kind              HopKind      `json:"kind"`
	RedirectKind      RedirectKind `json:"redirectKind,omitempty"`
	RedirectTargetURL string       `json:"redirectTargetUrl,omitempty"`
	Headers           []Header     `json:"headers"`
	Timestamp         int64        `json:"timestamp"`
	Timing            *Timing      `json:"timing,omitempty"`
	StatusClass       StatusClass  `json:"statusClass"`
}

// NewHop builds a hop for a response. Kind and redirect classification are
// derived from the status code and headers; callers producing client-side
// redirects overwrite Kind, RedirectKind and RedirectTargetURL themselves.
func NewHop(url string, statusCode int, statusLine string, headers []Header) Hop {
	hop := Hop{
		ID:          uuid.NewString(),
		URL:         url,
		StatusCode:  statusCode,
		StatusLine:  statusLine,
		IP:          UnknownIP,
		Kind:        KindNavigation,
		Headers:     headers,
		Timestamp:   time.Now().UnixMilli(),
		StatusClass: Classify(statusCode),
	}

	if hop.StatusClass.IsRedirect {
		hop.Kind = KindServerRedirect
		hop.RedirectKind = ClassifyRedirect(statusCode, headers)
		if loc, ok := HeaderValue(headers, "Location"); ok {
			hop.RedirectTargetURL = loc
		}
	}

	return hop
}

// BackfillIP upgrades an unknown IP in place. This is the only mutation
// permitted on a hop after creation; a known address is never overwritten.
func (h *Hop) BackfillIP(ip string) bool {
	if ip == "" || h.IP != UnknownIP {
		return false
	}
	h.IP = ip
	return true
}

// IsRedirectHop reports whether the hop redirected elsewhere, by either
// server or client mechanism.
func (h *Hop) IsRedirectHop() bool {
	return h.Kind == KindServerRedirect || h.Kind == KindClientRedirect
}

// Chain is the per-tab ordered hop sequence for one logical navigation.
type Chain struct {
	TabID     int   `json:"tabId"`
	Hops      []Hop `json:"hops"`
	StartTime int64 `json:"startTime"`
}

// OriginalURL returns the first hop's URL, or "" for an empty chain.
func (c *Chain) OriginalURL() string {
	if len(c.Hops) == 0 {
		return ""
	}
	return c.Hops[0].URL
}

// FinalURL returns the last hop's URL, or "" for an empty chain.
func (c *Chain) FinalURL() string {
	if len(c.Hops) == 0 {
		return ""
	}
	return c.Hops[len(c.Hops)-1].URL
}

// RedirectCount counts the hops that redirected elsewhere.
func RedirectCount(hops []Hop) int {
	n := 0
	for i := range hops {
		if hops[i].IsRedirectHop() {
			n++
		}
	}
	return n
}

// TotalTimeMs sums the durations of all hops that carry timing.
func TotalTimeMs(hops []Hop) int64 {
	var total int64
	for i := range hops {
		if hops[i].Timing != nil {
			total += hops[i].Timing.DurationMs
		}
	}
	return total
}

// CloneHops returns a deep copy of a hop slice. Observers always receive
// copies, never references into the live chain table.
func CloneHops(hops []Hop) []Hop {
	out := make([]Hop, len(hops))
	copy(out, hops)
	for i := range out {
		if hops[i].Timing != nil {
			t := *hops[i].Timing
			out[i].Timing = &t
		}
		if hops[i].Headers != nil {
			out[i].Headers = append([]Header(nil), hops[i].Headers...)
		}
	}
	return out
}

// chainPrefix returns the portion of a URL before any query string. Used
// for new-vs-continuing navigation detection.
func chainPrefix(url string) string {
	if i := strings.Index(url, "?"); i >= 0 {
		return url[:i]
	}
	return url
}
