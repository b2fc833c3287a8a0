package tracer

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/hoptrail/hoptrail/internal/chain"
	"github.com/hoptrail/hoptrail/internal/config"
	"github.com/hoptrail/hoptrail/internal/logger"
)

// maxBodyScan bounds how much of an HTML body is read when looking for
// client-side redirects.
const maxBodyScan = 512 * 1024

var jsRedirectRe = regexp.MustCompile(`(?i)(?:window\.|document\.)?location(?:\.href)?\s*=\s*['"]([^'"#]+)['"]`)

// Result is the outcome of actively tracing a URL's redirect chain.
type Result struct {
	Target     string           `json:"target"`
	Hops       []chain.Hop      `json:"hops"`
	Score      chain.ChainScore `json:"score"`
	StartedAt  time.Time        `json:"startedAt"`
	DurationMs int64            `json:"durationMs"`
	Error      string           `json:"error,omitempty"`
}

// Tracer follows a URL's redirect chain by hand, without relying on a
// browser. Server redirects come from Location headers; client redirects
// are detected by scanning HTML bodies for meta refresh and location
// assignments.
type Tracer struct {
	client  *http.Client
	limiter *rate.Limiter
	maxHops int
}

// New creates a tracer from settings. Redirects are never followed
// automatically so every hop is observed.
func New(settings config.TracerSettings) *Tracer {
	timeout, err := time.ParseDuration(settings.Timeout)
	if err != nil || timeout <= 0 {
		timeout = 10 * time.Second
	}

	maxHops := settings.MaxHops
	if maxHops <= 0 {
		maxHops = 20
	}

	userAgent := settings.UserAgent
	if userAgent == "" {
		userAgent = "hoptrail/1.0"
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: settings.Insecure},
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2: true,
	}

	client := &http.Client{
		Transport: &uaRoundTripper{base: transport, userAgent: userAgent},
		Timeout:   timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			// prevent automatic redirects
			return http.ErrUseLastResponse
		},
	}

	return &Tracer{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(10), 1),
		maxHops: maxHops,
	}
}

type uaRoundTripper struct {
	base      http.RoundTripper
	userAgent string
}

func (u *uaRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Set("User-Agent", u.userAgent)
	return u.base.RoundTrip(r)
}

// Trace follows redirects starting from target until a final response,
// a loop, an error, or the hop cap.
func (t *Tracer) Trace(ctx context.Context, target string) Result {
	res := Result{Target: target, StartedAt: time.Now(), Hops: []chain.Hop{}}
	current := target
	seen := make(map[string]struct{})

	for i := 0; i < t.maxHops; i++ {
		if _, ok := seen[current]; ok {
			logger.Debug().Str("url", current).Msg("Redirect loop detected, stopping trace")
			break
		}
		seen[current] = struct{}{}

		if err := t.limiter.Wait(ctx); err != nil {
			res.Error = err.Error()
			break
		}

		hop, next, err := t.fetch(ctx, current)
		if err != nil {
			res.Error = err.Error()
			break
		}
		res.Hops = append(res.Hops, hop)

		if next == "" {
			break
		}
		current = next
	}

	res.Score = chain.Score(res.Hops)
	res.DurationMs = time.Since(res.StartedAt).Milliseconds()
	return res
}

// fetch performs one request and returns the resulting hop plus the next
// URL to follow, or "" when the chain ends here.
func (t *Tracer) fetch(ctx context.Context, current string) (chain.Hop, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, current, nil)
	if err != nil {
		return chain.Hop{}, "", fmt.Errorf("failed to build request: %w", err)
	}

	var remoteAddr string
	trace := &httptrace.ClientTrace{
		GotConn: func(info httptrace.GotConnInfo) {
			if host, _, err := net.SplitHostPort(info.Conn.RemoteAddr().String()); err == nil {
				remoteAddr = host
			}
		},
	}
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), trace))

	start := time.Now()
	resp, err := t.client.Do(req)
	end := time.Now()
	if err != nil {
		return chain.Hop{}, "", err
	}
	defer func() { _ = resp.Body.Close() }()

	hop := chain.NewHop(current, resp.StatusCode, resp.Proto+" "+resp.Status, flattenHeaders(resp.Header))
	hop.Timing = &chain.Timing{
		StartTime:  start.UnixMilli(),
		EndTime:    end.UnixMilli(),
		DurationMs: end.Sub(start).Milliseconds(),
	}
	hop.BackfillIP(remoteAddr)

	base := resp.Request.URL

	// Server redirect: follow the Location header
	if hop.StatusClass.IsRedirect {
		loc := resp.Header.Get("Location")
		if loc == "" {
			return hop, "", nil
		}
		nextURL, err := url.Parse(loc)
		if err != nil {
			return hop, "", nil
		}
		resolved := base.ResolveReference(nextURL).String()
		hop.RedirectTargetURL = resolved
		return hop, resolved, nil
	}

	// Final response: scan HTML bodies for client-side redirects
	if strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyScan))
		if next, kind, ok := detectClientRedirect(body, base); ok {
			hop.Kind = chain.KindClientRedirect
			hop.RedirectKind = kind
			hop.RedirectTargetURL = next
			return hop, next, nil
		}
	}

	return hop, "", nil
}

// detectClientRedirect looks for a meta refresh tag first, then a script
// location assignment.
func detectClientRedirect(body []byte, base *url.URL) (string, chain.RedirectKind, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err == nil {
		var target string
		doc.Find("meta[http-equiv]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			equiv, _ := s.Attr("http-equiv")
			if !strings.EqualFold(equiv, "refresh") {
				return true
			}
			content, _ := s.Attr("content")
			if u := parseRefreshContent(content); u != "" {
				target = u
				return false
			}
			return true
		})
		if target != "" {
			if u, err := url.Parse(target); err == nil {
				return base.ResolveReference(u).String(), chain.RedirectMeta, true
			}
		}
	}

	if m := jsRedirectRe.FindSubmatch(body); m != nil {
		if u, err := url.Parse(string(m[1])); err == nil {
			return base.ResolveReference(u).String(), chain.RedirectJavaScript, true
		}
	}

	return "", "", false
}

// parseRefreshContent extracts the url= portion of a refresh content
// attribute like "0; url=https://example.com/".
func parseRefreshContent(content string) string {
	for _, part := range strings.Split(content, ";") {
		part = strings.TrimSpace(part)
		if len(part) > 4 && strings.EqualFold(part[:4], "url=") {
			return strings.Trim(part[4:], `'"`)
		}
	}
	return ""
}

func flattenHeaders(h http.Header) []chain.Header {
	headers := make([]chain.Header, 0, len(h))
	for name, values := range h {
		for _, v := range values {
			headers = append(headers, chain.Header{Name: name, Value: v})
		}
	}
	return headers
}
