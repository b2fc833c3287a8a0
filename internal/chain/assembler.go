package chain

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hoptrail/hoptrail/internal/logger"
)

// Badge is the per-tab status indicator shown by the extension. It
// reflects the FIRST hop's status code, so a page that started as a
// redirect is visible at a glance even after it resolves.
type Badge struct {
	Text  string `json:"text"`
	Color string `json:"color"`
}

// Notifier receives chain lifecycle broadcasts. Delivery is best effort:
// implementations must not block and must swallow their own failures; a
// missing or closed observer is normal, not an error.
type Notifier interface {
	NavigationStarted(tabID int, url, title string)
	RedirectAppended(tabID int, hop Hop, chainOriginalURL string)
	NavigationCompleted(tabID int, hops []Hop)
	BadgeUpdated(tabID int, badge Badge)
}

// Saver persists a completed chain. Saving is fire-and-forget from the
// assembler's perspective; a failed save never rolls back in-memory state.
type Saver interface {
	Save(hops []Hop) error
}

// SaverFunc adapts a function to the Saver interface.
type SaverFunc func(hops []Hop) error

// Save calls f.
func (f SaverFunc) Save(hops []Hop) error { return f(hops) }

// Assembler owns the per-tab chain table and builds redirect chains from
// browser navigation events. It is the single writer of all chain state;
// event handlers from any goroutine serialize through its mutex, and
// observers only ever receive copies.
type Assembler struct {
	mu       sync.Mutex
	chains   map[int]*Chain
	ips      map[timingKey]string
	badges   map[int]Badge
	timing   *Tracker
	notifier Notifier
	saver    Saver
	autoSave func() bool
}

// NewAssembler creates a chain assembler. notifier, saver and autoSave may
// be nil; the corresponding steps are then skipped.
func NewAssembler(timing *Tracker, notifier Notifier, saver Saver, autoSave func() bool) *Assembler {
	return &Assembler{
		chains:   make(map[int]*Chain),
		ips:      make(map[timingKey]string),
		badges:   make(map[int]Badge),
		timing:   timing,
		notifier: notifier,
		saver:    saver,
		autoSave: autoSave,
	}
}

// RequestStarted records a timing start for a main-document request about
// to be sent. No chain state changes.
func (a *Assembler) RequestStarted(tabID, frameID int, url string) {
	if frameID != 0 {
		return
	}
	a.timing.RecordStart(tabID, url)
}

// NavigationPending handles the browser being about to navigate the
// top-level frame. A navigation is NEW when the tab has no chain, the
// chain is empty, or the new URL does not share the first hop's URL prefix
// before any query string; a new navigation discards the old chain and
// clears the badge. "navigation started" is broadcast either way, so
// observers hear about every pending navigation.
func (a *Assembler) NavigationPending(tabID, frameID int, url, title string) {
	if frameID != 0 {
		return
	}

	a.mu.Lock()
	existing := a.chains[tabID]
	isNew := existing == nil || len(existing.Hops) == 0 ||
		!strings.HasPrefix(url, chainPrefix(existing.OriginalURL()))

	if isNew {
		a.chains[tabID] = &Chain{TabID: tabID, StartTime: time.Now().UnixMilli()}
		a.badges[tabID] = Badge{}
	}
	a.mu.Unlock()

	if title == "" {
		title = url
	}

	if isNew {
		a.notifyBadge(tabID, Badge{})
	}
	if a.notifier != nil {
		a.notifier.NavigationStarted(tabID, url, title)
	}

	logger.Debug().
		Int("tab", tabID).
		Str("url", url).
		Bool("new_chain", isNew).
		Msg("Navigation pending")
}

// HeadersReceived appends a hop built from a main-document response.
// Duplicate hops for the same URL within one chain are kept as-is so
// genuine redirect loops stay visible.
func (a *Assembler) HeadersReceived(tabID, frameID int, url string, statusCode int, statusLine string, headers []Header) {
	if frameID != 0 {
		return
	}

	start := a.timing.ConsumeStart(tabID, url)
	end := time.Now()
	duration := end.Sub(start).Milliseconds()
	if duration < 0 {
		duration = 0
	}

	hop := NewHop(url, statusCode, statusLine, headers)
	hop.Timing = &Timing{
		StartTime:  start.UnixMilli(),
		EndTime:    end.UnixMilli(),
		DurationMs: duration,
	}

	a.mu.Lock()
	if ip, ok := a.ips[timingKey{tabID, url}]; ok {
		hop.IP = ip
	}

	ch := a.chains[tabID]
	if ch == nil {
		ch = &Chain{TabID: tabID, StartTime: time.Now().UnixMilli()}
		a.chains[tabID] = ch
	}
	ch.Hops = append(ch.Hops, hop)
	originalURL := ch.OriginalURL()
	a.mu.Unlock()

	if a.notifier != nil {
		a.notifier.RedirectAppended(tabID, hop, originalURL)
	}

	logger.Debug().
		Int("tab", tabID).
		Str("url", url).
		Int("status", statusCode).
		Str("kind", string(hop.Kind)).
		Msg("Hop appended")
}

// IPResolved records the server address for a (tab, URL) pair and
// backfills any already-created hop for that exact URL whose IP is still
// unknown. The backfill only ever upgrades the sentinel; a known address
// is never overwritten. This reconciles the race between header arrival
// and address resolution.
func (a *Assembler) IPResolved(tabID, frameID int, url, ip string) {
	if frameID != 0 || ip == "" {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.ips[timingKey{tabID, url}] = ip

	ch := a.chains[tabID]
	if ch == nil {
		return
	}
	for i := range ch.Hops {
		if ch.Hops[i].URL == url {
			ch.Hops[i].BackfillIP(ip)
		}
	}
}

// NavigationCompleted finalizes the tab's chain: a hop is synthesized for
// cached or internal pages that never produced response headers, the badge
// is set from the first hop's status, observers are notified, and the
// chain is handed to the saver when auto-save is on. The in-memory chain
// stays live for queries until the next navigation replaces it.
func (a *Assembler) NavigationCompleted(tabID, frameID int, url string) {
	if frameID != 0 {
		return
	}

	a.mu.Lock()
	ch := a.chains[tabID]
	if ch == nil {
		ch = &Chain{TabID: tabID, StartTime: time.Now().UnixMilli()}
		a.chains[tabID] = ch
	}

	if len(ch.Hops) == 0 {
		hop := NewHop(url, 200, "", []Header{})
		if ip, ok := a.ips[timingKey{tabID, url}]; ok {
			hop.IP = ip
		}
		ch.Hops = append(ch.Hops, hop)
	}

	badge := badgeFor(ch.Hops[0].StatusCode)
	a.badges[tabID] = badge
	hops := CloneHops(ch.Hops)
	a.mu.Unlock()

	a.notifyBadge(tabID, badge)
	if a.notifier != nil {
		a.notifier.NavigationCompleted(tabID, hops)
	}

	if a.saver != nil && a.autoSave != nil && a.autoSave() && len(hops) > 0 {
		saved := CloneHops(hops)
		go func() {
			if err := a.saver.Save(saved); err != nil {
				logger.Warn().Err(err).Int("tab", tabID).Msg("Failed to save chain to history")
			}
		}()
	}

	logger.Debug().
		Int("tab", tabID).
		Int("hops", len(hops)).
		Msg("Navigation completed")
}

// TabClosed drops all state for a tab: its chain, badge, observed IPs and
// pending timing entries.
func (a *Assembler) TabClosed(tabID int) {
	a.mu.Lock()
	delete(a.chains, tabID)
	delete(a.badges, tabID)
	for key := range a.ips {
		if key.tabID == tabID {
			delete(a.ips, key)
		}
	}
	a.mu.Unlock()

	a.timing.DropTab(tabID)
}

// ChainForTab returns a copy of the tab's current hop list. A tab with no
// chain yields an empty list, indistinguishable from a never-seen tab.
func (a *Assembler) ChainForTab(tabID int) []Hop {
	a.mu.Lock()
	defer a.mu.Unlock()

	ch := a.chains[tabID]
	if ch == nil {
		return []Hop{}
	}
	return CloneHops(ch.Hops)
}

// ClearChain resets the tab's chain to empty.
func (a *Assembler) ClearChain(tabID int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.chains[tabID] = &Chain{TabID: tabID, StartTime: time.Now().UnixMilli()}
	a.badges[tabID] = Badge{}
}

// BadgeForTab returns the tab's current badge.
func (a *Assembler) BadgeForTab(tabID int) Badge {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.badges[tabID]
}

func (a *Assembler) notifyBadge(tabID int, badge Badge) {
	if a.notifier != nil {
		a.notifier.BadgeUpdated(tabID, badge)
	}
}

func badgeFor(statusCode int) Badge {
	class := Classify(statusCode)
	color := "gray"
	switch {
	case class.IsSuccess:
		color = "green"
	case class.IsRedirect:
		color = "orange"
	case class.IsClientError, class.IsServerError:
		color = "red"
	}
	return Badge{Text: strconv.Itoa(statusCode), Color: color}
}
