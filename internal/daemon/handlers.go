package daemon

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/hoptrail/hoptrail/internal/browser"
	"github.com/hoptrail/hoptrail/internal/chain"
	"github.com/hoptrail/hoptrail/internal/history"
)

// maxEventBody bounds a single ingested event payload.
const maxEventBody = 1 << 20

// Handlers contains the HTTP handlers for the daemon API
type Handlers struct {
	store     history.Store
	asm       *chain.Assembler
	startedAt time.Time
	version   string
}

// NewHandlers creates a new handlers instance
func NewHandlers(store history.Store, asm *chain.Assembler, version string) *Handlers {
	return &Handlers{
		store:     store,
		asm:       asm,
		startedAt: time.Now(),
		version:   version,
	}
}

// Health handles the health check endpoint
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "ok",
		Version:   h.version,
		Uptime:    time.Since(h.startedAt).Round(time.Second).String(),
		StartedAt: h.startedAt,
	}
	writeJSON(w, http.StatusOK, resp)
}

// Ingest handles navigation events posted by the browser extension
func (h *Handlers) Ingest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	var env browser.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		writeError(w, http.StatusBadRequest, "invalid event envelope")
		return
	}

	if err := browser.Dispatch(h.asm, env.Event, body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// TabChain handles the live-chain query for a tab
func (h *Handlers) TabChain(w http.ResponseWriter, r *http.Request) {
	tabID, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid tab id")
		return
	}

	hops := h.asm.ChainForTab(tabID)
	resp := ChainResponse{
		TabID: tabID,
		Hops:  hops,
		Score: chain.Score(hops),
		Badge: h.asm.BadgeForTab(tabID),
	}
	if len(hops) > 0 {
		resp.OriginalURL = hops[0].URL
		resp.FinalURL = hops[len(hops)-1].URL
	}

	writeJSON(w, http.StatusOK, resp)
}

// ClearTabChain resets a tab's chain to empty
func (h *Handlers) ClearTabChain(w http.ResponseWriter, r *http.Request) {
	tabID, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid tab id")
		return
	}

	h.asm.ClearChain(tabID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// History handles the history list endpoint
func (h *Handlers) History(w http.ResponseWriter, r *http.Request) {
	opts := history.ListOptions{
		Search:        r.URL.Query().Get("search"),
		FavoritesOnly: r.URL.Query().Get("favorites") == "true",
		SortOrder:     r.URL.Query().Get("sort"),
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			opts.Limit = l
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o > 0 {
			opts.Offset = o
		}
	}

	entries, err := h.store.List(opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []*history.Entry{}
	}

	writeJSON(w, http.StatusOK, entries)
}

// HistoryDetail handles the entry detail endpoint
func (h *Handlers) HistoryDetail(w http.ResponseWriter, r *http.Request) {
	entry, err := h.store.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "entry not found")
		return
	}

	writeJSON(w, http.StatusOK, entry)
}

// UpdateHistory handles tag/note/favorite edits on an entry
func (h *Handlers) UpdateHistory(w http.ResponseWriter, r *http.Request) {
	var req EntryUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid update body")
		return
	}

	upd := history.EntryUpdate{
		Tags:       req.Tags,
		Notes:      req.Notes,
		IsFavorite: req.IsFavorite,
	}
	if err := h.store.Update(r.PathValue("id"), upd); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	entry, err := h.store.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "entry not found")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// DeleteHistory removes a single entry
func (h *Handlers) DeleteHistory(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Delete(r.PathValue("id")); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ClearHistory removes all entries
func (h *Handlers) ClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Clear(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// Stats handles the aggregate statistics endpoint
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{
		GradeCounts: make(map[string]int),
		WorstChains: []WorstChain{},
	}

	entries, err := h.store.List(history.ListOptions{Limit: 10000})
	if err != nil {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	resp.TotalEntries = len(entries)
	last24h := time.Now().Add(-24 * time.Hour)

	scoreSum := 0
	for _, e := range entries {
		scoreSum += e.Score.Score
		resp.GradeCounts[e.Score.Grade]++
		resp.TotalRedirects += e.RedirectCount

		if e.IsFavorite {
			resp.Favorites++
		}
		if e.Timestamp.After(last24h) {
			resp.Entries24h++
		}
	}

	if len(entries) > 0 {
		resp.AverageScore = float64(scoreSum) / float64(len(entries))
	}

	// Worst 10 chains by score.
	sorted := append([]*history.Entry(nil), entries...)
	for i := 0; i < len(sorted)-1; i++ {
		for j := i + 1; j < len(sorted); j++ {
			if sorted[j].Score.Score < sorted[i].Score.Score {
				sorted[i], sorted[j] = sorted[j], sorted[i]
			}
		}
	}
	for i, e := range sorted {
		if i >= 10 {
			break
		}
		resp.WorstChains = append(resp.WorstChains, WorstChain{
			ID:          e.ID,
			OriginalURL: e.OriginalURL,
			Score:       e.Score.Score,
			Grade:       e.Score.Grade,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// ExportHistory handles the history export endpoint
func (h *Handlers) ExportHistory(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}

	opts := history.ListOptions{
		Search:        r.URL.Query().Get("search"),
		FavoritesOnly: r.URL.Query().Get("favorites") == "true",
		Limit:         10000, // higher default for exports
	}

	entries, err := h.store.List(opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	switch format {
	case "csv":
		h.exportCSV(w, entries)
	default:
		h.exportJSON(w, entries)
	}
}

func (h *Handlers) exportJSON(w http.ResponseWriter, entries []*history.Entry) {
	if entries == nil {
		entries = []*history.Entry{}
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", "attachment; filename=hoptrail-history.json")
	_ = json.NewEncoder(w).Encode(entries)
}

func (h *Handlers) exportCSV(w http.ResponseWriter, entries []*history.Entry) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=hoptrail-history.csv")

	_, _ = w.Write([]byte("id,original_url,final_url,redirect_count,score,grade,total_time_ms,timestamp,is_favorite\n"))

	for _, e := range entries {
		line := fmt.Sprintf("%s,%s,%s,%d,%d,%s,%d,%s,%t\n",
			csvEscape(e.ID),
			csvEscape(e.OriginalURL),
			csvEscape(e.FinalURL),
			e.RedirectCount,
			e.Score.Score,
			csvEscape(e.Score.Grade),
			e.TotalTimeMs,
			e.Timestamp.Format(time.RFC3339),
			e.IsFavorite,
		)
		_, _ = w.Write([]byte(line))
	}
}

func csvEscape(s string) string {
	needsQuote := false
	for _, c := range s {
		if c == ',' || c == '"' || c == '\n' || c == '\r' {
			needsQuote = true
			break
		}
	}

	if !needsQuote {
		return s
	}

	escaped := ""
	for _, c := range s {
		if c == '"' {
			escaped += "\"\""
		} else {
			escaped += string(c)
		}
	}
	return "\"" + escaped + "\""
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
