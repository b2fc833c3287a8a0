package daemon

import (
	"time"

	"github.com/hoptrail/hoptrail/internal/chain"
)

// ChainResponse is the live chain for a tab, with a provisional score
// recomputed on demand.
type ChainResponse struct {
	TabID       int              `json:"tabId"`
	OriginalURL string           `json:"originalUrl,omitempty"`
	FinalURL    string           `json:"finalUrl,omitempty"`
	Hops        []chain.Hop      `json:"hops"`
	Score       chain.ChainScore `json:"score"`
	Badge       chain.Badge      `json:"badge"`
}

// EntryUpdateRequest carries a PATCH to a history entry. Absent fields are
// left unchanged.
type EntryUpdateRequest struct {
	Tags       *[]string `json:"tags,omitempty"`
	Notes      *string   `json:"notes,omitempty"`
	IsFavorite *bool     `json:"isFavorite,omitempty"`
}

// StatsResponse represents aggregate history statistics
type StatsResponse struct {
	TotalEntries   int            `json:"total_entries"`
	Favorites      int            `json:"favorites"`
	Entries24h     int            `json:"entries_24h"`
	AverageScore   float64        `json:"average_score"`
	GradeCounts    map[string]int `json:"grade_counts"`
	TotalRedirects int            `json:"total_redirects"`
	WorstChains    []WorstChain   `json:"worst_chains"`
}

// WorstChain identifies a low-scoring history entry
type WorstChain struct {
	ID          string `json:"id"`
	OriginalURL string `json:"original_url"`
	Score       int    `json:"score"`
	Grade       string `json:"grade"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Version   string    `json:"version"`
	Uptime    string    `json:"uptime"`
	StartedAt time.Time `json:"started_at"`
}

// SSEEvent represents a server-sent event
type SSEEvent struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// SSE event types
const (
	SSENavigationStarted   = "navigation_started"
	SSERedirectAppended    = "redirect_appended"
	SSENavigationCompleted = "navigation_completed"
	SSEBadgeUpdated        = "badge_updated"
	SSEHeartbeat           = "heartbeat"
)
