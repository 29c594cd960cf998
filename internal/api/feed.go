package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/eduquiz/rewards/internal/domain"
)

// ─── Live Reward Feed ───────────────────────────────────────────────────────
// Dashboards subscribe to /api/rewards/live and see credits and rank-ups as
// they commit. SSE rather than WebSocket: one-directional, HTTP/2 friendly.

// FeedEvent is one feed entry.
type FeedEvent struct {
	Type      string `json:"type"` // "reward_granted" or "rank_changed"
	UserID    string `json:"user_id"`
	Kind      string `json:"kind,omitempty"`
	Gold      int64  `json:"gold,omitempty"`
	Exp       int64  `json:"exp,omitempty"`
	FromRank  string `json:"from_rank,omitempty"`
	ToRank    string `json:"to_rank,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// FeedHub broadcasts committed reward facts to SSE subscribers. It implements
// ledger.Notifier, so the ledger pushes into it after each commit.
type FeedHub struct {
	mu      sync.Mutex
	clients map[chan []byte]struct{}
}

// NewFeedHub creates an empty hub.
func NewFeedHub() *FeedHub {
	return &FeedHub{clients: make(map[chan []byte]struct{})}
}

// RewardGranted broadcasts a committed credit. Never blocks.
func (h *FeedHub) RewardGranted(userID string, kind domain.EventKind, amount domain.RewardAmount) {
	h.broadcast(FeedEvent{
		Type:      "reward_granted",
		UserID:    userID,
		Kind:      string(kind),
		Gold:      amount.Gold,
		Exp:       amount.Exp,
		Timestamp: time.Now().Unix(),
	})
}

// RankChanged broadcasts a rank transition. Never blocks.
func (h *FeedHub) RankChanged(userID string, from, to domain.Rank) {
	h.broadcast(FeedEvent{
		Type:      "rank_changed",
		UserID:    userID,
		FromRank:  from.String(),
		ToRank:    to.String(),
		Timestamp: time.Now().Unix(),
	})
}

func (h *FeedHub) broadcast(ev FeedEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- data:
		default:
			// Client too slow, drop the message.
		}
	}
}

// Subscribe registers a client. Returns the channel and an unsubscribe func.
func (h *FeedHub) Subscribe() (chan []byte, func()) {
	ch := make(chan []byte, 32)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch, func() {
		h.mu.Lock()
		delete(h.clients, ch)
		h.mu.Unlock()
		close(ch)
	}
}

// ClientCount returns the number of connected clients.
func (h *FeedHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// HandleSSE serves the live feed.
// GET /api/rewards/live
func (h *FeedHub) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	ch, unsub := h.Subscribe()
	defer unsub()

	for {
		select {
		case <-r.Context().Done():
			return
		case data := <-ch:
			w.Write([]byte("data: "))
			w.Write(data)
			w.Write([]byte("\n\n"))
			flusher.Flush()
		}
	}
}
