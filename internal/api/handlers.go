package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/eduquiz/rewards/internal/domain"
)

// ─── Event Ingestion ────────────────────────────────────────────────────────

// ingestRequest is the wire form of a reward event.
type ingestRequest struct {
	SourceID      string `json:"source_id"`
	Kind          string `json:"kind"`
	SubjectUserID string `json:"subject_user_id"`
	ActorUserID   string `json:"actor_user_id,omitempty"`
	Score         int    `json:"score,omitempty"`
	TargetRef     string `json:"target_ref,omitempty"`
}

// handleIngestEvent applies one reward event.
// POST /api/events
//
// Redelivering the same source_id is fine: the response carries
// credited=false and nothing changes.
func (s *Server) handleIngestEvent(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	result, err := s.ledger.ApplyReward(r.Context(), domain.RewardEvent{
		SourceID:      req.SourceID,
		Kind:          domain.EventKind(req.Kind),
		SubjectUserID: req.SubjectUserID,
		ActorUserID:   req.ActorUserID,
		Score:         req.Score,
		TargetRef:     req.TargetRef,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ─── Rate Limit Check ───────────────────────────────────────────────────────

type rateLimitRequest struct {
	UserID      string `json:"user_id"`
	Action      string `json:"action"`
	ReferenceID string `json:"reference_id,omitempty"`
}

// handleRateLimitCheck checks and reserves one quota slot.
// POST /api/ratelimit/check
//
// A denial is 200 with allowed=false; the HTTP status reflects the check
// itself, not the decision.
func (s *Server) handleRateLimitCheck(w http.ResponseWriter, r *http.Request) {
	var req rateLimitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UserID == "" || req.Action == "" {
		writeError(w, http.StatusBadRequest, "user_id and action are required")
		return
	}

	decision, err := s.limiter.CheckAndReserve(r.Context(), req.UserID, req.Action, req.ReferenceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

// ─── Queries ────────────────────────────────────────────────────────────────

// handleBalance returns a user's gold, exp, and derived rank.
// GET /api/users/{id}/balance
func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user id is required")
		return
	}

	balance, err := s.ledger.Balance(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

// handleLeaderboard returns the ranked listing.
// GET /api/leaderboard?sort=gold|exp|quiz_count&class_id=...&limit=N
func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	q := domain.LeaderboardQuery{
		SortBy:  domain.LeaderboardSort(r.URL.Query().Get("sort")),
		ClassID: r.URL.Query().Get("class_id"),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		q.Limit = limit
	}

	entries, err := s.ledger.Leaderboard(r.Context(), q)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if entries == nil {
		entries = []domain.LeaderboardEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
	})
}

// ─── Admin Grants ───────────────────────────────────────────────────────────

type grantRequest struct {
	TargetUserID string `json:"target_user_id"`
	Gold         int64  `json:"gold"`
	Exp          int64  `json:"exp"`
	Reason       string `json:"reason"`
	ActorID      string `json:"actor_id"`
}

// handleAdminGrant credits a user outside the event flow.
// POST /api/admin/grants
func (s *Server) handleAdminGrant(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	result, err := s.ledger.GrantAdminReward(r.Context(), req.TargetUserID,
		domain.RewardAmount{Gold: req.Gold, Exp: req.Exp}, req.Reason, req.ActorID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// writeDomainError maps domain sentinels to HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrSelfReward),
		errors.Is(err, domain.ErrGrantOutOfRange):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrUnknownKind):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    "error",
		},
	})
}
