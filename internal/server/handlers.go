package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stridehq/stride/internal/auth"
	"github.com/stridehq/stride/internal/protocol"
	"github.com/stridehq/stride/internal/schema"
)

// Handler exposes the sync and auth HTTP API.
type Handler struct {
	store   *Store
	authCfg auth.Config
	logger  *log.Logger
	now     func() time.Time
}

// NewHandler constructs the API handler.
func NewHandler(store *Store, authCfg auth.Config, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(os.Stderr, "[server] ", log.LstdFlags)
	}
	return &Handler{
		store:   store,
		authCfg: authCfg,
		logger:  logger,
		now:     time.Now,
	}
}

// SetClock overrides the handler clock for tests.
func (h *Handler) SetClock(now func() time.Time) {
	h.now = now
}

// Routes builds the full handler chain: the route mux wrapped in the
// bearer-token middleware, with login/signup, health and metrics exempt.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/sync/push", h.push)
	mux.HandleFunc("/sync/pull", h.pull)
	mux.HandleFunc("/auth/signup", h.signup)
	mux.HandleFunc("/auth/login", h.login)
	mux.HandleFunc("/auth/verify", h.verify)
	mux.HandleFunc("/healthz", healthz)
	mux.Handle("/metrics", promhttp.Handler())

	mw := auth.NewMiddleware(h.authCfg, func(r *http.Request) bool {
		switch r.URL.Path {
		case "/auth/signup", "/auth/login", "/healthz", "/metrics":
			return true
		}
		return false
	})
	return mw.Wrap(mux)
}

func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// push accepts a batch of client records, assigns each accepted record its
// next revision, and acknowledges per record. Records claiming a different
// owner than the authenticated user are skipped without an acknowledgement;
// the push as a whole still succeeds for the rest of the batch.
func (h *Handler) push(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "unsupported method")
		return
	}
	identity, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized: missing identity")
		return
	}
	pushRequests.Inc()

	var req protocol.PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "unable to parse body")
		return
	}

	now := h.now().UnixMilli()
	resp := protocol.PushResponse{
		Success:    true,
		Goals:      make(map[string]protocol.PushResult),
		Activities: make(map[string]protocol.PushResult),
		Timestamp:  now,
	}

	for _, rec := range req.Goals {
		if rec.OwnerID != identity.UserID {
			h.logger.Printf("Skipping goal %s: claimed owner %s, authenticated %s", rec.RemoteID, rec.OwnerID, identity.UserID)
			pushRecords.WithLabelValues("goal", "skipped").Inc()
			continue
		}
		if err := rec.ToGoal().Validate(); err != nil {
			resp.Goals[rec.RemoteID] = protocol.PushResult{Success: false, Error: err.Error()}
			pushRecords.WithLabelValues("goal", "rejected").Inc()
			continue
		}
		rev, err := h.store.UpsertGoal(r.Context(), identity.UserID, rec, now)
		if err != nil {
			h.logger.Printf("Failed to store goal %s: %v", rec.RemoteID, err)
			resp.Goals[rec.RemoteID] = protocol.PushResult{Success: false, Error: "storage failure"}
			pushRecords.WithLabelValues("goal", "rejected").Inc()
			continue
		}
		resp.Goals[rec.RemoteID] = protocol.PushResult{Revision: rev, Success: true}
		pushRecords.WithLabelValues("goal", "accepted").Inc()
	}

	for _, rec := range req.Activities {
		if rec.OwnerID != identity.UserID {
			h.logger.Printf("Skipping activity %s: claimed owner %s, authenticated %s", rec.RemoteID, rec.OwnerID, identity.UserID)
			pushRecords.WithLabelValues("activity", "skipped").Inc()
			continue
		}
		if err := rec.ToActivity().Validate(); err != nil {
			resp.Activities[rec.RemoteID] = protocol.PushResult{Success: false, Error: err.Error()}
			pushRecords.WithLabelValues("activity", "rejected").Inc()
			continue
		}
		rev, err := h.store.UpsertActivity(r.Context(), identity.UserID, rec, now)
		if err != nil {
			h.logger.Printf("Failed to store activity %s: %v", rec.RemoteID, err)
			resp.Activities[rec.RemoteID] = protocol.PushResult{Success: false, Error: "storage failure"}
			pushRecords.WithLabelValues("activity", "rejected").Inc()
			continue
		}
		resp.Activities[rec.RemoteID] = protocol.PushResult{Revision: rev, Success: true}
		pushRecords.WithLabelValues("activity", "accepted").Inc()
	}

	writeJSON(w, http.StatusOK, resp)
}

// pull returns every record of the authenticated user changed strictly
// after the since watermark (epoch millis, 0 for a full pull).
func (h *Handler) pull(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "unsupported method")
		return
	}
	identity, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized: missing identity")
		return
	}
	pullRequests.Inc()

	var since int64
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid since parameter")
			return
		}
		since = parsed
	}

	goals, err := h.store.GoalsSince(r.Context(), identity.UserID, since)
	if err != nil {
		h.logger.Printf("Pull failed for %s: %v", identity.UserID, err)
		writeError(w, http.StatusInternalServerError, "storage failure")
		return
	}
	activities, err := h.store.ActivitiesSince(r.Context(), identity.UserID, since)
	if err != nil {
		h.logger.Printf("Pull failed for %s: %v", identity.UserID, err)
		writeError(w, http.StatusInternalServerError, "storage failure")
		return
	}

	pullRecords.WithLabelValues("goal").Add(float64(len(goals)))
	pullRecords.WithLabelValues("activity").Add(float64(len(activities)))
	writeJSON(w, http.StatusOK, protocol.PullResponse{
		Goals:      goals,
		Activities: activities,
		Timestamp:  h.now().UnixMilli(),
	})
}

func (h *Handler) signup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "unsupported method")
		return
	}
	var req protocol.SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "unable to parse body")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "email and a password of at least 8 characters are required")
		return
	}

	identity, err := h.store.CreateUser(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			writeError(w, http.StatusConflict, "email already registered")
			return
		}
		h.logger.Printf("Signup failed for %s: %v", req.Email, err)
		writeError(w, http.StatusInternalServerError, "storage failure")
		return
	}

	h.issueToken(w, *identity)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "unsupported method")
		return
	}
	var req protocol.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "unable to parse body")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))

	identity, err := h.store.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			loginAttempts.WithLabelValues("rejected").Inc()
			writeError(w, http.StatusUnauthorized, "Unauthorized: invalid credentials")
			return
		}
		h.logger.Printf("Login failed for %s: %v", req.Email, err)
		writeError(w, http.StatusInternalServerError, "storage failure")
		return
	}

	loginAttempts.WithLabelValues("accepted").Inc()
	h.issueToken(w, *identity)
}

func (h *Handler) verify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "unsupported method")
		return
	}
	identity, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized: missing identity")
		return
	}
	writeJSON(w, http.StatusOK, protocol.VerifyResponse{Success: true, User: *identity})
}

func (h *Handler) issueToken(w http.ResponseWriter, identity schema.Identity) {
	token, err := auth.Generate(identity, h.authCfg)
	if err != nil {
		h.logger.Printf("Failed to issue token for %s: %v", identity.Email, err)
		writeError(w, http.StatusInternalServerError, "token issue failure")
		return
	}
	writeJSON(w, http.StatusOK, protocol.LoginResponse{Token: token, User: identity})
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, protocol.ErrorResponse{Error: detail})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
