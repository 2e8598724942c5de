package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/custodex/internal/domain"
	"github.com/alanyoungcy/custodex/internal/service"
	"github.com/alanyoungcy/custodex/internal/session"
)

// SessionService is what the session handler needs from the service layer.
type SessionService interface {
	InitializeConfig(ctx context.Context, call service.Call, admin domain.Address, platformFee uint16, allowedMints []domain.Address) (domain.Address, error)
	InitializeProfile(ctx context.Context, call service.Call, owner domain.Address, username string) (domain.Address, error)
	InitializeGame(ctx context.Context, call service.Call, owner domain.Address, seed uint64, stakeMint domain.Address, entryStake uint64, seats uint8, waitTime int64) (session.Session, error)
	Join(ctx context.Context, call service.Call, participant, owner domain.Address, seed uint64) (session.Session, error)
	Session(ctx context.Context, owner domain.Address, seed uint64) (session.Session, error)
	Profile(ctx context.Context, owner domain.Address) (domain.Profile, error)
	Config(ctx context.Context) (domain.SessionConfig, error)
}

// SessionHandler serves the staking-session endpoints.
type SessionHandler struct {
	sessions SessionService
	logger   *slog.Logger
}

// NewSessionHandler creates a SessionHandler.
func NewSessionHandler(sessions SessionService, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{sessions: sessions, logger: logger}
}

type configRequest struct {
	Admin        domain.Address   `json:"admin"`
	PlatformFee  uint16           `json:"platform_fee"`
	AllowedMints []domain.Address `json:"allowed_mints"`
}

type profileRequest struct {
	Owner    domain.Address `json:"owner"`
	Username string         `json:"username"`
}

type gameRequest struct {
	Owner      domain.Address `json:"owner"`
	Seed       uint64         `json:"seed"`
	StakeMint  domain.Address `json:"stake_mint"`
	EntryStake uint64         `json:"entry_stake"`
	Seats      uint8          `json:"seats"`
	WaitTime   int64          `json:"wait_time"`
}

type joinRequest struct {
	Participant domain.Address `json:"participant"`
	Owner       domain.Address `json:"owner"`
	Seed        uint64         `json:"seed"`
}

// InitConfig writes the session program config.
// POST /api/sessions/config
func (h *SessionHandler) InitConfig(w http.ResponseWriter, r *http.Request) {
	var req configRequest
	call, err := decodeSigned(r, &req)
	if err != nil {
		writeError(w, r, h.logger, "init config", err)
		return
	}
	addr, err := h.sessions.InitializeConfig(r.Context(), call, req.Admin, req.PlatformFee, req.AllowedMints)
	if err != nil {
		writeError(w, r, h.logger, "init config", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"config": addr})
}

// GetConfig reads the session program config.
// GET /api/sessions/config
func (h *SessionHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.sessions.Config(r.Context())
	if err != nil {
		writeError(w, r, h.logger, "get config", err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// InitProfile creates the signer's profile.
// POST /api/profiles
func (h *SessionHandler) InitProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	call, err := decodeSigned(r, &req)
	if err != nil {
		writeError(w, r, h.logger, "init profile", err)
		return
	}
	addr, err := h.sessions.InitializeProfile(r.Context(), call, req.Owner, req.Username)
	if err != nil {
		writeError(w, r, h.logger, "init profile", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"profile": addr})
}

// GetProfile reads a profile.
// GET /api/profiles/{owner}
func (h *SessionHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	owner, err := pathAddress(r, "owner")
	if err != nil {
		writeError(w, r, h.logger, "get profile", err)
		return
	}
	pr, err := h.sessions.Profile(r.Context(), owner)
	if err != nil {
		writeError(w, r, h.logger, "get profile", err)
		return
	}
	writeJSON(w, http.StatusOK, pr)
}

// InitSession opens a staking session.
// POST /api/sessions
func (h *SessionHandler) InitSession(w http.ResponseWriter, r *http.Request) {
	var req gameRequest
	call, err := decodeSigned(r, &req)
	if err != nil {
		writeError(w, r, h.logger, "init session", err)
		return
	}
	s, err := h.sessions.InitializeGame(r.Context(), call, req.Owner, req.Seed, req.StakeMint, req.EntryStake, req.Seats, req.WaitTime)
	if err != nil {
		writeError(w, r, h.logger, "init session", err)
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

// JoinSession seats the signer in a session.
// POST /api/sessions/join
func (h *SessionHandler) JoinSession(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	call, err := decodeSigned(r, &req)
	if err != nil {
		writeError(w, r, h.logger, "join session", err)
		return
	}
	s, err := h.sessions.Join(r.Context(), call, req.Participant, req.Owner, req.Seed)
	if err != nil {
		writeError(w, r, h.logger, "join session", err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// GetSession reads a session.
// GET /api/sessions/{owner}/{seed}
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	owner, err := pathAddress(r, "owner")
	if err != nil {
		writeError(w, r, h.logger, "get session", err)
		return
	}
	seed, err := strconv.ParseUint(r.PathValue("seed"), 10, 64)
	if err != nil {
		writeError(w, r, h.logger, "get session", fmt.Errorf("seed: %v: %w", err, errBadRequest))
		return
	}
	s, err := h.sessions.Session(r.Context(), owner, seed)
	if err != nil {
		writeError(w, r, h.logger, "get session", err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}
