package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/custodex/internal/domain"
	"github.com/alanyoungcy/custodex/internal/service"
)

// AssetService is what the asset handler needs from the service layer.
type AssetService interface {
	Airdrop(ctx context.Context, call service.Call, to domain.Address, lamports uint64) (uint64, error)
	CreateMint(ctx context.Context, call service.Call, payer, mint, authority domain.Address, decimals uint8) error
	MintTo(ctx context.Context, call service.Call, mint, owner, authority domain.Address, amount uint64) (domain.Address, error)
	Account(ctx context.Context, addr domain.Address) (service.AccountView, error)
}

// AssetHandler serves account reads and the development faucet.
type AssetHandler struct {
	assets AssetService
	logger *slog.Logger
}

// NewAssetHandler creates an AssetHandler.
func NewAssetHandler(assets AssetService, logger *slog.Logger) *AssetHandler {
	return &AssetHandler{assets: assets, logger: logger}
}

type airdropRequest struct {
	To       domain.Address `json:"to"`
	Lamports uint64         `json:"lamports"`
}

type mintRequest struct {
	Payer     domain.Address `json:"payer"`
	Mint      domain.Address `json:"mint"`
	Owner     domain.Address `json:"owner"`
	Authority domain.Address `json:"authority"`
	Decimals  uint8          `json:"decimals"`
	Amount    uint64         `json:"amount"`
}

// GetAccount reads a raw account with decoded token state.
// GET /api/accounts/{address}
func (h *AssetHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "address")
	if err != nil {
		writeError(w, r, h.logger, "get account", err)
		return
	}
	view, err := h.assets.Account(r.Context(), addr)
	if err != nil {
		writeError(w, r, h.logger, "get account", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Airdrop credits lamports. The envelope may be unsigned.
// POST /api/dev/airdrop
func (h *AssetHandler) Airdrop(w http.ResponseWriter, r *http.Request) {
	var req airdropRequest
	call, err := decodeSigned(r, &req)
	if err != nil {
		writeError(w, r, h.logger, "airdrop", err)
		return
	}
	bal, err := h.assets.Airdrop(r.Context(), call, req.To, req.Lamports)
	if err != nil {
		writeError(w, r, h.logger, "airdrop", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"address": req.To, "lamports": bal})
}

// CreateMint allocates a mint; the mint keypair and payer sign.
// POST /api/dev/mints
func (h *AssetHandler) CreateMint(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	call, err := decodeSigned(r, &req)
	if err != nil {
		writeError(w, r, h.logger, "create mint", err)
		return
	}
	if err := h.assets.CreateMint(r.Context(), call, req.Payer, req.Mint, req.Authority, req.Decimals); err != nil {
		writeError(w, r, h.logger, "create mint", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"mint": req.Mint})
}

// MintTo issues units into the owner's associated account.
// POST /api/dev/mint-to
func (h *AssetHandler) MintTo(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	call, err := decodeSigned(r, &req)
	if err != nil {
		writeError(w, r, h.logger, "mint to", err)
		return
	}
	ata, err := h.assets.MintTo(r.Context(), call, req.Mint, req.Owner, req.Authority, req.Amount)
	if err != nil {
		writeError(w, r, h.logger, "mint to", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account": ata, "amount": req.Amount})
}
