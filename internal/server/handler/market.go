package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/custodex/internal/domain"
	"github.com/alanyoungcy/custodex/internal/market"
	"github.com/alanyoungcy/custodex/internal/service"
)

// MarketService is what the market handler needs from the service layer.
type MarketService interface {
	Initialize(ctx context.Context, call service.Call, admin domain.Address, name string, rate uint16) (market.Root, error)
	List(ctx context.Context, call service.Call, maker, mkt, mint domain.Address, price uint64) (market.Offer, error)
	Delist(ctx context.Context, call service.Call, maker, mkt, mint domain.Address) (market.Offer, error)
	Purchase(ctx context.Context, call service.Call, taker, mkt, mint domain.Address, price uint64) (domain.SettlementReceipt, error)
	Root(ctx context.Context, name string) (market.Root, error)
	Offer(ctx context.Context, mkt, mint domain.Address) (service.OfferView, error)
	Receipt(ctx context.Context, id string) (domain.SettlementReceipt, error)
	Receipts(ctx context.Context, mkt domain.Address, opts domain.ListOpts) ([]domain.SettlementReceipt, error)
}

// MarketHandler serves roots, offers and receipts.
type MarketHandler struct {
	markets MarketService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(markets MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{markets: markets, logger: logger}
}

type initRootRequest struct {
	Admin domain.Address `json:"admin"`
	Name  string         `json:"name"`
	Fee   uint16         `json:"fee"`
}

type offerRequest struct {
	Maker       domain.Address `json:"maker"`
	Marketplace domain.Address `json:"marketplace"`
	Mint        domain.Address `json:"mint"`
	Price       uint64         `json:"price"`
}

// settleRequest names the price the taker agreed to; it must match the
// listing.
type settleRequest struct {
	Taker       domain.Address `json:"taker"`
	Marketplace domain.Address `json:"marketplace"`
	Mint        domain.Address `json:"mint"`
	Price       *uint64        `json:"price"`
}

// InitRoot creates or re-configures a marketplace root.
// POST /api/roots
func (h *MarketHandler) InitRoot(w http.ResponseWriter, r *http.Request) {
	var req initRootRequest
	call, err := decodeSigned(r, &req)
	if err != nil {
		writeError(w, r, h.logger, "init root", err)
		return
	}
	root, err := h.markets.Initialize(r.Context(), call, req.Admin, req.Name, req.Fee)
	if err != nil {
		writeError(w, r, h.logger, "init root", err)
		return
	}
	writeJSON(w, http.StatusCreated, root)
}

// GetRoot reads a root by name.
// GET /api/roots/{name}
func (h *MarketHandler) GetRoot(w http.ResponseWriter, r *http.Request) {
	root, err := h.markets.Root(r.Context(), r.PathValue("name"))
	if err != nil {
		writeError(w, r, h.logger, "get root", err)
		return
	}
	writeJSON(w, http.StatusOK, root)
}

// OpenOffer lists one unit of a mint.
// POST /api/offers
func (h *MarketHandler) OpenOffer(w http.ResponseWriter, r *http.Request) {
	var req offerRequest
	call, err := decodeSigned(r, &req)
	if err != nil {
		writeError(w, r, h.logger, "open offer", err)
		return
	}
	offer, err := h.markets.List(r.Context(), call, req.Maker, req.Marketplace, req.Mint, req.Price)
	if err != nil {
		writeError(w, r, h.logger, "open offer", err)
		return
	}
	writeJSON(w, http.StatusCreated, offer)
}

// CancelOffer delists an offer back to its maker.
// DELETE /api/offers
func (h *MarketHandler) CancelOffer(w http.ResponseWriter, r *http.Request) {
	var req offerRequest
	call, err := decodeSigned(r, &req)
	if err != nil {
		writeError(w, r, h.logger, "cancel offer", err)
		return
	}
	offer, err := h.markets.Delist(r.Context(), call, req.Maker, req.Marketplace, req.Mint)
	if err != nil {
		writeError(w, r, h.logger, "cancel offer", err)
		return
	}
	writeJSON(w, http.StatusOK, offer)
}

// SettleOffer purchases an offer and returns the receipt.
// POST /api/offers/settle
func (h *MarketHandler) SettleOffer(w http.ResponseWriter, r *http.Request) {
	var req settleRequest
	call, err := decodeSigned(r, &req)
	if err != nil {
		writeError(w, r, h.logger, "settle offer", err)
		return
	}
	if req.Price == nil {
		writeError(w, r, h.logger, "settle offer", fmt.Errorf("price is required: %w", errBadRequest))
		return
	}
	receipt, err := h.markets.Purchase(r.Context(), call, req.Taker, req.Marketplace, req.Mint, *req.Price)
	if err != nil {
		writeError(w, r, h.logger, "settle offer", err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// GetOffer reads a live offer and its custody balance.
// GET /api/offers/{marketplace}/{mint}
func (h *MarketHandler) GetOffer(w http.ResponseWriter, r *http.Request) {
	mkt, err := pathAddress(r, "marketplace")
	if err != nil {
		writeError(w, r, h.logger, "get offer", err)
		return
	}
	mint, err := pathAddress(r, "mint")
	if err != nil {
		writeError(w, r, h.logger, "get offer", err)
		return
	}
	view, err := h.markets.Offer(r.Context(), mkt, mint)
	if err != nil {
		writeError(w, r, h.logger, "get offer", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GetReceipt reads one settlement receipt.
// GET /api/receipts/{id}
func (h *MarketHandler) GetReceipt(w http.ResponseWriter, r *http.Request) {
	receipt, err := h.markets.Receipt(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, "get receipt", err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// ListReceipts lists settlements under a marketplace.
// GET /api/receipts?marketplace=0x...&limit=50&offset=0
func (h *MarketHandler) ListReceipts(w http.ResponseWriter, r *http.Request) {
	mkt, err := domain.ParseAddress(r.URL.Query().Get("marketplace"))
	if err != nil {
		writeError(w, r, h.logger, "list receipts", fmt.Errorf("marketplace: %v: %w", err, errBadRequest))
		return
	}
	receipts, err := h.markets.Receipts(r.Context(), mkt, parseListOpts(r))
	if err != nil {
		writeError(w, r, h.logger, "list receipts", err)
		return
	}
	if receipts == nil {
		receipts = []domain.SettlementReceipt{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"receipts": receipts})
}
