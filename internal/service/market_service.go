package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/custodex/internal/domain"
	"github.com/alanyoungcy/custodex/internal/executor"
	"github.com/alanyoungcy/custodex/internal/ledger"
	"github.com/alanyoungcy/custodex/internal/market"
	"github.com/alanyoungcy/custodex/internal/token"
)

// OfferView is a live listing together with its custody balance.
type OfferView struct {
	market.Offer
	Listing domain.Listing `json:"listing"`
	Custody uint64         `json:"custody"`
}

// MarketService runs marketplace instructions.
type MarketService struct {
	exec     *executor.Executor
	program  *market.Program
	receipts domain.ReceiptStore
	audit    domain.AuditStore
	events   *Publisher
	logger   *slog.Logger
}

// NewMarketService creates a MarketService.
func NewMarketService(
	exec *executor.Executor,
	program *market.Program,
	receipts domain.ReceiptStore,
	audit domain.AuditStore,
	events *Publisher,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		exec:     exec,
		program:  program,
		receipts: receipts,
		audit:    audit,
		events:   events,
		logger:   logger.With(slog.String("component", "market_service")),
	}
}

func listingKey(mkt, mint domain.Address) (string, error) {
	listing, _, err := market.ListingAddress(mkt, mint)
	if err != nil {
		return "", err
	}
	return "listing:" + listing.String(), nil
}

// Initialize creates a marketplace root, or updates its fee when the same
// admin runs it again.
func (s *MarketService) Initialize(ctx context.Context, call Call, admin domain.Address, name string, rate uint16) (market.Root, error) {
	var root market.Root
	id, err := s.exec.Execute(ctx, executor.Request{
		ID:      call.RequestID,
		Expires: call.ExpiresAt,
		Program: market.ProgramID,
		Signers: call.Signers,
		Keys:    []string{"root:" + name},
	}, func(c *ledger.Context) error {
		var err error
		root, err = s.program.Initialize(c, admin, name, rate)
		return err
	})
	if err != nil {
		return market.Root{}, fmt.Errorf("market_service: initialize %q: %w", name, err)
	}

	auditLog(ctx, s.audit, s.logger, "root_initialized", map[string]any{
		"request_id":  id,
		"marketplace": root.Marketplace.String(),
		"name":        name,
		"fee":         rate,
		"admin":       admin.String(),
	})
	s.logger.InfoContext(ctx, "root initialized",
		slog.String("request_id", id),
		slog.String("name", name),
		slog.String("marketplace", root.Marketplace.Short()),
		slog.Int("fee", int(rate)),
	)
	return root, nil
}

// List opens an offer for one unit of mint.
func (s *MarketService) List(ctx context.Context, call Call, maker, mkt, mint domain.Address, price uint64) (market.Offer, error) {
	key, err := listingKey(mkt, mint)
	if err != nil {
		return market.Offer{}, fmt.Errorf("market_service: list: %w", err)
	}
	var offer market.Offer
	id, err := s.exec.Execute(ctx, executor.Request{
		ID:      call.RequestID,
		Expires: call.ExpiresAt,
		Program: market.ProgramID,
		Signers: call.Signers,
		Keys:    []string{key},
	}, func(c *ledger.Context) error {
		var err error
		offer, err = s.program.List(c, maker, mkt, mint, price)
		return err
	})
	if err != nil {
		return market.Offer{}, fmt.Errorf("market_service: list %s: %w", mint.Short(), err)
	}

	s.events.Publish(ctx, domain.ChannelOffers, Event{
		Type:      "offer.opened",
		RequestID: id,
		Data: map[string]any{
			"offer": offer,
			"maker": maker,
			"price": price,
		},
	})
	auditLog(ctx, s.audit, s.logger, "offer_opened", map[string]any{
		"request_id": id,
		"listing":    offer.Listing.String(),
		"mint":       mint.String(),
		"maker":      maker.String(),
		"price":      price,
	})
	s.logger.InfoContext(ctx, "offer opened",
		slog.String("request_id", id),
		slog.String("listing", offer.Listing.Short()),
		slog.Uint64("price", price),
	)
	return offer, nil
}

// Delist cancels an offer and returns the unit to its maker.
func (s *MarketService) Delist(ctx context.Context, call Call, maker, mkt, mint domain.Address) (market.Offer, error) {
	key, err := listingKey(mkt, mint)
	if err != nil {
		return market.Offer{}, fmt.Errorf("market_service: delist: %w", err)
	}
	var offer market.Offer
	id, err := s.exec.Execute(ctx, executor.Request{
		ID:      call.RequestID,
		Expires: call.ExpiresAt,
		Program: market.ProgramID,
		Signers: call.Signers,
		Keys:    []string{key},
	}, func(c *ledger.Context) error {
		var err error
		offer, err = s.program.Delist(c, maker, mkt, mint)
		return err
	})
	if err != nil {
		return market.Offer{}, fmt.Errorf("market_service: delist %s: %w", mint.Short(), err)
	}

	s.events.Publish(ctx, domain.ChannelOffers, Event{
		Type:      "offer.cancelled",
		RequestID: id,
		Data:      map[string]any{"offer": offer, "maker": maker},
	})
	auditLog(ctx, s.audit, s.logger, "offer_cancelled", map[string]any{
		"request_id": id,
		"listing":    offer.Listing.String(),
		"maker":      maker.String(),
	})
	s.logger.InfoContext(ctx, "offer cancelled",
		slog.String("request_id", id),
		slog.String("listing", offer.Listing.Short()),
	)
	return offer, nil
}

// Purchase settles an offer and records a receipt keyed by the request id.
// The taker commits to price; a listing asking anything else is rejected.
func (s *MarketService) Purchase(ctx context.Context, call Call, taker, mkt, mint domain.Address, price uint64) (domain.SettlementReceipt, error) {
	key, err := listingKey(mkt, mint)
	if err != nil {
		return domain.SettlementReceipt{}, fmt.Errorf("market_service: purchase: %w", err)
	}
	var (
		st market.Settlement
		at time.Time
	)
	id, err := s.exec.Execute(ctx, executor.Request{
		ID:      call.RequestID,
		Expires: call.ExpiresAt,
		Program: market.ProgramID,
		Signers: call.Signers,
		Keys:    []string{key},
	}, func(c *ledger.Context) error {
		var err error
		st, err = s.program.Purchase(c, taker, mkt, mint)
		if err != nil {
			return err
		}
		if st.Price != price {
			return domain.Errorf(domain.KindAuthorization, "taker agreed to price %d, listing asks %d", price, st.Price)
		}
		at = c.Now()
		return nil
	})
	if err != nil {
		return domain.SettlementReceipt{}, fmt.Errorf("market_service: purchase %s: %w", mint.Short(), err)
	}

	receipt := domain.SettlementReceipt{
		ID:          id,
		Marketplace: st.Offer.Marketplace,
		Listing:     st.Offer.Listing,
		Mint:        st.Offer.Mint,
		Maker:       st.Maker,
		Taker:       st.Taker,
		Price:       st.Price,
		Proceeds:    st.Proceeds,
		Fee:         st.Fee,
		Reward:      st.Reward,
		SettledAt:   at,
	}
	if s.receipts != nil {
		if err := s.receipts.Insert(ctx, receipt); err != nil {
			s.logger.ErrorContext(ctx, "store receipt failed",
				slog.String("request_id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	s.events.Publish(ctx, domain.ChannelOffers, Event{
		Type:      "offer.settled",
		RequestID: id,
		At:        at,
		Data:      receipt,
	})
	auditLog(ctx, s.audit, s.logger, "offer_settled", map[string]any{
		"request_id": id,
		"listing":    receipt.Listing.String(),
		"maker":      receipt.Maker.String(),
		"taker":      receipt.Taker.String(),
		"price":      receipt.Price,
		"fee":        receipt.Fee,
	})
	s.logger.InfoContext(ctx, "offer settled",
		slog.String("request_id", id),
		slog.String("listing", receipt.Listing.Short()),
		slog.Uint64("price", receipt.Price),
		slog.Uint64("fee", receipt.Fee),
	)
	return receipt, nil
}

// Root reads the marketplace named name.
func (s *MarketService) Root(ctx context.Context, name string) (market.Root, error) {
	mkt, _, err := market.MarketplaceAddress(name)
	if err != nil {
		return market.Root{}, fmt.Errorf("market_service: root %q: %w", name, err)
	}
	var root market.Root
	err = s.exec.Processor().View(ctx, func(c *ledger.Context) error {
		state, err := market.GetMarketplace(c, mkt)
		if err != nil {
			return err
		}
		treasury, _, err := market.TreasuryAddress(mkt)
		if err != nil {
			return err
		}
		rewards, _, err := market.RewardsMintAddress(mkt)
		if err != nil {
			return err
		}
		root = market.Root{Marketplace: mkt, Treasury: treasury, RewardsMint: rewards, State: state}
		return nil
	})
	if err != nil {
		return market.Root{}, fmt.Errorf("market_service: root %q: %w", name, err)
	}
	return root, nil
}

// Offer reads the live listing for mint under mkt.
func (s *MarketService) Offer(ctx context.Context, mkt, mint domain.Address) (OfferView, error) {
	offer, _, err := market.ResolveOffer(mkt, mint)
	if err != nil {
		return OfferView{}, fmt.Errorf("market_service: offer: %w", err)
	}
	view := OfferView{Offer: offer}
	err = s.exec.Processor().View(ctx, func(c *ledger.Context) error {
		var err error
		if view.Listing, err = market.GetListing(c, offer.Listing); err != nil {
			return err
		}
		view.Custody, err = token.Balance(c, offer.Vault)
		return err
	})
	if err != nil {
		return OfferView{}, fmt.Errorf("market_service: offer %s: %w", offer.Listing.Short(), err)
	}
	return view, nil
}

// Receipt returns a stored settlement receipt.
func (s *MarketService) Receipt(ctx context.Context, id string) (domain.SettlementReceipt, error) {
	if s.receipts == nil {
		return domain.SettlementReceipt{}, errors.New("market_service: no receipt store")
	}
	r, err := s.receipts.GetByID(ctx, id)
	if err != nil {
		return domain.SettlementReceipt{}, fmt.Errorf("market_service: receipt %s: %w", id, err)
	}
	return r, nil
}

// Receipts lists settlements under mkt, newest first.
func (s *MarketService) Receipts(ctx context.Context, mkt domain.Address, opts domain.ListOpts) ([]domain.SettlementReceipt, error) {
	if s.receipts == nil {
		return nil, errors.New("market_service: no receipt store")
	}
	out, err := s.receipts.ListByMarketplace(ctx, mkt, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: receipts: %w", err)
	}
	return out, nil
}
