package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/alanyoungcy/custodex/internal/cache/local"
	"github.com/alanyoungcy/custodex/internal/domain"
	"github.com/alanyoungcy/custodex/internal/executor"
	"github.com/alanyoungcy/custodex/internal/fee"
	"github.com/alanyoungcy/custodex/internal/ledger"
	"github.com/alanyoungcy/custodex/internal/market"
	"github.com/alanyoungcy/custodex/internal/session"
	"github.com/alanyoungcy/custodex/internal/store/memory"
)

func addr(b byte) domain.Address {
	var a domain.Address
	a[0] = 0xcc
	a[31] = b
	return a
}

var (
	admin = addr(1)
	maker = addr(2)
	taker = addr(3)
	nft   = addr(4)
	stake = addr(5)
)

type fixture struct {
	t        *testing.T
	bus      *local.SignalBus
	audit    *memory.AuditStore
	receipts *memory.ReceiptStore
	assets   *AssetService
	market   *MarketService
	sessions *SessionService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	proc := ledger.NewProcessor(ledger.NewMemoryStore(), ledger.Rent{LamportsPerByte: 1}, logger)
	exec := executor.New(proc, local.NewLockManager(), executor.Options{}, logger)

	f := &fixture{
		t:        t,
		bus:      local.NewSignalBus(),
		audit:    memory.NewAuditStore(),
		receipts: memory.NewReceiptStore(),
	}
	events := NewPublisher(f.bus, f.bus, logger)
	f.assets = NewAssetService(exec, f.audit, logger)
	f.market = NewMarketService(exec, market.New(fee.Policy{Mode: fee.ModeAbsolute}), f.receipts, f.audit, events, logger)
	f.sessions = NewSessionService(exec, session.New(admin), f.audit, events, logger)

	ctx := context.Background()
	for _, a := range []domain.Address{admin, maker, taker} {
		if _, err := f.assets.Airdrop(ctx, Call{}, a, 1_000_000); err != nil {
			t.Fatalf("airdrop: %v", err)
		}
	}
	if err := f.assets.CreateMint(ctx, Call{Signers: domain.Signers{maker, nft}}, maker, nft, maker, 0); err != nil {
		t.Fatalf("create mint: %v", err)
	}
	if _, err := f.assets.MintTo(ctx, Call{Signers: domain.Signers{maker}}, nft, maker, maker, 1); err != nil {
		t.Fatalf("mint to: %v", err)
	}
	return f
}

func (f *fixture) journal(channel string) []Event {
	f.t.Helper()
	msgs, err := f.bus.StreamRead(context.Background(), channel, "0", 0)
	if err != nil {
		f.t.Fatal(err)
	}
	out := make([]Event, 0, len(msgs))
	for _, m := range msgs {
		var evt Event
		if err := json.Unmarshal(m.Payload, &evt); err != nil {
			f.t.Fatal(err)
		}
		out = append(out, evt)
	}
	return out
}

func TestMarketFlowRecordsReceiptAndEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	root, err := f.market.Initialize(ctx, Call{Signers: domain.Signers{admin}}, admin, "alpha", 500)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	offer, err := f.market.List(ctx, Call{Signers: domain.Signers{maker}}, maker, root.Marketplace, nft, 10_000)
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	view, err := f.market.Offer(ctx, root.Marketplace, nft)
	if err != nil {
		t.Fatalf("Offer: %v", err)
	}
	if view.Custody != 1 || view.Listing.Price != 10_000 || view.Listing.Maker != maker {
		t.Fatalf("offer view = %+v", view)
	}

	receipt, err := f.market.Purchase(ctx, Call{RequestID: "buy-1", Signers: domain.Signers{taker}}, taker, root.Marketplace, nft, 10_000)
	if err != nil {
		t.Fatalf("Purchase: %v", err)
	}
	if receipt.ID != "buy-1" || receipt.Proceeds != 9_500 || receipt.Fee != 500 || receipt.Listing != offer.Listing {
		t.Fatalf("receipt = %+v", receipt)
	}

	stored, err := f.market.Receipt(ctx, "buy-1")
	if err != nil {
		t.Fatalf("Receipt: %v", err)
	}
	if stored.Taker != taker {
		t.Fatalf("stored receipt taker = %s", stored.Taker)
	}

	got, err := f.assets.TokenBalance(ctx, taker, nft)
	if err != nil || got != 1 {
		t.Fatalf("taker holds %d, %v", got, err)
	}
	if _, err := f.market.Offer(ctx, root.Marketplace, nft); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Offer after settle = %v, want not found", err)
	}

	var types []string
	for _, e := range f.journal(domain.ChannelOffers) {
		types = append(types, e.Type)
	}
	if len(types) != 2 || types[0] != "offer.opened" || types[1] != "offer.settled" {
		t.Fatalf("offer events = %v", types)
	}
}

func TestPurchaseReplayAndRejection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	root, err := f.market.Initialize(ctx, Call{Signers: domain.Signers{admin}}, admin, "alpha", 500)
	if err != nil {
		t.Fatal(err)
	}

	// No listing yet: rejected, nothing recorded, id reusable.
	call := Call{RequestID: "buy-x", Signers: domain.Signers{taker}}
	if _, err := f.market.Purchase(ctx, call, taker, root.Marketplace, nft, 10_000); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Purchase without listing = %v, want not found", err)
	}
	if _, err := f.receipts.GetByID(ctx, "buy-x"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("rejected purchase stored a receipt: %v", err)
	}

	if _, err := f.market.List(ctx, Call{Signers: domain.Signers{maker}}, maker, root.Marketplace, nft, 10_000); err != nil {
		t.Fatal(err)
	}
	// A taker who agreed to a lower price cannot be charged the listing's.
	if _, err := f.market.Purchase(ctx, call, taker, root.Marketplace, nft, 9_000); !errors.Is(err, domain.ErrAuthorization) {
		t.Fatalf("Purchase at wrong price = %v, want authorization", err)
	}
	if view, err := f.market.Offer(ctx, root.Marketplace, nft); err != nil || view.Custody != 1 {
		t.Fatalf("offer after price mismatch = %+v, %v", view, err)
	}
	if _, err := f.market.Purchase(ctx, call, taker, root.Marketplace, nft, 10_000); err != nil {
		t.Fatalf("Purchase with reused id: %v", err)
	}
	if _, err := f.market.Purchase(ctx, call, taker, root.Marketplace, nft, 10_000); !errors.Is(err, domain.ErrDuplicate) {
		t.Fatalf("replayed Purchase = %v, want ErrDuplicate", err)
	}

	var settled int
	for _, e := range f.journal(domain.ChannelOffers) {
		if e.Type == "offer.settled" {
			settled++
		}
	}
	if settled != 1 {
		t.Fatalf("settled events = %d, want 1", settled)
	}
}

func TestDelistPublishesCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	root, err := f.market.Initialize(ctx, Call{Signers: domain.Signers{admin}}, admin, "alpha", 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.market.List(ctx, Call{Signers: domain.Signers{maker}}, maker, root.Marketplace, nft, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := f.market.Delist(ctx, Call{Signers: domain.Signers{taker}}, taker, root.Marketplace, nft); !errors.Is(err, domain.ErrAuthorization) {
		t.Fatalf("Delist by non-maker = %v, want authorization", err)
	}
	if _, err := f.market.Delist(ctx, Call{Signers: domain.Signers{maker}}, maker, root.Marketplace, nft); err != nil {
		t.Fatalf("Delist: %v", err)
	}
	if got, _ := f.assets.TokenBalance(ctx, maker, nft); got != 1 {
		t.Fatalf("maker holds %d after delist", got)
	}
	evts := f.journal(domain.ChannelOffers)
	if last := evts[len(evts)-1]; last.Type != "offer.cancelled" {
		t.Fatalf("last offer event = %s", last.Type)
	}
}

func TestSessionFlowDelegatesOnFill(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.assets.CreateMint(ctx, Call{Signers: domain.Signers{admin, stake}}, admin, stake, admin, 0); err != nil {
		t.Fatal(err)
	}
	for _, p := range []domain.Address{maker, taker} {
		if _, err := f.assets.MintTo(ctx, Call{Signers: domain.Signers{admin}}, stake, p, admin, 100); err != nil {
			t.Fatal(err)
		}
		if _, err := f.sessions.InitializeProfile(ctx, Call{Signers: domain.Signers{p}}, p, "player"); err != nil {
			t.Fatalf("InitializeProfile: %v", err)
		}
	}
	if _, err := f.sessions.InitializeConfig(ctx, Call{Signers: domain.Signers{admin}}, admin, 100, []domain.Address{stake}); err != nil {
		t.Fatalf("InitializeConfig: %v", err)
	}

	s, err := f.sessions.InitializeGame(ctx, Call{Signers: domain.Signers{maker}}, maker, 7, stake, 40, 2, 60_000)
	if err != nil {
		t.Fatalf("InitializeGame: %v", err)
	}
	joined, err := f.sessions.Join(ctx, Call{Signers: domain.Signers{taker}}, taker, maker, 7)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if !joined.State.Delegated || len(joined.State.Players) != 2 {
		t.Fatalf("joined state = %+v", joined.State)
	}

	read, err := f.sessions.Session(ctx, maker, 7)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if read.Address != s.Address || !read.State.Delegated {
		t.Fatalf("read session = %+v", read)
	}
	if held, _ := f.assets.TokenBalance(ctx, s.Address, stake); held != 80 {
		t.Fatalf("vault holds %d, want 80", held)
	}

	var types []string
	for _, e := range f.journal(domain.ChannelSessions) {
		types = append(types, e.Type)
	}
	want := []string{"session.opened", "session.joined", "session.delegated"}
	if len(types) != len(want) {
		t.Fatalf("session events = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("session events = %v, want %v", types, want)
		}
	}
}

func TestAccountViewDecodesTokenState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	mintView, err := f.assets.Account(ctx, nft)
	if err != nil {
		t.Fatal(err)
	}
	if mintView.Mint == nil || mintView.Mint.Supply != 1 {
		t.Fatalf("mint view = %+v", mintView)
	}
	wallet, err := f.assets.Account(ctx, maker)
	if err != nil {
		t.Fatal(err)
	}
	if wallet.Mint != nil || wallet.Token != nil {
		t.Fatalf("wallet decoded as token state: %+v", wallet)
	}
	if _, err := f.assets.Account(ctx, addr(99)); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing account = %v, want not found", err)
	}
}
