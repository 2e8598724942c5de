package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"testing"

	"github.com/alanyoungcy/custodex/internal/domain"
	"github.com/alanyoungcy/custodex/internal/ledger"
	"github.com/alanyoungcy/custodex/internal/token"
)

func addr(b byte) domain.Address {
	var a domain.Address
	a[0] = 0xbb
	a[31] = b
	return a
}

var (
	authority = addr(1)
	stakeMint = addr(2)
	otherMint = addr(3)
	players   = []domain.Address{addr(10), addr(11), addr(12), addr(13)}
)

type harness struct {
	t     *testing.T
	p     *ledger.Processor
	store *ledger.MemoryStore
	prog  *Program
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := ledger.NewMemoryStore()
	h := &harness{
		t:     t,
		p:     ledger.NewProcessor(store, ledger.Rent{LamportsPerByte: 1}, slog.New(slog.NewTextHandler(io.Discard, nil))),
		store: store,
		prog:  New(authority),
	}
	signers := append(domain.Signers{authority, stakeMint, otherMint}, players...)
	h.exec(signers, func(c *ledger.Context) error {
		if err := ledger.Airdrop(c, authority, 1_000_000); err != nil {
			return err
		}
		for _, m := range []domain.Address{stakeMint, otherMint} {
			if err := token.CreateMint(c, authority, m, authority, 0); err != nil {
				return err
			}
		}
		for i, pl := range players {
			if err := ledger.Airdrop(c, pl, 1_000_000); err != nil {
				return err
			}
			if _, err := h.prog.InitializeProfile(c, pl, "player"+string(rune('a'+i))); err != nil {
				return err
			}
			for _, m := range []domain.Address{stakeMint, otherMint} {
				ata, err := token.CreateAssociated(c, pl, pl, m)
				if err != nil {
					return err
				}
				if err := token.MintTo(c, m, ata, authority, 1_000); err != nil {
					return err
				}
			}
		}
		_, err := h.prog.InitializeConfig(c, authority, 250, []domain.Address{stakeMint})
		return err
	})
	return h
}

func (h *harness) try(signers domain.Signers, fn func(*ledger.Context) error) error {
	return h.p.Execute(context.Background(), ProgramID, signers, fn)
}

func (h *harness) exec(signers domain.Signers, fn func(*ledger.Context) error) {
	h.t.Helper()
	if err := h.try(signers, fn); err != nil {
		h.t.Fatalf("execute: %v", err)
	}
}

func (h *harness) open(owner domain.Address, seed uint64, stake uint64, seats uint8) Session {
	h.t.Helper()
	var s Session
	h.exec(domain.Signers{owner}, func(c *ledger.Context) error {
		var err error
		s, err = h.prog.InitializeGame(c, owner, seed, stakeMint, stake, seats, 60_000)
		return err
	})
	return s
}

func (h *harness) join(participant, owner domain.Address, seed uint64) (Session, error) {
	var s Session
	err := h.try(domain.Signers{participant}, func(c *ledger.Context) error {
		var err error
		s, err = h.prog.JoinGame(c, participant, owner, seed)
		return err
	})
	return s, err
}

func (h *harness) units(a domain.Address) uint64 {
	h.t.Helper()
	var n uint64
	if err := h.p.View(context.Background(), func(c *ledger.Context) error {
		var err error
		n, err = token.Balance(c, a)
		return err
	}); err != nil {
		h.t.Fatal(err)
	}
	return n
}

func stakeATA(t *testing.T, owner domain.Address) domain.Address {
	t.Helper()
	a, _, err := token.AssociatedAddress(owner, stakeMint)
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func wantKind(t *testing.T, err, want error) {
	t.Helper()
	if want == nil {
		if err != nil {
			t.Fatalf("err = %v, want nil", err)
		}
		return
	}
	if !errors.Is(err, want) {
		t.Fatalf("err = %v, want %v", err, want)
	}
}

func TestInitializeConfig(t *testing.T) {
	h := newHarness(t)
	tooMany := make([]domain.Address, domain.MaxAllowedMints+1)
	for i := range tooMany {
		tooMany[i] = addr(byte(100 + i))
	}
	tests := []struct {
		name    string
		signer  domain.Address
		fee     uint16
		mints   []domain.Address
		wantErr error
	}{
		{"not upgrade authority", players[0], 100, []domain.Address{stakeMint}, domain.ErrAuthorization},
		{"zero fee", authority, 0, []domain.Address{stakeMint}, domain.ErrConfiguration},
		{"fee above 100%", authority, 10_001, []domain.Address{stakeMint}, domain.ErrConfiguration},
		{"no mints", authority, 100, nil, domain.ErrConfiguration},
		{"too many mints", authority, 100, tooMany, domain.ErrConfiguration},
		{"re-run", authority, 300, []domain.Address{stakeMint}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.try(domain.Signers{tt.signer}, func(c *ledger.Context) error {
				_, err := h.prog.InitializeConfig(c, tt.signer, tt.fee, tt.mints)
				return err
			})
			wantKind(t, err, tt.wantErr)
		})
	}
}

func TestInitializeProfile(t *testing.T) {
	h := newHarness(t)
	fresh := addr(50)
	h.exec(domain.Signers{players[0]}, func(c *ledger.Context) error {
		return ledger.Transfer(c, players[0], fresh, 10_000)
	})
	tests := []struct {
		name     string
		owner    domain.Address
		username string
		wantErr  error
	}{
		{"empty username", fresh, "", domain.ErrConfiguration},
		{"long username", fresh, strings.Repeat("x", 33), domain.ErrConfiguration},
		{"ok", fresh, "newcomer", nil},
		{"second profile", fresh, "again", domain.ErrCapacity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.try(domain.Signers{tt.owner}, func(c *ledger.Context) error {
				_, err := h.prog.InitializeProfile(c, tt.owner, tt.username)
				return err
			})
			wantKind(t, err, tt.wantErr)
		})
	}
}

func TestInitializeGameValidation(t *testing.T) {
	h := newHarness(t)
	owner := players[0]
	tests := []struct {
		name    string
		mint    domain.Address
		stake   uint64
		seats   uint8
		wait    int64
		wantErr error
	}{
		{"zero stake", stakeMint, 0, 3, 60_000, domain.ErrConfiguration},
		{"wait too short", stakeMint, 10, 3, 29_999, domain.ErrConfiguration},
		{"wait too long", stakeMint, 10, 3, 120_001, domain.ErrConfiguration},
		{"one seat", stakeMint, 10, 1, 60_000, domain.ErrConfiguration},
		{"six seats", stakeMint, 10, 6, 60_000, domain.ErrConfiguration},
		{"mint not allowed", otherMint, 10, 3, 60_000, domain.ErrConfiguration},
		{"stake above balance", stakeMint, 1_001, 3, 60_000, domain.ErrArithmetic},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.try(domain.Signers{owner}, func(c *ledger.Context) error {
				_, err := h.prog.InitializeGame(c, owner, uint64(i), tt.mint, tt.stake, tt.seats, tt.wait)
				return err
			})
			wantKind(t, err, tt.wantErr)
		})
	}

	s := h.open(owner, 99, 100, 3)
	if got := h.units(s.Vault); got != 100 {
		t.Fatalf("vault holds %d, want 100", got)
	}
	if len(s.State.Players) != 1 || s.State.Players[0].Username != "playera" {
		t.Fatalf("roster = %+v, want creator seated", s.State.Players)
	}
}

func TestJoinFillsAndDelegatesOnce(t *testing.T) {
	h := newHarness(t)
	owner := players[0]
	s := h.open(owner, 7, 100, 3)

	got, err := h.join(players[1], owner, 7)
	wantKind(t, err, nil)
	if got.State.Delegated {
		t.Fatal("session delegated before it filled")
	}

	got, err = h.join(players[2], owner, 7)
	wantKind(t, err, nil)
	if !got.State.Delegated || len(got.State.Players) != 3 {
		t.Fatalf("after fill: delegated=%v players=%d", got.State.Delegated, len(got.State.Players))
	}
	if v := h.units(s.Vault); v != 300 {
		t.Fatalf("vault holds %d, want 300", v)
	}

	h.exec(nil, func(c *ledger.Context) error {
		acct, err := c.Get(s.Address)
		if err != nil {
			return err
		}
		if acct.Owner != DelegationProgramID {
			t.Errorf("session owner = %s, want delegation program", acct.Owner)
		}
		d, err := GetDelegation(c, s.Address)
		if err != nil {
			return err
		}
		if d.Session != s.Address || d.Owner != owner {
			t.Errorf("delegation record = %+v", d)
		}
		return nil
	})

	before := h.store.Snapshot()
	lateBalance := h.units(stakeATA(t, players[3]))
	_, err = h.join(players[3], owner, 7)
	wantKind(t, err, domain.ErrCapacity)
	if got := h.units(stakeATA(t, players[3])); got != lateBalance {
		t.Fatalf("rejected joiner balance = %d, want %d", got, lateBalance)
	}
	if after := h.store.Snapshot(); !reflect.DeepEqual(before, after) {
		t.Fatal("rejected join changed ledger state")
	}
}

func TestJoinRejections(t *testing.T) {
	h := newHarness(t)
	owner := players[0]
	h.open(owner, 1, 100, 4)

	_, err := h.join(owner, owner, 1)
	wantKind(t, err, domain.ErrCapacity)

	// Drain a joiner below the stake.
	poor := players[1]
	h.exec(domain.Signers{poor}, func(c *ledger.Context) error {
		return token.Transfer(c, stakeATA(t, poor), stakeATA(t, players[2]), poor, 950)
	})
	_, err = h.join(poor, owner, 1)
	wantKind(t, err, domain.ErrArithmetic)

	_, err = h.join(players[2], owner, 2)
	wantKind(t, err, domain.ErrNotFound)
}

type failingDelegator struct{}

func (failingDelegator) Delegate(*ledger.Context, domain.Address, domain.Address, domain.Game) error {
	return domain.Errorf(domain.KindConsistency, "downstream refused session")
}

func TestFailedDelegationDiscardsDeposit(t *testing.T) {
	h := newHarness(t)
	h.prog.WithDelegator(failingDelegator{})
	owner := players[0]
	s := h.open(owner, 3, 100, 2)
	joiner := players[1]
	before := h.units(stakeATA(t, joiner))

	_, err := h.join(joiner, owner, 3)
	wantKind(t, err, domain.ErrConsistency)

	if got := h.units(stakeATA(t, joiner)); got != before {
		t.Fatalf("joiner balance = %d after failed hand-off, want %d", got, before)
	}
	if got := h.units(s.Vault); got != 100 {
		t.Fatalf("vault holds %d, want 100", got)
	}
	h.exec(nil, func(c *ledger.Context) error {
		g, err := GetGame(c, s.Address)
		if err != nil {
			return err
		}
		if g.Delegated || len(g.Players) != 1 {
			t.Errorf("session after failed hand-off: delegated=%v players=%d", g.Delegated, len(g.Players))
		}
		return nil
	})
}
