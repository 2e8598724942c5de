// Package token is the asset program: mints, holding accounts, associated
// holding addresses, and the checked moves between them.
package token

import (
	"errors"

	"github.com/alanyoungcy/custodex/internal/codec"
	"github.com/alanyoungcy/custodex/internal/derive"
	"github.com/alanyoungcy/custodex/internal/domain"
	"github.com/alanyoungcy/custodex/internal/fee"
	"github.com/alanyoungcy/custodex/internal/ledger"
)

var (
	// ProgramID owns every mint and holding account.
	ProgramID = derive.ProgramID("token")
	// AssociatedProgramID derives the canonical holding account of an
	// (owner, mint) pair.
	AssociatedProgramID = derive.ProgramID("associated-token")
)

// Storage reserved for each record type.
const (
	MintSpace    = 128
	AccountSpace = 160
)

// Record tags for codec discriminators.
const (
	MintTag    = "Mint"
	AccountTag = "TokenAccount"
)

// GetMint reads a mint record.
func GetMint(c *ledger.Context, addr domain.Address) (domain.Mint, error) {
	var m domain.Mint
	acct, err := c.GetOwned(addr, ProgramID)
	if err != nil {
		return m, err
	}
	err = codec.Decode(MintTag, acct.Data, &m)
	return m, err
}

// GetAccount reads a holding account.
func GetAccount(c *ledger.Context, addr domain.Address) (domain.TokenAccount, error) {
	var ta domain.TokenAccount
	acct, err := c.GetOwned(addr, ProgramID)
	if err != nil {
		return ta, err
	}
	err = codec.Decode(AccountTag, acct.Data, &ta)
	return ta, err
}

// Balance returns the amount held at addr, or zero when the account does
// not exist.
func Balance(c *ledger.Context, addr domain.Address) (uint64, error) {
	ta, err := GetAccount(c, addr)
	if errors.Is(err, domain.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return ta.Amount, nil
}

// CreateMint allocates a mint at addr. The mint address must sign, either
// as a keypair or as a derived address proved by the caller.
func CreateMint(c *ledger.Context, payer, addr, authority domain.Address, decimals uint8) error {
	if err := ledger.CreateAccount(c, payer, addr, MintSpace, ProgramID); err != nil {
		return err
	}
	return write(c.Invoke(ProgramID), addr, MintTag, domain.Mint{MintAuthority: authority, Decimals: decimals})
}

// AssociatedAddress is the canonical holding account for owner and mint.
func AssociatedAddress(owner, mint domain.Address) (domain.Address, uint8, error) {
	addr, bump, err := derive.FindAddress(associatedSeeds(owner, mint), AssociatedProgramID)
	if err != nil {
		return domain.Address{}, 0, domain.Errorf(domain.KindConsistency, "associated address: %v", err)
	}
	return addr, bump, nil
}

// CreateAssociated opens the associated holding account for owner and mint,
// paid by payer. An existing account is a capacity failure.
func CreateAssociated(c *ledger.Context, payer, owner, mint domain.Address) (domain.Address, error) {
	if _, err := GetMint(c, mint); err != nil {
		return domain.Address{}, err
	}
	addr, bump, err := AssociatedAddress(owner, mint)
	if err != nil {
		return domain.Address{}, err
	}
	ac := c.Invoke(AssociatedProgramID)
	if _, err := ledger.CreateDerived(ac, payer, derive.WithBump(associatedSeeds(owner, mint), bump), AccountSpace, ProgramID); err != nil {
		return domain.Address{}, err
	}
	if err := write(c.Invoke(ProgramID), addr, AccountTag, domain.TokenAccount{Mint: mint, Owner: owner}); err != nil {
		return domain.Address{}, err
	}
	return addr, nil
}

// CreateAssociatedIdempotent is CreateAssociated that accepts an existing
// account as long as it already belongs to owner and mint.
func CreateAssociatedIdempotent(c *ledger.Context, payer, owner, mint domain.Address) (domain.Address, error) {
	addr, _, err := AssociatedAddress(owner, mint)
	if err != nil {
		return domain.Address{}, err
	}
	ta, err := GetAccount(c, addr)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return CreateAssociated(c, payer, owner, mint)
	case err != nil:
		return domain.Address{}, err
	case ta.Owner != owner || ta.Mint != mint:
		return domain.Address{}, domain.Errorf(domain.KindConsistency, "associated account %s does not match owner and mint", addr.Short())
	}
	return addr, nil
}

// Transfer moves amount from one holding account to another of the same
// mint. authority must own from and must sign.
func Transfer(c *ledger.Context, from, to, authority domain.Address, amount uint64) error {
	src, err := GetAccount(c, from)
	if err != nil {
		return err
	}
	return move(c, from, src, to, authority, amount)
}

// TransferChecked is Transfer that also pins the mint and its decimals.
func TransferChecked(c *ledger.Context, from, mint, to, authority domain.Address, amount uint64, decimals uint8) error {
	m, err := GetMint(c, mint)
	if err != nil {
		return err
	}
	if m.Decimals != decimals {
		return domain.Errorf(domain.KindConsistency, "mint %s has %d decimals, caller expected %d", mint.Short(), m.Decimals, decimals)
	}
	src, err := GetAccount(c, from)
	if err != nil {
		return err
	}
	if src.Mint != mint {
		return domain.Errorf(domain.KindConsistency, "account %s holds mint %s, not %s", from.Short(), src.Mint.Short(), mint.Short())
	}
	return move(c, from, src, to, authority, amount)
}

func move(c *ledger.Context, from domain.Address, src domain.TokenAccount, to, authority domain.Address, amount uint64) error {
	if err := c.RequireSigner(authority, "token authority"); err != nil {
		return err
	}
	if src.Owner != authority {
		return domain.Errorf(domain.KindAuthorization, "%s does not own account %s", authority.Short(), from.Short())
	}
	dst, err := GetAccount(c, to)
	if err != nil {
		return err
	}
	if dst.Mint != src.Mint {
		return domain.Errorf(domain.KindConsistency, "mint mismatch between %s and %s", from.Short(), to.Short())
	}
	left, err := fee.Sub(src.Amount, amount)
	if err != nil {
		return domain.Errorf(domain.KindArithmetic, "account %s holds %d, needs %d", from.Short(), src.Amount, amount)
	}
	if from == to {
		return nil
	}
	sum, err := fee.Add(dst.Amount, amount)
	if err != nil {
		return err
	}
	src.Amount, dst.Amount = left, sum

	tc := c.Invoke(ProgramID)
	if err := write(tc, from, AccountTag, src); err != nil {
		return err
	}
	return write(tc, to, AccountTag, dst)
}

// MintTo issues amount new units of mint into to. authority must be the
// mint authority and must sign.
func MintTo(c *ledger.Context, mint, to, authority domain.Address, amount uint64) error {
	if err := c.RequireSigner(authority, "mint authority"); err != nil {
		return err
	}
	m, err := GetMint(c, mint)
	if err != nil {
		return err
	}
	if m.MintAuthority != authority {
		return domain.Errorf(domain.KindAuthorization, "%s is not the authority of mint %s", authority.Short(), mint.Short())
	}
	dst, err := GetAccount(c, to)
	if err != nil {
		return err
	}
	if dst.Mint != mint {
		return domain.Errorf(domain.KindConsistency, "account %s holds mint %s, not %s", to.Short(), dst.Mint.Short(), mint.Short())
	}
	if m.Supply, err = fee.Add(m.Supply, amount); err != nil {
		return err
	}
	if dst.Amount, err = fee.Add(dst.Amount, amount); err != nil {
		return err
	}

	tc := c.Invoke(ProgramID)
	if err := write(tc, mint, MintTag, m); err != nil {
		return err
	}
	return write(tc, to, AccountTag, dst)
}

// CloseAccount deletes an empty holding account and refunds its deposit to
// dest. authority must own the account and must sign.
func CloseAccount(c *ledger.Context, addr, dest, authority domain.Address) error {
	if err := c.RequireSigner(authority, "close authority"); err != nil {
		return err
	}
	ta, err := GetAccount(c, addr)
	if err != nil {
		return err
	}
	if ta.Owner != authority {
		return domain.Errorf(domain.KindAuthorization, "%s does not own account %s", authority.Short(), addr.Short())
	}
	if ta.Amount != 0 {
		return domain.Errorf(domain.KindConsistency, "account %s still holds %d", addr.Short(), ta.Amount)
	}
	return c.Invoke(ProgramID).Close(addr, dest)
}

func associatedSeeds(owner, mint domain.Address) [][]byte {
	return [][]byte{owner.Bytes(), ProgramID.Bytes(), mint.Bytes()}
}

func write(tc *ledger.Context, addr domain.Address, tag string, v any) error {
	data, err := codec.Encode(tag, v)
	if err != nil {
		return err
	}
	return tc.WriteData(addr, data)
}
