package ledger

import (
	"errors"

	"github.com/alanyoungcy/custodex/internal/derive"
	"github.com/alanyoungcy/custodex/internal/domain"
	"github.com/alanyoungcy/custodex/internal/fee"
)

// SystemProgramID owns every plain wallet. Only the system program can
// move lamports out of a wallet, and only when the wallet signed.
var SystemProgramID = domain.ZeroAddress

// AccountOverhead is the storage charged for every account on top of its
// declared space.
const AccountOverhead = 128

// DefaultLamportsPerByte is the storage deposit rate used when none is
// configured.
const DefaultLamportsPerByte = 6960

// Rent prices account storage. A deposit is held by the account itself and
// comes back to whoever closes it.
type Rent struct {
	LamportsPerByte uint64
}

// MinimumBalance is the deposit for an account of the given space.
func (r Rent) MinimumBalance(space int) uint64 {
	return uint64(AccountOverhead+space) * r.LamportsPerByte
}

// CreateAccount allocates addr with space bytes for owner, funding its
// storage deposit from payer. Both payer and the new address must sign; for a
// derived address that signature comes from InvokeSigned.
//
// A plain wallet that already holds lamports at addr (someone pre-funded it)
// is topped up and taken over. Any other existing account is a capacity
// failure: the address is occupied.
func CreateAccount(c *Context, payer, addr domain.Address, space int, owner domain.Address) error {
	if err := c.RequireSigner(payer, "payer"); err != nil {
		return err
	}
	if err := c.RequireSigner(addr, "new account"); err != nil {
		return err
	}
	if space < 0 {
		return domain.Errorf(domain.KindConfiguration, "negative space %d", space)
	}

	sys := c.Invoke(SystemProgramID)
	existing, err := sys.Get(addr)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		existing = domain.Account{Address: addr, Owner: SystemProgramID}
	case err != nil:
		return err
	case existing.Owner != SystemProgramID || existing.Space != 0 || len(existing.Data) != 0:
		return domain.Errorf(domain.KindCapacity, "account %s already in use", addr.Short())
	}

	deposit := c.rent.MinimumBalance(space)
	if deposit > existing.Lamports {
		need := deposit - existing.Lamports
		if payer == addr {
			return domain.Errorf(domain.KindArithmetic, "account %s cannot fund its own deposit", addr.Short())
		}
		if err := sys.Debit(payer, need); err != nil {
			return err
		}
		existing.Lamports = deposit
	}
	existing.Owner = owner
	existing.Space = space
	existing.Data = nil
	return sys.put(existing)
}

// Transfer moves lamports between wallets. from must sign and must be a
// plain wallet; to is opened on first credit.
func Transfer(c *Context, from, to domain.Address, lamports uint64) error {
	if err := c.RequireSigner(from, "sender"); err != nil {
		return err
	}
	if from == to {
		return nil
	}
	sys := c.Invoke(SystemProgramID)
	if err := sys.Debit(from, lamports); err != nil {
		return err
	}
	return sys.credit(to, lamports)
}

// Airdrop credits lamports from nowhere. It is the development faucet and
// must never be reachable from a program instruction.
func Airdrop(c *Context, to domain.Address, lamports uint64) error {
	return c.Invoke(SystemProgramID).credit(to, lamports)
}

// Balance returns the lamports at addr, or zero when no account exists.
func Balance(c *Context, addr domain.Address) (uint64, error) {
	acct, err := c.Get(addr)
	if errors.Is(err, domain.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return acct.Lamports, nil
}

// CreateDerived creates an account at the address derived from seeds (bump
// included) under the running program and hands it to owner. The running
// program signs for the new address.
func CreateDerived(c *Context, payer domain.Address, seeds [][]byte, space int, owner domain.Address) (domain.Address, error) {
	addr, err := derive.CreateAddress(seeds, c.program)
	if err != nil {
		return domain.Address{}, domain.Errorf(domain.KindConsistency, "derive record address: %v", err)
	}
	sys, err := c.InvokeSigned(SystemProgramID, seeds)
	if err != nil {
		return domain.Address{}, err
	}
	if err := CreateAccount(sys, payer, addr, space, owner); err != nil {
		return domain.Address{}, err
	}
	return addr, nil
}

// TotalLamports sums the lamports of the given accounts; absent accounts
// count as zero.
func TotalLamports(c *Context, addrs ...domain.Address) (uint64, error) {
	var total uint64
	for _, a := range addrs {
		bal, err := Balance(c, a)
		if err != nil {
			return 0, err
		}
		if total, err = fee.Add(total, bal); err != nil {
			return 0, err
		}
	}
	return total, nil
}
