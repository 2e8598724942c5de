package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/custodex/internal/derive"
	"github.com/alanyoungcy/custodex/internal/domain"
	"github.com/alanyoungcy/custodex/internal/fee"
)

// Context is one program invocation inside an atomic unit. It carries the
// running program's address and the set of identities allowed to authorize
// movements: the request's verified signers plus any derived addresses the
// calling program proved with InvokeSigned.
type Context struct {
	ctx     context.Context
	tx      domain.LedgerTx
	program domain.Address
	signers map[domain.Address]struct{}
	now     time.Time
	rent    Rent
}

func newContext(ctx context.Context, tx domain.LedgerTx, program domain.Address, signers domain.Signers, now time.Time, rent Rent) *Context {
	set := make(map[domain.Address]struct{}, len(signers))
	for _, s := range signers {
		set[s] = struct{}{}
	}
	return &Context{ctx: ctx, tx: tx, program: program, signers: set, now: now, rent: rent}
}

// Context returns the request context.
func (c *Context) Context() context.Context { return c.ctx }

// Program is the address of the running program.
func (c *Context) Program() domain.Address { return c.program }

// Now is the unit's timestamp; every invocation in a unit sees the same value.
func (c *Context) Now() time.Time { return c.now }

func (c *Context) Rent() Rent { return c.rent }

// IsSigner reports whether addr may authorize in this invocation.
func (c *Context) IsSigner(addr domain.Address) bool {
	_, ok := c.signers[addr]
	return ok
}

// RequireSigner fails with an authorization error unless addr signed.
func (c *Context) RequireSigner(addr domain.Address, role string) error {
	if !c.IsSigner(addr) {
		return domain.Errorf(domain.KindAuthorization, "%s %s did not sign", role, addr.Short())
	}
	return nil
}

// Invoke returns a child invocation of program with the same signers.
func (c *Context) Invoke(program domain.Address) *Context {
	child := *c
	child.program = program
	child.signers = make(map[domain.Address]struct{}, len(c.signers))
	for s := range c.signers {
		child.signers[s] = struct{}{}
	}
	return &child
}

// InvokeSigned is Invoke plus derived signers: each seed set (bump included)
// is derived under the calling program and the result is added as a signer.
// Only the program that owns a derivation can produce its signature.
func (c *Context) InvokeSigned(program domain.Address, seedSets ...[][]byte) (*Context, error) {
	child := c.Invoke(program)
	for _, seeds := range seedSets {
		addr, err := derive.CreateAddress(seeds, c.program)
		if err != nil {
			return nil, domain.Errorf(domain.KindAuthorization, "derived signer: %v", err)
		}
		child.signers[addr] = struct{}{}
	}
	return child, nil
}

// Get loads an account. A missing account is a not-found error.
func (c *Context) Get(addr domain.Address) (domain.Account, error) {
	acct, err := c.tx.Get(c.ctx, addr)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Account{}, domain.Errorf(domain.KindNotFound, "account %s", addr.Short())
		}
		return domain.Account{}, fmt.Errorf("ledger: get %s: %w", addr, err)
	}
	return acct, nil
}

// Exists reports whether addr holds an account.
func (c *Context) Exists(addr domain.Address) (bool, error) {
	_, err := c.Get(addr)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// GetOwned loads an account and checks that owner controls it. Reading a
// record through an account some other program controls would let a caller
// substitute forged data.
func (c *Context) GetOwned(addr, owner domain.Address) (domain.Account, error) {
	acct, err := c.Get(addr)
	if err != nil {
		return domain.Account{}, err
	}
	if acct.Owner != owner {
		return domain.Account{}, domain.Errorf(domain.KindAuthorization, "account %s owned by %s, want %s", addr.Short(), acct.Owner.Short(), owner.Short())
	}
	return acct, nil
}

// WriteData replaces the data of an account the running program owns.
func (c *Context) WriteData(addr domain.Address, data []byte) error {
	acct, err := c.GetOwned(addr, c.program)
	if err != nil {
		return err
	}
	if len(data) > acct.Space {
		return domain.Errorf(domain.KindConsistency, "account %s: %d bytes exceeds space %d", addr.Short(), len(data), acct.Space)
	}
	acct.Data = data
	return c.put(acct)
}

// Assign hands an account the running program owns to another program.
func (c *Context) Assign(addr, owner domain.Address) error {
	acct, err := c.GetOwned(addr, c.program)
	if err != nil {
		return err
	}
	acct.Owner = owner
	return c.put(acct)
}

// Close deletes an account the running program owns and refunds its
// lamports to dest.
func (c *Context) Close(addr, dest domain.Address) error {
	if addr == dest {
		return domain.Errorf(domain.KindConsistency, "close %s into itself", addr.Short())
	}
	acct, err := c.GetOwned(addr, c.program)
	if err != nil {
		return err
	}
	if err := c.credit(dest, acct.Lamports); err != nil {
		return err
	}
	if err := c.tx.Delete(c.ctx, addr); err != nil {
		return fmt.Errorf("ledger: delete %s: %w", addr, err)
	}
	return nil
}

// Debit removes lamports from an account the running program owns.
func (c *Context) Debit(addr domain.Address, amount uint64) error {
	acct, err := c.GetOwned(addr, c.program)
	if err != nil {
		return err
	}
	left, err := fee.Sub(acct.Lamports, amount)
	if err != nil {
		return domain.Errorf(domain.KindArithmetic, "account %s holds %d lamports, needs %d", addr.Short(), acct.Lamports, amount)
	}
	acct.Lamports = left
	return c.put(acct)
}

// credit adds lamports to any account, opening a plain wallet if none exists.
func (c *Context) credit(addr domain.Address, amount uint64) error {
	acct, err := c.Get(addr)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		acct = domain.Account{Address: addr, Owner: SystemProgramID}
	case err != nil:
		return err
	}
	sum, err := fee.Add(acct.Lamports, amount)
	if err != nil {
		return err
	}
	acct.Lamports = sum
	return c.put(acct)
}

func (c *Context) put(acct domain.Account) error {
	acct.UpdatedAt = c.now
	if err := c.tx.Put(c.ctx, acct); err != nil {
		return fmt.Errorf("ledger: put %s: %w", acct.Address, err)
	}
	return nil
}
