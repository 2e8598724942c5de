package domain

import "time"

// Account is one entry in the ledger. Owner is the program allowed to change
// Data and debit Lamports; anyone may credit Lamports.
type Account struct {
	Address   Address
	Owner     Address
	Lamports  uint64
	Space     int
	Data      []byte
	UpdatedAt time.Time
}

// Clone returns a deep copy so staged writes never alias committed state.
func (a Account) Clone() Account {
	out := a
	if a.Data != nil {
		out.Data = make([]byte, len(a.Data))
		copy(out.Data, a.Data)
	}
	return out
}

// Signers is the verified set of identities that co-signed a request.
type Signers []Address

// Contains reports whether addr signed.
func (s Signers) Contains(addr Address) bool {
	for _, a := range s {
		if a == addr {
			return true
		}
	}
	return false
}
