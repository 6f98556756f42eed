package imap

import (
	"context"
	"fmt"
)

// AccountDialer dials authenticated connections for a fixed set of
// configured accounts.
type AccountDialer struct {
	accounts map[string]Account
}

// NewAccountDialer builds a dialer over the given accounts.
func NewAccountDialer(accounts []Account) *AccountDialer {
	m := make(map[string]Account, len(accounts))
	for _, a := range accounts {
		m[a.ID] = a
	}
	return &AccountDialer{accounts: m}
}

// Dial connects and authenticates a fresh client for the account.
func (d *AccountDialer) Dial(ctx context.Context, accountID string) (Client, error) {
	account, ok := d.accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("unknown account %q", accountID)
	}
	return Connect(ctx, account)
}

var _ Dialer = (*AccountDialer)(nil)
