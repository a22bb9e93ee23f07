// Package account defines contributor accounts linked to wallets.
package account

import "time"

// Account represents a data contributor. The public ID is the identifier
// embedded in hosted file payloads; the wallet address links the contributor
// to their registered devices.
type Account struct {
	ID            string
	PublicID      string
	WalletAddress string
	RelayTaskURL  string // relay status URL for the account's registration txn
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// WalletConnected reports whether the account has a linked wallet.
func (a Account) WalletConnected() bool {
	return a.WalletAddress != ""
}
