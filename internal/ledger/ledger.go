// Package ledger provides clients for the blockchain gateway services the
// issuance pipeline talks to: a primary ledger that mints credential tokens
// and any number of secondary ledgers that anchor the credential hash.
package ledger

import (
	"context"
	"fmt"

	"github.com/academicchain/issuance-be/internal/config"
)

// MintResult is the outcome of minting a credential token on the primary ledger
type MintResult struct {
	TokenID      string `json:"token_id"`
	SerialNumber int64  `json:"serial_number"`
}

// AnchorResult is the outcome of anchoring a credential hash on a secondary ledger
type AnchorResult struct {
	TxID string `json:"tx_id"`
}

// Primary mints credential tokens and transfers them to recipients
type Primary interface {
	Name() string
	Mint(ctx context.Context, uniqueHash, metadataURI string) (*MintResult, error)
	Transfer(ctx context.Context, tokenID string, serialNumber int64, recipientAccountID string) error
}

// Anchorer writes a credential hash to a secondary ledger
type Anchorer interface {
	Name() string
	Anchor(ctx context.Context, uniqueHash string) (*AnchorResult, error)
}

// Registry holds the configured primary ledger and secondary anchorers
type Registry struct {
	primary     Primary
	secondaries []Anchorer
	byName      map[string]Anchorer
}

// NewRegistry builds a registry from ledger configuration
func NewRegistry(cfg config.LedgersConfig) (*Registry, error) {
	if cfg.Primary.Name == "" {
		return nil, fmt.Errorf("primary ledger is not configured")
	}

	r := &Registry{
		primary: NewGatewayClient(cfg.Primary),
		byName:  make(map[string]Anchorer, len(cfg.Secondaries)),
	}

	for _, lc := range cfg.Secondaries {
		if _, exists := r.byName[lc.Name]; exists {
			return nil, fmt.Errorf("duplicate secondary ledger: %s", lc.Name)
		}
		client := NewGatewayClient(lc)
		r.secondaries = append(r.secondaries, client)
		r.byName[lc.Name] = client
	}

	return r, nil
}

// NewRegistryWithClients builds a registry from already-constructed clients.
// Tests use it to inject fakes.
func NewRegistryWithClients(primary Primary, secondaries ...Anchorer) *Registry {
	r := &Registry{
		primary: primary,
		byName:  make(map[string]Anchorer, len(secondaries)),
	}
	for _, a := range secondaries {
		r.secondaries = append(r.secondaries, a)
		r.byName[a.Name()] = a
	}
	return r
}

// Primary returns the mint ledger client
func (r *Registry) Primary() Primary {
	return r.primary
}

// Secondaries returns all anchor ledger clients in configuration order
func (r *Registry) Secondaries() []Anchorer {
	return r.secondaries
}

// Secondary looks up an anchor ledger by name
func (r *Registry) Secondary(name string) (Anchorer, error) {
	a, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("unknown secondary ledger: %s", name)
	}
	return a, nil
}
