// Package escrow drives the consume-and-recreate escrow lifecycle on the
// contract ledger: Offer -> Escrow -> Pending -> Ready -> Completed. The
// ledger is the source of truth; this package holds no state of its own and
// re-queries the current head before every exercise.
package escrow

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrNoActiveContract means no head contract in the expected state is visible
// to the acting party. After a lost race or a duplicate trigger it signals
// "already advanced", not a fault; callers must not retry blindly.
var ErrNoActiveContract = errors.New("no active contract in expected state")

// Templates holds the fully qualified template ids for one package.
type Templates struct {
	Offer     string
	Escrow    string
	Pending   string
	Ready     string
	Completed string
	Cash      string
}

// NewTemplates qualifies the escrow templates with a package id. The JSON API
// accepts "*" as a wildcard package.
func NewTemplates(packageID string) Templates {
	qualify := func(entity string) string {
		return fmt.Sprintf("%s:%s", packageID, entity)
	}
	return Templates{
		Offer:     qualify("Escrow:Offer"),
		Escrow:    qualify("Escrow:Escrow"),
		Pending:   qualify("Escrow:Pending"),
		Ready:     qualify("Escrow:Ready"),
		Completed: qualify("Escrow:Completed"),
		Cash:      qualify("Token:Cash"),
	}
}

// Agreement is the escrow contract payload, shared by the Escrow, Pending and
// Ready templates. The field set identifies a lineage across its versions.
type Agreement struct {
	Agent  string          `json:"agent"`
	Buyer  string          `json:"buyer"`
	Seller string          `json:"seller"`
	Item   string          `json:"item"`
	Price  decimal.Decimal `json:"price"`
	Locked string          `json:"locked"`
}

// SameLineage reports whether two agreement payloads belong to the same
// lineage. The locked cash reference is excluded: it changes as the lineage
// advances.
func (a Agreement) SameLineage(b Agreement) bool {
	return a.Agent == b.Agent &&
		a.Buyer == b.Buyer &&
		a.Seller == b.Seller &&
		a.Item == b.Item &&
		a.Price.Equal(b.Price)
}

// Offer is the pre-escrow proposal payload.
type Offer struct {
	Agent      string          `json:"agent"`
	Buyer      string          `json:"buyer"`
	Seller     string          `json:"seller"`
	CCAmount   decimal.Decimal `json:"ccAmount"`
	UnitPrice  decimal.Decimal `json:"unitPrice"`
	TotalPrice decimal.Decimal `json:"totalPrice"`
	BuyerEth   string          `json:"buyerEth"`
	SellerEth  string          `json:"sellerEth"`
}

// Cash is the Token:Cash payload used to lock buyer funds with the agent.
type Cash struct {
	Issuer   string          `json:"issuer"`
	Owner    string          `json:"owner"`
	Currency string          `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
}

// OfferContract pairs an offer payload with its contract id.
type OfferContract struct {
	ContractID string `json:"contractId"`
	Offer      Offer  `json:"offer"`
}

// AgreementContract pairs an agreement payload with its contract id.
type AgreementContract struct {
	ContractID string    `json:"contractId"`
	Agreement  Agreement `json:"agreement"`
}

// DealView is a party-centric summary across the live states.
type DealView struct {
	ContractID string          `json:"contractId"`
	Status     string          `json:"status"`
	Role       string          `json:"role"`
	Item       string          `json:"item"`
	Price      decimal.Decimal `json:"price"`
	Buyer      string          `json:"buyer"`
	Seller     string          `json:"seller"`
	Agent      string          `json:"agent"`
}
