// Package ledgertest provides an in-memory stand-in for the Daml JSON API
// that models the escrow package's consume-and-recreate lineages. Tests use
// it to drive the real state machine without a participant.
package ledgertest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"escrowbridge/internal/escrow"
	"escrowbridge/internal/ledger"
)

// Contract is one contract instance, active or archived.
type Contract struct {
	ID         string
	TemplateID string
	Payload    json.RawMessage
	Archived   bool
}

// Fake implements escrow.LedgerAPI with single-consumption semantics: a
// consumed head archives and its successor becomes the new head.
type Fake struct {
	tpl escrow.Templates

	mu        sync.Mutex
	seq       int
	contracts []*Contract

	// Writes counts creates and exercises, for asserting that idempotent
	// re-invocations stop issuing ledger commands.
	Writes int
}

func New(tpl escrow.Templates) *Fake {
	return &Fake{tpl: tpl}
}

// Seed creates a contract directly, without counting it as a write.
func (f *Fake) Seed(templateID string, payload interface{}) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.create(templateID, payload)
}

func (f *Fake) create(templateID string, payload interface{}) string {
	f.seq++
	raw, err := json.Marshal(payload)
	if err != nil {
		panic(fmt.Sprintf("ledgertest: marshal payload: %v", err))
	}
	c := &Contract{
		ID:         fmt.Sprintf("00%012d", f.seq),
		TemplateID: templateID,
		Payload:    raw,
	}
	f.contracts = append(f.contracts, c)
	return c.ID
}

func (f *Fake) find(contractID string) *Contract {
	for _, c := range f.contracts {
		if c.ID == contractID {
			return c
		}
	}
	return nil
}

// Active returns the active contracts of a template.
func (f *Fake) Active(templateID string) []*Contract {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Contract
	for _, c := range f.contracts {
		if c.TemplateID == templateID && !c.Archived {
			out = append(out, c)
		}
	}
	return out
}

func notActive(contractID string) error {
	return &ledger.APIError{
		StatusCode: http.StatusNotFound,
		Body:       fmt.Sprintf(`{"errors":["CONTRACT_NOT_ACTIVE: %s"]}`, contractID),
	}
}

func (f *Fake) Query(_ context.Context, templateIDs []string, _ string) ([]ledger.ActiveContract, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ledger.ActiveContract
	for _, c := range f.contracts {
		if c.Archived {
			continue
		}
		for _, tid := range templateIDs {
			if c.TemplateID == tid {
				out = append(out, ledger.ActiveContract{ContractID: c.ID, Payload: c.Payload})
				break
			}
		}
	}
	return out, nil
}

func (f *Fake) Create(_ context.Context, templateID string, payload interface{}, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Writes++
	return f.create(templateID, payload), nil
}

func (f *Fake) Fetch(_ context.Context, templateID, contractID, _ string) (*ledger.ActiveContract, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.find(contractID)
	if c == nil || c.Archived || c.TemplateID != templateID {
		return nil, nil
	}
	return &ledger.ActiveContract{ContractID: c.ID, Payload: c.Payload}, nil
}

func (f *Fake) Exercise(_ context.Context, templateID, contractID, _, choice string, argument interface{}) (ledger.ExerciseResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Writes++

	c := f.find(contractID)
	if c == nil || c.Archived || c.TemplateID != templateID {
		return ledger.ExerciseResult{}, notActive(contractID)
	}

	successor, err := f.apply(c, choice, argument)
	if err != nil {
		return ledger.ExerciseResult{}, err
	}

	c.Archived = true
	raw, _ := json.Marshal(successor)
	return ledger.ExerciseResult{Result: raw}, nil
}

// apply implements the choices of the escrow model. The successor contract
// id (or "" for plain archives) is the exercise result.
func (f *Fake) apply(c *Contract, choice string, argument interface{}) (string, error) {
	switch {
	case choice == "Archive":
		return "", nil

	case c.TemplateID == f.tpl.Cash && choice == "Transfer":
		var cash escrow.Cash
		if err := json.Unmarshal(c.Payload, &cash); err != nil {
			return "", err
		}
		args, _ := argument.(map[string]interface{})
		newOwner, _ := args["newOwner"].(string)
		if newOwner == "" {
			return "", fmt.Errorf("ledgertest: Transfer requires newOwner")
		}
		cash.Owner = newOwner
		return f.create(f.tpl.Cash, cash), nil

	case c.TemplateID == f.tpl.Escrow && choice == "BuyerConfirm":
		return f.advance(c, f.tpl.Pending, "")

	case c.TemplateID == f.tpl.Pending && choice == "SellerConfirm":
		return f.advance(c, f.tpl.Ready, "")

	case c.TemplateID == f.tpl.Ready && choice == "ReleaseToSeller":
		return f.advance(c, f.tpl.Completed, "Released")

	case c.TemplateID == f.tpl.Ready && choice == "RefundToBuyer":
		return f.advance(c, f.tpl.Completed, "Refunded")
	}
	return "", fmt.Errorf("ledgertest: unsupported choice %s on %s", choice, c.TemplateID)
}

func (f *Fake) advance(c *Contract, nextTemplate, result string) (string, error) {
	var agreement escrow.Agreement
	if err := json.Unmarshal(c.Payload, &agreement); err != nil {
		return "", err
	}
	if result == "" {
		return f.create(nextTemplate, agreement), nil
	}
	return f.create(nextTemplate, struct {
		escrow.Agreement
		Result string `json:"result"`
	}{agreement, result}), nil
}
