package escrow

import (
	"context"
	"encoding/json"
	"fmt"

	"escrowbridge/internal/ledger"

	"github.com/shopspring/decimal"
)

// LedgerAPI is the slice of the JSON API client the state machine needs.
type LedgerAPI interface {
	Query(ctx context.Context, templateIDs []string, readAs string) ([]ledger.ActiveContract, error)
	Create(ctx context.Context, templateID string, payload interface{}, actAs string) (string, error)
	Exercise(ctx context.Context, templateID, contractID, actAs, choice string, argument interface{}) (ledger.ExerciseResult, error)
	Fetch(ctx context.Context, templateID, contractID, readAs string) (*ledger.ActiveContract, error)
}

// Service exposes the escrow choices. Every operation re-queries the current
// head immediately before exercising; the ledger's single consumption of the
// head decides races.
type Service struct {
	api LedgerAPI
	tpl Templates
}

func NewService(api LedgerAPI, tpl Templates) *Service {
	return &Service{api: api, tpl: tpl}
}

// Lineage fetches the agreement payload for an Escrow contract id. A nil
// result means the contract is no longer active (the lineage has advanced);
// callers then fall back to head selection without lineage matching.
func (s *Service) Lineage(ctx context.Context, contractID, readAs string) (*Agreement, error) {
	ac, err := s.api.Fetch(ctx, s.tpl.Escrow, contractID, readAs)
	if err != nil {
		if ledger.ContractNotActive(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch escrow %s: %w", contractID, err)
	}
	if ac == nil {
		return nil, nil
	}
	var agreement Agreement
	if err := json.Unmarshal(ac.Payload, &agreement); err != nil {
		return nil, fmt.Errorf("decode escrow payload: %w", err)
	}
	return &agreement, nil
}

// BuyerConfirm advances Escrow -> Pending as the buyer.
func (s *Service) BuyerConfirm(ctx context.Context, buyer string, lineage *Agreement) (string, error) {
	return s.advance(ctx, s.tpl.Escrow, buyer, "BuyerConfirm", lineage)
}

// SellerConfirm advances Pending -> Ready as the seller.
func (s *Service) SellerConfirm(ctx context.Context, seller string, lineage *Agreement) (string, error) {
	return s.advance(ctx, s.tpl.Pending, seller, "SellerConfirm", lineage)
}

// Release advances Ready -> Completed(Released) as the agent, transferring
// the locked funds to the seller.
func (s *Service) Release(ctx context.Context, agent string, lineage *Agreement) (string, error) {
	return s.advance(ctx, s.tpl.Ready, agent, "ReleaseToSeller", lineage)
}

// Refund advances Ready -> Completed(Refunded) as the agent, returning the
// locked funds to the buyer.
func (s *Service) Refund(ctx context.Context, agent string, lineage *Agreement) (string, error) {
	return s.advance(ctx, s.tpl.Ready, agent, "RefundToBuyer", lineage)
}

func (s *Service) advance(ctx context.Context, templateID, party, choice string, lineage *Agreement) (string, error) {
	head, err := s.head(ctx, templateID, party, lineage)
	if err != nil {
		return "", err
	}

	result, err := s.api.Exercise(ctx, templateID, head.ContractID, party, choice, nil)
	if err != nil {
		if ledger.ContractNotActive(err) {
			// Someone consumed the head between query and exercise.
			return "", fmt.Errorf("%s on %s: %w", choice, head.ContractID, ErrNoActiveContract)
		}
		return "", fmt.Errorf("%s on %s: %w", choice, head.ContractID, err)
	}
	return result.ContractID(), nil
}

// head finds the current head contract of the lineage in the given state.
// With no lineage payload to match it takes the first visible contract.
func (s *Service) head(ctx context.Context, templateID, readAs string, lineage *Agreement) (*ledger.ActiveContract, error) {
	contracts, err := s.api.Query(ctx, []string{templateID}, readAs)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", templateID, err)
	}
	for i := range contracts {
		if lineage == nil {
			return &contracts[i], nil
		}
		var agreement Agreement
		if err := json.Unmarshal(contracts[i].Payload, &agreement); err != nil {
			continue
		}
		if lineage.SameLineage(agreement) {
			return &contracts[i], nil
		}
	}
	return nil, fmt.Errorf("%s as %s: %w", templateID, readAs, ErrNoActiveContract)
}

// DealSpec describes a new escrow agreement to establish.
type DealSpec struct {
	Agent  string
	Buyer  string
	Seller string
	Bank   string
	Item   string
	Price  decimal.Decimal
}

// Establish runs the creation sequence: the bank issues cash to the buyer,
// the buyer locks it with the agent, and the agent creates the escrow head.
func (s *Service) Establish(ctx context.Context, spec DealSpec) (string, error) {
	cashCid, err := s.api.Create(ctx, s.tpl.Cash, Cash{
		Issuer:   spec.Bank,
		Owner:    spec.Buyer,
		Currency: "USD",
		Amount:   spec.Price,
	}, spec.Bank)
	if err != nil {
		return "", fmt.Errorf("issue cash: %w", err)
	}

	transfer, err := s.api.Exercise(ctx, s.tpl.Cash, cashCid, spec.Buyer, "Transfer",
		map[string]interface{}{"newOwner": spec.Agent})
	if err != nil {
		return "", fmt.Errorf("lock cash: %w", err)
	}
	lockedCid := transfer.ContractID()

	escrowCid, err := s.api.Create(ctx, s.tpl.Escrow, Agreement{
		Agent:  spec.Agent,
		Buyer:  spec.Buyer,
		Seller: spec.Seller,
		Item:   spec.Item,
		Price:  spec.Price,
		Locked: lockedCid,
	}, spec.Agent)
	if err != nil {
		return "", fmt.Errorf("create escrow: %w", err)
	}
	return escrowCid, nil
}

// CreateOffer records an open offer on the ledger.
func (s *Service) CreateOffer(ctx context.Context, offer Offer, actAs string) (string, error) {
	cid, err := s.api.Create(ctx, s.tpl.Offer, offer, actAs)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}
	return cid, nil
}

// FetchOffer retrieves an offer by contract id; nil when no longer active.
func (s *Service) FetchOffer(ctx context.Context, contractID, readAs string) (*OfferContract, error) {
	ac, err := s.api.Fetch(ctx, s.tpl.Offer, contractID, readAs)
	if err != nil {
		if ledger.ContractNotActive(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch offer %s: %w", contractID, err)
	}
	if ac == nil {
		return nil, nil
	}
	var offer Offer
	if err := json.Unmarshal(ac.Payload, &offer); err != nil {
		return nil, fmt.Errorf("decode offer payload: %w", err)
	}
	return &OfferContract{ContractID: ac.ContractID, Offer: offer}, nil
}

// Offers lists active offers visible to readAs, optionally filtered by seller.
func (s *Service) Offers(ctx context.Context, readAs, seller string) ([]OfferContract, error) {
	contracts, err := s.api.Query(ctx, []string{s.tpl.Offer}, readAs)
	if err != nil {
		return nil, fmt.Errorf("query offers: %w", err)
	}
	offers := make([]OfferContract, 0, len(contracts))
	for _, ac := range contracts {
		var offer Offer
		if err := json.Unmarshal(ac.Payload, &offer); err != nil {
			continue
		}
		if seller != "" && offer.Seller != seller {
			continue
		}
		offers = append(offers, OfferContract{ContractID: ac.ContractID, Offer: offer})
	}
	return offers, nil
}

// ArchiveOffer consumes an offer (acceptance and rejection both archive it).
// An already-archived offer counts as done.
func (s *Service) ArchiveOffer(ctx context.Context, contractID, actAs string) (alreadyConsumed bool, err error) {
	_, err = s.api.Exercise(ctx, s.tpl.Offer, contractID, actAs, "Archive", nil)
	if err != nil {
		if ledger.ContractNotActive(err) {
			return true, nil
		}
		return false, fmt.Errorf("archive offer %s: %w", contractID, err)
	}
	return false, nil
}

// List returns the active agreements of one state template.
func (s *Service) List(ctx context.Context, templateID, readAs string) ([]AgreementContract, error) {
	contracts, err := s.api.Query(ctx, []string{templateID}, readAs)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", templateID, err)
	}
	out := make([]AgreementContract, 0, len(contracts))
	for _, ac := range contracts {
		var agreement Agreement
		if err := json.Unmarshal(ac.Payload, &agreement); err != nil {
			continue
		}
		out = append(out, AgreementContract{ContractID: ac.ContractID, Agreement: agreement})
	}
	return out, nil
}

// Templates exposes the qualified template ids (the server lists per state).
func (s *Service) Templates() Templates {
	return s.tpl
}

// QueryRaw returns a template's active contracts without decoding payloads;
// read endpoints pass them through as-is.
func (s *Service) QueryRaw(ctx context.Context, templateID, readAs string) ([]ledger.ActiveContract, error) {
	contracts, err := s.api.Query(ctx, []string{templateID}, readAs)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", templateID, err)
	}
	return contracts, nil
}

// DealsFor builds the unified per-party view across the live states, reading
// as the agent who sees every lineage.
func (s *Service) DealsFor(ctx context.Context, party, agent string) ([]DealView, error) {
	states := []struct {
		template string
		status   string
	}{
		{s.tpl.Escrow, "Escrow"},
		{s.tpl.Pending, "Pending"},
		{s.tpl.Ready, "Ready"},
	}

	var deals []DealView
	for _, st := range states {
		contracts, err := s.List(ctx, st.template, agent)
		if err != nil {
			return nil, err
		}
		for _, ac := range contracts {
			role := ""
			switch party {
			case ac.Agreement.Buyer:
				role = "buyer"
			case ac.Agreement.Seller:
				role = "seller"
			case ac.Agreement.Agent:
				role = "agent"
			default:
				continue
			}
			deals = append(deals, DealView{
				ContractID: ac.ContractID,
				Status:     st.status,
				Role:       role,
				Item:       ac.Agreement.Item,
				Price:      ac.Agreement.Price,
				Buyer:      ac.Agreement.Buyer,
				Seller:     ac.Agreement.Seller,
				Agent:      ac.Agreement.Agent,
			})
		}
	}
	return deals, nil
}
