package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"escrowbridge/internal/bridge"
	"escrowbridge/internal/config"
	"escrowbridge/internal/escrow"
	"escrowbridge/internal/hmacauth"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Bridger is the slice of the bridge the HTTP layer calls.
type Bridger interface {
	CreateDeal(ctx context.Context, contractID, buyerAddr, sellerAddr string, price decimal.Decimal) (bridge.CreateResult, error)
	Settle(ctx context.Context, contractID string) (bridge.SettleResult, error)
}

// Resolver maps party aliases to full identifiers.
type Resolver interface {
	Resolve(ctx context.Context, alias string) string
}

// WatcherStatus exposes the deposit watcher's liveness to health checks.
type WatcherStatus interface {
	Running() bool
}

// Deps are the collaborators the server routes requests to.
type Deps struct {
	Escrow   *escrow.Service
	Bridge   Bridger
	Resolver Resolver
	Watcher  WatcherStatus

	LedgerHealth func(context.Context) error
	ChainHealth  func(context.Context) error
	StoreHealth  func(context.Context) error
}

type Server struct {
	cfg        *config.AppConfig
	deps       Deps
	hmac       *hmacauth.Verifier
	httpServer *http.Server
	metrics    *metricsRegistry
}

func NewServer(cfg *config.AppConfig, deps Deps) *Server {
	s := &Server{
		cfg:  cfg,
		deps: deps,
		hmac: &hmacauth.Verifier{
			Secret:  cfg.Service.HMACSecret,
			MaxSkew: cfg.Service.HMACClockSkew,
		},
		metrics: newMetricsRegistry(),
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Method(http.MethodGet, "/metrics", s.metrics.handler())

		r.Get("/offers/{seller}", s.handleListOffers)
		r.Get("/deals/{party}", s.handleListDeals)
		r.Get("/contracts/{state}/{party}", s.handleListState)

		r.Group(func(r chi.Router) {
			r.Use(s.hmac.Middleware)
			r.Post("/offers", s.handleCreateOffer)
			r.Post("/offers/accept", s.handleAcceptOffer)
			r.Post("/offers/reject", s.handleRejectOffer)
			r.Post("/deals", s.handleCreateDeal)
			r.Post("/escrow/buyer-confirm", s.handleBuyerConfirm)
			r.Post("/escrow/seller-confirm", s.handleSellerConfirm)
			r.Post("/escrow/release", s.handleRelease)
			r.Post("/escrow/refund", s.handleRefund)
			r.Post("/settle", s.handleSettle)
		})
	})

	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Service.HTTPPort),
		Handler:           r,
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s
}

func (s *Server) Start() error {
	log.Printf("API listening on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router (tests drive it directly).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

type createOfferRequest struct {
	Buyer     string          `json:"buyer"`
	Seller    string          `json:"seller"`
	CCAmount  decimal.Decimal `json:"ccAmount"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	BuyerEth  string          `json:"buyerEth"`
	SellerEth string          `json:"sellerEth"`
}

func (s *Server) handleCreateOffer(w http.ResponseWriter, r *http.Request) {
	var req createOfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json payload")
		return
	}
	if req.BuyerEth == "" || req.SellerEth == "" {
		writeError(w, http.StatusBadRequest, "buyerEth and sellerEth are required")
		return
	}
	if req.Buyer == "" {
		req.Buyer = s.cfg.Parties.Buyer
	}
	if req.Seller == "" {
		req.Seller = s.cfg.Parties.Seller
	}

	ctx := r.Context()
	offer := escrow.Offer{
		Agent:      s.deps.Resolver.Resolve(ctx, s.cfg.Parties.Agent),
		Buyer:      s.deps.Resolver.Resolve(ctx, req.Buyer),
		Seller:     s.deps.Resolver.Resolve(ctx, req.Seller),
		CCAmount:   req.CCAmount,
		UnitPrice:  req.UnitPrice,
		TotalPrice: req.CCAmount.Mul(req.UnitPrice),
		BuyerEth:   req.BuyerEth,
		SellerEth:  req.SellerEth,
	}

	cid, err := s.deps.Escrow.CreateOffer(ctx, offer, offer.Agent)
	if err != nil {
		s.metrics.incOffer("create", "failed")
		writeError(w, http.StatusBadGateway, "create offer: "+err.Error())
		return
	}

	s.metrics.incOffer("create", "ok")
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"step":       "offer_created",
		"contractId": cid,
		"offer":      offer,
	})
}

type offerRefRequest struct {
	OfferCid string `json:"offerCid"`
}

func (s *Server) handleAcceptOffer(w http.ResponseWriter, r *http.Request) {
	var req offerRefRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OfferCid == "" {
		writeError(w, http.StatusBadRequest, "offerCid is required")
		return
	}

	ctx := r.Context()
	agent := s.deps.Resolver.Resolve(ctx, s.cfg.Parties.Agent)

	oc, err := s.deps.Escrow.FetchOffer(ctx, req.OfferCid, agent)
	if err != nil {
		s.metrics.incOffer("accept", "failed")
		writeError(w, http.StatusBadGateway, "fetch offer: "+err.Error())
		return
	}
	if oc == nil {
		s.metrics.incOffer("accept", "not_found")
		writeError(w, http.StatusNotFound, "offer not found or no longer active")
		return
	}

	if _, err := s.deps.Escrow.ArchiveOffer(ctx, req.OfferCid, agent); err != nil {
		s.metrics.incOffer("accept", "failed")
		writeError(w, http.StatusBadGateway, "archive offer: "+err.Error())
		return
	}

	item := fmt.Sprintf("CantonCoin (CC) x %s @ %s USDT", oc.Offer.CCAmount, oc.Offer.UnitPrice)
	escrowCid, err := s.deps.Escrow.Establish(ctx, escrow.DealSpec{
		Agent:  oc.Offer.Agent,
		Buyer:  oc.Offer.Buyer,
		Seller: oc.Offer.Seller,
		Bank:   s.deps.Resolver.Resolve(ctx, s.cfg.Parties.Bank),
		Item:   item,
		Price:  oc.Offer.TotalPrice,
	})
	if err != nil {
		s.metrics.incOffer("accept", "failed")
		writeError(w, http.StatusBadGateway, "establish escrow: "+err.Error())
		return
	}

	resp := map[string]interface{}{
		"step":       "offer_accepted",
		"contractId": escrowCid,
	}
	// Mirror creation failure does not undo the ledger side; it is reported
	// and the deal can be re-bridged manually.
	mirror, err := s.deps.Bridge.CreateDeal(ctx, escrowCid, oc.Offer.BuyerEth, oc.Offer.SellerEth, oc.Offer.TotalPrice)
	if err != nil {
		s.metrics.incDeal("bridge_failed")
		resp["bridge"] = map[string]string{"error": err.Error()}
	} else {
		s.metrics.incDeal("created")
		resp["bridge"] = mirror
	}

	s.metrics.incOffer("accept", "ok")
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleRejectOffer(w http.ResponseWriter, r *http.Request) {
	var req offerRefRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OfferCid == "" {
		writeError(w, http.StatusBadRequest, "offerCid is required")
		return
	}

	ctx := r.Context()
	agent := s.deps.Resolver.Resolve(ctx, s.cfg.Parties.Agent)

	already, err := s.deps.Escrow.ArchiveOffer(ctx, req.OfferCid, agent)
	if err != nil {
		s.metrics.incOffer("reject", "failed")
		writeError(w, http.StatusBadGateway, "archive offer: "+err.Error())
		return
	}

	s.metrics.incOffer("reject", "ok")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"step":            "offer_rejected",
		"alreadyConsumed": already,
	})
}

type createDealRequest struct {
	Buyer     string          `json:"buyer"`
	Seller    string          `json:"seller"`
	Item      string          `json:"item"`
	Price     decimal.Decimal `json:"price"`
	BuyerEth  string          `json:"buyerEth"`
	SellerEth string          `json:"sellerEth"`
}

func (s *Server) handleCreateDeal(w http.ResponseWriter, r *http.Request) {
	var req createDealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json payload")
		return
	}
	if req.Buyer == "" {
		req.Buyer = s.cfg.Parties.Buyer
	}
	if req.Seller == "" {
		req.Seller = s.cfg.Parties.Seller
	}
	if req.Item == "" {
		writeError(w, http.StatusBadRequest, "item is required")
		return
	}
	if req.Price.Sign() <= 0 {
		writeError(w, http.StatusBadRequest, "price must be positive")
		return
	}

	ctx := r.Context()
	escrowCid, err := s.deps.Escrow.Establish(ctx, escrow.DealSpec{
		Agent:  s.deps.Resolver.Resolve(ctx, s.cfg.Parties.Agent),
		Buyer:  s.deps.Resolver.Resolve(ctx, req.Buyer),
		Seller: s.deps.Resolver.Resolve(ctx, req.Seller),
		Bank:   s.deps.Resolver.Resolve(ctx, s.cfg.Parties.Bank),
		Item:   req.Item,
		Price:  req.Price,
	})
	if err != nil {
		s.metrics.incDeal("failed")
		writeError(w, http.StatusBadGateway, "establish escrow: "+err.Error())
		return
	}

	resp := map[string]interface{}{
		"step":       "escrow_created",
		"contractId": escrowCid,
	}
	if req.BuyerEth != "" && req.SellerEth != "" {
		mirror, err := s.deps.Bridge.CreateDeal(ctx, escrowCid, req.BuyerEth, req.SellerEth, req.Price)
		if err != nil {
			s.metrics.incDeal("bridge_failed")
			resp["bridge"] = map[string]string{"error": err.Error()}
		} else {
			s.metrics.incDeal("created")
			resp["bridge"] = mirror
		}
	} else {
		s.metrics.incDeal("unbridged")
	}

	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleBuyerConfirm(w http.ResponseWriter, r *http.Request) {
	s.handleChoice(w, r, "buyer", s.cfg.Parties.Buyer, s.deps.Escrow.BuyerConfirm)
}

func (s *Server) handleSellerConfirm(w http.ResponseWriter, r *http.Request) {
	s.handleChoice(w, r, "seller", s.cfg.Parties.Seller, s.deps.Escrow.SellerConfirm)
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	s.handleChoice(w, r, "agent", s.cfg.Parties.Agent, s.deps.Escrow.Release)
}

func (s *Server) handleRefund(w http.ResponseWriter, r *http.Request) {
	s.handleChoice(w, r, "agent", s.cfg.Parties.Agent, s.deps.Escrow.Refund)
}

// handleChoice runs one manually triggered state-machine choice as the
// party named in the request body (falling back to the configured alias).
func (s *Server) handleChoice(w http.ResponseWriter, r *http.Request, field, fallback string,
	op func(context.Context, string, *escrow.Agreement) (string, error)) {

	req := map[string]string{}
	// An empty body is fine; the configured alias is the default actor.
	_ = json.NewDecoder(r.Body).Decode(&req)
	alias := req[field]
	if alias == "" {
		alias = fallback
	}

	ctx := r.Context()
	party := s.deps.Resolver.Resolve(ctx, alias)

	cid, err := op(ctx, party, nil)
	if err != nil {
		if errors.Is(err, escrow.ErrNoActiveContract) {
			s.metrics.incEscrowOp(field, "no_active")
			writeError(w, http.StatusNotFound, "no contract awaiting this choice")
			return
		}
		s.metrics.incEscrowOp(field, "failed")
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	s.metrics.incEscrowOp(field, "ok")
	writeJSON(w, http.StatusOK, map[string]string{
		"status":     "advanced",
		"contractId": cid,
	})
}

type settleRequest struct {
	ContractID string `json:"contractId"`
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	var req settleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ContractID == "" {
		writeError(w, http.StatusBadRequest, "contractId is required")
		return
	}

	res, err := s.deps.Bridge.Settle(r.Context(), req.ContractID)
	s.metrics.incSettlement(res.Outcome)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"result": res,
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"result": res})
}

func (s *Server) handleListOffers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	seller := chi.URLParam(r, "seller")
	sellerID := s.deps.Resolver.Resolve(ctx, seller)
	agent := s.deps.Resolver.Resolve(ctx, s.cfg.Parties.Agent)

	offers, err := s.deps.Escrow.Offers(ctx, agent, sellerID)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"seller":   seller,
		"sellerId": sellerID,
		"offers":   offers,
	})
}

func (s *Server) handleListDeals(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	party := chi.URLParam(r, "party")
	partyID := s.deps.Resolver.Resolve(ctx, party)
	agent := s.deps.Resolver.Resolve(ctx, s.cfg.Parties.Agent)

	deals, err := s.deps.Escrow.DealsFor(ctx, partyID, agent)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"party":   party,
		"partyId": partyID,
		"deals":   deals,
	})
}

func (s *Server) handleListState(w http.ResponseWriter, r *http.Request) {
	tpl := s.deps.Escrow.Templates()
	var templateID string
	switch chi.URLParam(r, "state") {
	case "escrow":
		templateID = tpl.Escrow
	case "pending":
		templateID = tpl.Pending
	case "ready":
		templateID = tpl.Ready
	case "completed":
		templateID = tpl.Completed
	case "offers":
		templateID = tpl.Offer
	case "cash":
		templateID = tpl.Cash
	default:
		writeError(w, http.StatusNotFound, "unknown contract state")
		return
	}

	ctx := r.Context()
	party := s.deps.Resolver.Resolve(ctx, chi.URLParam(r, "party"))

	contracts, err := s.deps.Escrow.QueryRaw(ctx, templateID, party)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"result": contracts})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	overallHealthy := true

	check := func(fn func(context.Context) error) (bool, string) {
		if fn == nil {
			return true, ""
		}
		cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := fn(cctx); err != nil {
			return false, err.Error()
		}
		return true, ""
	}

	ledgerOK, ledgerErr := check(s.deps.LedgerHealth)
	chainOK, chainErr := check(s.deps.ChainHealth)
	storeOK, storeErr := check(s.deps.StoreHealth)

	watcherRunning := s.deps.Watcher != nil && s.deps.Watcher.Running()
	s.metrics.setWatcherUp(watcherRunning)

	if !ledgerOK || !storeOK {
		overallHealthy = false
	}
	// A down chain degrades the bridge but the ledger-only surface still works.
	status := "healthy"
	if !overallHealthy {
		status = "degraded"
	}

	resp := map[string]interface{}{
		"status": status,
		"ledger": healthEntry(ledgerOK, ledgerErr),
		"chain":  healthEntry(chainOK, chainErr),
		"store":  healthEntry(storeOK, storeErr),
		"watcher": map[string]bool{
			"running": watcherRunning,
		},
	}

	code := http.StatusOK
	if !overallHealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func healthEntry(ok bool, errMsg string) map[string]interface{} {
	entry := map[string]interface{}{"connected": ok}
	if errMsg != "" {
		entry["error"] = errMsg
	}
	return entry
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Request-Id") == "" {
			r.Header.Set("X-Request-Id", uuid.NewString())
		}
		next.ServeHTTP(w, r)
	})
}
