package ledger

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(ClientConfig{
		BaseURL:       srv.URL + "/v1",
		ApplicationID: "escrow-bridge",
		LedgerID:      "participant1",
		Timeout:       2 * time.Second,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client, srv
}

// decodeToken pulls the ledger-api claim out of the bearer token without
// verifying a signature (there is none, alg is none).
func decodeToken(t *testing.T, r *http.Request) map[string]interface{} {
	t.Helper()
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		t.Fatalf("missing bearer token, got %q", auth)
	}
	parts := strings.Split(strings.TrimPrefix(auth, "Bearer "), ".")
	if len(parts) != 3 {
		t.Fatalf("malformed jwt: %d parts", len(parts))
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		t.Fatalf("decode jwt payload: %v", err)
	}
	var claims map[string]interface{}
	if err := json.Unmarshal(raw, &claims); err != nil {
		t.Fatalf("unmarshal claims: %v", err)
	}
	api, ok := claims["https://daml.com/ledger-api"].(map[string]interface{})
	if !ok {
		t.Fatalf("missing ledger-api claim in %v", claims)
	}
	return api
}

func TestQuerySendsReadAsToken(t *testing.T) {
	var gotBody map[string]interface{}
	var gotAPI map[string]interface{}

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/query" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotAPI = decodeToken(t, r)
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"result":[{"contractId":"00abc","payload":{"item":"cc"}}]}`))
	}))

	contracts, err := client.Query(context.Background(), []string{"*:Escrow:Escrow"}, "Escrow-1::1220ff")
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(contracts) != 1 || contracts[0].ContractID != "00abc" {
		t.Fatalf("unexpected result %+v", contracts)
	}

	if gotAPI["ledgerId"] != "participant1" || gotAPI["applicationId"] != "escrow-bridge" {
		t.Fatalf("unexpected token claim %v", gotAPI)
	}
	readAs, _ := gotAPI["readAs"].([]interface{})
	if len(readAs) != 1 || readAs[0] != "Escrow-1::1220ff" {
		t.Fatalf("unexpected readAs %v", gotAPI["readAs"])
	}
	if _, hasActAs := gotAPI["actAs"]; hasActAs {
		t.Fatalf("query token must not carry actAs, got %v", gotAPI)
	}
	tids, _ := gotBody["templateIds"].([]interface{})
	if len(tids) != 1 || tids[0] != "*:Escrow:Escrow" {
		t.Fatalf("unexpected templateIds %v", gotBody["templateIds"])
	}
}

func TestCreateSendsActAsToken(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/create" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		api := decodeToken(t, r)
		actAs, _ := api["actAs"].([]interface{})
		if len(actAs) != 1 || actAs[0] != "Bank-1" {
			t.Errorf("unexpected actAs %v", api["actAs"])
		}
		w.Write([]byte(`{"result":{"contractId":"00cash"}}`))
	}))

	cid, err := client.Create(context.Background(), "*:Token:Cash",
		map[string]string{"issuer": "Bank-1"}, "Bank-1")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if cid != "00cash" {
		t.Fatalf("contract id = %q, want 00cash", cid)
	}
}

func TestExerciseReturnsSuccessorID(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		if body["choice"] != "BuyerConfirm" || body["contractId"] != "00abc" {
			t.Errorf("unexpected exercise body %v", body)
		}
		if _, ok := body["argument"].(map[string]interface{}); !ok {
			t.Errorf("nil argument must encode as an empty object, got %v", body["argument"])
		}
		w.Write([]byte(`{"result":{"exerciseResult":"00pending"}}`))
	}))

	res, err := client.Exercise(context.Background(), "*:Escrow:Escrow", "00abc", "Alice-1", "BuyerConfirm", nil)
	if err != nil {
		t.Fatalf("exercise failed: %v", err)
	}
	if res.ContractID() != "00pending" {
		t.Fatalf("successor = %q, want 00pending", res.ContractID())
	}
}

func TestContractNotActiveDetection(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"errors":["CONTRACT_NOT_ACTIVE: 00gone"]}`))
	}))

	_, err := client.Exercise(context.Background(), "*:Escrow:Escrow", "00gone", "Alice-1", "BuyerConfirm", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !ContractNotActive(err) {
		t.Fatalf("ContractNotActive = false for %v", err)
	}
	if ContractNotActive(context.DeadlineExceeded) {
		t.Fatal("unrelated error misclassified as contract-not-active")
	}
}

func TestFetchAbsentContract(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":null}`))
	}))

	ac, err := client.Fetch(context.Background(), "*:Escrow:Escrow", "00gone", "Escrow-1")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if ac != nil {
		t.Fatalf("expected nil contract, got %+v", ac)
	}
}

func TestReadyUsesParticipantRoot(t *testing.T) {
	var gotPath string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))

	if err := client.Ready(context.Background()); err != nil {
		t.Fatalf("ready failed: %v", err)
	}
	if gotPath != "/readyz" {
		t.Fatalf("readiness path = %q, want /readyz", gotPath)
	}
}

func TestResolver(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/parties" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"result":[
			{"identifier":"Alice-1::1220aa"},
			{"identifier":"Escrow-1::1220bb"}
		]}`))
	}))

	r := NewResolver(client)
	ctx := context.Background()

	if got := r.Resolve(ctx, "Alice-1"); got != "Alice-1::1220aa" {
		t.Fatalf("alias resolve = %q", got)
	}
	// Full identifiers and party- style ids pass through untouched.
	if got := r.Resolve(ctx, "Bob-1::1220cc"); got != "Bob-1::1220cc" {
		t.Fatalf("full id resolve = %q", got)
	}
	if got := r.Resolve(ctx, "party-abc123"); got != "party-abc123" {
		t.Fatalf("party- resolve = %q", got)
	}
	// Unknown aliases fall back to the name as given.
	if got := r.Resolve(ctx, "Mallory-1"); got != "Mallory-1" {
		t.Fatalf("unknown alias resolve = %q", got)
	}
}
