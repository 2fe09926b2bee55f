// Package ledger wraps the Daml JSON API: query, create, exercise and fetch
// against contract templates, authorized per call by a bearer token scoped to
// the acting or reading party.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client talks to a participant's JSON API (the /v1 endpoint family).
type Client struct {
	baseURL  string // e.g. http://localhost:7575/v1
	appID    string
	ledgerID string
	http     *http.Client
}

type ClientConfig struct {
	BaseURL       string
	ApplicationID string
	LedgerID      string
	Timeout       time.Duration
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("ledger api url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		appID:    cfg.ApplicationID,
		ledgerID: cfg.LedgerID,
		http:     &http.Client{Timeout: timeout},
	}, nil
}

// ActiveContract is one entry of a query or fetch result.
type ActiveContract struct {
	ContractID string          `json:"contractId"`
	Payload    json.RawMessage `json:"payload"`
}

// ExerciseResult carries the choice's return value; for consuming choices
// that create a successor this is the new contract id.
type ExerciseResult struct {
	Result json.RawMessage `json:"exerciseResult"`
}

// ContractID interprets the exercise result as a plain contract id.
func (r ExerciseResult) ContractID() string {
	var cid string
	if err := json.Unmarshal(r.Result, &cid); err != nil {
		return ""
	}
	return cid
}

// APIError is a non-2xx JSON API response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ledger api status %d: %s", e.StatusCode, e.Body)
}

// ContractNotActive reports whether the error is the ledger rejecting an
// operation on an archived or unknown contract. That is how a lost race for
// a consumed head surfaces.
func ContractNotActive(err error) bool {
	apiErr, ok := err.(*APIError)
	if !ok {
		return false
	}
	return strings.Contains(apiErr.Body, "CONTRACT_NOT_ACTIVE") ||
		strings.Contains(apiErr.Body, "CONTRACT_NOT_FOUND")
}

// Query returns the active contracts of the given templates visible to readAs.
func (c *Client) Query(ctx context.Context, templateIDs []string, readAs string) ([]ActiveContract, error) {
	body := map[string]interface{}{
		"templateIds": templateIDs,
		"query":       map[string]interface{}{},
	}
	var out struct {
		Result []ActiveContract `json:"result"`
	}
	if err := c.post(ctx, "/query", body, nil, []string{readAs}, &out); err != nil {
		return nil, err
	}
	return out.Result, nil
}

// Create creates a contract instance and returns its id.
func (c *Client) Create(ctx context.Context, templateID string, payload interface{}, actAs string) (string, error) {
	body := map[string]interface{}{
		"templateId": templateID,
		"payload":    payload,
	}
	var out struct {
		Result struct {
			ContractID string `json:"contractId"`
		} `json:"result"`
	}
	if err := c.post(ctx, "/create", body, []string{actAs}, nil, &out); err != nil {
		return "", err
	}
	return out.Result.ContractID, nil
}

// Exercise exercises a choice on a contract as the given party.
func (c *Client) Exercise(ctx context.Context, templateID, contractID, actAs, choice string, argument interface{}) (ExerciseResult, error) {
	if argument == nil {
		argument = map[string]interface{}{}
	}
	body := map[string]interface{}{
		"templateId": templateID,
		"contractId": contractID,
		"choice":     choice,
		"argument":   argument,
	}
	var out struct {
		Result ExerciseResult `json:"result"`
	}
	if err := c.post(ctx, "/exercise", body, []string{actAs}, nil, &out); err != nil {
		return ExerciseResult{}, err
	}
	return out.Result, nil
}

// Fetch retrieves a single contract by id. A nil contract with nil error
// means the contract is not (or no longer) active.
func (c *Client) Fetch(ctx context.Context, templateID, contractID, readAs string) (*ActiveContract, error) {
	body := map[string]interface{}{
		"templateId": templateID,
		"contractId": contractID,
	}
	var out struct {
		Result *ActiveContract `json:"result"`
	}
	if err := c.post(ctx, "/fetch", body, nil, []string{readAs}, &out); err != nil {
		return nil, err
	}
	return out.Result, nil
}

// Parties lists the parties known to the participant.
func (c *Client) Parties(ctx context.Context) ([]string, error) {
	token, err := c.token(nil, nil)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/parties", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list parties: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var out struct {
		Result []struct {
			Identifier string `json:"identifier"`
		} `json:"result"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode parties: %w", err)
	}

	ids := make([]string, 0, len(out.Result))
	for _, row := range out.Result {
		if row.Identifier != "" {
			ids = append(ids, row.Identifier)
		}
	}
	return ids, nil
}

// Ready checks the participant's readiness endpoint.
func (c *Client) Ready(ctx context.Context) error {
	url := strings.TrimSuffix(c.baseURL, "/v1") + "/readyz"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ledger readyz: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ledger readyz status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body interface{}, actAs, readAs []string, out interface{}) error {
	token, err := c.token(actAs, readAs)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ledger %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
