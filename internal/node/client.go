package node

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultTimeout = 30 * time.Second

var errMissingURL = errors.New("node: url is required")

// Config describes the wallet daemon connection.
type Config struct {
	URL      string
	Username string
	Password string
	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
}

// Client speaks the bitcoin-style JSON-RPC dialect of the coin daemon.
type Client struct {
	url        string
	username   string
	password   string
	httpClient *http.Client
}

// NewClient constructs a wallet RPC client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errMissingURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		url:        cfg.URL,
		username:   cfg.Username,
		password:   cfg.Password,
		httpClient: httpClient,
	}, nil
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      string        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// GetBalance returns the spendable wallet balance.
func (c *Client) GetBalance(ctx context.Context) (float64, error) {
	var balance float64
	if err := c.call(ctx, "getbalance", nil, &balance); err != nil {
		return 0, err
	}
	return balance, nil
}

// SendToAddress transfers amount to the given transparent address and returns
// the transaction id.
func (c *Client) SendToAddress(ctx context.Context, address string, amount float64) (string, error) {
	var txid string
	if err := c.call(ctx, "sendtoaddress", []interface{}{address, amount}, &txid); err != nil {
		return "", err
	}
	return txid, nil
}

// ValidateAddress asks the daemon whether the address passes checksum
// validation.
func (c *Client) ValidateAddress(ctx context.Context, address string) (bool, error) {
	var result struct {
		IsValid bool `json:"isvalid"`
	}
	if err := c.call(ctx, "validateaddress", []interface{}{address}, &result); err != nil {
		return false, err
	}
	return result.IsValid, nil
}

func (c *Client) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	if params == nil {
		params = []interface{}{}
	}
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "1.0",
		ID:      "xsg-faucet",
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("node: encode %s request: %w", method, err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("node: build %s request: %w", method, err)
	}
	request.Header.Set("Content-Type", "application/json")
	if c.username != "" {
		request.SetBasicAuth(c.username, c.password)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("node: %s call failed: %w", method, err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return fmt.Errorf("node: read %s response: %w", method, err)
	}

	var decoded rpcResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return fmt.Errorf("node: decode %s response (status %d): %w", method, response.StatusCode, err)
	}
	if decoded.Error != nil {
		return fmt.Errorf("node: %s rejected (code %d): %s", method, decoded.Error.Code, decoded.Error.Message)
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(decoded.Result, result); err != nil {
		return fmt.Errorf("node: decode %s result: %w", method, err)
	}
	return nil
}
