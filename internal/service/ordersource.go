package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"provisioner/internal/config"
	"provisioner/internal/model"
)

const (
	contractLookupPath   = "/spquery/contractlookup"
	contractDownloadPath = "/spquery/contractdownload"
	maxResponseBytes     = 10 << 20
)

// OrderSourceError is the only error FetchOrder returns.
type OrderSourceError struct {
	Message string
}

func (e *OrderSourceError) Error() string {
	return "order source: " + e.Message
}

type OrderSourceClient struct {
	settings func() config.OrderSource
	client   *http.Client
}

func NewOrderSourceClient(settings func() config.OrderSource, timeout time.Duration) *OrderSourceClient {
	return &OrderSourceClient{
		settings: settings,
		client:   &http.Client{Timeout: timeout},
	}
}

type orderRequest struct {
	APIKey   string `json:"apikey"`
	OrderRef string `json:"orderref"`
}

func (c *OrderSourceClient) post(ctx context.Context, path, orderRef string) (*http.Response, error) {
	cfg := c.settings()
	payload, err := json.Marshal(orderRequest{APIKey: cfg.APIKey, OrderRef: orderRef})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	url := strings.TrimRight(cfg.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	return resp, nil
}

// FetchOrder looks up the customer behind an order reference. A 200 whose
// body carries an "error" field is still a failure.
func (c *OrderSourceClient) FetchOrder(ctx context.Context, orderRef string) (*model.CustomerRecord, error) {
	resp, err := c.post(ctx, contractLookupPath, orderRef)
	if err != nil {
		return nil, &OrderSourceError{Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &OrderSourceError{Message: fmt.Sprintf("read response: %v", err)}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, &OrderSourceError{Message: fmt.Sprintf("malformed response (status %d): %s", resp.StatusCode, truncate(body))}
	}
	if fields == nil {
		return nil, &OrderSourceError{Message: fmt.Sprintf("response is not an order object (status %d): %s", resp.StatusCode, truncate(body))}
	}
	if raw, ok := fields["error"]; ok {
		return nil, &OrderSourceError{Message: errorText(raw)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &OrderSourceError{Message: fmt.Sprintf("unexpected status: %d, body: %s", resp.StatusCode, truncate(body))}
	}

	var rec model.CustomerRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, &OrderSourceError{Message: fmt.Sprintf("decode order: %v", err)}
	}
	if rec.FullName() == "" {
		return nil, &OrderSourceError{Message: "order has no customer data"}
	}
	return &rec, nil
}

// DownloadContract returns the signed contract PDF for an order.
func (c *OrderSourceClient) DownloadContract(ctx context.Context, orderRef string) ([]byte, error) {
	resp, err := c.post(ctx, contractDownloadPath, orderRef)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read contract: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d, body: %s", resp.StatusCode, truncate(body))
	}
	if !bytes.HasPrefix(body, []byte("%PDF")) {
		return nil, fmt.Errorf("contract for %s is not a pdf: %s", orderRef, truncate(body))
	}
	return body, nil
}

func errorText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func truncate(b []byte) string {
	const limit = 512
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
