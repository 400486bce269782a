package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/swarmguard/gateway/internal/breaker"
	"github.com/swarmguard/gateway/internal/model"
)

var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// HTTPMCPClient is the default MCPClient, backed by a remote tool server
// reached over HTTP. Every call passes through a circuit breaker so a
// failing backend degrades to the layer's fail policy instead of hanging
// dispatch.
type HTTPMCPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	cb      *breaker.Breaker
}

// NewHTTPMCPClient constructs an HTTPMCPClient. cb may be nil to disable
// circuit breaking (e.g. in tests against a local stub).
func NewHTTPMCPClient(baseURL, apiKey string, cb *breaker.Breaker) *HTTPMCPClient {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}
	return &HTTPMCPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Transport: transport, Timeout: 10 * time.Second},
		cb:      cb,
	}
}

func (c *HTTPMCPClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func (c *HTTPMCPClient) post(ctx context.Context, path string, body any, out any) error {
	if c.cb != nil {
		if err := c.cb.Allow(); err != nil {
			return err
		}
	}

	buf := bufPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufPool.Put(buf)
	if err := json.NewEncoder(buf).Encode(body); err != nil {
		return fmt.Errorf("collab: marshaling request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf.Bytes()))
	if err != nil {
		return fmt.Errorf("collab: creating request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		c.recordFailure()
		return fmt.Errorf("collab: request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		c.recordFailure()
		return fmt.Errorf("collab: unexpected status %d from %s", resp.StatusCode, path)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			c.recordFailure()
			return fmt.Errorf("collab: decoding response from %s: %w", path, err)
		}
	} else {
		io.Copy(io.Discard, resp.Body)
	}

	c.recordSuccess()
	return nil
}

func (c *HTTPMCPClient) recordFailure() {
	if c.cb != nil {
		c.cb.RecordFailure()
	}
}

func (c *HTTPMCPClient) recordSuccess() {
	if c.cb != nil {
		c.cb.RecordSuccess()
	}
}

type layerResponse struct {
	Passed  bool           `json:"passed"`
	Score   float32        `json:"score"`
	Details map[string]any `json:"details,omitempty"`
}

func (c *HTTPMCPClient) layerCall(ctx context.Context, path string, tag model.LayerTag, body any) (model.LayerVerdict, error) {
	var resp layerResponse
	if err := c.post(ctx, path, body, &resp); err != nil {
		return model.LayerVerdict{LayerTag: tag}, err
	}
	return model.LayerVerdict{
		LayerTag: tag,
		Passed:   resp.Passed,
		Score:    resp.Score,
		Details:  resp.Details,
	}, nil
}

func (c *HTTPMCPClient) ScanInput(ctx context.Context, text string) (model.LayerVerdict, error) {
	return c.layerCall(ctx, "/scan", model.LayerL1, map[string]any{"text": text})
}

func (c *HTTPMCPClient) AnalyzeThreats(ctx context.Context, text string) (model.LayerVerdict, error) {
	return c.layerCall(ctx, "/analyze", model.LayerL2, map[string]any{"text": text})
}

func (c *HTTPMCPClient) CheckSafety(ctx context.Context, text string, l1Score, l2Score float32) (model.LayerVerdict, error) {
	return c.layerCall(ctx, "/safety", model.LayerL3, map[string]any{
		"text": text, "l1_score": l1Score, "l2_score": l2Score,
	})
}

func (c *HTTPMCPClient) DetectPII(ctx context.Context, text string) (model.LayerVerdict, error) {
	return c.layerCall(ctx, "/pii", model.LayerL4PII, map[string]any{"text": text})
}

func (c *HTTPMCPClient) Learn(ctx context.Context, text string, result model.DefenceResult) error {
	return c.post(ctx, "/learn", map[string]any{"text": text, "result": result}, nil)
}

func (c *HTTPMCPClient) RecordStats(ctx context.Context, result model.DefenceResult) error {
	return c.post(ctx, "/stats", map[string]any{"result": result}, nil)
}

// HTTPMCPBridge is the default MCPBridge, backed by a remote agent/memory
// server reached over HTTP.
type HTTPMCPBridge struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPMCPBridge constructs an HTTPMCPBridge.
func NewHTTPMCPBridge(baseURL, apiKey string) *HTTPMCPBridge {
	return &HTTPMCPBridge{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (b *HTTPMCPBridge) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}
}

func (b *HTTPMCPBridge) SpawnAgent(ctx context.Context, cfg AgentConfig) (string, error) {
	buf := bufPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufPool.Put(buf)
	if err := json.NewEncoder(buf).Encode(cfg); err != nil {
		return "", fmt.Errorf("collab: marshaling spawn config: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/agents", bytes.NewReader(buf.Bytes()))
	if err != nil {
		return "", fmt.Errorf("collab: creating spawn request: %w", err)
	}
	b.setHeaders(req)

	resp, err := b.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("collab: spawn agent request failed: %w", err)
	}
	defer resp.Body.Close()

	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("collab: decoding spawn response: %w", err)
	}
	return out.ID, nil
}

func (b *HTTPMCPBridge) TerminateAgent(ctx context.Context, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, b.baseURL+"/agents/"+id, nil)
	if err != nil {
		return fmt.Errorf("collab: creating terminate request: %w", err)
	}
	b.setHeaders(req)

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("collab: terminate agent request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return nil
}

func (b *HTTPMCPBridge) StoreMemory(ctx context.Context, key string, value []byte, namespace string) error {
	body := map[string]any{"key": key, "value": value, "namespace": namespace}
	buf := bufPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufPool.Put(buf)
	if err := json.NewEncoder(buf).Encode(body); err != nil {
		return fmt.Errorf("collab: marshaling memory write: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, b.baseURL+"/memory", bytes.NewReader(buf.Bytes()))
	if err != nil {
		return fmt.Errorf("collab: creating memory request: %w", err)
	}
	b.setHeaders(req)

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("collab: memory write failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return nil
}

// HTTPRVFBridge is the default RVFBridge, backed by a remote provenance
// service reached over HTTP.
type HTTPRVFBridge struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPRVFBridge constructs an HTTPRVFBridge.
func NewHTTPRVFBridge(baseURL, apiKey string) *HTTPRVFBridge {
	return &HTTPRVFBridge{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (b *HTTPRVFBridge) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}
}

func (b *HTTPRVFBridge) RecordWitness(ctx context.Context, entry model.WitnessEntry) error {
	buf := bufPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufPool.Put(buf)
	if err := json.NewEncoder(buf).Encode(entry); err != nil {
		return fmt.Errorf("collab: marshaling witness entry: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/witness", bytes.NewReader(buf.Bytes()))
	if err != nil {
		return fmt.Errorf("collab: creating witness request: %w", err)
	}
	b.setHeaders(req)

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("collab: record witness failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return nil
}

func (b *HTTPRVFBridge) GetStatus(ctx context.Context) (BridgeStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/status", nil)
	if err != nil {
		return BridgeStatus{}, fmt.Errorf("collab: creating status request: %w", err)
	}
	b.setHeaders(req)

	resp, err := b.client.Do(req)
	if err != nil {
		return BridgeStatus{}, fmt.Errorf("collab: status request failed: %w", err)
	}
	defer resp.Body.Close()

	var out BridgeStatus
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return BridgeStatus{}, fmt.Errorf("collab: decoding status response: %w", err)
	}
	return out, nil
}
