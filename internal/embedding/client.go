// Package embedding turns text into unit-L2 768-dim vectors, with
// Matryoshka truncation to 384/256/128/64.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"misir/internal/config"
)

type embedReq struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResp struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// httpClient defaults to http.DefaultClient; SetHTTPClient replaces it
// (for example with an otelhttp-wrapped client from
// observability.NewHTTPClient). cmd/misircore keeps the default.
var httpClient = http.DefaultClient

// SetHTTPClient overrides the client used for embedding calls.
func SetHTTPClient(c *http.Client) { httpClient = c }

// rawEmbed calls the configured embedding endpoint and returns one raw,
// un-truncated vector per input string. It performs no role prefixing,
// caching, or dimension handling — that lives in Provider.
func rawEmbed(ctx context.Context, cfg config.EmbeddingConfig, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("embedding: no inputs")
	}
	reqBody, err := json.Marshal(embedReq{Model: cfg.Model, Input: inputs})
	if err != nil {
		return nil, fmt.Errorf("embedding: marshal request: %w", err)
	}
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := cfg.BaseURL + cfg.Path
	req, err := http.NewRequestWithContext(cctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("embedding: build request: %w", err)
	}
	if cfg.APIHeader == "Authorization" {
		req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	} else if cfg.APIHeader != "" {
		req.Header.Set(cfg.APIHeader, cfg.APIKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding: request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("embedding: read response body: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		preview := bodyBytes
		if len(preview) > 200 {
			preview = preview[:200]
		}
		return nil, fmt.Errorf("embedding: endpoint returned %s: %s", resp.Status, string(preview))
	}

	var er embedResp
	if err := json.Unmarshal(bodyBytes, &er); err != nil {
		preview := bodyBytes
		if len(preview) > 200 {
			preview = preview[:200]
		}
		return nil, fmt.Errorf("embedding: parse response (input count %d, body %q): %w", len(inputs), string(preview), err)
	}
	if len(er.Data) != len(inputs) {
		return nil, fmt.Errorf("embedding: unexpected vector count: got %d, want %d", len(er.Data), len(inputs))
	}
	out := make([][]float32, len(er.Data))
	for i := range er.Data {
		out[i] = er.Data[i].Embedding
	}
	return out, nil
}

// CheckReachability verifies the embedding endpoint is reachable by sending
// a small probe request.
func CheckReachability(ctx context.Context, cfg config.EmbeddingConfig) error {
	_, err := rawEmbed(ctx, cfg, []string{"ping"})
	if err != nil {
		return fmt.Errorf("embedding: reachability check failed: %w", err)
	}
	return nil
}
