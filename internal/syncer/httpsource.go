package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// HTTPSource fetches price/stock facts from a JSON pricing API:
//
//	POST {base}/api/prices/batch  {"item_ids": [...]}
//	  -> {"results": [{"item_id": ..., "offers": N, "eligible_offers": N,
//	                   "price": ..., "in_stock": ..., "error": ...}]}
//
// eligible_offers counts offers passing the provider-side business filter
// (e.g. free shipping); offers with none eligible classify as filtered out.
type HTTPSource struct {
	baseURL   string
	token     string
	batchSize int
	client    *http.Client
}

// NewHTTPSource builds the source. batchSize caps identifiers per call.
func NewHTTPSource(baseURL, token string, batchSize int) (*HTTPSource, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("pricing source URL is required")
	}
	if batchSize <= 0 {
		batchSize = 20
	}
	return &HTTPSource{
		baseURL:   base,
		token:     token,
		batchSize: batchSize,
		client:    &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// BatchSize implements PriceSource.
func (s *HTTPSource) BatchSize() int { return s.batchSize }

// SourceError is a whole-chunk rejection from the pricing provider.
type SourceError struct {
	Status int
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("pricing source returned status %d", e.Status)
}

// Retryable reports whether an immediate replay of the chunk can help:
// server-side failures and throttling can clear, a request rejection cannot.
func (e *SourceError) Retryable() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

type batchResponse struct {
	Results []struct {
		ItemID         string   `json:"item_id"`
		Offers         int      `json:"offers"`
		EligibleOffers int      `json:"eligible_offers"`
		Price          *float64 `json:"price"`
		InStock        *bool    `json:"in_stock"`
		Error          string   `json:"error"`
	} `json:"results"`
}

// FetchBatch implements PriceSource. Transport and server failures are
// returned as errors (whole-chunk); per-identifier problems classify inline.
func (s *HTTPSource) FetchBatch(ctx context.Context, itemIDs []string) ([]RemoteResult, error) {
	body, err := json.Marshal(map[string][]string{"item_ids": itemIDs})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/prices/batch", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pricing fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &SourceError{Status: resp.StatusCode}
	}

	var parsed batchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("pricing response decode failed: %w", err)
	}

	byID := make(map[string]RemoteResult, len(parsed.Results))
	for _, r := range parsed.Results {
		byID[r.ItemID] = classify(r.ItemID, r.Offers, r.EligibleOffers, r.Price, r.InStock, r.Error)
	}

	// Identifiers the provider omitted are API errors, not silent drops.
	results := make([]RemoteResult, 0, len(itemIDs))
	for _, id := range itemIDs {
		if res, ok := byID[id]; ok {
			results = append(results, res)
			continue
		}
		results = append(results, RemoteResult{ItemID: id, Class: ClassAPIError})
	}
	return results, nil
}

func classify(itemID string, offers, eligible int, price *float64, inStock *bool, errMsg string) RemoteResult {
	switch {
	case errMsg != "":
		return RemoteResult{ItemID: itemID, Class: ClassAPIError}
	case offers == 0:
		return RemoteResult{ItemID: itemID, Class: ClassOutOfStock}
	case eligible == 0:
		return RemoteResult{ItemID: itemID, Class: ClassFilteredOut}
	case price != nil && inStock != nil:
		return RemoteResult{ItemID: itemID, Class: ClassSuccess, Price: price, InStock: inStock}
	default:
		return RemoteResult{ItemID: itemID, Class: ClassAPIError}
	}
}
