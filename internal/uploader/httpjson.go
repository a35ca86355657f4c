package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPJSON is the generic marketplace variant speaking a plain JSON API:
//
//	POST   {base}/api/listings            -> {"listing_id": "..."}
//	PATCH  {base}/api/listings/{id}       -> 200/204
//	GET    {base}/api/listings/{id}       -> 200 | 404
//
// Real marketplace connectors implement the same interface with their own
// wire protocol; this variant covers self-hosted shops and test targets.
type HTTPJSON struct {
	baseURL string
	token   string
	client  *http.Client
}

type httpjsonCredentials struct {
	BaseURL string `json:"base_url"`
	Token   string `json:"token"`
	Timeout string `json:"timeout,omitempty"`
}

// NewHTTPJSON builds the generic variant from opaque account credentials.
func NewHTTPJSON(credentials []byte) (*HTTPJSON, error) {
	var creds httpjsonCredentials
	if err := json.Unmarshal(credentials, &creds); err != nil {
		return nil, fmt.Errorf("invalid httpjson credentials: %w", err)
	}

	base := strings.TrimSpace(creds.BaseURL)
	if base == "" {
		return nil, fmt.Errorf("httpjson credentials: base_url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("httpjson credentials: invalid base_url: %w", err)
	}

	timeout := 20 * time.Second
	if creds.Timeout != "" {
		t, err := time.ParseDuration(creds.Timeout)
		if err != nil {
			return nil, fmt.Errorf("httpjson credentials: invalid timeout: %w", err)
		}
		timeout = t
	}

	return &HTTPJSON{
		baseURL: strings.TrimRight(base, "/"),
		token:   creds.Token,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// CreateListing implements Uploader.
func (u *HTTPJSON) CreateListing(ctx context.Context, p Payload) (string, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return "", &RemoteError{Kind: KindPermanent, Msg: "encode payload", Err: err}
	}

	resp, err := u.do(ctx, http.MethodPost, u.baseURL+"/api/listings", body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp, "create listing"); err != nil {
		return "", err
	}

	var out struct {
		ListingID string `json:"listing_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &RemoteError{Kind: KindTransient, Msg: "decode create response", Err: err}
	}
	if out.ListingID == "" {
		return "", &RemoteError{Kind: KindTransient, Msg: "create response missing listing_id"}
	}
	return out.ListingID, nil
}

// UpdateListing implements Uploader.
func (u *HTTPJSON) UpdateListing(ctx context.Context, remoteID string, fields map[string]any) error {
	body, err := json.Marshal(fields)
	if err != nil {
		return &RemoteError{Kind: KindPermanent, Msg: "encode fields", Err: err}
	}

	resp, err := u.do(ctx, http.MethodPatch, u.listingURL(remoteID), body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return classifyStatus(resp, "update listing")
}

// CheckExists implements Uploader. A 404 is a definitive "gone"; any other
// failure is reported as an error so callers never mistake a blip for a
// deleted listing.
func (u *HTTPJSON) CheckExists(ctx context.Context, remoteID string) (bool, error) {
	resp, err := u.do(ctx, http.MethodGet, u.listingURL(remoteID), nil)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if err := classifyStatus(resp, "check listing"); err != nil {
		return false, err
	}
	return true, nil
}

func (u *HTTPJSON) listingURL(remoteID string) string {
	return u.baseURL + "/api/listings/" + url.PathEscape(remoteID)
}

func (u *HTTPJSON) do(ctx context.Context, method, endpoint string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, &RemoteError{Kind: KindPermanent, Msg: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if u.token != "" {
		req.Header.Set("Authorization", "Bearer "+u.token)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &RemoteError{Kind: KindTransient, Msg: method + " " + endpoint, Err: err}
	}
	return resp, nil
}

func classifyStatus(resp *http.Response, op string) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RemoteError{Kind: KindRateLimited, Msg: fmt.Sprintf("%s: status %d", op, resp.StatusCode)}
	case resp.StatusCode == http.StatusNotFound:
		return &RemoteError{Kind: KindNotFound, Msg: fmt.Sprintf("%s: status %d", op, resp.StatusCode)}
	case resp.StatusCode >= 500:
		return &RemoteError{Kind: KindTransient, Msg: fmt.Sprintf("%s: status %d", op, resp.StatusCode)}
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &RemoteError{Kind: KindPermanent, Msg: fmt.Sprintf("%s: status %d: %s", op, resp.StatusCode, strings.TrimSpace(string(msg)))}
	}
}
