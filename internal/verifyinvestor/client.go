// Package verifyinvestor is the REST client for the accreditation
// provider. The provider uses 404 as a signal, not only as an error: an
// identifier lookup 404 means "user has not authorized us yet", a
// request-status 404 means the request vanished on their side.
package verifyinvestor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"attestation-core/pkg/monitor"
)

const userAgent = "attestation-core/1.0"

type Client struct {
	baseURL   string
	apiToken  string
	authToken string // user authorization token, embedded in auth links
	http      *http.Client
}

func NewClient(baseURL, apiToken, authToken string) *Client {
	return &Client{
		baseURL:   baseURL,
		apiToken:  apiToken,
		authToken: authToken,
		http:      &http.Client{Timeout: 30 * time.Second},
	}
}

// AuthURL builds the link the user clicks to grant us access to their
// provider account. profileParams (first_name, last_name, ...) prefill
// the provider's signup form from the revealed real-name profile.
func (c *Client) AuthURL(identifier string, profileParams map[string]string) string {
	u := fmt.Sprintf("%s/authorization/%s?identifier=%s", c.baseURL, c.authToken, url.QueryEscape(identifier))
	for k, v := range profileParams {
		u += "&" + url.QueryEscape(k) + "=" + url.QueryEscape(v)
	}
	return u
}

// CheckAuthorization maps our identifier to the provider's user id.
// ok=false without error means the user has not authorized us yet (404).
func (c *Client) CheckAuthorization(ctx context.Context, identifier string) (userID int64, ok bool, err error) {
	timer := prometheus.NewTimer(monitor.Business.ProviderRequestDuration.WithLabelValues("identifier"))
	defer timer.ObserveDuration()

	var body struct {
		ID int64 `json:"id"`
	}
	status, err := c.do(ctx, http.MethodGet, "/api/v1/users/identifier/"+url.PathEscape(identifier), nil, &body)
	if err != nil {
		return 0, false, err
	}
	switch {
	case status == http.StatusNotFound:
		return 0, false, nil
	case status != http.StatusOK:
		return 0, false, fmt.Errorf("identifier lookup %s: status %d", identifier, status)
	case body.ID == 0:
		return 0, false, fmt.Errorf("identifier lookup %s: missing id in body", identifier)
	}
	return body.ID, true, nil
}

// SubmitVerificationRequest opens a verification request for the
// provider user and returns its id. The provider answers 201 on success.
func (c *Client) SubmitVerificationRequest(ctx context.Context, userID int64, userAddress string) (int64, error) {
	timer := prometheus.NewTimer(monitor.Business.ProviderRequestDuration.WithLabelValues("submit_request"))
	defer timer.ObserveDuration()

	label := fmt.Sprintf("ledger address %s", userAddress)
	payload := map[string]string{
		"deal_name":  label,
		"legal_name": label,
	}
	var body struct {
		ID int64 `json:"id"`
	}
	status, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/users/%d/verification_requests", userID), payload, &body)
	if err != nil {
		return 0, err
	}
	if status != http.StatusCreated {
		return 0, fmt.Errorf("submit verification request for user %d: status %d", userID, status)
	}
	if body.ID == 0 {
		return 0, fmt.Errorf("submit verification request for user %d: missing id in body", userID)
	}
	return body.ID, nil
}

// RequestStatus polls one verification request. notFound=true means the
// provider no longer knows the request (or the user revoked access);
// callers must health-check before trusting it.
func (c *Client) RequestStatus(ctx context.Context, userID, requestID int64) (status string, notFound bool, err error) {
	timer := prometheus.NewTimer(monitor.Business.ProviderRequestDuration.WithLabelValues("request_status"))
	defer timer.ObserveDuration()

	var body struct {
		ID     int64  `json:"id"`
		Status string `json:"status"`
	}
	code, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/users/%d/verification_requests/%d", userID, requestID), nil, &body)
	if err != nil {
		return "", false, err
	}
	switch {
	case code == http.StatusNotFound:
		return "", true, nil
	case code != http.StatusOK:
		return "", false, fmt.Errorf("request status %d/%d: status %d", userID, requestID, code)
	case body.ID != requestID || body.Status == "":
		return "", false, fmt.Errorf("request status %d/%d: unexpected body (id=%d status=%q)", userID, requestID, body.ID, body.Status)
	}
	return body.Status, false, nil
}

// Health checks that the provider API answers at all. Used to tell a
// "request vanished" 404 apart from a broken provider.
func (c *Client) Health(ctx context.Context) error {
	timer := prometheus.NewTimer(monitor.Business.ProviderRequestDuration.WithLabelValues("health"))
	defer timer.ObserveDuration()

	status, err := c.do(ctx, http.MethodGet, "/api/v1", nil, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("provider health check: status %d", status)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, out interface{}) (int, error) {
	var reqBody *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, err
		}
		reqBody = bytes.NewReader(raw)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Token "+c.apiToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("%s %s: decode body: %w", method, path, err)
		}
	}
	return resp.StatusCode, nil
}
