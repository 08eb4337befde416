package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"waybill-tracker/internal/core/config"
	"waybill-tracker/internal/core/httpclient"
	"waybill-tracker/internal/core/logger"
	"waybill-tracker/internal/features/waybill/domain"

	"go.uber.org/zap"
)

// EMSPostAdapter fetches trace data from the EMS postal open API. The
// API is OAuth-style: an access token is exchanged for the app
// credentials, cached until expiry and sent as a bearer header.
type EMSPostAdapter struct {
	cfg    config.EMSPostConfig
	client *http.Client
	tokens *bearerTokenSource
	logger *zap.Logger
}

// emspostStatuses maps the carrier's trace type + operation codes to
// canonical codes. The postal trace vocabulary is unambiguous, so every
// category is a flat table.
var emspostStatuses = statusMap{
	"1": tableOf(map[string]int{
		"10": domain.StatusCreated,
		"11": domain.StatusAccepted,
	}),
	"2": tableOf(map[string]int{
		"20": domain.StatusDeparted,
		"21": domain.StatusArrived,
	}),
	"3": tableOf(map[string]int{
		"30": domain.StatusCustomsClearing,
		"31": domain.StatusCustomsCleared,
		"32": domain.StatusCustomsHold,
	}),
	"4": tableOf(map[string]int{
		"40": domain.StatusOutForDelivery,
		"41": domain.StatusDelivered,
		"42": domain.StatusDeliveredProxy,
		"43": domain.StatusDeliveryFailed,
		"44": domain.StatusReturned,
	}),
}

// NewEMSPostAdapter creates a new EMSPostAdapter.
func NewEMSPostAdapter(cfg config.EMSPostConfig) *EMSPostAdapter {
	a := &EMSPostAdapter{
		cfg:    cfg,
		client: httpclient.NewClient(30 * time.Second),
		logger: logger.Get(),
	}
	a.tokens = newBearerTokenSource(a.fetchToken)
	return a
}

// Carrier returns the carrier code served by this adapter.
func (a *EMSPostAdapter) Carrier() domain.Carrier {
	return domain.CarrierEMSPost
}

// IsActive reports whether the app credentials are configured.
func (a *EMSPostAdapter) IsActive() bool {
	return a.cfg.AppKey != "" && a.cfg.AppSecret != ""
}

// RequiredParams lists the carrier-required fetch parameters. The
// postal API needs none beyond the tracking number.
func (a *EMSPostAdapter) RequiredParams() []string {
	return nil
}

// fetchToken exchanges the app credentials for a bearer token.
func (a *EMSPostAdapter) fetchToken(ctx context.Context) (string, time.Duration, error) {
	form := url.Values{}
	form.Set("app_key", a.cfg.AppKey)
	form.Set("app_secret", a.cfg.AppSecret)
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("%w: token exchange: %v", domain.ErrUpstreamFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("%w: token exchange returned status %d", domain.ErrUpstreamFailure, resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", 0, fmt.Errorf("%w: parsing token response: %v", domain.ErrUpstreamFailure, err)
	}
	if payload.AccessToken == "" {
		return "", 0, fmt.Errorf("%w: token exchange returned empty token", domain.ErrUpstreamFailure)
	}

	return payload.AccessToken, time.Duration(payload.ExpiresIn) * time.Second, nil
}

// emspostResponse represents the JSON envelope of the trace API.
type emspostResponse struct {
	Code   int               `json:"code"`
	Msg    string            `json:"msg"`
	Traces []json.RawMessage `json:"traces"`
}

// emspostTrace represents one scan entry inside the response.
type emspostTrace struct {
	OpTime    string `json:"opTime"` // RFC 3339 with offset
	TraceType string `json:"traceType"`
	OpCode    string `json:"opCode"`
	OpDesc    string `json:"opDesc"`
	OpPlace   string `json:"opPlace"`
	SignedBy  string `json:"signedBy"`
}

// GetRoute performs the authenticated trace query and returns the raw
// payload. A rejected token is dropped and the call retried once with a
// fresh one.
func (a *EMSPostAdapter) GetRoute(ctx context.Context, trackingNum string, params map[string]string) ([]byte, error) {
	body, status, err := a.doTraceRequest(ctx, trackingNum)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		a.tokens.invalidate()
		body, status, err = a.doTraceRequest(ctx, trackingNum)
		if err != nil {
			return nil, err
		}
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: emspost returned status %d", domain.ErrUpstreamFailure, status)
	}
	return body, nil
}

func (a *EMSPostAdapter) doTraceRequest(ctx context.Context, trackingNum string) ([]byte, int, error) {
	token, err := a.tokens.get(ctx)
	if err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.BaseURL+"/v1/traces?mailNo="+url.QueryEscape(trackingNum), nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create trace request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", domain.ErrUpstreamFailure, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: reading emspost response: %v", domain.ErrUpstreamFailure, err)
	}
	return body, resp.StatusCode, nil
}

// Convert normalizes a raw trace payload into the canonical aggregate.
func (a *EMSPostAdapter) Convert(tid domain.TrackingID, raw []byte, params map[string]string, updateMethod string) (*domain.Waybill, error) {
	var resp emspostResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse emspost response: %w", err)
	}

	if resp.Code != 0 {
		return nil, fmt.Errorf("%w: emspost error %d: %s", domain.ErrUpstreamFailure, resp.Code, resp.Msg)
	}

	wb := domain.NewWaybill(tid, params)
	updateTime := time.Now().UTC().Format(time.RFC3339)

	for _, rawTrace := range resp.Traces {
		var trace emspostTrace
		if err := json.Unmarshal(rawTrace, &trace); err != nil {
			a.logger.Warn("Skipping unparsable emspost trace entry", zap.Error(err))
			continue
		}

		when, err := time.Parse(time.RFC3339, trace.OpTime)
		if err != nil {
			a.logger.Warn("Unparsable emspost scan time",
				zap.String("op_time", trace.OpTime),
				zap.Error(err),
			)
		}

		status := emspostStatuses.resolve(trace.TraceType, trace.OpCode, trace.OpDesc)

		wb.AddEvent(domain.Event{
			EventID:      domain.Fingerprint(tid.Carrier, tid.TrackingNum, trace.OpTime, trace.TraceType+"/"+trace.OpCode),
			OperatorCode: string(tid.Carrier),
			TrackingNum:  tid.TrackingNum,
			Status:       status,
			What:         domain.DescribeStatus(status),
			When:         when,
			Where:        trace.OpPlace,
			Whom:         trace.SignedBy,
			Notes:        trace.OpDesc,
			DataProvider: string(tid.Carrier),
			Extra: map[string]string{
				"update_method": updateMethod,
				"update_time":   updateTime,
			},
			SourceData: string(rawTrace),
		})
	}

	if len(wb.Events) == 0 {
		return nil, domain.ErrNoTrackingData
	}
	return wb, nil
}
