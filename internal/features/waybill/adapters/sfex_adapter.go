package adapter

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"waybill-tracker/internal/core/config"
	"waybill-tracker/internal/core/httpclient"
	"waybill-tracker/internal/core/logger"
	"waybill-tracker/internal/features/waybill/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SFExAdapter fetches route data from the SF Express open API. Every
// request is signed with a keyed digest over the payload, a timestamp
// and the shared check word.
type SFExAdapter struct {
	cfg    config.SFExConfig
	client *http.Client
	logger *zap.Logger
}

// sfexStatuses maps carrier category + operation codes to canonical
// codes. Category 204 (customs) is ambiguous: the same operation code is
// reused for customs clearance and ordinary processing, so it is
// disambiguated by keywords in the free-text remark.
var sfexStatuses = statusMap{
	"101": tableOf(map[string]int{
		"50": domain.StatusAccepted,
		"54": domain.StatusCreated,
	}),
	"201": tableOf(map[string]int{
		"30": domain.StatusDeparted,
		"31": domain.StatusArrived,
		"36": domain.StatusInTransit,
	}),
	"204": ruleOf(func(opCode, remark string) int {
		if hasClearanceKeyword(remark) {
			return domain.StatusCustomsClearing
		}
		return domain.StatusInTransit
	}),
	"301": tableOf(map[string]int{
		"44": domain.StatusOutForDelivery,
		"80": domain.StatusDelivered,
		"81": domain.StatusDeliveredProxy,
	}),
	"401": tableOf(map[string]int{
		"70": domain.StatusDeliveryFailed,
		"99": domain.StatusReturned,
	}),
}

var clearanceKeywords = []string{"customs", "clearance", "清关"}

func hasClearanceKeyword(remark string) bool {
	lower := strings.ToLower(remark)
	for _, kw := range clearanceKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// sfexTZ is the zone the carrier reports scan times in.
var sfexTZ = time.FixedZone("CST", 8*3600)

// NewSFExAdapter creates a new SFExAdapter.
func NewSFExAdapter(cfg config.SFExConfig) *SFExAdapter {
	return &SFExAdapter{
		cfg:    cfg,
		client: httpclient.NewClient(30 * time.Second),
		logger: logger.Get(),
	}
}

// Carrier returns the carrier code served by this adapter.
func (a *SFExAdapter) Carrier() domain.Carrier {
	return domain.CarrierSFEx
}

// IsActive reports whether the partner credentials are configured.
func (a *SFExAdapter) IsActive() bool {
	return a.cfg.PartnerID != "" && a.cfg.CheckWord != ""
}

// RequiredParams lists the carrier-required fetch parameters. SF Express
// verifies route queries against the consignee's phone number.
func (a *SFExAdapter) RequiredParams() []string {
	return []string{"phone"}
}

// sfexResponse represents the JSON envelope returned by the route API.
type sfexResponse struct {
	Success   bool              `json:"success"`
	ErrorCode string            `json:"errorCode"`
	ErrorMsg  string            `json:"errorMsg"`
	Routes    []json.RawMessage `json:"routes"`
}

// sfexRoute represents one scan entry inside the response.
type sfexRoute struct {
	AcceptTime    string `json:"acceptTime"` // "2006-01-02 15:04:05", carrier local time
	AcceptAddress string `json:"acceptAddress"`
	Remark        string `json:"remark"`
	OpCode        string `json:"opCode"`
	StatusCode    string `json:"statusCode"`
	Consignee     string `json:"consignee"`
}

// GetRoute performs the signed route query and returns the raw payload.
func (a *SFExAdapter) GetRoute(ctx context.Context, trackingNum string, params map[string]string) ([]byte, error) {
	msgData, err := json.Marshal(map[string]string{
		"trackingNumber": trackingNum,
		"checkPhoneNo":   params["phone"],
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build route query: %w", err)
	}

	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)

	form := url.Values{}
	form.Set("partnerID", a.cfg.PartnerID)
	form.Set("requestID", uuid.NewString())
	form.Set("timestamp", timestamp)
	form.Set("msgDigest", a.signDigest(msgData, timestamp))
	form.Set("msgData", string(msgData))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/std/service/route/query", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUpstreamFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: sfex returned status %d", domain.ErrUpstreamFailure, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading sfex response: %v", domain.ErrUpstreamFailure, err)
	}
	return body, nil
}

// signDigest computes the request signature: base64 of the MD5 over the
// payload, the timestamp and the shared check word, in that order.
func (a *SFExAdapter) signDigest(msgData []byte, timestamp string) string {
	sum := md5.Sum(append(append(append([]byte{}, msgData...), timestamp...), a.cfg.CheckWord...))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// Convert normalizes a raw route payload into the canonical aggregate.
func (a *SFExAdapter) Convert(tid domain.TrackingID, raw []byte, params map[string]string, updateMethod string) (*domain.Waybill, error) {
	var resp sfexResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse sfex response: %w", err)
	}

	if !resp.Success {
		if resp.ErrorCode == "NO_ROUTE" {
			return nil, domain.ErrNoTrackingData
		}
		return nil, fmt.Errorf("%w: sfex error %s: %s", domain.ErrUpstreamFailure, resp.ErrorCode, resp.ErrorMsg)
	}

	wb := domain.NewWaybill(tid, params)
	updateTime := time.Now().UTC().Format(time.RFC3339)

	for _, rawRoute := range resp.Routes {
		var route sfexRoute
		if err := json.Unmarshal(rawRoute, &route); err != nil {
			a.logger.Warn("Skipping unparsable sfex route entry", zap.Error(err))
			continue
		}

		when, err := time.ParseInLocation("2006-01-02 15:04:05", route.AcceptTime, sfexTZ)
		if err != nil {
			a.logger.Warn("Unparsable sfex scan time",
				zap.String("accept_time", route.AcceptTime),
				zap.Error(err),
			)
		}

		status := sfexStatuses.resolve(route.StatusCode, route.OpCode, route.Remark)

		wb.AddEvent(domain.Event{
			EventID:      domain.Fingerprint(tid.Carrier, tid.TrackingNum, route.AcceptTime, route.StatusCode+"/"+route.OpCode),
			OperatorCode: string(tid.Carrier),
			TrackingNum:  tid.TrackingNum,
			Status:       status,
			What:         domain.DescribeStatus(status),
			When:         when,
			Where:        route.AcceptAddress,
			Whom:         route.Consignee,
			Notes:        route.Remark,
			DataProvider: string(tid.Carrier),
			Extra: map[string]string{
				"update_method": updateMethod,
				"update_time":   updateTime,
			},
			SourceData: string(rawRoute),
		})
	}

	if len(wb.Events) == 0 {
		return nil, domain.ErrNoTrackingData
	}
	return wb, nil
}
