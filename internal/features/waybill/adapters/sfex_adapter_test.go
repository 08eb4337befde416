package adapter

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"waybill-tracker/internal/core/config"
	"waybill-tracker/internal/features/waybill/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sfexTestAdapter(baseURL string) *SFExAdapter {
	return NewSFExAdapter(config.SFExConfig{
		BaseURL:   baseURL,
		PartnerID: "partner-1",
		CheckWord: "checkword-secret",
	})
}

func sfexTestTID(t *testing.T) domain.TrackingID {
	t.Helper()
	tid, err := domain.ParseTrackingID("sfex-SF1234567890123")
	require.NoError(t, err)
	return tid
}

// TestSFExAdapter_IsActive verifies activation follows credential presence.
func TestSFExAdapter_IsActive(t *testing.T) {
	assert.True(t, sfexTestAdapter("http://example.test").IsActive())
	assert.False(t, NewSFExAdapter(config.SFExConfig{BaseURL: "http://example.test"}).IsActive())
	assert.False(t, NewSFExAdapter(config.SFExConfig{PartnerID: "p"}).IsActive())
}

// TestSFExAdapter_Convert_StatusMapping verifies category/operation resolution,
// including the 201/31 arrival mapping.
func TestSFExAdapter_Convert_StatusMapping(t *testing.T) {
	payload := `{
		"success": true,
		"routes": [
			{"acceptTime": "2026-08-01 09:00:00", "acceptAddress": "Shenzhen", "statusCode": "101", "opCode": "50", "remark": "Parcel collected"},
			{"acceptTime": "2026-08-01 18:30:00", "acceptAddress": "Shenzhen hub", "statusCode": "201", "opCode": "31", "remark": "Arrived at facility"},
			{"acceptTime": "2026-08-02 08:00:00", "acceptAddress": "Hong Kong", "statusCode": "301", "opCode": "80", "remark": "Signed", "consignee": "J. Doe"}
		]
	}`

	adapter := sfexTestAdapter("http://example.test")
	wb, err := adapter.Convert(sfexTestTID(t), []byte(payload), map[string]string{"phone": "1234"}, domain.UpdateMethodManual)

	require.NoError(t, err)
	require.Len(t, wb.Events, 3)

	assert.Equal(t, domain.StatusAccepted, wb.Events[0].Status)
	assert.Equal(t, domain.StatusArrived, wb.Events[1].Status)
	assert.Equal(t, "Arrived", wb.Events[1].What)
	assert.Equal(t, domain.StatusDelivered, wb.Events[2].Status)
	assert.Equal(t, "J. Doe", wb.Events[2].Whom)

	assert.Equal(t, "sfex", wb.Events[0].OperatorCode)
	assert.Equal(t, "SF1234567890123", wb.Events[0].TrackingNum)
	assert.Equal(t, domain.UpdateMethodManual, wb.Events[0].Extra["update_method"])
	assert.NotEmpty(t, wb.Events[0].SourceData)
	assert.Equal(t, map[string]string{"phone": "1234"}, wb.Params)
}

// TestSFExAdapter_Convert_CustomsRule verifies the ambiguous customs category is
// disambiguated by the free-text remark.
func TestSFExAdapter_Convert_CustomsRule(t *testing.T) {
	payload := `{
		"success": true,
		"routes": [
			{"acceptTime": "2026-08-02 10:00:00", "statusCode": "204", "opCode": "60", "remark": "Customs clearance in progress"},
			{"acceptTime": "2026-08-02 11:00:00", "statusCode": "204", "opCode": "60", "remark": "Shipment in progress"}
		]
	}`

	adapter := sfexTestAdapter("http://example.test")
	wb, err := adapter.Convert(sfexTestTID(t), []byte(payload), nil, domain.UpdateMethodAuto)

	require.NoError(t, err)
	require.Len(t, wb.Events, 2)
	assert.Equal(t, domain.StatusCustomsClearing, wb.Events[0].Status)
	assert.Equal(t, domain.StatusInTransit, wb.Events[1].Status)
}

// TestSFExAdapter_Convert_UnknownCodesFallBack verifies unmapped combinations
// resolve to the generic in-transit code instead of failing.
func TestSFExAdapter_Convert_UnknownCodesFallBack(t *testing.T) {
	payload := `{
		"success": true,
		"routes": [
			{"acceptTime": "2026-08-01 09:00:00", "statusCode": "999", "opCode": "1"},
			{"acceptTime": "2026-08-01 10:00:00", "statusCode": "201", "opCode": "77"}
		]
	}`

	adapter := sfexTestAdapter("http://example.test")
	wb, err := adapter.Convert(sfexTestTID(t), []byte(payload), nil, domain.UpdateMethodAuto)

	require.NoError(t, err)
	require.Len(t, wb.Events, 2)
	assert.Equal(t, domain.StatusInTransit, wb.Events[0].Status)
	assert.Equal(t, domain.StatusInTransit, wb.Events[1].Status)
}

// TestSFExAdapter_Convert_Empty verifies a zero-scan payload signals not found.
func TestSFExAdapter_Convert_Empty(t *testing.T) {
	adapter := sfexTestAdapter("http://example.test")

	_, err := adapter.Convert(sfexTestTID(t), []byte(`{"success": true, "routes": []}`), nil, domain.UpdateMethodManual)
	assert.ErrorIs(t, err, domain.ErrNoTrackingData)

	_, err = adapter.Convert(sfexTestTID(t), []byte(`{"success": false, "errorCode": "NO_ROUTE"}`), nil, domain.UpdateMethodManual)
	assert.ErrorIs(t, err, domain.ErrNoTrackingData)
}

// TestSFExAdapter_Convert_CarrierError verifies non-route carrier errors surface as transient.
func TestSFExAdapter_Convert_CarrierError(t *testing.T) {
	adapter := sfexTestAdapter("http://example.test")

	_, err := adapter.Convert(sfexTestTID(t), []byte(`{"success": false, "errorCode": "SYS_BUSY", "errorMsg": "try later"}`), nil, domain.UpdateMethodManual)

	assert.ErrorIs(t, err, domain.ErrUpstreamFailure)
}

// TestSFExAdapter_Convert_DedupsProviderRows verifies duplicate scan rows in one
// payload produce one event.
func TestSFExAdapter_Convert_DedupsProviderRows(t *testing.T) {
	payload := `{
		"success": true,
		"routes": [
			{"acceptTime": "2026-08-01 09:00:00", "statusCode": "201", "opCode": "31"},
			{"acceptTime": "2026-08-01 09:00:00", "statusCode": "201", "opCode": "31"}
		]
	}`

	adapter := sfexTestAdapter("http://example.test")
	wb, err := adapter.Convert(sfexTestTID(t), []byte(payload), nil, domain.UpdateMethodManual)

	require.NoError(t, err)
	assert.Len(t, wb.Events, 1)
}

// TestSFExAdapter_Convert_Idempotent verifies two conversions of the same payload
// yield identical fingerprint sets.
func TestSFExAdapter_Convert_Idempotent(t *testing.T) {
	payload := `{
		"success": true,
		"routes": [
			{"acceptTime": "2026-08-01 09:00:00", "statusCode": "101", "opCode": "50"},
			{"acceptTime": "2026-08-01 18:30:00", "statusCode": "201", "opCode": "31"}
		]
	}`

	adapter := sfexTestAdapter("http://example.test")
	first, err := adapter.Convert(sfexTestTID(t), []byte(payload), nil, domain.UpdateMethodManual)
	require.NoError(t, err)
	second, err := adapter.Convert(sfexTestTID(t), []byte(payload), nil, domain.UpdateMethodAuto)
	require.NoError(t, err)

	assert.Equal(t, first.EventIDs(), second.EventIDs())
}

// TestSFExAdapter_GetRoute_SignsRequest verifies the keyed digest over payload,
// timestamp and check word.
func TestSFExAdapter_GetRoute_SignsRequest(t *testing.T) {
	var gotForm map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotForm = map[string]string{
			"partnerID": r.PostFormValue("partnerID"),
			"requestID": r.PostFormValue("requestID"),
			"timestamp": r.PostFormValue("timestamp"),
			"msgDigest": r.PostFormValue("msgDigest"),
			"msgData":   r.PostFormValue("msgData"),
		}
		w.Write([]byte(`{"success": true, "routes": [{"acceptTime": "2026-08-01 09:00:00", "statusCode": "201", "opCode": "31"}]}`))
	}))
	defer srv.Close()

	adapter := sfexTestAdapter(srv.URL)
	raw, err := adapter.GetRoute(context.Background(), "SF1234567890123", map[string]string{"phone": "1234"})

	require.NoError(t, err)
	assert.Contains(t, string(raw), `"success"`)

	assert.Equal(t, "partner-1", gotForm["partnerID"])
	assert.NotEmpty(t, gotForm["requestID"])
	assert.Contains(t, gotForm["msgData"], "SF1234567890123")
	assert.Contains(t, gotForm["msgData"], "1234")

	sum := md5.Sum([]byte(gotForm["msgData"] + gotForm["timestamp"] + "checkword-secret"))
	assert.Equal(t, base64.StdEncoding.EncodeToString(sum[:]), gotForm["msgDigest"])
}

// TestSFExAdapter_GetRoute_HTTPError verifies non-200 responses surface as transient failures.
func TestSFExAdapter_GetRoute_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	adapter := sfexTestAdapter(srv.URL)
	_, err := adapter.GetRoute(context.Background(), "SF1234567890123", nil)

	assert.ErrorIs(t, err, domain.ErrUpstreamFailure)
}

// TestSFExAdapter_SourceDataRoundTrip verifies the audit fragment is the verbatim provider row.
func TestSFExAdapter_SourceDataRoundTrip(t *testing.T) {
	payload := `{"success": true, "routes": [{"acceptTime": "2026-08-01 09:00:00", "statusCode": "201", "opCode": "31", "remark": "Arrived at facility"}]}`

	adapter := sfexTestAdapter("http://example.test")
	wb, err := adapter.Convert(sfexTestTID(t), []byte(payload), nil, domain.UpdateMethodManual)
	require.NoError(t, err)

	var fragment sfexRoute
	require.NoError(t, json.Unmarshal([]byte(wb.Events[0].SourceData), &fragment))
	assert.Equal(t, "Arrived at facility", fragment.Remark)
}
