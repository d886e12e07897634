package adcp

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionalFieldsOmittedWhenUnset(t *testing.T) {
	// Success shape with no optional fields set: creative_deadline must be
	// absent, package optionals absent, paused always present.
	success := CreateMediaBuySuccess{
		MediaBuyID: "mb_1",
		BuyerRef:   "br_1",
		Packages:   []ResponsePackage{{PackageID: "pkg_1"}},
	}
	data, err := json.Marshal(success)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.NotContains(t, m, "creative_deadline")
	assert.NotContains(t, m, "errors")

	pkg := m["packages"].([]any)[0].(map[string]any)
	assert.Contains(t, pkg, "paused")
	assert.Equal(t, false, pkg["paused"])
	assert.NotContains(t, pkg, "buyer_ref")
	assert.NotContains(t, pkg, "creative_assignments")
}

func TestDeliveryResponseOmitsUnsetOptionals(t *testing.T) {
	resp := GetMediaBuyDeliveryResponse{
		Deliveries: []MediaBuyDelivery{{MediaBuyID: "mb_1", Status: StatusActive}},
	}
	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.NotContains(t, m, "reporting_period")
	assert.NotContains(t, m, "currency")
	assert.NotContains(t, m, "aggregated_totals")
	assert.NotContains(t, m, "errors")
	assert.Contains(t, m, "media_buy_deliveries")
}

func TestErrorShapeNeverCarriesMediaBuyID(t *testing.T) {
	result := NewCreateError(Errorf(CodeValidation, "start_time is in the past"))
	data, err := json.Marshal(result)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.NotContains(t, m, "media_buy_id")
	assert.Contains(t, m, "errors")
}

func TestCreateResultIsOneOf(t *testing.T) {
	// Exhaustive switch over the union: a result is exactly one arm.
	results := []CreateMediaBuyResult{
		CreateMediaBuySuccess{MediaBuyID: "mb_x", BuyerRef: "br"},
		NewCreateError(Errorf(CodeAdapter, "upstream rejected the order")),
	}
	for _, r := range results {
		switch v := r.(type) {
		case CreateMediaBuySuccess:
			assert.NotEmpty(t, v.MediaBuyID)
		case CreateMediaBuyError:
			assert.NotEmpty(t, v.Errors)
		default:
			t.Fatalf("unexpected result type %T", v)
		}
	}
}

func TestPricingOptionStripsIsFixedOnWire(t *testing.T) {
	rate := 12.5
	opt := PricingOption{
		PricingOptionID: "cpm_usd_fixed",
		PricingModel:    PricingModelCPM,
		Currency:        "USD",
		IsFixed:         true,
		Rate:            &rate,
	}
	data, err := json.Marshal(opt)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.NotContains(t, m, "is_fixed")
	assert.Contains(t, m, "rate")
	assert.NotContains(t, m, "price_guidance")
	assert.NotContains(t, m, "min_spend_per_package")
}

func TestBudgetExtraction(t *testing.T) {
	amount, currency := ExtractBudget(nil, "USD")
	assert.Equal(t, 0.0, amount)
	assert.Equal(t, "USD", currency)

	amount, currency = ExtractBudget(NewBudget(5000), "USD")
	assert.Equal(t, 5000.0, amount)
	assert.Equal(t, "USD", currency)

	amount, currency = ExtractBudget(NewBudgetObject(1200, "EUR", "even"), "USD")
	assert.Equal(t, 1200.0, amount)
	assert.Equal(t, "EUR", currency, "object currency wins over request default")

	amount, currency = ExtractBudget(NewBudgetObject(1200, "", ""), "USD")
	assert.Equal(t, 1200.0, amount)
	assert.Equal(t, "USD", currency)
}

func TestBudgetUnmarshalNumberAndObject(t *testing.T) {
	var b Budget
	require.NoError(t, json.Unmarshal([]byte(`5000.5`), &b))
	amount, currency := ExtractBudget(&b, "USD")
	assert.Equal(t, 5000.5, amount)
	assert.Equal(t, "USD", currency)

	require.NoError(t, json.Unmarshal([]byte(`{"total": 900, "currency": "GBP", "pacing": "even"}`), &b))
	amount, currency = ExtractBudget(&b, "USD")
	assert.Equal(t, 900.0, amount)
	assert.Equal(t, "GBP", currency)
	assert.Equal(t, "even", b.Pacing())

	assert.Error(t, json.Unmarshal([]byte(`"not a budget"`), &b))
}

func TestFormatIDNormalization(t *testing.T) {
	a := FormatID{AgentURL: "https://h/", ID: "display_300x250"}
	b := FormatID{AgentURL: "https://h", ID: "display_300x250"}
	assert.True(t, a.Equal(b))
	assert.Equal(t, a.Normalize(), b.Normalize())

	c := FormatID{AgentURL: "https://other", ID: "display_300x250"}
	assert.False(t, a.Equal(c))
}

func TestAwareTimeRejectsNaiveDatetime(t *testing.T) {
	var at AwareTime
	assert.Error(t, json.Unmarshal([]byte(`"2026-01-01T00:00:00"`), &at), "naive datetime must be rejected")
	assert.NoError(t, json.Unmarshal([]byte(`"2026-01-01T00:00:00Z"`), &at))
	assert.NoError(t, json.Unmarshal([]byte(`"2026-01-01T00:00:00+02:00"`), &at))
}

func TestStartTimeAcceptsASAP(t *testing.T) {
	var st StartTime
	require.NoError(t, json.Unmarshal([]byte(`"asap"`), &st))
	assert.True(t, st.ASAP)

	require.NoError(t, json.Unmarshal([]byte(`"2099-01-01T00:00:00Z"`), &st))
	assert.False(t, st.ASAP)

	assert.Error(t, json.Unmarshal([]byte(`"2099-01-01T00:00:00"`), &st))
}

func TestStatusFilterScalarOrList(t *testing.T) {
	var req GetMediaBuyDeliveryRequest
	require.NoError(t, json.Unmarshal([]byte(`{"status_filter": "active"}`), &req))
	assert.Equal(t, StatusFilter{"active"}, req.StatusFilter)
	assert.Nil(t, req.Validate())

	require.NoError(t, json.Unmarshal([]byte(`{"status_filter": ["active", "paused"]}`), &req))
	assert.Len(t, req.StatusFilter, 2)
	assert.Nil(t, req.Validate())

	require.NoError(t, json.Unmarshal([]byte(`{"status_filter": ["bogus"]}`), &req))
	verr := req.Validate()
	require.NotNil(t, verr)
	assert.Equal(t, CodeValidation, verr.Code)
}

func TestTrackingURLLift(t *testing.T) {
	c := Creative{
		CreativeID: "cr_1",
		Name:       "banner",
		FormatID:   FormatID{AgentURL: "https://h", ID: "display_300x250"},
		Assets: map[string]Asset{
			"banner_image":         {URL: "https://cdn/banner.jpg", Width: 300, Height: 250},
			"impression_tracker_1": {URL: "https://t/1"},
			"impression_tracker_2": {URL: "https://t/2"},
		},
	}
	rendered := RenderForAdapter(c)

	require.NotNil(t, rendered.DeliverySettings)
	require.NotNil(t, rendered.DeliverySettings.TrackingURLs)
	assert.Equal(t, []string{"https://t/1", "https://t/2"}, rendered.DeliverySettings.TrackingURLs.Impression)

	// Original asset entries preserved.
	assert.Len(t, rendered.Assets, 3)
	assert.Equal(t, "https://cdn/banner.jpg", rendered.Assets["banner_image"].URL)
	// Input untouched.
	assert.Nil(t, c.DeliverySettings)
}

func TestTrackingURLLiftByURLType(t *testing.T) {
	c := Creative{
		CreativeID: "cr_2",
		Assets: map[string]Asset{
			"pixel": {URL: "https://t/3", URLType: URLTypeTrackerPixel},
		},
	}
	rendered := RenderForAdapter(c)
	require.NotNil(t, rendered.DeliverySettings)
	assert.Equal(t, []string{"https://t/3"}, rendered.DeliverySettings.TrackingURLs.Impression)
}
