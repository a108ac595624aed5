package net

import (
	"bytes"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/common"
	"tradecore/internal/matching"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestFrame_CommandRoundTrip(t *testing.T) {
	req := matching.SubmitOrderRequest{
		ClientOrderID: "cli-1",
		InstrumentID:  "BTC-USD",
		Side:          common.Buy,
		Type:          common.LimitOrder,
		TimeInForce:   common.GTC,
		LimitPrice:    dec("100.50"),
		StopPrice:     dec("0"),
		Size:          dec("1.25"),
		PostOnly:      true,
		ExpireTimeNs:  12345,
	}

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, NewOrder, EncodeNewOrder(req)))

	msgType, body, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, NewOrder, msgType)

	decoded, err := DecodeNewOrder(body)
	require.NoError(t, err)
	// Decimals travel in canonical string form ("100.50" -> "100.5"), so
	// compare them by value, then the rest of the struct field by field.
	assert.True(t, req.LimitPrice.Equal(decoded.LimitPrice))
	assert.True(t, req.StopPrice.Equal(decoded.StopPrice))
	assert.True(t, req.Size.Equal(decoded.Size))
	decoded.LimitPrice, decoded.StopPrice, decoded.Size = req.LimitPrice, req.StopPrice, req.Size
	assert.Equal(t, req, decoded)
}

func TestFrame_SplitsMultipleMessagesOnOneStream(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, CancelOrder, EncodeCancelOrder(matching.CancelOrderRequest{ClientOrderID: "a"})))
	require.NoError(t, WriteFrame(&buf, CancelOrder, EncodeCancelOrder(matching.CancelOrderRequest{ClientOrderID: "b"})))

	_, body1, err := ReadFrame(&buf)
	require.NoError(t, err)
	req1, err := DecodeCancelOrder(body1)
	require.NoError(t, err)
	assert.Equal(t, "a", req1.ClientOrderID)

	_, body2, err := ReadFrame(&buf)
	require.NoError(t, err)
	req2, err := DecodeCancelOrder(body2)
	require.NoError(t, err)
	assert.Equal(t, "b", req2.ClientOrderID)
}

func TestBracketOrder_RoundTrip(t *testing.T) {
	req := matching.SubmitBracketOrderRequest{
		Entry:      matching.SubmitOrderRequest{ClientOrderID: "e1", InstrumentID: "BTC-USD", Side: common.Buy, Type: common.MarketOrder, Size: dec("1")},
		StopLoss:   matching.SubmitOrderRequest{ClientOrderID: "sl1", InstrumentID: "BTC-USD", Side: common.Sell, Type: common.StopMarketOrder, StopPrice: dec("90"), Size: dec("1")},
		TakeProfit: matching.SubmitOrderRequest{ClientOrderID: "tp1", InstrumentID: "BTC-USD", Side: common.Sell, Type: common.LimitOrder, LimitPrice: dec("110"), Size: dec("1")},
	}

	decoded, err := DecodeNewBracketOrder(EncodeNewBracketOrder(req))
	require.NoError(t, err)
	// Unset decimals decode as an explicit zero, so compare decimals by
	// value, then the rest of each leg field by field.
	legs := [][2]*matching.SubmitOrderRequest{
		{&req.Entry, &decoded.Entry},
		{&req.StopLoss, &decoded.StopLoss},
		{&req.TakeProfit, &decoded.TakeProfit},
	}
	for _, leg := range legs {
		want, got := leg[0], leg[1]
		assert.True(t, want.LimitPrice.Equal(got.LimitPrice))
		assert.True(t, want.StopPrice.Equal(got.StopPrice))
		assert.True(t, want.Size.Equal(got.Size))
		got.LimitPrice, got.StopPrice, got.Size = want.LimitPrice, want.StopPrice, want.Size
	}
	assert.Equal(t, req, decoded)
}

func TestUpdateOrder_NilFieldsSurviveRoundTrip(t *testing.T) {
	req := matching.UpdateOrderRequest{ClientOrderID: "cli-1"}

	decoded, err := DecodeUpdateOrder(EncodeUpdateOrder(req))
	require.NoError(t, err)
	assert.Nil(t, decoded.NewLimitPrice)
	assert.Nil(t, decoded.NewSize)

	price := dec("99.5")
	size := dec("2")
	req.NewLimitPrice = &price
	req.NewSize = &size

	decoded, err = DecodeUpdateOrder(EncodeUpdateOrder(req))
	require.NoError(t, err)
	require.NotNil(t, decoded.NewLimitPrice)
	require.NotNil(t, decoded.NewSize)
	assert.True(t, price.Equal(*decoded.NewLimitPrice))
	assert.True(t, size.Equal(*decoded.NewSize))
}

func TestReportFrame_RoundTrip(t *testing.T) {
	fill := matching.FillEvent{
		ClientOrderID: "cli-1",
		VenueOrderID:  "v-1",
		ExecutionID:   "x-1",
		InstrumentID:  "BTC-USD",
		Price:         dec("100.25"),
		Quantity:      dec("0.5"),
		Commission:    dec("0.01"),
		CommissionCcy: "USD",
		IsMaker:       true,
	}

	reportType, body, err := EncodeReport(fill)
	require.NoError(t, err)
	assert.Equal(t, FillReport, reportType)

	var buf bytes.Buffer
	require.NoError(t, WriteReportFrame(&buf, reportType, body))

	gotType, gotBody, err := ReadReportFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, FillReport, gotType)

	decoded, err := DecodeFillReport(gotBody)
	require.NoError(t, err)
	assert.Equal(t, fill.ClientOrderID, decoded.ClientOrderID)
	assert.True(t, fill.Price.Equal(decoded.Price))
	assert.True(t, fill.Quantity.Equal(decoded.Quantity))
	assert.Equal(t, fill.CommissionCcy, decoded.CommissionCcy)
}

func TestReportFrame_SplitsMultipleReportsOnOneStream(t *testing.T) {
	var buf bytes.Buffer
	ackType, ackBody, err := EncodeReport(matching.AckEvent{ClientOrderID: "a", Accepted: true, VenueOrderID: "v1"})
	require.NoError(t, err)
	require.NoError(t, WriteReportFrame(&buf, ackType, ackBody))

	statusType, statusBody, err := EncodeReport(matching.OrderStatusEvent{ClientOrderID: "a", Status: "canceled", Reason: "user requested"})
	require.NoError(t, err)
	require.NoError(t, WriteReportFrame(&buf, statusType, statusBody))

	gotType1, gotBody1, err := ReadReportFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, AckReport, gotType1)
	ack, err := DecodeAckReport(gotBody1)
	require.NoError(t, err)
	assert.True(t, ack.Accepted)

	gotType2, gotBody2, err := ReadReportFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, OrderStatusReport, gotType2)
	status, err := DecodeOrderStatusReport(gotBody2)
	require.NoError(t, err)
	assert.Equal(t, "canceled", status.Status)
}
