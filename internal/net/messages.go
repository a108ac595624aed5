package net

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/shopspring/decimal"

	"tradecore/internal/common"
	"tradecore/internal/matching"
)

// MessageType tags an inbound client->server frame, generalized from
// the teacher's fixed-layout NewOrder/CancelOrder pair to also carry
// bracket and OCO submissions and order updates (spec.md §4.3, §6).
type MessageType uint16

const (
	Heartbeat MessageType = iota
	NewOrder
	NewBracketOrder
	NewOCOOrder
	UpdateOrder
	CancelOrder
	LogBook
)

// ReportMessageType tags an outbound server->client frame. One report
// kind per matching.Event variant, plus ErrorReport for session-level
// failures the teacher's original ReportError covered.
type ReportMessageType uint8

const (
	AckReport ReportMessageType = iota
	FillReport
	OrderStatusReport
	PositionReport
	AccountReport
	LogBookReport
	ErrorReport
)

// Unlike the teacher's fixed-offset byte layout (a float64 price could
// only ever be 8 bytes), decimal.Decimal values are variable-length
// strings, so every frame here is length-prefixed: a 4-byte body
// length, a 2-byte type, then the type's fields in order, each string
// or decimal preceded by its own 2-byte length.

// WriteFrame writes a length-prefixed message: [len uint32][type uint16][body].
func WriteFrame(w io.Writer, msgType MessageType, body []byte) error {
	header := make([]byte, 6)
	binary.BigEndian.PutUint32(header[0:4], uint32(len(body)+2))
	binary.BigEndian.PutUint16(header[4:6], uint16(msgType))
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

// ReadFrame reads one length-prefixed message and splits out its type.
func ReadFrame(r io.Reader) (MessageType, []byte, error) {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return 0, nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf)
	if n < 2 {
		return 0, nil, fmt.Errorf("net: frame too short (%d bytes)", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, nil, err
	}
	msgType := MessageType(binary.BigEndian.Uint16(buf[0:2]))
	return msgType, buf[2:], nil
}

// WriteReportFrame writes a length-prefixed report: [len uint32][type uint8][body].
// Reports need their own frame (rather than reusing WriteFrame's 2-byte
// type) because a server->client stream can carry many reports back to
// back and the client has no other way to find each one's boundary.
func WriteReportFrame(w io.Writer, reportType ReportMessageType, body []byte) error {
	header := make([]byte, 5)
	binary.BigEndian.PutUint32(header[0:4], uint32(len(body)+1))
	header[4] = byte(reportType)
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

// ReadReportFrame reads one length-prefixed report and splits out its type.
func ReadReportFrame(r io.Reader) (ReportMessageType, []byte, error) {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return 0, nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf)
	if n < 1 {
		return 0, nil, fmt.Errorf("net: report frame too short (%d bytes)", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, nil, err
	}
	return ReportMessageType(buf[0]), buf[1:], nil
}

func writeString(buf *bytes.Buffer, s string) {
	var lenBytes [2]byte
	binary.BigEndian.PutUint16(lenBytes[:], uint16(len(s)))
	buf.Write(lenBytes[:])
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	var lenBytes [2]byte
	if _, err := io.ReadFull(r, lenBytes[:]); err != nil {
		return "", err
	}
	n := binary.BigEndian.Uint16(lenBytes[:])
	out := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, out); err != nil {
			return "", err
		}
	}
	return string(out), nil
}

func writeDecimal(buf *bytes.Buffer, d decimal.Decimal) {
	writeString(buf, d.String())
}

func readDecimal(r *bytes.Reader) (decimal.Decimal, error) {
	s, err := readString(r)
	if err != nil {
		return decimal.Zero, err
	}
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func writeBool(buf *bytes.Buffer, b bool) {
	if b {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

func readBool(r *bytes.Reader) (bool, error) {
	b, err := r.ReadByte()
	return b == 1, err
}

func writeInt64(buf *bytes.Buffer, v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	buf.Write(b[:])
}

func readInt64(r *bytes.Reader) (int64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b[:])), nil
}

func encodeOrderRequest(buf *bytes.Buffer, req matching.SubmitOrderRequest) {
	writeString(buf, req.ClientOrderID)
	writeString(buf, req.InstrumentID)
	buf.WriteByte(byte(req.Side))
	buf.WriteByte(byte(req.Type))
	buf.WriteByte(byte(req.TimeInForce))
	writeDecimal(buf, req.LimitPrice)
	writeDecimal(buf, req.StopPrice)
	writeDecimal(buf, req.Size)
	writeBool(buf, req.PostOnly)
	writeBool(buf, req.ReduceOnly)
	writeInt64(buf, req.ExpireTimeNs)
}

func decodeOrderRequest(r *bytes.Reader) (matching.SubmitOrderRequest, error) {
	var req matching.SubmitOrderRequest
	var err error
	if req.ClientOrderID, err = readString(r); err != nil {
		return req, err
	}
	if req.InstrumentID, err = readString(r); err != nil {
		return req, err
	}
	sideByte, err := r.ReadByte()
	if err != nil {
		return req, err
	}
	req.Side = common.Side(sideByte)
	typeByte, err := r.ReadByte()
	if err != nil {
		return req, err
	}
	req.Type = common.OrderType(typeByte)
	tifByte, err := r.ReadByte()
	if err != nil {
		return req, err
	}
	req.TimeInForce = common.TimeInForce(tifByte)
	if req.LimitPrice, err = readDecimal(r); err != nil {
		return req, err
	}
	if req.StopPrice, err = readDecimal(r); err != nil {
		return req, err
	}
	if req.Size, err = readDecimal(r); err != nil {
		return req, err
	}
	if req.PostOnly, err = readBool(r); err != nil {
		return req, err
	}
	if req.ReduceOnly, err = readBool(r); err != nil {
		return req, err
	}
	if req.ExpireTimeNs, err = readInt64(r); err != nil {
		return req, err
	}
	return req, nil
}

// EncodeNewOrder serializes a single-leg order submission.
func EncodeNewOrder(req matching.SubmitOrderRequest) []byte {
	var buf bytes.Buffer
	encodeOrderRequest(&buf, req)
	return buf.Bytes()
}

// DecodeNewOrder parses a NewOrder frame body.
func DecodeNewOrder(body []byte) (matching.SubmitOrderRequest, error) {
	return decodeOrderRequest(bytes.NewReader(body))
}

// EncodeNewBracketOrder serializes an entry plus its stop-loss/take-profit siblings.
func EncodeNewBracketOrder(req matching.SubmitBracketOrderRequest) []byte {
	var buf bytes.Buffer
	encodeOrderRequest(&buf, req.Entry)
	encodeOrderRequest(&buf, req.StopLoss)
	encodeOrderRequest(&buf, req.TakeProfit)
	return buf.Bytes()
}

// DecodeNewBracketOrder parses a NewBracketOrder frame body.
func DecodeNewBracketOrder(body []byte) (matching.SubmitBracketOrderRequest, error) {
	r := bytes.NewReader(body)
	var req matching.SubmitBracketOrderRequest
	var err error
	if req.Entry, err = decodeOrderRequest(r); err != nil {
		return req, err
	}
	if req.StopLoss, err = decodeOrderRequest(r); err != nil {
		return req, err
	}
	req.TakeProfit, err = decodeOrderRequest(r)
	return req, err
}

// EncodeNewOCOOrder serializes two independently-submitted, linked legs.
func EncodeNewOCOOrder(req matching.SubmitOCOOrderRequest) []byte {
	var buf bytes.Buffer
	encodeOrderRequest(&buf, req.A)
	encodeOrderRequest(&buf, req.B)
	return buf.Bytes()
}

// DecodeNewOCOOrder parses a NewOCOOrder frame body.
func DecodeNewOCOOrder(body []byte) (matching.SubmitOCOOrderRequest, error) {
	r := bytes.NewReader(body)
	var req matching.SubmitOCOOrderRequest
	var err error
	if req.A, err = decodeOrderRequest(r); err != nil {
		return req, err
	}
	req.B, err = decodeOrderRequest(r)
	return req, err
}

// EncodeUpdateOrder serializes a replace request. A nil pointer is
// flagged with a leading zero byte so the decoder leaves it nil.
func EncodeUpdateOrder(req matching.UpdateOrderRequest) []byte {
	var buf bytes.Buffer
	writeString(&buf, req.ClientOrderID)
	if req.NewLimitPrice != nil {
		writeBool(&buf, true)
		writeDecimal(&buf, *req.NewLimitPrice)
	} else {
		writeBool(&buf, false)
	}
	if req.NewSize != nil {
		writeBool(&buf, true)
		writeDecimal(&buf, *req.NewSize)
	} else {
		writeBool(&buf, false)
	}
	return buf.Bytes()
}

// DecodeUpdateOrder parses an UpdateOrder frame body.
func DecodeUpdateOrder(body []byte) (matching.UpdateOrderRequest, error) {
	r := bytes.NewReader(body)
	var req matching.UpdateOrderRequest
	var err error
	if req.ClientOrderID, err = readString(r); err != nil {
		return req, err
	}
	hasPrice, err := readBool(r)
	if err != nil {
		return req, err
	}
	if hasPrice {
		p, err := readDecimal(r)
		if err != nil {
			return req, err
		}
		req.NewLimitPrice = &p
	}
	hasSize, err := readBool(r)
	if err != nil {
		return req, err
	}
	if hasSize {
		s, err := readDecimal(r)
		if err != nil {
			return req, err
		}
		req.NewSize = &s
	}
	return req, nil
}

// EncodeCancelOrder serializes a cancel request.
func EncodeCancelOrder(req matching.CancelOrderRequest) []byte {
	var buf bytes.Buffer
	writeString(&buf, req.ClientOrderID)
	return buf.Bytes()
}

// DecodeCancelOrder parses a CancelOrder frame body.
func DecodeCancelOrder(body []byte) (matching.CancelOrderRequest, error) {
	r := bytes.NewReader(body)
	clientOrderID, err := readString(r)
	return matching.CancelOrderRequest{ClientOrderID: clientOrderID}, err
}

// EncodeLogBook serializes a log-book request naming one instrument;
// an empty string asks for every instrument, as the teacher's original
// parameterless LogBook() did unconditionally.
func EncodeLogBook(instrumentID string) []byte {
	var buf bytes.Buffer
	writeString(&buf, instrumentID)
	return buf.Bytes()
}

// DecodeLogBook parses a LogBook frame body.
func DecodeLogBook(body []byte) (string, error) {
	return readString(bytes.NewReader(body))
}

// EncodeReport serializes one matching.Event as its wire report,
// dispatching on the concrete type the event channel carries.
func EncodeReport(e matching.Event) (ReportMessageType, []byte, error) {
	var buf bytes.Buffer
	switch ev := e.(type) {
	case matching.AckEvent:
		writeString(&buf, ev.ClientOrderID)
		writeString(&buf, ev.VenueOrderID)
		writeBool(&buf, ev.Accepted)
		writeString(&buf, ev.Reason)
		return AckReport, buf.Bytes(), nil
	case matching.FillEvent:
		writeString(&buf, ev.ClientOrderID)
		writeString(&buf, ev.VenueOrderID)
		writeString(&buf, ev.ExecutionID)
		writeString(&buf, ev.InstrumentID)
		writeDecimal(&buf, ev.Price)
		writeDecimal(&buf, ev.Quantity)
		writeDecimal(&buf, ev.Commission)
		writeString(&buf, ev.CommissionCcy)
		writeBool(&buf, ev.IsMaker)
		return FillReport, buf.Bytes(), nil
	case matching.OrderStatusEvent:
		writeString(&buf, ev.ClientOrderID)
		writeString(&buf, ev.VenueOrderID)
		writeString(&buf, ev.Status)
		writeString(&buf, ev.Reason)
		return OrderStatusReport, buf.Bytes(), nil
	case matching.PositionEvent:
		writeString(&buf, ev.InstrumentID)
		writeDecimal(&buf, ev.Size)
		writeDecimal(&buf, ev.AvgPrice)
		writeDecimal(&buf, ev.RealizedPnL)
		return PositionReport, buf.Bytes(), nil
	case matching.AccountStateEvent:
		writeString(&buf, ev.Currency)
		writeDecimal(&buf, ev.Total)
		writeDecimal(&buf, ev.Free)
		writeDecimal(&buf, ev.Locked)
		return AccountReport, buf.Bytes(), nil
	default:
		return 0, nil, fmt.Errorf("net: unknown event type %T", e)
	}
}

// The *ReportFields types are the client-side decoded shape of each
// report, mirroring the matching.Event variants above without forcing
// the client binary to import the matching package.

type AckReportFields struct {
	ClientOrderID, VenueOrderID string
	Accepted                    bool
	Reason                      string
}

type FillReportFields struct {
	ClientOrderID, VenueOrderID, ExecutionID, InstrumentID string
	Price, Quantity, Commission                            decimal.Decimal
	CommissionCcy                                           string
	IsMaker                                                 bool
}

type OrderStatusReportFields struct {
	ClientOrderID, VenueOrderID, Status, Reason string
}

type PositionReportFields struct {
	InstrumentID                string
	Size, AvgPrice, RealizedPnL decimal.Decimal
}

type AccountReportFields struct {
	Currency            string
	Total, Free, Locked decimal.Decimal
}

func DecodeAckReport(body []byte) (AckReportFields, error) {
	r := bytes.NewReader(body)
	var f AckReportFields
	var err error
	if f.ClientOrderID, err = readString(r); err != nil {
		return f, err
	}
	if f.VenueOrderID, err = readString(r); err != nil {
		return f, err
	}
	if f.Accepted, err = readBool(r); err != nil {
		return f, err
	}
	f.Reason, err = readString(r)
	return f, err
}

func DecodeFillReport(body []byte) (FillReportFields, error) {
	r := bytes.NewReader(body)
	var f FillReportFields
	var err error
	if f.ClientOrderID, err = readString(r); err != nil {
		return f, err
	}
	if f.VenueOrderID, err = readString(r); err != nil {
		return f, err
	}
	if f.ExecutionID, err = readString(r); err != nil {
		return f, err
	}
	if f.InstrumentID, err = readString(r); err != nil {
		return f, err
	}
	if f.Price, err = readDecimal(r); err != nil {
		return f, err
	}
	if f.Quantity, err = readDecimal(r); err != nil {
		return f, err
	}
	if f.Commission, err = readDecimal(r); err != nil {
		return f, err
	}
	if f.CommissionCcy, err = readString(r); err != nil {
		return f, err
	}
	f.IsMaker, err = readBool(r)
	return f, err
}

func DecodeOrderStatusReport(body []byte) (OrderStatusReportFields, error) {
	r := bytes.NewReader(body)
	var f OrderStatusReportFields
	var err error
	if f.ClientOrderID, err = readString(r); err != nil {
		return f, err
	}
	if f.VenueOrderID, err = readString(r); err != nil {
		return f, err
	}
	if f.Status, err = readString(r); err != nil {
		return f, err
	}
	f.Reason, err = readString(r)
	return f, err
}

func DecodePositionReport(body []byte) (PositionReportFields, error) {
	r := bytes.NewReader(body)
	var f PositionReportFields
	var err error
	if f.InstrumentID, err = readString(r); err != nil {
		return f, err
	}
	if f.Size, err = readDecimal(r); err != nil {
		return f, err
	}
	if f.AvgPrice, err = readDecimal(r); err != nil {
		return f, err
	}
	f.RealizedPnL, err = readDecimal(r)
	return f, err
}

func DecodeAccountReport(body []byte) (AccountReportFields, error) {
	r := bytes.NewReader(body)
	var f AccountReportFields
	var err error
	if f.Currency, err = readString(r); err != nil {
		return f, err
	}
	if f.Total, err = readDecimal(r); err != nil {
		return f, err
	}
	if f.Free, err = readDecimal(r); err != nil {
		return f, err
	}
	f.Locked, err = readDecimal(r)
	return f, err
}

// EncodeErrorReport serializes a session-level error unrelated to any
// single order (malformed frame, unknown instrument on LogBook, ...).
func EncodeErrorReport(msg string) []byte {
	var buf bytes.Buffer
	writeString(&buf, msg)
	return buf.Bytes()
}

func DecodeErrorReport(body []byte) (string, error) {
	return readString(bytes.NewReader(body))
}

// EncodeLogBookReport serializes the plain-text book dump LogBook asked for.
func EncodeLogBookReport(text string) []byte {
	var buf bytes.Buffer
	writeString(&buf, text)
	return buf.Bytes()
}

func DecodeLogBookReport(body []byte) (string, error) {
	return readString(bytes.NewReader(body))
}
