package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tradecore/internal/common"
	"tradecore/internal/matching"
	tradecorenet "tradecore/internal/net"
)

func main() {
	serverAddr := flag.String("server", "127.0.0.1:9001", "address of the exchange session")
	action := flag.String("action", "place", "action to perform: ['place', 'cancel', 'update', 'log']")

	instrument := flag.String("instrument", "BTC-USD", "instrument id")
	sideStr := flag.String("side", "buy", "order side: 'buy' or 'sell'")
	typeStr := flag.String("type", "limit", "order type: 'limit', 'market', 'stop_market' or 'stop_limit'")
	tifStr := flag.String("tif", "gtc", "time in force: 'gtc', 'gtd', 'ioc' or 'fok'")
	price := flag.String("price", "0", "limit price")
	stopPrice := flag.String("stop-price", "0", "stop price")
	qtyStr := flag.String("qty", "1", "order size, or comma-separated list (e.g. 1,2,0.5)")
	clientOrderID := flag.String("id", "", "client order id (generated if empty)")

	cancelID := flag.String("cancel-id", "", "client order id to cancel or update")
	newPrice := flag.String("new-price", "", "new limit price for -action update")
	newSize := flag.String("new-size", "", "new size for -action update")

	flag.Parse()

	conn, err := net.Dial("tcp", *serverAddr)
	if err != nil {
		log.Fatalf("failed to connect to %s: %v", *serverAddr, err)
	}
	defer conn.Close()
	fmt.Printf("connected to %s\n", *serverAddr)

	go readReports(conn)

	side := common.Buy
	if strings.ToLower(*sideStr) == "sell" {
		side = common.Sell
	}

	var orderType common.OrderType
	switch strings.ToLower(*typeStr) {
	case "market":
		orderType = common.MarketOrder
	case "stop_market":
		orderType = common.StopMarketOrder
	case "stop_limit":
		orderType = common.StopLimitOrder
	default:
		orderType = common.LimitOrder
	}

	var tif common.TimeInForce
	switch strings.ToLower(*tifStr) {
	case "gtd":
		tif = common.GTD
	case "ioc":
		tif = common.IOC
	case "fok":
		tif = common.FOK
	default:
		tif = common.GTC
	}

	switch strings.ToLower(*action) {
	case "place":
		for i, qty := range parseQuantities(*qtyStr) {
			id := *clientOrderID
			if id == "" {
				id = fmt.Sprintf("cli-%d-%d", time.Now().UnixNano(), i)
			}
			req := matching.SubmitOrderRequest{
				ClientOrderID: id,
				InstrumentID:  *instrument,
				Side:          side,
				Type:          orderType,
				TimeInForce:   tif,
				LimitPrice:    decOrZero(*price),
				StopPrice:     decOrZero(*stopPrice),
				Size:          decOrZero(qty),
			}
			if err := tradecorenet.WriteFrame(conn, tradecorenet.NewOrder, tradecorenet.EncodeNewOrder(req)); err != nil {
				log.Printf("failed to place order: %v", err)
			} else {
				fmt.Printf("-> sent %s %s order: %s qty %s @ %s\n", strings.ToUpper(*sideStr), strings.ToUpper(*typeStr), *instrument, qty, *price)
			}
			time.Sleep(5 * time.Millisecond)
		}
	case "cancel":
		if *cancelID == "" {
			log.Fatal("error: -cancel-id is required for cancel")
		}
		req := matching.CancelOrderRequest{ClientOrderID: *cancelID}
		if err := tradecorenet.WriteFrame(conn, tradecorenet.CancelOrder, tradecorenet.EncodeCancelOrder(req)); err != nil {
			log.Printf("failed to send cancel: %v", err)
		} else {
			fmt.Printf("-> sent cancel for %s\n", *cancelID)
		}
	case "update":
		if *cancelID == "" {
			log.Fatal("error: -cancel-id is required for update")
		}
		req := matching.UpdateOrderRequest{ClientOrderID: *cancelID}
		if *newPrice != "" {
			p := decOrZero(*newPrice)
			req.NewLimitPrice = &p
		}
		if *newSize != "" {
			sz := decOrZero(*newSize)
			req.NewSize = &sz
		}
		if err := tradecorenet.WriteFrame(conn, tradecorenet.UpdateOrder, tradecorenet.EncodeUpdateOrder(req)); err != nil {
			log.Printf("failed to send update: %v", err)
		} else {
			fmt.Printf("-> sent update for %s\n", *cancelID)
		}
	case "log":
		if err := tradecorenet.WriteFrame(conn, tradecorenet.LogBook, tradecorenet.EncodeLogBook(*instrument)); err != nil {
			log.Printf("failed to send log request: %v", err)
		} else {
			fmt.Printf("-> sent log book request for %s\n", *instrument)
		}
	default:
		log.Fatalf("unknown action: %s", *action)
	}

	fmt.Println("\nlistening for reports... (press ctrl+c to exit)")
	select {}
}

func decOrZero(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseQuantities(input string) []string {
	var out []string
	for _, p := range strings.Split(input, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, err := strconv.ParseFloat(p, 64); err != nil {
			log.Printf("warning: invalid quantity %q, skipping", p)
			continue
		}
		out = append(out, p)
	}
	return out
}

// readReports continuously reads and prints report frames from the
// server, one length-prefixed frame at a time.
func readReports(conn net.Conn) {
	for {
		reportType, body, err := tradecorenet.ReadReportFrame(conn)
		if err != nil {
			log.Printf("connection lost: %v", err)
			os.Exit(0)
		}
		printReport(reportType, body)
	}
}

func printReport(reportType tradecorenet.ReportMessageType, body []byte) {
	switch reportType {
	case tradecorenet.AckReport:
		f, err := tradecorenet.DecodeAckReport(body)
		if err != nil {
			log.Printf("malformed ack report: %v", err)
			return
		}
		if f.Accepted {
			fmt.Printf("\n[ACK] %s accepted as %s\n", f.ClientOrderID, f.VenueOrderID)
		} else {
			fmt.Printf("\n[ACK] %s rejected: %s\n", f.ClientOrderID, f.Reason)
		}
	case tradecorenet.FillReport:
		f, err := tradecorenet.DecodeFillReport(body)
		if err != nil {
			log.Printf("malformed fill report: %v", err)
			return
		}
		fmt.Printf("\n[FILL] %s %s qty %s @ %s (commission %s)\n", f.ClientOrderID, f.InstrumentID, f.Quantity, f.Price, f.Commission)
	case tradecorenet.OrderStatusReport:
		f, err := tradecorenet.DecodeOrderStatusReport(body)
		if err != nil {
			log.Printf("malformed order status report: %v", err)
			return
		}
		fmt.Printf("\n[STATUS] %s -> %s %s\n", f.ClientOrderID, f.Status, f.Reason)
	case tradecorenet.PositionReport:
		f, err := tradecorenet.DecodePositionReport(body)
		if err != nil {
			log.Printf("malformed position report: %v", err)
			return
		}
		fmt.Printf("\n[POSITION] %s size %s avg %s pnl %s\n", f.InstrumentID, f.Size, f.AvgPrice, f.RealizedPnL)
	case tradecorenet.AccountReport:
		f, err := tradecorenet.DecodeAccountReport(body)
		if err != nil {
			log.Printf("malformed account report: %v", err)
			return
		}
		fmt.Printf("\n[ACCOUNT] %s total %s free %s locked %s\n", f.Currency, f.Total, f.Free, f.Locked)
	case tradecorenet.LogBookReport:
		text, err := tradecorenet.DecodeLogBookReport(body)
		if err != nil {
			log.Printf("malformed log book report: %v", err)
			return
		}
		fmt.Printf("\n[BOOK]\n%s\n", text)
	case tradecorenet.ErrorReport:
		msg, err := tradecorenet.DecodeErrorReport(body)
		if err != nil {
			log.Printf("malformed error report: %v", err)
			return
		}
		fmt.Printf("\n[SERVER ERROR] %s\n", msg)
	}
}
