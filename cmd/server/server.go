package main

import (
	"context"
	"flag"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"tradecore/internal/book"
	"tradecore/internal/cache"
	"tradecore/internal/fillmodel"
	"tradecore/internal/matching"
	"tradecore/internal/net"
	"tradecore/internal/server"
)

func main() {
	address := flag.String("address", "0.0.0.0", "bind address")
	port := flag.Int("port", 9001, "bind port")
	traderID := flag.String("trader", "trader1", "trader identity this session's cache streams are namespaced under")
	instruments := flag.String("instruments", "BTC-USD", "comma-separated list of instrument ids to run a book for")
	currency := flag.String("currency", "USD", "quote currency all instruments settle in")
	redisAddr := flag.String("redis", "127.0.0.1:6379", "redis address backing the event-sourced cache")
	redisPassword := flag.String("redis-password", "", "redis password")
	redisDB := flag.Int("redis-db", 0, "redis logical database")
	commissionRate := flag.String("commission", "0", "flat commission rate applied to every fill's notional")
	probFillAtLimit := flag.Float64("prob-fill-at-limit", 1, "probability a resting limit fills when the top trades at its price")
	probSlippage := flag.Float64("prob-slippage", 0, "probability an aggressive order slips by one tick")
	randomSeed := flag.Int64("seed", 1, "fill model random seed")
	flag.Parse()

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer stop()

	rate, err := decimal.NewFromString(*commissionRate)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid -commission")
	}

	var instrumentConfigs []matching.InstrumentConfig
	for _, id := range strings.Split(*instruments, ",") {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		instrumentConfigs = append(instrumentConfigs, matching.InstrumentConfig{
			InstrumentID:   id,
			Level:          book.L3,
			PricePrecision: 2,
			SizePrecision:  8,
			TickSize:       decimal.NewFromFloat(0.01),
			Currency:       *currency,
		})
	}

	fm, err := fillmodel.New(fillmodel.Config{
		ProbFillAtLimit: *probFillAtLimit,
		ProbSlippage:    *probSlippage,
		RandomSeed:      *randomSeed,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("invalid fill model configuration")
	}

	exchange, err := matching.New(matching.Config{
		Instruments:    instrumentConfigs,
		FillModel:      fm,
		Rates:          matching.FixedRateCalculator{},
		CommissionRate: rate,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("unable to construct simulated exchange")
	}

	store, err := cache.NewRedisStore(ctx, *redisAddr, *redisPassword, *redisDB)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to connect to cache store")
	}
	defer store.Close()
	durable := cache.New(store)

	session := server.NewSession(*traderID, exchange, durable)
	session.Start()
	defer session.Stop()

	srv := net.New(*address, *port, session)

	go srv.Run(ctx)
	log.Info().Str("trader", *traderID).Strs("instruments", strings.Split(*instruments, ",")).Msg("exchange session running")
	<-ctx.Done()
}
