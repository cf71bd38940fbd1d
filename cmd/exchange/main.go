// Command exchange wires the matching engine (C3), event bus (C4), store
// (C5), market broadcaster (C6), and batch builder (C7) into one running
// process, the same minimal composition root shape the teacher uses in its
// cmd/main.go. It is illustrative, not a production entrypoint: the
// REST/WebSocket transport, auth, settlement adapter, and config loading
// named out of scope in spec.md §1 are not implemented here — Place is
// driven by two example intents so the wiring can be read top to bottom.
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"clobcore/internal/batch"
	"clobcore/internal/broadcaster"
	"clobcore/internal/engine"
	"clobcore/internal/events"
	"clobcore/internal/settlement"
	"clobcore/internal/store"
	"clobcore/internal/types"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

// loggingAdapter stands in for the out-of-scope on-chain settlement
// adapter (spec.md §1): it accepts every batch and logs it instead of
// actually broadcasting a transaction.
type loggingAdapter struct{}

func (loggingAdapter) SubmitBatch(_ context.Context, req settlement.SubmitBatchRequest) error {
	log.Info().Str("batch_id", req.BatchID).Int("trades", len(req.Trades)).Msg("settlement adapter stub: accepting batch")
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	pairs := []types.Pair{
		types.NewPair("ETH", "USDC"),
		types.NewPair("BTC", "USDC"),
	}
	configs := make([]engine.MarketConfig, len(pairs))
	for i, p := range pairs {
		configs[i] = engine.MarketConfig{Pair: p, Fees: engine.MakerTakerFeePolicy{TakerRate: mustRate("0.001")}}
	}

	bus := events.NewBus()
	st := store.NewInMemoryStore()
	eng := engine.NewEngine(bus, st, configs)

	t := new(tomb.Tomb)
	eng.Start()
	defer func() {
		if err := eng.Stop(); err != nil {
			log.Error().Err(err).Msg("engine shutdown error")
		}
	}()

	writer := store.NewWriter(bus, st, eng)
	writer.Start(t)

	bcast := broadcaster.New(bus, eng, 5*time.Second)
	bcast.Start(t)

	builder := batch.New(bus, st, loggingAdapter{}, batch.Config{
		SizeThreshold: 50,
		TimeWindow:    5 * time.Second,
		Rebatch:       batch.MaxAttemptsRebatch{Max: 3},
	})
	builder.Start(t)

	seedExampleOrders(ctx, eng, pairs[0])

	log.Info().Msg("exchange core running; press ctrl-c to exit")
	<-ctx.Done()

	t.Kill(nil)
	if err := t.Wait(); err != nil {
		log.Error().Err(err).Msg("background workers exited with error")
	}
}

// seedExampleOrders places spec.md §8 scenario S1 so a fresh process has
// something to show on its book and trade feed immediately.
func seedExampleOrders(ctx context.Context, eng *engine.Engine, pair types.Pair) {
	now := time.Now().UnixMilli()
	buy := eng.Place(ctx, engine.PlaceIntent{
		ID: "seed-buy", UserID: "seed-user-1", Pair: pair,
		Side: types.Buy, Type: types.LimitOrder, Price: "2000", Amount: "1",
	}, now)
	if buy.Err != nil {
		log.Warn().Err(buy.Err).Msg("seed buy order rejected")
		return
	}
	sell := eng.Place(ctx, engine.PlaceIntent{
		ID: "seed-sell", UserID: "seed-user-2", Pair: pair,
		Side: types.Sell, Type: types.LimitOrder, Price: "2000", Amount: "1",
	}, now+1)
	if sell.Err != nil {
		log.Warn().Err(sell.Err).Msg("seed sell order rejected")
	}
}

func mustRate(s string) types.Decimal {
	d, err := types.ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return d
}
