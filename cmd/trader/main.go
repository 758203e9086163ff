package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"main/internal/feed"
	"main/internal/ingest"
	"main/internal/og"
	"main/internal/ops"
	"main/internal/order"
	"main/internal/order/delegator/coinbase"
	"main/internal/risk"
	"main/internal/strategy"
)

func main() {
	configPath := flag.String("config", "config.json", "Path to JSON config")
	pairName := flag.String("pair", "", "Pair to trade (must be listed in the config)")
	sizeFlag := flag.String("size", "", "Signed order size; positive buys, negative sells")
	kindFlag := flag.String("strategy", "follow", "Strategy kind: simple or follow")
	initTimeout := flag.Duration("init-timeout", 30*time.Second, "Max wait for the first book snapshot")
	drainTimeout := flag.Duration("drain-timeout", 30*time.Second, "Max wait for in-flight orders on shutdown")
	pyroscopeAddr := flag.String("pyroscope", "", "Pyroscope server address (empty disables profiling)")
	flag.Parse()

	if *pyroscopeAddr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "trader",
			ServerAddress:   *pyroscopeAddr,
			Tags: map[string]string{
				"env": "local",
			},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			logs.Errorf("pyroscope start failed: %+v", err)
			os.Exit(1)
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, *pairName, *sizeFlag, *kindFlag, *initTimeout, *drainTimeout); err != nil {
		logs.Errorf("trader: %+v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, pairName, sizeFlag, kindFlag string, initTimeout, drainTimeout time.Duration) error {
	loaded, err := ops.Load(configPath)
	if err != nil {
		return err
	}

	pair, ok := loaded.FindPair(pairName)
	if !ok {
		logs.Errorf("pair %q is not in the config", pairName)
		os.Exit(2)
	}

	size, err := decimal.NewFromString(sizeFlag)
	if err != nil || size.IsZero() {
		logs.Errorf("size %q must be a nonzero decimal", sizeFlag)
		os.Exit(2)
	}

	kind := strategy.ParseKind(kindFlag)
	if kind == strategy.KindUnknown {
		logs.Errorf("unknown strategy %q", kindFlag)
		os.Exit(2)
	}

	delegator := coinbase.NewDelegator(coinbase.Option{
		BaseURL:    loaded.Exchange.RestURL,
		Key:        loaded.Exchange.Key,
		Secret:     loaded.Exchange.Secret,
		Passphrase: loaded.Exchange.Passphrase,
	})

	tracker := og.NewTracker(pair.SizeIncrement)
	riskEngine := risk.NewEngine(loaded.Risk)

	mux := feed.NewMux()
	pairNames := make([]string, 0, len(loaded.Pairs))
	for _, p := range loaded.Pairs {
		mux.Register(feed.NewProcessor(p.Name, delegator, tracker, feed.Option{}))
		pairNames = append(pairNames, p.Name)
	}
	go mux.Run(ctx)

	orders := order.NewUsecase(delegator, riskEngine, tracker, mux, order.Option{})
	orders.Run(ctx)

	stream := ingest.NewCoinbase(ctx, loaded.Exchange.Sandbox, pairNames)
	if err := stream.StartWebsocket(ctx); err != nil {
		return err
	}
	defer stream.Close()
	if err := stream.SubscribeFull(ctx); err != nil {
		return err
	}
	unsubscribe := stream.ObserveMessages(ctx, mux)
	defer unsubscribe()

	proc, _ := mux.Get(pair.Name)
	if err := awaitInitialized(ctx, proc, initTimeout); err != nil {
		return err
	}

	engine := strategy.NewEngine(pair.Name, proc, tracker, orders, strategy.Option{
		Interval:      loaded.TickInterval,
		SizeIncrement: pair.SizeIncrement,
	})
	handle, err := engine.AddStrategy(ctx, kind, size)
	if err != nil {
		return err
	}
	go engine.Run(ctx)

	poll := time.NewTicker(500 * time.Millisecond)
	defer poll.Stop()
	for !engine.IsComplete(handle) {
		select {
		case <-ctx.Done():
			logs.Info("shutting down, draining in-flight orders")
			if err := orders.Shutdown(drainTimeout); err != nil {
				logs.Errorf("drain: %+v", err)
			}
			return nil
		case <-poll.C:
		}
	}

	logs.Infof("strategy %s complete", handle)
	if err := orders.Shutdown(drainTimeout); err != nil {
		logs.Errorf("drain: %+v", err)
	}
	return nil
}

// awaitInitialized blocks until the processor loads its first
// snapshot. The snapshot fetch is triggered by the first feed message,
// so the websocket must already be subscribed.
func awaitInitialized(ctx context.Context, proc *feed.Processor, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	notices, unsubscribe := proc.Notices().Subscribe(16)
	defer unsubscribe()

	if proc.IsInitialized() {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n := <-notices:
			if n.Kind == feed.NoticeInitialized {
				logs.Infof("book initialized for %s at sequence %d", proc.Pair(), proc.Sequence())
				return nil
			}
		}
	}
}
