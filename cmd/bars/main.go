package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/bars"
	"main/internal/ops"
	"main/pkg/conn"
)

func main() {
	configPath := flag.String("config", "config.json", "Path to JSON config")
	pairName := flag.String("pair", "", "Pair to fetch history for")
	days := flag.Int("days", 7, "How many days of history to fetch")
	granularity := flag.Int("granularity", 3600, "Candle width in seconds")
	useCache := flag.Bool("cache", true, "Cache bars in postgres")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, *pairName, *days, *granularity, *useCache); err != nil {
		logs.Errorf("bars: %+v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, pairName string, days, granularity int, useCache bool) error {
	loaded, err := ops.Load(configPath)
	if err != nil {
		return err
	}
	if _, ok := loaded.FindPair(pairName); !ok {
		logs.Errorf("pair %q is not in the config", pairName)
		os.Exit(2)
	}

	end := time.Now().UTC().Truncate(time.Duration(granularity) * time.Second)
	req := bars.Request{
		Pair:        pairName,
		Start:       end.Add(-time.Duration(days) * 24 * time.Hour),
		End:         end,
		Granularity: granularity,
	}

	fetcher := bars.NewFetcher(bars.Option{BaseURL: loaded.Exchange.RestURL})

	var rows []bars.Bar
	if useCache {
		client, err := conn.New(ctx, loaded.Database)
		if err != nil {
			return err
		}
		defer client.Close()

		store, err := bars.NewStore(client)
		if err != nil {
			return err
		}
		rows, err = store.FetchCached(ctx, fetcher, req)
		if err != nil {
			return err
		}
	} else {
		rows, err = fetcher.Fetch(ctx, req)
		if err != nil {
			return err
		}
	}

	if len(rows) == 0 {
		logs.Warnf("no bars for %s", pairName)
		return nil
	}
	first, last := rows[0], rows[len(rows)-1]
	logs.Infof("%d bars for %s from %s to %s, last close %.2f",
		len(rows), pairName, first.OpenTime.Format(time.RFC3339), last.OpenTime.Format(time.RFC3339), last.Close)
	return nil
}
