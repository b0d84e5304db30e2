// Command backfill fills the daily-challenge history for a date range
// without starting the bot.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lcdaily/internal/backfill"
	"lcdaily/internal/config"
	"lcdaily/internal/domain"
	"lcdaily/internal/source/leetcode"
	"lcdaily/internal/storage"
	"lcdaily/internal/task/retry"
	logx "lcdaily/pkg/logx"
)

func main() {
	var (
		cfgPath     string
		envPath     string
		dbPath      string
		site        string
		start, end  string
		days        int
		concurrency int
		level       string
	)
	flag.StringVar(&cfgPath, "config", "", "optional bot config; supplies storage.path and leetcode settings")
	flag.StringVar(&envPath, "env", ".env", "optional dotenv file")
	flag.StringVar(&dbPath, "db", "", "sqlite path (overrides config and DATABASE_PATH)")
	flag.StringVar(&site, "site", "com", "leetcode site: com or cn")
	flag.StringVar(&start, "start", "", "first date YYYY-MM-DD (inclusive)")
	flag.StringVar(&end, "end", "", "last date YYYY-MM-DD (inclusive, default today)")
	flag.IntVar(&days, "days", 0, "backfill the last N days instead of -start/-end")
	flag.IntVar(&concurrency, "concurrency", backfill.DefaultMaxConcurrency, "max concurrent fetches")
	flag.StringVar(&level, "log-level", "info", "log level")
	flag.Parse()

	if err := run(cfgPath, envPath, dbPath, site, start, end, days, concurrency, level); err != nil {
		fmt.Fprintln(os.Stderr, "backfill:", err)
		os.Exit(1)
	}
}

func run(cfgPath, envPath, dbPath, siteName, start, end string, days, concurrency int, level string) error {
	if err := config.LoadDotEnv(envPath); err != nil {
		return err
	}
	log := logx.NewConsole(level)

	site, err := domain.ParseSite(siteName)
	if err != nil {
		return err
	}

	var (
		sc storage.Config
		lc leetcode.Config
	)
	if cfgPath != "" {
		cfg, err := config.NewConfigManager(cfgPath).Load()
		if err != nil {
			return err
		}
		sc.Path = cfg.Storage.Path
		lc.RatePerSec = cfg.LeetCode.RatePerSec
		lc.Burst = cfg.LeetCode.Burst
		if lc.Timeout, err = config.ParseDurationField("leetcode.timeout", cfg.LeetCode.Timeout); err != nil {
			return err
		}
	}
	if v := os.Getenv("DATABASE_PATH"); v != "" && cfgPath == "" {
		sc.Path = v
	}
	if dbPath != "" {
		sc.Path = dbPath
	}
	if sc.Path == "" {
		return fmt.Errorf("no database: pass -db, -config or set DATABASE_PATH")
	}

	now := time.Now()
	switch {
	case days > 0:
		start, end = backfill.LastDays(site, now, days)
	case start == "":
		return fmt.Errorf("pass -start or -days")
	case end == "":
		end = site.Today(now)
	}

	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	source := leetcode.New(lc, log.With(logx.String("comp", "leetcode")), nil)
	f := backfill.New(source, store, backfill.Config{
		Retry: retry.Policy{MaxAttempts: 4, Base: time.Second, MaxDelay: 30 * time.Second},
	}, log, nil)

	sum, err := f.Run(ctx, backfill.Request{Site: site, Start: start, End: end, MaxConcurrency: concurrency})
	fmt.Printf("run %s %s %s..%s: fetched=%d skipped=%d missing=%d failed=%d cancelled=%d in %s\n",
		sum.RunID, sum.Site, sum.Start, sum.End,
		sum.Fetched, sum.SkippedExisting, sum.Missing, sum.Failed, sum.Cancelled, sum.Elapsed.Round(time.Millisecond))
	if err != nil {
		return err
	}
	if sum.Failed > 0 {
		return fmt.Errorf("%d date(s) failed", sum.Failed)
	}
	return nil
}
