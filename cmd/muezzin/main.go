package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"muezzin/internal/clock"
	"muezzin/internal/config"
	"muezzin/internal/emit"
	"muezzin/internal/engine"
	"muezzin/internal/ics"
	appLog "muezzin/internal/log"
	"muezzin/internal/model"
	"muezzin/internal/provider"
	"muezzin/internal/push"
	"muezzin/internal/schedule"
	"muezzin/internal/store"
	"muezzin/internal/web"
)

const version = "0.3.0"

// keep last-good schedules for this many days
const storeRetentionDays = 30

type flagConfig struct {
	configPath string
	listen     string
	once       bool
	notify     string
}

func main() {
	flags := parseFlags()
	appLog.Info("muezzin starting", "version", version)

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	if err := conf.Validate(); err != nil {
		appLog.Error("invalid config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	loc, _ := conf.Location()
	tick, _ := conf.TickInterval()

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", loc.String(),
		"provider", conf.Provider,
		"tick", tick,
		"timetable_entries", len(conf.Timetable),
		"overrides", len(conf.Overrides),
		"ics_count", len(conf.ICS),
		"cron", len(conf.Push.Cron),
		"redis", conf.Push.Redis.Addr != "",
		"store", conf.StorePath,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if flags.notify != "" {
		if err := runNotify(ctx, conf, flags.notify); err != nil {
			appLog.Error("notify failed", err)
			os.Exit(1)
		}
		return
	}

	st, err := store.Open(conf.StorePath)
	if err != nil {
		appLog.Error("failed to open store", err, "path", conf.StorePath)
		os.Exit(1)
	}
	defer st.Close()

	cutoff := model.StartOfDay(time.Now().In(loc)).AddDate(0, 0, -storeRetentionDays)
	if n, err := st.PruneSchedules(cutoff); err != nil {
		appLog.Warn("schedule prune failed", "cause", err)
	} else if n > 0 {
		appLog.Info("pruned stored schedules", "count", n, "before", cutoff.Format(time.DateOnly))
	}

	upstream, err := buildProvider(conf, loc)
	if err != nil {
		appLog.Error("failed to build schedule provider", err, "provider", conf.Provider)
		os.Exit(1)
	}
	prov := provider.NewFallback(upstream, st, loc, nil)

	if flags.once {
		if err := runOnce(ctx, prov, loc); err != nil {
			appLog.Error("once failed", err)
			os.Exit(1)
		}
		return
	}

	hub := web.NewHub()
	emitter := emit.New(&emit.LogSink{}, hub, store.NewHistorySink(st))

	eng, err := engine.New(prov, emitter, clock.Real{}, engine.Options{
		TickInterval: tick,
		Location:     loc,
		Reminders:    conf.ReminderLeads(),
	})
	if err != nil {
		appLog.Error("failed to create engine", err)
		os.Exit(1)
	}

	sources, closeSources := buildPushSources(ctx, conf, loc)
	defer closeSources()
	pushHub := push.NewHub(eng, sources...)

	server := web.NewServer(conf, web.Deps{
		Engine:  eng,
		Hub:     hub,
		History: st,
		Push:    pushHub,
	})

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		if err := eng.Run(ctx); err != nil {
			appLog.Error("engine stopped", err)
		}
	}()
	go func() {
		defer wg.Done()
		pushHub.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		if err := server.Serve(ctx); err != nil {
			appLog.Error("http server failed", err, "listen", conf.Listen)
			cancel()
		}
	}()

	wg.Wait()
	appLog.Info("muezzin exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/muezzin/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Print the next event and exit")
	flag.StringVar(&cfg.notify, "notify", "", "Publish a schedule invalidation with this reason to Redis and exit")

	flag.Parse()

	return cfg
}

func buildProvider(conf *config.Config, loc *time.Location) (provider.Provider, error) {
	switch conf.Provider {
	case config.ProviderICS:
		sources := make([]ics.Source, 0, len(conf.ICS))
		for _, c := range conf.ICS {
			sources = append(sources, ics.Source{ID: c.ID, URL: c.URL})
		}
		return provider.NewICS(ics.NewFetcher(conf.ICSCacheDir, nil), sources, loc, nil)

	case config.ProviderTimetable:
		entries := make([]provider.Entry, 0, len(conf.Timetable))
		for _, e := range conf.Timetable {
			entries = append(entries, provider.Entry{Name: e.Name, Time: e.Time, AdjustMinutes: e.AdjustMinutes})
		}
		overrides := make([]provider.Override, 0, len(conf.Overrides))
		for _, o := range conf.Overrides {
			overrides = append(overrides, provider.Override{Event: o.Event, Label: o.Label, Time: o.Time, RRule: o.RRule})
		}
		return provider.NewTimetable(loc, entries, overrides, nil)

	default:
		return nil, fmt.Errorf("unknown provider %q", conf.Provider)
	}
}

// buildPushSources sets up cron and Redis invalidation. An unreachable
// Redis is logged and skipped; the engine still rolls over via cron.
func buildPushSources(ctx context.Context, conf *config.Config, loc *time.Location) ([]push.Source, func()) {
	var sources []push.Source
	closeFn := func() {}

	if len(conf.Push.Cron) > 0 {
		c, err := push.NewCron(loc, conf.Push.Cron...)
		if err != nil {
			appLog.Error("cron push disabled", err)
		} else {
			sources = append(sources, c)
		}
	}

	if conf.Push.Redis.Addr != "" {
		client, err := push.NewRedisClient(ctx, redisConfig(conf))
		if err != nil {
			appLog.Error("redis push disabled", err, "addr", conf.Push.Redis.Addr)
			return sources, closeFn
		}
		src, err := push.NewRedis(client, conf.Push.Redis.Channel)
		if err != nil {
			_ = client.Close()
			appLog.Error("redis push disabled", err)
			return sources, closeFn
		}
		sources = append(sources, src)
		closeFn = func() { _ = client.Close() }
	}
	return sources, closeFn
}

func redisConfig(conf *config.Config) push.RedisConfig {
	return push.RedisConfig{
		Addr:     conf.Push.Redis.Addr,
		Username: conf.Push.Redis.Username,
		Password: conf.Push.Redis.Password,
		DB:       conf.Push.Redis.DB,
	}
}

func runNotify(ctx context.Context, conf *config.Config, reason string) error {
	if conf.Push.Redis.Addr == "" {
		return errors.New("push.redis.addr is not configured")
	}
	client, err := push.NewRedisClient(ctx, redisConfig(conf))
	if err != nil {
		return err
	}
	defer client.Close()

	if err := push.Publish(ctx, client, conf.Push.Redis.Channel, reason); err != nil {
		return err
	}
	appLog.Info("invalidation published", "channel", conf.Push.Redis.Channel, "reason", reason)
	return nil
}

// runOnce resolves the next event once, looking at tomorrow when today is
// exhausted, and prints it.
func runOnce(ctx context.Context, prov provider.Provider, loc *time.Location) error {
	now := time.Now().In(loc)

	sched, err := prov.FetchSchedule(ctx, nil)
	if err != nil {
		return err
	}
	if err := schedule.Validate(sched); err != nil {
		return err
	}
	res := schedule.Resolve(sched, now)
	if res.Exhausted {
		tomorrow := sched.Day.AddDate(0, 0, 1)
		if sched, err = prov.FetchSchedule(ctx, &tomorrow); err != nil {
			return err
		}
		if err := schedule.Validate(sched); err != nil {
			return err
		}
		res = schedule.Resolve(sched, now)
	}
	if res.Exhausted {
		return errors.New("no upcoming event in today's or tomorrow's schedule")
	}

	c := emit.NewCountdown(res.Event, now)
	fmt.Printf("%s at %s (in %02d:%02d:%02d)\n", c.EventName, c.At.Format("15:04"), c.Hours, c.Minutes, c.Seconds)
	return nil
}
