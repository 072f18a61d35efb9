package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/TobiSchelling/trendpress/internal/calendar"
	"github.com/TobiSchelling/trendpress/internal/collect"
	"github.com/TobiSchelling/trendpress/internal/config"
	"github.com/TobiSchelling/trendpress/internal/database"
	"github.com/TobiSchelling/trendpress/internal/dedup"
	"github.com/TobiSchelling/trendpress/internal/fetch"
	"github.com/TobiSchelling/trendpress/internal/generate"
	"github.com/TobiSchelling/trendpress/internal/llm"
	"github.com/TobiSchelling/trendpress/internal/publish"
	"github.com/TobiSchelling/trendpress/internal/quota"
	"github.com/TobiSchelling/trendpress/internal/runstate"
	"github.com/TobiSchelling/trendpress/internal/scheduler"
	"github.com/TobiSchelling/trendpress/internal/store"
)

// app holds the wired collaborators for one command invocation.
type app struct {
	cal     *calendar.Calendar
	quota   *quota.Governor
	runs    *runstate.Tracker
	svc     *scheduler.Scheduler
	closers []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warn().Err(err).Msg("Closing resource failed")
		}
	}
}

// withApp wires the app around a command body.
func withApp(fn func(ctx context.Context, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(ctx, a, args)
	}
}

func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.cal, err = calendar.New(cfg.Schedule.Timezone, cfg.Schedule.ActiveStartHour, cfg.Schedule.ActiveEndHour)
	if err != nil {
		return nil, err
	}

	db, err := database.Open(cfg.DatabasePath())
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, db.Close)
	gw := store.NewResilient(db, store.RetryPolicy{Attempts: cfg.Storage.RetryAttempts})

	a.quota = quota.New(gw, a.cal, quota.Limits{
		WeekdayDaily: cfg.Quota.WeekdayLimit,
		WeekendDaily: cfg.Quota.WeekendLimit,
		Monthly:      cfg.Quota.MonthlyLimit,
		RetainDays:   cfg.Quota.RetainDays,
		RetainMonths: cfg.Quota.RetainMonths,
	})
	dd := dedup.New(cfg.Dedup.Threshold)
	a.runs = runstate.NewTracker(gw, cfg.RunStatePath())

	feed := collect.NewFeedSource(collect.FeedConfig{
		TrendsURL:     cfg.Sources.Trends.URL,
		NewsSearchURL: cfg.Sources.News.SearchURL,
		Name:          cfg.Sources.Trends.Name,
	})

	cache, err := newTrendCache(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if rc, ok := cache.(*collect.RedisCache); ok {
		a.closers = append(a.closers, rc.Close)
	}
	importer := collect.NewImporter(feed, a.quota, cache, gw)

	var related collect.RelatedSource = feed
	if n := cfg.Sources.NewsAPI; n.Enabled {
		client := collect.NewNewsAPIClient(config.Secret(n.APIKeyEnv), n.BaseURL, n.Language, n.DaysBack)
		if client.IsConfigured() {
			related = client
		} else {
			log.Warn().Str("env", n.APIKeyEnv).Msg("NewsAPI enabled but no API key set, using news feed search")
		}
	}
	var relatedGate collect.Gate
	if cfg.Sources.News.CountQuota {
		relatedGate = a.quota
	}
	researcher := generate.NewResearcher(related, relatedGate,
		fetch.New(cfg.Sources.Fetch.Timeout, cfg.Sources.Fetch.MaxChars),
		cfg.Sources.News.MaxLinks, cfg.Sources.News.MaxDocuments)

	g := cfg.Generation
	provider := llm.CreateProvider(llm.Options{
		Provider:      g.Provider,
		Model:         g.Model,
		OllamaURL:     g.OllamaURL,
		OpenAIModel:   g.OpenAIModel,
		OpenAIKey:     config.Secret(g.APIKeyEnv),
		OpenAIBaseURL: g.OpenAIBaseURL,
		CohereModel:   g.CohereModel,
		CohereKey:     config.Secret(g.CohereAPIKeyEnv),
	})

	var publisher publish.Publisher = publish.Noop{}
	if k := cfg.Kafka; k.Enabled {
		kp, err := publish.NewKafkaPublisher(publish.KafkaConfig{Brokers: k.Brokers, Topic: k.Topic, ClientID: k.ClientID})
		if err != nil {
			return nil, err
		}
		publisher = kp
	}
	a.closers = append(a.closers, publisher.Close)

	a.svc = scheduler.New(scheduler.Deps{
		Calendar:   a.cal,
		Store:      gw,
		Quota:      a.quota,
		Dedup:      dd,
		Importer:   importer,
		Researcher: researcher,
		Generator:  generate.NewLLMGenerator(provider, g.Language, g.MaxTokens),
		Checker:    generate.NewChecker(g.MinQualityScore, g.MinWords, g.TitleSimilarity),
		Publisher:  publisher,
		Runs:       a.runs,
	}, scheduler.Config{
		Slots:             cfg.Schedule.Slots,
		StaleAfter:        cfg.Jobs.StaleAfter,
		MaxRetries:        cfg.Jobs.MaxRetries,
		AutoRetry:         cfg.Jobs.AutoRetry,
		AutoRetryPerTick:  cfg.Jobs.AutoRetryPerTick,
		SupplyWindow:      cfg.Sources.SupplyWindow,
		TrendRetention:    cfg.Sources.Retention,
		RecentTitleWindow: g.RecentTitleWindow,
	})
	return a, nil
}

// newTrendCache returns the configured cache, or nil for "none".
func newTrendCache(ctx context.Context, cfg *config.Config) (collect.Cache, error) {
	switch strings.ToLower(cfg.Cache.Backend) {
	case "redis":
		r := cfg.Cache.Redis
		rc, err := collect.NewRedisCache(ctx, collect.RedisConfig{
			Addr:     r.Addr,
			Password: config.Secret(r.PasswordEnv),
			DB:       r.DB,
			Key:      r.Key,
			TTL:      cfg.Cache.TTL,
		})
		if err != nil {
			return nil, fmt.Errorf("connecting trend cache: %w", err)
		}
		return rc, nil
	case "none":
		return nil, nil
	default:
		return collect.NewMemoryCache(cfg.Cache.TTL), nil
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
