// Command crybbot runs the mention-processing engine: it polls a
// microblog account for mentions, picks a reply target per mention,
// renders an image, and posts a threaded reply.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"crybb-mentions-bot/internal/batch"
	"crybb-mentions-bot/internal/config"
	"crybb-mentions-bot/internal/ledger"
	"crybb-mentions-bot/internal/metrics"
	"crybb-mentions-bot/internal/pipeline"
	"crybb-mentions-bot/internal/quietactivity"
	"crybb-mentions-bot/internal/ratelimit"
	"crybb-mentions-bot/internal/scheduler"
	"crybb-mentions-bot/internal/xapi"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	led, err := ledger.Open(cfg.OutboxDir)
	if err != nil {
		log.Fatalf("ledger: %v", err)
	}

	client := xapi.NewClient(cfg.XBaseURL, xapi.Credentials{
		BearerToken:  cfg.BearerToken,
		APIKey:       cfg.APIKey,
		APISecret:    cfg.APISecret,
		AccessToken:  cfg.AccessToken,
		AccessSecret: cfg.AccessSecret,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.ImagePipeline == "ai" {
		if err := pipeline.ValidateStyleURL(ctx, client, cfg.StyleImageURL); err != nil {
			log.Fatalf("startup: %v", err)
		}
	}

	// The health/metrics HTTP surface that scrapes these counters is an
	// external collaborator (spec.md §1/§9); this process registers the
	// counters on a fresh registry and does not serve it itself.
	counters := metrics.New(prometheus.NewRegistry())

	incoming := ratelimit.NewWithWhitelist(cfg.PerAuthorHourly, cfg.WhitelistHandles)
	outgoing := ratelimit.New(cfg.PerTargetHourly)

	var transformer pipeline.Transformer
	if cfg.ImagePipeline == "placeholder" {
		transformer = &pipeline.PlaceholderTransformer{Fetcher: client}
	} else {
		transformer = pipeline.NewAITransformer(
			cfg.TransformURL, cfg.TransformToken, transformPrompt,
			cfg.AIMaxAttempts, cfg.AITimeout, cfg.AIPollInterval,
		)
	}

	pl := pipeline.New(
		cfg.BotHandle, cfg.StyleImageURL, config.ReplyBody, config.TextOnlyFallbackBody(),
		incoming, outgoing, transformer, client, led, counters, int64(cfg.AIMaxConcurrency),
	)

	quiet := quietactivity.New(client, cfg.RTLikeThreshold)

	sched := scheduler.New(client, led, pl, batch.NewCache(), scheduler.Cadence{
		AwakeMin:   time.Duration(cfg.AwakeMinSecs) * time.Second,
		AwakeMax:   time.Duration(cfg.AwakeMaxSecs) * time.Second,
		SleeperMin: time.Duration(cfg.SleeperMinSecs) * time.Second,
		SleeperMax: time.Duration(cfg.SleeperMaxSecs) * time.Second,
	}, quiet)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Printf("shutdown signal received, draining in-flight work")
		cancel()
	}()

	log.Printf("crybbot starting: handle=@%s pipeline=%s outbox=%s", cfg.BotHandle, cfg.ImagePipeline, cfg.OutboxDir)
	sched.Run(ctx)
	log.Printf("crybbot stopped")
}

const transformPrompt = "Transform the second image in the style of the first, preserving the subject's likeness."
