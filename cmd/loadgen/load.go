package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/guming3d/azure-openai-benchmark/internal/chatmsg"
	loadgenconfig "github.com/guming3d/azure-openai-benchmark/internal/config"
	"github.com/guming3d/azure-openai-benchmark/internal/executor"
	"github.com/guming3d/azure-openai-benchmark/internal/logging"
	"github.com/guming3d/azure-openai-benchmark/internal/messagesource"
	"github.com/guming3d/azure-openai-benchmark/internal/metrics"
	"github.com/guming3d/azure-openai-benchmark/internal/ratelimiter"
	"github.com/guming3d/azure-openai-benchmark/internal/stats"
	"github.com/guming3d/azure-openai-benchmark/internal/streamclient"
	"github.com/guming3d/azure-openai-benchmark/internal/tokencounter"
)

func newLoadCommand() *cobra.Command {
	cfg := &loadgenconfig.Config{}

	cmd := &cobra.Command{
		Use:   "load api_base_endpoint",
		Short: "Run a load test against a chat-completion endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.APIBaseEndpoint = args[0]
			bindPenaltyFlags(cmd, cfg)
			return runLoad(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.Deployment, "deployment", "", "deployment or model name")
	f.StringVar(&cfg.APIVersion, "api-version", "", "Azure API version")
	f.StringVar(&cfg.APIKeyEnv, "api-key-env", "OPENAI_API_KEY", "environment variable holding the API key")
	f.IntVar(&cfg.Clients, "clients", 20, "max concurrency")
	f.IntVar(&cfg.Requests, "requests", 0, "stop after this many completed requests (0 = unbounded)")
	f.IntVar(&cfg.Duration, "duration", 0, "stop after this many seconds (0 or >= 30)")
	f.StringVar(&cfg.RunEndConditionMode, "run-end-condition-mode", "or", "and|or")
	f.Float64Var(&cfg.Rate, "rate", 0, "requests per minute rate limit (0 = unbounded)")
	f.Float64Var(&cfg.AggregationWindow, "aggregation-window", 60, "aggregation window in seconds")
	f.StringVar(&cfg.ContextGenerationMode, "context-generation-method", "generate", "generate|replay")
	f.StringVar(&cfg.ReplayPath, "replay-path", "", "path to a JSON replay file (required with replay)")
	f.StringVar(&cfg.ShapeProfile, "shape-profile", "balanced", "balanced|context|generation|custom")
	f.IntVar(&cfg.ContextTokens, "context-tokens", 500, "target context tokens (custom shape)")
	f.IntVar(&cfg.MaxTokens, "max-tokens", 500, "max_tokens in the request body")
	f.BoolVar(&cfg.PreventServerCaching, "prevent-server-caching", true, "inject an anti-cache prefix per request")
	f.IntVar(&cfg.Completions, "completions", 1, "number of completions (n)")
	f.Float64("frequency-penalty", 0, "frequency_penalty (-2.0 to 2.0)")
	f.Float64("presence-penalty", 0, "presence_penalty (-2.0 to 2.0)")
	f.Float64("temperature", 0, "temperature (0.0 to 2.0)")
	f.Float64("top-p", 0, "top_p")
	f.BoolVar(&cfg.OpenAICompatible, "openai-compatible", false, "treat the endpoint as OpenAI/Google-hosted compatible")
	f.BoolVar(&cfg.AdjustForNetworkLatency, "adjust-for-network-latency", false, "measure baseline latency once and subtract it from aggregate metrics")
	f.StringVar(&cfg.OutputFormat, "output-format", "human", "jsonl|human")
	f.BoolVar(&cfg.LogRequestContent, "log-request-content", false, "include raw request/response content in the final dump")
	f.StringVar(&cfg.Retry, "retry", "exponential", "none|exponential")
	f.StringVar(&cfg.MetricsAddr, "metrics-addr", "", "host:port to also expose a Prometheus /metrics endpoint")

	return cmd
}

// bindPenaltyFlags converts the optional numeric flags into *float64,
// leaving them nil when the user never set them, matching the original
// tool's Optional[float] semantics.
func bindPenaltyFlags(cmd *cobra.Command, cfg *loadgenconfig.Config) {
	assign := func(name string, dst **float64) {
		if !cmd.Flags().Changed(name) {
			return
		}
		v, err := cmd.Flags().GetFloat64(name)
		if err != nil {
			return
		}
		*dst = &v
	}
	assign("frequency-penalty", &cfg.FrequencyPenalty)
	assign("presence-penalty", &cfg.PresencePenalty)
	assign("temperature", &cfg.Temperature)
	assign("top-p", &cfg.TopP)
}

func runLoad(ctx context.Context, cfg *loadgenconfig.Config) error {
	runtimeEnv, err := loadgenconfig.LoadRuntimeEnv()
	if err != nil {
		return err
	}
	logger := logging.New(logging.Config{Level: runtimeEnv.LogLevel, Format: runtimeEnv.LogFormat})

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid argument(s): %w", err)
	}
	if err := cfg.ResolveAPIKey(); err != nil {
		return err
	}
	cfg.LogConfig(logger)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	targetURL := cfg.RequestURL()
	httpClient := &http.Client{Timeout: 120 * time.Second}

	model := cfg.Deployment
	if !cfg.IsOpenAICompatible() {
		detected, err := detectModel(ctx, httpClient, targetURL, cfg.APIKey)
		if err != nil {
			return fmt.Errorf("deployment check failed: %w", err)
		}
		model = detected
	}
	logger.Info().Str("model", model).Msg("model detected")

	var networkLatencyAdjustment time.Duration
	if cfg.AdjustForNetworkLatency {
		logger.Info().Msg("measuring baseline network latency...")
		avg, err := measureAveragePing(ctx, httpClient, targetURL)
		if err != nil {
			return fmt.Errorf("failed to measure network latency: %w", err)
		}
		networkLatencyAdjustment = avg
		logger.Info().Dur("adjustment", avg).Msg("baseline network latency measured; subtracting from aggregate latency metrics")
	}

	counter, err := tokencounter.NewTiktoken(model)
	if err != nil {
		return fmt.Errorf("failed to build token counter: %w", err)
	}

	contextTokens, maxTokens := cfg.EffectiveShape()
	source, err := buildMessageSource(cfg, counter, contextTokens, maxTokens, logger)
	if err != nil {
		return err
	}

	if cfg.RunEndConditionMode == "and" {
		logger.Info().Msg("run-end-condition-mode=and: run will not end until BOTH requests and duration limits are reached")
	} else {
		logger.Info().Msg("run-end-condition-mode=or: run will end when EITHER requests or duration limit is reached")
	}

	var limiter ratelimiter.Limiter = ratelimiter.NoLimiter{}
	if cfg.Rate > 0 {
		limiter = ratelimiter.NewTokenBucket(cfg.Rate)
	}

	client := streamclient.New(streamclient.Config{
		HTTPClient:        httpClient,
		URL:               targetURL,
		APIKey:            cfg.APIKey,
		Model:             requestModel(cfg, model),
		OpenAICompatible:  cfg.IsOpenAICompatible(),
		BackoffEnabled:    cfg.Retry == "exponential",
		PreventCaching:    cfg.PreventServerCaching,
		TokenCounter:      counter,
		Logger:            logger,
		LogRequestContent: cfg.LogRequestContent,
	})

	aggregator := stats.New(stats.Config{
		Clients:                  cfg.Clients,
		DumpInterval:             time.Second,
		WindowDuration:           time.Duration(cfg.AggregationWindow * float64(time.Second)),
		ExpectedGenTokens:        maxTokens,
		JSONOutput:               cfg.OutputFormat == "jsonl",
		LogRequestContent:        cfg.LogRequestContent,
		NetworkLatencyAdjustment: networkLatencyAdjustment,
		Logger:                   logger,
	})

	var metricsRegistry *metrics.Registry
	if cfg.MetricsAddr != "" {
		metricsRegistry = metrics.NewRegistry()
		metricsServer := metrics.NewServer(cfg.MetricsAddr, metricsRegistry, logger)
		go func() {
			if err := metricsServer.Start(ctx); err != nil {
				logger.Warn().Err(err).Msg("metrics server exited with error")
			}
		}()
	}

	requestBody := func() streamclient.RequestBody {
		body, tokenCounts, err := source.Next()
		if err != nil {
			logger.Error().Err(err).Msg("failed to build message body")
			return streamclient.RequestBody{}
		}
		_ = tokenCounts // context token counts are recomputed by the streaming client after mutation
		return streamclient.RequestBody{
			Messages:         body.Messages,
			N:                cfg.Completions,
			MaxTokens:        maxTokens,
			Temperature:      cfg.Temperature,
			TopP:             cfg.TopP,
			FrequencyPenalty: cfg.FrequencyPenalty,
			PresencePenalty:  cfg.PresencePenalty,
		}
	}

	worker := func(workerCtx context.Context) {
		aggregator.RecordNewRequest()
		if metricsRegistry != nil {
			metricsRegistry.Processing.Inc()
		}
		record := client.Call(workerCtx, requestBody())
		aggregator.AggregateRequest(record)
		if metricsRegistry != nil {
			metricsRegistry.Processing.Dec()
			recordMetrics(metricsRegistry, record)
		}
	}

	exec := &executor.Executor{
		Worker:      worker,
		Limiter:     limiter,
		Concurrency: cfg.Clients,
		EndCondition: executor.RunEndCondition{
			Mode:        endConditionMode(cfg.RunEndConditionMode),
			MaxRequests: cfg.Requests,
			MaxDuration: time.Duration(cfg.Duration) * time.Second,
		},
	}

	if metricsRegistry != nil {
		go pollLiveMetrics(ctx, aggregator, metricsRegistry)
	}

	logger.Info().Msg("starting load...")
	aggregator.Start()

	done := make(chan struct{})
	exec.OnFinish = func() { close(done) }
	exec.Run(ctx)
	<-done

	aggregator.Stop()
	logger.Info().Msg("finished load test")
	return nil
}

func endConditionMode(mode string) executor.RunEndMode {
	if mode == "and" {
		return executor.ModeAND
	}
	return executor.ModeOR
}

// pollLiveMetrics periodically copies the aggregator's windowed averages
// into the Prometheus gauges until ctx is cancelled.
func pollLiveMetrics(ctx context.Context, aggregator *stats.Aggregator, registry *metrics.Registry) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rpm, ttftAvg, e2eAvg, tbtAvg, ok := aggregator.LiveAverages()
			if !ok {
				continue
			}
			registry.RPM.Set(rpm)
			registry.TTFTAvg.Set(ttftAvg)
			registry.E2EAvg.Set(e2eAvg)
			registry.TBTAvg.Set(tbtAvg)
		}
	}
}

// recordMetrics updates the Prometheus gauges/counters from one completed
// request record, mirroring the same branching the aggregator itself uses.
func recordMetrics(registry *metrics.Registry, record *stats.Request) {
	if record.ResponseStatus != http.StatusOK {
		registry.Failed.Inc()
		if record.ResponseStatus == http.StatusTooManyRequests {
			registry.Throttled.Inc()
		}
		return
	}
	registry.Completed.Inc()
}

// requestModel returns the model name to embed in the request body: only
// OpenAI-compatible endpoints expect a "model" field, Azure deployments
// select the model via the URL path instead.
func requestModel(cfg *loadgenconfig.Config, model string) string {
	if cfg.IsOpenAICompatible() {
		return model
	}
	return ""
}

func buildMessageSource(cfg *loadgenconfig.Config, counter tokencounter.Counter, contextTokens, maxTokens int, logger zerolog.Logger) (messagesource.Source, error) {
	switch cfg.ContextGenerationMode {
	case "replay":
		logger.Info().Str("path", cfg.ReplayPath).Msg("replaying messages")
		return messagesource.NewReplayGenerator(counter, cfg.ReplayPath)
	default:
		logger.Info().Str("shape_profile", cfg.ShapeProfile).Int("context_tokens", contextTokens).Int("max_tokens", maxTokens).Msg("using random message generation")
		return messagesource.NewRandomGenerator(counter, contextTokens, maxTokens)
	}
}

// detectModel mirrors the original tool's deployment check: it sends a
// trivial chat-completion request and reads back the "model" field so
// token accounting uses the right tokenizer, since Azure deployment names
// don't always match the underlying model family.
func detectModel(ctx context.Context, client *http.Client, targetURL, apiKey string) (string, error) {
	body, _ := json.Marshal(map[string]any{
		"messages": []chatmsg.Message{{Role: "user", Content: chatmsg.NewTextContent("What is 1+1?")}},
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var decoded struct {
		Model string `json:"model"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("status %d, unable to decode response: %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("deployment check failed with status code %d", resp.StatusCode)
	}
	return decoded.Model, nil
}

// measureAveragePing estimates baseline network latency to the endpoint's
// host with a handful of lightweight HTTP round trips, in place of the
// original tool's ICMP-based ping3 measurement (no raw-socket ping library
// is available in this module's dependency stack, and an HTTP round trip
// to the actual endpoint is a closer proxy for request latency than ICMP
// anyway).
func measureAveragePing(ctx context.Context, client *http.Client, targetURL string) (time.Duration, error) {
	parsed, err := url.Parse(targetURL)
	if err != nil {
		return 0, err
	}
	probeURL := fmt.Sprintf("%s://%s/", parsed.Scheme, parsed.Host)

	const numRequests = 5
	const maxTotal = 5 * time.Second
	deadline := time.Now().Add(maxTotal)

	var total time.Duration
	var count int
	for count < numRequests && time.Now().Before(deadline) {
		start := time.Now()
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, probeURL, nil)
		if err != nil {
			return 0, err
		}
		resp, err := client.Do(req)
		elapsed := time.Since(start)
		if resp != nil {
			resp.Body.Close()
		}
		if err != nil {
			continue
		}
		total += elapsed
		count++
		if elapsed < 500*time.Millisecond {
			time.Sleep(500*time.Millisecond - elapsed)
		}
	}
	if count == 0 {
		return 0, fmt.Errorf("no successful latency probes against %s", probeURL)
	}
	return total / time.Duration(count), nil
}
