package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/parley/internal/adapters"
	"github.com/parley/internal/api"
	"github.com/parley/internal/config"
	"github.com/parley/internal/conversation"
	"github.com/parley/internal/database"
	"github.com/parley/internal/deliberation"
	"github.com/parley/internal/generate"
	"github.com/parley/internal/jobqueue"
	"github.com/parley/internal/lock"
	"github.com/parley/internal/logging"
)

// ServeCommand returns the CLI command for starting the Parley server
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the Parley API server and job workers",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Aliases: []string{"a"},
				Usage:   "Listen address, overrides the config file",
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if addr := c.String("addr"); addr != "" {
		cfg.Server.Addr = addr
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Pretty)

	ctx := context.Background()

	dbURL, err := database.ResolveURL(cfg.Database.URL)
	if err != nil {
		return err
	}
	pool, err := database.NewPool(ctx, dbURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	db, err := database.NewDB(ctx, dbURL)
	if err != nil {
		return err
	}
	defer db.Close()

	// Schema setup
	lockStore := lock.NewPostgresStore(pool)
	if err := lockStore.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("failed to ensure lock schema: %w", err)
	}
	convStore := conversation.NewPostgresStore(db)
	if err := convStore.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("failed to ensure conversation schema: %w", err)
	}
	users := api.NewUserStore(db)
	if err := users.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("failed to ensure users schema: %w", err)
	}
	if err := jobqueue.Migrate(ctx, pool); err != nil {
		return err
	}

	// Core services
	locks := lock.NewService(lockStore)
	evaluatorRegistry := deliberation.DefaultRegistry()
	pipeline := deliberation.NewPipeline(evaluatorRegistry)

	adapterRegistry := adapters.NewRegistry()
	adapterRegistry.Register(adapters.LogAdapter{})
	if push, ok := cfg.Adapters["push"]; ok {
		url, _ := push["url"].(string)
		token, _ := push["token"].(string)
		if url != "" {
			adapterRegistry.Register(adapters.NewHTTPPushAdapter("push", url, token))
		}
	}

	dispatcher := deliberation.NewDispatcher(convStore, locks, adapterRegistry, lock.DefaultTTL)

	queue, err := jobqueue.NewJobQueue(pool, jobqueue.GetQueueConfig())
	if err != nil {
		return fmt.Errorf("failed to create job queue: %w", err)
	}
	scheduler := deliberation.NewScheduler(queue)

	generator, err := buildGenerator(ctx, cfg)
	if err != nil {
		return err
	}

	service := deliberation.NewService(convStore, locks, pipeline, scheduler, dispatcher, generator, lock.DefaultTTL)
	queue.Bind(service)

	if err := queue.Start(ctx); err != nil {
		return fmt.Errorf("failed to start job queue: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := queue.Stop(stopCtx); err != nil {
			log.Error().Err(err).Msg("job queue shutdown failed")
		}
	}()

	// Re-install periodic agent schedules lost on restart
	ids, err := convStore.ListIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list conversations: %w", err)
	}
	if err := service.RestoreSchedules(ctx, ids); err != nil {
		return fmt.Errorf("failed to restore schedules: %w", err)
	}

	log.Info().Str("addr", cfg.Server.Addr).Msg("starting Parley server")

	server := api.NewServer(api.ServerConfig{
		Addr:          cfg.Server.Addr,
		JWTSecret:     cfg.Server.JWTSecret,
		WebhookSecret: cfg.Server.WebhookSecret,
		Store:         convStore,
		Service:       service,
		Registry:      evaluatorRegistry,
		Users:         users,
	})
	return server.Start()
}

func buildGenerator(ctx context.Context, cfg *config.Config) (deliberation.Generator, error) {
	aiCfg := cfg.AI[cfg.General.DefaultAI]

	options := generate.ConnectorOptions{
		Provider: generate.Provider(cfg.General.DefaultAI),
	}
	if apiKey, ok := aiCfg["api_key"].(string); ok {
		options.APIKey = apiKey
	}
	if baseURL, ok := aiCfg["base_url"].(string); ok {
		options.BaseURL = baseURL
	}
	if model, ok := aiCfg["model"].(string); ok {
		options.ModelConfig.Model = model
	}
	if temp, ok := aiCfg["temperature"].(float64); ok {
		options.ModelConfig.Temperature = temp
	}
	if maxTokens, ok := aiCfg["max_tokens"].(int64); ok {
		options.ModelConfig.MaxTokens = int(maxTokens)
	}

	connector, err := generate.NewConnector(ctx, options)
	if err != nil {
		return nil, fmt.Errorf("failed to create model connector: %w", err)
	}
	return generate.NewLLMGenerator(connector), nil
}
