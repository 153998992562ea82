package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"messenger/handler"
	"messenger/internal/integrations/paramstore"
	"messenger/internal/repository"
	"messenger/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg := loadConfig()
	log := newLogger(cfg.LogLevel)

	if cfg.ParamPrefix != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			log.Error("failed to load AWS config", "err", err)
			os.Exit(1)
		}
		params, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
		if err != nil {
			log.Error("failed to create SSM client", "err", err)
			os.Exit(1)
		}
		overrides, err := params.Overrides(ctx, cfg.ParamPrefix)
		if err != nil {
			log.Error("failed to load parameter overrides", "prefix", cfg.ParamPrefix, "err", err)
			os.Exit(1)
		}
		cfg.applyOverrides(overrides)
	}

	// ---- Store ----
	var (
		store   usecase.Store
		gateway *repository.Gateway
	)
	switch cfg.Backend {
	case backendMemory:
		log.Warn("using in-memory store; data is lost on exit")
		store = repository.NewMemoryStore()
	case backendDynamoDB:
		var err error
		gateway, err = repository.NewGateway(
			repository.NewSDKConnector(cfg.Tables, cfg.Endpoint),
			repository.WithConnectAttempts(cfg.ConnectAttempts),
			repository.WithConnectBackoff(cfg.ConnectMaxBackoff),
			repository.WithLogger(log),
		)
		if err != nil {
			log.Error("failed to create dynamodb gateway", "err", err)
			os.Exit(1)
		}
		client, err := repository.New(gateway, cfg.Tables)
		if err != nil {
			log.Error("failed to create repository client", "err", err)
			os.Exit(1)
		}
		store = client
	default:
		log.Error("unknown store backend", "backend", cfg.Backend)
		os.Exit(1)
	}

	// ---- Handler ----
	svc, err := usecase.NewService(store, log, cfg.Service)
	if err != nil {
		log.Error("failed to create messenger service", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(svc)
	if err != nil {
		log.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.StartWithOptions(h.Handle, lambda.WithEnableSIGTERM(func() {
		if gateway != nil {
			_ = gateway.Close()
		}
	}))
}
