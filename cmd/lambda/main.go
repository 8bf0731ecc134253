package main

import (
	"context"
	"os"

	"foqus-orchestrator/app"
	"foqus-orchestrator/config"

	"github.com/aws/aws-lambda-go/lambda"
	log "github.com/sirupsen/logrus"
)

// FOQUS_HANDLER selects the event source: "sns" for update-topic
// deliveries, "stream" for record-store stream batches
const handlerEnv = "FOQUS_HANDLER"

func main() {
	cfg, err := config.Load(os.Getenv("FOQUS_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg.LogFormat = "json"
	config.ConfigureLogging(cfg)

	stack, err := app.Build(context.Background(), cfg)
	if err != nil {
		log.Fatalf("Failed to build coordinator: %v", err)
	}
	defer stack.Close()

	switch mode := os.Getenv(handlerEnv); mode {
	case "", "sns":
		lambda.Start(stack.Lambda.HandleSNS)
	case "stream":
		lambda.Start(stack.Lambda.HandleStream)
	default:
		log.Fatalf("Unknown %s %q", handlerEnv, mode)
	}
}
