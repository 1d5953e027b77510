package main

import (
	"context"
	"log"

	"github.com/viralforge/mesh/services/integrations/M74-support-routing-service/internal/app/bootstrap"
)

func main() {
	ctx := context.Background()
	runtime, err := bootstrap.NewRuntime(ctx, "configs/default.yaml")
	if err != nil {
		log.Fatalf("bootstrap runtime: %v", err)
	}
	if err := runtime.Run(ctx); err != nil {
		log.Fatalf("run server: %v", err)
	}
}
