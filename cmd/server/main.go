package main

import (
	"context"
	"log"
	"os"

	"github.com/affinidi/affinidi-webvh-service/internal/server"
	"github.com/affinidi/affinidi-webvh-service/internal/server/config"
)

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig()
	app, err := server.NewApp(ctx, cfg)

	if err != nil {
		log.Printf("%v", err)
		return
	}

	app.Run(ctx, server.NewStdioTransport(os.Stdin, os.Stdout))

}
