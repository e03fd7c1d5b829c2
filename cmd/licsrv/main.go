// Command licsrv serves the license validation and administration API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"

	"licsrv/internal/app"
	"licsrv/internal/config"
	"licsrv/pkg/contracts"
)

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "-version" || os.Args[1] == "--version") {
		fmt.Println(contracts.GetFullVersionString())
		return
	}

	if err := run(); err != nil {
		slog.Error("licsrv failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, os.Stdout)
	if err != nil {
		return err
	}
	defer application.Close(context.Background())

	return application.Run(ctx)
}
