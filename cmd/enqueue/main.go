// Command enqueue registers source URLs as documents and publishes them
// for the worker fleet to process.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/asmelnikov/docstream/internal/bootstrap"
	"github.com/asmelnikov/docstream/internal/config"
	"github.com/asmelnikov/docstream/internal/core/domain"
	"github.com/asmelnikov/docstream/internal/observability/logging"
)

func main() {
	_ = godotenv.Load()

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s <source-url> [<source-url>...]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger := logging.NewJSONLogger("docstream-enqueue", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	for _, sourceURL := range flag.Args() {
		sourceURL = strings.TrimSpace(sourceURL)
		if sourceURL == "" {
			continue
		}
		doc := domain.NewDocument(uuid.NewString(), sourceURL)
		if err := app.Repo.Create(ctx, doc); err != nil {
			log.Fatalf("create document for %s: %v", sourceURL, err)
		}
		if err := app.Queue.PublishDocument(ctx, doc.ID); err != nil {
			log.Fatalf("publish document %s: %v", doc.ID, err)
		}
		fmt.Printf("%s\t%s\n", doc.ID, sourceURL)
	}
}
