// Command admin reviews blocked documents, puts repaired sources back
// into rotation and runs an on-demand reconciliation sweep.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/asmelnikov/docstream/internal/bootstrap"
	"github.com/asmelnikov/docstream/internal/config"
	"github.com/asmelnikov/docstream/internal/observability/logging"
)

func main() {
	_ = godotenv.Load()

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s <blocked|unblock <id>|show <id>|sweep>\n", os.Args[0])
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
	logger := logging.NewJSONLogger("docstream-admin", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	switch cmd := flag.Arg(0); cmd {
	case "blocked":
		listBlocked(ctx, app)
	case "unblock":
		requireArg(cmd)
		if err := app.Moderation.Unblock(ctx, flag.Arg(1)); err != nil {
			log.Fatalf("unblock: %v", err)
		}
		fmt.Printf("unblocked %s\n", flag.Arg(1))
	case "show":
		requireArg(cmd)
		show(ctx, app, flag.Arg(1))
	case "sweep":
		report, err := app.Sweeper.Sweep(ctx)
		if err != nil {
			log.Fatalf("sweep: %v", err)
		}
		fmt.Printf("scanned=%d healed=%d reset=%d locks_reclaimed=%d\n",
			report.Scanned, report.Healed, report.Reset, report.LocksReclaimed)
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func listBlocked(ctx context.Context, app *bootstrap.App) {
	blocked, err := app.Moderation.ListBlocked(ctx, 100)
	if err != nil {
		log.Fatalf("list blocked: %v", err)
	}
	for _, doc := range blocked {
		fmt.Printf("%s\t%s\t%s\n", doc.Content.DocumentID, doc.Content.Title, doc.Content.BlockedReason)
		for _, entry := range doc.Errors {
			fmt.Printf("  %s\t%s\tattempt=%d\t%s\n",
				entry.CreatedAt.Format("2006-01-02 15:04:05"), entry.Stage, entry.Attempt, entry.Message)
		}
	}
}

func show(ctx context.Context, app *bootstrap.App, documentID string) {
	content, err := app.Moderation.View(ctx, documentID)
	if err != nil {
		log.Fatalf("show: %v", err)
	}
	fmt.Printf("title: %s\nslug: %s\nsize: %d\nviews: %d\ndownloads: %d\n\n%s\n",
		content.Title, content.Slug, content.SizeBytes, content.Views, content.Downloads, content.Text)
}

func requireArg(cmd string) {
	if flag.NArg() < 2 {
		log.Fatalf("%s requires a document id", cmd)
	}
}
