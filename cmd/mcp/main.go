package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	"nuclight.org/tg-collector/app/listener"
	"nuclight.org/tg-collector/app/mcpserver"
	"nuclight.org/tg-collector/app/retrieval"
	"nuclight.org/tg-collector/app/storage"
	"nuclight.org/tg-collector/app/telegram"
	"nuclight.org/tg-collector/pkg/logger"
)

type options struct {
	TelegramBotToken    string `long:"telegram-bot-token" env:"TELEGRAM_BOT_TOKEN" description:"telegram bot token, tools report an error when it is missing"`
	TelegramWorkersNum  int    `long:"telegram-workers-num" env:"TELEGRAM_WORKERS_NUM" default:"5" description:"number of workers for telegram updates"`
	TelegramPollTimeout int    `long:"telegram-poll-timeout" env:"TELEGRAM_POLL_TIMEOUT" default:"30" description:"long polling timeout in seconds"`
	BufferCapacity      int    `long:"buffer-capacity" env:"BUFFER_CAPACITY" default:"10000" description:"max number of messages kept per chat"`
	ArchivePath         string `long:"archive-path" env:"ARCHIVE_PATH" description:"path to the sqlite archive file, archiving is disabled when empty"`
	ListenOnStart       bool   `long:"listen-on-start" env:"LISTEN_ON_START" description:"start listening for messages right away"`
	LogLevel            string `long:"log-level" env:"LOG_LEVEL" default:"info" description:"log level: debug, info, warn or error"`
	SentryDSN           string `long:"sentry-dsn" env:"SENTRY_DSN" description:"sentry dsn, error reporting is disabled when empty"`
}

var opts options

var Revision = "dev"

func main() {
	// .env is optional, real environment wins over it
	_ = godotenv.Load()

	_, err := flags.Parse(&opts)
	if err != nil {
		os.Exit(1)
	}

	log, err := logger.NewLogger(opts.LogLevel)
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	log.Info("starting mcp server", "revision", Revision)

	if opts.SentryDSN != "" {
		err = sentry.Init(sentry.ClientOptions{
			Dsn:     opts.SentryDSN,
			Release: Revision,
		})
		if err != nil {
			log.Error("initializing sentry", "error", err)
			os.Exit(1)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err = run(ctx, log, opts)
	cancel()

	if err != nil {
		log.Error("running mcp server", "error", err)
		sentry.CaptureException(err)
		sentry.Flush(2 * time.Second)
		os.Exit(1)
	}

	sentry.Flush(2 * time.Second)
}

// run serves MCP until ctx is done or the client disconnects. Everything it
// opens is closed before it returns.
func run(ctx context.Context, log logger.Logger, opts options) error {
	buffer := storage.NewBuffer(opts.BufferCapacity)
	defer buffer.ClearAll()

	bot := &telegram.Client{
		Log:         log,
		APIToken:    opts.TelegramBotToken,
		WorkersNum:  opts.TelegramWorkersNum,
		PollTimeout: opts.TelegramPollTimeout,
	}

	session := &listener.Session{
		Log:    log,
		Source: bot,
		Store:  buffer,
	}

	if opts.ArchivePath != "" {
		db, err := storage.NewSQLite(ctx, opts.ArchivePath)
		if err != nil {
			return fmt.Errorf("creating sqlite3 archive: %w", err)
		}
		defer func() {
			if err := db.Close(); err != nil {
				log.Error("closing sqlite3 archive", "error", err)
			}
		}()

		session.Archiver = db
	}

	defer func() {
		if err := session.Stop(context.Background()); err != nil {
			log.Error("stopping listening", "error", err)
		}
		bot.Wait()
	}()

	srv := &mcpserver.Server{
		Log:       log,
		Token:     opts.TelegramBotToken,
		Version:   Revision,
		Bot:       bot,
		Session:   session,
		Store:     buffer,
		Retriever: &retrieval.Service{Buffer: buffer, Lookup: bot},
	}

	if opts.ListenOnStart {
		if opts.TelegramBotToken == "" {
			return fmt.Errorf("starting listening: %w", mcpserver.ErrNoToken)
		}

		if err := bot.Connect(ctx); err != nil {
			return fmt.Errorf("connecting bot: %w", err)
		}

		if err := session.Start(ctx); err != nil {
			return fmt.Errorf("starting listening: %w", err)
		}
	}

	err := srv.Run(ctx)
	log.Info("stopping mcp server")

	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("serving mcp: %w", err)
	}

	return nil
}
