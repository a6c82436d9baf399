package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OliverSchlueter/goutils/sloki"
	"github.com/nhle/mailhub/internal/crypto"
	"github.com/nhle/mailhub/internal/mailbox"
	"github.com/nhle/mailhub/internal/model"
	"github.com/nhle/mailhub/internal/poll"
	"github.com/nhle/mailhub/internal/provider"
	"github.com/nhle/mailhub/internal/provider/chat"
	"github.com/nhle/mailhub/internal/provider/gmail"
	"github.com/nhle/mailhub/internal/provider/imapmail"
	"github.com/nhle/mailhub/internal/provider/outlook"
	"github.com/nhle/mailhub/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", model.DefaultConfigPath(), "path to the configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "mailhubd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	lokiService := sloki.NewService(sloki.Configuration{
		URL:          cfg.Log.LokiURL,
		Service:      "mailhub",
		ConsoleLevel: logLevel(cfg.Log.Level),
		LokiLevel:    slog.LevelInfo,
		EnableLoki:   cfg.Log.EnableLoki,
	})
	slog.SetDefault(slog.New(lokiService))
	logger := slog.Default()

	secret, err := crypto.LoadSecret(cfg.Credentials)
	if err != nil {
		return fmt.Errorf("loading credential secret: %w", err)
	}
	cipher, err := crypto.New(secret, cfg.Credentials.Strict)
	if err != nil {
		return fmt.Errorf("initializing cipher: %w", err)
	}

	s, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer s.Close()

	tokens := provider.NewTokenManager(s, cipher, map[model.Provider]*provider.TokenSource{
		model.ProviderGmail:   provider.NewTokenSource(cfg.Gmail),
		model.ProviderOutlook: provider.NewTokenSource(cfg.Outlook),
	}, logger)

	chatAdapter := chat.New(cfg.Chat, cipher, logger)
	providers := map[model.Provider]provider.Provider{
		model.ProviderGmail:   gmail.New(tokens, "", logger),
		model.ProviderOutlook: outlook.New(tokens, "", logger),
		model.ProviderIMAP:    imapmail.New(cipher, s, logger),
		model.ProviderChat:    chatAdapter,
	}

	aggregator := mailbox.NewAggregator(s, providers, logger)

	poller := poll.New(s, aggregator, 0, logger)
	poller.Start()
	defer poller.Stop()

	mux := http.NewServeMux()
	webhook := chat.NewHandler(cfg.Chat.VerifyToken, func(ctx context.Context, phoneNumberID string, msg model.Message) {
		logger.Info("inbound chat message",
			"phone_number_id", phoneNumberID,
			"message_id", msg.ID,
			"from", msg.From)
	}, logger)
	webhook.Register("/chat", mux)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("webhook listener started", "addr", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("webhook listener: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
