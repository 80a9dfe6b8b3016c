// Command polysniper runs the arbitrage sniper. It loads configuration,
// validates it, sets up signal handling and starts the application in the
// configured mode.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alanyoungcy/polysniper/internal/app"
	"github.com/alanyoungcy/polysniper/internal/chain"
	"github.com/alanyoungcy/polysniper/internal/config"
	"github.com/alanyoungcy/polysniper/internal/crypto"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file, empty for defaults")
	sealKey := flag.String("seal-key", "", "encrypt POLYBOT_WALLET_PRIVATE_KEY with POLYBOT_WALLET_KEY_PASSWORD into this file and exit")
	flag.Parse()

	logger := newLogger(slog.LevelInfo)
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	if *sealKey != "" {
		if err := seal(*sealKey, cfg.Wallet); err != nil {
			fmt.Fprintf(os.Stderr, "seal-key: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("encrypted key written to %s\n", *sealKey)
		return
	}

	logger = newLogger(parseLevel(cfg.LogLevel))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("polysniper starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
		slog.Any("settings", config.RedactedConfig(cfg)),
	)

	application := app.New(cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = application.Run(ctx)
	stop()
	application.Close()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("exited with error", slog.String("error", err.Error()))
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
	logger.Info("polysniper stopped")
}

func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

func parseLevel(s string) slog.Level {
	switch s {
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

// seal writes the wallet key as an encrypted keyfile readable through
// wallet.encrypted_key_path.
func seal(path string, w config.WalletConfig) error {
	if w.PrivateKey == "" || w.KeyPassword == "" {
		return errors.New("POLYBOT_WALLET_PRIVATE_KEY and POLYBOT_WALLET_KEY_PASSWORD must be set")
	}
	signer, err := crypto.NewSigner(w.PrivateKey, chain.PolygonChainID, crypto.CTFExchange)
	if err != nil {
		return err
	}
	doc, err := crypto.EncryptKey(w.PrivateKey, w.KeyPassword, signer.Address().Hex())
	if err != nil {
		return err
	}
	return os.WriteFile(path, doc, 0o600)
}
