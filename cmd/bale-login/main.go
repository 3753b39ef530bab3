package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"atabat-scraper/internal/config"
	"atabat-scraper/internal/logger"
	"atabat-scraper/internal/services/adapter"
)

func main() {
	headless := flag.Bool("headless", false, "Run the relay browser headless")
	check := flag.Bool("check", false, "Also read the latest portal OTP after login")
	help := flag.Bool("help", false, "Show help message")

	flag.Parse()

	if *help {
		printHelp()
		os.Exit(0)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}
	lg := logger.New(cfg.IsProduction(), cfg.LogLevel)

	err = run(cfg, *headless, *check, lg)
	if err != nil {
		lg.Error("❌ Relay login failed", zap.Error(err))
	}
	_ = lg.Sync()
	if err != nil {
		os.Exit(1)
	}
}

func run(cfg config.Config, headless, check bool, lg *zap.Logger) error {
	if cfg.BalePhone == "" {
		return errors.New("BALE_PHONE is not set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	relay, closeRelay := adapter.NewRelay(cfg, headless, lg)
	defer closeRelay()

	lg.Info("Checking relay session", zap.String("profile", cfg.BaleProfileDir))
	if err := relay.EnsureLoggedIn(ctx, promptCode); err != nil {
		return err
	}
	lg.Info("✅ Relay session saved")

	if !check {
		return nil
	}
	otp, err := relay.FetchLatestOTP(ctx)
	if err != nil {
		return fmt.Errorf("could not read OTP: %w", err)
	}
	if otp == "" {
		lg.Warn("No OTP message found in the relay chat")
		return nil
	}
	lg.Info("Latest portal OTP found", zap.String("otp", otp))
	return nil
}

// promptCode reads the SMS code from stdin.
func promptCode(ctx context.Context) (string, error) {
	fmt.Print("Enter the code Bale sent by SMS: ")
	lines := make(chan string, 1)
	errs := make(chan error, 1)
	go func() {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			errs <- err
			return
		}
		lines <- strings.TrimSpace(line)
	}()
	select {
	case line := <-lines:
		return line, nil
	case err := <-errs:
		return "", err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func printHelp() {
	fmt.Print(`
Bale Login - Relay Session Bootstrap
====================================

Logs the Bale web client in once and keeps the session in BALE_PROFILE_DIR,
so the scraper can read the portal's daily OTP unattended.

Usage:
  bale-login [options]

Options:
  -headless
        Run the relay browser headless (default false)

  -check
        Read the latest portal OTP after logging in

  -help
        Show this help message

Examples:
  # First-time login
  go run cmd/bale-login/main.go

  # Verify the OTP can be read
  go run cmd/bale-login/main.go -check
` + "\n")
}
