package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"atabat-scraper/internal/cli"
	"atabat-scraper/internal/config"
	"atabat-scraper/internal/cron"
	"atabat-scraper/internal/database"
	"atabat-scraper/internal/logger"
	"atabat-scraper/internal/models"
	"atabat-scraper/internal/services/adapter"
	"atabat-scraper/internal/services/captcha"
	"atabat-scraper/internal/services/captcha/tesseract"
	"atabat-scraper/internal/services/reservations"
	"atabat-scraper/internal/services/session"
)

type options struct {
	mode            string
	jobIndex        int
	jobsFile        string
	bookingsFile    string
	filters         models.SearchFilters
	resID           string
	enqueue         bool
	captchaAttempts int
}

func main() {
	var opts options
	flag.StringVar(&opts.mode, "mode", "cli", "Run mode: cli, search, auth, receipt, status, refresh-otp or worker")
	flag.IntVar(&opts.jobIndex, "job", -1, "Run specific job by index (cli mode only, -1 for all jobs)")
	flag.StringVar(&opts.jobsFile, "jobs", cli.DefaultJobsFile, "Jobs file (cli mode)")
	flag.StringVar(&opts.bookingsFile, "bookings", cli.DefaultBookingsFile, "File successful bookings are appended to")
	flag.StringVar(&opts.filters.DateFrom, "from", "", "Search: first departure date, YYYY/MM/DD")
	flag.StringVar(&opts.filters.DateTo, "to", "", "Search: last departure date, YYYY/MM/DD")
	flag.StringVar(&opts.filters.ProvinceCode, "province", "", "Search: province code (1000 for all)")
	flag.StringVar(&opts.filters.BorderType, "border", "", "Search: 1 land, 2 air, 128 accommodation, 129 flight only")
	flag.IntVar(&opts.filters.AdultCount, "adults", 0, "Search: adult count")
	flag.IntVar(&opts.filters.InfantCount, "infants", 0, "Search: infant count")
	flag.StringVar(&opts.resID, "res", "", "Receipt: portal reservation id")
	flag.BoolVar(&opts.enqueue, "enqueue", false, "refresh-otp: queue the task for the worker instead of running it here")
	flag.IntVar(&opts.captchaAttempts, "captcha-attempts", 0, "auth: store a new CAPTCHA attempt budget first")
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

	// run returns only after its deferred cleanups, so Chrome and the
	// database connection are released before exiting.
	err = run(cfg, opts, lg)
	if err != nil {
		lg.Error("❌ "+opts.mode+" failed", zap.Error(err))
	}
	_ = lg.Sync()
	if err != nil {
		os.Exit(1)
	}
}

func run(cfg config.Config, opts options, lg *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Queueing needs only Redis.
	if opts.mode == "refresh-otp" && opts.enqueue {
		info, err := cron.Enqueue(cfg)
		if err != nil {
			return fmt.Errorf("failed to enqueue OTP refresh: %w", err)
		}
		lg.Info("OTP refresh queued", zap.String("id", info.ID), zap.String("queue", info.Queue))
		return nil
	}

	var db *mongo.Database
	if cfg.DatabaseURL != "" {
		client, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			lg.Warn("MongoDB unavailable, falling back to local files", zap.Error(err))
		} else {
			defer func() { _ = client.Disconnect(context.Background()) }()
			db = client.Database(cfg.DatabaseName)
		}
	}

	rt := adapter.Build(cfg, db, recognizer(cfg), lg)
	defer rt.Close()

	var repo reservations.Repository = reservations.NewMemoryRepository()
	if db != nil {
		repo = reservations.NewMongoRepository(db)
	}
	records := reservations.NewService(repo, rt.Exists, reservations.Options{
		Buffer:    cfg.RevalidateBuffer,
		PerMinute: cfg.RevalidateRate,
	}, lg)

	switch opts.mode {
	case "cli":
		lg.Info("⚡ Starting CLI mode...")
		jobs, err := cli.LoadJobs(opts.jobsFile)
		if err != nil {
			return err
		}
		runner := cli.NewRunner(rt.Adapter, records, opts.bookingsFile, lg)
		if opts.jobIndex >= 0 {
			lg.Info("Running single job", zap.Int("index", opts.jobIndex))
			return runner.RunSingle(ctx, jobs, opts.jobIndex)
		}
		lg.Info("Running all jobs from config...")
		runner.Run(ctx, jobs)
		return nil

	case "search":
		return cli.Search(ctx, rt.Adapter, opts.filters, os.Stdout)

	case "auth":
		if opts.captchaAttempts > 0 {
			if db == nil {
				return errors.New("storing the CAPTCHA budget needs DATABASE_URL")
			}
			if err := session.NewMongoStore(db).SetCaptchaMaxAttempts(ctx, opts.captchaAttempts); err != nil {
				return fmt.Errorf("could not store CAPTCHA budget: %w", err)
			}
		}
		return cli.Auth(ctx, rt.Adapter, os.Stdout)

	case "receipt":
		return cli.Receipt(ctx, rt.Adapter, opts.resID, os.Stdout)

	case "status":
		if db == nil {
			lg.Warn("No database configured, only this process's reservations are listed")
		}
		return cli.Status(ctx, records, os.Stdout)

	case "refresh-otp":
		return cli.RefreshOTP(ctx, rt.Refresher, os.Stdout)

	case "worker":
		w := cron.NewWorker(cfg, rt.Refresher, lg)
		if err := w.Start(); err != nil {
			return fmt.Errorf("could not start worker: %w", err)
		}
		lg.Info("🚀 Worker running, press Ctrl+C to stop")
		<-ctx.Done()
		w.Shutdown()
		return nil

	default:
		return fmt.Errorf("invalid mode %q", opts.mode)
	}
}

func recognizer(cfg config.Config) captcha.Recognizer {
	if cfg.CaptchaEngine == "tesseract" {
		return tesseract.New()
	}
	return captcha.NewCommandRecognizer(cfg.OCRCommand, cfg.OCRArgs)
}

func printHelp() {
	fmt.Println(`
Atabat Scraper - Pilgrimage Reservation Automation
==================================================

Usage:
  atabat-scraper [options]

Options:
  -mode string
        cli, search, auth, receipt, status, refresh-otp or worker (default "cli")

  -job int
        Run specific job by index in CLI mode
        Use -1 to run all jobs (default -1)

  -jobs string      Jobs file (default "jobs_config.json")
  -bookings string  Bookings output file (default "bookings.json")

  -from, -to, -province, -border, -adults, -infants
        Search filters (search mode)

  -res string       Reservation id (receipt mode)
  -enqueue          Queue the OTP refresh for the worker (refresh-otp mode)
  -captcha-attempts Store a new CAPTCHA attempt budget (auth mode)

  -help
        Show this help message

Set USE_MOCK_SCRAPER=true to run against the in-memory portal.

Examples:
  # Run all jobs
  ./atabat-scraper -mode=cli

  # Run the first job only
  ./atabat-scraper -mode=cli -job=0

  # Search Tehran trips in Dey 1404
  ./atabat-scraper -mode=search -from=1404/10/01 -to=1404/10/30 -province=17

  # Print a receipt
  ./atabat-scraper -mode=receipt -res=123456

  # Run the nightly OTP refresh worker
  ./atabat-scraper -mode=worker
`)
}
