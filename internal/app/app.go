package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/alexedwards/scs/goredisstore"
	"github.com/alexedwards/scs/v2"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/metinatakli/ride-checkout/internal/booking"
	"github.com/metinatakli/ride-checkout/internal/checkout"
	"github.com/metinatakli/ride-checkout/internal/domain"
	"github.com/metinatakli/ride-checkout/internal/mailer"
	"github.com/metinatakli/ride-checkout/internal/middleware"
	"github.com/metinatakli/ride-checkout/internal/payment"
	"github.com/metinatakli/ride-checkout/internal/realtime"
	"github.com/metinatakli/ride-checkout/internal/repository"
	appvalidator "github.com/metinatakli/ride-checkout/internal/validator"
	"github.com/metinatakli/ride-checkout/internal/vcs"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"github.com/riandyrn/otelchi"
)

var (
	version = vcs.Version()
)

const (
	transportRedis     = "redis"
	transportWebSocket = "websocket"
)

// seatPublisher announces a ride's new occupancy to its room.
type seatPublisher interface {
	PublishSeats(ctx context.Context, rideID string, occupied []int) error
}

type application struct {
	config         config
	logger         *slog.Logger
	redis          redis.UniversalClient
	validator      *validator.Validate
	mailer         mailer.Mailer
	sessionManager *scs.SessionManager

	rideRepo     domain.RideRepository
	feed         domain.SeatFeed
	widget       paymentGateway
	publisher    seatPublisher
	newCommitter func(token string) domain.BookingCommitter

	checkouts *checkoutRegistry
	wg        sync.WaitGroup
}

type config struct {
	port       int
	env        string
	backendUrl string
	checkout   checkout.Config
	// checkoutIdleTimeout closes checkouts nobody has polled for this long.
	checkoutIdleTimeout time.Duration
	realtime            struct {
		transport         string
		wsUrl             string
		reconnectAttempts int
		reconnectDelay    time.Duration
	}
	redis struct {
		url          string
		maxOpenConns int
		maxIdleConns int
		maxIdleTime  time.Duration
	}
	smtp struct {
		host     string
		port     int
		username string
		password string
		sender   string
	}
	stripe struct {
		secretKey     string
		webhookSecret string
		successUrl    string
		cancelUrl     string
	}
	otelCollectorUrl string
}

func Run() error {
	var cfg config

	defaults := checkout.DefaultConfig()

	flag.IntVar(&cfg.port, "port", 3000, "server port")
	flag.StringVar(&cfg.env, "env", "dev", "Environment (dev|staging|prod)")
	flag.StringVar(&cfg.backendUrl, "backend-url", "http://localhost:5000/api", "Ride backend base URL")

	flag.DurationVar(&cfg.checkout.PaymentWindow, "payment-window", defaults.PaymentWindow, "How long a payment attempt may wait for the widget")
	flag.DurationVar(&cfg.checkout.CommitTimeout, "commit-timeout", defaults.CommitTimeout, "Booking commit request timeout")
	flag.DurationVar(&cfg.checkout.FetchTimeout, "fetch-timeout", defaults.FetchTimeout, "Ride fetch and seat verification timeout")
	flag.StringVar(&cfg.checkout.Currency, "currency", defaults.Currency, "Payment currency")
	flag.DurationVar(&cfg.checkoutIdleTimeout, "checkout-idle-timeout", 30*time.Minute, "Close checkouts not polled for this long")

	flag.StringVar(&cfg.realtime.transport, "realtime-transport", transportRedis, "Seat update transport (redis|websocket)")
	flag.StringVar(&cfg.realtime.wsUrl, "ws-url", "ws://localhost:5000/socket", "Seat update WebSocket URL")
	flag.IntVar(&cfg.realtime.reconnectAttempts, "reconnect-attempts", 5, "Seat update connection attempts")
	flag.DurationVar(&cfg.realtime.reconnectDelay, "reconnect-delay", time.Second, "Delay between seat update connection attempts")

	flag.StringVar(&cfg.redis.url, "redis-url", "", "Redis URL")
	flag.IntVar(&cfg.redis.maxOpenConns, "redis-max-open-conns", 25, "Redis max open connections")
	flag.IntVar(&cfg.redis.maxIdleConns, "redis-max-idle-conns", 10, "Redis max idle connections")
	flag.DurationVar(&cfg.redis.maxIdleTime, "redis-max-idle-time", 2*time.Minute, "Redis max idle time for connections")

	flag.StringVar(&cfg.smtp.host, "smtp-host", "sandbox.smtp.mailtrap.io", "SMTP host")
	flag.IntVar(&cfg.smtp.port, "smtp-port", 2525, "SMTP port")
	flag.StringVar(&cfg.smtp.username, "smtp-username", "", "SMTP username")
	flag.StringVar(&cfg.smtp.password, "smtp-password", "", "SMTP password")
	flag.StringVar(&cfg.smtp.sender, "smtp-sender", "Rides <no-reply@rides.example.com>", "SMTP sender")

	flag.StringVar(&cfg.stripe.secretKey, "stripe-key", "", "Stripe secret key")
	flag.StringVar(&cfg.stripe.webhookSecret, "stripe-webhook-secret", "", "Stripe webhook secret")
	flag.StringVar(&cfg.stripe.successUrl, "stripe-success-url", "https://example.com/success.html", "Stripe payment success page")
	flag.StringVar(&cfg.stripe.cancelUrl, "stripe-cancel-url", "http://localhost:3000/payments/{reference}/cancel", "Stripe payment cancel URL")

	flag.StringVar(&cfg.otelCollectorUrl, "otel-collector-url", "", "OpenTelemetry collector gRPC endpoint")

	displayVersion := flag.Bool("version", false, "Display version and exit")

	flag.Parse()

	if *displayVersion {
		fmt.Printf("Version:\t%s\n", version)
		os.Exit(0)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	validator := appvalidator.NewValidator()

	redisClient, err := newRedisClient(cfg)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	httpClient := &http.Client{Timeout: cfg.checkout.CommitTimeout + 5*time.Second}

	app := &application{
		config:         cfg,
		logger:         logger,
		redis:          redisClient,
		validator:      validator,
		mailer:         mailer.NewSMTPMailer(cfg.smtp.host, cfg.smtp.port, cfg.smtp.username, cfg.smtp.password, cfg.smtp.sender),
		sessionManager: newSessionManager(redisClient),
		checkouts:      newCheckoutRegistry(),
	}

	shutdownTelemetry, err := app.initTelemetry()
	if err != nil {
		return err
	}
	defer shutdownTelemetry(context.Background())

	app.rideRepo = repository.NewHTTPRideRepository(cfg.backendUrl, httpClient, validator)
	app.widget = payment.NewStripeWidget(
		cfg.stripe.secretKey, cfg.stripe.webhookSecret, cfg.stripe.successUrl, cfg.stripe.cancelUrl, app.logger)
	app.newCommitter = func(token string) domain.BookingCommitter {
		return booking.NewCommitClient(cfg.backendUrl, httpClient, booking.StaticToken(token), validator, app.logger)
	}

	policy := realtime.ReconnectPolicy{Attempts: cfg.realtime.reconnectAttempts, Delay: cfg.realtime.reconnectDelay}

	switch cfg.realtime.transport {
	case transportRedis:
		app.feed = realtime.NewRedisFeed(redisClient, policy, app.logger)
		app.publisher = realtime.NewRedisPublisher(redisClient)
	case transportWebSocket:
		app.feed = realtime.NewWebSocketFeed(cfg.realtime.wsUrl, nil, policy, app.logger)
	default:
		return fmt.Errorf("unknown realtime transport %q", cfg.realtime.transport)
	}

	return app.run()
}

func newSessionManager(client *redis.Client) *scs.SessionManager {
	sessionManager := scs.New()

	sessionManager.Store = goredisstore.New(client)
	sessionManager.IdleTimeout = 20 * time.Minute
	sessionManager.Cookie.Name = "session_id"

	return sessionManager
}

func newRedisClient(cfg config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:            cfg.redis.url,
		MaxIdleConns:    cfg.redis.maxIdleConns,
		MaxActiveConns:  cfg.redis.maxOpenConns,
		ConnMaxIdleTime: cfg.redis.maxIdleTime,
	})

	err := errors.Join(redisotel.InstrumentTracing(rdb), redisotel.InstrumentMetrics(rdb))
	if err != nil {
		rdb.Close()
		return nil, fmt.Errorf("instrument redis client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	err = rdb.Ping(ctx).Err()
	if err != nil {
		rdb.Close()
		return nil, err
	}

	return rdb, nil
}

func (app *application) run() error {
	srv := &http.Server{
		Addr:         fmt.Sprintf("0.0.0.0:%d", app.config.port),
		Handler:      app.routes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		ErrorLog:     slog.NewLogLogger(app.logger.Handler(), slog.LevelDebug),
	}

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()

	go app.sweepCheckouts(sweepCtx, time.Minute)

	shutdownError := make(chan error)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		s := <-quit

		app.logger.Info("shutting down server", "signal", s.String())

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		err := srv.Shutdown(ctx)
		if err != nil {
			shutdownError <- err
		}

		app.closeAllCheckouts()

		app.logger.Info("completing background tasks", "addr", srv.Addr)

		app.wg.Wait()
		shutdownError <- nil
	}()

	app.logger.Info("starting server", "addr", srv.Addr, "env", app.config.env)

	err := srv.ListenAndServe()
	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	err = <-shutdownError
	if err != nil {
		return err
	}

	app.logger.Info("stopped server", "addr", srv.Addr)

	return nil
}

// closeAllCheckouts closes every open checkout and waits for in-flight commits to resolve, so a
// payment that already went through is not left without a booking attempt.
func (app *application) closeAllCheckouts() {
	entries := app.checkouts.drain()

	for _, e := range entries {
		err := e.session.Close()
		if err != nil {
			app.logger.Warn("failed to close checkout", "checkout_id", e.session.ID(), "error", err)
		}
	}

	for _, e := range entries {
		<-e.session.Done()
	}
}

func (app *application) sweepCheckouts(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, e := range app.checkouts.expired(app.config.checkoutIdleTimeout) {
				app.logger.Info("closing idle checkout", "checkout_id", e.session.ID())

				err := e.session.Close()
				if err != nil {
					app.logger.Warn("failed to close checkout", "checkout_id", e.session.ID(), "error", err)
				}
			}
		}
	}
}

func (app *application) routes() http.Handler {
	r := chi.NewRouter()

	r.NotFound(middleware.NotFoundHandler)
	r.MethodNotAllowed(middleware.MethodNotAllowedHandler)

	r.Use(otelchi.Middleware("ride-checkout-gateway", otelchi.WithChiRoutes(r)))
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(middleware.RecoverPanic(app.logger))

	r.Get("/healthcheck", app.GetHealth)

	// The provider calls these without a browser session.
	r.Post("/webhook", app.PaymentWebhook)
	r.Get("/payments/{reference}/cancel", app.CancelPayment)

	r.Group(func(r chi.Router) {
		r.Use(app.sessionManager.LoadAndSave)

		r.Put("/session", app.PutSession)

		r.Route("/checkout", func(r chi.Router) {
			r.Use(app.requireToken)

			r.Post("/", app.OpenCheckout)

			r.Group(func(r chi.Router) {
				r.Use(app.requireCheckout)

				r.Get("/", app.GetCheckout)
				r.Delete("/", app.CloseCheckout)
				r.Post("/seats/{seatId}", app.ToggleSeat)
				r.Post("/payment", app.RequestPayment)
				r.Post("/reset", app.ResetCheckout)
			})
		})
	})

	return r
}
