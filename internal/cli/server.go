package cli

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"quiz-session-service/internal/app"
	"quiz-session-service/internal/config"
	"quiz-session-service/internal/events"
	"quiz-session-service/internal/infra/memory"
	"quiz-session-service/internal/infra/postgres"
	redisinfra "quiz-session-service/internal/infra/redis"
	transport "quiz-session-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz session server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var store app.Store = memory.NewStore()
	if cfg.Postgres.URL != "" {
		if err := RunMigrations(ctx, cfg.Postgres.URL); err != nil {
			return err
		}
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		store = postgres.NewStore(pool)
		log.Printf("using postgres store")
	} else {
		log.Printf("using in-memory store; data is lost on restart")
	}

	broker := events.NewBroker()
	relayCtx, stopRelay := context.WithCancel(ctx)
	defer stopRelay()

	quizTTL := config.TTLDuration(cfg.Quiz.CacheTTL, 10*time.Minute)
	var quizzes app.QuizReader = memory.NewQuizCache(store, quizTTL)
	var notifier app.Notifier = broker
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return err
		}
		quizzes = redisinfra.NewQuizCache(client, store, quizTTL)
		// Events travel through Redis and come back to this instance via the relay.
		notifier = redisinfra.NewEventPublisher(client)
		relay := redisinfra.NewEventRelay(client, broker)
		go func() {
			if err := relay.Run(relayCtx, nil); err != nil {
				log.Printf("event relay stopped: %v", err)
			}
		}()
		log.Printf("using redis at %s for cache and events", cfg.Redis.Addr)
	}

	service := app.NewQuizService(store, quizzes, notifier)
	tokens := transport.NewTokenIssuer(cfg.Auth.JWTSecret, config.TTLDuration(cfg.Auth.TokenTTL, 24*time.Hour))
	wsHandler := transport.NewWSHandler(service, broker, tokens, cfg.Server.AllowedOrigins)
	router := transport.NewRouter(transport.NewAPI(service, tokens), wsHandler)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      transport.CORS(router, cfg.Server.AllowedOrigins),
		ReadTimeout:  config.TTLDuration(cfg.Server.ReadTimeout, 15*time.Second),
		WriteTimeout: config.TTLDuration(cfg.Server.WriteTimeout, 15*time.Second),
	}

	go func() {
		log.Printf("starting quiz session service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	stopRelay()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
