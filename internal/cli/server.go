package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"wedding-quiz-service/internal/app"
	"wedding-quiz-service/internal/config"
	"wedding-quiz-service/internal/domain"
	"wedding-quiz-service/internal/infra/memory"
	natsrelay "wedding-quiz-service/internal/infra/nats"
	"wedding-quiz-service/internal/infra/postgres"
	redisinfra "wedding-quiz-service/internal/infra/redis"
	transport "wedding-quiz-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
	cmd.Flags().StringVar(port, "port", "", "port to listen on (overrides config)")
	return cmd
}

// gameStore is what the server needs from a backend: the game ports plus
// question loading for the cache.
type gameStore interface {
	app.Store
	memory.QuestionLoader
}

type runningRelay interface {
	app.Publisher
	Run(ctx context.Context) error
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if portFlag != "" {
		cfg.Server.Port = portFlag
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	hub := app.NewHub()
	var publisher app.Publisher = hub
	var relay runningRelay

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	var questions app.QuestionRepository = memory.NewQuestionRepository(store, quizTTL, clock)

	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		questions = redisinfra.NewQuestionRepository(redisClient, store, config.TTLDuration(cfg.Redis.TTL, quizTTL))
		relay = redisinfra.NewRelay(redisClient, cfg.Redis.Channel, hub)
	}
	if cfg.NATS.URL != "" {
		nc, err := natsrelay.Connect(cfg.NATS.URL)
		if err != nil {
			return err
		}
		defer nc.Close()
		// NATS takes over propagation when both are configured.
		relay = natsrelay.NewRelay(nc, cfg.NATS.Subject, hub)
	}
	if relay != nil {
		publisher = relay
	}

	game := app.NewGameService(store, publisher, clock)
	scoring := app.NewScoringService(store, questions, app.Scorer{RankBonuses: cfg.Quiz.RankBonuses}, publisher, clock)
	presence := app.NewPresenceService(store, clock, cfg.StaleAfter())

	mux := http.NewServeMux()
	transport.NewAPI(game, scoring, presence, cfg.Quiz.LeaderboardSize).Register(mux)
	mux.HandleFunc("GET /ws", transport.NewWSHandler(hub, scoring, presence, originChecker(cfg.Server.AllowedOrigins)).ServeWS)

	c := cors.New(cors.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"*"},
	})
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      c.Handler(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("port", cfg.Server.Port).Msg("starting wedding quiz service")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if relay != nil {
		g.Go(func() error {
			// Without the relay this instance still serves its own clients.
			if err := relay.Run(gctx); err != nil {
				log.Error().Err(err).Msg("realtime relay stopped")
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg config.Config) (gameStore, func(), error) {
	if cfg.Postgres.URL == "" {
		log.Warn().Msg("postgres not configured, using in-memory store with sample questions")
		mem := memory.NewStore(cfg.Quiz.QuestionTimeLimit, cfg.Quiz.QuestionSet)
		mem.AddQuestions(sampleQuestions(cfg.Quiz.QuestionSet)...)
		for _, id := range cfg.Quiz.Admins {
			mem.AddAdmin(id)
		}
		return mem, func() {}, nil
	}

	if err := runMigrations(ctx, cfg); err != nil {
		return nil, nil, err
	}
	pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
	if err != nil {
		return nil, nil, err
	}
	store := postgres.NewStore(pool)
	for _, id := range cfg.Quiz.Admins {
		if err := store.AddAdmin(ctx, id); err != nil {
			pool.Close()
			return nil, nil, err
		}
	}
	return store, pool.Close, nil
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return nil
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// sampleQuestions seeds the in-memory store for local runs.
func sampleQuestions(set string) []domain.Question {
	base := domain.Question{
		Category:              set,
		IsActive:              true,
		Points:                100,
		TimeLimit:             5,
		PenaltyEnabled:        true,
		PenaltyScore:          50,
		TimeoutPenaltyEnabled: true,
		TimeoutPenaltyScore:   10,
		SpeedBonusEnabled:     true,
		MaxBonusPoints:        20,
	}
	rows := []struct {
		text    string
		options [4]string
		correct domain.Choice
	}{
		{"Where did the couple first meet?", [4]string{"At work", "At university", "On a train", "Through friends"}, domain.ChoiceB},
		{"Who proposed?", [4]string{"The bride", "The groom", "Both at once", "Their dog"}, domain.ChoiceA},
		{"Where is the honeymoon?", [4]string{"Kyoto", "Lisbon", "Bali", "Reykjavik"}, domain.ChoiceC},
	}
	out := make([]domain.Question, 0, len(rows))
	for i, row := range rows {
		q := base
		q.ID = domain.QuestionID(i + 1)
		q.DisplayOrder = i + 1
		q.Text = row.text
		q.Options = row.options
		q.CorrectAnswer = row.correct
		out = append(out, q)
	}
	return out
}
