package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"wedding-quiz-service/internal/config"
	"wedding-quiz-service/internal/domain"
	"wedding-quiz-service/internal/infra/excel"
	"wedding-quiz-service/internal/infra/postgres"
	redisinfra "wedding-quiz-service/internal/infra/redis"
)

// NewImportQuestionsCmd loads a question bank spreadsheet into Postgres.
func NewImportQuestionsCmd(configPath *string) *cobra.Command {
	var (
		file    string
		set     string
		replace bool
	)
	cmd := &cobra.Command{
		Use:   "import-questions",
		Short: "Import questions from an .xlsx sheet",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if cfg.Postgres.URL == "" {
				return fmt.Errorf("postgres url not configured")
			}
			if set == "" {
				set = cfg.Quiz.QuestionSet
			}

			f, err := os.Open(file)
			if err != nil {
				return err
			}
			defer f.Close()

			questions, skipped, err := excel.ReadQuestions(f, excel.Defaults{Points: 100, TimeLimit: 5})
			if err != nil {
				return err
			}
			for _, rowErr := range skipped {
				log.Warn().Int("row", rowErr.Row).Err(rowErr.Err).Msg("skipping question row")
			}
			if len(questions) == 0 {
				return fmt.Errorf("no valid questions in %s", file)
			}

			ctx := cmd.Context()
			if err := runMigrations(ctx, cfg); err != nil {
				return err
			}
			pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
			if err != nil {
				return err
			}
			defer pool.Close()

			res, err := postgres.NewStore(pool).ImportQuestions(ctx, set, questions, replace)
			if err != nil {
				return err
			}
			log.Info().
				Int("imported", res.Inserted).
				Int("deactivated", len(res.Deactivated)).
				Int("skipped", len(skipped)).
				Str("set", set).
				Msg("questions imported")
			if err := invalidateCachedQuestions(ctx, cfg, res.Deactivated); err != nil {
				// Entries still expire with the cache TTL.
				log.Warn().Err(err).Msg("question cache invalidation failed")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path to the .xlsx question bank")
	cmd.Flags().StringVar(&set, "set", "", "question set to import into (defaults to quiz.question_set)")
	cmd.Flags().BoolVar(&replace, "replace", false, "deactivate the set's existing questions first")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// invalidateCachedQuestions drops replaced questions from the shared Redis
// cache. In-process caches of running servers expire with quiz.ttl.
func invalidateCachedQuestions(ctx context.Context, cfg config.Config, ids []domain.QuestionID) error {
	if cfg.Redis.Addr == "" || len(ids) == 0 {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer client.Close()
	return redisinfra.NewQuestionRepository(client, nil, 0).Invalidate(ctx, ids...)
}

// NewAddAdminCmd grants control rights to one or more line ids.
func NewAddAdminCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "add-admin LINE_ID...",
		Short: "Allow users to issue game control commands",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if cfg.Postgres.URL == "" {
				return fmt.Errorf("postgres url not configured")
			}
			ctx := cmd.Context()
			pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
			if err != nil {
				return err
			}
			defer pool.Close()

			store := postgres.NewStore(pool)
			for _, id := range args {
				if err := store.AddAdmin(ctx, id); err != nil {
					return err
				}
				log.Info().Str("line_id", id).Msg("admin added")
			}
			return nil
		},
	}
}
