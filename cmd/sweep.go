package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"filmforge/internal/pkg/ffmpeg"
	"filmforge/internal/pkg/mongodb"
	"filmforge/internal/pkg/storagefactory"
	"filmforge/internal/pkg/tts"
	billingRepo "filmforge/internal/repository/billing"
	joblockRepo "filmforge/internal/repository/joblock"
	movieRepo "filmforge/internal/repository/movie"
	"filmforge/internal/server"
	movieSvc "filmforge/internal/service/movie"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one orchestrator sweep and exit",
	Long: `Run a single scene-orchestrator sweep against the configured database.
Intended to be invoked by an external scheduler (cron/systemd timer) as an
alternative to the HTTP trigger endpoint. Prints the sweep summary as JSON.`,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	if cfg.Mongo.URI == "" {
		return fmt.Errorf("mongo.uri is required for sweep")
	}

	mongoClient, err := mongodb.New(&cfg.Mongo)
	if err != nil {
		return fmt.Errorf("connect to MongoDB: %w", err)
	}
	defer func() {
		if err := mongoClient.Close(context.Background()); err != nil {
			log.Error().Err(err).Msg("failed to close MongoDB connection")
		}
	}()
	db := mongoClient.Database()

	if err := mongodb.EnsureIndexes(db); err != nil {
		log.Warn().Err(err).Msg("failed to ensure indexes")
	}

	projectRepo := movieRepo.NewProjectRepo(db)
	sceneRepo := movieRepo.NewSceneRepo(db)
	generationRepo := movieRepo.NewGenerationRepo(db)
	creditRepo := billingRepo.NewCreditRepo(db)
	lockRepo := joblockRepo.NewLockRepo(db)

	provider, err := server.NewProvider(&cfg.Generation)
	if err != nil {
		return fmt.Errorf("create generation provider: %w", err)
	}

	var narrator movieSvc.Narrator
	if cfg.TTS.AccessToken != "" {
		ttsClient, err := tts.NewClient(tts.Config{
			APIURL:      cfg.TTS.APIURL,
			AccessToken: cfg.TTS.AccessToken,
			AppID:       cfg.TTS.AppID,
			Cluster:     cfg.TTS.Cluster,
			SampleRate:  cfg.TTS.SampleRate,
		})
		if err != nil {
			return fmt.Errorf("create TTS client: %w", err)
		}
		narrator = ttsClient
	}

	store, err := storagefactory.NewStorage(&cfg.Storage)
	if err != nil {
		return fmt.Errorf("create storage: %w", err)
	}

	media := movieSvc.NewMediaService(ffmpeg.NewClient(), store)
	pricing := movieSvc.NewPricing(cfg.Pipeline.ModelCosts, cfg.Pipeline.DefaultCost)

	machine := movieSvc.NewSceneMachine(
		projectRepo, sceneRepo, generationRepo, creditRepo,
		provider, narrator, media, pricing,
		cfg.Pipeline.MaxRetries, cfg.Generation.CallbackURL,
	)
	orchestrator := movieSvc.NewOrchestrator(
		projectRepo, sceneRepo, lockRepo, machine, media,
		cfg.Pipeline.BatchSize, cfg.Pipeline.LockTTL,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	summary, err := orchestrator.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}

	out, _ := json.MarshalIndent(summary, "", "  ")
	fmt.Println(string(out))
	return nil
}
