package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"relaycore/auth"
	"relaycore/config"
	"relaycore/core"
	"relaycore/database"
	"relaycore/handlers"
	"relaycore/models"
)

var (
	configFile string
	adminEmail string
	adminName  string
	adminPass  string
)

func main() {
	root := &cobra.Command{
		Use:   "relaycore",
		Short: "NVR stream supervision and media relay daemon",
		RunE:  run,
	}
	root.Flags().StringVarP(&configFile, "config", "c", "./data/streams.ini", "path to the stream Config Store file")

	createAdmin := &cobra.Command{
		Use:   "create-admin",
		Short: "create or reset the operator account used by the external auth layer",
		RunE:  runCreateAdmin,
	}
	createAdmin.Flags().StringVar(&adminEmail, "email", "", "operator email (required)")
	createAdmin.Flags().StringVar(&adminName, "name", "Administrator", "operator display name")
	createAdmin.Flags().StringVar(&adminPass, "password", "", "operator password (required)")
	createAdmin.MarkFlagRequired("email")
	createAdmin.MarkFlagRequired("password")
	root.AddCommand(createAdmin)

	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("startup failed")
		os.Exit(1)
	}
}

// runCreateAdmin bootstraps or resets the operator account row backing the
// external auth collaborator (spec.md section 1 keeps session/credential
// design out of the core's scope, but some table has to hold the hash the
// login endpoint checks against) - adapted from the teacher's
// scripts/create_admin, against this daemon's own User model.
func runCreateAdmin(cmd *cobra.Command, args []string) error {
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("no .env file found, using environment variables")
	}
	cfg := config.LoadAmbient()

	db, err := database.Initialize(cfg.Database)
	if err != nil {
		return fmt.Errorf("database init: %w", err)
	}

	hash, err := auth.HashPassword(adminPass)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	var user models.User
	err = db.Where("email = ?", adminEmail).First(&user).Error
	switch {
	case err == nil:
		user.Password = hash
		user.Name = adminName
		user.Role = "admin"
		if err := db.Save(&user).Error; err != nil {
			return fmt.Errorf("reset admin: %w", err)
		}
		log.Info().Str("email", adminEmail).Msg("admin password reset")
	default:
		user = models.User{Email: adminEmail, Name: adminName, Password: hash, Role: "admin"}
		if err := db.Create(&user).Error; err != nil {
			return fmt.Errorf("create admin: %w", err)
		}
		log.Info().Str("email", adminEmail).Msg("admin account created")
	}
	return nil
}

func run(cmd *cobra.Command, args []string) error {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := godotenv.Load(); err != nil {
		log.Info().Msg("no .env file found, using environment variables")
	}

	cfg := config.LoadAmbient()

	db, err := database.Initialize(cfg.Database)
	if err != nil {
		return fmt.Errorf("database init: %w", err)
	}

	c, err := core.New(cfg, configFile, db)
	if err != nil {
		return fmt.Errorf("core init: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()

	router := handlers.NewRouter(c)
	srv := &http.Server{Addr: ":" + cfg.Server.Port, Handler: router}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("http server stopped")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown did not complete cleanly")
	}

	c.Shutdown()
	return <-errCh
}
