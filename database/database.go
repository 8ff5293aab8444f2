// Package database wires up the Postgres connection backing the Segment
// Catalog (C2), mirroring the teacher's gorm.io/driver/postgres setup.
package database

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"relaycore/config"
	"relaycore/models"
	"relaycore/segments"
)

// Initialize opens the Postgres connection and migrates every GORM-backed
// model the core owns: segments (C2) and the external auth collaborator's
// user table (spec.md section 1, "explicitly out of scope").
func Initialize(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		cfg.Host, cfg.User, cfg.Password, cfg.DBName, cfg.Port, cfg.SSLMode,
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("database: connect: %w", err)
	}

	if err := segments.Migrate(db); err != nil {
		return nil, fmt.Errorf("database: migrate segments: %w", err)
	}
	if err := db.AutoMigrate(&models.User{}); err != nil {
		return nil, fmt.Errorf("database: migrate users: %w", err)
	}

	log.Info().Msg("database: initialized")
	return db, nil
}
