package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"

	"github.com/orderpulse/realtime-connector/internal/config"
	"github.com/orderpulse/realtime-connector/internal/platform/db"
	"github.com/orderpulse/realtime-connector/internal/platform/logger"

	"github.com/sirupsen/logrus"
)

var rootCmd = &cobra.Command{
	Use: "migrate_db",
}

var upCmd = &cobra.Command{
	Use:   "upgrade",
	Short: "Upgrade to a later version",
	RunE: func(cmd *cobra.Command, args []string) error {
		return performDbMigration("up")
	},
}

var downCmd = &cobra.Command{
	Use:   "downgrade",
	Short: "Revert to a previous version",
	RunE: func(cmd *cobra.Command, args []string) error {
		return performDbMigration("down")
	},
}

type loggerWrapper struct {
	*logrus.Logger
}

func (lw loggerWrapper) Verbose() bool {
	return true
}

func performDbMigration(direction string) error {

	cfg := config.GetConfig()
	logger.Log.Info("Starting Realtime-Connector DB migration")
	logger.Log.Info("Realtime-Connector configuration:\n", cfg)

	database, err := db.InitializeDatabaseConnection(cfg)
	if err != nil {
		logger.Log.WithFields(logrus.Fields{"error": err}).Error("Unable to initialize database connection")
		return err
	}

	driver, err := postgres.WithInstance(database, &postgres.Config{})
	if err != nil {
		logger.Log.WithFields(logrus.Fields{"error": err}).Error("Unable to get postgres driver from database connection")
		return err
	}

	m, err := migrate.NewWithDatabaseInstance("file://db/migrations", "postgres", driver)
	if err != nil {
		logger.Log.WithFields(logrus.Fields{"error": err}).Error("Unable to initialize database migration util")
		return err
	}

	m.Log = loggerWrapper{logger.Log}

	if direction == "up" {
		err = m.Up()
	} else if direction == "down" {
		err = m.Steps(-1)
	} else {
		return errors.New("Invalid operation")
	}

	if errors.Is(err, migrate.ErrNoChange) {
		logger.Log.Info("DB migration resulted in no changes")
	} else if err != nil {
		logger.Log.WithFields(logrus.Fields{"error": err}).Error("DB migration resulted in an error")
		return err
	}

	return nil
}

func main() {

	logger.InitLogger()

	rootCmd.AddCommand(upCmd)
	rootCmd.AddCommand(downCmd)

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
