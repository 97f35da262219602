package main

import (
	"context"
	"database/sql"
	"os"
	"time"

	_ "github.com/lib/pq"
	"github.com/safar/checkout-core/internal/config"
	"github.com/safar/checkout-core/internal/logging"
	"github.com/safar/checkout-core/migrations"
	"go.uber.org/zap"
)

func main() {
	logger, err := logging.New(os.Getenv("LOG_LEVEL"))
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if len(os.Args) < 2 {
		logger.Fatal("Usage: go run scripts/run_migrations.go [up|down]")
	}

	direction := os.Args[1]
	files, err := migrations.Files(direction)
	if err != nil {
		logger.Fatal("Resolve migrations", zap.Error(err))
	}

	dbCfg := config.LoadDatabase()

	db, err := sql.Open("postgres", dbCfg.URL)
	if err != nil {
		logger.Fatal("Connect to database", zap.Error(err))
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		logger.Fatal("Ping database", zap.Error(err))
	}

	for _, filename := range files {
		content, err := migrations.FS.ReadFile(filename)
		if err != nil {
			logger.Fatal("Read migration file", zap.String("file", filename), zap.Error(err))
		}

		logger.Info("Running migration", zap.String("file", filename))
		if _, err := db.ExecContext(ctx, string(content)); err != nil {
			logger.Fatal("Execute migration", zap.String("file", filename), zap.Error(err))
		}
	}

	logger.Info("Migrations applied", zap.Int("count", len(files)), zap.String("direction", direction))
}
