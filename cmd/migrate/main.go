package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/odyssey-erp/lotledger/internal/app"
	"github.com/odyssey-erp/lotledger/internal/platform/db"
)

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	cmd := "up"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}
	if err := run(cfg.PGDSN, cmd); err != nil {
		logger.Error("migrate", slog.String("command", cmd), slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("migrate done", slog.String("command", cmd))
}

func run(dsn, cmd string) (err error) {
	if cmd != "up" && cmd != "down" && cmd != "version" {
		return fmt.Errorf("unknown command %q (want up, down or version)", cmd)
	}
	m, err := db.NewMigrator(dsn)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, m.Close())
	}()

	switch cmd {
	case "up":
		return m.Up()
	case "down":
		return m.Down()
	default:
		version, dirty, err := m.Version()
		if err != nil {
			return err
		}
		fmt.Printf("version=%d dirty=%t\n", version, dirty)
		return nil
	}
}
