// Command login authorizes a Telegram account interactively and stores its
// session so the vault service can connect it.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Conte777/tgvault/config"
	"github.com/Conte777/tgvault/internal/infrastructure/database"
	"github.com/Conte777/tgvault/internal/infrastructure/logger"
	"github.com/Conte777/tgvault/internal/infrastructure/telegram"
)

func main() {
	phone := flag.String("phone", "", "phone number of the account in international format")
	backup := flag.Bool("backup", false, "register the account in the backup pool")
	flag.Parse()

	if err := run(*phone, *backup); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(phone string, backup bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(cfg.Logging.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}()

	if err := database.RunMigrations(db, &cfg.Database); err != nil {
		return err
	}

	accountID, err := telegram.Login(ctx, db, &cfg.Telegram, telegram.LoginOptions{
		Phone:  phone,
		Backup: backup,
	}, &telegram.ConsolePrompt{In: os.Stdin, Out: os.Stdout}, log)
	if err != nil {
		return err
	}

	fmt.Printf("Account %d is logged in\n", accountID)
	return nil
}
