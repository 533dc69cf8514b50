package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/phenrril/jeanstore/internal/app"
	"github.com/phenrril/jeanstore/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cliApp := &cli.App{
		Name:  "jeanstore",
		Usage: "storefront catalog, cart and checkout tooling",
		Commands: []*cli.Command{
			migrateCmd(),
			seedCmd(),
			productsCmd(),
			categoriesCmd(),
			exportCmd(),
			importCmd(),
			imageCmd(),
			registerCmd(),
			loginCmd(),
			logoutCmd(),
			resetPasswordCmd(),
			googleCmd(),
			cartCmd(),
			checkoutCmd(),
			ordersCmd(),
			serveCmd(),
		},
	}
	if err := cliApp.RunContext(ctx, os.Args); err != nil {
		zlog.Fatal().Err(err).Msg("jeanstore")
	}
}

func setupLogging(cfg *config.Config) {
	zerolog.TimeFieldFormat = time.RFC3339
	if lvl, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel)); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	if !cfg.Production() {
		zlog.Logger = zlog.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

// withApp loads configuration, builds the App and starts its session before running fn.
func withApp(fn func(c *cli.Context, a *app.App) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		setupLogging(cfg)

		a, err := app.NewApp(c.Context, cfg)
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.Start(c.Context); err != nil {
			return err
		}
		select {
		case <-a.Session.Ready():
		case <-time.After(10 * time.Second):
			zlog.Warn().Msg("auth session not ready, continuing signed out")
		case <-c.Context.Done():
			return c.Context.Err()
		}
		return fn(c, a)
	}
}
