package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"github.com/webitel/im-chat-delivery/config"
)

const (
	ServiceName      = "im-chat-delivery"
	ServiceNamespace = "webitel"
)

var (
	version        = "0.0.0"
	commit         = "hash"
	commitDate     = time.Now().String()
	branch         = "branch"
	buildTimestamp = ""
)

func Run() error {
	app := &cli.App{
		Name:  ServiceName,
		Usage: "Chat delivery service: global room, private chats and live push",
		Commands: []*cli.Command{
			serverCmd(),
			versionCmd(),
		},
	}

	return app.Run(os.Args)
}

func serverCmd() *cli.Command {
	return &cli.Command{
		Name:      "server",
		Aliases:   []string{"s"},
		Usage:     "Run the HTTP/WebSocket server",
		ArgsUsage: "[-- --service.addr=:8000 ...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config_file",
				Usage:   "Path to the configuration file",
				EnvVars: []string{config.EnvPrefix + "_CONFIG_FILE"},
			},
			&cli.StringFlag{
				Name:  "env_file",
				Usage: "Optional dotenv file loaded before the configuration",
				Value: ".env",
			},
		},
		Action: func(c *cli.Context) error {
			// A missing dotenv file is fine; a broken one is not.
			if err := godotenv.Load(c.String("env_file")); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("load %s: %w", c.String("env_file"), err)
			}

			cfg, err := config.LoadConfig(c.String("config_file"), c.Args().Slice())
			if err != nil {
				return err
			}
			app := NewApp(cfg)

			startCtx, cancel := context.WithTimeout(c.Context, cfg.Service.ShutdownTimeout)
			defer cancel()
			if err := app.Start(startCtx); err != nil {
				return err
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop

			slog.Info("SHUTTING_DOWN", "timeout", cfg.Service.ShutdownTimeout)
			stopCtx, cancelStop := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout)
			defer cancelStop()
			return app.Stop(stopCtx)
		},
	}
}

func versionCmd() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print build information",
		Action: func(c *cli.Context) error {
			_, err := fmt.Fprintf(c.App.Writer, "%s %s (commit %s, %s, branch %s, built %s)\n",
				ServiceName, version, commit, commitDate, branch, buildTimestamp)
			return err
		},
	}
}
