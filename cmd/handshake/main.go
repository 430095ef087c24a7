package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/aussiebroadwan/handshake/internal/handshake/app"
	"github.com/aussiebroadwan/handshake/internal/handshake/store/drivers/sqlite"
)

var flagPort = &cli.IntFlag{
	Name:    "port",
	Usage:   "HTTP listen port",
	EnvVars: []string{"HANDSHAKE_PORT"},
}

var flagPublicURL = &cli.StringFlag{
	Name:    "public-url",
	Usage:   "base URL applicants reach the service at; pre-signed upload targets use it",
	EnvVars: []string{"HANDSHAKE_PUBLIC_URL"},
}

var flagDBFile = &cli.StringFlag{
	Name:    "db-file",
	Usage:   "path to the SQLite database",
	EnvVars: []string{"HANDSHAKE_DB_FILE"},
}

var flagMasterKeyFile = &cli.StringFlag{
	Name:    "master-key-file",
	Usage:   "path to the master key; without one an ephemeral key is generated",
	EnvVars: []string{"HANDSHAKE_MASTER_KEY_FILE"},
}

var flagLogLevel = &cli.StringFlag{
	Name:    "log-level",
	Usage:   "debug, info, warn or error",
	EnvVars: []string{"LOG_LEVEL"},
}

var flagLogFormat = &cli.StringFlag{
	Name:    "log-format",
	Usage:   "json or text",
	EnvVars: []string{"LOG_FORMAT"},
}

var flagBlobBackend = &cli.StringFlag{
	Name:    "blob-backend",
	Usage:   "where verified uploads are stored: file or s3",
	EnvVars: []string{"HANDSHAKE_BLOB_BACKEND"},
}

func main() {
	cliApp := &cli.App{
		Name:           "handshake",
		Usage:          "multi-stage trust handshake server for remote applicants",
		Version:        app.BuildVersion,
		DefaultCommand: "serve",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "run the HTTP server",
				Flags: []cli.Flag{
					flagPort,
					flagPublicURL,
					flagDBFile,
					flagMasterKeyFile,
					flagLogLevel,
					flagLogFormat,
					flagBlobBackend,
				},
				Action: func(cCtx *cli.Context) error {
					cfg := applyFlags(cCtx, app.LoadConfig())

					application, err := app.New(cfg)
					if err != nil {
						return fmt.Errorf("failed to initialize application: %w", err)
					}
					return application.Run()
				},
			},
			{
				Name:  "migrate",
				Usage: "manage the database schema",
				Flags: []cli.Flag{flagDBFile},
				Subcommands: []*cli.Command{
					{
						Name:  "up",
						Usage: "apply all pending migrations",
						Action: func(cCtx *cli.Context) error {
							return withStore(cCtx, func(s *sqlite.Store) error {
								return s.ApplyMigrations()
							})
						},
					},
					{
						Name:  "down",
						Usage: "roll back every migration",
						Action: func(cCtx *cli.Context) error {
							return withStore(cCtx, func(s *sqlite.Store) error {
								return s.MigrateDown()
							})
						},
					},
					{
						Name:  "version",
						Usage: "print the current schema version",
						Action: func(cCtx *cli.Context) error {
							return withStore(cCtx, func(s *sqlite.Store) error {
								v, dirty, err := s.SchemaVersion()
								if err != nil {
									return err
								}
								fmt.Printf("version %d (dirty: %t)\n", v, dirty)
								return nil
							})
						},
					},
				},
			},
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		log.Fatalf("handshake: %v", err)
	}
}

// applyFlags overrides the environment configuration with flags given on
// the command line.
func applyFlags(cCtx *cli.Context, cfg app.Config) app.Config {
	if cCtx.IsSet(flagPort.Name) {
		cfg.Port = cCtx.Int(flagPort.Name)
	}
	if cCtx.IsSet(flagPublicURL.Name) {
		cfg.PublicURL = cCtx.String(flagPublicURL.Name)
	}
	if cCtx.IsSet(flagDBFile.Name) {
		cfg.DatabaseFile = cCtx.String(flagDBFile.Name)
	}
	if cCtx.IsSet(flagMasterKeyFile.Name) {
		cfg.MasterKeyFile = cCtx.String(flagMasterKeyFile.Name)
	}
	if cCtx.IsSet(flagLogLevel.Name) {
		cfg.LogLevel = cCtx.String(flagLogLevel.Name)
	}
	if cCtx.IsSet(flagLogFormat.Name) {
		cfg.LogFormat = cCtx.String(flagLogFormat.Name)
	}
	if cCtx.IsSet(flagBlobBackend.Name) {
		cfg.BlobBackend = cCtx.String(flagBlobBackend.Name)
	}
	return cfg
}

func withStore(cCtx *cli.Context, fn func(s *sqlite.Store) error) error {
	file := app.LoadConfig().DatabaseFile
	if cCtx.IsSet(flagDBFile.Name) {
		file = cCtx.String(flagDBFile.Name)
	}

	s, err := sqlite.NewStore(sqlite.DSN(file))
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}
