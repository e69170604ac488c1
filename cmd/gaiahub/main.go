package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/stacks-network/gaia-hub/common"
	"github.com/stacks-network/gaia-hub/drivers"
	"github.com/stacks-network/gaia-hub/httpserver"
	"github.com/stacks-network/gaia-hub/hub"
	"github.com/stacks-network/gaia-hub/interfaces"
	"github.com/stacks-network/gaia-hub/proofs"
)

var flags []cli.Flag = []cli.Flag{
	&cli.StringFlag{
		Name:  "listen-addr",
		Value: "127.0.0.1:3000",
		Usage: "address to listen on for API",
	},
	&cli.StringFlag{
		Name:  "metrics-addr",
		Value: "127.0.0.1:9153",
		Usage: "address to listen on for Prometheus metrics, empty disables",
	},
	&cli.StringFlag{
		Name:     "server-name",
		Value:    "gaia.local",
		Usage:    "hub name used in challenge texts and hub URLs",
		Required: false,
	},
	&cli.StringFlag{
		Name:  "driver",
		Value: "disk",
		Usage: "storage driver: disk, memory, s3, azure or ipfs",
	},
	&cli.StringFlag{
		Name:  "read-url",
		Value: "",
		Usage: "public URL prefix objects are served under",
	},
	&cli.BoolFlag{
		Name:  "require-correct-hub-url",
		Value: false,
		Usage: "require tokens to carry a hubUrl claim naming this hub",
	},
	&cli.StringSliceFlag{
		Name:  "valid-hub-url",
		Usage: "additional hub URLs accepted in token hubUrl claims",
	},
	&cli.StringSliceFlag{
		Name:  "whitelist",
		Usage: "addresses allowed to write; empty allows all",
	},
	&cli.Int64Flag{
		Name:  "max-file-upload-size-mb",
		Value: 20,
		Usage: "maximum object size in megabytes",
	},
	&cli.IntFlag{
		Name:  "page-size",
		Value: 100,
		Usage: "listing page size",
	},
	&cli.IntFlag{
		Name:  "auth-timestamp-cache-size",
		Value: 50000,
		Usage: "number of revocation watermarks to cache in memory",
	},
	&cli.IntFlag{
		Name:  "proofs-required",
		Value: 0,
		Usage: "number of social proofs required to write, 0 disables checking",
	},
	&cli.StringFlag{
		Name:  "cache-control",
		Value: "",
		Usage: "Cache-Control header stored on written objects",
	},
	&cli.StringFlag{
		Name:  "disk-root",
		Value: "/tmp/gaia-disk",
		Usage: "root directory for the disk driver",
	},
	&cli.StringFlag{
		Name:  "s3-bucket",
		Value: "",
		Usage: "bucket name for the s3 driver",
	},
	&cli.StringFlag{
		Name:  "s3-region",
		Value: "",
		Usage: "region for the s3 driver",
	},
	&cli.StringFlag{
		Name:  "s3-endpoint",
		Value: "",
		Usage: "custom endpoint for S3-compatible services",
	},
	&cli.StringFlag{
		Name:    "s3-access-key",
		Value:   "",
		Usage:   "access key for the s3 driver",
		EnvVars: []string{"GAIA_S3_ACCESS_KEY"},
	},
	&cli.StringFlag{
		Name:    "s3-secret-key",
		Value:   "",
		Usage:   "secret key for the s3 driver",
		EnvVars: []string{"GAIA_S3_SECRET_KEY"},
	},
	&cli.StringFlag{
		Name:  "azure-account-name",
		Value: "",
		Usage: "storage account name for the azure driver",
	},
	&cli.StringFlag{
		Name:    "azure-account-key",
		Value:   "",
		Usage:   "storage account key for the azure driver",
		EnvVars: []string{"GAIA_AZURE_ACCOUNT_KEY"},
	},
	&cli.StringFlag{
		Name:  "azure-container",
		Value: "",
		Usage: "container name for the azure driver",
	},
	&cli.StringFlag{
		Name:  "ipfs-api-addr",
		Value: "localhost:5001",
		Usage: "IPFS node API address for the ipfs driver",
	},
	&cli.StringFlag{
		Name:  "ipfs-prefix",
		Value: "/gaia",
		Usage: "MFS directory the ipfs driver stores objects under",
	},
	&cli.BoolFlag{
		Name:  "log-json",
		Value: false,
		Usage: "log in JSON format",
	},
	&cli.BoolFlag{
		Name:  "log-debug",
		Value: false,
		Usage: "log debug messages",
	},
	&cli.BoolFlag{
		Name:  "log-uid",
		Value: false,
		Usage: "generate a uuid and add to all log messages",
	},
	&cli.StringFlag{
		Name:  "log-service",
		Value: "gaia-hub",
		Usage: "add 'service' tag to logs",
	},
	&cli.BoolFlag{
		Name:  "pprof",
		Value: false,
		Usage: "enable pprof debug endpoint",
	},
	&cli.Int64Flag{
		Name:  "drain-seconds",
		Value: 45,
		Usage: "seconds to wait in drain HTTP request",
	},
}

func main() {
	app := &cli.App{
		Name:  "gaiahub",
		Usage: "Serve a multi-tenant storage hub with bearer-token auth",
		Flags: flags,
		Action: func(cCtx *cli.Context) error {
			logger := common.SetupLogger(&common.LoggingOpts{
				Debug:   cCtx.Bool("log-debug"),
				JSON:    cCtx.Bool("log-json"),
				Service: cCtx.String("log-service"),
				Version: common.Version,
			})

			if cCtx.Bool("log-uid") {
				id := uuid.Must(uuid.NewRandom())
				logger = logger.With("uid", id.String())
			}

			driverCfg := &drivers.Config{
				DriverName:        cCtx.String("driver"),
				ReadURL:           cCtx.String("read-url"),
				PageSize:          cCtx.Int("page-size"),
				CacheControl:      cCtx.String("cache-control"),
				DiskRootDirectory: cCtx.String("disk-root"),
				S3Bucket:          cCtx.String("s3-bucket"),
				S3Region:          cCtx.String("s3-region"),
				S3Endpoint:        cCtx.String("s3-endpoint"),
				S3AccessKey:       cCtx.String("s3-access-key"),
				S3SecretKey:       cCtx.String("s3-secret-key"),
				AzureAccountName:  cCtx.String("azure-account-name"),
				AzureAccountKey:   cCtx.String("azure-account-key"),
				AzureContainer:    cCtx.String("azure-container"),
				IPFSAPIAddress:    cCtx.String("ipfs-api-addr"),
				IPFSPrefix:        cCtx.String("ipfs-prefix"),
			}

			logger.Info("Initializing storage driver", "driver", driverCfg.DriverName)
			driver, err := drivers.NewDriver(driverCfg, logger)
			if err != nil {
				logger.Error("Failed to create storage driver", "err", err)
				return err
			}
			initCtx, cancelInit := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancelInit()
			if err := driver.EnsureInitialized(initCtx); err != nil {
				logger.Error("Failed to initialize storage driver", "err", err)
				return err
			}

			var proofChecker interfaces.ProofChecker
			if proofsRequired := cCtx.Int("proofs-required"); proofsRequired > 0 {
				logger.Info("Social proof checking enabled", "proofsRequired", proofsRequired)
				proofChecker = proofs.NewChecker(&proofs.Config{ProofsRequired: proofsRequired}, logger)
			}

			hubServer, err := hub.NewServer(driver, proofChecker, &hub.Config{
				ServerName:             cCtx.String("server-name"),
				Whitelist:              cCtx.StringSlice("whitelist"),
				ReadURL:                cCtx.String("read-url"),
				RequireCorrectHubURL:   cCtx.Bool("require-correct-hub-url"),
				ValidHubURLs:           cCtx.StringSlice("valid-hub-url"),
				MaxFileUploadSize:      cCtx.Int64("max-file-upload-size-mb") * 1024 * 1024,
				PageSize:               cCtx.Int("page-size"),
				AuthTimestampCacheSize: cCtx.Int("auth-timestamp-cache-size"),
			}, logger)
			if err != nil {
				logger.Error("Failed to create hub server", "err", err)
				return err
			}

			srv, err := httpserver.New(&httpserver.HTTPServerConfig{
				ListenAddr:               cCtx.String("listen-addr"),
				MetricsAddr:              cCtx.String("metrics-addr"),
				EnablePprof:              cCtx.Bool("pprof"),
				Log:                      logger,
				DrainDuration:            time.Duration(cCtx.Int64("drain-seconds")) * time.Second,
				GracefulShutdownDuration: 30 * time.Second,
				ReadTimeout:              60 * time.Second,
				WriteTimeout:             60 * time.Second,
			}, hubServer)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			logger.Info("Starting server")
			srv.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			logger.Info("Server is running, press Ctrl+C to stop")
			<-exit
			logger.Info("Shutdown signal received")

			srv.Shutdown()
			if err := driver.Dispose(); err != nil {
				logger.Error("Driver dispose failed", "err", err)
			}
			logger.Info("Server shutdown complete")

			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
