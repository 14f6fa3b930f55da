package main

import (
	"fmt"
	"log"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/google/uuid"
	"github.com/shaiss/mpc/api/clusterhandler"
	"github.com/shaiss/mpc/api/migrationhandler"
	"github.com/shaiss/mpc/cluster"
	"github.com/shaiss/mpc/common"
	"github.com/shaiss/mpc/directory"
	"github.com/shaiss/mpc/httpserver"
	"github.com/shaiss/mpc/interfaces"
	"github.com/shaiss/mpc/ledger"
	"github.com/shaiss/mpc/migration"
	"github.com/shaiss/mpc/prober"
	"github.com/shaiss/mpc/sharing"
	"github.com/shaiss/mpc/storage"
	"github.com/urfave/cli/v2"
)

var flags []cli.Flag = []cli.Flag{
	&cli.StringFlag{
		Name:     "node-account",
		Usage:    "ledger account identity of this node (e.g. node0.near)",
		Required: true,
	},
	&cli.StringFlag{
		Name:  "listen-addr",
		Value: "127.0.0.1:8080",
		Usage: "address to listen on for API",
	},
	&cli.StringFlag{
		Name:  "metrics-addr",
		Value: "127.0.0.1:8090",
		Usage: "address to listen on for Prometheus metrics",
	},
	&cli.StringFlag{
		Name:  "rpc-addr",
		Value: "",
		Usage: "Ethereum RPC address for the onchain ledger (empty for in-memory ledger)",
	},
	&cli.StringFlag{
		Name:  "ledger-contract",
		Value: "",
		Usage: "cluster registry contract address (required with rpc-addr)",
	},
	&cli.StringFlag{
		Name:  "ledger-privkey",
		Value: "",
		Usage: "hex private key for ledger transactions (required with rpc-addr)",
	},
	&cli.Int64Flag{
		Name:  "chain-id",
		Value: 1,
		Usage: "chain id for ledger transactions",
	},
	&cli.StringFlag{
		Name:  "export-storage",
		Value: "",
		Usage: "optional storage URI for sealed export archival (file://, s3://, vault://)",
	},
	&cli.BoolFlag{
		Name:  "require-migration-proof",
		Value: true,
		Usage: "reject resharings that drop a participant without a key-share export",
	},
	&cli.IntFlag{
		Name:  "max-attempts",
		Value: 3,
		Usage: "key-event attempts per domain before the run is given up",
	},
	&cli.Int64Flag{
		Name:  "attempt-timeout-seconds",
		Value: 120,
		Usage: "timeout in seconds for one key-event attempt",
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
		Value: "mpc-node",
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
		Name:  "mpc-node",
		Usage: "Serve the cluster coordination and migration API",
		Flags: flags,
		Action: func(cCtx *cli.Context) error {
			listenAddr := cCtx.String("listen-addr")
			metricsAddr := cCtx.String("metrics-addr")
			logJSON := cCtx.Bool("log-json")
			logDebug := cCtx.Bool("log-debug")
			logUID := cCtx.Bool("log-uid")
			logService := cCtx.String("log-service")
			enablePprof := cCtx.Bool("pprof")
			drainDuration := time.Duration(cCtx.Int64("drain-seconds")) * time.Second

			logger := common.SetupLogger(&common.LoggingOpts{
				Debug:   logDebug,
				JSON:    logJSON,
				Service: logService,
				Version: common.Version,
			})

			if logUID {
				id := uuid.Must(uuid.NewRandom())
				logger = logger.With("uid", id.String())
			}

			account, err := interfaces.NewAccountID(cCtx.String("node-account"))
			if err != nil {
				logger.Error("Invalid node-account", "err", err)
				return err
			}

			// Ledger: onchain when an RPC address is configured, otherwise
			// a process-local one for single-node deployments and testing.
			var stateLedger interfaces.StateLedger
			if rpcAddress := cCtx.String("rpc-addr"); rpcAddress != "" {
				contractAddr := cCtx.String("ledger-contract")
				privkeyHex := cCtx.String("ledger-privkey")
				if contractAddr == "" || privkeyHex == "" {
					return fmt.Errorf("ledger-contract and ledger-privkey are required with rpc-addr")
				}

				logger.Info("Connecting to Ethereum RPC", "address", rpcAddress)
				ethClient, err := ethclient.Dial(rpcAddress)
				if err != nil {
					logger.Error("Failed to dial RPC", "err", err)
					return err
				}

				contractLedger, err := ledger.NewContractLedger(ethClient, ethcommon.HexToAddress(contractAddr))
				if err != nil {
					logger.Error("Failed to create contract ledger", "err", err)
					return err
				}

				privkey, err := crypto.HexToECDSA(privkeyHex)
				if err != nil {
					logger.Error("Invalid ledger-privkey", "err", err)
					return err
				}
				auth, err := bind.NewKeyedTransactorWithChainID(privkey, big.NewInt(cCtx.Int64("chain-id")))
				if err != nil {
					logger.Error("Failed to create transactor", "err", err)
					return err
				}
				contractLedger.SetTransactOpts(auth)
				stateLedger = contractLedger
			} else {
				logger.Info("Using in-memory ledger")
				stateLedger = ledger.NewMemoryLedger()
			}

			// The local share dealer serves as resharer, signer and vault.
			dealer := sharing.NewLocalResharer()

			coord := cluster.NewCoordinator(cluster.Config{
				Coordinator:           account,
				MaxAttempts:           cCtx.Int("max-attempts"),
				AttemptTimeout:        time.Duration(cCtx.Int64("attempt-timeout-seconds")) * time.Second,
				RequireMigrationProof: cCtx.Bool("require-migration-proof"),
			}, stateLedger, dealer, dealer, logger)
			coord.SetCommitter(dealer)
			coord.SetProber(prober.New(dealer, logger, 30*time.Second))

			var exportStorage interfaces.StorageBackend
			if uri := cCtx.String("export-storage"); uri != "" {
				exportStorage, err = storage.NewFactory(logger).BackendFor(uri)
				if err != nil {
					logger.Error("Failed to create export storage backend", "err", err)
					return err
				}
				logger.Info("Archiving sealed exports", "location", exportStorage.LocationURI())
			}

			dir := directory.New(stateLedger, logger)
			exporter := migration.NewExporter(stateLedger, dealer, exportStorage, logger)

			cfg := &httpserver.HTTPServerConfig{
				ListenAddr:               listenAddr,
				MetricsAddr:              metricsAddr,
				Log:                      logger,
				EnablePprof:              enablePprof,
				DrainDuration:            drainDuration,
				GracefulShutdownDuration: 30 * time.Second,
				ReadTimeout:              60 * time.Second,
				WriteTimeout:             30 * time.Second,
			}

			server := httpserver.New(cfg,
				clusterhandler.NewHandler(coord, dir, logger),
				migrationhandler.NewHandler(dir, exporter, logger),
			)

			logger.Info("Starting server", "listenAddr", listenAddr, "account", account)
			server.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			logger.Info("Server is running, press Ctrl+C to stop")
			<-exit
			logger.Info("Shutdown signal received")

			server.Shutdown()
			logger.Info("Server shutdown complete")

			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
