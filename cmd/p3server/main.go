// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/bmxtiming/p3server/internal/api"
	"github.com/bmxtiming/p3server/internal/config"
	"github.com/bmxtiming/p3server/internal/housekeeping"
	"github.com/bmxtiming/p3server/internal/ingest"
	"github.com/bmxtiming/p3server/internal/projection"
	"github.com/bmxtiming/p3server/internal/raceworker"
	"github.com/bmxtiming/p3server/internal/repository"
	"github.com/bmxtiming/p3server/internal/runtimeenv"
	natsclient "github.com/bmxtiming/p3server/pkg/nats"
	"github.com/bmxtiming/p3server/pkg/plog"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	_ "github.com/mattn/go-sqlite3"
)

func main() {
	var flagRole, flagConfigFile, flagLogLevel string
	var flagMigrateDB, flagStopImmediately bool
	flag.StringVar(&flagRole, "role", "api", "Process role to run: `api`, `race-worker`, or `projection-worker`")
	flag.StringVar(&flagConfigFile, "config", "./config.json", "Overwrite the default config options by those specified in `config.json`")
	flag.StringVar(&flagLogLevel, "loglevel", "info", "One of `debug`, `info`, `warn`, `err`, `crit`")
	flag.BoolVar(&flagMigrateDB, "migrate-db", false, "Run any pending sqlite3 migrations before starting")
	flag.BoolVar(&flagStopImmediately, "no-server", false, "Do not start the role, stop right after initialization and argument handling")
	flag.Parse()

	plog.SetLogLevel(flagLogLevel)

	if err := runtimeenv.LoadEnv("./.env"); err != nil && !os.IsNotExist(err) {
		plog.Fatalf("parsing './.env' file failed: %s", err.Error())
	}

	config.Init(flagConfigFile)

	if flagMigrateDB {
		repository.MigrateDB(config.Keys.DB)
	}

	if flagStopImmediately {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		runtimeenv.SystemdNotify(false, "shutting down")
		cancel()
	}()

	switch flagRole {
	case "api":
		runAPI(ctx)
	case "race-worker":
		runRaceWorker(ctx)
	case "projection-worker":
		runProjectionWorker(ctx)
	default:
		plog.Fatalf("main: unknown role %q, expected api, race-worker, or projection-worker", flagRole)
	}

	plog.Print("Graceful shutdown completed!")
}

func connectNats() *natsclient.Client {
	client, err := natsclient.NewClient(natsclient.Config{
		Address:       config.Keys.NatsURL,
		CredsFilePath: config.Keys.NatsCredsFile,
	})
	if err != nil {
		plog.Fatalf("main: connect to NATS at %s: %v", config.Keys.NatsURL, err)
	}
	return client
}

func runAPI(ctx context.Context) {
	natsConn := connectNats()
	defer natsConn.Close()

	publisher, err := ingest.Connect(ctx, natsConn.JetStream())
	if err != nil {
		plog.Fatalf("main: connect ingest publisher: %v", err)
	}

	a := api.New(natsConn.JetStream(), publisher, config.Keys.IngestRateLimitPerSecond, config.Keys.IngestRateLimitBurst)

	r := mux.NewRouter()
	a.MountRoutes(r)

	r.Use(handlers.CompressHandler)
	r.Use(handlers.RecoveryHandler(handlers.PrintRecoveryStack(true)))
	r.Use(handlers.CORS(
		handlers.AllowedHeaders([]string{"X-Requested-With", "Content-Type", "Authorization", "Origin"}),
		handlers.AllowedMethods([]string{"GET", "POST", "HEAD", "OPTIONS"}),
		handlers.AllowedOrigins([]string{"*"})))

	handler := handlers.CombinedLoggingHandler(plogWriter{}, r)

	server := http.Server{
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		Handler:      handler,
		Addr:         config.Keys.HTTPAddr,
	}

	listener, err := net.Listen("tcp", config.Keys.HTTPAddr)
	if err != nil {
		plog.Fatalf("main: listen on %s: %v", config.Keys.HTTPAddr, err)
	}

	if err := runtimeenv.DropPrivileges(config.Keys.User, config.Keys.Group); err != nil {
		plog.Fatalf("main: error while changing user: %s", err.Error())
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		plog.Printf("HTTP API listening at %s...", config.Keys.HTTPAddr)
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			plog.Fatal(err)
		}
	}()

	runtimeenv.SystemdNotify(true, "running")
	<-ctx.Done()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)
	wg.Wait()
}

func runRaceWorker(ctx context.Context) {
	natsConn := connectNats()
	defer natsConn.Close()

	worker := raceworker.NewWorker(natsConn.JetStream())

	runtimeenv.SystemdNotify(true, "running")
	if err := worker.Run(ctx, natsConn.JetStream()); err != nil && err != context.Canceled {
		plog.Errorf("main: race worker stopped: %v", err)
	}
}

func runProjectionWorker(ctx context.Context) {
	repository.Connect(config.Keys.DB)
	db := repository.GetConnection()

	housekeeping.Start(db.DB)
	defer housekeeping.Shutdown()

	natsConn := connectNats()
	defer natsConn.Close()

	worker := projection.NewWorker(db.DB)

	runtimeenv.SystemdNotify(true, "running")
	if err := worker.Run(ctx, natsConn.JetStream()); err != nil && err != context.Canceled {
		plog.Errorf("main: projection worker stopped: %v", err)
	}
}

// plogWriter adapts pkg/plog to the io.Writer CombinedLoggingHandler writes
// pre-formatted Apache common-log lines to.
type plogWriter struct{}

func (plogWriter) Write(p []byte) (int, error) {
	plog.Infof("%s", string(p))
	return len(p), nil
}
