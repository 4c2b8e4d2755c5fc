// Command hotmesh starts a Host from a config file or HOTMESH_-prefixed
// environment variables, adapting the teacher's cobra+viper entrypoint
// (cli/root.go) to wire engine+scheduler+quorum instead of an HTTP server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hotmeshio/hotmesh-go/config"
	"github.com/hotmeshio/hotmesh-go/engine"
	"github.com/hotmeshio/hotmesh-go/host"
	"github.com/hotmeshio/hotmesh-go/logging"
	"github.com/hotmeshio/hotmesh-go/quorum"
	"github.com/hotmeshio/hotmesh-go/scheduler"
	"github.com/hotmeshio/hotmesh-go/store"
	"github.com/hotmeshio/hotmesh-go/stream"
	"github.com/hotmeshio/hotmesh-go/symbol"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var cfgFile string

const resolvedShutdownTimeout = 10 * time.Second

func main() {
	root := &cobra.Command{
		Use:   "hotmesh",
		Short: "Run a HotMesh engine process",
		RunE:  run,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a HotMesh config file (yaml/json/toml)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	env, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	resolved, err := env.Resolve()
	if err != nil {
		return err
	}

	logger := logging.EngineLogger(resolved.AppID, resolved.GUID)

	client := redis.NewClient(&redis.Options{Addr: resolved.Engine.Connection})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := store.NewRedis(ctx, store.Config{Client: client})
	if err != nil {
		return fmt.Errorf("hotmesh: connecting store: %w", err)
	}
	defer s.Close()

	sem := store.NewSemantic(s, resolved.Namespace, resolved.AppID)
	strm := stream.NewRedis(client)
	symbols := symbol.NewTable(s, resolved.Namespace, resolved.AppID)

	e := engine.New(resolved.AppID, resolved.Namespace, resolved.GUID, s, strm, symbols, logger)
	sched := scheduler.New(sem, nil, logger)
	q := quorum.New(client, resolved.AppID, resolved.GUID, logger)

	h := host.New(e, sched, q, logger)

	h.Start(ctx)
	logger.Info("hotmesh: host started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logger.Info("hotmesh: shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), resolvedShutdownTimeout)
	defer shutdownCancel()
	return h.Shutdown(shutdownCtx)
}
