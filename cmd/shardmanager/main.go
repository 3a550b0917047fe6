// Package main runs a standalone shard manager: an in-memory topology store
// served over gRPC. It answers every operation shardctl and the topology
// client issue, which makes it the backend for local experiments and
// end-to-end tests.
//
// Configuration:
//   - SHARDMANAGER_LISTEN: listen address (default: ":7917")
//   - SHARDMANAGER_SEED: YAML fleet file loaded at startup (optional)
//   - SHARDMANAGER_COPY_DELAY: how long a copy destination stays busy (default: "0s")
//
// Example usage:
//
//	SHARDMANAGER_SEED=fleet.yaml SHARDMANAGER_COPY_DELAY=30s ./shardmanager
//	SHARDTOPO_HOSTS=localhost ./shardctl forwardings
package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/dreamware/shardtopo/internal/rpc"
	"github.com/dreamware/shardtopo/internal/storage"
)

// logFatal is a variable so tests can intercept fatal errors.
var logFatal = log.Fatalf

type options struct {
	listen    string
	seed      string
	copyDelay time.Duration
}

func loadOptions() (options, error) {
	opts := options{
		listen: getenv("SHARDMANAGER_LISTEN", fmt.Sprintf(":%d", rpc.DefaultPort)),
		seed:   getenv("SHARDMANAGER_SEED", ""),
	}
	d, err := time.ParseDuration(getenv("SHARDMANAGER_COPY_DELAY", "0s"))
	if err != nil {
		return options{}, fmt.Errorf("SHARDMANAGER_COPY_DELAY: %w", err)
	}
	opts.copyDelay = d
	return opts, nil
}

func main() {
	opts, err := loadOptions()
	if err != nil {
		logFatal("config: %v", err)
	}
	store, err := newStore(opts)
	if err != nil {
		logFatal("%v", err)
	}

	lis, err := net.Listen("tcp", opts.listen)
	if err != nil {
		logFatal("listen: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("shardmanager listening on %s", lis.Addr())
	if err := serve(ctx, lis, store); err != nil {
		logFatal("serve: %v", err)
	}
	log.Println("shardmanager stopped")
}

// newStore builds the store, seeding it from opts.seed when set.
func newStore(opts options) (*storage.MemoryStore, error) {
	store := storage.NewMemoryStore()
	store.SetCopyDelay(opts.copyDelay)
	if opts.seed == "" {
		return store, nil
	}

	f, err := os.Open(opts.seed)
	if err != nil {
		return nil, fmt.Errorf("open seed: %w", err)
	}
	defer f.Close()
	fleet, err := storage.LoadFleet(f)
	if err != nil {
		return nil, err
	}
	if err := store.Seed(fleet); err != nil {
		return nil, fmt.Errorf("seed %s: %w", opts.seed, err)
	}
	st := store.Stats()
	log.Printf("seeded %d shards, %d links, %d forwardings from %s", st.Shards, st.Links, st.Forwardings, opts.seed)
	return store, nil
}

// serve answers shard manager calls on lis until ctx is done, then drains
// in-flight calls and returns.
func serve(ctx context.Context, lis net.Listener, impl rpc.ShardManager) error {
	s := grpc.NewServer()
	rpc.RegisterServer(s, impl)

	errc := make(chan error, 1)
	go func() {
		errc <- s.Serve(lis)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		s.GracefulStop()
		<-errc
		return nil
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
