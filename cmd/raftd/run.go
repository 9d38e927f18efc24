package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/raftkit/consensus"
	"github.com/raftkit/consensus/statemachine/kv"
	"github.com/raftkit/consensus/storage"
	"github.com/raftkit/consensus/transport/httptransport"
)

type runOptions struct {
	id          string
	listen      string
	peersFlag   string
	dataDir     string
	minElection time.Duration
	maxElection time.Duration
	heartbeat   time.Duration
}

func defaultRunOptions() runOptions {
	return runOptions{
		listen:      ":8080",
		minElection: 150 * time.Millisecond,
		maxElection: 300 * time.Millisecond,
		heartbeat:   50 * time.Millisecond,
	}
}

// run wires a Node, its storage backend, its peer transports, and the demo
// kv HTTP surface together and serves until the process is signalled to
// stop, the way the teacher's server.Run does for its own raft.Node.
func run(ctx context.Context, opts runOptions) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("raftd: build logger: %w", err)
	}
	defer logger.Sync()

	peerAddrs, err := parsePeers(opts.peersFlag)
	if err != nil {
		return err
	}

	sm := kv.New()

	backend, closeBackend, err := openBackend(opts.dataDir, sm.Apply)
	if err != nil {
		return err
	}
	defer closeBackend()

	node, err := consensus.NewNode(consensus.Options{
		ID:                 opts.id,
		MinElectionTimeout: opts.minElection,
		MaxElectionTimeout: opts.maxElection,
		HeartbeatInterval:  opts.heartbeat,
		Persistence:        backend,
		Logger:             logger,
	})
	if err != nil {
		return err
	}
	node.OnError(func(err error) {
		logger.Error("node error", zap.Error(err))
	})

	for id, addr := range peerAddrs {
		peer := consensus.NewPeer(id, httptransport.NewPeerTransport(addr), logger)
		if err := node.Join(ctx, peer); err != nil {
			return fmt.Errorf("raftd: join peer %s: %w", id, err)
		}
	}

	if err := node.Start(ctx); err != nil {
		return err
	}

	logger.Info("starting raftd", zap.String("id", node.ID()), zap.String("listen", opts.listen))

	// Combine the raft transport's handler and the demo kv API under one
	// server, the way the teacher's run.go combines node.RaftHTTPHandler()
	// and its own httpapi router.
	mux := http.NewServeMux()
	mux.Handle("/raft/", httptransport.NewServer(node))
	mux.Handle("/kv/", newKVRouter(node, sm))

	srv := &http.Server{Addr: opts.listen, Handler: mux}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-sigCtx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		node.Stop(shutdownCtx)
		return srv.Shutdown(shutdownCtx)
	}
}

func openBackend(dataDir string, apply storage.ApplyFunc) (storage.Backend, func(), error) {
	if dataDir == "" {
		return storage.NewMemoryBackend(apply), func() {}, nil
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("raftd: create data dir: %w", err)
	}
	backend, err := storage.OpenBoltBackend(filepath.Join(dataDir, "raft.db"), apply)
	if err != nil {
		return nil, nil, err
	}
	return backend, func() { backend.Close() }, nil
}

func parsePeers(flagValue string) (map[string]string, error) {
	peers := make(map[string]string)
	if flagValue == "" {
		return peers, nil
	}
	for _, p := range strings.Split(flagValue, ",") {
		parts := strings.SplitN(strings.TrimSpace(p), "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("raftd: invalid peer format %q (expected id=addr)", p)
		}
		peers[parts[0]] = parts[1]
	}
	return peers, nil
}
