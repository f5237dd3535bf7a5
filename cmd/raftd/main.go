// raftd runs a single Raft node: it loads a YAML Config, wires up bbolt-
// backed log/stable storage, a file-backed snapshot store, and the gRPC
// transport, then serves a small in-memory key/value FSM over HTTP so the
// cluster can be exercised end to end.
//
// This is not meant for production use; it showcases how the raftbus
// package's pieces fit together, the way the teacher's own example command
// showcased its library.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/raftbus/raft"
	"github.com/raftbus/raft/cluster"
	"github.com/raftbus/raft/store"
	"github.com/raftbus/raft/transport"
)

func main() {
	configPath := flag.String("config", "", "path to the node's YAML config file")
	httpAddr := flag.String("http", "", "address to serve the demo key/value API on (empty disables it)")
	flag.Parse()

	if *configPath == "" {
		log.Fatalln("raftd: -config is required")
	}

	cfg, err := raft.LoadConfig(*configPath)
	if err != nil {
		log.Fatalln(err)
	}

	opts, err := cfg.Options()
	if err != nil {
		log.Fatalln(err)
	}

	registry, id, err := buildRegistry(cfg, opts)
	if err != nil {
		log.Fatalln(err)
	}
	opts.MemberID = id

	logStore, err := store.NewBoltStore(cfg.LogStorePath)
	if err != nil {
		log.Fatalln(err)
	}

	snapDir := cfg.SnapshotDir
	if snapDir == "" {
		snapDir = ".data/snapshots"
	}
	snapStore, err := store.NewFileSnapshotStore(snapDir, 3)
	if err != nil {
		log.Fatalln(err)
	}

	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		log.Fatalln(err)
	}
	grpcTransport := transport.NewGRPCTransport(listener, &transport.GRPCTransportConfig{Dialer: opts.Dialer})

	kv := newKVStore()

	r, err := raft.NewRaft(registry, logStore, logStore, snapStore, grpcTransport, kv, opts)
	if err != nil {
		log.Fatalln(err)
	}
	kv.r = r

	if err := r.Start(); err != nil {
		log.Fatalln(err)
	}
	log.Printf("raftd: node %s listening on %s", r.ID(), cfg.ListenAddr)

	var httpServer *http.Server
	if *httpAddr != "" {
		httpServer = &http.Server{Addr: *httpAddr, Handler: kv}
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Println("raftd: http server:", err)
			}
		}()
		log.Printf("raftd: key/value API listening on %s", *httpAddr)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("raftd: shutting down")
	if httpServer != nil {
		_ = httpServer.Shutdown(context.Background())
	}
	if err := r.Shutdown(); err != nil {
		log.Println("raftd: shutdown:", err)
	}
	if err := logStore.Close(); err != nil {
		log.Println("raftd: closing log store:", err)
	}
}

// buildRegistry constructs either a StaticCluster (no gossip configured)
// or a DynamicCluster that gossips membership over memlist, joining the
// first configured peer if one is given.
func buildRegistry(cfg *raft.Config, opts raft.Options) (cluster.Registry, cluster.NodeID, error) {
	id := opts.MemberID
	if id.IsZero() {
		id = cluster.NewNodeID()
	}

	if cfg.GossipAddr == "" {
		return cluster.NewStaticCluster(id, cfg.ListenAddr), id, nil
	}

	dyn, err := cluster.NewDynamicCluster(cfg.GossipAddr, cfg.GossipPort, id, cfg.ListenAddr)
	if err != nil {
		return nil, id, fmt.Errorf("raftd: building dynamic cluster: %w", err)
	}
	if len(cfg.JoinAddrs) > 0 {
		if err := dyn.Join(cfg.JoinAddrs[0]); err != nil {
			return nil, id, fmt.Errorf("raftd: joining %s: %w", cfg.JoinAddrs[0], err)
		}
	}
	return dyn, id, nil
}

// kvStore is a minimal FSM: committed entries are "SET key value" commands
// applied to an in-memory map. It also serves as the HTTP front-end so
// Apply/Get can be exercised over the network without a separate client.
type kvStore struct {
	r  *raft.Raft
	mu sync.RWMutex
	m  map[string]string
}

func newKVStore() *kvStore {
	return &kvStore{m: make(map[string]string)}
}

func (s *kvStore) Apply(data []byte) error {
	fields := strings.SplitN(string(data), " ", 3)
	if len(fields) != 3 || fields[0] != "SET" {
		return fmt.Errorf("kvstore: unrecognized command %q", data)
	}
	s.mu.Lock()
	s.m[fields[1]] = fields[2]
	s.mu.Unlock()
	return nil
}

func (s *kvStore) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key]
	return v, ok
}

func (s *kvStore) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	key := strings.TrimPrefix(req.URL.Path, "/")
	switch req.Method {
	case http.MethodGet:
		v, ok := s.Get(key)
		if !ok {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		fmt.Fprint(w, v)
	case http.MethodPut, http.MethodPost:
		body, err := io.ReadAll(req.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		cmd := fmt.Sprintf("SET %s %s", key, body)
		task, err := s.r.Apply(req.Context(), []byte(cmd))
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		if err := task.Error(); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}
