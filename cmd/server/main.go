// cmd/server is the main entry point for a vnodedb node.
//
// Configuration is entirely via flags so a single binary can serve any role
// in the cluster.
//
// Example — three-node cluster, started once per node:
//
//	./server --node-id 1 --addr :8080 --fabric-addr :8090 --data-dir /tmp/n1 \
//	         --peers "1=localhost:8080@localhost:8090,2=localhost:8081@localhost:8091,3=localhost:8082@localhost:8092"
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vnodedb/internal/api"
	"vnodedb/internal/causal"
	"vnodedb/internal/config"
	"vnodedb/internal/dht"
	"vnodedb/internal/fabric"
	"vnodedb/internal/metrics"
	"vnodedb/internal/server"
	"vnodedb/internal/storage"
	"vnodedb/internal/storage/boltstore"
	"vnodedb/internal/storage/memstore"
)

func main() {
	cfg := config.Default()

	root := &cobra.Command{
		Use:   "vnodedb-server",
		Short: "Run one node of a vnodedb cluster",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfg)
		},
	}
	cfg.BindFlags(root.Flags())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	if err := cfg.ResolveConsistency(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()
	sugar := log.Sugar()

	self := causal.NodeID(cfg.NodeID)

	members, peers, err := parsePeers(cfg.Peers)
	if err != nil {
		return fmt.Errorf("parse --peers: %w", err)
	}
	if _, ok := findSelf(members, self); !ok {
		members = append(members, dht.Member{ID: self, Addr: cfg.ListenAddr})
	}

	oracle := dht.NewStaticOracle(self, members, cfg.VnodesPerMember)

	transport := fabric.NewHTTPTransport(self, cfg.FabricAddr, fabricBook{peers}, cfg.FabricTimeout, cfg.FabricKeepalive)

	reg := prometheus.NewRegistry()
	metricsReg := metrics.NewRegistry(reg)

	open, closeEngines, err := engineOpener(cfg)
	if err != nil {
		return fmt.Errorf("open storage engine: %w", err)
	}
	defer closeEngines()

	node, err := server.NewNode(self, cfg, oracle, transport, metricsReg, peers, open)
	if err != nil {
		return fmt.Errorf("build node: %w", err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(api.Logger(sugar), api.Recovery(sugar), api.ClientConnections(metricsReg))
	api.NewHandler(node).Register(router)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"node": cfg.NodeID, "status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go node.Run(ctx)

	go func() {
		sugar.Infow("fabric listening", "addr", cfg.FabricAddr)
		if err := transport.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalw("fabric server error", "error", err)
		}
	}()

	go func() {
		sugar.Infow("client API listening", "addr", cfg.ListenAddr, "node", cfg.NodeID)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalw("http server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	sugar.Infow("shutting down", "node", cfg.NodeID)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		sugar.Errorw("http shutdown error", "error", err)
	}
	if err := transport.Shutdown(shutdownCtx); err != nil {
		sugar.Errorw("fabric shutdown error", "error", err)
	}
	node.Shutdown()
	return nil
}

// fabricBook adapts a plain map to fabric.AddressBook.
type fabricBook struct {
	peers map[causal.NodeID]string
}

func (b fabricBook) FabricAddr(n causal.NodeID) (string, bool) {
	addr, ok := b.peers[n]
	return addr, ok
}

// parsePeers turns "--peers id=clientAddr@fabricAddr,..." into the ring
// membership list (client addresses, used for Moved/Ask redirects) and the
// node-id-to-fabric-address map the transport uses for outbound sends.
func parsePeers(raw string) ([]dht.Member, map[causal.NodeID]string, error) {
	peers := make(map[causal.NodeID]string)
	var members []dht.Member
	if raw == "" {
		return members, peers, nil
	}
	for _, entry := range strings.Split(raw, ",") {
		eq := strings.SplitN(entry, "=", 2)
		if len(eq) != 2 {
			return nil, nil, fmt.Errorf("invalid peer entry %q: expected id=clientAddr@fabricAddr", entry)
		}
		id, err := strconv.ParseUint(eq[0], 10, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid peer id %q: %w", eq[0], err)
		}
		at := strings.SplitN(eq[1], "@", 2)
		if len(at) != 2 {
			return nil, nil, fmt.Errorf("invalid peer address %q: expected clientAddr@fabricAddr", eq[1])
		}
		nodeID := causal.NodeID(id)
		members = append(members, dht.Member{ID: nodeID, Addr: at[0]})
		peers[nodeID] = at[1]
	}
	return members, peers, nil
}

func findSelf(members []dht.Member, self causal.NodeID) (dht.Member, bool) {
	for _, m := range members {
		if m.ID == self {
			return m, true
		}
	}
	return dht.Member{}, false
}

// engineOpener builds the server.EngineOpener matching cfg.Engine, along with
// a cleanup func that closes every engine opened through it.
func engineOpener(cfg *config.Config) (server.EngineOpener, func(), error) {
	switch cfg.Engine {
	case "mem":
		var stores []*memstore.Store
		open := func(num uint16, handle string) (storage.Engine, error) {
			dir := fmt.Sprintf("%s/vnode-%d/%s", cfg.DataDir, num, handle)
			s, err := memstore.Open(dir)
			if err != nil {
				return nil, err
			}
			stores = append(stores, s)
			return s, nil
		}
		closeAll := func() {
			for _, s := range stores {
				_ = s.Close()
			}
		}
		return open, closeAll, nil

	case "bolt", "":
		path := fmt.Sprintf("%s/vnodedb.bolt", cfg.DataDir)
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, nil, err
		}
		db, err := boltstore.Open(path)
		if err != nil {
			return nil, nil, err
		}
		open := func(num uint16, handle string) (storage.Engine, error) {
			return db.Handle(fmt.Sprintf("vnode-%d-%s", num, handle))
		}
		return open, func() { _ = db.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage engine %q (want bolt or mem)", cfg.Engine)
	}
}
