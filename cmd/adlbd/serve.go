package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cuemby/adlb-go/internal/rpc"
	"github.com/cuemby/adlb-go/pkg/checkpoint"
	"github.com/cuemby/adlb-go/pkg/events"
	"github.com/cuemby/adlb-go/pkg/log"
	"github.com/cuemby/adlb-go/pkg/metrics"
	"github.com/cuemby/adlb-go/pkg/server"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start this rank's shard server",
	Long: `Start a shard server for one rank of a fixed-size deployment,
dial every peer named with --peer, and serve the shard RPC over gRPC
until terminated.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().Int("rank", 0, "this process's server rank")
	serveCmd.Flags().Int("servers", 1, "total number of server ranks in the deployment")
	serveCmd.Flags().String("listen", ":50050", "address this rank's gRPC shard service listens on")
	serveCmd.Flags().StringArray("peer", nil, "peer rank, formatted rank=host:port (repeatable); omit for a single-shard deployment")
	serveCmd.Flags().String("data-dir", "./adlb-data", "directory for the optional checkpoint log")
	serveCmd.Flags().Int("closed-cache-size", 0, "closed-datum cache capacity per rank (0 uses the package default); overridable via ADLB_CLOSED_CACHE_SIZE")
	serveCmd.Flags().Bool("report-leaks", false, "log per-datum detail for leaks found at shutdown; overridable via ADLB_REPORT_LEAKS")
	serveCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "address the Prometheus /metrics endpoint listens on")
	serveCmd.Flags().Duration("metrics-interval", 15*time.Second, "sampling interval for the stats collector")
}

func runServe(cmd *cobra.Command, args []string) error {
	rank, _ := cmd.Flags().GetInt("rank")
	serverCount, _ := cmd.Flags().GetInt("servers")
	listen, _ := cmd.Flags().GetString("listen")
	peerFlags, _ := cmd.Flags().GetStringArray("peer")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	closedCacheSize, _ := cmd.Flags().GetInt("closed-cache-size")
	reportLeaks, _ := cmd.Flags().GetBool("report-leaks")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	metricsInterval, _ := cmd.Flags().GetDuration("metrics-interval")

	if !cmd.Flags().Changed("closed-cache-size") {
		if v, ok := os.LookupEnv("ADLB_CLOSED_CACHE_SIZE"); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("ADLB_CLOSED_CACHE_SIZE=%q: %w", v, err)
			}
			closedCacheSize = n
		}
	}
	if !cmd.Flags().Changed("report-leaks") {
		if v, ok := os.LookupEnv("ADLB_REPORT_LEAKS"); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("ADLB_REPORT_LEAKS=%q: %w", v, err)
			}
			reportLeaks = b
		}
	}

	logger := log.WithServer(rank)

	peerClients, err := dialPeers(peerFlags)
	if err != nil {
		return err
	}
	var remote server.RemoteSync
	if len(peerClients) > 0 {
		remote = rpc.NewRouter(serverCount, peerClients)
	}

	cp, err := checkpoint.OpenDefault(dataDir, rank)
	if err != nil {
		return fmt.Errorf("opening checkpoint log: %w", err)
	}
	defer cp.Close()
	if cp.Enabled() {
		records, skipped, err := cp.Replay()
		if err != nil {
			return fmt.Errorf("replaying checkpoint log: %w", err)
		}
		logger.Info().Int("records", len(records)).Int("skipped", skipped).Msg("checkpoint log replayed")
	}

	srv := server.New(server.Config{
		Rank:            rank,
		ServerCount:     serverCount,
		ClosedCacheSize: closedCacheSize,
		ReportLeaks:     reportLeaks,
	}, remote)

	srv.Events().Start()
	defer srv.Events().Stop()
	stopCheckpointing := runCheckpointWriter(srv.Events(), cp, logger)
	defer stopCheckpointing()

	grpcServer := rpc.NewGRPCServer()
	rpc.RegisterShardServer(grpcServer, srv)

	lis, err := listenTCP(listen)
	if err != nil {
		return err
	}
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error().Err(err).Msg("shard gRPC server exited")
		}
	}()
	logger.Info().Str("addr", listen).Int("peers", len(peerClients)).Msg("shard server listening")

	collector := metrics.NewCollector(srv, metricsInterval)
	collector.Start()
	defer collector.Stop()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			logger.Error().Err(err).Msg("metrics server exited")
		}
	}()
	logger.Info().Str("addr", metricsAddr).Msg("metrics endpoint listening")

	srv.Events().Publish(&events.Event{ID: uuid.New().String(), Type: events.EventServerStarted})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down")
	grpcServer.GracefulStop()
	srv.Shutdown()
	return nil
}

func listenTCP(addr string) (net.Listener, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}
	return lis, nil
}

// dialPeers parses --peer flags of the form "rank=host:port" and dials
// each, returning a rank-keyed client map for rpc.Router.
func dialPeers(peerFlags []string) (map[int]*rpc.ShardClient, error) {
	peers := make(map[int]*rpc.ShardClient, len(peerFlags))
	for _, p := range peerFlags {
		rankStr, addr, found := strings.Cut(p, "=")
		if !found {
			return nil, fmt.Errorf("--peer %q: expected rank=host:port", p)
		}
		rank, err := strconv.Atoi(rankStr)
		if err != nil {
			return nil, fmt.Errorf("--peer %q: invalid rank: %w", p, err)
		}
		conn, err := rpc.Dial(addr)
		if err != nil {
			return nil, fmt.Errorf("--peer %q: %w", p, err)
		}
		peers[rank] = rpc.NewShardClient(conn)
	}
	return peers, nil
}

// runCheckpointWriter subscribes to the server's lifecycle broker and
// appends a record for every datum that leaks or is garbage collected,
// the §6 persisted-state use of the checkpoint log. A no-op checkpoint
// log (Enabled() == false) still drains the subscription so the broker
// never blocks on a full channel. Returns a function that unsubscribes
// and waits for the goroutine to exit.
func runCheckpointWriter(broker *events.Broker, cp *checkpoint.Log, logger zerolog.Logger) func() {
	sub := broker.Subscribe()
	done := make(chan struct{})

	go func() {
		defer close(done)
		for ev := range sub {
			switch ev.Type {
			case events.EventDatumLeaked, events.EventDatumGCed:
				key := []byte(uuid.New().String())
				if err := cp.Append(key, []byte(ev.Message)); err != nil {
					logger.Warn().Err(err).Str("event", string(ev.Type)).Msg("checkpoint append failed")
					continue
				}
				broker.Publish(&events.Event{ID: uuid.New().String(), Type: events.EventCheckpointWrite, Message: ev.Message})
			}
		}
	}()

	return func() {
		broker.Unsubscribe(sub)
		<-done
	}
}
