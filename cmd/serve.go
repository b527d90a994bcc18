package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/plant-twin/twinsim/sim/bridge"
	"github.com/plant-twin/twinsim/sim/defn"
	"github.com/plant-twin/twinsim/sim/sequence"
	"github.com/plant-twin/twinsim/sim/server"
	"github.com/plant-twin/twinsim/sim/trace"
)

var (
	listenAddr    string        // HTTP listen address
	tickInterval  time.Duration // Real-time tick cadence
	queueCapacity int           // Inbound request queue bound
	traceLevel    string        // Server trace verbosity
	allowStop     bool          // Let bridge clients stop the server
	recipeMixer   string        // Mixer driven by the batch recipe while serving; empty disables it
)

// serveCmd runs a simulation server behind the WebSocket bridge
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a real-time simulation over WebSocket with Prometheus metrics",
	Run: func(cmd *cobra.Command, args []string) {
		setupLogging()
		if !trace.IsValidTraceLevel(traceLevel) {
			logrus.Fatalf("Invalid trace level: %s", traceLevel)
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := serve(ctx, os.Stdout); err != nil {
			logrus.Fatalf("serve failed: %v", err)
		}
	},
}

// newServeMux routes the bridge, Prometheus metrics and a status endpoint.
func newServeMux(srv *server.Server, reg *prometheus.Registry, opts bridge.Options) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/ws", bridge.New(srv, opts))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/status", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(map[string]any{
			"server":     srv.ID().String(),
			"definition": srv.DefinitionID(),
			"state":      srv.State().String(),
			"tick":       srv.Tick(),
		})
	})
	return mux
}

func serve(ctx context.Context, w io.Writer) error {
	d, err := loadDefinition(ctx)
	if err != nil {
		return err
	}
	models, err := loadModels()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	metrics, err := server.NewMetrics(reg)
	if err != nil {
		return err
	}
	tr := trace.NewSimulationTrace(trace.TraceConfig{Level: trace.TraceLevel(traceLevel)})
	srv, err := server.New(d, defn.Resources{Models: models, Seed: seed}, server.Config{
		TickInterval:  tickInterval,
		QueueCapacity: queueCapacity,
		Trace:         tr,
		Metrics:       metrics,
	})
	if err != nil {
		return err
	}
	if err := srv.Start(ctx); err != nil {
		return err
	}

	if recipeMixer != "" {
		if err := startRecipe(ctx, srv, recipeMixer); err != nil {
			_ = srv.Stop(context.Background())
			return err
		}
	}

	httpSrv := &http.Server{
		Addr:              listenAddr,
		Handler:           newServeMux(srv, reg, bridge.Options{AllowStop: allowStop}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		select {
		case <-ctx.Done():
		case <-srv.Done():
		}
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = httpSrv.Shutdown(ctx2)
	}()

	logrus.Infof("serving simulation %s on %s (ws: /ws, metrics: /metrics)", d.ID(), listenAddr)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		_ = srv.Stop(context.Background())
		return err
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Stop(stopCtx); err != nil {
		return err
	}
	if tr.Config.Level != trace.TraceLevelNone && tr.Config.Level != "" {
		printTraceSummary(w, trace.Summarize(tr))
	}
	logrus.Info("Server stopped.")
	return nil
}

// startRecipe drives mixer through the batch recipe at the server's own tick
// interval until ctx ends or the server stops.
func startRecipe(ctx context.Context, srv *server.Server, mixer string) error {
	seq, err := sequence.New(sequence.Recipe{Mixer: mixer})
	if err != nil {
		return err
	}
	go func() {
		err := sequence.Drive(ctx, seq, srv, srv.TickInterval(), 0, func(s sequence.Sample) {
			logrus.Debugf("[tick %07d] %s level=%.1f temperature=%.2f", s.Tick, s.Phase, s.Level, s.Temperature)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			logrus.Warnf("recipe stopped: %v", err)
		}
	}()
	return nil
}

func printTraceSummary(w io.Writer, s *trace.TraceSummary) {
	fmt.Fprintln(w, "=== Server Trace Summary ===")
	fmt.Fprintf(w, "Requests: %d (failed %d, drained %d, in order %v)\n", s.TotalRequests, s.FailedRequests, s.DrainedCount, s.InOrder)
	for _, op := range sortedKeys(s.OpDistribution) {
		fmt.Fprintf(w, "  %-8s %d\n", op, s.OpDistribution[op])
	}
	for _, kind := range sortedKeys(s.ErrorKinds) {
		fmt.Fprintf(w, "  error %-20s %d\n", kind, s.ErrorKinds[kind])
	}
	if s.Ticks > 0 {
		fmt.Fprintf(w, "Ticks: %d (overruns %d, mean step %v, max step %v)\n", s.Ticks, s.Overruns, s.MeanStep, s.MaxStep)
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func init() {
	addDefinitionFlags(serveCmd)
	serveCmd.Flags().StringVar(&listenAddr, "addr", "127.0.0.1:8765", "HTTP listen address")
	serveCmd.Flags().DurationVar(&tickInterval, "tick", server.DefaultTickInterval, "Real-time tick interval")
	serveCmd.Flags().IntVar(&queueCapacity, "queue", server.DefaultQueueCapacity, "Inbound request queue capacity")
	serveCmd.Flags().StringVar(&traceLevel, "trace-level", "none", "Server trace verbosity (none, requests, all)")
	serveCmd.Flags().BoolVar(&allowStop, "allow-stop", false, "Let bridge clients stop the server with a STOP frame")
	serveCmd.Flags().StringVar(&recipeMixer, "recipe", "", "Drive this mixer through the batch recipe while serving")

	rootCmd.AddCommand(serveCmd)
}
