// Command lcpnode runs one Local Chat Protocol node: it discovers peers
// on the local broadcast domain, exchanges text messages, and transfers
// files, exposing a small HTTP surface for a UI collaborator to poll.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/willabides/kongplete"

	_ "github.com/DJSixHub/Proyecto-de-Redes/internal/automaxprocs"
	"github.com/DJSixHub/Proyecto-de-Redes/internal/httpapi"
	"github.com/DJSixHub/Proyecto-de-Redes/internal/metrics"
	"github.com/DJSixHub/Proyecto-de-Redes/internal/slogutil"
	"github.com/DJSixHub/Proyecto-de-Redes/lib/engine"
	"github.com/DJSixHub/Proyecto-de-Redes/lib/store"
)

type cli struct {
	Identity    string `help:"This node's user identifier (at most 20 UTF-8 bytes)." env:"LCP_IDENTITY" required:""`
	UDPPort     int    `help:"UDP port for headers, bodies and responses." env:"LCP_UDP_PORT" default:"9990"`
	TCPPort     int    `help:"TCP port for file stream transfer." env:"LCP_TCP_PORT" default:"9990"`
	BindAddress string `help:"Override local interface auto-selection." env:"LCP_BIND_ADDRESS"`
	DataDir     string `help:"Directory for the default JSON peer/history stores." env:"LCP_DATA_DIR" default:"./lcpdata"`
	HTTPListen  string `help:"HTTP listen address for the status/peers/history API." env:"LCP_HTTP_LISTEN" default:":8990"`
	MetricsListen string `help:"HTTP listen address for Prometheus metrics." env:"LCP_METRICS_LISTEN" default:":8991"`

	InstallCompletions kongplete.InstallCompletions `cmd:"" help:"Install shell completions."`
}

func main() {
	var params cli
	parser := kong.Must(&params, kong.Name("lcpnode"), kong.Description("Local Chat Protocol node"))

	kongplete.Complete(parser)

	ctx, err := parser.Parse(os.Args[1:])
	if err != nil {
		parser.FatalIfErrorf(err)
		return
	}
	if ctx.Command() == "install-completions" {
		ctx.FatalIfErrorf(ctx.Run())
		return
	}

	if err := run(params); err != nil {
		slog.Default().Error("lcpnode exited with an error", slogutil.Error(err))
		os.Exit(1)
	}
}

func run(params cli) error {
	log := slogutil.Facility("cmd")

	if err := os.MkdirAll(params.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	peerStore := store.NewJSONPeerStore(params.DataDir + "/peers.json")
	historyStore := store.NewJSONHistoryStore(params.DataDir + "/history.json")

	onMessage := func(sender string, payload []byte, at time.Time) {
		log.Info("message received", slog.String("sender", sender), slog.Int("bytes", len(payload)))
	}
	onFile := func(sender, filename string, payload []byte, at time.Time) {
		log.Info("file received", slog.String("sender", sender), slog.String("filename", filename), slog.Int("bytes", len(payload)))
	}

	cfg := engine.Config{
		Identity:    params.Identity,
		UDPPort:     params.UDPPort,
		TCPPort:     params.TCPPort,
		BindAddress: params.BindAddress,
	}
	e, err := engine.New(cfg, peerStore, historyStore, onMessage, onFile)
	if err != nil {
		return fmt.Errorf("construct engine: %w", err)
	}

	rootCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	engineErr := make(chan error, 1)
	go func() { engineErr <- e.Start(rootCtx) }()

	go serveHTTP(params.HTTPListen, httpapi.NewHandler(e), log)
	go serveHTTP(params.MetricsListen, metrics.Handler(), log)

	<-rootCtx.Done()
	log.Info("shutting down")
	if err := e.Stop(); err != nil {
		log.Warn("engine stop reported an error", slogutil.Error(err))
	}

	select {
	case err := <-engineErr:
		if err != nil && err != context.Canceled {
			return err
		}
	case <-time.After(5 * time.Second):
		log.Warn("engine did not stop within the grace period")
	}
	return nil
}

func serveHTTP(addr string, handler http.Handler, log *slog.Logger) {
	if addr == "" {
		return
	}
	if err := http.ListenAndServe(addr, handler); err != nil && err != http.ErrServerClosed {
		log.Warn("http server exited", slog.String("addr", addr), slogutil.Error(err))
	}
}
