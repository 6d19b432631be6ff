package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lanternops/streamhost/internal/config"
	"github.com/lanternops/streamhost/internal/logging"
	"github.com/lanternops/streamhost/internal/signaling"
	"github.com/lanternops/streamhost/internal/streamsession"
)

var (
	version = "0.1.0"
	cfgFile string
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "streamhost",
	Short: "Low-latency desktop-to-browser streaming host",
	Long:  `streamhost captures a display, encodes it to H.264/H.265 with loopback audio, and streams both to a browser over WebRTC.`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the streaming host",
	Run: func(cmd *cobra.Command, args []string) {
		runHost()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("streamhost v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/streamhost/streamhost.yaml)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// discardInputSink is the default InputSink: it drops every input event.
// A real pointer/gamepad injection backend is outside this system's scope
// (spec.md §1); wiring one in means implementing streamsession.InputSink
// and passing it to streamsession.New in handleWS instead.
type discardInputSink struct{}

func (discardInputSink) HandleInput([]byte) {}

// server owns the one HTTP handler that upgrades /ws into a signaling
// session, mirroring the teacher's ws_manager.go "one goroutine per
// connection, tracked so Stop drains them all" shape.
type server struct {
	cfg *config.Config

	mu       sync.Mutex
	sessions map[string]*streamsession.Session
	nextID   uint64
}

func newServer(cfg *config.Config) *server {
	return &server{cfg: cfg, sessions: make(map[string]*streamsession.Session)}
}

func (srv *server) handleWS(w http.ResponseWriter, r *http.Request) {
	signaler, err := signaling.Upgrade(w, r)
	if err != nil {
		log.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	srv.mu.Lock()
	srv.nextID++
	id := fmt.Sprintf("sess-%d", srv.nextID)
	srv.mu.Unlock()

	sess, err := streamsession.New(id, srv.cfg, signaler, discardInputSink{})
	if err != nil {
		log.Error("failed to build session", "error", err, "sessionId", id)
		_ = signaler.Close()
		return
	}

	srv.mu.Lock()
	srv.sessions[id] = sess
	srv.mu.Unlock()

	go func() {
		defer func() {
			srv.mu.Lock()
			delete(srv.sessions, id)
			srv.mu.Unlock()
		}()
		if err := sess.Run(); err != nil {
			log.Warn("session ended with error", "error", err, "sessionId", id)
		} else {
			log.Info("session ended", "sessionId", id)
		}
	}()
}

// stopAll stops every in-flight session, for graceful shutdown.
func (srv *server) stopAll() {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	for _, sess := range srv.sessions {
		sess.Stop()
	}
}

func runHost() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logging.Init(cfg.LogFormat, cfg.LogLevel, os.Stdout)
	log = logging.L("main")

	log.Info("starting streamhost",
		"version", version,
		"listen", cfg.SignalingListenAddr,
		"display", cfg.DisplayIndex,
		"videoCodec", cfg.VideoCodec,
	)

	srv := newServer(cfg)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", srv.handleWS)

	httpServer := &http.Server{Addr: cfg.SignalingListenAddr, Handler: mux}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("signaling server stopped", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down streamhost")
	srv.stopAll()
	_ = httpServer.Close()
	log.Info("streamhost stopped")
}
