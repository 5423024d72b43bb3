package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"

	"collabtext/internal/config"
	"collabtext/internal/discovery"
	"collabtext/internal/fetch"
	"collabtext/internal/liveview"
	"collabtext/internal/session"
)

func sessionSettings(c *config.AgentConfig, url string) *session.Settings {
	settings := session.DefaultSettings(url)
	settings.HandshakeTimeout = c.HandshakeTimeout
	settings.WriteTimeout = c.WriteTimeout
	settings.ReadTimeout = c.ReadTimeout
	settings.PingInterval = c.PingInterval
	settings.ReconnectInitial = c.ReconnectInitial
	settings.ReconnectMax = c.ReconnectMax
	return settings
}

func resolveServer(ctx context.Context, c *config.AgentConfig) (string, error) {
	if c.ServerURL != "" {
		return c.ServerURL, nil
	}
	browseCtx, cancel := context.WithTimeout(ctx, c.DiscoveryTimeout)
	defer cancel()
	return discovery.Browse(browseCtx, c.DiscoveryService, c.DiscoveryDomain)
}

func main() {
	configFile := flag.String("config", "", "path to a YAML config file")
	token := flag.String("token", "", "share token to view (overrides config)")
	flag.Parse()
	defer glog.Flush()

	c, err := config.LoadAgent(*configFile)
	if err != nil {
		glog.Exitf("Could not load config: %v", err)
	}
	if *token != "" {
		c.Token = *token
	}
	if c.Token == "" {
		glog.Exitf("No share token given.")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverURL, err := resolveServer(ctx, c)
	if err != nil {
		glog.Exitf("Could not find a relay: %v", err)
	}

	snapshot, err := fetch.NewClient(serverURL, c.FetchTimeout).Fetch(ctx, c.Token)
	if err != nil {
		// no live session for a document that never loaded
		glog.Exitf("Shared document %s: %s (%v)", c.Token, liveview.PresentationFor(err, liveview.View{}), err)
	}

	socketURL, err := wsURL(serverURL)
	if err != nil {
		glog.Exitf("Bad relay url %s: %v", serverURL, err)
	}

	hub := newHub()
	go hub.run(ctx)

	s := session.Open(ctx, sessionSettings(c, socketURL), c.Token, liveview.NewView(snapshot))
	defer s.Close()

	publish := func(e session.Event) {
		state, err := encodeState(renderState(e))
		if err != nil {
			glog.Errorf("[agent]encode state = %s\n", err)
			return
		}
		hub.Publish(state)
	}
	s.Subscribe(func(e session.Event) {
		switch e.Type {
		case session.EventDeleted:
			glog.Infof("[agent]%s was deleted while viewing (%s)\n", c.Token, e.Message)
		case session.EventDisconnected:
			glog.Infof("[agent]%s stale, waiting for relay\n", c.Token)
		}
		publish(e)
	})
	publish(session.Event{Type: session.EventConnecting, View: s.View(), Presence: s.Presence()})

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		serveWs(hub, w, r)
	})
	server := &http.Server{
		Addr:              c.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		s.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	glog.Infof("CollabText agent is viewing %s on %s...", c.Token, c.Listen)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		glog.Exitf("Failed to start server: %v", err)
	}
}
