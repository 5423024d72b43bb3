package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/redis/go-redis/v9"

	"collabtext/internal/config"
	"collabtext/internal/discovery"
)

func openStore(ctx context.Context, c *config.ServerConfig) (Store, error) {
	switch c.StoreDriver {
	case "bolt":
		return NewBoltStore(c.BoltPath)
	default:
		return NewPostgresStore(ctx, c.DatabaseURL)
	}
}

func listenPort(addr string) (int, error) {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(port)
}

func main() {
	configFile := flag.String("config", "", "path to a YAML config file")
	flag.Parse()
	defer glog.Flush()

	c, err := config.LoadServer(*configFile)
	if err != nil {
		glog.Exitf("Could not load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Connect to Redis ---
	rdb := redis.NewClient(&redis.Options{Addr: c.RedisAddr})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		glog.Exitf("Could not connect to Redis: %v", err)
	}
	defer rdb.Close()
	glog.Infof("Connected to Redis at %s.", c.RedisAddr)

	// --- Open the document store ---
	store, err := openStore(ctx, c)
	if err != nil {
		glog.Exitf("Unable to open %s store: %v", c.StoreDriver, err)
	}
	defer store.Close()
	glog.Infof("Opened %s document store.", c.StoreDriver)

	broadcaster := NewBroadcaster(rdb)
	api := NewAPI(store, broadcaster, newClientLimiter(c.FetchRate, c.FetchBurst))
	relay := NewRelay(store, rdb, broadcaster)

	if c.Advertise {
		port, err := listenPort(c.Listen)
		if err != nil {
			glog.Exitf("Cannot advertise %s: %v", c.Listen, err)
		}
		mdns, err := discovery.Advertise(c.DiscoveryService, c.DiscoveryDomain, port)
		if err != nil {
			glog.Errorf("mDNS advertise failed: %v", err)
		} else {
			defer mdns.Shutdown()
		}
	}

	server := &http.Server{
		Addr:              c.Listen,
		Handler:           newRouter(api, relay),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	glog.Infof("CollabText share relay starting on %s...", c.Listen)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		glog.Exitf("Failed to start server: %v", err)
	}
}
