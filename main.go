package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/contentsquare/webfetch/cache"
	"github.com/contentsquare/webfetch/config"
	"github.com/contentsquare/webfetch/engine"
	"github.com/contentsquare/webfetch/log"
	"github.com/contentsquare/webfetch/middleware"
	"github.com/contentsquare/webfetch/transport"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var configFile = flag.String("config", "", "Configuration filename. Defaults are used when empty")

var (
	allowedNetworksFetch   atomic.Value
	allowedNetworksMetrics atomic.Value
)

func main() {
	flag.Parse()

	log.Infof("Loading config: %q", *configFile)
	cfg, err := reloadConfig()
	if err != nil {
		log.Fatalf("error while loading config: %s", err)
	}
	log.Infof("Loading config %q: successful", *configFile)

	index, err := cache.NewIndex(cfg.Cache.Index)
	if err != nil {
		log.Fatalf("cannot open cache index: %s", err)
	}
	manager, err := cache.NewManager(cfg.Cache, index)
	if err != nil {
		log.Fatalf("cannot start cache manager: %s", err)
	}

	registerMetrics(cfg.Server.Metrics.Namespace)
	e, err := engine.New(cfg.Engine, manager, transport.NewHTTP(cfg.Engine))
	if err != nil {
		log.Fatalf("cannot start engine: %s", err)
	}
	if err := registerBuiltinProcessors(e); err != nil {
		log.Fatalf("cannot register processors: %s", err)
	}
	registerStateMetrics(cfg.Server.Metrics.Namespace, manager, e)

	ln, err := net.Listen("tcp", cfg.Server.ListenAddr)
	if err != nil {
		log.Fatalf("cannot listen for %q: %s", cfg.Server.ListenAddr, err)
	}
	srv := newServer(middleware.NewClientAddr(cfg.Server.Proxy, newHandler(e)))

	go func() {
		log.Infof("Serving http on %q", cfg.Server.ListenAddr)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error on %q: %s", cfg.Server.ListenAddr, err)
		}
	}()

	if ok, err := sdNotifyReady(); err != nil {
		log.Errorf("cannot notify systemd: %s", err)
	} else if ok {
		log.Debugf("systemd notified")
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	for sig := range c {
		if sig != syscall.SIGHUP {
			log.Infof("%s received. Shutting down ...", sig)
			break
		}
		log.Infof("SIGHUP received. Going to reload config %q ...", *configFile)
		if _, err := reloadConfig(); err != nil {
			log.Errorf("error while reloading config: %s", err)
			continue
		}
		log.Infof("Reloading config %q: successful", *configFile)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("cannot shut down http server: %s", err)
	}
	e.Close()
	if err := manager.Close(); err != nil {
		log.Errorf("cannot close cache: %s", err)
	}
	log.Infof("Stopped")
}

func newServer(h http.Handler) *http.Server {
	return &http.Server{
		Handler:      h,
		ReadTimeout:  time.Minute,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  10 * time.Minute,
		ErrorLog:     log.ErrorLogger,
	}
}

var promHandler = promhttp.Handler()

func newHandler(e *engine.Engine) http.Handler {
	fetch := &fetchHandler{engine: e}
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/favicon.ico":
		case "/metrics":
			an := allowedNetworksMetrics.Load().(*config.Networks)
			if !an.Contains(r.RemoteAddr) {
				err := fmt.Errorf("connections to /metrics are not allowed from %s", r.RemoteAddr)
				rw.Header().Set("Connection", "close")
				respondWith(rw, err, http.StatusForbidden)
				return
			}
			promHandler.ServeHTTP(rw, r)
		case "/fetch":
			an := allowedNetworksFetch.Load().(*config.Networks)
			if !an.Contains(r.RemoteAddr) {
				err := fmt.Errorf("connections to /fetch are not allowed from %s", r.RemoteAddr)
				rw.Header().Set("Connection", "close")
				respondWith(rw, err, http.StatusForbidden)
				return
			}
			fetch.ServeHTTP(rw, r)
		default:
			badRequest.Inc()
			err := fmt.Errorf("unsupported path: %s", r.URL.Path)
			log.Debugf("%s", err)
			respondWith(rw, err, http.StatusBadRequest)
		}
	})
}

func loadConfig() (*config.Config, error) {
	if len(*configFile) == 0 {
		return config.Default(), nil
	}
	cfg, err := config.LoadFile(*configFile)
	if err != nil {
		return nil, fmt.Errorf("can't load config %q: %w", *configFile, err)
	}
	return cfg, nil
}

// reloadConfig applies the settings that can change at runtime: logging
// and allowed networks. Cache and engine settings need a restart.
func reloadConfig() (*config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := applyConfig(cfg); err != nil {
		return nil, err
	}
	log.Infof("Loaded config:\n%s", cfg)
	return cfg, nil
}

func applyConfig(cfg *config.Config) error {
	if err := log.InitReplacer(cfg.LogMasks); err != nil {
		return fmt.Errorf("cannot apply log masks: %w", err)
	}
	allowedNetworksFetch.Store(&cfg.Server.AllowedNetworks)
	allowedNetworksMetrics.Store(&cfg.Server.Metrics.AllowedNetworks)
	log.SetDebug(cfg.LogDebug)
	return nil
}
