// Package main runs the development signaling relay.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	log "github.com/roomcall/roomcall/pkg/logger"
	"github.com/roomcall/roomcall/pkg/relay"
)

// Config of the relay.
type Config struct {
	relay.Config `mapstructure:",squash"`
	Addr         string           `mapstructure:"addr"`
	MetricsAddr  string           `mapstructure:"metricsaddr"`
	LogConfig    log.GlobalConfig `mapstructure:"log"`
}

var (
	conf        = Config{}
	file        string
	addr        string
	metricsAddr string

	logger = log.New()
)

func showHelp() {
	fmt.Printf("Usage:%s {params}\n", os.Args[0])
	fmt.Println("      -c {config file}")
	fmt.Println("      -a {listen addr}")
	fmt.Println("      -m {metrics listen addr}")
	fmt.Println("      -h (show help info)")
}

func load() bool {
	_, err := os.Stat(file)
	if err != nil {
		return false
	}

	viper.SetConfigFile(file)
	viper.SetConfigType("toml")

	err = viper.ReadInConfig()
	if err != nil {
		logger.Error(err, "config file read failed", "file", file)
		return false
	}
	err = viper.GetViper().Unmarshal(&conf)
	if err != nil {
		logger.Error(err, "relay config file loaded failed", "file", file)
		return false
	}

	if conf.JWTSecret == "" {
		logger.Error(nil, "config file loaded failed. jwtsecret must be set", "file", file)
		return false
	}

	logger.V(0).Info("Config file loaded", "file", file)
	return true
}

func parse() bool {
	flag.StringVar(&file, "c", "relay.toml", "config file")
	flag.StringVar(&addr, "a", "", "address to use")
	flag.StringVar(&metricsAddr, "m", "", "metrics address to use")
	help := flag.Bool("h", false, "help info")
	flag.Parse()

	if !load() {
		return false
	}
	if *help {
		return false
	}

	if addr != "" {
		conf.Addr = addr
	}
	if conf.Addr == "" {
		conf.Addr = ":8000"
	}
	if metricsAddr != "" {
		conf.MetricsAddr = metricsAddr
	}
	return true
}

func serve(ctx context.Context, name, addr string, h http.Handler) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("cannot bind %s endpoint %s: %w", name, addr, err)
	}
	srv := &http.Server{Handler: h}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	logger.Info("Listening", "name", name, "addr", addr)
	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func main() {
	if !parse() {
		showHelp()
		os.Exit(-1)
	}

	log.SetGlobalOptions(conf.LogConfig)
	logger = log.New()
	relay.Logger = logger.WithName("relay")

	logger.Info("--- Starting signaling relay ---")
	srv, err := relay.NewServer(conf.Config, prometheus.DefaultRegisterer)
	if err != nil {
		logger.Error(err, "relay config")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	mux := http.NewServeMux()
	mux.Handle("/ws/chat/", srv)
	g.Go(func() error { return serve(ctx, "relay", conf.Addr, mux) })

	if conf.MetricsAddr != "" {
		m := http.NewServeMux()
		m.Handle("/metrics", promhttp.Handler())
		g.Go(func() error { return serve(ctx, "metrics", conf.MetricsAddr, m) })
	}

	g.Go(func() error {
		<-ctx.Done()
		srv.Close()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error(err, "relay stopped")
		os.Exit(1)
	}
	logger.Info("--- Signaling relay stopped ---")
}
