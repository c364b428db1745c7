package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc"

	"codelab.org/internal/auth"
	"codelab.org/internal/cache"
	"codelab.org/internal/config"
	"codelab.org/internal/enrollment"
	"codelab.org/internal/events"
	"codelab.org/internal/httpapi"
	"codelab.org/internal/obs"
	"codelab.org/internal/payment"
	"codelab.org/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	obs.Init(version, commit)

	var (
		store   enrollment.Store
		closers []func() error
	)
	if cfg.PostgresDSN != "" {
		pgStore, err := pg.Open(cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		closers = append(closers, pgStore.Close)
		store = pgStore
	} else {
		mem := enrollment.NewInMemory()
		seedDemo(mem)
		store = mem
		obs.Warn("in_memory_store", map[string]any{"reason": "CODELAB_PG_DSN not set"})
	}

	authority, err := auth.NewAuthority(cfg.AuthSecret, auth.WithTTL(cfg.TokenTTL))
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	stream := events.NewStream()
	var kafkaPub *events.KafkaPublisher
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPub = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, 1024)
		kafkaPub.Start()
	}

	opts := []enrollment.ServiceOption{enrollment.WithObserver(events.NewFanout(stream, kafkaPub))}
	var catalog enrollment.Catalog = store
	if cfg.RedisAddr != "" {
		rdb := cache.NewClient(cfg.RedisAddr)
		closers = append(closers, rdb.Close)
		offerings := cache.New(store, rdb, cfg.CacheTTL)
		catalog = offerings
		opts = append(opts, enrollment.WithObserver(offerings))
	}
	svc := enrollment.NewService(store, opts...)

	probe := httpapi.ReadyProbe{Store: store}
	api := httpapi.New(httpapi.Options{
		Version:    version,
		Ready:      probe,
		Authority:  authority,
		Enrollment: svc,
		Catalog:    catalog,
		Payments: payment.NewClient(payment.Config{
			SecretKey: cfg.Gateway.SecretKey,
			BaseURL:   cfg.Gateway.BaseURL,
			Currency:  cfg.Gateway.Currency,
			Timeout:   cfg.Gateway.Timeout,
		}),
		Stream:     stream,
		RateBurst:  cfg.RateBurst,
		RatePerSec: cfg.RatePerSec,
	})

	// No WriteTimeout: /events/enrollments holds the response open.
	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	srv.RegisterOnShutdown(stream.Close)

	var grpcSrv *grpc.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			log.Fatalf("grpc listen: %v", err)
		}
		grpcSrv = grpc.NewServer()
		httpapi.NewGRPCServer(probe).Register(grpcSrv)
		go func() {
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				log.Fatalf("grpc serve: %v", err)
			}
		}()
	}

	obs.Info("server_starting", map[string]any{
		"version":   version,
		"addr":      srv.Addr,
		"grpc_addr": cfg.GRPCAddr,
		"postgres":  cfg.PostgresDSN != "",
		"redis":     cfg.RedisAddr != "",
		"kafka":     len(cfg.KafkaBrokers) > 0,
	})

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	obs.Info("server_stopping", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		obs.Warn("http_shutdown_incomplete", map[string]any{"error": err.Error()})
	}
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	if kafkaPub != nil {
		if err := kafkaPub.Close(ctx); err != nil {
			obs.Warn("kafka_flush_incomplete", map[string]any{"error": err.Error()})
		}
	}
	for _, c := range closers {
		_ = c()
	}
	obs.Info("server_stopped", nil)
}

// seedDemo mirrors the SQL demo seed for the in-memory store.
func seedDemo(mem *enrollment.InMemory) {
	for _, o := range []enrollment.ClassOffering{
		{ID: "demo-go-basics", InstructorEmail: "ada@codelab.org", ClassName: "Go Basics", Price: decimal.RequireFromString("25.00"), AvailableSeats: 30},
		{ID: "demo-concurrency", InstructorEmail: "ada@codelab.org", ClassName: "Concurrency Patterns", Price: decimal.RequireFromString("40.00"), AvailableSeats: 12},
		{ID: "demo-last-seat", InstructorEmail: "grace@codelab.org", ClassName: "Compilers Seminar", Price: decimal.RequireFromString("60.00"), AvailableSeats: 1, TotalEnrolled: 10},
	} {
		mem.PutOffering(o)
	}
}
