package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/goodnatureofminers/netflow-backend/internal/metrics"
	"github.com/goodnatureofminers/netflow-backend/internal/netflow/evm"
	"github.com/goodnatureofminers/netflow-backend/internal/netflow/history"
	"github.com/goodnatureofminers/netflow-backend/internal/netflow/lease"
	"github.com/goodnatureofminers/netflow-backend/internal/netflow/ledger"
	"github.com/goodnatureofminers/netflow-backend/internal/netflow/model"
	"github.com/goodnatureofminers/netflow-backend/internal/netflow/publisher"
	"github.com/goodnatureofminers/netflow-backend/internal/netflow/repository/badger"
	"github.com/goodnatureofminers/netflow-backend/internal/netflow/repository/clickhouse"
	"github.com/goodnatureofminers/netflow-backend/internal/netflow/repository/postgres"
	"github.com/goodnatureofminers/netflow-backend/internal/netflow/service/ingester"
	"github.com/goodnatureofminers/netflow-backend/internal/netflow/service/query"
	"github.com/goodnatureofminers/netflow-backend/internal/netflow/tracker"
	"github.com/goodnatureofminers/netflow-backend/internal/netflow/transport/httpapi"
	grpcMiddleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpcZap "github.com/grpc-ecosystem/go-grpc-middleware/logging/zap"
	grpcRecovery "github.com/grpc-ecosystem/go-grpc-middleware/recovery"
	grpcCtxTags "github.com/grpc-ecosystem/go-grpc-middleware/tags"
	grpcPrometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// writerLockID is the postgres advisory lock key guarding the single writer.
const writerLockID int64 = 0x6e6574666c6f77

type config struct {
	Chain         string        `long:"chain" env:"NETFLOW_CHAIN" description:"chain label used in metrics" default:"polygon"`
	RPCURL        string        `long:"rpc-url" env:"NETFLOW_RPC_URL" description:"EVM JSON-RPC URL" required:"true"`
	WSURL         string        `long:"ws-url" env:"NETFLOW_WS_URL" description:"EVM websocket URL for new-head notifications"`
	RPCRPS        int           `long:"rpc-rps" env:"NETFLOW_RPC_RPS" description:"max RPC requests per second, 0 disables the limit" default:"20"`
	RPCTimeout    time.Duration `long:"rpc-timeout" env:"NETFLOW_RPC_TIMEOUT" description:"timeout of a single RPC call" default:"15s"`
	RPCMaxElapsed time.Duration `long:"rpc-max-elapsed" env:"NETFLOW_RPC_MAX_ELAPSED" description:"max retry time of one chain read" default:"1m"`

	TokenAddress  string   `long:"token-address" env:"NETFLOW_TOKEN_ADDRESS" description:"ERC-20 token contract" required:"true"`
	TokenDecimals int32    `long:"token-decimals" env:"NETFLOW_TOKEN_DECIMALS" description:"token decimal places for formatted amounts" default:"18"`
	Addresses     []string `long:"address" env:"NETFLOW_ADDRESSES" env-delim:"," description:"tracked address, repeatable"`
	AddressesFile string   `long:"addresses-file" env:"NETFLOW_ADDRESSES_FILE" description:"TOML file with [exchanges] address lists"`

	StartHeight   uint64        `long:"start-height" env:"NETFLOW_START_HEIGHT" description:"first height to ingest on an empty store"`
	ReorgWindow   int           `long:"reorg-window" env:"NETFLOW_REORG_WINDOW" description:"number of recent blocks kept for reorg handling" default:"128"`
	MaxReorgDepth int           `long:"max-reorg-depth" env:"NETFLOW_MAX_REORG_DEPTH" description:"deepest reorg handled before stopping" default:"64"`
	PollInterval  time.Duration `long:"poll-interval" env:"NETFLOW_POLL_INTERVAL" description:"head poll interval when caught up" default:"2s"`
	Prefetch      int           `long:"prefetch" env:"NETFLOW_PREFETCH" description:"blocks fetched concurrently while catching up" default:"8"`

	Store       string `long:"store" env:"NETFLOW_STORE" description:"state store" choice:"badger" choice:"postgres" default:"badger"`
	StorageDir  string `long:"storage-dir" env:"NETFLOW_STORAGE_DIR" description:"badger data directory" default:"data/netflow"`
	PostgresDSN string `long:"postgres-dsn" env:"NETFLOW_POSTGRES_DSN" description:"PostgreSQL DSN"`

	ClickhouseDSN        string        `long:"clickhouse-dsn" env:"NETFLOW_CLICKHOUSE_DSN" description:"ClickHouse DSN for the delta history"`
	HistoryFlushSize     int           `long:"history-flush-size" env:"NETFLOW_HISTORY_FLUSH_SIZE" description:"committed blocks relayed per history insert" default:"100"`
	HistoryFlushInterval time.Duration `long:"history-flush-interval" env:"NETFLOW_HISTORY_FLUSH_INTERVAL" description:"interval between history outbox polls" default:"2s"`

	RedisAddr string        `long:"redis-addr" env:"NETFLOW_REDIS_ADDR" description:"Redis address for the writer lease"`
	LeaseTTL  time.Duration `long:"lease-ttl" env:"NETFLOW_LEASE_TTL" description:"writer lease TTL" default:"15s"`

	KafkaBrokers       []string      `long:"kafka-brokers" env:"NETFLOW_KAFKA_BROKERS" env-delim:"," description:"Kafka brokers for update events"`
	KafkaTopic         string        `long:"kafka-topic" env:"NETFLOW_KAFKA_TOPIC" description:"Kafka topic for update events" default:"netflow.updates"`
	KafkaFlushSize     int           `long:"kafka-flush-size" env:"NETFLOW_KAFKA_FLUSH_SIZE" description:"update events per Kafka write" default:"100"`
	KafkaFlushInterval time.Duration `long:"kafka-flush-interval" env:"NETFLOW_KAFKA_FLUSH_INTERVAL" description:"max delay before queued update events are written" default:"200ms"`

	HTTPAddr      string `long:"http-addr" env:"NETFLOW_HTTP_ADDR" description:"address for the HTTP API" default:":8080"`
	GRPCAddr      string `long:"grpc-addr" env:"NETFLOW_GRPC_ADDR" description:"address for the gRPC health service" default:":8081"`
	MetricsAddr   string `long:"metrics-addr" env:"NETFLOW_METRICS_ADDR" description:"address for metrics server" default:":2112"`
	LogProduction bool   `long:"log-production" env:"NETFLOW_LOG_PRODUCTION" description:"JSON production logging"`
}

func main() {
	cfg := config{}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := flags.ParseArgs(&cfg, os.Args); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := newLogger(cfg.LogProduction)
	if err != nil {
		panic("can't initialize zap logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync()
	}()
	grpcZap.ReplaceGrpcLoggerV2(logger)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("netflow ingester failed", zap.Error(err))
	}
}

func newLogger(production bool) (*zap.Logger, error) {
	if production {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func run(ctx context.Context, cfg config, logger *zap.Logger) error {
	if cfg.MetricsAddr != "" {
		startMetricsServer(ctx, cfg.MetricsAddr, logger)
	}

	tracked, err := loadTrackedAddresses(cfg.Addresses, cfg.AddressesFile)
	if err != nil {
		return fmt.Errorf("load tracked addresses: %w", err)
	}
	token, err := model.ParseAddress(cfg.TokenAddress)
	if err != nil {
		return fmt.Errorf("token address: %w", err)
	}
	logger.Info("tracking addresses", zap.Int("count", tracked.Len()), zap.Stringer("token", token))

	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("dial rpc: %w", err)
	}
	defer eth.Close()

	rpc := evm.NewRPCClient(eth, metrics.NewRPCClient(cfg.Chain), cfg.RPCRPS, cfg.RPCTimeout)
	source := evm.NewSource(logger, rpc, evm.NewClassifier(token), cfg.RPCMaxElapsed)
	heads, err := startBlockSignal(ctx, cfg.WSURL, logger)
	if err != nil {
		return fmt.Errorf("start block signal: %w", err)
	}
	poller := evm.NewPoller(logger, source, cfg.Prefetch, cfg.PollInterval, heads)

	store, writerLease, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := writerLease.Acquire(ctx); err != nil {
		return fmt.Errorf("acquire writer lease: %w", err)
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := writerLease.Release(releaseCtx); err != nil {
			logger.Warn("release writer lease failed", zap.Error(err))
		}
	}()

	netflows := ledger.New(tracked)
	chain, err := tracker.New(cfg.ReorgWindow, cfg.MaxReorgDepth)
	if err != nil {
		return fmt.Errorf("init tracker: %w", err)
	}

	var (
		opts            []ingester.Option
		notifiers       []ingester.Notifier
		historyRead     query.HistoryReader
		historyProgress query.HistoryProgress
	)
	if cfg.ClickhouseDSN != "" {
		repo, err := clickhouse.NewRepository(cfg.ClickhouseDSN, metrics.NewRepository("clickhouse"))
		if err != nil {
			return fmt.Errorf("init clickhouse repository: %w", err)
		}
		defer func() {
			if err := repo.Close(); err != nil {
				logger.Warn("close clickhouse failed", zap.Error(err))
			}
		}()
		relay, err := history.NewRelay(logger, store, repo, metrics.NewNotifier("history"), cfg.HistoryFlushSize, cfg.HistoryFlushInterval)
		if err != nil {
			return fmt.Errorf("init history relay: %w", err)
		}
		if err := relay.Start(ctx); err != nil {
			return fmt.Errorf("start history relay: %w", err)
		}
		defer relay.Stop()
		opts = append(opts, ingester.WithHistoryOutbox())
		notifiers = append(notifiers, relay)
		historyRead = repo
		historyProgress = relay
	}
	if len(cfg.KafkaBrokers) > 0 {
		pub := publisher.NewKafkaPublisher(logger, cfg.KafkaBrokers, cfg.KafkaTopic, metrics.NewNotifier("kafka"), cfg.KafkaFlushSize, cfg.KafkaFlushInterval)
		pub.Start(ctx)
		defer func() {
			if err := pub.Close(); err != nil {
				logger.Warn("close kafka publisher failed", zap.Error(err))
			}
		}()
		notifiers = append(notifiers, pub)
	}

	svc, err := ingester.NewService(logger, store, source, poller, netflows, chain, metrics.NewIngester(cfg.Chain), cfg.StartHeight,
		append(opts, ingester.WithNotifiers(notifiers...))...)
	if err != nil {
		return err
	}
	api := httpapi.NewHandler(logger, query.NewService(netflows, historyRead, historyProgress), metrics.NewHTTP(), cfg.TokenDecimals)

	healthSrv := health.NewServer()
	grpcServer := newGRPCServer(logger, healthSrv)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		err := svc.Run(gctx)
		if gctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("ingestion stopped: %w", err)
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-writerLease.Lost():
			return errors.New("writer lease lost")
		}
	})
	g.Go(func() error {
		return serveHTTP(gctx, cfg.HTTPAddr, cors.Default().Handler(api.Routes()), logger)
	})
	g.Go(func() error {
		return serveGRPC(gctx, cfg.GRPCAddr, grpcServer, logger)
	})

	return g.Wait()
}

// stateStore holds the ledger state together with the history outbox its
// commits fill.
type stateStore interface {
	ingester.Store
	history.Outbox
}

// openStore opens the configured state store and the lease guarding it. A
// Redis lease takes precedence when configured; postgres falls back to an
// advisory lock and badger relies on its directory lock.
func openStore(ctx context.Context, cfg config, logger *zap.Logger) (stateStore, lease.Lease, func(), error) {
	var (
		store       stateStore
		writerLease lease.Lease = lease.NewNop()
		closers     []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	switch cfg.Store {
	case "postgres":
		repo, err := postgres.NewRepository(ctx, cfg.PostgresDSN, metrics.NewRepository("postgres"))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("init postgres repository: %w", err)
		}
		closers = append(closers, repo.Close)
		store = repo
		writerLease = lease.NewPostgres(logger, repo.Pool(), writerLockID, cfg.LeaseTTL/3)
	default:
		repo, err := badger.NewRepository(cfg.StorageDir, metrics.NewRepository("badger"))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("init badger repository: %w", err)
		}
		closers = append(closers, func() {
			if err := repo.Close(); err != nil {
				logger.Warn("close badger failed", zap.Error(err))
			}
		})
		store = repo
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			closeAll()
			return nil, nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		closers = append(closers, func() {
			_ = client.Close()
		})
		writerLease = lease.NewRedis(logger, client, "netflow:writer:"+cfg.Chain+":"+cfg.TokenAddress, cfg.LeaseTTL)
	}

	return store, writerLease, closeAll, nil
}

func newGRPCServer(logger *zap.Logger, healthSrv *health.Server) *grpc.Server {
	chain := []grpc.UnaryServerInterceptor{
		grpcRecovery.UnaryServerInterceptor(),
		grpcCtxTags.UnaryServerInterceptor(),
		grpcPrometheus.UnaryServerInterceptor,
		grpcZap.UnaryServerInterceptor(logger),
	}
	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(grpcMiddleware.ChainUnaryServer(chain...)),
	)
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	grpcPrometheus.EnableHandlingTimeHistogram()
	grpcPrometheus.Register(grpcServer)
	return grpcServer
}

func serveGRPC(ctx context.Context, addr string, srv *grpc.Server, logger *zap.Logger) error {
	socket, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	go func() {
		<-ctx.Done()
		logger.Info("shutting down gRPC server")
		srv.GracefulStop()
	}()

	logger.Info("starting gRPC server", zap.String("addr", addr))
	if err := srv.Serve(socket); err != nil {
		return fmt.Errorf("serve grpc: %w", err)
	}
	return nil
}

func serveHTTP(ctx context.Context, addr string, handler http.Handler, logger *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    http.DefaultMaxHeaderBytes,
	}
	go func() {
		<-ctx.Done()
		logger.Info("shutting down the http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown http server", zap.Error(err))
		}
	}()

	logger.Info("starting HTTP server", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve http: %w", err)
	}
	return nil
}

func startMetricsServer(ctx context.Context, addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("starting metrics server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown metrics server", zap.Error(err))
		}
	}()
}
