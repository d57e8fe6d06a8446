// Package app wires the realtime gateway together and runs its listeners.
package app

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"PPRealtime/global/config"
	"PPRealtime/logger"
	"PPRealtime/service/chat"
	"PPRealtime/service/health"
	"PPRealtime/service/ingest"
	"PPRealtime/service/realtime/notify"
	"PPRealtime/service/realtime/presence"
	"PPRealtime/service/realtime/registry"
	"PPRealtime/service/realtime/router"
	"PPRealtime/service/realtime/session"
	"PPRealtime/service/storage"
	"PPRealtime/tools/errs"
	"PPRealtime/tools/ids"
	"PPRealtime/tools/safe"
	"PPRealtime/tools/security"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"
)

type App struct {
	conf *config.AppConfig
	log  *zap.Logger

	Registry *registry.Registry
	Tracker  *presence.Tracker
	Router   *router.Router
	Notifier *notify.Dispatcher
	Ingest   *ingest.Handler
	Gateway  *chat.Server
	Health   *health.Server

	legacy, strict *session.Driver

	rdb   *redis.Client
	store *storage.PresenceStore
	idem  *ingest.MemIdem
}

// New builds every component. Redis is dialed here when enabled; brokers
// are connected by Run.
func New(ctx context.Context, conf *config.AppConfig, l *zap.Logger) (*App, error) {
	if l == nil {
		l = logger.Log
	}
	ids.SetNodeID(ids.NodeIDFromName(conf.NodeId))

	jwtOpts := security.Options{
		Secret: []byte(conf.Auth.JwtSecret),
		Alg:    conf.Auth.Algorithm,
		TTL:    conf.Auth.TokenTTL.Duration,
	}
	strictV, err := security.NewJWTVerifier(jwtOpts)
	if err != nil {
		return nil, errors.Wrap(err, "jwt verifier")
	}
	var legacyV security.Verifier = strictV
	if conf.Auth.AllowLegacyUserID {
		legacyV = security.LegacyIDVerifier{Next: strictV}
	}

	a := &App{conf: conf, log: l.Named("app"), idem: ingest.NewMemIdem(10 * time.Minute)}
	a.Registry = registry.New(registry.Options{MaxPerUser: conf.Registry.MaxPerUser, Logger: l.Named("registry")})

	var mirror presence.Mirror
	if conf.Redis.Enabled {
		rdb, err := storage.Dial(ctx, conf.Redis)
		if err != nil {
			a.Registry.Close()
			return nil, err
		}
		a.rdb = rdb
		a.store = storage.NewPresenceStore(rdb, conf.NodeId, conf.Redis.PresenceTTL.Duration)
		mirror = a.store
	}
	a.Tracker = presence.New(a.Registry, presence.Options{Mirror: mirror, Logger: l.Named("presence")})
	a.Registry.SetListener(a.Tracker)

	a.Router = router.New(a.Registry, l.Named("router"))
	a.Notifier = notify.New(a.Registry, l.Named("notify"))
	a.Ingest = ingest.NewHandler(a.Router, a.Notifier, l.Named("ingest"))

	ws := conf.WebSocket
	sessOpts := session.Options{
		SendQueueSize:  ws.SendQueueSize,
		WriteTimeout:   ws.WriteTimeout.Duration,
		PongTimeout:    ws.PongTimeout.Duration,
		PingInterval:   ws.PingInterval.Duration,
		MaxMessageSize: ws.MaxMessageSize,
		VerifyTimeout:  conf.Auth.VerifyTimeout.Duration,
	}
	a.legacy = session.NewDriver(a.Registry, a.Router, legacyV, sessOpts, l.Named("session"))
	a.strict = session.NewDriver(a.Registry, a.Router, strictV, sessOpts, l.Named("session"))

	deps := chat.Deps{
		Registry: a.Registry,
		Legacy:   a.legacy,
		Strict:   a.strict,
		Ingest:   a.Ingest,
	}
	if a.store != nil {
		deps.Presence = a.store
	}
	a.Gateway = chat.NewServer(conf, deps, l)
	a.Health = health.New(l)
	return a, nil
}

// ActiveSessions counts authenticated sessions on both endpoint families.
func (a *App) ActiveSessions() int64 {
	return a.legacy.Active() + a.strict.Active()
}

// Run listens on the configured port and serves until ctx is done.
func (a *App) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", ":"+strconv.Itoa(a.conf.Server.Port))
	if err != nil {
		return errors.Wrapf(err, "listen :%d", a.conf.Server.Port)
	}
	if a.conf.Server.MaxConnections > 0 {
		lis = netutil.LimitListener(lis, a.conf.Server.MaxConnections)
	}
	return a.Serve(ctx, lis)
}

// Serve runs the HTTP gateway on lis plus every enabled side listener
// (gRPC health, NATS, Kafka, presence refresh). It returns after ctx is
// done and the shutdown sequence has finished, or when a listener fails.
func (a *App) Serve(ctx context.Context, lis net.Listener) error {
	cmd := ingest.Chain(a.Ingest.Func(), ingest.Recover(a.log), ingest.Dedup(a.idem, 0))

	// Brokers are connected before anything starts so a failure here needs
	// no unwinding.
	var (
		conn     *nats.Conn
		consumer *ingest.NatsConsumer
	)
	if nc := a.conf.Nats; nc.Enabled {
		var err error
		if conn, err = ingest.DialNats(nc, a.log); err != nil {
			return err
		}
		if consumer, err = ingest.SubscribeNats(conn, nc.SubjectPrefix, nc.Queue, cmd, a.log); err != nil {
			conn.Close()
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg    sync.WaitGroup
		errCh = make(chan error, 8)
	)
	start := func(name string, f func() error) {
		wg.Add(1)
		safe.Go(name, func() {
			defer wg.Done()
			if err := f(); err != nil {
				errCh <- errors.Wrap(err, name)
			}
		})
	}

	srv := &http.Server{
		Handler:           a.Gateway.Handler(),
		BaseContext:       func(net.Listener) context.Context { return ctx },
		ReadHeaderTimeout: 10 * time.Second,
	}
	start("http", func() error {
		a.log.Info("http listening", zap.String("addr", lis.Addr().String()))
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if port := a.conf.Server.GrpcPort; port > 0 {
		start("grpc-health", func() error { return a.Health.ListenAndServe(ctx, port) })
	}

	start("idem-sweeper", func() error {
		a.idem.RunSweeper(ctx, time.Minute)
		return nil
	})

	if consumer != nil {
		start("nats", func() error {
			<-ctx.Done()
			_ = consumer.Close()
			return conn.Drain()
		})
	}

	if kc := a.conf.Kafka; kc.Enabled {
		start("kafka", func() error { return ingest.RunKafka(ctx, kc, a.conf.NodeId, cmd, a.log) })
	}

	if a.store != nil {
		every := a.conf.Redis.RefreshEvery.Duration
		start("presence-refresh", func() error {
			a.Tracker.RefreshLoop(ctx, every)
			return nil
		})
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		a.log.Error("listener failed, shutting down", zap.Error(runErr))
	}
	cancel()
	a.shutdown(srv)
	wg.Wait()
	return runErr
}

func (a *App) shutdown(srv *http.Server) {
	grace := a.conf.Server.ShutdownGrace.Duration
	if grace <= 0 {
		grace = 5 * time.Second
	}
	a.Health.SetServing(false)

	sctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		a.log.Warn("http shutdown", zap.Error(err))
	}

	// Hijacked websocket connections are not tracked by http.Server; they
	// observe the cancelled base context, KickAll covers the rest.
	n := a.Registry.KickAll(errs.ErrShutdown.Code, errs.ErrShutdown.Msg)
	a.log.Info("sessions closed for shutdown", zap.Int("connections", n))

	t := time.NewTicker(20 * time.Millisecond)
	defer t.Stop()
	for a.ActiveSessions() > 0 {
		select {
		case <-sctx.Done():
			a.log.Warn("sessions still open after grace period", zap.Int64("active", a.ActiveSessions()))
			return
		case <-t.C:
		}
	}
}

// Close flushes pending presence events and releases Redis. Call it after
// Serve has returned.
func (a *App) Close() {
	a.Registry.Close()
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.Warn("redis close", zap.Error(err))
		}
	}
}
