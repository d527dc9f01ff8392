package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/orderpulse/realtime-connector/internal/broadcast"
	"github.com/orderpulse/realtime-connector/internal/config"
	"github.com/orderpulse/realtime-connector/internal/controller/api"
	"github.com/orderpulse/realtime-connector/internal/events"
	"github.com/orderpulse/realtime-connector/internal/heartbeat"
	"github.com/orderpulse/realtime-connector/internal/identity"
	"github.com/orderpulse/realtime-connector/internal/middlewares"
	"github.com/orderpulse/realtime-connector/internal/offlinesync"
	"github.com/orderpulse/realtime-connector/internal/platform/logger"
	"github.com/orderpulse/realtime-connector/internal/platform/queue"
	"github.com/orderpulse/realtime-connector/internal/platform/utils"
	"github.com/orderpulse/realtime-connector/internal/ratelimit"
	"github.com/orderpulse/realtime-connector/internal/registry"
	"github.com/orderpulse/realtime-connector/internal/ws"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	kafka "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

func logFatalError(msg string, err error) {
	logger.Log.WithFields(logrus.Fields{"error": err}).Fatal(msg)
}

func main() {
	var wsAddr = flag.String("wsAddr", ":8080", "Hostname:port of the websocket server")
	var apiAddr = flag.String("apiAddr", ":8081", "Hostname:port of the api server")

	flag.Parse()

	logger.InitLogger()

	logger.Log.Info("Starting Realtime-Connector service")

	cfg := config.GetConfig()
	logger.Log.Info("Realtime-Connector configuration:\n", cfg)

	tokenVerifier, err := identity.NewTokenVerifier(identity.JwtTokenVerifier, cfg)
	if err != nil {
		logFatalError("Failed to create the token verifier", err)
	}

	rateLimitStore, err := buildRateLimitStore(cfg)
	if err != nil {
		logFatalError("Failed to create the rate limit store", err)
	}

	abuseGuard := ratelimit.NewAbuseGuard(rateLimitStore, cfg)

	connectionRegistry := registry.NewConnectionRegistry()

	offlineQueue, err := broadcast.NewOfflineQueue(cfg.OfflineQueueUserLimit, cfg.OfflineQueuePerUserLimit)
	if err != nil {
		logFatalError("Failed to create the offline message queue", err)
	}

	broadcaster := broadcast.NewBroadcaster(connectionRegistry, offlineQueue)

	syncStore, err := offlinesync.NewSqlSyncStore(cfg)
	if err != nil {
		logFatalError("Failed to create the sync store", err)
	}

	auditor, auditWriter := buildAuditor(cfg)
	if auditWriter != nil {
		defer auditWriter.Close()
	}

	syncEngine := offlinesync.NewEngine(syncStore, broadcaster, auditor, cfg)

	gate := ws.NewAuthenticationGate(connectionRegistry, broadcaster, tokenVerifier, abuseGuard, cfg)

	wsMux := mux.NewRouter()
	wsServer := ws.NewWebSocketServer(wsMux, cfg, gate, abuseGuard, connectionRegistry, broadcaster)
	wsServer.Routes()

	heartbeatMonitor := heartbeat.NewMonitor(connectionRegistry, cfg, rateLimitStore.GC)
	heartbeatMonitor.Start()

	apiMux := mux.NewRouter()

	readinessChecks := []api.ReadinessCheck{
		{Name: "database", Check: syncStore.Ping},
	}
	if redisStore, ok := rateLimitStore.(*ratelimit.RedisKeyedStore); ok {
		readinessChecks = append(readinessChecks, api.ReadinessCheck{Name: "redis", Check: redisStore.Ping})
	}

	monitoringServer := api.NewMonitoringServer(apiMux, cfg, readinessChecks...)
	monitoringServer.Routes()

	securedApiMux := apiMux.PathPrefix(cfg.UrlBasePath).Subrouter()

	mgmtServer := api.NewManagementServer(connectionRegistry, securedApiMux, cfg)
	mgmtServer.Routes()

	bearerMiddleware := &middlewares.BearerAuthMiddleware{Verifier: tokenVerifier}
	syncServer := api.NewSyncServer(syncEngine, bearerMiddleware, securedApiMux, cfg)
	syncServer.Routes()

	consumerCtx, cancelConsumer := context.WithCancel(context.Background())
	eventConsumer := startEventConsumer(consumerCtx, cfg, broadcaster)

	wsSrv := utils.StartHTTPServer(*wsAddr, "websocket", wsMux)
	apiSrv := utils.StartHTTPServer(*apiAddr, "api", apiMux)

	signalChan := make(chan os.Signal, 1)

	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-signalChan
	logger.Log.Info("Received signal to shutdown: ", sig)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HttpShutdownTimeout)
	defer cancel()

	utils.ShutdownHTTPServer(ctx, "websocket", wsSrv)
	utils.ShutdownHTTPServer(ctx, "api", apiSrv)

	for _, conn := range connectionRegistry.GetAllConnections() {
		conn.Transport.Close(websocket.CloseGoingAway, "server shutdown")
		connectionRegistry.Disconnect(ctx, conn.ID, "server shutdown")
	}

	heartbeatMonitor.Stop()

	cancelConsumer()
	if eventConsumer != nil {
		if err := eventConsumer.Close(); err != nil {
			logger.Log.WithFields(logrus.Fields{"error": err}).Error("Error closing the event consumer")
		}
	}

	logger.Log.Info("Realtime-Connector shutting down")
}

func buildRateLimitStore(cfg *config.Config) (ratelimit.KeyedStore, error) {
	switch cfg.RateLimitStoreImpl {
	case "redis":
		return ratelimit.NewRedisKeyedStore(cfg)
	default:
		return ratelimit.NewMemoryKeyedStore(), nil
	}
}

func buildSaslConfig(cfg *config.Config) *queue.SaslConfig {
	if cfg.KafkaSASLMechanism == "" {
		return nil
	}

	return &queue.SaslConfig{
		SaslMechanism: cfg.KafkaSASLMechanism,
		SaslUsername:  cfg.KafkaUsername,
		SaslPassword:  cfg.KafkaPassword,
		KafkaCA:       cfg.KafkaCA,
	}
}

func buildAuditor(cfg *config.Config) (offlinesync.Auditor, *kafka.Writer) {
	if len(cfg.KafkaBrokers) == 0 || cfg.KafkaAuditTopic == "" {
		logger.Log.Info("Sync audit trail is disabled")
		return &offlinesync.NoopAuditor{}, nil
	}

	writer := queue.StartProducer(&queue.ProducerConfig{
		Brokers:    cfg.KafkaBrokers,
		SaslConfig: buildSaslConfig(cfg),
		Topic:      cfg.KafkaAuditTopic,
		BatchSize:  cfg.KafkaAuditBatchSize,
		BatchBytes: cfg.KafkaAuditBatchBytes,
		Balancer:   "hash",
	})

	return offlinesync.NewKafkaAuditor(writer), writer
}

func startEventConsumer(ctx context.Context, cfg *config.Config, broadcaster *broadcast.Broadcaster) *events.Consumer {
	if len(cfg.KafkaBrokers) == 0 || cfg.KafkaEventsTopic == "" {
		logger.Log.Info("Event bridge consumer is disabled")
		return nil
	}

	reader, err := queue.StartConsumer(&queue.ConsumerConfig{
		Brokers:    cfg.KafkaBrokers,
		SaslConfig: buildSaslConfig(cfg),
		Topic:      cfg.KafkaEventsTopic,
		GroupID:    cfg.KafkaEventsGroupID,
	})
	if err != nil {
		logFatalError("Failed to create the event bridge consumer", err)
	}

	consumer := events.NewConsumer(reader, broadcaster)
	go consumer.Run(ctx)

	return consumer
}
