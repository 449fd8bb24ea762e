// SwitchBot bridge for Gray Logic.
//
// The bridge keeps a local view of every configured SwitchBot device in
// sync with the vendor cloud and the BLE gateway, publishes capability state
// on MQTT, and accepts commands from the bus, the REST API and vendor
// webhooks.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"

	"github.com/nerrad567/gray-logic-switchbot/internal/api"
	"github.com/nerrad567/gray-logic-switchbot/internal/bridges/switchbot"
	"github.com/nerrad567/gray-logic-switchbot/internal/credentials"
	"github.com/nerrad567/gray-logic-switchbot/internal/device"
	"github.com/nerrad567/gray-logic-switchbot/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-switchbot/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-switchbot/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-switchbot/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-switchbot/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-switchbot/internal/metrics"
	"github.com/nerrad567/gray-logic-switchbot/internal/publisher"
	"github.com/nerrad567/gray-logic-switchbot/internal/synchronizer"
	"github.com/nerrad567/gray-logic-switchbot/internal/transport"
	"github.com/nerrad567/gray-logic-switchbot/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// pruneInterval is how often expired history and command log rows are removed.
const pruneInterval = time.Hour

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// stores groups the optional persistence backends. Interface fields stay
// nil (not typed-nil) when a backend is disabled.
type stores struct {
	db        *database.DB
	history   *device.SQLiteStateHistoryRepository
	commands  *device.SQLiteCommandLogRepository
	influx    *influxdb.Client
	telemetry switchbot.OutcomeWriter
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting SwitchBot bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath, "devices", len(cfg.Devices))

	log = logging.New(cfg.Logging, version)

	st, closeStores, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStores()

	// The LWT is the same payload the health reporter would publish for an
	// unexpected disconnect.
	will, err := json.Marshal(switchbot.NewLWTMessage(cfg.Bridge.ID))
	if err != nil {
		return fmt.Errorf("encoding LWT: %w", err)
	}
	mqttClient, err := mqtt.Connect(cfg.MQTT,
		mqtt.WithWill(mqtt.Topics{}.BridgeHealth(), will),
		mqtt.WithLogger(log.Component("mqtt")),
	)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	tr, err := buildTransports(cfg, mqttClient, log)
	if err != nil {
		return err
	}
	defer tr.close()

	hub := api.NewHub(cfg.WebSocket, log.Component("websocket"))
	pub := publisher.New(publisher.Options{
		Registry: publisher.NewMQTTRegistry(mqttClient, byte(cfg.MQTT.QoS)), //nolint:gosec // validated 0..2
		Sinks:    buildSinks(st, mqttClient, hub),
		Logger:   log.Component("publisher"),
	})
	pub.Start(ctx)
	defer pub.Stop()

	var commandLog device.CommandLogRepository
	if st.commands != nil {
		commandLog = st.commands
	}
	recorder := synchronizer.Recorders{
		metrics.Recorder{},
		switchbot.NewCommandRecorder(commandLog, st.telemetry, log.Component("recorder")),
	}

	bridgeOpts := switchbot.BridgeOptions{
		BridgeID:       cfg.Bridge.ID,
		Version:        version,
		HealthInterval: time.Duration(cfg.Bridge.HealthInterval) * time.Second,
		MQTT:           mqttClient,
		Publisher:      pub,
		Recorder:       recorder,
		Devices:        deviceSpecs(cfg),
		Timings: switchbot.Timings{
			ConfirmDelay:     cfg.ConfirmDelay(),
			RequestTimeout:   cfg.CloudTimeout(),
			OfflineThreshold: cfg.Sync.OfflineThreshold,
		},
		Logger: log.Component("bridge"),
	}
	if tr.cloud != nil {
		bridgeOpts.Cloud = tr.cloudGateway
		bridgeOpts.BreakerState = func() string { return tr.cloudGateway.BreakerState().String() }
		if cfg.Webhook.Enabled && cfg.Webhook.PublicURL != "" {
			bridgeOpts.Webhooks = tr.cloud
			bridgeOpts.WebhookURL = cfg.Webhook.PublicURL
		}
	}
	if tr.localGateway != nil {
		bridgeOpts.Local = tr.localGateway
	}

	bridge, err := switchbot.NewBridge(bridgeOpts)
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	if err := bridge.Start(ctx); err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	defer func() {
		log.Info("stopping bridge")
		bridge.Stop()
	}()
	log.Info("bridge started", "devices", len(cfg.Devices))

	apiDeps := api.Deps{
		Config:  cfg.API,
		WS:      cfg.WebSocket,
		Webhook: cfg.Webhook,
		Logger:  log.Component("api"),
		Bridge:  bridge,
		MQTT:    mqttClient,
		Hub:     hub,
		Version: version,
	}
	if st.db != nil {
		apiDeps.DB = st.db.DB
		apiDeps.History = st.history
		apiDeps.Commands = st.commands
	}
	server, err := api.New(apiDeps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, st.db, mqttClient, st.influx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	if st.db != nil && cfg.Database.HistoryRetentionDays > 0 {
		retention := time.Duration(cfg.Database.HistoryRetentionDays) * 24 * time.Hour
		go pruneLoop(ctx, st, retention, log)
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse: API, bridge, publisher, transports,
	// MQTT, then the stores.
	return nil
}

// getConfigPath returns the configuration file path.
// Uses GRAYLOGIC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// openStores opens SQLite and InfluxDB when enabled. The returned close
// function is always safe to call.
func openStores(ctx context.Context, cfg *config.Config, log *logging.Logger) (*stores, func(), error) {
	st := &stores{}
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Database.Enabled {
		db, err := database.Open(database.ConfigFrom(cfg.Database))
		if err != nil {
			return nil, closeAll, fmt.Errorf("opening database: %w", err)
		}
		closers = append(closers, func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		})
		if err := db.Migrate(ctx, migrations.FS); err != nil {
			closeAll()
			return nil, func() {}, fmt.Errorf("running migrations: %w", err)
		}
		log.Info("database ready", "path", cfg.Database.Path)

		st.db = db
		st.history = device.NewSQLiteStateHistoryRepository(db.DB)
		st.commands = device.NewSQLiteCommandLogRepository(db.DB)
	} else {
		log.Info("database disabled, history and command log unavailable")
	}

	if cfg.InfluxDB.Enabled {
		client, err := influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			closeAll()
			return nil, func() {}, fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		client.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		closers = append(closers, func() {
			log.Info("closing InfluxDB connection")
			if closeErr := client.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)

		st.influx = client
		st.telemetry = client
	} else {
		log.Info("InfluxDB disabled")
	}

	return st, closeAll, nil
}

// transports holds the shared adapters. Cloud fields are nil when no
// credentials are configured; local fields are nil when BLE is disabled.
type transports struct {
	cloud        *transport.CloudClient
	cloudGateway *transport.Gateway
	localDriver  *transport.MQTTGatewayDriver
	localGateway *transport.Gateway
}

func (t *transports) close() {
	if t.localDriver != nil {
		//nolint:errcheck // Best-effort during shutdown
		t.localDriver.Stop()
	}
}

// buildTransports creates the cloud and local adapters, each behind its own
// retry gateway.
func buildTransports(cfg *config.Config, client *mqtt.Client, log *logging.Logger) (*transports, error) {
	tr := &transports{}

	if cfg.Cloud.Token != "" && cfg.Cloud.Secret != "" {
		signer, err := credentials.NewSigner(cfg.Cloud.Token, cfg.Cloud.Secret)
		if err != nil {
			return nil, fmt.Errorf("creating request signer: %w", err)
		}
		cloud, err := transport.NewCloudClient(transport.CloudConfig{
			BaseURL:   cfg.Cloud.BaseURL,
			Timeout:   cfg.CloudTimeout(),
			RateLimit: cfg.Cloud.RateLimit,
			RateBurst: cfg.Cloud.RateBurst,
			Headers:   signer.Headers,
		})
		if err != nil {
			return nil, fmt.Errorf("creating cloud client: %w", err)
		}
		cloud.SetLogger(log.Component("cloud"))

		tr.cloud = cloud
		tr.cloudGateway = transport.NewGateway(cloud, cloudGatewayConfig(cfg))
		tr.cloudGateway.SetLogger(log.Component("cloud_gateway"))
	} else {
		log.Warn("cloud credentials not configured, cloud transport disabled")
	}

	if cfg.Local.Enabled {
		driver := transport.NewMQTTGatewayDriver(client, cfg.Local.GatewayTopic)
		driver.SetLogger(log.Component("ble"))
		if err := driver.Start(); err != nil {
			return nil, fmt.Errorf("starting BLE gateway driver: %w", err)
		}
		local := transport.NewLocalAdapter(driver, transport.LocalConfig{
			ScanDuration: cfg.ScanDuration(),
			Retries:      cfg.Local.Retries,
			RetryDelay:   cfg.LocalRetryDelay(),
		})
		local.SetLogger(log.Component("local"))

		tr.localDriver = driver
		tr.localGateway = transport.NewGateway(local, transport.GatewayConfig{
			Name:             transport.NameLocal,
			BreakerThreshold: -1,
			OnRetry:          metrics.RetryCounter(transport.NameLocal),
		})
		tr.localGateway.SetLogger(log.Component("local_gateway"))
		log.Info("BLE gateway driver started", "topic", cfg.Local.GatewayTopic)
	}

	return tr, nil
}

// cloudGatewayConfig maps the cloud section onto the retry gateway policy.
func cloudGatewayConfig(cfg *config.Config) transport.GatewayConfig {
	return transport.GatewayConfig{
		Name:             transport.NameCloud,
		MaxRetries:       cfg.Cloud.MaxRetries,
		RetryDelay:       cfg.CloudRetryDelay(),
		Exponential:      cfg.Cloud.ExponentialBackoff,
		BreakerThreshold: breakerThreshold(cfg.Cloud.BreakerThreshold),
		BreakerTimeout:   time.Duration(cfg.Cloud.BreakerTimeout) * time.Second,
		OnRetry:          metrics.RetryCounter(transport.NameCloud),
		OnBreakerChange:  metrics.RecordBreakerChange,
	}
}

// breakerThreshold converts the config convention (0 disables) to the
// gateway convention (negative disables, 0 means default).
func breakerThreshold(n int) int {
	if n <= 0 {
		return -1
	}
	return n
}

// buildSinks returns the publisher sinks for the enabled backends.
func buildSinks(st *stores, client *mqtt.Client, hub *api.Hub) []publisher.Sink {
	sinks := []publisher.Sink{switchbot.NewStateSink(client), hub}
	if st.history != nil {
		sinks = append(sinks, publisher.NewHistorySink(st.history))
	}
	if st.influx != nil {
		sinks = append(sinks, publisher.NewTelemetrySink(st.influx))
	}
	return sinks
}

// deviceSpecs maps configured devices onto bridge device specs.
func deviceSpecs(cfg *config.Config) []switchbot.DeviceSpec {
	specs := make([]switchbot.DeviceSpec, 0, len(cfg.Devices))
	for _, d := range cfg.Devices {
		specs = append(specs, switchbot.DeviceSpec{
			Identity: device.Identity{
				ID:        d.ID,
				Name:      d.Name,
				Family:    d.Family,
				Model:     d.Model,
				Address:   d.Address,
				Transport: device.TransportMode(d.TransportMode()),
			},
			Offline:         d.Offline,
			RefreshInterval: cfg.RefreshInterval(d),
			DebounceDelay:   cfg.DebounceDelay(d),
		})
	}
	return specs
}

// pruneLoop removes history and command log rows older than retention.
func pruneLoop(ctx context.Context, st *stores, retention time.Duration, log *logging.Logger) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pruneOnce(ctx, st, retention, log)
		}
	}
}

// pruneOnce runs one retention pass and returns the number of rows deleted.
// The database is optimised only when something was removed.
func pruneOnce(ctx context.Context, st *stores, retention time.Duration, log *logging.Logger) int64 {
	var pruned int64
	if n, err := st.history.PruneHistory(ctx, retention); err != nil {
		log.Warn("pruning state history failed", "error", err)
	} else if n > 0 {
		pruned += n
		log.Info("pruned state history", "rows", n)
	}
	if n, err := st.commands.PruneCommands(ctx, retention); err != nil {
		log.Warn("pruning command log failed", "error", err)
	} else if n > 0 {
		pruned += n
		log.Info("pruned command log", "rows", n)
	}
	if pruned > 0 {
		if err := st.db.Optimize(ctx); err != nil {
			log.Warn("optimizing database failed", "error", err)
		}
	}
	return pruned
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check (may be nil if disabled)
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
