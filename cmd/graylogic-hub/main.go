// Gray Logic Hub - home automation hub
//
// This is the main entry point for the hub. It loads configuration, opens
// storage and the MQTT connection, sets up the configured integrations
// (Kodi media players, devolo powerline adapters), attaches automation
// triggers and serves the HTTP/WebSocket API until interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/api"
	"github.com/nerrad567/gray-logic-hub/internal/automation"
	"github.com/nerrad567/gray-logic-hub/internal/bus"
	"github.com/nerrad567/gray-logic-hub/internal/clock"
	"github.com/nerrad567/gray-logic-hub/internal/configentry"
	"github.com/nerrad567/gray-logic-hub/internal/entity"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-hub/internal/integrations/devolo"
	"github.com/nerrad567/gray-logic-hub/internal/integrations/kodi"
	"github.com/nerrad567/gray-logic-hub/internal/jobs"
	"github.com/nerrad567/gray-logic-hub/internal/recorder"
	"github.com/nerrad567/gray-logic-hub/internal/service"
	"github.com/nerrad567/gray-logic-hub/internal/state"
	"github.com/nerrad567/gray-logic-hub/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// bridgedEventTypes are mirrored to other hubs when mqtt.bridge_events is set.
var bridgedEventTypes = []string{
	bus.EventStateChanged,
	bus.EventAutomationTriggered,
	kodi.EventTurnOn,
	kodi.EventTurnOff,
}

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// options are the command-line flags.
type options struct {
	configPath string
	issueToken string
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("graylogic-hub", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&opts.configPath, "config", getConfigPath(), "path to config.yaml")
	fs.StringVar(&opts.issueToken, "issue-token", "", "print an API access token for `subject` and exit")
	if err := fs.Parse(args); err != nil {
		return options{}, fmt.Errorf("parsing flags: %w", err)
	}
	return opts, nil
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - args: Command-line arguments without the program name
//   - stdout: Destination for -issue-token output
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, args []string, stdout io.Writer) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}

	// Use default logger until config is loaded
	log := logging.Default()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if opts.issueToken != "" {
		ttl := time.Duration(cfg.Security.JWT.AccessTokenTTL) * time.Minute
		token, tokenErr := api.IssueToken([]byte(cfg.Security.JWT.Secret), opts.issueToken, ttl)
		if tokenErr != nil {
			return tokenErr
		}
		fmt.Fprintln(stdout, token)
		return nil
	}

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("starting Gray Logic Hub",
		"version", version,
		"commit", commit,
		"build_date", date,
		"config", opts.configPath,
	)

	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	mqttClient, err := connectMQTT(cfg, log)
	if err != nil {
		return err
	}
	if mqttClient != nil {
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
	}

	influxClient, err := connectInfluxDB(ctx, cfg, log)
	if err != nil {
		return err
	}
	if influxClient != nil {
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	h, err := newHub(ctx, cfg, db, mqttClient, influxClient, log)
	if err != nil {
		return err
	}
	defer h.close(log)

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	return nil
}

// hub holds the running core components so they can be stopped in order.
type hub struct {
	bus      *bus.Bus
	bridge   *bus.MQTTBridge
	runner   *jobs.Runner
	entries  *configentry.Manager
	engine   *automation.Engine
	recorder *recorder.Recorder
	server   *api.Server
}

// newHub wires the event bus, registries, integrations, automations and API.
//
// Parameters:
//   - ctx: Context for startup
//   - cfg: Application configuration
//   - db: Migrated database
//   - mqttClient: Broker connection (nil when MQTT is disabled)
//   - influxClient: Telemetry connection (nil when InfluxDB is disabled)
//   - log: Logger instance
//
// Returns:
//   - *hub: Running components; call close on shutdown
//   - error: If a component fails to start; whatever had started is stopped
func newHub(ctx context.Context, cfg *config.Config, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client, log *logging.Logger) (*hub, error) {
	h := newHubCore(cfg, log)
	if err := h.start(ctx, cfg, db, mqttClient, influxClient, log); err != nil {
		h.teardown(log)
		return nil, err
	}
	return h, nil
}

// newHubCore creates the event bus and job runner every component shares.
func newHubCore(cfg *config.Config, log *logging.Logger) *hub {
	h := &hub{bus: bus.New(clock.Real{}), runner: jobs.NewRunner(cfg.Jobs.MaxConcurrent)}
	h.bus.SetLogger(log)
	h.runner.SetLogger(log)
	return h
}

// start brings the remaining components up in dependency order. Each one
// is stored on h as soon as it runs, so teardown can stop a partial start.
func (h *hub) start(ctx context.Context, cfg *config.Config, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client, log *logging.Logger) error {
	clk := clock.Real{}

	if mqttClient != nil && cfg.MQTT.BridgeEvents {
		bridge := bus.NewMQTTBridge(h.bus, mqttClient, cfg.Site.ID, byte(cfg.MQTT.QoS), bridgedEventTypes) //nolint:gosec // QoS validated to 0-2
		bridge.SetLogger(log)
		if err := bridge.Start(); err != nil {
			return fmt.Errorf("starting event bridge: %w", err)
		}
		h.bridge = bridge
	}

	entities := entity.NewRegistry(entity.NewSQLiteRepository(db.DB), h.bus)
	entities.SetLogger(log)
	if err := entities.Load(ctx); err != nil {
		return fmt.Errorf("loading entity registry: %w", err)
	}
	states := state.NewMachine(h.bus, clk)
	services := service.NewRegistry(h.bus)

	h.recorder = recorder.New(recorder.NewSQLiteRepository(db.DB), telemetryWriter(influxClient))
	h.recorder.SetLogger(log)
	h.recorder.Start(h.bus)

	// Integrations
	var subscriber kodi.StateSubscriber
	if mqttClient != nil {
		subscriber = mqttClient
	}
	kodiInteg := kodi.NewIntegration(entities, states, h.bus, subscriber)
	kodiInteg.SetLogger(log)
	if err := kodiInteg.RegisterServices(services); err != nil {
		return fmt.Errorf("registering kodi services: %w", err)
	}

	devoloInteg := devolo.NewIntegration(entities, states, clk, devoloAPIFactory(cfg.Integrations.Devolo, mqttClient, clk))
	devoloInteg.SetLogger(log)

	h.entries = configentry.NewManager(h.bus, entities, clk)
	h.entries.SetLogger(log)
	h.entries.RegisterIntegration(kodi.Domain, kodiInteg)
	h.entries.RegisterIntegration(devolo.Domain, devoloInteg)
	setupEntries(ctx, h.entries, configEntries(cfg.Integrations), log)

	// Automations
	platforms := automation.NewPlatforms()
	kodiTriggers := kodi.NewTriggerPlatform(entities, h.bus, h.runner)
	kodiTriggers.SetLogger(log)
	platforms.Register(kodiTriggers)

	runs := automation.NewSQLiteRepository(db.DB)
	var publisher automation.MQTTClient
	if mqttClient != nil {
		publisher = mqttClient
	}
	h.engine = automation.NewEngine(platforms, services, publisher, h.bus, runs, log)
	if err := h.engine.Load(automation.FromConfig(cfg.Automations)); err != nil {
		return fmt.Errorf("loading automations: %w", err)
	}
	if err := h.engine.Start(ctx); err != nil {
		// Triggers that failed are skipped; the rest stay attached.
		log.Warn("some automation triggers could not be attached", "error", err)
	}
	log.Info("automations started", "attached_triggers", h.engine.AttachedTriggers())

	deps := api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		Security:  cfg.Security,
		Logger:    log,
		Platforms: platforms,
		States:    states,
		Entities:  entities,
		Services:  services,
		Events:    h.bus,
		Engine:    h.engine,
		Runs:      runs,
		History:   h.recorder,
		Version:   version,
	}
	if mqttClient != nil {
		deps.MQTT = mqttClient
	}
	server, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	h.server = server
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}

	return nil
}

// close stops components in reverse start order.
func (h *hub) close(log *logging.Logger) {
	h.teardown(log)
	log.Info("Gray Logic Hub stopped")
}

// teardown stops whichever components have started.
func (h *hub) teardown(log *logging.Logger) {
	if h.server != nil {
		if err := h.server.Close(); err != nil {
			log.Error("error closing API server", "error", err)
		}
	}
	if h.engine != nil {
		h.engine.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if h.entries != nil {
		if err := h.entries.UnloadAll(ctx); err != nil {
			log.Error("error unloading integrations", "error", err)
		}
	}

	h.runner.Close()
	if h.recorder != nil {
		h.recorder.Stop()
	}
	if h.bridge != nil {
		if err := h.bridge.Stop(); err != nil {
			log.Warn("error stopping event bridge", "error", err)
		}
	}
}

// configEntries turns the integrations section into config entries.
func configEntries(cfg config.IntegrationsConfig) []configentry.Entry {
	entries := make([]configentry.Entry, 0, len(cfg.Kodi)+len(cfg.Devolo))
	for _, k := range cfg.Kodi {
		entries = append(entries, configentry.Entry{
			ID:     k.ID,
			Domain: kodi.Domain,
			Title:  k.Name,
			Data:   map[string]any{"host": k.Host, "port": k.Port},
		})
	}
	for _, d := range cfg.Devolo {
		entries = append(entries, configentry.Entry{
			ID:     d.ID,
			Domain: devolo.Domain,
			Title:  d.Name,
			Data: map[string]any{
				"serial":          d.Serial,
				"mac_address":     d.MACAddress,
				"update_interval": d.UpdateInterval,
			},
		})
	}
	return entries
}

// setupEntries adds and sets up each entry. Failures are logged; entries
// that are not ready yet are retried by the manager.
func setupEntries(ctx context.Context, manager *configentry.Manager, entries []configentry.Entry, log *logging.Logger) {
	for _, entry := range entries {
		if err := manager.Add(entry); err != nil {
			log.Error("adding config entry failed", "entry_id", entry.ID, "error", err)
			continue
		}
		err := manager.Setup(ctx, entry.ID)
		switch {
		case err == nil:
			log.Info("integration set up", "entry_id", entry.ID, "domain", entry.Domain)
		case errors.Is(err, configentry.ErrNotReady):
			log.Warn("integration not ready, will retry", "entry_id", entry.ID, "error", err)
		default:
			log.Error("integration setup failed", "entry_id", entry.ID, "error", err)
		}
	}
}

// devoloAPIFactory returns the factory that reads network overviews a
// devolo adapter publishes over MQTT.
func devoloAPIFactory(devices []config.DevoloConfig, client *mqtt.Client, clk clock.Clock) devolo.APIFactory {
	byID := make(map[string]config.DevoloConfig, len(devices))
	for _, d := range devices {
		byID[d.ID] = d
	}
	return func(entry configentry.Entry) (devolo.PlcNetAPI, error) {
		if client == nil {
			return nil, errors.New("devolo overviews need MQTT, which is disabled")
		}
		d, ok := byID[entry.ID]
		if !ok {
			return nil, fmt.Errorf("%w: no devolo device %q configured", devolo.ErrInvalidEntry, entry.ID)
		}
		interval := time.Duration(d.UpdateInterval) * time.Second
		src := devolo.NewMQTTOverviewSource(client, d.Serial, interval, clk)
		if err := src.Start(); err != nil {
			return nil, fmt.Errorf("subscribing to %s: %w", devolo.OverviewTopic(d.Serial), err)
		}
		return src, nil
	}
}

// telemetryWriter returns the InfluxDB client as a recorder telemetry sink,
// or nil when InfluxDB is disabled.
func telemetryWriter(c *influxdb.Client) recorder.TelemetryWriter {
	if c == nil {
		return nil
	}
	return c
}

// connectMQTT connects to the broker when MQTT is enabled.
func connectMQTT(cfg *config.Config, log *logging.Logger) (*mqtt.Client, error) {
	if !cfg.MQTT.Enabled {
		log.Info("MQTT disabled")
		return nil, nil //nolint:nilnil // Disabled is not an error
	}
	client, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log)
	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)
	return client, nil
}

// connectInfluxDB connects to InfluxDB when it is enabled.
func connectInfluxDB(ctx context.Context, cfg *config.Config, log *logging.Logger) (*influxdb.Client, error) {
	if !cfg.InfluxDB.Enabled {
		log.Info("InfluxDB disabled")
		return nil, nil //nolint:nilnil // Disabled is not an error
	}
	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected",
		"url", cfg.InfluxDB.URL,
		"org", cfg.InfluxDB.Org,
		"bucket", cfg.InfluxDB.Bucket,
	)
	return client, nil
}

// getConfigPath returns the configuration file path.
// Uses GRAYLOGIC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check (may be nil if disabled)
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
