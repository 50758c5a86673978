package container

import (
	"fmt"

	"deepwork/adapters/excel"
	"deepwork/adapters/memstore"
	redisadapter "deepwork/adapters/redis"
	"deepwork/app"
	"deepwork/domain/scoring"
	"deepwork/internal"
	"deepwork/internal/config"
	"deepwork/ports"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
)

// Container holds all application dependencies and manages their lifecycle
type Container struct {
	Config *config.Config
	Logger *internal.Logger

	// Infrastructure
	DB          *sqlx.DB
	RedisClient *redis.Client

	// Stores
	Ledger    ports.SessionLedger
	Ephemeral ports.EphemeralStore

	// Services
	Sessions *app.SessionService
	Insights *app.InsightsService
	Exporter *excel.HistoryExporter
}

// New creates a new dependency injection container
func New(cfg *config.Config, logger *internal.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	return &Container{
		Config: cfg,
		Logger: logger,
	}, nil
}

// InitWithStores wires services onto initialized store connections.
// The ledger comes in constructed because the postgres package depends
// on this container's consumers, not the other way around.
func (c *Container) InitWithStores(db *sqlx.DB, ledger ports.SessionLedger) error {
	if db == nil {
		return fmt.Errorf("database connection cannot be nil")
	}

	c.DB = db
	c.Ledger = ledger

	if err := c.initEphemeral(); err != nil {
		return fmt.Errorf("failed to initialize ephemeral store: %w", err)
	}

	c.initServices()

	c.Logger.Info("container initialized (ephemeral backend: %s)", c.Config.Ephemeral.Backend)
	return nil
}

// initEphemeral selects the live-session cache backend
func (c *Container) initEphemeral() error {
	switch c.Config.Ephemeral.Backend {
	case "redis":
		opts, err := redis.ParseURL(c.Config.Ephemeral.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		c.RedisClient = redis.NewClient(opts)
		c.Ephemeral = redisadapter.New(c.RedisClient)
	case "memory":
		// Single-node only; live sessions do not survive a restart
		c.Ephemeral = memstore.New()
	default:
		return fmt.Errorf("unknown ephemeral backend %q", c.Config.Ephemeral.Backend)
	}
	return nil
}

func (c *Container) initServices() {
	scoringCfg := scoring.Config{
		PointsPerMinute:       c.Config.Scoring.PointsPerMinute,
		CompletionBonus:       c.Config.Scoring.CompletionBonus,
		PenaltyPerDistraction: c.Config.Scoring.PenaltyPerDistraction,
		BoostedPenalty:        scoring.DefaultConfig().BoostedPenalty,
	}

	c.Sessions = app.NewSessionService(c.Ledger, c.Ephemeral, c.Config.Heartbeat, scoringCfg, c.Logger)
	c.Insights = app.NewInsightsService(c.Ledger)
	c.Exporter = excel.NewHistoryExporter(c.Ledger)
}

// Close releases held connections
func (c *Container) Close() error {
	if c.RedisClient != nil {
		if err := c.RedisClient.Close(); err != nil {
			return err
		}
	}
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}
