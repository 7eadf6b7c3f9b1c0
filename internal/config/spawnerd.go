package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Gate eligibility policies.
const (
	PolicyProximity   = "proximity"
	PolicySameWorld   = "same_world"
	PolicyOnlineCount = "online_count"
	PolicyChunkOnly   = "chunk_only"
)

// Visual capability variants.
const (
	VisualNative   = "native"
	VisualFallback = "fallback"
)

// Gate configures the production gate.
type Gate struct {
	Policy      string        `yaml:"policy" env:"POLICY"`
	Range       int32         `yaml:"range" env:"RANGE"`           // blocks, proximity policy
	MinOnline   int           `yaml:"min_online" env:"MIN_ONLINE"` // online_count policy
	Interval    time.Duration `yaml:"interval" env:"INTERVAL"`
	LockTimeout time.Duration `yaml:"lock_timeout" env:"LOCK_TIMEOUT"`
}

// SpawnerDefaults are base values for a single (stack size 1) spawner.
type SpawnerDefaults struct {
	Delay     time.Duration `yaml:"delay" env:"DELAY"`
	MinMobs   int           `yaml:"min_mobs" env:"MIN_MOBS"`
	MaxMobs   int           `yaml:"max_mobs" env:"MAX_MOBS"`
	MaxSlots  int           `yaml:"max_slots" env:"MAX_SLOTS"`
	MaxExp    int64         `yaml:"max_exp" env:"MAX_EXP"`
	ExpPerMob int           `yaml:"exp_per_mob" env:"EXP_PER_MOB"`

	// Explosions either leave the spawner intact or destroy it; a destroyed
	// spawner drops as an item with ExplosionDropChance percent.
	ProtectFromExplosions bool    `yaml:"protect_from_explosions" env:"PROTECT_FROM_EXPLOSIONS"`
	ExplosionDropChance   float64 `yaml:"explosion_drop_chance" env:"EXPLOSION_DROP_CHANCE"`
}

// Withdraw configures the transactional withdrawal protocol.
type Withdraw struct {
	Cooldown     time.Duration `yaml:"cooldown" env:"COOLDOWN"`
	RateWindow   time.Duration `yaml:"rate_window" env:"RATE_WINDOW"`
	RateMax      int           `yaml:"rate_max" env:"RATE_MAX"`
	StuckTimeout time.Duration `yaml:"stuck_timeout" env:"STUCK_TIMEOUT"`
	TxTimeout    time.Duration `yaml:"tx_timeout" env:"TX_TIMEOUT"`
	PageSize     int           `yaml:"page_size" env:"PAGE_SIZE"`
}

// Workers sizes the worker pools.
type Workers struct {
	LootPool int `yaml:"loot_pool" env:"LOOT_POOL"` // concurrent loot rolls
	Regions  int `yaml:"regions" env:"REGIONS"`     // region executors, 0 = NumCPU
}

// Viewer configures live storage views.
type Viewer struct {
	Listen        string        `yaml:"listen" env:"LISTEN"` // empty disables websocket server
	FlushInterval time.Duration `yaml:"flush_interval" env:"FLUSH_INTERVAL"`
	Visual        string        `yaml:"visual" env:"VISUAL"`
	MessageRate   float64       `yaml:"message_rate" env:"MESSAGE_RATE"`   // inbound messages per second per connection, 0 = unlimited
	MessageBurst  int           `yaml:"message_burst" env:"MESSAGE_BURST"` // inbound burst per connection
}

// Audit configures the withdrawal audit log.
type Audit struct {
	Path string `yaml:"path" env:"PATH"` // sqlite file, empty disables
}

// Persistence configures the periodic saver.
type Persistence struct {
	SaveInterval time.Duration `yaml:"save_interval" env:"SAVE_INTERVAL"`
}

// Item describes an item kind.
type Item struct {
	Kind     string  `yaml:"kind"`
	MaxStack int32   `yaml:"max_stack"`
	Price    float64 `yaml:"price"`
}

// LootEntry is one loot table line.
type LootEntry struct {
	Kind   string            `yaml:"kind"`
	Meta   map[string]string `yaml:"meta"`
	Chance float64           `yaml:"chance"` // percent
	Min    int               `yaml:"min"`
	Max    int               `yaml:"max"`
}

// LootTable is the loot of one entity type.
type LootTable struct {
	ExpPerMob *int        `yaml:"exp_per_mob"` // nil = spawner default
	Entries   []LootEntry `yaml:"entries"`
}

// Spawnerd holds all configuration for the spawner daemon.
type Spawnerd struct {
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL"`

	Database    DatabaseConfig  `yaml:"database" envPrefix:"DB_"`
	Audit       Audit           `yaml:"audit" envPrefix:"AUDIT_"`
	Viewer      Viewer          `yaml:"viewer" envPrefix:"VIEWER_"`
	Gate        Gate            `yaml:"gate" envPrefix:"GATE_"`
	Spawner     SpawnerDefaults `yaml:"spawner" envPrefix:"SPAWNER_"`
	Withdraw    Withdraw        `yaml:"withdraw" envPrefix:"WITHDRAW_"`
	Workers     Workers         `yaml:"workers" envPrefix:"WORKERS_"`
	Persistence Persistence     `yaml:"persistence" envPrefix:"PERSISTENCE_"`

	// Worlds loaded at startup.
	Worlds []string `yaml:"worlds" env:"WORLDS" envSeparator:","`

	Items []Item               `yaml:"items"`
	Loot  map[string]LootTable `yaml:"loot"` // entity type → table
}

// DefaultSpawnerd returns Spawnerd config with sensible defaults.
func DefaultSpawnerd() Spawnerd {
	return Spawnerd{
		LogLevel: "info",
		Database: DatabaseConfig{
			Host:     "127.0.0.1",
			Port:     5432,
			User:     "spawnerd",
			Password: "spawnerd",
			DBName:   "spawnerd",
			SSLMode:  "disable",
		},
		Audit: Audit{Path: "audit.db"},
		Viewer: Viewer{
			FlushInterval: 250 * time.Millisecond,
			Visual:        VisualNative,
			MessageRate:   20,
			MessageBurst:  40,
		},
		Gate: Gate{
			Policy:      PolicyProximity,
			Range:       16,
			MinOnline:   1,
			Interval:    time.Second,
			LockTimeout: 50 * time.Millisecond,
		},
		Spawner: SpawnerDefaults{
			Delay:     25 * time.Second,
			MinMobs:   1,
			MaxMobs:   4,
			MaxSlots:  45,
			MaxExp:    1000,
			ExpPerMob: 3,

			ProtectFromExplosions: true,
		},
		Withdraw: Withdraw{
			Cooldown:     500 * time.Millisecond,
			RateWindow:   time.Minute,
			RateMax:      10,
			StuckTimeout: 5 * time.Second,
			TxTimeout:    5 * time.Second,
			PageSize:     45,
		},
		Workers: Workers{
			LootPool: 4,
		},
		Persistence: Persistence{
			SaveInterval: 5 * time.Second,
		},
		Worlds: []string{"world"},
	}
}

// LoadSpawnerd loads config from a YAML file and then applies SPAWNERD_*
// environment overrides. If the file doesn't exist, defaults are used.
func LoadSpawnerd(path string) (Spawnerd, error) {
	cfg := DefaultSpawnerd()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := ParseEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("validating config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks values that would make the daemon misbehave.
func (c Spawnerd) Validate() error {
	var errs []error

	switch c.Gate.Policy {
	case PolicyProximity, PolicySameWorld, PolicyOnlineCount, PolicyChunkOnly:
	default:
		errs = append(errs, fmt.Errorf("gate.policy: unknown policy %q", c.Gate.Policy))
	}
	if c.Gate.Interval <= 0 {
		errs = append(errs, errors.New("gate.interval must be positive"))
	}
	if c.Spawner.Delay <= 0 {
		errs = append(errs, errors.New("spawner.delay must be positive"))
	}
	if c.Spawner.MinMobs < 0 || c.Spawner.MaxMobs < c.Spawner.MinMobs {
		errs = append(errs, fmt.Errorf("spawner: invalid mob range [%d, %d]", c.Spawner.MinMobs, c.Spawner.MaxMobs))
	}
	if c.Spawner.MaxSlots <= 0 {
		errs = append(errs, errors.New("spawner.max_slots must be positive"))
	}
	if c.Spawner.ExplosionDropChance < 0 || c.Spawner.ExplosionDropChance > 100 {
		errs = append(errs, fmt.Errorf("spawner.explosion_drop_chance %v out of [0,100]", c.Spawner.ExplosionDropChance))
	}
	if c.Viewer.MessageRate < 0 {
		errs = append(errs, errors.New("viewer.message_rate must not be negative"))
	}
	switch c.Viewer.Visual {
	case VisualNative, VisualFallback:
	default:
		errs = append(errs, fmt.Errorf("viewer.visual: unknown variant %q", c.Viewer.Visual))
	}
	if c.Withdraw.RateMax <= 0 || c.Withdraw.RateWindow <= 0 {
		errs = append(errs, errors.New("withdraw: rate limit must be positive"))
	}
	if c.Workers.LootPool <= 0 {
		errs = append(errs, errors.New("workers.loot_pool must be positive"))
	}
	for i, item := range c.Items {
		if item.Kind == "" {
			errs = append(errs, fmt.Errorf("items[%d]: empty kind", i))
		}
	}
	for entity, table := range c.Loot {
		for i, e := range table.Entries {
			if e.Kind == "" {
				errs = append(errs, fmt.Errorf("loot.%s[%d]: empty kind", entity, i))
			}
			if e.Chance < 0 || e.Chance > 100 {
				errs = append(errs, fmt.Errorf("loot.%s[%d]: chance %v out of [0,100]", entity, i, e.Chance))
			}
		}
	}
	return errors.Join(errs...)
}
