package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"partrecon/internal/affinity"
	"partrecon/internal/checker"
	"partrecon/internal/ring"
	"partrecon/internal/storage"
)

// EnvPrefix prefixes environment variables, e.g. PARTRECON_NODE_ID.
const EnvPrefix = "PARTRECON"

// Peer represents a peer node in the cluster.
type Peer struct {
	ID   string `mapstructure:"id" yaml:"id"`
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// StorageConfig selects the node's storage engine.
type StorageConfig struct {
	Engine     string `mapstructure:"engine" yaml:"engine"` // memory or badger
	Path       string `mapstructure:"path" yaml:"path"`
	SyncWrites bool   `mapstructure:"sync_writes" yaml:"sync_writes"`
}

// CheckerConfig holds reconciliation session settings.
type CheckerConfig struct {
	FixMode         bool          `mapstructure:"fix" yaml:"fix"`
	Throttle        time.Duration `mapstructure:"throttle" yaml:"throttle"`
	BatchSize       int           `mapstructure:"batch_size" yaml:"batch_size"`
	RecheckAttempts int           `mapstructure:"recheck_attempts" yaml:"recheck_attempts"`
	RecheckDelay    time.Duration `mapstructure:"recheck_delay" yaml:"recheck_delay"`
	Backoff         string        `mapstructure:"backoff" yaml:"backoff"` // fixed or exponential
	MaxRecheckDelay time.Duration `mapstructure:"max_recheck_delay" yaml:"max_recheck_delay"`
	PollInterval    time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	Parallelism     int           `mapstructure:"parallelism" yaml:"parallelism"`
	RepairAttempts  int           `mapstructure:"repair_attempts" yaml:"repair_attempts"`
	RepairTimeout   time.Duration `mapstructure:"repair_timeout" yaml:"repair_timeout"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Development bool   `mapstructure:"development" yaml:"development"`
}

// Config holds the cluster, node and checker configuration.
type Config struct {
	NodeID      string           `mapstructure:"node_id" yaml:"node_id"`
	ListenAddr  string           `mapstructure:"listen" yaml:"listen"`
	MetricsAddr string           `mapstructure:"metrics_addr" yaml:"metrics_addr"`
	Peers       []Peer           `mapstructure:"peers" yaml:"peers"`
	VNodes      int              `mapstructure:"vnodes" yaml:"vnodes"`
	WriteQuorum int              `mapstructure:"write_quorum" yaml:"write_quorum"`
	Caches      []affinity.Cache `mapstructure:"caches" yaml:"caches"`
	Storage     StorageConfig    `mapstructure:"storage" yaml:"storage"`
	Checker     CheckerConfig    `mapstructure:"checker" yaml:"checker"`
	Log         LogConfig        `mapstructure:"log" yaml:"log"`
}

// SetDefaults registers default values on v.
// Every key is registered so that environment overrides reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("node_id", "")
	v.SetDefault("listen", "127.0.0.1:50051")
	v.SetDefault("metrics_addr", "")
	v.SetDefault("peers", "")
	v.SetDefault("vnodes", ring.DefaultVNodes)
	v.SetDefault("write_quorum", 0)
	v.SetDefault("storage.engine", "memory")
	v.SetDefault("storage.path", "")
	v.SetDefault("storage.sync_writes", false)
	v.SetDefault("checker.fix", false)
	v.SetDefault("checker.throttle", time.Duration(0))
	v.SetDefault("checker.batch_size", checker.DefaultBatchSize)
	v.SetDefault("checker.recheck_attempts", checker.DefaultRecheckAttempts)
	v.SetDefault("checker.recheck_delay", checker.DefaultRecheckDelay)
	v.SetDefault("checker.backoff", "fixed")
	v.SetDefault("checker.max_recheck_delay", 5*time.Minute)
	v.SetDefault("checker.poll_interval", checker.DefaultPollInterval)
	v.SetDefault("checker.parallelism", checker.DefaultParallelism)
	v.SetDefault("checker.repair_attempts", checker.DefaultRepairAttempts)
	v.SetDefault("checker.repair_timeout", 2*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// Load reads the configuration from the file at path (optional), the
// environment and any flags already bound to v.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	// Peers may also be given as "id1=addr1,id2=addr2".
	if s, ok := v.Get("peers").(string); ok {
		peers, err := ParsePeers(s)
		if err != nil {
			return nil, err
		}
		list := make([]map[string]any, 0, len(peers))
		for _, p := range peers {
			list = append(list, map[string]any{"id": p.ID, "addr": p.Addr})
		}
		v.Set("peers", list)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// ParsePeers parses a comma-separated list of peers in the format:
// "id1=addr1,id2=addr2,id3=addr3"
func ParsePeers(peersStr string) ([]Peer, error) {
	if strings.TrimSpace(peersStr) == "" {
		return []Peer{}, nil
	}

	parts := strings.Split(peersStr, ",")
	peers := make([]Peer, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid peer format: %s (expected id=addr)", part)
		}

		id := strings.TrimSpace(kv[0])
		addr := strings.TrimSpace(kv[1])
		if id == "" || addr == "" {
			return nil, fmt.Errorf("peer ID and address cannot be empty: %s", part)
		}

		peers = append(peers, Peer{ID: id, Addr: addr})
	}

	return peers, nil
}

// Validate checks the settings shared by nodes and the checker.
func (c *Config) Validate() error {
	var errs []error

	if c.VNodes <= 0 {
		errs = append(errs, fmt.Errorf("vnodes must be positive, got %d", c.VNodes))
	}
	if c.WriteQuorum < 0 {
		errs = append(errs, fmt.Errorf("write_quorum cannot be negative, got %d", c.WriteQuorum))
	}

	seen := make(map[string]bool, len(c.Peers))
	for _, p := range c.Peers {
		if p.ID == "" || p.Addr == "" {
			errs = append(errs, fmt.Errorf("peer ID and address cannot be empty: %+v", p))
			continue
		}
		if seen[p.ID] {
			errs = append(errs, fmt.Errorf("duplicate peer %s", p.ID))
		}
		seen[p.ID] = true
	}

	if len(c.Caches) == 0 {
		errs = append(errs, errors.New("at least one cache must be configured"))
	}
	names := make(map[string]bool, len(c.Caches))
	for _, cache := range c.Caches {
		switch {
		case cache.Name == "":
			errs = append(errs, errors.New("cache name cannot be empty"))
		case names[cache.Name]:
			errs = append(errs, fmt.Errorf("duplicate cache %s", cache.Name))
		case cache.Partitions < 0 || cache.Backups < 0:
			errs = append(errs, fmt.Errorf("cache %s: partitions and backups cannot be negative", cache.Name))
		}
		names[cache.Name] = true
	}

	switch c.Storage.Engine {
	case "memory":
	case "badger":
		if c.Storage.Path == "" {
			errs = append(errs, errors.New("storage.path is required for the badger engine"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage engine %q (want memory or badger)", c.Storage.Engine))
	}

	if _, err := checker.ParseBackoff(c.Checker.Backoff, c.Checker.RecheckDelay, c.Checker.MaxRecheckDelay); err != nil {
		errs = append(errs, err)
	}
	if c.Checker.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("checker.batch_size must be positive, got %d", c.Checker.BatchSize))
	}
	if c.Checker.RecheckAttempts < 0 {
		errs = append(errs, fmt.Errorf("checker.recheck_attempts cannot be negative, got %d", c.Checker.RecheckAttempts))
	}

	return errors.Join(errs...)
}

// ValidateNode additionally checks the settings a data node needs.
func (c *Config) ValidateNode() error {
	err := c.Validate()
	if c.NodeID == "" {
		err = errors.Join(err, errors.New("node_id is required"))
	}
	if c.ListenAddr == "" {
		err = errors.Join(err, errors.New("listen address is required"))
	}
	return err
}

// BuildRingNodes converts config peers + self into ring.Node slice.
// Self is included when a node ID is set.
func (c *Config) BuildRingNodes() []ring.Node {
	nodes := make([]ring.Node, 0, len(c.Peers)+1)

	if c.NodeID != "" {
		nodes = append(nodes, ring.Node{ID: c.NodeID, Addr: c.ListenAddr})
	}
	for _, peer := range c.Peers {
		// Skip self if it appears in peers list
		if peer.ID != c.NodeID {
			nodes = append(nodes, ring.Node{ID: peer.ID, Addr: peer.Addr})
		}
	}

	return nodes
}

// CacheNames returns the configured cache names.
func (c *Config) CacheNames() []string {
	names := make([]string, 0, len(c.Caches))
	for _, cache := range c.Caches {
		names = append(names, cache.Name)
	}
	return names
}

// CheckerOptions builds session options for the given caches; no caches
// selects every configured cache.
func (c *Config) CheckerOptions(caches []string) (checker.Options, error) {
	backoff, err := checker.ParseBackoff(c.Checker.Backoff, c.Checker.RecheckDelay, c.Checker.MaxRecheckDelay)
	if err != nil {
		return checker.Options{}, err
	}
	if len(caches) == 0 {
		caches = c.CacheNames()
	}
	return checker.Options{
		Caches:          caches,
		FixMode:         c.Checker.FixMode,
		Throttle:        c.Checker.Throttle,
		BatchSize:       c.Checker.BatchSize,
		RecheckAttempts: c.Checker.RecheckAttempts,
		RecheckDelay:    c.Checker.RecheckDelay,
		Backoff:         backoff,
		PollInterval:    c.Checker.PollInterval,
		Parallelism:     c.Checker.Parallelism,
		RepairAttempts:  c.Checker.RepairAttempts,
	}, nil
}

// OpenStore opens the configured storage engine.
func (c *Config) OpenStore() (storage.Store, error) {
	switch c.Storage.Engine {
	case "", "memory":
		return storage.NewMemStore(), nil
	case "badger":
		s, err := storage.NewBadgerStore(storage.BadgerOptions{Path: c.Storage.Path, SyncWrites: c.Storage.SyncWrites})
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage engine %q", c.Storage.Engine)
	}
}
