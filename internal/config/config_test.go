package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"partrecon/internal/affinity"
	"partrecon/internal/checker"
)

func TestParsePeers(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []Peer
		wantErr bool
	}{
		{
			name:  "empty string",
			input: "",
			want:  []Peer{},
		},
		{
			name:  "single peer",
			input: "n1=127.0.0.1:50051",
			want: []Peer{
				{ID: "n1", Addr: "127.0.0.1:50051"},
			},
		},
		{
			name:  "multiple peers",
			input: "n1=127.0.0.1:50051,n2=127.0.0.1:50052,n3=127.0.0.1:50053",
			want: []Peer{
				{ID: "n1", Addr: "127.0.0.1:50051"},
				{ID: "n2", Addr: "127.0.0.1:50052"},
				{ID: "n3", Addr: "127.0.0.1:50053"},
			},
		},
		{
			name:  "with spaces",
			input: "n1 = 127.0.0.1:50051 , n2 = 127.0.0.1:50052",
			want: []Peer{
				{ID: "n1", Addr: "127.0.0.1:50051"},
				{ID: "n2", Addr: "127.0.0.1:50052"},
			},
		},
		{
			name:    "invalid format - no equals",
			input:   "n1:127.0.0.1:50051",
			wantErr: true,
		},
		{
			name:    "invalid format - empty ID",
			input:   "=127.0.0.1:50051",
			wantErr: true,
		},
		{
			name:    "invalid format - empty addr",
			input:   "n1=",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePeers(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParsePeers() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr {
				if len(got) != len(tt.want) {
					t.Errorf("ParsePeers() length = %d, want %d", len(got), len(tt.want))
					return
				}
				for i := range got {
					if got[i].ID != tt.want[i].ID || got[i].Addr != tt.want[i].Addr {
						t.Errorf("ParsePeers()[%d] = %v, want %v", i, got[i], tt.want[i])
					}
				}
			}
		})
	}
}

func TestConfig_BuildRingNodes(t *testing.T) {
	cfg := &Config{
		NodeID:     "n1",
		ListenAddr: "127.0.0.1:50051",
		Peers: []Peer{
			{ID: "n2", Addr: "127.0.0.1:50052"},
			{ID: "n3", Addr: "127.0.0.1:50053"},
		},
	}

	nodes := cfg.BuildRingNodes()
	if len(nodes) != 3 {
		t.Errorf("Expected 3 nodes, got %d", len(nodes))
	}

	// Check that self is included
	foundSelf := false
	for _, node := range nodes {
		if node.ID == "n1" && node.Addr == "127.0.0.1:50051" {
			foundSelf = true
		}
	}
	if !foundSelf {
		t.Error("Self node not found in ring nodes")
	}
}

const sampleConfig = `
node_id: n1
listen: 127.0.0.1:7001
peers:
  - id: n2
    addr: 127.0.0.1:7002
  - id: n3
    addr: 127.0.0.1:7003
write_quorum: 2
caches:
  - name: users
    partitions: 64
    backups: 2
  - name: sessions
    partitions: 16
    backups: 1
storage:
  engine: badger
  path: /var/lib/partrecon
checker:
  fix: true
  batch_size: 50
  recheck_delay: 2s
  backoff: exponential
  max_recheck_delay: 30s
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_File(t *testing.T) {
	cfg, err := Load(viper.New(), writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "n1", cfg.NodeID)
	assert.Equal(t, "127.0.0.1:7001", cfg.ListenAddr)
	assert.Equal(t, []Peer{{ID: "n2", Addr: "127.0.0.1:7002"}, {ID: "n3", Addr: "127.0.0.1:7003"}}, cfg.Peers)
	assert.Equal(t, 2, cfg.WriteQuorum)
	assert.Equal(t, []string{"users", "sessions"}, cfg.CacheNames())
	assert.Equal(t, 64, cfg.Caches[0].Partitions)
	assert.Equal(t, "badger", cfg.Storage.Engine)
	assert.True(t, cfg.Checker.FixMode)
	assert.Equal(t, 50, cfg.Checker.BatchSize)
	assert.Equal(t, 2*time.Second, cfg.Checker.RecheckDelay)

	// Unset values keep their defaults.
	assert.Equal(t, checker.DefaultParallelism, cfg.Checker.Parallelism)
	assert.Equal(t, checker.DefaultRecheckAttempts, cfg.Checker.RecheckAttempts)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.NoError(t, cfg.ValidateNode())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PARTRECON_NODE_ID", "n9")
	t.Setenv("PARTRECON_PEERS", "a=127.0.0.1:1,b=127.0.0.1:2")
	t.Setenv("PARTRECON_CHECKER_BATCH_SIZE", "7")

	cfg, err := Load(viper.New(), writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "n9", cfg.NodeID)
	assert.Equal(t, []Peer{{ID: "a", Addr: "127.0.0.1:1"}, {ID: "b", Addr: "127.0.0.1:2"}}, cfg.Peers)
	assert.Equal(t, 7, cfg.Checker.BatchSize)
}

func TestLoad_NoFile(t *testing.T) {
	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	assert.Empty(t, cfg.Peers)
	assert.Equal(t, "memory", cfg.Storage.Engine)

	// Without caches the configuration is incomplete.
	assert.Error(t, cfg.Validate())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			NodeID:     "n1",
			ListenAddr: "127.0.0.1:7001",
			VNodes:     16,
			Caches:     []affinity.Cache{{Name: "users", Partitions: 8, Backups: 1}},
			Storage:    StorageConfig{Engine: "memory"},
			Checker:    CheckerConfig{BatchSize: 10},
		}
	}
	require.NoError(t, valid().ValidateNode())

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"duplicate cache", func(c *Config) { c.Caches = append(c.Caches, c.Caches[0]) }},
		{"unnamed cache", func(c *Config) { c.Caches[0].Name = "" }},
		{"negative backups", func(c *Config) { c.Caches[0].Backups = -1 }},
		{"duplicate peer", func(c *Config) { c.Peers = []Peer{{ID: "n2", Addr: "a"}, {ID: "n2", Addr: "b"}} }},
		{"badger without path", func(c *Config) { c.Storage.Engine = "badger" }},
		{"unknown engine", func(c *Config) { c.Storage.Engine = "rocks" }},
		{"unknown backoff", func(c *Config) { c.Checker.Backoff = "linear" }},
		{"zero batch size", func(c *Config) { c.Checker.BatchSize = 0 }},
		{"zero vnodes", func(c *Config) { c.VNodes = 0 }},
		{"missing node id", func(c *Config) { c.NodeID = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			assert.Error(t, c.ValidateNode())
		})
	}
}

func TestConfig_CheckerOptions(t *testing.T) {
	cfg, err := Load(viper.New(), writeConfig(t, sampleConfig))
	require.NoError(t, err)

	opts, err := cfg.CheckerOptions(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"users", "sessions"}, opts.Caches)
	assert.True(t, opts.FixMode)
	assert.Equal(t, 50, opts.BatchSize)
	require.NotNil(t, opts.Backoff)
	assert.Equal(t, 2*time.Second, opts.Backoff(0))
	assert.Equal(t, 4*time.Second, opts.Backoff(1))

	opts, err = cfg.CheckerOptions([]string{"sessions"})
	require.NoError(t, err)
	assert.Equal(t, []string{"sessions"}, opts.Caches)
}

func TestConfig_OpenStore(t *testing.T) {
	cfg := &Config{Storage: StorageConfig{Engine: "memory"}}
	s, err := cfg.OpenStore()
	require.NoError(t, err)
	require.NoError(t, s.Close())

	cfg.Storage = StorageConfig{Engine: "badger", Path: t.TempDir()}
	s, err = cfg.OpenStore()
	require.NoError(t, err)
	require.NoError(t, s.Close())
}
