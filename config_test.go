package nodescan

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Len(t, cfg.RPC.Endpoints, 3)
	assert.Equal(t, "https://api.mainnet-beta.solana.com", cfg.RPC.Endpoints[0])
	assert.Equal(t, 10*time.Second, cfg.RPC.Timeout)
	assert.Equal(t, 2*time.Minute, cfg.Cache.TotalStakeTTL)
	assert.Equal(t, time.Minute, cfg.Cache.StakeChangesTTL)
	assert.Equal(t, 5*time.Minute, cfg.Cache.StakeHistoryTTL)
	assert.Equal(t, 25*time.Second, cfg.Cache.EpochTTL)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 1, cfg.Sources.RetryMax)
	assert.Empty(t, cfg.Store.Path)
}

func TestLoadFromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nodescan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
rpc:
  endpoints:
    - http://127.0.0.1:8899
cache:
  epoch_ttl: 10s
poll:
  watch:
    - `+testVote+`
`), 0o600))

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"http://127.0.0.1:8899"}, cfg.RPC.Endpoints)
	assert.Equal(t, 10*time.Second, cfg.Cache.EpochTTL)
	assert.Equal(t, []string{testVote}, cfg.Poll.Watch)
	assert.Equal(t, 2*time.Minute, cfg.Cache.TotalStakeTTL)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("NODESCAN_SERVER_ADDR", ":9090")
	t.Setenv("NODESCAN_SOURCES_RETRY_MAX", "3")

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 3, cfg.Sources.RetryMax)
}

func TestLoadFlagsOverride(t *testing.T) {
	t.Parallel()

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("addr", ":8080", "")
	flags.StringSlice("rpc", nil, "")
	flags.String("log-level", "info", "")
	require.NoError(t, flags.Parse([]string{"--addr", ":7070", "--rpc", "http://localhost:8899", "--log-level", "debug"}))

	cfg, err := Load("", flags)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, []string{"http://localhost:8899"}, cfg.RPC.Endpoints)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr string
	}{
		{name: "no endpoints", mutate: func(cfg *Config) { cfg.RPC.Endpoints = nil }, wantErr: "at least one endpoint"},
		{name: "relative endpoint", mutate: func(cfg *Config) { cfg.RPC.Endpoints = []string{"localhost"} }, wantErr: "missing scheme or host"},
		{name: "short timeout", mutate: func(cfg *Config) { cfg.RPC.Timeout = 10 * time.Millisecond }, wantErr: "rpc.timeout"},
		{name: "long source timeout", mutate: func(cfg *Config) { cfg.Sources.Timeout = time.Hour }, wantErr: "sources.timeout"},
		{name: "negative retries", mutate: func(cfg *Config) { cfg.Sources.RetryMax = -1 }, wantErr: "retry_max"},
		{name: "bad source url", mutate: func(cfg *Config) { cfg.Sources.SolscanURL = "solscan" }, wantErr: "sources.solscan_url"},
		{name: "invalid watch pubkey", mutate: func(cfg *Config) { cfg.Poll.Watch = []string{"not-a-key"} }, wantErr: "poll.watch"},
		{name: "zero cache size", mutate: func(cfg *Config) { cfg.Cache.MaxEntries = 0 }, wantErr: "max_entries"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRPCConfigWebsocketURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		cfg  RPCConfig
		want string
	}{
		{cfg: RPCConfig{Endpoints: []string{"https://api.mainnet-beta.solana.com"}}, want: "wss://api.mainnet-beta.solana.com"},
		{cfg: RPCConfig{Endpoints: []string{"http://127.0.0.1:8899"}}, want: "ws://127.0.0.1:8899"},
		{cfg: RPCConfig{Endpoints: []string{"http://a"}, WebsocketURL: "ws://b:8900"}, want: "ws://b:8900"},
		{cfg: RPCConfig{}, want: ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.cfg.websocketURL())
	}
}
