package configs

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_ParsesTopology(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/config.yml"
	yamlBody := `
router_account: v2.ref-finance.near
wnear_account: wrap.near
signer_account: bot.near
rpc_endpoints:
  - url: https://rpc1.example.com
    weight: 50
    max_retries: 3
  - url: https://rpc2.example.com
    weight: 50
    max_retries: 3
rpc_timeout_seconds: 20
rpc_retry_limit: 5
`
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "v2.ref-finance.near", cfg.RouterAccount)
	assert.Equal(t, 20*time.Second, cfg.RPCTimeout())

	poolCfg, err := cfg.RPCPoolConfig()
	require.NoError(t, err)
	assert.Len(t, poolCfg.Endpoints, 2)
	assert.Equal(t, 5, poolCfg.RetryLimit)

	router, err := cfg.RouterAccountID()
	require.NoError(t, err)
	assert.Equal(t, "v2.ref-finance.near", router.String())
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/config.yml")
	assert.Error(t, err)
}

func TestRPCPoolConfig_FallsBackToEnv(t *testing.T) {
	t.Setenv("RPC_ENDPOINTS", `[{"url":"https://rpc.example.com","weight":100,"max_retries":2}]`)
	cfg := &Config{}
	poolCfg, err := cfg.RPCPoolConfig()
	require.NoError(t, err)
	require.Len(t, poolCfg.Endpoints, 1)
	assert.Equal(t, "https://rpc.example.com", poolCfg.Endpoints[0].URL)
}

func TestRPCPoolConfig_NoEndpointsIsFatal(t *testing.T) {
	t.Setenv("RPC_ENDPOINTS", "")
	cfg := &Config{}
	_, err := cfg.RPCPoolConfig()
	assert.Error(t, err)
}

func TestLoadEnv_Defaults(t *testing.T) {
	for _, k := range []string{
		"ARBITRAGE_NEEDED", "TRADE_ENABLED", "TRADE_TOP_TOKENS",
		"PORTFOLIO_REBALANCE_THRESHOLD", "RECORD_RATES_CRON_SCHEDULE",
	} {
		t.Setenv(k, "")
	}
	env := LoadEnv()
	assert.False(t, env.ArbitrageNeeded)
	assert.False(t, env.TradeEnabled)
	assert.Equal(t, 10, env.TradeTopTokens)
	assert.Equal(t, 0.05, env.PortfolioRebalanceThreshold)
	assert.Equal(t, "*/15 * * * *", env.RecordRatesCronSchedule)
}

func TestLoadEnv_Overrides(t *testing.T) {
	t.Setenv("ARBITRAGE_NEEDED", "true")
	t.Setenv("TRADE_TOP_TOKENS", "25")
	t.Setenv("ARBITRAGE_OTHER_ERROR_WAIT", "5s")

	env := LoadEnv()
	assert.True(t, env.ArbitrageNeeded)
	assert.Equal(t, 25, env.TradeTopTokens)
	assert.Equal(t, 5*time.Second, env.ArbitrageOtherErrorWait)
}

func TestValidate_RequiresHarvestAccount(t *testing.T) {
	env := EnvConfig{}
	assert.Error(t, env.Validate())

	env.HarvestAccountID = "harvest.near"
	assert.NoError(t, env.Validate())
}
