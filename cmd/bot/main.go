// Command bot wires the core packages into a running process: load
// topology and environment config, dial the chain, and run the Arbitrage
// and Portfolio loops side by side until the process receives a shutdown
// signal. Mirrors the teacher's cmd/main.go assembly shape (load config,
// decrypt key, dial, construct, run, print updates) generalized to this
// bot's own collaborators.
package main

import (
	"context"
	"log"
	"math/big"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ref-trader/reftrader/configs"
	"github.com/ref-trader/reftrader/pkg/arbitrage"
	"github.com/ref-trader/reftrader/pkg/chainclient"
	"github.com/ref-trader/reftrader/pkg/decimals"
	"github.com/ref-trader/reftrader/pkg/harvest"
	"github.com/ref-trader/reftrader/pkg/persistence"
	"github.com/ref-trader/reftrader/pkg/pool"
	"github.com/ref-trader/reftrader/pkg/portfolio"
	"github.com/ref-trader/reftrader/pkg/predictor"
	"github.com/ref-trader/reftrader/pkg/router"
	"github.com/ref-trader/reftrader/pkg/rpcpool"
	"github.com/ref-trader/reftrader/pkg/tokenaccount"

	"github.com/joho/godotenv" // local/.env loading, matching blackhole_test.go's use
)

// harvestCheckInterval is how often the harvest threshold is re-checked;
// the Controller's own HARVEST_INTERVAL throttle governs how often a sweep
// actually fires.
const harvestCheckInterval = 5 * time.Minute

func main() {
	_ = godotenv.Load()

	configPath := os.Getenv("BOT_CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yml"
	}
	topology, err := configs.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("bot: load config: %v", err)
	}
	env := configs.LoadEnv()
	if err := env.Validate(); err != nil {
		log.Fatalf("bot: invalid environment config: %v", err)
	}

	poolCfg, err := topology.RPCPoolConfig()
	if err != nil {
		log.Fatalf("bot: rpc pool config: %v", err)
	}
	rpcPool := rpcpool.NewPool(poolCfg)
	client := chainclient.New(rpcPool, topology.RPCTimeout())

	privateKeyB64 := os.Getenv("SIGNER_PRIVATE_KEY")
	if privateKeyB64 == "" {
		log.Fatalf("bot: SIGNER_PRIVATE_KEY not set")
	}
	signerAccount, err := topology.SignerAccountID()
	if err != nil {
		log.Fatalf("bot: signer account: %v", err)
	}
	signer, err := chainclient.NewSigner(signerAccount, privateKeyB64)
	if err != nil {
		log.Fatalf("bot: load signer: %v", err)
	}

	routerAccount, err := topology.RouterAccountID()
	if err != nil {
		log.Fatalf("bot: router account: %v", err)
	}
	wnearAccount, err := topology.WnearAccountID()
	if err != nil {
		log.Fatalf("bot: wnear account: %v", err)
	}
	gateway := router.New(client, signer, routerAccount, wnearAccount)
	decimalsCache := decimals.New(client)

	dsn := os.Getenv("DATABASE_DSN")
	if dsn == "" {
		log.Fatalf("bot: DATABASE_DSN not set")
	}
	store, err := persistence.NewMySQLStore(dsn)
	if err != nil {
		log.Fatalf("bot: connect persistence: %v", err)
	}

	harvestTarget, err := tokenaccount.Parse(env.HarvestAccountID)
	if err != nil {
		log.Fatalf("bot: harvest account: %v", err)
	}
	harvestController := harvest.New(client, signer, gateway, harvestTarget, env.ToHarvestInterval())

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Printf("bot: shutdown signal received")
		cancel()
	}()

	var wg sync.WaitGroup

	arbLoop := arbitrage.New(env.ToArbitrageConfig(wnearAccount), client, gateway, store)
	wg.Add(1)
	go func() {
		defer wg.Done()
		arbLoop.Run(ctx)
	}()

	predictClient := predictor.New(os.Getenv("PREDICTION_ORACLE_URL"))
	poolSource := poolSourceAdapter{gateway: gateway}
	portfolioLoop := portfolio.New(env.ToPortfolioConfig(wnearAccount), poolSource, store, store, store, predictClient, gateway)
	wg.Add(1)
	go func() {
		defer wg.Done()
		portfolioLoop.Run(ctx)
	}()

	wnearDecimals, err := decimalsCache.Ensure(ctx, wnearAccount)
	if err != nil {
		log.Fatalf("bot: resolve wnear decimals: %v", err)
	}
	requiredBalance := new(big.Int).Mul(env.HarvestReserveAmount, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(wnearDecimals)), nil))
	wg.Add(1)
	go func() {
		defer wg.Done()
		runHarvestLoop(ctx, harvestController, wnearAccount, requiredBalance)
	}()

	wg.Wait()
	log.Printf("bot: all loops stopped, exiting")
}

// runHarvestLoop re-checks the harvest threshold on a fixed cadence, driven
// off the same shutdown context as the other two loops (spec.md §5's
// graceful-shutdown requirement); the Controller's own interval throttle
// governs how often a sweep actually executes.
func runHarvestLoop(ctx context.Context, c *harvest.Controller, token tokenaccount.Account, required *big.Int) {
	ticker := time.NewTicker(harvestCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.CheckAndHarvest(ctx, token, required); err != nil {
				log.Printf("harvest: check failed: %v", err)
			}
		}
	}
}

// poolSourceAdapter satisfies pkg/portfolio.PoolSource by reading every
// pool the router currently knows about, used by RecordRates (spec.md
// §4.8's 15-minute cron) to refresh the persisted snapshot the rest of the
// core reads back from.
type poolSourceAdapter struct {
	gateway *router.Gateway
}

func (a poolSourceAdapter) ReadPools(ctx context.Context) ([]*pool.PoolInfo, error) {
	return a.gateway.ListPools(ctx)
}
