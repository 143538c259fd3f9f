package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/defistate/amm-replica-go/chains/ethereum"
	"github.com/defistate/amm-replica-go/protocols/uniswapv3/reconciler"
)

type quoterConfig struct {
	RPCURL      string
	Pool        common.Address
	Token       common.Address
	Amount      *big.Int
	ExactOutput bool
	Timeout     time.Duration
}

// quote is the JSON document printed to stdout.
type quote struct {
	Pool      common.Address `json:"pool"`
	Block     uint64         `json:"block"`
	Token     common.Address `json:"token"`
	AmountIn  string         `json:"amountIn"`
	AmountOut string         `json:"amountOut"`
	Tick      int64          `json:"tick"`
}

func main() {
	rootLogHandler := slog.NewJSONHandler(os.Stderr, nil)
	close := func() {
		os.Exit(1)
	}

	rootLogger := slog.New(rootLogHandler)
	prometheusRegistry := prometheus.DefaultRegisterer

	cfg, err := loadConfig()
	if err != nil {
		rootLogger.Error("Failed to load configuration", "error", err)
		close()
	}

	// Cancel on interrupt or termination so a slow endpoint cannot hang us.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	source, err := ethereum.Dial(ctx, cfg.RPCURL, rootLogger.With("component", "state-source"))
	if err != nil {
		rootLogger.Error("Failed to dial ethereum endpoint", "url", cfg.RPCURL, "error", err)
		close()
	}
	defer source.Close()

	replica, err := reconciler.Bootstrap(ctx, &reconciler.Config{
		Source:   source,
		Logger:   rootLogger.With("component", "reconciler"),
		Registry: prometheusRegistry,
	}, cfg.Pool)
	if err != nil {
		rootLogger.Error("Failed to bootstrap pool replica", "pool", cfg.Pool, "error", err)
		close()
	}

	var amountIn, amountOut *big.Int
	if cfg.ExactOutput {
		amountOut = cfg.Amount
		amountIn, _, err = replica.QuoteExactOutput(ctx, cfg.Token, cfg.Amount, nil)
	} else {
		amountIn = cfg.Amount
		amountOut, _, err = replica.QuoteExactInput(ctx, cfg.Token, cfg.Amount, nil)
	}
	if err != nil {
		rootLogger.Error("Quote failed", "pool", cfg.Pool, "error", err)
		close()
	}

	snapshot := replica.Snapshot()
	out := quote{
		Pool:      cfg.Pool,
		Block:     snapshot.Seq.Block,
		Token:     cfg.Token,
		AmountIn:  amountIn.String(),
		AmountOut: amountOut.String(),
		Tick:      snapshot.Tick,
	}
	if err := json.NewEncoder(os.Stdout).Encode(out); err != nil {
		rootLogger.Error("Failed to encode quote", "error", err)
		close()
	}
}

func loadConfig() (*quoterConfig, error) {
	rpcURL := flag.String("rpc-url", "", "Ethereum JSON-RPC endpoint.")
	pool := flag.String("pool", "", "Pool contract address.")
	token := flag.String("token", "", "Token spent (or received with -exact-output).")
	amount := flag.String("amount", "", "Amount in the token's base units.")
	exactOutput := flag.Bool("exact-output", false, "Treat -amount as the desired output.")
	timeout := flag.Duration("timeout", 30*time.Second, "Overall deadline.")
	flag.Parse()

	if *rpcURL == "" {
		return nil, fmt.Errorf("-rpc-url is required")
	}
	if !common.IsHexAddress(*pool) {
		return nil, fmt.Errorf("-pool %q is not a valid address", *pool)
	}
	if !common.IsHexAddress(*token) {
		return nil, fmt.Errorf("-token %q is not a valid address", *token)
	}
	parsed, ok := new(big.Int).SetString(*amount, 10)
	if !ok || parsed.Sign() <= 0 {
		return nil, fmt.Errorf("-amount %q is not a positive integer", *amount)
	}

	return &quoterConfig{
		RPCURL:      *rpcURL,
		Pool:        common.HexToAddress(*pool),
		Token:       common.HexToAddress(*token),
		Amount:      parsed,
		ExactOutput: *exactOutput,
		Timeout:     *timeout,
	}, nil
}
