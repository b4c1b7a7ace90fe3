package main

import (
	"github.com/spf13/cobra"

	"bonsaipay/internal/config"
)

// overrides are the flags that take precedence over the environment.
type overrides struct {
	chainID  uint64
	rpcURL   string
	contract string
	key      string
	httpAddr string
}

func (o *overrides) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Uint64Var(&o.chainID, "chain-id", 0, "chain id (overrides CHAIN_ID)")
	f.StringVar(&o.rpcURL, "rpc-url", "", "JSON-RPC endpoint (overrides RPC_URL)")
	f.StringVar(&o.contract, "contract", "", "payment contract address (overrides CONTRACT)")
	f.StringVar(&o.key, "eth-wallet-private-key", "", "hex signing key (overrides ETH_WALLET_PRIVATE_KEY)")
	f.StringVar(&o.httpAddr, "http-addr", "", "listen address (overrides HTTP_ADDR)")
}

func (o *overrides) apply(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("chain-id") {
		cfg.ChainID = o.chainID
	}
	if f.Changed("rpc-url") {
		cfg.RPCURL = o.rpcURL
	}
	if f.Changed("contract") {
		cfg.ContractAddress = o.contract
	}
	if f.Changed("eth-wallet-private-key") {
		cfg.WalletPrivateKey = o.key
	}
	if f.Changed("http-addr") {
		cfg.HTTPAddr = o.httpAddr
	}
}

func loadConfig(cmd *cobra.Command, o *overrides) config.Config {
	cfg := config.FromEnv()
	o.apply(cmd, &cfg)
	return cfg
}
