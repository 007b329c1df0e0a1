// Package oracle implements components E and F of the trust kernel: a
// foreign-chain block-hash oracle and Merkle-Patricia inclusion-proof
// verifier, both built directly on go-ethereum's client and trie packages
// the way the pack's chain-following services do.
package oracle

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ruteri/liquefaction/interfaces"
)

// EthClientOracle answers GetBlockHash by querying a live RPC endpoint per
// chain ID. It caches nothing: the kernel is expected to call it once per
// dispatch and treat the answer as authoritative for that dispatch only.
type EthClientOracle struct {
	mu      sync.RWMutex
	clients map[interfaces.ChainID]*ethclient.Client
}

func NewEthClientOracle() *EthClientOracle {
	return &EthClientOracle{clients: make(map[interfaces.ChainID]*ethclient.Client)}
}

// AddChain dials rpcURL and registers it as the client used for chainID.
func (o *EthClientOracle) AddChain(chainID interfaces.ChainID, rpcURL string) error {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return fmt.Errorf("dialing rpc for chain %d: %w", chainID, err)
	}
	o.mu.Lock()
	o.clients[chainID] = client
	o.mu.Unlock()
	return nil
}

func (o *EthClientOracle) GetBlockHash(chainId interfaces.ChainID, blockNumber uint64) ([32]byte, error) {
	o.mu.RLock()
	client, ok := o.clients[chainId]
	o.mu.RUnlock()
	if !ok {
		return [32]byte{}, fmt.Errorf("no rpc client registered for chain %d", chainId)
	}

	header, err := client.HeaderByNumber(context.Background(), new(big.Int).SetUint64(blockNumber))
	if err != nil {
		return [32]byte{}, fmt.Errorf("fetching header %d on chain %d: %w", blockNumber, chainId, err)
	}
	return [32]byte(header.Hash()), nil
}

var _ interfaces.BlockHashOracle = (*EthClientOracle)(nil)
