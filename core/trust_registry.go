package core

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

// ContractCaller is the minimal read-only surface this mesh needs from an
// Ethereum-compatible client; bind.ContractBackend satisfies it. Declared
// narrowly so tests can supply a fake without pulling in a full RPC dialer.
type ContractCaller interface {
	CallContract(ctx context.Context, call bind.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// trustScoreSelector is the 4-byte selector for `getTrustScore(address)
// returns (uint256)`: the first four bytes of
// keccak256("getTrustScore(address)"), reused across calls.
var trustScoreSelector = []byte{0x5e, 0x09, 0xee, 0xa1}

// EthRegistryClient is a read-only client for an on-chain trust registry
// contract, reached over an Ethereum-compatible JSON-RPC endpoint. It never
// issues a state-changing transaction: the engine only ever reads through
// it, per spec.md ("the engine never writes on-chain").
type EthRegistryClient struct {
	caller   ContractCaller
	contract common.Address
}

// NewEthRegistryClient builds a client bound to contract, callable through
// caller (typically an *ethclient.Client, which implements
// bind.ContractBackend).
func NewEthRegistryClient(caller ContractCaller, contract common.Address) *EthRegistryClient {
	return &EthRegistryClient{caller: caller, contract: contract}
}

// GetTrustScore reads the registry's integer trust score for the account
// backing did's CAIP-10 verification method. The core treats the placeholder
// contract-call wiring here as an interface to a real client (per spec.md
// §9): callers supply their own ContractCaller against a real chain.
func (c *EthRegistryClient) GetTrustScore(did DID) (int64, error) {
	chain, identifier, err := did.Parse()
	if err != nil {
		return 0, err
	}
	if !common.IsHexAddress(identifier) {
		return 0, ValidationErrorf("onchain trust: did %q identifier %q is not a hex address for chain %q", did, identifier, chain)
	}
	addr := common.HexToAddress(identifier)

	data := make([]byte, 0, 36)
	data = append(data, trustScoreSelector...)
	data = append(data, common.LeftPadBytes(addr.Bytes(), 32)...)

	out, err := c.caller.CallContract(context.Background(), bind.CallMsg{
		To:   &c.contract,
		Data: data,
	}, nil)
	if err != nil {
		return 0, wrapErr(KindExternal, err, "onchain getTrustScore(%s)", identifier)
	}
	if len(out) < 32 {
		return 0, wrapErr(KindExternal, nil, "onchain getTrustScore(%s): short response", identifier)
	}
	return new(big.Int).SetBytes(out[:32]).Int64(), nil
}
