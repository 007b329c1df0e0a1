package ethtx

import (
	"io"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ruteri/liquefaction/interfaces"
)

// UnsignedTx is the subset of an EIP-1559 transaction the kernel needs to
// track and eventually hand to the wallet registry for signing.
type UnsignedTx struct {
	ChainID      uint64
	Nonce        uint64
	GasTipCap    *big.Int
	GasFeeCap    *big.Int
	GasLimit     uint64
	To           interfaces.WalletAddress
	Value        *big.Int
	Data         []byte
}

// SerializeUnsigned encodes tx exactly as go-ethereum's DynamicFeeTx signer
// does before hashing it for a signature: a type-2 envelope byte followed by
// the RLP list of its nine unsigned fields. Its Keccak is the digest an
// EIP-1559 signature is computed over, and its first byte (0x02) is what
// the asset classifier recognizes.
func (tx *UnsignedTx) SerializeUnsigned() ([]byte, error) {
	fields := []interface{}{
		new(big.Int).SetUint64(tx.ChainID),
		tx.Nonce,
		tx.GasTipCap,
		tx.GasFeeCap,
		tx.GasLimit,
		common.Address(tx.To),
		tx.Value,
		tx.Data,
		emptyAccessList{},
	}
	body, err := rlp.EncodeToBytes(fields)
	if err != nil {
		return nil, err
	}
	return append([]byte{0x02}, body...), nil
}

// emptyAccessList RLP-encodes as an empty list, matching a transaction with
// no EIP-2930 access list entries.
type emptyAccessList struct{}

func (emptyAccessList) EncodeRLP(w io.Writer) error {
	_, err := w.Write([]byte{0xc0})
	return err
}

// maxCost is value + gasLimit * maxFeePerGas, the worst-case wei a
// transaction can debit from its sub-policy's balance.
func maxCost(value *big.Int, gasLimit uint64, gasFeeCap *big.Int) *big.Int {
	gasCost := new(big.Int).Mul(new(big.Int).SetUint64(gasLimit), gasFeeCap)
	return new(big.Int).Add(value, gasCost)
}
