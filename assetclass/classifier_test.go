package assetclass

import (
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/liquefaction/interfaces"
	"github.com/stretchr/testify/require"
)

func TestClassifyEthSignedMessage(t *testing.T) {
	tag := Classify([]byte{0x19, 0x45, 'h', 'i'})
	require.Equal(t, EthSignedMessageTag, tag)
}

func TestClassifyEIP1559Envelope(t *testing.T) {
	tag := Classify([]byte{0x02, 0xaa, 0xbb})
	require.Equal(t, EthTransactionTag, tag)
}

func TestClassifyEIP712FlowsToZero(t *testing.T) {
	tag := Classify([]byte{0x19, 0x01, 0xaa})
	require.True(t, tag.IsZero())
}

func TestClassifyUnknownPrefixIsZero(t *testing.T) {
	tag := Classify([]byte{0x99, 0x00})
	require.True(t, tag.IsZero())
}

func TestClassifyPreservesAmbiguousZeroTwoByte(t *testing.T) {
	// spec.md open question #1: any payload starting 0x02 is classified as
	// the Ethereum transaction asset, even if it is not actually one.
	tag := Classify([]byte{0x02})
	require.Equal(t, EthTransactionTag, tag)
}

func TestClassifyTypedDataUsesDomainNameOnly(t *testing.T) {
	d1 := TypedDataDomain{Name: "MyDapp", HasName: true, Version: "1", HasVersion: true}
	d2 := TypedDataDomain{Name: "MyDapp", HasName: true, Version: "2", HasVersion: true}
	require.Equal(t, ClassifyTypedData(d1), ClassifyTypedData(d2))

	want := interfaces.AssetTag(crypto.Keccak256Hash(append([]byte("EIP-712 "), []byte("MyDapp")...)))
	require.Equal(t, want, ClassifyTypedData(d1))
}

func TestClassifyTypedDataWithoutNameIsZero(t *testing.T) {
	tag := ClassifyTypedData(TypedDataDomain{})
	require.True(t, tag.IsZero())
}

func TestDomainSeparatorVariesWithFieldMask(t *testing.T) {
	full := TypedDataDomain{
		Name: "MyDapp", HasName: true,
		Version: "1", HasVersion: true,
		ChainID: 1, HasChainID: true,
	}
	partial := TypedDataDomain{
		Name: "MyDapp", HasName: true,
	}

	sepFull, err := DomainSeparator(full)
	require.NoError(t, err)
	sepPartial, err := DomainSeparator(partial)
	require.NoError(t, err)

	require.NotEqual(t, sepFull, sepPartial)
}
