package ethtx

import "math/big"

// estimateInclusionProofCost mirrors the on-chain proof verifier's gas curve
// (spec §4.6): ((L/1024)*86853 + 289032) * 100 gwei, monotone non-decreasing
// in payload length L.
func estimateInclusionProofCost(payloadLen int) *big.Int {
	chunks := int64(payloadLen) / 1024
	base := chunks*86853 + 289032
	cost := new(big.Int).Mul(big.NewInt(base), big.NewInt(100))
	return cost.Mul(cost, big.NewInt(1_000_000_000))
}

// saturatingSub returns max(a-b, 0) and the amount actually subtracted.
func saturatingSub(a, b *big.Int) (remaining, subtracted *big.Int) {
	if a.Cmp(b) <= 0 {
		return big.NewInt(0), new(big.Int).Set(a)
	}
	return new(big.Int).Sub(a, b), new(big.Int).Set(b)
}
