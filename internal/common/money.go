package common

import (
	"math"
	"math/big"

	"github.com/shopspring/decimal"
)

// QuoteVolume is the exact value of volume units at price.
func QuoteVolume(volume uint64, price float64) decimal.Decimal {
	return decimal.NewFromUint64(volume).Mul(decimal.NewFromFloat(price))
}

// LockAmount is what an order of the given side must reserve: quote units
// rounded up for bids, asset units for asks.
func LockAmount(side Side, volume uint64, price float64) uint64 {
	if side == Ask {
		return volume
	}
	return toUint64(QuoteVolume(volume, price).Ceil())
}

// SettleAmount is the quote paid for volume units at price, rounded down so
// that settled chunks never exceed what was locked for them.
func SettleAmount(volume uint64, price float64) uint64 {
	return toUint64(QuoteVolume(volume, price).Floor())
}

var maxUint64 = new(big.Int).SetUint64(math.MaxUint64)

func toUint64(d decimal.Decimal) uint64 {
	if d.Sign() <= 0 {
		return 0
	}
	b := d.BigInt()
	if b.Cmp(maxUint64) > 0 {
		return math.MaxUint64
	}
	return b.Uint64()
}
