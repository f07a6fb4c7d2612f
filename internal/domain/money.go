package domain

import "math"

// Currency is the only currency the storefront prices in.
const Currency = "INR"

// RupeesToPaise converts a major-unit amount from the API boundary into
// paise, rounding half away from zero to absorb float representation noise.
func RupeesToPaise(rupees float64) int64 {
	return int64(math.Round(rupees * 100))
}

// PaiseToRupees converts an internal paise amount to major units for
// responses.
func PaiseToRupees(paise int64) float64 {
	return float64(paise) / 100
}

// PercentOf returns amount*bps/10000 rounded half up. Basis points keep the
// arithmetic integral: 15% is 1500 bps, 18% is 1800 bps.
func PercentOf(amount int64, bps int64) int64 {
	product := amount * bps
	if product >= 0 {
		return (product + 5000) / 10000
	}
	return (product - 5000) / 10000
}

// MulQuantity multiplies a unit price by a quantity, reporting overflow.
func MulQuantity(unitPrice, quantity int64) (int64, bool) {
	if unitPrice == 0 || quantity == 0 {
		return 0, true
	}
	total := unitPrice * quantity
	if total/quantity != unitPrice {
		return 0, false
	}
	return total, true
}
