package provider

import (
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// Pure cost functions over request parameters. The pricing preview endpoint
// and the orchestrator both go through these, so the quoted and the charged
// amount can never drift apart.

var (
	priceCheapImage   = decimal.RequireFromString("0.5")
	priceProImage     = decimal.RequireFromString("4.0")
	priceAltImage     = decimal.RequireFromString("1.3")
	pricePixverse     = decimal.RequireFromString("6")
	priceUpscale      = decimal.RequireFromString("14")
	priceAleph        = decimal.RequireFromString("22")
	priceMusic        = decimal.RequireFromString("2.4")
	ttsFloor          = decimal.RequireFromString("0.5")
	ttsPerBlock       = decimal.RequireFromString("0.3")
	ttsBlockChars     = decimal.NewFromInt(500)
	veoBase           = decimal.NewFromInt(14)
	veoPerBlock       = decimal.NewFromInt(7)
	veoCap            = decimal.NewFromInt(56)
	veoImageSurcharge = decimal.NewFromInt(6)
)

func imageCount(n int) int64 {
	if n < 1 {
		return 1
	}
	return int64(n)
}

// CostCheapImage: 0.5 per image.
func CostCheapImage(n int) decimal.Decimal {
	return priceCheapImage.Mul(decimal.NewFromInt(imageCount(n)))
}

// CostProImage: 4.0 per image.
func CostProImage(n int) decimal.Decimal {
	return priceProImage.Mul(decimal.NewFromInt(imageCount(n)))
}

// CostTieredImage: quality low/medium/high → 1/2/5.
func CostTieredImage(quality string) decimal.Decimal {
	switch quality {
	case "high":
		return decimal.NewFromInt(5)
	case "medium":
		return decimal.NewFromInt(2)
	default:
		return decimal.NewFromInt(1)
	}
}

// CostAltImage: 1.3 per image.
func CostAltImage(n int) decimal.Decimal {
	return priceAltImage.Mul(decimal.NewFromInt(imageCount(n)))
}

// CostKling: 5 s std 5, 5 s pro 30, 10 s std 10, 10 s pro 64.
func CostKling(durationSec int, pro bool) decimal.Decimal {
	switch {
	case durationSec >= 10 && pro:
		return decimal.NewFromInt(64)
	case durationSec >= 10:
		return decimal.NewFromInt(10)
	case pro:
		return decimal.NewFromInt(30)
	default:
		return decimal.NewFromInt(5)
	}
}

// CostPixverse: flat 6.
func CostPixverse() decimal.Decimal {
	return pricePixverse
}

// CostHailuo: 11 for 5 s standard, 18 for up-to-15 s premium.
func CostHailuo(premium bool) decimal.Decimal {
	if premium {
		return decimal.NewFromInt(18)
	}
	return decimal.NewFromInt(11)
}

// CostAvatar: 16 at 5 s, 32 at 10 s.
func CostAvatar(durationSec int) decimal.Decimal {
	if durationSec >= 10 {
		return decimal.NewFromInt(32)
	}
	return decimal.NewFromInt(16)
}

// CostVeo: 14 base plus 7 per additional 5 s block, capped at 56; plus 6 when
// image-conditioned.
func CostVeo(durationSec int, imageConditioned bool) decimal.Decimal {
	blocks := 0
	if durationSec > 5 {
		blocks = (durationSec - 5) / 5
	}
	cost := veoBase.Add(veoPerBlock.Mul(decimal.NewFromInt(int64(blocks))))
	if cost.GreaterThan(veoCap) {
		cost = veoCap
	}
	if imageConditioned {
		cost = cost.Add(veoImageSurcharge)
	}
	return cost
}

// CostUpscale: flat 14.
func CostUpscale() decimal.Decimal {
	return priceUpscale
}

// CostAleph: flat 22.
func CostAleph() decimal.Decimal {
	return priceAleph
}

// CostTTS: max(0.5, round(chars/500 × 0.3, 2)). Chars counts runes, not
// bytes, so non-ASCII text is priced the same as ASCII.
func CostTTS(text string) decimal.Decimal {
	chars := decimal.NewFromInt(int64(utf8.RuneCountInString(text)))
	cost := chars.Div(ttsBlockChars).Mul(ttsPerBlock).Round(2)
	if cost.LessThan(ttsFloor) {
		return ttsFloor
	}
	return cost
}

// CostMusic: flat 2.4.
func CostMusic() decimal.Decimal {
	return priceMusic
}
