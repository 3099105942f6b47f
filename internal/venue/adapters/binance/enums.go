// Package binance adapts the teacher's Binance spot REST client and market
// data stream to the unified venue.Gateway interface. Futures support
// follows the same shape and is left for a second adapter; this one covers
// the spot market, which is enough to exercise every Gateway operation.
package binance

import (
	"trading-core/internal/model"
	"trading-core/pkg/exchanges/common"
)

// toVenueSide/toBinanceSide translate between the unified and Binance-native
// side enums. Both sides are closed two-value sets so the mapping is total.
func toBinanceSide(s model.Side) common.Side {
	if s == model.SideSell {
		return common.SideSell
	}
	return common.SideBuy
}

func toVenueSide(s common.Side) model.Side {
	if s == common.SideSell {
		return model.SideSell
	}
	return model.SideBuy
}

// toBinanceType narrows the unified order-type set to what spot actually
// accepts; types with no spot equivalent (MarketIfTouched, OCO as a single
// order, venue-native trailing-stop) are rejected at Capabilities-check time
// before a Place call ever reaches here.
func toBinanceType(t model.OrderType) common.OrderType {
	switch t {
	case model.OrderTypeMarket:
		return common.OrderTypeMarket
	case model.OrderTypeLimit:
		return common.OrderTypeLimit
	case model.OrderTypeStop:
		return common.OrderTypeStopLoss
	case model.OrderTypeStopLimit:
		return common.OrderTypeStopLossLimit
	default:
		return common.OrderTypeLimit
	}
}

func toBinanceTIF(tif model.TimeInForce) common.TimeInForce {
	switch tif {
	case model.TIFIOC:
		return common.TIFIOC
	case model.TIFFOK:
		return common.TIFFOK
	default:
		return common.TIFGTC
	}
}

func toUnifiedStatus(s common.OrderStatus) model.OrderStatus {
	switch s {
	case common.StatusNew:
		return model.StatusNew
	case common.StatusPartial:
		return model.StatusPartiallyFilled
	case common.StatusFilled:
		return model.StatusFilled
	case common.StatusCanceled:
		return model.StatusCanceled
	case common.StatusRejected:
		return model.StatusRejected
	case common.StatusExpired:
		return model.StatusExpired
	default:
		return model.StatusNew
	}
}

// capabilities declares Binance spot's supported order types/TIFs and the
// per-operation rate limits the venue documents, consulted by
// Capabilities.Supports before a Place call is attempted.
func capabilities() model.Capabilities {
	return model.Capabilities{
		SupportedOrderTypes: map[model.OrderType]bool{
			model.OrderTypeMarket:    true,
			model.OrderTypeLimit:     true,
			model.OrderTypeStop:      true,
			model.OrderTypeStopLimit: true,
		},
		SupportedTIFs: map[model.TimeInForce]bool{
			model.TIFGTC: true,
			model.TIFIOC: true,
			model.TIFFOK: true,
		},
		MaxOrdersPerSecond: 10,
		RateLimits: map[string]model.RateLimit{
			"place":  {RPS: 10, Burst: 20},
			"cancel": {RPS: 10, Burst: 20},
			"query":  {RPS: 20, Burst: 40},
		},
		SLAMillis: map[string]int64{
			"place":  100,
			"modify": 50,
			"cancel": 30,
			"market": 20,
			"account": 200,
		},
	}
}
