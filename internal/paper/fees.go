package paper

import "paperTrader/internal/domain"

// FeeModel computes fees and adverse slippage for simulated fills.
type FeeModel struct {
	MakerRate    float64
	TakerRate    float64
	SlippageRate float64
}

// Fee returns orderValue × rate, using the maker rate for resting orders.
func (m FeeModel) Fee(orderValue float64, maker bool) float64 {
	if maker {
		return orderValue * m.MakerRate
	}
	return orderValue * m.TakerRate
}

// ExecutionPrice applies slippage against the trader: up for BUY, down for SELL.
func (m FeeModel) ExecutionPrice(price float64, side domain.OrderSide) float64 {
	if side == domain.Buy {
		return price * (1 + m.SlippageRate)
	}
	return price * (1 - m.SlippageRate)
}

// Slippage returns the cost of slippage on an order valued at the reference price.
func (m FeeModel) Slippage(orderValue float64) float64 {
	return orderValue * m.SlippageRate
}

// fill describes how an order executes at a given reference price.
type fill struct {
	price    float64 // execution price
	value    float64 // quantity × execution price
	fee      float64
	slippage float64
}

// quote prices a fill. Maker fills execute at the reference price without slippage.
func (m FeeModel) quote(side domain.OrderSide, quantity, refPrice float64, maker bool) fill {
	if maker {
		value := quantity * refPrice
		return fill{price: refPrice, value: value, fee: m.Fee(value, true)}
	}
	price := m.ExecutionPrice(refPrice, side)
	value := quantity * price
	return fill{
		price:    price,
		value:    value,
		fee:      m.Fee(value, false),
		slippage: m.Slippage(quantity * refPrice),
	}
}
