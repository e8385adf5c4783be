package model

import "time"

// SeriesMetrics is the report row of one series. Amounts are decimal strings.
type SeriesMetrics struct {
	Series      string    `json:"series"`
	Asset       string    `json:"asset"`
	Expiry      time.Time `json:"expiry"`
	Status      string    `json:"status"`
	Guard       string    `json:"guard,omitempty"`
	BaseRate    string    `json:"base_rate"`
	LastRate    string    `json:"last_rate"`
	Index       string    `json:"index"`
	YieldSupply string    `json:"yield_supply"`
	Units       string    `json:"units"`
	FeeUnits    string    `json:"fee_units"`
	ImpliedAPR  *string   `json:"implied_apr,omitempty"`
	AsOf        time.Time `json:"as_of"`
}

// PoolMetrics is the report row of one exchange pool.
type PoolMetrics struct {
	Pool         string    `json:"pool"`
	Series       string    `json:"series"`
	Base         string    `json:"base"`
	Address      string    `json:"address"`
	Guard        string    `json:"guard,omitempty"`
	ReserveYield string    `json:"reserve_yield"`
	ReserveBase  string    `json:"reserve_base"`
	ShareSupply  string    `json:"share_supply"`
	WeightYield  string    `json:"weight_yield"`
	WeightBase   string    `json:"weight_base"`
	SpotPrice    *string   `json:"spot_price,omitempty"`
	ImpliedAPR   *string   `json:"implied_apr,omitempty"`
	AsOf         time.Time `json:"as_of"`
}
