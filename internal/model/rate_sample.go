package model

// RateSample is one exchange-rate observation read from chain.
type RateSample struct {
	ChainID     uint64 `json:"chain_id"`
	BlockNumber uint64 `json:"block_number"`
	Timestamp   uint64 `json:"timestamp"`
	Asset       string `json:"asset"`
	Source      string `json:"source"`
	Rate        string `json:"rate"`
}

// Operation converts the sample into a set_rate operation issued by caller.
func (s RateSample) Operation(caller string) Operation {
	return Operation{
		Op:     OpSetRate,
		Time:   s.Timestamp,
		Caller: caller,
		Asset:  s.Asset,
		Rate:   s.Rate,
	}
}
