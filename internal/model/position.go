package model

// Position is the engine's net exposure. Instrument changes only via ETF
// fills; Hedge only via futures fills. Positive = long.
type Position struct {
	Instrument int64 `json:"instrument"`
	Hedge      int64 `json:"hedge"`
}

// Net is the combined exposure that hedging tries to keep near zero.
func (p Position) Net() int64 { return p.Instrument + p.Hedge }

// Unhedged is the absolute net exposure.
func (p Position) Unhedged() int64 {
	if n := p.Net(); n < 0 {
		return -n
	}
	return p.Net()
}
