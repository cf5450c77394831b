package types

import (
	"fmt"
	"time"
)

// Pair identifies a market as the currency used to buy or sell plus the
// asset being traded, e.g. USD/BTC.
type Pair struct {
	Currency string `yaml:"currency" json:"currency" csv:"currency"`
	Asset    string `yaml:"asset" json:"asset" csv:"asset"`
}

// NewPair creates a pair from a currency and an asset symbol.
func NewPair(currency, asset string) Pair {
	return Pair{Currency: currency, Asset: asset}
}

// String returns the conventional CURRENCY/ASSET form.
func (p Pair) String() string {
	return fmt.Sprintf("%s/%s", p.Currency, p.Asset)
}

// Candle is one OHLCV bar for a fixed time bucket. Candles are immutable
// once loaded; a series is ordered by time ascending with no duplicate
// timestamps.
type Candle struct {
	Pair          Pair      `yaml:"pair" json:"pair"`
	IntervalHours int       `yaml:"interval_hours" json:"interval_hours" csv:"interval_hours"`
	Time          time.Time `yaml:"time" json:"time" csv:"time"`
	Open          float64   `yaml:"open" json:"open" csv:"open"`
	High          float64   `yaml:"high" json:"high" csv:"high"`
	Low           float64   `yaml:"low" json:"low" csv:"low"`
	Close         float64   `yaml:"close" json:"close" csv:"close"`
	Volume        float64   `yaml:"volume" json:"volume" csv:"volume"`
}
