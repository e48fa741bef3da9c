package universe

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Instrument holds per-symbol sizing constraints from the external
// universe contract.
type Instrument struct {
	Symbol      string          `yaml:"symbol" json:"symbol"`
	TickSize    decimal.Decimal `yaml:"tick_size" json:"tick_size"`
	LotStep     decimal.Decimal `yaml:"lot_step" json:"lot_step"`
	MinNotional decimal.Decimal `yaml:"min_notional" json:"min_notional"`

	// QuoteCurrency drives FX conversion; empty means account currency.
	QuoteCurrency string `yaml:"quote_currency" json:"quote_currency"`
}

// CostTable holds per-pair trading costs consumed when sizing legs.
type CostTable struct {
	Commission float64 `yaml:"commission" json:"commission"`
	Slippage   float64 `yaml:"slippage" json:"slippage"`
	Spread     float64 `yaml:"spread" json:"spread"`
	Swap       float64 `yaml:"swap" json:"swap"`
}

// TradingHours is the pair's session calendar in exchange-local time.
// The zero value means a continuous market.
type TradingHours struct {
	Open  string `yaml:"open" json:"open"`   // "09:00"
	Close string `yaml:"close" json:"close"` // "17:30"
	Days  []int  `yaml:"days" json:"days"`   // time.Weekday values
}

// RoundTripRate is the expected cost per unit of gross notional for a
// full entry/exit cycle: commission and slippage paid on both sides,
// the spread crossed once, and one swap accrual.
func (c CostTable) RoundTripRate() float64 {
	return 2*(c.Commission+c.Slippage) + c.Spread + c.Swap
}

// Contains reports whether t falls inside the session. An unparseable
// calendar fails closed; Load rejects those up front.
func (h TradingHours) Contains(t time.Time) bool {
	if len(h.Days) > 0 {
		open := false
		for _, d := range h.Days {
			if time.Weekday(d) == t.Weekday() {
				open = true
				break
			}
		}
		if !open {
			return false
		}
	}
	if h.Open == "" && h.Close == "" {
		return true
	}

	openMin, err := minuteOfDay(h.Open)
	if err != nil {
		return false
	}
	closeMin, err := minuteOfDay(h.Close)
	if err != nil {
		return false
	}

	m := t.Hour()*60 + t.Minute()
	if openMin <= closeMin {
		return m >= openMin && m < closeMin
	}
	// Session wraps midnight.
	return m >= openMin || m < closeMin
}

func minuteOfDay(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid session time %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Pair binds two instruments with a hedge ratio.
type Pair struct {
	PairID string `yaml:"pair_id" json:"pair_id"`
	LegA   string `yaml:"leg_a" json:"leg_a"`
	LegB   string `yaml:"leg_b" json:"leg_b"`

	// HedgeBeta is the target notional exposure ratio legB/legA.
	HedgeBeta float64 `yaml:"hedge_beta" json:"hedge_beta"`

	Costs CostTable    `yaml:"costs" json:"costs"`
	Hours TradingHours `yaml:"hours" json:"hours"`
}

// Universe is the resolved universe/cost contract for one trading universe.
type Universe struct {
	UniverseID  string       `yaml:"universe_id" json:"universe_id"`
	Instruments []Instrument `yaml:"instruments" json:"instruments"`
	Pairs       []Pair       `yaml:"pairs" json:"pairs"`

	byID     map[string]Pair
	bySymbol map[string]Instrument
}

// Load reads and validates the universe contract YAML.
func Load(path string) (*Universe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var u Universe
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&u); err != nil {
		return nil, err
	}

	if err := u.validate(); err != nil {
		return nil, err
	}
	u.index()

	return &u, nil
}

func (u *Universe) validate() error {
	if u.UniverseID == "" {
		return fmt.Errorf("universe_id is required")
	}
	symbols := make(map[string]bool)
	for _, inst := range u.Instruments {
		if inst.Symbol == "" {
			return fmt.Errorf("instrument symbol is required")
		}
		if inst.TickSize.Sign() <= 0 || inst.LotStep.Sign() <= 0 {
			return fmt.Errorf("instrument %s: tick_size and lot_step must be positive", inst.Symbol)
		}
		symbols[inst.Symbol] = true
	}
	for _, pair := range u.Pairs {
		if pair.PairID == "" {
			return fmt.Errorf("pair_id is required")
		}
		if !symbols[pair.LegA] || !symbols[pair.LegB] {
			return fmt.Errorf("pair %s: legs must reference known instruments", pair.PairID)
		}
		if pair.HedgeBeta == 0 {
			return fmt.Errorf("pair %s: hedge_beta must be nonzero", pair.PairID)
		}
		if err := pair.Costs.validate(); err != nil {
			return fmt.Errorf("pair %s: %w", pair.PairID, err)
		}
		if err := pair.Hours.validate(); err != nil {
			return fmt.Errorf("pair %s: %w", pair.PairID, err)
		}
	}
	return nil
}

func (c CostTable) validate() error {
	if c.Commission < 0 || c.Slippage < 0 || c.Spread < 0 || c.Swap < 0 {
		return fmt.Errorf("cost rates must be non-negative")
	}
	if rate := c.RoundTripRate(); rate >= 1 {
		return fmt.Errorf("round-trip cost rate %.4f consumes the entire notional", rate)
	}
	return nil
}

func (h TradingHours) validate() error {
	if (h.Open == "") != (h.Close == "") {
		return fmt.Errorf("session open and close must be set together")
	}
	if h.Open != "" {
		if _, err := minuteOfDay(h.Open); err != nil {
			return err
		}
		if _, err := minuteOfDay(h.Close); err != nil {
			return err
		}
	}
	for _, d := range h.Days {
		if d < 0 || d > 6 {
			return fmt.Errorf("session day %d outside weekday range", d)
		}
	}
	return nil
}

func (u *Universe) index() {
	u.byID = make(map[string]Pair, len(u.Pairs))
	for _, p := range u.Pairs {
		u.byID[p.PairID] = p
	}
	u.bySymbol = make(map[string]Instrument, len(u.Instruments))
	for _, inst := range u.Instruments {
		u.bySymbol[inst.Symbol] = inst
	}
}

// PairByID looks up a pair definition.
func (u *Universe) PairByID(pairID string) (Pair, bool) {
	p, ok := u.byID[pairID]
	return p, ok
}

// InstrumentBySymbol looks up an instrument definition.
func (u *Universe) InstrumentBySymbol(symbol string) (Instrument, bool) {
	inst, ok := u.bySymbol[symbol]
	return inst, ok
}
