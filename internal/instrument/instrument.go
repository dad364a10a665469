// Package instrument holds immutable static data for tradable instruments
// (fees, margin, multipliers, tick size) and a registry keyed by ticker. It
// is a leaf dependency of every other engine package.
package instrument

import (
	"errors"
	"fmt"
	"sort"
)

// SecurityKind classifies an instrument.
type SecurityKind string

const (
	Equity SecurityKind = "STK"
	Future SecurityKind = "FUT"
	Option SecurityKind = "OPT"
	Index  SecurityKind = "IND"
)

// ErrUnknownSymbol is returned by Registry lookups for tickers that were
// never registered.
var ErrUnknownSymbol = errors.New("unknown symbol")

// Instrument is the static definition of one tradable instrument. Instances
// are shared by pointer across the engine and never mutated after
// construction.
type Instrument struct {
	Ticker          string
	Kind            SecurityKind
	Currency        string
	Exchange        string
	FeeRate         float64 // commission per unit traded
	InitialMargin   float64 // per-unit initial margin, leveraged kinds only
	QtyMultiplier   float64
	PriceMultiplier float64
	TickSize        float64
	SlippageTicks   float64
}

// New validates and returns an Instrument. Multipliers default to 1 and tick
// size to 0.01 when left zero; every other invalid field is a configuration
// error.
func New(inst Instrument) (*Instrument, error) {
	if inst.Ticker == "" {
		return nil, errors.New("instrument has empty ticker")
	}
	switch inst.Kind {
	case Equity, Future, Option, Index:
	default:
		return nil, fmt.Errorf("instrument %s has unknown kind %q", inst.Ticker, inst.Kind)
	}
	if inst.FeeRate < 0 {
		return nil, fmt.Errorf("instrument %s has negative fee rate", inst.Ticker)
	}
	if inst.InitialMargin < 0 {
		return nil, fmt.Errorf("instrument %s has negative initial margin", inst.Ticker)
	}
	if inst.Kind == Future && inst.InitialMargin == 0 {
		return nil, fmt.Errorf("future %s requires a per-unit initial margin", inst.Ticker)
	}
	if inst.SlippageTicks < 0 {
		return nil, fmt.Errorf("instrument %s has negative slippage", inst.Ticker)
	}
	if inst.QtyMultiplier == 0 {
		inst.QtyMultiplier = 1
	}
	if inst.PriceMultiplier == 0 {
		inst.PriceMultiplier = 1
	}
	if inst.QtyMultiplier < 0 || inst.PriceMultiplier < 0 {
		return nil, fmt.Errorf("instrument %s has negative multiplier", inst.Ticker)
	}
	if inst.TickSize == 0 {
		inst.TickSize = 0.01
	}
	if inst.TickSize < 0 {
		return nil, fmt.Errorf("instrument %s has negative tick size", inst.Ticker)
	}
	return &inst, nil
}

// Multiplier returns the combined quantity and price multiplier.
func (i *Instrument) Multiplier() float64 {
	return i.QtyMultiplier * i.PriceMultiplier
}

// Leveraged reports whether the instrument reserves margin instead of
// consuming notional funds at entry.
func (i *Instrument) Leveraged() bool {
	return i.Kind == Future
}

// Slippage returns the tick-size-scaled price offset applied to simulated
// fills.
func (i *Instrument) Slippage() float64 {
	return i.SlippageTicks * i.TickSize
}

// Registry is an immutable lookup table of instruments keyed by ticker. It is
// fully populated at construction and safe for concurrent reads.
type Registry struct {
	byTicker map[string]*Instrument
}

// NewRegistry validates every definition and builds a Registry. Duplicate
// tickers are a configuration error.
func NewRegistry(defs []Instrument) (*Registry, error) {
	m := make(map[string]*Instrument, len(defs))
	for _, def := range defs {
		inst, err := New(def)
		if err != nil {
			return nil, err
		}
		if _, dup := m[inst.Ticker]; dup {
			return nil, fmt.Errorf("duplicate instrument %s", inst.Ticker)
		}
		m[inst.Ticker] = inst
	}
	return &Registry{byTicker: m}, nil
}

// Get returns the instrument for ticker, or ErrUnknownSymbol.
func (r *Registry) Get(ticker string) (*Instrument, error) {
	inst, ok := r.byTicker[ticker]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, ticker)
	}
	return inst, nil
}

// Tickers returns all registered tickers in sorted order.
func (r *Registry) Tickers() []string {
	out := make([]string, 0, len(r.byTicker))
	for t := range r.byTicker {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of registered instruments.
func (r *Registry) Len() int { return len(r.byTicker) }
