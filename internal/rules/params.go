package rules

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

const (
	defaultLookbackTrades    = 10
	defaultMinFactor         = 0.5
	defaultMaxFactor         = 2.0
	defaultTimeWindowMinutes = 60
)

type durationParams struct {
	MinDurationSeconds *int `json:"min_duration_seconds"`
}

type volumeParams struct {
	LookbackTrades *int     `json:"lookback_trades"`
	MinFactor      *float64 `json:"min_factor"`
	MaxFactor      *float64 `json:"max_factor"`
}

func (p volumeParams) lookback() int {
	if p.LookbackTrades == nil || *p.LookbackTrades <= 0 {
		return defaultLookbackTrades
	}
	return *p.LookbackTrades
}

func (p volumeParams) minFactor() float64 {
	if p.MinFactor == nil {
		return defaultMinFactor
	}
	return *p.MinFactor
}

func (p volumeParams) maxFactor() float64 {
	if p.MaxFactor == nil {
		return defaultMaxFactor
	}
	return *p.MaxFactor
}

type openTradesParams struct {
	TimeWindowMinutes *int `json:"time_window_minutes"`
	MinOpenTrades     *int `json:"min_open_trades"`
	MaxOpenTrades     *int `json:"max_open_trades"`
}

func (p openTradesParams) window() int {
	if p.TimeWindowMinutes == nil || *p.TimeWindowMinutes <= 0 {
		return defaultTimeWindowMinutes
	}
	return *p.TimeWindowMinutes
}

// decodeParams maps the stored attribute bag onto a typed struct; "60" and 60 both decode.
func decodeParams(raw map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(raw); err != nil {
		return fmt.Errorf("decode parameters: %w", err)
	}
	return nil
}
