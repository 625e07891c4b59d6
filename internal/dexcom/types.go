// Package dexcom provides an HTTP client for the Dexcom Share publisher API.
package dexcom

import (
	"time"
)

// Location selects the regional Share endpoint for an account.
type Location string

const (
	LocationUS  Location = "us"
	LocationOUS Location = "ous"
	LocationJP  Location = "jp"
)

// Valid reports whether the location is one of the known regions.
func (l Location) Valid() bool {
	switch l {
	case LocationUS, LocationOUS, LocationJP:
		return true
	}
	return false
}

// host returns the Share host serving the region.
func (l Location) host() string {
	switch l {
	case LocationOUS:
		return "shareous1.dexcom.com"
	case LocationJP:
		return "share.dexcom.jp"
	default:
		return "share2.dexcom.com"
	}
}

// Trend is the provider's trend direction for a glucose reading.
type Trend string

const (
	TrendNone           Trend = "None"
	TrendDoubleUp       Trend = "DoubleUp"
	TrendSingleUp       Trend = "SingleUp"
	TrendFortyFiveUp    Trend = "FortyFiveUp"
	TrendFlat           Trend = "Flat"
	TrendFortyFiveDown  Trend = "FortyFiveDown"
	TrendSingleDown     Trend = "SingleDown"
	TrendDoubleDown     Trend = "DoubleDown"
	TrendNotComputable  Trend = "NotComputable"
	TrendRateOutOfRange Trend = "RateOutOfRange"
)

// Code returns the compact wire code for the trend, matching the order the
// provider used for its legacy integer representation.
func (t Trend) Code() int {
	switch t {
	case TrendDoubleUp:
		return 1
	case TrendSingleUp:
		return 2
	case TrendFortyFiveUp:
		return 3
	case TrendFlat:
		return 4
	case TrendFortyFiveDown:
		return 5
	case TrendSingleDown:
		return 6
	case TrendDoubleDown:
		return 7
	case TrendNotComputable:
		return 8
	case TrendRateOutOfRange:
		return 9
	default:
		return 0
	}
}

// Reading is a single glucose measurement in provider units (mg/dL).
type Reading struct {
	Date  time.Time `json:"date"`
	Value int       `json:"value"`
	Trend Trend     `json:"trend"`
}
