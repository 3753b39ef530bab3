package models

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"atabat-scraper/internal/digits"
	"atabat-scraper/internal/errcode"
	"atabat-scraper/internal/jalali"
)

// Border type codes accepted by the portal search form.
const (
	BorderAll           = "-1"
	BorderLand          = "1"
	BorderAir           = "2"
	BorderAccommodation = "128"
	BorderFlightOnly    = "129"

	ProvinceAll = "1000"
)

// TripRecord is one row of the portal's trip grid. RowIndex and
// SelectionToken belong to the page that produced them and must not be
// cached past a single request.
type TripRecord struct {
	RowIndex          string `json:"rowIndex" bson:"rowIndex"`
	TripIdentifier    string `json:"tripIdentifier" bson:"tripIdentifier"`
	DayOfWeek         string `json:"dayOfWeek" bson:"dayOfWeek"`
	DepartureDate     string `json:"departureDate" bson:"departureDate"`
	RemainingCapacity int    `json:"remainingCapacity" bson:"remainingCapacity"`
	MinCapacity       int    `json:"minCapacity" bson:"minCapacity"`
	TripType          string `json:"tripType" bson:"tripType"`
	Cost              int64  `json:"cost" bson:"cost"`
	DepartureLocation string `json:"departureLocation" bson:"departureLocation"`
	City              string `json:"city" bson:"city"`
	ProvinceCode      string `json:"provinceCode,omitempty" bson:"provinceCode,omitempty"`
	AgentName         string `json:"agentName" bson:"agentName"`
	GroupCode         string `json:"groupCode" bson:"groupCode"`
	ExecutorName      string `json:"executorName" bson:"executorName"`
	NajafHotel        string `json:"najafHotel" bson:"najafHotel"`
	KarbalaHotel      string `json:"karbalaHotel" bson:"karbalaHotel"`
	KazemainHotel     string `json:"kazemainHotel" bson:"kazemainHotel"`
	Address           string `json:"address" bson:"address"`
	SelectionToken    string `json:"selectionToken,omitempty" bson:"-"`
}

// TripIdentifier builds the stable key used to find a trip again in a later
// search.
func TripIdentifier(departureDate, groupCode, agentName string) string {
	return departureDate + "|" + groupCode + "|" + agentName
}

// Snapshot returns a copy with the page-scoped fields cleared.
func (t TripRecord) Snapshot() TripRecord {
	t.RowIndex = ""
	t.SelectionToken = ""
	return t
}

// InferBorderType derives the search code from the grid's trip type text.
func InferBorderType(tripType string) string {
	switch {
	case strings.Contains(tripType, "هوایی"):
		return BorderAir
	case strings.Contains(tripType, "زمینی"):
		return BorderLand
	}
	return ""
}

// SearchFilters narrows a trip search. Empty fields mean "all".
type SearchFilters struct {
	DateFrom     string `json:"dateFrom,omitempty"`
	DateTo       string `json:"dateTo,omitempty"`
	ProvinceCode string `json:"provinceCode,omitempty"`
	BorderType   string `json:"borderType,omitempty"`
	AdultCount   int    `json:"adultCount,omitempty"`
	InfantCount  int    `json:"infantCount,omitempty"`
}

var numericCode = regexp.MustCompile(`^-?\d+$`)

// Validate rejects malformed filters before any browser work and returns the
// normalized form (ASCII digits).
func (f SearchFilters) Validate() (SearchFilters, error) {
	out := f
	var err error
	if f.DateFrom != "" {
		if out.DateFrom, err = jalali.Normalize(f.DateFrom); err != nil {
			return f, errcode.Wrap(errcode.InvalidParams, "invalid dateFrom", err)
		}
	}
	if f.DateTo != "" {
		if out.DateTo, err = jalali.Normalize(f.DateTo); err != nil {
			return f, errcode.Wrap(errcode.InvalidParams, "invalid dateTo", err)
		}
	}
	if out.DateFrom != "" && out.DateTo != "" && out.DateFrom > out.DateTo {
		return f, errcode.New(errcode.InvalidParams, fmt.Sprintf("dateFrom %s is after dateTo %s", out.DateFrom, out.DateTo))
	}
	out.ProvinceCode = digits.ToEnglish(strings.TrimSpace(f.ProvinceCode))
	if out.ProvinceCode != "" && !numericCode.MatchString(out.ProvinceCode) {
		return f, errcode.New(errcode.InvalidParams, "provinceCode must be numeric")
	}
	out.BorderType = strings.TrimSpace(f.BorderType)
	switch out.BorderType {
	case "", BorderAll, BorderLand, BorderAir, BorderAccommodation, BorderFlightOnly:
	default:
		return f, errcode.New(errcode.InvalidParams, "unknown borderType "+out.BorderType)
	}
	if f.AdultCount < 0 || f.AdultCount > 9 {
		return f, errcode.New(errcode.InvalidParams, "adultCount must be between 0 and 9")
	}
	if f.InfantCount < 0 || f.InfantCount > 9 {
		return f, errcode.New(errcode.InvalidParams, "infantCount must be between 0 and 9")
	}
	return out, nil
}

// ParseCost reads a grid cost cell, dropping thousands separators and
// localized digits. Unparseable input is zero.
func ParseCost(s string) int64 {
	n, err := strconv.ParseInt(digits.OnlyDigits(s), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// ParseCount is ParseCost for small integer cells.
func ParseCount(s string) int {
	return int(ParseCost(s))
}
