package railway

import (
	"bytes"
	"encoding/json"
	"time"
)

// depDateLayout is the upstream calendar date format (dd.MM.yyyy).
const depDateLayout = "02.01.2006"

// --------------------------------------------------------------------------
// Request
// --------------------------------------------------------------------------

type availabilityRequest struct {
	StationFrom       string             `json:"stationFrom"`
	StationTo         string             `json:"stationTo"`
	Direction         []directionRequest `json:"direction"`
	DetailNumPlaces   int                `json:"detailNumPlaces"`
	ShowWithoutPlaces int                `json:"showWithoutPlaces"`
}

type directionRequest struct {
	DepDate string `json:"depDate"`
	FullDay bool   `json:"fullday"`
	Type    string `json:"type"`
}

func newAvailabilityRequest(origin, destination string, date time.Time) availabilityRequest {
	return availabilityRequest{
		StationFrom: origin,
		StationTo:   destination,
		Direction: []directionRequest{{
			DepDate: date.Format(depDateLayout),
			FullDay: true,
			Type:    "Forward",
		}},
		DetailNumPlaces:   1,
		ShowWithoutPlaces: 0,
	}
}

// --------------------------------------------------------------------------
// Response
// --------------------------------------------------------------------------

// AvailabilityResponse is the top-level upstream payload. A nil Express means
// no data (for example after rate-limit retries were exhausted).
type AvailabilityResponse struct {
	Express *Express `json:"express"`
}

type Express struct {
	HasError  bool        `json:"hasError"`
	Type      string      `json:"type"`
	Direction []Direction `json:"direction"`
	Content   string      `json:"content,omitempty"`
}

type Direction struct {
	Type      string       `json:"type"`
	Trains    []TrainGroup `json:"trains"`
	PassRoute *PassRoute   `json:"passRoute,omitempty"`
}

type PassRoute struct {
	From     string `json:"from"`
	CodeFrom string `json:"codeFrom"`
	To       string `json:"to"`
	CodeTo   string `json:"codeTo"`
}

// TrainGroup lists trains departing on one date.
type TrainGroup struct {
	Date  string  `json:"date"`
	Train []Train `json:"train"`
}

type Train struct {
	Number    string    `json:"number"`
	Number2   string    `json:"number2"`
	Brand     string    `json:"brand"`
	Type      string    `json:"type"`
	Route     *Route    `json:"route"`
	Places    *Places   `json:"places"`
	Departure *TimeInfo `json:"departure"`
	Arrival   *TimeInfo `json:"arrival"`
	TimeInWay string    `json:"timeInWay"`
}

type Route struct {
	Station []string `json:"station"`
}

type Places struct {
	Cars []Car `json:"cars"`
}

type Car struct {
	Type      string     `json:"type"`
	TypeShow  string     `json:"typeShow"`
	FreeSeats flexString `json:"freeSeats"`
	IndexType string     `json:"indexType"`
	Tariffs   *Tariffs   `json:"tariffs"`
}

type Tariffs struct {
	Tariff []Tariff `json:"tariff"`
}

type Tariff struct {
	Tariff        flexString `json:"tariff"`
	TariffService flexString `json:"tariffService"`
	ComissionFee  flexString `json:"comissionFee"`
}

type TimeInfo struct {
	Time      string `json:"time"`
	LocalTime string `json:"localTime"`
	Date      string `json:"date"`
	LocalDate string `json:"localDate"`
	Stop      string `json:"stop"`
}

// flexString accepts both JSON strings and bare numbers. The upstream API is
// not consistent about quoting counts and amounts.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// --------------------------------------------------------------------------
// Extracted record
// --------------------------------------------------------------------------

// TrainInfo is one train with a car class that satisfies a query's seat and
// brand filters.
type TrainInfo struct {
	TrainNumber   string   `json:"train_number"`
	TrainNumber2  string   `json:"train_number2"`
	Brand         string   `json:"brand"`
	TrainType     string   `json:"train_type"`
	RouteStations []string `json:"route_stations"`
	CarType       string   `json:"car_type"`
	CarTypeShow   string   `json:"car_type_show"`
	FreeSeats     int      `json:"free_seats"`
	DepartureTime string   `json:"departure_time"`
	DepartureDate string   `json:"departure_date"`
	ArrivalTime   string   `json:"arrival_time"`
	ArrivalDate   string   `json:"arrival_date"`
	TimeInWay     string   `json:"time_in_way"`
	MinTariff     int64    `json:"min_tariff"`
}
