package railway

import (
	"github.com/lookingforticket/ticketwatch/internal/provider"
)

// BrandSet is a brand filter. An empty set matches every brand.
type BrandSet map[string]struct{}

// NewBrandSet builds a filter from brand names.
func NewBrandSet(names ...string) BrandSet {
	set := make(BrandSet, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

// Allows reports whether brand passes the filter.
func (s BrandSet) Allows(brand string) bool {
	if len(s) == 0 {
		return true
	}
	_, ok := s[brand]
	return ok
}

// ExtractTrains walks the direction/train/car tree and returns one record per
// train for the first car with at least minSeats free seats. Trains whose
// brand is filtered out are skipped entirely.
func ExtractTrains(resp *AvailabilityResponse, minSeats int, brands BrandSet) []TrainInfo {
	if resp == nil || resp.Express == nil {
		return nil
	}

	var out []TrainInfo
	seen := make(map[string]struct{})

	for _, dir := range resp.Express.Direction {
		for _, group := range dir.Trains {
			for _, train := range group.Train {
				if !brands.Allows(train.Brand) {
					continue
				}
				if _, dup := seen[train.Number]; dup {
					continue
				}
				if info, ok := firstQualifyingCar(train, minSeats); ok {
					seen[train.Number] = struct{}{}
					out = append(out, info)
				}
			}
		}
	}
	return out
}

func firstQualifyingCar(train Train, minSeats int) (TrainInfo, bool) {
	if train.Places == nil {
		return TrainInfo{}, false
	}
	for _, car := range train.Places.Cars {
		free := provider.ExtractCount(string(car.FreeSeats))
		if free < minSeats {
			continue
		}
		return newTrainInfo(train, car, free), true
	}
	return TrainInfo{}, false
}

func newTrainInfo(train Train, car Car, free int) TrainInfo {
	info := TrainInfo{
		TrainNumber:  train.Number,
		TrainNumber2: train.Number2,
		Brand:        train.Brand,
		TrainType:    train.Type,
		CarType:      car.Type,
		CarTypeShow:  car.TypeShow,
		FreeSeats:    free,
		TimeInWay:    train.TimeInWay,
	}
	if info.TrainNumber2 == "" {
		info.TrainNumber2 = train.Number
	}
	if train.Route != nil {
		info.RouteStations = train.Route.Station
	}
	if train.Departure != nil {
		info.DepartureTime = train.Departure.LocalTime
		info.DepartureDate = train.Departure.LocalDate
	}
	if train.Arrival != nil {
		info.ArrivalTime = train.Arrival.LocalTime
		info.ArrivalDate = train.Arrival.LocalDate
	}
	if car.Tariffs != nil {
		amounts := make([]string, 0, len(car.Tariffs.Tariff))
		for _, t := range car.Tariffs.Tariff {
			amounts = append(amounts, string(t.Tariff))
		}
		info.MinTariff = provider.MinAmount(amounts)
	}
	return info
}
