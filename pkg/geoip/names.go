package geoip

import (
	"strings"

	"github.com/biter777/countries"
)

// CountryName turns an ISO 3166-1 alpha-2 code into a short English name. Unknown codes are
// returned unchanged.
func CountryName(cc string) string {
	c := countries.ByName(cc)
	switch {
	case !c.IsValid(), c == countries.None, c == countries.International:
		return cc
	}
	name := c.String()
	if idx := strings.Index(name, " ("); idx != -1 {
		name = name[:idx]
	}
	switch {
	case strings.Contains(name, "Hong Kong"):
		name = "Hong Kong"
	case strings.Contains(name, "Macao"):
		name = "Macao"
	case strings.Contains(name, "Taiwan"):
		name = "Taiwan"
	}
	return name
}

// Location is a resolved place.
type Location struct {
	City    string
	Country string // ISO 3166-1 alpha-2
	Lat     float64
	Lon     float64
}

// Name renders "City, Country", falling back to whichever part is known.
func (l Location) Name() string {
	country := ""
	if l.Country != "" {
		country = CountryName(l.Country)
	}
	switch {
	case l.City != "" && country != "":
		return l.City + ", " + country
	case l.City != "":
		return l.City
	case country != "":
		return country
	}
	return "Unknown"
}
