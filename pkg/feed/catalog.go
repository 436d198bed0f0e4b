// Package feed holds the traffic sources that drive the engine: a synthetic generator, an
// upstream websocket feed, Redis pub/sub, and CSV replay of captured packages.
package feed

import (
	"github.com/sudorandom/traffic-globe/pkg/geoip"
	"github.com/sudorandom/traffic-globe/pkg/trafficengine"
)

// City is a named location in the synthetic catalog.
type City struct {
	Name    string
	Country string // ISO 3166-1 alpha-2
	Lat     float64
	Lon     float64
}

func (c City) Endpoint() trafficengine.Endpoint {
	return trafficengine.Endpoint{Name: c.Name, Latitude: c.Lat, Longitude: c.Lon}
}

func (c City) CountryName() string {
	return geoip.CountryName(c.Country)
}

// Cities is the fixed catalog the generator draws from.
var Cities = []City{
	{"New York", "US", 40.7128, -74.0060},
	{"London", "GB", 51.5074, -0.1278},
	{"Tokyo", "JP", 35.6762, 139.6503},
	{"Beijing", "CN", 39.9042, 116.4074},
	{"Moscow", "RU", 55.7558, 37.6173},
	{"Sydney", "AU", -33.8688, 151.2093},
	{"Rio de Janeiro", "BR", -22.9068, -43.1729},
	{"Cape Town", "ZA", -33.9249, 18.4241},
	{"Dubai", "AE", 25.2048, 55.2708},
	{"San Francisco", "US", 37.7749, -122.4194},
	{"Seoul", "KR", 37.5665, 126.9780},
	{"Singapore", "SG", 1.3521, 103.8198},
	{"Berlin", "DE", 52.5200, 13.4050},
	{"Paris", "FR", 48.8566, 2.3522},
	{"Toronto", "CA", 43.6511, -79.3470},
}

// Protocols are the application protocols synthetic traffic is labelled with.
var Protocols = []string{"HTTP", "HTTPS", "FTP", "SSH", "SMTP", "DNS"}
