// Package sources lists the remote reference data the globe uses and parses the world outline.
package sources

const (
	WorldGeoJSONURL = "https://raw.githubusercontent.com/johan/world.geo.json/master/countries.geo.json"

	AWSRangesURL    = "https://ip-ranges.amazonaws.com/ip-ranges.json"
	GoogleRangesURL = "https://www.gstatic.com/ipranges/cloud.json"
)
