package geoip

import (
	"encoding/json"
	"io"
	"net/netip"
	"sync"
)

// CloudPrefix is one published cloud provider range.
type CloudPrefix struct {
	Prefix netip.Prefix
	Region string
}

// ParseAWSRanges reads the ip-ranges.json document AWS publishes.
func ParseAWSRanges(r io.Reader) ([]CloudPrefix, error) {
	var doc struct {
		Prefixes []struct {
			IPPrefix string `json:"ip_prefix"`
			Region   string `json:"region"`
		} `json:"prefixes"`
	}
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, err
	}
	var out []CloudPrefix
	for _, p := range doc.Prefixes {
		if pfx, err := netip.ParsePrefix(p.IPPrefix); err == nil {
			out = append(out, CloudPrefix{Prefix: pfx.Masked(), Region: p.Region})
		}
	}
	return out, nil
}

// ParseGoogleRanges reads Google Cloud's cloud.json document. Only IPv4 ranges are kept.
func ParseGoogleRanges(r io.Reader) ([]CloudPrefix, error) {
	var doc struct {
		Prefixes []struct {
			IPv4Prefix string `json:"ipv4Prefix"`
			Scope      string `json:"scope"`
		} `json:"prefixes"`
	}
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, err
	}
	var out []CloudPrefix
	for _, p := range doc.Prefixes {
		if p.IPv4Prefix == "" {
			continue
		}
		if pfx, err := netip.ParsePrefix(p.IPv4Prefix); err == nil {
			out = append(out, CloudPrefix{Prefix: pfx.Masked(), Region: p.Scope})
		}
	}
	return out, nil
}

// CloudRegions maps provider regions to the city hosting them.
var CloudRegions = map[string]Location{
	// AWS
	"us-east-1":      {"Ashburn", "US", 39.0438, -77.4874},
	"us-east-2":      {"Columbus", "US", 39.9612, -82.9988},
	"us-west-1":      {"San Francisco", "US", 37.7749, -122.4194},
	"us-west-2":      {"Portland", "US", 45.5152, -122.6784},
	"af-south-1":     {"Cape Town", "ZA", -33.9249, 18.4241},
	"ap-east-1":      {"Hong Kong", "HK", 22.3193, 114.1694},
	"ap-south-1":     {"Mumbai", "IN", 19.0760, 72.8777},
	"ap-northeast-1": {"Tokyo", "JP", 35.6762, 139.6503},
	"ap-northeast-2": {"Seoul", "KR", 37.5665, 126.9780},
	"ap-northeast-3": {"Osaka", "JP", 34.6937, 135.5023},
	"ap-southeast-1": {"Singapore", "SG", 1.3521, 103.8198},
	"ap-southeast-2": {"Sydney", "AU", -33.8688, 151.2093},
	"ca-central-1":   {"Montreal", "CA", 45.5017, -73.5673},
	"eu-central-1":   {"Frankfurt", "DE", 50.1109, 8.6821},
	"eu-west-1":      {"Dublin", "IE", 53.3498, -6.2603},
	"eu-west-2":      {"London", "GB", 51.5074, -0.1278},
	"eu-west-3":      {"Paris", "FR", 48.8566, 2.3522},
	"eu-south-1":     {"Milan", "IT", 45.4642, 9.1900},
	"eu-north-1":     {"Stockholm", "SE", 59.3293, 18.0686},
	"me-south-1":     {"Manama", "BH", 26.2285, 50.5860},
	"sa-east-1":      {"São Paulo", "BR", -23.5505, -46.6333},

	// Google Cloud
	"asia-east1":              {"Changhua County", "TW", 24.0518, 120.5161},
	"asia-east2":              {"Hong Kong", "HK", 22.3193, 114.1694},
	"asia-northeast1":         {"Tokyo", "JP", 35.6762, 139.6503},
	"asia-northeast2":         {"Osaka", "JP", 34.6937, 135.5023},
	"asia-northeast3":         {"Seoul", "KR", 37.5665, 126.9780},
	"asia-south1":             {"Mumbai", "IN", 19.0760, 72.8777},
	"asia-southeast1":         {"Jurong West", "SG", 1.3404, 103.7090},
	"asia-southeast2":         {"Jakarta", "ID", -6.2088, 106.8456},
	"australia-southeast1":    {"Sydney", "AU", -33.8688, 151.2093},
	"europe-central2":         {"Warsaw", "PL", 52.2297, 21.0122},
	"europe-north1":           {"Hamina", "FI", 60.5693, 27.1878},
	"europe-west1":            {"St. Ghislain", "BE", 50.4490, 3.8189},
	"europe-west2":            {"London", "GB", 51.5074, -0.1278},
	"europe-west3":            {"Frankfurt", "DE", 50.1109, 8.6821},
	"europe-west4":            {"Eemshaven", "NL", 53.4386, 6.8355},
	"europe-west6":            {"Zurich", "CH", 47.3769, 8.5417},
	"northamerica-northeast1": {"Montreal", "CA", 45.5017, -73.5673},
	"southamerica-east1":      {"São Paulo", "BR", -23.5505, -46.6333},
	"us-central1":             {"Council Bluffs", "US", 41.2619, -95.8608},
	"us-east1":                {"Moncks Corner", "US", 33.1960, -80.0131},
	"us-east4":                {"Ashburn", "US", 39.0438, -77.4874},
	"us-west1":                {"The Dalles", "US", 45.5946, -121.1787},
	"us-west2":                {"Los Angeles", "US", 34.0522, -118.2437},
	"us-west3":                {"Salt Lake City", "US", 40.7608, -111.8910},
	"us-west4":                {"Las Vegas", "US", 36.1699, -115.1398},
}

// CloudTrie answers longest-prefix-match lookups over cloud ranges with known regions.
type CloudTrie struct {
	masks [33]map[uint32]Location
	cache sync.Map
}

func NewCloudTrie(prefixes []CloudPrefix) *CloudTrie {
	ct := &CloudTrie{}
	for i := range ct.masks {
		ct.masks[i] = make(map[uint32]Location)
	}
	for _, p := range prefixes {
		if !p.Prefix.Addr().Is4() {
			continue
		}
		loc, ok := CloudRegions[p.Region]
		if !ok {
			continue
		}
		ct.masks[p.Prefix.Bits()][addrUint32(p.Prefix.Addr())] = loc
	}
	return ct
}

// Len is the number of ranges held.
func (ct *CloudTrie) Len() int {
	n := 0
	for _, m := range ct.masks {
		n += len(m)
	}
	return n
}

func (ct *CloudTrie) Lookup(ip netip.Addr) (Location, bool) {
	ip = ip.Unmap()
	if !ip.Is4() {
		return Location{}, false
	}
	target := addrUint32(ip)
	if v, ok := ct.cache.Load(target); ok {
		loc, found := v.(Location)
		return loc, found
	}

	for maskLen := 32; maskLen >= 0; maskLen-- {
		var mask uint32
		if maskLen > 0 {
			mask = uint32(0xFFFFFFFF) << (32 - maskLen)
		}
		if loc, ok := ct.masks[maskLen][target&mask]; ok {
			ct.cache.Store(target, loc)
			return loc, true
		}
	}
	ct.cache.Store(target, false)
	return Location{}, false
}

func addrUint32(a netip.Addr) uint32 {
	b := a.As4()
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
