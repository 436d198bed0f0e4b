// Package geoip resolves IP addresses to named endpoints on the globe.
package geoip

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"sync"

	"github.com/oschwald/maxminddb-golang"
	"go.uber.org/zap"

	"github.com/sudorandom/traffic-globe/pkg/sources"
	"github.com/sudorandom/traffic-globe/pkg/trafficengine"
	"github.com/sudorandom/traffic-globe/pkg/utils"
)

var (
	ErrInvalidIP = errors.New("invalid ip address")
	ErrNotFound  = errors.New("ip location not found")
)

const (
	maxCacheEntries = 100000
	cachePurge      = 20000
)

type cityRecord struct {
	City struct {
		Names map[string]string `maxminddb:"names"`
	} `maxminddb:"city"`
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
	Location struct {
		Latitude  float64 `maxminddb:"latitude"`
		Longitude float64 `maxminddb:"longitude"`
	} `maxminddb:"location"`
}

// Resolver looks IPs up in the cache, then the cloud ranges, then a MaxMind city database.
type Resolver struct {
	cloud  *CloudTrie
	mmdb   *maxminddb.Reader
	logger *zap.Logger

	mu    sync.Mutex
	cache map[netip.Addr]Location
}

func NewResolver(cloud *CloudTrie, mmdb *maxminddb.Reader, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		cloud:  cloud,
		mmdb:   mmdb,
		logger: logger.Named("geoip"),
		cache:  make(map[netip.Addr]Location),
	}
}

// OpenMMDB opens a MaxMind city database such as GeoLite2-City.mmdb.
func OpenMMDB(path string) (*maxminddb.Reader, error) {
	db, err := maxminddb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return db, nil
}

// LoadCloudTrie fetches the AWS and Google range documents. A provider that fails to load is
// logged and skipped.
func LoadCloudTrie(ctx context.Context, f *utils.Fetcher, logger *zap.Logger) *CloudTrie {
	if logger == nil {
		logger = zap.NewNop()
	}
	var all []CloudPrefix
	for _, p := range []struct {
		name  string
		url   string
		parse func(io.Reader) ([]CloudPrefix, error)
	}{
		{"aws", sources.AWSRangesURL, ParseAWSRanges},
		{"google", sources.GoogleRangesURL, ParseGoogleRanges},
	} {
		rc, err := f.Open(ctx, p.url)
		if err != nil {
			logger.Warn("loading cloud ranges", zap.String("provider", p.name), zap.Error(err))
			continue
		}
		prefixes, err := p.parse(rc)
		_ = rc.Close()
		if err != nil {
			logger.Warn("parsing cloud ranges", zap.String("provider", p.name), zap.Error(err))
			continue
		}
		all = append(all, prefixes...)
	}
	ct := NewCloudTrie(all)
	logger.Info("loaded cloud ranges", zap.Int("prefixes", ct.Len()))
	return ct
}

// Lookup resolves ip to a location.
func (r *Resolver) Lookup(ip string) (Location, error) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return Location{}, fmt.Errorf("%w: %q", ErrInvalidIP, ip)
	}
	addr = addr.Unmap()

	r.mu.Lock()
	if loc, ok := r.cache[addr]; ok {
		r.mu.Unlock()
		return loc, nil
	}
	r.mu.Unlock()

	loc, ok := Location{}, false
	if r.cloud != nil {
		loc, ok = r.cloud.Lookup(addr)
	}
	if !ok && r.mmdb != nil {
		loc, ok, err = r.lookupMMDB(addr)
		if err != nil {
			return Location{}, err
		}
	}
	if !ok {
		return Location{}, fmt.Errorf("%w: %s", ErrNotFound, addr)
	}

	r.mu.Lock()
	if len(r.cache) >= maxCacheEntries {
		count := 0
		for k := range r.cache {
			delete(r.cache, k)
			count++
			if count >= cachePurge {
				break
			}
		}
	}
	r.cache[addr] = loc
	r.mu.Unlock()
	return loc, nil
}

// Resolve returns an endpoint named "City, Country" for ip.
func (r *Resolver) Resolve(ip string) (trafficengine.Endpoint, error) {
	loc, err := r.Lookup(ip)
	if err != nil {
		return trafficengine.Endpoint{}, err
	}
	return trafficengine.Endpoint{Name: loc.Name(), Latitude: loc.Lat, Longitude: loc.Lon}, nil
}

func (r *Resolver) lookupMMDB(addr netip.Addr) (Location, bool, error) {
	var rec cityRecord
	if err := r.mmdb.Lookup(net.IP(addr.AsSlice()), &rec); err != nil {
		return Location{}, false, fmt.Errorf("mmdb lookup %s: %w", addr, err)
	}
	if rec.Location.Latitude == 0 && rec.Location.Longitude == 0 {
		return Location{}, false, nil
	}
	return Location{
		City:    rec.City.Names["en"],
		Country: rec.Country.ISOCode,
		Lat:     rec.Location.Latitude,
		Lon:     rec.Location.Longitude,
	}, true, nil
}

func (r *Resolver) CacheLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cache)
}
