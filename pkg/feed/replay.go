package feed

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
)

var ErrBadRecord = errors.New("bad replay record")

// Package is one captured packet as the sensor reports it. Coordinates are optional; when they
// are missing the receiver resolves them from the IP.
type Package struct {
	IP         string   `json:"ip"`
	Latitude   *float64 `json:"latitude,omitempty"`
	Longitude  *float64 `json:"longitude,omitempty"`
	Timestamp  float64  `json:"timestamp"`
	Suspicious bool     `json:"suspicious"`
}

// Time converts the unix-seconds timestamp.
func (p Package) Time() time.Time {
	sec, frac := math.Modf(p.Timestamp)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

// HasCoordinates reports whether both coordinates are present.
func (p Package) HasCoordinates() bool {
	return p.Latitude != nil && p.Longitude != nil
}

var replayColumns = []string{"ip address", "latitude", "longitude", "timestamp", "suspicious"}

// ParseCSV reads a capture with the header `ip address,Latitude,Longitude,Timestamp,suspicious`
// (any column order, case-insensitive) and returns the packages sorted by timestamp.
func ParseCSV(r io.Reader) ([]Package, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range replayColumns {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("%w: missing column %q", ErrBadRecord, col)
		}
	}

	var out []Package
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		p, err := parseRecord(rec, idx)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, p)
	}

	slices.SortStableFunc(out, func(a, b Package) int {
		switch {
		case a.Timestamp < b.Timestamp:
			return -1
		case a.Timestamp > b.Timestamp:
			return 1
		}
		return 0
	})
	return out, nil
}

func parseRecord(rec []string, idx map[string]int) (Package, error) {
	field := func(name string) string { return strings.TrimSpace(rec[idx[name]]) }

	p := Package{IP: field("ip address")}
	if p.IP == "" {
		return p, fmt.Errorf("%w: empty ip", ErrBadRecord)
	}
	var err error
	if p.Latitude, err = optionalFloat(field("latitude")); err != nil {
		return p, fmt.Errorf("%w: latitude: %w", ErrBadRecord, err)
	}
	if p.Longitude, err = optionalFloat(field("longitude")); err != nil {
		return p, fmt.Errorf("%w: longitude: %w", ErrBadRecord, err)
	}
	if p.Timestamp, err = strconv.ParseFloat(field("timestamp"), 64); err != nil {
		return p, fmt.Errorf("%w: timestamp: %w", ErrBadRecord, err)
	}
	if p.Suspicious, err = parseFlag(field("suspicious")); err != nil {
		return p, fmt.Errorf("%w: suspicious: %w", ErrBadRecord, err)
	}
	return p, nil
}

func optionalFloat(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func parseFlag(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "", "0", "false", "no":
		return false, nil
	case "1", "true", "yes":
		return true, nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f != 0, nil
	}
	return false, fmt.Errorf("unrecognised flag %q", s)
}

// Summary describes a capture.
type Summary struct {
	Total      int
	Suspicious int
	First      time.Time
	Last       time.Time
}

// Summarize expects packages sorted by timestamp, as ParseCSV returns them.
func Summarize(pkgs []Package) Summary {
	s := Summary{Total: len(pkgs)}
	for _, p := range pkgs {
		if p.Suspicious {
			s.Suspicious++
		}
	}
	if len(pkgs) > 0 {
		s.First = pkgs[0].Time()
		s.Last = pkgs[len(pkgs)-1].Time()
	}
	return s
}
