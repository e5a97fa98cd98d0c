// Package geocode resolves coordinates to (country, subdivision) pairs
// entirely offline, by nearest populated place over a GeoNames-derived
// dataset. Results are normalized for use in MQTT topics.
package geocode

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog"
)

// place is one dataset row.
type place struct {
	lat, lon    float64
	country     string
	subdivision string
}

// cell is a 1-degree grid bucket.
type cell struct{ latIdx, lonIdx int }

// Result is a normalized lookup result.
type Result struct {
	Country     string
	Subdivision string
}

// Offline is a grid-indexed nearest-place geocoder. Lookups are memoized
// in a TTL cache keyed by coordinates rounded to 3 decimals (~100 m).
type Offline struct {
	grid  map[cell][]place
	cache *ttlcache.Cache[string, Result]
	log   zerolog.Logger
}

// searchRadiusCells bounds the ring search around the query cell. Two
// rings ≈ 2 degrees, beyond which a "nearest" answer is meaningless.
const searchRadiusCells = 2

// Load reads a tab-separated dataset with columns
// name, latitude, longitude, country_code, subdivision. Lines starting
// with '#' and blank lines are skipped.
func Load(path string, log zerolog.Logger) (*Offline, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geocode dataset: %w", err)
	}
	defer f.Close()

	g := &Offline{
		grid: make(map[cell][]place),
		cache: ttlcache.New(
			ttlcache.WithTTL[string, Result](12 * time.Hour),
		),
		log: log.With().Str("component", "geocode").Logger(),
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Split(text, "\t")
		if len(fields) < 5 {
			g.log.Warn().Int("line", line).Msg("short dataset row skipped")
			continue
		}
		lat, err1 := strconv.ParseFloat(fields[1], 64)
		lon, err2 := strconv.ParseFloat(fields[2], 64)
		if err1 != nil || err2 != nil {
			g.log.Warn().Int("line", line).Msg("unparseable coordinates skipped")
			continue
		}
		p := place{lat: lat, lon: lon, country: fields[3], subdivision: fields[4]}
		c := cellFor(lat, lon)
		g.grid[c] = append(g.grid[c], p)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read geocode dataset: %w", err)
	}

	go g.cache.Start()
	g.log.Info().Int("cells", len(g.grid)).Msg("geocode dataset loaded")
	return g, nil
}

// Lookup resolves coordinates to normalized country and subdivision codes.
// ok is false when no place lies within the search radius.
func (g *Offline) Lookup(lat, lon float64) (country, subdivision string, ok bool) {
	key := fmt.Sprintf("%.3f,%.3f", lat, lon)
	if item := g.cache.Get(key); item != nil {
		r := item.Value()
		return r.Country, r.Subdivision, true
	}

	nearest, found := g.nearest(lat, lon)
	if !found {
		return "", "", false
	}

	r := Result{
		Country:     strings.ToLower(nearest.country),
		Subdivision: SanitizeSubdivision(nearest.subdivision),
	}
	g.cache.Set(key, r, ttlcache.DefaultTTL)
	return r.Country, r.Subdivision, true
}

// Close stops the cache janitor.
func (g *Offline) Close() {
	g.cache.Stop()
}

func (g *Offline) nearest(lat, lon float64) (place, bool) {
	center := cellFor(lat, lon)
	var best place
	bestDist := math.MaxFloat64
	found := false

	for dLat := -searchRadiusCells; dLat <= searchRadiusCells; dLat++ {
		for dLon := -searchRadiusCells; dLon <= searchRadiusCells; dLon++ {
			c := cell{center.latIdx + dLat, center.lonIdx + dLon}
			for _, p := range g.grid[c] {
				d := approxDistSq(lat, lon, p.lat, p.lon)
				if d < bestDist {
					bestDist = d
					best = p
					found = true
				}
			}
		}
	}
	return best, found
}

func cellFor(lat, lon float64) cell {
	return cell{int(math.Floor(lat)), int(math.Floor(lon))}
}

// approxDistSq is an equirectangular squared distance, good enough to rank
// candidates within a couple of degrees.
func approxDistSq(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := lat1 - lat2
	dLon := (lon1 - lon2) * math.Cos(lat1*math.Pi/180)
	return dLat*dLat + dLon*dLon
}

// SanitizeSubdivision normalizes a subdivision name for topic segments:
// lowercased, spaces become dashes, apostrophes are stripped.
func SanitizeSubdivision(name string) string {
	s := strings.ToLower(name)
	s = strings.ReplaceAll(s, " ", "-")
	s = strings.ReplaceAll(s, "'", "")
	return s
}
