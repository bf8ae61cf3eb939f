// Package catalog manages discretizations: named, immutable partitionings
// of a region into chunk polygons, queried by spatial intersection.
package catalog

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"math/rand"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/mvreeden/gridsim/internal/geo"
	"github.com/mvreeden/gridsim/internal/models"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"gorm.io/gorm"
)

var nonWord = regexp.MustCompile(`\W+`)

// NormalizeName lowercases a discretization name, collapses non-word
// characters to underscores, and appends the cell size. An empty name
// gets a random one so ingestion never fails on naming alone.
func NormalizeName(name string, cellSize int) string {
	name = strings.ToLower(nonWord.ReplaceAllString(name, " "))
	name = strings.Join(strings.Fields(name), "_")
	if name == "" {
		sum := md5.Sum([]byte(fmt.Sprintf("%d", rand.Int63())))
		name = "unnamed_" + hex.EncodeToString(sum[:])[:6]
	}
	return fmt.Sprintf("%s_%dm", name, cellSize)
}

// CreateDiscretization ingests a polygon set as a new named
// discretization with one chunk per polygon. One-time operation: the
// result is immutable, and a name collision is an error rather than an
// update.
func CreateDiscretization(db *gorm.DB, name string, polygons []orb.Polygon, cellSize int) (*models.Discretization, error) {
	if cellSize <= 0 {
		return nil, fmt.Errorf("catalog: cell size must be positive, got %d", cellSize)
	}
	if len(polygons) == 0 {
		return nil, fmt.Errorf("catalog: polygon set is empty")
	}

	fullName := NormalizeName(name, cellSize)

	var count int64
	if err := db.Model(&models.Discretization{}).Where("name = ?", fullName).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("catalog: check name %q: %w", fullName, err)
	}
	if count > 0 {
		return nil, fmt.Errorf("catalog: discretization %q already exists", fullName)
	}

	disc := models.Discretization{
		Name:        fullName,
		CellSize:    cellSize,
		NumChunks:   len(polygons),
		CoverageWKT: wkt.MarshalString(coverage(polygons)),
		ExtentWKT:   wkt.MarshalString(geo.BoundPolygon(overallBound(polygons))),
	}

	for _, p := range polygons {
		bound := p.Bound()
		disc.Chunks = append(disc.Chunks, models.Chunk{
			UUID:    uuid.NewString(),
			GeomWKT: wkt.MarshalString(p),
			MinLng:  bound.Min[0],
			MinLat:  bound.Min[1],
			MaxLng:  bound.Max[0],
			MaxLat:  bound.Max[1],
		})
	}

	if err := db.Create(&disc).Error; err != nil {
		return nil, fmt.Errorf("catalog: create discretization %q: %w", fullName, err)
	}
	return &disc, nil
}

// FindChunks returns up to limit chunks of the named discretization that
// intersect the area polygon, excluding the given chunk ids, ordered by
// ascending distance from the area centroid to the chunk centroid.
// Nearest-first ordering keeps partial results geographically coherent.
//
// The envelope columns prefilter candidates in SQL; the exact
// intersection test and the distance ordering run on the parsed
// geometries.
func FindChunks(db *gorm.DB, discretizationName string, area orb.Polygon, excludeIDs []uint, limit int) ([]models.Chunk, error) {
	var disc models.Discretization
	if err := db.Where("name = ?", discretizationName).First(&disc).Error; err != nil {
		return nil, fmt.Errorf("catalog: discretization %q: %w", discretizationName, err)
	}

	bound := area.Bound()
	q := db.Where("discretization_id = ?", disc.ID).
		Where("min_lng <= ? AND max_lng >= ? AND min_lat <= ? AND max_lat >= ?",
			bound.Max[0], bound.Min[0], bound.Max[1], bound.Min[1])
	if len(excludeIDs) > 0 {
		q = q.Where("id NOT IN ?", excludeIDs)
	}

	var candidates []models.Chunk
	if err := q.Find(&candidates).Error; err != nil {
		return nil, fmt.Errorf("catalog: query chunks of %q: %w", discretizationName, err)
	}

	type scored struct {
		chunk models.Chunk
		dist  float64
	}
	var hits []scored
	for _, ch := range candidates {
		polygon, err := wkt.UnmarshalPolygon(ch.GeomWKT)
		if err != nil {
			return nil, fmt.Errorf("catalog: chunk %s has unparseable geometry: %w", ch.UUID, err)
		}
		if !geo.PolygonsIntersect(polygon, area) {
			continue
		}
		hits = append(hits, scored{chunk: ch, dist: geo.CentroidDistance(area, polygon)})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].dist != hits[j].dist {
			return hits[i].dist < hits[j].dist
		}
		return hits[i].chunk.ID < hits[j].chunk.ID
	})

	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]models.Chunk, len(hits))
	for i, h := range hits {
		out[i] = h.chunk
	}
	return out, nil
}

// coverage builds the simplified display coverage: chunk envelopes merged
// into their combined boxes wherever they overlap.
func coverage(polygons []orb.Polygon) orb.MultiPolygon {
	boxes := make([]orb.Bound, len(polygons))
	for i, p := range polygons {
		boxes[i] = p.Bound()
	}

	merged := true
	for merged {
		merged = false
		for i := 0; i < len(boxes); i++ {
			for j := i + 1; j < len(boxes); j++ {
				if boxes[i].Intersects(boxes[j]) {
					boxes[i] = boxes[i].Union(boxes[j])
					boxes = append(boxes[:j], boxes[j+1:]...)
					merged = true
					j--
				}
			}
		}
	}

	out := make(orb.MultiPolygon, len(boxes))
	for i, b := range boxes {
		out[i] = geo.BoundPolygon(b)
	}
	return out
}

func overallBound(polygons []orb.Polygon) orb.Bound {
	bound := polygons[0].Bound()
	for _, p := range polygons[1:] {
		bound = bound.Union(p.Bound())
	}
	return bound
}
