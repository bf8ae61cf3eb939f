package models

import "time"

// Discretization is a named, immutable partitioning of a region into chunks.
// It is created once from an uploaded polygon set and never mutated or
// deleted afterwards; historical jobs keep referring to it.
type Discretization struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	Name        string `gorm:"size:512;uniqueIndex;not null"`
	Description string `gorm:"size:1024"`
	CellSize    int    `gorm:"not null;default:100"`
	NumChunks   int    `gorm:"not null"`

	// CoverageWKT is a simplified union of the chunk envelopes (WGS84
	// multipolygon WKT), used for quick extent display without loading
	// every chunk geometry.
	CoverageWKT string `gorm:"type:text"`
	// ExtentWKT is the envelope of the coverage (WGS84 polygon WKT).
	ExtentWKT string `gorm:"type:text"`

	CreatedAt time.Time

	Chunks []Chunk `gorm:"foreignKey:DiscretizationID"`
}

// Chunk is one partition unit of a discretization: an immutable WGS84
// polygon with a stable identifier. The projected grid (UTM zone, rows,
// cols, geotransform, mask) is derived on demand, never stored.
type Chunk struct {
	ID               uint   `gorm:"primaryKey;autoIncrement"`
	UUID             string `gorm:"size:36;index;not null"`
	DiscretizationID uint   `gorm:"index;not null"`
	GeomWKT          string `gorm:"type:text;not null"`

	// Lat/lng envelope columns duplicated from the geometry so chunk
	// selection can prefilter by bounding box in plain SQL.
	MinLng float64 `gorm:"index"`
	MinLat float64 `gorm:"index"`
	MaxLng float64 `gorm:"index"`
	MaxLat float64 `gorm:"index"`

	Discretization Discretization `gorm:"foreignKey:DiscretizationID"`
	JobChunks      []JobChunk     `gorm:"foreignKey:ChunkID"`
}
