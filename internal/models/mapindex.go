package models

import "time"

// Map is the tile-server indexing record for one reported
// attribute-timestep-chunk-configuration combination. Extents and the
// source spatial reference are duplicated from the chunk so the map table
// can be queried spatially without joins. Rows are created only during
// archive ingestion, and the identity columns carry a unique index so
// re-ingesting the same archive is a no-op.
type Map struct {
	ID uint `gorm:"primaryKey;autoIncrement"`

	ConfigKey string    `gorm:"size:32;not null;uniqueIndex:idx_map_identity,priority:1"`
	ChunkID   uint      `gorm:"not null;uniqueIndex:idx_map_identity,priority:2"`
	Attribute string    `gorm:"size:1024;not null;uniqueIndex:idx_map_identity,priority:3"`
	Timestamp time.Time `gorm:"not null;uniqueIndex:idx_map_identity,priority:4;index"`

	ModelConfigurationID uint `gorm:"index"`

	// Filename references the per-timestep virtual band file inside the
	// maps directory; the raster values live in the stacked file it points
	// at.
	Filename string `gorm:"size:1024;not null"`
	// FileSRS is the spatial reference of the source file, needed to
	// stitch together outputs from chunks in different UTM zones.
	FileSRS  string `gorm:"size:2048"`
	Datatype string `gorm:"size:64;not null"`

	// Chunk extents in lat/lng and web mercator WKT.
	GeomWKT         string `gorm:"type:text"`
	GeomMercatorWKT string `gorm:"type:text"`

	CreatedAt time.Time

	Chunk              Chunk              `gorm:"foreignKey:ChunkID"`
	ModelConfiguration ModelConfiguration `gorm:"foreignKey:ModelConfigurationID"`
}

// WorkerNode records one worker process watching the queue, refreshed by
// periodic pings. Used as a health signal next to the queue's own
// watcher count.
type WorkerNode struct {
	ID       uint   `gorm:"primaryKey;autoIncrement"`
	UUID     string `gorm:"size:36;uniqueIndex;not null"`
	Hostname string `gorm:"size:255"`

	CreatedAt time.Time
	LastSeen  time.Time `gorm:"index"`
}
