package models

import "time"

// SimModel is a registered simulation model: a user-supplied script plus
// its declared parameter, time, and reporting sections. The declared
// sections are stored as JSON text and re-read every time the model is
// configured, so a script edit (which bumps Version) changes every
// configuration key derived from it.
type SimModel struct {
	ID                 uint   `gorm:"primaryKey;autoIncrement"`
	Name               string `gorm:"size:512;uniqueIndex;not null"`
	Abstract           string `gorm:"type:text"`
	Version            int    `gorm:"default:1"`
	DiscretizationName string `gorm:"size:512;not null"`
	MaxChunks          int    `gorm:"default:1"`

	// ParametersJSON holds the declared default parameters (name -> value).
	ParametersJSON string `gorm:"type:text"`
	// TimeJSON holds {start, timesteps, timesteplength, startroundoff,
	// startoffset}.
	TimeJSON string `gorm:"type:text"`
	// ReportingJSON holds the reporting whitelist: attribute ->
	// {datatype, nodata, unit}.
	ReportingJSON string `gorm:"type:text"`

	Script string `gorm:"type:text"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ModelConfiguration is a content-addressed record of one resolved
// parameter set. Key is the hash over the sorted parameter string; two
// runs with identical resolved parameters always collapse onto the same
// row, which is what lets repeated requests reuse prior results.
type ModelConfiguration struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	Key        string `gorm:"column:config_key;size:32;uniqueIndex;not null"`
	Identifier string `gorm:"type:text;not null"`
	// ParametersJSON is the resolved parameter set, reserved keys included.
	ParametersJSON string `gorm:"type:text"`
	SimModelID     uint   `gorm:"index;not null"`

	SimModel SimModel `gorm:"foreignKey:SimModelID"`

	CreatedAt time.Time
}
