package model

import "time"

// Image is one persisted result URL produced by a completed Generation.
//
// UserID is denormalised from the generation so that listing and deleting
// can filter on a single table without a join.
type Image struct {
	ID           string    `json:"id"            db:"id"`
	GenerationID string    `json:"generation_id" db:"generation_id"`
	UserID       string    `json:"user_id"       db:"user_id"`
	ImageURL     string    `json:"image_url"     db:"image_url"`
	CreatedAt    time.Time `json:"created_at"    db:"created_at"`
}

// ImageDetail is an image joined with the generation that produced it.
// This is the shape returned by the library endpoints.
type ImageDetail struct {
	ID         string            `json:"id"`
	ImageURL   string            `json:"image_url"`
	CreatedAt  time.Time         `json:"created_at"`
	Generation GenerationSummary `json:"generation"`
}

// GenerationSummary is the part of a Generation embedded in ImageDetail.
type GenerationSummary struct {
	ID       string   `json:"id"`
	Prompt   string   `json:"prompt"`
	Settings Settings `json:"settings"`
}
