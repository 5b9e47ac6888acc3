package models

import (
	"time"

	"github.com/google/uuid"
)

type MediaType string

const (
	MediaTypePhoto MediaType = "photo"
	MediaTypeVideo MediaType = "video"
)

// Photo sub-types required for a complete inspection.
const (
	PhotoFront     = "front"
	PhotoRear      = "rear"
	PhotoLeft      = "left"
	PhotoRight     = "right"
	PhotoInterior  = "interior"
	PhotoEngineBay = "engineBay"
)

// RequiredPhotoTypes lists the photo sub-types in display order.
var RequiredPhotoTypes = []string{
	PhotoFront, PhotoRear, PhotoLeft, PhotoRight, PhotoInterior, PhotoEngineBay,
}

// IsRequiredPhotoType reports whether t is one of RequiredPhotoTypes.
func IsRequiredPhotoType(t string) bool {
	for _, r := range RequiredPhotoTypes {
		if r == t {
			return true
		}
	}
	return false
}

// Media is a photo or video attached to a car. IsUploaded stays false while a
// storage slot is reserved but the bytes have not been confirmed.
type Media struct {
	ID          uuid.UUID `db:"id"           json:"id"`
	CarID       uuid.UUID `db:"car_id"       json:"car_id"`
	Type        MediaType `db:"type"         json:"type"`
	PhotoType   *string   `db:"photo_type"   json:"photo_type,omitempty"`
	FileName    string    `db:"file_name"    json:"file_name"`
	StorageKey  string    `db:"storage_key"  json:"storage_key"`
	StorageURL  string    `db:"storage_url"  json:"storage_url"`
	ContentType string    `db:"content_type" json:"content_type"`
	SizeBytes   int64     `db:"size_bytes"   json:"size_bytes"`
	IsUploaded  bool      `db:"is_uploaded"  json:"is_uploaded"`
	CreatedAt   time.Time `db:"created_at"   json:"created_at"`
}
