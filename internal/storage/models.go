package storage

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Building is a campus building. Reference data: seeded once, never mutated
// by the query pipeline.
type Building struct {
	ID          int64   `db:"id" json:"id"`
	Name        string  `db:"name" json:"name"`
	Aliases     string  `db:"aliases" json:"aliases"` // comma-delimited synonyms
	Latitude    float64 `db:"latitude" json:"latitude"`
	Longitude   float64 `db:"longitude" json:"longitude"`
	Address     string  `db:"address" json:"address"`
	Description string  `db:"description" json:"description"`
	Hours       Hours   `db:"building_hours" json:"building_hours"`
	ImageURL    string  `db:"image_url" json:"image_url"`
	Code        string  `db:"building_code" json:"building_code"`
}

// POI is a point of interest inside a building.
type POI struct {
	ID          int64   `db:"id" json:"id"`
	Name        string  `db:"name" json:"name"`
	BuildingID  int64   `db:"building_id" json:"building_id"`
	Floor       string  `db:"floor" json:"floor"`
	RoomNumber  *string `db:"room_number" json:"room_number"`
	Category    string  `db:"poi_type" json:"poi_type"`
	Description string  `db:"description" json:"description"`
	Hours       Hours   `db:"hours" json:"hours"`
}

// Route is a precomputed single-hop walk between two buildings. Stored with
// a direction but answered for both orderings.
type Route struct {
	ID              int64     `db:"id" json:"id"`
	FromBuildingID  int64     `db:"from_building_id" json:"from_building_id"`
	ToBuildingID    int64     `db:"to_building_id" json:"to_building_id"`
	DistanceMeters  int       `db:"distance_meters" json:"distance_meters"`
	WalkTimeMinutes int       `db:"walk_time_minutes" json:"walk_time_minutes"`
	Description     string    `db:"route_description" json:"route_description"`
	Waypoints       Waypoints `db:"waypoints" json:"waypoints"`
}

// Hours maps a day range ("mon-fri") to an opening window
// ("7:00 AM - 11:00 PM") or "Closed". Stored as a JSON object in a TEXT
// column; a NULL column scans to a nil map.
type Hours map[string]string

// Scan implements sql.Scanner.
func (h *Hours) Scan(src any) error {
	raw, err := textBytes(src)
	if err != nil {
		return fmt.Errorf("scanning hours: %w", err)
	}
	if len(raw) == 0 {
		*h = nil
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("decoding hours: %w", err)
	}
	*h = m
	return nil
}

// Value implements driver.Valuer.
func (h Hours) Value() (driver.Value, error) {
	if h == nil {
		return nil, nil
	}
	b, err := json.Marshal(map[string]string(h))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Waypoints is the ordered [lat, lon] polyline of a route.
type Waypoints [][2]float64

// Scan implements sql.Scanner.
func (w *Waypoints) Scan(src any) error {
	raw, err := textBytes(src)
	if err != nil {
		return fmt.Errorf("scanning waypoints: %w", err)
	}
	if len(raw) == 0 {
		*w = nil
		return nil
	}
	var pts [][2]float64
	if err := json.Unmarshal(raw, &pts); err != nil {
		return fmt.Errorf("decoding waypoints: %w", err)
	}
	*w = pts
	return nil
}

// Value implements driver.Valuer.
func (w Waypoints) Value() (driver.Value, error) {
	if w == nil {
		return nil, nil
	}
	b, err := json.Marshal([][2]float64(w))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func textBytes(src any) ([]byte, error) {
	switch v := src.(type) {
	case nil:
		return nil, nil
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		return nil, fmt.Errorf("unsupported type %T", src)
	}
}
