package domain

import (
	"errors"
	"fmt"
	"time"
)

// SystemInfo is the system_information document of a GBFS feed.
type SystemInfo struct {
	SystemID    string `json:"system_id"`
	Language    string `json:"language"`
	Name        string `json:"name"`
	Operator    string `json:"operator"`
	Timezone    string `json:"timezone"`
	PhoneNumber string `json:"phone_number,omitempty"`
	Email       string `json:"email,omitempty"`
}

// StationInfo is one entry of the station_information document.
type StationInfo struct {
	StationID        string  `json:"station_id"`
	Name             string  `json:"name"`
	Address          string  `json:"address"`
	CrossStreet      string  `json:"cross_street,omitempty"`
	Lat              float64 `json:"lat"`
	Lon              float64 `json:"lon"`
	IsVirtualStation bool    `json:"is_virtual_station"`
	Capacity         int     `json:"capacity"`
}

// Validate rejects station records that cannot be reconciled.
func (s StationInfo) Validate() error {
	switch {
	case s.StationID == "":
		return errors.New("missing station_id")
	case s.Lat < -90 || s.Lat > 90 || s.Lon < -180 || s.Lon > 180:
		return fmt.Errorf("coordinates out of range: %v,%v", s.Lat, s.Lon)
	case s.Capacity < 0:
		return fmt.Errorf("negative capacity %d", s.Capacity)
	}
	return nil
}

// StationStatus is one entry of the station_status document.
type StationStatus struct {
	StationID         string `json:"station_id"`
	NumBikesAvailable int    `json:"num_bikes_available"`
	NumDocksAvailable int    `json:"num_docks_available"`
	IsInstalled       bool   `json:"is_installed"`
	IsRenting         bool   `json:"is_renting"`
	IsReturning       bool   `json:"is_returning"`
	LastReported      int64  `json:"last_reported"`
}

// Validate rejects status records that cannot become a snapshot.
func (s StationStatus) Validate() error {
	if s.StationID == "" {
		return errors.New("missing station_id")
	}
	if s.NumBikesAvailable < 0 || s.NumDocksAvailable < 0 {
		return fmt.Errorf("negative availability: bikes=%d docks=%d", s.NumBikesAvailable, s.NumDocksAvailable)
	}
	return nil
}

// Station is a persisted docking station. ID is assigned by the store and
// never changes; ExternalID is the feed's stable identifier.
type Station struct {
	ID         int64     `json:"id"`
	ExternalID string    `json:"external_station_id"`
	Name       string    `json:"name"`
	Address    string    `json:"address"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	TotalDocks int       `json:"total_docks"`
	IsVirtual  bool      `json:"is_virtual"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// StationRecord is the mutable field set written on create and update.
type StationRecord struct {
	ExternalID string
	Name       string
	Address    string
	Latitude   float64
	Longitude  float64
	TotalDocks int
	IsVirtual  bool
	IsActive   bool
}

// RecordFromInfo maps a feed station to a store record. Feed capacity becomes
// dock capacity; virtual stations report their virtual capacity the same way.
func RecordFromInfo(info StationInfo) StationRecord {
	return StationRecord{
		ExternalID: info.StationID,
		Name:       info.Name,
		Address:    info.Address,
		Latitude:   info.Lat,
		Longitude:  info.Lon,
		TotalDocks: info.Capacity,
		IsVirtual:  info.IsVirtualStation,
		IsActive:   true,
	}
}

// Validate checks the record against the store's constraints.
func (r StationRecord) Validate() error {
	switch {
	case r.ExternalID == "":
		return errors.New("missing external station id")
	case r.Name == "":
		return fmt.Errorf("station %s: missing name", r.ExternalID)
	case r.Latitude < -90 || r.Latitude > 90:
		return fmt.Errorf("station %s: latitude %v out of range", r.ExternalID, r.Latitude)
	case r.Longitude < -180 || r.Longitude > 180:
		return fmt.Errorf("station %s: longitude %v out of range", r.ExternalID, r.Longitude)
	case r.TotalDocks < 0:
		return fmt.Errorf("station %s: negative capacity %d", r.ExternalID, r.TotalDocks)
	}
	return nil
}

// Differs reports whether applying r to s would change any mutable field.
func (r StationRecord) Differs(s Station) bool {
	return r.Name != s.Name ||
		r.Address != s.Address ||
		r.Latitude != s.Latitude ||
		r.Longitude != s.Longitude ||
		r.TotalDocks != s.TotalDocks ||
		r.IsVirtual != s.IsVirtual ||
		r.IsActive != s.IsActive
}
