package model

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// MockAddress is the street address every mock status reports.
const MockAddress = "301 Front St W, Toronto, ON M5V 2T6"

// MockAccuracy is the location accuracy, in meters, of a mock status.
const MockAccuracy = 10

// ErrInvalidStatus is returned by ValidateStatus.
var ErrInvalidStatus = errors.New("invalid status")

// Status is what one peer shares with its friends: recent messages and
// its last known location.
type Status struct {
	// Messages are the peer's recent messages, newest first.
	Messages []Message `json:"messages"`

	// Location is the peer's last known location.
	Location Location `json:"location"`
}

// Message is a short text posted by a peer.
type Message struct {
	// Timestamp is when the message was posted.
	Timestamp time.Time `json:"timestamp"`

	// Content is the message text. It may be empty.
	Content string `json:"content"`

	// Attachment names a downloadable resource, if any.
	Attachment string `json:"attachment,omitempty"`
}

// Location is a position fix with a human readable address.
type Location struct {
	// Timestamp is when the position was taken.
	Timestamp time.Time `json:"timestamp"`

	// Latitude in degrees.
	Latitude float64 `json:"latitude"`

	// Longitude in degrees.
	Longitude float64 `json:"longitude"`

	// Accuracy is the radius of uncertainty in meters.
	Accuracy int `json:"accuracy"`

	// StreetAddress is a free text address for the position.
	StreetAddress string `json:"street_address"`
}

// NewMockStatus returns the status a mock request handler serves: one empty
// message and a location at a random point with latitude and longitude in
// [-50, 50). The timestamp is truncated to milliseconds so it survives a
// JSON round trip unchanged.
func NewMockStatus(now time.Time, r *rand.Rand) Status {
	timestamp := now.UTC().Truncate(time.Millisecond)
	return Status{
		Messages: []Message{
			{Timestamp: timestamp},
		},
		Location: Location{
			Timestamp:     timestamp,
			Latitude:      r.Float64()*100.0 - 50.0,
			Longitude:     r.Float64()*100.0 - 50.0,
			Accuracy:      MockAccuracy,
			StreetAddress: MockAddress,
		},
	}
}

// ValidateStatus checks a status received from a peer before it is used.
func ValidateStatus(s *Status) error {
	if s == nil {
		return fmt.Errorf("%w: missing", ErrInvalidStatus)
	}
	if s.Messages == nil {
		return fmt.Errorf("%w: missing messages", ErrInvalidStatus)
	}
	for i, m := range s.Messages {
		if m.Timestamp.IsZero() {
			return fmt.Errorf("%w: message %d has no timestamp", ErrInvalidStatus, i)
		}
	}

	loc := s.Location
	if loc.Timestamp.IsZero() {
		return fmt.Errorf("%w: location has no timestamp", ErrInvalidStatus)
	}
	if loc.Latitude < -90 || loc.Latitude > 90 {
		return fmt.Errorf("%w: latitude %v out of range", ErrInvalidStatus, loc.Latitude)
	}
	if loc.Longitude < -180 || loc.Longitude > 180 {
		return fmt.Errorf("%w: longitude %v out of range", ErrInvalidStatus, loc.Longitude)
	}
	if loc.Accuracy < 0 {
		return fmt.Errorf("%w: negative accuracy", ErrInvalidStatus)
	}
	return nil
}
