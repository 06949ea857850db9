package license

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status values a Status Document may report
const (
	StatusReady     = "ready"
	StatusActive    = "active"
	StatusRevoked   = "revoked"
	StatusReturned  = "returned"
	StatusCancelled = "cancelled"
	StatusExpired   = "expired"
)

// Event types recorded in a Status Document
const (
	EventRegister = "register"
	EventRenew    = "renew"
	EventReturn   = "return"
	EventRevoke   = "revoke"
	EventCancel   = "cancel"
)

// StatusEvent is a lifecycle event recorded by the status server
type StatusEvent struct {
	Type      string    `json:"type"`
	Name      string    `json:"name"`
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

// statusUpdated carries the two modification timestamps of a status document
type statusUpdated struct {
	License *time.Time `json:"license,omitempty"`
	Status  *time.Time `json:"status,omitempty"`
}

// PotentialRights describes rights the license could be extended to
type PotentialRights struct {
	End *time.Time `json:"end,omitempty"`
}

// StatusDocument is a parsed License Status Document
type StatusDocument struct {
	ID              string           `json:"id"`
	Status          string           `json:"status"`
	Message         string           `json:"message"`
	Updated         statusUpdated    `json:"updated"`
	Links           []Link           `json:"links"`
	PotentialRights *PotentialRights `json:"potential_rights,omitempty"`
	EventList       []StatusEvent    `json:"events"`
}

// ParseStatus parses and minimally validates a Status Document
func ParseStatus(data []byte) (*StatusDocument, error) {
	var doc StatusDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("malformed status document: %w", err)
	}

	if doc.ID == "" {
		return nil, fmt.Errorf("status document has no id")
	}
	switch doc.Status {
	case StatusReady, StatusActive, StatusRevoked, StatusReturned, StatusCancelled, StatusExpired:
	case "":
		return nil, fmt.Errorf("status document has no status")
	default:
		return nil, fmt.Errorf("status document has unknown status %q", doc.Status)
	}

	return &doc, nil
}

// Events returns the recorded events of the given type, all of them when
// eventType is empty.
func (d *StatusDocument) Events(eventType string) []StatusEvent {
	if eventType == "" {
		return d.EventList
	}
	var out []StatusEvent
	for _, e := range d.EventList {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// Link resolves a link by relation with an optional preferred media type
func (d *StatusDocument) Link(rel, preferredType string) (Link, bool) {
	return linkList(d.Links).resolve(rel, preferredType)
}

// URL resolves and expands a link into a fetchable URL
func (d *StatusDocument) URL(rel, preferredType string, params map[string]string) (string, bool) {
	link, ok := d.Link(rel, preferredType)
	if !ok {
		return "", false
	}
	return link.ExpandedHref(params), true
}

// LicenseUpdated returns when the license itself last changed server-side
func (d *StatusDocument) LicenseUpdated() time.Time {
	if d.Updated.License != nil {
		return *d.Updated.License
	}
	return time.Time{}
}

// StatusUpdated returns when the status last changed server-side
func (d *StatusDocument) StatusUpdated() time.Time {
	if d.Updated.Status != nil {
		return *d.Updated.Status
	}
	return time.Time{}
}
