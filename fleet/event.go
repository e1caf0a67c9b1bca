package fleet

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// GeoPoint is a GeoJSON-style point: [longitude, latitude].
type GeoPoint struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
	Altitude    float64   `json:"altitude,omitempty"`
}

// NewGeoPoint builds a point from longitude/latitude.
func NewGeoPoint(lon, lat float64) *GeoPoint {
	return &GeoPoint{Type: "Point", Coordinates: []float64{lon, lat}}
}

// Location is a named position.
type Location struct {
	Position *GeoPoint `json:"position,omitempty"`
	Address  string    `json:"address,omitempty"`
	Name     string    `json:"name,omitempty"`
}

// Event is a detected occurrence that may be promoted into a task.
type Event struct {
	EventID     string      `json:"event_id"`
	Type        EventType   `json:"type"`
	Level       EventLevel  `json:"level"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	Status      EventStatus `json:"status"`
	Location    *Location   `json:"location,omitempty"`

	DetectedAt time.Time `json:"detected_at"`
	DetectedBy string    `json:"detected_by,omitempty"`

	DetectionData map[string]any `json:"detection_data,omitempty"`
	VideoSource   string         `json:"video_source,omitempty"`

	RelatedTasks []string   `json:"related_tasks,omitempty"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
}

// NewEvent creates a new event in status new.
func NewEvent(title string, typ EventType, level EventLevel) *Event {
	return &Event{
		EventID:    uuid.New().String(),
		Type:       typ,
		Level:      level,
		Title:      title,
		Status:     EventNew,
		DetectedAt: time.Now().UTC(),
	}
}

// HasTask reports whether taskID is already linked to the event.
func (e *Event) HasTask(taskID string) bool {
	for _, id := range e.RelatedTasks {
		if id == taskID {
			return true
		}
	}
	return false
}

// Marshal serializes the event to JSON.
func (e *Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalEvent deserializes an event from JSON.
func UnmarshalEvent(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
