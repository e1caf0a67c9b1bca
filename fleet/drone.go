package fleet

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DroneState mirrors the persisted drone document. The store copy is the
// source of truth; coordinator and workers re-read it before any mutating
// decision.
type DroneState struct {
	DroneID string      `json:"drone_id"`
	Name    string      `json:"name"`
	Model   string      `json:"model,omitempty"`
	Status  DroneStatus `json:"status"`

	// BatteryLevel is a percentage in [0,100].
	BatteryLevel float64 `json:"battery_level"`

	CurrentLocation *GeoPoint `json:"current_location,omitempty"`

	MaxFlightTime float64 `json:"max_flight_time,omitempty"` // minutes
	MaxSpeed      float64 `json:"max_speed,omitempty"`       // m/s
	MaxAltitude   float64 `json:"max_altitude,omitempty"`    // meters

	AssignedTasks []string  `json:"assigned_tasks,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NewDrone creates an idle drone with a full battery.
func NewDrone(name string) *DroneState {
	return &DroneState{
		DroneID:      uuid.New().String(),
		Name:         name,
		Status:       DroneIdle,
		BatteryLevel: 100,
		UpdatedAt:    time.Now().UTC(),
	}
}

// Available reports whether the drone can take on a new task.
func (d *DroneState) Available(minBattery float64) bool {
	return d.Status == DroneIdle && d.BatteryLevel >= minBattery
}

// HasTask reports whether taskID is in the drone's assigned task list.
func (d *DroneState) HasTask(taskID string) bool {
	for _, id := range d.AssignedTasks {
		if id == taskID {
			return true
		}
	}
	return false
}

// WithoutTask returns the assigned task list with taskID removed.
func (d *DroneState) WithoutTask(taskID string) []string {
	out := make([]string, 0, len(d.AssignedTasks))
	for _, id := range d.AssignedTasks {
		if id != taskID {
			out = append(out, id)
		}
	}
	return out
}

// Marshal serializes the drone state to JSON.
func (d *DroneState) Marshal() ([]byte, error) {
	return json.Marshal(d)
}

// UnmarshalDrone deserializes a drone state from JSON.
func UnmarshalDrone(data []byte) (*DroneState, error) {
	var d DroneState
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	return &d, nil
}
