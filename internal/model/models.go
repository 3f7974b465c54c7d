package model

// UserID identifies an authenticated user.
type UserID string

// SfuID identifies a running SFU instance.
type SfuID string

// ProducerID identifies a published media stream.
type ProducerID string

// RoomID identifies a room.
type RoomID string

// ScheduleID identifies a scheduled class session.
type ScheduleID string

// OrgID identifies an organization.
type OrgID string

// TrackInfo describes one published media stream in a room.
// It is also the JSON record the SFUs store in the registry.
type TrackInfo struct {
	SfuID      SfuID      `json:"sfuId"`
	ProducerID ProducerID `json:"producerId"`
	Name       string     `json:"name,omitempty"`
	SessionID  string     `json:"sessionId,omitempty"`
}

// SfuStatus is the heartbeat record an SFU writes about itself.
type SfuStatus struct {
	Endpoint  string `json:"endpoint"`
	Producers int    `json:"producers"`
	Consumers int    `json:"consumers"`

	// LastUpdateTimestamp is milliseconds since the Unix epoch.
	LastUpdateTimestamp int64 `json:"lastUpdateTimestamp,omitempty"`
}

// Load is the number of producers and consumers the SFU is serving.
func (s SfuStatus) Load() int {
	return s.Producers + s.Consumers
}

// Member is a single roster entry. Only the id is retained.
type Member struct {
	ID string `json:"id"`
}

// Roster lists the participants scheduled for a class session.
// Students and Teachers are never nil once normalized.
type Roster struct {
	Students []Member `json:"class_roster_students"`
	Teachers []Member `json:"class_roster_teachers"`
}

// Headcount returns the number of students and teachers.
func (r Roster) Headcount() (students, teachers int) {
	return len(r.Students), len(r.Teachers)
}
