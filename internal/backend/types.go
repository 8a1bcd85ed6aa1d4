package backend

import "time"

// Medication is one prescribed medication as the backend stores it.
type Medication struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Dosage   string `json:"dosage,omitempty"`
	Schedule string `json:"schedule,omitempty"`
	Taken    bool   `json:"taken"`
	Notes    string `json:"notes,omitempty"`
}

// JournalEntry is one patient journal entry.
type JournalEntry struct {
	ID        string    `json:"id"`
	Title     string    `json:"title,omitempty"`
	Content   string    `json:"content"`
	Mood      string    `json:"mood,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Reminder is one scheduled reminder.
type Reminder struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Time      string `json:"time"`
	Recurring bool   `json:"recurring"`
	Active    bool   `json:"active"`
	Completed bool   `json:"completed"`
}

// Relative is one registered family member or contact.
type Relative struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Relationship string `json:"relationship"`
	Phone        string `json:"phone,omitempty"`
	PhotoURL     string `json:"photo_url,omitempty"`
}

// SOSEvent is an emergency alert record.
type SOSEvent struct {
	ID        string    `json:"id"`
	Level     int       `json:"level"`
	Reason    string    `json:"reason"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Location is the last reported patient location.
type Location struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Address   string    `json:"address,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Profile is the patient profile the backend holds.
type Profile struct {
	UID         string   `json:"uid"`
	Name        string   `json:"name"`
	Age         int      `json:"age,omitempty"`
	Condition   string   `json:"condition,omitempty"`
	Severity    string   `json:"severity,omitempty"`
	Preferences []string `json:"preferences,omitempty"`
	Email       string   `json:"email,omitempty"`
}

// Caregiver is a linked caregiver account.
type Caregiver struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// AuraStatus is the backend's view of the patient's module.
type AuraStatus struct {
	Connected bool     `json:"connected"`
	IP        string   `json:"ip,omitempty"`
	Status    string   `json:"status,omitempty"`
	LastSeen  string   `json:"last_seen,omitempty"`
	Message   string   `json:"message,omitempty"`
	Features  []string `json:"features"`
}

// IdentifyResult is the outcome of a face-recognition request.
type IdentifyResult struct {
	Identified   bool    `json:"identified"`
	Name         string  `json:"name,omitempty"`
	Relationship string  `json:"relationship,omitempty"`
	Confidence   float64 `json:"confidence,omitempty"`
}

// LiveContext is what the module currently hears/sees.
type LiveContext struct {
	Transcript string `json:"transcript"`
	Emotion    string `json:"emotion,omitempty"`
	Timestamp  string `json:"timestamp,omitempty"`
}

// Interaction is one logged assistant exchange for analytics.
type Interaction struct {
	ID        string    `json:"id,omitempty"`
	UserText  string    `json:"user_text"`
	ReplyText string    `json:"reply_text"`
	Emotion   string    `json:"emotion,omitempty"`
	Intensity string    `json:"intensity,omitempty"`
	Channel   string    `json:"channel,omitempty"` // text or voice
	CreatedAt time.Time `json:"created_at,omitempty"`
}
