// Package model defines the core domain types for the school activities system.
package model

// Activity is an extracurricular offering with a fixed capacity.
// Participants holds member emails in signup order.
type Activity struct {
	ID              string   `json:"-"`
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	Schedule        string   `json:"schedule"`
	MaxParticipants int      `json:"max_participants"`
	Participants    []string `json:"participants"`
}

// Participant is a student identified by email.
type Participant struct {
	ID    string `json:"-"`
	Email string `json:"email"`
}

// SeedActivity describes an activity and its initial members for bootstrap.
type SeedActivity struct {
	Name            string
	Description     string
	Schedule        string
	MaxParticipants int
	Participants    []string
}

// ActivityDetails is the per-activity value in the GET /activities mapping.
type ActivityDetails struct {
	Description     string   `json:"description"`
	Schedule        string   `json:"schedule"`
	MaxParticipants int      `json:"max_participants"`
	Participants    []string `json:"participants"`
}

// MessageResponse is the confirmation envelope for mutating calls.
type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse is the standard JSON error envelope.
type ErrorResponse struct {
	Detail string `json:"detail"`
}
