// Package domain contains core concepts of the conversation subsystem.
// This file defines Participant identity snapshots and related invariants.
// No runtime, network, or UI logic should be added here.
package domain

// Participant is an identity snapshot denormalized onto conversations and
// messages at the time of send. It is not kept in sync afterwards: a rename
// does not retroactively update historic messages.
type Participant struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}
