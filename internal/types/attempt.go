package types

// Attempt is one learner's standing in a course, derived from the
// enrollment aggregates. Identity stays the external user id; profile
// data lives with the identity provider.
type Attempt struct {
	UserID    string `json:"user_id"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
}
