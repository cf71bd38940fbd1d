package model

// User is created on first reference by the engine and never destroyed.
// Its ID is the account address string; the engine only ever bumps Nonce
// and LastActivity.
type User struct {
	ID           string
	Nonce        uint64
	Active       bool
	CreatedAt    int64 // milliseconds
	LastActivity int64 // milliseconds
}

// Touch bumps nonce and last-activity in place, matching the spec's
// "mutated by the matching engine only to bump nonce and last_activity"
// invariant.
func (u *User) Touch(nowMillis int64, nonce uint64) {
	u.Nonce = nonce
	u.LastActivity = nowMillis
}
