// Package identity defines the membership oracle the session engine
// consults before accepting edits. The surrounding platform supplies the
// real implementation; this package ships a file-backed roster for
// standalone and development deployments.
package identity

// Profile carries the display attributes attached to broadcast operations.
type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// Oracle answers whether a user currently holds edit permission on a
// broadcast, and resolves their display attributes.
type Oracle interface {
	CanEdit(broadcastID, userID string) bool
	Profile(userID string) Profile
}
