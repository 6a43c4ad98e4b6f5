package chatsdk

import "github.com/clarabridge/chat-sdk-go/internal/model"

// User proxies the current user's profile. Setters edit the pending local
// copy and schedule the debounced background sync.
type User struct {
	svc userService
}

type userService interface {
	UserSnapshot() *model.AppUser
	CurrentUserID() string
	ExternalUserID() string
	UpdateUser(mutate func(u *model.AppUser))
}

// ID returns the backend's id for this user.
func (u *User) ID() string {
	return u.svc.CurrentUserID()
}

// ExternalID returns the host app's id for this user, empty when anonymous.
func (u *User) ExternalID() string {
	return u.svc.ExternalUserID()
}

// FirstName returns the profile first name, including pending edits.
func (u *User) FirstName() string {
	return u.svc.UserSnapshot().FirstName
}

// LastName returns the profile last name, including pending edits.
func (u *User) LastName() string {
	return u.svc.UserSnapshot().LastName
}

// Email returns the profile email, including pending edits.
func (u *User) Email() string {
	return u.svc.UserSnapshot().Email
}

// Metadata returns the profile metadata, including pending edits.
func (u *User) Metadata() map[string]any {
	return u.svc.UserSnapshot().Metadata
}

// SetFirstName stages a first-name edit.
func (u *User) SetFirstName(name string) {
	u.svc.UpdateUser(func(user *model.AppUser) { user.FirstName = name })
}

// SetLastName stages a last-name edit.
func (u *User) SetLastName(name string) {
	u.svc.UpdateUser(func(user *model.AppUser) { user.LastName = name })
}

// SetEmail stages an email edit.
func (u *User) SetEmail(email string) {
	u.svc.UpdateUser(func(user *model.AppUser) { user.Email = email })
}

// AddMetadata stages metadata entries, merged additively into the profile.
func (u *User) AddMetadata(entries map[string]any) {
	u.svc.UpdateUser(func(user *model.AppUser) {
		if user.Metadata == nil {
			user.Metadata = make(map[string]any, len(entries))
		}
		for k, v := range entries {
			user.Metadata[k] = v
		}
	})
}
