package model

// AppUser is the user profile. Two copies exist at runtime: a local one
// holding pending unsynced edits made through the public API, and a remote
// one mirroring the last known server state. The Modified flag on the local
// copy drives the debounced background sync.
type AppUser struct {
	AppUserID string         `json:"_id,omitempty"`
	UserID    string         `json:"userId,omitempty"`
	FirstName string         `json:"givenName,omitempty"`
	LastName  string         `json:"surname,omitempty"`
	Email     string         `json:"email,omitempty"`
	AvatarURL string         `json:"avatarUrl,omitempty"`
	SignedUp  *float64       `json:"signedUpAt,omitempty"`
	Metadata  map[string]any `json:"properties,omitempty"`

	Modified bool `json:"-"`
}

// Merge folds pending local edits into the remote copy after a successful
// profile sync: any non-zero local field overwrites the remote one, and
// metadata keys are merged additively with local values winning on conflict.
func (u *AppUser) Merge(local *AppUser) {
	if local == nil {
		return
	}
	if local.AppUserID != "" {
		u.AppUserID = local.AppUserID
	}
	if local.UserID != "" {
		u.UserID = local.UserID
	}
	if local.FirstName != "" {
		u.FirstName = local.FirstName
	}
	if local.LastName != "" {
		u.LastName = local.LastName
	}
	if local.Email != "" {
		u.Email = local.Email
	}
	if local.AvatarURL != "" {
		u.AvatarURL = local.AvatarURL
	}
	if local.SignedUp != nil {
		v := *local.SignedUp
		u.SignedUp = &v
	}
	if len(local.Metadata) > 0 {
		if u.Metadata == nil {
			u.Metadata = make(map[string]any, len(local.Metadata))
		}
		for k, v := range local.Metadata {
			u.Metadata[k] = v
		}
	}
}

// Clone returns a copy of the user.
func (u *AppUser) Clone() *AppUser {
	if u == nil {
		return nil
	}
	c := *u
	if u.SignedUp != nil {
		v := *u.SignedUp
		c.SignedUp = &v
	}
	if u.Metadata != nil {
		c.Metadata = make(map[string]any, len(u.Metadata))
		for k, v := range u.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}
