package models

// Profile is the stored alias/avatar override for one user.
type Profile struct {
	Alias     string `json:"alias,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// ProfileUpdate carries a settings change. Nil fields are left untouched.
type ProfileUpdate struct {
	Alias     *string `json:"alias"`
	AvatarURL *string `json:"avatar_url" validate:"omitempty,http_url"`
}
