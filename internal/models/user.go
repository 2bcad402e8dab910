package models

// User is a marketplace account reachable by email, phone or both.
type User struct {
	BaseModel

	Email        *string `gorm:"uniqueIndex;size:255" json:"email"`
	Phone        *string `gorm:"uniqueIndex;size:32" json:"phone"`
	Name         string  `gorm:"size:255;not null" json:"name"`
	PasswordHash *string `gorm:"size:255" json:"-"`
	IsVerified   bool    `gorm:"default:false" json:"isVerified"`

	Sessions []Session `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
}

// UserProfile is the public projection of a user returned to clients.
type UserProfile struct {
	ID         string  `json:"id"`
	Email      *string `json:"email"`
	Phone      *string `json:"phone"`
	Name       string  `json:"name"`
	IsVerified bool    `json:"isVerified"`
}

// HasPassword reports whether the user opted into password-assisted login.
func (u *User) HasPassword() bool {
	return u != nil && u.PasswordHash != nil && *u.PasswordHash != ""
}

// Profile projects the user onto the fields safe to expose.
func (u *User) Profile() *UserProfile {
	if u == nil {
		return nil
	}
	return &UserProfile{
		ID:         u.ID,
		Email:      u.Email,
		Phone:      u.Phone,
		Name:       u.Name,
		IsVerified: u.IsVerified,
	}
}
