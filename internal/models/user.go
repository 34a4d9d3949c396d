package models

// UserProfile is the public projection of a user account.
type UserProfile struct {
	ID         string  `db:"id" json:"id"`
	UserName   string  `db:"user_name" json:"user_name"`
	Name       string  `db:"name" json:"name"`
	Avatar     *string `db:"avatar" json:"avatar"`
	IsVerified bool    `db:"is_verified" json:"is_verified"`
}
