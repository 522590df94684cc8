package domain

import (
	"sort"

	"golang.org/x/crypto/bcrypt"
)

// User is an account that can log in and own tasks. The password hash never
// leaves the service.
type User struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	PasswordHash []byte `json:"-"`
}

// UserPatch is a partial update. Nil fields are left untouched.
type UserPatch struct {
	Username     *string
	PasswordHash []byte
}

// Apply returns a copy of u with the set fields of p applied.
func (p UserPatch) Apply(u User) User {
	if p.Username != nil {
		u.Username = *p.Username
	}
	if p.PasswordHash != nil {
		u.PasswordHash = p.PasswordHash
	}
	return u
}

// HashPassword returns the bcrypt hash stored for password.
func HashPassword(password string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
}

// CheckPassword reports whether password matches the stored hash.
func (u User) CheckPassword(password string) bool {
	if len(u.PasswordHash) == 0 {
		return false
	}
	return bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)) == nil
}

// SortUsersByID orders users by ascending id in place.
func SortUsersByID(users []User) {
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
}
