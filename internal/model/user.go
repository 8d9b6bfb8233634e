package model

import "time"

// User represents an application user record as stored in the
// `users` table.  Holds and bookings refer to users by the decimal
// string form of ID, which is also the JWT subject.
//
// Fields:
//  ID           - primary key identifier of the user.
//  Email        - unique, lower-cased email address.
//  PasswordHash - bcrypt hashed password.
//  Role         - CUSTOMER or OWNER.
//  IsActive     - whether the account may log in.
//  CreatedAt    - timestamp of creation.
//  UpdatedAt    - timestamp of last update.
type User struct {
	ID           uint64    // users.id
	Email        string    // users.email
	PasswordHash string    // users.password_hash
	Role         string    // users.role
	IsActive     bool      // users.is_active
	CreatedAt    time.Time // users.created_at
	UpdatedAt    time.Time // users.updated_at
}

const (
	RoleCustomer = "CUSTOMER"
	RoleOwner    = "OWNER"
)
