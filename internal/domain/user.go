package domain

import "time"

// Role is the application a token or identity slot is scoped to.
type Role string

const (
	RoleConsumer Role = "consumer"
	RoleProvider Role = "provider"
)

func (r Role) Valid() bool {
	return r == RoleConsumer || r == RoleProvider
}

// Other returns the opposite role.
func (r Role) Other() Role {
	if r == RoleConsumer {
		return RoleProvider
	}
	return RoleConsumer
}

// User is the canonical identity. Each role owns an independent phone/email
// slot; one person acting as both consumer and provider has both slots filled.
type User struct {
	ID                    string    `json:"id" db:"id" bson:"_id"`
	ConsumerPhone         *string   `json:"consumer_phone,omitempty" db:"consumer_phone" bson:"consumer_phone,omitempty"`
	ConsumerEmail         *string   `json:"consumer_email,omitempty" db:"consumer_email" bson:"consumer_email,omitempty"`
	ConsumerPhoneVerified bool      `json:"consumer_phone_verified" db:"consumer_phone_verified" bson:"consumer_phone_verified"`
	ConsumerEmailVerified bool      `json:"consumer_email_verified" db:"consumer_email_verified" bson:"consumer_email_verified"`
	ProviderPhone         *string   `json:"provider_phone,omitempty" db:"provider_phone" bson:"provider_phone,omitempty"`
	ProviderEmail         *string   `json:"provider_email,omitempty" db:"provider_email" bson:"provider_email,omitempty"`
	ProviderPhoneVerified bool      `json:"provider_phone_verified" db:"provider_phone_verified" bson:"provider_phone_verified"`
	ProviderEmailVerified bool      `json:"provider_email_verified" db:"provider_email_verified" bson:"provider_email_verified"`
	ActiveRoles           []Role    `json:"active_roles" db:"active_roles" bson:"active_roles"`
	CreatedAt             time.Time `json:"created_at" db:"created_at" bson:"created_at"`
	UpdatedAt             time.Time `json:"updated_at" db:"updated_at" bson:"updated_at"`
}

// PhoneFor returns the phone held in the role's slot, or "".
func (u *User) PhoneFor(role Role) string {
	var p *string
	if role == RoleProvider {
		p = u.ProviderPhone
	} else {
		p = u.ConsumerPhone
	}
	if p == nil {
		return ""
	}
	return *p
}

// HasRole reports whether role is in ActiveRoles.
func (u *User) HasRole(role Role) bool {
	for _, r := range u.ActiveRoles {
		if r == role {
			return true
		}
	}
	return false
}

// NewUserForRole builds an identity with only role's slot populated.
func NewUserForRole(phone string, role Role, now time.Time) *User {
	u := &User{
		ActiveRoles: []Role{role},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	p := phone
	if role == RoleProvider {
		u.ProviderPhone = &p
		u.ProviderPhoneVerified = true
	} else {
		u.ConsumerPhone = &p
		u.ConsumerPhoneVerified = true
	}
	return u
}
