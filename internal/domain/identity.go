package domain

type Role string

const (
	RoleUser          Role = "User"
	RoleAdministrator Role = "Administrator"
)

// Identity is the verified caller of a connection attempt.
type Identity struct {
	UserID string
	Role   Role
}
