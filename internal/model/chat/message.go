package chat

// Role identifies who authored a message.
type Role string

const (
	RoleUser    Role = "user"
	RolePersona Role = "persona"
)

// Valid reports whether the role is one of the known authors.
func (r Role) Valid() bool {
	return r == RoleUser || r == RolePersona
}

// Message is an immutable transcript entry. CreatedAt is epoch milliseconds.
type Message struct {
	ID        string `json:"id"`
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"createdAt"`
	ImageRef  string `json:"imageRef,omitempty"`
}
