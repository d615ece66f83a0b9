package domain

// UserProfile authenticated wallet user.
type UserProfile struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	Email   string `json:"email"`
	Picture string `json:"picture,omitempty"`
	// Address is the chain account the balance feed subscribes to.
	Address string `json:"address"`
}
