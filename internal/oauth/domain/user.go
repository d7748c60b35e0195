package domain

type User struct {
	ID          string
	Username    string
	DisplayName string
	Roles       []string
	Disabled    bool
}
