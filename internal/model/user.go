package model

// Role: роль пользователя маркетплейса.
type Role string

const (
	RoleClient Role = "client"
	RoleExpert Role = "expert"
	RoleAdmin  Role = "admin"
)

// Profile: то, что слой авторизации знает о текущем пользователе сессии.
// Копируется в запись присутствия при каждой записи и дальше не синхронизируется.
type Profile struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
	Role      Role   `json:"role"`
}
