package model

// UserPermissions: права пользователя на уровне платформы.
type UserPermissions struct {
	UserID               string `json:"user_id"`
	Administrator        bool   `json:"administrator"`
	DeleteOthersMessages bool   `json:"delete_others_messages"`
}

// CanDeleteAnyMessage разрешает глобальное удаление чужих сообщений.
func (p *UserPermissions) CanDeleteAnyMessage() bool {
	return p != nil && (p.Administrator || p.DeleteOthersMessages)
}
