package model

// Alert: эфемерное уведомление о непрочитанном сообщении. ID совпадает с ID сообщения
// и служит ключом дедупликации.
type Alert struct {
	ID          string `json:"id"`
	ChatID      string `json:"chat_id"`
	SenderName  string `json:"sender_name"`
	Text        string `json:"text"`
	ActionLabel string `json:"action_label"`
	ActionPath  string `json:"action_path"`
}
