package domain

type ChatID string

// Chat is a read-only membership view. Direct chats hold exactly two
// members, group chats N. Membership is authoritative here: the full
// member set is returned for both kinds, never "the other side" only.
type Chat struct {
	ID      ChatID
	IsGroup bool
	Name    string
	Members []UserID
}

func (c Chat) HasMember(id UserID) bool {
	for _, m := range c.Members {
		if m == id {
			return true
		}
	}
	return false
}
