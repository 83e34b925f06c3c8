package entity

import "github.com/google/uuid"

// Session is the acting identity, passed explicitly into every operation.
type Session struct {
	UserId       uuid.UUID
	ConnectionId string
}

func NewSession(userId uuid.UUID) Session {
	return Session{UserId: userId, ConnectionId: uuid.NewString()}
}
