package chat

import "github.com/coachbase/fitchat/internal/model"

// SendState is client-local presentation state layered onto a durable
// message. It lives alongside the entity, never inside its metadata
// bag, and is never authoritative for any other client.
type SendState struct {
	TempID         string `json:"temp_id"`
	Sending        bool   `json:"sending"`
	Uploading      bool   `json:"uploading"`
	UploadProgress int    `json:"upload_progress"`
	Err            string `json:"error,omitempty"`
}

// Pending reports whether the entry is still waiting on reconciliation.
func (s *SendState) Pending() bool {
	return s != nil && s.Sending && s.Err == ""
}

// Errored reports whether the send failed and is eligible for retry.
func (s *SendState) Errored() bool {
	return s != nil && s.Err != ""
}

// Entry is one slot of a session's in-memory message list: the durable
// message plus, while optimistic, its presentation state. State is nil
// once the entry is confirmed, and always nil for peer messages.
type Entry struct {
	model.Message
	State *SendState `json:"state,omitempty"`
}

// Confirmed reports whether the entry carries a server-assigned
// identity and no outstanding optimistic state.
func (e Entry) Confirmed() bool {
	return e.State == nil
}
