package domain

// Identity 是客户端本地缓存的稳定身份，断线重连时复用。
type Identity struct {
	ParticipantID string `json:"participantId"`
	DisplayName   string `json:"displayName"`
}
