package types

// AccessRequest is sent by a door module when a card is presented. Either
// CardID or the raw Wiegand Bits must be set; Bits wins when both are.
type AccessRequest struct {
	ModuleID    string `json:"module_id" validate:"required,max=64"`
	CardID      string `json:"card_id,omitempty" validate:"required_without=Bits,max=64"`
	Bits        string `json:"bits,omitempty" validate:"required_without=CardID,max=64"`
	DoorClosed  *bool  `json:"door_closed,omitempty"`
	RequestedAt string `json:"requested_at,omitempty"` // optional device timestamp
}

type AccessResponse struct {
	OK         bool   `json:"ok"`
	Known      bool   `json:"known"`
	Granted    bool   `json:"granted"`
	Reason     string `json:"reason,omitempty"`
	ModuleID   string `json:"module_id"`
	Door       string `json:"door,omitempty"`
	UnlockMs   int64  `json:"unlock_ms,omitempty"`
	ServerTime string `json:"server_time"`
}

// EvaluateRequest asks for a dry-run decision: nothing is recorded and no
// card is enrolled.
type EvaluateRequest struct {
	CardID string `json:"card_id" validate:"required,max=64"`
	Door   string `json:"door" validate:"required,max=128"`
	At     string `json:"at,omitempty" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

type EvaluateResponse struct {
	Granted    bool   `json:"granted"`
	Reason     string `json:"reason"`
	Door       string `json:"door"`
	CardID     string `json:"card_id"`
	Weekday    string `json:"weekday"`
	LocalTime  string `json:"local_time"`
	IsHoliday  bool   `json:"is_holiday"`
	ServerTime string `json:"server_time"`
}
