package types

type HeartbeatRequest struct {
	ModuleID        string `json:"module_id" validate:"required,max=64"`
	FirmwareVersion string `json:"firmware_version,omitempty"`
	UptimeSeconds   uint64 `json:"uptime_s,omitempty"`
	DoorClosed      *bool  `json:"door_closed,omitempty"`
	RSSIDbm         *int   `json:"rssi_dbm,omitempty"`
	IP              string `json:"ip,omitempty" validate:"omitempty,ip"`
	FreeHeapBytes   uint32 `json:"free_heap_bytes,omitempty"`
	Sequence        uint32 `json:"seq,omitempty"`
}

type HeartbeatResponse struct {
	OK         bool   `json:"ok"`
	Known      bool   `json:"known"`
	ModuleID   string `json:"module_id"`
	Door       string `json:"door,omitempty"`
	ServerTime string `json:"server_time"`
}
