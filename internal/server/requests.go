package server

// Request types for WebSocket commands. Pointer fields distinguish a missing
// value from its zero value so "required" can reject omissions.

// SelectDeviceRequest is the request body for select_device.
type SelectDeviceRequest struct {
	DeviceID string `json:"device_id" validate:"required,max=512"`
}

// SetEchoRequest is the request body for set_echo.
type SetEchoRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

// SetDelayRequest is the request body for set_delay.
type SetDelayRequest struct {
	DelayMs *int `json:"delay_ms" validate:"required,gte=0,lte=2000"`
}
