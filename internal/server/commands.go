package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/petems/signal-monitor/internal/app"
	"github.com/petems/signal-monitor/internal/audio"
	"github.com/rs/zerolog"
)

// WSCommand is a command received from a WebSocket client.
type WSCommand struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Controller is the command surface of the session controller.
type Controller interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	SelectDevice(ctx context.Context, id string) error
	SetEchoEnabled(ctx context.Context, enabled bool) error
	SetDelayMs(ctx context.Context, ms int) error
	Snapshot() app.Snapshot
}

// CommandHandler processes WebSocket commands.
type CommandHandler struct {
	ctrl Controller
	log  zerolog.Logger
}

func NewCommandHandler(ctrl Controller, log zerolog.Logger) *CommandHandler {
	return &CommandHandler{ctrl: ctrl, log: log}
}

// Handle performs the requested action and replies with "<type>_result".
// Commands that wait on the device run asynchronously; ctx bounds them to
// the connection.
func (h *CommandHandler) Handle(ctx context.Context, cmd WSCommand, send chan<- any, triggerStateUpdate func()) {
	switch cmd.Type {
	case "start":
		h.HandleActionAsync(cmd, send, func() (any, error) {
			defer triggerStateUpdate()
			return nil, userError(h.ctrl.Start(ctx))
		})
	case "stop":
		HandleCommand(h, cmd, send, func(*struct{}) error {
			return h.ctrl.Stop(ctx)
		})
	case "select_device":
		var req SelectDeviceRequest
		if !DecodeAndValidate(h, cmd, send, &req) {
			return
		}
		h.HandleActionAsync(cmd, send, func() (any, error) {
			defer triggerStateUpdate()
			return nil, userError(h.ctrl.SelectDevice(ctx, req.DeviceID))
		})
	case "set_echo":
		HandleCommand(h, cmd, send, func(req *SetEchoRequest) error {
			return h.ctrl.SetEchoEnabled(ctx, *req.Enabled)
		})
	case "set_delay":
		HandleCommand(h, cmd, send, func(req *SetDelayRequest) error {
			return h.ctrl.SetDelayMs(ctx, *req.DelayMs)
		})
	default:
		h.log.Warn().Str("type", cmd.Type).Msg("Unknown WebSocket command")
		h.SendError(send, cmd.Type, fmt.Errorf("unknown command %q", cmd.Type))
	}

	triggerStateUpdate()
}

// userError hides acquisition details behind the message the UI shows.
func userError(err error) error {
	if err != nil && audio.KindOf(err) != nil {
		return errors.New(app.ErrorMessage)
	}
	return err
}
