package server

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/petems/signal-monitor/internal/config"
)

// FieldError represents a validation error for a specific field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   any    `json:"value"`
}

// ValidationError collects multiple field validation errors.
type ValidationError struct {
	Errors []FieldError `json:"errors"`
}

func (v *ValidationError) Add(field, message string, value any) {
	v.Errors = append(v.Errors, FieldError{Field: field, Message: message, Value: value})
}

// DecodeAndValidate decodes JSON and validates the struct.
// Returns true if successful, false if an error response was already sent.
func DecodeAndValidate[T any](h *CommandHandler, cmd WSCommand, send chan<- any, data *T) bool {
	raw := cmd.Data
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	if err := json.Unmarshal(raw, data); err != nil {
		h.SendError(send, cmd.Type, fmt.Errorf("invalid JSON: %w", err))
		return false
	}

	if err := config.Validator.Struct(data); err != nil {
		h.SendValidationErrors(send, cmd.Type, err)
		return false
	}

	return true
}

// HandleCommand decodes, validates, and processes a command with automatic
// response handling.
func HandleCommand[T any](h *CommandHandler, cmd WSCommand, send chan<- any, process func(*T) error) {
	var data T
	if !DecodeAndValidate(h, cmd, send, &data) {
		return
	}

	if err := process(&data); err != nil {
		h.SendError(send, cmd.Type, err)
		return
	}

	h.SendSuccess(send, cmd.Type, nil)
}

// HandleActionAsync runs a blocking command off the reader goroutine. The
// connection may close before it finishes, so a send on the closed channel
// is recovered.
func (h *CommandHandler) HandleActionAsync(cmd WSCommand, send chan<- any, action func() (any, error)) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				h.log.Debug().Str("command", cmd.Type).Interface("panic", r).Msg("Dropped async result")
			}
		}()

		result, err := action()
		if err != nil {
			h.SendError(send, cmd.Type, err)
			return
		}
		h.SendSuccess(send, cmd.Type, result)
	}()
}

// --- Response helpers ---

// SendSuccess sends a success response for a command.
func (h *CommandHandler) SendSuccess(send chan<- any, cmdType string, data any) {
	result := map[string]any{
		"type":    cmdType + "_result",
		"success": true,
	}
	if data != nil {
		result["data"] = data
	}
	h.trySend(send, cmdType, result)
}

// SendError sends an error response for a command.
func (h *CommandHandler) SendError(send chan<- any, cmdType string, err error) {
	result := map[string]any{
		"type":    cmdType + "_result",
		"success": false,
		"error":   err.Error(),
	}
	h.trySend(send, cmdType, result)
}

// SendValidationErrors converts validator errors to our format and sends them.
func (h *CommandHandler) SendValidationErrors(send chan<- any, cmdType string, err error) {
	verr := &ValidationError{Errors: make([]FieldError, 0)}

	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		for _, e := range validationErrors {
			verr.Add(e.Field(), config.FormatValidationMessage(e), e.Value())
		}
	} else {
		verr.Add("", err.Error(), nil)
	}

	result := map[string]any{
		"type":    cmdType + "_result",
		"success": false,
		"error":   verr,
	}
	h.trySend(send, cmdType, result)
}

// trySend attempts to send a message, logging a warning if the channel is full.
func (h *CommandHandler) trySend(send chan<- any, cmdType string, msg any) {
	select {
	case send <- msg:
	default:
		h.log.Warn().Str("type", cmdType).Msg("Failed to send response: channel full")
	}
}
