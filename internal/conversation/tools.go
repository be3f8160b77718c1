package conversation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/zulandar/lifeline/internal/dispatch"
	"github.com/zulandar/lifeline/internal/ledger"
)

// Tool names exposed to the model.
const (
	ToolCreateSession = "create_emergency_session"
	ToolDispatch      = "dispatch_responder"
)

// Tool is a function declaration in JSON-schema form.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

func str(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func enum(desc string, values ...string) map[string]any {
	return map[string]any{"type": "string", "description": desc, "enum": values}
}

// Tools returns the declarations of every tool Invoke accepts. All
// parameters are optional.
func Tools() []Tool {
	return []Tool{
		{
			Name: ToolCreateSession,
			Description: "Create or update the emergency session for this call. " +
				"Pass only the details learned so far; omitted details are kept. " +
				"Returns caller_id and location_id once a phone number or location is known.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"emergency_type":  enum("Kind of emergency", "MEDICAL", "POLICE", "FIRE", "OTHER"),
					"description":     str("What is happening"),
					"caller_phone":    str("Caller phone number"),
					"caller_name":     str("Caller name"),
					"language":        str("Language the caller is speaking"),
					"address":         str("Street address of the incident"),
					"landmark":        str("Nearby landmark"),
					"gps_coordinates": str("Latitude,longitude"),
					"city":            str("City"),
					"district":        str("District"),
					"priority_level": map[string]any{
						"type":        "integer",
						"description": "Priority from 1 (highest) to 5 (lowest), default 3",
						"minimum":     1,
						"maximum":     5,
					},
					"notes":  str("Additional notes"),
					"status": str("Session status"),
				},
			},
		},
		{
			Name: ToolDispatch,
			Description: "Dispatch a responder to the emergency, or update an existing dispatch " +
				"when dispatch_id is given.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"session_id":     str("Session to dispatch for; defaults to the current call"),
					"dispatch_id":    str("Existing dispatch to update"),
					"responder_id":   str("Responder to send; chosen automatically from emergency_type when omitted"),
					"emergency_type": enum("Kind of emergency", "MEDICAL", "POLICE", "FIRE", "OTHER"),
					"location_id":    str("Location to dispatch to, as returned by create_emergency_session; defaults to the session's location"),
					"notes":          str("Notes for the responder"),
					"status":         enum("Dispatch status", "PENDING", "EN_ROUTE", "ARRIVED", "COMPLETED", "CANCELLED"),
					"arrival_time":   str("ISO-8601 arrival time; only valid with status ARRIVED"),
				},
			},
		},
	}
}

// Invoke runs the named tool with JSON arguments and returns its result as a
// JSON-ready map. It never fails: unknown tools and undecodable arguments
// produce {success: false, error}.
func (c *Conversation) Invoke(ctx context.Context, name string, args json.RawMessage) map[string]any {
	log := c.log.WithField("tool", name)

	var result any
	switch name {
	case ToolCreateSession:
		var sa sessionArgs
		if err := decodeArgs(args, &sa); err != nil {
			log.WithError(err).Warn("conversation: bad tool arguments")
			return failure(err)
		}
		f := sa.Fields
		if p, ok := parsePriority(sa.PriorityLevel); ok {
			f.PriorityLevel = p
		} else {
			log.WithField("priority_level", string(sa.PriorityLevel)).Warn("conversation: priority_level is not an integer, ignoring")
		}
		result = c.UpsertSession(ctx, f)
	case ToolDispatch:
		var req dispatch.Request
		if err := decodeArgs(args, &req); err != nil {
			log.WithError(err).Warn("conversation: bad tool arguments")
			return failure(err)
		}
		result = c.DispatchResponder(ctx, req)
	default:
		log.Warn("conversation: unknown tool")
		return failure(fmt.Errorf("unknown tool %q", name))
	}

	out, err := toMap(result)
	if err != nil {
		log.WithError(err).Error("conversation: encode tool result")
		return failure(err)
	}
	return out
}

// sessionArgs decodes the session tool. priority_level is held raw so a
// model sending 2.0 or "2" does not lose the rest of the call.
type sessionArgs struct {
	ledger.Fields
	PriorityLevel json.RawMessage `json:"priority_level"`
}

// parsePriority accepts an integral number or a string holding one. It
// reports false for anything else. Absent and null decode to nil.
func parsePriority(raw json.RawMessage) (*int, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, true
	}
	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return nil, false
	}
	var n float64
	switch x := v.(type) {
	case float64:
		n = x
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return nil, false
		}
		n = parsed
	default:
		return nil, false
	}
	if math.IsNaN(n) || math.IsInf(n, 0) || n != math.Trunc(n) || math.Abs(n) > math.MaxInt32 {
		return nil, false
	}
	p := int(n)
	return &p, true
}

func decodeArgs(args json.RawMessage, v any) error {
	trimmed := bytes.TrimSpace(args)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(trimmed, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

func toMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func failure(err error) map[string]any {
	return map[string]any{"success": false, "error": err.Error()}
}
