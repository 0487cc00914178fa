package agent

import (
	"encoding/json"
	"fmt"
)

// streamEnvelope is the common header of every stream-json line.
type streamEnvelope struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype"`
	SessionID string `json:"session_id"`
}

type initPayload struct {
	Model          string   `json:"model"`
	Tools          []string `json:"tools"`
	CWD            string   `json:"cwd"`
	PermissionMode string   `json:"permissionMode"`
}

type assistantPayload struct {
	Message struct {
		Content []struct {
			Type  string          `json:"type"`
			Text  string          `json:"text"`
			ID    string          `json:"id"`
			Name  string          `json:"name"`
			Input json.RawMessage `json:"input"`
		} `json:"content"`
	} `json:"message"`
}

type resultPayload struct {
	IsError           bool               `json:"is_error"`
	Result            string             `json:"result"`
	StopReason        *string            `json:"stop_reason"`
	NumTurns          int                `json:"num_turns"`
	DurationMS        int64              `json:"duration_ms"`
	TotalCostUSD      float64            `json:"total_cost_usd"`
	Errors            []string           `json:"errors"`
	PermissionDenials []PermissionDenial `json:"permission_denials"`
}

// ParseLine decodes one line of Claude Code stream-json output.
// Lines with an unrecognised type become *UnknownEvent; only invalid JSON is an error.
func ParseLine(line []byte) (Event, error) {
	var env streamEnvelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, fmt.Errorf("parsing stream-json envelope: %w", err)
	}

	switch env.Type {
	case "system":
		if env.Subtype != "init" {
			return &SystemEvent{Subtype: env.Subtype, SessionID: env.SessionID}, nil
		}
		var p initPayload
		if err := json.Unmarshal(line, &p); err != nil {
			return nil, fmt.Errorf("parsing init event: %w", err)
		}
		return &InitEvent{
			SessionID:      env.SessionID,
			Model:          p.Model,
			Tools:          p.Tools,
			CWD:            p.CWD,
			PermissionMode: p.PermissionMode,
		}, nil

	case "assistant":
		var p assistantPayload
		if err := json.Unmarshal(line, &p); err != nil {
			return nil, fmt.Errorf("parsing assistant event: %w", err)
		}
		blocks := make([]ContentBlock, 0, len(p.Message.Content))
		for _, b := range p.Message.Content {
			blocks = append(blocks, ContentBlock{
				Type:  b.Type,
				Text:  b.Text,
				ID:    b.ID,
				Name:  b.Name,
				Input: b.Input,
			})
		}
		return &AssistantEvent{SessionID: env.SessionID, Content: blocks}, nil

	case "result":
		var p resultPayload
		if err := json.Unmarshal(line, &p); err != nil {
			return nil, fmt.Errorf("parsing result event: %w", err)
		}
		ev := &ResultEvent{
			Subtype:           env.Subtype,
			SessionID:         env.SessionID,
			IsError:           p.IsError,
			Result:            p.Result,
			NumTurns:          p.NumTurns,
			DurationMS:        p.DurationMS,
			TotalCostUSD:      p.TotalCostUSD,
			Errors:            p.Errors,
			PermissionDenials: p.PermissionDenials,
		}
		if p.StopReason != nil {
			ev.StopReason = *p.StopReason
		}
		return ev, nil

	default:
		return &UnknownEvent{
			Type:    env.Type,
			Subtype: env.Subtype,
			Raw:     append(json.RawMessage(nil), line...),
		}, nil
	}
}
