package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Backend HTTP payloads shared by the server and the booth client.

type StartSessionRequest struct {
	SessionID   string `json:"session_id"`
	BoothID     string `json:"booth_id"`
	Personality string `json:"personality"`
	Mode        string `json:"mode,omitempty"`
}

type StartSessionResponse struct {
	SessionID        string `json:"session_id"`
	Created          bool   `json:"created"`
	ExpiresInSeconds int64  `json:"expires_in_seconds"`
}

type Scene struct {
	Caption string   `json:"caption,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

type GenerateRequest struct {
	SessionID   string `json:"session_id"`
	Personality string `json:"personality,omitempty"`
	Mode        string `json:"mode,omitempty"`
	UserText    string `json:"user_text"`
	Scene       *Scene `json:"scene,omitempty"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type GenerateResponse struct {
	Text        string `json:"text"`
	Personality string `json:"personality"`
	Mode        string `json:"mode,omitempty"`
	Usage       Usage  `json:"usage"`
}

type ReleaseRequest struct {
	SessionID string `json:"session_id"`
}

type OKResponse struct {
	OK bool `json:"ok"`
}

type Turn struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

type SessionView struct {
	SessionID    string    `json:"session_id"`
	BoothID      string    `json:"booth_id"`
	Personality  string    `json:"personality"`
	Mode         string    `json:"mode"`
	History      []Turn    `json:"history"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

type PersonaInfo struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	DefaultVoice string `json:"default_voice,omitempty"`
	ReplyLength  string `json:"reply_length"`
}

type PersonasResponse struct {
	Personas []PersonaInfo `json:"personas"`
	Modes    []string      `json:"modes"`
}

type ModelInfo struct {
	Engine        string  `json:"engine"`
	Model         string  `json:"current_model"`
	ContextLength int     `json:"context_length"`
	Temperature   float64 `json:"temperature"`
	TopP          float64 `json:"top_p"`
	MaxTokens     int     `json:"max_tokens"`
	GPULayers     int     `json:"gpu_layers"`
}

type ModelsResponse struct {
	Engine       string   `json:"engine"`
	CurrentModel string   `json:"current_model"`
	Models       []string `json:"models"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Error codes carried in ErrorResponse.Code.
const (
	CodeSessionExpired      = "session_expired"
	CodeUnknownPersona      = "unknown_persona"
	CodeInvalidRequest      = "invalid_request"
	CodePersonalityMismatch = "personality_mismatch"
	CodeEngineUnavailable   = "engine_unavailable"
	CodeGenerationTimeout   = "generation_timeout"
	CodeInternal            = "internal_error"
)

// MessageType identifies websocket payload variants sent to light controllers.
type MessageType string

const (
	TypeLightLevel MessageType = "light_level"
	TypeLightOff   MessageType = "light_off"
)

var (
	ErrUnsupportedType = errors.New("unsupported message type")
	ErrInvalidLevel    = errors.New("light level out of range")
)

type Envelope struct {
	Type MessageType `json:"type"`
}

// LightFrame is one brightness update for a booth light.
type LightFrame struct {
	Type    MessageType `json:"type"`
	BoothID string      `json:"booth_id,omitempty"`
	Seq     int64       `json:"seq"`
	Level   float64     `json:"level"`
	TSMs    int64       `json:"ts_ms"`
}

func ParseLightFrame(raw []byte) (LightFrame, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return LightFrame{}, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeLightLevel, TypeLightOff:
		var msg LightFrame
		if err := json.Unmarshal(raw, &msg); err != nil {
			return LightFrame{}, err
		}
		if msg.Level < 0 || msg.Level > 1 {
			return LightFrame{}, fmt.Errorf("%w: %v", ErrInvalidLevel, msg.Level)
		}
		if msg.Type == TypeLightOff && msg.Level != 0 {
			return LightFrame{}, errors.New("invalid light_off: level must be 0")
		}
		return msg, nil
	default:
		return LightFrame{}, ErrUnsupportedType
	}
}
