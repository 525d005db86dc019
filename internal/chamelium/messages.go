// Package chamelium exposes a display fixture over a websocket wire: plug and
// unplug ports, program EDIDs, schedule hotplug pulses, capture frame
// checksums and dump frames. The fixture side fronts a kms.Device; the client
// side is what suites drive when the fixture runs out of process.
package chamelium

import (
	"encoding/json"
	"fmt"
)

const Version = "1"

// Request types (client -> fixture).
const (
	TypeReset       = "RESET"
	TypeProbePorts  = "PROBE_PORTS"
	TypePlug        = "PLUG"
	TypeUnplug      = "UNPLUG"
	TypeSetEDID     = "SET_EDID"
	TypeSetDDC      = "SET_DDC"
	TypeScheduleHPD = "SCHEDULE_HPD_TOGGLE"
	TypeCapture     = "CAPTURE"
	TypeReadCRCs    = "READ_CRCS"
	TypeDumpFrame   = "DUMP_FRAME"
)

// TypeResult is the single fixture -> client response type.
const TypeResult = "RESULT"

// Wire error codes.
const (
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrUnknownPort     = "E_UNKNOWN_PORT"
	ErrNoCapture       = "E_NO_CAPTURE"
	ErrUnsupported     = "E_UNSUPPORTED"
	ErrInternal        = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrUnknownPort:     {},
	ErrNoCapture:       {},
	ErrUnsupported:     {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// BaseMessage is the envelope shared by every message; decode it first to
// route on Type.
type BaseMessage struct {
	Type string `json:"type"`
	ID   uint64 `json:"id"`
}

func DecodeBase(raw []byte) (BaseMessage, error) {
	var b BaseMessage
	if err := json.Unmarshal(raw, &b); err != nil {
		return b, fmt.Errorf("decode envelope: %w", err)
	}
	if b.Type == "" {
		return b, fmt.Errorf("message has no type")
	}
	return b, nil
}

// Request is a fixture command. Port selects a connector by ID; which of the
// remaining fields matter depends on Type.
type Request struct {
	Type string `json:"type"`
	ID   uint64 `json:"id"`

	Port       int    `json:"port,omitempty"`
	EDID       []byte `json:"edid,omitempty"`
	Enable     *bool  `json:"enable,omitempty"`
	DelayMS    int    `json:"delay_ms,omitempty"`
	FrameCount int    `json:"frame_count,omitempty"`
}

// PortInfo describes one fixture port in a PROBE_PORTS response.
type PortInfo struct {
	Port      int    `json:"port"`
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
}

// Response answers the request with the matching ID. OK false carries a code
// from the set above plus a human-readable message.
type Response struct {
	Type    string `json:"type"`
	ID      uint64 `json:"id"`
	OK      bool   `json:"ok"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`

	Ports  []PortInfo `json:"ports,omitempty"`
	CRCs   []string   `json:"crcs,omitempty"`
	Frame  []byte     `json:"frame,omitempty"`
	Width  int        `json:"width,omitempty"`
	Height int        `json:"height,omitempty"`
}
