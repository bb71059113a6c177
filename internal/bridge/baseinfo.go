// Package bridge implements the stateful proxy CORE: the warmup pool,
// connection lifecycle, message pump, tool dispatch, abuse gate, and
// session registry that together bridge end-user WebSocket clients to an
// upstream multimodal streaming session.
package bridge

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"time"
)

// Default BaseInfo field values, applied when a query parameter is absent
// or decodes to an empty string.
const (
	DefaultLocation = "Beijing"
	DefaultVoice    = "Aoede"
	DefaultUserID   = "123456"
)

// BaseInfo is the per-connection context assembled from query parameters.
// It is immutable after construction.
type BaseInfo struct {
	UserID    string
	Token     string // carried for parity with the upstream schema; never used for authorization.
	Latitude  string
	Longitude string
	Voice     string
	Location  string
	Date      string
}

// rawParam is the JSON shape of the base64-decoded `param` query value.
type rawParam struct {
	Voice     string `json:"voice"`
	UserID    string `json:"userId"`
	Token     string `json:"token"`
	Latitude  string `json:"latitude"`
	Longitude string `json:"longitude"`
	Location  string `json:"location"`
	Date      string `json:"date"`
}

// ParseBaseInfo extracts BaseInfo from the WebSocket upgrade request's query
// string. The `param` value is base64-decoded then JSON-decoded; any field
// left empty (or if `param` is absent or malformed) takes its default value.
// Parsing never fails: a malformed or missing param simply yields all
// defaults, matching the source behavior of tolerating best-effort clients.
func ParseBaseInfo(query url.Values) BaseInfo {
	var raw rawParam
	if encoded := query.Get("param"); encoded != "" {
		if decoded, err := base64.StdEncoding.DecodeString(encoded); err == nil {
			_ = json.Unmarshal(decoded, &raw)
		}
	}

	info := BaseInfo{
		UserID:    raw.UserID,
		Token:     raw.Token,
		Latitude:  raw.Latitude,
		Longitude: raw.Longitude,
		Voice:     raw.Voice,
		Location:  raw.Location,
		Date:      raw.Date,
	}
	if info.UserID == "" {
		info.UserID = DefaultUserID
	}
	if info.Voice == "" {
		info.Voice = DefaultVoice
	}
	if info.Location == "" {
		info.Location = DefaultLocation
	}
	if info.Date == "" {
		info.Date = time.Now().Format("2006-01-02 15:04:05")
	}
	return info
}

// PublishUserID returns the user identifier to stamp on a published
// transcript message. It mirrors the source's truthiness test on userId,
// falling back to the literal "123456" when UserID is empty — preserved
// literally as a test-observable default, not a bug (see SPEC_FULL.md §9).
func (b BaseInfo) PublishUserID() string {
	if b.UserID == "" {
		return DefaultUserID
	}
	return b.UserID
}

// SystemInstruction renders the upstream system prompt template with the
// connection's Time and Location.
func (b BaseInfo) SystemInstruction(template string) string {
	return fmt.Sprintf(template, b.Date, b.Location)
}
