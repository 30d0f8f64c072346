// Package codec turns table views into the frames pushed over the view
// stream. Frames are protobuf Struct messages: binary for regular clients,
// protojson for debugging tools.
package codec

import (
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"jantaku-lite/apps/server/internal/viewer"
)

type Kind string

const (
	KindView  Kind = "view"
	KindError Kind = "error"
	// KindGone tells the client the table no longer exists.
	KindGone Kind = "gone"
)

type Format int

const (
	FormatBinary Format = iota
	FormatJSON
)

// ParseFormat maps the "format" query value; anything but "json" is binary.
func ParseFormat(raw string) Format {
	if raw == "json" {
		return FormatJSON
	}
	return FormatBinary
}

// Envelope wraps a payload with the common frame fields.
func Envelope(kind Kind, tableID, seq uint64, payload map[string]any) (*structpb.Struct, error) {
	fields := map[string]any{
		"type":         string(kind),
		"table_id":     float64(tableID),
		"server_seq":   float64(seq),
		"server_ts_ms": float64(time.Now().UnixMilli()),
	}
	if payload != nil {
		fields["payload"] = payload
	}
	env, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("build %s envelope: %w", kind, err)
	}
	return env, nil
}

// ViewFrame converts v to a view envelope. The view goes through its JSON
// form so the frame carries the same field names as the HTTP API.
func ViewFrame(v viewer.View, seq uint64) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode view: %w", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode view: %w", err)
	}
	return Envelope(KindView, v.Table.ID, seq, payload)
}

func ErrorFrame(tableID, seq uint64, code, msg string) (*structpb.Struct, error) {
	return Envelope(KindError, tableID, seq, map[string]any{"code": code, "message": msg})
}

func GoneFrame(tableID, seq uint64) (*structpb.Struct, error) {
	return Envelope(KindGone, tableID, seq, nil)
}

func Marshal(env *structpb.Struct, format Format) ([]byte, error) {
	if format == FormatJSON {
		return protojson.Marshal(env)
	}
	return proto.Marshal(env)
}

func Unmarshal(data []byte, format Format) (*structpb.Struct, error) {
	env := &structpb.Struct{}
	var err error
	if format == FormatJSON {
		err = protojson.Unmarshal(data, env)
	} else {
		err = proto.Unmarshal(data, env)
	}
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return env, nil
}

// KindOf reads the type field of a decoded frame.
func KindOf(env *structpb.Struct) Kind {
	return Kind(env.GetFields()["type"].GetStringValue())
}
