package jsonx

import "github.com/goccy/go-json"

// Stores encode documents through these so the codec can be swapped in one place.
var (
	Marshal       = json.Marshal
	MarshalIndent = json.MarshalIndent
	Unmarshal     = json.Unmarshal
)

type RawMessage = json.RawMessage
