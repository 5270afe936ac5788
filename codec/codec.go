package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// Codec turns a payload into the canonical bytes folded into a self-hash.
// Two equal payloads must always encode to the same bytes.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
}

const (
	JSONName = "json"
	CBORName = "cbor"
)

type jsonCodec struct{}

// JSON encodes compactly, with object keys of maps sorted and no HTML escaping.
var JSON Codec = jsonCodec{}

func (jsonCodec) Name() string { return JSONName }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

type cborCodec struct {
	mode cbor.EncMode
}

// CBOR uses the core deterministic encoding of RFC 8949 section 4.2.
var CBOR Codec = mustCBOR()

func mustCBOR() Codec {
	mode, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to build deterministic CBOR mode: %v", err))
	}
	return cborCodec{mode: mode}
}

func (cborCodec) Name() string { return CBORName }

func (c cborCodec) Marshal(v any) ([]byte, error) {
	return c.mode.Marshal(v)
}

// ByName resolves a config value. Empty means JSON.
func ByName(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", JSONName:
		return JSON, nil
	case CBORName:
		return CBOR, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}
