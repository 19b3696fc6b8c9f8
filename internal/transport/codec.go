package transport

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/net/websocket"
)

// Codec names.
const (
	CodecJSON    = "json"
	CodecMsgpack = "msgpack"
)

// Msgpack sends MessagePack-encoded binary frames.
var Msgpack = websocket.Codec{Marshal: msgpackMarshal, Unmarshal: msgpackUnmarshal}

func msgpackMarshal(v any) ([]byte, byte, error) {
	data, err := msgpack.Marshal(v)
	return data, websocket.BinaryFrame, err
}

func msgpackUnmarshal(data []byte, _ byte, v any) error {
	return msgpack.Unmarshal(data, v)
}

// CodecByName returns the frame codec for name. Empty means JSON.
func CodecByName(name string) (websocket.Codec, error) {
	switch name {
	case "", CodecJSON:
		return websocket.JSON, nil
	case CodecMsgpack:
		return Msgpack, nil
	default:
		return websocket.Codec{}, fmt.Errorf("unknown codec %q (valid: json, msgpack)", name)
	}
}
