package codec

import jsoniter "github.com/json-iterator/go"

// Serializer converts values to and from frame bodies.
type Serializer interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// JSONSerializer encodes frame bodies as JSON.
type JSONSerializer struct{}

var _ Serializer = JSONSerializer{}

func (JSONSerializer) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONSerializer) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
