package comm

import (
	"github.com/pkg/errors"
)

// Structs

// message is implemented by everything sent over
// the peer service.
type message interface {
	Marshal() []byte
	Unmarshal(data []byte) error
}

// codec is forced onto every call of the peer service
// in place of the default proto codec.
type codec struct{}

// Functions

// Marshal encodes one message of the peer service.
func (codec) Marshal(v interface{}) ([]byte, error) {

	m, ok := v.(message)
	if !ok {
		return nil, errors.Errorf("cannot marshal %T with gallery codec", v)
	}

	return m.Marshal(), nil
}

// Unmarshal decodes data into v.
func (codec) Unmarshal(data []byte, v interface{}) error {

	m, ok := v.(message)
	if !ok {
		return errors.Errorf("cannot unmarshal into %T with gallery codec", v)
	}

	return m.Unmarshal(data)
}

// Name identifies the codec in content-type headers.
func (codec) Name() string {
	return "gallery"
}
