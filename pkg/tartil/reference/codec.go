package reference

import (
	"fmt"

	"github.com/himanishpuri/Tartil/pkg/models"
	"github.com/vmihailenco/msgpack/v5"
)

// codecVersion is bumped whenever the payload layout changes.
const codecVersion = 1

// payload is the serialized form of a spectrogram: band-major float32 values.
type payload struct {
	Version int       `msgpack:"v"`
	Bands   int       `msgpack:"bands"`
	Frames  int       `msgpack:"frames"`
	Data    []float32 `msgpack:"data"`
}

// Encode serializes spec with msgpack.
func Encode(spec *models.Spectrogram) ([]byte, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return msgpack.Marshal(&payload{
		Version: codecVersion,
		Bands:   spec.Bands(),
		Frames:  spec.Frames(),
		Data:    spec.Flat(),
	})
}

// Decode parses a payload written by Encode.
func Decode(data []byte) (*models.Spectrogram, error) {
	var p payload
	if err := msgpack.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decoding reference payload: %w", err)
	}
	if p.Version != codecVersion {
		return nil, fmt.Errorf("unsupported reference payload version %d", p.Version)
	}
	return models.SpectrogramFromFlat(p.Bands, p.Frames, p.Data)
}
