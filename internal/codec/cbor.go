package codec

import (
	"io"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// CBOR encodes with core deterministic ordering and decodes generic
// values as map[string]any and int64, so that values which travel through
// the backend compare equal regardless of which side produced them.
type CBOR struct{}

var (
	cborOnce sync.Once
	cborEnc  cbor.EncMode
	cborDec  cbor.DecMode
)

func cborModes() (cbor.EncMode, cbor.DecMode) {
	cborOnce.Do(func() {
		em, err := cbor.CoreDetEncOptions().EncMode()
		if err != nil {
			panic(err)
		}
		dm, err := cbor.DecOptions{
			DefaultMapType: mapStringAny,
			IntDec:         cbor.IntDecConvertSigned,
		}.DecMode()
		if err != nil {
			panic(err)
		}
		cborEnc, cborDec = em, dm
	})
	return cborEnc, cborDec
}

func (CBOR) Marshal(v any) ([]byte, error) {
	em, _ := cborModes()
	return em.Marshal(v)
}

func (CBOR) NewEncoder(w io.Writer) Encoder {
	em, _ := cborModes()
	return em.NewEncoder(w)
}

func (CBOR) Unmarshal(data []byte, dst any) error {
	_, dm := cborModes()
	return dm.Unmarshal(data, dst)
}

func (CBOR) NewDecoder(r io.Reader) Decoder {
	_, dm := cborModes()
	return dm.NewDecoder(r)
}

// Convert re-encodes src into dst. It is how loosely typed snapshot values
// are decoded into structs and how structs are turned into generic trees.
func Convert(src, dst any) error {
	var c CBOR
	b, err := c.Marshal(src)
	if err != nil {
		return err
	}
	return c.Unmarshal(b, dst)
}
