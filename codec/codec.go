// Package codec layers XML message framing on top of RFC6242 transport
// framing: a Decoder/Encoder pair that read and write whole NETCONF XML
// documents, delimited by end-of-message or chunked framing underneath.
package codec

import (
	"encoding/xml"
	"io"

	"github.com/netconf-go/netconf/rfc6242"
)

// Decoder decodes NETCONF XML messages from an RFC6242-framed stream.
type Decoder struct {
	*xml.Decoder
	ncDecoder *rfc6242.Decoder
}

// Encoder encodes NETCONF XML messages to an RFC6242-framed stream.
type Encoder struct {
	xmlEncoder *xml.Encoder
	ncEncoder  *rfc6242.Encoder
}

// Encode marshals msg as XML and terminates it with the current framing's
// end-of-message marker.
func (e *Encoder) Encode(msg interface{}) error {
	if err := e.xmlEncoder.Encode(msg); err != nil {
		return err
	}
	return e.ncEncoder.EndOfMessage()
}

// NewDecoder creates a Decoder reading framed NETCONF messages from t.
func NewDecoder(t io.Reader) *Decoder {
	ncDecoder := rfc6242.NewDecoder(t)
	return &Decoder{Decoder: xml.NewDecoder(ncDecoder), ncDecoder: ncDecoder}
}

// NewEncoder creates an Encoder writing framed NETCONF messages to t.
func NewEncoder(t io.Writer) *Encoder {
	ncEncoder := rfc6242.NewEncoder(t)
	return &Encoder{xmlEncoder: xml.NewEncoder(ncEncoder), ncEncoder: ncEncoder}
}

// EnableChunkedFraming switches d and e from end-of-message to chunked
// framing, as required once both peers' hello messages have advertised
// base:1.1 support.
func EnableChunkedFraming(d *Decoder, e *Encoder) {
	rfc6242.SetChunkedFraming(d.ncDecoder, e.ncEncoder)
}
