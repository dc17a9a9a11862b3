package rfc6242

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestEOMEncoding(t *testing.T) {

	tests := []struct {
		name   string
		inputs []string
		eom    bool
		expect string
	}{
		{"SimpleMessagePart", []string{"ABC"}, false, "ABC"},
		{"MultiPartMessage", []string{"ABC", "XYZ"}, false, "ABCXYZ"},
		{"TerminatedMessage", []string{"ABC", "XYZ"}, true, "ABCXYZ" + EOM},
		{"EmptyMessage", []string{""}, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {

			buf := bytes.NewBuffer([]byte{})
			e := NewEncoder(buf)

			for _, i := range tt.inputs {
				_, _ = e.Write([]byte(i))
			}
			if tt.eom {
				_ = e.EndOfMessage()
			}

			result := buf.String()
			if tt.expect != result {
				t.Errorf("Encoder %s: buffer mismatch wanted >%s< got >%s<", tt.name, tt.expect, result)
			}

			e.Close()
		})
	}
}

func TestChunkedEncodeDecodeIdentity(t *testing.T) {
	for _, n := range []int{1, 2, 4095, 4096, 4097, 65535} {
		msg := strings.Repeat("x", n-1) + "!"

		var buf bytes.Buffer
		e := NewEncoder(&buf)
		SetChunkedFraming(e)
		if _, err := e.Write([]byte(msg)); err != nil {
			t.Fatalf("size %d: encode: %v", n, err)
		}
		if err := e.EndOfMessage(); err != nil {
			t.Fatalf("size %d: end of message: %v", n, err)
		}

		d := NewDecoder(bytes.NewReader(buf.Bytes()), WithFramer(decoderChunked))
		var got []byte
		rbuf := make([]byte, 8192)
		for {
			c, err := d.Read(rbuf)
			got = append(got, rbuf[:c]...)
			if err == io.EOF {
				break
			}
			if err != nil {
				t.Fatalf("size %d: decode: %v", n, err)
			}
		}
		if string(got) != msg {
			t.Errorf("size %d: decoded %d bytes, want %d", n, len(got), n)
		}
	}
}

func TestChunkedEncoding(t *testing.T) {
	tests := []struct {
		name    string
		chunksz uint32
		inputs  []string
		eom     bool
		expect  string
	}{
		{"SimpleMessagePart", 0, []string{"ABC"}, false, "\n#3\nABC"},
		{"SimpleTerminatedMessage", 0, []string{"ABC"}, true, "\n#3\n" + "ABC" + "\n##\n"},
		{"ChunkedMessage", 5, []string{"ABCDEFGH"}, true, "\n#5\n" + "ABCDE" + "\n#3\n" + "FGH" + "\n##\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {

			buf := bytes.NewBuffer([]byte{})
			e := NewEncoder(buf, WithMaximumChunkSize(tt.chunksz))
			SetChunkedFraming(e)

			for _, i := range tt.inputs {
				_, _ = e.Write([]byte(i))
			}
			if tt.eom {
				_ = e.EndOfMessage()
			}

			result := buf.String()
			if tt.expect != result {
				t.Errorf("Encoder %s: buffer mismatch wanted >%s< got >%s<", tt.name, tt.expect, result)
			}
		})
	}
}
