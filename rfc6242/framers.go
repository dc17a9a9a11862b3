// Copyright 2018 Andrew Fort
//
//    Licensed under the Apache License, Version 2.0 (the "License");
//    you may not use this file except in compliance with the License.
//    You may obtain a copy of the License at
//
//        http://www.apache.org/licenses/LICENSE-2.0
//
//    Unless required by applicable law or agreed to in writing, software
//    distributed under the License is distributed on an "AS IS" BASIS,
//    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//    See the License for the specific language governing permissions and
//    limitations under the License.

package rfc6242

import (
	"bytes"
	"io"
	"strconv"

	"github.com/pkg/errors"
)

// tokenEOM is the NETCONF 1.0 end-of-message sentinel (RFC6242 section 3).
var tokenEOM = []byte("]]>]]>")

// decoderEndOfMessage is the default FramerFn, implementing the NETCONF 1.0
// framing: a message is a run of bytes terminated by tokenEOM. It accumulates
// input until the sentinel is seen, then yields everything preceding it.
func decoderEndOfMessage(d *Decoder, data []byte, atEOF bool) (advance int, token []byte, err error) {
	if idx := bytes.Index(data, tokenEOM); idx >= 0 {
		advance = idx + len(tokenEOM)
		d.messageComplete()
		return advance, data[:idx], nil
	}
	if atEOF {
		if len(data) == 0 {
			return 0, nil, nil
		}
		return 0, nil, errors.WithStack(io.ErrUnexpectedEOF)
	}
	return 0, nil, nil
}

// messageComplete records that a framing boundary has been crossed and
// applies any framer switch requested while the previous message was still
// being decoded (see setFramer).
func (d *Decoder) messageComplete() {
	d.anySeen = true
	if d.pendingFramer != nil {
		d.framer = d.pendingFramer
		d.pendingFramer = nil
	}
}

// decoderChunked implements the NETCONF 1.1 chunked framing state machine:
// one or more "\n#<size>\n<size bytes>" chunks followed by a "\n##\n"
// end-of-chunks marker. Chunk headers and end markers yield no token, so it
// keeps consuming them from data until it reaches chunk data or needs more
// input.
func decoderChunked(d *Decoder, data []byte, atEOF bool) (advance int, token []byte, err error) {
	for {
		var n int
		if d.chunkDataLeft > 0 {
			n, token, err = chunkBody(d, data[advance:], atEOF)
		} else {
			n, token, err = chunkHeader(d, data[advance:], atEOF)
		}
		advance += n
		if err != nil || token != nil || n == 0 {
			return advance, token, err
		}
	}
}

func chunkBody(d *Decoder, data []byte, atEOF bool) (advance int, token []byte, err error) {
	need := d.chunkDataLeft
	if uint64(len(data)) >= need {
		d.chunkDataLeft = 0
		return int(need), data[:need], nil
	}
	if atEOF {
		return 0, nil, errors.WithStack(io.ErrUnexpectedEOF)
	}
	return 0, nil, nil
}

func chunkHeader(d *Decoder, data []byte, atEOF bool) (advance int, token []byte, err error) {
	if len(data) < 2 {
		if atEOF && len(data) > 0 {
			return 0, nil, errors.New("invalid chunk header")
		}
		return 0, nil, nil
	}
	if data[0] != '\n' || data[1] != '#' {
		return 0, nil, errors.New("invalid chunk header")
	}
	if len(data) < 3 {
		if atEOF {
			return 0, nil, errors.New("invalid chunk header")
		}
		return 0, nil, nil
	}
	if data[2] == '#' {
		// end-of-chunks marker: "\n##\n"
		if len(data) < 4 {
			if atEOF {
				return 0, nil, errors.New("invalid chunk header")
			}
			return 0, nil, nil
		}
		if data[3] != '\n' {
			return 0, nil, errors.New("invalid chunk header")
		}
		d.messageComplete()
		return 4, nil, nil
	}

	i := 2
	for i < len(data) && data[i] >= '0' && data[i] <= '9' {
		i++
		if i-2 > rfc6242maximumAllowedChunkSizeLength {
			return 0, nil, errors.New("no valid chunk-size detected")
		}
	}
	if i == 2 {
		return 0, nil, errors.New("invalid chunk header")
	}
	if i >= len(data) {
		if atEOF {
			return 0, nil, errors.New("invalid chunk header")
		}
		return 0, nil, nil
	}
	if data[i] != '\n' {
		return 0, nil, errors.New("invalid chunk header")
	}

	digits := string(data[2:i])
	if len(digits) > 1 && digits[0] == '0' {
		return 0, nil, errors.New("invalid chunk header")
	}
	size, convErr := strconv.ParseUint(digits, 10, 64)
	if convErr != nil {
		return 0, nil, errors.Wrap(convErr, "invalid chunk header")
	}
	if size == 0 {
		return 0, nil, errors.New("invalid chunk header")
	}
	if size > rfc6242maximumAllowedChunkSize {
		return 0, nil, errors.New("chunk size larger than maximum")
	}

	d.chunkDataLeft = size
	return i + 1, nil, nil
}
