/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package protocol carries newline-delimited JSON between this process and a sorter (or a
// DWS device) over TCP. One Endpoint handles framing and fan-out; a Role decides whether
// connections are accepted or dialled.
package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/Hisoka6602/ZakYip.Sorting.RuleEngine.Core-sub004/model"
)

// DefaultMaxFrameSize bounds a single line. Longer lines are discarded.
const DefaultMaxFrameSize = 64 * 1024

var (
	ErrProtocolDecode     = errors.New("protocol decode error")
	ErrConnectionLost     = errors.New("connection lost")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	ErrEndpointClosed     = errors.New("endpoint closed")
	ErrNoLinks            = errors.New("no connected links")
	ErrFrameEncode        = errors.New("frame encode error")

	// ErrFrameTooLong is returned for a line over the frame limit. The reader stays usable.
	ErrFrameTooLong = fmt.Errorf("%w: frame too long", ErrProtocolDecode)
)

// Encode renders v as a single frame: compact JSON followed by '\n'.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// FrameReader splits a stream into frames. Both "\n" and "\r\n" terminate a frame.
type FrameReader struct {
	r       *bufio.Reader
	maxSize int
}

// NewFrameReader reads frames of at most maxSize bytes from r.
func NewFrameReader(r io.Reader, maxSize int) *FrameReader {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}
	return &FrameReader{r: bufio.NewReaderSize(r, maxSize), maxSize: maxSize}
}

// Next returns the next frame without its terminator. The returned slice is owned by the
// caller. A line over the limit is skipped up to its terminator and reported as
// ErrFrameTooLong; reading may continue afterwards. io.EOF marks a clean end of stream.
func (f *FrameReader) Next() ([]byte, error) {
	line, err := f.r.ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) {
		for errors.Is(err, bufio.ErrBufferFull) {
			_, err = f.r.ReadSlice('\n')
		}
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: over %d bytes", ErrFrameTooLong, f.maxSize)
	}
	if err != nil && (!errors.Is(err, io.EOF) || len(line) == 0) {
		return nil, err
	}

	line = bytes.TrimSuffix(line, []byte("\n"))
	line = bytes.TrimSuffix(line, []byte("\r"))
	frame := make([]byte, len(line))
	copy(frame, line)
	return frame, nil
}

// IsBlank reports whether a frame carries nothing but whitespace. Such frames are keep-alives.
func IsBlank(frame []byte) bool {
	return len(bytes.TrimSpace(frame)) == 0
}

type detectionFrame struct {
	ParcelID      *int64            `json:"parcelId"`
	DetectionTime *json.RawMessage  `json:"detectionTime"`
	Metadata      map[string]string `json:"metadata"`
}

// DecodeDetection parses a parcel-detected frame. Any failure wraps ErrProtocolDecode.
func DecodeDetection(frame []byte) (model.ParcelDetectionNotification, error) {
	var raw detectionFrame
	if err := json.Unmarshal(bytes.TrimSpace(frame), &raw); err != nil {
		return model.ParcelDetectionNotification{}, fmt.Errorf("%w: %v", ErrProtocolDecode, err)
	}
	err := validation.ValidateStruct(&raw,
		validation.Field(&raw.ParcelID, validation.Required, validation.Min(int64(1))),
	)
	if err != nil {
		return model.ParcelDetectionNotification{}, fmt.Errorf("%w: %v", ErrProtocolDecode, err)
	}

	msg := model.ParcelDetectionNotification{ParcelID: *raw.ParcelID, Metadata: raw.Metadata}
	if raw.DetectionTime != nil {
		if err := json.Unmarshal(*raw.DetectionTime, &msg.DetectionTime); err != nil {
			return model.ParcelDetectionNotification{}, fmt.Errorf("%w: detectionTime: %v", ErrProtocolDecode, err)
		}
	}
	return msg, nil
}

// DecodeAssignment parses a chute-assignment frame, as written by EncodeAssignment.
func DecodeAssignment(frame []byte) (model.ChuteAssignmentNotification, error) {
	var msg model.ChuteAssignmentNotification
	if err := json.Unmarshal(bytes.TrimSpace(frame), &msg); err != nil {
		return msg, fmt.Errorf("%w: %v", ErrProtocolDecode, err)
	}
	if msg.ParcelID <= 0 {
		return msg, fmt.Errorf("%w: missing parcelId", ErrProtocolDecode)
	}
	return msg, nil
}

// EncodeAssignment renders a chute assignment frame.
func EncodeAssignment(msg model.ChuteAssignmentNotification) ([]byte, error) {
	return Encode(msg)
}
