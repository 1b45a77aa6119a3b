package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		name    string
		cmd     Command
		payload []byte
		want    []byte
	}{
		{
			name:    "echo request",
			cmd:     EchoReq,
			payload: []byte("hello"),
			want:    append([]byte("\x00REQ\x00\x00\x00\x10\x00\x00\x00\x05"), "hello"...),
		},
		{
			name:    "empty payload",
			cmd:     PreSleep,
			payload: nil,
			want:    []byte("\x00REQ\x00\x00\x00\x04\x00\x00\x00\x00"),
		},
		{
			name:    "large command code",
			cmd:     Command(0xDEADBEEF),
			payload: []byte{0x00},
			want:    []byte("\x00REQ\xde\xad\xbe\xef\x00\x00\x00\x01\x00"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Encode(tt.cmd, tt.payload)
			if !bytes.Equal(got, tt.want) {
				t.Errorf("Encode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEncodeFrameResponse(t *testing.T) {
	got := EncodeFrame(Frame{Kind: KindResponse, Command: EchoRes, Payload: []byte("hi")})
	if !bytes.HasPrefix(got, MagicResponse[:]) {
		t.Fatalf("EncodeFrame() magic = %q, want %q", got[:MagicSize], MagicResponse[:])
	}
	if cmd := binary.BigEndian.Uint32(got[4:8]); Command(cmd) != EchoRes {
		t.Errorf("command = %d, want %d", cmd, EchoRes)
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		cmd     Command
		payload []byte
	}{
		{"empty", Noop, []byte{}},
		{"text", WorkComplete, []byte("H:lap:1\x00result")},
		{"binary", WorkData, []byte{0x00, 0xff, 0x00, 0x01}},
		{"big", SubmitJob, bytes.Repeat([]byte("x"), 70000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frames, rest, err := Decode(Encode(tt.cmd, tt.payload))
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if len(rest) != 0 {
				t.Errorf("rest = %d bytes, want 0", len(rest))
			}
			if len(frames) != 1 {
				t.Fatalf("frames = %d, want 1", len(frames))
			}
			f := frames[0]
			if f.Kind != KindRequest {
				t.Errorf("kind = %s, want REQ", f.Kind)
			}
			if f.Command != tt.cmd {
				t.Errorf("command = %s, want %s", f.Command, tt.cmd)
			}
			if !bytes.Equal(f.Payload, tt.payload) {
				t.Errorf("payload mismatch: got %d bytes, want %d", len(f.Payload), len(tt.payload))
			}
		})
	}
}

func TestDecodePartial(t *testing.T) {
	full := EncodeFrame(Frame{Kind: KindResponse, Command: EchoRes, Payload: []byte("hello")})

	tests := []struct {
		name     string
		buf      []byte
		frames   int
		restSize int
	}{
		{"empty buffer", nil, 0, 0},
		{"magic only", full[:4], 0, 4},
		{"header without payload", full[:HeaderSize], 0, HeaderSize},
		{"one byte short", full[:len(full)-1], 0, len(full) - 1},
		{"exact frame", full, 1, 0},
		{"frame plus next header start", append(append([]byte{}, full...), full[:6]...), 1, 6},
		{"two frames", append(append([]byte{}, full...), full...), 2, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frames, rest, err := Decode(tt.buf)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if len(frames) != tt.frames {
				t.Errorf("frames = %d, want %d", len(frames), tt.frames)
			}
			if len(rest) != tt.restSize {
				t.Errorf("rest = %d bytes, want %d", len(rest), tt.restSize)
			}
		})
	}
}

func TestDecodeFragmented(t *testing.T) {
	var stream []byte
	want := []Frame{
		{Kind: KindResponse, Command: JobCreated, Payload: []byte("H:host:1")},
		{Kind: KindResponse, Command: WorkStatus, Payload: []byte("H:host:1\x001\x002")},
		{Kind: KindResponse, Command: WorkComplete, Payload: []byte("H:host:1\x00done")},
	}
	for _, f := range want {
		stream = append(stream, EncodeFrame(f)...)
	}

	for size := 1; size <= len(stream); size++ {
		var buf []byte
		var got []Frame
		for off := 0; off < len(stream); off += size {
			end := off + size
			if end > len(stream) {
				end = len(stream)
			}
			buf = append(buf, stream[off:end]...)
			frames, rest, err := Decode(buf)
			if err != nil {
				t.Fatalf("chunk size %d: Decode() error = %v", size, err)
			}
			got = append(got, frames...)
			buf = rest
		}
		if len(buf) != 0 {
			t.Errorf("chunk size %d: leftover %d bytes", size, len(buf))
		}
		if len(got) != len(want) {
			t.Fatalf("chunk size %d: frames = %d, want %d", size, len(got), len(want))
		}
		for i := range want {
			if got[i].Command != want[i].Command || !bytes.Equal(got[i].Payload, want[i].Payload) {
				t.Errorf("chunk size %d: frame %d = %s, want %s", size, i, got[i], want[i])
			}
		}
	}
}

func TestDecodeMalformedHeader(t *testing.T) {
	good := EncodeFrame(Frame{Kind: KindResponse, Command: EchoRes, Payload: []byte("a")})

	tests := []struct {
		name   string
		buf    []byte
		frames int
	}{
		{"garbage", bytes.Repeat([]byte("X"), HeaderSize), 0},
		{"lowercase magic", []byte("\x00res\x00\x00\x00\x11\x00\x00\x00\x00"), 0},
		{"good frame then garbage", append(append([]byte{}, good...), bytes.Repeat([]byte("X"), HeaderSize)...), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frames, rest, err := Decode(tt.buf)
			if !errors.Is(err, ErrMalformedHeader) {
				t.Fatalf("Decode() error = %v, want ErrMalformedHeader", err)
			}
			var hdrErr *HeaderError
			if !errors.As(err, &hdrErr) {
				t.Fatalf("error %T is not *HeaderError", err)
			}
			if !IsFatal(err) {
				t.Error("IsFatal() = false, want true")
			}
			if len(frames) != tt.frames {
				t.Errorf("frames = %d, want %d", len(frames), tt.frames)
			}
			if len(rest) != HeaderSize {
				t.Errorf("rest = %d bytes, want %d", len(rest), HeaderSize)
			}
		})
	}
}

func TestDecodeShortGarbageWaitsForHeader(t *testing.T) {
	// fewer than 12 bytes cannot be judged yet
	frames, rest, err := Decode([]byte("XXXX"))
	if err != nil {
		t.Fatalf("Decode() error = %v, want nil", err)
	}
	if len(frames) != 0 || len(rest) != 4 {
		t.Errorf("frames = %d, rest = %d; want 0, 4", len(frames), len(rest))
	}
}

func TestDecoderMaxPayload(t *testing.T) {
	d := Decoder{MaxPayload: 4}

	frames, _, err := d.Decode(Encode(WorkData, []byte("1234")))
	if err != nil || len(frames) != 1 {
		t.Fatalf("at limit: frames = %d, err = %v", len(frames), err)
	}

	// only the header is needed to reject
	hdr := Encode(WorkData, []byte("12345"))[:HeaderSize]
	_, _, err = d.Decode(hdr)
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("over limit: error = %v, want ErrPayloadTooLarge", err)
	}
	if !IsFatal(err) {
		t.Error("IsFatal() = false, want true")
	}
}

func TestDecodeDoesNotAliasInput(t *testing.T) {
	buf := Encode(WorkData, []byte("abc"))
	frames, _, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	buf[HeaderSize] = 'z'
	if string(frames[0].Payload) != "abc" {
		t.Errorf("payload = %q after mutating input, want %q", frames[0].Payload, "abc")
	}
}

func TestAppendHeaderPanicsOnNegativeLength(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("AppendHeader() did not panic")
		}
	}()
	AppendHeader(nil, Noop, -1)
}

func TestKindString(t *testing.T) {
	if KindRequest.String() != "REQ" || KindResponse.String() != "RES" {
		t.Errorf("Kind strings = %s/%s", KindRequest, KindResponse)
	}
	if Kind(9).String() != "Kind(9)" {
		t.Errorf("unknown kind = %s", Kind(9))
	}
}
