package wire

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestEncode(t *testing.T) {
	msg := Encode([]byte("hello"))
	want := []byte{0, 0, 0, 5, 'h', 'e', 'l', 'l', 'o'}
	if !bytes.Equal(msg, want) {
		t.Errorf("got %v, want %v", msg, want)
	}
	if err := Validate(msg); err != nil {
		t.Errorf("valid message rejected: %v", err)
	}
}

func TestHeartbeat(t *testing.T) {
	hb := Heartbeat()
	if !bytes.Equal(hb, []byte{0, 0, 0, 0}) {
		t.Fatalf("unexpected heartbeat %v", hb)
	}
	if !IsHeartbeat(hb) {
		t.Error("heartbeat not recognised")
	}
	if IsHeartbeat(Encode([]byte{1})) {
		t.Error("data message recognised as heartbeat")
	}

	// 修改返回值不能影响后续心跳
	hb[0] = 9
	if !IsHeartbeat(Heartbeat()) {
		t.Error("heartbeat template was mutated")
	}
}

func TestReadMessage_Sequence(t *testing.T) {
	var buf bytes.Buffer
	_ = WriteMessage(&buf, []byte("one"))
	buf.Write(Heartbeat())
	_ = WriteMessage(&buf, []byte("three"))

	want := []string{"one", "", "three"}
	for i, w := range want {
		got, err := ReadMessage(&buf, DefaultMaxPayload)
		if err != nil {
			t.Fatalf("message %d: %v", i, err)
		}
		if string(got) != w {
			t.Errorf("message %d: got %q want %q", i, got, w)
		}
	}

	if _, err := ReadMessage(&buf, DefaultMaxPayload); err != io.EOF {
		t.Errorf("expected io.EOF at end of stream, got %v", err)
	}
}

func TestReadMessage_Truncated(t *testing.T) {
	msg := Encode([]byte("truncated"))
	_, err := ReadMessage(bytes.NewReader(msg[:7]), DefaultMaxPayload)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("expected ErrUnexpectedEOF, got %v", err)
	}

	_, err = ReadMessage(bytes.NewReader(msg[:2]), DefaultMaxPayload)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("expected ErrUnexpectedEOF for partial header, got %v", err)
	}
}

func TestReadMessage_TooLarge(t *testing.T) {
	msg := Encode(make([]byte, 100))
	_, err := ReadMessage(bytes.NewReader(msg), 10)
	if !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("expected ErrMessageTooLarge, got %v", err)
	}
}

func TestValidate_Malformed(t *testing.T) {
	for _, msg := range [][]byte{nil, {0, 0}, {0, 0, 0, 5, 1}} {
		if err := Validate(msg); !errors.Is(err, ErrMalformed) {
			t.Errorf("Validate(%v) = %v, want ErrMalformed", msg, err)
		}
	}
}

func TestConstants(t *testing.T) {
	if DefaultPort != 9041 {
		t.Errorf("DefaultPort = %d, want 9041", DefaultPort)
	}
	if HeaderSize != 4 {
		t.Errorf("HeaderSize = %d, want 4", HeaderSize)
	}
}
