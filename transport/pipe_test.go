package transport

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestPipe_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	sender := NewPipe(bytes.NewReader(nil), &buf)

	frames := [][]byte{
		[]byte("hello"),
		{},
		{0x00, 0xff, 0x00},
	}
	for _, f := range frames {
		if err := sender.Send(f); err != nil {
			t.Fatalf("Send returned error: %v", err)
		}
	}

	receiver := NewPipe(&buf, io.Discard)
	for i, want := range frames {
		got, err := receiver.Receive()
		if err != nil {
			t.Fatalf("Receive #%d returned error: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("Receive #%d = %v, want %v", i, got, want)
		}
	}
}

func TestPipe_Layout(t *testing.T) {
	var buf bytes.Buffer
	p := NewPipe(bytes.NewReader(nil), &buf)
	if err := p.Send([]byte("ab")); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}

	want := []byte{0x02, 0x00, 0x00, 0x00, 'a', 'b'}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Errorf("wire bytes = % x, want % x", buf.Bytes(), want)
	}
}

func TestPipe_ReceiveAtEOF(t *testing.T) {
	p := NewPipe(bytes.NewReader(nil), io.Discard)
	if _, err := p.Receive(); !errors.Is(err, ErrClosed) {
		t.Errorf("Receive at EOF = %v, want ErrClosed", err)
	}
	if p.Connected() {
		t.Error("pipe still connected after EOF")
	}
}

func TestPipe_TruncatedPayload(t *testing.T) {
	// Header promises 4 bytes, stream carries 2.
	p := NewPipe(bytes.NewReader([]byte{0x04, 0x00, 0x00, 0x00, 'a', 'b'}), io.Discard)
	if _, err := p.Receive(); !errors.Is(err, ErrClosed) {
		t.Errorf("Receive(truncated) = %v, want ErrClosed", err)
	}
}

func TestPipe_SendAfterClose(t *testing.T) {
	p := NewPipe(bytes.NewReader(nil), io.Discard)
	if err := p.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if err := p.Send([]byte("x")); !errors.Is(err, ErrClosed) {
		t.Errorf("Send after Close = %v, want ErrClosed", err)
	}
}
