package mq

import "testing"

func TestNewMessage(t *testing.T) {
	t.Parallel()

	m := NewMessage([]byte("payload"))
	if string(m.Body) != "payload" {
		t.Fatalf("body = %q", m.Body)
	}
	if m.Headers == nil {
		t.Fatal("headers not initialized")
	}
	if m.Timestamp.IsZero() {
		t.Fatal("timestamp not set")
	}
}

func TestMessageHeaders(t *testing.T) {
	t.Parallel()

	m := &Message{}
	if _, ok := m.GetHeader("missing"); ok {
		t.Fatal("missing header reported present")
	}

	m.SetHeader("x-trace-id", "abc")
	value, ok := m.GetHeader("x-trace-id")
	if !ok || value != "abc" {
		t.Fatalf("GetHeader = (%q, %v)", value, ok)
	}
}
