package wasm

import "testing"

func TestCapabilityEnforcerHas(t *testing.T) {
	e := newCapabilityEnforcer([]string{"net:outbound"}, t.TempDir())
	if !e.has("net:outbound") {
		t.Fatal("has(net:outbound) = false, want true")
	}
	if e.has("fs:temp") {
		t.Fatal("has(fs:temp) = true, want false")
	}
}

func TestWriteReadTempFileRequiresCapability(t *testing.T) {
	dir := t.TempDir()
	e := newCapabilityEnforcer(nil, dir)
	if err := e.writeTempFile("x", []byte("data")); err == nil {
		t.Fatal("writeTempFile: want error without fs:temp granted")
	}

	e = newCapabilityEnforcer([]string{"fs:temp"}, dir)
	if err := e.writeTempFile("x.txt", []byte("hello")); err != nil {
		t.Fatalf("writeTempFile: %v", err)
	}
	got, err := e.readTempFile("x.txt")
	if err != nil {
		t.Fatalf("readTempFile: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("readTempFile = %q, want %q", got, "hello")
	}
}

func TestHTTPRequestRequiresCapability(t *testing.T) {
	e := newCapabilityEnforcer(nil, t.TempDir())
	if _, err := e.httpRequest("GET", "http://example.invalid", nil); err == nil {
		t.Fatal("httpRequest: want error without net:outbound granted")
	}
}
