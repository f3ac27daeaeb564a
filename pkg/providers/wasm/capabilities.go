package wasm

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// capabilityEnforcer gates the host functions a WASM module may call
// against the capability list granted in its manifest.
//
// Adapted from pkg/providers/host/capabilities.go, keeping the
// net:outbound and fs:temp capabilities (the two a declarative resource
// provider plausibly needs) and dropping secrets:decrypt and the
// micro-runner exec path, both of which depended on the SSH-based
// remote-agent RPC that spec.md §1 places out of scope.
type capabilityEnforcer struct {
	granted    map[string]bool
	httpClient *http.Client
	tempDir    string
}

func newCapabilityEnforcer(capabilities []string, tempDir string) *capabilityEnforcer {
	e := &capabilityEnforcer{
		granted:    make(map[string]bool, len(capabilities)),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		tempDir:    tempDir,
	}
	for _, c := range capabilities {
		e.granted[c] = true
	}
	return e
}

func (e *capabilityEnforcer) has(capability string) bool {
	return e.granted[capability]
}

// httpRequest performs an outbound HTTP request if net:outbound was
// granted.
func (e *capabilityEnforcer) httpRequest(method, url string, body io.Reader) (*http.Response, error) {
	if !e.has("net:outbound") {
		return nil, fmt.Errorf("wasm: capability net:outbound not granted")
	}
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return nil, err
	}
	return e.httpClient.Do(req)
}

// writeTempFile writes name under tempDir if fs:temp was granted.
func (e *capabilityEnforcer) writeTempFile(name string, data []byte) error {
	if !e.has("fs:temp") {
		return fmt.Errorf("wasm: capability fs:temp not granted")
	}
	return os.WriteFile(filepath.Join(e.tempDir, filepath.Base(name)), data, 0o600)
}

// readTempFile reads name under tempDir if fs:temp was granted.
func (e *capabilityEnforcer) readTempFile(name string) ([]byte, error) {
	if !e.has("fs:temp") {
		return nil, fmt.Errorf("wasm: capability fs:temp not granted")
	}
	return os.ReadFile(filepath.Join(e.tempDir, filepath.Base(name)))
}

// cleanup is a no-op placeholder: temp files live under the caller's own
// tempDir and are the caller's to reap, not this provider's.
func (e *capabilityEnforcer) cleanup() error { return nil }
