package gotftp

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func startTestServer(t *testing.T, singlePort bool) (addr string, sendRoot, receiveRoot string) {
	t.Helper()
	sendRoot = t.TempDir()
	receiveRoot = t.TempDir()
	cfg := ServerConfig{
		ListenAddr:  "127.0.0.1:0",
		SendRoot:    sendRoot,
		ReceiveRoot: receiveRoot,
		Overwrite:   true,
		SinglePort:  singlePort,
	}
	s, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	addr = s.conn.LocalAddr().String()
	go s.Run()
	return addr, sendRoot, receiveRoot
}

// scenario 1: small RRQ, defaults.
func TestServerSmallRRQDefaults(t *testing.T) {
	addr, sendRoot, _ := startTestServer(t, false)
	content := []byte("Hello TFTP World!")
	if err := os.WriteFile(filepath.Join(sendRoot, "hello.txt"), content, 0644); err != nil {
		t.Fatal(err)
	}

	client, err := Dial(addr, ClientConfig{})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	var out bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Get(ctx, "hello.txt", &out); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(out.Bytes(), content) {
		t.Errorf("downloaded %q, want %q", out.Bytes(), content)
	}
}

// scenario 2: WRQ then RRQ, 100 KB binary with negotiated options.
func TestServerWRQThenRRQBinary(t *testing.T) {
	addr, _, _ := startTestServer(t, false)

	payload := make([]byte, 100000)
	for i := range payload {
		payload[i] = byte(i % 256)
	}

	client, err := Dial(addr, ClientConfig{BlockSize: 8192, WindowSize: 4})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Put(ctx, "large.dat", bytes.NewReader(payload)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	var out bytes.Buffer
	if err := client.Get(ctx, "large.dat", &out); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(out.Bytes(), payload) {
		t.Errorf("round-tripped %d bytes, want %d bytes matching upload", out.Len(), len(payload))
	}
}

// scenario 3: block-size negotiation against a file spanning multiple blocks.
func TestServerBlockSizeNegotiation(t *testing.T) {
	addr, sendRoot, _ := startTestServer(t, false)
	content := bytes.Repeat([]byte{0x42}, 10*1024)
	if err := os.WriteFile(filepath.Join(sendRoot, "ten_kb.bin"), content, 0644); err != nil {
		t.Fatal(err)
	}

	client, err := Dial(addr, ClientConfig{BlockSize: 4096})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	var out bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Get(ctx, "ten_kb.bin", &out); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(out.Bytes(), content) {
		t.Errorf("downloaded %d bytes, want %d matching source", out.Len(), len(content))
	}
}

// scenario 4: windowed upload, single-port dispatcher.
func TestServerWindowedUploadSinglePort(t *testing.T) {
	addr, _, receiveRoot := startTestServer(t, true)

	payload := make([]byte, 40*512)
	for i := range payload {
		payload[i] = byte(i % 251)
	}

	client, err := Dial(addr, ClientConfig{WindowSize: 4})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Put(ctx, "windowed.bin", bytes.NewReader(payload)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(receiveRoot, "windowed.bin"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("stored %d bytes, want %d matching upload", len(got), len(payload))
	}
}

// scenario 5: nonexistent file yields ERROR{1}.
func TestServerRRQNonexistentFile(t *testing.T) {
	addr, _, _ := startTestServer(t, false)

	client, err := Dial(addr, ClientConfig{})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	var out bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = client.Get(ctx, "missing.bin", &out)
	if err == nil {
		t.Fatalf("Get succeeded, want ERROR{1}")
	}
	remoteErr, ok := err.(*RemoteError)
	if !ok {
		t.Fatalf("error type = %T, want *RemoteError", err)
	}
	if remoteErr.Code != 1 {
		t.Errorf("code = %d, want 1", remoteErr.Code)
	}
	if out.Len() != 0 {
		t.Errorf("out has %d bytes, want nothing written on failure", out.Len())
	}
}

// scenario: WRQ to a read-only server is refused.
func TestServerReadOnlyRejectsWRQ(t *testing.T) {
	sendRoot := t.TempDir()
	receiveRoot := t.TempDir()
	s, err := NewServer(ServerConfig{ListenAddr: "127.0.0.1:0", SendRoot: sendRoot, ReceiveRoot: receiveRoot, ReadOnly: true})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer s.Close()
	addr := s.conn.LocalAddr().String()
	go s.Run()

	client, err := Dial(addr, ClientConfig{})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = client.Put(ctx, "nope.bin", bytes.NewReader([]byte("x")))
	if err == nil {
		t.Fatalf("Put succeeded against read-only server, want rejection")
	}
}
