package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/affinidi/affinidi-webvh-service/internal/server/protocol"
)

// StdioTransport reads one JSON envelope per line and writes replies the
// same way. It stands in for the DIDComm pack/unpack layer in local
// development and tests.
type StdioTransport struct {
	scanner *bufio.Scanner
	out     io.Writer
	mu      sync.Mutex
}

func NewStdioTransport(in io.Reader, out io.Writer) *StdioTransport {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &StdioTransport{scanner: scanner, out: out}
}

func (t *StdioTransport) Receive(ctx context.Context) (*protocol.Message, error) {
	for t.scanner.Scan() {
		line := t.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg protocol.Message
		if err := json.Unmarshal(line, &msg); err != nil {
			return nil, fmt.Errorf("malformed envelope: %w", err)
		}
		return &msg, nil
	}
	if err := t.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (t *StdioTransport) Send(ctx context.Context, msg *protocol.Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err = fmt.Fprintf(t.out, "%s\n", raw)
	return err
}
