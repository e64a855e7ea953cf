// Package scanner 在文件进入申请之前用 clamd 做病毒扫描。
package scanner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dutchcoders/go-clamd"
)

// ErrInfected 表示 clamd 判定文件含恶意内容。
var ErrInfected = errors.New("malicious file detected")

// Scanner checks a stream before it is accepted.
type Scanner interface {
	Scan(ctx context.Context, r io.Reader) error
}

// ClamdScanner 通过 INSTREAM 将内容发送给 clamd。
type ClamdScanner struct {
	addr string
}

// New returns a clamd scanner, or a Nop scanner when addr is empty.
func New(addr string) Scanner {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return Nop{}
	}
	return &ClamdScanner{addr: addr}
}

// Ping checks that clamd is reachable.
func (s *ClamdScanner) Ping() error {
	return clamd.NewClamd(s.addr).Ping()
}

// Scan streams r to clamd and waits for the verdict.
func (s *ClamdScanner) Scan(ctx context.Context, r io.Reader) error {
	client := clamd.NewClamd(s.addr)

	abortChan := make(chan bool)
	defer close(abortChan)

	results, err := client.ScanStream(r, abortChan)
	if err != nil {
		return fmt.Errorf("scan stream: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case result, ok := <-results:
			if !ok {
				return nil
			}
			switch result.Status {
			case clamd.RES_OK:
			case clamd.RES_FOUND:
				return fmt.Errorf("%w: %s", ErrInfected, result.Description)
			default:
				return fmt.Errorf("clamd %s: %s", strings.ToLower(result.Status), result.Description)
			}
		}
	}
}

// Nop accepts everything. Used when no clamd address is configured.
type Nop struct{}

// Scan implements Scanner.
func (Nop) Scan(context.Context, io.Reader) error { return nil }
