package api

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dutchcoders/go-clamd"
)

var errInfected = errors.New("malicious file detected")

// DocumentScanner checks an upload before it reaches object storage.
type DocumentScanner interface {
	Scan(ctx context.Context, r io.Reader) error
}

type clamdScanner struct {
	client *clamd.Clamd
}

// NewClamdScanner returns nil when addr is empty, which disables scanning.
func NewClamdScanner(addr string) DocumentScanner {
	if addr == "" {
		return nil
	}
	return &clamdScanner{client: clamd.NewClamd(addr)}
}

func (s *clamdScanner) Scan(ctx context.Context, r io.Reader) error {
	abort := make(chan bool)
	results, err := s.client.ScanStream(r, abort)
	if err != nil {
		return fmt.Errorf("clamd scan: %w", err)
	}
	// closing abort drops the clamd connection
	defer close(abort)

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
				return errInfected
			default:
				return fmt.Errorf("clamd scan status %s: %s", result.Status, result.Description)
			}
		}
	}
}
