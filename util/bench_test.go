package util

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
)

// BenchmarkBidirectionalCopy_ServiceOutput measures the forward-mode hot
// path: a TCP service streaming output to a session whose input stays
// idle, as a relay client's input usually does.
func BenchmarkBidirectionalCopy_ServiceOutput(b *testing.B) {
	payload := bytes.Repeat([]byte("row 42 | 2026-01-01 | ok\n"), 4096)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		b.Fatal(err)
	}
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				c.Write(payload) //nolint:errcheck
			}(c)
		}
	}()

	b.SetBytes(int64(len(payload)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		conn, err := net.Dial("tcp", ln.Addr().String())
		if err != nil {
			b.Fatal(err)
		}
		idle, closeIdle := io.Pipe()
		BidirectionalCopy(context.Background(), conn, idle, io.Discard) //nolint:errcheck
		closeIdle.Close()
	}
}

func BenchmarkGetBuf(b *testing.B) {
	for i := 0; i < b.N; i++ {
		buf := GetBuf()
		_ = (*buf)[0]
		PutBuf(buf)
	}
}
