package sshterm

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/relayhost/terminalmgr/pkg/terminalmgr"
)

func TestShQuoteEscapesSingleQuotes(t *testing.T) {
	got := shQuote("echo 'hi there'")
	want := `'echo '\''hi there'\'''`
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestPingSucceedsAgainstOpenPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	host := "127.0.0.1"
	port := ln.Addr().(*net.TCPAddr).Port

	term := &Terminal{host: host, port: port, pingTimeout: time.Second}
	if err := term.Ping(context.Background()); err != nil {
		t.Fatalf("expected ping success, got %v", err)
	}
}

func TestPingFailsAgainstClosedPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	term := &Terminal{host: "127.0.0.1", port: port, pingTimeout: 200 * time.Millisecond}
	err = term.Ping(context.Background())
	if err == nil {
		t.Fatal("expected ping failure against a closed port")
	}
	if _, ok := err.(*terminalmgr.OfflineError); !ok {
		t.Fatalf("expected *OfflineError, got %T", err)
	}
}

func TestDisconnectIsIdempotentWithoutAClient(t *testing.T) {
	term := &Terminal{host: "127.0.0.1", port: 22}
	if err := term.Disconnect(context.Background()); err != nil {
		t.Fatalf("expected no error disconnecting an unconnected terminal, got %v", err)
	}
}

func TestExecuteFailsWithoutConnect(t *testing.T) {
	term := &Terminal{host: "127.0.0.1", port: 22}
	_, err := term.Execute(context.Background(), "echo hi", 0)
	if err == nil {
		t.Fatal("expected execution error when not connected")
	}
	if _, ok := err.(*terminalmgr.ExecutionError); !ok {
		t.Fatalf("expected *ExecutionError, got %T", err)
	}
}
