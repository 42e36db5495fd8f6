//go:build integration
// +build integration

package test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/MrEthical07/goReset/mail"
)

var codePattern = regexp.MustCompile(`\b\d{6}\b`)

type chanMailer struct {
	messages chan mail.Message
}

func newChanMailer() *chanMailer {
	return &chanMailer{messages: make(chan mail.Message, 8)}
}

func (m *chanMailer) Send(_ context.Context, msg mail.Message) error {
	m.messages <- msg
	return nil
}

func (m *chanMailer) next(t *testing.T) string {
	t.Helper()
	select {
	case msg := <-m.messages:
		code := codePattern.FindString(msg.Text)
		if code == "" {
			t.Fatalf("no code in %q", msg.Text)
		}
		return code
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reset email")
		return ""
	}
}
