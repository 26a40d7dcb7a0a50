package bus

import (
	"testing"
)

func TestConnectUnreachable(t *testing.T) {
	if _, err := Connect("nats://127.0.0.1:1", ""); err == nil {
		t.Fatal("expected connect error for unreachable server")
	}
}
