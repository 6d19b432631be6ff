package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestPreInitLoggerUsesConfiguredHandler(t *testing.T) {
	logger := L("streamsession")

	var buf bytes.Buffer
	Init("text", "info", &buf)

	logger.Info("connected", "peer", "offer")

	out := buf.String()
	if !strings.Contains(out, "msg=connected") {
		t.Fatalf("expected plain connected message, got: %s", out)
	}
	if !strings.Contains(out, "component=streamsession") {
		t.Fatalf("expected component field, got: %s", out)
	}
	if !strings.Contains(out, "peer=offer") {
		t.Fatalf("expected peer field, got: %s", out)
	}
}

func TestPreInitLoggerRespectsConfiguredLevel(t *testing.T) {
	logger := L("bwe")

	var buf bytes.Buffer
	Init("text", "warn", &buf)

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info log should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, "shown") {
		t.Fatalf("warn log should be emitted: %s", out)
	}
}

func TestInitJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	Init("json", "info", &buf)

	L("capture").Info("frame acquired", "slot", 3)

	out := buf.String()
	if !strings.Contains(out, `"component":"capture"`) {
		t.Fatalf("expected JSON component field, got: %s", out)
	}
	if !strings.Contains(out, `"slot":3`) {
		t.Fatalf("expected JSON slot field, got: %s", out)
	}
}
