package zaplog

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mirkobrombin/go-tiercache/v1/logging"
)

func TestLogger(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := New(zap.New(core))
	l.Info("hit", logging.Fields{"key": "a"})
	l.Debug("miss", nil)

	if logs.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", logs.Len())
	}
	e := logs.All()[0]
	if e.Message != "hit" || e.ContextMap()["key"] != "a" {
		t.Fatalf("unexpected entry %+v", e)
	}
}
