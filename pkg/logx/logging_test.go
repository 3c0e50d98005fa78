package logx

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xsnotifier/internal/eventbus"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{" DEBUG ", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warning", zerolog.WarnLevel},
		{"Error", zerolog.ErrorLevel},
		{"bogus", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in, zerolog.InfoLevel))
		})
	}
}

func TestZeroLoggerIsNoop(t *testing.T) {
	var l Logger
	assert.True(t, l.IsZero())
	l.Info("dropped", String("k", "v"))
	assert.False(t, Nop().IsZero())
}

func TestNewFromWritesFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewFrom(zerolog.New(&buf)).With(String("comp", "test"))
	l.Warn("hello", Int("n", 3), Err(errors.New("boom")))

	out := buf.String()
	assert.Contains(t, out, `"comp":"test"`)
	assert.Contains(t, out, `"n":3`)
	assert.Contains(t, out, `"err":"boom"`)
	assert.Contains(t, out, `"message":"hello"`)
}

func TestServiceStreamsLogRecords(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	svc, log := New(Config{Level: "info", Console: false}, bus)
	defer svc.Close()

	log.Debug("below level")
	log.Info("sender connected", String("addr", "localhost:42069"))

	select {
	case e := <-events:
		require.Equal(t, eventbus.TypeLog, e.Type)
		rec, ok := e.Data.(Record)
		require.True(t, ok)
		assert.Equal(t, "info", rec.Level)
		assert.Equal(t, "sender connected", rec.Message)
		assert.Equal(t, "localhost:42069", rec.Fields["addr"])
		assert.NotEmpty(t, rec.Caller)
	case <-time.After(time.Second):
		t.Fatal("no log event streamed")
	}
}

func TestServiceApplyChangesLevel(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	svc, log := New(Config{Level: "warn"}, bus)
	defer svc.Close()

	log.Info("hidden")
	svc.Apply(Config{Level: "debug"})
	log.Debug("visible")

	e := <-events
	rec := e.Data.(Record)
	assert.Equal(t, "visible", rec.Message)
	assert.Equal(t, "debug", svc.Config().Level)
}
