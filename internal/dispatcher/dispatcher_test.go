package dispatcher

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/bzforge/bzfs/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testLogger implements Logger for testing
type testLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *testLogger) Debug(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("DEBUG: %s %v", msg, keysAndValues))
}

func (l *testLogger) Info(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("INFO: %s %v", msg, keysAndValues))
}

func (l *testLogger) Error(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("ERROR: %s %v", msg, keysAndValues))
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *testLogger) {
	logger := &testLogger{}

	d, err := New(logger)
	require.NoError(t, err)

	return d, logger
}

func event(code uint16) Event {
	return Event{SessionID: 2, Frame: protocol.Frame{Code: code, Payload: []byte{1, 2}}}
}

func TestDispatcher_RoutesByCode(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var got Event
	d.Register(protocol.MsgPlayerUpdate, func(e Event) error {
		got = e
		return nil
	})
	d.Register(protocol.MsgExit, func(e Event) error {
		t.Error("wrong handler called")
		return nil
	})

	require.NoError(t, d.Dispatch(event(protocol.MsgPlayerUpdate)))
	assert.Equal(t, uint8(2), got.SessionID)
	assert.Equal(t, []byte{1, 2}, got.Frame.Payload)
}

func TestDispatcher_UnknownCodeIgnored(t *testing.T) {
	d, _ := newTestDispatcher(t)

	assert.NoError(t, d.Dispatch(event(0x7a7a)))
}

func TestDispatcher_HandlerError(t *testing.T) {
	d, _ := newTestDispatcher(t)
	boom := errors.New("boom")

	d.Register(protocol.MsgEnter, func(Event) error { return boom })

	assert.ErrorIs(t, d.Dispatch(event(protocol.MsgEnter)), boom)
}

func TestDispatcher_Recovered(t *testing.T) {
	d, _ := newTestDispatcher(t)

	d.Register(protocol.MsgGrabFlag, func(Event) error { panic("bad index") }, Recovered())

	var err error
	assert.NotPanics(t, func() { err = d.Dispatch(event(protocol.MsgGrabFlag)) })
	require.ErrorIs(t, err, ErrPanic)
	assert.Contains(t, err.Error(), "gf")
	assert.Contains(t, err.Error(), "bad index")
}

func TestDispatcher_LoggedHandler(t *testing.T) {
	d, logger := newTestDispatcher(t)

	d.Register(protocol.MsgDropFlag, func(Event) error { return nil }, Logged())
	require.NoError(t, d.Dispatch(event(protocol.MsgDropFlag)))

	logger.mu.Lock()
	defer logger.mu.Unlock()

	if len(logger.messages) < 2 {
		t.Errorf("expected at least 2 log messages, got %d", len(logger.messages))
	}
}

func TestDispatcher_LoggedHandlerError(t *testing.T) {
	d, logger := newTestDispatcher(t)

	d.Register(protocol.MsgSetVar, func(Event) error {
		return fmt.Errorf("test error")
	}, Logged())

	_ = d.Dispatch(event(protocol.MsgSetVar))

	logger.mu.Lock()
	defer logger.mu.Unlock()

	hasError := false
	for _, msg := range logger.messages {
		if strings.HasPrefix(msg, "ERROR") {
			hasError = true
		}
	}
	assert.True(t, hasError, "expected an error log entry")
}

func TestDispatcher_HasHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)

	d.Register(protocol.MsgEnter, func(Event) error { return nil })

	assert.True(t, d.HasHandler(protocol.MsgEnter))
	assert.False(t, d.HasHandler(protocol.MsgExit))
}

func TestDispatcher_CombinedOptions(t *testing.T) {
	d, logger := newTestDispatcher(t)

	d.Register(protocol.MsgExit, func(Event) error { panic("x") }, Logged(), Recovered())

	assert.Error(t, d.Dispatch(event(protocol.MsgExit)))

	logger.mu.Lock()
	defer logger.mu.Unlock()
	assert.NotEmpty(t, logger.messages)
}
