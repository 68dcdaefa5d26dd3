package scheduler

import (
	"bytes"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRobfigCronEngine_ShouldImplementCronEngineInterface(t *testing.T) {
	var _ CronEngine = NewRobfigCronEngine(zerolog.Nop())
}

func TestRobfigCronEngine_AddFunc_WhenInvalidSpec_ShouldReturnError(t *testing.T) {
	engine := NewRobfigCronEngine(zerolog.Nop())
	if _, err := engine.AddFunc("not-a-cron-expression", func() {}); err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
}

func TestRobfigCronEngine_AddFunc_ShouldAcceptDescriptors(t *testing.T) {
	engine := NewRobfigCronEngine(zerolog.Nop())
	for _, spec := range []string{"@every 1h", Every(5 * time.Minute), "*/5 * * * *"} {
		id, err := engine.AddFunc(spec, func() {})
		if err != nil {
			t.Errorf("spec %q: %v", spec, err)
		}
		engine.Remove(id)
	}
}

func TestRobfigCronEngine_ShouldFireOnScheduleAndStop(t *testing.T) {
	engine := NewRobfigCronEngine(zerolog.Nop())
	var fired atomic.Int32
	if _, err := engine.AddFunc("@every 1s", func() { fired.Add(1) }); err != nil {
		t.Fatalf("AddFunc: %v", err)
	}
	engine.Start()

	deadline := time.Now().Add(3 * time.Second)
	for fired.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	ctx := engine.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Stop context never finished")
	}
	if fired.Load() == 0 {
		t.Fatal("expected cron job to fire within 3 seconds")
	}
}

func TestRobfigCronEngine_WhenJobPanics_ShouldRecoverAndLog(t *testing.T) {
	var buf syncBuffer
	engine := NewRobfigCronEngine(zerolog.New(&buf))
	if _, err := engine.AddFunc("@every 1s", func() { panic("boom") }); err != nil {
		t.Fatalf("AddFunc: %v", err)
	}
	engine.Start()

	deadline := time.Now().Add(3 * time.Second)
	for !strings.Contains(buf.String(), "panic") && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	<-engine.Stop().Done()
	if !strings.Contains(buf.String(), "boom") {
		t.Errorf("expected recovered panic in log, got %q", buf.String())
	}
}

// syncBuffer is a bytes.Buffer safe for the cron goroutine and the test to share.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
