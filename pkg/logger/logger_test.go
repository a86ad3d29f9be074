package logger

import (
	"slices"
	"testing"
)

type recorder struct {
	lines []string
}

func (r *recorder) record(level, message string, keyvals ...any) {
	r.lines = append(r.lines, level+":"+message)
	_ = keyvals
}

func (r *recorder) Log(message string, keyvals ...any)   { r.record("log", message, keyvals...) }
func (r *recorder) Debug(message string, keyvals ...any) { r.record("debug", message, keyvals...) }
func (r *recorder) Info(message string, keyvals ...any)  { r.record("info", message, keyvals...) }
func (r *recorder) Warn(message string, keyvals ...any)  { r.record("warn", message, keyvals...) }
func (r *recorder) Error(message string, keyvals ...any) { r.record("error", message, keyvals...) }
func (r *recorder) Fatal(message string, keyvals ...any) { r.record("fatal", message, keyvals...) }

func TestLogger_FansOutToAllInstances(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	Init(a, b)
	t.Cleanup(func() { current.Store(nil) })

	Info("[Graph] loaded", "nodes", 3)
	Warn("[Graph] slow")

	want := []string{"info:[Graph] loaded", "warn:[Graph] slow"}
	for _, r := range []*recorder{a, b} {
		if !slices.Equal(r.lines, want) {
			t.Fatalf("unexpected lines: got %v, want %v", r.lines, want)
		}
	}
}

func TestLogger_NoopBeforeInit(t *testing.T) {
	current.Store(nil)
	Error("nobody listens")
}
