package log

import (
	"os"
	"testing"
)

func TestNewDoesNotPanicOnNonTerminal(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "tux3log")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	lg := New(f)
	lg.Info("hello", "k", "v")
	lg.Debug("world")
	lg.Warn("careful")
	lg.Error("oops")
}

func TestPackageLevelHelpersDoNotPanic(t *testing.T) {
	Trace("t")
	Debug("d")
	Info("i", "a", 1)
	Warn("w")
	Error("e")
}
