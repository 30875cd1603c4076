package log

import "testing"

func TestRecoverPanicRunsCleanup(t *testing.T) {
	called := false
	func() {
		defer RecoverPanic("test", func() { called = true })
		panic("boom")
	}()
	if !called {
		t.Error("cleanup not called after panic")
	}
}

func TestRecoverPanicNoPanic(t *testing.T) {
	called := false
	func() {
		defer RecoverPanic("test", func() { called = true })
	}()
	if called {
		t.Error("cleanup called without a panic")
	}
}
