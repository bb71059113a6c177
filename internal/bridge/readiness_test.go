package bridge

import (
	"testing"
	"time"
)

func TestReadinessRegistryCompleteDeliversResult(t *testing.T) {
	reg := NewReadinessRegistry()
	p := reg.Create("sess-1")

	want := ReadinessResult{OK: true, BaseInfo: BaseInfo{UserID: "u1"}}
	go reg.Complete("sess-1", want)

	got, ok := p.Wait(make(chan struct{}))
	if !ok {
		t.Fatal("Wait returned ok=false, want true")
	}
	if got.OK != want.OK || got.BaseInfo.UserID != want.BaseInfo.UserID {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestReadinessRegistryCancelResolvesNotOK(t *testing.T) {
	reg := NewReadinessRegistry()
	p := reg.Create("sess-2")

	reg.Cancel("sess-2")

	got, ok := p.Wait(make(chan struct{}))
	if !ok {
		t.Fatal("Wait returned ok=false, want true")
	}
	if got.OK {
		t.Errorf("got OK=true after Cancel, want false")
	}
}

func TestReadinessRegistryCompleteRemovesEntry(t *testing.T) {
	reg := NewReadinessRegistry()
	reg.Create("sess-3")
	reg.Complete("sess-3", ReadinessResult{OK: true})

	// A second Complete for the same ID must be a no-op, not a panic or
	// double-send.
	reg.Complete("sess-3", ReadinessResult{OK: true})
}

func TestReadinessPromiseWaitUnblocksOnDone(t *testing.T) {
	reg := NewReadinessRegistry()
	p := reg.Create("sess-4")

	done := make(chan struct{})
	close(done)

	_, ok := p.Wait(done)
	if ok {
		t.Error("Wait returned ok=true for an unresolved promise with closed done channel, want false")
	}
}

func TestReadinessPromiseResolveOnceIsIdempotent(t *testing.T) {
	p := newReadinessPromise()
	p.resolve(ReadinessResult{OK: true})
	p.resolve(ReadinessResult{OK: false}) // must not block or panic

	select {
	case r := <-p.ch:
		if !r.OK {
			t.Errorf("got OK=%v, want true (first resolve wins)", r.OK)
		}
	case <-time.After(time.Second):
		t.Fatal("promise never resolved")
	}
}
