package signaling

import "testing"

func TestPairedSignalers_RoundTrip(t *testing.T) {
	a, b := PairedSignalers()

	if err := a.Send(Message{Type: TypeSDPOffer, SDP: "v=0..."}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	got, err := b.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if got.Type != TypeSDPOffer || got.SDP != "v=0..." {
		t.Fatalf("got %+v, want offer with sdp", got)
	}
}

func TestChanSignaler_CloseThenSendFails(t *testing.T) {
	a, _ := PairedSignalers()
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := a.Send(Message{Type: TypeBye}); err != ErrClosed {
		t.Fatalf("Send after close: err = %v, want ErrClosed", err)
	}
}

func TestChanSignaler_CloseUnblocksRecv(t *testing.T) {
	a, b := PairedSignalers()
	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := b.Recv(); err != ErrClosed {
			t.Errorf("Recv after peer close: err = %v, want ErrClosed", err)
		}
	}()
	a.Close()
	<-done
}
