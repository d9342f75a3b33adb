package queue

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFormatLine(t *testing.T) {
	line := formatLine(Event{
		Type: PaymentConfirmed, OccurredAt: "2025-03-01T10:00:00Z", LotID: "lot1", SpotCode: "A3",
		SessionID: "s1", Amount: 100, Detail: "cash",
	})
	want := `[2025-03-01T10:00:00Z] payment.confirmed | lot=lot1 | spot=A3 | session_id=s1 | amount=100.00 | detail="cash"` + "\n"
	if line != want {
		t.Fatalf("got  %q\nwant %q", line, want)
	}
}

func TestHandleMessageAppends(t *testing.T) {
	dir := t.TempDir()
	for _, typ := range []EventType{ReservationCreated, ReservationCancelled} {
		body, _ := json.Marshal(Event{Type: typ, LotID: "lot1", SpotCode: "A1"})
		if err := handleMessage(dir, body); err != nil {
			t.Fatal(err)
		}
	}
	data, err := os.ReadFile(filepath.Join(dir, "parking-events.log"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 || !strings.Contains(lines[1], "reservation.cancelled") {
		t.Fatalf("log = %q", data)
	}
}

func TestHandleMessageRejectsGarbage(t *testing.T) {
	if err := handleMessage(t.TempDir(), []byte("{")); err == nil {
		t.Fatal("expected unmarshal error")
	}
	if err := handleMessage(t.TempDir(), []byte("{}")); err == nil {
		t.Fatal("expected missing type error")
	}
}
