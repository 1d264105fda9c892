package queue_test

import (
	"testing"

	"scribe/internal/queue"
)

func TestParseStatus(t *testing.T) {
	status, ok := queue.ParseStatus(" Converted ")
	if !ok || status != queue.StatusConverted {
		t.Fatalf("expected converted, got %q ok=%v", status, ok)
	}
	if _, ok := queue.ParseStatus("nonsense"); ok {
		t.Fatal("expected unknown status to be rejected")
	}
	if _, ok := queue.ParseStatus(""); ok {
		t.Fatal("expected empty status to be rejected")
	}
}

func TestTerminalAndProcessingClassification(t *testing.T) {
	terminal := []queue.Status{queue.StatusCompleted, queue.StatusFailed, queue.StatusCancelled}
	for _, status := range terminal {
		if !queue.IsTerminal(status) {
			t.Fatalf("expected %s terminal", status)
		}
	}
	processing := []queue.Status{queue.StatusAcquiring, queue.StatusConverting, queue.StatusTranscribing}
	for _, status := range processing {
		if queue.IsTerminal(status) {
			t.Fatalf("expected %s non-terminal", status)
		}
		if !queue.IsProcessing(status) {
			t.Fatalf("expected %s processing", status)
		}
	}
	if queue.IsProcessing(queue.StatusQueued) {
		t.Fatal("queued is a waiting state, not processing")
	}
}

func TestItemIsActive(t *testing.T) {
	item := queue.Item{Status: queue.StatusQueued}
	if !item.IsActive() {
		t.Fatal("queued item should be active")
	}
	item.Status = queue.StatusDuplicatePending
	if item.IsActive() {
		t.Fatal("items parked at the duplicate gate are not active")
	}
	item.Status = queue.StatusCompleted
	if item.IsActive() {
		t.Fatal("terminal item should be inactive")
	}
}
