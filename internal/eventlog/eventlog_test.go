package eventlog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestSink_WriteAndClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "call.ndjson")

	sink, err := Open(path, "MZ123", "CA456")
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	sink.Write("start", map[string]interface{}{"tenantId": "t1"})
	sink.Write("stop", nil)
	sink.Close()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("failed to open log file: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var records []Record
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("failed to unmarshal record: %v", err)
		}
		records = append(records, rec)
	}

	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Event != "start" || records[0].CallID != "CA456" || records[0].StreamID != "MZ123" {
		t.Errorf("unexpected first record: %+v", records[0])
	}
	if records[1].Event != "stop" {
		t.Errorf("unexpected second record: %+v", records[1])
	}
}

func TestSink_WriteAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "call.ndjson")

	sink, err := Open(path, "MZ1", "CA1")
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	sink.Close()

	// Must not panic or block.
	sink.Write("start", nil)
}

func TestSink_CloseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "call.ndjson")

	sink, err := Open(path, "MZ1", "CA1")
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	sink.Close()
	sink.Close()
}

// TestSink_ConcurrentWriteAndClose reproduces the scenario where a write and
// a close race from different goroutines, as happens when the model and
// carrier sides of a call each hold a reference to the same Sink. Write must
// never panic with "send on closed channel".
func TestSink_ConcurrentWriteAndClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "call.ndjson")

	sink, err := Open(path, "MZ1", "CA1")
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sink.Write("tick", nil)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		sink.Close()
	}()

	wg.Wait()
}
