package scan

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fakeRunner(out string, err error) Runner {
	return func(ctx context.Context) ([]byte, error) {
		return []byte(out), err
	}
}

const sampleOutput = `p100
cnode agent
n/dev/pts/3
n/dev/pts/4
n/dev/pts/4
fcwd
n/home/user
p200
cbash
n/dev/pts/7
p300
cvim
n/home/user/notes.txt
`

func TestScanParsesRecords(t *testing.T) {
	s := NewWithRunner(fakeRunner(sampleOutput, nil), time.Second)

	result, err := s.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan error: %v", err)
	}

	// PID 300 holds no PTY and must not appear.
	if len(result.Records) != 2 {
		t.Fatalf("records = %d, want 2", len(result.Records))
	}

	r := result.Records[0]
	if r.PID != 100 || r.Command != "node agent" {
		t.Errorf("record[0] = %+v", r)
	}
	// Duplicate /dev/pts/4 deduped into the set.
	if r.PTYCount() != 2 {
		t.Errorf("PTYCount = %d, want 2", r.PTYCount())
	}

	if result.Records[1].PID != 200 || result.Records[1].PTYCount() != 1 {
		t.Errorf("record[1] = %+v", result.Records[1])
	}
	if result.TotalPTYs != 3 {
		t.Errorf("TotalPTYs = %d, want 3", result.TotalPTYs)
	}
}

func TestScanMacOSDevices(t *testing.T) {
	out := "p42\ncscreen\nn/dev/ttys005\nn/dev/ttys006\n"
	s := NewWithRunner(fakeRunner(out, nil), time.Second)

	result, err := s.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan error: %v", err)
	}
	if len(result.Records) != 1 || result.Records[0].PTYCount() != 2 {
		t.Errorf("records = %+v", result.Records)
	}
}

func TestScanSkipsMalformedLines(t *testing.T) {
	out := "pnotanumber\nn/dev/pts/0\np100\ncbash\nn/dev/pts/1\n"
	s := NewWithRunner(fakeRunner(out, nil), time.Second)

	result, err := s.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan error: %v", err)
	}
	if len(result.Records) != 1 {
		t.Fatalf("records = %d, want 1", len(result.Records))
	}
	// The bad PID line plus the orphaned name line following it.
	if result.Skipped != 2 {
		t.Errorf("Skipped = %d, want 2", result.Skipped)
	}
}

func TestScanZeroRecordsIsError(t *testing.T) {
	tests := []struct {
		name string
		out  string
	}{
		{"empty output", ""},
		{"no pty holders", "p100\ncbash\nn/home/user\n"},
		{"garbage", "total 0\ndrwxr-xr-x\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewWithRunner(fakeRunner(tt.out, nil), time.Second)
			_, err := s.Scan(context.Background())
			if err == nil {
				t.Fatal("Scan should fail with zero valid records")
			}
			if !IsEnumerationError(err) {
				t.Errorf("error is not an EnumerationError: %v", err)
			}
		})
	}
}

func TestScanToleratesNonzeroExitWithOutput(t *testing.T) {
	// lsof commonly exits 1 while still emitting usable records.
	s := NewWithRunner(fakeRunner("p100\ncbash\nn/dev/pts/1\n", errors.New("exit status 1")), time.Second)

	result, err := s.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan should tolerate nonzero exit with output: %v", err)
	}
	if len(result.Records) != 1 {
		t.Errorf("records = %d, want 1", len(result.Records))
	}
}

func TestScanFailureWithNoOutput(t *testing.T) {
	s := NewWithRunner(fakeRunner("", errors.New("exit status 1")), time.Second)
	if _, err := s.Scan(context.Background()); !IsEnumerationError(err) {
		t.Errorf("want EnumerationError, got %v", err)
	}
}

func TestScanTimeout(t *testing.T) {
	hung := func(ctx context.Context) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	s := NewWithRunner(hung, 10*time.Millisecond)

	_, err := s.Scan(context.Background())
	if !IsEnumerationError(err) {
		t.Fatalf("want EnumerationError on timeout, got %v", err)
	}
}

func TestScanDeterministicOrder(t *testing.T) {
	out := "p300\ncc\nn/dev/pts/9\np100\nca\nn/dev/pts/1\np200\ncb\nn/dev/pts/5\n"
	s := NewWithRunner(fakeRunner(out, nil), time.Second)

	result, err := s.Scan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	for i, want := range []int{100, 200, 300} {
		if result.Records[i].PID != want {
			t.Errorf("record[%d].PID = %d, want %d", i, result.Records[i].PID, want)
		}
	}
}
