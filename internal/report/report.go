// Package report appends the run's job outcomes to a JSONL file and renders the final
// summary.
package report

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lidonghao1116/potato-swap-bot/internal/batch"
)

// Record kinds.
const (
	KindStart   = "start"
	KindJob     = "job"
	KindSummary = "summary"
)

// Record is one JSONL line. Fields irrelevant to Kind are omitted.
type Record struct {
	TS     time.Time `json:"ts"`
	RunID  string    `json:"run_id"`
	Kind   string    `json:"kind"`
	DryRun bool      `json:"dry_run,omitempty"`

	// start
	Wallets int    `json:"wallets,omitempty"`
	RPC     string `json:"rpc,omitempty"`

	// job
	Index          *int   `json:"index,omitempty"`
	Wallet         string `json:"wallet,omitempty"`
	OK             *bool  `json:"ok,omitempty"`
	TxHash         string `json:"tx_hash,omitempty"`
	Error          string `json:"error,omitempty"`
	QuoteSource    string `json:"quote_source,omitempty"`
	// QuoteConfident is false when amounts came from the hardcoded reference price.
	QuoteConfident *bool  `json:"quote_confident,omitempty"`
	TokenDesired   string `json:"token_desired,omitempty"`
	NativeValue    string `json:"native_value,omitempty"`
	TokenMin       string `json:"token_min,omitempty"`
	NativeMin      string `json:"native_min,omitempty"`

	// summary
	Succeeded *int `json:"succeeded,omitempty"`
	Failed    *int `json:"failed,omitempty"`
	Skipped   *int `json:"skipped,omitempty"`
	Total     *int `json:"total,omitempty"`
}

// Writer appends records to a file. It is safe for concurrent use and a nil *Writer
// discards everything, so callers need not check whether logging is enabled.
type Writer struct {
	mu    sync.Mutex
	path  string
	runID string
	now   func() time.Time
	file  *os.File
	w     *bufio.Writer
}

// New returns a writer appending to path, or nil when path is blank. The file is created on
// the first record.
func New(path string) *Writer {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	return &Writer{path: path, runID: uuid.NewString(), now: time.Now}
}

func (w *Writer) RunID() string {
	if w == nil {
		return ""
	}
	return w.runID
}

func (w *Writer) openLocked() error {
	if w.file != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	w.file = f
	w.w = bufio.NewWriterSize(f, 64*1024)
	return nil
}

// Write stamps rec with the run id and time, then appends it and flushes.
func (w *Writer) Write(rec Record) error {
	if w == nil {
		return nil
	}
	if rec.Kind == "" {
		return errors.New("report: record kind missing")
	}
	rec.RunID = w.runID
	if rec.TS.IsZero() {
		rec.TS = w.now().UTC()
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.openLocked(); err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *Writer) Start(wallets int, rpc string, dryRun bool) error {
	return w.Write(Record{Kind: KindStart, Wallets: wallets, RPC: rpc, DryRun: dryRun})
}

func (w *Writer) Summary(res batch.Result, dryRun bool) error {
	s, f, k, t := res.Succeeded, res.Failed, res.Skipped, res.Total()
	return w.Write(Record{Kind: KindSummary, DryRun: dryRun, Succeeded: &s, Failed: &f, Skipped: &k, Total: &t})
}

func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	var firstErr error
	if w.w != nil {
		firstErr = w.w.Flush()
	}
	if w.file != nil {
		if err := w.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	w.w, w.file = nil, nil
	if errors.Is(firstErr, os.ErrClosed) {
		return nil
	}
	return firstErr
}

// WriteSummary prints "succeeded/total" and one line per failed or skipped wallet.
// labels maps outcome index to a wallet label; missing entries fall back to the index.
func WriteSummary(out io.Writer, res batch.Result, labels []string) {
	fmt.Fprintf(out, "deposits succeeded: %d/%d", res.Succeeded, res.Total())
	if res.Skipped > 0 {
		fmt.Fprintf(out, " (skipped %d)", res.Skipped)
	}
	fmt.Fprintln(out)
	for _, o := range res.Outcomes {
		if o.OK {
			continue
		}
		label := fmt.Sprintf("#%d", o.Index)
		if o.Index < len(labels) && labels[o.Index] != "" {
			label = labels[o.Index]
		}
		msg := "unknown error"
		if o.Err != nil {
			msg = o.Err.Error()
		}
		fmt.Fprintf(out, "  FAILED %s: %s\n", label, msg)
	}
}
