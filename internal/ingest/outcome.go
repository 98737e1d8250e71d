package ingest

import (
	"fmt"
	"strings"

	"docrag/internal/convert"
)

type Kind int

const (
	Completed Kind = iota
	Skipped
	Failed
)

func (k Kind) String() string {
	switch k {
	case Completed:
		return "completed"
	case Skipped:
		return "skipped"
	default:
		return "failed"
	}
}

const (
	ReasonAlreadyIndexed = "Already indexed."
	ReasonEmpty          = "Content is empty/0 bytes."
	ReasonUnreadable     = "Source is unreadable."
	ReasonNoContent      = "No content extracted."
)

// Outcome is the result of ingesting one document. Expected conditions such
// as duplicates or empty files are outcomes, not errors.
type Outcome struct {
	Kind          Kind
	Filename      string
	DocumentSet   string
	Strategy      convert.Strategy
	Chunks        int
	Reason        string
	FailedBatches []int
}

func completed(req Request, chunks int, failedBatches []int) Outcome {
	return Outcome{Kind: Completed, Filename: req.Filename, DocumentSet: req.DocumentSet, Strategy: req.Strategy, Chunks: chunks, FailedBatches: failedBatches}
}

func skipped(req Request, reason string) Outcome {
	return Outcome{Kind: Skipped, Filename: req.Filename, DocumentSet: req.DocumentSet, Strategy: req.Strategy, Reason: reason}
}

func failed(req Request, format string, args ...any) Outcome {
	return Outcome{Kind: Failed, Filename: req.Filename, DocumentSet: req.DocumentSet, Strategy: req.Strategy, Reason: fmt.Sprintf(format, args...)}
}

func (o Outcome) String() string {
	switch o.Kind {
	case Completed:
		s := fmt.Sprintf("Indexed %s (%s): %d chunks.", o.Filename, o.Strategy, o.Chunks)
		if len(o.FailedBatches) > 0 {
			idx := make([]string, len(o.FailedBatches))
			for i, b := range o.FailedBatches {
				idx[i] = fmt.Sprint(b)
			}
			s += fmt.Sprintf(" Upsert failed for batches [%s].", strings.Join(idx, " "))
		}
		return s
	case Skipped:
		return fmt.Sprintf("Skipped %s: %s", o.Filename, o.Reason)
	default:
		return fmt.Sprintf("Failed %s: %s", o.Filename, o.Reason)
	}
}
