// Package ingest loads contacts from CSV files into the directory.
//
// Rows are mapped through header aliases, validated, and written in batches
// through the contacts service so every batch goes through the same
// store-then-index coordination as single creates. Existing emails are
// skipped, never overwritten.
package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/emailfinder/internal/domain"
	"github.com/ignite/emailfinder/internal/metrics"
	"github.com/ignite/emailfinder/internal/pkg/logger"
	"github.com/ignite/emailfinder/internal/service/contacts"
)

// maxReportedErrors caps the itemized errors carried in a Result.
const maxReportedErrors = 100

// BatchWriter writes one batch of new records.
type BatchWriter interface {
	CreateBatch(ctx context.Context, recs []domain.ContactRecord) (*contacts.BatchResult, error)
}

// Source opens an import file by key.
type Source interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// Result summarizes one import job.
type Result struct {
	JobID       string               `json:"job_id"`
	Source      string               `json:"source,omitempty"`
	Total       int                  `json:"total"`
	Inserted    int                  `json:"inserted"`
	Skipped     int                  `json:"skipped"`
	Invalid     int                  `json:"invalid"`
	Failed      int                  `json:"failed"`
	IndexErrors int                  `json:"index_errors"`
	Errors      []contacts.ItemError `json:"errors,omitempty"`
	StartedAt   time.Time            `json:"started_at"`
	FinishedAt  time.Time            `json:"finished_at"`
}

func (r *Result) addErrors(items []contacts.ItemError) {
	for _, it := range items {
		if len(r.Errors) >= maxReportedErrors {
			return
		}
		r.Errors = append(r.Errors, it)
	}
}

// Importer streams CSV rows into batched creates.
type Importer struct {
	w         BatchWriter
	batchSize int
	now       func() time.Time
}

// NewImporter creates an importer writing batches of batchSize rows.
func NewImporter(w BatchWriter, batchSize int) *Importer {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &Importer{w: w, batchSize: batchSize, now: time.Now}
}

// ImportObject imports the file stored under key in src.
func (im *Importer) ImportObject(ctx context.Context, src Source, key string) (*Result, error) {
	rc, err := src.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	res, err := im.Import(ctx, rc)
	if res != nil {
		res.Source = key
	}
	return res, err
}

// Import reads a CSV with a header row from r. The returned Result is
// non-nil whenever the header could be read, including when a batch fails
// part-way; it then covers the rows processed so far.
func (im *Importer) Import(ctx context.Context, r io.Reader) (*Result, error) {
	res := &Result{JobID: uuid.NewString(), StartedAt: im.now()}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, &contacts.Error{Kind: contacts.KindInvalidInput, Msg: "import file is empty"}
	}
	if err != nil {
		return nil, &contacts.Error{Kind: contacts.KindInvalidInput, Msg: "unreadable csv header", Err: err}
	}
	cols := mapColumns(header)
	if _, ok := cols[domain.FieldEmail]; !ok {
		return nil, &contacts.Error{
			Kind:    contacts.KindInvalidInput,
			Msg:     "csv has no email column",
			Details: map[string][]string{"header": append([]string(nil), header...)},
		}
	}

	logger.Info("import started", "job_id", res.JobID)

	batch := make([]domain.ContactRecord, 0, im.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := im.writeBatch(ctx, res, batch)
		batch = batch[:0]
		return err
	}

	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			res.Total++
			res.Invalid++
			metrics.ImportRowsTotal.WithLabelValues("invalid").Inc()
			res.addErrors([]contacts.ItemError{{Error: fmt.Sprintf("line %d: %v", perr.Line, perr.Err)}})
			continue
		}
		if err != nil {
			return res, fmt.Errorf("reading csv line %d: %w", line, err)
		}
		if blank(row) {
			continue
		}

		res.Total++
		rec := cols.record(row)
		if !domain.IsEmailShaped(rec.Email) {
			res.Invalid++
			metrics.ImportRowsTotal.WithLabelValues("invalid").Inc()
			continue
		}
		batch = append(batch, rec)
		if len(batch) >= im.batchSize {
			if err := flush(); err != nil {
				return res, err
			}
		}
	}
	if err := flush(); err != nil {
		return res, err
	}

	res.FinishedAt = im.now()
	logger.Info("import finished",
		"job_id", res.JobID, "total", res.Total, "inserted", res.Inserted,
		"skipped", res.Skipped, "invalid", res.Invalid, "failed", res.Failed,
		"index_errors", res.IndexErrors, "duration", res.FinishedAt.Sub(res.StartedAt).String())
	return res, nil
}

func (im *Importer) writeBatch(ctx context.Context, res *Result, batch []domain.ContactRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	br, err := im.w.CreateBatch(ctx, batch)
	if br != nil {
		res.Inserted += br.Inserted
		res.Skipped += br.Skipped
		res.Failed += len(br.Failed)
		res.IndexErrors += len(br.IndexErrors)
		res.addErrors(br.Failed)
		res.addErrors(br.IndexErrors)

		metrics.ImportRowsTotal.WithLabelValues("inserted").Add(float64(br.Inserted))
		metrics.ImportRowsTotal.WithLabelValues("skipped").Add(float64(br.Skipped))
		metrics.ImportRowsTotal.WithLabelValues("failed").Add(float64(len(br.Failed)))
	}
	if err != nil {
		logger.Error("import batch failed", "job_id", res.JobID, "rows", len(batch), "error", err)
		return fmt.Errorf("import batch: %w", err)
	}
	return nil
}

func blank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
