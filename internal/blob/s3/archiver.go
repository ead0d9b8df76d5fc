package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/alanyoungcy/stablemint/internal/domain"
)

// TransactionArchiveStore is the slice of the transaction store the archiver
// needs: time-ranged reads of terminal records and pruning of what has been
// archived. The Postgres TransactionStore satisfies it implicitly.
type TransactionArchiveStore interface {
	ListCompletedBefore(ctx context.Context, before time.Time) ([]domain.Transaction, error)
	DeleteCompletedBefore(ctx context.Context, before time.Time) (int64, error)
}

// BlobWriter is the upload surface the archiver needs; *Writer satisfies it.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// Archiver moves aged terminal transactions to cold storage: records older
// than the cutoff are serialized to JSONL, uploaded to the object store, and
// only then pruned from the primary store. Pending transactions are never
// archived.
type Archiver struct {
	writer BlobWriter
	txs    TransactionArchiveStore
	logger *slog.Logger
}

// NewArchiver creates an Archiver.
func NewArchiver(writer BlobWriter, txs TransactionArchiveStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		txs:    txs,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// archivedTransaction is the cold-storage JSON shape of a transaction record.
type archivedTransaction struct {
	ID            string     `json:"id"`
	PositionID    string     `json:"position_id"`
	Type          string     `json:"type"`
	Amount        string     `json:"amount"`
	CollateralRef string     `json:"collateral_ref,omitempty"`
	StablecoinRef string     `json:"stablecoin_ref,omitempty"`
	Status        string     `json:"status"`
	ErrorDetail   string     `json:"error_detail,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// ArchiveTransactions uploads every terminal transaction created before the
// cutoff to archive/transactions/YYYY-MM/<cutoff>.jsonl and prunes the
// archived rows from the primary store. Pruning only happens after the upload
// succeeded, so a failed upload never loses records. It returns the number of
// archived records.
func (a *Archiver) ArchiveTransactions(ctx context.Context, before time.Time) (int64, error) {
	transactions, err := a.txs.ListCompletedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive transactions query: %w", err)
	}
	if len(transactions) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(transactions)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive transactions marshal: %w", err)
	}

	path := archivePath("transactions", before)
	if err := a.upload(ctx, path, buf); err != nil {
		return 0, fmt.Errorf("s3blob: archive transactions upload: %w", err)
	}

	pruned, err := a.txs.DeleteCompletedBefore(ctx, before)
	if err != nil {
		// The archive exists but pruning failed; the next run re-archives the
		// same window, which is safe because the path is deterministic.
		return int64(len(transactions)), fmt.Errorf("s3blob: archive transactions prune: %w", err)
	}

	a.logger.InfoContext(ctx, "transactions archived",
		slog.String("path", path),
		slog.Int("archived", len(transactions)),
		slog.Int64("pruned", pruned),
	)
	return int64(len(transactions)), nil
}

// upload picks single-shot or multipart upload based on payload size.
func (a *Archiver) upload(ctx context.Context, path string, buf []byte) error {
	if int64(len(buf)) > minPartSize {
		return a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	}
	return a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
}

// archivePath builds the object key for an archive file. Keys are partitioned
// by the cutoff's year-month and named with the full cutoff timestamp, e.g.
// archive/transactions/2026-08/20260828T030000Z.jsonl: a retried cutoff lands
// on the same object, while distinct runs never overwrite earlier windows.
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s/%s.jsonl",
		kind, before.Format("2006-01"), before.UTC().Format("20060102T150405Z"))
}

// marshalJSONL serializes transactions as newline-delimited JSON, one compact
// line per record.
func marshalJSONL(transactions []domain.Transaction) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, tx := range transactions {
		rec := archivedTransaction{
			ID:            tx.ID,
			PositionID:    tx.PositionID,
			Type:          string(tx.Type),
			Amount:        tx.Amount.String(),
			CollateralRef: tx.CollateralRef,
			StablecoinRef: tx.StablecoinRef,
			Status:        string(tx.Status),
			ErrorDetail:   tx.ErrorDetail,
			CreatedAt:     tx.CreatedAt,
			CompletedAt:   tx.CompletedAt,
		}
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
