package bus

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// Archiver copies exhausted dead-letter payloads to S3, keeping the local
// rows, generalized from whole-database tar.gz archival (upload via an
// S3-compatible client) down to one poisoned message at a time: object key
// is "<kind>/<id>.msgpack", uploaded via the same manager.Uploader idiom
// used for multi-part database backups.
type Archiver struct {
	db     *sql.DB
	upload *manager.Uploader
	bucket string
	log    zerolog.Logger
}

// NewArchiver wires an S3 uploader onto the dead-letter table. A zero-value
// bucket disables archival: ArchiveDeadLetters becomes a no-op so the bus
// works without AWS credentials configured.
func NewArchiver(db *sql.DB, client *s3.Client, bucket string, log zerolog.Logger) *Archiver {
	return &Archiver{
		db:     db,
		upload: manager.NewUploader(client),
		bucket: bucket,
		log:    log.With().Str("component", "bus.archiver").Logger(),
	}
}

// ArchiveDeadLetters uploads every dead-letter row older than olderThan that
// has not yet been archived, then marks it archived=1. Rows are never
// deleted locally; archival is a durability copy, not a move (§4.1 poison
// policy: "original payload preserved").
func (a *Archiver) ArchiveDeadLetters(ctx context.Context, olderThan time.Duration) (int, error) {
	if a.bucket == "" {
		return 0, nil
	}

	cutoff := time.Now().Add(-olderThan).Unix()
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, kind, payload FROM bus_dead_letters
		WHERE archived = 0 AND failed_at <= ?
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("bus.ArchiveDeadLetters: query: %w", err)
	}

	type row struct {
		id, kind string
		payload  []byte
	}
	var pending []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.kind, &r.payload); err != nil {
			rows.Close()
			return 0, fmt.Errorf("bus.ArchiveDeadLetters: scan: %w", err)
		}
		pending = append(pending, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	archived := 0
	for _, r := range pending {
		key := fmt.Sprintf("%s/%s.msgpack", r.kind, r.id)
		_, err := a.upload.Upload(ctx, &s3.PutObjectInput{
			Bucket: aws.String(a.bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(r.payload),
		})
		if err != nil {
			a.log.Warn().Err(err).Str("id", r.id).Str("kind", r.kind).Msg("dead-letter archival upload failed")
			continue
		}
		if _, err := a.db.ExecContext(ctx, `UPDATE bus_dead_letters SET archived = 1 WHERE id = ?`, r.id); err != nil {
			return archived, fmt.Errorf("bus.ArchiveDeadLetters: mark archived: %w", err)
		}
		archived++
	}
	return archived, nil
}
