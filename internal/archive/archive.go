// Package archive uploads a compressed summary of a finished run to an object store.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"time"

	"github.com/jotfs/fsstress/internal/compress"
	"github.com/jotfs/fsstress/internal/store"
)

// Report summarises a run.
type Report struct {
	RunID      string    `json:"run_id"`
	Port       string    `json:"port"`
	Seed       int64     `json:"seed"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	StopReason string    `json:"stop_reason"`

	Iterations   uint64  `json:"iterations"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	Deletes      uint64  `json:"deletes"`
	Mismatches   uint64  `json:"mismatches"`
	Evictions    uint64  `json:"evictions"`
	LiveFiles    int     `json:"live_files"`

	WearSamples       uint64 `json:"wear_samples"`
	WearDropped       uint64 `json:"wear_dropped"`
	LastWearCycles    uint64 `json:"last_wear_cycles"`
	LastWearIteration uint64 `json:"last_wear_iteration"`
}

// Archiver writes reports to a bucket.
type Archiver struct {
	store  store.Store
	bucket string
	prefix string
	mode   compress.Mode
}

// New returns an Archiver writing zstd-compressed reports under prefix in bucket.
func New(s store.Store, bucket string, prefix string) *Archiver {
	return &Archiver{store: s, bucket: bucket, prefix: prefix, mode: compress.Zstd}
}

// Key returns the object key of the report of a run.
func (a *Archiver) Key(runID string) string {
	return a.prefix + runID + ".json" + a.mode.Extension()
}

// Put uploads r and returns its key.
func (a *Archiver) Put(ctx context.Context, r Report) (string, error) {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	data, err := a.mode.Compress(nil, b)
	if err != nil {
		return "", fmt.Errorf("compressing report: %w", err)
	}
	key := a.Key(r.RunID)
	if err := a.store.Put(ctx, a.bucket, key, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("uploading report %s: %w", key, err)
	}
	return key, nil
}

// Get downloads the report of a run.
func (a *Archiver) Get(ctx context.Context, runID string) (Report, error) {
	rc, err := a.store.Get(ctx, a.bucket, a.Key(runID))
	if err != nil {
		return Report{}, err
	}
	defer rc.Close()
	data, err := ioutil.ReadAll(rc)
	if err != nil {
		return Report{}, err
	}
	b, err := a.mode.Decompress(data)
	if err != nil {
		return Report{}, fmt.Errorf("decompressing report: %w", err)
	}
	var r Report
	if err := json.Unmarshal(b, &r); err != nil {
		return Report{}, err
	}
	return r, nil
}
