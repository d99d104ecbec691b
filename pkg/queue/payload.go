package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/KevTiv/pgqueue/pkg/storage"
)

// PayloadStore offloads oversized job payloads to an object store
// (S3/MinIO/local, via pkg/storage.Storage) and keeps only a small
// reference object in the pg_loco_queue.task_data column. This is an
// optional enrichment: jobs under Threshold bytes are stored inline
// as usual; only payloads at or above Threshold are offloaded.
type PayloadStore struct {
	backend   storage.Storage
	Threshold int
	KeyPrefix string
}

// NewPayloadStore wraps backend with a size threshold in bytes at or
// above which payloads are offloaded. A zero threshold disables offload.
func NewPayloadStore(backend storage.Storage, threshold int) *PayloadStore {
	return &PayloadStore{backend: backend, Threshold: threshold, KeyPrefix: "pgqueue/jobs"}
}

type payloadRef struct {
	Ref string `json:"$payloadRef"`
}

// Offload returns the JSON to persist in task_data for jobID: either
// dataJSON unchanged (below threshold, or no backend configured) or a
// reference object after uploading dataJSON to the backend.
func (s *PayloadStore) Offload(ctx context.Context, jobID string, dataJSON []byte) ([]byte, error) {
	if s == nil || s.backend == nil || s.Threshold <= 0 || len(dataJSON) < s.Threshold {
		return dataJSON, nil
	}

	key := fmt.Sprintf("%s/%s.json", s.KeyPrefix, jobID)
	_, err := s.backend.Upload(ctx, storage.UploadOptions{
		Key:         key,
		Reader:      bytes.NewReader(dataJSON),
		ContentType: "application/json",
		Size:        int64(len(dataJSON)),
	})
	if err != nil {
		return nil, wrapDB("payload_offload", "failed to offload job payload", err)
	}

	return json.Marshal(payloadRef{Ref: key})
}

// Resolve inspects dataJSON and, if it is a reference object, fetches
// the real payload from the backend; otherwise it returns dataJSON
// unchanged.
func (s *PayloadStore) Resolve(ctx context.Context, dataJSON json.RawMessage) (json.RawMessage, error) {
	if s == nil || s.backend == nil {
		return dataJSON, nil
	}

	var ref payloadRef
	if err := json.Unmarshal(dataJSON, &ref); err != nil || ref.Ref == "" {
		return dataJSON, nil
	}

	file, err := s.backend.Download(ctx, ref.Ref)
	if err != nil {
		return nil, wrapDB("payload_resolve", "failed to fetch offloaded job payload", err)
	}
	defer file.Reader.Close()

	data, err := io.ReadAll(file.Reader)
	if err != nil {
		return nil, wrapDB("payload_resolve", "failed to read offloaded job payload", err)
	}
	return data, nil
}
