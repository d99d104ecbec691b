package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildClaimQueryUntagged(t *testing.T) {
	query, args := buildClaimQuery(nil)
	assert.Contains(t, query, "tags IS NULL")
	assert.NotContains(t, query, "tags ?")
	assert.Equal(t, []any{string(StatusQueued)}, args)
	assert.Contains(t, query, "FOR UPDATE SKIP LOCKED")
}

func TestBuildClaimQueryTagged(t *testing.T) {
	query, args := buildClaimQuery([]string{"billing", "urgent"})
	assert.Contains(t, query, "tags IS NOT NULL")
	assert.Contains(t, query, "tags ? $2 OR tags ? $3")
	assert.Equal(t, []any{string(StatusQueued), "billing", "urgent"}, args)
}

func TestStatusStrings(t *testing.T) {
	got := statusStrings([]JobStatus{StatusQueued, StatusFailed})
	assert.Equal(t, []string{"queued", "failed"}, got)
}
