package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContentType(t *testing.T) {
	assert.Equal(t, "text/csv; charset=utf-8", contentType("rosters/2025-08.csv"))
	assert.Equal(t, "application/json", contentType("runs/abc.json"))
	assert.Equal(t, "application/octet-stream", contentType("blob"))
}
