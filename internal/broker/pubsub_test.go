package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDocumentChannel_NamespacesByDocumentID(t *testing.T) {
	assert.Equal(t, "doc:abc-123", DocumentChannel("abc-123"))
	assert.NotEqual(t, DocumentChannel("a"), DocumentChannel("b"))
}
