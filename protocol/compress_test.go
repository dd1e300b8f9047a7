package protocol

import (
	"strings"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestCompressedContentRoundTrip(t *testing.T) {
	contents := []string{
		"",
		"x",
		strings.Repeat("the quick brown fox\n", 10000),
	}
	for _, content := range contents {
		encoded, err := EncodeCompressedContent(content)
		assert.Equal(t, err, nil)
		assert.Equal(t, IsCompressedContent(encoded), true)

		decoded, err := DecodeContent(encoded)
		assert.Equal(t, err, nil)
		assert.Equal(t, decoded, content)
	}
}

func TestPlainContentPassesThrough(t *testing.T) {
	content := "plain text, never compressed"
	assert.Equal(t, IsCompressedContent(content), false)

	decoded, err := DecodeContent(content)
	assert.Equal(t, err, nil)
	assert.Equal(t, decoded, content)
}

func TestBadCompressedContentRejected(t *testing.T) {
	bad := []string{
		"gz:not base64!!!",
		"gz:aGVsbG8=",
	}
	for _, content := range bad {
		_, err := DecodeContent(content)
		assert.NotEqual(t, err, nil)
	}
}

func TestCompressionShrinksRepetitiveContent(t *testing.T) {
	content := strings.Repeat("0123456789", 100000)
	encoded, err := EncodeCompressedContent(content)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(encoded) < len(content), true)
}
