package protocol

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// Compressed snapshot content is carried in the same string field as plain
// content, marked by a prefix so the payload shape stays fixed:
// "gz:" + base64(gzip(content)).
const CompressedContentPrefix = "gz:"

func IsCompressedContent(content string) bool {
	return len(CompressedContentPrefix) <= len(content) &&
		content[:len(CompressedContentPrefix)] == CompressedContentPrefix
}

func EncodeCompressedContent(content string) (string, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write([]byte(content)); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return CompressedContentPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// DecodeContent reverses `EncodeCompressedContent`.
// Plain content passes through unchanged.
func DecodeContent(content string) (string, error) {
	if !IsCompressedContent(content) {
		return content, nil
	}
	compressed, err := base64.StdEncoding.DecodeString(content[len(CompressedContentPrefix):])
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrMalformedMessage, err)
	}
	r, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrMalformedMessage, err)
	}
	defer r.Close()
	b, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrMalformedMessage, err)
	}
	return string(b), nil
}
