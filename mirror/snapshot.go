package mirror

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/editmirror/mirror/protocol"
)

// use this type when counting bytes
type ByteCount = int64

func kib(c ByteCount) ByteCount {
	return c * ByteCount(1024)
}

var ErrContentUnavailable = errors.New("content unavailable")

// ContentSource supplies the baseline and working content for an artifact.
// Any failure is treated as `ErrContentUnavailable` by the builder.
type ContentSource interface {
	ReadContent(artifactId string) (baselineContent string, currentContent string, isDirty bool, err error)
}

type SnapshotBuilderSettings struct {
	CompressThreshold ByteCount
	// Compress replaces a content string with its reversible encoded
	// form. A failure falls back to the uncompressed snapshot.
	Compress func(content string) (string, error)
	Now      func() int64
}

func DefaultSnapshotBuilderSettings() *SnapshotBuilderSettings {
	return &SnapshotBuilderSettings{
		CompressThreshold: kib(50),
		Compress:          protocol.EncodeCompressedContent,
		Now: func() int64 {
			return time.Now().UnixMilli()
		},
	}
}

// SnapshotBuilder turns a triggered artifact id into a `ContextSnapshot`.
// `capturedAt` is monotonically non-decreasing per artifact even when the
// wall clock steps backwards.
type SnapshotBuilder struct {
	contentSource ContentSource
	settings      *SnapshotBuilderSettings

	stateLock      sync.Mutex
	lastCapturedAt map[string]int64
}

func NewSnapshotBuilderWithDefaults(contentSource ContentSource) *SnapshotBuilder {
	return NewSnapshotBuilder(contentSource, DefaultSnapshotBuilderSettings())
}

func NewSnapshotBuilder(contentSource ContentSource, settings *SnapshotBuilderSettings) *SnapshotBuilder {
	return &SnapshotBuilder{
		contentSource:  contentSource,
		settings:       settings,
		lastCapturedAt: map[string]int64{},
	}
}

// Build reads content from the content source and constructs a snapshot.
func (self *SnapshotBuilder) Build(artifactId string) (*protocol.ContextSnapshot, error) {
	baselineContent, currentContent, isDirty, err := self.contentSource.ReadContent(artifactId)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrContentUnavailable, err)
	}
	return self.BuildFromContent(artifactId, baselineContent, currentContent, isDirty), nil
}

func (self *SnapshotBuilder) BuildFromContent(artifactId string, baselineContent string, currentContent string, isDirty bool) *protocol.ContextSnapshot {
	return &protocol.ContextSnapshot{
		ArtifactId:      artifactId,
		BaselineContent: baselineContent,
		CurrentContent:  currentContent,
		IsDirty:         isDirty,
		CapturedAt:      self.nextCapturedAt(artifactId),
	}
}

func (self *SnapshotBuilder) nextCapturedAt(artifactId string) int64 {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	capturedAt := self.settings.Now()
	if last, ok := self.lastCapturedAt[artifactId]; ok && capturedAt < last {
		capturedAt = last
	}
	self.lastCapturedAt[artifactId] = capturedAt
	return capturedAt
}

// ApplyCompressionPolicy compresses the content fields independently when
// the serialized snapshot exceeds the threshold. Compression is a
// best-effort optimization. Any failure returns the snapshot unchanged.
func (self *SnapshotBuilder) ApplyCompressionPolicy(snapshot *protocol.ContextSnapshot) *protocol.ContextSnapshot {
	serialized, err := json.Marshal(snapshot)
	if err != nil {
		glog.Infof("[sb]size check failed, skip compression = %s\n", err)
		return snapshot
	}
	if ByteCount(len(serialized)) < self.settings.CompressThreshold {
		return snapshot
	}

	baselineContent, err := self.settings.Compress(snapshot.BaselineContent)
	if err != nil {
		glog.Infof("[sb]compress failed, send uncompressed = %s\n", err)
		return snapshot
	}
	currentContent, err := self.settings.Compress(snapshot.CurrentContent)
	if err != nil {
		glog.Infof("[sb]compress failed, send uncompressed = %s\n", err)
		return snapshot
	}

	compressed := *snapshot
	compressed.BaselineContent = baselineContent
	compressed.CurrentContent = currentContent
	return &compressed
}
