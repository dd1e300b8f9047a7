package mirror

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/go-playground/assert/v2"

	"github.com/editmirror/mirror/protocol"
)

type testContentSource struct {
	stateLock       sync.Mutex
	baselineContent string
	currentContent  string
	isDirty         bool
	err             error
}

func (self *testContentSource) ReadContent(artifactId string) (string, string, bool, error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.err != nil {
		return "", "", false, self.err
	}
	return self.baselineContent, self.currentContent, self.isDirty, nil
}

func (self *testContentSource) set(baselineContent string, currentContent string, isDirty bool, err error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.baselineContent = baselineContent
	self.currentContent = currentContent
	self.isDirty = isDirty
	self.err = err
}

func TestBuildCleanArtifact(t *testing.T) {
	source := &testContentSource{
		baselineContent: "x",
		currentContent:  "x",
		isDirty:         false,
	}
	builder := NewSnapshotBuilderWithDefaults(source)

	snapshot, err := builder.Build("a.txt")
	assert.Equal(t, err, nil)
	assert.Equal(t, snapshot.ArtifactId, "a.txt")
	assert.Equal(t, snapshot.IsDirty, false)
	assert.Equal(t, snapshot.BaselineContent, snapshot.CurrentContent)
	assert.Equal(t, 0 < snapshot.CapturedAt, true)
}

func TestBuildContentUnavailable(t *testing.T) {
	source := &testContentSource{
		err: errors.New("editor gone"),
	}
	builder := NewSnapshotBuilderWithDefaults(source)

	snapshot, err := builder.Build("a.txt")
	assert.Equal(t, snapshot, nil)
	assert.Equal(t, errors.Is(err, ErrContentUnavailable), true)
}

func TestCapturedAtMonotonic(t *testing.T) {
	// a clock that steps backwards must not produce a decreasing
	// capturedAt for the same artifact
	clock := []int64{100, 50, 200, 150}
	i := 0
	settings := DefaultSnapshotBuilderSettings()
	settings.Now = func() int64 {
		now := clock[i%len(clock)]
		i += 1
		return now
	}
	builder := NewSnapshotBuilder(&testContentSource{}, settings)

	last := int64(0)
	for range clock {
		snapshot, err := builder.Build("a.txt")
		assert.Equal(t, err, nil)
		assert.Equal(t, last <= snapshot.CapturedAt, true)
		last = snapshot.CapturedAt
	}
	assert.Equal(t, last, int64(200))
}

func TestCompressionBelowThresholdUnchanged(t *testing.T) {
	builder := NewSnapshotBuilderWithDefaults(&testContentSource{})
	snapshot := builder.BuildFromContent("a.txt", "small", "small", false)

	out := builder.ApplyCompressionPolicy(snapshot)
	assert.Equal(t, out, snapshot)
	assert.Equal(t, protocol.IsCompressedContent(out.CurrentContent), false)
}

func TestCompressionAboveThreshold(t *testing.T) {
	settings := DefaultSnapshotBuilderSettings()
	settings.CompressThreshold = 64
	builder := NewSnapshotBuilder(&testContentSource{}, settings)

	baselineContent := strings.Repeat("base\n", 100)
	currentContent := strings.Repeat("work\n", 100)
	snapshot := builder.BuildFromContent("a.txt", baselineContent, currentContent, true)

	out := builder.ApplyCompressionPolicy(snapshot)
	assert.Equal(t, protocol.IsCompressedContent(out.BaselineContent), true)
	assert.Equal(t, protocol.IsCompressedContent(out.CurrentContent), true)
	// the input snapshot is immutable, the policy returns a copy
	assert.Equal(t, snapshot.BaselineContent, baselineContent)

	decodedBaseline, err := protocol.DecodeContent(out.BaselineContent)
	assert.Equal(t, err, nil)
	assert.Equal(t, decodedBaseline, baselineContent)
	decodedCurrent, err := protocol.DecodeContent(out.CurrentContent)
	assert.Equal(t, err, nil)
	assert.Equal(t, decodedCurrent, currentContent)

	assert.Equal(t, out.ArtifactId, snapshot.ArtifactId)
	assert.Equal(t, out.IsDirty, snapshot.IsDirty)
	assert.Equal(t, out.CapturedAt, snapshot.CapturedAt)
}

func TestCompressionFailureFallsBack(t *testing.T) {
	settings := DefaultSnapshotBuilderSettings()
	settings.CompressThreshold = 1
	settings.Compress = func(content string) (string, error) {
		return "", errors.New("compressor exploded")
	}
	builder := NewSnapshotBuilder(&testContentSource{}, settings)

	snapshot := builder.BuildFromContent("a.txt", "baseline", "current", false)
	out := builder.ApplyCompressionPolicy(snapshot)

	// fallback returns the input unchanged, not an error
	assert.Equal(t, out, snapshot)
}
