package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"video_merge_service/internal/merge/domain"
	"video_merge_service/internal/merge/engine"
	"video_merge_service/pkg/logger"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type engineCall struct {
	Input  string
	Output string
	Opts   engine.Options
}

// fakeEngine stands in for ffmpeg. Transcode copies the input bytes to the
// output; Concat writes the manifest entries back to back, so the output
// content shows the segment order.
type fakeEngine struct {
	mu         sync.Mutex
	transcodes []engineCall
	concats    []engineCall

	failOn    map[string]error // keyed by input base name
	blockOn   map[string]bool  // wait for cancellation
	noOutput  bool
	concatErr error
	// concat succeeds but writes nothing
	concatNoOutput bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{failOn: map[string]error{}, blockOn: map[string]bool{}}
}

func (f *fakeEngine) Transcode(ctx context.Context, input, output string, opts engine.Options) error {
	f.mu.Lock()
	f.transcodes = append(f.transcodes, engineCall{Input: input, Output: output, Opts: opts})
	base := filepath.Base(input)
	block, failErr, noOutput := f.blockOn[base], f.failOn[base], f.noOutput
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return &engine.ExitError{Op: "transcode", ExitCode: -1, Err: ctx.Err()}
	}
	if failErr != nil {
		return failErr
	}
	if noOutput {
		return nil
	}
	data, err := os.ReadFile(input)
	if err != nil {
		return err
	}
	return os.WriteFile(output, data, 0o644)
}

func (f *fakeEngine) Concat(_ context.Context, manifest, output string, opts engine.Options) error {
	f.mu.Lock()
	f.concats = append(f.concats, engineCall{Input: manifest, Output: output, Opts: opts})
	concatErr, noOutput := f.concatErr, f.concatNoOutput
	f.mu.Unlock()

	if concatErr != nil {
		return concatErr
	}
	if noOutput {
		return nil
	}
	raw, err := os.ReadFile(manifest)
	if err != nil {
		return err
	}
	var merged []byte
	for _, line := range strings.Split(strings.TrimSpace(string(raw)), "\n") {
		path := strings.TrimSuffix(strings.TrimPrefix(line, "file '"), "'")
		path = strings.ReplaceAll(path, `'\''`, `'`)
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		merged = append(merged, data...)
	}
	return os.WriteFile(output, merged, 0o644)
}

func (f *fakeEngine) transcodeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.transcodes)
}

// fakeProber answers by base name
type fakeProber struct {
	info map[string]domain.MediaInfo
}

func (p *fakeProber) Probe(_ context.Context, path string) (domain.MediaInfo, error) {
	if info, ok := p.info[filepath.Base(path)]; ok {
		return info, nil
	}
	return domain.MediaInfo{}, errors.New("no such stream")
}

var engineFailure = &engine.ExitError{
	Op:       "transcode",
	ExitCode: 1,
	Stderr:   "input_2.mp4: Invalid data found when processing input",
	Err:      errors.New("exit status 1"),
}

// MockJobRepo 是 JobRepo 的 Mock
type MockJobRepo struct {
	mock.Mock
}

func (m *MockJobRepo) AutoMigrate() error {
	return m.Called().Error(0)
}

func (m *MockJobRepo) Create(ctx context.Context, job *domain.JobRecord) error {
	return m.Called(ctx, job).Error(0)
}

func (m *MockJobRepo) UpdateStatus(ctx context.Context, s domain.JobSnapshot) error {
	return m.Called(ctx, s).Error(0)
}

func (m *MockJobRepo) GetByID(ctx context.Context, id string) (*domain.JobRecord, error) {
	args := m.Called(ctx, id)
	rec, _ := args.Get(0).(*domain.JobRecord)
	return rec, args.Error(1)
}

func (m *MockJobRepo) FindByStatus(ctx context.Context, status domain.JobStatus) ([]domain.JobRecord, error) {
	args := m.Called(ctx, status)
	return args.Get(0).([]domain.JobRecord), args.Error(1)
}

// MockStatusCache 是 StatusCache 的 Mock
type MockStatusCache struct {
	mock.Mock
}

func (m *MockStatusCache) Put(ctx context.Context, s domain.JobSnapshot) error {
	return m.Called(ctx, s).Error(0)
}

func (m *MockStatusCache) Get(ctx context.Context, jobID string) (*domain.JobSnapshot, error) {
	args := m.Called(ctx, jobID)
	snap, _ := args.Get(0).(*domain.JobSnapshot)
	return snap, args.Error(1)
}

// recordingNotifier keeps every event in order
type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.JobEvent
}

func (n *recordingNotifier) Notify(_ context.Context, ev domain.JobEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func (n *recordingNotifier) types() []domain.EventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]domain.EventType, len(n.events))
	for i, ev := range n.events {
		out[i] = ev.Type
	}
	return out
}

// observeLogs routes the global logger into an observer for the test
func observeLogs(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	logger.SetLogger(zap.New(core))
	t.Cleanup(logger.SetNewNop)
	return logs
}

// writeInput creates a file holding body
func writeInput(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

// dirEntries names under dir, nil when dir does not exist
func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}
