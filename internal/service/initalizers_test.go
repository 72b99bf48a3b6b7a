package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/shroud/internal/config"
	"github.com/xkilldash9x/shroud/internal/filter/engine"
	"github.com/xkilldash9x/shroud/internal/filter/keyword"
	"github.com/xkilldash9x/shroud/internal/filter/scanner"
)

func TestNewMatcher(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		m, err := NewMatcher(config.FilterConfig{})
		require.NoError(t, err)
		assert.Equal(t, keyword.DefaultPlaceholder, m.Placeholder())
		assert.Len(t, m.Terms(), len(keyword.DefaultKeywords))
	})

	t.Run("Configured", func(t *testing.T) {
		m, err := NewMatcher(config.FilterConfig{Keywords: []string{"Spoiler"}, Placeholder: "***"})
		require.NoError(t, err)
		assert.Equal(t, "no *** here", m.Redact("no spoiler here"))
	})

	t.Run("Invalid", func(t *testing.T) {
		_, err := NewMatcher(config.FilterConfig{Keywords: []string{"ok", "  "}})
		assert.ErrorIs(t, err, keyword.ErrEmptyKeyword)
	})
}

func TestNewScanner(t *testing.T) {
	sc, err := NewScanner(config.FilterConfig{SkipTags: []string{"aside"}, EditableInputTypes: []string{"text"}}, zap.NewNop())
	require.NoError(t, err)
	assert.NotNil(t, sc)

	_, err = NewScanner(config.FilterConfig{Placeholder: "lgbt"}, zap.NewNop())
	assert.ErrorIs(t, err, keyword.ErrPlaceholderMatches)
}

func TestDrainChannel(t *testing.T) {
	ch := make(chan engine.Report, 5)
	ch <- engine.Report{ID: "1"}
	ch <- engine.Report{ID: "2"}

	var batch []engine.Report
	drainChannel(ch, &batch)
	assert.Len(t, batch, 2)

	close(ch)
	drainChannel(ch, &batch)
	assert.Len(t, batch, 2, "a closed channel adds nothing")
}

func TestReportSink(t *testing.T) {
	s := newReportSink(1)
	s.Report(engine.Report{ID: "1"})
	s.Report(engine.Report{ID: "2"})
	assert.Equal(t, int64(1), s.dropped.Load(), "a full sink drops instead of blocking")

	s.close()
	s.close()
	s.Report(engine.Report{ID: "3"})
	r, ok := <-s.ch
	assert.True(t, ok)
	assert.Equal(t, "1", r.ID)
	_, ok = <-s.ch
	assert.False(t, ok)
}

func TestStartReportConsumer(t *testing.T) {
	t.Run("FlushOnClose", func(t *testing.T) {
		core, logs := observer.New(zapcore.DebugLevel)
		ch := make(chan engine.Report, 10)
		wg := &sync.WaitGroup{}
		StartReportConsumer(context.Background(), wg, ch, zap.New(core))

		ch <- engine.Report{ID: "1", Identity: "b.example", Result: scanner.Result{Removed: 2}}
		ch <- engine.Report{ID: "2", Identity: "a.example", Result: scanner.Result{Redacted: 1, Failures: 1}}
		ch <- engine.Report{ID: "3", Identity: "a.example"}
		close(ch)
		require.True(t, timedWait(wg, time.Second))

		entries := logs.FilterMessage("Filter activity.").All()
		require.Len(t, entries, 1)
		assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
		fields := entries[0].ContextMap()
		assert.EqualValues(t, 3, fields["scans"])
		assert.EqualValues(t, 2, fields["removed"])
		assert.EqualValues(t, 1, fields["redacted"])
		assert.EqualValues(t, 1, fields["failures"])
		assert.Equal(t, []interface{}{"a.example", "b.example"}, fields["sites"])
	})

	t.Run("QuietBatchLogsAtDebug", func(t *testing.T) {
		core, logs := observer.New(zapcore.DebugLevel)
		ch := make(chan engine.Report, 1)
		wg := &sync.WaitGroup{}
		StartReportConsumer(context.Background(), wg, ch, zap.New(core))
		ch <- engine.Report{ID: "1"}
		close(ch)
		require.True(t, timedWait(wg, time.Second))

		entries := logs.FilterMessage("Filter activity.").All()
		require.Len(t, entries, 1)
		assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	})

	t.Run("DrainOnCancel", func(t *testing.T) {
		core, logs := observer.New(zapcore.DebugLevel)
		ctx, cancel := context.WithCancel(context.Background())
		ch := make(chan engine.Report, 10)
		for i := 0; i < 4; i++ {
			ch <- engine.Report{Result: scanner.Result{Removed: 1}}
		}
		wg := &sync.WaitGroup{}
		cancel()
		StartReportConsumer(ctx, wg, ch, zap.New(core))
		require.True(t, timedWait(wg, time.Second))

		removed := 0
		for _, e := range logs.FilterMessage("Filter activity.").All() {
			removed += int(e.ContextMap()["removed"].(int64))
		}
		assert.Equal(t, 4, removed, "buffered reports are summarized before exit")
	})

	t.Run("FullBatch", func(t *testing.T) {
		core, logs := observer.New(zapcore.InfoLevel)
		ch := make(chan engine.Report, reportBatchSize)
		wg := &sync.WaitGroup{}
		StartReportConsumer(context.Background(), wg, ch, zap.New(core))
		for i := 0; i < reportBatchSize; i++ {
			ch <- engine.Report{Result: scanner.Result{Redacted: 1}}
		}
		assert.Eventually(t, func() bool {
			return logs.FilterMessage("Filter activity.").Len() == 1
		}, time.Second, 5*time.Millisecond, "a full batch flushes before the ticker")
		close(ch)
		require.True(t, timedWait(wg, time.Second))
	})
}
