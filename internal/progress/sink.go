package progress

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

// NewSink picks a terminal bar renderer when out is an interactive
// terminal and a log renderer otherwise.
func NewSink(ctx context.Context, out *os.File, disabled bool) Sink {
	if disabled || out == nil {
		return NewLogSink(ctx)
	}
	fd := out.Fd()
	if !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd) {
		return NewLogSink(ctx)
	}
	return NewBarSink(out)
}

type barSink struct {
	p    *mpb.Progress
	bars map[string]*mpb.Bar
	last map[string]time.Time
}

// NewBarSink renders one bar per stage with an EWMA based ETA.
func NewBarSink(w io.Writer) Sink {
	return &barSink{
		p: mpb.New(
			mpb.WithWidth(48),
			mpb.WithOutput(w),
			mpb.WithRefreshRate(180*time.Millisecond),
		),
		bars: make(map[string]*mpb.Bar),
		last: make(map[string]time.Time),
	}
}

func (s *barSink) Start(stage string, total int64) {
	if old, ok := s.bars[stage]; ok {
		old.Abort(false)
	}
	s.bars[stage] = s.p.AddBar(total,
		mpb.PrependDecorators(
			decor.Name(stage, decor.WC{W: 10, C: decor.DindentRight}),
			decor.CountersNoUnit("%d / %d"),
		),
		mpb.AppendDecorators(
			decor.OnComplete(decor.EwmaETA(decor.ET_STYLE_GO, 30), "done"),
		),
	)
	s.last[stage] = time.Now()
}

func (s *barSink) Add(stage string, n int64, _ string) {
	bar, ok := s.bars[stage]
	if !ok {
		return
	}
	now := time.Now()
	bar.EwmaIncrInt64(n, now.Sub(s.last[stage]))
	s.last[stage] = now
}

func (s *barSink) Finish(stage string) {
	if bar, ok := s.bars[stage]; ok {
		bar.SetTotal(-1, true)
		delete(s.bars, stage)
	}
}

func (s *barSink) Close() {
	for stage, bar := range s.bars {
		bar.Abort(false)
		delete(s.bars, stage)
	}
	s.p.Wait()
}

type stageCounter struct {
	total int64
	done  int64
	start time.Time
}

type logSink struct {
	ctx    context.Context
	stages map[string]*stageCounter
}

// NewLogSink reports stage boundaries through the context logger.
func NewLogSink(ctx context.Context) Sink {
	return &logSink{ctx: ctx, stages: make(map[string]*stageCounter)}
}

func (s *logSink) Start(stage string, total int64) {
	s.stages[stage] = &stageCounter{total: total, start: time.Now()}
	logutil.GetLogger(s.ctx).Info("stage started", zap.String("stage", stage), zap.String("total", humanize.Comma(total)))
}

func (s *logSink) Add(stage string, n int64, item string) {
	c, ok := s.stages[stage]
	if !ok {
		return
	}
	c.done += n
	logutil.GetLogger(s.ctx).Debug("stage progress", zap.String("stage", stage),
		zap.Int64("done", c.done), zap.Int64("total", c.total), zap.String("item", item))
}

func (s *logSink) Finish(stage string) {
	c, ok := s.stages[stage]
	if !ok {
		return
	}
	logutil.GetLogger(s.ctx).Info("stage finished", zap.String("stage", stage),
		zap.String("done", humanize.Comma(c.done)), zap.Duration("elapsed", time.Since(c.start)))
	delete(s.stages, stage)
}

func (s *logSink) Close() {}

type nopSink struct{}

// NopSink discards every event.
func NopSink() Sink { return nopSink{} }

func (nopSink) Start(string, int64)       {}
func (nopSink) Add(string, int64, string) {}
func (nopSink) Finish(string)             {}
func (nopSink) Close()                    {}
