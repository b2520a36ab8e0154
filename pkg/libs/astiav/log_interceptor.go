package astiavsplitter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astikit"
)

// LogInterceptor forwards libav logs. Logs emitted by a demuxer's libav objects are written
// with the demuxer's context, and to the demuxer's logger when it has one.
type LogInterceptor struct {
	ctx           context.Context
	l             astikit.CompleteLogger
	m             *logMerger
	o             LogInterceptorOptions
	previousLevel *astiav.LogLevel
}

type LogInterceptorOptions struct {
	Level astiav.LogLevel
	// When processed is false, the default mapping is used. When stop is true, the log is
	// dropped.
	LevelFunc func(l astiav.LogLevel) (ll astikit.LoggerLevel, processed, stop bool)
	Logger    astikit.StdLogger
	Merge     LogInterceptorMergeOptions
}

// Patterns written more than AllowedCount times within Buffer are only counted, and a
// summary is written once Buffer has elapsed. Merging is disabled when Buffer is 0.
type LogInterceptorMergeOptions struct {
	AllowedCount uint
	Buffer       time.Duration
}

func NewLogInterceptor(o LogInterceptorOptions) *LogInterceptor {
	li := &LogInterceptor{
		ctx: context.Background(),
		l:   astikit.AdaptStdLogger(o.Logger),
		o:   o,
	}
	if o.Merge.Buffer > 0 {
		li.m = newLogMerger(o.Merge)
	}
	return li
}

// Start installs the process-wide libav log callback. Merged patterns are flushed until ctx
// is done.
func (li *LogInterceptor) Start(ctx context.Context) {
	// Update context
	li.ctx = ctx

	// Update level
	ll := astiav.GetLogLevel()
	li.previousLevel = &ll
	astiav.SetLogLevel(li.o.Level)

	// Update callback
	astiav.SetLogCallback(li.callback)

	// Flush merged patterns
	if li.m != nil {
		go astikit.Tick(ctx, li.o.Merge.Buffer/10, func(t time.Time) {
			li.writeRepeated(li.m.expired(t))
		})
	}
}

// Close restores libav's level and callback, and flushes merged patterns
func (li *LogInterceptor) Close() {
	if li.previousLevel != nil {
		astiav.SetLogLevel(*li.previousLevel)
		li.previousLevel = nil
	}
	astiav.ResetLogCallback()
	if li.m != nil {
		li.writeRepeated(li.m.drain())
	}
}

func (li *LogInterceptor) callback(c astiav.Classer, level astiav.LogLevel, format, msg string) {
	// Empty
	if msg = strings.TrimSpace(msg); msg == "" {
		return
	}

	// Map level
	ll, prefix, ok := li.loggerLevel(level)
	if !ok {
		return
	}

	// Messages without a pattern are their own pattern
	pattern := strings.TrimSpace(format)
	if pattern == "%s" {
		pattern = msg
	}

	// Add class
	if c != nil {
		if cl := c.Class(); cl != nil {
			msg += ": " + cl.String()
		}
	}

	// Merge
	t := li.target(c)
	if li.m != nil && !li.m.add(t, ll, "libav: "+pattern) {
		return
	}

	// Write
	t.l.WriteC(t.ctx, ll, "libav: "+prefix+msg)
}

func (li *LogInterceptor) target(c astiav.Classer) classerTarget {
	t := classerTarget{
		ctx: li.ctx,
		l:   li.l,
	}
	if c == nil {
		return t
	}
	if v, ok := classers.get(c); ok {
		t.ctx = v.ctx
		if v.l != nil {
			t.l = v.l
		}
	}
	return t
}

func (li *LogInterceptor) loggerLevel(level astiav.LogLevel) (ll astikit.LoggerLevel, prefix string, ok bool) {
	// Custom
	if li.o.LevelFunc != nil {
		var processed, stop bool
		if ll, processed, stop = li.o.LevelFunc(level); stop {
			return
		} else if processed {
			ok = true
			return
		}
	}

	// Default
	ok = true
	switch level {
	case astiav.LogLevelDebug, astiav.LogLevelVerbose:
		ll = astikit.LoggerLevelDebug
	case astiav.LogLevelInfo:
		ll = astikit.LoggerLevelInfo
	case astiav.LogLevelWarning:
		ll = astikit.LoggerLevelWarn
	case astiav.LogLevelError:
		ll = astikit.LoggerLevelError
	case astiav.LogLevelFatal:
		ll, prefix = astikit.LoggerLevelError, "FATAL! "
	case astiav.LogLevelPanic:
		ll, prefix = astikit.LoggerLevelError, "PANIC! "
	default:
		ok = false
	}
	return
}

func (li *LogInterceptor) writeRepeated(ps []*logPattern) {
	for _, p := range ps {
		switch n := p.count - p.written; {
		case n == 1:
			p.t.l.WriteC(p.t.ctx, p.key.ll, "astiavsplitter: pattern repeated once: "+p.key.pattern)
		case n > 1:
			p.t.l.WriteC(p.t.ctx, p.key.ll, fmt.Sprintf("astiavsplitter: pattern repeated %d times: %s", n, p.key.pattern))
		}
	}
}
