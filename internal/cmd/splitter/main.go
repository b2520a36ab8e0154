package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astikit"
	"github.com/asticode/go-astilog"
	"github.com/asticode/go-astisplitter/pkg/astisplitter"
	"github.com/asticode/go-astisplitter/pkg/container"
	astiavsplitter "github.com/asticode/go-astisplitter/pkg/libs/astiav"
	"github.com/asticode/go-astisplitter/pkg/monitor/server"
	"github.com/asticode/go-astisplitter/pkg/stats/psutil"
	"golang.org/x/sync/errgroup"
)

var (
	audioLanguages = flag.String("a", "", "comma separated preferred audio languages")
	format         = flag.String("f", "", "forced format")
	input          = flag.String("i", "", "input path")
	monitorAddr    = flag.String("m", "", "monitor server address")
	seekTo         = flag.Duration("s", 0, "seek position")
)

func main() {
	// Parse flags
	flag.Parse()

	// Usage
	if *input == "" {
		log.Println("Usage: <binary path> -i <input path>")
		return
	}

	// Create logger
	l := astilog.New(astilog.Configuration{})

	// Create worker
	w := astikit.NewWorker(astikit.WorkerOptions{Logger: l})
	w.HandleSignals(astikit.TermSignalHandler(w.Stop))

	// Run
	if err := run(w.Context(), astikit.AdaptStdLogger(l)); err != nil {
		l.Error(fmt.Errorf("main: running failed: %w", err))
	}
}

func run(ctx context.Context, l astikit.CompleteLogger) error {
	// Init
	astisplitter.Init(astisplitter.InitOptions{})

	// Start log interceptor
	li := astiavsplitter.NewLogInterceptor(astiavsplitter.LogInterceptorOptions{
		Level:  astiav.LogLevelInfo,
		Logger: l,
		Merge: astiavsplitter.LogInterceptorMergeOptions{
			AllowedCount: 5,
			Buffer:       10 * time.Second,
		},
	})
	li.Start(ctx)
	defer li.Close()

	// Open input
	src, err := newFileSource(*input)
	if err != nil {
		return fmt.Errorf("main: creating file source failed: %w", err)
	}
	defer src.Close()

	// Create session
	s, err := astisplitter.New(astisplitter.Options{
		ContextAdapter: func(ctx context.Context, s *astisplitter.Session) context.Context {
			return astilog.ContextWithFields(ctx, map[string]interface{}{
				"session": s.String(),
			})
		},
		Logger:   l,
		Metadata: astisplitter.Metadata{Name: *input, URL: *input},
		Opener:   astiavsplitter.NewOpener(astiavsplitter.OpenerOptions{Logger: l}),
	})
	if err != nil {
		return fmt.Errorf("main: creating session failed: %w", err)
	}
	defer s.Close()

	// Create group
	g, gctx := errgroup.WithContext(ctx)
	gctx, cancel := context.WithCancel(gctx)
	defer cancel()

	// Monitor
	if *monitorAddr != "" {
		// Create host usage stat
		ds, err := psutil.NewHostUsage()
		if err != nil {
			return fmt.Errorf("main: creating host usage stat failed: %w", err)
		}

		// Create server
		srv := server.New(server.Options{
			Addr:        *monitorAddr,
			API:         server.APIOptions{URL: "/api"},
			DeltaPeriod: 2 * time.Second,
			DeltaStats:  []astikit.DeltaStat{ds},
			Logger:      l,
			Name:        "splitter",
			Push:        server.PushOptions{URL: "/push"},
		})
		defer srv.Close()
		srv.Monitor(s)

		// Serve
		g.Go(func() error { return srv.Serve(gctx) })
	}

	// Split
	g.Go(func() error {
		// Monitor server stops once splitting is done
		defer cancel()

		// Abort once the group is done
		go func() {
			<-gctx.Done()
			s.Abort()
		}()
		return split(gctx, s, src, l)
	})
	return g.Wait()
}

func split(ctx context.Context, s *astisplitter.Session, src container.ByteSource, l astikit.CompleteLogger) error {
	// Open
	if err := s.Open(ctx, src, astisplitter.OpenOptions{
		Format: *format,
		URL:    *input,
	}); err != nil {
		return fmt.Errorf("main: opening session failed: %w", err)
	}

	// Log
	l.Infof("main: %s opened with format %s and duration %s", *input, s.Format().ShortName, time.Duration(s.Duration()*100))
	for _, k := range []astisplitter.TrackKind{astisplitter.TrackKindVideo, astisplitter.TrackKindAudio, astisplitter.TrackKindSubtitle} {
		for _, t := range s.Tracks(k) {
			l.Infof("main: %s track #%d: codec %s, language %q", k, t.ID, t.Info.CodecID, t.Language)
		}
	}

	// Select tracks
	var langs []string
	if *audioLanguages != "" {
		langs = strings.Split(*audioLanguages, ",")
	}
	if t, ok := s.SelectVideo(); ok {
		if err := s.SetActiveTrack(astisplitter.TrackKindVideo, t.ID); err != nil {
			return fmt.Errorf("main: activating video track failed: %w", err)
		}
	}
	if t, ok := s.SelectAudio(langs); ok {
		if err := s.SetActiveTrack(astisplitter.TrackKindAudio, t.ID); err != nil {
			return fmt.Errorf("main: activating audio track failed: %w", err)
		}
	}

	// Seek
	if *seekTo > 0 {
		if err := s.Seek(ctx, s.StartTime()+int64(*seekTo/100)); err != nil {
			return fmt.Errorf("main: seeking failed: %w", err)
		}
	}

	// Loop
	counts := make(map[int]uint64)
	for {
		p, err := s.Next(ctx)
		if err != nil {
			if errors.Is(err, astisplitter.ErrTryAgain) {
				continue
			} else if errors.Is(err, io.EOF) {
				break
			} else if errors.Is(err, astisplitter.ErrAborted) {
				return nil
			}
			return fmt.Errorf("main: reading packet failed: %w", err)
		}
		counts[p.TrackID]++
	}

	// Log
	for id, c := range counts {
		l.Infof("main: track #%d: %d packets", id, c)
	}
	return nil
}

var _ container.ByteSource = (*fileSource)(nil)

// fileSource is a fully available byte source
type fileSource struct {
	*os.File
	size int64
}

func newFileSource(path string) (*fileSource, error) {
	// Open
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("main: opening %s failed: %w", path, err)
	}

	// Stat
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("main: stating %s failed: %w", path, err)
	}
	return &fileSource{
		File: f,
		size: fi.Size(),
	}, nil
}

func (s *fileSource) TotalLength() (int64, bool, error) {
	return s.size, false, nil
}
