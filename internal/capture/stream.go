// Package capture turns media files into the local stream shared by every peer
// connection of a room.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	pion "github.com/pion/webrtc/v4"

	"github.com/BioHazard786/meshroom/internal/mesh"
)

type Options struct {
	VideoPath string
	AudioPath string

	// Loop restarts a file when it ends.
	Loop bool

	Logger *slog.Logger
}

type source struct {
	path string
	kind Kind
}

type playback struct {
	info  FileInfo
	track *pion.TrackLocalStaticSample
}

// Stream is the captured local media. Its tracks are shared read-only by every
// peer connection; playback runs until Close.
type Stream struct {
	id      string
	tracks  []playback
	loop    bool
	log     *slog.Logger
	playing atomic.Int32
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closeMu sync.Once
}

// Open validates the configured files and starts playing them. It fails with
// mesh.ErrCaptureUnavailable when no source is configured or any is unusable.
func Open(ctx context.Context, opts Options) (*Stream, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var wanted []source
	if opts.VideoPath != "" {
		wanted = append(wanted, source{opts.VideoPath, KindVideo})
	}
	if opts.AudioPath != "" {
		wanted = append(wanted, source{opts.AudioPath, KindAudio})
	}
	if len(wanted) == 0 {
		return nil, mesh.NewError("open capture", fmt.Errorf("%w: no video or audio source given", mesh.ErrCaptureUnavailable))
	}

	id := "meshroom-" + uuid.NewString()[:8]
	s := &Stream{id: id, loop: opts.Loop, log: logger.With("component", "capture", "stream", id)}

	var problems []string
	for _, w := range wanted {
		info, err := ValidateFile(w.path, w.kind)
		if err != nil {
			problems = append(problems, err.Error())
			continue
		}

		codec, err := probe(info)
		if err != nil {
			problems = append(problems, err.Error())
			continue
		}

		track, err := pion.NewTrackLocalStaticSample(codec, string(w.kind), id)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", info.Name, err))
			continue
		}
		s.tracks = append(s.tracks, playback{info: info, track: track})
	}

	if len(problems) > 0 {
		return nil, mesh.NewError("open capture", fmt.Errorf("%w:\n  - %s", mesh.ErrCaptureUnavailable, joinErrors(problems)))
	}

	s.start(ctx)
	return s, nil
}

func (s *Stream) start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.playing.Store(int32(len(s.tracks)))
	for _, p := range s.tracks {
		s.wg.Add(1)
		go s.play(ctx, p)
	}
}

func (s *Stream) ID() string {
	return s.id
}

// Live reports whether any track is still playing.
func (s *Stream) Live() bool {
	return s.playing.Load() > 0
}

// Tracks implements media.TrackSource.
func (s *Stream) Tracks() []pion.TrackLocal {
	out := make([]pion.TrackLocal, len(s.tracks))
	for i, p := range s.tracks {
		out[i] = p.track
	}
	return out
}

// Sources lists the files behind the stream.
func (s *Stream) Sources() []FileInfo {
	out := make([]FileInfo, len(s.tracks))
	for i, p := range s.tracks {
		out[i] = p.info
	}
	return out
}

// Close stops playback and waits for it to finish.
func (s *Stream) Close() {
	s.closeMu.Do(func() {
		s.cancel()
		s.wg.Wait()
	})
}

// play writes samples paced by their durations. Tracks with no bound peer
// discard what they are given.
func (s *Stream) play(ctx context.Context, p playback) {
	defer s.wg.Done()
	defer s.playing.Add(-1)

	for {
		written, err := s.playOnce(ctx, p)
		switch {
		case ctx.Err() != nil:
			return
		case errors.Is(err, io.EOF) && s.loop && written > 0:
			continue
		case errors.Is(err, io.EOF):
			s.log.Info("source finished", "file", p.info.Name)
			return
		default:
			s.log.Error("playback stopped", "file", p.info.Name, "err", err)
			return
		}
	}
}

// playOnce plays the file from the start and reports how many samples it wrote.
func (s *Stream) playOnce(ctx context.Context, p playback) (int, error) {
	r, _, err := openReader(p.info)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	written := 0
	next := time.Now()
	for {
		sample, err := r.next()
		if err != nil {
			return written, err
		}

		if err := p.track.WriteSample(sample); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			return written, err
		}
		written++

		next = next.Add(sample.Duration)
		select {
		case <-time.After(time.Until(next)):
		case <-ctx.Done():
			return written, ctx.Err()
		}
	}
}
