package capture

import (
	"bytes"
	"context"
	"encoding/binary"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	pion "github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BioHazard786/meshroom/internal/mesh"
)

// writeIVF writes a minimal IVF file with the given FourCC and frames.
func writeIVF(t *testing.T, dir, fourcc string, frames ...[]byte) string {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString("DKIF")
	binary.Write(&buf, binary.LittleEndian, uint16(0))  // version
	binary.Write(&buf, binary.LittleEndian, uint16(32)) // header size
	buf.WriteString(fourcc)
	binary.Write(&buf, binary.LittleEndian, uint16(640))
	binary.Write(&buf, binary.LittleEndian, uint16(480))
	binary.Write(&buf, binary.LittleEndian, uint32(30)) // timebase denominator
	binary.Write(&buf, binary.LittleEndian, uint32(1))  // timebase numerator
	binary.Write(&buf, binary.LittleEndian, uint32(len(frames)))
	binary.Write(&buf, binary.LittleEndian, uint32(0))

	for i, f := range frames {
		binary.Write(&buf, binary.LittleEndian, uint32(len(f)))
		binary.Write(&buf, binary.LittleEndian, uint64(i))
		buf.Write(f)
	}

	path := filepath.Join(dir, "clip.ivf")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestValidateFile(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.ivf")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	wrongExt := filepath.Join(dir, "clip.mp4")
	require.NoError(t, os.WriteFile(wrongExt, []byte("x"), 0o644))
	good := writeIVF(t, dir, "VP80", []byte{1, 2, 3})

	_, err := ValidateFile(filepath.Join(dir, "missing.ivf"), KindVideo)
	assert.ErrorContains(t, err, "does not exist")

	_, err = ValidateFile(empty, KindVideo)
	assert.ErrorContains(t, err, "file is empty")

	_, err = ValidateFile(wrongExt, KindVideo)
	assert.ErrorContains(t, err, "must be one of .ivf")

	_, err = ValidateFile(good, KindAudio)
	assert.Error(t, err, "an IVF file is not an audio source")

	info, err := ValidateFile(good, KindVideo)
	require.NoError(t, err)
	assert.Equal(t, "clip.ivf", info.Name)
	assert.Equal(t, KindVideo, info.Kind)
	assert.True(t, filepath.IsAbs(info.Path))
}

func TestOpenWithoutSourcesIsCaptureUnavailable(t *testing.T) {
	_, err := Open(context.Background(), Options{})
	assert.ErrorIs(t, err, mesh.ErrCaptureUnavailable)
}

func TestOpenRejectsUnusableFiles(t *testing.T) {
	dir := t.TempDir()
	unknownCodec := writeIVF(t, dir, "H264", []byte{1})

	_, err := Open(context.Background(), Options{VideoPath: unknownCodec})
	assert.ErrorIs(t, err, mesh.ErrCaptureUnavailable)
	assert.ErrorContains(t, err, "unsupported video codec")

	garbage := filepath.Join(dir, "voice.ogg")
	require.NoError(t, os.WriteFile(garbage, []byte("definitely not ogg"), 0o644))
	_, err = Open(context.Background(), Options{AudioPath: garbage})
	assert.ErrorIs(t, err, mesh.ErrCaptureUnavailable)
}

func TestOpenPlaysVideo(t *testing.T) {
	path := writeIVF(t, t.TempDir(), "VP80", []byte{1, 2, 3}, []byte{4, 5, 6})

	s, err := Open(context.Background(), Options{VideoPath: path, Loop: true})
	require.NoError(t, err)

	assert.True(t, s.Live())
	assert.NotEmpty(t, s.ID())

	tracks := s.Tracks()
	require.Len(t, tracks, 1)
	assert.Equal(t, pion.RTPCodecTypeVideo, tracks[0].Kind())
	assert.Equal(t, s.ID(), tracks[0].StreamID())
	assert.Equal(t, pion.MimeTypeVP8, tracks[0].(*pion.TrackLocalStaticSample).Codec().MimeType)
	assert.Equal(t, "clip.ivf", s.Sources()[0].Name)

	s.Close()
	s.Close()
	assert.False(t, s.Live())
}

func videoPlayback(t *testing.T, frames int) playback {
	t.Helper()
	payload := make([][]byte, frames)
	for i := range payload {
		payload[i] = []byte{byte(i)}
	}
	info, err := ValidateFile(writeIVF(t, t.TempDir(), "VP80", payload...), KindVideo)
	require.NoError(t, err)

	track, err := pion.NewTrackLocalStaticSample(pion.RTPCodecCapability{MimeType: pion.MimeTypeVP8}, "video", "s")
	require.NoError(t, err)
	return playback{info: info, track: track}
}

func TestStreamStaysLiveWhileAnyTrackPlays(t *testing.T) {
	s := &Stream{
		id:     "s",
		log:    slog.Default(),
		tracks: []playback{videoPlayback(t, 1), videoPlayback(t, 300)},
	}
	s.start(context.Background())
	defer s.Close()

	require.Eventually(t, func() bool { return s.playing.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, s.Live(), "the longer track is still playing")

	s.Close()
	assert.False(t, s.Live())
}

func TestStreamEndsWhenEveryTrackFinishes(t *testing.T) {
	s := &Stream{
		id:     "s",
		log:    slog.Default(),
		tracks: []playback{videoPlayback(t, 1), videoPlayback(t, 2)},
	}
	s.start(context.Background())
	defer s.Close()

	assert.Eventually(t, func() bool { return !s.Live() }, 2*time.Second, 10*time.Millisecond)
}
