package capture

import (
	"errors"
	"fmt"
	"os"
	"time"

	pion "github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

const opusSampleRate = 48000

var fourCCMime = map[string]string{
	"VP80": pion.MimeTypeVP8,
	"VP90": pion.MimeTypeVP9,
	"AV01": pion.MimeTypeAV1,
}

// reader yields timed samples from one file. next returns io.EOF at the end.
type reader interface {
	next() (media.Sample, error)
	Close() error
}

// probe opens a file far enough to learn the codec it carries.
func probe(info FileInfo) (pion.RTPCodecCapability, error) {
	r, codec, err := openReader(info)
	if err != nil {
		return pion.RTPCodecCapability{}, err
	}
	r.Close()
	return codec, nil
}

func openReader(info FileInfo) (reader, pion.RTPCodecCapability, error) {
	f, err := os.Open(info.Path)
	if err != nil {
		return nil, pion.RTPCodecCapability{}, err
	}

	var (
		r     reader
		codec pion.RTPCodecCapability
	)
	switch info.Kind {
	case KindVideo:
		r, codec, err = newIVFReader(f)
	case KindAudio:
		r, codec, err = newOggReader(f)
	default:
		err = fmt.Errorf("unsupported kind %q", info.Kind)
	}
	if err != nil {
		f.Close()
		return nil, pion.RTPCodecCapability{}, fmt.Errorf("%s: %w", info.Name, err)
	}
	return r, codec, nil
}

type ivfSource struct {
	file     *os.File
	ivf      *ivfreader.IVFReader
	duration time.Duration
}

func newIVFReader(f *os.File) (*ivfSource, pion.RTPCodecCapability, error) {
	ivf, header, err := ivfreader.NewWith(f)
	if err != nil {
		return nil, pion.RTPCodecCapability{}, err
	}

	mime, ok := fourCCMime[header.FourCC]
	if !ok {
		return nil, pion.RTPCodecCapability{}, fmt.Errorf("unsupported video codec %q", header.FourCC)
	}
	if header.TimebaseDenominator == 0 {
		return nil, pion.RTPCodecCapability{}, errors.New("invalid IVF timebase")
	}

	frame := time.Duration(float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator) * float64(time.Second))
	return &ivfSource{file: f, ivf: ivf, duration: frame}, pion.RTPCodecCapability{MimeType: mime, ClockRate: 90000}, nil
}

func (s *ivfSource) next() (media.Sample, error) {
	frame, _, err := s.ivf.ParseNextFrame()
	if err != nil {
		return media.Sample{}, err
	}
	return media.Sample{Data: frame, Duration: s.duration}, nil
}

func (s *ivfSource) Close() error {
	return s.file.Close()
}

type oggSource struct {
	file    *os.File
	ogg     *oggreader.OggReader
	granule uint64
}

func newOggReader(f *os.File) (*oggSource, pion.RTPCodecCapability, error) {
	ogg, _, err := oggreader.NewWith(f)
	if err != nil {
		return nil, pion.RTPCodecCapability{}, err
	}
	return &oggSource{file: f, ogg: ogg}, pion.RTPCodecCapability{MimeType: pion.MimeTypeOpus, ClockRate: opusSampleRate, Channels: 2}, nil
}

func (s *oggSource) next() (media.Sample, error) {
	page, header, err := s.ogg.ParseNextPage()
	if err != nil {
		return media.Sample{}, err
	}

	var samples uint64
	if header.GranulePosition > s.granule {
		samples = header.GranulePosition - s.granule
	}
	s.granule = header.GranulePosition
	return media.Sample{
		Data:     page,
		Duration: time.Duration(float64(samples) / opusSampleRate * float64(time.Second)),
	}, nil
}

func (s *oggSource) Close() error {
	return s.file.Close()
}
