//go:build cgo

package transcode

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var (
	fixtureAV = fixtureConfig{
		duration:   10 * time.Second,
		width:      320,
		height:     240,
		fps:        15,
		sampleRate: 22050,
		channels:   1,
	}
	fixtureShort = fixtureConfig{
		duration:   2 * time.Second,
		width:      160,
		height:     120,
		fps:        15,
		sampleRate: 22050,
		channels:   1,
	}
)

type lockedSink struct {
	mu   sync.Mutex
	msgs []string
}

func (s *lockedSink) LogMessage(msg string, _ int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
}

func (s *lockedSink) text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.msgs, "")
}

func transcodeAndProbe(t *testing.T, input []byte) (*OutputBuffer, *ProbeResult) {
	t.Helper()

	out, err := Transcode(input)
	require.NoError(t, err)
	t.Cleanup(func() { out.Release() })
	require.NotZero(t, out.Len())

	res, err := Probe(out.Data())
	require.NoError(t, err)
	return out, res
}

// requireReleased checks that no engine resource or log route outlives its run.
func requireReleased(t *testing.T) {
	t.Helper()

	require.Zero(t, liveResources.Load(), "engine resources still held")

	routes := 0
	engineRoutes.Range(func(_, _ any) bool {
		routes++
		return true
	})
	require.Zero(t, routes, "engine log routes still registered")
}

func requireAudioFraming(t *testing.T, st Stats) {
	t.Helper()

	const frameSize = 1024
	require.Equal(t, (st.AudioSamplesResampled+frameSize-1)/frameSize, st.AudioFramesEncoded)
	require.Equal(t, st.AudioFramesEncoded*frameSize-st.AudioSamplesResampled, st.FIFOPaddedSamples)
}

func TestTranscodeVideoAndAudio(t *testing.T) {
	input := makeFixture(t, fixtureAV)
	require.Equal(t, ContainerMPEGTS, DetectContainer(input))

	out, res := transcodeAndProbe(t, input)
	st := out.Stats()

	require.Len(t, res.Tracks, 2)

	v := res.Video()
	require.NotNil(t, v)
	require.Equal(t, 320, v.Width)
	require.Equal(t, 240, v.Height)
	require.True(t, strings.HasPrefix(v.Codec, "avc1."), v.Codec)
	require.Len(t, v.Samples, 150)
	require.Equal(t, FrameTypeKey, v.Samples[0].Type)
	require.LessOrEqual(t, v.MaxKeyframeInterval(), VideoGOPSize)
	require.GreaterOrEqual(t, v.Keyframes(), 150/VideoGOPSize)
	require.InDelta(t, 10.0, v.Duration().Seconds(), 0.2)

	a := res.Audio()
	require.NotNil(t, a)
	require.Equal(t, "mp4a.40.2", a.Codec)
	require.Equal(t, AudioSampleRate, a.SampleRate)
	require.Equal(t, AudioChannels, a.ChannelCount)
	require.GreaterOrEqual(t, uint64(len(a.Samples)), st.AudioFramesEncoded)
	require.InDelta(t, 10.0, a.Duration().Seconds(), 0.2)

	require.True(t, st.HasVideo)
	require.True(t, st.HasAudio)
	require.Equal(t, uint64(150), st.VideoFramesDecoded)
	require.Equal(t, uint64(len(v.Samples)), st.VideoPacketsMuxed)
	require.Equal(t, uint64(v.Keyframes()), st.VideoKeyframes)
	require.Zero(t, st.DecodeErrors)
	requireAudioFraming(t, st)

	// 22050 Hz in, 48000 Hz out
	require.InDelta(t, 10.0*AudioSampleRate, float64(st.AudioSamplesResampled), 0.01*10*AudioSampleRate)

	require.Equal(t, []RunState{
		RunStateInit,
		RunStateHeaderWritten,
		RunStateReading,
		RunStateFlushVideo,
		RunStateFlushAudio,
		RunStateTrailerWritten,
		RunStateDone,
	}, st.States)

	requireReleased(t)
}

func TestTranscodeVideoOnly(t *testing.T) {
	cfg := fixtureShort
	cfg.sampleRate = 0
	input := makeFixture(t, cfg)

	out, res := transcodeAndProbe(t, input)
	st := out.Stats()

	require.Len(t, res.Tracks, 1)
	require.Nil(t, res.Audio())
	require.Equal(t, 160, res.Video().Width)

	require.False(t, st.HasAudio)
	require.Zero(t, st.FIFOWrites)
	require.Zero(t, st.AudioSamplesResampled)
	require.Zero(t, st.AudioFramesEncoded)
	require.Zero(t, st.FIFOPaddedSamples)
}

func TestTranscodeAudioOnly(t *testing.T) {
	cfg := fixtureShort
	cfg.fps = 0
	input := makeFixture(t, cfg)

	out, res := transcodeAndProbe(t, input)
	st := out.Stats()

	require.Len(t, res.Tracks, 1)
	require.Nil(t, res.Video())
	require.Equal(t, AudioSampleRate, res.Audio().SampleRate)

	require.False(t, st.HasVideo)
	require.Zero(t, st.VideoFramesDecoded)
	require.NotZero(t, st.FIFOWrites)
	requireAudioFraming(t, st)
}

func TestTranscodeStereoInput(t *testing.T) {
	cfg := fixtureShort
	cfg.fps = 0
	cfg.sampleRate = 44100
	cfg.channels = 2
	input := makeFixture(t, cfg)

	out, res := transcodeAndProbe(t, input)
	require.Equal(t, AudioChannels, res.Audio().ChannelCount)
	requireAudioFraming(t, out.Stats())
}

func TestTranscodeIgnoresExtraStreams(t *testing.T) {
	cfg := fixtureShort
	cfg.extraAudio = true
	input := makeFixture(t, cfg)

	streams, err := InspectTS(input)
	require.NoError(t, err)
	require.Len(t, streams, 3)

	out, res := transcodeAndProbe(t, input)
	require.Len(t, res.Tracks, 2)
	require.NotZero(t, out.Stats().PacketsIgnored)
}

func TestTranscodeDeterministic(t *testing.T) {
	input := makeFixture(t, fixtureShort)

	_, first := transcodeAndProbe(t, input)
	_, second := transcodeAndProbe(t, input)

	require.Len(t, second.Tracks, len(first.Tracks))
	for i, a := range first.Tracks {
		b := second.Tracks[i]
		require.Equal(t, a.Kind, b.Kind)
		require.Equal(t, len(a.Samples), len(b.Samples))
		require.Equal(t, a.Duration(), b.Duration())
		require.Equal(t, a.PresentationTimestamps(), b.PresentationTimestamps())
	}
}

func TestTranscodeSetupFailures(t *testing.T) {
	initEngine()

	srt := "1\n00:00:00,000 --> 00:00:01,000\nhello\n\n" +
		"2\n00:00:01,000 --> 00:00:02,000\nworld\n\n"

	ftypOnly := []byte{
		0x00, 0x00, 0x00, 0x14, 'f', 't', 'y', 'p',
		'i', 's', 'o', 'm', 0x00, 0x00, 0x02, 0x00,
		'i', 's', 'o', 'm',
	}

	for _, ca := range []struct {
		name  string
		input []byte
	}{
		{"empty", nil},
		{"zero length", []byte{}},
		{"garbage", []byte(strings.Repeat("this is not a media container. ", 64))},
		{"subtitles only", []byte(srt)},
		{"truncated mp4", ftypOnly},
	} {
		t.Run(ca.name, func(t *testing.T) {
			out, err := Transcode(ca.input)
			require.ErrorIs(t, err, ErrSetup)
			require.Nil(t, out)
			requireReleased(t)
		})
	}
}

func TestTranscodeOutputLimit(t *testing.T) {
	input := makeFixture(t, fixtureShort)

	out, err := NewTranscoder(Config{MaxOutputSize: 4096}).Transcode(input)
	require.ErrorIs(t, err, ErrIO)
	require.Nil(t, out)
	requireReleased(t)
}

func TestTranscodeTruncatedInput(t *testing.T) {
	input := makeFixture(t, fixtureShort)

	for _, n := range []int{188 * 4, 1000, len(input) / 2, len(input) - 101} {
		t.Run(strconv.Itoa(n), func(t *testing.T) {
			out, err := Transcode(input[:n])
			if err == nil {
				require.NotZero(t, out.Len())
				require.NoError(t, out.Release())
			} else {
				require.Nil(t, out)
			}
			requireReleased(t)
		})
	}
}

func TestTranscodeLogging(t *testing.T) {
	input := makeFixture(t, fixtureShort)

	sink := &lockedSink{}
	tr := NewTranscoder(Config{
		Logger:   NewSinkLogger(sink, Debug),
		LogLevel: Debug,
	})

	out, err := tr.Transcode(input)
	require.NoError(t, err)
	defer out.Release()

	text := sink.text()
	require.Contains(t, text, "[run "+out.Stats().RunID[:8]+"]")
	require.Contains(t, text, "(mpegts)")
	require.Contains(t, text, "state READING -> FLUSH_VIDEO")
	require.Contains(t, text, "state TRAILER_WRITTEN -> DONE")
	require.Regexp(t, `video encoder: \S+ \((GPL|BSD)\)`, text)
	require.Regexp(t, `audio encoder: \S+ \((LGPL|non-free)\)`, text)
}

func TestTranscodeAll(t *testing.T) {
	input := makeFixture(t, fixtureShort)

	outs, err := TranscodeAll(context.Background(), [][]byte{input, input, input}, BatchOptions{Concurrency: 2})
	require.NoError(t, err)
	require.Len(t, outs, 3)

	ids := make(map[string]struct{})
	for _, out := range outs {
		require.NotZero(t, out.Len())
		ids[out.Stats().RunID] = struct{}{}
		require.NoError(t, out.Release())
	}
	require.Len(t, ids, 3)
}

func TestTranscodeAllFailure(t *testing.T) {
	input := makeFixture(t, fixtureShort)

	outs, err := TranscodeAll(context.Background(), [][]byte{input, nil, input}, BatchOptions{Concurrency: 1})
	require.ErrorIs(t, err, ErrSetup)
	require.Nil(t, outs)
	requireReleased(t)
}

func BenchmarkTranscode(b *testing.B) {
	input := makeFixture(b, fixtureShort)

	b.SetBytes(int64(len(input)))
	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		out, err := Transcode(input)
		if err != nil {
			b.Fatal(err)
		}
		out.Release()
	}
}

func BenchmarkTranscodeParallel(b *testing.B) {
	input := makeFixture(b, fixtureShort)

	b.SetBytes(int64(len(input)))
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			out, err := Transcode(input)
			if err != nil {
				b.Error(err)
				return
			}
			out.Release()
		}
	})
}
