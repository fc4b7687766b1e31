package indicator

import (
	"context"
	"fmt"
	"math"

	"github.com/jfreymuth/pulse"
)

const (
	cueRate   = 22050
	cueVolume = 0.2
	cueGapMS  = 25
	cueFadeMS = 4
)

// note is one sine tone of a cue.
type note struct {
	hz float64
	ms int
}

// cue is a short tone sequence played through the default Pulse sink.
type cue []note

type cueName string

const (
	cueRecording cueName = "recording"
	cueTriggered cueName = "triggered"
	cueSucceeded cueName = "succeeded"
	cueFailed    cueName = "failed"
)

var cues = map[cueName]cue{
	cueRecording: {{hz: 784, ms: 60}, {hz: 1047, ms: 80}},
	cueTriggered: {{hz: 1319, ms: 70}},
	cueSucceeded: {{hz: 880, ms: 60}, {hz: 1175, ms: 60}, {hz: 1568, ms: 90}},
	cueFailed:    {{hz: 523, ms: 90}, {hz: 392, ms: 120}},
}

// samples renders the cue as mono float PCM with a silent gap between notes.
func (c cue) samples() []float32 {
	gap := msToSamples(cueGapMS)
	var out []float32
	for i, n := range c {
		if i > 0 {
			out = append(out, make([]float32, gap)...)
		}
		out = append(out, n.render()...)
	}
	return out
}

func (n note) render() []float32 {
	count := msToSamples(n.ms)
	if count == 0 || n.hz <= 0 {
		return nil
	}
	fade := min(msToSamples(cueFadeMS), count/2)

	out := make([]float32, count)
	for i := range out {
		gain := cueVolume
		if fade > 0 {
			edge := min(i, count-1-i)
			if edge < fade {
				gain *= float64(edge) / float64(fade)
			}
		}
		out[i] = float32(gain * math.Sin(2*math.Pi*n.hz*float64(i)/cueRate))
	}
	return out
}

func msToSamples(ms int) int {
	if ms <= 0 {
		return 0
	}
	return ms * cueRate / 1000
}

// playCue blocks until the named cue has drained from the Pulse stream.
func playCue(ctx context.Context, name cueName) error {
	c, ok := cues[name]
	if !ok {
		return fmt.Errorf("unknown cue %q", name)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("play cue: %w", err)
	}
	pcm := c.samples()
	if len(pcm) == 0 {
		return nil
	}

	client, err := pulse.NewClient(pulse.ClientApplicationName("hotcap"))
	if err != nil {
		return fmt.Errorf("connect pulse server: %w", err)
	}
	defer client.Close()

	reader := pulse.Float32Reader(func(buf []float32) (int, error) {
		n := copy(buf, pcm)
		pcm = pcm[n:]
		if len(pcm) == 0 {
			return n, pulse.EndOfData
		}
		return n, nil
	})
	stream, err := client.NewPlayback(reader,
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(cueRate),
		pulse.PlaybackMediaName("hotcap cue"),
	)
	if err != nil {
		return fmt.Errorf("open cue playback: %w", err)
	}
	defer stream.Close()

	stream.Start()
	stream.Drain()
	if err := stream.Error(); err != nil {
		return fmt.Errorf("play cue: %w", err)
	}
	return nil
}
