package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lisuiheng/pttradio/audio"
	"github.com/lisuiheng/pttradio/audio/audiotest"
)

func defaultOptions() options {
	return options{
		hardwareRate:     48000,
		hardwareChannels: 2,
		sampleRate:       16000,
		frameDuration:    60,
		bitrate:          audio.DefaultBitrate,
		frames:           4,
		lost:             2,
		toneHz:           440,
	}
}

func TestCheckReportsGeometry(t *testing.T) {
	engine := &audiotest.Engine{}
	var out bytes.Buffer

	require.NoError(t, check(&out, defaultOptions(), audiotest.Factory(engine)))

	text := out.String()
	assert.Contains(t, text, "960 samples, 60 bytes per packet")
	assert.Contains(t, text, "2880 frames per period, ratio 3")
	assert.Contains(t, text, "ok")

	encoded, decoded, concealed := engine.Counts()
	assert.Equal(t, 4, encoded)
	assert.Equal(t, 4, decoded)
	assert.Equal(t, 2, concealed)
}

func TestCheckInvalidRatio(t *testing.T) {
	opts := defaultOptions()
	opts.sampleRate = 44100
	err := check(&bytes.Buffer{}, opts, audiotest.Factory(&audiotest.Engine{}))
	assert.ErrorIs(t, err, audio.ErrInvalidRatio)
}

func TestCheckEncodeFailure(t *testing.T) {
	engine := &audiotest.Engine{EncodeErr: errors.New("boom")}
	err := check(&bytes.Buffer{}, defaultOptions(), audiotest.Factory(engine))
	assert.ErrorIs(t, err, audio.ErrEncode)
}

func TestRMS(t *testing.T) {
	assert.Equal(t, 0.0, rms(nil))
	assert.InDelta(t, 3.0, rms([]int16{3, -3, 3, -3}), 1e-9)
}
