package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAudioMixer_AddChannelDefaults(t *testing.T) {
	a := NewAudioMixer()

	id, err := a.AddChannel("Microphone")
	require.NoError(t, err)

	channels := a.Channels()
	require.Len(t, channels, 1)
	assert.Equal(t, id, channels[0].ID)
	assert.Equal(t, "Microphone", channels[0].Name)
	assert.Equal(t, 1.0, channels[0].Volume)
	assert.False(t, channels[0].Muted)
}

func TestAudioMixer_VolumeAndMute(t *testing.T) {
	a := NewAudioMixer()
	id, _ := a.AddChannel("Desktop")

	require.NoError(t, a.SetVolume(id, 0.4))
	require.NoError(t, a.SetMuted(id, true))

	ch := a.Channels()[0]
	assert.Equal(t, 0.4, ch.Volume)
	assert.True(t, ch.Muted)

	require.NoError(t, a.SetMuted(id, false))
	assert.False(t, a.Channels()[0].Muted)
}

func TestAudioMixer_VolumeRange(t *testing.T) {
	a := NewAudioMixer()
	id, _ := a.AddChannel("Desktop")

	assert.Error(t, a.SetVolume(id, -0.1))
	assert.Error(t, a.SetVolume(id, 1.1))
	assert.NoError(t, a.SetVolume(id, 0))
	assert.NoError(t, a.SetVolume(id, 1))
}

func TestAudioMixer_Errors(t *testing.T) {
	a := NewAudioMixer()

	_, err := a.AddChannel("")
	assert.Error(t, err)
	assert.Error(t, a.SetVolume("missing", 0.5))
	assert.Error(t, a.SetMuted("missing", true))
	assert.Error(t, a.RemoveChannel("missing"))
}

func TestAudioMixer_RemoveChannel(t *testing.T) {
	a := NewAudioMixer()

	id1, _ := a.AddChannel("Microphone")
	id2, _ := a.AddChannel("Desktop")

	require.NoError(t, a.RemoveChannel(id1))

	channels := a.Channels()
	require.Len(t, channels, 1)
	assert.Equal(t, id2, channels[0].ID)
}
