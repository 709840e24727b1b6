package services

import (
	"fmt"
	"sync"

	"kwikcast/internal/core/domain"

	"github.com/google/uuid"
)

// AudioMixerService is the in-memory audio mixing collaborator.
type AudioMixerService struct {
	mu       sync.RWMutex
	channels map[string]*domain.AudioChannel
	order    []string
}

func NewAudioMixer() *AudioMixerService {
	return &AudioMixerService{channels: make(map[string]*domain.AudioChannel)}
}

func (a *AudioMixerService) AddChannel(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("channel name must not be empty")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	id := uuid.NewString()
	a.channels[id] = &domain.AudioChannel{ID: id, Name: name, Volume: 1.0}
	a.order = append(a.order, id)
	return id, nil
}

func (a *AudioMixerService) SetVolume(id string, volume float64) error {
	if volume < 0 || volume > 1.0 {
		return fmt.Errorf("volume must be within [0, 1], got %.2f", volume)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	ch, ok := a.channels[id]
	if !ok {
		return fmt.Errorf("audio channel %s not found", id)
	}
	ch.Volume = volume
	return nil
}

func (a *AudioMixerService) SetMuted(id string, muted bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	ch, ok := a.channels[id]
	if !ok {
		return fmt.Errorf("audio channel %s not found", id)
	}
	ch.Muted = muted
	return nil
}

func (a *AudioMixerService) RemoveChannel(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.channels[id]; !ok {
		return fmt.Errorf("audio channel %s not found", id)
	}
	delete(a.channels, id)
	for i, cid := range a.order {
		if cid == id {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
	return nil
}

func (a *AudioMixerService) Channels() []domain.AudioChannel {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]domain.AudioChannel, 0, len(a.order))
	for _, id := range a.order {
		if ch, ok := a.channels[id]; ok {
			out = append(out, *ch)
		}
	}
	return out
}
