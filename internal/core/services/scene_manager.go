package services

import (
	"fmt"
	"sync"
	"time"

	"kwikcast/internal/core/domain"

	"github.com/google/uuid"
)

// SceneManagerService is a simple in-memory scene collaborator. The
// stream manager never looks inside it; it is exposed through a
// pass-through accessor only.
type SceneManagerService struct {
	mu     sync.RWMutex
	scenes map[string]*domain.Scene
	order  []string
}

func NewSceneManager() *SceneManagerService {
	return &SceneManagerService{scenes: make(map[string]*domain.Scene)}
}

func (s *SceneManagerService) AddScene(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("scene name must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	s.scenes[id] = &domain.Scene{
		ID:        id,
		Name:      name,
		Active:    len(s.scenes) == 0,
		CreatedAt: time.Now(),
	}
	s.order = append(s.order, id)
	return id, nil
}

func (s *SceneManagerService) UpdateScene(id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	scene, ok := s.scenes[id]
	if !ok {
		return fmt.Errorf("scene %s not found", id)
	}
	scene.Name = name
	return nil
}

func (s *SceneManagerService) RemoveScene(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.scenes[id]; !ok {
		return fmt.Errorf("scene %s not found", id)
	}
	delete(s.scenes, id)
	for i, sid := range s.order {
		if sid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *SceneManagerService) SetActive(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.scenes[id]; !ok {
		return fmt.Errorf("scene %s not found", id)
	}
	for _, scene := range s.scenes {
		scene.Active = scene.ID == id
	}
	return nil
}

func (s *SceneManagerService) Scenes() []domain.Scene {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Scene, 0, len(s.order))
	for _, id := range s.order {
		if scene, ok := s.scenes[id]; ok {
			out = append(out, *scene)
		}
	}
	return out
}
