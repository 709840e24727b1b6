package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSceneManager_FirstSceneIsActive(t *testing.T) {
	s := NewSceneManager()

	id1, err := s.AddScene("Main")
	require.NoError(t, err)
	id2, err := s.AddScene("BRB")
	require.NoError(t, err)

	scenes := s.Scenes()
	require.Len(t, scenes, 2)
	assert.Equal(t, id1, scenes[0].ID)
	assert.True(t, scenes[0].Active)
	assert.Equal(t, id2, scenes[1].ID)
	assert.False(t, scenes[1].Active)
}

func TestSceneManager_SetActiveIsExclusive(t *testing.T) {
	s := NewSceneManager()

	id1, _ := s.AddScene("Main")
	id2, _ := s.AddScene("BRB")

	require.NoError(t, s.SetActive(id2))

	for _, scene := range s.Scenes() {
		if scene.ID == id2 {
			assert.True(t, scene.Active)
		} else {
			assert.False(t, scene.Active, "scene %s should be inactive", scene.ID)
		}
	}

	require.NoError(t, s.SetActive(id1))
	scenes := s.Scenes()
	assert.True(t, scenes[0].Active)
	assert.False(t, scenes[1].Active)
}

func TestSceneManager_UpdateAndRemove(t *testing.T) {
	s := NewSceneManager()

	id, _ := s.AddScene("Main")
	require.NoError(t, s.UpdateScene(id, "Primary"))
	assert.Equal(t, "Primary", s.Scenes()[0].Name)

	require.NoError(t, s.RemoveScene(id))
	assert.Empty(t, s.Scenes())
}

func TestSceneManager_Errors(t *testing.T) {
	s := NewSceneManager()

	_, err := s.AddScene("")
	assert.Error(t, err)
	assert.Error(t, s.UpdateScene("missing", "name"))
	assert.Error(t, s.RemoveScene("missing"))
	assert.Error(t, s.SetActive("missing"))
}

func TestSceneManager_PreservesInsertionOrder(t *testing.T) {
	s := NewSceneManager()

	names := []string{"Intro", "Main", "Break", "Outro"}
	for _, n := range names {
		_, err := s.AddScene(n)
		require.NoError(t, err)
	}

	scenes := s.Scenes()
	require.Len(t, scenes, len(names))
	for i, n := range names {
		assert.Equal(t, n, scenes[i].Name)
	}
}
