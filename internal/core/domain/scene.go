package domain

import "time"

// Scene is a named composition layout managed by the scene collaborator.
type Scene struct {
	ID        string
	Name      string
	Active    bool
	CreatedAt time.Time
}

// AudioChannel is a single mixer input.
type AudioChannel struct {
	ID     string
	Name   string
	Volume float64 // 0.0 - 1.0
	Muted  bool
}
