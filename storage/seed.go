package storage

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"tasklist/domain"
)

type seedFile struct {
	Tasks []struct {
		ID          int64  `yaml:"id"`
		Title       string `yaml:"title"`
		Description string `yaml:"description"`
		Status      string `yaml:"status"`
		OwnerID     int64  `yaml:"owner_id"`
	} `yaml:"tasks"`
}

// LoadSeed reads the initial task list for the memory store from a YAML file
// with a top level "tasks" list. Tasks without an id are numbered after the
// previous entry; tasks without a status get domain.DefaultStatus.
func LoadSeed(path string) ([]domain.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}

	tasks := make([]domain.Task, 0, len(f.Tasks))
	seen := make(map[int64]struct{}, len(f.Tasks))
	var last int64
	for i, st := range f.Tasks {
		if st.Title == "" {
			return nil, fmt.Errorf("seed task %d: title is required", i)
		}
		id := st.ID
		if id == 0 {
			id = last + 1
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("seed task %d: duplicate id %d", i, id)
		}
		seen[id] = struct{}{}
		last = id

		status := st.Status
		if status == "" {
			status = domain.DefaultStatus
		}
		tasks = append(tasks, domain.Task{
			ID:          id,
			Title:       st.Title,
			Description: st.Description,
			Status:      status,
			OwnerID:     st.OwnerID,
		})
	}
	return tasks, nil
}
