package model

// JobTypeDescriptor describes one registered job type.
type JobTypeDescriptor struct {
	Key         string `json:"key"`
	Label       string `json:"label"`
	Queue       string `json:"queue"`
	Description string `json:"description"`
}
