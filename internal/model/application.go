package model

import "time"

type Application struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	ResumePath  string    `json:"resume_path"`
	SubmittedAt time.Time `json:"submitted_at"`
}
