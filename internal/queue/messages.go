package queue

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/artify-labs/artify/pkg/models"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate = validator.New()

// TaskMessage is the body published on the task queue.
type TaskMessage struct {
	ID          string `json:"id"                     validate:"required,uuid"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type,omitempty"`
	OwnerID     string `json:"owner_id,omitempty"`
	ImageB64    string `json:"image_b64"              validate:"required,base64"`
}

// PostprocessMessage is published after a record completes.
type PostprocessMessage struct {
	ID             string   `json:"id"             validate:"required,uuid"`
	Objects        []string `json:"objects"`
	Interpretation string   `json:"interpretation"`
}

// Task is a decoded TaskMessage.
type Task struct {
	ID          uuid.UUID
	Filename    string
	ContentType string
	OwnerID     string
	Image       []byte
}

// EncodeTask builds the task message body for rec carrying image.
func EncodeTask(rec *models.Record, image []byte) ([]byte, error) {
	return json.Marshal(TaskMessage{
		ID:          rec.ID.String(),
		Filename:    rec.Filename,
		ContentType: rec.ContentType,
		OwnerID:     rec.OwnerID,
		ImageB64:    base64.StdEncoding.EncodeToString(image),
	})
}

// DecodeTask parses and validates a task message body. When the body is JSON
// with a parseable id but is otherwise invalid, the returned Task still carries
// that ID so that the caller can mark the record failed.
func DecodeTask(body []byte) (Task, error) {
	var msg TaskMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return Task{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	var task Task
	if id, err := uuid.Parse(msg.ID); err == nil {
		task.ID = id
	}

	if err := validate.Struct(msg); err != nil {
		return task, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	image, err := base64.StdEncoding.DecodeString(msg.ImageB64)
	if err != nil {
		return task, fmt.Errorf("%w: image_b64: %v", ErrMalformedMessage, err)
	}

	task.Filename = msg.Filename
	task.ContentType = msg.ContentType
	task.OwnerID = msg.OwnerID
	task.Image = image
	return task, nil
}

func EncodePostprocess(id uuid.UUID, objects []string, interpretation string) ([]byte, error) {
	if objects == nil {
		objects = []string{}
	}
	return json.Marshal(PostprocessMessage{
		ID:             id.String(),
		Objects:        objects,
		Interpretation: interpretation,
	})
}

func DecodePostprocess(body []byte) (PostprocessMessage, uuid.UUID, error) {
	var msg PostprocessMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return msg, uuid.Nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if err := validate.Struct(msg); err != nil {
		return msg, uuid.Nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return msg, uuid.MustParse(msg.ID), nil
}
