package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/hossein1376/grape"

	"github.com/kamune-org/taskbag"
)

var (
	ErrMissingBatch = errors.New("batch is required")
)

type publishRequest struct {
	Batch taskbag.Batch `json:"batch"`
}

type batchResponse struct {
	Key   string        `json:"key"`
	OK    bool          `json:"ok"`
	Batch taskbag.Batch `json:"batch"`
}

func publishBinder(w http.ResponseWriter, r *http.Request) (publishRequest, error) {
	var req publishRequest
	parsed, err := grape.ReadJSON[publishRequest](w, r)
	if err != nil {
		return req, fmt.Errorf("reading json: %w", err)
	}
	req = *parsed
	if req.Batch == nil {
		return req, ErrMissingBatch
	}
	return req, nil
}

func configurationBinder(w http.ResponseWriter, r *http.Request) (taskbag.Configuration, error) {
	var cfg taskbag.Configuration
	parsed, err := grape.ReadJSON[taskbag.Configuration](w, r)
	if err != nil {
		return cfg, fmt.Errorf("reading json: %w", err)
	}
	cfg = *parsed
	return cfg, cfg.Validate()
}
