package client

import (
	"context"
	"net/http"

	"tipcast/pkg/config"
)

type ModerationClient struct {
	baseURL string
	http    *http.Client
}

func NewModerationClient(cfg *config.Config) *ModerationClient {
	return &ModerationClient{
		baseURL: cfg.Collaborators.ModerationURL,
		http:    &http.Client{Timeout: cfg.Collaborators.Timeout},
	}
}

type screenRequest struct {
	Message string `json:"message"`
}

func (c *ModerationClient) Screen(ctx context.Context, message string) (ModerationVerdict, error) {
	var out ModerationVerdict
	if err := postJSON(ctx, c.http, c.baseURL+"/v1/screen", screenRequest{Message: message}, &out); err != nil {
		return ModerationVerdict{}, err
	}
	return out, nil
}
