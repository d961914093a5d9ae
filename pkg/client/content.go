package client

import (
	"context"
	"encoding/base64"
	"net/http"

	"tipcast/pkg/config"
)

type ContentClient struct {
	baseURL string
	http    *http.Client
}

func NewContentClient(cfg *config.Config) *ContentClient {
	return &ContentClient{
		baseURL: cfg.Collaborators.ContentURL,
		http:    &http.Client{Timeout: cfg.Collaborators.Timeout},
	}
}

type pinRequest struct {
	Payload string `json:"payload"` // base64 ciphertext
}

type pinResponse struct {
	Ref string `json:"ref"`
}

func (c *ContentClient) Pin(ctx context.Context, payload []byte) (string, error) {
	var out pinResponse
	err := postJSON(ctx, c.http, c.baseURL+"/v1/pin", pinRequest{
		Payload: base64.StdEncoding.EncodeToString(payload),
	}, &out)
	if err != nil {
		return "", err
	}
	return out.Ref, nil
}
