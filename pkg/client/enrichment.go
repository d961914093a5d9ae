package client

import (
	"context"
	"net/http"

	"tipcast/pkg/breaker"
	"tipcast/pkg/config"
)

type EnrichmentClient struct {
	baseURL string
	http    *http.Client
	breaker *breaker.Breaker
}

func NewEnrichmentClient(cfg *config.Config, b *breaker.Breaker) *EnrichmentClient {
	return &EnrichmentClient{
		baseURL: cfg.Collaborators.EnrichmentURL,
		http:    &http.Client{Timeout: cfg.Collaborators.Timeout},
		breaker: b,
	}
}

type insightRequest struct {
	SenderID    string `json:"sender_id"`
	RecipientID string `json:"recipient_id"`
	Amount      uint64 `json:"amount"`
}

func (c *EnrichmentClient) GenerateInsight(ctx context.Context, senderID, recipientID string, amount uint64) error {
	return postJSON(ctx, c.http, c.baseURL+"/v1/insights", insightRequest{
		SenderID:    senderID,
		RecipientID: recipientID,
		Amount:      amount,
	}, nil)
}

type badgeRequest struct {
	UserID string `json:"user_id"`
}

func (c *EnrichmentClient) CheckBadges(ctx context.Context, userID string) error {
	return postJSON(ctx, c.http, c.baseURL+"/v1/badges/check", badgeRequest{UserID: userID}, nil)
}

type notifyRequest struct {
	RecipientID string `json:"recipient_id"`
	Amount      uint64 `json:"amount"`
	Event       string `json:"event"`
}

// NotifyTip goes through the notifier breaker: a dead notification sink must
// not keep timing out every settled tip.
func (c *EnrichmentClient) NotifyTip(ctx context.Context, recipientID string, amount uint64) error {
	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		return postJSON(ctx, c.http, c.baseURL+"/v1/notify", notifyRequest{
			RecipientID: recipientID,
			Amount:      amount,
			Event:       "tip.received",
		}, nil)
	})
}
