package client

import (
	"context"
	"net/http"
	"strconv"

	"tipcast/pkg/breaker"
	"tipcast/pkg/config"
)

type SettlementClient struct {
	baseURL string
	http    *http.Client
	breaker *breaker.Breaker
}

func NewSettlementClient(cfg *config.Config, b *breaker.Breaker) *SettlementClient {
	return &SettlementClient{
		baseURL: cfg.Collaborators.SettlementURL,
		http:    &http.Client{Timeout: cfg.Collaborators.Timeout},
		breaker: b,
	}
}

type settleRequest struct {
	SenderID    string `json:"sender_id"`
	RecipientID string `json:"recipient_id"`
	Amount      string `json:"amount"`
	ContentRef  string `json:"content_ref,omitempty"`
}

type settleResponse struct {
	TxnHandle string `json:"txn_handle"`
}

func (c *SettlementClient) Settle(ctx context.Context, senderID, recipientID string, amount uint64, contentRef string) (TxnHandle, error) {
	var out settleResponse

	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return postJSON(ctx, c.http, c.baseURL+"/v1/settle", settleRequest{
			SenderID:    senderID,
			RecipientID: recipientID,
			Amount:      strconv.FormatUint(amount, 10),
			ContentRef:  contentRef,
		}, &out)
	})
	if err != nil {
		return "", err
	}

	return TxnHandle(out.TxnHandle), nil
}
