package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"tipcast/pkg/breaker"
	"tipcast/pkg/config"

	"go.uber.org/fx"
)

// The pipeline talks to every external collaborator through the narrow
// interfaces below. HTTP implementations live in this package; services only
// see the interfaces.

// TxnHandle is the settlement backend's opaque transaction reference.
type TxnHandle string

// Settlement submits a tip to the settlement backend. The caller operates
// at-least-once, the backend is expected to be idempotency-tolerant.
type Settlement interface {
	Settle(ctx context.Context, senderID, recipientID string, amount uint64, contentRef string) (TxnHandle, error)
}

// ContentStore persists an opaque, already-encrypted message payload and
// returns a content reference. Plaintext never crosses this boundary.
type ContentStore interface {
	Pin(ctx context.Context, payload []byte) (string, error)
}

type ModerationAction string

const (
	ModerationAllow ModerationAction = "allow"
	ModerationWarn  ModerationAction = "warn"
	ModerationBlock ModerationAction = "block"
)

type ModerationVerdict struct {
	Safe   bool             `json:"safe"`
	Action ModerationAction `json:"action"`
}

// Moderation screens a tip message before it is enqueued.
type Moderation interface {
	Screen(ctx context.Context, message string) (ModerationVerdict, error)
}

// Enrichment covers the downstream extras triggered after settlement:
// insight text, badge checks, user notification. All calls are fire and
// forget from the pipeline's point of view.
type Enrichment interface {
	GenerateInsight(ctx context.Context, senderID, recipientID string, amount uint64) error
	CheckBadges(ctx context.Context, userID string) error
	NotifyTip(ctx context.Context, recipientID string, amount uint64) error
}

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

func postJSON(ctx context.Context, doer httpDoer, url string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := doer.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s returned %d: %s", url, resp.StatusCode, string(msg))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

var Module = fx.Module("client",
	fx.Provide(
		func(cfg *config.Config, reg *breaker.Registry) Settlement {
			return NewSettlementClient(cfg, reg.Get(breaker.Settlement))
		},
		func(cfg *config.Config) ContentStore {
			return NewContentClient(cfg)
		},
		func(cfg *config.Config) Moderation {
			return NewModerationClient(cfg)
		},
		func(cfg *config.Config, reg *breaker.Registry) Enrichment {
			return NewEnrichmentClient(cfg, reg.Get(breaker.Notifier))
		},
	),
)
