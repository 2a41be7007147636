// Package outbound sends agent messages through the provider gateway and
// records them in the channel partition, shape-identical to inbound rows.
package outbound

import (
	"context"
	"errors"

	"github.com/zapdeskhq/zapdesk/internal/media"
)

// ErrGatewayUnavailable indicates the provider gateway is not configured.
var ErrGatewayUnavailable = errors.New("messaging gateway unavailable")

// MediaPayload is an outbound media attachment: either an inline base64
// body or a URL the provider can fetch.
type MediaPayload struct {
	Data    string     `json:"data"`
	Caption string     `json:"caption,omitempty"`
	Kind    media.Kind `json:"kind"`
}

// Gateway is the provider's send API, an external collaborator.
type Gateway interface {
	SendText(ctx context.Context, channelKey, counterparty, text string) (providerMessageID string, err error)
	SendMedia(ctx context.Context, channelKey, counterparty string, payload MediaPayload) (providerMessageID string, err error)
}
