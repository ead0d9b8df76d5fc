// Package feed streams oracle price pushes over WebSocket. Price updates are
// recorded in the reporting cache and handed to a handler so the risk engine
// can run on-demand health checks between scheduled sweeps. The feed is an
// accelerator only: engine decisions still fetch fresh oracle prices over the
// request/response API.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/stablemint/internal/domain"
)

// PriceUpdateHandler is called for each pushed price observation.
type PriceUpdateHandler func(ctx context.Context, asset string, point domain.PricePoint)

// OracleWSFeed subscribes to the oracle's WebSocket price channel for one
// asset and invokes the handler on each update. It reconnects with backoff on
// disconnect.
type OracleWSFeed struct {
	wsURL     string
	apiKey    string
	asset     string
	onPrice   PriceUpdateHandler
	logger    *slog.Logger
	closeOnce sync.Once
	done      chan struct{}
}

// NewOracleWSFeed creates a feed subscribed to the given asset.
func NewOracleWSFeed(wsURL, apiKey, asset string, onPrice PriceUpdateHandler, logger *slog.Logger) *OracleWSFeed {
	return &OracleWSFeed{
		wsURL:   wsURL,
		apiKey:  apiKey,
		asset:   asset,
		onPrice: onPrice,
		logger:  logger.With(slog.String("component", "oracle_ws_feed")),
		done:    make(chan struct{}),
	}
}

type subscribeMessage struct {
	Op     string   `json:"op"`
	Assets []string `json:"assets"`
}

type priceMessage struct {
	Asset     string `json:"asset"`
	Price     string `json:"price"`
	Timestamp int64  `json:"timestamp"`
}

// Run connects, subscribes, and consumes price pushes until ctx is cancelled
// or Close is called. Reconnects with backoff on disconnect.
func (f *OracleWSFeed) Run(ctx context.Context) error {
	if f.asset == "" {
		f.logger.Info("no asset to subscribe, exiting")
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		err := f.runConnection(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("oracle ws disconnected, reconnecting", slog.String("error", err.Error()))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(2 * time.Second):
		}
	}
}

func (f *OracleWSFeed) runConnection(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	header := http.Header{}
	if f.apiKey != "" {
		header.Set("Authorization", "Bearer "+f.apiKey)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, f.wsURL, header)
	if err != nil {
		return fmt.Errorf("feed: dial %s: %w", f.wsURL, err)
	}
	defer conn.Close()

	sub := subscribeMessage{Op: "subscribe", Assets: []string{f.asset}}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("feed: subscribe %s: %w", f.asset, err)
	}
	f.logger.Info("oracle ws subscribed", slog.String("asset", f.asset))

	// Unblock the read loop when the context is cancelled or Close is called.
	readDone := make(chan struct{})
	defer close(readDone)
	go func() {
		select {
		case <-ctx.Done():
		case <-f.done:
		case <-readDone:
		}
		_ = conn.Close()
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("feed: read: %w", err)
		}
		f.handleMessage(ctx, payload)
	}
}

func (f *OracleWSFeed) handleMessage(ctx context.Context, payload []byte) {
	var msg priceMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		f.logger.Warn("unparseable price push", slog.String("error", err.Error()))
		return
	}
	if msg.Asset != f.asset || msg.Price == "" {
		return
	}

	price, err := decimal.NewFromString(msg.Price)
	if err != nil || !price.IsPositive() {
		f.logger.Warn("invalid pushed price",
			slog.String("asset", msg.Asset),
			slog.String("price", msg.Price),
		)
		return
	}

	observedAt := time.Unix(msg.Timestamp, 0).UTC()
	if msg.Timestamp == 0 {
		observedAt = time.Now().UTC()
	}

	if f.onPrice != nil {
		f.onPrice(ctx, msg.Asset, domain.PricePoint{Price: price, ObservedAt: observedAt})
	}
}

// Close stops the feed.
func (f *OracleWSFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}
