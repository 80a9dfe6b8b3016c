package polymarket

import (
	"bytes"
	"strconv"
	"time"

	"github.com/sugawarayuuta/sonnet"

	"github.com/alanyoungcy/polysniper/internal/domain"
)

// FrameKind classifies an inbound market-channel frame.
type FrameKind int

const (
	FrameBook FrameKind = iota
	FramePriceChange
	FrameTrade
	FrameKeepAlive
	FrameControl
	FrameUnknown
	FrameMalformed
)

func (k FrameKind) String() string {
	switch k {
	case FrameBook:
		return "book"
	case FramePriceChange:
		return "price_change"
	case FrameTrade:
		return "last_trade_price"
	case FrameKeepAlive:
		return "keepalive"
	case FrameControl:
		return "control"
	case FrameUnknown:
		return "unknown"
	}
	return "malformed"
}

// Ignored reports whether frames of this kind carry no book data.
func (k FrameKind) Ignored() bool {
	return k != FrameBook && k != FramePriceChange
}

var (
	keepAliveMarker  = []byte("check_ka")
	invalidOperation = []byte("INVALID OPERATION")
	pongText         = []byte("PONG")
)

// decodeFrame turns one text frame into order-book updates. It never
// panics; frames that carry no book data return no updates and a kind that
// says why.
func decodeFrame(data []byte, received time.Time) ([]domain.OrderBookUpdate, FrameKind) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, FrameKeepAlive
	}

	switch data[0] {
	case '[':
		var frames []wireFrame
		if err := sonnet.Unmarshal(data, &frames); err != nil {
			return nil, FrameMalformed
		}
		if len(frames) == 0 {
			return nil, FrameKeepAlive
		}
		updates := make([]domain.OrderBookUpdate, 0, len(frames))
		for i := range frames {
			if u, ok := bookUpdate(&frames[i], received); ok {
				updates = append(updates, u)
			}
		}
		if len(updates) == 0 {
			return nil, FrameUnknown
		}
		return updates, FrameBook

	case '{':
		var f wireFrame
		if err := sonnet.Unmarshal(data, &f); err != nil {
			return nil, FrameMalformed
		}
		switch {
		case f.EventType == "last_trade_price":
			return nil, FrameTrade
		case f.EventType == "book" || (f.Bids != nil && f.Asks != nil):
			if u, ok := bookUpdate(&f, received); ok {
				return []domain.OrderBookUpdate{u}, FrameBook
			}
			return nil, FrameUnknown
		case f.PriceChanges != nil:
			return priceChangeUpdates(&f, received), FramePriceChange
		case bytes.Contains(data, keepAliveMarker):
			return nil, FrameKeepAlive
		}
		return nil, FrameUnknown
	}

	switch {
	case bytes.Contains(data, keepAliveMarker), bytes.EqualFold(data, pongText):
		return nil, FrameKeepAlive
	case bytes.EqualFold(data, invalidOperation):
		return nil, FrameControl
	}
	return nil, FrameMalformed
}

func bookUpdate(f *wireFrame, received time.Time) (domain.OrderBookUpdate, bool) {
	if f.AssetID == "" {
		return domain.OrderBookUpdate{}, false
	}
	u := domain.OrderBookUpdate{
		AssetID:    f.AssetID,
		Timestamp:  parseTimestamp(string(f.Timestamp), received),
		Hash:       f.Hash,
		ReceivedAt: received,
		Snapshot:   true,
	}
	if f.Bids != nil {
		u.Bids = parseLevels(*f.Bids)
	}
	if f.Asks != nil {
		u.Asks = parseLevels(*f.Asks)
	}
	return u, true
}

// priceChangeUpdates turns each change into a best-price-only update: one
// bid level at best_bid and one ask level at best_ask, both with size 0.
func priceChangeUpdates(f *wireFrame, received time.Time) []domain.OrderBookUpdate {
	ts := parseTimestamp(string(f.Timestamp), received)
	changes := *f.PriceChanges
	updates := make([]domain.OrderBookUpdate, 0, len(changes))
	for _, c := range changes {
		if c.AssetID == "" {
			continue
		}
		u := domain.OrderBookUpdate{
			AssetID:    c.AssetID,
			Timestamp:  ts,
			Hash:       c.Hash,
			ReceivedAt: received,
		}
		if p, err := strconv.ParseFloat(c.BestBid, 64); err == nil {
			u.Bids = []domain.PriceLevel{{Price: p}}
		}
		if p, err := strconv.ParseFloat(c.BestAsk, 64); err == nil {
			u.Asks = []domain.PriceLevel{{Price: p}}
		}
		updates = append(updates, u)
	}
	return updates
}

// parseLevels keeps the levels with a parseable positive price and size.
func parseLevels(levels []wireLevel) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(levels))
	for _, l := range levels {
		p, err := strconv.ParseFloat(l.Price, 64)
		if err != nil || p <= 0 {
			continue
		}
		s, err := strconv.ParseFloat(l.Size, 64)
		if err != nil {
			continue
		}
		out = append(out, domain.PriceLevel{Price: p, Size: s})
	}
	return out
}

// parseTimestamp reads unix milliseconds, falling back to fallback.
func parseTimestamp(s string, fallback time.Time) time.Time {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil && ms > 0 {
		return time.UnixMilli(ms)
	}
	return fallback
}
