// Package dydx implements the transport session for the dYdX v4 indexer
// WebSocket feed. Raw frames are decoded exactly once at this boundary into
// tagged Frame values; downstream code never touches JSON.
package dydx

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/alanyoungcy/dydxbot/internal/domain"
)

// Channel identifies an indexer subscription channel.
type Channel string

const (
	ChannelOrderbook Channel = "v4_orderbook"
	ChannelTrades    Channel = "v4_trades"
)

// FrameKind tags the decoded frame variant. The indexer distinguishes the
// initial "subscribed" snapshot from subsequent "channel_data" messages; both
// normalize to a snapshot/update pair here.
type FrameKind int

const (
	FrameUnknown FrameKind = iota
	FrameConnected
	FrameSnapshot // initial contents delivered on subscribe
	FrameUpdate   // incremental channel_data
)

// Frame is the decoded form of one indexer message. Exactly one of Book and
// Trades is populated for market-data frames. Dropped counts entries that
// were individually malformed and skipped during decode.
type Frame struct {
	Kind    FrameKind
	Channel Channel
	Market  string
	Book    *BookPayload
	Trades  []domain.Trade
	Dropped int
}

// BookPayload carries the price levels of an orderbook frame. Snapshot
// frames carry full sides; update frames carry only changed levels, where a
// size of zero removes the level.
type BookPayload struct {
	Bids []domain.PriceLevel
	Asks []domain.PriceLevel
}

// ControlFrame is an outbound subscribe/unsubscribe command.
type ControlFrame struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	ID      string `json:"id,omitempty"`
}

// SubscribeFrame builds the subscribe command for a channel and market.
func SubscribeFrame(ch Channel, market string) ControlFrame {
	return ControlFrame{Type: "subscribe", Channel: string(ch), ID: market}
}

// UnsubscribeFrame builds the unsubscribe command for a channel and market.
func UnsubscribeFrame(ch Channel, market string) ControlFrame {
	return ControlFrame{Type: "unsubscribe", Channel: string(ch), ID: market}
}

// envelope is the outer shape shared by all indexer messages.
type envelope struct {
	Type     string          `json:"type"`
	Channel  string          `json:"channel"`
	ID       string          `json:"id"`
	Contents json.RawMessage `json:"contents"`
}

// wireLevel accepts both level encodings the indexer emits:
// ["price","size"] tuples and {"price":"...","size":"..."} objects.
type wireLevel struct {
	Price float64
	Size  float64
}

func (l *wireLevel) UnmarshalJSON(data []byte) error {
	var tuple []string
	if err := json.Unmarshal(data, &tuple); err == nil {
		if len(tuple) != 2 {
			return fmt.Errorf("level tuple has %d elements", len(tuple))
		}
		return l.parse(tuple[0], tuple[1])
	}

	var obj struct {
		Price string `json:"price"`
		Size  string `json:"size"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	return l.parse(obj.Price, obj.Size)
}

func (l *wireLevel) parse(priceStr, sizeStr string) error {
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return fmt.Errorf("price %q: %w", priceStr, err)
	}
	size, err := strconv.ParseFloat(sizeStr, 64)
	if err != nil {
		return fmt.Errorf("size %q: %w", sizeStr, err)
	}
	if math.IsNaN(price) || math.IsInf(price, 0) || price < 0 {
		return fmt.Errorf("price %q out of range", priceStr)
	}
	if math.IsNaN(size) || math.IsInf(size, 0) || size < 0 {
		return fmt.Errorf("size %q out of range", sizeStr)
	}
	l.Price, l.Size = price, size
	return nil
}

type wireBookContents struct {
	Bids []json.RawMessage `json:"bids"`
	Asks []json.RawMessage `json:"asks"`
}

type wireTrade struct {
	ID        string `json:"id"`
	Side      string `json:"side"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	CreatedAt string `json:"createdAt"`
}

type wireTradeContents struct {
	Trades []wireTrade `json:"trades"`
}

// ParseFrame decodes one raw indexer message. Frames whose envelope cannot
// be parsed, or whose channel is unknown, return ErrMalformedMessage.
// Individually malformed levels or trades inside a frame are skipped and
// counted in Frame.Dropped; the rest of the frame still decodes.
func ParseFrame(raw []byte) (Frame, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Frame{}, fmt.Errorf("dydx: decode envelope: %w", domain.ErrMalformedMessage)
	}

	var kind FrameKind
	switch env.Type {
	case "connected":
		return Frame{Kind: FrameConnected}, nil
	case "subscribed":
		kind = FrameSnapshot
	case "channel_data":
		kind = FrameUpdate
	case "unsubscribed", "error":
		return Frame{Kind: FrameUnknown}, nil
	default:
		return Frame{Kind: FrameUnknown}, nil
	}

	frame := Frame{Kind: kind, Channel: Channel(env.Channel), Market: env.ID}

	switch frame.Channel {
	case ChannelOrderbook:
		var contents wireBookContents
		if err := json.Unmarshal(env.Contents, &contents); err != nil {
			return Frame{}, fmt.Errorf("dydx: decode orderbook contents for %s: %w", env.ID, domain.ErrMalformedMessage)
		}
		payload := &BookPayload{}
		payload.Bids, frame.Dropped = parseLevels(contents.Bids, frame.Dropped)
		payload.Asks, frame.Dropped = parseLevels(contents.Asks, frame.Dropped)
		frame.Book = payload
		return frame, nil

	case ChannelTrades:
		var contents wireTradeContents
		if err := json.Unmarshal(env.Contents, &contents); err != nil {
			return Frame{}, fmt.Errorf("dydx: decode trade contents for %s: %w", env.ID, domain.ErrMalformedMessage)
		}
		frame.Trades = make([]domain.Trade, 0, len(contents.Trades))
		for _, wt := range contents.Trades {
			trade, err := wt.toDomain(env.ID)
			if err != nil {
				frame.Dropped++
				continue
			}
			frame.Trades = append(frame.Trades, trade)
		}
		return frame, nil

	default:
		return Frame{}, fmt.Errorf("dydx: channel %q: %w", env.Channel, domain.ErrMalformedMessage)
	}
}

func parseLevels(raw []json.RawMessage, dropped int) ([]domain.PriceLevel, int) {
	out := make([]domain.PriceLevel, 0, len(raw))
	for _, r := range raw {
		var lvl wireLevel
		if err := json.Unmarshal(r, &lvl); err != nil {
			dropped++
			continue
		}
		out = append(out, domain.PriceLevel{Price: lvl.Price, Size: lvl.Size})
	}
	return out, dropped
}

func (wt wireTrade) toDomain(market string) (domain.Trade, error) {
	price, err := strconv.ParseFloat(wt.Price, 64)
	if err != nil || price <= 0 {
		return domain.Trade{}, fmt.Errorf("trade price %q: %w", wt.Price, domain.ErrMalformedMessage)
	}
	size, err := strconv.ParseFloat(wt.Size, 64)
	if err != nil || size <= 0 {
		return domain.Trade{}, fmt.Errorf("trade size %q: %w", wt.Size, domain.ErrMalformedMessage)
	}

	var side domain.OrderSide
	switch wt.Side {
	case "BUY":
		side = domain.OrderSideBuy
	case "SELL":
		side = domain.OrderSideSell
	default:
		return domain.Trade{}, fmt.Errorf("trade side %q: %w", wt.Side, domain.ErrMalformedMessage)
	}

	ts, err := time.Parse(time.RFC3339Nano, wt.CreatedAt)
	if err != nil {
		ts = time.Now().UTC()
	}

	return domain.Trade{
		ID:        wt.ID,
		Market:    market,
		Side:      side,
		Price:     price,
		Size:      size,
		CreatedAt: ts,
	}, nil
}
