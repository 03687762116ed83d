package cycle

import (
	"context"
	"os"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"

	"perpguard/internal/schema"
)

// Signal is a trade proposal produced outside the bot. TimestampMs is the
// bar time; it keys the ladder so retries within a bar stay idempotent.
type Signal struct {
	Symbol      string
	Side        schema.Side
	Price       float64
	Stop        float64
	TakeProfit  float64
	TimestampMs int64
}

// SignalSource yields the current proposal. ok is false when there is
// nothing to trade.
type SignalSource interface {
	Next(ctx context.Context) (sig Signal, ok bool, err error)
}

// FileSignalSource reads the latest signal from a JSON file. A missing
// file or a flat side means no signal.
type FileSignalSource struct {
	Path string
}

type signalFile struct {
	Symbol      string  `json:"symbol"`
	Side        string  `json:"side"`
	Price       float64 `json:"price"`
	Stop        float64 `json:"stop"`
	TakeProfit  float64 `json:"take_profit"`
	TimestampMs int64   `json:"ts"`
}

func (s FileSignalSource) Next(ctx context.Context) (Signal, bool, error) {
	if err := ctx.Err(); err != nil {
		return Signal{}, false, err
	}

	data, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return Signal{}, false, nil
		}
		return Signal{}, false, errors.Wrap(err, "read signal file").With("path", s.Path)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return Signal{}, false, nil
	}

	var raw signalFile
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return Signal{}, false, errors.Wrap(err, "decode signal file").With("path", s.Path)
	}

	sig := Signal{
		Symbol:      strings.TrimSpace(raw.Symbol),
		Side:        schema.ParseSide(raw.Side),
		Price:       raw.Price,
		Stop:        raw.Stop,
		TakeProfit:  raw.TakeProfit,
		TimestampMs: raw.TimestampMs,
	}
	if !sig.Side.Valid() {
		return Signal{}, false, nil
	}
	return sig, true, nil
}

// StaticSignalSource always returns the same signal. The zero value has
// none.
type StaticSignalSource struct {
	Signal *Signal
}

func (s StaticSignalSource) Next(context.Context) (Signal, bool, error) {
	if s.Signal == nil || !s.Signal.Side.Valid() {
		return Signal{}, false, nil
	}
	return *s.Signal, true, nil
}
