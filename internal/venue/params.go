package venue

import "strings"

// Params are venue-specific order request fields.
type Params map[string]any

// Merge returns a copy of p overlaid with other.
func (p Params) Merge(other Params) Params {
	out := make(Params, len(p)+len(other))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

func (p Params) Bool(key string) bool {
	v, _ := p[key].(bool)
	return v
}

func (p Params) String(key string) string {
	v, _ := p[key].(string)
	return v
}

// Trigger is the reference price of a stop order.
type Trigger string

const (
	TriggerMark  Trigger = "mark"
	TriggerIndex Trigger = "index"
	TriggerLast  Trigger = "last"
)

// OrderParams maps post-only, reduce-only and trigger intents onto the
// field names a venue expects. Unknown venues get generic flags.
func OrderParams(venue string, postOnly, reduceOnly bool, trigger Trigger, marketType string) Params {
	venue = strings.ToLower(strings.TrimSpace(venue))
	trig := Trigger(strings.ToLower(strings.TrimSpace(string(trigger))))
	if trig == "" {
		trig = TriggerMark
	}
	marketType = strings.ToLower(strings.TrimSpace(marketType))

	params := Params{}
	switch venue {
	case "binance", "binanceusdm", "binancecoinm":
		futures := venue != "binance"
		switch marketType {
		case "linear", "inverse", "perpetual", "futures":
			futures = true
		}
		if postOnly {
			params["postOnly"] = true
			if futures {
				params["timeInForce"] = "GTX"
			}
		}
		if reduceOnly {
			params["reduceOnly"] = true
		}
		switch trig {
		case TriggerMark:
			params["workingType"] = "MARK_PRICE"
		case TriggerIndex:
			params["workingType"] = "INDEX_PRICE"
		default:
			params["workingType"] = "CONTRACT_PRICE"
		}
	case "bybit", "bybitlinear":
		if postOnly {
			params["postOnly"] = true
		}
		if reduceOnly {
			params["reduce_only"] = true
		}
		switch trig {
		case TriggerIndex:
			params["triggerBy"] = "IndexPrice"
		case TriggerLast:
			params["triggerBy"] = "LastPrice"
		default:
			params["triggerBy"] = "MarkPrice"
		}
	case "okx":
		if postOnly {
			params["ordType"] = "post_only"
		}
		if reduceOnly {
			params["reduceOnly"] = true
		}
		switch trig {
		case TriggerMark, TriggerLast, TriggerIndex:
		default:
			trig = TriggerMark
		}
		params["triggerPxType"] = string(trig)
	default:
		if postOnly {
			params["postOnly"] = true
		}
		if reduceOnly {
			params["reduceOnly"] = true
		}
	}
	return params
}
