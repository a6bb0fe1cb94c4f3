// Package potatctx builds the per-request identity payload forwarded to
// outbound HTTP made from guest code.
package potatctx

import "time"

// Context is the per-request identity marker attached to every outbound
// request the guest initiates, carried in the x-potat-data header.
type Context struct {
	User      interface{} `json:"user,omitempty"`
	Channel   interface{} `json:"channel,omitempty"`
	ID        string      `json:"id"`
	Timestamp int64       `json:"timestamp"`
	Platform  string      `json:"platform"`
	IsSilent  bool        `json:"isSilent"`
}

// DefaultPlatform is used when msg.platform is absent.
const DefaultPlatform = "PotatEval"

// FromMessage derives a Context from a parsed msg object, applying the
// defaults from spec: id="", timestamp=now(), platform="PotatEval",
// isSilent=false.
func FromMessage(msg map[string]interface{}) Context {
	ctx := Context{
		ID:        "",
		Timestamp: time.Now().UnixMilli(),
		Platform:  DefaultPlatform,
		IsSilent:  false,
	}

	if msg == nil {
		return ctx
	}

	if v, ok := msg["user"]; ok {
		ctx.User = v
	}
	if v, ok := msg["channel"]; ok {
		ctx.Channel = v
	}
	if v, ok := msg["id"].(string); ok {
		ctx.ID = v
	}
	if v, ok := msg["timestamp"]; ok {
		switch t := v.(type) {
		case float64:
			ctx.Timestamp = int64(t)
		case int64:
			ctx.Timestamp = t
		}
	}
	if v, ok := msg["platform"].(string); ok && v != "" {
		ctx.Platform = v
	}
	if v, ok := msg["isSilent"].(bool); ok {
		ctx.IsSilent = v
	}

	return ctx
}
