package model

import "time"

// Context is the immutable snapshot of one behavior event flowing through the
// pipeline. Identity fields are fixed at construction; the attribute map
// carries per-request enrichment (headers, proxy flags, timing samples) added
// before detection starts.
type Context struct {
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	IP        string    `json:"ip"`
	UserAgent string    `json:"user_agent"`
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`

	attributes map[string]any
}

func NewContext(userID, sessionID, ip, userAgent, action string) *Context {
	return &Context{
		UserID:     userID,
		SessionID:  sessionID,
		IP:         ip,
		UserAgent:  userAgent,
		Action:     action,
		Timestamp:  time.Now().UTC(),
		attributes: make(map[string]any),
	}
}

func (c *Context) SetAttribute(key string, value any) {
	if c.attributes == nil {
		c.attributes = make(map[string]any)
	}
	c.attributes[key] = value
}

func (c *Context) Attribute(key string) (any, bool) {
	v, ok := c.attributes[key]
	return v, ok
}

func (c *Context) Attributes() map[string]any {
	out := make(map[string]any, len(c.attributes))
	for k, v := range c.attributes {
		out[k] = v
	}
	return out
}

func (c *Context) StringAttribute(key string) string {
	if v, ok := c.attributes[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func (c *Context) BoolAttribute(key string) bool {
	if v, ok := c.attributes[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return false
}

func (c *Context) FloatAttribute(key string) (float64, bool) {
	v, ok := c.attributes[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func (c *Context) IntAttribute(key string) int {
	if f, ok := c.FloatAttribute(key); ok {
		return int(f)
	}
	return 0
}

// Path defaults to "/<action>" when no explicit request path was attached.
func (c *Context) Path() string {
	if p := c.StringAttribute("path"); p != "" {
		return p
	}
	return "/" + c.Action
}

func (c *Context) Method() string {
	if m := c.StringAttribute("method"); m != "" {
		return m
	}
	return "GET"
}

func (c *Context) IPCountry() string {
	return c.StringAttribute("ip_country")
}

func (c *Context) IsProxyIP() bool {
	return c.BoolAttribute("is_proxy")
}

func (c *Context) IsNewUser() bool {
	return c.BoolAttribute("is_new_user")
}

func (c *Context) FormSubmitTime() (float64, bool) {
	return c.FloatAttribute("form_submit_time")
}

// Headers returns the request headers attached during enrichment, if any.
func (c *Context) Headers() map[string]string {
	v, ok := c.attributes["headers"]
	if !ok {
		return nil
	}
	switch h := v.(type) {
	case map[string]string:
		return h
	case map[string]any:
		out := make(map[string]string, len(h))
		for k, val := range h {
			if s, ok := val.(string); ok {
				out[k] = s
			}
		}
		return out
	}
	return nil
}
