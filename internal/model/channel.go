package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ChannelID is an opaque channel reference, e.g. "durov" or "-1001234567890".
// It decodes from either a JSON string or a JSON number.
type ChannelID string

func (c *ChannelID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*c = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decoding channel id: %w", err)
		}
		*c = ChannelID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decoding channel id: %w", err)
	}
	*c = ChannelID(n.String())
	return nil
}

func (c ChannelID) String() string {
	return string(c)
}
