package bus

import (
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("bus: marshal: %w", err)
	}
	return string(b), nil
}

func unmarshalEntry(msg redis.XMessage, v any) error {
	raw, ok := msg.Values[fieldPayload]
	if !ok {
		return fmt.Errorf("bus: entry %s missing %q field", msg.ID, fieldPayload)
	}
	s, ok := raw.(string)
	if !ok {
		return fmt.Errorf("bus: entry %s field %q is not a string", msg.ID, fieldPayload)
	}
	if err := json.Unmarshal([]byte(s), v); err != nil {
		return fmt.Errorf("bus: unmarshal entry %s: %w", msg.ID, err)
	}
	return nil
}
