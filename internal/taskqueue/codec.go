package taskqueue

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// EncodeTask serializes a task for the wire. JSON keeps payloads readable
// from redis-cli and independent of the enqueuing binary's version.
func EncodeTask(t Task) ([]byte, error) {
	data, err := sonic.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encode task: %w", err)
	}
	return data, nil
}

// DecodeTask deserializes a task from the wire.
func DecodeTask(data []byte) (*Task, error) {
	var t Task
	if err := sonic.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	return &t, nil
}
