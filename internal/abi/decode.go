package abi

import (
	"encoding/json"
	"fmt"
)

// DecodeDescriptors parses the UTF-8 JSON array a component's describe()
// export returns into a []FunctionDescriptor.
func DecodeDescriptors(data []byte) ([]FunctionDescriptor, error) {
	var descriptors []FunctionDescriptor
	if err := json.Unmarshal(data, &descriptors); err != nil {
		return nil, fmt.Errorf("unmarshal function descriptors: %w", err)
	}
	return descriptors, nil
}
