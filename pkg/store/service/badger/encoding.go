package badger

import (
	"encoding/json"
	"fmt"

	"github.com/marmos91/bundled/pkg/servicemanager"
)

func encodeRecord(record servicemanager.ServiceRecord) ([]byte, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to encode service record: %w", err)
	}

	return data, nil
}

func decodeRecord(data []byte) (servicemanager.ServiceRecord, error) {
	var record servicemanager.ServiceRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return servicemanager.ServiceRecord{}, fmt.Errorf("failed to decode service record: %w", err)
	}

	return record, nil
}
