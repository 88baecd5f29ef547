package request

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// CallbackVersion is the current wire version of the settlement callback.
const CallbackVersion = 1

// Callback is the payload attached to a remote token transfer so the
// receiving coordinator can credit the right fund. The envelope is versioned;
// decoders reject unknown versions and unknown fields.
type Callback struct {
	Version   int    `json:"v"`
	RequestID uint64 `json:"request_id"`
	FundIndex int    `json:"fund_index"`
}

// EncodeCallback serializes a settlement callback for transport.
func EncodeCallback(requestID uint64, fundIndex int) ([]byte, error) {
	if fundIndex < 0 {
		return nil, fmt.Errorf("fund index must not be negative")
	}
	return json.Marshal(Callback{Version: CallbackVersion, RequestID: requestID, FundIndex: fundIndex})
}

// DecodeCallback parses and validates a settlement callback.
func DecodeCallback(data []byte) (Callback, error) {
	if len(data) == 0 {
		return Callback{}, fmt.Errorf("empty callback payload")
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var cb Callback
	if err := dec.Decode(&cb); err != nil {
		return Callback{}, fmt.Errorf("decode callback: %w", err)
	}
	if dec.More() {
		return Callback{}, fmt.Errorf("trailing data after callback")
	}
	if cb.Version != CallbackVersion {
		return Callback{}, fmt.Errorf("unsupported callback version %d", cb.Version)
	}
	if cb.FundIndex < 0 {
		return Callback{}, fmt.Errorf("negative fund index")
	}
	return cb, nil
}
