package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// CallbackNotification is the result notification body posted by the gateway.
type CallbackNotification struct {
	Body CallbackBody `json:"Body"`
}

type CallbackBody struct {
	StkCallback *STKCallback `json:"stkCallback,omitempty"`
}

type STKCallback struct {
	MerchantRequestID string            `json:"MerchantRequestID"`
	CheckoutRequestID string            `json:"CheckoutRequestID"`
	ResultCode        *ResultCode       `json:"ResultCode,omitempty"`
	ResultDesc        string            `json:"ResultDesc"`
	CallbackMetadata  *CallbackMetadata `json:"CallbackMetadata,omitempty"`
}

type CallbackMetadata struct {
	Item []MetadataItem `json:"Item"`
}

// MetadataItem keeps Value raw so numeric receipts and dates survive without
// float rounding.
type MetadataItem struct {
	Name  string          `json:"Name,omitempty"`
	Value json.RawMessage `json:"Value,omitempty"`
}

// ResultCode is the gateway's outcome code. Deliveries have carried it both as
// a number and as a numeric string, so both decode.
type ResultCode int

func (c *ResultCode) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		data = []byte(s)
	}
	v, err := strconv.Atoi(string(data))
	if err != nil {
		return fmt.Errorf("ResultCode %s is not an integer", data)
	}
	*c = ResultCode(v)
	return nil
}

// Int returns the code as *int, nil when absent.
func (c *ResultCode) Int() *int {
	if c == nil {
		return nil
	}
	v := int(*c)
	return &v
}
