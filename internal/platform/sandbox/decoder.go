package sandbox

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"tle_zone_contest/internal/domain/model"
)

// CallbackPayload is the body the sandbox sends to the callback URL. Text
// fields are base64 encoded and may be null.
type CallbackPayload struct {
	Token         string         `json:"token"`
	Stdout        *string        `json:"stdout"`
	Stderr        *string        `json:"stderr"`
	CompileOutput *string        `json:"compile_output"`
	Message       *string        `json:"message"`
	Time          flexibleNumber `json:"time"`
	Memory        flexibleNumber `json:"memory"`
	Status        CallbackStatus `json:"status"`
}

type CallbackStatus struct {
	ID          int    `json:"id"`
	Description string `json:"description"`
}

// flexibleNumber accepts "0.012", 0.012 or null.
type flexibleNumber struct {
	Value float64
	Valid bool
}

func (n *flexibleNumber) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*n = flexibleNumber{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*n = flexibleNumber{}
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("invalid number %q: %w", s, err)
		}
		*n = flexibleNumber{Value: v, Valid: true}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*n = flexibleNumber{Value: v, Valid: true}
	return nil
}

// ParsePayload decodes a raw callback body.
func ParsePayload(body []byte) (*CallbackPayload, error) {
	var p CallbackPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("invalid callback body: %w", err)
	}
	return &p, nil
}

// Decode turns a callback payload into a result. Time is reported in seconds
// and converted to milliseconds; memory is already in kilobytes.
func Decode(p *CallbackPayload) (model.ExecutionResult, error) {
	var (
		res model.ExecutionResult
		err error
	)
	if res.Stdout, err = decodeText("stdout", p.Stdout); err != nil {
		return res, err
	}
	if res.Stderr, err = decodeText("stderr", p.Stderr); err != nil {
		return res, err
	}
	if res.CompileOutput, err = decodeText("compile_output", p.CompileOutput); err != nil {
		return res, err
	}
	if res.Message, err = decodeText("message", p.Message); err != nil {
		return res, err
	}

	res.Status = model.VerdictFromStatusID(p.Status.ID)
	res.Passed = res.Status == model.StatusAccepted
	if p.Time.Valid {
		ms := int(math.Round(p.Time.Value * 1000))
		res.ExecutionTimeMs = &ms
	}
	if p.Memory.Valid {
		kb := int(math.Round(p.Memory.Value))
		res.MemoryUsedKb = &kb
	}
	return res, nil
}

func decodeText(field string, v *string) (string, error) {
	if v == nil || *v == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(*v)
	if err != nil {
		return "", fmt.Errorf("invalid base64 in %s: %w", field, err)
	}
	return string(raw), nil
}
