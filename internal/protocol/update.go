package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Label is the backend's classification of one interval.
type Label string

const (
	LabelNormal Label = "Normal"
	LabelDDoS   Label = "DDoS"
)

// Known reports whether l is one of the two classification labels.
func (l Label) Known() bool {
	return l == LabelNormal || l == LabelDDoS
}

// UnmarshalJSON accepts the label name in any case or the ordinal form
// used by older backends (0 = Normal, 1 = DDoS). Unknown names are kept
// verbatim so validation can report them.
func (l *Label) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "normal":
			*l = LabelNormal
		case "ddos":
			*l = LabelDDoS
		default:
			*l = Label(s)
		}
		return nil
	}

	var n float64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("label must be a string or ordinal: %w", err)
	}
	switch n {
	case 0:
		*l = LabelNormal
	case 1:
		*l = LabelDDoS
	default:
		*l = Label(fmt.Sprintf("%v", n))
	}
	return nil
}

// Details carries the per-interval traffic sample.
type Details struct {
	ProtocolType string `json:"protocolType"`
	SrcBytes     int64  `json:"srcBytes"`
	DstBytes     int64  `json:"dstBytes"`
	SrcIP        string `json:"srcIp"`
}

// Update is one interval of observed traffic plus its classification.
// Count and Allowed are optional; the tally falls back to Allowed, then
// Count, then a single unit.
type Update struct {
	Score   float64 `json:"score"`
	Label   Label   `json:"label"`
	Count   *int64  `json:"count,omitempty"`
	Rate    float64 `json:"rate"`
	Allowed *int64  `json:"allowed,omitempty"`
	Details Details `json:"details"`
}

// Increment is the amount this update adds to its tally bucket.
func (u Update) Increment() int64 {
	switch {
	case u.Allowed != nil:
		return *u.Allowed
	case u.Count != nil:
		return *u.Count
	default:
		return 1
	}
}

// CountValue returns Count, or 0 when absent.
func (u Update) CountValue() int64 {
	if u.Count == nil {
		return 0
	}
	return *u.Count
}

// Int64 returns a pointer to v.
func Int64(v int64) *int64 {
	return &v
}

// updateWire matches both the canonical payload and the flat shape emitted
// by the original backend (iso_score/anomaly_score, prediction, sim_data).
type updateWire struct {
	Score        *float64 `json:"score"`
	IsoScore     *float64 `json:"iso_score"`
	AnomalyScore *float64 `json:"anomaly_score"`

	Label      *Label `json:"label"`
	Prediction *Label `json:"prediction"`

	Count   *json.Number `json:"count"`
	Rate    *float64     `json:"rate"`
	Allowed *json.Number `json:"allowed"`

	Details *sampleWire `json:"details"`
	SimData *simWire    `json:"sim_data"`
}

type sampleWire struct {
	ProtocolType *string      `json:"protocolType"`
	SrcBytes     *json.Number `json:"srcBytes"`
	DstBytes     *json.Number `json:"dstBytes"`
	SrcIP        *string      `json:"srcIp"`
}

type simWire struct {
	ProtocolType *string      `json:"protocol_type"`
	SrcBytes     *json.Number `json:"src_bytes"`
	DstBytes     *json.Number `json:"dst_bytes"`
	SrcIP        *string      `json:"src_ip"`
}

// DecodeUpdate parses and validates an update payload. The canonical shape
// requires every field except allowed. The legacy sim_data shape may omit
// count, rate and the source address, and its byte counters may be
// fractional; they are rounded. Every other integer field must be a whole
// number that fits in an int64.
func DecodeUpdate(data json.RawMessage) (Update, error) {
	var w updateWire
	if err := json.Unmarshal(data, &w); err != nil {
		return Update{}, fmt.Errorf("%w: update: %v", ErrInvalidPayload, err)
	}

	legacy := w.Details == nil && w.SimData != nil
	var missing []string
	var u Update

	switch {
	case w.Score != nil:
		u.Score = *w.Score
	case w.IsoScore != nil:
		u.Score = *w.IsoScore
	case w.AnomalyScore != nil:
		u.Score = *w.AnomalyScore
	default:
		missing = append(missing, "score")
	}

	switch {
	case w.Label != nil:
		u.Label = *w.Label
	case w.Prediction != nil:
		u.Label = *w.Prediction
	default:
		missing = append(missing, "label")
	}

	if w.Count != nil {
		n, err := wholeNumber("count", *w.Count)
		if err != nil {
			return Update{}, err
		}
		u.Count = &n
	} else if !legacy {
		missing = append(missing, "count")
	}
	if w.Allowed != nil {
		n, err := wholeNumber("allowed", *w.Allowed)
		if err != nil {
			return Update{}, err
		}
		u.Allowed = &n
	}
	if w.Rate != nil {
		u.Rate = *w.Rate
	} else if !legacy {
		missing = append(missing, "rate")
	}

	var s sampleWire
	switch {
	case w.Details != nil:
		s = *w.Details
	case w.SimData != nil:
		s = sampleWire{
			ProtocolType: w.SimData.ProtocolType,
			SrcBytes:     w.SimData.SrcBytes,
			DstBytes:     w.SimData.DstBytes,
			SrcIP:        w.SimData.SrcIP,
		}
	default:
		missing = append(missing, "details")
	}
	if w.Details != nil || w.SimData != nil {
		if s.ProtocolType != nil {
			u.Details.ProtocolType = *s.ProtocolType
		} else {
			missing = append(missing, "details.protocolType")
		}
		var err error
		bytesField := wholeNumber
		if legacy {
			bytesField = roundedNumber
		}
		if s.SrcBytes != nil {
			if u.Details.SrcBytes, err = bytesField("srcBytes", *s.SrcBytes); err != nil {
				return Update{}, err
			}
		} else {
			missing = append(missing, "details.srcBytes")
		}
		if s.DstBytes != nil {
			if u.Details.DstBytes, err = bytesField("dstBytes", *s.DstBytes); err != nil {
				return Update{}, err
			}
		} else {
			missing = append(missing, "details.dstBytes")
		}
		if s.SrcIP != nil {
			u.Details.SrcIP = *s.SrcIP
		} else if !legacy {
			missing = append(missing, "details.srcIp")
		}
	}

	if len(missing) > 0 {
		return Update{}, fmt.Errorf("%w: update missing %s", ErrInvalidPayload, strings.Join(missing, ", "))
	}
	if err := Validate(u); err != nil {
		return Update{}, err
	}
	return u, nil
}

// maxExactFloat is the largest magnitude a float64 holds without losing
// integer precision (2^53).
const maxExactFloat = 1 << 53

// wholeNumber parses an integer literal exactly. Forms like 5.0 or 7e3 are
// accepted when a float64 holds them exactly.
func wholeNumber(field string, v json.Number) (int64, error) {
	if n, err := v.Int64(); err == nil {
		return n, nil
	}
	f, err := v.Float64()
	if err != nil || f != math.Trunc(f) || math.Abs(f) > maxExactFloat {
		return 0, fmt.Errorf("%w: %s must be an integer, got %s", ErrInvalidPayload, field, v)
	}
	return int64(f), nil
}

// roundedNumber is wholeNumber for measurements that may carry a fraction.
func roundedNumber(field string, v json.Number) (int64, error) {
	if n, err := v.Int64(); err == nil {
		return n, nil
	}
	f, err := v.Float64()
	if err != nil || math.Abs(f) > maxExactFloat {
		return 0, fmt.Errorf("%w: %s is out of range, got %s", ErrInvalidPayload, field, v)
	}
	return int64(math.Round(f)), nil
}

// Validate checks the value constraints of an update: known label, finite
// score, non-negative counters and a protocol type.
func Validate(u Update) error {
	var problems []string
	if !u.Label.Known() {
		problems = append(problems, fmt.Sprintf("unknown label %q", u.Label))
	}
	if math.IsNaN(u.Score) || math.IsInf(u.Score, 0) {
		problems = append(problems, "score is not finite")
	}
	if u.Count != nil && *u.Count < 0 {
		problems = append(problems, "count is negative")
	}
	if u.Allowed != nil && *u.Allowed < 0 {
		problems = append(problems, "allowed is negative")
	}
	if math.IsNaN(u.Rate) || math.IsInf(u.Rate, 0) || u.Rate < 0 {
		problems = append(problems, "rate must be a non-negative number")
	}
	if strings.TrimSpace(u.Details.ProtocolType) == "" {
		problems = append(problems, "protocol type is empty")
	}
	if u.Details.SrcBytes < 0 || u.Details.DstBytes < 0 {
		problems = append(problems, "byte counters are negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidPayload, strings.Join(problems, "; "))
	}
	return nil
}
