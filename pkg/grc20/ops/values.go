package ops

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/diwise/kg-publisher/pkg/grc20/errors"
)

type ValueKind string

const (
	TextValue     ValueKind = "TEXT"
	NumberValue   ValueKind = "NUMBER"
	URLValue      ValueKind = "URL"
	TimeValue     ValueKind = "TIME"
	PointValue    ValueKind = "POINT"
	CheckboxValue ValueKind = "CHECKBOX"
	BooleanValue  ValueKind = "BOOLEAN"
)

// ParseValueKind accepts a value kind in any letter case
func ParseValueKind(s string) (ValueKind, error) {
	kind := ValueKind(strings.ToUpper(strings.TrimSpace(s)))

	switch kind {
	case TextValue, NumberValue, URLValue, TimeValue, PointValue, CheckboxValue, BooleanValue:
		return kind, nil
	case "":
		return TextValue, nil
	}

	return "", errors.NewInvalidValueError(fmt.Sprintf("unknown value kind %q", s))
}

// PropertyValue is a typed property value. Value holds a string for TEXT, URL,
// TIME and POINT, a float64 for NUMBER and a bool for CHECKBOX and BOOLEAN.
type PropertyValue struct {
	Kind  ValueKind `json:"type"`
	Value any       `json:"value"`
}

func (pv *PropertyValue) UnmarshalJSON(data []byte) error {
	contents := struct {
		Kind  ValueKind       `json:"type"`
		Value json.RawMessage `json:"value"`
	}{}

	err := json.Unmarshal(data, &contents)
	if err != nil {
		return err
	}

	pv.Kind = contents.Kind

	switch contents.Kind {
	case NumberValue:
		var f float64
		err = json.Unmarshal(contents.Value, &f)
		pv.Value = f
	case CheckboxValue, BooleanValue:
		var b bool
		err = json.Unmarshal(contents.Value, &b)
		pv.Value = b
	default:
		var s string
		err = json.Unmarshal(contents.Value, &s)
		pv.Value = s
	}

	return err
}

// String returns the value the way it would be written in a source record
func (pv PropertyValue) String() string {
	switch v := pv.Value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return ""
	}
	return fmt.Sprintf("%v", pv.Value)
}

func Text(s string) PropertyValue {
	return PropertyValue{Kind: TextValue, Value: s}
}

func Number(f float64) PropertyValue {
	return PropertyValue{Kind: NumberValue, Value: f}
}

func URL(u string) PropertyValue {
	return PropertyValue{Kind: URLValue, Value: u}
}

func Time(t string) PropertyValue {
	return PropertyValue{Kind: TimeValue, Value: t}
}

func Point(lat, lon float64) PropertyValue {
	return PropertyValue{
		Kind:  PointValue,
		Value: strconv.FormatFloat(lat, 'f', -1, 64) + "," + strconv.FormatFloat(lon, 'f', -1, 64),
	}
}

func Checkbox(b bool) PropertyValue {
	return PropertyValue{Kind: CheckboxValue, Value: b}
}

func Boolean(b bool) PropertyValue {
	return PropertyValue{Kind: BooleanValue, Value: b}
}

var dateLayouts []string = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	"1/2/06",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
}

var clockLayouts []string = []string{
	"15:04",
	"15:04:05",
	"3:04 PM",
	"3:04PM",
	"3:04 pm",
	"3:04pm",
	"3 PM",
	"3PM",
}

// ParseValue validates the raw text of a record cell and converts it into
// a value of the requested kind.
func ParseValue(kind ValueKind, raw string) (PropertyValue, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return PropertyValue{}, errors.NewInvalidValueError(fmt.Sprintf("empty %s value", kind))
	}

	switch kind {
	case TextValue, "":
		return Text(raw), nil
	case NumberValue:
		return parseNumber(raw)
	case URLValue:
		return parseURL(raw)
	case TimeValue:
		return parseTime(raw)
	case PointValue:
		return parsePoint(raw)
	case CheckboxValue, BooleanValue:
		b, err := parseBool(raw)
		if err != nil {
			return PropertyValue{}, err
		}
		return PropertyValue{Kind: kind, Value: b}, nil
	}

	return PropertyValue{}, errors.NewInvalidValueError(fmt.Sprintf("unknown value kind %q", kind))
}

func parseNumber(raw string) (PropertyValue, error) {
	cleaned := strings.NewReplacer(",", "", "$", "", " ", "").Replace(raw)

	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return PropertyValue{}, errors.NewInvalidValueError(fmt.Sprintf("%q is not a number", raw))
	}

	return Number(f), nil
}

func parseURL(raw string) (PropertyValue, error) {
	candidate := raw
	if !strings.Contains(candidate, "://") {
		candidate = "https://" + candidate
	}

	u, err := url.Parse(candidate)
	if err != nil || u.Host == "" || strings.ContainsAny(u.Host, " \t") {
		return PropertyValue{}, errors.NewInvalidValueError(fmt.Sprintf("%q is not an absolute url", raw))
	}

	return URL(u.String()), nil
}

func parseTime(raw string) (PropertyValue, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return Time(t.UTC().Format(time.RFC3339)), nil
		}
	}

	for _, layout := range clockLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return Time(t.Format("15:04")), nil
		}
	}

	return PropertyValue{}, errors.NewInvalidValueError(fmt.Sprintf("%q is not a recognized date or time", raw))
}

func parsePoint(raw string) (PropertyValue, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 2 {
		return PropertyValue{}, errors.NewInvalidValueError(fmt.Sprintf("%q is not a lat,lon pair", raw))
	}

	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil || lat < -90 || lat > 90 {
		return PropertyValue{}, errors.NewInvalidValueError(fmt.Sprintf("bad latitude in %q", raw))
	}

	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil || lon < -180 || lon > 180 {
		return PropertyValue{}, errors.NewInvalidValueError(fmt.Sprintf("bad longitude in %q", raw))
	}

	return Point(lat, lon), nil
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(raw) {
	case "yes", "y", "true", "t", "1", "x", "on":
		return true, nil
	case "no", "n", "false", "f", "0", "off":
		return false, nil
	}

	return false, errors.NewInvalidValueError(fmt.Sprintf("%q is not a boolean", raw))
}
