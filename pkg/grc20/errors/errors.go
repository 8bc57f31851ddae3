package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

var ErrConfiguration = fmt.Errorf("configuration error")
var ErrPublish = fmt.Errorf("content publish failed")
var ErrCalldata = fmt.Errorf("calldata resolution failed")
var ErrBroadcast = fmt.Errorf("transaction broadcast failed")
var ErrConfirmationTimeout = fmt.Errorf("confirmation timeout")
var ErrTransactionReverted = fmt.Errorf("transaction reverted")
var ErrRelationship = fmt.Errorf("invalid relationship")
var ErrInvalidBatchSize = fmt.Errorf("invalid batch size")
var ErrInvalidValue = fmt.Errorf("invalid value")
var ErrSpaceNotFound = fmt.Errorf("space not found")
var ErrRequest = fmt.Errorf("request error")
var ErrBadResponse = fmt.Errorf("bad response")

type myError struct {
	msg    string
	target error
}

func (m myError) Error() string        { return m.msg }
func (m myError) Is(target error) bool { return target == m.target }

func NewConfigurationError(setting, msg string) error {
	return &myError{
		msg:    fmt.Sprintf("%s: %s", setting, msg),
		target: ErrConfiguration,
	}
}

func NewMissingSettingError(setting string) error {
	return NewConfigurationError(setting, "required setting is missing")
}

func NewRelationshipError(msg string) error {
	return &myError{
		msg:    msg,
		target: ErrRelationship,
	}
}

func NewInvalidValueError(msg string) error {
	return &myError{
		msg:    msg,
		target: ErrInvalidValue,
	}
}

func NewSpaceNotFoundError(spaceID string) error {
	return &myError{
		msg:    fmt.Sprintf("could not find space with id %s", spaceID),
		target: ErrSpaceNotFound,
	}
}

// SpaceNotFoundSignature is the text the API puts in the body of a 500
// response when asked for calldata against an unknown space.
const SpaceNotFoundSignature string = "Could not find space with id"

// APIError is the error document returned by the knowledge graph API
type APIError struct {
	Err    string `json:"error"`
	Reason string `json:"reason"`
}

func (e APIError) Error() string {
	if e.Reason == "" {
		return e.Err
	}
	return fmt.Sprintf("%s (%s)", e.Err, e.Reason)
}

// NewErrorFromResponse converts a failed API response into an error that wraps
// target. Space lookups that failed are reported as ErrSpaceNotFound as well.
func NewErrorFromResponse(target error, code int, body []byte) error {
	report := APIError{}

	err := json.Unmarshal(body, &report)
	if err != nil || report.Err == "" {
		return fmt.Errorf("[code: %d] %s (%w)", code, strings.TrimSpace(string(body)), target)
	}

	if code == http.StatusNotFound || strings.Contains(report.Reason, SpaceNotFoundSignature) || strings.Contains(report.Err, SpaceNotFoundSignature) {
		return fmt.Errorf("[code: %d] %s: %w (%w)", code, report.Error(), ErrSpaceNotFound, target)
	}

	return fmt.Errorf("[code: %d] %s (%w)", code, report.Error(), target)
}
