package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/diwise/kg-publisher/pkg/grc20/errors"
	"github.com/diwise/kg-publisher/pkg/grc20/ops"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	NetworkTestnet string = "TESTNET"
	NetworkMainnet string = "MAINNET"

	DefaultTestnetAPI string = "https://api-testnet.grc-20.thegraph.com"

	// ProbeCID is a well formed content id that is never expected to
	// resolve. It is only used to ask the API about a space.
	ProbeCID string = "ipfs://QmTest123"
)

const (
	TraceAttributeSpaceID string = "space-id"
	TraceAttributeCID     string = "cid"
	TraceAttributeNetwork string = "network"
)

var tracer = otel.Tracer("kg-publisher/client")

// Edit is the document published for every batch of operations
type Edit struct {
	Name   string   `json:"name"`
	Author string   `json:"author"`
	Ops    []ops.Op `json:"ops"`
}

// Calldata is a transaction target and its encoded input, ready to be signed
type Calldata struct {
	To   string `json:"to"`
	Data string `json:"data"`
}

type SpaceStatus int

const (
	SpaceUnknown SpaceStatus = iota
	SpaceExists
	SpaceNotFound
)

func (s SpaceStatus) String() string {
	switch s {
	case SpaceExists:
		return "exists"
	case SpaceNotFound:
		return "not-found"
	}
	return "unknown"
}

func Debug(enabled bool) func(*Client) {
	return func(c *Client) {
		c.debug = enabled
	}
}

func Network(network string) func(*Client) {
	return func(c *Client) {
		if network != "" {
			c.network = strings.ToUpper(network)
		}
	}
}

// PublishURL overrides the endpoint that edits are uploaded to
func PublishURL(endpoint string) func(*Client) {
	return func(c *Client) {
		if endpoint != "" {
			c.publishURL = endpoint
		}
	}
}

func Timeout(timeout time.Duration) func(*Client) {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

type Client struct {
	baseURL    string
	publishURL string
	network    string
	timeout    time.Duration
	debug      bool

	httpClient http.Client
}

func NewClient(apiURL string, options ...func(*Client)) *Client {
	apiURL = strings.TrimRight(apiURL, "/")

	c := &Client{
		baseURL:    apiURL,
		publishURL: apiURL + "/ipfs/upload-edit",
		network:    NetworkTestnet,
		timeout:    30 * time.Second,
	}

	for _, option := range options {
		option(c)
	}

	c.httpClient = http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Timeout:   c.timeout,
	}

	return c
}

func (c *Client) Network() string {
	return c.network
}

// PublishEdit uploads an edit document and returns its content id, always
// prefixed with ipfs://
func (c *Client) PublishEdit(ctx context.Context, edit Edit) (string, error) {
	var err error

	ctx, span := tracer.Start(ctx, "publish-edit",
		trace.WithAttributes(attribute.Int("operations", len(edit.Ops))),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	if edit.Ops == nil {
		edit.Ops = []ops.Op{}
	}

	b, err := json.Marshal(edit)
	if err != nil {
		err = fmt.Errorf("failed to marshal edit: %s (%w)", err.Error(), errors.ErrPublish)
		return "", err
	}

	response, responseBody, err := c.callAPI(ctx, http.MethodPost, c.publishURL, bytes.NewReader(b))
	if err != nil {
		err = fmt.Errorf("%w (%w)", err, errors.ErrPublish)
		return "", err
	}

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		err = errors.NewErrorFromResponse(errors.ErrPublish, response.StatusCode, responseBody)
		return "", err
	}

	result := struct {
		CID string `json:"cid"`
	}{}

	err = json.Unmarshal(responseBody, &result)
	if err != nil {
		err = fmt.Errorf("failed to decode publish response: %s (%w)", err.Error(), errors.ErrPublish)
		return "", err
	}

	if result.CID == "" {
		err = fmt.Errorf("publish response did not contain a cid (%w)", errors.ErrPublish)
		return "", err
	}

	cid := result.CID
	if !strings.HasPrefix(cid, "ipfs://") {
		cid = "ipfs://" + cid
	}

	span.SetAttributes(attribute.String(TraceAttributeCID, cid))

	return cid, nil
}

// EditCalldata asks the API for the transaction that records the edit with
// content id cid in a space
func (c *Client) EditCalldata(ctx context.Context, spaceID, cid string) (*Calldata, error) {
	var err error

	ctx, span := tracer.Start(ctx, "edit-calldata",
		trace.WithAttributes(
			attribute.String(TraceAttributeSpaceID, spaceID),
			attribute.String(TraceAttributeCID, cid),
			attribute.String(TraceAttributeNetwork, c.network),
		),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	cd, err := c.requestCalldata(ctx, c.editCalldataURL(spaceID), map[string]string{"cid": cid, "network": c.network})
	return cd, err
}

// CreateSpaceCalldata asks the API for the transaction that deploys a new space
func (c *Client) CreateSpaceCalldata(ctx context.Context, name string) (*Calldata, error) {
	var err error

	ctx, span := tracer.Start(ctx, "create-space-calldata",
		trace.WithAttributes(attribute.String(TraceAttributeNetwork, c.network)),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	cd, err := c.requestCalldata(ctx, c.baseURL+"/space/create/calldata", map[string]string{"network": c.network, "name": name})
	return cd, err
}

// ProbeSpace reports whether the API knows about a space by requesting
// calldata for a dummy edit. Transport failures yield SpaceUnknown.
func (c *Client) ProbeSpace(ctx context.Context, spaceID string) (SpaceStatus, error) {
	var err error

	ctx, span := tracer.Start(ctx, "probe-space",
		trace.WithAttributes(attribute.String(TraceAttributeSpaceID, spaceID)),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	b, _ := json.Marshal(map[string]string{"cid": ProbeCID, "network": c.network})

	response, responseBody, err := c.callAPI(ctx, http.MethodPost, c.editCalldataURL(spaceID), bytes.NewReader(b))
	if err != nil {
		return SpaceUnknown, err
	}

	if response.StatusCode == http.StatusNotFound {
		return SpaceNotFound, nil
	}

	if response.StatusCode == http.StatusInternalServerError && bytes.Contains(responseBody, []byte(errors.SpaceNotFoundSignature)) {
		return SpaceNotFound, nil
	}

	return SpaceExists, nil
}

// SpaceExists collapses ProbeSpace into a boolean. A space that could not
// be probed is reported as missing together with the probe error.
func (c *Client) SpaceExists(ctx context.Context, spaceID string) (bool, error) {
	status, err := c.ProbeSpace(ctx, spaceID)
	return status == SpaceExists, err
}

func (c *Client) editCalldataURL(spaceID string) string {
	return fmt.Sprintf("%s/space/%s/edit/calldata", c.baseURL, url.PathEscape(spaceID))
}

func (c *Client) requestCalldata(ctx context.Context, endpoint string, payload map[string]string) (*Calldata, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal calldata request: %s (%w)", err.Error(), errors.ErrCalldata)
	}

	response, responseBody, err := c.callAPI(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("%w (%w)", err, errors.ErrCalldata)
	}

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return nil, errors.NewErrorFromResponse(errors.ErrCalldata, response.StatusCode, responseBody)
	}

	result := struct {
		Calldata
		errors.APIError
	}{}

	err = json.Unmarshal(responseBody, &result)
	if err != nil {
		return nil, fmt.Errorf("failed to decode calldata response: %s (%w)", err.Error(), errors.ErrCalldata)
	}

	if result.APIError.Err != "" {
		return nil, errors.NewErrorFromResponse(errors.ErrCalldata, response.StatusCode, responseBody)
	}

	if result.To == "" || result.Data == "" {
		return nil, fmt.Errorf("calldata response is missing to or data (%w)", errors.ErrCalldata)
	}

	return &Calldata{To: result.To, Data: result.Data}, nil
}

func (c *Client) callAPI(ctx context.Context, method, endpoint string, body io.Reader) (*http.Response, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %s (%w)", err.Error(), errors.ErrRequest)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to send request: %s (%w)", err.Error(), errors.ErrRequest)
	}

	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response body: %s (%w)", err.Error(), errors.ErrBadResponse)
	}

	if c.debug && resp.StatusCode >= http.StatusBadRequest {
		reqbytes, _ := httputil.DumpRequest(req, false)
		respbytes, _ := httputil.DumpResponse(resp, false)

		logging.GetFromContext(ctx).Error("request failed",
			"request", string(reqbytes),
			"response", string(respbytes),
			"body", string(respBody),
		)
	}

	return resp, respBody, nil
}
