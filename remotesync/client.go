package remotesync

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/housepoints/ledger-go/ledger"
)

const (
	pathPushBalance     = "/points/set"
	pathSyncLeaderboard = "/sync/leaderboard"
	pathLeaderboard     = "/leaderboard/"

	headerFingerprint         = "X-Sync-Fingerprint"
	headerCompletionTimestamp = "X-Completion-Timestamp"
	headerClientVersion       = "X-Client-Version"
	headerAuthorization       = "Authorization"
	headerContentType         = "Content-Type"
	contentTypeJSON           = "application/json"
	bearerPrefix              = "Bearer "

	defaultTimeout     = 5 * time.Second
	defaultMaxAttempts = 4
	defaultBaseDelay   = 250 * time.Millisecond
	defaultJitter      = 0.3

	logMsgPushSucceeded  = "balance push delivered"
	logMsgPushFailed     = "balance push failed"
	logMsgPushQueued     = "balance push queued for later reconciliation"
	logMsgEnqueueFailed  = "failed to queue balance push"
	logMsgSyncSucceeded  = "leaderboard sync delivered"
	logMsgFetchSucceeded = "remote leaderboard fetched"
	logAttrMemberID      = "member_id"
	logAttrFamilyID      = "family_id"
	logAttrStatusCode    = "status_code"
	logAttrError         = "error"
	logAttrAttempts      = "attempts"

	opPushBalance     = "push balance"
	opSyncLeaderboard = "sync leaderboard"
	opFetchLeaders    = "fetch leaderboard"
)

var (
	// ErrRemoteSyncFailed marks every remote sync failure. Callers check it
	// with errors.Is; the concrete RemoteSyncError carries the detail.
	ErrRemoteSyncFailed = errors.New("remote sync failed")

	// ErrNilConfig is returned when a nil configuration is supplied to NewClient.
	ErrNilConfig = errors.New("remote sync config must not be nil")

	// ErrEmptyBaseURL is returned when the configuration has no base URL.
	ErrEmptyBaseURL = errors.New("remote sync base url must not be empty")
)

// RemoteSyncError is the typed result of a failed remote operation. Failures
// of the remote side are non-fatal to the points flow that triggered them;
// the type exists so callers handle (and log) them deliberately instead of
// the error disappearing into a catch-all.
type RemoteSyncError struct {
	Op         string
	StatusCode int // zero when the request never got a response
	Err        error
}

func (e *RemoteSyncError) Error() string {
	msg := "remote sync failed: " + e.Op
	if e.StatusCode != 0 {
		msg += ": status " + strconv.Itoa(e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

func (e *RemoteSyncError) Unwrap() error {
	return e.Err
}

// Is reports true for ErrRemoteSyncFailed so errors.Is works without
// exposing the concrete type.
func (e *RemoteSyncError) Is(target error) bool {
	return target == ErrRemoteSyncFailed
}

// Config holds the remote scoring service settings. It is constructed once at
// process start and passed by reference into NewClient; there is no implicit
// global credential state.
type Config struct {
	BaseURL       string
	APIKey        string
	ClientVersion string
	Timeout       time.Duration // per attempt, not per operation
	MaxAttempts   int
	BaseDelay     time.Duration
}

// Client talks to the remote scoring service.
//
// Balance pushes always transmit the absolute current balance, never a delta:
// with at-least-once delivery an incremental interface would double-count on
// retries, an absolute one makes repeated delivery naturally idempotent. The
// fingerprint travels in a request header for the remote side's replay
// detection; nothing locally depends on it being echoed back.
type Client struct {
	config     *Config
	httpClient *http.Client
	logger     ledger.Logger
	queue      PushQueue
}

// Option defines a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient overrides the underlying HTTP client, mainly for tests.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = httpClient
		return nil
	}
}

// WithLogger sets the logger for the Client.
func WithLogger(logger ledger.Logger) Option {
	return func(c *Client) error {
		c.logger = logger
		return nil
	}
}

// WithPushQueue sets the queue that receives balance pushes which still fail
// after the bounded retries. A later reconciliation pass drains it.
func WithPushQueue(queue PushQueue) Option {
	return func(c *Client) error {
		c.queue = queue
		return nil
	}
}

// NewClient creates a Client for the given configuration with optional overrides.
func NewClient(config *Config, options ...Option) (*Client, error) {
	if config == nil {
		return nil, ErrNilConfig
	}

	if config.BaseURL == "" {
		return nil, ErrEmptyBaseURL
	}

	client := &Client{
		config:     config,
		httpClient: &http.Client{},
	}

	for _, option := range options {
		if err := option(client); err != nil {
			return nil, err
		}
	}

	return client, nil
}

type pushBalanceRequest struct {
	FamilyID string            `json:"family_id"`
	UserID   string            `json:"user_id"`
	Points   int               `json:"points"`
	Reason   string            `json:"reason"`
	Metadata map[string]string `json:"metadata"`
}

// LocalMemberState is one member's balance as transmitted in a leaderboard sync.
type LocalMemberState struct {
	UserID        string `json:"user_id"`
	CurrentPoints int    `json:"current_points"`
	Name          string `json:"name"`
	Role          string `json:"role"`
}

// SyncLeaderboardRequest is the request body of a leaderboard sync.
type SyncLeaderboardRequest struct {
	FamilyID        string             `json:"family_id"`
	LocalState      []LocalMemberState `json:"local_state"`
	SyncMode        string             `json:"sync_mode"`
	DryRun          bool               `json:"dry_run"`
	ClientTimestamp string             `json:"client_timestamp"`
}

// RemoteAction is one action the remote side took during a leaderboard sync.
type RemoteAction struct {
	UserID    string `json:"user_id"`
	Action    string `json:"action"`
	OldPoints int    `json:"old_points"`
	NewPoints int    `json:"new_points"`
	Reason    string `json:"reason"`
}

// SyncResults carries the remote side's account of a leaderboard sync.
type SyncResults struct {
	DiscrepanciesFound int            `json:"discrepancies_found"`
	ActionsTaken       []RemoteAction `json:"actions_taken"`
}

// SyncLeaderboardResponse is the response body of a leaderboard sync.
type SyncLeaderboardResponse struct {
	Success       bool        `json:"success"`
	SyncPerformed bool        `json:"sync_performed"`
	SyncResults   SyncResults `json:"sync_results"`
}

type leaderboardMember struct {
	UserID string `json:"user_id"`
	Points int    `json:"points"`
	Name   string `json:"name"`
	Role   string `json:"role"`
}

type leaderboardResponse struct {
	FamilyID string              `json:"family_id"`
	Members  []leaderboardMember `json:"members"`
}

// PushBalance delivers the member's absolute balance to the remote service.
//
// Transient failures (network errors, 5xx) are retried with exponential
// backoff up to the configured attempt bound; 4xx responses are permanent and
// fail immediately. When the bounded retries are exhausted and a push queue is
// configured, the push is handed to the queue before the error is returned.
// The returned error is always a RemoteSyncError matching ErrRemoteSyncFailed.
func (c *Client) PushBalance(
	ctx context.Context,
	familyID uuid.UUID,
	memberID uuid.UUID,
	points ledger.PointsInt,
	reason string,
) error {

	fingerprint := ledger.PushFingerprint(familyID, memberID, points, reason)

	body := pushBalanceRequest{
		FamilyID: familyID.String(),
		UserID:   memberID.String(),
		Points:   points,
		Reason:   reason,
		Metadata: map[string]string{"client_version": c.config.ClientVersion},
	}

	payload, marshalErr := jsoniter.ConfigFastest.Marshal(body)
	if marshalErr != nil {
		return &RemoteSyncError{Op: opPushBalance, Err: marshalErr}
	}

	metrics, err := ledger.RetryWithExponentialBackoff(
		ctx,
		func(attemptCtx context.Context) error {
			return c.post(attemptCtx, opPushBalance, pathPushBalance, payload, fingerprint, nil)
		},
		c.retryOptions()...,
	)

	if err != nil {
		c.logWarn(
			logMsgPushFailed,
			logAttrMemberID, memberID.String(),
			logAttrAttempts, metrics.Attempts,
			logAttrError, err.Error(),
		)
		c.enqueueFailedPush(ctx, familyID, memberID, points, reason, fingerprint)

		return c.asRemoteSyncError(opPushBalance, err)
	}

	c.logDebug(logMsgPushSucceeded, logAttrMemberID, memberID.String(), logAttrAttempts, metrics.Attempts)

	return nil
}

// SyncLeaderboard submits the family's full local state to the remote side,
// which performs its own comparison and reports the actions it took.
func (c *Client) SyncLeaderboard(ctx context.Context, request SyncLeaderboardRequest) (
	SyncLeaderboardResponse,
	error,
) {

	var response SyncLeaderboardResponse

	if request.ClientTimestamp == "" {
		request.ClientTimestamp = time.Now().UTC().Format(time.RFC3339)
	}

	payload, marshalErr := jsoniter.ConfigFastest.Marshal(request)
	if marshalErr != nil {
		return response, &RemoteSyncError{Op: opSyncLeaderboard, Err: marshalErr}
	}

	_, err := ledger.RetryWithExponentialBackoff(
		ctx,
		func(attemptCtx context.Context) error {
			return c.post(attemptCtx, opSyncLeaderboard, pathSyncLeaderboard, payload, "", &response)
		},
		c.retryOptions()...,
	)

	if err != nil {
		return SyncLeaderboardResponse{}, c.asRemoteSyncError(opSyncLeaderboard, err)
	}

	c.logDebug(logMsgSyncSucceeded, logAttrFamilyID, request.FamilyID)

	return response, nil
}

// FetchLeaderboard retrieves the remote system's balance snapshot for the
// family, the remote input to a reconciliation run.
func (c *Client) FetchLeaderboard(ctx context.Context, familyID uuid.UUID) (ledger.FamilySnapshot, error) {
	var empty ledger.FamilySnapshot
	var response leaderboardResponse

	_, err := ledger.RetryWithExponentialBackoff(
		ctx,
		func(attemptCtx context.Context) error {
			return c.get(attemptCtx, opFetchLeaders, pathLeaderboard+familyID.String(), &response)
		},
		c.retryOptions()...,
	)

	if err != nil {
		return empty, c.asRemoteSyncError(opFetchLeaders, err)
	}

	members := make([]ledger.MemberBalance, 0, len(response.Members))

	for _, member := range response.Members {
		memberID, parseErr := uuid.Parse(member.UserID)
		if parseErr != nil {
			return empty, &RemoteSyncError{Op: opFetchLeaders, Err: parseErr}
		}

		members = append(members, ledger.MemberBalance{
			MemberID: memberID,
			FamilyID: familyID,
			Name:     member.Name,
			Role:     member.Role,
			Points:   member.Points,
		})
	}

	c.logDebug(logMsgFetchSucceeded, logAttrFamilyID, familyID.String())

	return ledger.BuildFamilySnapshot(familyID, members), nil
}

func (c *Client) retryOptions() []ledger.RetryOption {
	maxAttempts := c.config.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	baseDelay := c.config.BaseDelay
	if baseDelay <= 0 {
		baseDelay = defaultBaseDelay
	}

	return []ledger.RetryOption{
		ledger.WithMaxAttempts(maxAttempts),
		ledger.WithBaseDelay(baseDelay),
		ledger.WithJitterFactor(defaultJitter),
		ledger.WithRetryableCheck(isTransient),
	}
}

// isTransient classifies an attempt error: network failures and server errors
// may heal on retry, client errors never do.
func isTransient(err error) bool {
	var syncErr *RemoteSyncError
	if errors.As(err, &syncErr) {
		return syncErr.StatusCode == 0 || syncErr.StatusCode >= http.StatusInternalServerError
	}

	return true
}

func (c *Client) post(
	ctx context.Context,
	op string,
	path string,
	payload []byte,
	fingerprint string,
	response any,
) error {

	attemptCtx, cancel := c.attemptContext(ctx)
	defer cancel()

	request, requestErr := http.NewRequestWithContext(
		attemptCtx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(payload),
	)
	if requestErr != nil {
		return &RemoteSyncError{Op: op, Err: requestErr}
	}

	request.Header.Set(headerContentType, contentTypeJSON)
	request.Header.Set(headerClientVersion, c.config.ClientVersion)
	request.Header.Set(headerCompletionTimestamp, time.Now().UTC().Format(time.RFC3339))

	if fingerprint != "" {
		request.Header.Set(headerFingerprint, fingerprint)
	}

	if c.config.APIKey != "" {
		request.Header.Set(headerAuthorization, bearerPrefix+c.config.APIKey)
	}

	return c.do(op, request, response)
}

func (c *Client) get(ctx context.Context, op string, path string, response any) error {
	attemptCtx, cancel := c.attemptContext(ctx)
	defer cancel()

	request, requestErr := http.NewRequestWithContext(attemptCtx, http.MethodGet, c.config.BaseURL+path, nil)
	if requestErr != nil {
		return &RemoteSyncError{Op: op, Err: requestErr}
	}

	request.Header.Set(headerClientVersion, c.config.ClientVersion)

	if c.config.APIKey != "" {
		request.Header.Set(headerAuthorization, bearerPrefix+c.config.APIKey)
	}

	return c.do(op, request, response)
}

func (c *Client) do(op string, request *http.Request, response any) error {
	result, doErr := c.httpClient.Do(request)
	if doErr != nil {
		return &RemoteSyncError{Op: op, Err: doErr}
	}
	defer func() { _ = result.Body.Close() }()

	if result.StatusCode < http.StatusOK || result.StatusCode >= http.StatusMultipleChoices {
		_, _ = io.Copy(io.Discard, result.Body)
		return &RemoteSyncError{Op: op, StatusCode: result.StatusCode}
	}

	if response == nil {
		_, _ = io.Copy(io.Discard, result.Body)
		return nil
	}

	responseBody, readErr := io.ReadAll(result.Body)
	if readErr != nil {
		return &RemoteSyncError{Op: op, Err: readErr}
	}

	if unmarshalErr := jsoniter.ConfigFastest.Unmarshal(responseBody, response); unmarshalErr != nil {
		return &RemoteSyncError{Op: op, Err: unmarshalErr}
	}

	return nil
}

func (c *Client) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := c.config.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return context.WithTimeout(ctx, timeout)
}

func (c *Client) enqueueFailedPush(
	ctx context.Context,
	familyID uuid.UUID,
	memberID uuid.UUID,
	points ledger.PointsInt,
	reason string,
	fingerprint string,
) {

	if c.queue == nil {
		return
	}

	queued := QueuedPush{
		FamilyID:    familyID,
		MemberID:    memberID,
		Points:      points,
		Reason:      reason,
		Fingerprint: fingerprint,
		QueuedAt:    time.Now().UTC(),
	}

	if enqueueErr := c.queue.Enqueue(ctx, queued); enqueueErr != nil {
		c.logWarn(logMsgEnqueueFailed, logAttrMemberID, memberID.String(), logAttrError, enqueueErr.Error())
		return
	}

	c.logInfo(logMsgPushQueued, logAttrMemberID, memberID.String())
}

func (c *Client) asRemoteSyncError(op string, err error) error {
	var syncErr *RemoteSyncError
	if errors.As(err, &syncErr) {
		return syncErr
	}

	return &RemoteSyncError{Op: op, Err: err}
}

func (c *Client) logDebug(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, args...)
	}
}

func (c *Client) logInfo(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Info(msg, args...)
	}
}

func (c *Client) logWarn(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Warn(msg, args...)
	}
}
