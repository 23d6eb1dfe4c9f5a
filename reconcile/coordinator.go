package reconcile

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/housepoints/ledger-go/ledger"
	"github.com/housepoints/ledger-go/remotesync"
)

const (
	logMsgReconcileStarted      = "reconciliation started"
	logMsgReconcileNoDivergence = "reconciliation found no divergence"
	logMsgReconcileDone         = "reconciliation finished"
	logMsgReconcileFailed       = "reconciliation failed"
	logMsgCorrectionFailed      = "correction failed for member"
	logMsgDryRunSkip            = "dry run, corrections not applied"
	logMsgQueuedPushRedelivered = "queued push redelivered"
	logMsgQueuedPushFailed      = "queued push redelivery failed"
	logMsgCompareReportFailed   = "compare report to remote failed"
	logAttrFamilyID             = "family_id"
	logAttrMemberID             = "member_id"
	logAttrMode                 = "mode"
	logAttrError                = "error"
	logAttrDiscrepancies        = "discrepancies"
	logAttrLocalFingerprint     = "local_fingerprint"
	logAttrRemoteFingerprint    = "remote_fingerprint"

	correctionDescription = "sync correction"
	correctionActor       = "system"
)

var (
	// ErrUnknownMode is returned when a reconciliation mode outside the closed set is supplied.
	ErrUnknownMode = errors.New("unknown reconciliation mode")

	// ErrRemoteFetchFailed wraps failures to obtain the remote leaderboard.
	// No corrections are applied when the remote state is unknown.
	ErrRemoteFetchFailed = errors.New("failed to fetch remote leaderboard")
)

// Mode selects what a reconciliation run does with detected divergence.
type Mode string

const (
	// ModeCompare reports discrepancies without changing either side.
	ModeCompare Mode = "compare"

	// ModeForceLocal pushes the local balances to the remote side.
	ModeForceLocal Mode = "force_local"

	// ModeForceRemote writes corrective adjustment transactions so the local
	// balances match the remote side. The ledger stays append-only: corrections
	// are ordinary adjustment transactions attributed to the system actor.
	ModeForceRemote Mode = "force_remote"
)

// State is the phase a reconciliation run is in. Runs move strictly forward:
// Idle, Comparing, then either NoDivergence, or ApplyingCorrections followed
// by Done. Failed is terminal from any phase.
type State int

const (
	StateIdle State = iota
	StateComparing
	StateNoDivergence
	StateApplyingCorrections
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateComparing:
		return "comparing"
	case StateNoDivergence:
		return "no_divergence"
	case StateApplyingCorrections:
		return "applying_corrections"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Ledger is the slice of the local ledger the coordinator needs.
type Ledger interface {
	FamilyBalances(ctx context.Context, familyID uuid.UUID) (ledger.FamilySnapshot, error)
	RecordTransaction(ctx context.Context, pending ledger.PendingTransaction) (ledger.Transaction, error)
}

// RemoteClient is the slice of the remote sync client the coordinator needs.
type RemoteClient interface {
	FetchLeaderboard(ctx context.Context, familyID uuid.UUID) (ledger.FamilySnapshot, error)
	PushBalance(ctx context.Context, familyID uuid.UUID, memberID uuid.UUID, points ledger.PointsInt, reason string) error
	SyncLeaderboard(ctx context.Context, request remotesync.SyncLeaderboardRequest) (remotesync.SyncLeaderboardResponse, error)
}

// PushQueue is a drainable queue of balance pushes that exhausted their
// delivery retries. A reconciliation run redelivers the family's parked
// pushes before comparing, so the remote side reflects them in the diff.
type PushQueue interface {
	Enqueue(ctx context.Context, push remotesync.QueuedPush) error
	Drain() []remotesync.QueuedPush
}

// Discrepancy describes one member whose balance differs between the local
// ledger and the remote leaderboard, or who exists on only one side.
type Discrepancy struct {
	MemberID      uuid.UUID
	Name          string
	LocalPoints   ledger.PointsInt
	RemotePoints  ledger.PointsInt
	PresentLocal  bool
	PresentRemote bool
}

// Action records one corrective step taken (or attempted) for a member.
// Err is set when that member's correction failed; other members proceed.
type Action struct {
	MemberID uuid.UUID
	Mode     Mode
	Delta    ledger.PointsInt
	Err      error
}

// Report is the outcome of one reconciliation run.
type Report struct {
	FamilyID          uuid.UUID
	Mode              Mode
	State             State
	LocalFingerprint  string
	RemoteFingerprint string
	Discrepancies     []Discrepancy
	Actions           []Action

	// RedeliveredPushes counts parked pushes that were successfully
	// re-issued at the start of the run.
	RedeliveredPushes int

	// RemoteReport is the remote side's account of a compare-mode run.
	// Nil when no divergence was found or the report call failed.
	RemoteReport *remotesync.SyncLeaderboardResponse
}

// Coordinator runs reconciliation between the local ledger and the remote
// leaderboard, one family at a time. Concurrent runs for the same family are
// serialized with a per-family lock; runs for different families proceed in
// parallel.
type Coordinator struct {
	local  Ledger
	remote RemoteClient
	queue  PushQueue
	logger ledger.Logger
	dryRun bool

	familyLocks map[uuid.UUID]*sync.Mutex
	lockMapMu   sync.Mutex
}

// Option defines a functional option for configuring a Coordinator.
type Option func(*Coordinator) error

// WithLogger sets the logger for the Coordinator.
func WithLogger(logger ledger.Logger) Option {
	return func(c *Coordinator) error {
		c.logger = logger
		return nil
	}
}

// WithDryRun makes the Coordinator report the corrections it would apply
// without writing to the ledger or the remote side.
func WithDryRun() Option {
	return func(c *Coordinator) error {
		c.dryRun = true
		return nil
	}
}

// WithPushQueue gives the Coordinator the queue that collects balance pushes
// whose delivery retries were exhausted. Each run drains the queue and
// re-issues the family's pushes before comparing.
func WithPushQueue(queue PushQueue) Option {
	return func(c *Coordinator) error {
		c.queue = queue
		return nil
	}
}

// NewCoordinator creates a Coordinator with optional configuration.
func NewCoordinator(localLedger Ledger, remote RemoteClient, options ...Option) (*Coordinator, error) {
	coordinator := &Coordinator{
		local:       localLedger,
		remote:      remote,
		familyLocks: make(map[uuid.UUID]*sync.Mutex),
	}

	for _, option := range options {
		if err := option(coordinator); err != nil {
			return nil, err
		}
	}

	return coordinator, nil
}

func (c *Coordinator) familyLock(familyID uuid.UUID) *sync.Mutex {
	c.lockMapMu.Lock()
	defer c.lockMapMu.Unlock()

	if _, exists := c.familyLocks[familyID]; !exists {
		c.familyLocks[familyID] = &sync.Mutex{}
	}

	return c.familyLocks[familyID]
}

// Reconcile runs one reconciliation for the family in the given mode.
//
// It compares snapshot fingerprints first: matching fingerprints short-circuit
// to NoDivergence without a per-member diff. When fingerprints differ, the
// per-member discrepancies are computed and, depending on the mode, corrective
// actions are applied. A failure to fetch the remote leaderboard fails the
// whole run before any correction is attempted. Per-member correction
// failures are isolated: they are recorded on the action and do not stop
// corrections for other members.
//
// When a push queue is configured, parked pushes for the family are
// redelivered before the comparison, so the remote snapshot reflects them.
// In compare mode the discrepancies are also reported to the remote side
// through a dry-run leaderboard sync; a failed report does not fail the run.
//
// Reconciliation is idempotent: running force_remote twice in a row applies
// all corrections on the first run and finds no divergence on the second.
func (c *Coordinator) Reconcile(ctx context.Context, familyID uuid.UUID, mode Mode) (Report, error) {
	report := Report{FamilyID: familyID, Mode: mode, State: StateIdle}

	switch mode {
	case ModeCompare, ModeForceLocal, ModeForceRemote:
	default:
		report.State = StateFailed
		return report, ErrUnknownMode
	}

	lock := c.familyLock(familyID)
	lock.Lock()
	defer lock.Unlock()

	c.logInfo(logMsgReconcileStarted, logAttrFamilyID, familyID.String(), logAttrMode, string(mode))

	report.RedeliveredPushes = c.redeliverQueuedPushes(ctx, familyID)

	report.State = StateComparing

	local, localErr := c.local.FamilyBalances(ctx, familyID)
	if localErr != nil {
		report.State = StateFailed
		c.logError(logMsgReconcileFailed, localErr)

		return report, localErr
	}

	remote, remoteErr := c.remote.FetchLeaderboard(ctx, familyID)
	if remoteErr != nil {
		report.State = StateFailed
		err := errors.Join(ErrRemoteFetchFailed, remoteErr)
		c.logError(logMsgReconcileFailed, err)

		return report, err
	}

	report.LocalFingerprint = ledger.SnapshotFingerprint(local)
	report.RemoteFingerprint = ledger.SnapshotFingerprint(remote)

	if report.LocalFingerprint == report.RemoteFingerprint {
		report.State = StateNoDivergence
		c.logInfo(logMsgReconcileNoDivergence, logAttrFamilyID, familyID.String())

		return report, nil
	}

	report.Discrepancies = diffSnapshots(local, remote)

	if mode == ModeCompare {
		report.RemoteReport = c.reportCompare(ctx, familyID, local)
		report.State = StateDone
		c.logDone(report)

		return report, nil
	}

	report.State = StateApplyingCorrections
	report.Actions = c.applyCorrections(ctx, familyID, mode, report.Discrepancies)
	report.State = StateDone
	c.logDone(report)

	return report, nil
}

// redeliverQueuedPushes drains the push queue and re-issues the pushes that
// belong to this family. Pushes for other families go back on the queue for
// their own runs; a push that fails again is re-enqueued by the client.
// Returns the number of pushes delivered.
func (c *Coordinator) redeliverQueuedPushes(ctx context.Context, familyID uuid.UUID) int {
	if c.queue == nil || c.dryRun {
		return 0
	}

	delivered := 0

	for _, push := range c.queue.Drain() {
		if push.FamilyID != familyID {
			if enqueueErr := c.queue.Enqueue(ctx, push); enqueueErr != nil {
				c.logWarn(logMsgQueuedPushFailed, logAttrMemberID, push.MemberID.String(), logAttrError, enqueueErr.Error())
			}

			continue
		}

		pushErr := c.remote.PushBalance(ctx, push.FamilyID, push.MemberID, push.Points, push.Reason)
		if pushErr != nil {
			c.logWarn(logMsgQueuedPushFailed, logAttrMemberID, push.MemberID.String(), logAttrError, pushErr.Error())
			continue
		}

		delivered++
		c.logInfo(logMsgQueuedPushRedelivered, logAttrFamilyID, familyID.String(), logAttrMemberID, push.MemberID.String())
	}

	return delivered
}

// reportCompare sends the local state to the remote side as a dry-run
// leaderboard sync, so the remote system records the discrepancies a compare
// run found. The report is informational; failures are logged and swallowed.
func (c *Coordinator) reportCompare(
	ctx context.Context,
	familyID uuid.UUID,
	local ledger.FamilySnapshot,
) *remotesync.SyncLeaderboardResponse {

	localState := make([]remotesync.LocalMemberState, 0, len(local.Members))
	for _, member := range local.Members {
		localState = append(localState, remotesync.LocalMemberState{
			UserID:        member.MemberID.String(),
			CurrentPoints: member.Points,
			Name:          member.Name,
			Role:          member.Role,
		})
	}

	response, syncErr := c.remote.SyncLeaderboard(ctx, remotesync.SyncLeaderboardRequest{
		FamilyID:   familyID.String(),
		LocalState: localState,
		SyncMode:   string(ModeCompare),
		DryRun:     true,
	})
	if syncErr != nil {
		c.logWarn(logMsgCompareReportFailed, logAttrFamilyID, familyID.String(), logAttrError, syncErr.Error())
		return nil
	}

	return &response
}

// diffSnapshots computes the per-member discrepancies between the local and
// remote snapshots. Members present on only one side are reported too.
func diffSnapshots(local ledger.FamilySnapshot, remote ledger.FamilySnapshot) []Discrepancy {
	remoteByID := make(map[uuid.UUID]ledger.MemberBalance, len(remote.Members))
	for _, member := range remote.Members {
		remoteByID[member.MemberID] = member
	}

	discrepancies := make([]Discrepancy, 0)

	for _, localMember := range local.Members {
		remoteMember, presentRemote := remoteByID[localMember.MemberID]
		delete(remoteByID, localMember.MemberID)

		if presentRemote && remoteMember.Points == localMember.Points {
			continue
		}

		discrepancies = append(discrepancies, Discrepancy{
			MemberID:      localMember.MemberID,
			Name:          localMember.Name,
			LocalPoints:   localMember.Points,
			RemotePoints:  remoteMember.Points,
			PresentLocal:  true,
			PresentRemote: presentRemote,
		})
	}

	// Remaining remote members have no local counterpart.
	for _, remoteMember := range remote.Members {
		if _, stillRemote := remoteByID[remoteMember.MemberID]; !stillRemote {
			continue
		}

		discrepancies = append(discrepancies, Discrepancy{
			MemberID:      remoteMember.MemberID,
			Name:          remoteMember.Name,
			RemotePoints:  remoteMember.Points,
			PresentRemote: true,
		})
	}

	return discrepancies
}

func (c *Coordinator) applyCorrections(
	ctx context.Context,
	familyID uuid.UUID,
	mode Mode,
	discrepancies []Discrepancy,
) []Action {

	actions := make([]Action, 0, len(discrepancies))

	for _, discrepancy := range discrepancies {
		action := Action{MemberID: discrepancy.MemberID, Mode: mode}

		switch mode {
		case ModeForceLocal:
			// Members that only exist remotely cannot be forced from local state.
			if !discrepancy.PresentLocal {
				continue
			}

			action.Delta = discrepancy.LocalPoints - discrepancy.RemotePoints
			if !c.dryRun {
				action.Err = c.remote.PushBalance(
					ctx, familyID, discrepancy.MemberID, discrepancy.LocalPoints, correctionDescription,
				)
			}

		case ModeForceRemote:
			// Members that only exist locally have no remote balance to adopt.
			if !discrepancy.PresentRemote {
				continue
			}

			action.Delta = discrepancy.RemotePoints - discrepancy.LocalPoints
			if !c.dryRun {
				action.Err = c.writeCorrection(ctx, familyID, discrepancy)
			}

		case ModeCompare:
			continue
		}

		if action.Err != nil {
			c.logWarn(logMsgCorrectionFailed, logAttrMemberID, discrepancy.MemberID.String(), logAttrError, action.Err.Error())
		}

		actions = append(actions, action)
	}

	if c.dryRun {
		c.logInfo(logMsgDryRunSkip, logAttrFamilyID, familyID.String())
	}

	return actions
}

// writeCorrection records the adjustment transaction that moves the local
// balance onto the remote value.
func (c *Coordinator) writeCorrection(ctx context.Context, familyID uuid.UUID, discrepancy Discrepancy) error {
	delta := discrepancy.RemotePoints - discrepancy.LocalPoints

	pending, buildErr := ledger.BuildPendingTransaction(
		discrepancy.MemberID,
		familyID,
		ledger.KindAdjustment,
		delta,
		correctionDescription,
		ledger.WithMetadata(map[string]any{
			"actor":  correctionActor,
			"reason": correctionDescription,
		}),
	)
	if buildErr != nil {
		return buildErr
	}

	_, recordErr := c.local.RecordTransaction(ctx, pending)

	return recordErr
}

func (c *Coordinator) logDone(report Report) {
	c.logInfo(
		logMsgReconcileDone,
		logAttrFamilyID, report.FamilyID.String(),
		logAttrMode, string(report.Mode),
		logAttrDiscrepancies, len(report.Discrepancies),
		logAttrLocalFingerprint, report.LocalFingerprint,
		logAttrRemoteFingerprint, report.RemoteFingerprint,
	)
}

func (c *Coordinator) logInfo(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Info(msg, args...)
	}
}

func (c *Coordinator) logWarn(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Warn(msg, args...)
	}
}

func (c *Coordinator) logError(msg string, err error) {
	if c.logger != nil {
		c.logger.Error(msg, logAttrError, err.Error())
	}
}
