// Package dispatcher implements the top-level request flow of spec.md
// §4.5: the single entry point external clients drive, wiring the role
// store, policy store, proposal store, audit log, daily-volume/cooldown
// trackers, and the external signer and RPC adapters together.
//
// The orchestration shape — resolve caller, gate on a coarse flag, run
// the policy check, branch into sign-then-execute versus defer-to-humans,
// and always land in the audit log — is the same shape
// pkg/guardian.Guardian.EvaluateDecision uses, generalized here from a
// single PRG-backed pass/fail check to the full Allow/Deny/RequireThreshold
// decision space spec.md defines.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/carlos-israelj/ChainGuard-SDK/pkg/action"
	"github.com/carlos-israelj/ChainGuard-SDK/pkg/audit"
	"github.com/carlos-israelj/ChainGuard-SDK/pkg/clockid"
	"github.com/carlos-israelj/ChainGuard-SDK/pkg/condition"
	"github.com/carlos-israelj/ChainGuard-SDK/pkg/config"
	"github.com/carlos-israelj/ChainGuard-SDK/pkg/limits"
	"github.com/carlos-israelj/ChainGuard-SDK/pkg/observability"
	"github.com/carlos-israelj/ChainGuard-SDK/pkg/policy"
	"github.com/carlos-israelj/ChainGuard-SDK/pkg/principal"
	"github.com/carlos-israelj/ChainGuard-SDK/pkg/proposal"
	"github.com/carlos-israelj/ChainGuard-SDK/pkg/rpcadapter"
	"github.com/carlos-israelj/ChainGuard-SDK/pkg/role"
	"github.com/carlos-israelj/ChainGuard-SDK/pkg/signer"
)

var (
	ErrPaused        = errors.New("dispatcher: system is paused")
	ErrAuthorization = errors.New("dispatcher: caller lacks required permission")
)

// ErrAlreadyInitialized is returned by Initialize on any call after the
// first. It wraps config.ErrConfig, matching spec.md §7's classification
// of "initialize called twice" under ConfigError.
var ErrAlreadyInitialized = fmt.Errorf("%w: dispatcher already initialized", config.ErrConfig)

// ErrNotInitialized is returned by GetConfig before Initialize has
// succeeded at least once.
var ErrNotInitialized = fmt.Errorf("%w: dispatcher not initialized", config.ErrConfig)

// ActionResultKind identifies which variant an ActionResult holds.
type ActionResultKind string

const (
	ResultExecuted          ActionResultKind = "executed"
	ResultPendingSignatures ActionResultKind = "pending_signatures"
	ResultDenied            ActionResultKind = "denied"
)

// ActionResult is the closed variant request_action resolves to.
type ActionResult struct {
	Kind      ActionResultKind
	Execution *audit.ExecutionResult
	Proposal  *proposal.Proposal
	Reason    string
}

// Dispatcher is the wired-together core. Construct one with New and inject
// its collaborators; every field is required except CELEval, which is
// only consulted by Expression conditions, and Observability.
type Dispatcher struct {
	Roles     *role.Store
	Policies  *policy.Store
	Proposals proposal.ProposalStore
	AuditLog  *audit.Log
	Volume    limits.VolumeTracker
	Cooldown  limits.CooldownTracker
	Signer    signer.Signer
	RPC       rpcadapter.Adapter
	Clock     clockid.Clock

	// DefaultRequiredSignatures backstops RequireThreshold policies that
	// omit Required.
	DefaultRequiredSignatures int

	// CELEval backs condition.Expression conditions; nil disables them.
	CELEval func(src string, a action.Action, env condition.Env) (bool, error)

	// Observability instruments RequestAction with a trace span and RED
	// metrics when set; nil disables tracing entirely.
	Observability *observability.Provider

	mu               sync.Mutex
	paused           bool
	auditEntryOfProp map[uint64]uint64
	config           *config.Config
}

func New(
	roles *role.Store,
	policies *policy.Store,
	proposals proposal.ProposalStore,
	auditLog *audit.Log,
	volume limits.VolumeTracker,
	cooldown limits.CooldownTracker,
	sgnr signer.Signer,
	rpc rpcadapter.Adapter,
	clock clockid.Clock,
) *Dispatcher {
	return &Dispatcher{
		Roles:                     roles,
		Policies:                  policies,
		Proposals:                 proposals,
		AuditLog:                  auditLog,
		Volume:                    volume,
		Cooldown:                  cooldown,
		Signer:                    sgnr,
		RPC:                       rpc,
		Clock:                     clock,
		DefaultRequiredSignatures: 2,
		auditEntryOfProp:          make(map[uint64]uint64),
	}
}

func (d *Dispatcher) now() uint64 {
	return d.Clock.NowNano()
}

// Initialize applies cfg for the first and only time: it bootstraps caller
// as Owner (spec.md §4.1's "installing principal" rule) and registers
// cfg's policies, then retains cfg for GetConfig. Every call after the
// first returns ErrAlreadyInitialized, per spec.md §6 ("initialize —
// one-shot; subsequent calls are an error") and §7 ("ConfigError —
// initialize called twice").
func (d *Dispatcher) Initialize(caller principal.Principal, cfg *config.Config) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.config != nil {
		return ErrAlreadyInitialized
	}

	policies, err := cfg.BuildPolicies()
	if err != nil {
		return err
	}

	if err := d.Roles.Bootstrap(caller); err != nil {
		return fmt.Errorf("dispatcher: bootstrapping installer: %w", err)
	}
	for _, p := range policies {
		d.Policies.Add(p)
	}

	d.config = cfg
	return nil
}

// GetConfig returns the config document applied by Initialize. It fails
// with ErrNotInitialized before Initialize has succeeded; this is a query
// operation and carries no permission check of its own.
func (d *Dispatcher) GetConfig() (*config.Config, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.config == nil {
		return nil, ErrNotInitialized
	}
	return d.config, nil
}

// supportsChain reports whether a targets a chain initialize(config)
// declared supported. Before Initialize has ever run there is no
// supported_chains list to enforce, so every chain passes.
func (d *Dispatcher) supportsChain(a action.Action) bool {
	d.mu.Lock()
	cfg := d.config
	d.mu.Unlock()

	if cfg == nil {
		return true
	}
	return cfg.SupportsChain(a)
}

// IsPaused is unrestricted, per spec.md §4.5.
func (d *Dispatcher) IsPaused() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.paused
}

// Pause requires Emergency.
func (d *Dispatcher) Pause(caller principal.Principal) error {
	if !d.Roles.HasPermission(caller, role.PermEmergency) {
		return ErrAuthorization
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paused = true
	return nil
}

// Resume requires Emergency.
func (d *Dispatcher) Resume(caller principal.Principal) error {
	if !d.Roles.HasPermission(caller, role.PermEmergency) {
		return ErrAuthorization
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paused = false
	return nil
}

// RequestAction is the single entry point of spec.md §4.5.
func (d *Dispatcher) RequestAction(ctx context.Context, caller principal.Principal, a action.Action) (res ActionResult, opErr error) {
	if d.Observability != nil {
		var done func(error)
		ctx, done = d.Observability.TrackOperation(ctx, "request_action", attribute.String("action_type", a.ActionType()))
		defer func() { done(opErr) }()
	}

	now := d.now()

	if d.IsPaused() {
		// The pause itself must be auditable, unlike a plain permission
		// failure below.
		if _, err := d.AuditLog.Record(a, caller.ID(), policy.Result{Decision: policy.DecisionDenied, Reason: "system paused"}, nil, now); err != nil {
			return ActionResult{}, fmt.Errorf("dispatcher: recording paused audit entry: %w", err)
		}
		return ActionResult{Kind: ResultDenied, Reason: "system paused"}, nil
	}

	if !d.Roles.HasPermission(caller, role.PermExecute) {
		return ActionResult{Kind: ResultDenied, Reason: "missing permission"}, nil
	}

	if !d.supportsChain(a) {
		denied := policy.Result{Decision: policy.DecisionDenied, Reason: fmt.Sprintf("unsupported chain %q", a.Chain())}
		if _, err := d.AuditLog.Record(a, caller.ID(), denied, nil, now); err != nil {
			return ActionResult{}, fmt.Errorf("dispatcher: recording audit entry after unsupported-chain denial: %w", err)
		}
		return ActionResult{Kind: ResultDenied, Reason: denied.Reason}, nil
	}

	dailyVolume := d.Volume.DailyVolume(now)
	env := condition.Env{
		DailyVolume: dailyVolume,
		Now:         now,
		Caller:      caller.ID(),
		ActionType:  a.ActionType(),
		LastSuccess: d.Cooldown.LastSuccess,
		Eval:        d.CELEval,
	}

	result, err := d.Policies.Evaluate(a, env)
	if err != nil {
		// A condition that cannot be evaluated fails the whole request
		// closed; the failure is still recorded.
		denied := policy.Result{Decision: policy.DecisionDenied, Reason: fmt.Sprintf("evaluation error: %v", err)}
		if _, aerr := d.AuditLog.Record(a, caller.ID(), denied, nil, now); aerr != nil {
			return ActionResult{}, fmt.Errorf("dispatcher: recording audit entry after evaluation failure: %w", aerr)
		}
		return ActionResult{Kind: ResultDenied, Reason: denied.Reason}, nil
	}

	switch result.Decision {
	case policy.DecisionDenied:
		if _, err := d.AuditLog.Record(a, caller.ID(), result, nil, now); err != nil {
			return ActionResult{}, fmt.Errorf("dispatcher: recording audit entry: %w", err)
		}
		return ActionResult{Kind: ResultDenied, Reason: result.Reason}, nil

	case policy.DecisionRequiresThreshold:
		required := result.ThresholdAction.Required
		if required <= 0 {
			required = d.DefaultRequiredSignatures
		}
		p, err := d.Proposals.Create(ctx, a, caller.ID(), required, now)
		if err != nil {
			return ActionResult{}, fmt.Errorf("dispatcher: creating proposal: %w", err)
		}
		entry, err := d.AuditLog.Record(a, caller.ID(), result, &p.ID, now)
		if err != nil {
			return ActionResult{}, fmt.Errorf("dispatcher: recording audit entry: %w", err)
		}
		d.mu.Lock()
		d.auditEntryOfProp[p.ID] = entry.ID
		d.mu.Unlock()
		return ActionResult{Kind: ResultPendingSignatures, Proposal: p}, nil

	case policy.DecisionAllowed:
		entry, err := d.AuditLog.Record(a, caller.ID(), result, nil, now)
		if err != nil {
			return ActionResult{}, fmt.Errorf("dispatcher: recording audit entry: %w", err)
		}
		execResult := d.executeAndAttach(ctx, entry.ID, a, caller.ID(), now)
		return ActionResult{Kind: ResultExecuted, Execution: &execResult}, nil

	default:
		return ActionResult{}, fmt.Errorf("dispatcher: unknown policy decision %q", result.Decision)
	}
}

// SignRequest advances a proposal toward Approved and, if the signature
// meets the threshold, executes it immediately.
func (d *Dispatcher) SignRequest(ctx context.Context, caller principal.Principal, id uint64) (*proposal.Proposal, error) {
	if d.IsPaused() {
		return nil, ErrPaused
	}
	if !d.Roles.HasPermission(caller, role.PermSign) {
		return nil, ErrAuthorization
	}

	now := d.now()
	p, err := d.Proposals.Sign(ctx, id, caller.ID(), now)
	if err != nil {
		return nil, err
	}

	if p.Status != proposal.StatusApproved {
		return p, nil
	}

	d.mu.Lock()
	entryID, ok := d.auditEntryOfProp[p.ID]
	d.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("dispatcher: no audit entry recorded for proposal %d", p.ID)
	}

	// Approval represents a human override: the action executes as if
	// freshly Allowed, without re-running policy evaluation.
	d.executeAndAttach(ctx, entryID, p.Action, p.Requester, now)
	if err := d.Proposals.MarkExecuted(ctx, p.ID); err != nil {
		return nil, fmt.Errorf("dispatcher: marking proposal %d executed: %w", p.ID, err)
	}
	return d.Proposals.Get(ctx, p.ID)
}

// RejectRequest requires Sign and transitions the proposal to Rejected,
// recording the reason in the audit log rather than on the proposal.
func (d *Dispatcher) RejectRequest(ctx context.Context, caller principal.Principal, id uint64, reason string) error {
	if !d.Roles.HasPermission(caller, role.PermSign) {
		return ErrAuthorization
	}

	if err := d.Proposals.Reject(ctx, id, reason); err != nil {
		return err
	}

	p, err := d.Proposals.Get(ctx, id)
	if err != nil {
		return err
	}
	now := d.now()
	result := policy.Result{Decision: policy.DecisionDenied, Reason: fmt.Sprintf("rejected: %s", reason)}
	_, err = d.AuditLog.Record(p.Action, caller.ID(), result, &id, now)
	return err
}

// GetPendingRequests requires no specific permission beyond what the
// caller-facing surface enforces; it mirrors ListPending.
func (d *Dispatcher) GetPendingRequests(ctx context.Context) ([]*proposal.Proposal, error) {
	return d.Proposals.ListPending(ctx)
}

// AddPolicy requires Configure. spec.md §3 states policies "are long-lived,
// mutated only by Configure-authorized principals"; unlike role.Store,
// whose Assign/Revoke check Configure against their own assignment table,
// pkg/policy.Store holds no notion of principals or permissions, so the
// check lives here, the same way GetAuditLogs gates the otherwise-open
// pkg/audit.Log rather than pkg/audit itself knowing about ViewLogs.
func (d *Dispatcher) AddPolicy(caller principal.Principal, p policy.Policy) (uint64, error) {
	if !d.Roles.HasPermission(caller, role.PermConfigure) {
		return 0, ErrAuthorization
	}
	return d.Policies.Add(p), nil
}

// UpdatePolicy requires Configure. The update takes effect for subsequent
// evaluations only; any proposal already created under the prior policy
// keeps the RequiredSignatures it was created with (spec.md §9, Open
// Question 3).
func (d *Dispatcher) UpdatePolicy(caller principal.Principal, id uint64, p policy.Policy) error {
	if !d.Roles.HasPermission(caller, role.PermConfigure) {
		return ErrAuthorization
	}
	return d.Policies.Update(id, p)
}

// RemovePolicy requires Configure.
func (d *Dispatcher) RemovePolicy(caller principal.Principal, id uint64) error {
	if !d.Roles.HasPermission(caller, role.PermConfigure) {
		return ErrAuthorization
	}
	return d.Policies.Remove(id)
}

// ListPolicies is a query operation and, like RolesOf and ListAssignments,
// carries no permission check.
func (d *Dispatcher) ListPolicies() []policy.Listed {
	return d.Policies.List()
}

// GetAuditLogs requires ViewLogs.
func (d *Dispatcher) GetAuditLogs(caller principal.Principal, start, end *uint64) ([]*audit.Entry, error) {
	if !d.Roles.HasPermission(caller, role.PermViewLogs) {
		return nil, ErrAuthorization
	}
	return d.AuditLog.EntriesInRange(start, end), nil
}

// GetAuditEntry requires ViewLogs.
func (d *Dispatcher) GetAuditEntry(caller principal.Principal, id uint64) (*audit.Entry, error) {
	if !d.Roles.HasPermission(caller, role.PermViewLogs) {
		return nil, ErrAuthorization
	}
	return d.AuditLog.Entry(id)
}

// GetAuditEntryByCorrelationID requires ViewLogs, like GetAuditEntry.
func (d *Dispatcher) GetAuditEntryByCorrelationID(caller principal.Principal, correlationID string) (*audit.Entry, error) {
	if !d.Roles.HasPermission(caller, role.PermViewLogs) {
		return nil, ErrAuthorization
	}
	return d.AuditLog.EntryByCorrelationID(correlationID)
}

func (d *Dispatcher) executeAndAttach(ctx context.Context, entryID uint64, a action.Action, requester string, now uint64) audit.ExecutionResult {
	sig, err := d.Signer.Sign(ctx, a, requester)
	if err != nil {
		return d.fail(entryID, a, err)
	}

	txHash, err := d.RPC.Submit(ctx, a.Chain(), sig)
	if err != nil {
		return d.fail(entryID, a, err)
	}

	result := audit.ExecutionResult{Success: true, Chain: a.Chain(), TxHash: txHash}
	_ = d.AuditLog.AttachExecution(entryID, result)
	d.Volume.AddExecuted(a.Amount(), now)
	d.Cooldown.RecordSuccess(requester, a.ActionType(), now)
	return result
}

func (d *Dispatcher) fail(entryID uint64, a action.Action, cause error) audit.ExecutionResult {
	result := audit.ExecutionResult{Success: false, Chain: a.Chain(), Error: cause.Error()}
	_ = d.AuditLog.AttachExecution(entryID, result)
	return result
}
