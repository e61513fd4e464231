// Package orchestrator owns the validation request lifecycle: creation,
// secret handling, execution, and the audit trail.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/exec"

	"github.com/google/uuid"

	"github.com/mcpdex-dev/mcpdex/internal/catalog/database"
	"github.com/mcpdex-dev/mcpdex/internal/catalog/dispatch"
	"github.com/mcpdex-dev/mcpdex/internal/catalog/sandbox"
	"github.com/mcpdex-dev/mcpdex/internal/catalog/telemetry"
	"github.com/mcpdex-dev/mcpdex/internal/catalog/validation"
	"github.com/mcpdex-dev/mcpdex/internal/catalog/vault"
	"github.com/mcpdex-dev/mcpdex/pkg/models"
)

// SystemActor is recorded on audit entries for transitions the catalog
// performs on its own, without a requester.
const SystemActor = "system"

var (
	// ErrNotRequester is returned when someone other than the request's
	// creator tries to act on it.
	ErrNotRequester = errors.New("request belongs to a different requester")
	// ErrTerminal is returned for actions on requests that already
	// reached a terminal status.
	ErrTerminal = errors.New("request is in a terminal status")
)

// Runner abstracts the handshake engine so tests can substitute outcomes
// without spawning processes.
type Runner interface {
	RunCommand(ctx context.Context, cmd *exec.Cmd) *models.ValidationResult
}

// Orchestrator coordinates stores, the vault, sandbox backends, and the
// handshake engine. All status transitions go through it and every
// transition leaves an audit entry.
type Orchestrator struct {
	store      database.Store
	vault      *vault.Vault
	engine     Runner
	selector   *sandbox.Selector
	dispatcher dispatch.Dispatcher
	metrics    *telemetry.Metrics
}

// New wires an orchestrator.
func New(store database.Store, v *vault.Vault, engine Runner, selector *sandbox.Selector, dispatcher dispatch.Dispatcher, metrics *telemetry.Metrics) *Orchestrator {
	if dispatcher == nil {
		dispatcher = dispatch.Log{}
	}
	return &Orchestrator{
		store:      store,
		vault:      v,
		engine:     engine,
		selector:   selector,
		dispatcher: dispatcher,
		metrics:    metrics,
	}
}

// Create starts a validation request for a canonical server. Creation is
// idempotent per (target, requester): an existing non-terminal request is
// returned instead of a new one. Candidates whose run command cannot be
// executed safely are recorded as skipped, never silently dropped.
func (o *Orchestrator) Create(ctx context.Context, canonicalID, requester string) (*models.ValidationRequest, error) {
	server, err := o.store.GetMergedServer(ctx, canonicalID)
	if err != nil {
		return nil, err
	}

	if existing, err := o.store.FindActiveRequest(ctx, canonicalID, requester); err == nil {
		return existing, nil
	} else if !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}

	req := &models.ValidationRequest{
		ID:          uuid.NewString(),
		CanonicalID: canonicalID,
		Requester:   requester,
		RunCommand:  server.RunCommand,
		Status:      models.StatusPending,
	}

	if cmdErr := validation.ValidateRunCommand(server.RunCommand, server.PackageName); cmdErr != nil {
		req.Status = models.StatusSkipped
		req.Error = cmdErr.Error()
		if err := o.store.CreateValidationRequest(ctx, req); err != nil {
			return nil, err
		}
		o.audit(ctx, req.ID, requester, "skipped", map[string]string{"reason": cmdErr.Error()})
		return req, nil
	}

	if err := o.store.CreateValidationRequest(ctx, req); err != nil {
		return nil, err
	}
	o.audit(ctx, req.ID, requester, "created", nil)

	if server.RequiresConfig {
		// The attempt cannot succeed without runtime secrets; the request
		// stays pending until the requester supplies them.
		o.audit(ctx, req.ID, SystemActor, "awaiting_secrets", nil)
		return req, nil
	}

	if err := o.launch(ctx, req, server, nil); err != nil {
		return nil, err
	}
	return o.store.GetValidationRequest(ctx, req.ID)
}

// SupplySecrets attaches runtime secrets to a pending request and triggers
// execution. Only the original requester may supply them. Secret values are
// validated, then either used immediately for a local run or encrypted for
// a dispatched worker; plaintext never touches the store or the logs.
func (o *Orchestrator) SupplySecrets(ctx context.Context, requestID, requester string, secrets map[string]string) (*models.ValidationRequest, error) {
	defer clearSecrets(secrets)

	req, err := o.store.GetValidationRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Requester != requester {
		return nil, ErrNotRequester
	}
	if req.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: %s", ErrTerminal, req.Status)
	}
	if err := validation.ValidateSecrets(secrets); err != nil {
		return nil, err
	}

	server, err := o.store.GetMergedServer(ctx, req.CanonicalID)
	if err != nil {
		return nil, err
	}

	o.audit(ctx, req.ID, requester, "secrets_supplied", map[string]string{
		"count": fmt.Sprintf("%d", len(secrets)),
	})

	if err := o.launch(ctx, req, server, secrets); err != nil {
		return nil, err
	}
	return o.store.GetValidationRequest(ctx, req.ID)
}

// Cancel moves a non-terminal request to cancelled and purges any stored
// secrets.
func (o *Orchestrator) Cancel(ctx context.Context, requestID, requester string) (*models.ValidationRequest, error) {
	req, err := o.store.GetValidationRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Requester != requester {
		return nil, ErrNotRequester
	}
	if req.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: %s", ErrTerminal, req.Status)
	}

	if err := o.store.TransitionRequest(ctx, requestID, req.Status, models.StatusCancelled); err != nil {
		return nil, err
	}
	if err := o.store.PurgeRequestSecrets(ctx, requestID); err != nil {
		return nil, err
	}
	o.audit(ctx, requestID, requester, "cancelled", nil)
	return o.store.GetValidationRequest(ctx, requestID)
}

// ExecuteQueued runs a dispatched request on this process. It takes the
// encrypted secrets (delete-on-read), decrypts, and runs the attempt. Used
// by worker deployments that share this binary.
func (o *Orchestrator) ExecuteQueued(ctx context.Context, requestID string) (*models.ValidationRequest, error) {
	req, err := o.store.GetValidationRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != models.StatusPending {
		return nil, fmt.Errorf("%w: expected pending, have %s", database.ErrConflict, req.Status)
	}
	server, err := o.store.GetMergedServer(ctx, req.CanonicalID)
	if err != nil {
		return nil, err
	}

	var secrets map[string]string
	ciphertext, err := o.store.TakeRequestSecrets(ctx, requestID)
	switch {
	case err == nil:
		secrets, err = o.vault.Decrypt(ciphertext)
		if err != nil {
			return nil, fmt.Errorf("decrypt request secrets: %w", err)
		}
	case errors.Is(err, database.ErrNotFound):
		// Nothing stored; the candidate runs without configuration.
	default:
		return nil, err
	}
	defer clearSecrets(secrets)

	if err := o.run(ctx, req, server, secrets); err != nil {
		return nil, err
	}
	return o.store.GetValidationRequest(ctx, requestID)
}

// CompleteFromWorker records the outcome an external worker produced for a
// dispatched request.
func (o *Orchestrator) CompleteFromWorker(ctx context.Context, requestID, actor string, result *models.ValidationResult) (*models.ValidationRequest, error) {
	req, err := o.store.GetValidationRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: %s", ErrTerminal, req.Status)
	}

	if err := o.finish(ctx, requestID, req.CanonicalID, req.Status, actor, result); err != nil {
		return nil, err
	}
	return o.store.GetValidationRequest(ctx, requestID)
}

// ForceTransition is the operator escape hatch for requests wedged by a
// dead worker. It acts only on non-terminal requests; completed history is
// immutable, and a fresh request is the way to revalidate. The transition
// is recorded with the acting operator.
func (o *Orchestrator) ForceTransition(ctx context.Context, requestID, actor string, to models.RequestStatus) (*models.ValidationRequest, error) {
	req, err := o.store.GetValidationRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: %s", ErrTerminal, req.Status)
	}
	if err := o.store.TransitionRequest(ctx, requestID, req.Status, to); err != nil {
		return nil, err
	}
	if to.IsTerminal() {
		if err := o.store.PurgeRequestSecrets(ctx, requestID); err != nil {
			return nil, err
		}
	}
	o.audit(ctx, requestID, actor, "forced", map[string]string{
		"from": string(req.Status),
		"to":   string(to),
	})
	return o.store.GetValidationRequest(ctx, requestID)
}

// EnqueueRevalidation creates a system-owned pending request for a server
// whose published version moved. Idempotent: an active system request for
// the target short-circuits.
func (o *Orchestrator) EnqueueRevalidation(ctx context.Context, canonicalID string) (*models.ValidationRequest, error) {
	if existing, err := o.store.FindActiveRequest(ctx, canonicalID, SystemActor); err == nil {
		return existing, nil
	} else if !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}

	server, err := o.store.GetMergedServer(ctx, canonicalID)
	if err != nil {
		return nil, err
	}

	req := &models.ValidationRequest{
		ID:          uuid.NewString(),
		CanonicalID: canonicalID,
		Requester:   SystemActor,
		RunCommand:  server.RunCommand,
		Status:      models.StatusPending,
	}

	if cmdErr := validation.ValidateRunCommand(server.RunCommand, server.PackageName); cmdErr != nil {
		req.Status = models.StatusSkipped
		req.Error = cmdErr.Error()
		if err := o.store.CreateValidationRequest(ctx, req); err != nil {
			return nil, err
		}
		o.audit(ctx, req.ID, SystemActor, "skipped", map[string]string{"reason": cmdErr.Error()})
		return req, nil
	}

	if err := o.store.CreateValidationRequest(ctx, req); err != nil {
		return nil, err
	}
	o.audit(ctx, req.ID, SystemActor, "revalidation_enqueued", nil)

	if err := o.dispatcher.Dispatch(ctx, req.ID); err != nil {
		log.Printf("dispatch revalidation %s: %v", req.ID, err)
	}
	return req, nil
}

// launch decides between running the attempt here and dispatching it to a
// worker. Dispatch happens only when every local backend refuses the
// candidate for lack of isolation.
func (o *Orchestrator) launch(ctx context.Context, req *models.ValidationRequest, server *models.MergedServer, secrets map[string]string) error {
	spec := sandbox.ExecSpec{
		RunCommand:      server.RunCommand,
		PackageName:     server.PackageName,
		PackageRegistry: server.PackageRegistry,
		Env:             secrets,
	}
	_, _, err := o.selector.Prepare(ctx, spec)
	if errors.Is(err, sandbox.ErrIsolationRequired) {
		return o.dispatchRemote(ctx, req, secrets)
	}
	if err != nil {
		return o.failBeforeRun(ctx, req, err)
	}
	return o.run(ctx, req, server, secrets)
}

// dispatchRemote queues the request for a remote worker: secrets are
// encrypted and stored, then the worker is notified with nothing but the
// request ID.
func (o *Orchestrator) dispatchRemote(ctx context.Context, req *models.ValidationRequest, secrets map[string]string) error {
	if len(secrets) > 0 {
		ciphertext, err := o.vault.Encrypt(secrets)
		if err != nil {
			return fmt.Errorf("encrypt request secrets: %w", err)
		}
		if err := o.store.SetRequestSecrets(ctx, req.ID, ciphertext); err != nil {
			return err
		}
	}
	if err := o.dispatcher.Dispatch(ctx, req.ID); err != nil {
		log.Printf("dispatch request %s: %v", req.ID, err)
	}
	o.audit(ctx, req.ID, SystemActor, "dispatched", nil)
	return nil
}

// run executes the attempt on a local backend and records the outcome. The
// stored run command may have moved since the request was screened at
// creation, so it is screened again here, the last point before a process
// can spawn.
func (o *Orchestrator) run(ctx context.Context, req *models.ValidationRequest, server *models.MergedServer, secrets map[string]string) error {
	if cmdErr := validation.ValidateRunCommand(server.RunCommand, server.PackageName); cmdErr != nil {
		return o.skip(ctx, req, cmdErr)
	}

	if err := o.store.TransitionRequest(ctx, req.ID, req.Status, models.StatusValidating); err != nil {
		return err
	}
	o.audit(ctx, req.ID, SystemActor, "validating", nil)

	spec := sandbox.ExecSpec{
		RunCommand:      server.RunCommand,
		PackageName:     server.PackageName,
		PackageRegistry: server.PackageRegistry,
		Env:             secrets,
	}
	backend, cmd, err := o.selector.Prepare(ctx, spec)
	if err != nil {
		result := &models.ValidationResult{
			Success:       false,
			FailureReason: models.FailureSpawn,
			Error:         err.Error(),
		}
		return o.finish(ctx, req.ID, req.CanonicalID, models.StatusValidating, SystemActor, result)
	}

	result := o.engine.RunCommand(ctx, cmd)
	result.Isolated = backend.Isolated()
	return o.finish(ctx, req.ID, req.CanonicalID, models.StatusValidating, SystemActor, result)
}

// skip terminates a request whose run command failed safety screening.
// Stored secrets are purged; nothing was spawned, so no result is recorded
// beyond the rejection reason.
func (o *Orchestrator) skip(ctx context.Context, req *models.ValidationRequest, cause error) error {
	if err := o.store.SetRequestResult(ctx, req.ID, nil, cause.Error()); err != nil {
		return err
	}
	if err := o.store.TransitionRequest(ctx, req.ID, req.Status, models.StatusSkipped); err != nil {
		return err
	}
	if err := o.store.PurgeRequestSecrets(ctx, req.ID); err != nil {
		return err
	}
	o.audit(ctx, req.ID, SystemActor, "skipped", map[string]string{"reason": cause.Error()})
	return nil
}

// failBeforeRun terminates a request that could not reach execution.
func (o *Orchestrator) failBeforeRun(ctx context.Context, req *models.ValidationRequest, cause error) error {
	result := &models.ValidationResult{
		Success:       false,
		FailureReason: models.FailureSpawn,
		Error:         cause.Error(),
	}
	return o.finish(ctx, req.ID, req.CanonicalID, req.Status, SystemActor, result)
}

// finish records a result, moves the request to its terminal status,
// reflects the outcome on the canonical record, and purges stored secrets.
func (o *Orchestrator) finish(ctx context.Context, requestID, canonicalID string, from models.RequestStatus, actor string, result *models.ValidationResult) error {
	if err := o.store.SetRequestResult(ctx, requestID, result, result.Error); err != nil {
		return err
	}

	to := models.StatusCompleted
	outcome := "verified"
	if !result.Success {
		to = models.StatusFailed
		outcome = string(result.FailureReason)
	}
	if err := o.store.TransitionRequest(ctx, requestID, from, to); err != nil {
		return err
	}
	if err := o.store.PurgeRequestSecrets(ctx, requestID); err != nil {
		return err
	}
	if err := o.store.ApplyValidationOutcome(ctx, canonicalID, result); err != nil {
		return err
	}

	if o.metrics != nil {
		o.metrics.Validations.WithLabelValues(outcome).Inc()
		o.metrics.ValidationDuration.Observe(float64(result.DurationMS) / 1000)
	}

	md := map[string]string{"outcome": outcome}
	if result.ProtocolVersion != "" {
		md["protocol_version"] = result.ProtocolVersion
	}
	o.audit(ctx, requestID, actor, string(to), md)
	return nil
}

func (o *Orchestrator) audit(ctx context.Context, requestID, actor, action string, metadata map[string]string) {
	entry := &models.AuditEntry{
		ID:        uuid.NewString(),
		RequestID: requestID,
		Actor:     actor,
		Action:    action,
		Metadata:  metadata,
	}
	if err := o.store.AppendAuditEntry(ctx, entry); err != nil {
		log.Printf("append audit entry for %s: %v", requestID, err)
	}
}

// clearSecrets best-effort wipes plaintext secret values once an attempt
// no longer needs them.
func clearSecrets(secrets map[string]string) {
	for name := range secrets {
		secrets[name] = ""
		delete(secrets, name)
	}
}
