package vectorstore

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// modeController owns the routing mode and the remote handle.
//
// Transitions happen under mu. Remote calls never run while mu is held; only
// construction does, so the factory runs at most once.
type modeController struct {
	mu                sync.RWMutex
	mode              Mode
	remote            RemoteBackend
	remoteInitialized bool

	credentials CredentialSource
	factory     RemoteFactory
	embedded    bool
	listeners   []ModeListener
	logger      *zap.Logger
}

func newModeController(creds CredentialSource, factory RemoteFactory, embedded bool, listeners []ModeListener, logger *zap.Logger) *modeController {
	if creds == nil {
		creds = StaticCredentials(Credentials{})
	}
	return &modeController{
		mode:        ModeUninitialized,
		credentials: creds,
		factory:     factory,
		embedded:    embedded,
		listeners:   listeners,
		logger:      logger,
	}
}

// acquire returns the remote handle when the store routes remotely,
// initializing on first use.
func (c *modeController) acquire(ctx context.Context) (RemoteBackend, bool) {
	c.mu.RLock()
	mode, remote := c.mode, c.remote
	c.mu.RUnlock()

	switch mode {
	case ModeRemote:
		return remote, true
	case ModeFallback:
		return nil, false
	}

	return c.initialize(ctx)
}

func (c *modeController) initialize(ctx context.Context) (RemoteBackend, bool) {
	c.mu.Lock()
	if c.mode != ModeUninitialized {
		remote, ok := c.remote, c.mode == ModeRemote
		c.mu.Unlock()
		return remote, ok
	}

	var (
		transition ModeTransition
		remote     RemoteBackend
		err        error
	)

	creds := c.credentials()
	credErr := creds.Check(c.embedded)
	switch {
	case credErr != nil:
		err = credErr
		transition = c.setLocked(ModeFallback, ReasonCredentialsMissing, "init", "", err)
	case c.factory == nil:
		err = errors.New("no remote backend configured")
		transition = c.setLocked(ModeFallback, ReasonConstructionFailed, "init", "", err)
	default:
		remote, err = c.factory(ctx, creds)
		if err == nil && remote == nil {
			err = errors.New("remote factory returned no backend")
		}
		if err != nil {
			remote = nil
			transition = c.setLocked(ModeFallback, ReasonConstructionFailed, "init", "", err)
		} else {
			c.remote = remote
			c.remoteInitialized = true
			transition = c.setLocked(ModeRemote, ReasonConstructed, "init", "", nil)
		}
	}
	c.mu.Unlock()

	if transition.To == ModeFallback {
		c.logger.Warn("vector store starting in fallback mode",
			zap.String("reason", transition.Reason),
			zap.Error(err),
		)
	} else {
		c.logger.Info("vector store using remote backend")
	}
	c.notify(ctx, transition)

	return remote, remote != nil
}

// demote moves the store from remote to fallback after a failed call on
// failed. Only the first caller for a given handle performs the transition.
func (c *modeController) demote(ctx context.Context, failed RemoteBackend, operation, namespace string, cause error) {
	c.mu.Lock()
	if c.mode != ModeRemote || c.remote != failed {
		c.mu.Unlock()
		return
	}
	transition := c.setLocked(ModeFallback, ReasonRemoteFailure, operation, namespace, cause)
	c.remote = nil
	c.mu.Unlock()

	c.logger.Warn("remote vector backend failed, switching to fallback mode",
		zap.String("operation", operation),
		zap.String("namespace", namespace),
		zap.Error(cause),
	)
	if err := failed.Close(); err != nil {
		c.logger.Debug("closing demoted remote backend", zap.Error(err))
	}
	c.notify(ctx, transition)
}

// setLocked must be called with mu held.
func (c *modeController) setLocked(to Mode, reason, operation, namespace string, cause error) ModeTransition {
	t := ModeTransition{
		From:      c.mode,
		To:        to,
		FromName:  c.mode.String(),
		ToName:    to.String(),
		Reason:    reason,
		Operation: operation,
		Namespace: namespace,
		At:        timeNow().UTC(),
	}
	if cause != nil {
		t.Error = cause.Error()
	}
	c.mode = to
	return t
}

func (c *modeController) notify(ctx context.Context, t ModeTransition) {
	RecordTransition(t)
	for _, l := range c.listeners {
		l.OnModeTransition(ctx, t)
	}
}

// current returns the mode and whether a remote client was ever built.
func (c *modeController) current() (Mode, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode, c.remoteInitialized
}

// close releases the remote handle, if any. A closed store serves locally;
// the move to fallback is reported like any other transition.
func (c *modeController) close() error {
	c.mu.Lock()
	remote := c.remote
	c.remote = nil
	changed := c.mode != ModeFallback
	var transition ModeTransition
	if changed {
		transition = c.setLocked(ModeFallback, ReasonClosed, "close", "", nil)
	}
	c.mu.Unlock()

	if changed {
		c.notify(context.Background(), transition)
	}
	if remote == nil {
		return nil
	}
	return remote.Close()
}
