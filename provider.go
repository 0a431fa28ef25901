package portal

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// ProviderOption customizes a Provider.
type ProviderOption func(*Provider)

// WithProviderLogger sets the logger used by the provider.
func WithProviderLogger(logger Logger) ProviderOption {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithProviderLoggerProvider sets the provider used to name loggers.
func WithProviderLoggerProvider(provider LoggerProvider) ProviderOption {
	return func(p *Provider) {
		p.loggerProvider = provider
	}
}

// WithProviderActivitySink records session lifecycle events.
func WithProviderActivitySink(sink ActivitySink) ProviderOption {
	return func(p *Provider) {
		p.activity = normalizeActivitySink(sink)
	}
}

// WithProviderClock injects the clock used for expiry checks.
func WithProviderClock(clock func() time.Time) ProviderOption {
	return func(p *Provider) {
		if clock != nil {
			p.now = clock
		}
	}
}

// WithRefreshSkew treats tokens expiring within skew as expired.
func WithRefreshSkew(skew time.Duration) ProviderOption {
	return func(p *Provider) {
		if skew >= 0 {
			p.skew = skew
		}
	}
}

// Provider owns the current session. It listens to identity changes, loads
// the application profile for every signed in identity and publishes the
// merged Session.
//
// Every identity change gets a sequence number. A profile fetch that
// completes after a newer change arrived is discarded, so the published
// session always reflects the latest change.
type Provider struct {
	identities IdentityProvider
	profiles   ProfileService

	logger         Logger
	loggerProvider LoggerProvider
	activity       ActivitySink
	now            func() time.Time
	skew           time.Duration
	machine        *SessionStateMachine

	session atomic.Pointer[Session]
	seq     atomic.Uint64
	refresh singleflight.Group

	mu      sync.Mutex
	subs    map[uint64]chan *Session
	waiters map[uint64]chan outcome
	nextID  uint64
	closed  bool

	started     atomic.Bool
	ready       chan struct{}
	readyOnce   sync.Once
	cancel      context.CancelFunc
	unsubscribe func()
	handlers    sync.WaitGroup
	loop        sync.WaitGroup
}

// outcome is the result of handling one identity change.
type outcome struct {
	seq     uint64
	uid     string
	session *Session
	err     error
	stale   bool
}

// NewProvider returns a provider. Call Start before using it.
func NewProvider(identities IdentityProvider, profiles ProfileService, opts ...ProviderOption) *Provider {
	p := &Provider{
		identities: identities,
		profiles:   profiles,
		activity:   ActivitySinkFunc(nil),
		now:        time.Now,
		skew:       DefaultRefreshSkew,
		subs:       map[uint64]chan *Session{},
		waiters:    map[uint64]chan outcome{},
		ready:      make(chan struct{}),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}

	p.loggerProvider, p.logger = ResolveLogger("portal.session", p.loggerProvider, p.logger)
	p.machine = NewSessionStateMachine(
		WithStateMachineClock(p.now),
		WithStateMachineActivitySink(p.activity),
		WithStateMachineLogger(p.loggerProvider.GetLogger("portal.session.state")),
	)

	return p
}

// Start subscribes to identity changes. The subscription lives until Close.
// Calling Start again is a no-op.
func (p *Provider) Start(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	events, unsubscribe := p.identities.Subscribe()
	p.cancel = cancel
	p.unsubscribe = unsubscribe

	p.loop.Add(1)
	go p.run(ctx, events)

	return nil
}

// Close stops listening and closes every subscriber channel.
func (p *Provider) Close() error {
	if !p.started.Load() {
		return nil
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	p.unsubscribe()
	p.loop.Wait()
	p.handlers.Wait()

	p.mu.Lock()
	for id, ch := range p.subs {
		delete(p.subs, id)
		close(ch)
	}
	p.mu.Unlock()

	return nil
}

func (p *Provider) run(ctx context.Context, events <-chan IdentityChange) {
	defer p.loop.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-events:
			if !ok {
				return
			}
			seq := p.seq.Add(1)
			p.handlers.Add(1)
			go func() {
				defer p.handlers.Done()
				p.handle(ctx, seq, change)
			}()
		}
	}
}

func (p *Provider) handle(ctx context.Context, seq uint64, change IdentityChange) {
	if !change.SignedIn() {
		p.apply(ctx, seq, "", nil, nil)
		return
	}

	identity := *change.Identity

	p.mu.Lock()
	if seq == p.seq.Load() {
		p.setState(ctx, StateAuthenticating, WithTransitionUser(identity.UID), WithTransitionReason("identity changed"))
	}
	p.mu.Unlock()

	profile, err := p.profiles.FetchProfile(ctx, change.Token.Value)
	if err != nil || profile == nil {
		p.logger.Error("profile fetch failed, clearing session", "uid", identity.UID, "error", err)
		p.record(ctx, ActivityEvent{
			EventType: ActivityEventProfileFailed,
			UserID:    identity.UID,
			Metadata:  map[string]any{"error": errString(err)},
		})
		p.apply(ctx, seq, identity.UID, nil, CloneError(ErrProfileFetch, err, map[string]any{"uid": identity.UID}))
		return
	}

	p.apply(ctx, seq, identity.UID, newSession(identity, change.Token, *profile, p.now()), nil)
}

// apply publishes the result of change seq unless a newer change exists.
func (p *Provider) apply(ctx context.Context, seq uint64, uid string, session *Session, err error) {
	p.mu.Lock()
	stale := seq != p.seq.Load()
	if stale {
		p.logger.Debug("discarding stale identity change", "seq", seq, "uid", uid)
	} else {
		previous := p.session.Load()
		p.publishLocked(session)
		if session != nil {
			p.setState(ctx, StateAuthenticated,
				WithTransitionUser(uid),
				WithTransitionMetadata(map[string]any{"seq": seq, "admin": session.IsAdmin()}),
			)
			p.record(ctx, ActivityEvent{EventType: ActivityEventSignedIn, UserID: uid})
			p.logger.Info("session established", "uid", uid, "admin", session.IsAdmin())
		} else {
			p.setState(ctx, StateAnonymous, WithTransitionUser(uid))
			if previous != nil && err == nil {
				p.record(ctx, ActivityEvent{EventType: ActivityEventSignedOut, UserID: previous.UID()})
				p.logger.Info("session cleared", "uid", previous.UID())
			}
		}
	}
	p.notifyLocked(outcome{seq: seq, uid: uid, session: session, err: err, stale: stale})
	p.mu.Unlock()

	p.readyOnce.Do(func() { close(p.ready) })
}

// notifyLocked hands result to every pending SignIn. p.mu must be held.
func (p *Provider) notifyLocked(result outcome) {
	for _, ch := range p.waiters {
		deliver(ch, result)
	}
}

// publishLocked swaps the session and notifies subscribers. p.mu must be held.
func (p *Provider) publishLocked(session *Session) {
	p.session.Store(session)
	for _, ch := range p.subs {
		deliver(ch, session)
	}
}

// clearLocked bumps the sequence, so in-flight profile fetches are dropped,
// and publishes an empty session. p.mu must be held.
func (p *Provider) clearLocked(ctx context.Context, reason string) {
	previous := p.session.Load()
	seq := p.seq.Add(1)
	p.publishLocked(nil)
	p.setState(ctx, StateAnonymous, WithTransitionUser(previous.UID()), WithTransitionReason(reason))
	p.notifyLocked(outcome{seq: seq})
}

// SignIn authenticates with the identity provider and waits until the
// resulting identity change has been turned into a session.
func (p *Provider) SignIn(ctx context.Context, email, password string) (*Session, error) {
	if !p.started.Load() {
		return nil, ErrNotStarted
	}

	input := SignInInput{Email: strings.TrimSpace(email), Password: password}
	if err := input.Validate(); err != nil {
		return nil, err
	}

	waitID, results := p.addWaiter()
	defer p.removeWaiter(waitID)

	// Changes numbered up to here were published before this sign in.
	p.mu.Lock()
	after := p.seq.Load()
	p.setState(ctx, StateAuthenticating, WithTransitionReason("sign in"))
	p.mu.Unlock()

	identity, err := p.identities.SignIn(ctx, input.Email, input.Password)
	if err != nil {
		p.settleState(ctx)
		p.record(ctx, ActivityEvent{
			EventType: ActivityEventSignInFailed,
			Metadata:  map[string]any{"email": input.Email, "error": errString(err)},
		})
		p.logger.Warn("sign in failed", "email", input.Email, "error", err)
		return nil, WrapIdentityError(err, map[string]any{"email": input.Email})
	}

	return p.await(ctx, results, after, identity.UID)
}

// SignUp registers the account on the backend and then signs in. Local
// validation runs first; a short password is rejected without any I/O.
func (p *Provider) SignUp(ctx context.Context, email, password, displayName string) (*Session, error) {
	input := SignUpInput{Email: email, Password: password, DisplayName: displayName}.Normalize()
	if err := input.Validate(); err != nil {
		return nil, err
	}

	if !p.started.Load() {
		return nil, ErrNotStarted
	}

	if err := p.profiles.Register(ctx, input); err != nil {
		p.logger.Warn("registration failed", "email", input.Email, "error", err)
		return nil, err
	}

	p.record(ctx, ActivityEvent{
		EventType: ActivityEventSignedUp,
		Metadata:  map[string]any{"email": input.Email},
	})

	return p.SignIn(ctx, input.Email, input.Password)
}

// Logout signs out at the identity provider and clears the session. When
// the identity provider fails the session is kept.
func (p *Provider) Logout(ctx context.Context) error {
	if err := p.identities.SignOut(ctx); err != nil {
		p.logger.Warn("sign out failed", "error", err)
		return WrapIdentityError(err, map[string]any{"operation": "sign_out"})
	}

	p.mu.Lock()
	previous := p.session.Load()
	p.clearLocked(ctx, "logout")
	p.mu.Unlock()

	if previous != nil {
		p.record(ctx, ActivityEvent{EventType: ActivityEventSignedOut, UserID: previous.UID()})
	}

	return nil
}

// Token returns the bearer credential for the current session, or "" when
// nobody is signed in. Expired tokens are refreshed first; forceRefresh
// always refreshes. Concurrent refreshes share one call to the identity
// provider, which runs detached from any single caller's cancellation.
//
// The session ends only when the identity provider rejects the credential
// (see SessionRejected). Cancellation and transient failures are returned
// with the session left in place.
func (p *Provider) Token(ctx context.Context, forceRefresh bool) (string, error) {
	current := p.session.Load()
	if current == nil {
		return "", nil
	}

	if !forceRefresh && !current.Token.Expired(p.now(), p.skew) {
		return current.Token.Value, nil
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	results := p.refresh.DoChan("token", func() (any, error) {
		return p.refreshToken(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case result := <-results:
		if result.Err != nil {
			return "", result.Err
		}
		return result.Val.(string), nil
	}
}

func (p *Provider) refreshToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	seq := p.seq.Load()
	base := p.session.Load()
	if base == nil {
		p.mu.Unlock()
		return "", nil
	}
	p.setState(ctx, StateTokenExpiring, WithTransitionUser(base.UID()))
	p.mu.Unlock()

	token, err := p.identities.Token(ctx, true)
	if err == nil && token.IsZero() {
		err = ErrSessionExpired
	}

	p.mu.Lock()
	if p.seq.Load() != seq {
		// The session changed while refreshing.
		current := p.session.Load()
		p.mu.Unlock()
		if current == nil {
			return "", nil
		}
		return current.Token.Value, nil
	}

	if err != nil && !SessionRejected(err) {
		p.setState(ctx, StateAuthenticated,
			WithTransitionUser(base.UID()),
			WithTransitionReason("refresh failed, session kept"),
			WithTransitionMetadata(map[string]any{"error": errString(err)}),
		)
		p.mu.Unlock()

		p.logger.Warn("token refresh failed, keeping session", "uid", base.UID(), "error", err)
		p.record(ctx, ActivityEvent{
			EventType: ActivityEventRefreshFailed,
			UserID:    base.UID(),
			Metadata:  map[string]any{"error": errString(err), "session_kept": true},
		})
		return "", WrapIdentityError(err, map[string]any{"uid": base.UID()})
	}

	if err != nil {
		p.clearLocked(ctx, "refresh rejected")
		p.mu.Unlock()

		p.logger.Warn("token refresh rejected, signing out", "uid", base.UID(), "error", err)
		p.record(ctx, ActivityEvent{
			EventType: ActivityEventRefreshFailed,
			UserID:    base.UID(),
			Metadata:  map[string]any{"error": errString(err)},
		})
		if serr := p.identities.SignOut(ctx); serr != nil {
			p.logger.Debug("sign out after refresh failure", "error", serr)
		}
		return "", CloneError(ErrSessionExpired, err, map[string]any{"uid": base.UID()})
	}

	p.publishLocked(base.withToken(token))
	p.setState(ctx, StateAuthenticated, WithTransitionUser(base.UID()), WithTransitionReason("token refreshed"))
	p.mu.Unlock()

	p.record(ctx, ActivityEvent{EventType: ActivityEventRefreshed, UserID: base.UID()})
	return token.Value, nil
}

// await waits for the outcome of the change caused by a sign in of uid.
// Outcomes of changes numbered after or below are ignored. A stale outcome
// is always followed by the outcome of a newer change, so waiting goes on
// until a current outcome arrives; when it belongs to someone else the sign
// in was superseded.
func (p *Provider) await(ctx context.Context, results <-chan outcome, after uint64, uid string) (*Session, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case result := <-results:
			if result.seq <= after || result.stale {
				continue
			}
			if result.uid != uid {
				return nil, ErrSessionSuperseded
			}
			if result.err != nil {
				return nil, result.err
			}
			return result.session, nil
		}
	}
}

func (p *Provider) addWaiter() (uint64, <-chan outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	ch := make(chan outcome, feedBuffer)
	p.waiters[id] = ch
	return id, ch
}

func (p *Provider) removeWaiter(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.waiters, id)
}

// Current returns the published session, nil when anonymous.
func (p *Provider) Current() *Session {
	return p.session.Load()
}

// State returns the session lifecycle state.
func (p *Provider) State() State {
	return p.machine.Current()
}

// Ready is closed once the first identity change has been handled.
func (p *Provider) Ready() <-chan struct{} {
	return p.ready
}

// Loading reports whether the initial identity state is still unknown.
func (p *Provider) Loading() bool {
	select {
	case <-p.ready:
		return false
	default:
		return true
	}
}

// Subscribe returns a channel that receives the current session and then
// every published change. Slow readers only see the latest value.
func (p *Provider) Subscribe() (<-chan *Session, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextID
	p.nextID++
	ch := make(chan *Session, 1)
	ch <- p.session.Load()

	if p.closed {
		close(ch)
		return ch, func() {}
	}
	p.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			if sub, ok := p.subs[id]; ok {
				delete(p.subs, id)
				close(sub)
			}
		})
	}
}

// setState moves the state machine, logging rejected transitions.
func (p *Provider) setState(ctx context.Context, target State, opts ...TransitionOption) {
	if _, err := p.machine.Transition(ctx, target, opts...); err != nil {
		p.logger.Debug("session state transition rejected", "to", target, "error", err)
	}
}

// settleState returns the machine to the state matching the published
// session after an aborted operation.
func (p *Provider) settleState(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session.Load() == nil {
		p.setState(ctx, StateAnonymous)
		return
	}
	p.setState(ctx, StateAuthenticated)
}

func (p *Provider) record(ctx context.Context, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = p.now()
	}
	if err := p.activity.Record(ctx, event); err != nil {
		p.logger.Warn("activity sink error", "event", event.EventType, "error", err)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
