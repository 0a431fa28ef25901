package portal

import (
	"context"
	"fmt"
	"strings"
)

// Logger is the logging contract used across the module. Arguments after
// the message are key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// LoggerProvider hands out named loggers.
type LoggerProvider interface {
	GetLogger(name string) Logger
}

// LoggerProviderFunc adapts a function to the LoggerProvider interface.
type LoggerProviderFunc func(name string) Logger

// GetLogger implements LoggerProvider.
func (f LoggerProviderFunc) GetLogger(name string) Logger {
	if f == nil {
		return defLogger{name: name}
	}
	if lgr := f(name); lgr != nil {
		return lgr
	}
	return defLogger{name: name}
}

// ResolveLogger picks the logger for a component. An explicit logger wins,
// then the provider, then the default printf logger.
func ResolveLogger(name string, provider LoggerProvider, logger Logger) (LoggerProvider, Logger) {
	if provider == nil {
		provider = LoggerProviderFunc(func(n string) Logger { return defLogger{name: n} })
	}
	if logger != nil {
		return provider, logger
	}
	return provider, provider.GetLogger(name)
}

// IdentityProvider is the external email/password authentication service.
// Implementations only issue and refresh credentials; the session itself is
// owned by Provider.
type IdentityProvider interface {
	SignIn(ctx context.Context, email, password string) (*Identity, error)
	SignOut(ctx context.Context) error
	// Token returns the current credential. When forceRefresh is set, or the
	// credential has expired, a new one is requested from the service.
	Token(ctx context.Context, forceRefresh bool) (Token, error)
	// Subscribe delivers the current state first and then every change until
	// the returned function is called.
	Subscribe() (<-chan IdentityChange, func())
}

// ProfileService is the backend side of the session: it registers accounts
// and resolves the application profile for an identity token.
type ProfileService interface {
	FetchProfile(ctx context.Context, token string) (*Profile, error)
	Register(ctx context.Context, input SignUpInput) error
}

// CredentialStore persists the identity provider credential between runs.
type CredentialStore interface {
	Load(ctx context.Context) (*Credential, error)
	Save(ctx context.Context, credential Credential) error
	Clear(ctx context.Context) error
}

type defLogger struct {
	name string
}

func (d defLogger) Debug(msg string, args ...any) {
	fmt.Print(d.line("DBG", msg, args))
}

func (d defLogger) Info(msg string, args ...any) {
	fmt.Print(d.line("INF", msg, args))
}

func (d defLogger) Warn(msg string, args ...any) {
	fmt.Print(d.line("WRN", msg, args))
}

func (d defLogger) Error(msg string, args ...any) {
	fmt.Print(d.line("ERR", msg, args))
}

func (d defLogger) line(level, msg string, args []any) string {
	var b strings.Builder
	b.WriteString("[" + level + "] PORTAL ")
	if d.name != "" {
		b.WriteString(d.name + " ")
	}
	b.WriteString(msg)
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
		} else {
			fmt.Fprintf(&b, " %v", args[i])
		}
	}
	b.WriteString("\n")
	return b.String()
}

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Debug(string, ...any) {}
func (NopLogger) Info(string, ...any)  {}
func (NopLogger) Warn(string, ...any)  {}
func (NopLogger) Error(string, ...any) {}
