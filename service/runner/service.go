// Package runner executes one stage attempt: a single invocation of the
// external generator command with resolved input/output artifact paths. The
// external program's contract is a distinguishable exit status and tolerance
// to re-invocation on the same inputs; the engine guarantees nothing
// stronger than at-least-once.
package runner

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/viant/afs/url"
	"github.com/viant/gosh"
	grunner "github.com/viant/gosh/runner"
	"github.com/viant/gosh/runner/local"
	rssh "github.com/viant/gosh/runner/ssh"
	"github.com/viant/scy/cred/secret"
	"golang.org/x/crypto/ssh"

	"github.com/pedalhq/pedal/model"
)

// StageEnvKey names the environment variable carrying the stage id into the
// external command.
const StageEnvKey = "PEDAL_STAGE_ID"

// Host identifies where stage commands run. The zero value targets the
// local shell.
type Host struct {
	URL         string
	Credentials string // scy secret resource for SSH hosts
}

// Service runs one stage attempt and yields the output artifact path.
type Service interface {
	Execute(ctx context.Context, stage *model.Stage, input string) (output string, err error)
}

// Func adapts a plain function to Service; used by tests to stub external
// generators.
type Func func(ctx context.Context, stage *model.Stage, input string) (string, error)

func (f Func) Execute(ctx context.Context, stage *model.Stage, input string) (string, error) {
	return f(ctx, stage, input)
}

// service executes stage commands through gosh shell sessions, local or SSH.
type service struct {
	host     *Host
	timeout  time.Duration
	sessions map[string]*gosh.Service
	mux      sync.Mutex
}

var _ Service = (*service)(nil)

// Option customises the runner.
type Option func(*service)

// WithHost targets a remote host instead of the local shell.
func WithHost(host *Host) Option {
	return func(s *service) { s.host = host }
}

// WithTimeout bounds a single attempt; the default is 15 minutes.
func WithTimeout(timeout time.Duration) Option {
	return func(s *service) { s.timeout = timeout }
}

// New creates a shell-backed stage runner.
func New(options ...Option) Service {
	ret := &service{
		host:     &Host{URL: "bash://localhost/"},
		timeout:  15 * time.Minute,
		sessions: make(map[string]*gosh.Service),
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// Execute expands the stage command template and runs it once. A non-zero
// exit status is a failed attempt; retry policy lives with the caller.
func (s *service) Execute(ctx context.Context, stage *model.Stage, input string) (string, error) {
	command := ExpandCommand(stage.Command, input, stage.Output)

	env := map[string]string{StageEnvKey: stage.ID}
	for k, v := range stage.Env {
		env[k] = v
	}

	session, err := s.getSession(ctx, env)
	if err != nil {
		return "", fmt.Errorf("failed to get shell session for stage %s: %w", stage.ID, err)
	}

	stdout, status, err := session.Run(ctx, command, grunner.WithTimeout(int(s.timeout.Milliseconds())))
	if err != nil {
		return "", fmt.Errorf("stage %s invocation failed: %w", stage.ID, err)
	}
	if status != 0 {
		detail := strings.TrimSpace(stdout)
		if detail == "" {
			detail = "no output"
		}
		return "", fmt.Errorf("stage %s exited with status %d: %s", stage.ID, status, detail)
	}
	return stage.Output, nil
}

// ExpandCommand substitutes the ${input} and ${output} placeholders of a
// stage command template.
func ExpandCommand(template, input, output string) string {
	expanded := strings.ReplaceAll(template, "${input}", input)
	return strings.ReplaceAll(expanded, "${output}", output)
}

// getSession retrieves an existing shell session or creates a new one per
// environment signature.
func (s *service) getSession(ctx context.Context, env map[string]string) (*gosh.Service, error) {
	sessionID := s.host.URL + "|" + envSignature(env)

	s.mux.Lock()
	defer s.mux.Unlock()

	if session, ok := s.sessions[sessionID]; ok {
		return session, nil
	}

	envOptions := []grunner.Option{}
	if len(env) > 0 {
		envOptions = append(envOptions, grunner.WithEnvironment(env))
	}

	var session *gosh.Service
	var err error
	if url.Host(s.host.URL) == "localhost" {
		session, err = gosh.New(ctx, local.New(envOptions...))
	} else {
		config, cfgErr := s.sshConfig(ctx)
		if cfgErr != nil {
			return nil, fmt.Errorf("failed to get SSH config: %w", cfgErr)
		}
		sshHost := url.Host(s.host.URL)
		if !strings.Contains(sshHost, ":") {
			sshHost += ":22"
		}
		session, err = gosh.New(ctx, rssh.New(sshHost, config, envOptions...))
	}
	if err != nil {
		return nil, err
	}
	s.sessions[sessionID] = session
	return session, nil
}

// sshConfig resolves the SSH client config from the host's scy secret
// resource.
func (s *service) sshConfig(ctx context.Context) (*ssh.ClientConfig, error) {
	credentials := s.host.Credentials
	if credentials == "" {
		credentials = "localhost"
	}
	secrets := secret.New()
	generic, err := secrets.GetCredentials(ctx, credentials)
	if err != nil {
		return nil, err
	}
	return generic.SSH.Config(ctx)
}

// Close releases all shell sessions held by the runner.
func (s *service) Close() error {
	s.mux.Lock()
	defer s.mux.Unlock()
	var errs []string
	for id, session := range s.sessions {
		if err := session.Close(); err != nil {
			errs = append(errs, fmt.Sprintf("failed to close session %s: %v", id, err))
		}
	}
	s.sessions = make(map[string]*gosh.Service)
	if len(errs) > 0 {
		return fmt.Errorf("errors closing sessions: %s", strings.Join(errs, "; "))
	}
	return nil
}

func envSignature(env map[string]string) string {
	parts := make([]string, 0, len(env))
	for k, v := range env {
		parts = append(parts, k+"="+v)
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}
