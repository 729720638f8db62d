package biometric

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	apperrors "github.com/louisbranch/presence.space/internal/platform/errors"
)

// ExecVerifier runs the face matcher as a child process.
//
// The matcher is invoked as `command script <mode> <user-id> <probe...>` and
// reports its result as a single JSON object on stdout. A non-zero exit or an
// unparsable report is a verifier failure, never a mismatch.
type ExecVerifier struct {
	command       string
	script        string
	enrollTimeout time.Duration
}

// NewExecVerifier builds a verifier for the configured matcher command.
func NewExecVerifier(cfg Config) *ExecVerifier {
	return &ExecVerifier{
		command:       cfg.Command,
		script:        cfg.ScriptPath,
		enrollTimeout: cfg.EnrollTimeout,
	}
}

type verifierReport struct {
	OK    *bool  `json:"ok"`
	Match *bool  `json:"match"`
	Error string `json:"error"`
}

// Enroll registers the user's reference from a batch of probe images. The
// batch is processed under the configured enrollment deadline.
func (v *ExecVerifier) Enroll(ctx context.Context, userID string, probePaths []string) error {
	if v.enrollTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.enrollTimeout)
		defer cancel()
	}
	args := append([]string{"register", userID}, probePaths...)
	report, err := v.run(ctx, args)
	if err != nil {
		return err
	}
	if report.OK == nil || !*report.OK {
		return apperrors.WithMetadata(apperrors.CodeVerifierFailure, "matcher rejected enrollment",
			map[string]string{"detail": report.Error})
	}
	return nil
}

// Verify compares one probe image against the user's stored reference.
func (v *ExecVerifier) Verify(ctx context.Context, userID string, probePath string) (bool, error) {
	report, err := v.run(ctx, []string{"verify", userID, probePath})
	if err != nil {
		return false, err
	}
	if report.Match == nil {
		return false, apperrors.New(apperrors.CodeVerifierFailure, "matcher report missing match field")
	}
	return *report.Match, nil
}

func (v *ExecVerifier) run(ctx context.Context, args []string) (verifierReport, error) {
	cmd := exec.CommandContext(ctx, v.command, append([]string{v.script}, args...)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return verifierReport{}, apperrors.Wrap(apperrors.CodeVerifierTimeout, "matcher did not finish in time", ctx.Err())
		}
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return verifierReport{}, apperrors.WithMetadata(apperrors.CodeVerifierFailure, "matcher exited abnormally",
			map[string]string{"detail": detail})
	}

	var report verifierReport
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &report); err != nil {
		return verifierReport{}, apperrors.Wrap(apperrors.CodeVerifierFailure,
			fmt.Sprintf("matcher produced unparsable report %q", stdout.String()), err)
	}
	return report, nil
}
