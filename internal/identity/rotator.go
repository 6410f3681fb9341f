// File: internal/identity/rotator.go
package identity

import (
	"context"
	"fmt"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/authflow-cli/internal/config"
)

// Rotator requests fresh anonymizing-network circuits through the Tor
// control port. Rotation is best-effort hygiene between accounts; callers
// log and swallow its errors rather than aborting processing.
type Rotator struct {
	addr     string
	password string
	logger   *zap.Logger

	// limiter enforces the minimum inter-rotation interval the controller
	// mandates. Burst 1 keeps the first rotation immediate.
	limiter *rate.Limiter

	// dial is swappable so tests can point at an in-process stub.
	dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

// NewRotator builds a Rotator against the configured control interface.
func NewRotator(cfg config.IdentityConfig, logger *zap.Logger) *Rotator {
	minWait := cfg.RotationMinWait
	if minWait <= 0 {
		minWait = 10 * time.Second
	}
	d := &net.Dialer{Timeout: 10 * time.Second}
	return &Rotator{
		addr:     net.JoinHostPort(cfg.ControlHost, strconv.Itoa(cfg.ControlPort)),
		password: cfg.ControlPassword,
		logger:   logger.Named("rotator"),
		limiter:  rate.NewLimiter(rate.Every(minWait), 1),
		dial:     d.DialContext,
	}
}

// Rotate authenticates against the control port, waits out the minimum
// inter-rotation interval if a rotation was issued too recently, then
// signals circuit renewal.
func (r *Rotator) Rotate(ctx context.Context) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rotation wait interrupted: %w", err)
	}

	conn, err := r.dial(ctx, "tcp", r.addr)
	if err != nil {
		return fmt.Errorf("failed to connect to control port %s: %w", r.addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(15 * time.Second))
	}

	tp := textproto.NewConn(conn)
	defer tp.Close()

	if err := r.command(tp, fmt.Sprintf("AUTHENTICATE %q", r.password)); err != nil {
		return fmt.Errorf("control-port authentication failed: %w", err)
	}
	if err := r.command(tp, "SIGNAL NEWNYM"); err != nil {
		return fmt.Errorf("NEWNYM signal rejected: %w", err)
	}
	// Best effort; the circuit is already renewed at this point.
	_ = tp.PrintfLine("QUIT")

	r.logger.Debug("Requested new circuit", zap.String("control", r.addr))
	return nil
}

// command sends one control-port line and checks for the 250 success reply.
func (r *Rotator) command(tp *textproto.Conn, line string) error {
	if err := tp.PrintfLine("%s", line); err != nil {
		return err
	}
	reply, err := tp.ReadLine()
	if err != nil {
		return err
	}
	if !strings.HasPrefix(reply, "250") {
		return fmt.Errorf("unexpected control reply %q", reply)
	}
	return nil
}
