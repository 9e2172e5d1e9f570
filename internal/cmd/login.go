package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	coreauth "github.com/aquila-desktop/aquila-auth/internal/auth"
	"github.com/aquila-desktop/aquila-auth/internal/config"
	"github.com/aquila-desktop/aquila-auth/internal/misc"
	"github.com/aquila-desktop/aquila-auth/internal/util"
	sdkAuth "github.com/aquila-desktop/aquila-auth/sdk/auth"
	log "github.com/sirupsen/logrus"
)

// DoLogin runs one interactive Discord login and waits for its outcome.
// With NoBrowser set, a redirect URL pasted on stdin completes the attempt.
func DoLogin(ctx context.Context, cfg *config.Config, options *LoginOptions) error {
	rt, err := newAuthRuntime(ctx, cfg, options)
	if err != nil {
		return err
	}
	defer rt.close()

	noBrowser := cfg.Login.NoBrowser || (options != nil && options.NoBrowser)
	var input io.Reader
	if noBrowser {
		input = os.Stdin
	}
	profile, err := runLogin(ctx, rt.coord, input)
	if err != nil {
		return err
	}
	fmt.Printf("Discord authentication successful! Signed in as %s\n", profile.DisplayName())
	return nil
}

// loginDriver is the coordinator surface used by runLogin.
type loginDriver interface {
	Subscribe() (<-chan sdkAuth.Notification, func())
	StartLogin(ctx context.Context) (string, error)
	SubmitCallbackURL(ctx context.Context, rawURL string) error
	CancelLogin(ctx context.Context) error
}

// runLogin starts an attempt and blocks until its terminal notification.
// Lines read from input are submitted as redirect URLs.
func runLogin(ctx context.Context, coord loginDriver, input io.Reader) (*coreauth.Profile, error) {
	events, unsubscribe := coord.Subscribe()
	defer unsubscribe()

	attemptID, err := coord.StartLogin(ctx)
	if err != nil {
		return nil, err
	}

	if input != nil {
		go submitPastedCallbacks(ctx, coord, input)
	}

	for {
		select {
		case <-ctx.Done():
			cancelCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
			_ = coord.CancelLogin(cancelCtx)
			cancel()
			return nil, ctx.Err()
		case n, ok := <-events:
			if !ok {
				return nil, errors.New("login: event stream closed")
			}
			if n.AttemptID != attemptID {
				continue
			}
			switch n.Kind {
			case sdkAuth.KindPending:
				misc.PrintAuthURL(n.AuthURL)
				if input != nil {
					util.PrintSSHTunnelInstructions(os.Stdout, util.CallbackPortFromAuthURL(n.AuthURL))
				}
			case sdkAuth.KindSucceeded:
				if n.Profile == nil {
					return &coreauth.Profile{}, nil
				}
				return n.Profile, nil
			case sdkAuth.KindFailed:
				return nil, &coreauth.AuthenticationError{Type: n.Reason, Message: "login failed: " + n.Reason}
			}
		}
	}
}

func submitPastedCallbacks(ctx context.Context, coord loginDriver, input io.Reader) {
	scanner := bufio.NewScanner(input)
	scanner.Buffer(make([]byte, 0, 4096), 64*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := coord.SubmitCallbackURL(ctx, line); err != nil {
			log.Warnf("callback not accepted: %s", coreauth.GetUserFriendlyMessage(err))
			if errors.Is(err, coreauth.ErrNoPendingLogin) {
				return
			}
		}
		if ctx.Err() != nil {
			return
		}
	}
}
